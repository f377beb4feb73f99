package domain

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"mixedstack.dev/pkg/mixedstack/internal/adapter"
	m "mixedstack.dev/pkg/mixedstack/internal/model"
)

// memFS is an in-memory MapFSAdapter that records opens and closes.
type memFS struct {
	mu      sync.Mutex
	files   map[m.Path]string
	opened  []m.Path
	open    int
	listErr error
}

var _ adapter.MapFSAdapter = (*memFS)(nil)

func newMemFS() *memFS {
	return &memFS{files: make(map[m.Path]string)}
}

func (f *memFS) put(path, contents string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.files[m.Path(path)] = contents
}

func (f *memFS) openedPaths() []m.Path {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]m.Path, len(f.opened))
	copy(out, f.opened)

	return out
}

func (f *memFS) openHandles() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.open
}

func (f *memFS) List(_ context.Context, dir m.Path, pattern string) ([]m.Path, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.listErr != nil {
		return nil, f.listErr
	}

	var out []m.Path

	for path := range f.files {
		if filepath.Dir(string(path)) != string(dir) {
			continue
		}

		if ok, _ := filepath.Match(pattern, filepath.Base(string(path))); ok {
			out = append(out, path)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out, nil
}

func (f *memFS) Open(_ context.Context, path m.Path) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	contents, ok := f.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}

	f.opened = append(f.opened, path)
	f.open++

	return &trackedReader{Reader: strings.NewReader(contents), fs: f}, nil
}

type trackedReader struct {
	io.Reader
	fs *memFS
}

func (r *trackedReader) Close() error {
	r.fs.mu.Lock()
	defer r.fs.mu.Unlock()

	r.fs.open--

	return nil
}

const testDir = "/maps"

func mapPath(name string) string {
	return filepath.Join(testDir, name)
}

func writeMapFile(t *testing.T, dir, name, contents string) m.Path {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}

	return m.Path(path)
}
