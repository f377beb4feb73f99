// Package adapter contains the filesystem adapter the resolver uses to find
// and read JIT map files.
package adapter

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"

	m "mixedstack.dev/pkg/mixedstack/internal/model"
)

// MapFSAdapter abstracts filesystem-specific operations that the domain layer
// relies on when discovering and reading map files. It hides direct `os`
// access so the scanner and parser can be tested against fakes.
type MapFSAdapter interface {
	// List returns the regular files in dir whose base name matches the
	// filepath.Match pattern, sorted by path.
	List(ctx context.Context, dir m.Path, pattern string) ([]m.Path, error)

	// Open opens a map file for reading. The producer may append to or
	// replace the file while it is open.
	Open(ctx context.Context, path m.Path) (io.ReadCloser, error)
}

// LocalMapFSAdapter is the os-backed MapFSAdapter.
type LocalMapFSAdapter struct{}

// NewLocalMapFSAdapter constructs a LocalMapFSAdapter instance ready to be
// wired into the resolver.
func NewLocalMapFSAdapter() *LocalMapFSAdapter {
	return &LocalMapFSAdapter{}
}

// List returns files in dir matching pattern. Directories are ignored.
func (a *LocalMapFSAdapter) List(ctx context.Context, dir m.Path, pattern string) ([]m.Path, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Validate the pattern up front; filepath.Glob silently drops bad ones.
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, err
	}

	matches, err := filepath.Glob(filepath.Join(string(dir), pattern))
	if err != nil {
		return nil, err
	}

	paths := make([]m.Path, 0, len(matches))

	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			// Producer removed or rotated the file between glob and stat.
			continue
		}

		if info.IsDir() {
			continue
		}

		paths = append(paths, m.Path(match))
	}

	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })

	return paths, nil
}

// Open opens path read-only without blocking the producer: it may keep
// appending, delete the file or rename a new one over it while we read.
func (a *LocalMapFSAdapter) Open(ctx context.Context, path m.Path) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return openShared(string(path))
}
