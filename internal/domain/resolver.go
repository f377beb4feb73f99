package domain

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"

	m "mixedstack.dev/pkg/mixedstack/internal/model"
)

// ErrResolutionDisabled is returned by Refresh while a process is not enabled.
var ErrResolutionDisabled = errors.New("resolution disabled for process")

// Resolver answers "which JIT symbol owns this address" for any number of
// debugged processes. Each process gets its own session, created on first use.
type Resolver interface {
	// Resolve never fails: problems degrade to ("", false) and, for fatal
	// parse failures, disable the process according to the failure policy.
	Resolve(ctx context.Context, query m.Query) (string, bool)
	// ModuleLoaded enables the process when module is the JIT host and not
	// a recorded (minidump) module.
	ModuleLoaded(pid int, module string, recorded bool)
	// Enable enables the process unconditionally, unless it was disabled
	// by a failure.
	Enable(pid int)
	Enabled(pid int) bool
	// LoadComplete drops the indexes so the next query re-reads from disk.
	LoadComplete(pid int)
	// Refresh scans and rebuilds without resolving an address.
	Refresh(ctx context.Context, pid int) error
	// Scan reports the map files of pid without touching the session.
	Scan(ctx context.Context, pid int) (ScanResult, error)
	Snapshot(pid int) (m.Snapshot, bool)
	Close(pid int)
	CloseAll()
}

type resolver struct {
	scanner Scanner
	parser  Parser
	cfg     config

	mu       sync.Mutex
	sessions map[int]*session
}

// NewResolver constructs a Resolver backed by the provided scanner and parser.
func NewResolver(scanner Scanner, parser Parser, opts ...Option) Resolver {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}

	return &resolver{
		scanner:  scanner,
		parser:   parser,
		cfg:      cfg,
		sessions: make(map[int]*session),
	}
}

func (r *resolver) session(pid int) *session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[pid]
	if !ok {
		s = newSession(pid, r.scanner, r.parser, r.cfg)
		r.sessions[pid] = s
	}

	return s
}

func (r *resolver) existing(pid int) (*session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[pid]

	return s, ok
}

func (r *resolver) Resolve(ctx context.Context, query m.Query) (string, bool) {
	return r.session(query.PID).resolve(ctx, query)
}

func (r *resolver) ModuleLoaded(pid int, module string, recorded bool) {
	if recorded || !strings.Contains(module, r.cfg.jitHost) {
		return
	}

	r.session(pid).enable()
}

func (r *resolver) Enable(pid int) {
	r.session(pid).enable()
}

func (r *resolver) Enabled(pid int) bool {
	s, ok := r.existing(pid)
	if !ok {
		return false
	}

	return s.isEnabled()
}

func (r *resolver) LoadComplete(pid int) {
	if s, ok := r.existing(pid); ok {
		s.reset()
	}
}

func (r *resolver) Refresh(ctx context.Context, pid int) error {
	return r.session(pid).refresh(ctx)
}

func (r *resolver) Scan(ctx context.Context, pid int) (ScanResult, error) {
	var retained m.DomainMap
	if s, ok := r.existing(pid); ok {
		retained = s.retained()
	}

	return r.scanner.Scan(ctx, pid, retained)
}

func (r *resolver) Snapshot(pid int) (m.Snapshot, bool) {
	s, ok := r.existing(pid)
	if !ok {
		return m.Snapshot{}, false
	}

	return s.snapshot(), true
}

func (r *resolver) Close(pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[pid]; ok {
		s.logger.Debug("Closing session")
		forgetIndexedRanges(pid)
		delete(r.sessions, pid)
	}
}

func (r *resolver) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for pid := range r.sessions {
		forgetIndexedRanges(pid)
	}

	r.sessions = make(map[int]*session)
}

func sortedDomainIDs[V any](values map[m.DomainID]V) []m.DomainID {
	ids := make([]m.DomainID, 0, len(values))
	for id := range values {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}
