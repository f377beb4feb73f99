package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	m "mixedstack.dev/pkg/mixedstack/internal/model"
)

// session is the resolver state of one debugged process. Scan, rebuild and
// lookup all run under mu so a query never sees a half-applied rebuild.
type session struct {
	id      string
	pid     int
	scanner Scanner
	parser  Parser
	cfg     config
	logger  *slog.Logger

	mu       sync.Mutex
	enabled  bool
	disabled bool // set by PolicyDisable, never cleared
	retryAt  time.Time

	domains     m.DomainMap
	results     map[m.DomainID]ParseResult
	domainIndex map[m.DomainID]*Index
	flatIndex   *Index
	legacyIndex *Index
}

func newSession(pid int, scanner Scanner, parser Parser, cfg config) *session {
	id := uuid.NewString()

	s := &session{
		id:      id,
		pid:     pid,
		scanner: scanner,
		parser:  parser,
		cfg:     cfg,
		logger:  cfg.logger.With("session", id, "pid", pid),
	}
	s.clearLocked()

	return s
}

func (s *session) clearLocked() {
	s.domains = m.DomainMap{}
	s.results = make(map[m.DomainID]ParseResult)
	s.domainIndex = make(map[m.DomainID]*Index)
	s.flatIndex = nil
	s.legacyIndex = nil

	forgetIndexedRanges(s.pid)
}

func (s *session) enable() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disabled {
		s.logger.Debug("Ignoring enable, resolution disabled after failure")
		return
	}

	// activeLocked re-enables once the backoff has elapsed.
	if !s.retryAt.IsZero() {
		s.logger.Debug("Ignoring enable during retry backoff", "retry_at", s.retryAt)
		return
	}

	if !s.enabled {
		s.logger.Info("JIT host loaded, resolution enabled")
	}

	s.enabled = true
}

func (s *session) isEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.activeLocked()
}

// activeLocked reports whether queries may run, re-enabling after the
// retry backoff has elapsed.
func (s *session) activeLocked() bool {
	if s.enabled {
		return true
	}

	if s.disabled || s.retryAt.IsZero() {
		return false
	}

	if s.cfg.now().Before(s.retryAt) {
		return false
	}

	s.logger.Info("Retry backoff elapsed, resolution re-enabled")
	s.enabled = true
	s.retryAt = time.Time{}

	return true
}

func (s *session) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clearLocked()
}

func (s *session) retained() m.DomainMap {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.domains.Clone()
}

func (s *session) resolve(ctx context.Context, query m.Query) (name string, found bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	defer func() {
		if rec := recover(); rec != nil {
			s.failLocked(fmt.Errorf("panic while resolving: %v", rec))

			name, found = "", false
		}
	}()

	if !s.activeLocked() {
		lookupsTotal.WithLabelValues(outcomeDisabled).Inc()
		return "", false
	}

	if err := s.refreshLocked(ctx); err != nil {
		lookupsTotal.WithLabelValues(outcomeDisabled).Inc()
		return "", false
	}

	s.logger.Debug("Looking up address", "ip", fmt.Sprintf("%X", query.Address))

	rng, outcome := s.lookupLocked(query)
	lookupsTotal.WithLabelValues(outcome).Inc()

	if outcome == outcomeMiss {
		return "", false
	}

	s.logger.Debug("Resolved address", "ip", fmt.Sprintf("%X", query.Address), "name", rng.Name,
		"start", fmt.Sprintf("%X", rng.Start), "end", fmt.Sprintf("%X", rng.End), "index", outcome)

	return rng.Name, true
}

func (s *session) refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.activeLocked() {
		return ErrResolutionDisabled
	}

	return s.refreshLocked(ctx)
}

// refreshLocked scans for newer map files and rebuilds the affected indexes.
// A failure discards every index and applies the failure policy.
func (s *session) refreshLocked(ctx context.Context) error {
	scan, err := s.scanner.Scan(ctx, s.pid, s.domains)
	if err != nil {
		return s.abortLocked(err)
	}

	s.logger.Debug("Scanned map files", "files", len(scan.Candidates), "changed", len(scan.Changed))

	if len(scan.Changed) == 0 {
		return nil
	}

	parsed, err := s.parseChanged(ctx, scan)
	if err != nil {
		return s.abortLocked(err)
	}

	s.domains = scan.Domains
	for i, id := range scan.Changed {
		s.results[id] = parsed[i]
		s.domainIndex[id] = NewIndex(parsed[i].Current)
	}

	s.rebuildSharedLocked()
	rebuildsTotal.Inc()

	return nil
}

func (s *session) abortLocked(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.logger.Debug("Refresh cancelled", "error", err)
		return err
	}

	s.failLocked(err)

	return err
}

// parseChanged reads the file of every changed domain. The first failure
// cancels the remaining reads.
func (s *session) parseChanged(ctx context.Context, scan ScanResult) ([]ParseResult, error) {
	results := make([]ParseResult, len(scan.Changed))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.parallelism)

	for i, id := range scan.Changed {
		file := scan.Domains[id]

		g.Go(func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("panic while reading map file %s: %v", file.Path, rec)
				}
			}()

			s.logger.Debug("Reading map file", "path", file.Path, "domain", id, "sequence", file.Sequence)

			result, err := s.parser.Parse(gctx, file.Path)
			if err != nil {
				return err
			}

			if result.Skipped > 0 {
				s.logger.Warn("Skipped malformed records", "path", file.Path, "count", result.Skipped)
			}

			results[i] = result

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// rebuildSharedLocked merges every domain's records, in domain order, into
// the legacy index and, for LayoutFlat, the shared index.
func (s *session) rebuildSharedLocked() {
	var current, legacy []m.Range

	for _, id := range sortedDomainIDs(s.results) {
		result := s.results[id]
		current = append(current, result.Current...)
		legacy = append(legacy, result.Legacy...)
	}

	s.legacyIndex = NewIndex(legacy)
	if s.cfg.layout == LayoutFlat {
		s.flatIndex = NewIndex(current)
	}

	recordIndexedRanges(s.pid, len(current), len(legacy))

	s.logger.Debug("Rebuilt indexes", "entries", len(current), "legacy", len(legacy))
}

func (s *session) lookupLocked(query m.Query) (m.Range, string) {
	if rng, ok := s.lookupCurrentLocked(query); ok {
		return rng, outcomeDomain
	}

	if rng, ok := s.legacyIndex.Lookup(query.Address); ok {
		return rng, outcomeLegacy
	}

	return m.Range{}, outcomeMiss
}

func (s *session) lookupCurrentLocked(query m.Query) (m.Range, bool) {
	if s.cfg.layout == LayoutFlat {
		return s.flatIndex.Lookup(query.Address)
	}

	if query.Domain != nil {
		if rng, ok := s.domainIndex[*query.Domain].Lookup(query.Address); ok {
			return rng, true
		}
	}

	for _, id := range sortedDomainIDs(s.domainIndex) {
		if query.Domain != nil && id == *query.Domain {
			continue
		}

		if rng, ok := s.domainIndex[id].Lookup(query.Address); ok {
			return rng, true
		}
	}

	return m.Range{}, false
}

// failLocked discards the session's indexes and clears the enablement flag.
func (s *session) failLocked(err error) {
	s.logger.Error("Unable to read map files, disabling resolution", "policy", s.cfg.policy, "error", err)
	parseFailuresTotal.WithLabelValues(failureKind(err)).Inc()

	s.clearLocked()
	s.enabled = false

	switch s.cfg.policy {
	case PolicyRetry:
		s.retryAt = s.cfg.now().Add(s.cfg.backoff)
	case PolicyDisable:
		s.disabled = true
	}
}

func failureKind(err error) string {
	var (
		formatErr  *FormatError
		versionErr *UnsupportedVersionError
		fsErr      *FilesystemError
	)

	switch {
	case errors.As(err, &formatErr):
		return "format"
	case errors.As(err, &versionErr):
		return "version"
	case errors.As(err, &fsErr):
		return "filesystem"
	default:
		return "other"
	}
}

func (s *session) snapshot() m.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := m.Snapshot{
		PID:          s.pid,
		Session:      s.id,
		Enabled:      s.enabled,
		Layout:       s.cfg.layout.String(),
		Domains:      s.domains.Clone(),
		DomainRanges: make(map[m.DomainID][]m.Range, len(s.domainIndex)),
		LegacyRanges: s.legacyIndex.Ranges(),
	}

	for id, idx := range s.domainIndex {
		snap.DomainRanges[id] = idx.Ranges()
	}

	return snap
}
