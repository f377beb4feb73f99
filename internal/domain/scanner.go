package domain

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"mixedstack.dev/pkg/mixedstack/internal/adapter"
	m "mixedstack.dev/pkg/mixedstack/internal/model"
)

const (
	mapFilePrefix    = "pmip"
	mapFileExt       = ".txt"
	nameDelimiter    = "_"
	rootNameTokens   = 3
	domainNameTokens = 4
)

// ScanResult is the outcome of one directory scan.
type ScanResult struct {
	// Domains is the retained map updated with every newer file found.
	Domains m.DomainMap
	// Changed lists, in ascending order, the domains whose file is newer
	// than the retained one.
	Changed []m.DomainID
	// Candidates lists every file that matched the glob, in path order.
	Candidates []m.Candidate
}

// Scanner discovers the map files of a process.
type Scanner interface {
	Scan(ctx context.Context, pid int, retained m.DomainMap) (ScanResult, error)
}

type scanner struct {
	fsAdapter adapter.MapFSAdapter
	dir       m.Path
}

// NewScanner constructs a Scanner looking for map files in dir.
func NewScanner(fsAdapter adapter.MapFSAdapter, dir m.Path) Scanner {
	return &scanner{fsAdapter: fsAdapter, dir: dir}
}

// MapFilePattern returns the glob matching every map file of pid.
func MapFilePattern(pid int) string {
	return fmt.Sprintf("%s_%d_*", mapFilePrefix, pid)
}

// Scan never mutates retained; callers commit ScanResult.Domains once the
// changed files have been read successfully.
func (s *scanner) Scan(ctx context.Context, pid int, retained m.DomainMap) (ScanResult, error) {
	paths, err := s.fsAdapter.List(ctx, s.dir, MapFilePattern(pid))
	if err != nil {
		slog.Error("Failed to list map files", "dir", s.dir, "pid", pid, "error", err)
		return ScanResult{}, &FilesystemError{Path: s.dir, Op: "list", Err: err}
	}

	result := ScanResult{
		Domains:    retained.Clone(),
		Candidates: make([]m.Candidate, 0, len(paths)),
	}

	if len(paths) == 0 {
		return result, nil
	}

	changed := make(map[m.DomainID]bool)

	for _, path := range paths {
		candidate := parseMapFileName(pid, path)
		result.Candidates = append(result.Candidates, candidate)

		if candidate.Status == m.CandidateSkipped {
			slog.Debug("Skipping map file", "path", path, "reason", candidate.Reason)
			continue
		}

		current, ok := result.Domains[candidate.Domain]
		if ok && current.Sequence >= candidate.Sequence {
			continue
		}

		result.Domains[candidate.Domain] = m.SourceFile{Sequence: candidate.Sequence, Path: candidate.Path}
		changed[candidate.Domain] = true
	}

	markSuperseded(result)

	for id := range changed {
		result.Changed = append(result.Changed, id)
	}

	sort.Slice(result.Changed, func(i, j int) bool { return result.Changed[i] < result.Changed[j] })

	return result, nil
}

// markSuperseded flags candidates that are not the retained file of their domain.
func markSuperseded(result ScanResult) {
	for i := range result.Candidates {
		candidate := &result.Candidates[i]
		if candidate.Status == m.CandidateSkipped {
			continue
		}

		if retained, ok := result.Domains[candidate.Domain]; ok && retained.Path == candidate.Path && retained.Sequence == candidate.Sequence {
			candidate.Status = m.CandidateCurrent
			continue
		}

		candidate.Status = m.CandidateSuperseded
	}
}

// parseMapFileName decodes pmip_<pid>_<seq>[_<domain>][.txt].
func parseMapFileName(pid int, path m.Path) m.Candidate {
	candidate := m.Candidate{Path: path}

	name := filepath.Base(string(path))
	name = strings.TrimSuffix(name, mapFileExt)

	tokens := strings.Split(name, nameDelimiter)
	if len(tokens) != rootNameTokens && len(tokens) != domainNameTokens {
		return skipped(candidate, fmt.Sprintf("unexpected token count %d", len(tokens)))
	}

	if tokens[0] != mapFilePrefix || tokens[1] != strconv.Itoa(pid) {
		return skipped(candidate, "prefix or process id mismatch")
	}

	seq, err := strconv.ParseInt(tokens[2], 10, 64)
	if err != nil || seq < 0 {
		return skipped(candidate, fmt.Sprintf("invalid sequence %q", tokens[2]))
	}

	candidate.Sequence = seq
	candidate.Domain = m.RootDomain

	if len(tokens) == domainNameTokens {
		domain, err := strconv.Atoi(tokens[3])
		if err != nil || domain < 0 {
			return skipped(candidate, fmt.Sprintf("invalid domain %q", tokens[3]))
		}

		candidate.Domain = m.DomainID(domain)
	}

	return candidate
}

func skipped(candidate m.Candidate, reason string) m.Candidate {
	candidate.Status = m.CandidateSkipped
	candidate.Reason = reason

	return candidate
}
