// Package controller renders resolver results for the CLI.
package controller

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	m "mixedstack.dev/pkg/mixedstack/internal/model"
)

// OutputFormat selects how SimpleUI renders its views.
type OutputFormat string

// Available OutputFormat values.
const (
	FormatTable OutputFormat = "table"
	FormatYAML  OutputFormat = "yaml"
)

// ParseOutputFormat converts a flag or config value into an OutputFormat.
func ParseOutputFormat(value string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(value))) {
	case "", FormatTable:
		return FormatTable, nil
	case FormatYAML:
		return FormatYAML, nil
	}

	return FormatTable, fmt.Errorf("unknown output format %q", value)
}

// UI defines how command results are displayed.
type UI interface {
	DisplayResolutions(ctx context.Context, pid int, resolutions []m.Resolution) error
	DisplayCandidates(ctx context.Context, pid int, candidates []m.Candidate) error
	DisplaySnapshot(ctx context.Context, snapshot m.Snapshot) error
	DisplayStats(ctx context.Context, stats []m.Stat) error
}

// IsTTY reports whether f is attached to a terminal.
func IsTTY(f *os.File) bool {
	if f == nil {
		return false
	}

	fd := f.Fd()

	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// FormatAddress renders an address the way map files spell it.
func FormatAddress(addr uint64) string {
	return fmt.Sprintf("%X", addr)
}
