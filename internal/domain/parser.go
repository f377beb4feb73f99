package domain

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"mixedstack.dev/pkg/mixedstack/internal/adapter"
	m "mixedstack.dev/pkg/mixedstack/internal/model"
)

// MaxSupportedVersion is the newest map file format this package understands.
const MaxSupportedVersion = 2.0

const (
	headerDelimiter = ":"
	fieldDelimiter  = ";"
	legacyMarker    = "---"

	legacyFieldCount  = 3
	currentFieldCount = 4
)

// ParseResult holds the ranges read from one map file.
type ParseResult struct {
	Path    m.Path
	Label   string
	Version float64
	// Current records carry a source file and belong to the file's domain.
	Current []m.Range
	// Legacy records come from older producers, or are marked as such.
	Legacy []m.Range
	// Skipped counts record lines with an unexpected field count.
	Skipped int
}

// Parser reads a single map file.
type Parser interface {
	Parse(ctx context.Context, path m.Path) (ParseResult, error)
}

type parser struct {
	fsAdapter adapter.MapFSAdapter
}

// NewParser constructs a Parser reading through the provided adapter.
func NewParser(fsAdapter adapter.MapFSAdapter) Parser {
	return &parser{fsAdapter: fsAdapter}
}

func (p *parser) Parse(ctx context.Context, path m.Path) (ParseResult, error) {
	rc, err := p.fsAdapter.Open(ctx, path)
	if err != nil {
		return ParseResult{}, &FilesystemError{Path: path, Op: "open", Err: err}
	}

	defer func() {
		if err := rc.Close(); err != nil {
			slog.Warn("Failed to close map file", "path", path, "error", err)
		}
	}()

	return parseMapFile(ctx, path, rc)
}

func parseMapFile(ctx context.Context, path m.Path, r io.Reader) (ParseResult, error) {
	reader := bufio.NewReader(r)

	header, err := readLine(reader)
	if err != nil && !errors.Is(err, io.EOF) {
		return ParseResult{}, &FilesystemError{Path: path, Op: "read", Err: err}
	}

	if err != nil && header == "" {
		return ParseResult{}, &FormatError{Path: path, Line: 1, Msg: "missing header"}
	}

	label, version, err := parseHeader(path, header)
	if err != nil {
		return ParseResult{}, err
	}

	result := ParseResult{Path: path, Label: label, Version: version}

	for lineNo := 2; ; lineNo++ {
		if err := ctx.Err(); err != nil {
			return ParseResult{}, err
		}

		line, readErr := readLine(reader)
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return ParseResult{}, &FilesystemError{Path: path, Op: "read", Err: readErr}
		}

		if line != "" {
			if err := result.addRecord(path, lineNo, line); err != nil {
				return ParseResult{}, err
			}
		}

		if readErr != nil {
			break
		}
	}

	return result, nil
}

// readLine returns the next line without its terminator. At end of input it
// returns the trailing partial line, if any, together with io.EOF.
func readLine(reader *bufio.Reader) (string, error) {
	line, err := reader.ReadString('\n')
	line = strings.TrimRight(line, "\r\n")

	return line, err
}

func parseHeader(path m.Path, header string) (string, float64, error) {
	tokens := strings.Split(header, headerDelimiter)
	if len(tokens) != 2 {
		return "", 0, &FormatError{Path: path, Line: 1, Msg: "incorrect format"}
	}

	version, ok := parseVersion(tokens[1])
	if !ok {
		return "", 0, &FormatError{Path: path, Line: 1, Msg: fmt.Sprintf("incorrect version format %q", tokens[1])}
	}

	if version > MaxSupportedVersion {
		return "", 0, &UnsupportedVersionError{Path: path, Version: version, Max: MaxSupportedVersion}
	}

	return tokens[0], version, nil
}

// parseVersion accepts digits with at most one period, and nothing else.
// strconv.ParseFloat alone would also take signs, exponents, NaN and Inf.
func parseVersion(token string) (float64, bool) {
	digits, dots := 0, 0

	for _, c := range token {
		switch {
		case c >= '0' && c <= '9':
			digits++
		case c == '.':
			dots++
		default:
			return 0, false
		}
	}

	if digits == 0 || dots > 1 {
		return 0, false
	}

	version, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, false
	}

	return version, true
}

func (r *ParseResult) addRecord(path m.Path, lineNo int, line string) error {
	fields := strings.Split(line, fieldDelimiter)
	if len(fields) != legacyFieldCount && len(fields) != currentFieldCount {
		r.Skipped++
		return nil
	}

	startField := fields[0]
	marked := strings.HasPrefix(startField, legacyMarker)

	if marked {
		startField = strings.TrimPrefix(startField, legacyMarker)
	}

	start, err := parseHex(startField)
	if err != nil {
		return &FormatError{Path: path, Line: lineNo, Msg: fmt.Sprintf("invalid start address %q", fields[0])}
	}

	end, err := parseHex(fields[1])
	if err != nil {
		return &FormatError{Path: path, Line: lineNo, Msg: fmt.Sprintf("invalid end address %q", fields[1])}
	}

	rng := m.Range{Start: start, End: end, Name: fields[2]}

	if len(fields) == currentFieldCount {
		rng.SourceFile = m.Path(fields[3])
	}

	if marked || len(fields) == legacyFieldCount {
		r.Legacy = append(r.Legacy, rng)
	} else {
		r.Current = append(r.Current, rng)
	}

	return nil
}

// parseHex reads an unprefixed hex address. Surrounding whitespace is allowed.
func parseHex(field string) (uint64, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return 0, strconv.ErrSyntax
	}

	return strconv.ParseUint(field, 16, 64)
}
