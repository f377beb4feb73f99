package domain

import (
	"errors"
	"fmt"

	m "mixedstack.dev/pkg/mixedstack/internal/model"
)

// FormatError reports a malformed header or record line.
type FormatError struct {
	Path m.Path
	Line int
	Msg  string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("failed reading map file %s: line %d: %s", e.Path, e.Line, e.Msg)
}

// UnsupportedVersionError reports a map file written by a newer producer.
type UnsupportedVersionError struct {
	Path    m.Path
	Version float64
	Max     float64
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("failed reading map file %s: version %g is newer than supported %g", e.Path, e.Version, e.Max)
}

// FilesystemError reports an open or read failure on a map file.
type FilesystemError struct {
	Path m.Path
	Op   string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("failed to %s map file %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error {
	return e.Err
}

// IsParseFailure reports whether err is one of the fatal parse-pass errors.
func IsParseFailure(err error) bool {
	var (
		formatErr  *FormatError
		versionErr *UnsupportedVersionError
		fsErr      *FilesystemError
	)

	return errors.As(err, &formatErr) || errors.As(err, &versionErr) || errors.As(err, &fsErr)
}
