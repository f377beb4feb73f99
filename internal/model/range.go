package model

// Range maps the half-open address interval [Start, End) to a symbol name.
// Input does not guarantee Start <= End; such degenerate ranges never match.
type Range struct {
	Start      uint64
	End        uint64
	Name       string
	SourceFile Path // empty for legacy records
}

// Contains reports whether addr lies inside the range.
func (r Range) Contains(addr uint64) bool {
	if r.Degenerate() {
		return false
	}

	return r.Start <= addr && addr < r.End
}

// Degenerate reports whether the range is empty or inverted.
func (r Range) Degenerate() bool {
	return r.End <= r.Start
}
