package domain

import (
	"sort"

	m "mixedstack.dev/pkg/mixedstack/internal/model"
)

// Index is an immutable set of ranges ordered by start address.
//
// Overlapping ranges are kept as given. When several ranges contain the
// queried address the one the binary search lands on first is returned;
// the result is deterministic for a fixed input order but otherwise
// unspecified.
type Index struct {
	ranges []m.Range
}

// NewIndex copies ranges and sorts them by start address. Ranges with equal
// starts keep their input order.
func NewIndex(ranges []m.Range) *Index {
	sorted := make([]m.Range, len(ranges))
	copy(sorted, ranges)

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	return &Index{ranges: sorted}
}

// Lookup returns the range containing addr.
func (idx *Index) Lookup(addr uint64) (m.Range, bool) {
	if idx == nil {
		return m.Range{}, false
	}

	lo, hi := 0, len(idx.ranges)-1
	for lo <= hi {
		mid := int(uint(lo+hi) >> 1)

		switch c := compareToRange(addr, idx.ranges[mid]); {
		case c == 0:
			return idx.ranges[mid], true
		case c < 0:
			hi = mid - 1
		default:
			lo = mid + 1
		}
	}

	return m.Range{}, false
}

// compareToRange treats containment as equality and otherwise orders by start.
func compareToRange(addr uint64, r m.Range) int {
	if r.Contains(addr) {
		return 0
	}

	if addr < r.Start {
		return -1
	}

	return 1
}

// Len returns the number of ranges in the index.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}

	return len(idx.ranges)
}

// Ranges returns a copy of the ranges in index order.
func (idx *Index) Ranges() []m.Range {
	if idx == nil {
		return nil
	}

	out := make([]m.Range, len(idx.ranges))
	copy(out, idx.ranges)

	return out
}
