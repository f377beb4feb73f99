package model

// Query asks for the symbol owning Address in process PID.
type Query struct {
	PID     int
	Address uint64
	// Domain is the logical context of the frame, when the caller knows it.
	Domain *DomainID
}

// Resolution is the outcome of a single query, used by the CLI views.
type Resolution struct {
	Address uint64
	Name    string
	Found   bool
}

// CandidateStatus describes what the scanner decided about a map file.
type CandidateStatus string

const (
	// CandidateCurrent is the newest file of its domain.
	CandidateCurrent CandidateStatus = "current"
	// CandidateSuperseded was outranked by a newer file of the same domain.
	CandidateSuperseded CandidateStatus = "superseded"
	// CandidateSkipped has a name that does not follow the map file pattern.
	CandidateSkipped CandidateStatus = "skipped"
)

// Candidate is one file found by the scanner.
type Candidate struct {
	Path     Path
	Domain   DomainID
	Sequence int64
	Status   CandidateStatus
	Reason   string
}
