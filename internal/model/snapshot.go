package model

// Snapshot is a copy of one process's resolver state, for tooling.
type Snapshot struct {
	PID          int
	Session      string
	Enabled      bool
	Layout       string
	Domains      DomainMap
	DomainRanges map[DomainID][]Range
	LegacyRanges []Range
}

// Stat is one sample of a resolver metric.
type Stat struct {
	Name   string
	Labels string
	Value  float64
}
