// Package model defines the data structures shared by the resolver, its
// adapters and the CLI.
package model

// Path represents a file system path.
type Path string

// DomainID identifies a logical execution domain inside one process.
// Domain 0 is the root domain and is also used for files written before
// producers knew about domains.
type DomainID int

// RootDomain is the default domain.
const RootDomain DomainID = 0

// SourceFile describes the newest map file seen for a domain.
type SourceFile struct {
	Sequence int64
	Path     Path
}

// DomainMap maps a domain to the newest map file retained for it.
type DomainMap map[DomainID]SourceFile

// Clone returns an independent copy of the map.
func (dm DomainMap) Clone() DomainMap {
	out := make(DomainMap, len(dm))
	for id, file := range dm {
		out[id] = file
	}

	return out
}
