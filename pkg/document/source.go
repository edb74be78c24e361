// Package document defines the documents, sources, tags and chunks that flow
// through the indexing pipeline.
package document

import (
	"fmt"
	"strings"
)

// SourceKind identifies where a document came from. The set of kinds is open:
// anything a connector produces is carried through unchanged.
type SourceKind string

const (
	SourceLocal      SourceKind = "local"
	SourceJira       SourceKind = "jira"
	SourceConfluence SourceKind = "confluence"
	SourceFigma      SourceKind = "figma"
)

// ParseSourceKind normalises a raw kind string. Unknown kinds are kept as-is
// (lowercased) rather than rejected.
func ParseSourceKind(s string) SourceKind {
	return SourceKind(strings.ToLower(strings.TrimSpace(s)))
}

// ParseSourceKinds parses a comma separated list of kinds, skipping blanks.
func ParseSourceKinds(s string) []SourceKind {
	var kinds []SourceKind
	for _, part := range strings.Split(s, ",") {
		if k := ParseSourceKind(part); k != "" {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// IsBuiltin reports whether the kind is one of the known connectors.
func (k SourceKind) IsBuiltin() bool {
	switch k {
	case SourceLocal, SourceJira, SourceConfluence, SourceFigma:
		return true
	default:
		return false
	}
}

func (k SourceKind) String() string {
	return string(k)
}

// Source describes the origin of a document.
type Source struct {
	Kind     SourceKind `json:"kind"`
	Location string     `json:"location"`
	URL      string     `json:"url,omitempty"`
}

// LocalSource returns a Source for a file on disk.
func LocalSource(path string) Source {
	return Source{Kind: SourceLocal, Location: path}
}

func (s Source) String() string {
	return fmt.Sprintf("%s:%s", s.Kind, s.Location)
}
