package document

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
	"unicode"
)

// Document is the unit handed to the pipeline by a connector. It is not
// modified after construction.
type Document struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Source    Source    `json:"source"`
	Tags      []Tag     `json:"tags,omitempty"`
	Title     string    `json:"title,omitempty"`
	Path      string    `json:"path,omitempty"`
	Checksum  string    `json:"checksum"`
	CreatedAt time.Time `json:"created_at"`
}

// NewDocument builds a Document with a stable id derived from its source.
func NewDocument(content string, source Source, tags ...Tag) *Document {
	return &Document{
		ID:        DocumentID(source),
		Content:   content,
		Source:    source,
		Tags:      tags,
		Checksum:  Checksum(content),
		CreatedAt: time.Now().UTC(),
	}
}

// DocumentID is the hex encoding of the first 16 bytes of
// sha256("kind:location").
func DocumentID(source Source) string {
	sum := sha256.Sum256([]byte(source.String()))
	return hex.EncodeToString(sum[:16])
}

// Checksum is the sha256 hex digest of content.
func Checksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// HasMeaningfulContent reports whether text has at least min non-whitespace
// runes.
func HasMeaningfulContent(text string, minChars int) bool {
	n := 0
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		n++
		if n >= minChars {
			return true
		}
	}
	return n >= minChars
}
