package document

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Chunk is a contiguous, line-addressed slice of a Document's content.
type Chunk struct {
	ID          string `json:"id"`
	DocumentID  string `json:"document_id"`
	Index       int    `json:"index"`
	Total       int    `json:"total"`
	Content     string `json:"content"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
	LineStart   int    `json:"line_start"`
	LineEnd     int    `json:"line_end"`
	Source      Source `json:"source"`
	Tags        []Tag  `json:"tags,omitempty"`
	Title       string `json:"title,omitempty"`
	Path        string `json:"path,omitempty"`
	Checksum    string `json:"checksum"`
}

// ChunkID derives the point identifier for chunk index of a document. The
// same document and index always produce the same id, which is what makes
// re-indexing idempotent.
func ChunkID(documentID string, index int) string {
	name := documentID + ":" + strconv.Itoa(index)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// Location renders a human readable pointer to a chunk: the path with its
// line range for local sources, otherwise the URL, otherwise kind:location.
func Location(source Source, path string, lineStart, lineEnd int) string {
	if source.Kind == SourceLocal || (source.URL == "" && path != "") {
		p := path
		if p == "" {
			p = source.Location
		}
		switch {
		case lineStart <= 0:
			return p
		case lineEnd <= lineStart:
			return fmt.Sprintf("%s:L%d", p, lineStart)
		default:
			return fmt.Sprintf("%s:L%d-%d", p, lineStart, lineEnd)
		}
	}
	if source.URL != "" {
		return source.URL
	}
	return source.String()
}
