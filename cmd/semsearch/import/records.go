package importcmder

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/papercomputeco/semsearch/pkg/document"
)

// maxLineBytes bounds a single JSONL record.
const maxLineBytes = 16 << 20

// record is one imported document as it appears in the input.
type record struct {
	Content    string   `json:"content"`
	URL        string   `json:"url"`
	Title      string   `json:"title,omitempty"`
	Path       string   `json:"path,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	SourceType string   `json:"source_type,omitempty"`

	line int
}

// parseRecords reads a JSON array, a single JSON object or JSONL. Blank
// lines in JSONL are ignored.
func parseRecords(r io.Reader) ([]record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	if data[0] == '[' {
		var records []record
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("parsing JSON array: %w", err)
		}
		for i := range records {
			records[i].line = i + 1
		}
		return records, nil
	}

	var records []record
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var rec record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			// A pretty-printed single object spans several lines.
			if line == 1 {
				var single record
				if json.Unmarshal(data, &single) == nil {
					single.line = 1
					return []record{single}, nil
				}
			}
			return nil, fmt.Errorf("parsing JSON at line %d: %w", line, err)
		}
		rec.line = line
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	return records, nil
}

// errIncomplete marks a record without content or url. Such records are
// skipped rather than failing the import.
var errIncomplete = errors.New("record needs both content and url")

// toDocument builds the document for rec. The record's source_type wins
// over the default kind; its tags are merged after the shared ones.
func (rec record) toDocument(kind document.SourceKind, shared []document.Tag) (*document.Document, error) {
	if strings.TrimSpace(rec.Content) == "" || strings.TrimSpace(rec.URL) == "" {
		return nil, errIncomplete
	}

	if st := document.ParseSourceKind(rec.SourceType); st != "" {
		kind = st
	}

	own, err := document.ParseTagList(rec.Tags)
	if err != nil {
		return nil, fmt.Errorf("record %d: %w", rec.line, err)
	}
	tags := append([]document.Tag(nil), shared...)
	seen := map[string]bool{}
	for _, t := range tags {
		seen[t.String()] = true
	}
	for _, t := range own {
		if !seen[t.String()] {
			seen[t.String()] = true
			tags = append(tags, t)
		}
	}

	doc := document.NewDocument(rec.Content, document.Source{
		Kind:     kind,
		Location: rec.URL,
		URL:      rec.URL,
	}, tags...)
	doc.Title = rec.Title
	doc.Path = rec.Path
	return doc, nil
}
