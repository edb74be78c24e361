package cliui

import (
	"encoding/json"
	"fmt"
	"strings"

	"charm.land/lipgloss/v2"

	"github.com/papercomputeco/semsearch/pkg/indexer"
	"github.com/papercomputeco/semsearch/pkg/search"
)

// Format selects how command output is rendered.
type Format string

const (
	FormatText     Format = "text"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Formats lists the supported output formats.
var Formats = []Format{FormatText, FormatJSON, FormatMarkdown}

// ParseFormat accepts text, json, markdown and md.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unknown output format %q (available: text, json, markdown)", s)
	}
}

// Formatter renders command results as strings ready to print.
type Formatter interface {
	SearchResults(r *search.Results) string
	Status(s search.Status) string
	IndexStats(s *indexer.Stats) string
	Tags(tags []string) string
	Message(msg string) string
	Error(msg string) string
}

// NewFormatter returns the formatter for f. Color enables terminal styling
// for text output and glamour rendering for markdown output.
func NewFormatter(f Format, color bool) Formatter {
	switch f {
	case FormatJSON:
		return jsonFormatter{}
	case FormatMarkdown:
		return markdownFormatter{render: color}
	default:
		return textFormatter{color: color}
	}
}

const previewRunes = 200

type textFormatter struct {
	color bool
}

func (t textFormatter) style(s lipgloss.Style, text string) string {
	if !t.color {
		return text
	}
	return s.Render(text)
}

func (t textFormatter) SearchResults(r *search.Results) string {
	if len(r.Hits) == 0 {
		return fmt.Sprintf("No results found for: %s\n", r.Query)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", t.style(HeaderStyle, "Search results for:"), t.style(KeyStyle, fmt.Sprintf("%q", r.Query)))
	fmt.Fprintf(&b, "%s\n\n", t.style(DimStyle, fmt.Sprintf("Found %d results in %dms", r.Total, r.DurationMs)))

	for i, hit := range r.Hits {
		fmt.Fprintf(&b, "%s %s\n",
			t.style(RankStyle, fmt.Sprintf("%d.", i+1)),
			t.style(ScoreStyle, fmt.Sprintf("[Score: %.3f]", hit.Score)),
		)
		fmt.Fprintf(&b, "   Location: %s\n", hit.Location)
		if len(hit.Tags) > 0 {
			fmt.Fprintf(&b, "   Tags: %s\n", strings.Join(hit.Tags, ", "))
		}
		b.WriteString("   ---\n")
		for _, line := range strings.Split(search.Snippet(hit.Content, previewRunes), "\n") {
			fmt.Fprintf(&b, "   %s\n", t.style(ValueStyle, line))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (t textFormatter) connection(ok bool, up, down string) string {
	if ok {
		return t.style(lipgloss.NewStyle().Foreground(lipgloss.Color("82")), up)
	}
	return t.style(lipgloss.NewStyle().Foreground(lipgloss.Color("196")), down)
}

func (t textFormatter) Status(s search.Status) string {
	var b strings.Builder
	b.WriteString(t.style(HeaderStyle, "Infrastructure Status") + "\n")
	b.WriteString("---------------------\n")

	fmt.Fprintf(&b, "Daemon:      %s\n", t.connection(s.Daemon.Running, "[RUNNING]", "[STOPPED]"))
	if s.Daemon.Running {
		fmt.Fprintf(&b, "  Model:     %s (%d dims)\n", s.Daemon.ModelID, s.Daemon.Dimensions)
		fmt.Fprintf(&b, "  State:     %s\n", s.Daemon.State)
		fmt.Fprintf(&b, "  PID:       %d\n", s.Daemon.PID)
		fmt.Fprintf(&b, "  Uptime:    %ds\n", s.Daemon.UptimeSecs)
		fmt.Fprintf(&b, "  Requests:  %d\n", s.Daemon.RequestsServed)
		if m := s.Daemon.Metrics; m != nil {
			fmt.Fprintf(&b, "  Embedded:  %d texts, %.1fms avg, %.1f%% errors\n",
				m.TextsEmbedded, m.AvgLatencyMs, m.ErrorRate)
		}
	} else if s.Daemon.Error != "" {
		fmt.Fprintf(&b, "  %s\n", t.style(DimStyle, s.Daemon.Error))
	}
	b.WriteString("\n")

	backend := "vector store"
	if s.Store.Info != nil {
		backend = s.Store.Info.Backend
	}
	fmt.Fprintf(&b, "Store:       %s  %s\n", backend, t.connection(s.Store.Connected, "[CONNECTED]", "[DISCONNECTED]"))
	if s.Store.Info != nil {
		fmt.Fprintf(&b, "  Collection: %s\n", s.Store.Info.Name)
		fmt.Fprintf(&b, "  Points:    %d\n", s.Store.Points)
	}
	if s.Store.Error != "" {
		fmt.Fprintf(&b, "  %s\n", t.style(DimStyle, s.Store.Error))
	}
	return b.String()
}

func (t textFormatter) IndexStats(s *indexer.Stats) string {
	var b strings.Builder
	b.WriteString(t.style(HeaderStyle, "Indexing Complete") + "\n")
	b.WriteString("-----------------\n")
	fmt.Fprintf(&b, "Files scanned: %d\n", s.FilesScanned)
	fmt.Fprintf(&b, "Files indexed: %d\n", s.FilesIndexed)
	fmt.Fprintf(&b, "Files skipped: %d\n", s.FilesSkipped)
	fmt.Fprintf(&b, "Chunks created: %d\n", s.ChunksCreated)
	fmt.Fprintf(&b, "Chunks stored: %d\n", s.ChunksStored)
	if s.ChunksFailed > 0 {
		fmt.Fprintf(&b, "Chunks failed: %d\n", s.ChunksFailed)
	}
	fmt.Fprintf(&b, "Duration: %dms\n", s.DurationMs)
	return b.String()
}

func (t textFormatter) Tags(tags []string) string {
	if len(tags) == 0 {
		return "No tags found.\n"
	}
	var b strings.Builder
	b.WriteString(t.style(HeaderStyle, "Tags") + "\n")
	b.WriteString("----\n")
	for _, tag := range tags {
		fmt.Fprintf(&b, "  %s\n", tag)
	}
	return b.String()
}

func (t textFormatter) Message(msg string) string {
	return msg + "\n"
}

func (t textFormatter) Error(msg string) string {
	return t.style(lipgloss.NewStyle().Foreground(lipgloss.Color("196")), "Error: "+msg) + "\n"
}

type jsonFormatter struct{}

func (jsonFormatter) encode(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		data, _ = json.Marshal(map[string]string{"error": err.Error()})
	}
	return string(data) + "\n"
}

func (j jsonFormatter) SearchResults(r *search.Results) string { return j.encode(r) }
func (j jsonFormatter) Status(s search.Status) string          { return j.encode(s) }
func (j jsonFormatter) IndexStats(s *indexer.Stats) string     { return j.encode(s) }

func (j jsonFormatter) Tags(tags []string) string {
	if tags == nil {
		tags = []string{}
	}
	return j.encode(map[string][]string{"tags": tags})
}

func (j jsonFormatter) Message(msg string) string {
	return j.encode(map[string]string{"message": msg})
}

func (j jsonFormatter) Error(msg string) string {
	return j.encode(map[string]string{"error": msg})
}

type markdownFormatter struct {
	render bool
}

func (m markdownFormatter) out(md string) string {
	if !m.render {
		return md
	}
	rendered, err := RenderMarkdown(md)
	if err != nil {
		return md
	}
	return rendered
}

func (m markdownFormatter) SearchResults(r *search.Results) string {
	if len(r.Hits) == 0 {
		return m.out(fmt.Sprintf("## No results found\n\nQuery: `%s`\n", r.Query))
	}

	var b strings.Builder
	b.WriteString("## Search Results\n\n")
	fmt.Fprintf(&b, "**Query:** `%s`\n\n", r.Query)
	fmt.Fprintf(&b, "Found %d results in %dms\n\n", r.Total, r.DurationMs)
	for i, hit := range r.Hits {
		fmt.Fprintf(&b, "### %d. Score: %.3f\n\n", i+1, hit.Score)
		fmt.Fprintf(&b, "**Location:** `%s`\n\n", hit.Location)
		if len(hit.Tags) > 0 {
			tags := make([]string, len(hit.Tags))
			for j, tag := range hit.Tags {
				tags[j] = "`" + tag + "`"
			}
			fmt.Fprintf(&b, "**Tags:** %s\n\n", strings.Join(tags, ", "))
		}
		fmt.Fprintf(&b, "```\n%s\n```\n\n", hit.Content)
	}
	return m.out(b.String())
}

func mark(ok bool) string {
	if ok {
		return "✅"
	}
	return "❌"
}

func (m markdownFormatter) Status(s search.Status) string {
	var b strings.Builder
	b.WriteString("## Infrastructure Status\n\n")

	fmt.Fprintf(&b, "### Embedding Daemon %s\n\n", mark(s.Daemon.Running))
	if s.Daemon.Running {
		fmt.Fprintf(&b, "- **Model:** %s\n", s.Daemon.ModelID)
		fmt.Fprintf(&b, "- **Dimensions:** %d\n", s.Daemon.Dimensions)
		fmt.Fprintf(&b, "- **State:** %s\n", s.Daemon.State)
		fmt.Fprintf(&b, "- **Requests served:** %d\n", s.Daemon.RequestsServed)
	} else if s.Daemon.Error != "" {
		fmt.Fprintf(&b, "- **Error:** %s\n", s.Daemon.Error)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "### Vector Store %s\n\n", mark(s.Store.Connected))
	if s.Store.Info != nil {
		fmt.Fprintf(&b, "- **Backend:** %s\n", s.Store.Info.Backend)
		fmt.Fprintf(&b, "- **Collection:** %s\n", s.Store.Info.Name)
	}
	fmt.Fprintf(&b, "- **Points:** %d\n", s.Store.Points)
	if s.Store.Error != "" {
		fmt.Fprintf(&b, "- **Error:** %s\n", s.Store.Error)
	}
	return m.out(b.String())
}

func (m markdownFormatter) IndexStats(s *indexer.Stats) string {
	var b strings.Builder
	b.WriteString("## Indexing Complete\n\n")
	b.WriteString("| Metric | Value |\n")
	b.WriteString("|--------|-------|\n")
	fmt.Fprintf(&b, "| Files scanned | %d |\n", s.FilesScanned)
	fmt.Fprintf(&b, "| Files indexed | %d |\n", s.FilesIndexed)
	fmt.Fprintf(&b, "| Files skipped | %d |\n", s.FilesSkipped)
	fmt.Fprintf(&b, "| Chunks created | %d |\n", s.ChunksCreated)
	fmt.Fprintf(&b, "| Chunks stored | %d |\n", s.ChunksStored)
	fmt.Fprintf(&b, "| Chunks failed | %d |\n", s.ChunksFailed)
	fmt.Fprintf(&b, "| Duration | %dms |\n", s.DurationMs)
	return m.out(b.String())
}

func (m markdownFormatter) Tags(tags []string) string {
	if len(tags) == 0 {
		return m.out("## Tags\n\n*No tags found.*\n")
	}
	var b strings.Builder
	b.WriteString("## Tags\n\n")
	for _, tag := range tags {
		fmt.Fprintf(&b, "- `%s`\n", tag)
	}
	return m.out(b.String())
}

func (m markdownFormatter) Message(msg string) string {
	return m.out("> " + msg + "\n")
}

func (m markdownFormatter) Error(msg string) string {
	return m.out("> ⚠️ **Error:** " + msg + "\n")
}
