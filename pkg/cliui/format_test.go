package cliui_test

import (
	"bytes"
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/semsearch/pkg/cliui"
	"github.com/papercomputeco/semsearch/pkg/indexer"
	"github.com/papercomputeco/semsearch/pkg/search"
	"github.com/papercomputeco/semsearch/pkg/vector"
)

var _ = Describe("ParseFormat", func() {
	DescribeTable("known formats",
		func(in string, want cliui.Format) {
			f, err := cliui.ParseFormat(in)
			Expect(err).NotTo(HaveOccurred())
			Expect(f).To(Equal(want))
		},
		Entry("empty", "", cliui.FormatText),
		Entry("text", "text", cliui.FormatText),
		Entry("json", "JSON", cliui.FormatJSON),
		Entry("markdown", "markdown", cliui.FormatMarkdown),
		Entry("md", "md", cliui.FormatMarkdown),
	)

	It("rejects unknown formats", func() {
		_, err := cliui.ParseFormat("yaml")
		Expect(err).To(MatchError(ContainSubstring("unknown output format")))
	})
})

var _ = Describe("Formatter", func() {
	var results *search.Results

	BeforeEach(func() {
		results = &search.Results{
			Query: "retry backoff",
			Hits: []search.Hit{{
				ChunkID:    "c1",
				DocumentID: "d1",
				Score:      0.8734,
				Location:   "/notes/retry.md:L1-4",
				SourceKind: "local",
				Tags:       []string{"project:x"},
				Content:    "exponential backoff with jitter",
			}},
			Total:      1,
			DurationMs: 12,
		}
	})

	Context("text", func() {
		var f cliui.Formatter

		BeforeEach(func() {
			f = cliui.NewFormatter(cliui.FormatText, false)
		})

		It("renders ranked hits", func() {
			out := f.SearchResults(results)
			Expect(out).To(ContainSubstring(`Search results for: "retry backoff"`))
			Expect(out).To(ContainSubstring("Found 1 results in 12ms"))
			Expect(out).To(ContainSubstring("1. [Score: 0.873]"))
			Expect(out).To(ContainSubstring("   Location: /notes/retry.md:L1-4"))
			Expect(out).To(ContainSubstring("   Tags: project:x"))
			Expect(out).To(ContainSubstring("   exponential backoff with jitter"))
		})

		It("says when nothing matched", func() {
			out := f.SearchResults(&search.Results{Query: "nothing", Hits: []search.Hit{}})
			Expect(out).To(Equal("No results found for: nothing\n"))
		})

		It("renders a stopped daemon and connected store", func() {
			out := f.Status(search.Status{
				Daemon: search.DaemonStatus{Running: false, Error: "not running"},
				Store: search.StoreStatus{
					Connected: true,
					Points:    42,
					Info:      &vector.CollectionInfo{Name: "semantic_search", Backend: "memory"},
				},
			})
			Expect(out).To(ContainSubstring("[STOPPED]"))
			Expect(out).To(ContainSubstring("not running"))
			Expect(out).To(ContainSubstring("memory  [CONNECTED]"))
			Expect(out).To(ContainSubstring("Points:    42"))
		})

		It("hides failed chunks when there are none", func() {
			out := f.IndexStats(&indexer.Stats{FilesScanned: 3, FilesIndexed: 2, ChunksStored: 5})
			Expect(out).To(ContainSubstring("Files scanned: 3"))
			Expect(out).To(ContainSubstring("Chunks stored: 5"))
			Expect(out).NotTo(ContainSubstring("Chunks failed"))
		})

		It("lists tags", func() {
			Expect(f.Tags(nil)).To(Equal("No tags found.\n"))
			Expect(f.Tags([]string{"a:b", "c:d"})).To(ContainSubstring("  a:b\n  c:d\n"))
		})

		It("does not style output without color", func() {
			Expect(f.Error("boom")).To(Equal("Error: boom\n"))
		})
	})

	Context("json", func() {
		var f cliui.Formatter

		BeforeEach(func() {
			f = cliui.NewFormatter(cliui.FormatJSON, true)
		})

		It("encodes search results", func() {
			var decoded map[string]any
			Expect(json.Unmarshal([]byte(f.SearchResults(results)), &decoded)).To(Succeed())
			Expect(decoded["query"]).To(Equal("retry backoff"))
			Expect(decoded["results"]).To(HaveLen(1))
		})

		It("encodes an empty tag list as an array", func() {
			Expect(f.Tags(nil)).To(MatchJSON(`{"tags": []}`))
		})

		It("wraps messages and errors", func() {
			Expect(f.Message("done")).To(MatchJSON(`{"message": "done"}`))
			Expect(f.Error("boom")).To(MatchJSON(`{"error": "boom"}`))
		})
	})

	Context("markdown", func() {
		var f cliui.Formatter

		BeforeEach(func() {
			f = cliui.NewFormatter(cliui.FormatMarkdown, false)
		})

		It("renders results with headings and code blocks", func() {
			out := f.SearchResults(results)
			Expect(out).To(ContainSubstring("## Search Results"))
			Expect(out).To(ContainSubstring("### 1. Score: 0.873"))
			Expect(out).To(ContainSubstring("**Tags:** `project:x`"))
			Expect(out).To(ContainSubstring("```\nexponential backoff with jitter\n```"))
		})

		It("marks health with emoji", func() {
			out := f.Status(search.Status{
				Daemon: search.DaemonStatus{Running: true, ModelID: "bge-m3", Dimensions: 1024},
				Store:  search.StoreStatus{Connected: false, Error: "dial refused"},
			})
			Expect(out).To(ContainSubstring("### Embedding Daemon ✅"))
			Expect(out).To(ContainSubstring("### Vector Store ❌"))
			Expect(out).To(ContainSubstring("dial refused"))
		})

		It("renders index stats as a table", func() {
			out := f.IndexStats(&indexer.Stats{FilesScanned: 1, DurationMs: 5})
			Expect(out).To(ContainSubstring("| Files scanned | 1 |"))
			Expect(out).To(ContainSubstring("| Duration | 5ms |"))
		})
	})
})

var _ = Describe("FormatDuration", func() {
	It("formats sub-second and longer durations", func() {
		Expect(cliui.FormatDuration(250 * time.Millisecond)).NotTo(BeEmpty())
		Expect(cliui.FormatDuration(90 * time.Second)).NotTo(BeEmpty())
	})
})

var _ = Describe("IsTerminal", func() {
	It("is false for buffers", func() {
		Expect(cliui.IsTerminal(&bytes.Buffer{})).To(BeFalse())
	})
})
