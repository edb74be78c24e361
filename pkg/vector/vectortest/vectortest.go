// Package vectortest holds the behavioural specs every vector.Store backend
// must pass. Backend test packages register them with DescribeStore.
package vectortest

import (
	"context"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/semsearch/pkg/vector"
)

// Dimensions is the collection size used by the shared specs.
const Dimensions = 4

// Factory opens an empty store with the given dimensionality. Returning a nil
// store with a nil error skips the specs (e.g. no backend configured).
type Factory func(ctx context.Context, dims int) (vector.Store, error)

// Point builds a test point.
func Point(id string, vec []float32, kind string, tags ...string) vector.Point {
	return vector.Point{
		ID:     id,
		Vector: vec,
		Payload: vector.Payload{
			DocumentID:     "doc-" + id,
			Content:        "content of " + id,
			SourceKind:     kind,
			SourceLocation: "/src/" + id,
			Path:           "/src/" + id,
			Tags:           tags,
			LineStart:      1,
			LineEnd:        5,
		},
	}
}

func ids(results []vector.Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}

// DescribeStore registers the conformance specs for a backend.
func DescribeStore(name string, factory Factory) bool {
	return Describe(name+" store conformance", func() {
		var (
			ctx   context.Context
			store vector.Store
		)

		BeforeEach(func() {
			ctx = context.Background()
			var err error
			store, err = factory(ctx, Dimensions)
			Expect(err).NotTo(HaveOccurred())
			if store == nil {
				Skip(name + " backend not configured")
			}
			Expect(store.Clear(ctx)).To(Succeed())
		})

		AfterEach(func() {
			if store != nil {
				Expect(store.Close()).To(Succeed())
			}
		})

		Describe("Upsert", func() {
			It("stores points and reports the count", func() {
				Expect(store.Upsert(ctx, []vector.Point{
					Point("a", []float32{1, 0, 0, 0}, "local"),
					Point("b", []float32{0, 1, 0, 0}, "local"),
				})).To(Succeed())

				Expect(store.Count(ctx)).To(Equal(uint64(2)))
			})

			It("accepts an empty batch", func() {
				Expect(store.Upsert(ctx, nil)).To(Succeed())
				Expect(store.Count(ctx)).To(BeZero())
			})

			It("replaces a point with the same id", func() {
				Expect(store.Upsert(ctx, []vector.Point{Point("a", []float32{1, 0, 0, 0}, "local")})).To(Succeed())
				replacement := Point("a", []float32{0, 0, 1, 0}, "jira", "project:new")
				replacement.Payload.Content = "replaced"
				Expect(store.Upsert(ctx, []vector.Point{replacement})).To(Succeed())

				Expect(store.Count(ctx)).To(Equal(uint64(1)))

				results, err := store.Search(ctx, vector.Query{Vector: []float32{0, 0, 1, 0}, Limit: 5})
				Expect(err).NotTo(HaveOccurred())
				Expect(results).To(HaveLen(1))
				Expect(results[0].Score).To(BeNumerically("~", 1, 1e-4))
				Expect(results[0].Payload.Content).To(Equal("replaced"))
				Expect(results[0].Payload.SourceKind).To(Equal("jira"))
				Expect(results[0].Payload.Tags).To(ConsistOf("project:new"))

				old, err := store.Search(ctx, vector.Query{Vector: []float32{1, 0, 0, 0}, Limit: 5})
				Expect(err).NotTo(HaveOccurred())
				Expect(old).To(HaveLen(1))
				Expect(old[0].Score).To(BeNumerically("~", 0, 1e-4))
			})

			It("rejects vectors of the wrong dimensionality without writing", func() {
				err := store.Upsert(ctx, []vector.Point{
					Point("ok", []float32{1, 0, 0, 0}, "local"),
					Point("bad", []float32{1, 0, 0}, "local"),
				})
				Expect(err).To(MatchError(vector.ErrDimensionMismatch))
				Expect(store.Count(ctx)).To(BeZero())
			})
		})

		Describe("Search", func() {
			BeforeEach(func() {
				Expect(store.Upsert(ctx, []vector.Point{
					Point("x1", []float32{1, 0, 0, 0}, "local", "project:x", "lang:go"),
					Point("x2", []float32{0.8, 0.6, 0, 0}, "jira", "project:x"),
					Point("y1", []float32{0.9, 0.1, 0, 0}, "local", "project:y"),
					Point("z1", []float32{0, 0, 0, 1}, "figma"),
				})).To(Succeed())
			})

			It("orders results by non-increasing score", func() {
				results, err := store.Search(ctx, vector.Query{Vector: []float32{1, 0, 0, 0}, Limit: 10})
				Expect(err).NotTo(HaveOccurred())
				Expect(ids(results)).To(Equal([]string{"x1", "y1", "x2", "z1"}))
				for i := 1; i < len(results); i++ {
					Expect(results[i].Score).To(BeNumerically("<=", results[i-1].Score))
				}
			})

			It("respects the limit", func() {
				results, err := store.Search(ctx, vector.Query{Vector: []float32{1, 0, 0, 0}, Limit: 2})
				Expect(err).NotTo(HaveOccurred())
				Expect(ids(results)).To(Equal([]string{"x1", "y1"}))
			})

			It("never returns results below the minimum score", func() {
				threshold := float32(0.85)
				results, err := store.Search(ctx, vector.Query{Vector: []float32{1, 0, 0, 0}, Limit: 10, MinScore: &threshold})
				Expect(err).NotTo(HaveOccurred())
				Expect(ids(results)).To(Equal([]string{"x1", "y1"}))
				for _, r := range results {
					Expect(r.Score).To(BeNumerically(">=", threshold))
				}
			})

			It("requires every filter tag to be present", func() {
				results, err := store.Search(ctx, vector.Query{Vector: []float32{1, 0, 0, 0}, Tags: []string{"project:x"}})
				Expect(err).NotTo(HaveOccurred())
				Expect(ids(results)).To(Equal([]string{"x1", "x2"}))

				results, err = store.Search(ctx, vector.Query{Vector: []float32{1, 0, 0, 0}, Tags: []string{"project:x", "lang:go"}})
				Expect(err).NotTo(HaveOccurred())
				Expect(ids(results)).To(Equal([]string{"x1"}))
			})

			It("matches any of the given source kinds", func() {
				results, err := store.Search(ctx, vector.Query{Vector: []float32{1, 0, 0, 0}, SourceKinds: []string{"jira", "figma"}})
				Expect(err).NotTo(HaveOccurred())
				Expect(ids(results)).To(Equal([]string{"x2", "z1"}))
			})

			It("combines tag and source filters", func() {
				results, err := store.Search(ctx, vector.Query{
					Vector:      []float32{1, 0, 0, 0},
					Tags:        []string{"project:x"},
					SourceKinds: []string{"local"},
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(ids(results)).To(Equal([]string{"x1"}))
			})

			It("round-trips the payload", func() {
				results, err := store.Search(ctx, vector.Query{Vector: []float32{1, 0, 0, 0}, Limit: 1})
				Expect(err).NotTo(HaveOccurred())
				Expect(results).To(HaveLen(1))
				p := results[0].Payload
				Expect(p.DocumentID).To(Equal("doc-x1"))
				Expect(p.Content).To(Equal("content of x1"))
				Expect(p.SourceLocation).To(Equal("/src/x1"))
				Expect(p.Tags).To(ConsistOf("project:x", "lang:go"))
				Expect(p.LineStart).To(Equal(1))
				Expect(p.LineEnd).To(Equal(5))
				Expect(results[0].Location()).To(Equal("/src/x1:L1-5"))
			})

			It("rejects query vectors of the wrong size", func() {
				_, err := store.Search(ctx, vector.Query{Vector: []float32{1, 0}})
				Expect(err).To(MatchError(vector.ErrDimensionMismatch))
			})
		})

		Describe("zero vectors", func() {
			It("scores a stored zero vector as 0", func() {
				Expect(store.Upsert(ctx, []vector.Point{
					Point("zero", []float32{0, 0, 0, 0}, "local"),
					Point("unit", []float32{1, 0, 0, 0}, "local"),
				})).To(Succeed())

				results, err := store.Search(ctx, vector.Query{Vector: []float32{1, 0, 0, 0}, Limit: 10})
				Expect(err).NotTo(HaveOccurred())
				Expect(ids(results)).To(Equal([]string{"unit", "zero"}))
				Expect(results[1].Score).To(BeNumerically("==", 0))
			})

			It("scores every point 0 for a zero query", func() {
				Expect(store.Upsert(ctx, []vector.Point{
					Point("first", []float32{1, 0, 0, 0}, "local"),
					Point("second", []float32{0, 1, 0, 0}, "local"),
				})).To(Succeed())

				results, err := store.Search(ctx, vector.Query{Vector: []float32{0, 0, 0, 0}, Limit: 10})
				Expect(err).NotTo(HaveOccurred())
				Expect(ids(results)).To(Equal([]string{"first", "second"}))
				for _, r := range results {
					Expect(r.Score).To(BeNumerically("==", 0))
				}
			})
		})

		Describe("tie-break", func() {
			It("orders equal scores by upsert order", func() {
				Expect(store.Upsert(ctx, []vector.Point{Point("zeta", []float32{0, 1, 0, 0}, "local")})).To(Succeed())
				Expect(store.Upsert(ctx, []vector.Point{Point("alpha", []float32{0, 1, 0, 0}, "local")})).To(Succeed())

				results, err := store.Search(ctx, vector.Query{Vector: []float32{0, 1, 0, 0}})
				Expect(err).NotTo(HaveOccurred())
				Expect(ids(results)).To(Equal([]string{"zeta", "alpha"}))
			})

			It("keeps batch order within one upsert", func() {
				Expect(store.Upsert(ctx, []vector.Point{
					Point("p3", []float32{0, 0, 1, 0}, "local"),
					Point("p1", []float32{0, 0, 1, 0}, "local"),
					Point("p2", []float32{0, 0, 1, 0}, "local"),
				})).To(Succeed())

				results, err := store.Search(ctx, vector.Query{Vector: []float32{0, 0, 1, 0}})
				Expect(err).NotTo(HaveOccurred())
				Expect(ids(results)).To(Equal([]string{"p3", "p1", "p2"}))
			})
		})

		Describe("Delete", func() {
			BeforeEach(func() {
				Expect(store.Upsert(ctx, []vector.Point{
					Point("a", []float32{1, 0, 0, 0}, "local", "project:x", "team:core"),
					Point("b", []float32{0, 1, 0, 0}, "jira", "project:x"),
					Point("c", []float32{0, 0, 1, 0}, "confluence", "project:y"),
				})).To(Succeed())
			})

			It("deletes points carrying all given tags", func() {
				Expect(store.DeleteByTags(ctx, []string{"project:x", "team:core"})).To(Succeed())
				Expect(store.Count(ctx)).To(Equal(uint64(2)))

				Expect(store.DeleteByTags(ctx, []string{"project:x"})).To(Succeed())
				Expect(store.Count(ctx)).To(Equal(uint64(1)))
			})

			It("deletes by source kind", func() {
				Expect(store.DeleteBySourceKinds(ctx, []string{"jira", "confluence"})).To(Succeed())
				Expect(store.Count(ctx)).To(Equal(uint64(1)))
			})

			It("deletes by document id", func() {
				Expect(store.DeleteByDocumentIDs(ctx, []string{"doc-a", "doc-c"})).To(Succeed())
				Expect(store.Count(ctx)).To(Equal(uint64(1)))
			})

			It("trims a document's chunks past a given total", func() {
				chunks := make([]vector.Point, 3)
				for i := range chunks {
					chunks[i] = Point(fmt.Sprintf("t%d", i), []float32{0, 0, 0, 1}, "local")
					chunks[i].Payload.DocumentID = "doc-t"
					chunks[i].Payload.ChunkIndex = i
				}
				Expect(store.Upsert(ctx, chunks)).To(Succeed())

				Expect(store.TrimDocument(ctx, "doc-t", 1)).To(Succeed())
				Expect(store.Count(ctx)).To(Equal(uint64(4)))

				results, err := store.Search(ctx, vector.Query{Vector: []float32{0, 0, 0, 1}, Limit: 1})
				Expect(err).NotTo(HaveOccurred())
				Expect(ids(results)).To(Equal([]string{"t0"}))

				Expect(store.TrimDocument(ctx, "doc-t", 0)).To(Succeed())
				Expect(store.Count(ctx)).To(Equal(uint64(3)))
			})

			It("is a no-op when nothing matches", func() {
				Expect(store.DeleteByTags(ctx, []string{"project:none"})).To(Succeed())
				Expect(store.DeleteBySourceKinds(ctx, []string{"figma"})).To(Succeed())
				Expect(store.DeleteByDocumentIDs(ctx, []string{"doc-zzz"})).To(Succeed())
				Expect(store.Count(ctx)).To(Equal(uint64(3)))
			})

			It("is a no-op for empty selectors", func() {
				Expect(store.DeleteByTags(ctx, nil)).To(Succeed())
				Expect(store.DeleteBySourceKinds(ctx, nil)).To(Succeed())
				Expect(store.DeleteByDocumentIDs(ctx, nil)).To(Succeed())
				Expect(store.Count(ctx)).To(Equal(uint64(3)))
			})

			It("clears the collection", func() {
				Expect(store.Clear(ctx)).To(Succeed())
				Expect(store.Count(ctx)).To(BeZero())
			})
		})

		Describe("introspection", func() {
			It("lists distinct tags in order", func() {
				Expect(store.Upsert(ctx, []vector.Point{
					Point("a", []float32{1, 0, 0, 0}, "local", "team:core", "project:x"),
					Point("b", []float32{0, 1, 0, 0}, "local", "project:x"),
				})).To(Succeed())

				Expect(store.ListTags(ctx)).To(Equal([]string{"project:x", "team:core"}))
			})

			It("describes the collection", func() {
				Expect(store.Upsert(ctx, []vector.Point{Point("a", []float32{1, 0, 0, 0}, "local")})).To(Succeed())

				info, err := store.CollectionInfo(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(info.Dimensions).To(Equal(Dimensions))
				Expect(info.Points).To(Equal(uint64(1)))
				Expect(info.Name).NotTo(BeEmpty())
				Expect(info.Backend).NotTo(BeEmpty())
			})

			It("reports health", func() {
				Expect(store.Health(ctx)).To(Succeed())
			})
		})
	})
}
