package search_test

import (
	"context"
	"errors"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/semsearch/pkg/ipc"
	"github.com/papercomputeco/semsearch/pkg/search"
	testutils "github.com/papercomputeco/semsearch/pkg/utils/test"
	"github.com/papercomputeco/semsearch/pkg/vector"
	"github.com/papercomputeco/semsearch/pkg/vector/memory"
)

type fakeDaemon struct {
	resp *ipc.Response
	err  error
}

func (f *fakeDaemon) Status(context.Context) (*ipc.Response, error) {
	return f.resp, f.err
}

type downStore struct {
	*memory.Store
}

func (downStore) Health(context.Context) error {
	return errors.New("connection refused")
}

func point(id string, vec []float32, kind string, tags ...string) vector.Point {
	return vector.Point{
		ID:     id,
		Vector: vec,
		Payload: vector.Payload{
			DocumentID:     "doc-" + id,
			Content:        "content for " + id,
			SourceKind:     kind,
			SourceLocation: "/notes/" + id + ".md",
			Path:           "/notes/" + id + ".md",
			Tags:           tags,
			LineStart:      1,
			LineEnd:        4,
		},
	}
}

var _ = Describe("Service", func() {
	var (
		ctx      context.Context
		embedder *testutils.MockEmbedder
		store    *memory.Store
		svc      *search.Service
	)

	BeforeEach(func() {
		ctx = context.Background()
		embedder = testutils.NewMockEmbedder()
		embedder.Embeddings["rust async"] = []float32{1, 0, 0}
		store = memory.NewStore(memory.Config{Dimensions: 3})
		Expect(store.Upsert(ctx, []vector.Point{
			point("a", []float32{1, 0, 0}, "local", "lang:rust"),
			point("b", []float32{0.8, 0.6, 0}, "local", "lang:rust", "topic:async"),
			point("c", []float32{0, 1, 0}, "web", "lang:go"),
			point("d", []float32{0.6, 0.8, 0}, "web"),
		})).To(Succeed())

		var err error
		svc, err = search.NewService(search.Config{
			Embedder: embedder,
			Store:    store,
			Daemon:   &fakeDaemon{resp: &ipc.Response{Type: ipc.ResponseStatus, Status: "ready", ModelID: "test-model", Dimensions: 3}},
		})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("NewService", func() {
		It("requires an embedder and a store", func() {
			_, err := search.NewService(search.Config{Store: store})
			Expect(err).To(HaveOccurred())
			_, err = search.NewService(search.Config{Embedder: embedder})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Search", func() {
		It("returns hits ranked by similarity", func() {
			res, err := svc.Search(ctx, search.Request{Text: "rust async"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Query).To(Equal("rust async"))
			Expect(res.Total).To(Equal(4))
			ids := make([]string, len(res.Hits))
			for i, h := range res.Hits {
				ids[i] = h.ChunkID
			}
			Expect(ids).To(Equal([]string{"a", "b", "d", "c"}))
			Expect(res.Hits[0].Score).To(BeNumerically("~", 1.0, 1e-5))
			Expect(res.Hits[0].Location).To(Equal("/notes/a.md:L1-4"))
			Expect(res.Hits[0].DocumentID).To(Equal("doc-a"))
		})

		It("trims the query text before embedding", func() {
			res, err := svc.Search(ctx, search.Request{Text: "  rust async \n"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Query).To(Equal("rust async"))
			Expect(embedder.Calls()).To(Equal([][]string{{"rust async"}}))
		})

		It("rejects an empty query", func() {
			_, err := svc.Search(ctx, search.Request{Text: "   "})
			Expect(err).To(MatchError(search.ErrEmptyQuery))
			Expect(embedder.Calls()).To(BeEmpty())
		})

		It("rejects malformed tags", func() {
			_, err := svc.Search(ctx, search.Request{Text: "rust async", Tags: []string{"nocolon"}})
			Expect(err).To(HaveOccurred())
			Expect(embedder.Calls()).To(BeEmpty())
		})

		It("honours the limit", func() {
			res, err := svc.Search(ctx, search.Request{Text: "rust async", Limit: 2})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Hits).To(HaveLen(2))
		})

		It("requires every tag to match", func() {
			res, err := svc.Search(ctx, search.Request{Text: "rust async", Tags: []string{"lang:rust", "topic:async"}})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Hits).To(HaveLen(1))
			Expect(res.Hits[0].ChunkID).To(Equal("b"))
		})

		It("filters by source kind", func() {
			res, err := svc.Search(ctx, search.Request{Text: "rust async", SourceKinds: []string{"WEB"}})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Hits).To(HaveLen(2))
			for _, h := range res.Hits {
				Expect(h.SourceKind).To(Equal("web"))
			}
		})

		It("drops hits below the minimum score", func() {
			min := float32(0.7)
			res, err := svc.Search(ctx, search.Request{Text: "rust async", MinScore: &min})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Hits).To(HaveLen(2))
		})

		It("returns an empty tag list rather than nil", func() {
			res, err := svc.Search(ctx, search.Request{Text: "rust async"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Hits[2].Tags).NotTo(BeNil())
		})

		It("wraps embedder failures", func() {
			embedder.FailOn = "rust async"
			_, err := svc.Search(ctx, search.Request{Text: "rust async"})
			Expect(err).To(MatchError(ContainSubstring("embedding query")))
		})

		It("gives up on a store that does not answer in time", func() {
			slow, err := search.NewService(search.Config{
				Embedder:     embedder,
				Store:        &testutils.BlockingStore{Store: store},
				StoreTimeout: 50 * time.Millisecond,
			})
			Expect(err).NotTo(HaveOccurred())

			start := time.Now()
			_, err = slow.Search(ctx, search.Request{Text: "rust async"})
			Expect(err).To(MatchError(vector.ErrStorage))
			Expect(err).To(MatchError(ContainSubstring("timed out")))
			Expect(time.Since(start)).To(BeNumerically("<", 2*time.Second))
		})

		It("wraps dimension mismatches from the store", func() {
			embedder.Embeddings["rust async"] = []float32{1, 0}
			_, err := svc.Search(ctx, search.Request{Text: "rust async"})
			Expect(err).To(MatchError(vector.ErrDimensionMismatch))
		})
	})

	Describe("Snippet", func() {
		It("keeps short content", func() {
			Expect(search.Snippet("  short text  ", 200)).To(Equal("short text"))
		})

		It("cuts long content with an ellipsis", func() {
			s := search.Snippet(strings.Repeat("é", 250), 200)
			Expect([]rune(s)).To(HaveLen(203))
			Expect(s).To(HaveSuffix("..."))
		})
	})

	Describe("Status", func() {
		It("reports a running daemon and a connected store", func() {
			st := svc.Status(ctx)
			Expect(st.Healthy()).To(BeTrue())
			Expect(st.Daemon.ModelID).To(Equal("test-model"))
			Expect(st.Store.Points).To(Equal(uint64(4)))
			Expect(st.Store.Info.Dimensions).To(Equal(3))
		})

		It("reports a stopped daemon without failing", func() {
			s, err := search.NewService(search.Config{
				Embedder: embedder,
				Store:    store,
				Daemon:   &fakeDaemon{err: errors.New("daemon is not running")},
			})
			Expect(err).NotTo(HaveOccurred())
			st := s.Status(ctx)
			Expect(st.Daemon.Running).To(BeFalse())
			Expect(st.Daemon.Error).To(ContainSubstring("not running"))
			Expect(st.Store.Connected).To(BeTrue())
			Expect(st.Healthy()).To(BeFalse())
		})

		It("reports an unreachable store", func() {
			s, err := search.NewService(search.Config{
				Embedder: embedder,
				Store:    downStore{store},
			})
			Expect(err).NotTo(HaveOccurred())
			st := s.Status(ctx)
			Expect(st.Store.Connected).To(BeFalse())
			Expect(st.Store.Error).To(ContainSubstring("refused"))
			Expect(st.Daemon.Running).To(BeFalse())
		})
	})
})
