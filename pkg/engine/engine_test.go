package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/semsearch/pkg/config"
	"github.com/papercomputeco/semsearch/pkg/daemon"
	"github.com/papercomputeco/semsearch/pkg/document"
	"github.com/papercomputeco/semsearch/pkg/engine"
	"github.com/papercomputeco/semsearch/pkg/lifecycle"
	"github.com/papercomputeco/semsearch/pkg/logger"
	"github.com/papercomputeco/semsearch/pkg/search"
	testutils "github.com/papercomputeco/semsearch/pkg/utils/test"
)

var _ = Describe("Engine", func() {
	var (
		ctx      context.Context
		dir      string
		cfg      *config.Config
		embedder *testutils.MockEmbedder
		eng      *engine.Engine
	)

	BeforeEach(func() {
		ctx = context.Background()
		dir = GinkgoT().TempDir()

		cfg = config.NewDefaultConfig()
		cfg.VectorStore.Provider = "memory"
		cfg.Embedding.Dimensions = 3
		cfg.Indexing.MinContentChars = -1

		embedder = testutils.NewMockEmbedder()

		var err error
		eng, err = engine.New(engine.Options{
			Config:    cfg,
			Lifecycle: lifecycle.ForDir(dir),
			NoSpawn:   true,
			Embedder:  embedder,
			Logger:    logger.Nop(),
		})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(eng.Close)
	})

	It("requires a config and a lifecycle manager", func() {
		_, err := engine.New(engine.Options{Lifecycle: lifecycle.ForDir(dir)})
		Expect(err).To(HaveOccurred())
		_, err = engine.New(engine.Options{Config: cfg})
		Expect(err).To(HaveOccurred())
	})

	It("defaults the sqlite target into the semsearch directory", func() {
		cfg.VectorStore.Provider = "sqlite"
		Expect(eng.StoreTarget()).To(Equal(filepath.Join(dir, engine.SQLiteFileName)))

		cfg.VectorStore.Target = "/tmp/other.db"
		Expect(eng.StoreTarget()).To(Equal("/tmp/other.db"))
	})

	It("opens the store once", func() {
		first, err := eng.Store(ctx)
		Expect(err).NotTo(HaveOccurred())
		second, err := eng.Store(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(BeIdenticalTo(first))
	})

	It("bounds store calls by the configured timeout", func() {
		cfg.VectorStore.Timeout = config.Duration{Duration: time.Second}
		bounded, cancel := eng.WithStoreTimeout(ctx)
		defer cancel()
		deadline, ok := bounded.Deadline()
		Expect(ok).To(BeTrue())
		Expect(time.Until(deadline)).To(BeNumerically("<=", time.Second))
	})

	It("indexes a directory and finds it again", func() {
		root := filepath.Join(dir, "notes")
		Expect(os.MkdirAll(root, 0o755)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(root, "retry.md"),
			[]byte("Retries use exponential backoff with jitter."), 0o644)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(root, "image.png"), []byte{0x89, 'P', 'N', 'G'}, 0o644)).To(Succeed())

		tags, err := document.ParseTags("project:notes")
		Expect(err).NotTo(HaveOccurred())

		src, err := eng.Source(root, nil, tags)
		Expect(err).NotTo(HaveOccurred())

		ix, err := eng.Indexer(ctx, false, nil)
		Expect(err).NotTo(HaveOccurred())

		stats, err := ix.IndexSource(ctx, src)
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.FilesIndexed).To(Equal(1))
		Expect(stats.FilesSkipped).To(Equal(1))
		Expect(stats.ChunksStored).To(Equal(1))

		svc, err := eng.Search(ctx)
		Expect(err).NotTo(HaveOccurred())

		results, err := svc.Search(ctx, search.Request{Text: "backoff", Tags: []string{"project:notes"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(results.Hits).To(HaveLen(1))
		Expect(results.Hits[0].Location).To(ContainSubstring("retry.md:L1"))
	})

	It("reports a stopped daemon without spawning one", func() {
		svc, err := eng.Search(ctx)
		Expect(err).NotTo(HaveOccurred())

		st := svc.Status(ctx)
		Expect(st.Daemon.Running).To(BeFalse())
		Expect(st.Store.Connected).To(BeTrue())
		Expect(st.Healthy()).To(BeFalse())
	})
})

var _ = Describe("NewDaemon", func() {
	It("builds a server for the hash runtime", func() {
		cfg := config.NewDefaultConfig()
		cfg.Embedding.Provider = "hash"
		cfg.Embedding.Dimensions = 8
		cfg.Daemon.Metrics = false

		srv, err := engine.NewDaemon(context.Background(), cfg, lifecycle.ForDir(GinkgoT().TempDir()), logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		Expect(srv.State()).To(Equal(daemon.StateStopped))
	})

	It("reports an unknown runtime as a model fault", func() {
		cfg := config.NewDefaultConfig()
		cfg.Embedding.Provider = "onnx-nope"

		_, err := engine.NewDaemon(context.Background(), cfg, lifecycle.ForDir(GinkgoT().TempDir()), logger.Nop())
		Expect(err).To(MatchError(daemon.ErrModelFault))
	})
})
