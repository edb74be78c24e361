package client_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/semsearch/pkg/client"
	"github.com/papercomputeco/semsearch/pkg/daemon"
	"github.com/papercomputeco/semsearch/pkg/embeddings"
	"github.com/papercomputeco/semsearch/pkg/embeddings/hash"
	"github.com/papercomputeco/semsearch/pkg/ipc"
	"github.com/papercomputeco/semsearch/pkg/lifecycle"
	"github.com/papercomputeco/semsearch/pkg/retry"
	testutils "github.com/papercomputeco/semsearch/pkg/utils/test"
)

const testDims = 16

var fastRetry = retry.Policy{
	MaxAttempts:  3,
	InitialDelay: 10 * time.Millisecond,
	MaxDelay:     50 * time.Millisecond,
	Multiplier:   2,
}

var _ = Describe("Client", func() {
	var (
		dir         string
		lm          *lifecycle.Manager
		ctx         context.Context
		cancel      context.CancelFunc
		spawns      atomic.Int32
		mu          sync.Mutex
		daemons     []chan struct{}
		newEmbedder func() embeddings.Embedder
		spawner     client.Spawner
	)

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("/tmp", "ssc-*")
		Expect(err).NotTo(HaveOccurred())
		lm = lifecycle.ForDir(dir)
		ctx, cancel = context.WithCancel(context.Background())
		spawns.Store(0)
		daemons = nil
		newEmbedder = func() embeddings.Embedder { return hash.NewEmbedder(testDims) }

		spawner = client.SpawnFunc(func(context.Context) (<-chan error, error) {
			spawns.Add(1)
			model, err := daemon.NewModel(daemon.ModelConfig{
				Embedder:   newEmbedder(),
				ModelID:    "test-model",
				Dimensions: testDims,
			})
			if err != nil {
				return nil, err
			}
			server, err := daemon.New(daemon.Config{Model: model, Lifecycle: lm, IdleTimeout: -1})
			if err != nil {
				return nil, err
			}

			done := make(chan struct{})
			exited := make(chan error, 1)
			mu.Lock()
			daemons = append(daemons, done)
			mu.Unlock()
			go func() {
				defer close(done)
				exited <- server.Serve(ctx)
				close(exited)
			}()
			return exited, nil
		})
	})

	AfterEach(func() {
		cancel()
		mu.Lock()
		running := daemons
		mu.Unlock()
		for _, done := range running {
			Eventually(done, 5*time.Second).Should(BeClosed())
		}
		Expect(os.RemoveAll(dir)).To(Succeed())
	})

	newClient := func(mutate ...func(*client.Config)) *client.Client {
		GinkgoHelper()
		cfg := client.Config{
			Lifecycle:    lm,
			Spawner:      spawner,
			ReadyTimeout: 5 * time.Second,
			Retry:        fastRetry,
		}
		for _, m := range mutate {
			m(&cfg)
		}
		c, err := client.New(cfg)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(c.Close)
		return c
	}

	It("starts a daemon on first use and embeds the batch", func() {
		c := newClient()

		vecs, err := c.Embed(ctx, []string{"first", "second"}, ipc.KindDocument)
		Expect(err).NotTo(HaveOccurred())
		Expect(vecs).To(HaveLen(2))
		Expect(vecs[0]).To(HaveLen(testDims))
		Expect(spawns.Load()).To(Equal(int32(1)))
		Expect(c.IsRunning(ctx)).To(BeTrue())
	})

	It("reuses a running daemon", func() {
		c := newClient()
		_, err := c.EmbedQuery(ctx, "warm up")
		Expect(err).NotTo(HaveOccurred())

		other := newClient()
		vec, err := other.EmbedQuery(ctx, "again")
		Expect(err).NotTo(HaveOccurred())
		Expect(vec).To(HaveLen(testDims))
		Expect(spawns.Load()).To(Equal(int32(1)))
	})

	It("spawns exactly one daemon for concurrent starters", func() {
		var wg sync.WaitGroup
		for i := range 5 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer GinkgoRecover()
				c, err := client.New(client.Config{
					Lifecycle:    lm,
					Spawner:      spawner,
					ReadyTimeout: 5 * time.Second,
					Retry:        fastRetry,
				})
				Expect(err).NotTo(HaveOccurred())
				defer c.Close()

				_, err = c.Embed(ctx, []string{fmt.Sprintf("text %d", i)}, ipc.KindDocument)
				Expect(err).NotTo(HaveOccurred())
			}()
		}
		wg.Wait()
		Expect(spawns.Load()).To(Equal(int32(1)))
	})

	It("gives up with DaemonUnavailable when the daemon never becomes ready", func() {
		c := newClient(func(cfg *client.Config) {
			cfg.Spawner = client.SpawnFunc(func(context.Context) (<-chan error, error) { return nil, nil })
			cfg.ReadyTimeout = 300 * time.Millisecond
			cfg.Retry = retry.Policy{MaxAttempts: 1}
		})

		start := time.Now()
		_, err := c.Embed(ctx, []string{"x"}, ipc.KindDocument)
		Expect(err).To(MatchError(client.ErrDaemonUnavailable))
		Expect(time.Since(start)).To(BeNumerically("<", 3*time.Second))
	})

	It("reports a spawn failure as DaemonUnavailable", func() {
		c := newClient(func(cfg *client.Config) {
			cfg.Spawner = client.SpawnFunc(func(context.Context) (<-chan error, error) { return nil, fmt.Errorf("no binary") })
		})

		_, err := c.Embed(ctx, []string{"x"}, ipc.KindDocument)
		Expect(err).To(MatchError(client.ErrDaemonUnavailable))
	})

	It("fails fast without respawning when the daemon dies while loading", func() {
		newEmbedder = func() embeddings.Embedder {
			failing := testutils.NewMockEmbedder()
			failing.FailCalls = 1 << 20
			return failing
		}
		c := newClient(func(cfg *client.Config) {
			cfg.ReadyTimeout = 2 * time.Second
		})

		start := time.Now()
		_, err := c.Embed(ctx, []string{"x"}, ipc.KindDocument)
		Expect(err).To(MatchError(client.ErrDaemonUnavailable))
		Expect(err).To(MatchError(client.ErrDaemonExited))
		Expect(err.Error()).To(ContainSubstring(daemon.ErrModelFault.Error()))
		Expect(spawns.Load()).To(Equal(int32(1)))
		Expect(time.Since(start)).To(BeNumerically("<", time.Second))
	})

	It("does not spawn when auto-start is disabled", func() {
		c := newClient(func(cfg *client.Config) {
			cfg.NoSpawn = true
			cfg.Retry = retry.Policy{MaxAttempts: 1}
		})

		_, err := c.Embed(ctx, []string{"x"}, ipc.KindDocument)
		Expect(err).To(MatchError(client.ErrDaemonUnavailable))
		Expect(spawns.Load()).To(BeZero())
	})

	It("rejects an unknown instruction kind without contacting the daemon", func() {
		c := newClient()

		_, err := c.Embed(ctx, []string{"x"}, "passage")
		Expect(err).To(MatchError(client.ErrInvalidRequest))
		Expect(spawns.Load()).To(BeZero())
	})

	It("returns an empty result for no texts", func() {
		c := newClient()

		vecs, err := c.Embed(ctx, nil, ipc.KindDocument)
		Expect(err).NotTo(HaveOccurred())
		Expect(vecs).To(BeEmpty())
		Expect(spawns.Load()).To(BeZero())
	})

	It("does not retry inference errors", func() {
		mock := testutils.NewMockEmbedder()
		mock.Dimensions = testDims
		mock.FailOn = "poison"
		newEmbedder = func() embeddings.Embedder { return mock }
		c := newClient()

		_, err := c.Embed(ctx, []string{"poison"}, ipc.KindDocument)
		Expect(err).To(MatchError(client.ErrInference))

		// One warmup inference at load plus the single failed request.
		Expect(mock.Calls()).To(HaveLen(2))
	})

	It("splits batches above the protocol limit", func() {
		c := newClient()

		texts := make([]string, ipc.MaxBatchTexts+10)
		for i := range texts {
			texts[i] = fmt.Sprintf("text %d", i)
		}
		vecs, err := c.Embed(ctx, texts, ipc.KindDocument)
		Expect(err).NotTo(HaveOccurred())
		Expect(vecs).To(HaveLen(len(texts)))

		single, err := c.Embed(ctx, texts[len(texts)-1:], ipc.KindDocument)
		Expect(err).NotTo(HaveOccurred())
		Expect(vecs[len(vecs)-1]).To(Equal(single[0]))
	})

	It("recovers when the daemon it was talking to goes away", func() {
		c := newClient()
		_, err := c.Embed(ctx, []string{"before"}, ipc.KindDocument)
		Expect(err).NotTo(HaveOccurred())

		Expect(newClient().Shutdown(ctx)).To(Succeed())

		vecs, err := c.Embed(ctx, []string{"after"}, ipc.KindDocument)
		Expect(err).NotTo(HaveOccurred())
		Expect(vecs).To(HaveLen(1))
		Expect(spawns.Load()).To(Equal(int32(2)))
	})

	Describe("control calls", func() {
		It("fail with ErrNotRunning instead of spawning", func() {
			c := newClient()

			_, err := c.Health(ctx)
			Expect(err).To(MatchError(client.ErrNotRunning))
			_, err = c.Status(ctx)
			Expect(err).To(MatchError(client.ErrNotRunning))
			Expect(c.Ping(ctx)).To(MatchError(client.ErrNotRunning))
			Expect(c.IsRunning(ctx)).To(BeFalse())
			Expect(spawns.Load()).To(BeZero())
		})

		It("report health and status of a running daemon", func() {
			c := newClient()
			Expect(c.EnsureRunning(ctx)).To(Succeed())
			_, err := c.Embed(ctx, []string{"x"}, ipc.KindDocument)
			Expect(err).NotTo(HaveOccurred())

			health, err := c.Health(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(health.Status).To(Equal(ipc.StatusReady))
			Expect(health.ModelID).To(Equal("test-model"))

			status, err := c.Status(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(status.ModelID).To(Equal("test-model"))
			Expect(status.PID).To(Equal(os.Getpid()))
			Expect(status.RequestsServed).To(BeNumerically(">=", 1))
		})

		It("stop a running daemon and tolerate a stopped one", func() {
			c := newClient()
			Expect(c.EnsureRunning(ctx)).To(Succeed())

			Expect(c.Stop(ctx)).To(Succeed())
			Expect(c.IsRunning(ctx)).To(BeFalse())
			Expect(lm.SocketPath).NotTo(BeAnExistingFile())

			Expect(c.Stop(ctx)).To(Succeed())
		})
	})
})
