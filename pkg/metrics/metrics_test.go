package metrics_test

import (
	"context"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/semsearch/pkg/metrics"
)

func describeRecorder(name string, open func() metrics.Recorder) {
	Describe(name, func() {
		var (
			ctx context.Context
			rec metrics.Recorder
			now time.Time
		)

		BeforeEach(func() {
			ctx = context.Background()
			rec = open()
			now = time.Now()
		})

		AfterEach(func() {
			Expect(rec.Close()).To(Succeed())
		})

		It("summarises an empty log as zeros", func() {
			s, err := rec.Summary(ctx, now.Add(-time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(s.TotalRequests).To(BeZero())
			Expect(s.ErrorRate).To(BeZero())
		})

		It("aggregates counts, latency and failures", func() {
			for i := 1; i <= 20; i++ {
				Expect(rec.Record(ctx, metrics.Entry{
					Kind:    "embed",
					Texts:   2,
					Latency: time.Duration(i) * time.Millisecond,
					Success: i != 20,
					At:      now,
				})).To(Succeed())
			}

			s, err := rec.Summary(ctx, now.Add(-time.Minute))
			Expect(err).NotTo(HaveOccurred())
			Expect(s.TotalRequests).To(Equal(uint64(20)))
			Expect(s.Failures).To(Equal(uint64(1)))
			Expect(s.TextsEmbedded).To(Equal(uint64(38)))
			Expect(s.AvgLatencyMs).To(BeNumerically("~", 10.5, 0.01))
			Expect(s.P95LatencyMs).To(BeNumerically("~", 19, 0.01))
			Expect(s.ErrorRate).To(BeNumerically("~", 5, 0.01))
		})

		It("only counts entries inside the window", func() {
			Expect(rec.Record(ctx, metrics.Entry{Kind: "embed", Success: true, At: now.Add(-48 * time.Hour)})).To(Succeed())
			Expect(rec.Record(ctx, metrics.Entry{Kind: "embed", Success: true, At: now})).To(Succeed())

			s, err := rec.Summary(ctx, now.Add(-24*time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(s.TotalRequests).To(Equal(uint64(1)))
		})

		It("cleans up old entries", func() {
			Expect(rec.Record(ctx, metrics.Entry{Kind: "embed", Success: true, At: now.Add(-48 * time.Hour)})).To(Succeed())
			Expect(rec.Record(ctx, metrics.Entry{Kind: "ping", Success: true, At: now})).To(Succeed())

			removed, err := rec.Cleanup(ctx, now.Add(-24*time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(Equal(int64(1)))

			s, err := rec.Summary(ctx, time.Time{})
			Expect(err).NotTo(HaveOccurred())
			Expect(s.TotalRequests).To(Equal(uint64(1)))
		})
	})
}

var _ = Describe("Recorder", func() {
	describeRecorder("MemoryStore", func() metrics.Recorder {
		return metrics.NewMemoryStore()
	})

	describeRecorder("SQLiteStore", func() metrics.Recorder {
		path := filepath.Join(GinkgoT().TempDir(), "metrics.db")
		store, err := metrics.NewSQLiteStore(context.Background(), path)
		Expect(err).NotTo(HaveOccurred())
		return store
	})
})
