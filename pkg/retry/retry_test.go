package retry_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/semsearch/pkg/retry"
)

var errFlaky = errors.New("flaky")

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

var _ = Describe("Policy", func() {
	It("doubles the delay and caps it", func() {
		p := retry.DefaultPolicy()
		Expect(p.Delay(1)).To(Equal(100 * time.Millisecond))
		Expect(p.Delay(2)).To(Equal(200 * time.Millisecond))
		Expect(p.Delay(3)).To(Equal(400 * time.Millisecond))
		Expect(p.Delay(20)).To(Equal(10 * time.Second))
	})
})

var _ = Describe("Do", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("rejects policies without attempts", func() {
		err := retry.Do(ctx, retry.Policy{}, func(context.Context) error { return nil })
		Expect(err).To(MatchError(retry.ErrInvalidMaxAttempts))
	})

	It("returns immediately on success", func() {
		calls := 0
		err := retry.Do(ctx, fastPolicy(3), func(context.Context) error {
			calls++
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(calls).To(Equal(1))
	})

	It("retries transient failures until success", func() {
		calls := 0
		var retried []int
		err := retry.Do(ctx, fastPolicy(3), func(context.Context) error {
			calls++
			if calls < 3 {
				return errFlaky
			}
			return nil
		}, func(attempt int, _ time.Duration, _ error) {
			retried = append(retried, attempt)
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(calls).To(Equal(3))
		Expect(retried).To(Equal([]int{1, 2}))
	})

	It("returns the last error after exhausting attempts", func() {
		calls := 0
		err := retry.Do(ctx, fastPolicy(3), func(context.Context) error {
			calls++
			return errFlaky
		})
		Expect(err).To(MatchError(errFlaky))
		Expect(calls).To(Equal(3))
	})

	It("does not retry permanent errors", func() {
		calls := 0
		err := retry.Do(ctx, fastPolicy(5), func(context.Context) error {
			calls++
			return retry.Permanent(errFlaky)
		})
		Expect(err).To(MatchError(errFlaky))
		Expect(retry.IsPermanent(err)).To(BeFalse())
		Expect(calls).To(Equal(1))
	})

	It("stops waiting when the context is cancelled", func() {
		ctx, cancel := context.WithCancel(ctx)
		calls := 0
		p := retry.Policy{MaxAttempts: 5, InitialDelay: time.Hour, Multiplier: 2}
		done := make(chan error)
		go func() {
			done <- retry.Do(ctx, p, func(context.Context) error {
				calls++
				return errFlaky
			})
		}()
		cancel()
		Eventually(done).Should(Receive(MatchError(context.Canceled)))
		Expect(calls).To(BeNumerically("<=", 1))
	})

	It("returns values from DoValue", func() {
		calls := 0
		v, err := retry.DoValue(ctx, fastPolicy(2), func(context.Context) (int, error) {
			calls++
			if calls == 1 {
				return 0, errFlaky
			}
			return 42, nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(42))
	})
})
