package memory_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/semsearch/pkg/vector"
	"github.com/papercomputeco/semsearch/pkg/vector/memory"
	"github.com/papercomputeco/semsearch/pkg/vector/vectortest"
)

var _ = vectortest.DescribeStore("memory", func(_ context.Context, dims int) (vector.Store, error) {
	return memory.NewStore(memory.Config{Dimensions: dims}), nil
})

var _ = Describe("Store", func() {
	It("does not alias caller slices", func() {
		ctx := context.Background()
		store := memory.NewStore(memory.Config{Dimensions: 2})
		vec := []float32{1, 0}
		Expect(store.Upsert(ctx, []vector.Point{{ID: "a", Vector: vec}})).To(Succeed())

		vec[0], vec[1] = 0, 1
		results, err := store.Search(ctx, vector.Query{Vector: []float32{1, 0}})
		Expect(err).NotTo(HaveOccurred())
		Expect(results[0].Score).To(BeNumerically("~", 1, 1e-6))
	})

	It("uses the default collection name", func() {
		info, err := memory.NewStore(memory.Config{Dimensions: 2}).CollectionInfo(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(info.Name).To(Equal(vector.DefaultCollection))
		Expect(info.Backend).To(Equal("memory"))
	})
})
