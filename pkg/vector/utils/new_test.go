package vectorutils_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	vectorutils "github.com/papercomputeco/semsearch/pkg/vector/utils"
)

var _ = Describe("NewVectorStore", func() {
	ctx := context.Background()

	It("builds an in-memory store", func() {
		store, err := vectorutils.NewVectorStore(ctx, &vectorutils.NewVectorStoreOpts{
			ProviderType: vectorutils.ProviderMemory,
			Dimensions:   4,
		})
		Expect(err).NotTo(HaveOccurred())
		info, err := store.CollectionInfo(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(info.Backend).To(Equal("memory"))
	})

	It("builds a sqlite store", func() {
		store, err := vectorutils.NewVectorStore(ctx, &vectorutils.NewVectorStoreOpts{
			ProviderType: vectorutils.ProviderSQLite,
			Target:       ":memory:",
			Dimensions:   4,
		})
		Expect(err).NotTo(HaveOccurred())
		defer store.Close()
		Expect(store.Health(ctx)).To(Succeed())
	})

	It("rejects unknown providers", func() {
		_, err := vectorutils.NewVectorStore(ctx, &vectorutils.NewVectorStoreOpts{ProviderType: "chroma"})
		Expect(err).To(MatchError(ContainSubstring("unsupported vector store provider")))
	})
})

var _ = DescribeTable("parseQdrantTarget",
	func(target, host string, port int, tls bool) {
		h, p, t, err := vectorutils.ParseQdrantTarget(target)
		Expect(err).NotTo(HaveOccurred())
		Expect(h).To(Equal(host))
		Expect(p).To(Equal(port))
		Expect(t).To(Equal(tls))
	},
	Entry("empty", "", "localhost", 6334, false),
	Entry("host only", "qdrant", "qdrant", 6334, false),
	Entry("host and port", "qdrant:7000", "qdrant", 7000, false),
	Entry("https", "https://cloud.qdrant.io:6334", "cloud.qdrant.io", 6334, true),
)
