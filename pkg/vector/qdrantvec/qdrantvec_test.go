package qdrantvec_test

import (
	"context"
	"net"
	"os"
	"strconv"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/semsearch/pkg/vector"
	"github.com/papercomputeco/semsearch/pkg/vector/qdrantvec"
	"github.com/papercomputeco/semsearch/pkg/vector/vectortest"
)

// addrEnv points the conformance specs at a Qdrant gRPC endpoint, e.g.
// localhost:6334
const addrEnv = "SEMSEARCH_TEST_QDRANT_ADDR"

var _ = vectortest.DescribeStore("qdrant", func(ctx context.Context, dims int) (vector.Store, error) {
	addr := os.Getenv(addrEnv)
	if addr == "" {
		return nil, nil
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}
	return qdrantvec.NewStore(ctx, qdrantvec.Config{
		Host:       host,
		Port:       port,
		Collection: "semsearch_conformance",
		Dimensions: dims,
	})
})

var _ = Describe("NewStore", func() {
	It("requires dimensions", func() {
		_, err := qdrantvec.NewStore(context.Background(), qdrantvec.Config{Host: "localhost"})
		Expect(err).To(MatchError(ContainSubstring("dimensions must be configured")))
	})
})
