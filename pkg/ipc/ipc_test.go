package ipc_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/semsearch/pkg/ipc"
)

var _ = Describe("framing", func() {
	It("writes a big-endian length header before the JSON body", func() {
		var buf bytes.Buffer
		Expect(ipc.WriteMessage(&buf, &ipc.Request{Type: ipc.RequestPing})).To(Succeed())

		raw := buf.Bytes()
		n := binary.BigEndian.Uint32(raw[:4])
		Expect(int(n)).To(Equal(len(raw) - 4))
		Expect(string(raw[4:])).To(Equal(`{"type":"ping"}`))
	})

	It("reads back consecutive messages from one stream", func() {
		var buf bytes.Buffer
		Expect(ipc.WriteMessage(&buf, ipc.EmbedRequest([]string{"a", "b"}, ipc.KindDocument))).To(Succeed())
		Expect(ipc.WriteMessage(&buf, &ipc.Request{Type: ipc.RequestStatus})).To(Succeed())

		var first, second ipc.Request
		Expect(ipc.ReadMessage(&buf, &first)).To(Succeed())
		Expect(ipc.ReadMessage(&buf, &second)).To(Succeed())
		Expect(first.Texts).To(Equal([]string{"a", "b"}))
		Expect(first.Kind).To(Equal(ipc.KindDocument))
		Expect(second.Type).To(Equal(ipc.RequestStatus))

		var third ipc.Request
		Expect(ipc.ReadMessage(&buf, &third)).To(MatchError(io.EOF))
	})

	It("rejects frames above the size limit without reading the body", func() {
		header := make([]byte, 4)
		binary.BigEndian.PutUint32(header, ipc.MaxFrameSize+1)

		var req ipc.Request
		err := ipc.ReadMessage(bytes.NewReader(header), &req)
		Expect(err).To(MatchError(ipc.ErrFrameTooLarge))
	})

	It("rejects empty frames", func() {
		var req ipc.Request
		err := ipc.ReadMessage(bytes.NewReader([]byte{0, 0, 0, 0}), &req)
		Expect(err).To(MatchError(ipc.ErrEmptyFrame))
	})

	It("reports truncated bodies", func() {
		var buf bytes.Buffer
		Expect(ipc.WriteMessage(&buf, &ipc.Request{Type: ipc.RequestPing})).To(Succeed())
		truncated := buf.Bytes()[:buf.Len()-2]

		var req ipc.Request
		err := ipc.ReadMessage(bytes.NewReader(truncated), &req)
		Expect(err).To(HaveOccurred())
		Expect(errors.Is(err, io.EOF)).To(BeFalse())
	})

	It("reports malformed JSON", func() {
		body := []byte("{not json")
		frame := make([]byte, 4+len(body))
		binary.BigEndian.PutUint32(frame, uint32(len(body)))
		copy(frame[4:], body)

		var req ipc.Request
		Expect(ipc.ReadMessage(bytes.NewReader(frame), &req)).To(MatchError(ipc.ErrMalformed))
	})

	It("refuses to write oversized messages", func() {
		huge := strings.Repeat("x", ipc.MaxFrameSize)
		err := ipc.WriteMessage(io.Discard, ipc.EmbedRequest([]string{huge}, ipc.KindDocument))
		Expect(err).To(MatchError(ipc.ErrFrameTooLarge))
	})
})

var _ = Describe("Request.Validate", func() {
	DescribeTable("accepts well formed requests",
		func(req *ipc.Request) {
			Expect(req.Validate()).To(Succeed())
		},
		Entry("ping", &ipc.Request{Type: ipc.RequestPing}),
		Entry("health", &ipc.Request{Type: ipc.RequestHealth}),
		Entry("status", &ipc.Request{Type: ipc.RequestStatus}),
		Entry("shutdown", &ipc.Request{Type: ipc.RequestShutdown}),
		Entry("query embed", ipc.EmbedRequest([]string{"q"}, ipc.KindQuery)),
		Entry("document embed", ipc.EmbedRequest([]string{"a", "b"}, ipc.KindDocument)),
	)

	DescribeTable("rejects malformed requests",
		func(req *ipc.Request) {
			Expect(req.Validate()).To(MatchError(ipc.ErrInvalidRequest))
		},
		Entry("missing type", &ipc.Request{}),
		Entry("unknown type", &ipc.Request{Type: "reload"}),
		Entry("no texts", ipc.EmbedRequest(nil, ipc.KindQuery)),
		Entry("unknown kind", ipc.EmbedRequest([]string{"a"}, "passage")),
		Entry("too many texts", ipc.EmbedRequest(make([]string, ipc.MaxBatchTexts+1), ipc.KindDocument)),
	)
})

var _ = Describe("Response", func() {
	It("converts error responses into remote errors", func() {
		resp := ipc.ErrorResponse(ipc.ErrorInference, "model returned %d vectors", 3)
		err := resp.Err()

		var remote *ipc.RemoteError
		Expect(errors.As(err, &remote)).To(BeTrue())
		Expect(remote.Kind).To(Equal(ipc.ErrorInference))
		Expect(remote.Message).To(Equal("model returned 3 vectors"))
	})

	It("returns nil for successful responses", func() {
		Expect((&ipc.Response{Type: ipc.ResponsePong}).Err()).To(Succeed())
	})
})
