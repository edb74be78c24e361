// Package ipc defines the length-framed JSON protocol spoken between the
// daemon client and the embedding daemon over a unix socket.
package ipc

import (
	"fmt"
	"time"

	"github.com/papercomputeco/semsearch/pkg/metrics"
)

// RequestType names a request.
type RequestType string

const (
	RequestEmbed    RequestType = "embed"
	RequestHealth   RequestType = "health"
	RequestPing     RequestType = "ping"
	RequestStatus   RequestType = "status"
	RequestShutdown RequestType = "shutdown"
)

// ResponseType names a response.
type ResponseType string

const (
	ResponseEmbed       ResponseType = "embed"
	ResponseHealth      ResponseType = "health"
	ResponsePong        ResponseType = "pong"
	ResponseStatus      ResponseType = "status"
	ResponseShutdownAck ResponseType = "shutdown_ack"
	ResponseError       ResponseType = "error"
)

// Kind selects the instruction applied to texts before embedding.
type Kind string

const (
	KindQuery    Kind = "query"
	KindDocument Kind = "document"
)

// ErrorKind classifies a failed request on the wire.
type ErrorKind string

const (
	// ErrorInvalidRequest means the request itself is malformed. Retrying
	// will not help.
	ErrorInvalidRequest ErrorKind = "invalid_request"

	// ErrorInference means the model failed to produce valid vectors.
	ErrorInference ErrorKind = "inference_error"

	// ErrorUnavailable means the daemon cannot serve right now (loading or
	// shutting down).
	ErrorUnavailable ErrorKind = "unavailable"
)

// Health statuses.
const (
	StatusReady   = "ready"
	StatusLoading = "loading"
)

// MaxBatchTexts bounds the number of texts in one embed request.
const MaxBatchTexts = 256

// Request is a message from client to daemon.
type Request struct {
	Type  RequestType `json:"type"`
	Texts []string    `json:"texts,omitempty"`
	Kind  Kind        `json:"kind,omitempty"`
}

// Response is a message from daemon to client.
type Response struct {
	Type ResponseType `json:"type"`

	// embed
	Vectors [][]float32 `json:"vectors,omitempty"`

	// health and status
	Status     string `json:"status,omitempty"`
	ModelID    string `json:"model_id,omitempty"`
	Dimensions int    `json:"dimensions,omitempty"`

	// status
	PID            int              `json:"pid,omitempty"`
	UptimeSecs     uint64           `json:"uptime_secs,omitempty"`
	IdleSecs       uint64           `json:"idle_secs,omitempty"`
	IdleTimeout    uint64           `json:"idle_timeout_secs,omitempty"`
	RequestsServed uint64           `json:"requests_served,omitempty"`
	Metrics        *metrics.Summary `json:"metrics,omitempty"`

	// error
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Validate checks that r is well formed.
func (r *Request) Validate() error {
	switch r.Type {
	case RequestHealth, RequestPing, RequestStatus, RequestShutdown:
		return nil
	case RequestEmbed:
	case "":
		return fmt.Errorf("%w: missing request type", ErrInvalidRequest)
	default:
		return fmt.Errorf("%w: unknown request type %q", ErrInvalidRequest, r.Type)
	}

	switch r.Kind {
	case KindQuery, KindDocument:
	default:
		return fmt.Errorf("%w: unknown instruction kind %q", ErrInvalidRequest, r.Kind)
	}
	if len(r.Texts) == 0 {
		return fmt.Errorf("%w: no texts to embed", ErrInvalidRequest)
	}
	if len(r.Texts) > MaxBatchTexts {
		return fmt.Errorf("%w: %d texts exceeds the batch limit of %d",
			ErrInvalidRequest, len(r.Texts), MaxBatchTexts)
	}
	return nil
}

// EmbedRequest builds an embed request.
func EmbedRequest(texts []string, kind Kind) *Request {
	return &Request{Type: RequestEmbed, Texts: texts, Kind: kind}
}

// ErrorResponse builds an error response.
func ErrorResponse(kind ErrorKind, format string, args ...any) *Response {
	return &Response{Type: ResponseError, ErrorKind: kind, Message: fmt.Sprintf(format, args...)}
}

// Err converts an error response into a *RemoteError, or returns nil.
func (r *Response) Err() error {
	if r.Type != ResponseError {
		return nil
	}
	return &RemoteError{Kind: r.ErrorKind, Message: r.Message}
}

// Uptime returns the status uptime as a duration.
func (r *Response) Uptime() time.Duration {
	return time.Duration(r.UptimeSecs) * time.Second
}
