// Package daemon implements the embedding daemon: a unix socket server that
// keeps one embedding model loaded, serialises inference through it and
// stops itself after a period of inactivity.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/semaphore"

	"github.com/papercomputeco/semsearch/pkg/ipc"
	"github.com/papercomputeco/semsearch/pkg/lifecycle"
	"github.com/papercomputeco/semsearch/pkg/logger"
	"github.com/papercomputeco/semsearch/pkg/metrics"
)

const (
	DefaultIdleTimeout      = 10 * time.Minute
	DefaultRequestTimeout   = 2 * time.Minute
	DefaultConcurrency      = 1
	DefaultMaxConnections   = 64
	DefaultMetricsRetention = 30 * 24 * time.Hour

	minCheckInterval = 100 * time.Millisecond
	maxCheckInterval = 10 * time.Second
	dialTimeout      = 500 * time.Millisecond
)

// Config configures a Server.
type Config struct {
	Model     *Model
	Lifecycle *lifecycle.Manager

	// IdleTimeout stops the server after this long without requests. Zero
	// selects DefaultIdleTimeout, a negative value disables idle shutdown.
	IdleTimeout time.Duration

	RequestTimeout time.Duration

	// Concurrency is the number of inference calls allowed at once.
	Concurrency int64

	// MaxConnections bounds the connections served at once. Further
	// connections wait in the accept loop.
	MaxConnections int

	// Metrics is optional.
	Metrics          metrics.Recorder
	MetricsRetention time.Duration

	Version string
	Logger  *slog.Logger
}

// Server is the embedding daemon.
type Server struct {
	model   *Model
	lm      *lifecycle.Manager
	metrics metrics.Recorder
	logger  *slog.Logger
	sem     *semaphore.Weighted
	pool    *ants.Pool

	idleTimeout    time.Duration
	requestTimeout time.Duration
	retention      time.Duration
	concurrency    int64
	version        string
	startedAt      time.Time
	state          atomic.Int32
	lastActivity   atomic.Int64
	inflight       atomic.Int64
	served         atomic.Uint64
	ready          chan struct{}
	stop           chan struct{}
	stopOnce       sync.Once
	acceptDone     chan struct{}
	mu             sync.Mutex
	listener       net.Listener
	owner          *lifecycle.Lock
	conns          map[net.Conn]struct{}
	connsClosed    bool
	connWG         sync.WaitGroup
	ctx            context.Context
	cancel         context.CancelFunc
	closed         bool
}

// New validates cfg and builds a server. Nothing is bound until Listen.
func New(cfg Config) (*Server, error) {
	if cfg.Model == nil {
		return nil, errors.New("daemon requires a model")
	}
	if cfg.Lifecycle == nil {
		return nil, errors.New("daemon requires a lifecycle manager")
	}

	idle := cfg.IdleTimeout
	if idle == 0 {
		idle = DefaultIdleTimeout
	}
	reqTimeout := cfg.RequestTimeout
	if reqTimeout <= 0 {
		reqTimeout = DefaultRequestTimeout
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = DefaultMaxConnections
	}
	retention := cfg.MetricsRetention
	if retention <= 0 {
		retention = DefaultMetricsRetention
	}

	log := logger.OrNop(cfg.Logger)

	pool, err := ants.NewPool(maxConns,
		ants.WithPanicHandler(func(p any) {
			log.Error("connection handler panicked", "panic", p)
		}),
		ants.WithLogger(poolLogger{log}),
	)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		model:          cfg.Model,
		lm:             cfg.Lifecycle,
		metrics:        cfg.Metrics,
		logger:         log,
		sem:            semaphore.NewWeighted(concurrency),
		pool:           pool,
		idleTimeout:    idle,
		requestTimeout: reqTimeout,
		retention:      retention,
		concurrency:    concurrency,
		version:        cfg.Version,
		ready:          make(chan struct{}),
		stop:           make(chan struct{}),
		acceptDone:     make(chan struct{}),
		conns:          make(map[net.Conn]struct{}),
		ctx:            ctx,
		cancel:         cancel,
	}, nil
}

// State returns the current lifecycle stage.
func (s *Server) State() State {
	return State(s.state.Load())
}

// Ready is closed once the model has loaded and embed requests are served.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Listen claims the daemon endpoint: it takes the ownership lock, refuses to
// start when a live daemon answers on the socket, removes a stale socket,
// binds and writes the state file.
func (s *Server) Listen(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.listener != nil {
		return nil
	}

	owner, err := s.lm.TryOwn()
	if errors.Is(err, lifecycle.ErrLocked) {
		return ErrAlreadyRunning
	}
	if err != nil {
		return err
	}

	if peerAlive(ctx, s.lm.SocketPath) {
		_ = owner.Release()
		return ErrAlreadyRunning
	}
	if err := s.lm.RemoveSocket(); err != nil {
		_ = owner.Release()
		return err
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "unix", s.lm.SocketPath)
	if err != nil {
		_ = owner.Release()
		return fmt.Errorf("binding %s: %w", s.lm.SocketPath, err)
	}
	if err := os.Chmod(s.lm.SocketPath, 0o600); err != nil {
		_ = ln.Close()
		_ = owner.Release()
		return fmt.Errorf("restricting socket permissions: %w", err)
	}

	s.startedAt = time.Now()
	err = s.lm.SaveState(&lifecycle.State{
		PID:        os.Getpid(),
		Socket:     s.lm.SocketPath,
		ModelID:    s.model.ID(),
		Dimensions: s.model.Dimensions(),
		StartedAt:  s.startedAt,
	})
	if err != nil {
		_ = ln.Close()
		_ = s.lm.RemoveSocket()
		_ = owner.Release()
		return err
	}

	s.listener = ln
	s.owner = owner
	s.state.Store(int32(StateStarting))
	s.touch()

	s.logger.Info("embedding daemon listening",
		"socket", s.lm.SocketPath,
		"pid", os.Getpid(),
		"idle_timeout", s.idleTimeout,
		"concurrency", s.concurrency,
	)
	return nil
}

// Serve listens if needed, loads the model and serves until ctx is done, a
// shutdown request arrives or the idle timeout expires. Health requests are
// answered with "loading" while the model loads. A model that fails to load
// stops the server with ErrModelFault.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(ctx); err != nil {
		return err
	}

	if s.metrics != nil {
		removed, err := s.metrics.Cleanup(ctx, time.Now().Add(-s.retention))
		if err != nil {
			s.logger.Warn("metrics cleanup failed", "error", err)
		} else if removed > 0 {
			s.logger.Debug("removed expired metrics", "rows", removed)
		}
	}

	go s.acceptLoop()

	s.logger.Info("loading embedding model", "model", s.model.ID(), "dimensions", s.model.Dimensions())
	if err := s.model.Load(ctx); err != nil {
		if ctx.Err() != nil {
			s.shutdown()
			return nil
		}
		s.logger.Error("embedding model failed to load", "error", err)
		s.shutdown()
		return err
	}
	s.state.Store(int32(StateReady))
	close(s.ready)
	s.touch()
	s.logger.Info("embedding daemon ready", "model", s.model.ID(), "version", s.version)

	var ticks <-chan time.Time
	if s.idleTimeout > 0 {
		ticker := time.NewTicker(checkInterval(s.idleTimeout))
		defer ticker.Stop()
		ticks = ticker.C
	}

	var reason string
loop:
	for {
		select {
		case <-ctx.Done():
			reason = "context done"
			break loop
		case <-s.stop:
			reason = "shutdown requested"
			break loop
		case <-ticks:
			if s.idleExpired() {
				reason = "idle timeout"
				break loop
			}
		}
	}

	s.logger.Info("stopping embedding daemon", "reason", reason, "requests_served", s.served.Load())
	s.shutdown()
	return nil
}

// RequestStop asks a serving daemon to stop, as a shutdown request would.
func (s *Server) RequestStop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func checkInterval(idle time.Duration) time.Duration {
	return min(max(idle/10, minCheckInterval), maxCheckInterval)
}

func (s *Server) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *Server) idleFor() time.Duration {
	return time.Since(time.Unix(0, s.lastActivity.Load()))
}

func (s *Server) idleExpired() bool {
	return s.inflight.Load() == 0 && s.idleFor() >= s.idleTimeout
}

func (s *Server) acceptLoop() {
	defer close(s.acceptDone)

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		s.touch()

		if !s.track(conn) {
			_ = conn.Close()
			continue
		}

		if err := s.pool.Submit(func() { s.serveConn(conn) }); err != nil {
			s.logger.Warn("rejecting connection", "error", err)
			_ = ipc.WriteMessage(conn, ipc.ErrorResponse(ipc.ErrorUnavailable, "daemon busy: %v", err))
			s.untrack(conn)
			_ = conn.Close()
			s.connWG.Done()
		}
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connsClosed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.connWG.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connsClosed = true
	for conn := range s.conns {
		_ = conn.Close()
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.connWG.Done()
	defer s.untrack(conn)
	defer conn.Close()

	for {
		var req ipc.Request
		if err := ipc.ReadMessage(conn, &req); err != nil {
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				return
			case errors.Is(err, ipc.ErrMalformed):
				s.served.Add(1)
				if werr := ipc.WriteMessage(conn, ipc.ErrorResponse(ipc.ErrorInvalidRequest, "%v", err)); werr != nil {
					return
				}
				continue
			default:
				// The stream cannot be resynchronised after a framing error.
				s.logger.Debug("dropping connection", "error", err)
				_ = ipc.WriteMessage(conn, ipc.ErrorResponse(ipc.ErrorInvalidRequest, "%v", err))
				return
			}
		}

		s.inflight.Add(1)
		s.touch()
		resp := s.handle(&req)
		s.served.Add(1)
		s.touch()
		s.inflight.Add(-1)

		if err := ipc.WriteMessage(conn, resp); err != nil {
			s.logger.Debug("writing response failed", "error", err)
			return
		}
		if resp.Type == ipc.ResponseShutdownAck {
			s.RequestStop()
			return
		}
	}
}

func (s *Server) handle(req *ipc.Request) *ipc.Response {
	if err := req.Validate(); err != nil {
		return ipc.ErrorResponse(ipc.ErrorInvalidRequest, "%v", err)
	}

	switch req.Type {
	case ipc.RequestPing:
		return &ipc.Response{Type: ipc.ResponsePong}
	case ipc.RequestHealth:
		status := ipc.StatusLoading
		if s.State() == StateReady {
			status = ipc.StatusReady
		}
		return &ipc.Response{
			Type:       ipc.ResponseHealth,
			Status:     status,
			ModelID:    s.model.ID(),
			Dimensions: s.model.Dimensions(),
		}
	case ipc.RequestStatus:
		return s.status()
	case ipc.RequestShutdown:
		s.logger.Info("shutdown requested by client")
		return &ipc.Response{Type: ipc.ResponseShutdownAck}
	default:
		return s.embed(req)
	}
}

func (s *Server) status() *ipc.Response {
	resp := &ipc.Response{
		Type:           ipc.ResponseStatus,
		Status:         s.State().String(),
		ModelID:        s.model.ID(),
		Dimensions:     s.model.Dimensions(),
		PID:            os.Getpid(),
		UptimeSecs:     uint64(time.Since(s.startedAt).Seconds()),
		IdleSecs:       uint64(s.idleFor().Seconds()),
		RequestsServed: s.served.Load(),
	}
	if s.idleTimeout > 0 {
		resp.IdleTimeout = uint64(s.idleTimeout.Seconds())
	}

	if s.metrics != nil {
		ctx, cancel := context.WithTimeout(s.ctx, dialTimeout)
		defer cancel()
		summary, err := s.metrics.Summary(ctx, time.Now().Add(-s.retention))
		if err != nil {
			s.logger.Warn("reading metrics summary failed", "error", err)
		} else {
			resp.Metrics = &summary
		}
	}
	return resp
}

func (s *Server) embed(req *ipc.Request) *ipc.Response {
	if st := s.State(); st != StateReady {
		return ipc.ErrorResponse(ipc.ErrorUnavailable, "model is %s", st)
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.requestTimeout)
	defer cancel()

	start := time.Now()
	vecs, err := s.infer(ctx, req)
	latency := time.Since(start)

	s.record(req, latency, err)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			s.logger.Warn("embed request timed out", "texts", len(req.Texts), "timeout", s.requestTimeout)
			return ipc.ErrorResponse(ipc.ErrorInference, "inference timed out after %s", s.requestTimeout)
		}
		s.logger.Warn("embed request failed", "texts", len(req.Texts), "error", err)
		return ipc.ErrorResponse(ipc.ErrorInference, "%v", err)
	}

	s.logger.Debug("embedded texts",
		"texts", len(req.Texts),
		"kind", req.Kind,
		"latency", latency,
	)
	return &ipc.Response{Type: ipc.ResponseEmbed, Vectors: vecs}
}

func (s *Server) infer(ctx context.Context, req *ipc.Request) ([][]float32, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)
	return s.model.Embed(ctx, req.Texts, req.Kind)
}

func (s *Server) record(req *ipc.Request, latency time.Duration, err error) {
	if s.metrics == nil {
		return
	}
	entry := metrics.Entry{
		Kind:    string(req.Type),
		Texts:   len(req.Texts),
		Latency: latency,
		Success: err == nil,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if rerr := s.metrics.Record(context.Background(), entry); rerr != nil {
		s.logger.Warn("recording metrics failed", "error", rerr)
	}
}

// shutdown stops accepting, lets in-flight requests finish, then releases
// everything Listen and Serve acquired.
func (s *Server) shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ln := s.listener
	s.mu.Unlock()

	s.state.Store(int32(StateStopping))
	if ln != nil {
		_ = ln.Close()
	}

	deadline := time.Now().Add(s.requestTimeout + time.Second)
	for s.inflight.Load() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	s.cancel()

	s.closeConns()
	if ln != nil {
		<-s.acceptDone
	}
	s.connWG.Wait()
	s.pool.Release()

	if err := s.model.Close(); err != nil {
		s.logger.Warn("closing model failed", "error", err)
	}
	if s.metrics != nil {
		if err := s.metrics.Close(); err != nil {
			s.logger.Warn("closing metrics failed", "error", err)
		}
	}
	if err := s.lm.RemoveSocket(); err != nil {
		s.logger.Warn("removing socket failed", "error", err)
	}
	if err := s.lm.ClearState(); err != nil {
		s.logger.Warn("clearing state failed", "error", err)
	}
	if err := s.owner.Release(); err != nil {
		s.logger.Warn("releasing daemon lock failed", "error", err)
	}

	s.state.Store(int32(StateStopped))
	s.logger.Info("embedding daemon stopped")
}

// peerAlive reports whether a daemon answers a ping on path.
func peerAlive(ctx context.Context, path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}

	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return false
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(dialTimeout))

	if err := ipc.WriteMessage(conn, &ipc.Request{Type: ipc.RequestPing}); err != nil {
		return false
	}
	var resp ipc.Response
	if err := ipc.ReadMessage(conn, &resp); err != nil {
		return false
	}
	return resp.Type == ipc.ResponsePong
}

// poolLogger routes ants diagnostics into slog.
type poolLogger struct {
	l *slog.Logger
}

func (p poolLogger) Printf(format string, args ...any) {
	p.l.Debug(fmt.Sprintf(format, args...), "component", "conn-pool")
}
