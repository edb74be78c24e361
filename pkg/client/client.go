// Package client talks to the embedding daemon. It connects to a running
// daemon or starts one, waits for it to become ready and retries transient
// failures.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/papercomputeco/semsearch/pkg/ipc"
	"github.com/papercomputeco/semsearch/pkg/lifecycle"
	"github.com/papercomputeco/semsearch/pkg/logger"
	"github.com/papercomputeco/semsearch/pkg/retry"
)

const (
	DefaultReadyTimeout   = 60 * time.Second
	DefaultRequestTimeout = 150 * time.Second
	DefaultDialTimeout    = 2 * time.Second
	DefaultStopTimeout    = 10 * time.Second

	readyPollInterval = 100 * time.Millisecond
)

// Config configures a Client.
type Config struct {
	Lifecycle *lifecycle.Manager

	// Spawner starts the daemon. Defaults to re-executing this binary.
	Spawner Spawner

	// NoSpawn disables auto-start; calls fail with ErrDaemonUnavailable when
	// no daemon answers.
	NoSpawn bool

	ReadyTimeout   time.Duration
	RequestTimeout time.Duration
	DialTimeout    time.Duration
	StopTimeout    time.Duration

	// Retry governs transient failures. Zero value selects
	// retry.DefaultPolicy.
	Retry retry.Policy

	Logger *slog.Logger
}

// Client is safe for concurrent use. Requests share one connection and are
// sent one at a time.
type Client struct {
	lm             *lifecycle.Manager
	spawner        Spawner
	noSpawn        bool
	readyTimeout   time.Duration
	requestTimeout time.Duration
	dialTimeout    time.Duration
	stopTimeout    time.Duration
	policy         retry.Policy
	logger         *slog.Logger

	mu   sync.Mutex
	conn net.Conn
}

func New(cfg Config) (*Client, error) {
	if cfg.Lifecycle == nil {
		return nil, errors.New("client requires a lifecycle manager")
	}

	c := &Client{
		lm:             cfg.Lifecycle,
		spawner:        cfg.Spawner,
		noSpawn:        cfg.NoSpawn,
		readyTimeout:   orDefault(cfg.ReadyTimeout, DefaultReadyTimeout),
		requestTimeout: orDefault(cfg.RequestTimeout, DefaultRequestTimeout),
		dialTimeout:    orDefault(cfg.DialTimeout, DefaultDialTimeout),
		stopTimeout:    orDefault(cfg.StopTimeout, DefaultStopTimeout),
		policy:         cfg.Retry,
		logger:         logger.OrNop(cfg.Logger),
	}
	if c.policy.MaxAttempts == 0 {
		c.policy = retry.DefaultPolicy()
	}

	if c.spawner == nil && !c.noSpawn {
		spawner, err := SelfSpawner(c.lm.Dir, c.lm.LogPath)
		if err != nil {
			return nil, err
		}
		c.spawner = spawner
	}

	return c, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Embed returns one vector per text, in order. Batches larger than the
// protocol limit are split into several requests.
func (c *Client) Embed(ctx context.Context, texts []string, kind ipc.Kind) ([][]float32, error) {
	if kind != ipc.KindQuery && kind != ipc.KindDocument {
		return nil, fmt.Errorf("%w: unknown instruction kind %q", ErrInvalidRequest, kind)
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += ipc.MaxBatchTexts {
		end := min(start+ipc.MaxBatchTexts, len(texts))
		vecs, err := c.embedBatch(ctx, texts[start:end], kind)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// EmbedQuery embeds a single search query.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.Embed(ctx, []string{text}, ipc.KindQuery)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedDocuments embeds document texts.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return c.Embed(ctx, texts, ipc.KindDocument)
}

func (c *Client) embedBatch(ctx context.Context, texts []string, kind ipc.Kind) ([][]float32, error) {
	req := ipc.EmbedRequest(texts, kind)

	vecs, err := retry.DoValue(ctx, c.policy, func(ctx context.Context) ([][]float32, error) {
		if err := c.EnsureRunning(ctx); err != nil {
			return nil, err
		}

		resp, err := c.roundTrip(ctx, req)
		if err != nil {
			return nil, err
		}
		if err := classify(resp); err != nil {
			return nil, err
		}
		if resp.Type != ipc.ResponseEmbed {
			return nil, fmt.Errorf("unexpected %q response to embed", resp.Type)
		}
		if len(resp.Vectors) != len(texts) {
			return nil, retry.Permanent(fmt.Errorf("%w: daemon returned %d vectors for %d texts",
				ErrInference, len(resp.Vectors), len(texts)))
		}
		return resp.Vectors, nil
	}, func(attempt int, delay time.Duration, err error) {
		c.logger.Debug("retrying embed request",
			"attempt", attempt,
			"delay", delay,
			"texts", len(texts),
			"error", err,
		)
	})
	if err != nil {
		return nil, surface(ctx, err)
	}
	return vecs, nil
}

// classify maps a daemon error response onto the client's errors. Model and
// request faults are permanent; an unavailable daemon is worth retrying.
func classify(resp *ipc.Response) error {
	var remote *ipc.RemoteError
	if err := resp.Err(); errors.As(err, &remote) {
		switch remote.Kind {
		case ipc.ErrorInvalidRequest:
			return retry.Permanent(fmt.Errorf("%w: %s", ErrInvalidRequest, remote.Message))
		case ipc.ErrorInference:
			return retry.Permanent(fmt.Errorf("%w: %s", ErrInference, remote.Message))
		default:
			return fmt.Errorf("%w: %s", ErrDaemonUnavailable, remote.Message)
		}
	}
	return nil
}

func surface(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return err
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInference), errors.Is(err, ErrDaemonUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
	}
}

// EnsureRunning returns once a ready daemon answers on the socket, starting
// one when none does. Concurrent callers serialise on the spawn lock so that
// only one of them starts a daemon.
func (c *Client) EnsureRunning(ctx context.Context) error {
	if status, err := c.ping(ctx); err == nil && status == ipc.StatusReady {
		return nil
	}
	if c.noSpawn {
		return fmt.Errorf("%w: %w", ErrDaemonUnavailable, ErrNotRunning)
	}

	lock, err := c.lm.Lock()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
	}
	defer func() { _ = lock.Release() }()

	var exited <-chan error
	status, err := c.ping(ctx)
	switch {
	case err == nil && status == ipc.StatusReady:
		return nil
	case err == nil:
		c.logger.Debug("embedding daemon is loading, waiting")
	default:
		c.logger.Info("starting embedding daemon", "socket", c.lm.SocketPath)
		exited, err = c.spawner.Spawn(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
		}
	}

	return c.waitReady(ctx, exited)
}

// waitReady polls health until the daemon reports ready. Socket directory
// events wake it early; a ticker covers filesystems without notifications.
// A spawned daemon that exits first fails the wait at once with a permanent
// error.
func (c *Client) waitReady(ctx context.Context, exited <-chan error) error {
	deadline := time.NewTimer(c.readyTimeout)
	defer deadline.Stop()

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	var events chan fsnotify.Event
	if watcher, err := fsnotify.NewWatcher(); err != nil {
		c.logger.Debug("socket watch unavailable", "error", err)
	} else {
		defer watcher.Close()
		if err := watcher.Add(c.lm.Dir); err != nil {
			c.logger.Debug("socket watch unavailable", "error", err)
		} else {
			events = watcher.Events
		}
	}

	for {
		if status, err := c.ping(ctx); err == nil && status == ipc.StatusReady {
			c.logger.Debug("embedding daemon ready")
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w: not ready after %s, see %s", ErrDaemonUnavailable, c.readyTimeout, c.lm.LogPath)
		case exitErr := <-exited:
			// Another daemon may have won the socket while ours shut down.
			if status, err := c.ping(ctx); err == nil && status == ipc.StatusReady {
				return nil
			}
			if exitErr == nil {
				exitErr = errors.New("exited without error")
			}
			c.logger.Error("embedding daemon exited during startup", "error", exitErr, "log", c.lm.LogPath)
			return retry.Permanent(fmt.Errorf("%w: %w: %v, see %s",
				ErrDaemonUnavailable, ErrDaemonExited, exitErr, c.lm.LogPath))
		case <-ticker.C:
		case <-events:
		}
	}
}

// ping asks for health on a fresh connection and returns the reported
// status.
func (c *Client) ping(ctx context.Context) (string, error) {
	resp, err := c.oneShot(ctx, &ipc.Request{Type: ipc.RequestHealth}, c.dialTimeout)
	if err != nil {
		return "", err
	}
	if err := resp.Err(); err != nil {
		return "", err
	}
	return resp.Status, nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: c.dialTimeout}
	return d.DialContext(ctx, "unix", c.lm.SocketPath)
}

// oneShot sends req on its own connection.
func (c *Client) oneShot(ctx context.Context, req *ipc.Request, timeout time.Duration) (*ipc.Response, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return exchange(ctx, conn, req, timeout)
}

// roundTrip sends req on the shared connection, dialling when needed. The
// connection is dropped after any I/O error.
func (c *Client) roundTrip(ctx context.Context, req *ipc.Request) (*ipc.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		conn, err := c.dial(ctx)
		if err != nil {
			return nil, err
		}
		c.conn = conn
	}

	resp, err := exchange(ctx, c.conn, req, c.requestTimeout)
	if err != nil {
		_ = c.conn.Close()
		c.conn = nil
		return nil, err
	}
	return resp, nil
}

func exchange(ctx context.Context, conn net.Conn, req *ipc.Request, timeout time.Duration) (*ipc.Response, error) {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := ipc.WriteMessage(conn, req); err != nil {
		return nil, contextErr(ctx, err)
	}
	resp := &ipc.Response{}
	if err := ipc.ReadMessage(conn, resp); err != nil {
		return nil, contextErr(ctx, err)
	}
	return resp, nil
}

func contextErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// Ping checks that a daemon answers. It never spawns.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.control(ctx, ipc.RequestPing)
	if err != nil {
		return err
	}
	if resp.Type != ipc.ResponsePong {
		return fmt.Errorf("unexpected %q response to ping", resp.Type)
	}
	return nil
}

// Health returns the daemon's health response. It never spawns.
func (c *Client) Health(ctx context.Context) (*ipc.Response, error) {
	return c.control(ctx, ipc.RequestHealth)
}

// Status returns the daemon's status response. It never spawns.
func (c *Client) Status(ctx context.Context) (*ipc.Response, error) {
	return c.control(ctx, ipc.RequestStatus)
}

// IsRunning reports whether a daemon answers on the socket.
func (c *Client) IsRunning(ctx context.Context) bool {
	return c.Ping(ctx) == nil
}

func (c *Client) control(ctx context.Context, typ ipc.RequestType) (*ipc.Response, error) {
	resp, err := c.oneShot(ctx, &ipc.Request{Type: typ}, c.dialTimeout+c.requestTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrNotRunning, err)
	}
	if err := classify(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Shutdown asks the daemon to stop and waits for its socket to go away.
func (c *Client) Shutdown(ctx context.Context) error {
	resp, err := c.control(ctx, ipc.RequestShutdown)
	if err != nil {
		return err
	}
	if resp.Type != ipc.ResponseShutdownAck {
		return fmt.Errorf("unexpected %q response to shutdown", resp.Type)
	}
	c.closeConn()
	return c.waitGone(ctx)
}

// Stop shuts the daemon down gracefully, falling back to SIGTERM on the pid
// recorded in the state file. Stopping a daemon that is not running is not
// an error.
func (c *Client) Stop(ctx context.Context) error {
	err := c.Shutdown(ctx)
	if err == nil {
		return nil
	}
	c.logger.Debug("graceful shutdown failed", "error", err)

	state, serr := c.lm.LoadState()
	if serr != nil {
		return serr
	}
	if state == nil || !lifecycle.ProcessAlive(state.PID) {
		if errors.Is(err, ErrNotRunning) {
			_ = c.lm.ClearState()
			_ = c.lm.RemoveSocket()
			return nil
		}
		return err
	}

	// An in-process daemon shares our pid.
	if state.PID == os.Getpid() {
		return err
	}

	c.logger.Info("sending SIGTERM to embedding daemon", "pid", state.PID)
	if err := syscall.Kill(state.PID, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("signalling daemon: %w", err)
	}
	return c.waitGone(ctx)
}

// waitGone waits until nothing answers on the socket.
func (c *Client) waitGone(ctx context.Context) error {
	deadline := time.NewTimer(c.stopTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		if _, err := os.Stat(c.lm.SocketPath); errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if _, err := c.ping(ctx); err != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("daemon still running after %s", c.stopTimeout)
		case <-ticker.C:
		}
	}
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Close releases the shared connection. The daemon keeps running.
func (c *Client) Close() error {
	c.closeConn()
	return nil
}
