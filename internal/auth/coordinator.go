// Package auth serializes logins against an upstream identity service and
// caches their results per credential key.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/vietddude/invoker/internal/metrics"
)

// DefaultTimeout bounds how long a caller waits for its login turn.
const DefaultTimeout = 10 * time.Second

var (
	// ErrLoginTimeout is returned when a login is not served in time.
	ErrLoginTimeout = errors.New("login timed out")

	// ErrCoordinatorStopped is returned once the worker has exited.
	ErrCoordinatorStopped = errors.New("auth coordinator stopped")
)

// Delegate owns key derivation and all freshness policy of login results.
type Delegate[C, R any] interface {
	// CacheKey derives the cache key of a credential.
	CacheKey(creds C) string

	// RequestLogon returns a fresh or revalidated login result. cached is
	// the stored entry for the key when found is true.
	RequestLogon(ctx context.Context, creds C, cached R, found bool) (R, error)
}

type opKind int

const (
	opLogin opKind = iota
	opForget
)

type job[C, R any] struct {
	kind  opKind
	creds C
	reply chan reply[R]
}

type reply[R any] struct {
	result R
	err    error
}

// Coordinator owns the login cache. A single worker goroutine (Start)
// serves every request in arrival order, so at most one RequestLogon is in
// flight at any time.
type Coordinator[C, R any] struct {
	delegate Delegate[C, R]
	timeout  time.Duration
	log      *slog.Logger

	jobs    chan job[C, R]
	done    chan struct{}
	running atomic.Bool
	size    atomic.Int64

	// cache is only touched by the worker goroutine.
	cache map[string]R
}

// Option configures a Coordinator.
type Option func(*options)

type options struct {
	timeout time.Duration
	queue   int
	log     *slog.Logger
}

// WithTimeout sets how long callers wait for their turn and for the
// delegate.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithQueueSize sets how many requests may wait for the worker.
func WithQueueSize(n int) Option {
	return func(o *options) { o.queue = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// NewCoordinator creates a coordinator. Call Start to begin serving.
func NewCoordinator[C, R any](delegate Delegate[C, R], opts ...Option) *Coordinator[C, R] {
	o := options{
		timeout: DefaultTimeout,
		queue:   64,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Coordinator[C, R]{
		delegate: delegate,
		timeout:  o.timeout,
		log:      o.log,
		jobs:     make(chan job[C, R], o.queue),
		done:     make(chan struct{}),
		cache:    make(map[string]R),
	}
}

// Start runs the worker until ctx is cancelled. It blocks.
func (c *Coordinator[C, R]) Start(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("auth coordinator already running")
	}
	defer close(c.done)

	c.log.Info("Auth coordinator started", "timeout", c.timeout)
	for {
		select {
		case <-ctx.Done():
			c.log.Info("Auth coordinator stopped")
			return nil
		case j := <-c.jobs:
			c.serve(ctx, j)
		}
	}
}

func (c *Coordinator[C, R]) serve(ctx context.Context, j job[C, R]) {
	key := c.delegate.CacheKey(j.creds)

	if j.kind == opForget {
		delete(c.cache, key)
		c.publishSize()
		j.reply <- reply[R]{}
		return
	}

	cached, found := c.cache[key]

	logonCtx, cancel := context.WithTimeout(ctx, c.timeout)
	result, err := c.logon(logonCtx, j.creds, cached, found)
	cancel()

	if err != nil {
		metrics.LoginsTotal.WithLabelValues("error").Inc()
		c.log.Warn("Login failed", "key", key, "cached", found, "error", err)
		j.reply <- reply[R]{err: fmt.Errorf("login %s: %w", key, err)}
		return
	}

	c.cache[key] = result
	c.publishSize()
	metrics.LoginsTotal.WithLabelValues("ok").Inc()
	c.log.Debug("Login served", "key", key, "cached", found)

	// reply is buffered; an abandoned caller never blocks the worker.
	j.reply <- reply[R]{result: result}
}

func (c *Coordinator[C, R]) logon(ctx context.Context, creds C, cached R, found bool) (result R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("request logon panicked: %v", r)
		}
	}()
	return c.delegate.RequestLogon(ctx, creds, cached, found)
}

func (c *Coordinator[C, R]) publishSize() {
	c.size.Store(int64(len(c.cache)))
	metrics.LoginCacheEntries.Set(float64(len(c.cache)))
}

// Login returns the login result for creds, waiting for its serialized
// turn. It fails with ErrLoginTimeout if not served within the timeout.
func (c *Coordinator[C, R]) Login(ctx context.Context, creds C) (R, error) {
	return c.submit(ctx, opLogin, creds)
}

// Forget evicts the cached entry for creds.
func (c *Coordinator[C, R]) Forget(ctx context.Context, creds C) error {
	_, err := c.submit(ctx, opForget, creds)
	return err
}

// Len returns the number of cached login results.
func (c *Coordinator[C, R]) Len() int {
	return int(c.size.Load())
}

func (c *Coordinator[C, R]) submit(ctx context.Context, kind opKind, creds C) (R, error) {
	var zero R

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	j := job[C, R]{kind: kind, creds: creds, reply: make(chan reply[R], 1)}

	select {
	case c.jobs <- j:
	case <-c.done:
		return zero, ErrCoordinatorStopped
	case <-timer.C:
		metrics.LoginsTotal.WithLabelValues("timeout").Inc()
		return zero, fmt.Errorf("%w after %v", ErrLoginTimeout, c.timeout)
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case r := <-j.reply:
		return r.result, r.err
	case <-c.done:
		select {
		case r := <-j.reply:
			return r.result, r.err
		default:
			return zero, ErrCoordinatorStopped
		}
	case <-timer.C:
		metrics.LoginsTotal.WithLabelValues("timeout").Inc()
		return zero, fmt.Errorf("%w after %v", ErrLoginTimeout, c.timeout)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
