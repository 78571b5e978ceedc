// Package pipeline drives one logical call through
// request → validate → parse → persist → finalize, retrying failed
// attempts within the configured budget.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/vietddude/invoker/internal/core/domain"
	"github.com/vietddude/invoker/internal/core/request"
	"github.com/vietddude/invoker/internal/logsink"
	"github.com/vietddude/invoker/internal/metrics"
)

// Persister stores attempts and error nodes.
type Persister interface {
	PersistAttempt(ctx context.Context, a domain.Attempt) error
	PersistError(ctx context.Context, n domain.ErrorNode) error
}

type nopPersister struct{}

func (nopPersister) PersistAttempt(context.Context, domain.Attempt) error { return nil }
func (nopPersister) PersistError(context.Context, domain.ErrorNode) error { return nil }

// Executor runs logical calls. It holds no per-call state and is safe for
// concurrent use.
type Executor struct {
	sink      logsink.Sink
	persister Persister
	clock     Clock
	log       *slog.Logger
	newID     func() string
}

// Option configures an Executor.
type Option func(*Executor)

// WithSink sets the traffic/error sink.
func WithSink(s logsink.Sink) Option {
	return func(e *Executor) { e.sink = s }
}

// WithPersister sets where attempts and error nodes are stored.
func WithPersister(p Persister) Option {
	return func(e *Executor) { e.persister = p }
}

// WithClock sets the clock used for retry sleeps. Useful for testing.
func WithClock(c Clock) Option {
	return func(e *Executor) { e.clock = c }
}

// WithLogger sets the logger for orchestration messages.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.log = l }
}

// NewExecutor creates an Executor. Without options it logs traffic via
// slog.Default and persists nothing.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		sink:      logsink.NewSlogSink(nil),
		persister: nopPersister{},
		clock:     realClock{},
		log:       slog.Default(),
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// callState is threaded through every attempt of one logical call.
type callState struct {
	callID      string
	retries     int
	maxAttempts int
	chain       *domain.ErrorChain
	lastRaw     any
}

// Call runs cfg and returns the after-success value, or the after-error
// value together with a *CallError.
func (e *Executor) Call(ctx context.Context, cfg request.Config) (any, error) {
	switch o := e.Run(ctx, cfg).(type) {
	case Success:
		return o.Value, nil
	case TerminalFailure:
		return o.Value, o.Err
	default:
		return nil, fmt.Errorf("unexpected outcome %T", o)
	}
}

// Run executes the logical call described by cfg. The returned Outcome is
// either Success or TerminalFailure.
func (e *Executor) Run(ctx context.Context, cfg request.Config) Outcome {
	start := e.clock.Now()
	cfg = withDefaultHooks(cfg)

	st := &callState{
		callID:      e.newID(),
		retries:     max(cfg.Behavior.Retries, 0),
		maxAttempts: cfg.MaxAttempts(),
	}
	st.chain = domain.NewErrorChain(st.callID)

	defer func() {
		metrics.CallLatency.WithLabelValues(cfg.Service).Observe(e.clock.Now().Sub(start).Seconds())
	}()

	for ordinal := 1; ; ordinal++ {
		switch o := e.attempt(ctx, cfg, st, ordinal).(type) {
		case Success:
			o.Value = cfg.Behavior.AfterSuccess(o.Value)
			o.Chain = st.chain
			metrics.CallsTotal.WithLabelValues(cfg.Service, "success").Inc()
			return o

		case RetryableFailure:
			if !o.Node.Step.Retryable() || !e.shouldRetry(st, ordinal) {
				return e.terminate(cfg, st, ordinal, nil)
			}

			e.log.Debug("Retrying service call",
				"service", cfg.Service,
				"call_id", st.callID,
				"failed_attempt", ordinal,
				"step", string(o.Node.Step),
				"delay", cfg.Behavior.Sleep,
			)
			if err := e.clock.Sleep(ctx, cfg.Behavior.Sleep); err != nil {
				return e.terminate(cfg, st, ordinal, err)
			}

		default:
			return e.terminate(cfg, st, ordinal, fmt.Errorf("unexpected outcome %T", o))
		}
	}
}

// shouldRetry is the finalize decision after attempt ordinal failed: the
// first attempt is not a retry, so retry number ordinal is allowed while it
// stays within the budget.
func (e *Executor) shouldRetry(st *callState, ordinal int) bool {
	return ordinal <= st.retries
}

func (e *Executor) terminate(cfg request.Config, st *callState, attempts int, interrupted error) TerminalFailure {
	callErr := &CallError{
		Service:     cfg.Service,
		CallID:      st.callID,
		Attempts:    attempts,
		Chain:       st.chain,
		Interrupted: interrupted,
	}

	e.log.Warn("Service call failed",
		"service", cfg.Service,
		"call_id", st.callID,
		"attempts", attempts,
		"errors", st.chain.Len(),
	)
	metrics.CallsTotal.WithLabelValues(cfg.Service, "failure").Inc()

	return TerminalFailure{
		Value: cfg.Behavior.AfterError(st.lastRaw),
		Raw:   st.lastRaw,
		Chain: st.chain,
		Err:   callErr,
	}
}

// attempt runs one pass of request → validate → parse → persist.
func (e *Executor) attempt(ctx context.Context, cfg request.Config, st *callState, ordinal int) (out Outcome) {
	var att *domain.Attempt
	defer func() {
		if r := recover(); r != nil {
			out = e.fail(ctx, cfg, st, ordinal, att, domain.StepUnexpected, fmt.Errorf("%w: %v", ErrPanic, r), nil)
		}
	}()

	b := cfg.Behavior
	if b.Requester == nil {
		return e.fail(ctx, cfg, st, ordinal, nil, domain.StepUnexpected, ErrNoRequester, nil)
	}

	att = &domain.Attempt{
		ID:          e.newID(),
		CallID:      st.callID,
		ServiceID:   cfg.Service,
		Ordinal:     ordinal,
		PriorErrors: st.chain.Len(),
		StartedAt:   e.clock.Now(),
	}

	// 1. Request
	raw, err := guard(func() (any, error) { return b.Requester.Do(ctx, cfg.Call()) })
	att.Result = raw
	if err != nil {
		return e.fail(ctx, cfg, st, ordinal, att, domain.StepRequest, err, raw)
	}
	st.lastRaw = raw
	if b.LogEnabled {
		e.sink.Record(cfg.Service, logsink.Verbose(raw), b.LogLevel)
	}

	// 2. Validate
	ok, err := guard(func() (bool, error) { return b.Validate(raw) })
	if err == nil && !ok {
		err = ErrRejected
	}
	if err != nil {
		return e.fail(ctx, cfg, st, ordinal, att, domain.StepValidate, err, raw)
	}

	// 3. Parse
	value, err := guard(func() (any, error) { return b.Parse(raw) })
	if err != nil {
		return e.fail(ctx, cfg, st, ordinal, att, domain.StepParse, err, raw)
	}
	att.Result = value

	// 4. Persist
	att.SuccessCount = 1
	att.FinishedAt = e.clock.Now()
	if _, err := guard(func() (struct{}, error) {
		return struct{}{}, e.persister.PersistAttempt(ctx, *att)
	}); err != nil {
		att.SuccessCount = 0
		return e.fail(ctx, cfg, st, ordinal, att, domain.StepPersistAttempt, err, value)
	}

	metrics.AttemptsTotal.WithLabelValues(cfg.Service, "success").Inc()
	return Success{Value: value, Attempt: *att}
}

// fail materializes a fault as an ErrorNode, persists it and links it into
// the chain.
func (e *Executor) fail(
	ctx context.Context,
	cfg request.Config,
	st *callState,
	ordinal int,
	att *domain.Attempt,
	step domain.Step,
	err error,
	partial any,
) Outcome {
	node := domain.NewErrorNode(step, err)
	node.ID = domain.ErrorID(e.newID())
	node.ServiceID = cfg.Service
	node.Ordinal = ordinal
	node.URL = cfg.FullURL()
	node.Request = logsink.Verbose(snapshot(cfg))
	node.Response = logsink.Verbose(partial)
	node.MaxAttempts = st.maxAttempts
	node.CreatedAt = e.clock.Now()
	if att != nil {
		node.AttemptID = att.ID
	}
	node = st.chain.Link(node)

	if _, perr := guard(func() (struct{}, error) {
		return struct{}{}, e.persister.PersistError(ctx, node)
	}); perr != nil {
		node = node.Retag(domain.StepPersistError, errors.Join(err, perr))
	}

	stored, addErr := st.chain.Add(node)
	if addErr != nil {
		// Ordinals are generated by Run; this only fires on a logic error.
		e.log.Error("Failed to link error node", "call_id", st.callID, "error", addErr)
		stored = node
	}

	e.sink.RecordError(cfg.Service, stored.Step, stored.Err(), stored.Response)
	metrics.AttemptsTotal.WithLabelValues(cfg.Service, "failure").Inc()
	metrics.StepErrorsTotal.WithLabelValues(cfg.Service, string(stored.Step)).Inc()

	return RetryableFailure{Node: stored}
}

// guard runs fn, turning a panic into an error.
func guard[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return fn()
}

func withDefaultHooks(cfg request.Config) request.Config {
	b := cfg.Behavior
	if b.Validate == nil {
		b.Validate = request.AcceptAll
	}
	if b.Parse == nil {
		b.Parse = request.Identity
	}
	if b.AfterSuccess == nil {
		b.AfterSuccess = request.Passthrough
	}
	if b.AfterError == nil {
		b.AfterError = request.Passthrough
	}
	cfg.Behavior = b
	return cfg
}

// snapshot is the request view stored on error nodes.
func snapshot(cfg request.Config) map[string]any {
	headers := make([]string, 0, len(cfg.Headers))
	for _, h := range cfg.Headers {
		value := h.Value
		if strings.EqualFold(h.Key, "Authorization") {
			value = "***"
		}
		headers = append(headers, h.Key+": "+value)
	}
	return map[string]any{
		"service": cfg.Service,
		"verb":    cfg.Verb,
		"url":     cfg.FullURL(),
		"headers": headers,
		"body":    logsink.Verbose(cfg.Body),
	}
}
