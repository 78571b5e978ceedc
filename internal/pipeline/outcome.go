package pipeline

import (
	"errors"
	"fmt"

	"github.com/vietddude/invoker/internal/core/domain"
)

var (
	// ErrRejected is recorded when a validator returns false.
	ErrRejected = errors.New("result rejected by validator")

	// ErrNoRequester is recorded when a call has no transport capability.
	ErrNoRequester = errors.New("no requester configured")

	// ErrPanic is recorded when a capability or the orchestration panics.
	ErrPanic = errors.New("panic")
)

// Outcome is the result of one attempt or of a whole call. It is one of
// Success, RetryableFailure or TerminalFailure.
type Outcome interface {
	isOutcome()
}

// Success ends a call. Chain holds the failures that preceded it, if any.
type Success struct {
	Value   any
	Attempt domain.Attempt
	Chain   *domain.ErrorChain
}

// RetryableFailure is produced by a failed attempt; the finalize step
// decides whether another attempt follows.
type RetryableFailure struct {
	Node domain.ErrorNode
}

// TerminalFailure ends a call without success.
type TerminalFailure struct {
	// Value is what the after-error hook returned.
	Value any
	// Raw is the most recent raw result any attempt obtained, nil if none.
	Raw   any
	Chain *domain.ErrorChain
	Err   *CallError
}

func (Success) isOutcome()          {}
func (RetryableFailure) isOutcome() {}
func (TerminalFailure) isOutcome()  {}

// CallError is returned for a call that exhausted its attempts. It carries
// the complete error chain.
type CallError struct {
	Service     string
	CallID      string
	Attempts    int
	Chain       *domain.ErrorChain
	Interrupted error // context error that cut the retry wait short
}

func (e *CallError) Error() string {
	msg := fmt.Sprintf("call %s to %s failed after %d attempts", e.CallID, e.Service, e.Attempts)
	if last, ok := e.Chain.Last(); ok {
		msg = fmt.Sprintf("%s: %s: %s", msg, last.Step, last.Detail)
	}
	if e.Interrupted != nil {
		msg = fmt.Sprintf("%s (interrupted: %v)", msg, e.Interrupted)
	}
	return msg
}

// Unwrap exposes the error of every node in the chain.
func (e *CallError) Unwrap() []error {
	errs := e.Chain.Errors()
	if e.Interrupted != nil {
		errs = append(errs, e.Interrupted)
	}
	return errs
}
