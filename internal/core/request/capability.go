package request

import "context"

// Call is what the pipeline hands to a Requester for one attempt.
type Call struct {
	Service string
	Verb    string
	URL     string
	Query   string
	Body    any
	Headers []Header
	Options []TransportOption
}

// Requester performs the transport for one attempt. It may return a
// partially populated result together with an error.
type Requester interface {
	Do(ctx context.Context, call Call) (any, error)
}

// RequesterFunc adapts a function to the Requester interface.
type RequesterFunc func(ctx context.Context, call Call) (any, error)

// Do calls f(ctx, call).
func (f RequesterFunc) Do(ctx context.Context, call Call) (any, error) {
	return f(ctx, call)
}

// ValidateFunc inspects a raw result. Returning false rejects it.
type ValidateFunc func(raw any) (bool, error)

// ParseFunc turns a raw result into a domain value.
type ParseFunc func(raw any) (any, error)

// HookFunc runs when a call finishes (after-success / after-error).
type HookFunc func(value any) any

// AcceptAll is the default validator.
func AcceptAll(any) (bool, error) { return true, nil }

// Identity is the default parser.
func Identity(raw any) (any, error) { return raw, nil }

// Passthrough is the default after-success / after-error hook.
func Passthrough(value any) any { return value }
