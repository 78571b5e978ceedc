package domain

import (
	"errors"
	"time"
)

// ErrorID addresses an ErrorNode inside an ErrorChain.
type ErrorID string

// ErrorNode records one failed attempt of a logical call.
type ErrorNode struct {
	ID        ErrorID `json:"id"         db:"id"`
	CallID    string  `json:"call_id"    db:"call_id"`
	AttemptID string  `json:"attempt_id" db:"attempt_id"` // empty when no Attempt existed
	ServiceID string  `json:"service_id" db:"service_id"`
	Ordinal   int     `json:"ordinal"    db:"ordinal"`

	// ParentID is empty only for the chain root. ChildIDs is only populated
	// on the root.
	ParentID ErrorID   `json:"parent_id,omitempty" db:"parent_id"`
	ChildIDs []ErrorID `json:"child_ids,omitempty" db:"-"`

	URL         string `json:"url"          db:"url"`
	Step        Step   `json:"step"         db:"step"`
	Request     string `json:"request"      db:"request_snapshot"`
	Response    string `json:"response"     db:"response_snapshot"`
	MaxAttempts int    `json:"max_attempts" db:"max_attempts"`
	Detail      string `json:"detail"       db:"detail"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`

	cause error
}

// NewErrorNode builds a node for a fault in step. Detail is taken from err.
func NewErrorNode(step Step, err error) ErrorNode {
	if err == nil {
		err = errors.New("unknown error")
	}
	return ErrorNode{
		Step:      step,
		Detail:    err.Error(),
		CreatedAt: time.Now(),
		cause:     &StepError{Step: step, Err: err},
	}
}

// Retag returns a copy of n attributed to a different step and fault.
// Identity and linkage are kept.
func (n ErrorNode) Retag(step Step, err error) ErrorNode {
	r := NewErrorNode(step, err)
	n.Step = r.Step
	n.Detail = r.Detail
	n.cause = r.cause
	return n
}

// IsRoot reports whether the node is the first failure of its chain.
func (n ErrorNode) IsRoot() bool {
	return n.ParentID == ""
}

// Err returns the error the node was built from, tagged with its step.
// Nodes loaded from storage only carry Detail.
func (n ErrorNode) Err() error {
	if n.cause != nil {
		return n.cause
	}
	return &StepError{Step: n.Step, Err: errors.New(n.Detail)}
}
