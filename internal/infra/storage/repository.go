// Package storage defines the audit repositories that persist attempts and
// error chains of logical calls.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/vietddude/invoker/internal/core/domain"
)

var (
	// ErrCallNotFound is returned when nothing was recorded for a call id.
	ErrCallNotFound = errors.New("call not found")
)

// AttemptRepository handles attempt storage operations
type AttemptRepository interface {
	// PersistAttempt saves an attempt
	PersistAttempt(ctx context.Context, attempt domain.Attempt) error

	// ListAttempts retrieves the attempts of a call ordered by ordinal
	ListAttempts(ctx context.Context, callID string) ([]domain.Attempt, error)
}

// ErrorRepository handles error node storage operations.
//
// Nodes are written once, before the chain links later failures to them,
// so stores keep ParentID but never ChildIDs. Use LoadChain to get a root
// with its children.
type ErrorRepository interface {
	// PersistError saves an error node without its ChildIDs
	PersistError(ctx context.Context, node domain.ErrorNode) error

	// ListErrors retrieves the error nodes of a call ordered by ordinal
	ListErrors(ctx context.Context, callID string) ([]domain.ErrorNode, error)

	// GetErrors retrieves error nodes by id, in no particular order
	GetErrors(ctx context.Context, ids []domain.ErrorID) ([]domain.ErrorNode, error)
}

// AuditRepository is the full audit trail store used by the pipeline.
type AuditRepository interface {
	AttemptRepository
	ErrorRepository

	// Health checks the backing store
	Health(ctx context.Context) error

	Close() error
}

// RetentionRepository deletes expired calls. A call expires once its
// newest attempt or error node is older than the threshold.
type RetentionRepository interface {
	// DeleteOlderThan deletes expired calls and returns the number of
	// records removed
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// LoadChain rebuilds the error chain of a call from its persisted nodes.
func LoadChain(ctx context.Context, repo ErrorRepository, callID string) (*domain.ErrorChain, error) {
	nodes, err := repo.ListErrors(ctx, callID)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrCallNotFound, callID)
	}

	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].Ordinal < nodes[j].Ordinal })

	chain := domain.NewErrorChain(callID)
	for _, n := range nodes {
		if _, err := chain.Add(n); err != nil {
			return nil, fmt.Errorf("rebuild chain %s: %w", callID, err)
		}
	}
	return chain, nil
}
