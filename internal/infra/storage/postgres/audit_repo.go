package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/vietddude/invoker/internal/core/domain"
)

// AuditRepo implements storage.AuditRepository using PostgreSQL.
type AuditRepo struct {
	db *DB
}

// NewAuditRepo creates a new PostgreSQL audit repository.
func NewAuditRepo(db *DB) *AuditRepo {
	return &AuditRepo{db: db}
}

type attemptRow struct {
	domain.Attempt
	ResultJSON []byte       `db:"result"`
	Finished   sql.NullTime `db:"finished"`
}

// PersistAttempt saves an attempt, replacing an earlier state of the same id.
func (r *AuditRepo) PersistAttempt(ctx context.Context, a domain.Attempt) error {
	var result []byte
	if a.Result != nil {
		data, err := json.Marshal(a.Result)
		if err != nil {
			return fmt.Errorf("failed to marshal attempt result: %w", err)
		}
		result = data
	}

	var finished sql.NullTime
	if !a.FinishedAt.IsZero() {
		finished = sql.NullTime{Time: a.FinishedAt, Valid: true}
	}

	query := `
		INSERT INTO call_attempts (id, call_id, service_id, ordinal, success_count, prior_errors, result, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			success_count = EXCLUDED.success_count,
			prior_errors = EXCLUDED.prior_errors,
			result = EXCLUDED.result,
			finished_at = EXCLUDED.finished_at
	`
	_, err := r.db.ExecContext(
		ctx,
		query,
		a.ID,
		a.CallID,
		a.ServiceID,
		a.Ordinal,
		a.SuccessCount,
		a.PriorErrors,
		result,
		a.StartedAt,
		finished,
	)
	if err != nil {
		return fmt.Errorf("failed to persist attempt: %w", err)
	}
	return nil
}

// ListAttempts returns the attempts of a call ordered by ordinal.
func (r *AuditRepo) ListAttempts(ctx context.Context, callID string) ([]domain.Attempt, error) {
	query := `
		SELECT id, call_id, service_id, ordinal, success_count, prior_errors, result,
		       started_at, finished_at AS finished
		FROM call_attempts
		WHERE call_id = $1
		ORDER BY ordinal ASC
	`

	var rows []attemptRow
	if err := r.db.SelectContext(ctx, &rows, query, callID); err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}

	attempts := make([]domain.Attempt, 0, len(rows))
	for _, row := range rows {
		a := row.Attempt
		if len(row.ResultJSON) > 0 {
			a.Result = json.RawMessage(row.ResultJSON)
		}
		if row.Finished.Valid {
			a.FinishedAt = row.Finished.Time
		}
		attempts = append(attempts, a)
	}
	return attempts, nil
}

const errorColumns = `id, call_id, attempt_id, service_id, ordinal, parent_id, url, step,
		       request_snapshot, response_snapshot, max_attempts, detail, created_at`

// PersistError saves an error node. Nodes are immutable once written.
func (r *AuditRepo) PersistError(ctx context.Context, n domain.ErrorNode) error {
	query := `
		INSERT INTO call_errors (` + errorColumns + `)
		VALUES (:id, :call_id, :attempt_id, :service_id, :ordinal, :parent_id, :url, :step,
		        :request_snapshot, :response_snapshot, :max_attempts, :detail, :created_at)
		ON CONFLICT (id) DO NOTHING
	`
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if _, err := r.db.NamedExecContext(ctx, query, n); err != nil {
		return fmt.Errorf("failed to persist error node: %w", err)
	}
	return nil
}

// ListErrors returns the error nodes of a call ordered by ordinal.
func (r *AuditRepo) ListErrors(ctx context.Context, callID string) ([]domain.ErrorNode, error) {
	query := `SELECT ` + errorColumns + ` FROM call_errors WHERE call_id = $1 ORDER BY ordinal ASC`

	var nodes []domain.ErrorNode
	if err := r.db.SelectContext(ctx, &nodes, query, callID); err != nil {
		return nil, fmt.Errorf("failed to list error nodes: %w", err)
	}
	return nodes, nil
}

// GetErrors returns the error nodes with the given ids.
func (r *AuditRepo) GetErrors(ctx context.Context, ids []domain.ErrorID) ([]domain.ErrorNode, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = string(id)
	}

	query := `SELECT ` + errorColumns + ` FROM call_errors WHERE id = ANY($1)`

	var nodes []domain.ErrorNode
	if err := r.db.SelectContext(ctx, &nodes, query, pq.Array(keys)); err != nil {
		return nil, fmt.Errorf("failed to get error nodes: %w", err)
	}
	return nodes, nil
}

// DeleteOlderThan deletes every call whose newest record is older than before.
func (r *AuditRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	query := `
		WITH records AS (
			SELECT call_id, COALESCE(finished_at, started_at) AS at FROM call_attempts
			UNION ALL
			SELECT call_id, created_at FROM call_errors
		), expired AS (
			SELECT call_id FROM records GROUP BY call_id HAVING MAX(at) < $1
		), deleted_attempts AS (
			DELETE FROM call_attempts WHERE call_id IN (SELECT call_id FROM expired) RETURNING 1
		), deleted_errors AS (
			DELETE FROM call_errors WHERE call_id IN (SELECT call_id FROM expired) RETURNING 1
		)
		SELECT (SELECT COUNT(*) FROM deleted_attempts) + (SELECT COUNT(*) FROM deleted_errors)
	`
	var deleted int64
	if err := r.db.GetContext(ctx, &deleted, query, before); err != nil {
		return 0, fmt.Errorf("failed to prune audit records: %w", err)
	}
	return deleted, nil
}

// Health checks if the database is healthy.
func (r *AuditRepo) Health(ctx context.Context) error {
	return r.db.Health(ctx)
}

// Close closes the database connection.
func (r *AuditRepo) Close() error {
	return r.db.Close()
}
