package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/invoker/internal/core/domain"
)

// DefaultTTL bounds how long audit records are kept.
const DefaultTTL = 24 * time.Hour

// AuditRepo implements storage.AuditRepository using Redis. Records are
// stored as JSON; each call keeps sorted sets of its record ids scored by
// ordinal.
type AuditRepo struct {
	client *Client
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewAuditRepo creates a new Redis-backed audit repository.
func NewAuditRepo(client *Client, cfg Config) *AuditRepo {
	r := &AuditRepo{
		client: client,
		rdb:    client.rdb,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
	}
	if r.prefix == "" {
		r.prefix = "invoker"
	}
	if r.ttl <= 0 {
		r.ttl = DefaultTTL
	}
	return r
}

// Key helpers
func (r *AuditRepo) attemptKey(id string) string {
	return fmt.Sprintf("%s:attempt:%s", r.prefix, id)
}

func (r *AuditRepo) errorKey(id domain.ErrorID) string {
	return fmt.Sprintf("%s:error:%s", r.prefix, id)
}

func (r *AuditRepo) attemptsKey(callID string) string {
	return fmt.Sprintf("%s:call:%s:attempts", r.prefix, callID)
}

func (r *AuditRepo) errorsKey(callID string) string {
	return fmt.Sprintf("%s:call:%s:errors", r.prefix, callID)
}

// PersistAttempt stores an attempt and indexes it under its call.
func (r *AuditRepo) PersistAttempt(ctx context.Context, a domain.Attempt) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal attempt: %w", err)
	}
	return r.store(ctx, r.attemptKey(a.ID), r.attemptsKey(a.CallID), a.ID, a.Ordinal, data)
}

// PersistError stores an error node and indexes it under its call.
func (r *AuditRepo) PersistError(ctx context.Context, n domain.ErrorNode) error {
	n.ChildIDs = nil
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal error node: %w", err)
	}
	return r.store(ctx, r.errorKey(n.ID), r.errorsKey(n.CallID), string(n.ID), n.Ordinal, data)
}

func (r *AuditRepo) store(ctx context.Context, key, index, member string, ordinal int, data []byte) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, r.ttl)
		pipe.ZAdd(ctx, index, redis.Z{Score: float64(ordinal), Member: member})
		pipe.Expire(ctx, index, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

// ListAttempts returns the attempts of a call ordered by ordinal.
func (r *AuditRepo) ListAttempts(ctx context.Context, callID string) ([]domain.Attempt, error) {
	ids, err := r.rdb.ZRange(ctx, r.attemptsKey(callID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.attemptKey(id)
	}
	return loadAll[domain.Attempt](ctx, r.rdb, keys)
}

// ListErrors returns the error nodes of a call ordered by ordinal.
func (r *AuditRepo) ListErrors(ctx context.Context, callID string) ([]domain.ErrorNode, error) {
	ids, err := r.rdb.ZRange(ctx, r.errorsKey(callID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.errorKey(domain.ErrorID(id))
	}
	return loadAll[domain.ErrorNode](ctx, r.rdb, keys)
}

// GetErrors returns the error nodes with the given ids.
func (r *AuditRepo) GetErrors(ctx context.Context, ids []domain.ErrorID) ([]domain.ErrorNode, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.errorKey(id)
	}
	return loadAll[domain.ErrorNode](ctx, r.rdb, keys)
}

// loadAll fetches JSON records, skipping expired ones.
func loadAll[T any](ctx context.Context, rdb *redis.Client, keys []string) ([]T, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget failed: %w", err)
	}

	out := make([]T, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue // expired
		}
		var item T
		if err := json.Unmarshal([]byte(s), &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", keys[i], err)
		}
		out = append(out, item)
	}
	return out, nil
}

// Health checks if redis is reachable.
func (r *AuditRepo) Health(ctx context.Context) error {
	return r.client.Health(ctx)
}

// Close closes the Redis connection.
func (r *AuditRepo) Close() error {
	return r.client.Close()
}
