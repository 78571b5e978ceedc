package worker

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubRetentionRepo struct {
	before  time.Time
	deleted int64
	err     error
}

func (s *stubRetentionRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	s.before = before
	return s.deleted, s.err
}

func TestPruner_Threshold(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := &stubRetentionRepo{deleted: 4}

	p := NewPruner(24*time.Hour, repo)
	p.now = func() time.Time { return now }
	p.Prune(context.Background())

	if want := now.Add(-24 * time.Hour); !repo.before.Equal(want) {
		t.Errorf("threshold = %v, want %v", repo.before, want)
	}
}

func TestPruner_ErrorIsLogged(t *testing.T) {
	repo := &stubRetentionRepo{err: errors.New("db down")}
	NewPruner(time.Hour, repo).Prune(context.Background())
}

func TestPruner_DisabledReturns(t *testing.T) {
	repo := &stubRetentionRepo{}
	done := make(chan struct{})
	go func() {
		NewPruner(0, repo).Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start with retention disabled should return")
	}
	if !repo.before.IsZero() {
		t.Error("disabled pruner should not prune")
	}
}
