package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/invoker/internal/core/domain"
	"github.com/vietddude/invoker/internal/infra/storage"
)

var (
	_ storage.AuditRepository     = (*AuditRepo)(nil)
	_ storage.RetentionRepository = (*AuditRepo)(nil)
)

func setupRepo(t *testing.T) *AuditRepo {
	t.Helper()

	dsn := os.Getenv("INVOKER_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("INVOKER_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := NewDB(ctx, Config{URL: dsn})
	if err != nil {
		t.Fatalf("Failed to connect to DB: %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewAuditRepo(db)
}

func TestAuditRepo_Attempts(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	callID := uuid.NewString()

	a := domain.Attempt{
		ID:        uuid.NewString(),
		CallID:    callID,
		ServiceID: "users",
		Ordinal:   1,
		StartedAt: time.Now().UTC(),
	}
	if err := repo.PersistAttempt(ctx, a); err != nil {
		t.Fatalf("PersistAttempt: %v", err)
	}

	a.SuccessCount = 1
	a.Result = map[string]string{"name": "alice"}
	a.FinishedAt = a.StartedAt.Add(time.Second)
	if err := repo.PersistAttempt(ctx, a); err != nil {
		t.Fatalf("PersistAttempt update: %v", err)
	}

	got, err := repo.ListAttempts(ctx, callID)
	if err != nil {
		t.Fatalf("ListAttempts: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(got))
	}
	if got[0].SuccessCount != 1 || got[0].FinishedAt.IsZero() || got[0].Result == nil {
		t.Errorf("attempt = %+v", got[0])
	}
}

func TestAuditRepo_ErrorChain(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	callID := uuid.NewString()

	chain := domain.NewErrorChain(callID)
	var ids []domain.ErrorID
	for i := 1; i <= 3; i++ {
		n := domain.NewErrorNode(domain.StepRequest, errors.New("connection refused"))
		n.ID = domain.ErrorID(uuid.NewString())
		n.ServiceID = "users"
		n.Ordinal = i
		n.MaxAttempts = 3
		n = chain.Link(n)
		if err := repo.PersistError(ctx, n); err != nil {
			t.Fatalf("PersistError: %v", err)
		}
		if _, err := chain.Add(n); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, n.ID)
	}

	loaded, err := storage.LoadChain(ctx, repo, callID)
	if err != nil {
		t.Fatalf("LoadChain: %v", err)
	}
	if err := loaded.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if loaded.Len() != 3 {
		t.Errorf("expected 3 nodes, got %d", loaded.Len())
	}

	nodes, err := repo.GetErrors(ctx, ids[1:])
	if err != nil {
		t.Fatalf("GetErrors: %v", err)
	}
	if len(nodes) != 2 {
		t.Errorf("expected 2 nodes, got %d", len(nodes))
	}
	for _, n := range nodes {
		if n.ParentID != ids[0] {
			t.Errorf("node %s parent = %s, want %s", n.ID, n.ParentID, ids[0])
		}
	}
}

func TestAuditRepo_DeleteOlderThan(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	callID := uuid.NewString()

	old := time.Now().Add(-48 * time.Hour).UTC()
	a := domain.Attempt{ID: uuid.NewString(), CallID: callID, ServiceID: "users", Ordinal: 1, StartedAt: old, FinishedAt: old}
	if err := repo.PersistAttempt(ctx, a); err != nil {
		t.Fatal(err)
	}

	deleted, err := repo.DeleteOlderThan(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}
	if deleted < 1 {
		t.Errorf("expected at least 1 deleted record, got %d", deleted)
	}
	if got, _ := repo.ListAttempts(ctx, callID); len(got) != 0 {
		t.Errorf("expected attempts to be pruned, got %d", len(got))
	}
}
