package redis

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

var _ storage.AuditRepository = (*AuditRepo)(nil)

func setupRepo(t *testing.T) *AuditRepo {
	t.Helper()

	url := os.Getenv("INVOKER_TEST_REDIS_URL")
	if url == "" {
		t.Skip("INVOKER_TEST_REDIS_URL not set")
	}

	client, err := NewClient(Config{URL: url})
	if err != nil {
		t.Fatalf("Failed to connect to redis: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return NewAuditRepo(client, Config{Prefix: "invoker-test", TTL: time.Minute})
}

func TestAuditRepo_Attempts(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	callID := uuid.NewString()

	for _, ord := range []int{2, 1} {
		a := domain.Attempt{ID: uuid.NewString(), CallID: callID, Ordinal: ord, StartedAt: time.Now()}
		if err := repo.PersistAttempt(ctx, a); err != nil {
			t.Fatalf("PersistAttempt: %v", err)
		}
	}

	got, err := repo.ListAttempts(ctx, callID)
	if err != nil {
		t.Fatalf("ListAttempts: %v", err)
	}
	if len(got) != 2 || got[0].Ordinal != 1 || got[1].Ordinal != 2 {
		t.Errorf("ListAttempts = %+v", got)
	}
}

func TestAuditRepo_ErrorChain(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	callID := uuid.NewString()

	chain := domain.NewErrorChain(callID)
	var root domain.ErrorID
	for i := 1; i <= 3; i++ {
		n := domain.NewErrorNode(domain.StepValidate, errors.New("rejected"))
		n.ID = domain.ErrorID(uuid.NewString())
		n.Ordinal = i
		n = chain.Link(n)
		if i == 1 {
			root = n.ID
		}
		if err := repo.PersistError(ctx, n); err != nil {
			t.Fatalf("PersistError: %v", err)
		}
		if _, err := chain.Add(n); err != nil {
			t.Fatal(err)
		}
	}

	loaded, err := storage.LoadChain(ctx, repo, callID)
	if err != nil {
		t.Fatalf("LoadChain: %v", err)
	}
	if err := loaded.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	nodes, err := repo.GetErrors(ctx, []domain.ErrorID{root, "missing"})
	if err != nil {
		t.Fatalf("GetErrors: %v", err)
	}
	if len(nodes) != 1 || !nodes[0].IsRoot() {
		t.Errorf("GetErrors = %+v", nodes)
	}
	var se *domain.StepError
	if !errors.As(nodes[0].Err(), &se) || se.Step != domain.StepValidate {
		t.Errorf("Err() = %v", nodes[0].Err())
	}
}
