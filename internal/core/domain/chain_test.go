package domain

import (
	"errors"
	"fmt"
	"testing"
)

func node(id string, ordinal int) ErrorNode {
	n := NewErrorNode(StepRequest, fmt.Errorf("attempt %d failed", ordinal))
	n.ID = ErrorID(id)
	n.Ordinal = ordinal
	return n
}

func TestErrorChain_LinksToRoot(t *testing.T) {
	chain := NewErrorChain("call-1")

	for i, id := range []string{"a", "b", "c"} {
		if _, err := chain.Add(node(id, i+1)); err != nil {
			t.Fatalf("Add(%s) failed: %v", id, err)
		}
	}

	root, ok := chain.Root()
	if !ok {
		t.Fatal("expected a root")
	}
	if root.ID != "a" || !root.IsRoot() {
		t.Errorf("expected root a, got %s (parent %q)", root.ID, root.ParentID)
	}
	if len(root.ChildIDs) != 2 || root.ChildIDs[0] != "b" || root.ChildIDs[1] != "c" {
		t.Errorf("expected children [b c], got %v", root.ChildIDs)
	}

	for _, child := range chain.Children() {
		if child.ParentID != "a" {
			t.Errorf("child %s parented to %s, want a", child.ID, child.ParentID)
		}
		if child.CallID != "call-1" {
			t.Errorf("child %s has call id %s", child.ID, child.CallID)
		}
	}

	if err := chain.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestErrorChain_RejectsNonIncreasingOrdinal(t *testing.T) {
	chain := NewErrorChain("call-1")
	if _, err := chain.Add(node("a", 2)); err != nil {
		t.Fatal(err)
	}

	_, err := chain.Add(node("b", 2))
	if !errors.Is(err, ErrOrdinalOrder) {
		t.Fatalf("expected ErrOrdinalOrder, got %v", err)
	}
	if chain.Len() != 1 {
		t.Errorf("expected chain length 1, got %d", chain.Len())
	}
}

func TestErrorChain_RejectsDuplicateID(t *testing.T) {
	chain := NewErrorChain("call-1")
	if _, err := chain.Add(node("a", 1)); err != nil {
		t.Fatal(err)
	}
	if _, err := chain.Add(node("a", 2)); !errors.Is(err, ErrDuplicateNode) {
		t.Fatalf("expected ErrDuplicateNode, got %v", err)
	}
}

func TestErrorChain_ReturnsCopies(t *testing.T) {
	chain := NewErrorChain("call-1")
	chain.Add(node("a", 1))
	chain.Add(node("b", 2))

	root, _ := chain.Root()
	root.ChildIDs[0] = "mutated"

	again, _ := chain.Root()
	if again.ChildIDs[0] != "b" {
		t.Errorf("chain was mutated through a returned node: %v", again.ChildIDs)
	}
}

func TestErrorNode_ErrKeepsCause(t *testing.T) {
	sentinel := errors.New("boom")
	n := NewErrorNode(StepParse, sentinel)

	if !errors.Is(n.Err(), sentinel) {
		t.Error("expected node error to wrap the original cause")
	}

	var stepErr *StepError
	if !errors.As(n.Err(), &stepErr) || stepErr.Step != StepParse {
		t.Errorf("expected StepError for parse, got %v", n.Err())
	}
}

func TestStep_Retryable(t *testing.T) {
	tests := []struct {
		step   Step
		expect bool
	}{
		{StepRequest, true},
		{StepValidate, true},
		{StepParse, true},
		{StepPersistAttempt, true},
		{StepPersistError, true},
		{StepUnexpected, false},
	}

	for _, tt := range tests {
		if got := tt.step.Retryable(); got != tt.expect {
			t.Errorf("%s.Retryable() = %v, want %v", tt.step, got, tt.expect)
		}
	}
}

func TestErrorChain_LinkDoesNotStore(t *testing.T) {
	chain := NewErrorChain("call-1")
	chain.Add(node("a", 1))

	linked := chain.Link(node("b", 2))
	if linked.ParentID != "a" || linked.CallID != "call-1" {
		t.Errorf("unexpected linkage: parent=%s call=%s", linked.ParentID, linked.CallID)
	}
	if chain.Len() != 1 {
		t.Errorf("Link must not store the node, len=%d", chain.Len())
	}
}

func TestErrorNode_RetagKeepsIdentity(t *testing.T) {
	n := node("a", 3)
	n.ParentID = "root"

	r := n.Retag(StepPersistError, errors.New("disk full"))
	if r.ID != "a" || r.Ordinal != 3 || r.ParentID != "root" {
		t.Errorf("identity lost: %+v", r)
	}
	if r.Step != StepPersistError || r.Detail != "disk full" {
		t.Errorf("unexpected retag result: step=%s detail=%s", r.Step, r.Detail)
	}
}
