package records

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"survey-caller/internal/calls"
)

func seedCall(t *testing.T, r *MemoryRepo, id int64) {
	t.Helper()
	now := time.Unix(1700000000, 0).UTC()
	st := calls.NewState(calls.Call{ID: id, PhoneNumber: "+15551230000", Status: calls.StatusCreated, CreatedAt: now}, []string{"Q1", "Q2"})
	if err := r.CreateCall(context.Background(), st.Call, st.Slots); err != nil {
		t.Fatalf("create: %v", err)
	}
}

func TestMemoryRepo_UpsertAnswerOverwrites(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepo()
	seedCall(t, r, 1)

	_ = r.UpsertAnswer(ctx, calls.AnswerRecord{CallID: 1, Sequence: 0, Answer: calls.AnswerYes, RawResponse: "yes"})
	_ = r.UpsertAnswer(ctx, calls.AnswerRecord{CallID: 1, Sequence: 0, Answer: calls.AnswerNo, RawResponse: "no"})

	got, err := r.GetAnswers(ctx, 1)
	if err != nil {
		t.Fatalf("answers: %v", err)
	}
	if len(got) != 1 || got[0].Answer != calls.AnswerNo {
		t.Fatalf("expected one overwritten answer, got %+v", got)
	}
}

func TestMemoryRepo_FindByEitherReference(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepo()
	seedCall(t, r, 5)
	if err := r.UpdateStatus(ctx, StatusUpdate{CallID: 5, Status: calls.StatusRinging, ProviderRef: "CA5", ConversationRef: "conv-5"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	for _, ref := range []string{"CA5", "conv-5"} {
		id, err := r.FindCallByReference(ctx, ref)
		if err != nil || id != 5 {
			t.Fatalf("%s: expected 5, got %d (%v)", ref, id, err)
		}
	}
	if _, err := r.FindCallByReference(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := r.UpdateStatus(ctx, StatusUpdate{CallID: 99, Status: calls.StatusFailed}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown call, got %v", err)
	}
}

func TestMemoryRepo_LastCallIDAndList(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepo()
	seedCall(t, r, 3)
	seedCall(t, r, 9)
	last, _ := r.LastCallID(ctx)
	if last != 9 {
		t.Fatalf("expected 9, got %d", last)
	}
	list, _ := r.ListCalls(ctx, ListFilter{Limit: 1})
	if len(list) != 1 || list[0].ID != 9 {
		t.Fatalf("expected newest call first, got %+v", list)
	}
}

func TestBuildListQuery(t *testing.T) {
	from := time.Unix(1700000000, 0)
	q, args := buildListQuery(ListFilter{From: from, Status: calls.StatusCompleted, Limit: 10})
	if !strings.Contains(q, "created_at >= $1 AND status = $2") || !strings.HasSuffix(q, "LIMIT $3") {
		t.Fatalf("unexpected query: %s", q)
	}
	if len(args) != 3 {
		t.Fatalf("expected 3 args, got %d", len(args))
	}
}

func TestSchemaDeclaresAnswerKey(t *testing.T) {
	if !strings.Contains(Schema, "PRIMARY KEY (call_id, sequence)") {
		t.Fatalf("expected (call_id, sequence) key for idempotent upserts")
	}
}
