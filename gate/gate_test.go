package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"signflow/completion"
	"signflow/document"
	"signflow/notify"
	"signflow/objectstore"
	"signflow/token"
)

type recordingNotifier struct {
	mu     sync.Mutex
	finals []notify.Message
	err    error
}

func (r *recordingNotifier) SendInvitation(context.Context, notify.Message) error { return nil }

func (r *recordingNotifier) SendFinal(_ context.Context, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finals = append(r.finals, msg)
	return r.err
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.finals)
}

type staticIdentities []string

func (c staticIdentities) CompletedIdentities(context.Context, string) ([]string, error) {
	return append([]string(nil), c...), nil
}

func seedDocument(t *testing.T, docs *document.MemoryRepository, id string, recipients []document.Recipient) {
	t.Helper()
	_, err := docs.Create(context.Background(), document.Document{
		ID:         id,
		Title:      "Contract " + id,
		OwnerID:    "owner-1",
		BlobKey:    "designer-docs/" + id + "/c.pdf",
		Recipients: recipients,
		Status:     document.StatusPublished,
	})
	if err != nil {
		t.Fatalf("seed document: %v", err)
	}
}

func TestEvaluate_BelowThresholdIsNoop(t *testing.T) {
	docs := document.NewMemoryRepository()
	seedDocument(t, docs, "doc-1", []document.Recipient{{ID: "a", Email: "a@example.com"}, {ID: "b", Email: "b@example.com"}})
	notifier := &recordingNotifier{}
	g := New(docs, staticIdentities{"a"}, nil, notifier, notify.Links{BaseURL: "https://app"})

	fired, err := g.Evaluate(context.Background(), "doc-1")
	if err != nil || fired {
		t.Fatalf("expected no-op, got fired=%v err=%v", fired, err)
	}
	doc, _ := docs.Get(context.Background(), "doc-1")
	if doc.Status != document.StatusPublished {
		t.Fatalf("expected published, got %s", doc.Status)
	}
}

func TestEvaluate_FlipsOnceAndNotifies(t *testing.T) {
	docs := document.NewMemoryRepository()
	seedDocument(t, docs, "doc-1", []document.Recipient{
		{ID: "a", Email: "a@example.com", Name: "Ana"},
		{Email: "guest@example.com", External: true},
	})
	notifier := &recordingNotifier{}
	at := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	g := New(docs, staticIdentities{"a", "guest@example.com"}, nil, notifier, notify.Links{BaseURL: "https://app"}).
		WithClock(func() time.Time { return at })

	fired, err := g.Evaluate(context.Background(), "doc-1")
	if err != nil || !fired {
		t.Fatalf("expected flip, got fired=%v err=%v", fired, err)
	}
	doc, _ := docs.Get(context.Background(), "doc-1")
	if doc.Status != document.StatusCompleted || doc.CompletedAt == nil || !doc.CompletedAt.Equal(at) {
		t.Fatalf("expected completed document, got %+v", doc)
	}
	if notifier.count() != 2 {
		t.Fatalf("expected 2 final notifications, got %d", notifier.count())
	}
	if notifier.finals[0].Link != "https://app/documents/final/doc-1" || notifier.finals[1].DisplayName != "User" {
		t.Fatalf("unexpected final messages %+v", notifier.finals)
	}

	fired, err = g.Evaluate(context.Background(), "doc-1")
	if err != nil || fired {
		t.Fatalf("second evaluation must be a no-op, got fired=%v err=%v", fired, err)
	}
	if notifier.count() != 2 {
		t.Fatalf("expected no further notifications, got %d", notifier.count())
	}
}

func TestEvaluate_EmptyRosterNeverCompletes(t *testing.T) {
	docs := document.NewMemoryRepository()
	seedDocument(t, docs, "doc-1", nil)
	g := New(docs, staticIdentities(nil), nil, &recordingNotifier{}, notify.Links{})

	fired, err := g.Evaluate(context.Background(), "doc-1")
	if err != nil || fired {
		t.Fatalf("expected no-op for empty roster, got fired=%v err=%v", fired, err)
	}
}

func TestEvaluate_OnlyRosterMembersCount(t *testing.T) {
	docs := document.NewMemoryRepository()
	seedDocument(t, docs, "doc-1", []document.Recipient{{ID: "c", Email: "c@example.com"}})
	notifier := &recordingNotifier{}
	g := New(docs, staticIdentities{"a"}, nil, notifier, notify.Links{})

	fired, err := g.Evaluate(context.Background(), "doc-1")
	if err != nil || fired {
		t.Fatalf("a completion outside the roster must not finalize, got fired=%v err=%v", fired, err)
	}

	seedDocument(t, docs, "doc-2", []document.Recipient{{ID: "a", Email: "a@example.com"}, {ID: "b", Email: "b@example.com"}})
	g = New(docs, staticIdentities{"a", "a"}, nil, notifier, notify.Links{})
	fired, err = g.Evaluate(context.Background(), "doc-2")
	if err != nil || fired {
		t.Fatalf("repeated identities must count once, got fired=%v err=%v", fired, err)
	}
	if notifier.count() != 0 {
		t.Fatalf("expected no final notifications, got %d", notifier.count())
	}
}

func TestEvaluate_NotificationFailureDoesNotUnwind(t *testing.T) {
	docs := document.NewMemoryRepository()
	seedDocument(t, docs, "doc-1", []document.Recipient{{ID: "a", Email: "a@example.com"}})
	notifier := &recordingNotifier{err: errors.New("smtp down")}
	g := New(docs, staticIdentities{"a"}, nil, notifier, notify.Links{})

	fired, err := g.Evaluate(context.Background(), "doc-1")
	if err != nil || !fired {
		t.Fatalf("expected flip despite mail failure, got fired=%v err=%v", fired, err)
	}
	doc, _ := docs.Get(context.Background(), "doc-1")
	if doc.Status != document.StatusCompleted {
		t.Fatalf("expected completed, got %s", doc.Status)
	}
}

// Two recipients submitting at the same time must complete the document
// exactly once, with exactly one final notification per recipient.
func TestEvaluate_ConcurrentSubmissionsCompleteOnce(t *testing.T) {
	const rounds = 100
	ctx := context.Background()

	for round := 0; round < rounds; round++ {
		docs := document.NewMemoryRepository()
		id := fmt.Sprintf("doc-%d", round)
		seedDocument(t, docs, id, []document.Recipient{
			{ID: "a", Email: "a@example.com"},
			{Email: "guest@example.com", External: true},
		})
		store := objectstore.NewMemoryStore("docs")
		store.Put("designer-docs/"+id+"/c.pdf", []byte("%PDF"))

		tracker := completion.NewTracker(completion.NewMemoryRepository(), docs, store, token.NewIssuer())
		notifier := &recordingNotifier{}
		g := New(docs, tracker, NewKeyedMutex(), notifier, notify.Links{BaseURL: "https://app"})
		tracker.WithFinalizer(g)

		recA, err := tracker.CreatePending(ctx, id, "a", false)
		if err != nil {
			t.Fatalf("create pending: %v", err)
		}
		recB, err := tracker.CreatePending(ctx, id, "guest@example.com", true)
		if err != nil {
			t.Fatalf("create pending: %v", err)
		}

		var eg errgroup.Group
		receipts := make([]completion.Receipt, 2)
		for i, req := range []completion.SubmitRequest{
			{DocumentID: id, Token: recA.Token, RecipientIdentity: "a", FieldValues: map[string]any{"x": "1"}},
			{DocumentID: id, Token: recB.Token, RecipientIdentity: "guest@example.com", FieldValues: map[string]any{"y": "2"}},
		} {
			eg.Go(func() error {
				r, err := tracker.Submit(ctx, req)
				receipts[i] = r
				return err
			})
		}
		if err := eg.Wait(); err != nil {
			t.Fatalf("round %d: submit: %v", round, err)
		}

		finalized := 0
		for _, r := range receipts {
			if r.Finalized {
				finalized++
			}
		}
		if finalized != 1 {
			t.Fatalf("round %d: expected exactly one finalizing submission, got %d", round, finalized)
		}
		if events := docs.CompletedEvents(); len(events) != 1 {
			t.Fatalf("round %d: expected one completion event, got %d", round, len(events))
		}
		if notifier.count() != 2 {
			t.Fatalf("round %d: expected 2 final notifications, got %d", round, notifier.count())
		}
	}
}

func TestKeyedMutex_SerializesAndHonoursContext(t *testing.T) {
	locks := NewKeyedMutex()
	unlock, err := locks.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locks.Lock(ctx, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded while held, got %v", err)
	}

	other, err := locks.Lock(context.Background(), "other")
	if err != nil {
		t.Fatalf("independent key must not block: %v", err)
	}
	other()

	unlock()
	unlock()
	again, err := locks.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	again()

	locks.mu.Lock()
	defer locks.mu.Unlock()
	if len(locks.slots) != 0 {
		t.Fatalf("expected idle slots to be dropped, got %d", len(locks.slots))
	}
}
