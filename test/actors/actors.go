package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"signflow/completion"
	"signflow/document"
	"signflow/lifecycle"
	"signflow/notify"
	"signflow/objectstore"
)

// Invitation is a completion link captured from an outgoing mail.
type Invitation struct {
	Email string
	Token string
}

// Inbox collects invitation and final mails sent during a run.
type Inbox struct {
	mu          sync.Mutex
	invitations []Invitation
	finals      map[string]map[string]int
}

var _ notify.Notifier = (*Inbox)(nil)

func NewInbox() *Inbox {
	return &Inbox{finals: map[string]map[string]int{}}
}

func (b *Inbox) SendInvitation(_ context.Context, msg notify.Message) error {
	_, rest, ok := strings.Cut(msg.Link, "/documents/complete/")
	if !ok {
		return fmt.Errorf("inbox: unexpected link %q", msg.Link)
	}
	tok, _, _ := strings.Cut(rest, "?")
	b.mu.Lock()
	defer b.mu.Unlock()
	b.invitations = append(b.invitations, Invitation{Email: msg.Email, Token: tok})
	return nil
}

func (b *Inbox) SendFinal(_ context.Context, msg notify.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	perDoc := b.finals[msg.Link]
	if perDoc == nil {
		perDoc = map[string]int{}
		b.finals[msg.Link] = perDoc
	}
	perDoc[msg.Email]++
	return nil
}

// Pick returns a random invitation, or false when none were sent yet.
func (b *Inbox) Pick(rng *rand.Rand) (Invitation, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.invitations) == 0 {
		return Invitation{}, false
	}
	return b.invitations[rng.Intn(len(b.invitations))], true
}

// DuplicateFinals lists final links mailed more than once to the same address.
func (b *Inbox) DuplicateFinals() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for link, perEmail := range b.finals {
		for email, n := range perEmail {
			if n > 1 {
				out = append(out, fmt.Sprintf("%s -> %s x%d", link, email, n))
			}
		}
	}
	return out
}

// Stats counts what the actors achieved and which calls failed.
type Stats struct {
	Published atomic.Int64
	Submitted atomic.Int64
	Finalized atomic.Int64
	Failures  atomic.Int64
}

func stopped(ctx context.Context, stop <-chan struct{}) (bool, error) {
	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-stop:
		return true, nil
	default:
		return false, nil
	}
}

// Publisher keeps creating and publishing documents with a mixed roster.
func Publisher(ctx context.Context, rng *rand.Rand, controller *lifecycle.Controller, store *objectstore.MemoryStore, recipients int, stats *Stats, stop <-chan struct{}) error {
	for n := 0; ; n++ {
		if done, err := stopped(ctx, stop); done {
			return err
		}

		doc, err := controller.CreateDocument(ctx, document.CreateParams{Title: "Stress", OwnerID: "stress-owner"})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			stats.Failures.Add(1)
			continue
		}

		key := objectstore.DesignerKey(doc.ID, "contract.pdf")
		store.Put(key, []byte("%PDF-1.7 stress"))

		roster := make([]document.Recipient, 0, recipients)
		for i := 0; i < recipients; i++ {
			email := fmt.Sprintf("r%d-%d@example.com", n, i)
			if i%2 == 0 {
				roster = append(roster, document.Recipient{Email: email, External: true})
			} else {
				roster = append(roster, document.Recipient{ID: fmt.Sprintf("user-%d-%d", n, i), Email: email, Name: "Agent"})
			}
		}
		if _, err := controller.UpdateMetadata(ctx, doc.ID, document.MetadataPatch{BlobKey: key, Pages: 1, Recipients: roster}); err != nil {
			stats.Failures.Add(1)
			continue
		}
		if _, err := controller.Publish(ctx, doc.ID); err != nil {
			stats.Failures.Add(1)
			continue
		}
		stats.Published.Add(1)
		time.Sleep(time.Duration(20+rng.Intn(40)) * time.Millisecond)
	}
}

// Submitter opens random invitations and submits them, resubmitting
// already completed portions as often as fresh ones.
func Submitter(ctx context.Context, rng *rand.Rand, tracker *completion.Tracker, inbox *Inbox, stats *Stats, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}

		inv, ok := inbox.Pick(rng)
		if !ok {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		view, err := tracker.FetchForCompletion(ctx, inv.Token)
		if err != nil {
			stats.Failures.Add(1)
			continue
		}
		receipt, err := tracker.Submit(ctx, completion.SubmitRequest{
			DocumentID:        view.DocumentID,
			Token:             inv.Token,
			RecipientIdentity: view.CurrentRecipient,
			FieldValues:       map[string]any{"signed-by-" + inv.Email: rng.Intn(1000)},
		})
		switch {
		case err != nil && errors.Is(err, context.Canceled):
			return nil
		case err != nil:
			stats.Failures.Add(1)
		default:
			stats.Submitted.Add(1)
		}
		if receipt.Finalized {
			stats.Finalized.Add(1)
		}
		time.Sleep(time.Duration(rng.Intn(15)) * time.Millisecond)
	}
}

// OutboxWorker consumes pending outbox messages with SKIP LOCKED and marks them processed.
func OutboxWorker(ctx context.Context, rng *rand.Rand, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE status='pending' ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]string, 0, 10)
		for rows.Next() {
			var id string
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			if rng.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE outbox SET attempts=attempts+1 WHERE id=$1`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status='processed' WHERE id=$1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}
