// Package gate finalizes a document once every recipient has submitted.
package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"signflow/document"
	"signflow/notify"
)

// Documents is the document store surface the gate needs.
type Documents interface {
	Get(ctx context.Context, id string) (document.Document, error)
	MarkCompleted(ctx context.Context, id string, at time.Time) (bool, error)
}

// Counter lists who has completed a document.
type Counter interface {
	CompletedIdentities(ctx context.Context, documentID string) ([]string, error)
}

// Gate flips a published document to completed at most once and sends the
// final notifications from the call that performed the flip.
type Gate struct {
	documents Documents
	counter   Counter
	locker    Locker
	notifier  notify.Notifier
	links     notify.Links
	now       func() time.Time
	log       zerolog.Logger
}

func New(documents Documents, counter Counter, locker Locker, notifier notify.Notifier, links notify.Links) *Gate {
	if locker == nil {
		locker = NewKeyedMutex()
	}
	return &Gate{
		documents: documents,
		counter:   counter,
		locker:    locker,
		notifier:  notifier,
		links:     links,
		now:       time.Now,
		log:       zerolog.Nop(),
	}
}

func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

func (g *Gate) WithLogger(log zerolog.Logger) *Gate {
	g.log = log.With().Str("component", "gate").Logger()
	return g
}

// Evaluate reports whether this call completed the document.
func (g *Gate) Evaluate(ctx context.Context, documentID string) (bool, error) {
	doc, fired, err := g.evaluateLocked(ctx, documentID)
	if err != nil || !fired {
		return fired, err
	}

	g.log.Info().Str("document_id", doc.ID).Int("recipients", len(doc.Recipients)).Msg("document completed")
	g.notifyRecipients(ctx, doc)
	return true, nil
}

func (g *Gate) evaluateLocked(ctx context.Context, documentID string) (document.Document, bool, error) {
	unlock, err := g.locker.Lock(ctx, "document-completion|"+documentID)
	if err != nil {
		return document.Document{}, false, fmt.Errorf("gate: lock %s: %w", documentID, err)
	}
	defer unlock()

	doc, err := g.documents.Get(ctx, documentID)
	if err != nil {
		return document.Document{}, false, err
	}
	if doc.Status == document.StatusCompleted || len(doc.Recipients) == 0 {
		return doc, false, nil
	}

	completed, err := g.counter.CompletedIdentities(ctx, documentID)
	if err != nil {
		return document.Document{}, false, fmt.Errorf("gate: count completions: %w", err)
	}
	// Records of identities dropped from the roster do not count.
	if !doc.RosterComplete(completed) {
		return doc, false, nil
	}

	fired, err := g.documents.MarkCompleted(ctx, documentID, g.now())
	if err != nil {
		return document.Document{}, false, fmt.Errorf("gate: mark completed: %w", err)
	}
	return doc, fired, nil
}

func (g *Gate) notifyRecipients(ctx context.Context, doc document.Document) {
	if g.notifier == nil {
		return
	}
	link := g.links.Final(doc.ID)
	for _, r := range doc.Recipients {
		if r.Email == "" {
			continue
		}
		err := g.notifier.SendFinal(ctx, notify.Message{
			Email:         r.Email,
			DisplayName:   r.DisplayName(),
			DocumentTitle: doc.Title,
			Link:          link,
		})
		if err != nil {
			g.log.Warn().Err(err).Str("document_id", doc.ID).Str("email", r.Email).Msg("final notification failed")
		}
	}
}
