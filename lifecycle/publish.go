package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"signflow/document"
	"signflow/errs"
	"signflow/notify"
)

// Publish moves a draft to published, then creates one pending record per
// recipient and mails each an invitation. Per-recipient failures are logged
// and returned joined; records already created are kept.
func (c *Controller) Publish(ctx context.Context, id string) (document.Document, error) {
	doc, err := c.documents.Get(ctx, id)
	if err != nil {
		return document.Document{}, err
	}
	if doc.Status != document.StatusDraft {
		return document.Document{}, errs.Wrap(errs.KindConflict,
			fmt.Sprintf("lifecycle: cannot publish a %s document", doc.Status), document.ErrStatusConflict)
	}
	if err := doc.ValidateForPublish(); err != nil {
		return document.Document{}, err
	}

	published, err := c.documents.SetStatus(ctx, id, document.StatusDraft, document.StatusPublished)
	if err != nil {
		return document.Document{}, err
	}

	var failures []error
	for _, r := range published.Recipients {
		if err := c.invite(ctx, published, r); err != nil {
			failures = append(failures, err)
		}
	}
	c.log.Info().
		Str("document_id", published.ID).
		Int("recipients", len(published.Recipients)).
		Int("failures", len(failures)).
		Msg("document published")
	return published, errors.Join(failures...)
}

// invite creates the pending record for r and sends the invitation.
func (c *Controller) invite(ctx context.Context, doc document.Document, r document.Recipient) error {
	rec, err := c.tracker.CreatePending(ctx, doc.ID, r.Identity(), r.External)
	if err != nil {
		c.log.Error().Err(err).Str("document_id", doc.ID).Str("email", r.Email).Msg("create pending record failed")
		return fmt.Errorf("lifecycle: pending record for %s: %w", r.Email, err)
	}
	if c.notifier == nil {
		return nil
	}
	err = c.notifier.SendInvitation(ctx, notify.Message{
		Email:         r.Email,
		DisplayName:   r.DisplayName(),
		DocumentTitle: doc.Title,
		Link:          c.links.Completion(rec.Token, r.External),
	})
	if err != nil {
		c.log.Warn().Err(err).Str("document_id", doc.ID).Str("email", r.Email).Msg("invitation failed")
		if errors.Is(err, errs.ErrNotification) {
			return err
		}
		return errs.Wrap(errs.KindNotification, fmt.Sprintf("lifecycle: invite %s", r.Email), err)
	}
	return nil
}

// BulkPublish clones the template once per target, each clone narrowed to
// its single recipient and published immediately. Failed clones are logged
// and skipped.
func (c *Controller) BulkPublish(ctx context.Context, templateID string, targets []document.Recipient) (BulkResult, error) {
	tmpl, err := c.documents.Get(ctx, templateID)
	if err != nil {
		return BulkResult{}, err
	}
	if len(targets) == 0 {
		return BulkResult{}, errs.New(errs.KindValidation, "lifecycle: bulk publish needs at least one recipient")
	}

	var (
		mu     sync.Mutex
		result BulkResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.bulkConcurrency)
	for _, target := range targets {
		g.Go(func() error {
			clone, err := c.publishClone(gctx, tmpl, target)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				c.log.Warn().Err(err).Str("template_id", tmpl.ID).Str("email", target.Email).Msg("clone skipped")
				return nil
			}
			result.Cloned++
			result.Documents = append(result.Documents, clone)
			return nil
		})
	}
	_ = g.Wait()

	c.log.Info().Str("template_id", tmpl.ID).Int("cloned", result.Cloned).Int("failed", result.Failed).Msg("bulk publish finished")
	return result, nil
}

func (c *Controller) publishClone(ctx context.Context, tmpl document.Document, target document.Recipient) (document.Document, error) {
	if strings.TrimSpace(target.Email) == "" {
		return document.Document{}, errs.New(errs.KindValidation, "lifecycle: target recipient has no email")
	}

	identity := target.Identity()
	fields := make([]document.Field, len(tmpl.Fields))
	for i, f := range tmpl.Fields {
		f.ID = c.idGenerator()
		f.RecipientID = identity
		fields[i] = f
	}

	clone := document.Document{
		ID:         c.idGenerator(),
		Title:      fmt.Sprintf("%s - %s", tmpl.Title, target.DisplayName()),
		OwnerID:    tmpl.OwnerID,
		BlobKey:    tmpl.BlobKey,
		Pages:      tmpl.Pages,
		Type:       tmpl.Type,
		Fields:     fields,
		Recipients: []document.Recipient{target},
		Status:     document.StatusPublished,
	}
	created, err := c.createWithUniqueTitle(ctx, clone)
	if err != nil {
		return document.Document{}, err
	}

	if err := c.invite(ctx, created, target); err != nil && !errors.Is(err, errs.ErrNotification) {
		return document.Document{}, err
	}
	return created, nil
}
