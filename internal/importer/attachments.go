package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rpattn/replay/internal/blobstore"
	"github.com/rpattn/replay/internal/domain"
	"github.com/rpattn/replay/internal/metrics"
	"github.com/rpattn/replay/internal/workitem"
)

// pendingAttachment is template content waiting for the entity call to succeed.
type pendingAttachment struct {
	name string
	data []byte
}

// templateResolver indexes the template pool by normalized filename. The pool
// is loaded once per run.
type templateResolver struct {
	pool   TemplatePool
	byName map[string]domain.Attachment
}

func newTemplateResolver(pool TemplatePool) *templateResolver {
	return &templateResolver{pool: pool}
}

func (r *templateResolver) lookup(ctx context.Context, name string) (domain.Attachment, bool, error) {
	if r.byName == nil {
		templates, err := r.pool.ListTemplates(ctx)
		if err != nil {
			return domain.Attachment{}, false, fmt.Errorf("load template pool: %w", err)
		}
		r.byName = make(map[string]domain.Attachment, len(templates))
		for _, template := range templates {
			key := normalizeFilename(template.Filename)
			if _, taken := r.byName[key]; !taken {
				r.byName[key] = template
			}
		}
	}
	template, ok := r.byName[normalizeFilename(name)]
	return template, ok, nil
}

// reconcileAttachments removes attachments no longer desired and fetches the
// content of desired ones the entity lacks. Fetched content is returned for
// attaching once the entity call succeeded.
func (i *EntityImporter) reconcileAttachments(ctx context.Context, record *Record, actor domain.Actor, entity domain.Entity, existing bool) ([]pendingAttachment, error) {
	if len(record.Attachments) == 0 {
		return nil, nil
	}

	desired := map[string]bool{}
	for _, name := range record.Attachments {
		desired[normalizeFilename(name)] = true
	}

	present := map[string]bool{}
	if existing {
		current, err := i.entities.ListAttachments(ctx, entity.ID)
		if err != nil {
			return nil, fmt.Errorf("list attachments of %q: %w", record.ID, err)
		}
		for _, attachment := range current {
			key := normalizeFilename(attachment.Filename)
			if desired[key] {
				present[key] = true
				continue
			}
			if err := i.entities.Detach(ctx, actor, attachment); err != nil {
				if verr, ok := workitem.AsValidationError(err); ok {
					record.AddAttachmentCall(AttachmentCall{Op: AttachmentDeleted, Name: attachment.Filename, Outcome: Failed[domain.Attachment](verr.Messages...)})
					continue
				}
				return nil, fmt.Errorf("remove attachment %d: %w", attachment.ID, err)
			}
			record.AddAttachmentCall(AttachmentCall{Op: AttachmentDeleted, Name: attachment.Filename, Outcome: Succeeded(attachment)})
		}
	}

	var pending []pendingAttachment
	for _, name := range record.Attachments {
		key := normalizeFilename(name)
		if present[key] {
			continue
		}
		present[key] = true

		template, ok, err := i.templates.lookup(ctx, name)
		if err != nil {
			return nil, err
		}
		if !ok {
			record.AddAttachmentCall(AttachmentCall{Op: AttachmentCreated, Name: name, Outcome: Failed[domain.Attachment](missingAttachment(name))})
			continue
		}

		data, err := i.fetch(ctx, template)
		switch {
		case err == nil:
			pending = append(pending, pendingAttachment{name: name, data: data})
		case errors.Is(err, blobstore.ErrNotFound):
			record.AddAttachmentCall(AttachmentCall{Op: AttachmentCreated, Name: name, Outcome: Failed[domain.Attachment](missingAttachment(name))})
		case errors.Is(err, errFetchExhausted):
			record.AddAttachmentCall(AttachmentCall{Op: AttachmentCreated, Name: name, Outcome: Failed[domain.Attachment](
				fmt.Sprintf("The attachment '%s' could not be fetched.", name),
			)})
		default:
			return nil, fmt.Errorf("fetch template %q: %w", name, err)
		}
	}

	return pending, nil
}

func (i *EntityImporter) attachPending(ctx context.Context, record *Record, actor domain.Actor, entityID int64, pending []pendingAttachment) error {
	for _, p := range pending {
		attachment, err := i.entities.Attach(ctx, actor, entityID, p.name, p.data)
		if err != nil {
			if verr, ok := workitem.AsValidationError(err); ok {
				record.AddAttachmentCall(AttachmentCall{Op: AttachmentCreated, Name: p.name, Outcome: Failed[domain.Attachment](verr.Messages...)})
				continue
			}
			return fmt.Errorf("attach %q to %q: %w", p.name, record.ID, err)
		}
		record.AddAttachmentCall(AttachmentCall{Op: AttachmentCreated, Name: p.name, Outcome: Succeeded(attachment)})
	}
	return nil
}

var errFetchExhausted = errors.New("template fetch attempts exhausted")

// fetch reads template content, retrying transient transport errors up to the
// configured number of attempts.
func (i *EntityImporter) fetch(ctx context.Context, template domain.Attachment) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= i.fetchAttempts; attempt++ {
		data, err := i.templates.pool.Content(ctx, template)
		if err == nil {
			metrics.ObserveFetch("success")
			return data, nil
		}
		if !blobstore.IsTransient(err) {
			metrics.ObserveFetch("error")
			return nil, err
		}

		metrics.ObserveFetch("retry")
		lastErr = err
		i.logger.WithError(err).WithFields(logrus.Fields{
			"template": template.Filename,
			"attempt":  attempt,
		}).Warn("transient error fetching template")

		if attempt < i.fetchAttempts && i.fetchBackoff > 0 {
			timer := time.NewTimer(i.fetchBackoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", errFetchExhausted, i.fetchAttempts, lastErr)
}

func missingAttachment(name string) string {
	return fmt.Sprintf("The attachment '%s' does not exist.", name)
}
