// Package workitem implements the work item operations: create, update, delete,
// relate and attach. Each change is journaled by the repositories and announced
// through the notifier.
package workitem

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/rpattn/replay/internal/blobstore"
	"github.com/rpattn/replay/internal/domain"
	"github.com/rpattn/replay/internal/notify"
	"github.com/rpattn/replay/internal/repository"
)

// Options tune a single create or update call.
type Options struct {
	// Validate enables business rules. Structural coercion always applies.
	Validate bool
}

// Service is the work item domain service.
type Service struct {
	entities    repository.EntityRepository
	attachments repository.AttachmentRepository
	relations   repository.RelationRepository
	blobs       blobstore.Store
	notifier    notify.Notifier
	workflow    Workflow
	validate    *validator.Validate
	logger      logrus.FieldLogger
	now         func() time.Time
}

// NewService creates a new work item service.
func NewService(
	entities repository.EntityRepository,
	attachments repository.AttachmentRepository,
	relations repository.RelationRepository,
	blobs blobstore.Store,
	notifier notify.Notifier,
	workflow Workflow,
	logger logrus.FieldLogger,
) *Service {
	return &Service{
		entities:    entities,
		attachments: attachments,
		relations:   relations,
		blobs:       blobs,
		notifier:    notifier,
		workflow:    workflow,
		validate:    newValidator(),
		logger:      logger,
		now:         time.Now,
	}
}

// Get loads a work item.
func (s *Service) Get(ctx context.Context, id int64) (domain.Entity, error) {
	entity, err := s.entities.GetByID(ctx, id)
	if err != nil {
		return domain.Entity{}, fmt.Errorf("load work item %d: %w", id, err)
	}
	return entity, nil
}

// Create builds a work item from attrs on behalf of actor.
func (s *Service) Create(ctx context.Context, actor domain.Actor, attrs Attributes, opts Options) (domain.Entity, error) {
	entity, messages := apply(domain.NewEntity(actor.ID), attrs)
	for _, key := range []string{"start_date", "due_date"} {
		if _, ok := entity.Property(key); !ok {
			entity = entity.WithProperty(key, nil)
		}
	}
	if len(messages) > 0 {
		return domain.Entity{}, invalid(messages...)
	}
	if opts.Validate {
		if messages := s.checkRules(entity, nil); len(messages) > 0 {
			return domain.Entity{}, invalid(messages...)
		}
	}

	created, err := s.entities.Create(ctx, entity, actor.ID)
	if err != nil {
		return domain.Entity{}, fmt.Errorf("create work item: %w", err)
	}

	s.announce(ctx, notify.EntityCreated, created.ID, actor.ID, nil)
	return created, nil
}

// Update applies attrs to entity on behalf of actor.
func (s *Service) Update(ctx context.Context, actor domain.Actor, entity domain.Entity, attrs Attributes, opts Options) (domain.Entity, error) {
	changed, messages := apply(entity, attrs)
	if len(messages) > 0 {
		return domain.Entity{}, invalid(messages...)
	}
	if opts.Validate {
		if messages := s.checkRules(changed, &entity); len(messages) > 0 {
			return domain.Entity{}, invalid(messages...)
		}
	}

	updated, err := s.entities.Update(ctx, changed, actor.ID)
	if err != nil {
		if errors.Is(err, repository.ErrStaleObject) {
			return domain.Entity{}, invalid("Information has been updated by at least one other user in the meantime.")
		}
		return domain.Entity{}, fmt.Errorf("update work item %d: %w", entity.ID, err)
	}

	s.announce(ctx, notify.EntityUpdated, updated.ID, actor.ID, nil)
	return updated, nil
}

// Delete removes a work item along with its attachment content. ErrGone is
// returned when the item was already removed or changed since it was loaded.
func (s *Service) Delete(ctx context.Context, actor domain.Actor, entity domain.Entity) error {
	attachments, err := s.attachments.ListByContainer(ctx, entity.ID)
	if err != nil {
		return fmt.Errorf("list attachments of work item %d: %w", entity.ID, err)
	}

	if err := s.entities.Delete(ctx, entity.ID, entity.LockVersion); err != nil {
		if errors.Is(err, repository.ErrStaleObject) || errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("delete work item %d: %w", entity.ID, ErrGone)
		}
		return fmt.Errorf("delete work item %d: %w", entity.ID, err)
	}

	for _, attachment := range attachments {
		if err := s.blobs.Delete(ctx, attachment.StorageKey); err != nil {
			s.logger.WithError(err).WithField("attachment_id", attachment.ID).Warn("failed to remove attachment content")
		}
	}

	s.announce(ctx, notify.EntityDeleted, entity.ID, actor.ID, nil)
	return nil
}

// Relate links two work items with a "relates" relation.
func (s *Service) Relate(ctx context.Context, actor domain.Actor, fromID, toID int64) (domain.Relation, error) {
	var messages []string
	if fromID == 0 {
		messages = append(messages, "From can't be blank.")
	}
	if toID == 0 {
		messages = append(messages, "Related work item can't be blank.")
	}
	if fromID != 0 && fromID == toID {
		messages = append(messages, "A work item cannot be related to itself.")
	}
	if len(messages) > 0 {
		return domain.Relation{}, invalid(messages...)
	}

	for _, id := range []int64{fromID, toID} {
		if _, err := s.entities.GetByID(ctx, id); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.Relation{}, invalid(fmt.Sprintf("The work item with the id %d does not exist.", id))
			}
			return domain.Relation{}, fmt.Errorf("load work item %d: %w", id, err)
		}
	}

	relation, err := s.relations.Create(ctx, domain.Relation{
		FromID: fromID,
		ToID:   toID,
		Type:   domain.RelationRelates,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return domain.Relation{}, invalid("Relation has already been taken.")
		}
		return domain.Relation{}, fmt.Errorf("create relation: %w", err)
	}

	s.announce(ctx, notify.RelationCreated, fromID, actor.ID, map[string]any{"to_id": toID})
	return relation, nil
}

func (s *Service) announce(ctx context.Context, kind notify.Kind, subjectID, actorID int64, payload map[string]any) {
	if s.notifier == nil {
		return
	}
	event := notify.Event{
		Kind:       kind,
		SubjectID:  subjectID,
		ActorID:    actorID,
		OccurredAt: s.now(),
		Payload:    payload,
	}
	if err := s.notifier.Notify(ctx, event); err != nil {
		s.logger.WithError(err).WithField("kind", kind).Warn("failed to deliver notification")
	}
}
