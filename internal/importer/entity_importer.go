package importer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rpattn/replay/internal/domain"
	"github.com/rpattn/replay/internal/repository"
	"github.com/rpattn/replay/internal/workitem"
)

// EntityImporter reconciles one record into a create or update call.
type EntityImporter struct {
	actors        ActorFinder
	entities      EntityService
	templates     *templateResolver
	fetchAttempts int
	fetchBackoff  time.Duration
	logger        logrus.FieldLogger
}

// Import runs the entity call for record. The id map is only read here; the
// caller registers the resulting entity. Record-scoped failures are stored on
// the record and the returned error is reserved for run-scoped failures.
func (i *EntityImporter) Import(ctx context.Context, record *Record, ids IDMap, validate bool) error {
	actor, found, err := i.findActor(ctx, record.ActorRef)
	if err != nil {
		return err
	}
	if !found {
		record.SetEntityCall(Failed[domain.Entity](fmt.Sprintf("The user with the id %s does not exist", record.ActorRef)), false)
		return nil
	}
	record.actor = &actor

	var entity domain.Entity
	existing := false
	if internalID, ok := ids.Lookup(record.ID); ok {
		entity, err = i.entities.Get(ctx, internalID)
		if err != nil {
			return fmt.Errorf("load entity for %q: %w", record.ID, err)
		}
		existing = true
	}

	pending, err := i.reconcileAttachments(ctx, record, actor, entity, existing)
	if err != nil {
		return err
	}
	if record.Invalid() {
		return nil
	}

	attrs := workitem.Attributes(record.Attributes)
	opts := workitem.Options{Validate: validate}

	var result domain.Entity
	if existing {
		result, err = i.entities.Update(ctx, actor, entity, attrs, opts)
	} else {
		result, err = i.entities.Create(ctx, actor, attrs, opts)
	}
	if err != nil {
		if verr, ok := workitem.AsValidationError(err); ok {
			record.SetEntityCall(Failed[domain.Entity](verr.Messages...), false)
			return nil
		}
		return fmt.Errorf("import entity %q (line %d): %w", record.ID, record.Line, err)
	}
	record.SetEntityCall(Succeeded(result), !existing)

	return i.attachPending(ctx, record, actor, result.ID, pending)
}

func (i *EntityImporter) findActor(ctx context.Context, ref string) (domain.Actor, bool, error) {
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil || id <= 0 {
		return domain.Actor{}, false, nil
	}
	actor, err := i.actors.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.Actor{}, false, nil
	}
	if err != nil {
		return domain.Actor{}, false, fmt.Errorf("find user %d: %w", id, err)
	}
	return actor, true, nil
}
