package importer

import (
	"context"
	"fmt"

	"github.com/rpattn/replay/internal/domain"
)

// TimestampFixer backdates what a record's call wrote to the record's timestamp.
type TimestampFixer struct {
	books Bookkeeping
}

// Fix rewrites the bookkeeping of the record's entity and of the attachments
// the record created. It returns the entity carrying the new timestamps.
func (f *TimestampFixer) Fix(ctx context.Context, record *Record) (domain.Entity, error) {
	entity, ok := record.Entity()
	if !ok {
		return domain.Entity{}, nil
	}
	ts := record.Timestamp

	createdAt := entity.CreatedAt
	if ts.Before(createdAt) {
		createdAt = ts
	}
	if err := f.books.SetEntityTimestamps(ctx, entity.ID, createdAt, ts); err != nil {
		return domain.Entity{}, fmt.Errorf("backdate entity %d: %w", entity.ID, err)
	}
	if err := f.books.SetLatestJournalCreatedAt(ctx, domain.JournableEntity, entity.ID, ts); err != nil {
		return domain.Entity{}, fmt.Errorf("backdate journal of entity %d: %w", entity.ID, err)
	}

	for _, attachment := range record.CreatedAttachments() {
		if err := f.books.SetAttachmentTimestamps(ctx, attachment.ID, ts, ts); err != nil {
			return domain.Entity{}, fmt.Errorf("backdate attachment %d: %w", attachment.ID, err)
		}
		if err := f.books.SetLatestJournalCreatedAt(ctx, domain.JournableAttachment, attachment.ID, ts); err != nil {
			return domain.Entity{}, fmt.Errorf("backdate journal of attachment %d: %w", attachment.ID, err)
		}
	}

	return entity.WithTimestamps(createdAt, ts), nil
}
