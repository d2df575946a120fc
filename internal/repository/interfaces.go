package repository

import (
	"context"
	"errors"
	"time"

	"github.com/rpattn/replay/internal/domain"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrStaleObject is returned when a row changed or vanished underneath an optimistic lock.
	ErrStaleObject = errors.New("stale object")
	// ErrDuplicate is returned when a unique constraint rejects a row.
	ErrDuplicate = errors.New("duplicate record")
)

// ActorRepository defines the interface for user lookups
type ActorRepository interface {
	GetByID(ctx context.Context, id int64) (domain.Actor, error)
	Create(ctx context.Context, actor domain.Actor) (domain.Actor, error)
}

// EntityRepository defines the interface for work item persistence. Create and
// Update write a journal snapshot authored by userID in the same transaction.
type EntityRepository interface {
	Create(ctx context.Context, entity domain.Entity, userID int64) (domain.Entity, error)
	Update(ctx context.Context, entity domain.Entity, userID int64) (domain.Entity, error)
	GetByID(ctx context.Context, id int64) (domain.Entity, error)
	Delete(ctx context.Context, id int64, lockVersion int64) error
}

// AttachmentRepository defines the interface for attachment metadata.
type AttachmentRepository interface {
	Create(ctx context.Context, attachment domain.Attachment) (domain.Attachment, error)
	GetByID(ctx context.Context, id int64) (domain.Attachment, error)
	ListByContainer(ctx context.Context, containerID int64) ([]domain.Attachment, error)
	ListTemplates(ctx context.Context) ([]domain.Attachment, error)
	Delete(ctx context.Context, id int64) error
}

// RelationRepository defines the interface for entity relations.
type RelationRepository interface {
	Create(ctx context.Context, relation domain.Relation) (domain.Relation, error)
	ListByEntity(ctx context.Context, entityID int64) ([]domain.Relation, error)
}

// JournalRepository reads journal entries.
type JournalRepository interface {
	Latest(ctx context.Context, journableType domain.JournableType, journableID int64) (domain.Journal, error)
	List(ctx context.Context, journableType domain.JournableType, journableID int64) ([]domain.Journal, error)
}

// BookkeepingRepository overwrites creation and modification times without
// touching lock versions or writing journals.
type BookkeepingRepository interface {
	SetEntityTimestamps(ctx context.Context, id int64, createdAt, updatedAt time.Time) error
	SetAttachmentTimestamps(ctx context.Context, id int64, createdAt, updatedAt time.Time) error
	SetLatestJournalCreatedAt(ctx context.Context, journableType domain.JournableType, journableID int64, createdAt time.Time) error
}

// ImportRunRepository stores import outcomes for later inspection.
type ImportRunRepository interface {
	Record(ctx context.Context, run domain.ImportRun) error
	Latest(ctx context.Context, channel string) (domain.ImportRun, error)
	List(ctx context.Context, channel string, limit int, offset int) ([]domain.ImportRun, error)
}
