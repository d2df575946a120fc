package importer

import (
	"context"
	"time"

	"github.com/rpattn/replay/internal/domain"
	"github.com/rpattn/replay/internal/workitem"
)

// ActorFinder looks up the actor a record is attributed to.
type ActorFinder interface {
	GetByID(ctx context.Context, id int64) (domain.Actor, error)
}

// EntityService performs the work item calls. Rejections come back as
// *workitem.ValidationError; any other error aborts the run.
type EntityService interface {
	Get(ctx context.Context, id int64) (domain.Entity, error)
	Create(ctx context.Context, actor domain.Actor, attrs workitem.Attributes, opts workitem.Options) (domain.Entity, error)
	Update(ctx context.Context, actor domain.Actor, entity domain.Entity, attrs workitem.Attributes, opts workitem.Options) (domain.Entity, error)
	Delete(ctx context.Context, actor domain.Actor, entity domain.Entity) error
	Relate(ctx context.Context, actor domain.Actor, fromID, toID int64) (domain.Relation, error)
	ListAttachments(ctx context.Context, entityID int64) ([]domain.Attachment, error)
	Attach(ctx context.Context, actor domain.Actor, entityID int64, filename string, data []byte) (domain.Attachment, error)
	Detach(ctx context.Context, actor domain.Actor, attachment domain.Attachment) error
}

// TemplatePool serves the pre-uploaded files attachments are copied from.
type TemplatePool interface {
	ListTemplates(ctx context.Context) ([]domain.Attachment, error)
	Content(ctx context.Context, attachment domain.Attachment) ([]byte, error)
}

// Bookkeeping overwrites creation and modification times.
type Bookkeeping interface {
	SetEntityTimestamps(ctx context.Context, id int64, createdAt, updatedAt time.Time) error
	SetAttachmentTimestamps(ctx context.Context, id int64, createdAt, updatedAt time.Time) error
	SetLatestJournalCreatedAt(ctx context.Context, journableType domain.JournableType, journableID int64, createdAt time.Time) error
}

// NotificationSwitch silences outbound notifications until restore runs.
type NotificationSwitch interface {
	Suppress() (restore func())
}
