package domain

import "time"

// JournableType names the kind of record a journal entry belongs to.
type JournableType string

const (
	JournableEntity     JournableType = "Entity"
	JournableAttachment JournableType = "Attachment"
)

// Journal captures a historical snapshot of an entity or attachment version.
type Journal struct {
	ID            int64
	JournableType JournableType
	JournableID   int64
	UserID        int64
	Version       int64
	Data          map[string]any
	Notes         string
	CreatedAt     time.Time
}
