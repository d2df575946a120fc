package domain

import (
	"time"
)

// Attachment is a file attached to an entity. Attachments without a container
// form the template pool that imports copy files from.
type Attachment struct {
	ID          int64     `json:"id"`
	ContainerID *int64    `json:"container_id,omitempty"`
	Filename    string    `json:"filename"`
	StorageKey  string    `json:"storage_key"`
	ContentType string    `json:"content_type"`
	Filesize    int64     `json:"filesize"`
	Digest      string    `json:"digest"`
	AuthorID    int64     `json:"author_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsTemplate reports whether the attachment belongs to the template pool.
func (a Attachment) IsTemplate() bool {
	return a.ContainerID == nil
}
