package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ImportRunStatus is the lifecycle state of an import run.
type ImportRunStatus string

const (
	ImportRunQueued     ImportRunStatus = "queued"
	ImportRunProcessing ImportRunStatus = "processing"
	ImportRunSuccess    ImportRunStatus = "success"
	ImportRunFailure    ImportRunStatus = "failure"
)

// Finished reports whether no further transitions are expected.
func (s ImportRunStatus) Finished() bool {
	return s == ImportRunSuccess || s == ImportRunFailure
}

// ImportRun captures the persisted outcome of one import.
type ImportRun struct {
	ID          uuid.UUID       `json:"id"`
	Channel     string          `json:"channel"`
	ActorID     int64           `json:"actor_id"`
	ContentType string          `json:"content_type"`
	Validate    bool            `json:"validate"`
	Status      ImportRunStatus `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}
