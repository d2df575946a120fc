// Package notify delivers change events to interested parties.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Kind identifies what happened.
type Kind string

const (
	EntityCreated     Kind = "entity.created"
	EntityUpdated     Kind = "entity.updated"
	EntityDeleted     Kind = "entity.deleted"
	RelationCreated   Kind = "relation.created"
	AttachmentAdded   Kind = "attachment.added"
	AttachmentRemoved Kind = "attachment.removed"
	ImportSucceeded   Kind = "import.succeeded"
	ImportFailed      Kind = "import.failed"
)

// Event is a single notification.
type Event struct {
	Kind       Kind           `json:"kind"`
	SubjectID  int64          `json:"subject_id,omitempty"`
	ActorID    int64          `json:"actor_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Notifier delivers events.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Switch toggles delivery for every notifier gated by it. Suppress calls nest.
type Switch struct {
	mu         sync.Mutex
	suppressed int
}

// NewSwitch returns an enabled switch.
func NewSwitch() *Switch {
	return &Switch{}
}

// Suppress disables delivery until the returned restore func runs. Calling
// restore more than once has no further effect.
func (s *Switch) Suppress() (restore func()) {
	s.mu.Lock()
	s.suppressed++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.suppressed--
			s.mu.Unlock()
		})
	}
}

// Enabled reports whether notifications are currently delivered.
func (s *Switch) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suppressed == 0
}

// Gated drops events while its switch is suppressed.
type Gated struct {
	next   Notifier
	toggle *Switch
}

// NewGated wraps next behind toggle.
func NewGated(next Notifier, toggle *Switch) *Gated {
	return &Gated{next: next, toggle: toggle}
}

func (g *Gated) Notify(ctx context.Context, event Event) error {
	if !g.toggle.Enabled() {
		return nil
	}
	return g.next.Notify(ctx, event)
}

// LogNotifier writes events to a logger. Used when no broker is configured.
type LogNotifier struct {
	logger logrus.FieldLogger
}

// NewLogNotifier builds a notifier that only logs.
func NewLogNotifier(logger logrus.FieldLogger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	n.logger.WithFields(logrus.Fields{
		"kind":       event.Kind,
		"subject_id": event.SubjectID,
		"actor_id":   event.ActorID,
	}).Info("notification")
	return nil
}

// Multi fans an event out to several notifiers and returns the first error.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event Event) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
