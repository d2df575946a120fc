// Package memory provides process local implementations of the repository
// interfaces. They back dry runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rpattn/replay/internal/domain"
	"github.com/rpattn/replay/internal/repository"
)

// Store holds every table in memory. One Store satisfies all repository
// interfaces through its accessor methods.
type Store struct {
	mu          sync.Mutex
	now         func() time.Time
	nextID      int64
	actors      map[int64]domain.Actor
	entities    map[int64]domain.Entity
	attachments map[int64]domain.Attachment
	relations   map[int64]domain.Relation
	journals    []domain.Journal
	runs        []domain.ImportRun
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		now:         time.Now,
		actors:      map[int64]domain.Actor{},
		entities:    map[int64]domain.Entity{},
		attachments: map[int64]domain.Attachment{},
		relations:   map[int64]domain.Relation{},
	}
}

// SetClock replaces the time source used for new rows.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) Actors() repository.ActorRepository { return actorRepo{s} }
func (s *Store) Entities() repository.EntityRepository { return entityRepo{s} }
func (s *Store) Attachments() repository.AttachmentRepository { return attachmentRepo{s} }
func (s *Store) Relations() repository.RelationRepository { return relationRepo{s} }
func (s *Store) Journals() repository.JournalRepository { return journalRepo{s} }
func (s *Store) Bookkeeping() repository.BookkeepingRepository { return bookkeepingRepo{s} }
func (s *Store) ImportRuns() repository.ImportRunRepository { return importRunRepo{s} }

// EntityCount returns the number of stored entities.
func (s *Store) EntityCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entities)
}

// AllEntities returns every entity ordered by id.
func (s *Store) AllEntities() []domain.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	entities := make([]domain.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		entities = append(entities, e)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })
	return entities
}

// AllRelations returns every relation ordered by id.
func (s *Store) AllRelations() []domain.Relation {
	s.mu.Lock()
	defer s.mu.Unlock()
	relations := make([]domain.Relation, 0, len(s.relations))
	for _, r := range s.relations {
		relations = append(relations, r)
	}
	sort.Slice(relations, func(i, j int) bool { return relations[i].ID < relations[j].ID })
	return relations
}

func (s *Store) journal(journableType domain.JournableType, journableID, userID int64, data map[string]any) {
	version := int64(1)
	for _, j := range s.journals {
		if j.JournableType == journableType && j.JournableID == journableID && j.Version >= version {
			version = j.Version + 1
		}
	}
	s.journals = append(s.journals, domain.Journal{
		ID:            s.id(),
		JournableType: journableType,
		JournableID:   journableID,
		UserID:        userID,
		Version:       version,
		Data:          data,
		CreatedAt:     s.now(),
	})
}

func (s *Store) dropJournals(journableType domain.JournableType, journableID int64) {
	kept := s.journals[:0]
	for _, j := range s.journals {
		if j.JournableType == journableType && j.JournableID == journableID {
			continue
		}
		kept = append(kept, j)
	}
	s.journals = kept
}

type actorRepo struct{ s *Store }

func (r actorRepo) GetByID(_ context.Context, id int64) (domain.Actor, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	actor, ok := r.s.actors[id]
	if !ok {
		return domain.Actor{}, fmt.Errorf("user %d: %w", id, repository.ErrNotFound)
	}
	return actor, nil
}

func (r actorRepo) Create(_ context.Context, actor domain.Actor) (domain.Actor, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.actors {
		if existing.Login == actor.Login {
			return domain.Actor{}, fmt.Errorf("user %q: %w", actor.Login, repository.ErrDuplicate)
		}
	}
	if actor.ID == 0 {
		actor.ID = r.s.id()
	}
	r.s.actors[actor.ID] = actor
	return actor, nil
}

type entityRepo struct{ s *Store }

func (r entityRepo) Create(_ context.Context, entity domain.Entity, userID int64) (domain.Entity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	entity = entity.WithTimestamps(now, now)
	entity.ID = r.s.id()
	entity.LockVersion = 0
	r.s.entities[entity.ID] = entity
	r.s.journal(domain.JournableEntity, entity.ID, userID, snapshot(entity))
	return entity, nil
}

func (r entityRepo) Update(_ context.Context, entity domain.Entity, userID int64) (domain.Entity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.entities[entity.ID]
	if !ok || current.LockVersion != entity.LockVersion {
		return domain.Entity{}, fmt.Errorf("update entity %d: %w", entity.ID, repository.ErrStaleObject)
	}
	entity = entity.WithTimestamps(current.CreatedAt, r.s.now())
	entity.LockVersion = current.LockVersion + 1
	r.s.entities[entity.ID] = entity
	r.s.journal(domain.JournableEntity, entity.ID, userID, snapshot(entity))
	return entity, nil
}

func (r entityRepo) GetByID(_ context.Context, id int64) (domain.Entity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	entity, ok := r.s.entities[id]
	if !ok {
		return domain.Entity{}, fmt.Errorf("entity %d: %w", id, repository.ErrNotFound)
	}
	return entity.WithTimestamps(entity.CreatedAt, entity.UpdatedAt), nil
}

func (r entityRepo) Delete(_ context.Context, id int64, lockVersion int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.entities[id]
	if !ok || current.LockVersion != lockVersion {
		return fmt.Errorf("delete entity %d: %w", id, repository.ErrStaleObject)
	}
	delete(r.s.entities, id)
	r.s.dropJournals(domain.JournableEntity, id)
	for attachmentID, attachment := range r.s.attachments {
		if attachment.ContainerID != nil && *attachment.ContainerID == id {
			delete(r.s.attachments, attachmentID)
			r.s.dropJournals(domain.JournableAttachment, attachmentID)
		}
	}
	for relationID, relation := range r.s.relations {
		if relation.FromID == id || relation.ToID == id {
			delete(r.s.relations, relationID)
		}
	}
	return nil
}

func snapshot(entity domain.Entity) map[string]any {
	data := make(map[string]any, len(entity.Properties)+1)
	for k, v := range entity.Properties {
		data[k] = v
	}
	data["subject"] = entity.Subject
	return data
}

type attachmentRepo struct{ s *Store }

func (r attachmentRepo) Create(_ context.Context, attachment domain.Attachment) (domain.Attachment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if attachment.ContainerID != nil {
		if _, ok := r.s.entities[*attachment.ContainerID]; !ok {
			return domain.Attachment{}, fmt.Errorf("attachment container %d: %w", *attachment.ContainerID, repository.ErrNotFound)
		}
	}
	now := r.s.now()
	attachment.ID = r.s.id()
	attachment.CreatedAt = now
	attachment.UpdatedAt = now
	r.s.attachments[attachment.ID] = attachment
	r.s.journal(domain.JournableAttachment, attachment.ID, attachment.AuthorID, map[string]any{
		"filename": attachment.Filename,
	})
	return attachment, nil
}

func (r attachmentRepo) GetByID(_ context.Context, id int64) (domain.Attachment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	attachment, ok := r.s.attachments[id]
	if !ok {
		return domain.Attachment{}, fmt.Errorf("attachment %d: %w", id, repository.ErrNotFound)
	}
	return attachment, nil
}

func (r attachmentRepo) ListByContainer(_ context.Context, containerID int64) ([]domain.Attachment, error) {
	return r.list(func(a domain.Attachment) bool {
		return a.ContainerID != nil && *a.ContainerID == containerID
	}), nil
}

func (r attachmentRepo) ListTemplates(_ context.Context) ([]domain.Attachment, error) {
	return r.list(domain.Attachment.IsTemplate), nil
}

func (r attachmentRepo) Delete(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.attachments[id]; !ok {
		return fmt.Errorf("attachment %d: %w", id, repository.ErrNotFound)
	}
	delete(r.s.attachments, id)
	r.s.dropJournals(domain.JournableAttachment, id)
	return nil
}

func (r attachmentRepo) list(keep func(domain.Attachment) bool) []domain.Attachment {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	attachments := []domain.Attachment{}
	for _, a := range r.s.attachments {
		if keep(a) {
			attachments = append(attachments, a)
		}
	}
	sort.Slice(attachments, func(i, j int) bool { return attachments[i].ID < attachments[j].ID })
	return attachments
}

type relationRepo struct{ s *Store }

func (r relationRepo) Create(_ context.Context, relation domain.Relation) (domain.Relation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.relations {
		if existing.FromID == relation.FromID && existing.ToID == relation.ToID && existing.Type == relation.Type {
			return domain.Relation{}, fmt.Errorf("relation %d->%d: %w", relation.FromID, relation.ToID, repository.ErrDuplicate)
		}
	}
	relation.ID = r.s.id()
	relation.CreatedAt = r.s.now()
	r.s.relations[relation.ID] = relation
	return relation, nil
}

func (r relationRepo) ListByEntity(_ context.Context, entityID int64) ([]domain.Relation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	relations := []domain.Relation{}
	for _, rel := range r.s.relations {
		if rel.FromID == entityID || rel.ToID == entityID {
			relations = append(relations, rel)
		}
	}
	sort.Slice(relations, func(i, j int) bool { return relations[i].ID < relations[j].ID })
	return relations, nil
}

type journalRepo struct{ s *Store }

func (r journalRepo) Latest(ctx context.Context, journableType domain.JournableType, journableID int64) (domain.Journal, error) {
	journals, _ := r.List(ctx, journableType, journableID)
	if len(journals) == 0 {
		return domain.Journal{}, fmt.Errorf("journal of %s %d: %w", journableType, journableID, repository.ErrNotFound)
	}
	return journals[len(journals)-1], nil
}

func (r journalRepo) List(_ context.Context, journableType domain.JournableType, journableID int64) ([]domain.Journal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	journals := []domain.Journal{}
	for _, j := range r.s.journals {
		if j.JournableType == journableType && j.JournableID == journableID {
			journals = append(journals, j)
		}
	}
	sort.Slice(journals, func(i, j int) bool { return journals[i].Version < journals[j].Version })
	return journals, nil
}

type bookkeepingRepo struct{ s *Store }

func (r bookkeepingRepo) SetEntityTimestamps(_ context.Context, id int64, createdAt, updatedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	entity, ok := r.s.entities[id]
	if !ok {
		return fmt.Errorf("entity %d: %w", id, repository.ErrNotFound)
	}
	r.s.entities[id] = entity.WithTimestamps(createdAt, updatedAt)
	return nil
}

func (r bookkeepingRepo) SetAttachmentTimestamps(_ context.Context, id int64, createdAt, updatedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	attachment, ok := r.s.attachments[id]
	if !ok {
		return fmt.Errorf("attachment %d: %w", id, repository.ErrNotFound)
	}
	attachment.CreatedAt = createdAt
	attachment.UpdatedAt = updatedAt
	r.s.attachments[id] = attachment
	return nil
}

func (r bookkeepingRepo) SetLatestJournalCreatedAt(_ context.Context, journableType domain.JournableType, journableID int64, createdAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	latest := -1
	for i, j := range r.s.journals {
		if j.JournableType != journableType || j.JournableID != journableID {
			continue
		}
		if latest < 0 || j.Version > r.s.journals[latest].Version {
			latest = i
		}
	}
	if latest < 0 {
		return fmt.Errorf("journal of %s %d: %w", journableType, journableID, repository.ErrNotFound)
	}
	r.s.journals[latest].CreatedAt = createdAt
	return nil
}

type importRunRepo struct{ s *Store }

func (r importRunRepo) Record(_ context.Context, run domain.ImportRun) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, existing := range r.s.runs {
		if existing.ID == run.ID {
			r.s.runs[i] = run
			return nil
		}
	}
	r.s.runs = append(r.s.runs, run)
	return nil
}

func (r importRunRepo) Latest(ctx context.Context, channel string) (domain.ImportRun, error) {
	runs, _ := r.List(ctx, channel, 1, 0)
	if len(runs) == 0 {
		return domain.ImportRun{}, repository.ErrNotFound
	}
	return runs[0], nil
}

func (r importRunRepo) List(_ context.Context, channel string, limit int, offset int) ([]domain.ImportRun, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	runs := []domain.ImportRun{}
	for _, run := range r.s.runs {
		if run.Channel == channel {
			runs = append(runs, run)
		}
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].EnqueuedAt.After(runs[j].EnqueuedAt) })
	if offset >= len(runs) {
		return []domain.ImportRun{}, nil
	}
	runs = runs[offset:]
	if limit > 0 && limit < len(runs) {
		runs = runs[:limit]
	}
	return runs, nil
}
