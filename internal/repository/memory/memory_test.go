package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/replay/internal/domain"
	"github.com/rpattn/replay/internal/repository"
)

func TestEntityLockVersionGuardsUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	entities := store.Entities()

	created, err := entities.Create(ctx, domain.NewEntity(1).WithSubject("first"), 1)
	require.NoError(t, err)

	updated, err := entities.Update(ctx, created.WithSubject("second"), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.LockVersion)

	_, err = entities.Update(ctx, created.WithSubject("stale"), 1)
	assert.ErrorIs(t, err, repository.ErrStaleObject)

	assert.ErrorIs(t, entities.Delete(ctx, created.ID, created.LockVersion), repository.ErrStaleObject)
	require.NoError(t, entities.Delete(ctx, updated.ID, updated.LockVersion))
	assert.ErrorIs(t, entities.Delete(ctx, updated.ID, updated.LockVersion), repository.ErrStaleObject)
}

func TestJournalsFollowEntityChanges(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	created, err := store.Entities().Create(ctx, domain.NewEntity(1).WithSubject("a"), 7)
	require.NoError(t, err)
	_, err = store.Entities().Update(ctx, created.WithSubject("b"), 7)
	require.NoError(t, err)

	journals, err := store.Journals().List(ctx, domain.JournableEntity, created.ID)
	require.NoError(t, err)
	require.Len(t, journals, 2)
	assert.Equal(t, int64(2), journals[1].Version)
	assert.Equal(t, "b", journals[1].Data["subject"])

	at := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Bookkeeping().SetLatestJournalCreatedAt(ctx, domain.JournableEntity, created.ID, at))

	latest, err := store.Journals().Latest(ctx, domain.JournableEntity, created.ID)
	require.NoError(t, err)
	assert.True(t, latest.CreatedAt.Equal(at))
}

func TestDeleteCascadesToAttachments(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	entity, err := store.Entities().Create(ctx, domain.NewEntity(1), 1)
	require.NoError(t, err)
	_, err = store.Attachments().Create(ctx, domain.Attachment{ContainerID: &entity.ID, Filename: "a.pdf"})
	require.NoError(t, err)
	_, err = store.Attachments().Create(ctx, domain.Attachment{Filename: "template.pdf"})
	require.NoError(t, err)

	require.NoError(t, store.Entities().Delete(ctx, entity.ID, entity.LockVersion))

	attached, err := store.Attachments().ListByContainer(ctx, entity.ID)
	require.NoError(t, err)
	assert.Empty(t, attached)

	templates, err := store.Attachments().ListTemplates(ctx)
	require.NoError(t, err)
	assert.Len(t, templates, 1)
}
