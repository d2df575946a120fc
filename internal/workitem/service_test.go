package workitem

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/replay/internal/blobstore"
	"github.com/rpattn/replay/internal/domain"
	"github.com/rpattn/replay/internal/notify"
	"github.com/rpattn/replay/internal/repository/memory"
)

type recordingNotifier struct {
	kinds []notify.Kind
}

func (r *recordingNotifier) Notify(_ context.Context, event notify.Event) error {
	r.kinds = append(r.kinds, event.Kind)
	return nil
}

type fixture struct {
	store    *memory.Store
	blobs    *blobstore.FSStore
	notifier *recordingNotifier
	service  *Service
	actor    domain.Actor
}

func newFixture(t *testing.T, workflow Workflow) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store := memory.NewStore()
	blobs := blobstore.NewFSStore(afero.NewMemMapFs(), "/files")
	notifier := &recordingNotifier{}
	service := NewService(store.Entities(), store.Attachments(), store.Relations(), blobs, notifier, workflow, logger)

	return &fixture{
		store:    store,
		blobs:    blobs,
		notifier: notifier,
		service:  service,
		actor:    domain.Actor{ID: 5, Login: "admin", Admin: true},
	}
}

func TestCreateCoercesAttributes(t *testing.T) {
	f := newFixture(t, nil)

	entity, err := f.service.Create(context.Background(), f.actor, Attributes{
		"subject":         "Install pump",
		"status_id":       "3",
		"start_date":      "2019-01-01",
		"estimated_hours": "2.5",
		"custom_field_4":  "blue",
		"user":            "5",
	}, Options{Validate: true})
	require.NoError(t, err)

	assert.Equal(t, "Install pump", entity.Subject)
	assert.Equal(t, int64(3), entity.IntProperty("status_id"))
	assert.Equal(t, "2019-01-01", entity.Properties["start_date"])
	assert.Equal(t, 2.5, entity.Properties["estimated_hours"])
	assert.Equal(t, "blue", entity.Properties["custom_field_4"])
	assert.Nil(t, entity.Properties["due_date"])
	assert.Equal(t, f.actor.ID, entity.AuthorID)
	assert.Equal(t, []notify.Kind{notify.EntityCreated}, f.notifier.kinds)
}

func TestStructuralErrorsApplyWithoutValidation(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.service.Create(context.Background(), f.actor, Attributes{
		"subject":    "x",
		"start_date": "tomorrow",
		"colour":     "red",
	}, Options{Validate: false})

	verr, ok := AsValidationError(err)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{
		"colour is not a known attribute.",
		"'tomorrow' is not a valid date for start_date.",
	}, verr.Messages)
	assert.Zero(t, f.store.EntityCount())
}

func TestBusinessRules(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.service.Create(context.Background(), f.actor, Attributes{
		"done_ratio": "150",
		"start_date": "2019-02-01",
		"due_date":   "2019-01-01",
	}, Options{Validate: true})

	verr, ok := AsValidationError(err)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{
		"Subject can't be blank.",
		"Done ratio must be less than or equal to 100.",
		"Due date must be on or after the start date.",
	}, verr.Messages)

	entity, err := f.service.Create(context.Background(), f.actor, Attributes{
		"done_ratio": "150",
		"start_date": "2019-02-01",
		"due_date":   "2019-01-01",
	}, Options{Validate: false})
	require.NoError(t, err)
	assert.Equal(t, int64(150), entity.IntProperty("done_ratio"))
}

func TestWorkflowTransitions(t *testing.T) {
	f := newFixture(t, Workflow{1: {2}})
	ctx := context.Background()

	entity, err := f.service.Create(ctx, f.actor, Attributes{"subject": "a", "status_id": "1"}, Options{Validate: true})
	require.NoError(t, err)

	_, err = f.service.Update(ctx, f.actor, entity, Attributes{"status_id": "3"}, Options{Validate: true})
	verr, ok := AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, []string{"Status is invalid because no valid transition exists from old to new status."}, verr.Messages)

	updated, err := f.service.Update(ctx, f.actor, entity, Attributes{"status_id": "3"}, Options{Validate: false})
	require.NoError(t, err)
	assert.Equal(t, int64(3), updated.IntProperty("status_id"))
}

func TestUpdateWithStaleEntityIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	entity, err := f.service.Create(ctx, f.actor, Attributes{"subject": "a"}, Options{})
	require.NoError(t, err)
	_, err = f.service.Update(ctx, f.actor, entity, Attributes{"subject": "b"}, Options{})
	require.NoError(t, err)

	_, err = f.service.Update(ctx, f.actor, entity, Attributes{"subject": "c"}, Options{})
	_, ok := AsValidationError(err)
	assert.True(t, ok)
}

func TestDeleteReportsGoneEntities(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	entity, err := f.service.Create(ctx, f.actor, Attributes{"subject": "a"}, Options{})
	require.NoError(t, err)
	attachment, err := f.service.Attach(ctx, f.actor, entity.ID, "a.txt", []byte("hello"))
	require.NoError(t, err)

	require.NoError(t, f.service.Delete(ctx, f.actor, entity))
	_, err = f.blobs.Get(ctx, attachment.StorageKey)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	err = f.service.Delete(ctx, f.actor, entity)
	assert.True(t, errors.Is(err, ErrGone))
}

func TestRelate(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	a, err := f.service.Create(ctx, f.actor, Attributes{"subject": "a"}, Options{})
	require.NoError(t, err)
	b, err := f.service.Create(ctx, f.actor, Attributes{"subject": "b"}, Options{})
	require.NoError(t, err)

	relation, err := f.service.Relate(ctx, f.actor, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RelationRelates, relation.Type)

	_, err = f.service.Relate(ctx, f.actor, a.ID, b.ID)
	verr, ok := AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, []string{"Relation has already been taken."}, verr.Messages)

	_, err = f.service.Relate(ctx, f.actor, a.ID, 0)
	verr, ok = AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, []string{"Related work item can't be blank."}, verr.Messages)
}

func TestAttachDetectsContentType(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	entity, err := f.service.Create(ctx, f.actor, Attributes{"subject": "a"}, Options{})
	require.NoError(t, err)

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	attachment, err := f.service.Attach(ctx, f.actor, entity.ID, "C:\\scans\\plan.png", png)
	require.NoError(t, err)

	assert.Equal(t, "plan.png", attachment.Filename)
	assert.Equal(t, "image/png", attachment.ContentType)
	assert.Equal(t, int64(len(png)), attachment.Filesize)
	assert.Len(t, attachment.Digest, 64)

	content, err := f.service.Content(ctx, attachment)
	require.NoError(t, err)
	assert.Equal(t, png, content)

	require.NoError(t, f.service.Detach(ctx, f.actor, attachment))
	listed, err := f.service.ListAttachments(ctx, entity.ID)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestWorkflowFromConfig(t *testing.T) {
	workflow, err := WorkflowFromConfig(map[string][]int64{"1": {2, 3}})
	require.NoError(t, err)
	assert.True(t, workflow.Allows(1, 3))
	assert.False(t, workflow.Allows(1, 4))
	assert.True(t, workflow.Allows(9, 4))

	_, err = WorkflowFromConfig(map[string][]int64{"open": {2}})
	assert.Error(t, err)
}
