package importer

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/replay/internal/blobstore"
	"github.com/rpattn/replay/internal/domain"
	"github.com/rpattn/replay/internal/notify"
	"github.com/rpattn/replay/internal/repository/memory"
	"github.com/rpattn/replay/internal/workitem"
)

// countingEntities records the entity calls and lets tests inject failures.
type countingEntities struct {
	EntityService
	mu          sync.Mutex
	calls       []string
	failUpdate  error
	failAttach  error
	panicRelate bool
}

func (c *countingEntities) Create(ctx context.Context, actor domain.Actor, attrs workitem.Attributes, opts workitem.Options) (domain.Entity, error) {
	c.mu.Lock()
	c.calls = append(c.calls, "create:"+attrs["subject"])
	c.mu.Unlock()
	return c.EntityService.Create(ctx, actor, attrs, opts)
}

func (c *countingEntities) Update(ctx context.Context, actor domain.Actor, entity domain.Entity, attrs workitem.Attributes, opts workitem.Options) (domain.Entity, error) {
	c.mu.Lock()
	c.calls = append(c.calls, "update:"+attrs["subject"])
	c.mu.Unlock()
	if c.failUpdate != nil {
		return domain.Entity{}, c.failUpdate
	}
	return c.EntityService.Update(ctx, actor, entity, attrs, opts)
}

func (c *countingEntities) Attach(ctx context.Context, actor domain.Actor, entityID int64, filename string, data []byte) (domain.Attachment, error) {
	if c.failAttach != nil {
		return domain.Attachment{}, c.failAttach
	}
	return c.EntityService.Attach(ctx, actor, entityID, filename, data)
}

func (c *countingEntities) Relate(ctx context.Context, actor domain.Actor, fromID, toID int64) (domain.Relation, error) {
	if c.panicRelate {
		panic("relation store exploded")
	}
	return c.EntityService.Relate(ctx, actor, fromID, toID)
}

// flakyPool fails the first failures content reads with err.
type flakyPool struct {
	TemplatePool
	mu       sync.Mutex
	failures int
	err      error
	reads    int
}

func (p *flakyPool) Content(ctx context.Context, attachment domain.Attachment) ([]byte, error) {
	p.mu.Lock()
	p.reads++
	fail := p.reads <= p.failures
	p.mu.Unlock()
	if fail {
		return nil, p.err
	}
	return p.TemplatePool.Content(ctx, attachment)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(_ context.Context, event notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

type fixture struct {
	store     *memory.Store
	workitems *workitem.Service
	entities  *countingEntities
	pool      *flakyPool
	toggle    *notify.Switch
	notifier  *recordingNotifier
	service   *Service
	actor     domain.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store := memory.NewStore()
	blobs := blobstore.NewFSStore(afero.NewMemMapFs(), "/files")
	toggle := notify.NewSwitch()
	notifier := &recordingNotifier{}
	workitems := workitem.NewService(store.Entities(), store.Attachments(), store.Relations(), blobs,
		notify.NewGated(notifier, toggle), nil, logger)

	actor, err := store.Actors().Create(ctx, domain.Actor{Login: "admin", Admin: true})
	require.NoError(t, err)
	require.Equal(t, int64(1), actor.ID)

	entities := &countingEntities{EntityService: workitems}
	pool := &flakyPool{TemplatePool: workitems}
	service := NewService(
		DefaultRegistry(AttributeMap{"status": "status_id"}),
		store.Actors(),
		entities,
		pool,
		store.Bookkeeping(),
		toggle,
		Config{FetchAttempts: 3},
		logger,
	)

	return &fixture{
		store:     store,
		workitems: workitems,
		entities:  entities,
		pool:      pool,
		toggle:    toggle,
		notifier:  notifier,
		service:   service,
		actor:     actor,
	}
}

func (f *fixture) upload(t *testing.T, name, content string) {
	t.Helper()
	_, err := f.workitems.UploadTemplate(context.Background(), f.actor, name, []byte(content))
	require.NoError(t, err)
}

func (f *fixture) call(t *testing.T, csv string, validate bool) (Result, error) {
	t.Helper()
	return f.service.Call(context.Background(), Request{
		ContentType: ContentTypeCSV,
		Data:        []byte(csv),
		Validate:    validate,
		InitiatorID: f.actor.ID,
	})
}

func day(d int) time.Time {
	return time.Date(2019, 1, d, 0, 0, 0, 0, time.UTC)
}

func TestCallReplaysGroupHistory(t *testing.T) {
	f := newFixture(t)

	result, err := f.call(t, "id,timestamp,user,subject\n"+
		"1,2019-01-02T00:00:00Z,1,second\n"+
		"1,2019-01-01T00:00:00Z,1,first\n"+
		"1,2019-01-03T00:00:00Z,1,third\n", true)
	require.NoError(t, err)
	require.True(t, result.Success, "%+v", result.Errors)

	assert.Equal(t, []string{"create:first", "update:second", "update:third"}, f.entities.calls)

	entities := f.store.AllEntities()
	require.Len(t, entities, 1)
	assert.Equal(t, "third", entities[0].Subject)
	assert.True(t, entities[0].CreatedAt.Equal(day(1)))
	assert.True(t, entities[0].UpdatedAt.Equal(day(3)))
	assert.Equal(t, map[string]int64{"1": entities[0].ID}, result.IDMap)
	assert.Equal(t, []int64{entities[0].ID}, result.Entities)

	journals, err := f.store.Journals().List(context.Background(), domain.JournableEntity, entities[0].ID)
	require.NoError(t, err)
	require.Len(t, journals, 3)
	assert.True(t, journals[0].CreatedAt.Equal(day(1)))
	assert.True(t, journals[1].CreatedAt.Equal(day(2)))
	assert.True(t, journals[2].CreatedAt.Equal(day(3)))
}

func TestCallTwoRowExample(t *testing.T) {
	f := newFixture(t)

	result, err := f.call(t, "id,timestamp,user,subject\n"+
		"1,2019-01-01T00:00:00Z,1,a\n"+
		"1,2019-01-02T00:00:00Z,1,a\n", true)
	require.NoError(t, err)
	require.True(t, result.Success)

	entities := f.store.AllEntities()
	require.Len(t, entities, 1)
	assert.True(t, entities[0].CreatedAt.Equal(day(1)))
	assert.True(t, entities[0].UpdatedAt.Equal(day(2)))
}

func TestCallCreatesOneEntityPerGroup(t *testing.T) {
	f := newFixture(t)

	result, err := f.call(t, "id,timestamp,user,subject\n"+
		"a,2019-01-01T00:00:00Z,1,a\n"+
		"b,2019-01-01T00:00:00Z,1,b\n"+
		"c,2019-01-01T00:00:00Z,1,c\n"+
		"b,2019-01-02T00:00:00Z,1,b2\n", true)
	require.NoError(t, err)
	require.True(t, result.Success)

	assert.Equal(t, 3, f.store.EntityCount())
	assert.Len(t, result.Entities, 3)
	assert.Len(t, result.IDMap, 3)
}

func TestCallRelatesResolvedGroups(t *testing.T) {
	f := newFixture(t)

	result, err := f.call(t, "id,timestamp,user,subject,related to\n"+
		"1,2019-01-01T00:00:00Z,1,one,\n"+
		"1,2019-01-02T00:00:00Z,1,one again,2\n"+
		"2,2019-01-01T00:00:00Z,1,two,\n", true)
	require.NoError(t, err)
	require.True(t, result.Success, "%+v", result.Errors)

	relations := f.store.AllRelations()
	require.Len(t, relations, 1)
	assert.Equal(t, result.IDMap["1"], relations[0].FromID)
	assert.Equal(t, result.IDMap["2"], relations[0].ToID)
	assert.Equal(t, domain.RelationRelates, relations[0].Type)
	assert.Equal(t, []int64{relations[0].ID}, result.Relations)
}

func TestCallOnlyRelatesFromTheLastRecordOfAGroup(t *testing.T) {
	f := newFixture(t)

	result, err := f.call(t, "id,timestamp,user,subject,related to\n"+
		"1,2019-01-01T00:00:00Z,1,one,2\n"+
		"1,2019-01-02T00:00:00Z,1,one again,\n"+
		"2,2019-01-01T00:00:00Z,1,two,\n", true)
	require.NoError(t, err)
	require.True(t, result.Success)

	assert.Empty(t, f.store.AllRelations())
}

func TestCallUnresolvedRelationFailsTheRun(t *testing.T) {
	f := newFixture(t)

	result, err := f.call(t, "id,timestamp,user,subject,related to\n"+
		"1,2019-01-01T00:00:00Z,1,one,99\n", true)
	require.NoError(t, err)

	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, []string{"Related work item can't be blank."}, result.Errors[0].Messages)
	assert.Zero(t, f.store.EntityCount())
}

func TestCallMissingTemplateFailsRecord(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "a.pdf", "pdf content")

	result, err := f.call(t, "id,timestamp,user,subject,attachments\n"+
		"1,2019-01-01T00:00:00Z,1,one,a.pdf;b.png\n", true)
	require.NoError(t, err)

	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, RecordError{
		ID:        "1",
		Line:      2,
		Timestamp: "2019-01-01T00:00:00Z",
		Messages:  []string{"The attachment 'b.png' does not exist."},
	}, result.Errors[0])
	assert.Empty(t, f.entities.calls)
	assert.Zero(t, f.store.EntityCount())
}

func TestCallMalformedTimestampFailsRun(t *testing.T) {
	f := newFixture(t)

	result, err := f.call(t, "id,timestamp,user,subject\n"+
		"1,2019-13-40,1,one\n"+
		"2,2019-01-01T00:00:00Z,1,two\n", true)
	require.NoError(t, err)

	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "2019-13-40", result.Errors[0].Timestamp)
	assert.Equal(t, []string{"'2019-13-40' is not an ISO 8601 compatible timestamp."}, result.Errors[0].Messages)
	assert.Equal(t, []string{"create:two"}, f.entities.calls)
	assert.Zero(t, f.store.EntityCount())
}

func TestCallUnknownUserHaltsOnlyItsGroup(t *testing.T) {
	f := newFixture(t)

	result, err := f.call(t, "id,timestamp,user,subject\n"+
		"1,2019-01-01T00:00:00Z,77,one\n"+
		"1,2019-01-02T00:00:00Z,1,one again\n"+
		"2,2019-01-01T00:00:00Z,1,two\n"+
		"2,2019-01-02T00:00:00Z,1,two again\n", true)
	require.NoError(t, err)

	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "1", result.Errors[0].ID)
	assert.Equal(t, []string{"The user with the id 77 does not exist"}, result.Errors[0].Messages)
	assert.Equal(t, []string{"create:two", "update:two again"}, f.entities.calls)
	assert.Zero(t, f.store.EntityCount())
}

func TestCallFailedGroupNeverRelates(t *testing.T) {
	f := newFixture(t)

	result, err := f.call(t, "id,timestamp,user,subject,related to\n"+
		"1,2019-01-01T00:00:00Z,1,one,2\n"+
		"2,2019-01-01T00:00:00Z,1,,1\n", true)
	require.NoError(t, err)

	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "2", result.Errors[0].ID)
	assert.Equal(t, []string{"Subject can't be blank."}, result.Errors[0].Messages)
	assert.Empty(t, f.store.AllRelations())
	assert.Zero(t, f.store.EntityCount())
}

func TestCallWithoutValidationBypassesBusinessRules(t *testing.T) {
	f := newFixture(t)
	csv := "id,timestamp,user,subject,done_ratio\n" +
		"1,2019-01-01T00:00:00Z,1,,150\n"

	result, err := f.call(t, csv, true)
	require.NoError(t, err)
	assert.False(t, result.Success)

	result, err = f.call(t, csv, false)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, f.store.EntityCount())
}

func TestCallWithoutValidationStillRejectsUnknownAttributes(t *testing.T) {
	f := newFixture(t)

	result, err := f.call(t, "id,timestamp,user,subject,colour\n"+
		"1,2019-01-01T00:00:00Z,1,one,red\n", false)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, []string{"colour is not a known attribute."}, result.Errors[0].Messages)
}

func TestCallAttachesTemplatesAndBackdatesThem(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "Plan.pdf", "plan")
	f.upload(t, "notes.txt", "notes")

	result, err := f.call(t, "id,timestamp,user,subject,attachments\n"+
		"1,2019-01-01T00:00:00Z,1,one,plan.pdf;notes.txt\n"+
		"1,2019-01-02T00:00:00Z,1,one,Plan (Kopie).pdf;notes.txt\n"+
		"1,2019-01-03T00:00:00Z,1,one,plan.pdf\n", true)
	require.NoError(t, err)
	require.True(t, result.Success, "%+v", result.Errors)

	ctx := context.Background()
	entityID := result.IDMap["1"]
	attachments, err := f.workitems.ListAttachments(ctx, entityID)
	require.NoError(t, err)
	require.Len(t, attachments, 1)
	assert.Equal(t, "plan.pdf", attachments[0].Filename)
	assert.True(t, attachments[0].CreatedAt.Equal(day(1)))
	assert.True(t, attachments[0].UpdatedAt.Equal(day(1)))
	assert.Equal(t, []int64{attachments[0].ID}, result.Attachments)

	journal, err := f.store.Journals().Latest(ctx, domain.JournableAttachment, attachments[0].ID)
	require.NoError(t, err)
	assert.True(t, journal.CreatedAt.Equal(day(1)))

	content, err := f.workitems.Content(ctx, attachments[0])
	require.NoError(t, err)
	assert.Equal(t, []byte("plan"), content)
}

func TestCallAttachmentDiffIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "a.pdf", "a")

	result, err := f.call(t, "id,timestamp,user,subject,attachments\n"+
		"1,2019-01-01T00:00:00Z,1,one,a.pdf\n", true)
	require.NoError(t, err)
	require.True(t, result.Success)

	records, err := NewCSVParser(AttributeMap{}).Parse(context.Background(), stringsReader(
		"id,timestamp,user,subject,attachments\n1,2019-01-02T00:00:00Z,1,one,A.PDF\n"))
	require.NoError(t, err)
	records.IDs["1"] = result.IDMap["1"]

	importer := &EntityImporter{
		actors:        f.store.Actors(),
		entities:      f.entities,
		templates:     newTemplateResolver(f.pool),
		fetchAttempts: 1,
		logger:        logrus.New(),
	}
	var record *Record
	records.Each(func(r *Record) { record = r })

	require.NoError(t, importer.Import(context.Background(), record, records.IDs, true))
	assert.False(t, record.Invalid())
	assert.Empty(t, record.AttachmentCalls())
}

func TestCallRetriesTransientFetchErrors(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "a.pdf", "a")
	f.pool.failures = 2
	f.pool.err = io.ErrUnexpectedEOF

	result, err := f.call(t, "id,timestamp,user,subject,attachments\n"+
		"1,2019-01-01T00:00:00Z,1,one,a.pdf\n", true)
	require.NoError(t, err)

	assert.True(t, result.Success, "%+v", result.Errors)
	assert.Equal(t, 3, f.pool.reads)
	assert.Len(t, result.Attachments, 1)
}

func TestCallGivesUpAfterThreeFetchAttempts(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "a.pdf", "a")
	f.pool.failures = 10
	f.pool.err = io.ErrUnexpectedEOF

	result, err := f.call(t, "id,timestamp,user,subject,attachments\n"+
		"1,2019-01-01T00:00:00Z,1,one,a.pdf\n", true)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 3, f.pool.reads)
	assert.Equal(t, []string{"The attachment 'a.pdf' could not be fetched."}, result.Errors[0].Messages)
	assert.Zero(t, f.store.EntityCount())
}

func TestCallReturnsUnexpectedErrorsAfterCompensating(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("database unavailable")
	f.entities.failUpdate = boom

	_, err := f.call(t, "id,timestamp,user,subject\n"+
		"2,2019-01-01T00:00:00Z,1,two\n"+
		"1,2019-01-01T00:00:00Z,1,one\n"+
		"1,2019-01-02T00:00:00Z,1,one again\n", true)

	assert.ErrorIs(t, err, boom)
	assert.Zero(t, f.store.EntityCount())
	assert.True(t, f.toggle.Enabled())
}

func TestCallRemovesEntityWhoseAttachmentFailed(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "a.pdf", "pdf")
	boom := errors.New("disk full")
	f.entities.failAttach = boom

	_, err := f.call(t, "id,timestamp,user,subject,attachments\n"+
		"1,2019-01-01T00:00:00Z,1,one,a.pdf\n", true)

	assert.ErrorIs(t, err, boom)
	assert.Zero(t, f.store.EntityCount())
	assert.True(t, f.toggle.Enabled())
}

func TestCallReraisesPanicsAfterCompensating(t *testing.T) {
	f := newFixture(t)
	f.entities.panicRelate = true

	assert.PanicsWithValue(t, "relation store exploded", func() {
		_, _ = f.call(t, "id,timestamp,user,subject,related to\n"+
			"1,2019-01-01T00:00:00Z,1,one,2\n"+
			"2,2019-01-01T00:00:00Z,1,two,\n", true)
	})

	assert.Zero(t, f.store.EntityCount())
	assert.True(t, f.toggle.Enabled())
}

func TestCompensateSkipsVanishedEntities(t *testing.T) {
	f := newFixture(t)

	created, err := f.workitems.Create(context.Background(), f.actor, workitem.Attributes{"subject": "x"}, workitem.Options{})
	require.NoError(t, err)

	r := &run{
		records:      NewRecords(),
		initiator:    f.actor,
		created:      map[int64]domain.Entity{created.ID: created, 999: {ID: 999}},
		createdOrder: []int64{999, created.ID},
	}

	require.NoError(t, f.service.compensate(context.Background(), r, logrus.New()))
	assert.Zero(t, f.store.EntityCount())
}

func TestCompensateKeepsEntitiesChangedByOthers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.workitems.Create(ctx, f.actor, workitem.Attributes{"subject": "x"}, workitem.Options{})
	require.NoError(t, err)
	_, err = f.workitems.Update(ctx, f.actor, created, workitem.Attributes{"subject": "y"}, workitem.Options{})
	require.NoError(t, err)

	r := &run{
		records:      NewRecords(),
		initiator:    f.actor,
		created:      map[int64]domain.Entity{created.ID: created},
		createdOrder: []int64{created.ID},
	}

	logger, hook := test.NewNullLogger()
	require.NoError(t, f.service.compensate(ctx, r, logger))
	assert.Equal(t, 1, f.store.EntityCount())

	var kept *logrus.Entry
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel {
			kept = entry
		}
	}
	require.NotNil(t, kept)
	assert.Equal(t, created.ID, kept.Data["entity_id"])
	assert.Equal(t, created.LockVersion+1, kept.Data["current_lock_version"])
}

func TestCallSuppressesNotificationsForTheRun(t *testing.T) {
	f := newFixture(t)

	result, err := f.call(t, "id,timestamp,user,subject\n"+
		"1,2019-01-01T00:00:00Z,1,one\n", true)
	require.NoError(t, err)
	require.True(t, result.Success)

	assert.Empty(t, f.notifier.events)
	assert.True(t, f.toggle.Enabled())

	_, err = f.workitems.Create(context.Background(), f.actor, workitem.Attributes{"subject": "after"}, workitem.Options{})
	require.NoError(t, err)
	assert.Len(t, f.notifier.events, 1)
}

func TestCallRejectsUnknownContentTypes(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Call(context.Background(), Request{ContentType: "application/pdf", Data: []byte("x")})

	assert.ErrorIs(t, err, ErrUnregisteredParser)
}

func TestCallRejectsSourcesWithoutRequiredColumns(t *testing.T) {
	f := newFixture(t)

	_, err := f.call(t, "id,subject\n1,one\n", true)

	assert.ErrorIs(t, err, ErrMissingColumn)
}
