package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	events []Event
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

func TestSwitchSuppressAndRestore(t *testing.T) {
	toggle := NewSwitch()
	require.True(t, toggle.Enabled())

	restore := toggle.Suppress()
	assert.False(t, toggle.Enabled())

	restore()
	restore()
	assert.True(t, toggle.Enabled())
}

func TestSwitchNests(t *testing.T) {
	toggle := NewSwitch()

	outer := toggle.Suppress()
	inner := toggle.Suppress()
	inner()
	assert.False(t, toggle.Enabled())

	outer()
	assert.True(t, toggle.Enabled())
}

func TestGatedDropsWhileSuppressed(t *testing.T) {
	ctx := context.Background()
	toggle := NewSwitch()
	rec := &recordingNotifier{}
	gated := NewGated(rec, toggle)

	restore := toggle.Suppress()
	require.NoError(t, gated.Notify(ctx, Event{Kind: EntityCreated}))
	restore()
	require.NoError(t, gated.Notify(ctx, Event{Kind: EntityUpdated}))

	require.Len(t, rec.events, 1)
	assert.Equal(t, EntityUpdated, rec.events[0].Kind)
}

func TestMultiDeliversToAllAndReturnsFirstError(t *testing.T) {
	boom := errors.New("boom")
	first := &recordingNotifier{err: boom}
	second := &recordingNotifier{}

	err := Multi{first, second}.Notify(context.Background(), Event{Kind: ImportFailed})

	assert.ErrorIs(t, err, boom)
	assert.Len(t, first.events, 1)
	assert.Len(t, second.events, 1)
}
