package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "debug", "json")

	ctx, entry := WithFields(WithContext(context.Background(), logrus.NewEntry(logger)), logrus.Fields{"run_id": "r1"})
	entry.Debug("phase started")
	FromContext(ctx).Info("again")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &decoded))
	assert.Equal(t, "r1", decoded["run_id"])
	assert.Equal(t, "phase started", decoded["msg"])
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	assert.Equal(t, logrus.InfoLevel, parseLevel("verbose"))
	assert.Equal(t, logrus.WarnLevel, parseLevel("WARNING"))
}

func TestFromContextWithoutEntry(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))
}
