package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutConfigFile(t *testing.T) {
	cfg, err := load(viper.New(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "fs", cfg.Storage.Backend)
	assert.Equal(t, 3, cfg.Import.FetchAttempts)
	assert.Equal(t, "fixed_version_id", cfg.Import.AttributeMap["version"])
	assert.Equal(t, "work_packages", cfg.Import.Channel)
}

func TestLoadReadsYAMLAndMergesAttributeMap(t *testing.T) {
	dir := t.TempDir()
	yaml := `
storage:
  backend: gcs
  bucket: history-templates
import:
  fetch_attempts: 5
  fetch_backoff: 2s
  attribute_map:
    Owner: responsible_id
  workflow:
    "1": [2, 3]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	cfg, err := load(viper.New(), dir)
	require.NoError(t, err)

	assert.Equal(t, "gcs", cfg.Storage.Backend)
	assert.Equal(t, "history-templates", cfg.Storage.Bucket)
	assert.Equal(t, 5, cfg.Import.FetchAttempts)
	assert.Equal(t, 2*time.Second, cfg.Import.FetchBackoff)
	assert.Equal(t, "responsible_id", cfg.Import.AttributeMap["owner"])
	assert.Equal(t, "status_id", cfg.Import.AttributeMap["status"])
	assert.Equal(t, []int64{2, 3}, cfg.Import.Workflow["1"])
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("REPLAY_IMPORT_CHANNEL", "legacy")
	t.Setenv("REPLAY_DATABASE_PORT", "6543")

	cfg, err := load(viper.New(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "legacy", cfg.Import.Channel)
	assert.Equal(t, 6543, cfg.Database.Port)
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := Default()
	cfg.Storage.Backend = "s3"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Import.FetchAttempts = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Storage.Backend = "gcs"
	assert.Error(t, cfg.Validate(), "gcs without a bucket")
}
