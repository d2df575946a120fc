package main

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/replay/internal/importer"
)

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, importer.ContentTypeXLSX, contentTypeFor("history.XLSX"))
	assert.Equal(t, importer.ContentTypeCSV, contentTypeFor("history.csv"))
	assert.Equal(t, importer.ContentTypeCSV, contentTypeFor("history"))
}

func TestUploadDirSkipsDirectories(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/pool/a.pdf", []byte("a"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/pool/b.txt", []byte("b"), 0o644))
	require.NoError(t, fs.MkdirAll("/pool/nested", 0o755))

	uploaded := map[string]string{}
	err := uploadDir(context.Background(), fs, "/pool", func(name string, content []byte) error {
		uploaded[name] = string(content)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a.pdf": "a", "b.txt": "b"}, uploaded)
}

func TestRootRegistersCommands(t *testing.T) {
	cmd := newRootCmd()

	for _, path := range [][]string{{"migrate"}, {"import"}, {"templates", "upload"}, {"templates", "list"}} {
		found, _, err := cmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], found.Name())
	}
}
