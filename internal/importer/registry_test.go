package importer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLooksUpByMediaType(t *testing.T) {
	registry := DefaultRegistry(AttributeMap{})

	parser, err := registry.ForContentType("text/csv; charset=utf-8")
	require.NoError(t, err)
	assert.IsType(t, &CSVParser{}, parser)

	parser, err = registry.ForContentType(ContentTypeXLSX)
	require.NoError(t, err)
	assert.IsType(t, &XLSXParser{}, parser)
}

func TestRegistryRejectsUnknownContentType(t *testing.T) {
	registry := DefaultRegistry(AttributeMap{})

	_, err := registry.ForContentType("application/json")

	var unregistered *UnregisteredParserError
	require.ErrorAs(t, err, &unregistered)
	assert.Equal(t, "application/json", unregistered.ContentType)
	assert.ErrorIs(t, err, ErrUnregisteredParser)
}
