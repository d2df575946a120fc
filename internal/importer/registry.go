package importer

import (
	"errors"
	"fmt"
	"mime"
	"strings"
)

const (
	ContentTypeCSV  = "text/csv"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// ErrUnregisteredParser is matched by lookups for unknown content types.
var ErrUnregisteredParser = errors.New("no parser registered for content type")

// UnregisteredParserError names the content type that has no parser.
type UnregisteredParserError struct {
	ContentType string
}

func (e *UnregisteredParserError) Error() string {
	return fmt.Sprintf("%s %q", ErrUnregisteredParser.Error(), e.ContentType)
}

func (e *UnregisteredParserError) Is(target error) bool {
	return target == ErrUnregisteredParser
}

// Registry maps content types to parsers. It is built once at start up.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry builds a registry from content type to parser pairs.
func NewRegistry(parsers map[string]Parser) *Registry {
	table := make(map[string]Parser, len(parsers))
	for contentType, parser := range parsers {
		table[mediaType(contentType)] = parser
	}
	return &Registry{parsers: table}
}

// DefaultRegistry registers the CSV and XLSX parsers.
func DefaultRegistry(attributes AttributeMap) *Registry {
	csvParser := NewCSVParser(attributes)
	return NewRegistry(map[string]Parser{
		ContentTypeCSV:                csvParser,
		"application/csv":             csvParser,
		"text/comma-separated-values": csvParser,
		ContentTypeXLSX:               NewXLSXParser(attributes),
	})
}

// ForContentType returns the parser registered for contentType. Parameters
// such as charset are ignored.
func (r *Registry) ForContentType(contentType string) (Parser, error) {
	parser, ok := r.parsers[mediaType(contentType)]
	if !ok {
		return nil, &UnregisteredParserError{ContentType: contentType}
	}
	return parser, nil
}

// ContentTypes lists the registered media types.
func (r *Registry) ContentTypes() []string {
	types := make([]string, 0, len(r.parsers))
	for contentType := range r.parsers {
		types = append(types, contentType)
	}
	return types
}

func mediaType(contentType string) string {
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		return parsed
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}
