package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	columnID          = "id"
	columnTimestamp   = "timestamp"
	columnUser        = "user"
	columnAttachments = "attachments"
	columnRelatedTo   = "related to"
)

var (
	// ErrMissingColumn is matched by errors about absent required columns.
	ErrMissingColumn = errors.New("missing required column")

	requiredColumns = []string{columnID, columnTimestamp, columnUser}

	// ISO 8601 forms accepted for the timestamp column.
	timestampLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04Z07:00",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04",
		"2006-01-02",
	}
)

// MissingColumnError names a required column absent from the header row.
type MissingColumnError struct {
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("%s: %q", ErrMissingColumn.Error(), e.Column)
}

func (e *MissingColumnError) Is(target error) bool {
	return target == ErrMissingColumn
}

// Parser turns a source document into grouped records.
type Parser interface {
	Parse(ctx context.Context, source io.Reader) (*Records, error)
}

// row is one source row before it becomes a record.
type row struct {
	line   int
	values []string
}

// buildRecords maps the header row and data rows into sorted records.
func buildRecords(ctx context.Context, attributes AttributeMap, header []string, rows []row) (*Records, error) {
	keys := make([]string, len(header))
	present := map[string]bool{}
	for i, h := range header {
		keys[i] = attributes.Key(h)
		present[keys[i]] = true
	}
	for _, column := range requiredColumns {
		if !present[column] {
			return nil, &MissingColumnError{Column: column}
		}
	}

	records := NewRecords()
	for _, r := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		values := map[string]string{}
		blank := true
		for i, key := range keys {
			value := ""
			if i < len(r.values) {
				value = r.values[i]
			}
			if strings.TrimSpace(value) != "" {
				blank = false
			}
			values[key] = value
		}
		if blank {
			continue
		}
		records.Add(newRecord(r.line, values))
	}
	records.Sort()
	return records, nil
}

func newRecord(line int, values map[string]string) *Record {
	record := &Record{
		ID:           strings.TrimSpace(values[columnID]),
		Line:         line,
		RawTimestamp: strings.TrimSpace(values[columnTimestamp]),
		ActorRef:     strings.TrimSpace(values[columnUser]),
		Attachments:  splitList(values[columnAttachments]),
		RelatedIDs:   splitList(values[columnRelatedTo]),
		Attributes:   map[string]string{},
	}

	for key, value := range values {
		switch key {
		case columnID, columnTimestamp, columnUser, columnAttachments, columnRelatedTo:
			continue
		}
		record.Attributes[key] = value
	}

	if record.ID == "" {
		record.Fail("The id must not be blank.")
	}

	timestamp, ok := parseTimestamp(record.RawTimestamp)
	if !ok {
		record.Fail(fmt.Sprintf("'%s' is not an ISO 8601 compatible timestamp.", record.RawTimestamp))
	} else {
		record.Timestamp = timestamp
	}

	return record
}

func parseTimestamp(raw string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func splitList(raw string) []string {
	var items []string
	for _, part := range strings.Split(raw, ";") {
		if item := strings.TrimSpace(part); item != "" {
			items = append(items, item)
		}
	}
	return items
}
