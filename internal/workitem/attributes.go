package workitem

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/replay/internal/domain"
)

// Attributes are raw attribute values keyed by attribute name.
type Attributes map[string]string

type attributeKind int

const (
	kindString attributeKind = iota
	kindID
	kindDate
	kindFloat
	kindInt
)

const dateLayout = "2006-01-02"

var (
	knownAttributes = map[string]attributeKind{
		"subject":          kindString,
		"description":      kindString,
		"type_id":          kindID,
		"status_id":        kindID,
		"priority_id":      kindID,
		"assigned_to_id":   kindID,
		"responsible_id":   kindID,
		"category_id":      kindID,
		"parent_id":        kindID,
		"fixed_version_id": kindID,
		"project_id":       kindID,
		"author_id":        kindID,
		"start_date":       kindDate,
		"due_date":         kindDate,
		"estimated_hours":  kindFloat,
		"done_ratio":       kindInt,
	}

	// consumed by callers before attributes reach the entity
	ignoredAttributes = map[string]struct{}{
		"user":       {},
		"related to": {},
	}

	customFieldPattern = regexp.MustCompile(`^custom_field_\d+$`)
)

// apply coerces attrs onto entity. Coercion failures are structural and are
// reported no matter whether business rules are checked.
func apply(entity domain.Entity, attrs Attributes) (domain.Entity, []string) {
	keys := make([]string, 0, len(attrs))
	for key := range attrs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var messages []string
	for _, key := range keys {
		raw := strings.TrimSpace(attrs[key])

		if _, skip := ignoredAttributes[key]; skip {
			continue
		}

		kind, known := knownAttributes[key]
		if !known {
			if customFieldPattern.MatchString(key) {
				kind, known = kindString, true
			}
		}
		if !known {
			messages = append(messages, fmt.Sprintf("%s is not a known attribute.", key))
			continue
		}

		switch key {
		case "subject":
			entity = entity.WithSubject(raw)
			continue
		case "author_id":
			if raw == "" {
				continue
			}
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id <= 0 {
				messages = append(messages, fmt.Sprintf("'%s' is not a valid id for %s.", raw, key))
				continue
			}
			entity.AuthorID = id
			continue
		}

		if raw == "" {
			entity = entity.WithProperty(key, nil)
			continue
		}

		value, err := coerce(kind, raw)
		if err != nil {
			messages = append(messages, fmt.Sprintf("'%s' is not a valid %s for %s.", raw, err.Error(), key))
			continue
		}
		entity = entity.WithProperty(key, value)
	}

	return entity, messages
}

type kindError string

func (e kindError) Error() string { return string(e) }

func coerce(kind attributeKind, raw string) (any, error) {
	switch kind {
	case kindID:
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return nil, kindError("id")
		}
		return id, nil
	case kindInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, kindError("integer")
		}
		return n, nil
	case kindFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, kindError("number")
		}
		return f, nil
	case kindDate:
		d, err := time.Parse(dateLayout, raw)
		if err != nil {
			return nil, kindError("date")
		}
		return d.Format(dateLayout), nil
	default:
		return raw, nil
	}
}

func floatProperty(entity domain.Entity, key string) (float64, bool) {
	value, ok := entity.Property(key)
	if !ok || value == nil {
		return 0, false
	}
	switch v := value.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case interface{ Float64() (float64, error) }:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

func dateProperty(entity domain.Entity, key string) (time.Time, bool) {
	value, ok := entity.Property(key)
	if !ok || value == nil {
		return time.Time{}, false
	}
	s, ok := value.(string)
	if !ok {
		return time.Time{}, false
	}
	d, err := time.Parse(dateLayout, s)
	return d, err == nil
}
