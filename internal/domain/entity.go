package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

// Entity is a tracked work item. Everything but the subject lives in Properties,
// keyed by attribute name (status_id, start_date, custom_field_3, ...).
type Entity struct {
	ID          int64          `json:"id"`
	Subject     string         `json:"subject"`
	Properties  map[string]any `json:"properties"`
	AuthorID    int64          `json:"author_id"`
	LockVersion int64          `json:"lock_version"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// NewEntity creates an unsaved entity authored by the given actor.
func NewEntity(authorID int64) Entity {
	now := time.Now()
	return Entity{
		AuthorID:   authorID,
		Properties: map[string]any{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// IsNew reports whether the entity has not been persisted yet.
func (e Entity) IsNew() bool {
	return e.ID == 0
}

// WithProperty returns a new entity with an added/updated property
func (e Entity) WithProperty(key string, value any) Entity {
	newProperties := copyProperties(e.Properties)
	newProperties[key] = value

	e.Properties = newProperties
	return e
}

// WithoutProperty returns a new entity without the specified property
func (e Entity) WithoutProperty(key string) Entity {
	newProperties := copyProperties(e.Properties)
	delete(newProperties, key)

	e.Properties = newProperties
	return e
}

// WithSubject returns a new entity with the given subject
func (e Entity) WithSubject(subject string) Entity {
	e.Properties = copyProperties(e.Properties)
	e.Subject = subject
	return e
}

// WithTimestamps returns a copy carrying the given bookkeeping times.
func (e Entity) WithTimestamps(createdAt, updatedAt time.Time) Entity {
	e.Properties = copyProperties(e.Properties)
	e.CreatedAt = createdAt
	e.UpdatedAt = updatedAt
	return e
}

// Property returns a property value and whether it was set.
func (e Entity) Property(key string) (any, bool) {
	if e.Properties == nil {
		return nil, false
	}
	value, ok := e.Properties[key]
	return value, ok
}

// IntProperty returns an integer property such as a foreign key, or 0.
func (e Entity) IntProperty(key string) int64 {
	value, ok := e.Property(key)
	if !ok || value == nil {
		return 0
	}
	switch v := value.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}

// GetPropertiesAsJSONB marshals the properties for storage.
func (e *Entity) GetPropertiesAsJSONB() (json.RawMessage, error) {
	if e.Properties == nil {
		e.Properties = make(map[string]any)
	}
	return json.Marshal(e.Properties)
}

// FromJSONBProperties creates properties map from JSONB data
func FromJSONBProperties(propertiesJSON json.RawMessage) (map[string]any, error) {
	properties := map[string]any{}
	if len(propertiesJSON) == 0 {
		return properties, nil
	}
	decoder := json.NewDecoder(bytes.NewReader(propertiesJSON))
	decoder.UseNumber()
	if err := decoder.Decode(&properties); err != nil {
		return nil, err
	}
	return properties, nil
}

// copyProperties creates a shallow copy of the properties map so With* stays immutable
func copyProperties(properties map[string]any) map[string]any {
	newProperties := make(map[string]any, len(properties))
	for k, v := range properties {
		newProperties[k] = v
	}
	return newProperties
}
