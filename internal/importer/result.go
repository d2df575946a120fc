package importer

import "time"

// Result summarizes a run. On success it lists what was written; on failure
// it lists every invalid record in scan order.
type Result struct {
	Success     bool             `json:"success"`
	Entities    []int64          `json:"entities,omitempty"`
	Attachments []int64          `json:"attachments,omitempty"`
	Relations   []int64          `json:"relations,omitempty"`
	IDMap       map[string]int64 `json:"idMap,omitempty"`
	Errors      []RecordError    `json:"errors,omitempty"`
}

// RecordError groups the messages of one invalid record.
type RecordError struct {
	ID        string   `json:"id"`
	Line      int      `json:"line"`
	Timestamp string   `json:"timestamp"`
	Messages  []string `json:"messages"`
}

func failureResult(records *Records) Result {
	result := Result{Success: false}
	for _, record := range records.Invalid() {
		timestamp := record.RawTimestamp
		if !record.Timestamp.IsZero() {
			timestamp = record.Timestamp.Format(time.RFC3339)
		}
		result.Errors = append(result.Errors, RecordError{
			ID:        record.ID,
			Line:      record.Line,
			Timestamp: timestamp,
			Messages:  record.Messages(),
		})
	}
	return result
}

func successResult(records *Records) Result {
	result := Result{
		Success: true,
		IDMap:   make(map[string]int64, len(records.IDs)),
	}
	for external, internal := range records.IDs {
		result.IDMap[external] = internal
	}

	seenEntities := map[int64]bool{}
	removed := map[int64]bool{}
	var created []int64

	records.Each(func(record *Record) {
		if entity, ok := record.Entity(); ok && !seenEntities[entity.ID] {
			seenEntities[entity.ID] = true
			result.Entities = append(result.Entities, entity.ID)
		}
		for _, call := range record.AttachmentCalls() {
			if !call.Outcome.Success() {
				continue
			}
			switch call.Op {
			case AttachmentCreated:
				created = append(created, call.Outcome.Value().ID)
			case AttachmentDeleted:
				removed[call.Outcome.Value().ID] = true
			}
		}
		for _, relation := range record.Relations() {
			result.Relations = append(result.Relations, relation.ID)
		}
	})

	for _, id := range created {
		if !removed[id] {
			result.Attachments = append(result.Attachments, id)
		}
	}
	return result
}
