package importer

import (
	"time"

	"github.com/rpattn/replay/internal/domain"
)

// AttachmentOp says what an attachment call did.
type AttachmentOp string

const (
	AttachmentCreated AttachmentOp = "created"
	AttachmentDeleted AttachmentOp = "deleted"
)

// AttachmentCall is the outcome of adding or removing one attachment.
type AttachmentCall struct {
	Op      AttachmentOp
	Name    string
	Outcome Outcome[domain.Attachment]
}

// Record is one parsed source row.
type Record struct {
	// ID is the external id shared by every row of the same work item.
	ID string
	// Line is the source line the row started on.
	Line int
	// Timestamp is the moment the row describes. Zero when RawTimestamp did not parse.
	Timestamp    time.Time
	RawTimestamp string
	// ActorRef is the raw value of the user column.
	ActorRef string
	// Attributes holds the remaining normalized columns.
	Attributes  map[string]string
	Attachments []string
	RelatedIDs  []string

	actor           *domain.Actor
	entityCall      *Outcome[domain.Entity]
	created         bool
	attachmentCalls []AttachmentCall
	relationCalls   []Outcome[domain.Relation]
	messages        []string
}

// Fail marks the record invalid with messages.
func (r *Record) Fail(messages ...string) {
	r.messages = append(r.messages, messages...)
}

// SetEntityCall stores the outcome of the create or update call. created says
// whether the call created a new entity.
func (r *Record) SetEntityCall(outcome Outcome[domain.Entity], created bool) {
	r.entityCall = &outcome
	r.created = created && outcome.Success()
	r.messages = append(r.messages, outcome.Messages()...)
}

// AddAttachmentCall stores the outcome of an attachment change.
func (r *Record) AddAttachmentCall(call AttachmentCall) {
	r.attachmentCalls = append(r.attachmentCalls, call)
	r.messages = append(r.messages, call.Outcome.Messages()...)
}

// AddRelationCall stores the outcome of a relation call.
func (r *Record) AddRelationCall(outcome Outcome[domain.Relation]) {
	r.relationCalls = append(r.relationCalls, outcome)
	r.messages = append(r.messages, outcome.Messages()...)
}

// Invalid reports whether any call on the record failed.
func (r *Record) Invalid() bool {
	return len(r.messages) > 0
}

// Messages returns every failure message in the order they were raised.
func (r *Record) Messages() []string {
	return append([]string(nil), r.messages...)
}

// Entity returns the entity written by the record's call, if any.
func (r *Record) Entity() (domain.Entity, bool) {
	if r.entityCall == nil || !r.entityCall.Success() {
		return domain.Entity{}, false
	}
	return r.entityCall.Value(), true
}

// Created reports whether the record's call created its entity.
func (r *Record) Created() bool {
	return r.created
}

// Actor returns the actor resolved for the record during entity import.
func (r *Record) Actor() (domain.Actor, bool) {
	if r.actor == nil {
		return domain.Actor{}, false
	}
	return *r.actor, true
}

// CreatedAttachments returns the attachments successfully added by this record.
func (r *Record) CreatedAttachments() []domain.Attachment {
	var attachments []domain.Attachment
	for _, call := range r.attachmentCalls {
		if call.Op == AttachmentCreated && call.Outcome.Success() {
			attachments = append(attachments, call.Outcome.Value())
		}
	}
	return attachments
}

// AttachmentCalls returns every attachment call made for the record.
func (r *Record) AttachmentCalls() []AttachmentCall {
	return append([]AttachmentCall(nil), r.attachmentCalls...)
}

// Relations returns the relations successfully created for the record.
func (r *Record) Relations() []domain.Relation {
	var relations []domain.Relation
	for _, call := range r.relationCalls {
		if call.Success() {
			relations = append(relations, call.Value())
		}
	}
	return relations
}
