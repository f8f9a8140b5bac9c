// Package events is the append-only journal of who changed what, and when.
//
// An Event is immutable once appended. Each Kind is registered with the
// subject it applies to, the payload it carries and how it is rendered in
// the journal views. User-visible state is always changed by applying an
// event, so replaying the journal of an amendement rebuilds its current
// user content.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnknownKind     = errors.New("unknown event kind")
	ErrSubjectMismatch = errors.New("event subject does not match kind")
	ErrPayloadMismatch = errors.New("event payload does not match kind")
)

type SubjectType string

const (
	SubjectAmendement SubjectType = "amendement"
	SubjectArticle    SubjectType = "article"
	SubjectLecture    SubjectType = "lecture"
	SubjectUser       SubjectType = "user"
)

type Subject struct {
	Type SubjectType `json:"type"`
	ID   int64       `json:"id"`
}

func Amendement(id int64) Subject { return Subject{Type: SubjectAmendement, ID: id} }
func Article(id int64) Subject    { return Subject{Type: SubjectArticle, ID: id} }
func Lecture(id int64) Subject    { return Subject{Type: SubjectLecture, ID: id} }

// Actor is the user who caused an event. System events have no actor.
type Actor struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Label is how a user is shown as a holder: "David (david@exemple.gouv.fr)".
func (a Actor) Label() string {
	if a.Name == "" {
		return a.Email
	}
	return fmt.Sprintf("%s (%s)", a.Name, a.Email)
}

// Meta keys recorded alongside the payload.
const (
	MetaChambre   = "chambre"
	MetaIP        = "ip"
	MetaRequestID = "request_id"
)

type contextMetaKey struct{}

// ContextWithMeta attaches request metadata that is copied onto every event
// recorded with ctx.
func ContextWithMeta(ctx context.Context, meta map[string]string) context.Context {
	merged := map[string]string{}
	for k, v := range MetaFromContext(ctx) {
		merged[k] = v
	}
	for k, v := range meta {
		if v != "" {
			merged[k] = v
		}
	}
	return context.WithValue(ctx, contextMetaKey{}, merged)
}

func MetaFromContext(ctx context.Context) map[string]string {
	meta, _ := ctx.Value(contextMetaKey{}).(map[string]string)
	return meta
}

type Event struct {
	ID        uuid.UUID         `json:"id"`
	Seq       int64             `json:"seq"`
	Kind      Kind              `json:"kind"`
	CreatedAt time.Time         `json:"created_at"`
	Actor     *Actor            `json:"actor,omitempty"`
	Subject   Subject           `json:"subject"`
	LectureID int64             `json:"lecture_id"`
	Payload   Payload           `json:"data"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// New builds an event after checking that the kind accepts this subject
// and payload. Seq is assigned by the store on append.
func New(kind Kind, subject Subject, lectureID int64, actor *Actor, payload Payload, now time.Time) (Event, error) {
	def, ok := definitions[kind]
	if !ok {
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if def.subject != subject.Type {
		return Event{}, fmt.Errorf("%w: %s expects %s, got %s", ErrSubjectMismatch, kind, def.subject, subject.Type)
	}
	if !def.accepts(payload) {
		return Event{}, fmt.Errorf("%w: %s got %T", ErrPayloadMismatch, kind, payload)
	}
	return Event{
		ID:        uuid.New(),
		Kind:      kind,
		CreatedAt: now.UTC(),
		Actor:     actor,
		Subject:   subject,
		LectureID: lectureID,
		Payload:   payload,
		Meta:      map[string]string{},
	}, nil
}

// WithMeta returns a copy of e with the key set.
func (e Event) WithMeta(key, value string) Event {
	meta := make(map[string]string, len(e.Meta)+1)
	for k, v := range e.Meta {
		meta[k] = v
	}
	if value != "" {
		meta[key] = value
	}
	e.Meta = meta
	return e
}

// Summary is the one-line HTML sentence shown in journals.
func (e Event) Summary() string {
	def, ok := definitions[e.Kind]
	if !ok || def.summary == nil {
		return ""
	}
	return def.summary(e)
}

// Details is the HTML fragment shown under the summary, usually a word diff.
func (e Event) Details() string {
	def, ok := definitions[e.Kind]
	if !ok || def.details == nil {
		return ""
	}
	return def.details(e)
}
