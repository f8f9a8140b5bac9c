package store

import (
	"context"
	"time"

	"repondeur/api/internal/events"
)

// Record builds an event and appends it in tx. The event carries the
// lecture's chambre and the request metadata found in ctx.
func Record(ctx context.Context, tx Tx, kind events.Kind, subject events.Subject, lectureID int64, actor *events.Actor, payload events.Payload, now time.Time) (events.Event, error) {
	e, err := events.New(kind, subject, lectureID, actor, payload, now)
	if err != nil {
		return events.Event{}, err
	}
	lecture, err := tx.GetLecture(ctx, lectureID)
	if err != nil {
		return events.Event{}, err
	}
	for k, v := range events.MetaFromContext(ctx) {
		e = e.WithMeta(k, v)
	}
	e = e.WithMeta(events.MetaChambre, lecture.Chambre)
	return tx.AppendEvent(ctx, e)
}
