package app

import (
	"context"

	"repondeur/api/internal/events"
	"repondeur/api/internal/store"
)

func (s *Service) journal(ctx context.Context, lectureID int64, subject func(tx store.Tx) (events.Subject, error)) ([]events.Event, error) {
	var journal []events.Event
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetLecture(ctx, lectureID); err != nil {
			return err
		}
		sub, err := subject(tx)
		if err != nil {
			return err
		}
		journal, err = tx.ListEvents(ctx, store.EventFilter{LectureID: lectureID, Subject: &sub})
		return err
	})
	return journal, err
}

func entries(journal []events.Event) []JournalEntry {
	out := make([]JournalEntry, 0, len(journal))
	for _, e := range journal {
		out = append(out, newJournalEntry(e))
	}
	return out
}

// LectureJournal lists the lecture's own events, newest first.
func (s *Service) LectureJournal(ctx context.Context, lectureID int64) ([]JournalEntry, error) {
	journal, err := s.journal(ctx, lectureID, func(store.Tx) (events.Subject, error) {
		return events.Lecture(lectureID), nil
	})
	if err != nil {
		return nil, err
	}
	events.SortNewestFirst(journal)
	return entries(journal), nil
}

// ArticleJournal lists the article's events, newest first.
func (s *Service) ArticleJournal(ctx context.Context, lectureID int64, key string) ([]JournalEntry, error) {
	journal, err := s.journal(ctx, lectureID, func(tx store.Tx) (events.Subject, error) {
		article, err := articleByKey(ctx, tx, lectureID, key)
		if err != nil {
			return events.Subject{}, err
		}
		return events.Article(article.ID), nil
	})
	if err != nil {
		return nil, err
	}
	events.SortNewestFirst(journal)
	return entries(journal), nil
}

// AmendementJournal lists the amendement's events, oldest first.
func (s *Service) AmendementJournal(ctx context.Context, lectureID int64, num int) ([]JournalEntry, error) {
	journal, err := s.journal(ctx, lectureID, func(tx store.Tx) (events.Subject, error) {
		a, err := tx.GetAmendementByNum(ctx, lectureID, num)
		if err != nil {
			return events.Subject{}, err
		}
		return events.Amendement(a.ID), nil
	})
	if err != nil {
		return nil, err
	}
	events.SortOldestFirst(journal)
	return entries(journal), nil
}
