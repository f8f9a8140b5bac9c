package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"repondeur/api/internal/division"
	"repondeur/api/internal/events"
	"repondeur/api/internal/store"
)

var _ store.Store = (*Store)(nil)

func seed(t *testing.T, s *Store) (store.Lecture, store.Article) {
	t.Helper()
	var (
		lecture store.Lecture
		article store.Article
	)
	err := s.WithTx(context.Background(), func(tx store.Tx) error {
		var err error
		lecture, err = tx.CreateLecture(context.Background(), store.Lecture{Chambre: store.ChambreAN, Session: "15", NumTexte: 269, Organe: "PO717460"})
		if err != nil {
			return err
		}
		article, _, err = tx.EnsureArticle(context.Background(), lecture.ID, division.SubDiv{Type: division.TypeArticle, Num: "1"})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return lecture, article
}

func TestFailedTransactionLeavesNothingBehind(t *testing.T) {
	ctx := context.Background()
	s := New()
	lecture, article := seed(t, s)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.InsertAmendement(ctx, store.Amendement{LectureID: lecture.ID, ArticleID: article.ID, Num: 666}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	err = s.WithTx(ctx, func(tx store.Tx) error {
		_, err := tx.GetAmendementByNum(ctx, lecture.ID, 666)
		return err
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected rolled back insert to be gone, got %v", err)
	}
}

func TestUniquenessRules(t *testing.T) {
	ctx := context.Background()
	s := New()
	lecture, article := seed(t, s)
	position := 1

	err := s.WithTx(ctx, func(tx store.Tx) error {
		_, err := tx.InsertAmendement(ctx, store.Amendement{LectureID: lecture.ID, ArticleID: article.ID, Num: 666, Position: &position})
		return err
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	cases := map[string]store.Amendement{
		"same number":   {LectureID: lecture.ID, ArticleID: article.ID, Num: 666},
		"same position": {LectureID: lecture.ID, ArticleID: article.ID, Num: 999, Position: &position},
	}
	for name, a := range cases {
		t.Run(name, func(t *testing.T) {
			err := s.WithTx(ctx, func(tx store.Tx) error {
				_, err := tx.InsertAmendement(ctx, a)
				return err
			})
			if !errors.Is(err, store.ErrDuplicateAssignment) {
				t.Fatalf("expected ErrDuplicateAssignment, got %v", err)
			}
		})
	}

	err = s.WithTx(ctx, func(tx store.Tx) error {
		shared := store.SharedTable{LectureID: lecture.ID, Slug: "test-table", Titre: "Test table"}
		if _, err := tx.CreateSharedTable(ctx, shared); err != nil {
			return err
		}
		_, err := tx.CreateSharedTable(ctx, shared)
		return err
	})
	if !errors.Is(err, store.ErrDuplicateAssignment) {
		t.Fatalf("expected duplicate slug to be rejected, got %v", err)
	}
}

func TestSetLocationRejectsTwoHolders(t *testing.T) {
	ctx := context.Background()
	s := New()
	lecture, article := seed(t, s)

	err := s.WithTx(ctx, func(tx store.Tx) error {
		a, err := tx.InsertAmendement(ctx, store.Amendement{LectureID: lecture.ID, ArticleID: article.ID, Num: 666})
		if err != nil {
			return err
		}
		user, err := tx.EnsureUser(ctx, "david@exemple.gouv.fr", "David")
		if err != nil {
			return err
		}
		table, err := tx.EnsureUserTable(ctx, user.ID, lecture.ID)
		if err != nil {
			return err
		}
		batch, err := tx.CreateBatch(ctx, store.Batch{LectureID: lecture.ID})
		if err != nil {
			return err
		}
		return tx.SetLocation(ctx, a.ID, store.Location{UserTableID: &table.ID, BatchID: &batch.ID})
	})
	if !errors.Is(err, store.ErrDuplicateAssignment) {
		t.Fatalf("expected ErrDuplicateAssignment, got %v", err)
	}
}

func TestBumpLectureNeverGoesBackwards(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewWithClock(func() time.Time { return base })
	lecture, _ := seed(t, s)

	err := s.WithTx(ctx, func(tx store.Tx) error {
		later, err := tx.BumpLecture(ctx, lecture.ID, base.Add(time.Hour))
		if err != nil {
			return err
		}
		got, err := tx.BumpLecture(ctx, lecture.ID, base.Add(time.Minute))
		if err != nil {
			return err
		}
		if !got.Equal(later) {
			t.Errorf("expected %v to stay, got %v", later, got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("bump: %v", err)
	}
}

func TestEventsAreSequencedAndFiltered(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := New()
	lecture, article := seed(t, s)

	var a store.Amendement
	err := s.WithTx(ctx, func(tx store.Tx) error {
		var err error
		a, err = tx.InsertAmendement(ctx, store.Amendement{LectureID: lecture.ID, ArticleID: article.ID, Num: 666})
		if err != nil {
			return err
		}
		for _, e := range []struct {
			kind    events.Kind
			subject events.Subject
			payload events.Payload
		}{
			{events.AvisAmendementModifie, events.Amendement(a.ID), events.Change{NewValue: "Favorable"}},
			{events.AmendementsRecuperes, events.Lecture(lecture.ID), events.Count{Count: 1}},
			{events.AvisAmendementModifie, events.Amendement(a.ID), events.Change{OldValue: "Favorable", NewValue: "Sagesse"}},
		} {
			ev, err := events.New(e.kind, e.subject, lecture.ID, nil, e.payload, at)
			if err != nil {
				return err
			}
			if _, err := tx.AppendEvent(ctx, ev); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	err = s.WithTx(ctx, func(tx store.Tx) error {
		all, err := tx.ListEvents(ctx, store.EventFilter{LectureID: lecture.ID})
		if err != nil {
			return err
		}
		if len(all) != 3 || all[0].Seq >= all[1].Seq || all[1].Seq >= all[2].Seq {
			t.Errorf("expected three sequenced events, got %+v", all)
		}
		subject := events.Amendement(a.ID)
		journal, err := tx.ListEvents(ctx, store.EventFilter{LectureID: lecture.ID, Subject: &subject})
		if err != nil {
			return err
		}
		if len(journal) != 2 || events.Replay(journal).Avis != "Sagesse" {
			t.Errorf("unexpected amendement journal %+v", journal)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
}

func TestModifiedSinceIsInclusive(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewWithClock(func() time.Time { return base })
	lecture, article := seed(t, s)

	err := s.WithTx(ctx, func(tx store.Tx) error {
		for i, num := range []int{666, 777, 999} {
			a, err := tx.InsertAmendement(ctx, store.Amendement{LectureID: lecture.ID, ArticleID: article.ID, Num: num})
			if err != nil {
				return err
			}
			if err := tx.TouchAmendement(ctx, a.ID, base.Add(time.Duration(i)*time.Second)); err != nil {
				return err
			}
		}
		nums, err := tx.ModifiedSince(ctx, lecture.ID, base.Add(time.Second))
		if err != nil {
			return err
		}
		if len(nums) != 2 || nums[0] != 777 || nums[1] != 999 {
			t.Errorf("expected [777 999], got %v", nums)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("modified since: %v", err)
	}
}
