package changeclock

import (
	"context"
	"errors"
	"testing"
	"time"

	"repondeur/api/internal/division"
	"repondeur/api/internal/store"
	"repondeur/api/internal/store/memstore"
)

type fakeNow struct{ t time.Time }

func (f *fakeNow) now() time.Time { return f.t }

// countingTx records how often the amendement query runs.
type countingTx struct {
	store.Tx
	modifiedSince int
}

func (c *countingTx) ModifiedSince(ctx context.Context, lectureID int64, threshold time.Time) ([]int, error) {
	c.modifiedSince++
	return c.Tx.ModifiedSince(ctx, lectureID, threshold)
}

func setup(t *testing.T, clock *fakeNow) (*memstore.Store, store.Lecture, []store.Amendement) {
	t.Helper()
	ctx := context.Background()
	s := memstore.NewWithClock(clock.now)
	var (
		lecture     store.Lecture
		amendements []store.Amendement
	)
	err := s.WithTx(ctx, func(tx store.Tx) error {
		var err error
		lecture, err = tx.CreateLecture(ctx, store.Lecture{Chambre: store.ChambreAN, Session: "15", NumTexte: 269, Organe: "PO717460"})
		if err != nil {
			return err
		}
		article, _, err := tx.EnsureArticle(ctx, lecture.ID, division.SubDiv{Type: division.TypeArticle, Num: "1"})
		if err != nil {
			return err
		}
		for _, num := range []int{666, 999} {
			a, err := tx.InsertAmendement(ctx, store.Amendement{LectureID: lecture.ID, ArticleID: article.ID, Num: num})
			if err != nil {
				return err
			}
			amendements = append(amendements, a)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	return s, lecture, amendements
}

func TestTouchBubblesUpToTheLecture(t *testing.T) {
	ctx := context.Background()
	now := &fakeNow{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	s, lecture, amendements := setup(t, now)
	clock := NewWithNow(0, now.now)

	now.t = now.t.Add(time.Minute)
	err := s.WithTx(ctx, func(tx store.Tx) error {
		touched, err := clock.TouchAmendement(ctx, tx, amendements[0])
		if err != nil {
			return err
		}
		got, err := tx.GetLecture(ctx, lecture.ID)
		if err != nil {
			return err
		}
		if got.ModifiedAt.Before(lecture.ModifiedAt) || got.ModifiedAt.Before(touched) {
			t.Errorf("lecture modified_at %v should be >= %v and >= %v", got.ModifiedAt, lecture.ModifiedAt, touched)
		}
		a, err := tx.GetAmendement(ctx, amendements[0].ID)
		if err != nil {
			return err
		}
		if !a.ModifiedAt.Equal(touched) {
			t.Errorf("amendement modified_at %v, want %v", a.ModifiedAt, touched)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
}

func TestLectureNeverGoesBackwards(t *testing.T) {
	ctx := context.Background()
	now := &fakeNow{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	s, lecture, amendements := setup(t, now)
	clock := NewWithNow(0, now.now)

	err := s.WithTx(ctx, func(tx store.Tx) error {
		now.t = now.t.Add(time.Hour)
		if _, err := clock.TouchAmendement(ctx, tx, amendements[0]); err != nil {
			return err
		}
		now.t = now.t.Add(-30 * time.Minute)
		if _, err := clock.TouchAmendement(ctx, tx, amendements[1]); err != nil {
			return err
		}
		got, err := tx.GetLecture(ctx, lecture.ID)
		if err != nil {
			return err
		}
		if want := lecture.ModifiedAt.Add(time.Hour); !got.ModifiedAt.Equal(want) {
			t.Errorf("lecture modified_at = %v, want %v", got.ModifiedAt, want)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
}

func TestCheckFastPathSkipsAmendements(t *testing.T) {
	ctx := context.Background()
	now := &fakeNow{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	s, lecture, _ := setup(t, now)
	clock := NewWithNow(0, now.now)

	err := s.WithTx(ctx, func(tx store.Tx) error {
		counting := &countingTx{Tx: tx}
		check, err := clock.Check(ctx, counting, lecture.ID, lecture.ModifiedAt.Unix())
		if err != nil {
			return err
		}
		if counting.modifiedSince != 0 {
			t.Errorf("expected no amendement query, got %d", counting.modifiedSince)
		}
		if len(check.ModifiedAmendementsNumbers) != 0 || check.ModifiedAt != lecture.ModifiedAt.Unix() {
			t.Errorf("unexpected check %+v", check)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
}

func TestCheckListsAmendementsModifiedAfterTheCursor(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	now := &fakeNow{t: start}
	s, lecture, amendements := setup(t, now)
	clock := NewWithNow(0, now.now)

	err := s.WithTx(ctx, func(tx store.Tx) error {
		now.t = start.Add(1500 * time.Millisecond)
		if _, err := clock.TouchAmendement(ctx, tx, amendements[0]); err != nil {
			return err
		}
		now.t = start.Add(3 * time.Second)
		if _, err := clock.TouchAmendement(ctx, tx, amendements[1]); err != nil {
			return err
		}

		check, err := clock.Check(ctx, tx, lecture.ID, start.Unix())
		if err != nil {
			return err
		}
		if len(check.ModifiedAmendementsNumbers) != 2 || check.ModifiedAt != start.Add(3*time.Second).Unix() {
			t.Errorf("unexpected check %+v", check)
		}

		// 666 was touched within second start+1, which is not after the cursor.
		check, err = clock.Check(ctx, tx, lecture.ID, start.Unix()+1)
		if err != nil {
			return err
		}
		if len(check.ModifiedAmendementsNumbers) != 1 || check.ModifiedAmendementsNumbers[0] != "999" {
			t.Errorf("unexpected check %+v", check)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
}

func TestCheckCacheIsDroppedOnTouch(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	now := &fakeNow{t: start}
	s, lecture, amendements := setup(t, now)
	clock := NewWithNow(time.Minute, now.now)

	err := s.WithTx(ctx, func(tx store.Tx) error {
		if _, err := clock.Check(ctx, tx, lecture.ID, 0); err != nil {
			return err
		}
		now.t = start.Add(10 * time.Second)
		if _, err := clock.TouchAmendement(ctx, tx, amendements[0]); err != nil {
			return err
		}
		check, err := clock.Check(ctx, tx, lecture.ID, start.Unix())
		if err != nil {
			return err
		}
		if check.ModifiedAt != now.t.Unix() || len(check.ModifiedAmendementsNumbers) != 1 {
			t.Errorf("expected fresh lecture timestamp, got %+v", check)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
}

func TestCheckUnknownLecture(t *testing.T) {
	ctx := context.Background()
	now := &fakeNow{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	s, _, _ := setup(t, now)
	clock := NewWithNow(0, now.now)

	err := s.WithTx(ctx, func(tx store.Tx) error {
		_, err := clock.Check(ctx, tx, 4242, 0)
		return err
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
