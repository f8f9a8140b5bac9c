package location

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"repondeur/api/internal/changeclock"
	"repondeur/api/internal/division"
	"repondeur/api/internal/events"
	"repondeur/api/internal/store"
	"repondeur/api/internal/store/memstore"
)

type fixture struct {
	store    *memstore.Store
	registry *Registry
	lecture  store.Lecture
	david    store.User
	ronan    store.User
	tables   map[int64]store.UserTable
	shared   store.SharedTable
	byNum    map[int]int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tick := func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	f := &fixture{
		store:    memstore.NewWithClock(tick),
		registry: NewRegistry(changeclock.NewWithNow(0, tick)),
		tables:   map[int64]store.UserTable{},
		byNum:    map[int]int64{},
	}
	err := f.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		f.lecture, err = tx.CreateLecture(ctx, store.Lecture{Chambre: store.ChambreAN, Session: "15", NumTexte: 269, Organe: "PO717460"})
		if err != nil {
			return err
		}
		article, _, err := tx.EnsureArticle(ctx, f.lecture.ID, division.SubDiv{Type: division.TypeArticle, Num: "1"})
		if err != nil {
			return err
		}
		for _, num := range []int{666, 777, 999} {
			a, err := tx.InsertAmendement(ctx, store.Amendement{LectureID: f.lecture.ID, ArticleID: article.ID, Num: num})
			if err != nil {
				return err
			}
			f.byNum[num] = a.ID
		}
		if f.david, err = tx.EnsureUser(ctx, "david@exemple.gouv.fr", "David"); err != nil {
			return err
		}
		if f.ronan, err = tx.EnsureUser(ctx, "ronan@exemple.gouv.fr", "Ronan"); err != nil {
			return err
		}
		for _, u := range []store.User{f.david, f.ronan} {
			table, err := tx.EnsureUserTable(ctx, u.ID, f.lecture.ID)
			if err != nil {
				return err
			}
			f.tables[u.ID] = table
		}
		f.shared, err = tx.CreateSharedTable(ctx, store.SharedTable{LectureID: f.lecture.ID, Slug: "test-table", Titre: "Test table"})
		return err
	})
	if err != nil {
		t.Fatalf("fixture: %v", err)
	}
	return f
}

func (f *fixture) tx(t *testing.T, fn func(ctx context.Context, tx store.Tx) error) {
	t.Helper()
	ctx := context.Background()
	if err := f.store.WithTx(ctx, func(tx store.Tx) error { return fn(ctx, tx) }); err != nil {
		t.Fatalf("tx: %v", err)
	}
}

func (f *fixture) amendement(t *testing.T, num int) store.Amendement {
	t.Helper()
	var a store.Amendement
	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		var err error
		a, err = tx.GetAmendement(ctx, f.byNum[num])
		return err
	})
	return a
}

func (f *fixture) journal(t *testing.T, num int) []events.Event {
	t.Helper()
	var journal []events.Event
	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		subject := events.Amendement(f.byNum[num])
		var err error
		journal, err = tx.ListEvents(ctx, store.EventFilter{LectureID: f.lecture.ID, Subject: &subject})
		return err
	})
	return journal
}

func kinds(journal []events.Event) []events.Kind {
	out := make([]events.Kind, len(journal))
	for i, e := range journal {
		out[i] = e.Kind
	}
	return out
}

func sameKinds(got []events.Event, want ...events.Kind) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i].Kind != want[i] {
			return false
		}
	}
	return true
}

// assertInvariants checks every amendement has one holder at most and that
// every batch with members has at least two.
func (f *fixture) assertInvariants(t *testing.T) {
	t.Helper()
	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		all, err := tx.ListAmendements(ctx, f.lecture.ID)
		if err != nil {
			return err
		}
		for _, a := range all {
			if !a.Location.Valid() {
				t.Errorf("amendement %d has several holders: %+v", a.Num, a.Location)
			}
			if a.Location.BatchID == nil {
				continue
			}
			members, err := tx.BatchMembers(ctx, *a.Location.BatchID)
			if err != nil {
				return err
			}
			if len(members) < 2 {
				t.Errorf("batch %d of amendement %d has %d members", *a.Location.BatchID, a.Num, len(members))
			}
		}
		return nil
	})
}

func TestMoveToUserTable(t *testing.T) {
	f := newFixture(t)
	table := f.tables[f.david.ID]

	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		moved, err := f.registry.MoveToUserTable(ctx, tx, f.david.Actor(), f.byNum[666], table)
		if err != nil {
			return err
		}
		if !moved {
			t.Error("expected the amendement to move")
		}
		return nil
	})

	a := f.amendement(t, 666)
	if a.Location.UserTableID == nil || *a.Location.UserTableID != table.ID || a.Location.SharedTableID != nil || a.Location.BatchID != nil {
		t.Fatalf("unexpected location %+v", a.Location)
	}
	journal := f.journal(t, 666)
	if !sameKinds(journal, events.AmendementTransfere) {
		t.Fatalf("unexpected journal %v", kinds(journal))
	}
	want := "<abbr title='david@exemple.gouv.fr'>David</abbr> a mis l’amendement sur sa table."
	if got := journal[0].Summary(); got != want {
		t.Fatalf("summary = %q, want %q", got, want)
	}
	if journal[0].Meta[events.MetaChambre] != store.ChambreAN {
		t.Fatalf("expected chambre meta, got %v", journal[0].Meta)
	}
	f.assertInvariants(t)
}

func TestSameTargetIsANoOp(t *testing.T) {
	f := newFixture(t)
	table := f.tables[f.david.ID]

	for i := 0; i < 2; i++ {
		f.tx(t, func(ctx context.Context, tx store.Tx) error {
			_, err := f.registry.MoveToUserTable(ctx, tx, f.david.Actor(), f.byNum[666], table)
			return err
		})
	}
	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		moved, err := f.registry.Clear(ctx, tx, f.david.Actor(), f.byNum[999])
		if moved {
			t.Error("clearing an unassigned amendement should not move it")
		}
		return err
	})

	if journal := f.journal(t, 666); len(journal) != 1 {
		t.Fatalf("expected one transfer, got %v", kinds(journal))
	}
	if journal := f.journal(t, 999); len(journal) != 0 {
		t.Fatalf("expected no event, got %v", kinds(journal))
	}
}

func TestTransferBetweenHolders(t *testing.T) {
	f := newFixture(t)

	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		if _, err := f.registry.MoveToUserTable(ctx, tx, f.david.Actor(), f.byNum[666], f.tables[f.ronan.ID]); err != nil {
			return err
		}
		if _, err := f.registry.MoveToSharedTable(ctx, tx, f.david.Actor(), f.byNum[666], f.shared); err != nil {
			return err
		}
		_, err := f.registry.Clear(ctx, tx, f.david.Actor(), f.byNum[666])
		return err
	})

	journal := f.journal(t, 666)
	want := []string{
		"<abbr title='david@exemple.gouv.fr'>David</abbr> a transféré l’amendement à « Ronan (ronan@exemple.gouv.fr) ».",
		"<abbr title='david@exemple.gouv.fr'>David</abbr> a transféré l’amendement de « Ronan (ronan@exemple.gouv.fr) » à « Test table ».",
		"<abbr title='david@exemple.gouv.fr'>David</abbr> a remis l’amendement de « Test table » dans l’index.",
	}
	if len(journal) != len(want) {
		t.Fatalf("unexpected journal %v", kinds(journal))
	}
	for i, e := range journal {
		if got := e.Summary(); got != want[i] {
			t.Errorf("summary %d = %q, want %q", i, got, want[i])
		}
	}
	if state := events.Replay(journal); state.Holder != "" {
		t.Fatalf("replayed holder = %q", state.Holder)
	}
	if a := f.amendement(t, 666); !a.Location.IsZero() {
		t.Fatalf("expected index, got %+v", a.Location)
	}
}

func TestGroupAndLeaveBatch(t *testing.T) {
	f := newFixture(t)
	table := f.tables[f.david.ID]
	actor := f.david.Actor()

	var batch store.Batch
	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		for _, num := range []int{666, 999} {
			if _, err := f.registry.MoveToUserTable(ctx, tx, actor, f.byNum[num], table); err != nil {
				return err
			}
		}
		var err error
		batch, err = f.registry.Group(ctx, tx, actor, []int64{f.byNum[666], f.byNum[999]})
		return err
	})

	if batch.UserTableID == nil || *batch.UserTableID != table.ID {
		t.Fatalf("expected batch on David's table, got %+v", batch)
	}
	for _, num := range []int{666, 999} {
		a := f.amendement(t, num)
		if a.Location.BatchID == nil || *a.Location.BatchID != batch.ID {
			t.Fatalf("amendement %d not in batch: %+v", num, a.Location)
		}
	}
	set := f.journal(t, 666)
	if !sameKinds(set, events.AmendementTransfere, events.BatchSet) {
		t.Fatalf("unexpected journal %v", kinds(set))
	}
	if p := set[1].Payload.(events.BatchChange); len(p.Nums) != 1 || p.Nums[0] != 999 {
		t.Fatalf("expected batch_set to name 999, got %+v", p)
	}
	f.assertInvariants(t)

	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		moved, err := f.registry.LeaveBatch(ctx, tx, actor, f.byNum[666])
		if !moved {
			t.Error("expected 666 to leave the batch")
		}
		return err
	})

	for _, num := range []int{666, 999} {
		a := f.amendement(t, num)
		if a.Location.UserTableID == nil || *a.Location.UserTableID != table.ID {
			t.Fatalf("amendement %d should be back on the table: %+v", num, a.Location)
		}
	}
	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetBatch(ctx, batch.ID); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected degenerate batch to be deleted, got %v", err)
		}
		return nil
	})

	left := f.journal(t, 666)
	if !sameKinds(left, events.AmendementTransfere, events.BatchSet, events.BatchUnset) || left[2].Actor == nil {
		t.Fatalf("unexpected journal for 666: %v", kinds(left))
	}
	released := f.journal(t, 999)
	if !sameKinds(released, events.AmendementTransfere, events.BatchSet, events.BatchUnset) || released[2].Actor != nil {
		t.Fatalf("expected a system batch_unset for 999: %v", kinds(released))
	}
	if got, want := released[2].Summary(), "Cet amendement a été sorti du lot dans lequel il était."; got != want {
		t.Fatalf("summary = %q, want %q", got, want)
	}
	f.assertInvariants(t)
}

func TestRebatchingLeavesTheOldBatchFirst(t *testing.T) {
	f := newFixture(t)
	table := f.tables[f.david.ID]
	actor := f.david.Actor()

	var first store.Batch
	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		for _, num := range []int{666, 777, 999} {
			if _, err := f.registry.MoveToUserTable(ctx, tx, actor, f.byNum[num], table); err != nil {
				return err
			}
		}
		var err error
		first, err = f.registry.Group(ctx, tx, actor, []int64{f.byNum[666], f.byNum[777]})
		return err
	})

	var second store.Batch
	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		var err error
		second, err = f.registry.Group(ctx, tx, actor, []int64{f.byNum[666], f.byNum[999]})
		return err
	})

	journal := f.journal(t, 666)
	if !sameKinds(journal, events.AmendementTransfere, events.BatchSet, events.BatchUnset, events.BatchSet) {
		t.Fatalf("unexpected journal %v", kinds(journal))
	}
	a777 := f.amendement(t, 777)
	if a777.Location.UserTableID == nil || *a777.Location.UserTableID != table.ID {
		t.Fatalf("777 should be released from the dissolved batch: %+v", a777.Location)
	}
	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetBatch(ctx, first.ID); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected first batch to be gone, got %v", err)
		}
		members, err := tx.BatchMembers(ctx, second.ID)
		if err != nil {
			return err
		}
		if len(members) != 2 || members[0].Num != 666 || members[1].Num != 999 {
			t.Errorf("unexpected members %+v", members)
		}
		return nil
	})
	f.assertInvariants(t)
}

func TestMoveToBatchJoinsAnExistingBatchOnly(t *testing.T) {
	f := newFixture(t)
	table := f.tables[f.david.ID]
	actor := f.david.Actor()

	var batch store.Batch
	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		for _, num := range []int{666, 777, 999} {
			if _, err := f.registry.MoveToUserTable(ctx, tx, actor, f.byNum[num], table); err != nil {
				return err
			}
		}
		var err error
		batch, err = f.registry.Group(ctx, tx, actor, []int64{f.byNum[666], f.byNum[777]})
		return err
	})

	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		if _, err := f.registry.MoveToBatch(ctx, tx, actor, f.byNum[999], 0); !errors.Is(err, ErrBatchTooSmall) {
			t.Errorf("expected ErrBatchTooSmall for a one-member batch, got %v", err)
		}
		return nil
	})
	if a := f.amendement(t, 999); a.Location.BatchID != nil {
		t.Fatalf("999 should not be batched alone: %+v", a.Location)
	}

	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		_, err := f.registry.MoveToBatch(ctx, tx, actor, f.byNum[999], batch.ID)
		return err
	})
	journal := f.journal(t, 999)
	last := journal[len(journal)-1]
	if last.Kind != events.BatchSet {
		t.Fatalf("expected a batch_set entry, got %v", kinds(journal))
	}
	if got := last.Summary(); !strings.HasSuffix(got, " a placé cet amendement dans un lot avec les amendements 666 et 777.") {
		t.Fatalf("unexpected summary %q", got)
	}
	f.assertInvariants(t)
}

func TestTransferToBatchOwnerKeepsTheBatch(t *testing.T) {
	f := newFixture(t)
	table := f.tables[f.david.ID]
	actor := f.david.Actor()

	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		for _, num := range []int{666, 999} {
			if _, err := f.registry.MoveToUserTable(ctx, tx, actor, f.byNum[num], table); err != nil {
				return err
			}
		}
		if _, err := f.registry.Group(ctx, tx, actor, []int64{f.byNum[666], f.byNum[999]}); err != nil {
			return err
		}
		moved, err := f.registry.MoveToUserTable(ctx, tx, actor, f.byNum[666], table)
		if moved {
			t.Error("expected no move onto the batch's own table")
		}
		return err
	})
	if a := f.amendement(t, 666); a.Location.BatchID == nil {
		t.Fatalf("666 should still be batched: %+v", a.Location)
	}
}

func TestReassignBatch(t *testing.T) {
	f := newFixture(t)
	actor := f.david.Actor()

	var batch store.Batch
	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		for _, num := range []int{666, 999} {
			if _, err := f.registry.MoveToUserTable(ctx, tx, actor, f.byNum[num], f.tables[f.david.ID]); err != nil {
				return err
			}
		}
		var err error
		if batch, err = f.registry.Group(ctx, tx, actor, []int64{f.byNum[666], f.byNum[999]}); err != nil {
			return err
		}
		moved, err := f.registry.ReassignBatch(ctx, tx, actor, batch.ID, f.tables[f.ronan.ID])
		if len(moved) != 2 {
			t.Errorf("expected both members reassigned, got %+v", moved)
		}
		return err
	})

	for _, num := range []int{666, 999} {
		a := f.amendement(t, num)
		if a.Location.BatchID == nil || *a.Location.BatchID != batch.ID {
			t.Fatalf("amendement %d left its batch: %+v", num, a.Location)
		}
		journal := f.journal(t, num)
		last := journal[len(journal)-1]
		if last.Kind != events.AmendementTransfere {
			t.Fatalf("expected a transfer, got %v", kinds(journal))
		}
		if _, newValue := events.Values(last.Payload); newValue != f.ronan.Label() {
			t.Fatalf("expected Ronan as new holder, got %q", newValue)
		}
	}
}

// staleMembersTx lists an amendement as a batch member after it left.
type staleMembersTx struct {
	store.Tx
	extra store.Amendement
}

func (tx staleMembersTx) BatchMembers(ctx context.Context, batchID int64) ([]store.Amendement, error) {
	members, err := tx.Tx.BatchMembers(ctx, batchID)
	return append(members, tx.extra), err
}

func TestReassignBatchSkipsMembersThatLeft(t *testing.T) {
	f := newFixture(t)
	actor := f.david.Actor()
	table := f.tables[f.david.ID]

	var batch store.Batch
	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		for _, num := range []int{666, 777, 999} {
			if _, err := f.registry.MoveToUserTable(ctx, tx, actor, f.byNum[num], table); err != nil {
				return err
			}
		}
		var err error
		batch, err = f.registry.Group(ctx, tx, actor, []int64{f.byNum[666], f.byNum[999]})
		return err
	})
	before := len(f.journal(t, 777))

	left := f.amendement(t, 777)
	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		moved, err := f.registry.ReassignBatch(ctx, staleMembersTx{Tx: tx, extra: left}, actor, batch.ID, f.tables[f.ronan.ID])
		for _, m := range moved {
			if m.Num == 777 {
				t.Error("777 is not a member and should not be reassigned")
			}
		}
		return err
	})
	if journal := f.journal(t, 777); len(journal) != before {
		t.Fatalf("expected no transfer journaled for 777, got %v", kinds(journal))
	}
	if a := f.amendement(t, 777); a.Location.UserTableID == nil || *a.Location.UserTableID != table.ID {
		t.Fatalf("777 should stay on David's table: %+v", a.Location)
	}
}

func TestFailedTransactionRollsBackTheMove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := f.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := f.registry.MoveToUserTable(ctx, tx, f.david.Actor(), f.byNum[666], f.tables[f.david.ID]); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if a := f.amendement(t, 666); !a.Location.IsZero() {
		t.Fatalf("expected no partial transfer, got %+v", a.Location)
	}
	if journal := f.journal(t, 666); len(journal) != 0 {
		t.Fatalf("expected no event, got %v", kinds(journal))
	}
}

func TestMoveStampsTheChangeClock(t *testing.T) {
	f := newFixture(t)
	before := f.amendement(t, 666)

	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		_, err := f.registry.MoveToUserTable(ctx, tx, f.david.Actor(), f.byNum[666], f.tables[f.david.ID])
		return err
	})

	after := f.amendement(t, 666)
	if !after.ModifiedAt.After(before.ModifiedAt) {
		t.Fatalf("expected modified_at to move forward: %v -> %v", before.ModifiedAt, after.ModifiedAt)
	}
	f.tx(t, func(ctx context.Context, tx store.Tx) error {
		lecture, err := tx.GetLecture(ctx, f.lecture.ID)
		if err != nil {
			return err
		}
		if lecture.ModifiedAt.Before(after.ModifiedAt) {
			t.Errorf("lecture modified_at %v is before amendement %v", lecture.ModifiedAt, after.ModifiedAt)
		}
		return nil
	})
}
