// Package location moves amendements between holders: a user's table, a
// shared table, a batch, or nobody (the index).
//
// Every effective move happens inside the caller's transaction. The
// amendement row is locked first, the location is rewritten, batches that
// fall below two members are dissolved, and the move is journaled and
// stamped on the change clock. A move to the current holder does nothing
// and records nothing.
package location

import (
	"context"
	"errors"
	"fmt"

	"repondeur/api/internal/changeclock"
	"repondeur/api/internal/events"
	"repondeur/api/internal/store"
)

var (
	ErrNotInBatch      = errors.New("amendement is not in a batch")
	ErrLectureMismatch = errors.New("amendement belongs to another lecture")
	ErrBatchTooSmall   = errors.New("a batch needs at least two amendements")
)

type Registry struct {
	clock *changeclock.Clock
}

func NewRegistry(clock *changeclock.Clock) *Registry {
	return &Registry{clock: clock}
}

// Holder labels a location for the journal: the user label of a user table,
// the title of a shared table, the owner of a batch, "" for the index.
func (r *Registry) Holder(ctx context.Context, tx store.Tx, loc store.Location) (string, error) {
	switch {
	case loc.UserTableID != nil:
		return r.userTableLabel(ctx, tx, *loc.UserTableID)
	case loc.SharedTableID != nil:
		table, err := tx.GetSharedTable(ctx, *loc.SharedTableID)
		if err != nil {
			return "", err
		}
		return table.Titre, nil
	case loc.BatchID != nil:
		batch, err := tx.GetBatch(ctx, *loc.BatchID)
		if err != nil {
			return "", err
		}
		if batch.UserTableID == nil {
			return "", nil
		}
		return r.userTableLabel(ctx, tx, *batch.UserTableID)
	}
	return "", nil
}

func (r *Registry) userTableLabel(ctx context.Context, tx store.Tx, id int64) (string, error) {
	table, err := tx.GetUserTable(ctx, id)
	if err != nil {
		return "", err
	}
	user, err := tx.GetUser(ctx, table.UserID)
	if err != nil {
		return "", err
	}
	return user.Label(), nil
}

// OwnerTable is the user table an amendement effectively sits on, through
// its batch if it has one.
func (r *Registry) OwnerTable(ctx context.Context, tx store.Tx, loc store.Location) (*int64, error) {
	if loc.UserTableID != nil {
		return loc.UserTableID, nil
	}
	if loc.BatchID != nil {
		batch, err := tx.GetBatch(ctx, *loc.BatchID)
		if err != nil {
			return nil, err
		}
		return batch.UserTableID, nil
	}
	return nil, nil
}

// HolderKey identifies the effective holder of a location: the owner table
// stands for a batch, so batching on one's own table or reassigning a batch
// is seen the same way as any other move.
func (r *Registry) HolderKey(ctx context.Context, tx store.Tx, loc store.Location) (string, error) {
	if loc.BatchID == nil {
		return loc.Key(), nil
	}
	owner, err := r.OwnerTable(ctx, tx, loc)
	if err != nil || owner == nil {
		return "", err
	}
	return store.OnUserTable(*owner).Key(), nil
}

// MoveToUserTable puts the amendement on the table. An amendement batched
// on that table already is left where it is.
func (r *Registry) MoveToUserTable(ctx context.Context, tx store.Tx, actor *events.Actor, amendementID int64, table store.UserTable) (bool, error) {
	a, err := tx.LockAmendement(ctx, amendementID)
	if err != nil {
		return false, err
	}
	if a.LectureID != table.LectureID {
		return false, ErrLectureMismatch
	}
	if a.Location.BatchID != nil {
		owner, err := r.OwnerTable(ctx, tx, a.Location)
		if err != nil {
			return false, err
		}
		if owner != nil && *owner == table.ID {
			return false, nil
		}
	}
	return r.move(ctx, tx, actor, a, store.OnUserTable(table.ID))
}

func (r *Registry) MoveToSharedTable(ctx context.Context, tx store.Tx, actor *events.Actor, amendementID int64, table store.SharedTable) (bool, error) {
	a, err := tx.LockAmendement(ctx, amendementID)
	if err != nil {
		return false, err
	}
	if a.LectureID != table.LectureID {
		return false, ErrLectureMismatch
	}
	return r.move(ctx, tx, actor, a, store.OnSharedTable(table.ID))
}

// Clear sends the amendement back to the index.
func (r *Registry) Clear(ctx context.Context, tx store.Tx, actor *events.Actor, amendementID int64) (bool, error) {
	a, err := tx.LockAmendement(ctx, amendementID)
	if err != nil {
		return false, err
	}
	return r.move(ctx, tx, actor, a, store.Location{})
}

// LeaveBatch takes the amendement out of its batch and back onto the
// batch's table.
func (r *Registry) LeaveBatch(ctx context.Context, tx store.Tx, actor *events.Actor, amendementID int64) (bool, error) {
	a, err := tx.LockAmendement(ctx, amendementID)
	if err != nil {
		return false, err
	}
	if a.Location.BatchID == nil {
		return false, ErrNotInBatch
	}
	owner, err := r.OwnerTable(ctx, tx, a.Location)
	if err != nil {
		return false, err
	}
	target := store.Location{}
	if owner != nil {
		target = store.OnUserTable(*owner)
	}
	return r.move(ctx, tx, actor, a, target)
}

// move handles every destination except a batch.
func (r *Registry) move(ctx context.Context, tx store.Tx, actor *events.Actor, a store.Amendement, target store.Location) (bool, error) {
	if a.Location.Equal(target) {
		return false, nil
	}
	oldHolder, err := r.Holder(ctx, tx, a.Location)
	if err != nil {
		return false, err
	}
	newHolder, err := r.Holder(ctx, tx, target)
	if err != nil {
		return false, err
	}
	if err := tx.SetLocation(ctx, a.ID, target); err != nil {
		return false, err
	}
	if previous := a.Location.BatchID; previous != nil {
		if err := r.record(ctx, tx, events.BatchUnset, a, actor, events.Change{OldValue: oldHolder, NewValue: newHolder}); err != nil {
			return false, err
		}
		if err := r.dissolveIfDegenerate(ctx, tx, *previous); err != nil {
			return false, err
		}
	}
	if oldHolder != newHolder {
		if err := r.record(ctx, tx, events.AmendementTransfere, a, actor, events.Change{OldValue: oldHolder, NewValue: newHolder}); err != nil {
			return false, err
		}
	}
	if _, err := r.clock.TouchAmendement(ctx, tx, a); err != nil {
		return false, err
	}
	return true, nil
}

// MoveToBatch adds the amendement to an existing batch, leaving any other
// batch first. New batches are made with Group.
func (r *Registry) MoveToBatch(ctx context.Context, tx store.Tx, actor *events.Actor, amendementID, batchID int64) (store.Batch, error) {
	if batchID == 0 {
		return store.Batch{}, ErrBatchTooSmall
	}
	a, err := tx.LockAmendement(ctx, amendementID)
	if err != nil {
		return store.Batch{}, err
	}
	batch, err := r.batchFor(ctx, tx, a, batchID)
	if err != nil {
		return store.Batch{}, err
	}
	oldHolder, moved, err := r.enterBatch(ctx, tx, actor, a, batch)
	if err != nil || !moved {
		return batch, err
	}
	if err := r.recordBatchSet(ctx, tx, actor, a, batch, oldHolder); err != nil {
		return store.Batch{}, err
	}
	return batch, nil
}

// Group puts the amendements together in a new batch owned by the table of
// the first one. Each member's journal names the others.
func (r *Registry) Group(ctx context.Context, tx store.Tx, actor *events.Actor, amendementIDs []int64) (store.Batch, error) {
	if len(amendementIDs) < 2 {
		return store.Batch{}, ErrBatchTooSmall
	}
	first, err := tx.LockAmendement(ctx, amendementIDs[0])
	if err != nil {
		return store.Batch{}, err
	}
	batch, err := r.batchFor(ctx, tx, first, 0)
	if err != nil {
		return store.Batch{}, err
	}

	type entered struct {
		amendement store.Amendement
		oldHolder  string
	}
	var moved []entered
	for _, id := range amendementIDs {
		a, err := tx.LockAmendement(ctx, id)
		if err != nil {
			return store.Batch{}, err
		}
		if a.LectureID != batch.LectureID {
			return store.Batch{}, ErrLectureMismatch
		}
		oldHolder, ok, err := r.enterBatch(ctx, tx, actor, a, batch)
		if err != nil {
			return store.Batch{}, err
		}
		if ok {
			moved = append(moved, entered{amendement: a, oldHolder: oldHolder})
		}
	}
	for _, m := range moved {
		if err := r.recordBatchSet(ctx, tx, actor, m.amendement, batch, m.oldHolder); err != nil {
			return store.Batch{}, err
		}
	}
	return batch, nil
}

func (r *Registry) batchFor(ctx context.Context, tx store.Tx, a store.Amendement, batchID int64) (store.Batch, error) {
	if batchID != 0 {
		batch, err := tx.GetBatch(ctx, batchID)
		if err != nil {
			return store.Batch{}, err
		}
		if batch.LectureID != a.LectureID {
			return store.Batch{}, ErrLectureMismatch
		}
		return batch, nil
	}
	owner, err := r.OwnerTable(ctx, tx, a.Location)
	if err != nil {
		return store.Batch{}, err
	}
	return tx.CreateBatch(ctx, store.Batch{LectureID: a.LectureID, UserTableID: owner})
}

// enterBatch relocates a into batch and journals the batch it left. The
// batch_set entry is left to the caller, once membership is final.
func (r *Registry) enterBatch(ctx context.Context, tx store.Tx, actor *events.Actor, a store.Amendement, batch store.Batch) (string, bool, error) {
	target := store.InBatch(batch.ID)
	if a.Location.Equal(target) {
		return "", false, nil
	}
	oldHolder, err := r.Holder(ctx, tx, a.Location)
	if err != nil {
		return "", false, err
	}
	if err := tx.SetLocation(ctx, a.ID, target); err != nil {
		return "", false, err
	}
	if previous := a.Location.BatchID; previous != nil {
		if err := r.record(ctx, tx, events.BatchUnset, a, actor, events.Change{OldValue: oldHolder, NewValue: oldHolder}); err != nil {
			return "", false, err
		}
		if err := r.dissolveIfDegenerate(ctx, tx, *previous); err != nil {
			return "", false, err
		}
	}
	if _, err := r.clock.TouchAmendement(ctx, tx, a); err != nil {
		return "", false, err
	}
	return oldHolder, true, nil
}

func (r *Registry) recordBatchSet(ctx context.Context, tx store.Tx, actor *events.Actor, a store.Amendement, batch store.Batch, oldHolder string) error {
	members, err := tx.BatchMembers(ctx, batch.ID)
	if err != nil {
		return err
	}
	nums := make([]int, 0, len(members))
	for _, m := range members {
		if m.ID != a.ID {
			nums = append(nums, m.Num)
		}
	}
	newHolder, err := r.Holder(ctx, tx, store.InBatch(batch.ID))
	if err != nil {
		return err
	}
	return r.record(ctx, tx, events.BatchSet, a, actor, events.BatchChange{OldValue: oldHolder, NewValue: newHolder, Nums: nums})
}

// dissolveIfDegenerate deletes a batch left with fewer than two members.
// The last member goes back to the batch's table.
func (r *Registry) dissolveIfDegenerate(ctx context.Context, tx store.Tx, batchID int64) error {
	members, err := tx.BatchMembers(ctx, batchID)
	if err != nil {
		return err
	}
	if len(members) >= 2 {
		return nil
	}
	batch, err := tx.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	release := store.Location{}
	if batch.UserTableID != nil {
		release = store.OnUserTable(*batch.UserTableID)
	}
	holder, err := r.Holder(ctx, tx, release)
	if err != nil {
		return err
	}
	for _, m := range members {
		if err := tx.SetLocation(ctx, m.ID, release); err != nil {
			return err
		}
		if err := r.record(ctx, tx, events.BatchUnset, m, nil, events.Change{OldValue: holder, NewValue: holder}); err != nil {
			return err
		}
		if _, err := r.clock.TouchAmendement(ctx, tx, m); err != nil {
			return err
		}
	}
	if err := tx.DeleteBatch(ctx, batchID); err != nil {
		return fmt.Errorf("dissolve batch %d: %w", batchID, err)
	}
	return nil
}

// ReassignBatch moves a whole batch to another user table. Members stay
// together and each one journals the transfer. It returns the members that
// moved, none when the batch already sits on the table.
func (r *Registry) ReassignBatch(ctx context.Context, tx store.Tx, actor *events.Actor, batchID int64, table store.UserTable) ([]store.Amendement, error) {
	batch, err := tx.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.LectureID != table.LectureID {
		return nil, ErrLectureMismatch
	}
	if batch.UserTableID != nil && *batch.UserTableID == table.ID {
		return nil, nil
	}
	listed, err := tx.BatchMembers(ctx, batchID)
	if err != nil {
		return nil, err
	}
	members := make([]store.Amendement, 0, len(listed))
	for _, m := range listed {
		locked, err := tx.LockAmendement(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		// Left the batch between the listing and the lock.
		if locked.Location.BatchID == nil || *locked.Location.BatchID != batchID {
			continue
		}
		members = append(members, locked)
	}
	oldHolder, err := r.Holder(ctx, tx, store.InBatch(batchID))
	if err != nil {
		return nil, err
	}
	if err := tx.SetBatchOwner(ctx, batchID, &table.ID); err != nil {
		return nil, err
	}
	newHolder, err := r.userTableLabel(ctx, tx, table.ID)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		if oldHolder != newHolder {
			if err := r.record(ctx, tx, events.AmendementTransfere, m, actor, events.Change{OldValue: oldHolder, NewValue: newHolder}); err != nil {
				return nil, err
			}
		}
		if _, err := r.clock.TouchAmendement(ctx, tx, m); err != nil {
			return nil, err
		}
	}
	return members, nil
}

func (r *Registry) record(ctx context.Context, tx store.Tx, kind events.Kind, a store.Amendement, actor *events.Actor, payload events.Payload) error {
	_, err := store.Record(ctx, tx, kind, events.Amendement(a.ID), a.LectureID, actor, payload, r.clock.Now())
	return err
}
