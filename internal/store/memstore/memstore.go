// Package memstore is an in-memory store.Store. Each transaction works on a
// clone of the state that replaces the committed state only when the unit
// of work succeeds, so a failed transaction leaves nothing behind.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"repondeur/api/internal/division"
	"repondeur/api/internal/events"
	"repondeur/api/internal/store"
)

type state struct {
	nextID       int64
	nextSeq      int64
	lectures     map[int64]store.Lecture
	articles     map[int64]store.Article
	amendements  map[int64]store.Amendement
	users        map[int64]store.User
	userTables   map[int64]store.UserTable
	sharedTables map[int64]store.SharedTable
	batches      map[int64]store.Batch
	events       []events.Event
}

func newState() state {
	return state{
		lectures:     map[int64]store.Lecture{},
		articles:     map[int64]store.Article{},
		amendements:  map[int64]store.Amendement{},
		users:        map[int64]store.User{},
		userTables:   map[int64]store.UserTable{},
		sharedTables: map[int64]store.SharedTable{},
		batches:      map[int64]store.Batch{},
	}
}

func (s state) clone() state {
	c := state{
		nextID:       s.nextID,
		nextSeq:      s.nextSeq,
		lectures:     make(map[int64]store.Lecture, len(s.lectures)),
		articles:     make(map[int64]store.Article, len(s.articles)),
		amendements:  make(map[int64]store.Amendement, len(s.amendements)),
		users:        make(map[int64]store.User, len(s.users)),
		userTables:   make(map[int64]store.UserTable, len(s.userTables)),
		sharedTables: make(map[int64]store.SharedTable, len(s.sharedTables)),
		batches:      make(map[int64]store.Batch, len(s.batches)),
		events:       append([]events.Event(nil), s.events...),
	}
	for k, v := range s.lectures {
		c.lectures[k] = v
	}
	for k, v := range s.articles {
		c.articles[k] = v
	}
	for k, v := range s.amendements {
		c.amendements[k] = cloneAmendement(v)
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.userTables {
		c.userTables[k] = v
	}
	for k, v := range s.sharedTables {
		c.sharedTables[k] = v
	}
	for k, v := range s.batches {
		c.batches[k] = cloneBatch(v)
	}
	return c
}

func cloneInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneAmendement(a store.Amendement) store.Amendement {
	if a.Position != nil {
		p := *a.Position
		a.Position = &p
	}
	a.IDIdentique = cloneInt64(a.IDIdentique)
	a.IDDiscussionCommune = cloneInt64(a.IDDiscussionCommune)
	a.ParentID = cloneInt64(a.ParentID)
	a.Location = store.Location{
		UserTableID:   cloneInt64(a.Location.UserTableID),
		SharedTableID: cloneInt64(a.Location.SharedTableID),
		BatchID:       cloneInt64(a.Location.BatchID),
	}
	return a
}

func cloneBatch(b store.Batch) store.Batch {
	b.UserTableID = cloneInt64(b.UserTableID)
	return b
}

// Store serializes transactions: one unit of work runs at a time.
type Store struct {
	mu    sync.Mutex
	state state
	nowFn func() time.Time
}

func New() *Store {
	return NewWithClock(func() time.Time { return time.Now().UTC() })
}

// NewWithClock uses now for the default timestamps the database would set.
func NewWithClock(now func() time.Time) *Store {
	return &Store{state: newState(), nowFn: now}
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{state: s.state.clone(), now: s.nowFn}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }
func (s *Store) Close() error                   { return nil }

type memTx struct {
	state state
	now   func() time.Time
}

func (t *memTx) newID() int64 {
	t.state.nextID++
	return t.state.nextID
}

func duplicate(what string) error {
	return fmt.Errorf("%s: %w", what, store.ErrDuplicateAssignment)
}

func missing(what string, id any) error {
	return fmt.Errorf("%s %v: %w", what, id, store.ErrNotFound)
}

func (t *memTx) CreateLecture(_ context.Context, l store.Lecture) (store.Lecture, error) {
	for _, other := range t.state.lectures {
		if other.Chambre == l.Chambre && other.Session == l.Session && other.NumTexte == l.NumTexte && other.Organe == l.Organe {
			return store.Lecture{}, duplicate("insert lecture")
		}
	}
	l.ID = t.newID()
	l.CreatedAt = t.now()
	l.ModifiedAt = l.CreatedAt
	t.state.lectures[l.ID] = l
	return l, nil
}

func (t *memTx) GetLecture(_ context.Context, id int64) (store.Lecture, error) {
	l, ok := t.state.lectures[id]
	if !ok {
		return store.Lecture{}, missing("lecture", id)
	}
	return l, nil
}

func (t *memTx) ListLectures(_ context.Context) ([]store.Lecture, error) {
	items := make([]store.Lecture, 0, len(t.state.lectures))
	for _, l := range t.state.lectures {
		items = append(items, l)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})
	return items, nil
}

func (t *memTx) BumpLecture(_ context.Context, id int64, at time.Time) (time.Time, error) {
	l, ok := t.state.lectures[id]
	if !ok {
		return time.Time{}, missing("lecture", id)
	}
	if at.After(l.ModifiedAt) {
		l.ModifiedAt = at
		t.state.lectures[id] = l
	}
	return l.ModifiedAt, nil
}

func (t *memTx) EnsureArticle(ctx context.Context, lectureID int64, d division.SubDiv) (store.Article, bool, error) {
	if a, err := t.GetArticleByDivision(ctx, lectureID, d); err == nil {
		return a, false, nil
	}
	if _, ok := t.state.lectures[lectureID]; !ok {
		return store.Article{}, false, missing("lecture", lectureID)
	}
	a := store.Article{
		ID:         t.newID(),
		LectureID:  lectureID,
		Type:       d.Type,
		Num:        d.Num,
		Mult:       d.Mult,
		Pos:        d.Pos,
		ModifiedAt: t.now(),
	}
	t.state.articles[a.ID] = a
	return a, true, nil
}

func (t *memTx) GetArticle(_ context.Context, id int64) (store.Article, error) {
	a, ok := t.state.articles[id]
	if !ok {
		return store.Article{}, missing("article", id)
	}
	return a, nil
}

func (t *memTx) GetArticleByDivision(_ context.Context, lectureID int64, d division.SubDiv) (store.Article, error) {
	for _, a := range t.state.articles {
		if a.LectureID == lectureID && a.SubDiv() == d {
			return a, nil
		}
	}
	return store.Article{}, missing("article", d.URLKey())
}

func (t *memTx) ListArticles(_ context.Context, lectureID int64) ([]store.Article, error) {
	items := make([]store.Article, 0)
	for _, a := range t.state.articles {
		if a.LectureID == lectureID {
			items = append(items, a)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (t *memTx) UpdateArticle(_ context.Context, a store.Article) error {
	current, ok := t.state.articles[a.ID]
	if !ok {
		return missing("article", a.ID)
	}
	current.Titre = a.Titre
	current.Presentation = a.Presentation
	current.Contenu = a.Contenu
	t.state.articles[a.ID] = current
	return nil
}

func (t *memTx) TouchArticle(_ context.Context, id int64, at time.Time) error {
	a, ok := t.state.articles[id]
	if !ok {
		return missing("article", id)
	}
	a.ModifiedAt = at
	t.state.articles[id] = a
	return nil
}

func (t *memTx) checkAmendementUnique(a store.Amendement) error {
	for id, other := range t.state.amendements {
		if id == a.ID || other.LectureID != a.LectureID {
			continue
		}
		if other.Num == a.Num {
			return duplicate(fmt.Sprintf("amendement %d", a.Num))
		}
		if a.Position != nil && other.Position != nil && *a.Position == *other.Position {
			return duplicate(fmt.Sprintf("position %d", *a.Position))
		}
	}
	return nil
}

func (t *memTx) InsertAmendement(_ context.Context, a store.Amendement) (store.Amendement, error) {
	if _, ok := t.state.articles[a.ArticleID]; !ok {
		return store.Amendement{}, missing("article", a.ArticleID)
	}
	a.ID = 0
	if err := t.checkAmendementUnique(a); err != nil {
		return store.Amendement{}, fmt.Errorf("insert amendement: %w", err)
	}
	a.ID = t.newID()
	a.Location = store.Location{}
	a.ModifiedAt = t.now()
	t.state.amendements[a.ID] = cloneAmendement(a)
	return a, nil
}

func (t *memTx) UpdateAmendement(_ context.Context, a store.Amendement) error {
	current, ok := t.state.amendements[a.ID]
	if !ok {
		return missing("amendement", a.ID)
	}
	a.LectureID = current.LectureID
	a.Num = current.Num
	a.Location = current.Location
	a.ModifiedAt = current.ModifiedAt
	if err := t.checkAmendementUnique(a); err != nil {
		return fmt.Errorf("update amendement: %w", err)
	}
	t.state.amendements[a.ID] = cloneAmendement(a)
	return nil
}

func (t *memTx) GetAmendement(_ context.Context, id int64) (store.Amendement, error) {
	a, ok := t.state.amendements[id]
	if !ok {
		return store.Amendement{}, missing("amendement", id)
	}
	return cloneAmendement(a), nil
}

func (t *memTx) GetAmendementByNum(_ context.Context, lectureID int64, num int) (store.Amendement, error) {
	for _, a := range t.state.amendements {
		if a.LectureID == lectureID && a.Num == num {
			return cloneAmendement(a), nil
		}
	}
	return store.Amendement{}, missing("amendement", num)
}

func (t *memTx) listAmendements(keep func(store.Amendement) bool) []store.Amendement {
	items := make([]store.Amendement, 0)
	for _, a := range t.state.amendements {
		if keep(a) {
			items = append(items, cloneAmendement(a))
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Num < items[j].Num })
	return items
}

func (t *memTx) ListAmendements(_ context.Context, lectureID int64) ([]store.Amendement, error) {
	return t.listAmendements(func(a store.Amendement) bool { return a.LectureID == lectureID }), nil
}

// LockAmendement is a plain read: transactions are already serialized.
func (t *memTx) LockAmendement(ctx context.Context, id int64) (store.Amendement, error) {
	return t.GetAmendement(ctx, id)
}

func (t *memTx) SetLocation(_ context.Context, amendementID int64, loc store.Location) error {
	a, ok := t.state.amendements[amendementID]
	if !ok {
		return missing("amendement", amendementID)
	}
	if !loc.Valid() {
		return fmt.Errorf("set location: %w: more than one holder", store.ErrDuplicateAssignment)
	}
	if id := loc.UserTableID; id != nil {
		if _, ok := t.state.userTables[*id]; !ok {
			return missing("user table", *id)
		}
	}
	if id := loc.SharedTableID; id != nil {
		if _, ok := t.state.sharedTables[*id]; !ok {
			return missing("shared table", *id)
		}
	}
	if id := loc.BatchID; id != nil {
		if _, ok := t.state.batches[*id]; !ok {
			return missing("batch", *id)
		}
	}
	a.Location = loc
	t.state.amendements[amendementID] = cloneAmendement(a)
	return nil
}

func (t *memTx) TouchAmendement(_ context.Context, id int64, at time.Time) error {
	a, ok := t.state.amendements[id]
	if !ok {
		return missing("amendement", id)
	}
	a.ModifiedAt = at
	t.state.amendements[id] = a
	return nil
}

func (t *memTx) ModifiedSince(_ context.Context, lectureID int64, threshold time.Time) ([]int, error) {
	nums := make([]int, 0)
	for _, a := range t.listAmendements(func(a store.Amendement) bool {
		return a.LectureID == lectureID && !a.ModifiedAt.Before(threshold)
	}) {
		nums = append(nums, a.Num)
	}
	return nums, nil
}

func (t *memTx) EnsureUser(_ context.Context, email, name string) (store.User, error) {
	for id, u := range t.state.users {
		if u.Email == email {
			if name != "" {
				u.Name = name
				t.state.users[id] = u
			}
			return u, nil
		}
	}
	u := store.User{ID: t.newID(), Email: email, Name: name, Role: "editor", CreatedAt: t.now()}
	t.state.users[u.ID] = u
	return u, nil
}

func (t *memTx) GetUser(_ context.Context, id int64) (store.User, error) {
	u, ok := t.state.users[id]
	if !ok {
		return store.User{}, missing("user", id)
	}
	return u, nil
}

func (t *memTx) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	for _, u := range t.state.users {
		if u.Email == email {
			return u, nil
		}
	}
	return store.User{}, missing("user", email)
}

func (t *memTx) SetUserRole(_ context.Context, id int64, role string) error {
	u, ok := t.state.users[id]
	if !ok {
		return missing("user", id)
	}
	u.Role = role
	t.state.users[id] = u
	return nil
}

func (t *memTx) EnsureUserTable(_ context.Context, userID, lectureID int64) (store.UserTable, error) {
	for _, table := range t.state.userTables {
		if table.UserID == userID && table.LectureID == lectureID {
			return table, nil
		}
	}
	if _, ok := t.state.users[userID]; !ok {
		return store.UserTable{}, missing("user", userID)
	}
	table := store.UserTable{ID: t.newID(), UserID: userID, LectureID: lectureID}
	t.state.userTables[table.ID] = table
	return table, nil
}

func (t *memTx) GetUserTable(_ context.Context, id int64) (store.UserTable, error) {
	table, ok := t.state.userTables[id]
	if !ok {
		return store.UserTable{}, missing("user table", id)
	}
	return table, nil
}

func (t *memTx) CreateSharedTable(_ context.Context, table store.SharedTable) (store.SharedTable, error) {
	for _, other := range t.state.sharedTables {
		if other.LectureID == table.LectureID && other.Slug == table.Slug {
			return store.SharedTable{}, duplicate("shared table " + table.Slug)
		}
	}
	table.ID = t.newID()
	t.state.sharedTables[table.ID] = table
	return table, nil
}

func (t *memTx) GetSharedTable(_ context.Context, id int64) (store.SharedTable, error) {
	table, ok := t.state.sharedTables[id]
	if !ok {
		return store.SharedTable{}, missing("shared table", id)
	}
	return table, nil
}

func (t *memTx) GetSharedTableBySlug(_ context.Context, lectureID int64, slug string) (store.SharedTable, error) {
	for _, table := range t.state.sharedTables {
		if table.LectureID == lectureID && table.Slug == slug {
			return table, nil
		}
	}
	return store.SharedTable{}, missing("shared table", slug)
}

func (t *memTx) ListSharedTables(_ context.Context, lectureID int64) ([]store.SharedTable, error) {
	items := make([]store.SharedTable, 0)
	for _, table := range t.state.sharedTables {
		if table.LectureID == lectureID {
			items = append(items, table)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Titre < items[j].Titre })
	return items, nil
}

func (t *memTx) CreateBatch(_ context.Context, b store.Batch) (store.Batch, error) {
	b.ID = t.newID()
	t.state.batches[b.ID] = cloneBatch(b)
	return b, nil
}

func (t *memTx) GetBatch(_ context.Context, id int64) (store.Batch, error) {
	b, ok := t.state.batches[id]
	if !ok {
		return store.Batch{}, missing("batch", id)
	}
	return cloneBatch(b), nil
}

func (t *memTx) SetBatchOwner(_ context.Context, id int64, userTableID *int64) error {
	b, ok := t.state.batches[id]
	if !ok {
		return missing("batch", id)
	}
	b.UserTableID = cloneInt64(userTableID)
	t.state.batches[id] = b
	return nil
}

func (t *memTx) DeleteBatch(_ context.Context, id int64) error {
	if _, ok := t.state.batches[id]; !ok {
		return missing("batch", id)
	}
	for _, a := range t.state.amendements {
		if a.Location.BatchID != nil && *a.Location.BatchID == id {
			return fmt.Errorf("delete batch %d: amendement %d still references it", id, a.Num)
		}
	}
	delete(t.state.batches, id)
	return nil
}

func (t *memTx) BatchMembers(_ context.Context, batchID int64) ([]store.Amendement, error) {
	return t.listAmendements(func(a store.Amendement) bool {
		return a.Location.BatchID != nil && *a.Location.BatchID == batchID
	}), nil
}

func (t *memTx) AppendEvent(_ context.Context, e events.Event) (events.Event, error) {
	if _, ok := t.state.lectures[e.LectureID]; !ok {
		return events.Event{}, missing("lecture", e.LectureID)
	}
	t.state.nextSeq++
	e.Seq = t.state.nextSeq
	e = detach(e)
	t.state.events = append(t.state.events, e)
	return detach(e), nil
}

func (t *memTx) ListEvents(_ context.Context, filter store.EventFilter) ([]events.Event, error) {
	items := make([]events.Event, 0)
	for _, e := range t.state.events {
		if e.LectureID != filter.LectureID {
			continue
		}
		if filter.Subject != nil && e.Subject != *filter.Subject {
			continue
		}
		if e.Actor != nil {
			if u, ok := t.state.users[e.Actor.ID]; ok {
				e.Actor = u.Actor()
			}
		}
		items = append(items, detach(e))
	}
	events.SortOldestFirst(items)
	return items, nil
}

// detach copies the meta map so callers cannot mutate stored events.
func detach(e events.Event) events.Event {
	meta := make(map[string]string, len(e.Meta))
	for k, v := range e.Meta {
		meta[k] = v
	}
	e.Meta = meta
	if e.Actor != nil {
		actor := *e.Actor
		e.Actor = &actor
	}
	return e
}
