package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"repondeur/api/internal/grouping"
	"repondeur/api/internal/store"
	"repondeur/api/internal/util"
)

// snapshot is a lecture with its amendements in display order.
type snapshot struct {
	lecture     store.Lecture
	amendements []store.Amendement
	articles    map[int64]store.Article
}

func (s *Service) loadSnapshot(ctx context.Context, tx store.Tx, lectureID int64) (snapshot, error) {
	lecture, err := tx.GetLecture(ctx, lectureID)
	if err != nil {
		return snapshot{}, err
	}
	amendements, err := tx.ListAmendements(ctx, lectureID)
	if err != nil {
		return snapshot{}, err
	}
	articles, err := tx.ListArticles(ctx, lectureID)
	if err != nil {
		return snapshot{}, err
	}
	byID := make(map[int64]store.Article, len(articles))
	for _, article := range articles {
		byID[article.ID] = article
	}
	grouping.Sort(amendements, byID)
	return snapshot{lecture: lecture, amendements: amendements, articles: byID}, nil
}

func (snap snapshot) byNum(num int) (store.Amendement, error) {
	for _, a := range snap.amendements {
		if a.Num == num {
			return a, nil
		}
	}
	return store.Amendement{}, fmt.Errorf("amendement %d: %w", num, store.ErrNotFound)
}

// viewContext resolves holder labels and edit claims for the listed
// amendements. Identique markers are computed over the whole lecture.
func (s *Service) viewContext(ctx context.Context, tx store.Tx, snap snapshot, listed []store.Amendement) (viewContext, error) {
	v := viewContext{
		articles: snap.articles,
		holders:  map[string]string{},
		batches:  map[int64][]int{},
		markers:  grouping.IdentiqueMarkers(snap.amendements),
		editing:  map[int64]bool{},
	}
	for _, a := range snap.amendements {
		if a.Location.BatchID != nil {
			v.batches[*a.Location.BatchID] = append(v.batches[*a.Location.BatchID], a.Num)
		}
	}
	for _, a := range listed {
		key := a.Location.Key()
		if _, ok := v.holders[key]; !ok {
			holder, err := s.registry.Holder(ctx, tx, a.Location)
			if err != nil {
				return viewContext{}, err
			}
			v.holders[key] = holder
		}
		if a.Location.IsZero() || s.locks == nil {
			continue
		}
		being, err := s.isBeingEdited(ctx, tx, a)
		if err != nil {
			return viewContext{}, err
		}
		v.editing[a.ID] = being
	}
	return v, nil
}

// Index lists every amendement of the lecture in display order.
func (s *Service) Index(ctx context.Context, lectureID int64) (IndexView, error) {
	var view IndexView
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		snap, err := s.loadSnapshot(ctx, tx, lectureID)
		if err != nil {
			return err
		}
		v, err := s.viewContext(ctx, tx, snap, snap.amendements)
		if err != nil {
			return err
		}
		view = IndexView{Lecture: newLectureView(snap.lecture), Amendements: v.amendements(snap.amendements)}
		return nil
	})
	return view, err
}

type TransferResult struct {
	Moved    []int  `json:"moved"`
	Location string `json:"location"`
}

func tableURL(lectureID int64, email string) string {
	return fmt.Sprintf("/api/lectures/%d/tables/%s", lectureID, url.PathEscape(email))
}

// Transfer moves the amendements to target: a user email, a shared table
// slug, or "" for the index. A batched amendement sent to a user table
// takes its whole batch along.
func (s *Service) Transfer(ctx context.Context, session Session, lectureID int64, rawNums []string, target string) (TransferResult, error) {
	nums, err := parseNums(rawNums)
	if err != nil {
		return TransferResult{}, err
	}
	result := TransferResult{Moved: []int{}, Location: tableURL(lectureID, session.Email)}
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetLecture(ctx, lectureID); err != nil {
			return err
		}
		dest, err := s.resolveTarget(ctx, tx, lectureID, target)
		if err != nil {
			return err
		}
		reassigned := map[int64]bool{}
		for _, num := range nums {
			a, err := tx.GetAmendementByNum(ctx, lectureID, num)
			if err != nil {
				return err
			}
			var moved bool
			switch {
			case dest.userTable != nil && a.Location.BatchID != nil:
				batchID := *a.Location.BatchID
				if reassigned[batchID] {
					continue
				}
				reassigned[batchID] = true
				members, err := s.registry.ReassignBatch(ctx, tx, session.Actor(), batchID, *dest.userTable)
				if err != nil {
					return err
				}
				for _, m := range members {
					result.Moved = append(result.Moved, m.Num)
				}
				continue
			case dest.userTable != nil:
				moved, err = s.registry.MoveToUserTable(ctx, tx, session.Actor(), a.ID, *dest.userTable)
			case dest.sharedTable != nil:
				moved, err = s.registry.MoveToSharedTable(ctx, tx, session.Actor(), a.ID, *dest.sharedTable)
			default:
				moved, err = s.registry.Clear(ctx, tx, session.Actor(), a.ID)
			}
			if err != nil {
				return err
			}
			if moved {
				result.Moved = append(result.Moved, num)
			}
		}
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}
	return result, nil
}

type destination struct {
	userTable   *store.UserTable
	sharedTable *store.SharedTable
}

func (s *Service) resolveTarget(ctx context.Context, tx store.Tx, lectureID int64, target string) (destination, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return destination{}, nil
	}
	if strings.Contains(target, "@") {
		user, err := tx.GetUserByEmail(ctx, strings.ToLower(target))
		if errors.Is(err, store.ErrNotFound) {
			return destination{}, validationError(fmt.Sprintf("unknown user %q", target))
		}
		if err != nil {
			return destination{}, err
		}
		table, err := tx.EnsureUserTable(ctx, user.ID, lectureID)
		if err != nil {
			return destination{}, err
		}
		return destination{userTable: &table}, nil
	}
	table, err := tx.GetSharedTableBySlug(ctx, lectureID, target)
	if errors.Is(err, store.ErrNotFound) {
		return destination{}, validationError(fmt.Sprintf("unknown shared table %q", target))
	}
	if err != nil {
		return destination{}, err
	}
	return destination{sharedTable: &table}, nil
}

type BatchResult struct {
	BatchID  *int64 `json:"batch_id"`
	Nums     []int  `json:"nums"`
	Location string `json:"location"`
}

// Batch with a single number takes that amendement out of its batch. With
// more, it groups them, and every existing batch they belong to, into a new
// batch. They must all be on the actor's table, on the same article, with
// the same reponse or none; the shared reponse is copied to the empty ones.
func (s *Service) Batch(ctx context.Context, session Session, lectureID int64, rawNums []string) (BatchResult, error) {
	nums, err := parseNums(rawNums)
	if err != nil {
		return BatchResult{}, err
	}
	result := BatchResult{Nums: []int{}, Location: tableURL(lectureID, session.Email)}
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		snap, err := s.loadSnapshot(ctx, tx, lectureID)
		if err != nil {
			return err
		}
		if len(nums) == 1 {
			a, err := snap.byNum(nums[0])
			if err != nil {
				return err
			}
			if _, err := s.registry.LeaveBatch(ctx, tx, session.Actor(), a.ID); err != nil {
				return err
			}
			result.Nums = append(result.Nums, a.Num)
			return nil
		}

		selected := make([]store.Amendement, 0, len(nums))
		for _, num := range nums {
			a, err := snap.byNum(num)
			if err != nil {
				return err
			}
			selected = append(selected, a)
		}
		members := grouping.ExpandedBatches(selected, snap.amendements)
		myTable, err := tx.EnsureUserTable(ctx, session.UserID, lectureID)
		if err != nil {
			return err
		}
		if err := s.checkBatchable(ctx, tx, members, myTable); err != nil {
			return err
		}

		ids := make([]int64, 0, len(members))
		for _, m := range members {
			ids = append(ids, m.ID)
			result.Nums = append(result.Nums, m.Num)
		}
		batch, err := s.registry.Group(ctx, tx, session.Actor(), ids)
		if err != nil {
			return err
		}
		result.BatchID = &batch.ID
		return s.shareReponse(ctx, tx, session, members)
	})
	if err != nil {
		return BatchResult{}, err
	}
	return result, nil
}

func (s *Service) checkBatchable(ctx context.Context, tx store.Tx, members []store.Amendement, myTable store.UserTable) error {
	var elsewhere []int
	for _, m := range members {
		owner, err := s.registry.OwnerTable(ctx, tx, m.Location)
		if err != nil {
			return err
		}
		if owner == nil || *owner != myTable.ID {
			elsewhere = append(elsewhere, m.Num)
		}
	}
	if len(elsewhere) > 0 {
		return conflict("NOT_ON_YOUR_TABLE", "Tous les amendements doivent être sur votre table pour pouvoir les associer.", map[string]any{"nums": elsewhere})
	}

	reponses := map[store.UserContent]bool{}
	for _, m := range members {
		if !isEmptyReponse(m.UserContent) {
			reponses[normalizedReponse(m.UserContent)] = true
		}
	}
	if len(reponses) > 1 {
		return conflict("DIFFERENT_REPONSES", "Tous les amendements doivent avoir les mêmes réponses et commentaires avant de pouvoir être associés.", nil)
	}

	for _, m := range members[1:] {
		if m.ArticleID != members[0].ArticleID {
			return conflict("DIFFERENT_ARTICLES", "Tous les amendements doivent être relatifs au même article pour pouvoir être associés.", nil)
		}
	}
	return nil
}

func isEmptyReponse(c store.UserContent) bool {
	return strings.TrimSpace(c.Avis) == "" && !c.HasObjet() && !c.HasReponse() && strings.TrimSpace(c.Comments) == ""
}

func normalizedReponse(c store.UserContent) store.UserContent {
	return store.UserContent{
		Avis:     strings.TrimSpace(c.Avis),
		Objet:    strings.TrimSpace(c.Objet),
		Reponse:  strings.TrimSpace(c.Reponse),
		Comments: strings.TrimSpace(c.Comments),
	}
}

// shareReponse copies the batch's reponse onto members that have none.
func (s *Service) shareReponse(ctx context.Context, tx store.Tx, session Session, members []store.Amendement) error {
	var shared *store.UserContent
	for _, m := range members {
		if !isEmptyReponse(m.UserContent) {
			content := m.UserContent
			shared = &content
			break
		}
	}
	if shared == nil {
		return nil
	}
	for _, m := range members {
		if !isEmptyReponse(m.UserContent) {
			continue
		}
		current, err := tx.GetAmendement(ctx, m.ID)
		if err != nil {
			return err
		}
		if _, err := s.applyContent(ctx, tx, session, current, *shared); err != nil {
			return err
		}
	}
	return nil
}

// UserTable lists the amendements on the user's table, batches collapsed
// to their first member.
func (s *Service) UserTable(ctx context.Context, lectureID int64, email string) (TableView, error) {
	var view TableView
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		snap, err := s.loadSnapshot(ctx, tx, lectureID)
		if err != nil {
			return err
		}
		user, err := tx.GetUserByEmail(ctx, strings.ToLower(email))
		if err != nil {
			return err
		}
		table, err := tx.EnsureUserTable(ctx, user.ID, lectureID)
		if err != nil {
			return err
		}
		var onTable []store.Amendement
		for _, a := range snap.amendements {
			owner, err := s.registry.OwnerTable(ctx, tx, a.Location)
			if err != nil {
				return err
			}
			if owner != nil && *owner == table.ID {
				onTable = append(onTable, a)
			}
		}
		listed := grouping.CollapsedBatches(onTable)
		v, err := s.viewContext(ctx, tx, snap, listed)
		if err != nil {
			return err
		}
		view = TableView{
			Lecture:     newLectureView(snap.lecture),
			Kind:        "user_table",
			Holder:      user.Label(),
			Amendements: v.amendements(listed),
		}
		return nil
	})
	return view, err
}

func (s *Service) SharedTable(ctx context.Context, lectureID int64, slug string) (TableView, error) {
	var view TableView
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		snap, err := s.loadSnapshot(ctx, tx, lectureID)
		if err != nil {
			return err
		}
		table, err := tx.GetSharedTableBySlug(ctx, lectureID, slug)
		if err != nil {
			return err
		}
		var onTable []store.Amendement
		for _, a := range snap.amendements {
			if a.Location.SharedTableID != nil && *a.Location.SharedTableID == table.ID {
				onTable = append(onTable, a)
			}
		}
		listed := grouping.CollapsedBatches(onTable)
		v, err := s.viewContext(ctx, tx, snap, listed)
		if err != nil {
			return err
		}
		view = TableView{
			Lecture:     newLectureView(snap.lecture),
			Kind:        "shared_table",
			Holder:      table.Titre,
			Slug:        table.Slug,
			Amendements: v.amendements(listed),
		}
		return nil
	})
	return view, err
}

type SharedTableView struct {
	ID    int64  `json:"id"`
	Slug  string `json:"slug"`
	Titre string `json:"titre"`
}

func (s *Service) CreateSharedTable(ctx context.Context, lectureID int64, titre string) (SharedTableView, error) {
	titre = strings.TrimSpace(titre)
	slug := util.Slugify(titre)
	if slug == "" {
		return SharedTableView{}, validationError("titre is required")
	}
	var table store.SharedTable
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetLecture(ctx, lectureID); err != nil {
			return err
		}
		var err error
		table, err = tx.CreateSharedTable(ctx, store.SharedTable{LectureID: lectureID, Slug: slug, Titre: titre})
		return err
	})
	if errors.Is(err, store.ErrDuplicateAssignment) {
		return SharedTableView{}, conflict("SHARED_TABLE_EXISTS", fmt.Sprintf("La boîte « %s » existe déjà.", titre), nil)
	}
	if err != nil {
		return SharedTableView{}, err
	}
	return SharedTableView{ID: table.ID, Slug: table.Slug, Titre: table.Titre}, nil
}

func (s *Service) ListSharedTables(ctx context.Context, lectureID int64) ([]SharedTableView, error) {
	var tables []store.SharedTable
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetLecture(ctx, lectureID); err != nil {
			return err
		}
		var err error
		tables, err = tx.ListSharedTables(ctx, lectureID)
		return err
	})
	if err != nil {
		return nil, err
	}
	views := make([]SharedTableView, 0, len(tables))
	for _, t := range tables {
		views = append(views, SharedTableView{ID: t.ID, Slug: t.Slug, Titre: t.Titre})
	}
	return views, nil
}
