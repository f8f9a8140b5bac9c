package app

import (
	"context"
	"fmt"
	"strings"

	"repondeur/api/internal/division"
	"repondeur/api/internal/editlock"
	"repondeur/api/internal/events"
	"repondeur/api/internal/grouping"
	"repondeur/api/internal/store"
)

func (s *Service) requireLocks() (editLocks, error) {
	if s.locks == nil {
		return nil, editlock.ErrStoreUnavailable
	}
	return s.locks, nil
}

func (s *Service) isBeingEdited(ctx context.Context, tx store.Tx, a store.Amendement) (bool, error) {
	claim, err := s.locks.Claim(ctx, a.ID)
	if err != nil || claim == nil {
		return false, err
	}
	key, err := s.registry.HolderKey(ctx, tx, a.Location)
	if err != nil {
		return false, err
	}
	return editlock.IsBeingEdited(claim, key), nil
}

func (s *Service) amendementByNum(ctx context.Context, lectureID int64, num int) (store.Amendement, error) {
	var a store.Amendement
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		a, err = tx.GetAmendementByNum(ctx, lectureID, num)
		return err
	})
	return a, err
}

// StartEditing records that the user opened the amendement for editing,
// on the holder it currently has.
func (s *Service) StartEditing(ctx context.Context, session Session, lectureID int64, num int) error {
	locks, err := s.requireLocks()
	if err != nil {
		return err
	}
	var (
		a   store.Amendement
		key string
	)
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		a, err = tx.GetAmendementByNum(ctx, lectureID, num)
		if err != nil {
			return err
		}
		key, err = s.registry.HolderKey(ctx, tx, a.Location)
		return err
	})
	if err != nil {
		return err
	}
	return locks.StartEditing(ctx, a.ID, session.UserID, key)
}

func (s *Service) StopEditing(ctx context.Context, lectureID int64, num int) error {
	locks, err := s.requireLocks()
	if err != nil {
		return err
	}
	a, err := s.amendementByNum(ctx, lectureID, num)
	if err != nil {
		return err
	}
	return locks.StopEditing(ctx, a.ID)
}

func (s *Service) Amendement(ctx context.Context, lectureID int64, num int) (AmendementDetail, error) {
	var detail AmendementDetail
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		snap, err := s.loadSnapshot(ctx, tx, lectureID)
		if err != nil {
			return err
		}
		a, err := snap.byNum(num)
		if err != nil {
			return err
		}
		identiques := grouping.DisplayableIdentiques(a, snap.amendements)
		v, err := s.viewContext(ctx, tx, snap, append([]store.Amendement{a}, identiques...))
		if err != nil {
			return err
		}
		detail = AmendementDetail{
			AmendementView:        v.amendement(a),
			Corps:                 a.Corps,
			Expose:                a.Expose,
			Identiques:            v.amendements(identiques),
			IdentiquesSameReponse: grouping.AllIdentiquesHaveSameResponse(a, snap.amendements),
		}
		if s.locks != nil {
			last, err := s.locks.LastActivity(ctx, a.ID)
			if err != nil {
				return err
			}
			if last != nil {
				ts := last.Unix()
				detail.LastActivity = &ts
			}
		}
		return nil
	})
	return detail, err
}

type SaveResult struct {
	Saved []int `json:"saved"`
}

// SaveReponse writes the user content of the amendement, and of the other
// members of its batch. The amendement must still be on the user's table,
// on the holder it had when editing started. A failing edit-lock store
// aborts the save.
func (s *Service) SaveReponse(ctx context.Context, session Session, lectureID int64, num int, content store.UserContent) (SaveResult, error) {
	locks, err := s.requireLocks()
	if err != nil {
		return SaveResult{}, err
	}
	result := SaveResult{Saved: []int{}}
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		found, err := tx.GetAmendementByNum(ctx, lectureID, num)
		if err != nil {
			return err
		}
		a, err := tx.LockAmendement(ctx, found.ID)
		if err != nil {
			return err
		}
		holder, err := s.registry.Holder(ctx, tx, a.Location)
		if err != nil {
			return err
		}

		key, err := s.registry.HolderKey(ctx, tx, a.Location)
		if err != nil {
			return err
		}
		claim, err := locks.Claim(ctx, a.ID)
		if err != nil {
			return err
		}
		if err := editlock.CheckStolen(claim, session.UserID, key); err != nil {
			return conflict("STOLEN_WHILE_EDITING", stolenMessage(holder), map[string]any{"holder": holder})
		}

		myTable, err := tx.EnsureUserTable(ctx, session.UserID, lectureID)
		if err != nil {
			return err
		}
		owner, err := s.registry.OwnerTable(ctx, tx, a.Location)
		if err != nil {
			return err
		}
		if owner == nil || *owner != myTable.ID {
			return conflict("NOT_ON_YOUR_TABLE", notOnYourTableMessage(holder), map[string]any{"holder": holder})
		}

		targets := []store.Amendement{a}
		if a.Location.BatchID != nil {
			members, err := tx.BatchMembers(ctx, *a.Location.BatchID)
			if err != nil {
				return err
			}
			targets = targets[:0]
			for _, m := range members {
				locked, err := tx.LockAmendement(ctx, m.ID)
				if err != nil {
					return err
				}
				targets = append(targets, locked)
			}
		}
		for _, target := range targets {
			if _, err := s.applyContent(ctx, tx, session, target, content); err != nil {
				return err
			}
			result.Saved = append(result.Saved, target.Num)
		}
		return locks.StopEditing(ctx, a.ID)
	})
	if err != nil {
		return SaveResult{}, err
	}
	return result, nil
}

func stolenMessage(holder string) string {
	if holder == "" {
		return "L’amendement a été remis dans l’index pendant que vous l’éditiez. Vos modifications n’ont PAS été enregistrées."
	}
	return fmt.Sprintf("L’amendement a été transféré à %s pendant que vous l’éditiez. Vos modifications n’ont PAS été enregistrées.", holder)
}

func notOnYourTableMessage(holder string) string {
	message := "Les modifications n’ont PAS été enregistrées car l’amendement n’est plus sur votre table."
	if holder != "" {
		message += fmt.Sprintf(" Il est actuellement sur la table de %s.", holder)
	}
	return message
}

// applyContent journals each changed field and applies the events to the
// amendement. Unchanged fields record nothing.
func (s *Service) applyContent(ctx context.Context, tx store.Tx, session Session, a store.Amendement, content store.UserContent) (bool, error) {
	fields := []struct {
		kind   events.Kind
		before string
		after  string
	}{
		{events.AvisAmendementModifie, a.Avis, strings.TrimSpace(content.Avis)},
		{events.ObjetAmendementModifie, a.Objet, content.Objet},
		{events.ReponseAmendementModifiee, a.Reponse, content.Reponse},
		{events.CommentsAmendementModifie, a.Comments, content.Comments},
	}
	state := a.State()
	changed := false
	for _, f := range fields {
		if f.before == f.after {
			continue
		}
		e, err := store.Record(ctx, tx, f.kind, events.Amendement(a.ID), a.LectureID, session.Actor(),
			events.Change{OldValue: f.before, NewValue: f.after}, s.clock.Now())
		if err != nil {
			return false, err
		}
		state.Apply(e)
		changed = true
	}
	if !changed {
		return false, nil
	}
	a.SetState(state)
	if err := tx.UpdateAmendement(ctx, a); err != nil {
		return false, err
	}
	if _, err := s.clock.TouchAmendement(ctx, tx, a); err != nil {
		return false, err
	}
	return true, nil
}

type ArticleInput struct {
	Titre        *string `json:"titre"`
	Presentation *string `json:"presentation"`
}

type ArticleView struct {
	Key          string `json:"key"`
	Label        string `json:"label"`
	Titre        string `json:"titre"`
	Presentation string `json:"presentation"`
	Contenu      string `json:"contenu"`
	ModifiedAt   int64  `json:"modified_at"`
}

func newArticleView(a store.Article) ArticleView {
	return ArticleView{
		Key:          a.URLKey(),
		Label:        a.SubDiv().Format(),
		Titre:        a.Titre,
		Presentation: a.Presentation,
		Contenu:      a.Contenu,
		ModifiedAt:   a.ModifiedAt.Unix(),
	}
}

func articleByKey(ctx context.Context, tx store.Tx, lectureID int64, key string) (store.Article, error) {
	subdiv, err := division.ParseURLKey(key)
	if err != nil {
		return store.Article{}, fmt.Errorf("article %q: %w", key, store.ErrNotFound)
	}
	return tx.GetArticleByDivision(ctx, lectureID, subdiv)
}

func (s *Service) Article(ctx context.Context, lectureID int64, key string) (ArticleView, error) {
	var article store.Article
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetLecture(ctx, lectureID); err != nil {
			return err
		}
		var err error
		article, err = articleByKey(ctx, tx, lectureID, key)
		return err
	})
	if err != nil {
		return ArticleView{}, err
	}
	return newArticleView(article), nil
}

// EditArticle updates the fields present in the input.
func (s *Service) EditArticle(ctx context.Context, session Session, lectureID int64, key string, in ArticleInput) (ArticleView, error) {
	var article store.Article
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetLecture(ctx, lectureID); err != nil {
			return err
		}
		var err error
		article, err = articleByKey(ctx, tx, lectureID, key)
		if err != nil {
			return err
		}
		changed := false
		record := func(kind events.Kind, before, after string) error {
			if before == after {
				return nil
			}
			changed = true
			_, err := store.Record(ctx, tx, kind, events.Article(article.ID), lectureID, session.Actor(),
				events.Change{OldValue: before, NewValue: after}, s.clock.Now())
			return err
		}
		if in.Titre != nil {
			titre := strings.TrimSpace(*in.Titre)
			if err := record(events.TitreArticleModifie, article.Titre, titre); err != nil {
				return err
			}
			article.Titre = titre
		}
		if in.Presentation != nil {
			if err := record(events.PresentationArticleModifiee, article.Presentation, *in.Presentation); err != nil {
				return err
			}
			article.Presentation = *in.Presentation
		}
		if !changed {
			return nil
		}
		if err := tx.UpdateArticle(ctx, article); err != nil {
			return err
		}
		at, err := s.clock.TouchArticle(ctx, tx, article)
		if err != nil {
			return err
		}
		article.ModifiedAt = at
		return nil
	})
	if err != nil {
		return ArticleView{}, err
	}
	return newArticleView(article), nil
}
