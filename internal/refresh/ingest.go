package refresh

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"repondeur/api/internal/amendnum"
	"repondeur/api/internal/changeclock"
	"repondeur/api/internal/division"
	"repondeur/api/internal/events"
	"repondeur/api/internal/location"
	"repondeur/api/internal/store"
)

// Result summarizes one ingestion.
type Result struct {
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Flagged []string `json:"flagged"`
}

// Ingester applies upstream records to a lecture inside a transaction.
type Ingester struct {
	clock    *changeclock.Clock
	registry *location.Registry
}

func NewIngester(clock *changeclock.Clock, registry *location.Registry) *Ingester {
	return &Ingester{clock: clock, registry: registry}
}

type parsedRecord struct {
	raw    RawAmendement
	num    int
	rectif int
	subdiv division.SubDiv
}

// Ingest creates and updates the lecture's amendements from records.
// Records whose number or division cannot be read are flagged for review
// and skipped; they never abort the others. Positions are reassigned from
// the records, so amendements missing from a positioned fetch lose theirs.
func (in *Ingester) Ingest(ctx context.Context, tx store.Tx, lecture store.Lecture, records []RawAmendement) (Result, error) {
	var result Result
	parsed := in.parse(lecture, records, &result)

	existing, err := tx.ListAmendements(ctx, lecture.ID)
	if err != nil {
		return result, err
	}
	byNum := make(map[int]store.Amendement, len(existing))
	for _, a := range existing {
		byNum[a.Num] = a
	}
	if err := in.releasePositions(ctx, tx, parsed, byNum); err != nil {
		return result, err
	}

	for _, p := range parsed {
		article, err := in.article(ctx, tx, lecture, p)
		if err != nil {
			return result, err
		}
		current, ok := byNum[p.num]
		if !ok {
			created, err := in.create(ctx, tx, lecture, article, p)
			if err != nil {
				return result, err
			}
			byNum[created.Num] = created
			result.Created++
			continue
		}
		updated, changed, err := in.update(ctx, tx, current, article, p)
		if err != nil {
			return result, err
		}
		byNum[updated.Num] = updated
		if changed {
			result.Updated++
		}
	}

	if err := in.linkParents(ctx, tx, parsed, byNum, &result); err != nil {
		return result, err
	}

	if result.Created > 0 {
		if err := in.recordLecture(ctx, tx, lecture, events.AmendementsRecuperes, events.Count{Count: result.Created}); err != nil {
			return result, err
		}
	}
	if len(result.Flagged) > 0 {
		if err := in.recordLecture(ctx, tx, lecture, events.AmendementsAVerifier, events.Flagged{Items: result.Flagged}); err != nil {
			return result, err
		}
	}
	return result, in.clock.TouchLecture(ctx, tx, lecture.ID)
}

func (in *Ingester) parse(lecture store.Lecture, records []RawAmendement, result *Result) []parsedRecord {
	var (
		parsed    []parsedRecord
		seenNums  = map[int]bool{}
		seenPlace = map[int]bool{}
	)
	flag := func(raw RawAmendement, reason string) {
		log.Printf(`{"level":"warn","msg":"amendement flagged","lecture_id":%d,"num":%q,"article":%q,"reason":%q}`, lecture.ID, raw.Num, raw.Article, reason)
		result.Flagged = append(result.Flagged, fmt.Sprintf("%s: %s", displayNum(raw.Num), reason))
	}

	for _, raw := range records {
		num, rectif, err := amendnum.Parse(raw.Num)
		if err != nil {
			flag(raw, "numéro illisible")
			continue
		}
		if num == 0 {
			flag(raw, "numéro manquant")
			continue
		}
		if seenNums[num] {
			flag(raw, "numéro en double")
			continue
		}
		subdiv, err := division.ParseWithTitle(raw.Article, lecture.Titre)
		if err != nil {
			flag(raw, fmt.Sprintf("division inconnue « %s »", raw.Article))
			continue
		}
		if raw.Position != nil {
			if seenPlace[*raw.Position] {
				flag(raw, "position en double")
				continue
			}
			seenPlace[*raw.Position] = true
		}
		seenNums[num] = true
		parsed = append(parsed, parsedRecord{raw: raw, num: num, rectif: rectif, subdiv: subdiv})
	}
	return parsed
}

func displayNum(raw string) string {
	if raw == "" {
		return "(vide)"
	}
	return raw
}

// releasePositions clears every position about to change so that the
// reassignment never trips the (lecture, position) uniqueness.
func (in *Ingester) releasePositions(ctx context.Context, tx store.Tx, parsed []parsedRecord, byNum map[int]store.Amendement) error {
	positioned := false
	incoming := make(map[int]*int, len(parsed))
	for _, p := range parsed {
		incoming[p.num] = p.raw.Position
		if p.raw.Position != nil {
			positioned = true
		}
	}
	if !positioned {
		return nil
	}
	for num, a := range byNum {
		if a.Position == nil {
			continue
		}
		if next, ok := incoming[num]; ok && next != nil && *next == *a.Position {
			continue
		}
		a.Position = nil
		if err := tx.UpdateAmendement(ctx, a); err != nil {
			return err
		}
		byNum[num] = a
	}
	return nil
}

func (in *Ingester) article(ctx context.Context, tx store.Tx, lecture store.Lecture, p parsedRecord) (store.Article, error) {
	article, created, err := tx.EnsureArticle(ctx, lecture.ID, p.subdiv)
	if err != nil {
		return store.Article{}, err
	}
	titre := p.raw.ArticleTitre
	if titre == "" || titre == article.Titre {
		return article, nil
	}
	old := article.Titre
	article.Titre = titre
	if err := tx.UpdateArticle(ctx, article); err != nil {
		return store.Article{}, err
	}
	if !created {
		_, err := store.Record(ctx, tx, events.TitreArticleModifie, events.Article(article.ID), lecture.ID, nil, events.Change{OldValue: old, NewValue: titre}, in.clock.Now())
		if err != nil {
			return store.Article{}, err
		}
	}
	if _, err := in.clock.TouchArticle(ctx, tx, article); err != nil {
		return store.Article{}, err
	}
	return article, nil
}

func (in *Ingester) create(ctx context.Context, tx store.Tx, lecture store.Lecture, article store.Article, p parsedRecord) (store.Amendement, error) {
	a, err := tx.InsertAmendement(ctx, store.Amendement{
		LectureID:           lecture.ID,
		ArticleID:           article.ID,
		Num:                 p.num,
		Rectif:              p.rectif,
		Auteur:              p.raw.Auteur,
		Groupe:              p.raw.Groupe,
		Sort:                p.raw.Sort,
		Position:            p.raw.Position,
		IDIdentique:         p.raw.IDIdentique,
		IDDiscussionCommune: p.raw.IDDiscussionCommune,
		Corps:               p.raw.Corps,
		Expose:              p.raw.Expose,
	})
	if err != nil {
		return store.Amendement{}, fmt.Errorf("insert amendement %d: %w", p.num, err)
	}
	if _, err := in.clock.TouchAmendement(ctx, tx, a); err != nil {
		return store.Amendement{}, err
	}
	return a, nil
}

func (in *Ingester) update(ctx context.Context, tx store.Tx, current store.Amendement, article store.Article, p parsedRecord) (store.Amendement, bool, error) {
	next := current
	next.ArticleID = article.ID
	next.Rectif = p.rectif
	next.Auteur = p.raw.Auteur
	next.Groupe = p.raw.Groupe
	next.Sort = p.raw.Sort
	if p.raw.Position != nil {
		next.Position = p.raw.Position
	}
	next.IDIdentique = p.raw.IDIdentique
	next.IDDiscussionCommune = p.raw.IDDiscussionCommune
	next.Corps = p.raw.Corps
	next.Expose = p.raw.Expose

	type fieldChange struct {
		kind          events.Kind
		before, after string
	}
	var changes []fieldChange
	if current.Rectif != next.Rectif {
		changes = append(changes, fieldChange{events.AmendementRectifie, strconv.Itoa(current.Rectif), strconv.Itoa(next.Rectif)})
	}
	if current.Sort != next.Sort {
		changes = append(changes, fieldChange{events.SortAmendementModifie, current.Sort, next.Sort})
	}
	if current.Corps != next.Corps {
		changes = append(changes, fieldChange{events.CorpsAmendementModifie, current.Corps, next.Corps})
	}
	if current.Expose != next.Expose {
		changes = append(changes, fieldChange{events.ExposeAmendementModifie, current.Expose, next.Expose})
	}

	if len(changes) == 0 && sameUntracked(current, next) {
		return current, false, nil
	}
	if err := tx.UpdateAmendement(ctx, next); err != nil {
		return store.Amendement{}, false, fmt.Errorf("update amendement %d: %w", next.Num, err)
	}
	for _, c := range changes {
		_, err := store.Record(ctx, tx, c.kind, events.Amendement(next.ID), next.LectureID, nil, events.Change{OldValue: c.before, NewValue: c.after}, in.clock.Now())
		if err != nil {
			return store.Amendement{}, false, err
		}
	}
	if _, err := in.clock.TouchAmendement(ctx, tx, next); err != nil {
		return store.Amendement{}, false, err
	}

	if !current.IsAbandoned() && next.IsAbandoned() && !next.Location.IsZero() {
		if _, err := in.registry.Clear(ctx, tx, nil, next.ID); err != nil {
			return store.Amendement{}, false, fmt.Errorf("release abandoned amendement %d: %w", next.Num, err)
		}
		next.Location = store.Location{}
	}
	return next, true, nil
}

func sameUntracked(a, b store.Amendement) bool {
	return a.ArticleID == b.ArticleID &&
		a.Auteur == b.Auteur &&
		a.Groupe == b.Groupe &&
		equalInt(a.Position, b.Position) &&
		equalInt64(a.IDIdentique, b.IDIdentique) &&
		equalInt64(a.IDDiscussionCommune, b.IDDiscussionCommune)
}

func equalInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalInt64(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// linkParents resolves sous-amendement parents once every record exists.
func (in *Ingester) linkParents(ctx context.Context, tx store.Tx, parsed []parsedRecord, byNum map[int]store.Amendement, result *Result) error {
	for _, p := range parsed {
		a := byNum[p.num]
		var parentID *int64
		if p.raw.Parent != "" {
			num, _, err := amendnum.Parse(p.raw.Parent)
			parent, ok := byNum[num]
			if err != nil || !ok {
				result.Flagged = append(result.Flagged, fmt.Sprintf("%s: parent %s introuvable", a.NumDisp(), p.raw.Parent))
			} else {
				id := parent.ID
				parentID = &id
			}
		}
		if equalInt64(a.ParentID, parentID) {
			continue
		}
		a.ParentID = parentID
		if err := tx.UpdateAmendement(ctx, a); err != nil {
			return err
		}
		byNum[p.num] = a
	}
	return nil
}

func (in *Ingester) recordLecture(ctx context.Context, tx store.Tx, lecture store.Lecture, kind events.Kind, payload events.Payload) error {
	_, err := store.Record(ctx, tx, kind, events.Lecture(lecture.ID), lecture.ID, nil, payload, in.clock.Now())
	return err
}
