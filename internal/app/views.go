package app

import (
	"time"

	"repondeur/api/internal/events"
	"repondeur/api/internal/grouping"
	"repondeur/api/internal/store"
)

type LectureView struct {
	ID         int64  `json:"id"`
	Chambre    string `json:"chambre"`
	Session    string `json:"session"`
	NumTexte   int    `json:"num_texte"`
	Organe     string `json:"organe"`
	Titre      string `json:"titre"`
	ModifiedAt int64  `json:"modified_at"`
}

func newLectureView(l store.Lecture) LectureView {
	return LectureView{
		ID:         l.ID,
		Chambre:    l.Chambre,
		Session:    l.Session,
		NumTexte:   l.NumTexte,
		Organe:     l.Organe,
		Titre:      l.Titre,
		ModifiedAt: l.ModifiedAt.Unix(),
	}
}

type LocationView struct {
	Key    string `json:"key"`
	Holder string `json:"holder"`
}

type IdentiqueView struct {
	First    bool   `json:"first"`
	Last     bool   `json:"last"`
	FirstNum string `json:"first_num"`
}

type AmendementView struct {
	Num         int            `json:"num"`
	NumDisp     string         `json:"num_disp"`
	Rectif      int            `json:"rectif"`
	Article     string         `json:"article"`
	Auteur      string         `json:"auteur"`
	Groupe      string         `json:"groupe"`
	Sort        string         `json:"sort"`
	Position    *int           `json:"position"`
	Abandoned   bool           `json:"abandoned"`
	Avis        string         `json:"avis"`
	Objet       string         `json:"objet"`
	Reponse     string         `json:"reponse"`
	Comments    string         `json:"comments"`
	Location    LocationView   `json:"location"`
	BatchID     *int64         `json:"batch_id,omitempty"`
	BatchNums   []int          `json:"batch_nums,omitempty"`
	Identique   *IdentiqueView `json:"identique,omitempty"`
	BeingEdited bool           `json:"being_edited"`
	ModifiedAt  int64          `json:"modified_at"`
}

// AmendementDetail adds what the edit form shows next to the amendement.
type AmendementDetail struct {
	AmendementView
	Corps                 string           `json:"corps"`
	Expose                string           `json:"expose"`
	Identiques            []AmendementView `json:"identiques"`
	IdentiquesSameReponse bool             `json:"identiques_same_reponse"`
	LastActivity          *int64           `json:"last_activity"`
}

type TableView struct {
	Lecture     LectureView      `json:"lecture"`
	Kind        string           `json:"kind"`
	Holder      string           `json:"holder"`
	Slug        string           `json:"slug,omitempty"`
	Amendements []AmendementView `json:"amendements"`
}

type IndexView struct {
	Lecture     LectureView      `json:"lecture"`
	Amendements []AmendementView `json:"amendements"`
}

type JournalEntry struct {
	ID        string        `json:"id"`
	Kind      events.Kind   `json:"kind"`
	CreatedAt time.Time     `json:"created_at"`
	Actor     *events.Actor `json:"actor"`
	Summary   string        `json:"summary"`
	Details   string        `json:"details"`
}

func newJournalEntry(e events.Event) JournalEntry {
	return JournalEntry{
		ID:        e.ID.String(),
		Kind:      e.Kind,
		CreatedAt: e.CreatedAt,
		Actor:     e.Actor,
		Summary:   e.Summary(),
		Details:   e.Details(),
	}
}

// viewContext holds what is needed to render amendements of one lecture.
type viewContext struct {
	articles map[int64]store.Article
	holders  map[string]string
	batches  map[int64][]int
	markers  map[int64]grouping.Marker
	editing  map[int64]bool
}

func (v viewContext) amendement(a store.Amendement) AmendementView {
	view := AmendementView{
		Num:         a.Num,
		NumDisp:     a.NumDisp(),
		Rectif:      a.Rectif,
		Article:     v.articles[a.ArticleID].URLKey(),
		Auteur:      a.Auteur,
		Groupe:      a.Groupe,
		Sort:        a.Sort,
		Position:    a.Position,
		Abandoned:   a.IsAbandoned(),
		Avis:        a.Avis,
		Objet:       a.Objet,
		Reponse:     a.Reponse,
		Comments:    a.Comments,
		Location:    LocationView{Key: a.Location.Key(), Holder: v.holders[a.Location.Key()]},
		BatchID:     a.Location.BatchID,
		BeingEdited: v.editing[a.ID],
		ModifiedAt:  a.ModifiedAt.Unix(),
	}
	if a.Location.BatchID != nil {
		view.BatchNums = v.batches[*a.Location.BatchID]
	}
	if m, ok := v.markers[a.ID]; ok {
		view.Identique = &IdentiqueView{First: m.First, Last: m.Last, FirstNum: m.FirstNum}
	}
	return view
}

func (v viewContext) amendements(items []store.Amendement) []AmendementView {
	views := make([]AmendementView, 0, len(items))
	for _, a := range items {
		views = append(views, v.amendement(a))
	}
	return views
}
