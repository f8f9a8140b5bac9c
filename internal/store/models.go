package store

import (
	"fmt"
	"strings"
	"time"

	"repondeur/api/internal/amendnum"
	"repondeur/api/internal/division"
	"repondeur/api/internal/events"
)

const (
	ChambreAN    = "an"
	ChambreSenat = "senat"
)

type Lecture struct {
	ID         int64
	Chambre    string
	Session    string
	NumTexte   int
	Organe     string
	Titre      string
	CreatedAt  time.Time
	ModifiedAt time.Time
}

type Article struct {
	ID           int64
	LectureID    int64
	Type         string
	Num          string
	Mult         string
	Pos          string
	Titre        string
	Presentation string
	Contenu      string
	ModifiedAt   time.Time
}

func (a Article) SubDiv() division.SubDiv {
	return division.SubDiv{Type: a.Type, Num: a.Num, Mult: a.Mult, Pos: a.Pos}
}

func (a Article) SortKey() division.Key {
	return division.SortKey(a.SubDiv())
}

func (a Article) URLKey() string {
	return a.SubDiv().URLKey()
}

// Location points an amendement at one holder at most. The zero value is the
// index (no holder).
type Location struct {
	UserTableID   *int64
	SharedTableID *int64
	BatchID       *int64
}

func OnUserTable(id int64) Location   { return Location{UserTableID: &id} }
func OnSharedTable(id int64) Location { return Location{SharedTableID: &id} }
func InBatch(id int64) Location       { return Location{BatchID: &id} }

func (l Location) IsZero() bool {
	return l.UserTableID == nil && l.SharedTableID == nil && l.BatchID == nil
}

// Valid reports whether at most one destination is set.
func (l Location) Valid() bool {
	n := 0
	for _, p := range []*int64{l.UserTableID, l.SharedTableID, l.BatchID} {
		if p != nil {
			n++
		}
	}
	return n <= 1
}

// Key identifies the holder, e.g. "user_table:3". The index is "".
func (l Location) Key() string {
	switch {
	case l.UserTableID != nil:
		return fmt.Sprintf("user_table:%d", *l.UserTableID)
	case l.SharedTableID != nil:
		return fmt.Sprintf("shared_table:%d", *l.SharedTableID)
	case l.BatchID != nil:
		return fmt.Sprintf("batch:%d", *l.BatchID)
	}
	return ""
}

func (l Location) Equal(other Location) bool {
	return l.Key() == other.Key()
}

type UserContent struct {
	Avis     string
	Objet    string
	Reponse  string
	Comments string
}

func (c UserContent) HasObjet() bool   { return !isBlankHTML(c.Objet) }
func (c UserContent) HasReponse() bool { return !isBlankHTML(c.Reponse) }

func isBlankHTML(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || s == "<p></p>"
}

type Amendement struct {
	ID                  int64
	LectureID           int64
	ArticleID           int64
	Num                 int
	Rectif              int
	Auteur              string
	Groupe              string
	Sort                string
	Position            *int
	IDIdentique         *int64
	IDDiscussionCommune *int64
	ParentID            *int64
	Corps               string
	Expose              string
	UserContent
	Location   Location
	ModifiedAt time.Time
}

var abandonedSorts = []string{"retiré", "irrecevable", "tombé"}

// IsAbandoned reports whether the sort marks a withdrawn amendement.
func (a Amendement) IsAbandoned() bool {
	sort := strings.ToLower(a.Sort)
	for _, marker := range abandonedSorts {
		if strings.Contains(sort, marker) {
			return true
		}
	}
	return false
}

func (a Amendement) NumDisp() string {
	return amendnum.Format(a.Num, a.Rectif)
}

func (a Amendement) IsBatched() bool {
	return a.Location.BatchID != nil
}

// State is the event-owned projection of the amendement. Holder is left to
// the caller, who knows how to label the location.
func (a Amendement) State() events.AmendementState {
	return events.AmendementState{
		Avis:     a.Avis,
		Objet:    a.Objet,
		Reponse:  a.Reponse,
		Comments: a.Comments,
		Sort:     a.Sort,
		Rectif:   a.Rectif,
		Corps:    a.Corps,
		Expose:   a.Expose,
	}
}

// SetState copies an applied state back onto the amendement.
func (a *Amendement) SetState(s events.AmendementState) {
	a.Avis = s.Avis
	a.Objet = s.Objet
	a.Reponse = s.Reponse
	a.Comments = s.Comments
	a.Sort = s.Sort
	a.Rectif = s.Rectif
	a.Corps = s.Corps
	a.Expose = s.Expose
}

type User struct {
	ID        int64
	Email     string
	Name      string
	Role      string
	CreatedAt time.Time
}

func (u User) Actor() *events.Actor {
	return &events.Actor{ID: u.ID, Email: u.Email, Name: u.Name}
}

// Label is how the user appears as a holder in transfer events.
func (u User) Label() string {
	return u.Actor().Label()
}

type UserTable struct {
	ID        int64
	UserID    int64
	LectureID int64
}

type SharedTable struct {
	ID        int64
	LectureID int64
	Slug      string
	Titre     string
}

// Batch groups amendements sharing one location slot. UserTableID is the
// table members return to when the batch dissolves.
type Batch struct {
	ID          int64
	LectureID   int64
	UserTableID *int64
}

// EventFilter selects a journal. Subject narrows it to one entity.
type EventFilter struct {
	LectureID int64
	Subject   *events.Subject
}
