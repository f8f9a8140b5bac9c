package events

import (
	"sort"
	"strconv"
)

// AmendementState is the part of an amendement that events own.
type AmendementState struct {
	Avis     string
	Objet    string
	Reponse  string
	Comments string
	Holder   string
	Sort     string
	Rectif   int
	Corps    string
	Expose   string
}

// Apply folds one event into s. Events of other subjects, and kinds that do
// not carry amendement state, leave s unchanged.
func (s *AmendementState) Apply(e Event) {
	if e.Subject.Type != SubjectAmendement {
		return
	}
	_, newValue := Values(e.Payload)
	switch e.Kind {
	case AvisAmendementModifie:
		s.Avis = newValue
	case ObjetAmendementModifie:
		s.Objet = newValue
	case ReponseAmendementModifiee:
		s.Reponse = newValue
	case CommentsAmendementModifie:
		s.Comments = newValue
	case AmendementTransfere, BatchSet, BatchUnset:
		s.Holder = newValue
	case SortAmendementModifie:
		s.Sort = newValue
	case AmendementRectifie:
		if n, err := strconv.Atoi(newValue); err == nil {
			s.Rectif = n
		}
	case CorpsAmendementModifie:
		s.Corps = newValue
	case ExposeAmendementModifie:
		s.Expose = newValue
	}
}

// Replay rebuilds amendement state from its journal, oldest event first.
func Replay(journal []Event) AmendementState {
	ordered := append([]Event(nil), journal...)
	SortOldestFirst(ordered)
	var s AmendementState
	for _, e := range ordered {
		s.Apply(e)
	}
	return s
}

// SortOldestFirst orders events by creation time, then by append sequence.
func SortOldestFirst(journal []Event) {
	sort.SliceStable(journal, func(i, j int) bool {
		if !journal[i].CreatedAt.Equal(journal[j].CreatedAt) {
			return journal[i].CreatedAt.Before(journal[j].CreatedAt)
		}
		return journal[i].Seq < journal[j].Seq
	})
}

// SortNewestFirst is the reverse of SortOldestFirst.
func SortNewestFirst(journal []Event) {
	sort.SliceStable(journal, func(i, j int) bool {
		if !journal[i].CreatedAt.Equal(journal[j].CreatedAt) {
			return journal[i].CreatedAt.After(journal[j].CreatedAt)
		}
		return journal[i].Seq > journal[j].Seq
	})
}
