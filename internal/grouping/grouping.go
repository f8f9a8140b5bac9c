// Package grouping derives the display groups of an amendement list:
// identiques, batch-collapsed views and the index order.
package grouping

import (
	"sort"
	"strings"

	"repondeur/api/internal/division"
	"repondeur/api/internal/store"
)

// Identiques returns the other amendements sharing a's identique id, in the
// order of all. Abandoned amendements are left out, but a itself may be
// abandoned: a withdrawn amendement still sees its active identiques while
// they no longer see it.
func Identiques(a store.Amendement, all []store.Amendement) []store.Amendement {
	if a.IDIdentique == nil {
		return nil
	}
	var out []store.Amendement
	for _, other := range all {
		if other.ID == a.ID || other.IDIdentique == nil || *other.IDIdentique != *a.IDIdentique {
			continue
		}
		if other.IsAbandoned() {
			continue
		}
		out = append(out, other)
	}
	return out
}

// DisplayableIdentiques is Identiques without the members of a's own batch,
// which are already shown together.
func DisplayableIdentiques(a store.Amendement, all []store.Amendement) []store.Amendement {
	identiques := Identiques(a, all)
	if !a.IsBatched() {
		return identiques
	}
	out := identiques[:0:0]
	for _, other := range identiques {
		if other.Location.BatchID != nil && *other.Location.BatchID == *a.Location.BatchID {
			continue
		}
		out = append(out, other)
	}
	return out
}

// AllIdentiquesHaveSameResponse compares avis and reponse, ignoring
// surrounding whitespace, across a and its displayable identiques.
func AllIdentiquesHaveSameResponse(a store.Amendement, all []store.Amendement) bool {
	avis, reponse := strings.TrimSpace(a.Avis), strings.TrimSpace(a.Reponse)
	for _, other := range DisplayableIdentiques(a, all) {
		if strings.TrimSpace(other.Avis) != avis || strings.TrimSpace(other.Reponse) != reponse {
			return false
		}
	}
	return true
}

// Marker flags the ends of an identique group in an ordered list. FirstNum
// is the display number of the group's first member.
type Marker struct {
	First    bool
	Last     bool
	FirstNum string
}

// IdentiqueMarkers computes first/last markers over the surviving members
// of each identique group of ordered. Groups with a single surviving member
// get no marker; abandoned amendements never do.
func IdentiqueMarkers(ordered []store.Amendement) map[int64]Marker {
	groups := map[int64][]store.Amendement{}
	var ids []int64
	for _, a := range ordered {
		if a.IDIdentique == nil || a.IsAbandoned() {
			continue
		}
		id := *a.IDIdentique
		if _, ok := groups[id]; !ok {
			ids = append(ids, id)
		}
		groups[id] = append(groups[id], a)
	}

	markers := map[int64]Marker{}
	for _, id := range ids {
		members := groups[id]
		if len(members) < 2 {
			continue
		}
		firstNum := members[0].NumDisp()
		for i, a := range members {
			markers[a.ID] = Marker{
				First:    i == 0,
				Last:     i == len(members)-1,
				FirstNum: firstNum,
			}
		}
	}
	return markers
}

// CollapsedBatches keeps the first amendement of each batch and drops the
// later members, preserving the order of everything else.
func CollapsedBatches(ordered []store.Amendement) []store.Amendement {
	seen := map[int64]bool{}
	out := make([]store.Amendement, 0, len(ordered))
	for _, a := range ordered {
		if a.IsBatched() {
			if seen[*a.Location.BatchID] {
				continue
			}
			seen[*a.Location.BatchID] = true
		}
		out = append(out, a)
	}
	return out
}

// ExpandedBatches replaces every batched amendement of selected with all
// members of its batch, as found in all. Each amendement appears once.
func ExpandedBatches(selected, all []store.Amendement) []store.Amendement {
	members := map[int64][]store.Amendement{}
	for _, a := range all {
		if a.IsBatched() {
			members[*a.Location.BatchID] = append(members[*a.Location.BatchID], a)
		}
	}

	seen := map[int64]bool{}
	var out []store.Amendement
	add := func(a store.Amendement) {
		if !seen[a.ID] {
			seen[a.ID] = true
			out = append(out, a)
		}
	}
	for _, a := range selected {
		if !a.IsBatched() {
			add(a)
			continue
		}
		batch := members[*a.Location.BatchID]
		if len(batch) == 0 {
			add(a)
			continue
		}
		for _, m := range batch {
			add(m)
		}
	}
	return out
}

// Sort orders amendements for the index: by article, then by position in
// the discussion (unknown positions last), then by number. Amendements whose
// article is missing from articles sort with blank divisions.
func Sort(amendements []store.Amendement, articles map[int64]store.Article) {
	keys := make(map[int64]string, len(articles))
	for id, article := range articles {
		keys[id] = article.SortKey().String()
	}
	blank := division.SortKey(division.SubDiv{}).String()
	keyOf := func(a store.Amendement) string {
		if k, ok := keys[a.ArticleID]; ok {
			return k
		}
		return blank
	}

	sort.SliceStable(amendements, func(i, j int) bool {
		a, b := amendements[i], amendements[j]
		if ka, kb := keyOf(a), keyOf(b); ka != kb {
			return ka < kb
		}
		switch {
		case a.Position == nil && b.Position != nil:
			return false
		case a.Position != nil && b.Position == nil:
			return true
		case a.Position != nil && b.Position != nil && *a.Position != *b.Position:
			return *a.Position < *b.Position
		}
		return a.Num < b.Num
	})
}
