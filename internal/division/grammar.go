package division

import (
	"regexp"
	"sort"
	"strings"
)

// cursor walks a label with anchored regular expressions. Each rule saves
// the position before an optional part and restores it when the part fails.
type cursor struct {
	s   string
	pos int
}

func (c *cursor) done() bool {
	return c.pos == len(c.s)
}

func (c *cursor) take(re *regexp.Regexp) (string, bool) {
	loc := re.FindStringIndex(c.s[c.pos:])
	if loc == nil || loc[0] != 0 {
		return "", false
	}
	matched := c.s[c.pos : c.pos+loc[1]]
	c.pos += loc[1]
	return matched, true
}

// optional runs fn and rewinds when it fails.
func (c *cursor) optional(fn func() bool) {
	mark := c.pos
	if !fn() {
		c.pos = mark
	}
}

const space = `[\s\x{00a0}]`

var (
	reSpace    = regexp.MustCompile(`^` + space + `+`)
	reOptSpace = regexp.MustCompile(`^` + space + `*`)

	reLiminaire = regexp.MustCompile(`^liminaire`)
	rePremier   = regexp.MustCompile(`^(?i:premier)`)
	rePremierNo = regexp.MustCompile(`^1er`)
	reArabic    = regexp.MustCompile(`^\d+`)
	reRomanIer  = regexp.MustCompile(`^Ier`)
	reRoman     = regexp.MustCompile(`^[IVXLCDM]+`)
	reLetters   = regexp.MustCompile(`^[A-Z]+`)

	reMultiplicatif = regexp.MustCompile(`^(?:` + longestFirst(multiplicatifWords()) + `)`)

	reIntitule = regexp.MustCompile(`^(?:` + longestFirst([]string{
		"Intitulé de la proposition de loi",
		"Intitulé du projet de loi",
		"Intitulé du projet de loi constitutionnelle",
	}) + `)`)
	reMotions = regexp.MustCompile(`^Motions`)

	reChapitre    = regexp.MustCompile(`^(?i:chapitre)`)
	reTitre       = regexp.MustCompile(`^(?i:titre)`)
	reSection     = regexp.MustCompile(`^(?i:section)`)
	reSousSection = regexp.MustCompile(`^(?i:sous-section|soussection)`)
	reArticles    = regexp.MustCompile(`^(?i:articles)`)
	reArticle     = regexp.MustCompile(`^(?i:article)`)
	reAnnexe      = regexp.MustCompile(`^(?i:annexe)`)

	reAdditionnel = regexp.MustCompile(`^(?:` + longestFirst([]string{
		"art. add.",
		"div. add.",
		"Article additionnel",
		"Article(s) additionnel(s)",
	}) + `)`)
	reApres   = regexp.MustCompile(`^(?i:après|apres)`)
	reAvant   = regexp.MustCompile(`^(?i:avant)`)
	reElision = regexp.MustCompile(`^(?i:l['’])`)
	reA       = regexp.MustCompile(`^à`)

	reNavette = regexp.MustCompile(`^` + space + `*\((?i:nouveau|précédemment examiné|supprimé)\)`)

	reBlaBla = []*regexp.Regexp{
		regexp.MustCompile(`^` + space + `+:` + space + `+.+`),
		regexp.MustCompile(`^` + space + `+-` + space + `+.+`),
		regexp.MustCompile(`^` + space + `+\(.*\)`),
	}
)

// longestFirst builds an alternation that prefers the longest literal, so
// that "terdecies" is not read as "ter".
func longestFirst(words []string) string {
	sorted := append([]string(nil), words...)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	quoted := make([]string, len(sorted))
	for i, w := range sorted {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return strings.Join(quoted, "|")
}

type rule func(c *cursor) (SubDiv, bool)

// grammar is tried in order; the first rule consuming the whole label wins.
// Ranges must stay before single articles.
var grammar = []rule{
	divisionUnique,
	divisionNumerotee,
	intervalle,
	articleUnique,
	articleAdditionnel,
	annexe,
	empty,
}

func (c *cursor) numero() (string, bool) {
	if _, ok := c.take(reLiminaire); ok {
		return "0", true
	}
	if _, ok := c.take(rePremier); ok {
		return "1", true
	}
	if _, ok := c.take(rePremierNo); ok {
		return "1", true
	}
	if n, ok := c.take(reArabic); ok {
		return n, true
	}
	if _, ok := c.take(reRomanIer); ok {
		return "I", true
	}
	if n, ok := c.take(reRoman); ok {
		return n, true
	}
	return c.take(reLetters)
}

func (c *cursor) spacedNumero() (string, bool) {
	if _, ok := c.take(reSpace); !ok {
		return "", false
	}
	return c.numero()
}

// multAdd reads "bis", "bis AA" or "AA".
func (c *cursor) multAdd() (string, bool) {
	if word, ok := c.take(reMultiplicatif); ok {
		mark := c.pos
		if _, ok := c.take(reSpace); ok {
			if letters, ok := c.take(reLetters); ok {
				return word + " " + letters, true
			}
		}
		c.pos = mark
		return word, true
	}
	return c.take(reLetters)
}

func (c *cursor) spacedMultAdd() (string, bool) {
	if _, ok := c.take(reSpace); !ok {
		return "", false
	}
	return c.multAdd()
}

func (c *cursor) skipNavette() {
	c.optional(func() bool {
		_, ok := c.take(reNavette)
		return ok
	})
}

func (c *cursor) skipBlaBla() {
	for _, re := range reBlaBla {
		if _, ok := c.take(re); ok {
			return
		}
	}
}

func divisionUnique(c *cursor) (SubDiv, bool) {
	if _, ok := c.take(reIntitule); ok {
		return SubDiv{Type: TypeTitre}, true
	}
	if _, ok := c.take(reMotions); ok {
		return SubDiv{Type: TypeMotion}, true
	}
	return SubDiv{}, false
}

func divisionNumerotee(c *cursor) (SubDiv, bool) {
	var d SubDiv
	switch {
	case matches(c, reChapitre):
		d.Type = TypeChapitre
	case matches(c, reTitre):
		d.Type = TypeSection
	case matches(c, reSection):
		d.Type = TypeSection
	case matches(c, reSousSection):
		d.Type = TypeSousSection
	default:
		return SubDiv{}, false
	}
	num, ok := c.spacedNumero()
	if !ok {
		return SubDiv{}, false
	}
	d.Num = num
	c.optional(func() bool {
		mult, ok := c.spacedMultAdd()
		d.Mult = mult
		return ok
	})
	c.skipBlaBla()
	return d, true
}

func intervalle(c *cursor) (SubDiv, bool) {
	if !matches(c, reArticles) && !matches(c, reArticle) {
		return SubDiv{}, false
	}
	d := SubDiv{Type: TypeArticle}
	num, ok := c.spacedNumero()
	if !ok {
		return SubDiv{}, false
	}
	d.Num = num
	c.optional(func() bool {
		mult, ok := c.spacedMultAdd()
		d.Mult = mult
		return ok
	})
	if !matches(c, reSpace) || !matches(c, reA) {
		return SubDiv{}, false
	}
	if _, ok := c.spacedNumero(); !ok {
		return SubDiv{}, false
	}
	c.optional(func() bool {
		_, ok := c.spacedMultAdd()
		return ok
	})
	return d, true
}

func articleUnique(c *cursor) (SubDiv, bool) {
	if !matches(c, reArticle) {
		return SubDiv{}, false
	}
	d := SubDiv{Type: TypeArticle}
	c.optional(func() bool {
		return matches(c, reSpace) && matches(c, reArticle)
	})
	num, ok := c.spacedNumero()
	if !ok {
		return SubDiv{}, false
	}
	d.Num = num
	c.optional(func() bool {
		mult, ok := c.spacedMultAdd()
		if ok {
			d.Mult = mult
			c.take(reOptSpace)
		}
		return ok
	})
	c.skipNavette()
	c.skipBlaBla()
	return d, true
}

func articleAdditionnel(c *cursor) (SubDiv, bool) {
	pos, ok := c.avantApres()
	if !ok {
		return SubDiv{}, false
	}
	d := SubDiv{Pos: pos}
	switch {
	case matches(c, reArticle):
		d.Type = TypeArticle
	case matches(c, reTitre):
		d.Type = TypeSection
	default:
		return SubDiv{}, false
	}
	num, ok := c.spacedNumero()
	if !ok {
		return SubDiv{}, false
	}
	d.Num = num
	c.optional(func() bool {
		mult, ok := c.spacedMultAdd()
		d.Mult = mult
		return ok
	})
	c.skipNavette()
	c.skipBlaBla()
	return d, true
}

// avantApres reads one or more "[art. add.] après " groups, which must all
// agree, followed by an optional elided article.
func (c *cursor) avantApres() (string, bool) {
	var positions []string
	for {
		mark := c.pos
		c.optional(func() bool {
			return matches(c, reAdditionnel) && matches(c, reSpace)
		})
		var pos string
		switch {
		case matches(c, reApres):
			pos = PosApres
		case matches(c, reAvant):
			pos = PosAvant
		}
		if pos == "" || !matches(c, reSpace) {
			c.pos = mark
			break
		}
		positions = append(positions, pos)
	}
	if len(positions) == 0 {
		return "", false
	}
	for _, p := range positions[1:] {
		if p != positions[0] {
			return "", false
		}
	}
	c.optional(func() bool { return matches(c, reElision) })
	return positions[0], true
}

func annexe(c *cursor) (SubDiv, bool) {
	if !matches(c, reAnnexe) {
		return SubDiv{}, false
	}
	d := SubDiv{Type: TypeAnnexe}
	c.optional(func() bool {
		num, ok := c.spacedNumero()
		d.Num = num
		return ok
	})
	return d, true
}

func empty(c *cursor) (SubDiv, bool) {
	return SubDiv{}, c.done()
}

func matches(c *cursor, re *regexp.Regexp) bool {
	_, ok := c.take(re)
	return ok
}
