// Package division parses the labels of the subdivisions of a legislative
// text ("Article 8 bis", "art. add. après Article 7", "TITRE III : ...") and
// gives them a total order.
package division

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	TypeTitre       = "titre"
	TypeMotion      = "motion"
	TypeChapitre    = "chapitre"
	TypeSection     = "section"
	TypeSousSection = "sous-section"
	TypeArticle     = "article"
	TypeAnnexe      = "annexe"
)

const (
	PosAvant = "avant"
	PosApres = "après"
)

var ErrUnparseableDivision = errors.New("unparseable division")

// ParseError carries the raw label that could not be read.
type ParseError struct {
	Label string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("could not parse subdivision %q", e.Label)
}

func (e *ParseError) Unwrap() error {
	return ErrUnparseableDivision
}

// SubDiv identifies one subdivision. The zero value is the blank division
// used for amendements that are not attached to any article.
type SubDiv struct {
	Type string `json:"type"`
	Num  string `json:"num"`
	Mult string `json:"mult"`
	Pos  string `json:"pos"`
}

func (d SubDiv) IsZero() bool {
	return d == SubDiv{}
}

// Parse reads a division label. Labels that match no rule of the grammar
// return a *ParseError wrapping ErrUnparseableDivision.
func Parse(label string) (SubDiv, error) {
	return ParseWithTitle(label, "")
}

// ParseWithTitle behaves like Parse but also maps a label equal to the
// capitalized long title of the text to the title page.
func ParseWithTitle(label, titreLong string) (SubDiv, error) {
	if titreLong != "" && label == capitalize(titreLong) {
		return SubDiv{Type: TypeTitre}, nil
	}
	for _, rule := range grammar {
		c := &cursor{s: label}
		if d, ok := rule(c); ok && c.done() {
			return d, nil
		}
	}
	return SubDiv{}, &ParseError{Label: label}
}

// capitalize uppercases the first rune and lowercases the rest.
func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
