package division

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// String is the short display form: "Art. 1 bis", "Avant art. 7", "Chapitre III".
func (d SubDiv) String() string {
	typ := d.Type
	if typ == TypeArticle {
		typ = "art."
	}
	return upperFirst(joinNonEmpty(d.Pos, typ, displayNum(d), d.Mult))
}

// Format is the long display form used in headings: "Article 1 bis",
// "Article add. ap. 6".
func (d SubDiv) Format() string {
	var pos string
	switch d.Pos {
	case PosAvant:
		pos = "add. av."
	case PosApres:
		pos = "add. ap."
	}
	return upperFirst(joinNonEmpty(d.Type, pos, displayNum(d), d.Mult))
}

// Slug is the lowercase dashed form: "article-add-av-1", "chapitre-iii".
func (d SubDiv) Slug() string {
	var pos string
	switch d.Pos {
	case PosAvant:
		pos = "add-av"
	case PosApres:
		pos = "add-ap"
	}
	parts := joinNonEmpty(d.Type, pos, d.Num, d.Mult)
	return strings.ToLower(strings.ReplaceAll(parts, " ", "-"))
}

// URLKey is a reversible path segment: "article.8.bis_A.après".
func (d SubDiv) URLKey() string {
	return strings.Join([]string{d.Type, d.Num, strings.ReplaceAll(d.Mult, " ", "_"), d.Pos}, ".")
}

// ParseURLKey reverses URLKey.
func ParseURLKey(key string) (SubDiv, error) {
	parts := strings.Split(key, ".")
	if len(parts) != 4 {
		return SubDiv{}, fmt.Errorf("invalid division key %q: %w", key, ErrUnparseableDivision)
	}
	return SubDiv{
		Type: parts[0],
		Num:  parts[1],
		Mult: strings.ReplaceAll(parts[2], "_", " "),
		Pos:  parts[3],
	}, nil
}

func displayNum(d SubDiv) string {
	if d.Type == TypeArticle && d.Num == "0" {
		return "liminaire"
	}
	return d.Num
}

func joinNonEmpty(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
