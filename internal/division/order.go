package division

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var typeRanks = map[string]int{
	TypeTitre:       1,
	TypeMotion:      2,
	TypeChapitre:    3,
	TypeSection:     4,
	TypeSousSection: 5,
	TypeArticle:     6,
	TypeAnnexe:      7,
	"":              8,
}

var posRanks = map[string]int{
	PosAvant: 0,
	"":       1,
	PosApres: 2,
}

const lettersWidth = 10

var reRomanOnly = regexp.MustCompile(`^[IVXLCDM]+$`)

// Key is the total order of divisions. Its string form is stable and is
// what exports and imports use to match articles, e.g. "6|001|01|__________|1".
type Key struct {
	TypeRank int
	Num      string
	MultRank int
	Letters  string
	PosRank  int
}

func (k Key) String() string {
	return fmt.Sprintf("%d|%s|%02d|%s|%d", k.TypeRank, k.Num, k.MultRank, k.Letters, k.PosRank)
}

func (k Key) Less(other Key) bool {
	return k.String() < other.String()
}

// SortKey orders divisions by type, number, multiplicative suffix,
// additional letters and position. Additional letters are padded with '_'
// so that "12 AA" < "12 A" < "12 B" < "12".
func SortKey(d SubDiv) Key {
	typeRank, ok := typeRanks[d.Type]
	if !ok {
		typeRank = len(typeRanks) + 1
	}
	posRank, ok := posRanks[d.Pos]
	if !ok {
		posRank = 1
	}
	multRank, letters := splitMult(d.Mult)
	return Key{
		TypeRank: typeRank,
		Num:      numKey(d.Num),
		MultRank: multRank,
		Letters:  letters + strings.Repeat("_", max(0, lettersWidth-len(letters))),
		PosRank:  posRank,
	}
}

// Less reports whether a sorts before b.
func Less(a, b SubDiv) bool {
	return SortKey(a).Less(SortKey(b))
}

func numKey(num string) string {
	if num == "" {
		return "000"
	}
	if n, err := strconv.Atoi(num); err == nil {
		return fmt.Sprintf("%03d", n)
	}
	if reRomanOnly.MatchString(num) {
		return fmt.Sprintf("%03d", romanValue(num))
	}
	return num
}

func splitMult(mult string) (int, string) {
	word, letters, _ := strings.Cut(mult, " ")
	if n, ok := Multiplicatif(word); ok {
		return n, letters
	}
	return 1, mult
}

func romanValue(s string) int {
	values := map[byte]int{'I': 1, 'V': 5, 'X': 10, 'L': 50, 'C': 100, 'D': 500, 'M': 1000}
	total := 0
	for i := 0; i < len(s); i++ {
		v := values[s[i]]
		if i+1 < len(s) && values[s[i+1]] > v {
			total -= v
		} else {
			total += v
		}
	}
	return total
}
