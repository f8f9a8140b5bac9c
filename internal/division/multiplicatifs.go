package division

// Latin multiplicative adjectives used both for inserted articles
// ("Article 8 bis") and for amendement revisions ("42 rect. ter").
var multiplicatifs = map[string]int{
	"bis":          2,
	"ter":          3,
	"quater":       4,
	"quinquies":    5,
	"sexies":       6,
	"septies":      7,
	"octies":       8,
	"nonies":       9,
	"novies":       9,
	"decies":       10,
	"undecies":     11,
	"duodecies":    12,
	"terdecies":    13,
	"quaterdecies": 14,
	"quindecies":   15,
	"sexdecies":    16,
	"septdecies":   17,
	"octodecies":   18,
	"novodecies":   19,
	"vicies":       20,
	"unvicies":     21,
	"duovicies":    22,
	"tervicies":    23,
	"quatervicies": 24,
	"quinvicies":   25,
	"sexvicies":    26,
	"septvicies":   27,
	"duodetrecies": 28,
	"undetricies":  29,
	"tricies":      30,
}

// MaxMultiplicatif is the highest value with a Latin adjective.
const MaxMultiplicatif = 30

// Multiplicatif returns the ordinal value of a Latin adjective.
func Multiplicatif(word string) (int, bool) {
	n, ok := multiplicatifs[word]
	return n, ok
}

// MultiplicatifWord returns the canonical adjective for n. "novies" is an
// alias and never produced.
func MultiplicatifWord(n int) (string, bool) {
	if n == 9 {
		return "nonies", true
	}
	for word, value := range multiplicatifs {
		if value == n {
			return word, true
		}
	}
	return "", false
}

func multiplicatifWords() []string {
	words := make([]string, 0, len(multiplicatifs))
	for word := range multiplicatifs {
		words = append(words, word)
	}
	return words
}
