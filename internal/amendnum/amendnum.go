// Package amendnum reads and writes amendement numbers such as "42",
// "COM-48 rect." or "42 rect. ter".
package amendnum

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"repondeur/api/internal/division"
)

var ErrInvalidNumber = errors.New("invalid amendement number")

// Commission prefixes: "COM-", "CE" or "CE|" before the digits.
var rePrefix = regexp.MustCompile(`^[A-Z]+[-|]?`)

var reNum = regexp.MustCompile(`^(\d+)(?: (rect\.)(?: (\w+))?)?$`)

// Parse returns the number and revision of an amendement. The empty string
// is (0, 0); a bare " rect." is revision 1 and " rect. ter" revision 3.
// Revisions past the latin words are written in digits, as in " rect. 31".
func Parse(text string) (num int, rectif int, err error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, 0, nil
	}
	body := rePrefix.ReplaceAllString(text, "")
	m := reNum.FindStringSubmatch(body)
	if m == nil {
		return 0, 0, fmt.Errorf("parse %q: %w", text, ErrInvalidNumber)
	}
	num, err = strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, fmt.Errorf("parse %q: %w", text, ErrInvalidNumber)
	}
	switch {
	case m[2] == "":
		return num, 0, nil
	case m[3] == "":
		return num, 1, nil
	}
	if n, err := strconv.Atoi(m[3]); err == nil && n > 1 {
		return num, n, nil
	}
	rectif, ok := division.Multiplicatif(m[3])
	if !ok {
		return 0, 0, fmt.Errorf("parse %q: unknown revision suffix %q: %w", text, m[3], ErrInvalidNumber)
	}
	return num, rectif, nil
}

// Format is the display form, e.g. "42 rect. nonies" or "42 rect. 31".
func Format(num, rectif int) string {
	text := strconv.Itoa(num)
	if rectif > 0 {
		text += " rect."
	}
	if rectif > 1 {
		if word, ok := division.MultiplicatifWord(rectif); ok {
			text += " " + word
		} else {
			text += " " + strconv.Itoa(rectif)
		}
	}
	return text
}
