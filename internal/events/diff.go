package events

import (
	"html"
	"strings"
)

type diffOp int

const (
	opEqual diffOp = iota
	opDelete
	opInsert
)

// HTMLDiff compares two texts word by word. Runs of removed words are
// wrapped in <del>, runs of added words in <ins>; within a replaced region
// deletions come first. Words are HTML-escaped and fragments joined by a
// single space.
func HTMLDiff(oldText, newText string) string {
	a := strings.Fields(oldText)
	b := strings.Fields(newText)

	// lcs[i][j] is the length of the longest common subsequence of a[i:] and b[j:].
	lcs := make([][]int, len(a)+1)
	for i := range lcs {
		lcs[i] = make([]int, len(b)+1)
	}
	for i := len(a) - 1; i >= 0; i-- {
		for j := len(b) - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else {
				lcs[i][j] = max(lcs[i+1][j], lcs[i][j+1])
			}
		}
	}

	var fragments []string
	var run []string
	current := opEqual
	flush := func() {
		if len(run) == 0 {
			return
		}
		text := html.EscapeString(strings.Join(run, " "))
		switch current {
		case opDelete:
			text = "<del>" + text + "</del>"
		case opInsert:
			text = "<ins>" + text + "</ins>"
		}
		fragments = append(fragments, text)
		run = run[:0]
	}
	emit := func(op diffOp, word string) {
		if op != current {
			flush()
			current = op
		}
		run = append(run, word)
	}

	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case i < len(a) && j < len(b) && a[i] == b[j]:
			emit(opEqual, a[i])
			i++
			j++
		case i < len(a) && (j == len(b) || lcs[i+1][j] >= lcs[i][j+1]):
			emit(opDelete, a[i])
			i++
		default:
			emit(opInsert, b[j])
			j++
		}
	}
	flush()
	return strings.TrimSpace(strings.Join(fragments, " "))
}
