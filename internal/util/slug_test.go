package util

import "testing"

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Test table":                "test-table",
		"  Réunion de l’équipe  ":   "reunion-de-l-equipe",
		"Article 1er : à revoir !!": "article-1er-a-revoir",
		"ÉCOLE":                     "ecole",
		"---":                       "",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Fatalf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}
