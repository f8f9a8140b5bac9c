package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, NewClaims(7, "david@exemple.gouv.fr", "David", "editor", time.Hour))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Email != "david@exemple.gouv.fr" || claims.Name != "David" || claims.Role != "editor" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if id, err := claims.UserID(); err != nil || id != 7 {
		t.Fatalf("UserID() = %d, %v", id, err)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, NewClaims(7, "david@exemple.gouv.fr", "", "editor", -time.Minute))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken(secret, issued); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTokenRejectsTampering(t *testing.T) {
	issued, err := IssueToken([]byte("secret"), NewClaims(7, "david@exemple.gouv.fr", "", "viewer", time.Hour))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	for name, token := range map[string]string{
		"other secret": issued,
		"no signature": strings.Split(issued, ".")[0],
		"extra part":   issued + ".x",
	} {
		secret := []byte("secret")
		if name == "other secret" {
			secret = []byte("other")
		}
		if _, err := ParseToken(secret, token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}
