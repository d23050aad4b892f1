package auth

import (
	"testing"
	"time"
)

// Tests set JWT_SECRET via t.Setenv, so none of them run in parallel.

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if hash == "correct horse battery staple" {
		t.Fatal("hash must not equal plaintext")
	}
	if !VerifyPassword(hash, "correct horse battery staple") {
		t.Error("expected password to verify against its own hash")
	}
	if VerifyPassword(hash, "wrong password") {
		t.Error("expected wrong password to fail verification")
	}
}

func TestVerifyPassword_InvalidHash_ReturnsFalse(t *testing.T) {
	if VerifyPassword("not-a-bcrypt-hash", "anything") {
		t.Error("expected invalid hash to fail verification, not panic or pass")
	}
}

func TestGenerateAndParseJWT_RoundTrip(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	token, err := GenerateJWT("user-1", "ws-1")
	if err != nil {
		t.Fatalf("GenerateJWT failed: %v", err)
	}

	claims, err := ParseJWT(token)
	if err != nil {
		t.Fatalf("ParseJWT failed: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Errorf("expected user-1, got %q", claims.UserID)
	}
	if claims.WorkspaceID != "ws-1" {
		t.Errorf("expected ws-1, got %q", claims.WorkspaceID)
	}
}

func TestParseJWT_EmptyToken_ReturnsError(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	if _, err := ParseJWT(""); err == nil {
		t.Error("expected error for empty token")
	}
}

func TestParseJWT_TamperedToken_ReturnsError(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	token, err := GenerateJWT("user-1", "ws-1")
	if err != nil {
		t.Fatalf("GenerateJWT failed: %v", err)
	}

	if _, err := ParseJWT(token + "x"); err == nil {
		t.Error("expected error for tampered token")
	}
}

func TestParseJWT_WrongSecret_ReturnsError(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret-a")
	token, err := GenerateJWT("user-1", "ws-1")
	if err != nil {
		t.Fatalf("GenerateJWT failed: %v", err)
	}

	t.Setenv("JWT_SECRET", "secret-b")
	if _, err := ParseJWT(token); err == nil {
		t.Error("expected error when secret changes")
	}
}

func TestParseJWTExpiry(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"", 24 * time.Hour},
		{"not-a-number", 24 * time.Hour},
		{"1", time.Hour},
		{"72", 72 * time.Hour},
	}
	for _, c := range cases {
		if got := parseJWTExpiry(c.in); got != c.want {
			t.Errorf("parseJWTExpiry(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}
