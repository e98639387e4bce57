package util

import (
	"strings"
	"testing"
)

func TestNewIDPrefix(t *testing.T) {
	id := NewID("iss")
	if !strings.HasPrefix(id, "iss_") {
		t.Fatalf("expected iss_ prefix, got %q", id)
	}
	if NewID("") == NewID("") {
		t.Fatal("expected unique ids")
	}
}

func TestNewTokenLength(t *testing.T) {
	token, err := NewToken()
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	if len(token) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(token))
	}
}
