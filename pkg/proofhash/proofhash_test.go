package proofhash

import (
	"strings"
	"testing"
)

func TestIsWellFormed(t *testing.T) {
	valid := SumString("some media bytes")
	if !IsWellFormed(valid) {
		t.Fatalf("expected %q to be well formed", valid)
	}
	bad := []string{
		"",
		"abc",
		strings.ToUpper(valid),
		valid[:63],
		valid + "0",
		strings.Replace(valid, valid[:1], "g", 1),
	}
	for _, h := range bad {
		if IsWellFormed(h) {
			t.Fatalf("expected %q to be rejected", h)
		}
	}
}

func TestSumObjectDeterministicForMapOrder(t *testing.T) {
	a := map[string]any{"b": 2, "a": 1}
	b := map[string]any{"a": 1, "b": 2}
	ha, _, err := SumObject(a)
	if err != nil {
		t.Fatalf("hash err: %v", err)
	}
	hb, _, err := SumObject(b)
	if err != nil {
		t.Fatalf("hash err: %v", err)
	}
	if ha != hb {
		t.Fatalf("expected equal hashes")
	}
}

func TestSumStringMatchesKnownLength(t *testing.T) {
	h := SumString("x")
	if len(h) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(h))
	}
}
