package domain

import (
	"testing"
	"time"
)

func TestParseStakeCanonicalizes(t *testing.T) {
	cases := map[string]string{
		"USD 25.00":  "USD 25.00",
		"USD 25":     "USD 25.00",
		"USD 25.5":   "USD 25.50",
		" EUR 9.99 ": "EUR 9.99",
	}
	for in, want := range cases {
		got, err := CanonicalizeStake(in)
		if err != nil {
			t.Fatalf("CanonicalizeStake(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("CanonicalizeStake(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseStakeRejects(t *testing.T) {
	for _, in := range []string{"", "25.00", "usd 25.00", "USD -5.00", "USD 0", "USD 1.999"} {
		if _, err := ParseStake(in); err == nil {
			t.Fatalf("ParseStake(%q): expected failure", in)
		}
	}
}

func TestRemaining(t *testing.T) {
	due := tBase.Add(time.Hour)
	if got := Remaining(tBase, due); got != time.Hour {
		t.Fatalf("Remaining = %v, want 1h", got)
	}
	if got := Remaining(due.Add(time.Minute), due); got != 0 {
		t.Fatalf("Remaining past due = %v, want 0", got)
	}
	if HasExpired(tBase, due) {
		t.Fatalf("not yet expired")
	}
	if !HasExpired(due, due) {
		t.Fatalf("expired exactly at due")
	}
}
