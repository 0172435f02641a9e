package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var reStake = regexp.MustCompile(`^\s*([A-Z]{3})\s+(\d+)(\.\d{1,2})?\s*$`)

// Stake is escrowed money in canonical "CCY units.cc" form, e.g. "USD 25.00".
// The escrow ledger holds the funds; the core only carries the amount for audit
// and for the decision payload.
type Stake struct {
	Currency string
	Cents    int64
}

func ParseStake(raw string) (Stake, error) {
	matches := reStake.FindStringSubmatch(raw)
	if matches == nil {
		return Stake{}, &ValidationError{Field: "stake", Reason: `must be like "USD 25.00"`}
	}
	units, err := strconv.ParseInt(matches[1+1], 10, 64)
	if err != nil {
		return Stake{}, &ValidationError{Field: "stake", Reason: "invalid amount"}
	}
	var cents int64
	if frac := matches[3]; frac != "" {
		f := strings.TrimPrefix(frac, ".")
		if len(f) == 1 {
			f += "0"
		}
		c, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return Stake{}, &ValidationError{Field: "stake", Reason: "invalid cents"}
		}
		cents = c
	}
	total := units*100 + cents
	if total <= 0 {
		return Stake{}, &ValidationError{Field: "stake", Reason: "must be positive"}
	}
	return Stake{Currency: matches[1], Cents: total}, nil
}

func (s Stake) Canonical() string {
	return fmt.Sprintf("%s %d.%02d", s.Currency, s.Cents/100, s.Cents%100)
}

// CanonicalizeStake validates raw stake input and returns the canonical form.
func CanonicalizeStake(raw string) (string, error) {
	s, err := ParseStake(raw)
	if err != nil {
		return "", err
	}
	return s.Canonical(), nil
}
