// Package core holds the ledger records shared by the balance engine,
// the stores and the HTTP layer.
//
// This file contains parsing and display helpers for Money. Balance math
// never goes through them: it stays in integer minor units.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

var maxCents = decimal.NewFromInt(MaxCents)

// ParseAmount converts a decimal string in major units to Money.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and
// rounds half-up to the minor unit. Signs, exponents, zero and values
// above MaxCents are rejected with ErrInvalidAmount.
//
// Examples:
//
//	ParseAmount("12.34")  -> Money{1234}, nil
//	ParseAmount("12,345") -> Money{1235}, nil
//	ParseAmount("0")      -> Money{}, ErrInvalidAmount
func ParseAmount(s string) (Money, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	dots := 0
	for _, r := range s {
		switch {
		case r == '.':
			dots++
		case r < '0' || r > '9':
			return Money{}, ErrInvalidAmount
		}
	}
	if dots > 1 || s == "." {
		return Money{}, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	cents := d.Shift(2).Round(0)
	if cents.Cmp(maxCents) > 0 {
		return Money{}, ErrInvalidAmount
	}
	m := Money{Cents: cents.IntPart()}
	if m.Cents <= 0 {
		return Money{}, ErrInvalidAmount
	}
	return m, nil
}

// Major renders the amount in major units with two decimals ("12.34").
// Display only.
func (m Money) Major() string {
	return decimal.New(m.Cents, -2).StringFixed(2)
}
