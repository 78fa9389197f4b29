package core

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"
)

func TestMoneyValidate(t *testing.T) {
	if err := (Money{Cents: 1}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Money{Cents: 0}).Validate(); err == nil {
		t.Fatalf("expected error for zero")
	}
	if err := (Money{Cents: MaxCents}).Validate(); err != nil {
		t.Fatalf("expected ok at MaxCents, got %v", err)
	}
	if err := (Money{Cents: MaxCents + 1}).Validate(); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount above MaxCents, got %v", err)
	}
}

func TestExpenseValidateRejectsOversizedShares(t *testing.T) {
	cases := []struct {
		name   string
		shares []int64
	}{
		// Without a bound these wrap around to the expense amount.
		{"sum wraps int64", []int64{math.MaxInt64, math.MaxInt64, 4}},
		{"single share too large", []int64{MaxCents + 1, 1}},
		{"running sum too large", []int64{MaxCents, MaxCents}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := validExpense()
			e.Amount = Money{Cents: 2}
			e.Shares = nil
			for i, c := range tc.shares {
				e.Shares = append(e.Shares, ExpenseShare{UserID: fmt.Sprintf("u%d", i), Amount: Money{Cents: c}})
			}
			if err := e.Validate(); !errors.Is(err, ErrInvalidAmount) {
				t.Fatalf("Validate() = %v, want ErrInvalidAmount", err)
			}
		})
	}
}

func validExpense() Expense {
	return Expense{
		ID:          "e1",
		GroupID:     "g1",
		PayerID:     "a",
		Description: "dinner",
		Category:    CategoryFood,
		Date:        time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		Amount:      Money{Cents: 900},
		Shares: []ExpenseShare{
			{UserID: "a", Amount: Money{Cents: 300}},
			{UserID: "b", Amount: Money{Cents: 300}},
			{UserID: "c", Amount: Money{Cents: 300}},
		},
	}
}

func TestExpenseValidate(t *testing.T) {
	if err := validExpense().Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Expense)
		want   error
	}{
		{"empty description", func(e *Expense) { e.Description = "  " }, ErrEmptyDescription},
		{"bad category", func(e *Expense) { e.Category = "PETS" }, ErrInvalidCategory},
		{"zero amount", func(e *Expense) { e.Amount = Money{} }, ErrInvalidAmount},
		{"no shares", func(e *Expense) { e.Shares = nil }, ErrNoShares},
		{"negative share", func(e *Expense) { e.Shares[0].Amount = Money{Cents: -1} }, ErrInvalidShare},
		{"blank share user", func(e *Expense) { e.Shares[0].UserID = "" }, ErrInvalidShare},
		{"duplicate share", func(e *Expense) { e.Shares[1].UserID = "a" }, ErrDuplicateShare},
		{"sum mismatch", func(e *Expense) { e.Amount = Money{Cents: 1000} }, ErrShareSumMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := validExpense()
			e.Shares = append([]ExpenseShare(nil), e.Shares...)
			tc.mutate(&e)
			if err := e.Validate(); !errors.Is(err, tc.want) {
				t.Fatalf("Validate() = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestSettlementValidate(t *testing.T) {
	ok := Settlement{PayerID: "c", ReceiverID: "a", Amount: Money{Cents: 450}, Kind: SettlementPayment}
	if err := ok.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	self := ok
	self.ReceiverID = "c"
	if err := self.Validate(); !errors.Is(err, ErrSelfSettlement) {
		t.Fatalf("expected ErrSelfSettlement, got %v", err)
	}

	kind := ok
	kind.Kind = "REFUND"
	if err := kind.Validate(); !errors.Is(err, ErrInvalidSettleKind) {
		t.Fatalf("expected ErrInvalidSettleKind, got %v", err)
	}

	missing := ok
	missing.PayerID = ""
	if err := missing.Validate(); !errors.Is(err, ErrMissingParticipant) {
		t.Fatalf("expected ErrMissingParticipant, got %v", err)
	}
}

func TestSettlementDeltasIgnoreKind(t *testing.T) {
	for _, kind := range []SettlementKind{SettlementPayment, SettlementAdjustment} {
		s := Settlement{PayerID: "c", ReceiverID: "a", Amount: Money{Cents: 450}, Kind: kind}
		payer, receiver := s.Deltas()
		if payer.Cents != 450 || receiver.Cents != -450 {
			t.Fatalf("%s: deltas = (%d, %d)", kind, payer.Cents, receiver.Cents)
		}
	}
	if SettlementAdjustment.Label() != "adjustment" || SettlementPayment.Label() != "payment" {
		t.Fatal("unexpected labels")
	}
}

func TestSnapshotUserIDs(t *testing.T) {
	snap := Snapshot{
		Expenses:    []Expense{validExpense()},
		Settlements: []Settlement{{PayerID: "d", ReceiverID: "a", Amount: Money{Cents: 1}}},
	}
	got := snap.UserIDs()
	want := []string{"a", "b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("UserIDs() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("UserIDs() = %v, want %v", got, want)
		}
	}
}

func TestIsValidationError(t *testing.T) {
	if !IsValidationError(fmt.Errorf("save expense: %w", ErrShareSumMismatch)) {
		t.Fatal("wrapped share mismatch should be a validation error")
	}
	long := Expense{Description: strings.Repeat("x", 201), Category: CategoryFood, Amount: Money{Cents: 1},
		Shares: []ExpenseShare{{UserID: "a", Amount: Money{Cents: 1}}}}
	if err := long.Validate(); !errors.Is(err, ErrDescriptionTooLong) || !IsValidationError(err) {
		t.Fatalf("long description err = %v", err)
	}
	if IsValidationError(errors.New("disk full")) || IsValidationError(nil) {
		t.Fatal("unrelated errors are not validation errors")
	}
}
