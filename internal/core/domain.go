package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	SettlementPayment    SettlementKind = "PAYMENT"
	SettlementAdjustment SettlementKind = "ADJUSTMENT"
)

const (
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
)

const (
	CategoryFood          Category = "FOOD"
	CategoryTransport     Category = "TRANSPORT"
	CategoryAccommodation Category = "ACCOMMODATION"
	CategoryEntertainment Category = "ENTERTAINMENT"
	CategoryShopping      Category = "SHOPPING"
	CategoryUtilities     Category = "UTILITIES"
	CategoryGroceries     Category = "GROCERIES"
	CategoryOther         Category = "OTHER"
)

const (
	ActivityExpenseAdded    ActivityType = "EXPENSE_ADDED"
	ActivitySettlementAdded ActivityType = "SETTLEMENT_ADDED"
	ActivityGroupUpdate     ActivityType = "GROUP_UPDATE"
	ActivityMemberAdded     ActivityType = "MEMBER_ADDED"
)

type (
	SettlementKind string
	Role           string
	Category       string
	ActivityType   string

	// Money is an amount in minor currency units (cents, paise).
	Money struct {
		Cents int64
	}

	User struct {
		ID    string
		Name  string
		Email string
	}

	Group struct {
		ID            string
		Name          string
		SimplifyDebts bool
		Archived      bool
		ArchivedAt    time.Time
		CreatedAt     time.Time
	}

	Member struct {
		GroupID string
		UserID  string
		Role    Role
	}

	// ExpenseShare is the portion of an expense attributed to a user,
	// independent of who paid.
	ExpenseShare struct {
		ExpenseID string
		UserID    string
		Amount    Money
	}

	Expense struct {
		ID          string
		GroupID     string
		PayerID     string // empty when the payer is unknown
		Description string
		Category    Category
		Notes       string
		Date        time.Time
		Amount      Money
		Shares      []ExpenseShare
	}

	Settlement struct {
		ID         string
		GroupID    string
		PayerID    string
		ReceiverID string
		Amount     Money
		Kind       SettlementKind
		CreatedAt  time.Time
	}

	Activity struct {
		ID          string
		GroupID     string
		ActorID     string
		Type        ActivityType
		Description string
		CreatedAt   time.Time
	}

	// Snapshot is the set of ledger records the balance engine folds.
	// Callers are expected to read it consistently.
	Snapshot struct {
		Expenses    []Expense
		Settlements []Settlement
	}
)

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrEmptyDescription   = errors.New("empty description")
	ErrDescriptionTooLong = errors.New("description too long (max 200 characters)")
	ErrInvalidCategory    = errors.New("invalid category")
	ErrNoShares           = errors.New("expense has no shares")
	ErrInvalidShare       = errors.New("invalid share")
	ErrDuplicateShare     = errors.New("duplicate share for user")
	ErrShareSumMismatch   = errors.New("shares do not sum to expense amount")
	ErrSelfSettlement     = errors.New("payer and receiver must differ")
	ErrInvalidSettleKind  = errors.New("invalid settlement kind")
	ErrEmptyGroupName     = errors.New("empty group name")
	ErrMissingParticipant = errors.New("missing participant")
	ErrInvalidRole        = errors.New("invalid role")
)

// validationErrors are the errors that mean the caller sent a bad record.
var validationErrors = []error{
	ErrInvalidAmount, ErrEmptyDescription, ErrDescriptionTooLong, ErrInvalidCategory,
	ErrNoShares, ErrInvalidShare, ErrDuplicateShare, ErrShareSumMismatch,
	ErrSelfSettlement, ErrInvalidSettleKind, ErrEmptyGroupName, ErrMissingParticipant,
	ErrInvalidRole,
}

// IsValidationError reports whether err wraps one of the record
// validation errors of this package.
func IsValidationError(err error) bool {
	for _, v := range validationErrors {
		if errors.Is(err, v) {
			return true
		}
	}
	return false
}

func (m Money) Add(o Money) Money { return Money{Cents: m.Cents + o.Cents} }
func (m Money) Sub(o Money) Money { return Money{Cents: m.Cents - o.Cents} }
func (m Money) Neg() Money        { return Money{Cents: -m.Cents} }
func (m Money) IsZero() bool      { return m.Cents == 0 }

func (m Money) Abs() Money {
	if m.Cents < 0 {
		return m.Neg()
	}
	return m
}

// MaxCents is the largest amount a single record may carry. Keeping every
// amount and share sum at or below it leaves balance sums far from int64
// overflow.
const MaxCents int64 = 1_000_000_000_000_000

func (m Money) Validate() error {
	if m.Cents <= 0 || m.Cents > MaxCents {
		return ErrInvalidAmount
	}
	return nil
}

func (c Category) Valid() bool {
	switch c {
	case CategoryFood, CategoryTransport, CategoryAccommodation, CategoryEntertainment,
		CategoryShopping, CategoryUtilities, CategoryGroceries, CategoryOther:
		return true
	}
	return false
}

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleMember
}

func (k SettlementKind) Valid() bool {
	return k == SettlementPayment || k == SettlementAdjustment
}

// Label is the human-readable name of the settlement kind.
func (k SettlementKind) Label() string {
	switch k {
	case SettlementAdjustment:
		return "adjustment"
	default:
		return "payment"
	}
}

// Deltas returns the ledger effect of the settlement on its payer and
// receiver. Every kind moves money the same way.
func (s Settlement) Deltas() (payer, receiver Money) {
	return s.Amount, s.Amount.Neg()
}

func (e Expense) HasPayer() bool {
	return e.PayerID != ""
}

// ShareOf returns the share attributed to userID, if any.
func (e Expense) ShareOf(userID string) (Money, bool) {
	for _, s := range e.Shares {
		if s.UserID == userID {
			return s.Amount, true
		}
	}
	return Money{}, false
}

// Validate checks an expense before it is written. The balance engine
// never calls it and folds whatever it is given.
func (e Expense) Validate() error {
	if len(strings.TrimSpace(e.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(e.Description) > 200 {
		return ErrDescriptionTooLong
	}
	if !e.Category.Valid() {
		return ErrInvalidCategory
	}
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if len(e.Shares) == 0 {
		return ErrNoShares
	}
	seen := make(map[string]struct{}, len(e.Shares))
	var total int64
	for _, s := range e.Shares {
		if strings.TrimSpace(s.UserID) == "" || s.Amount.Cents < 0 {
			return ErrInvalidShare
		}
		if _, ok := seen[s.UserID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateShare, s.UserID)
		}
		seen[s.UserID] = struct{}{}
		// Both operands are at most MaxCents here, so the sum cannot wrap.
		if s.Amount.Cents > MaxCents {
			return fmt.Errorf("%w: share of %s", ErrInvalidAmount, s.UserID)
		}
		total += s.Amount.Cents
		if total > MaxCents {
			return fmt.Errorf("%w: shares exceed %d", ErrInvalidAmount, MaxCents)
		}
	}
	if total != e.Amount.Cents {
		return fmt.Errorf("%w: shares=%d amount=%d", ErrShareSumMismatch, total, e.Amount.Cents)
	}
	return nil
}

func (s Settlement) Validate() error {
	if s.PayerID == "" || s.ReceiverID == "" {
		return ErrMissingParticipant
	}
	if s.PayerID == s.ReceiverID {
		return ErrSelfSettlement
	}
	if err := s.Amount.Validate(); err != nil {
		return err
	}
	if !s.Kind.Valid() {
		return ErrInvalidSettleKind
	}
	return nil
}

func (g Group) Validate() error {
	if strings.TrimSpace(g.Name) == "" {
		return ErrEmptyGroupName
	}
	return nil
}

// UserIDs returns every user referenced by the snapshot, in first-seen order.
func (s Snapshot) UserIDs() []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, e := range s.Expenses {
		add(e.PayerID)
		for _, sh := range e.Shares {
			add(sh.UserID)
		}
	}
	for _, st := range s.Settlements {
		add(st.PayerID)
		add(st.ReceiverID)
	}
	return out
}
