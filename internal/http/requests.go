package http

import (
	"fmt"
	"strings"
	"time"

	"dividi/internal/core"
)

const dateLayout = "2006-01-02"

type createGroupRequest struct {
	Name          string `json:"name"`
	SimplifyDebts bool   `json:"simplify_debts"`
}

type addMemberRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

type shareRequest struct {
	UserID string `json:"user_id"`
	Amount string `json:"amount"`
}

// expenseRequest carries either explicit shares or a list of users to
// split the amount equally among, never both.
type expenseRequest struct {
	Description string         `json:"description"`
	Amount      string         `json:"amount"`
	Category    string         `json:"category"`
	Notes       string         `json:"notes"`
	Date        string         `json:"date"`
	PayerID     string         `json:"payer_id"`
	Shares      []shareRequest `json:"shares"`
	SplitAmong  []string       `json:"split_among"`
}

func (req expenseRequest) toExpense(groupID string) (core.Expense, error) {
	amount, err := core.ParseAmount(req.Amount)
	if err != nil {
		return core.Expense{}, fmt.Errorf("amount: %w", err)
	}

	e := core.Expense{
		GroupID:     groupID,
		PayerID:     strings.TrimSpace(req.PayerID),
		Description: sanitizeInput(req.Description),
		Category:    core.Category(strings.ToUpper(strings.TrimSpace(req.Category))),
		Notes:       sanitizeInput(req.Notes),
		Amount:      amount,
	}
	if d := strings.TrimSpace(req.Date); d != "" {
		if e.Date, err = time.Parse(dateLayout, d); err != nil {
			return core.Expense{}, badRequestf("invalid date %q, want YYYY-MM-DD", d)
		}
	}

	switch {
	case len(req.Shares) > 0 && len(req.SplitAmong) > 0:
		return core.Expense{}, badRequestf("send either shares or split_among, not both")
	case len(req.SplitAmong) > 0:
		e.Shares = splitEqually(amount, req.SplitAmong)
	default:
		for _, sh := range req.Shares {
			amt, err := core.ParseAmount(sh.Amount)
			if err != nil {
				return core.Expense{}, fmt.Errorf("share of %s: %w", sh.UserID, err)
			}
			e.Shares = append(e.Shares, core.ExpenseShare{UserID: strings.TrimSpace(sh.UserID), Amount: amt})
		}
	}
	return e, nil
}

// splitEqually divides amount among users. The leftover minor units go
// one each to the first users, so the shares always sum to amount.
func splitEqually(amount core.Money, users []string) []core.ExpenseShare {
	n := int64(len(users))
	base, rem := amount.Cents/n, amount.Cents%n
	shares := make([]core.ExpenseShare, len(users))
	for i, u := range users {
		cents := base
		if int64(i) < rem {
			cents++
		}
		shares[i] = core.ExpenseShare{UserID: strings.TrimSpace(u), Amount: core.Money{Cents: cents}}
	}
	return shares
}

type settlementRequest struct {
	PayerID    string `json:"payer_id"`
	ReceiverID string `json:"receiver_id"`
	Amount     string `json:"amount"`
}

func (req settlementRequest) toSettlement(groupID string) (core.Settlement, error) {
	amount, err := core.ParseAmount(req.Amount)
	if err != nil {
		return core.Settlement{}, fmt.Errorf("amount: %w", err)
	}
	return core.Settlement{
		GroupID:    groupID,
		PayerID:    strings.TrimSpace(req.PayerID),
		ReceiverID: strings.TrimSpace(req.ReceiverID),
		Amount:     amount,
	}, nil
}
