package http

import (
	"time"

	"dividi/internal/balance"
	"dividi/internal/core"
	"dividi/internal/services"
)

// Amounts go out twice: exact minor units for clients that compute, and a
// two-decimal major-unit string for display.

type groupView struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	SimplifyDebts bool       `json:"simplify_debts"`
	Archived      bool       `json:"archived"`
	ArchivedAt    *time.Time `json:"archived_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func newGroupView(g core.Group) groupView {
	v := groupView{
		ID:            g.ID,
		Name:          g.Name,
		SimplifyDebts: g.SimplifyDebts,
		Archived:      g.Archived,
		CreatedAt:     g.CreatedAt,
	}
	if g.Archived && !g.ArchivedAt.IsZero() {
		at := g.ArchivedAt
		v.ArchivedAt = &at
	}
	return v
}

type transactionView struct {
	FromUserID  string `json:"from_user_id"`
	FromName    string `json:"from_name"`
	ToUserID    string `json:"to_user_id"`
	ToName      string `json:"to_name"`
	AmountCents int64  `json:"amount_cents"`
	Amount      string `json:"amount"`
}

func newTransactionViews(txs []balance.Transaction, names map[string]string) []transactionView {
	out := make([]transactionView, 0, len(txs))
	for _, tx := range txs {
		out = append(out, transactionView{
			FromUserID:  tx.OwerID,
			FromName:    nameOf(names, tx.OwerID),
			ToUserID:    tx.OweeID,
			ToName:      nameOf(names, tx.OweeID),
			AmountCents: tx.Amount.Cents,
			Amount:      tx.Amount.Major(),
		})
	}
	return out
}

type netBalanceView struct {
	UserID       string `json:"user_id"`
	Name         string `json:"name"`
	BalanceCents int64  `json:"balance_cents"`
	Balance      string `json:"balance"`
}

func newNetBalanceViews(net balance.NetBalance, names map[string]string) []netBalanceView {
	users := net.Users()
	out := make([]netBalanceView, 0, len(users))
	for _, id := range users {
		amt := net[id]
		out = append(out, netBalanceView{
			UserID:       id,
			Name:         nameOf(names, id),
			BalanceCents: amt.Cents,
			Balance:      amt.Major(),
		})
	}
	return out
}

type groupSummaryView struct {
	Group          groupView         `json:"group"`
	Role           core.Role         `json:"role"`
	MyBalanceCents int64             `json:"my_balance_cents"`
	MyBalance      string            `json:"my_balance"`
	Settled        bool              `json:"settled"`
	Transactions   []transactionView `json:"transactions"`
}

func newGroupSummaryViews(list []services.GroupSummary, names map[string]string) []groupSummaryView {
	out := make([]groupSummaryView, 0, len(list))
	for _, gs := range list {
		out = append(out, groupSummaryView{
			Group:          newGroupView(gs.Group),
			Role:           gs.Role,
			MyBalanceCents: gs.MyBalance.Cents,
			MyBalance:      gs.MyBalance.Major(),
			Settled:        gs.Settled,
			Transactions:   newTransactionViews(gs.Transactions, names),
		})
	}
	return out
}

type counterpartyView struct {
	UserID      string `json:"user_id"`
	Name        string `json:"name"`
	AmountCents int64  `json:"amount_cents"`
	Amount      string `json:"amount"`
}

type categoryView struct {
	Category    core.Category `json:"category"`
	AmountCents int64         `json:"amount_cents"`
	Amount      string        `json:"amount"`
}

type dashboardView struct {
	TotalOwedCents       int64              `json:"total_owed_cents"`
	TotalOweCents        int64              `json:"total_owe_cents"`
	NetBalanceCents      int64              `json:"net_balance_cents"`
	NetBalance           string             `json:"net_balance"`
	GroupCount           int                `json:"group_count"`
	MonthlySpendingCents int64              `json:"monthly_spending_cents"`
	Categories           []categoryView     `json:"categories"`
	TheyOweMe            []counterpartyView `json:"they_owe_me"`
	IOweThem             []counterpartyView `json:"i_owe_them"`
}

func newDashboardView(d *balance.Dashboard) dashboardView {
	v := dashboardView{
		TotalOwedCents:       d.TotalOwed.Cents,
		TotalOweCents:        d.TotalOwe.Cents,
		NetBalanceCents:      d.NetBalance.Cents,
		NetBalance:           d.NetBalance.Major(),
		GroupCount:           d.GroupCount,
		MonthlySpendingCents: d.MonthlySpending.Cents,
		Categories:           make([]categoryView, 0, len(d.Categories)),
		TheyOweMe:            newCounterpartyViews(d.TheyOweMe),
		IOweThem:             newCounterpartyViews(d.IOweThem),
	}
	for _, c := range d.Categories {
		v.Categories = append(v.Categories, categoryView{Category: c.Category, AmountCents: c.Amount.Cents, Amount: c.Amount.Major()})
	}
	return v
}

func newCounterpartyViews(list []balance.Counterparty) []counterpartyView {
	out := make([]counterpartyView, 0, len(list))
	for _, c := range list {
		out = append(out, counterpartyView{UserID: c.UserID, Name: c.Name, AmountCents: c.Amount.Cents, Amount: c.Amount.Major()})
	}
	return out
}

type expenseView struct {
	ID          string          `json:"id"`
	GroupID     string          `json:"group_id"`
	PayerID     string          `json:"payer_id"`
	Description string          `json:"description"`
	Category    core.Category   `json:"category"`
	Notes       string          `json:"notes,omitempty"`
	Date        string          `json:"date"`
	AmountCents int64           `json:"amount_cents"`
	Amount      string          `json:"amount"`
	Shares      []shareResponse `json:"shares"`
}

type shareResponse struct {
	UserID      string `json:"user_id"`
	AmountCents int64  `json:"amount_cents"`
}

func newExpenseView(e core.Expense) expenseView {
	v := expenseView{
		ID:          e.ID,
		GroupID:     e.GroupID,
		PayerID:     e.PayerID,
		Description: e.Description,
		Category:    e.Category,
		Notes:       e.Notes,
		Date:        e.Date.Format(dateLayout),
		AmountCents: e.Amount.Cents,
		Amount:      e.Amount.Major(),
		Shares:      make([]shareResponse, 0, len(e.Shares)),
	}
	for _, sh := range e.Shares {
		v.Shares = append(v.Shares, shareResponse{UserID: sh.UserID, AmountCents: sh.Amount.Cents})
	}
	return v
}

type settlementView struct {
	ID          string              `json:"id"`
	GroupID     string              `json:"group_id"`
	PayerID     string              `json:"payer_id"`
	ReceiverID  string              `json:"receiver_id"`
	Kind        core.SettlementKind `json:"kind"`
	AmountCents int64               `json:"amount_cents"`
	Amount      string              `json:"amount"`
	CreatedAt   time.Time           `json:"created_at"`
}

func newSettlementView(s core.Settlement) settlementView {
	return settlementView{
		ID:          s.ID,
		GroupID:     s.GroupID,
		PayerID:     s.PayerID,
		ReceiverID:  s.ReceiverID,
		Kind:        s.Kind,
		AmountCents: s.Amount.Cents,
		Amount:      s.Amount.Major(),
		CreatedAt:   s.CreatedAt,
	}
}

type memberView struct {
	GroupID string    `json:"group_id"`
	UserID  string    `json:"user_id"`
	Role    core.Role `json:"role"`
}

type activityView struct {
	ID          string            `json:"id"`
	ActorID     string            `json:"actor_id"`
	Type        core.ActivityType `json:"type"`
	Description string            `json:"description"`
	CreatedAt   time.Time         `json:"created_at"`
}

func newActivityViews(list []core.Activity) []activityView {
	out := make([]activityView, 0, len(list))
	for _, a := range list {
		out = append(out, activityView{ID: a.ID, ActorID: a.ActorID, Type: a.Type, Description: a.Description, CreatedAt: a.CreatedAt})
	}
	return out
}

func nameOf(names map[string]string, id string) string {
	if n, ok := names[id]; ok && n != "" {
		return n
	}
	return id
}
