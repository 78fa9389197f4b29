package balance

import (
	"sort"
	"time"

	"dividi/internal/core"
)

const (
	// SpendingWindow is the trailing window used for MonthlySpending.
	SpendingWindow = 30 * 24 * time.Hour
	// TopCounterparties caps each counterparty list on the dashboard.
	TopCounterparties = 5
)

// CategorySpending is the total of all expenses in one category.
type CategorySpending struct {
	Category core.Category
	Amount   core.Money
}

// Counterparty is a user's net position with one other user. Amount is
// always reported as a positive magnitude; the list it sits in gives the
// direction.
type Counterparty struct {
	UserID string
	Name   string
	Amount core.Money
}

// Dashboard is the cross-group summary for a single user.
type Dashboard struct {
	TotalOwed       core.Money // owed to the user
	TotalOwe        core.Money // owed by the user
	NetBalance      core.Money
	GroupCount      int
	MonthlySpending core.Money
	Categories      []CategorySpending
	TheyOweMe       []Counterparty
	IOweThem        []Counterparty
}

// DashboardInput is everything BuildDashboard folds. Snapshot holds the
// records of every group the user belongs to.
type DashboardInput struct {
	UserID     string
	GroupCount int
	Snapshot   core.Snapshot
	Names      map[string]string
	Now        time.Time
}

type counterpartyBook struct {
	names  map[string]string
	amount map[string]int64
}

func (b *counterpartyBook) add(userID string, amt int64) {
	b.amount[userID] += amt
}

func (b *counterpartyBook) name(userID string) string {
	if n, ok := b.names[userID]; ok && n != "" {
		return n
	}
	return userID
}

// BuildDashboard aggregates balances and spending across every group in
// the input for in.UserID. It returns nil when there is no user.
func BuildDashboard(in DashboardInput) *Dashboard {
	if in.UserID == "" {
		return nil
	}
	me := in.UserID
	cutoff := in.Now.Add(-SpendingWindow)

	book := &counterpartyBook{names: in.Names, amount: map[string]int64{}}
	categories := map[core.Category]int64{}
	var monthly int64

	for _, e := range in.Snapshot.Expenses {
		categories[e.Category] += e.Amount.Cents

		myShare, hasShare := e.ShareOf(me)
		if hasShare && !e.Date.Before(cutoff) {
			monthly += myShare.Cents
		}

		switch {
		case !e.HasPayer():
		case e.PayerID == me:
			for _, s := range e.Shares {
				if s.UserID != me {
					book.add(s.UserID, s.Amount.Cents)
				}
			}
		case hasShare:
			book.add(e.PayerID, -myShare.Cents)
		}
	}

	for _, s := range in.Snapshot.Settlements {
		switch me {
		case s.PayerID:
			book.add(s.ReceiverID, s.Amount.Cents)
		case s.ReceiverID:
			book.add(s.PayerID, -s.Amount.Cents)
		}
	}

	d := &Dashboard{
		GroupCount:      in.GroupCount,
		MonthlySpending: core.Money{Cents: monthly},
		Categories:      sortedCategories(categories),
	}
	for id, amt := range book.amount {
		switch {
		case amt > 0:
			d.TotalOwed.Cents += amt
			d.TheyOweMe = append(d.TheyOweMe, Counterparty{UserID: id, Name: book.name(id), Amount: core.Money{Cents: amt}})
		case amt < 0:
			d.TotalOwe.Cents -= amt
			d.IOweThem = append(d.IOweThem, Counterparty{UserID: id, Name: book.name(id), Amount: core.Money{Cents: -amt}})
		}
	}
	d.NetBalance = d.TotalOwed.Sub(d.TotalOwe)
	d.TheyOweMe = topCounterparties(d.TheyOweMe)
	d.IOweThem = topCounterparties(d.IOweThem)
	return d
}

func sortedCategories(totals map[core.Category]int64) []CategorySpending {
	out := make([]CategorySpending, 0, len(totals))
	for c, amt := range totals {
		out = append(out, CategorySpending{Category: c, Amount: core.Money{Cents: amt}})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount.Cents > out[j].Amount.Cents
		}
		return out[i].Category < out[j].Category
	})
	return out
}

func topCounterparties(list []Counterparty) []Counterparty {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Amount != list[j].Amount {
			return list[i].Amount.Cents > list[j].Amount.Cents
		}
		return list[i].UserID < list[j].UserID
	})
	if len(list) > TopCounterparties {
		list = list[:TopCounterparties]
	}
	return list
}
