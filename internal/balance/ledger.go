// Package balance turns ledger snapshots into net balances, settle-up
// transactions, pairwise debts and dashboard rollups.
//
// Everything here is a pure function over an in-memory core.Snapshot:
// nothing touches storage, nothing is retained between calls, and
// concurrent calls never interact.
package balance

import (
	"sort"

	"dividi/internal/core"
)

// Dust thresholds, in minor units. They differ per call site and are kept
// apart on purpose.
const (
	// SimplifyDust is the magnitude at or below which the simplifier and
	// the pairwise resolver consider a balance settled.
	SimplifyDust int64 = 1
	// ExportDust filters the balances section of a ledger export.
	ExportDust int64 = 50
	// ArchiveDust is the largest balance a group may carry and still be
	// archived.
	ArchiveDust int64 = 100
)

// NetBalance maps a user id to their position in a group: positive is
// owed to the user, negative is owed by the user.
type NetBalance map[string]core.Money

func (n NetBalance) add(userID string, amt core.Money) {
	n[userID] = n[userID].Add(amt)
}

// Sum adds every balance. It is zero for any NetBalance built by Aggregate
// from expenses whose shares cover their amount.
func (n NetBalance) Sum() core.Money {
	var total core.Money
	for _, v := range n {
		total = total.Add(v)
	}
	return total
}

// Users returns the user ids in ascending order.
func (n NetBalance) Users() []string {
	ids := make([]string, 0, len(n))
	for id := range n {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Aggregate folds a group's expenses and settlements into a NetBalance.
//
// The payer of an expense is credited the full amount and every share is
// debited from its user, the payer's own share included. Expenses without
// a payer are skipped whole: their shares are not debited either. Shares
// that do not sum to the amount are not an error: the difference accrues
// to the payer.
func Aggregate(snap core.Snapshot) NetBalance {
	net := NetBalance{}
	for _, e := range snap.Expenses {
		if !e.HasPayer() {
			continue
		}
		net.add(e.PayerID, e.Amount)
		for _, s := range e.Shares {
			net.add(s.UserID, s.Amount.Neg())
		}
	}
	for _, s := range snap.Settlements {
		payer, receiver := s.Deltas()
		net.add(s.PayerID, payer)
		net.add(s.ReceiverID, receiver)
	}
	return net
}
