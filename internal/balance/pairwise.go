package balance

import (
	"sort"

	"dividi/internal/core"
)

// PairwiseBalance is a direct debt between two users who transacted with
// each other. No debt is routed through a third party.
type PairwiseBalance struct {
	OwerID string
	OweeID string
	Amount core.Money
}

// owedMatrix[a][b] is what a owes b, before netting against b's debt to a.
type owedMatrix map[string]map[string]int64

func (m owedMatrix) add(from, to string, amt int64) {
	row, ok := m[from]
	if !ok {
		row = map[string]int64{}
		m[from] = row
	}
	row[to] += amt
}

// directDebts builds the un-netted matrix of direct obligations: each
// non-payer share is owed to the expense payer, and each settlement
// reduces what its payer owed its receiver.
func directDebts(snap core.Snapshot) owedMatrix {
	owed := owedMatrix{}
	for _, e := range snap.Expenses {
		if !e.HasPayer() {
			continue
		}
		for _, s := range e.Shares {
			if s.UserID == e.PayerID {
				continue
			}
			owed.add(s.UserID, e.PayerID, s.Amount.Cents)
		}
	}
	for _, s := range snap.Settlements {
		owed.add(s.PayerID, s.ReceiverID, -s.Amount.Cents)
	}
	return owed
}

// netPairs visits every unordered pair once, in user-id order, and emits
// the net debt when its magnitude exceeds dust.
func (m owedMatrix) netPairs(dust int64) []PairwiseBalance {
	type pair struct{ u, v string }
	seen := map[pair]struct{}{}
	var pairs []pair
	for from, row := range m {
		for to := range row {
			p := pair{from, to}
			if p.v < p.u {
				p = pair{to, from}
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			pairs = append(pairs, p)
		}
	}
	sort.Slice(pairs, func(a, b int) bool {
		if pairs[a].u != pairs[b].u {
			return pairs[a].u < pairs[b].u
		}
		return pairs[a].v < pairs[b].v
	})

	var out []PairwiseBalance
	for _, p := range pairs {
		net := m[p.u][p.v] - m[p.v][p.u]
		switch {
		case net > dust:
			out = append(out, PairwiseBalance{OwerID: p.u, OweeID: p.v, Amount: core.Money{Cents: net}})
		case net < -dust:
			out = append(out, PairwiseBalance{OwerID: p.v, OweeID: p.u, Amount: core.Money{Cents: -net}})
		}
	}
	return out
}

// Pairwise returns the direct debts between every pair of users in the
// snapshot, netted per pair and filtered at SimplifyDust.
func Pairwise(snap core.Snapshot) []PairwiseBalance {
	return directDebts(snap).netPairs(SimplifyDust)
}

// PairwiseAbove is Pairwise with a caller-chosen dust threshold.
func PairwiseAbove(snap core.Snapshot, dust int64) []PairwiseBalance {
	return directDebts(snap).netPairs(dust)
}

// Resolve produces the settle-up list a group displays: simplified
// transactions when simplify is set, direct pairwise debts otherwise.
func Resolve(snap core.Snapshot, simplify bool) []Transaction {
	if simplify {
		return Simplify(Aggregate(snap))
	}
	pairs := Pairwise(snap)
	out := make([]Transaction, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, Transaction(p))
	}
	return out
}
