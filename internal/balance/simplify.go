package balance

import (
	"sort"

	"dividi/internal/core"
)

// Transaction is a settle-up instruction: OwerID pays OweeID Amount.
type Transaction struct {
	OwerID string
	OweeID string
	Amount core.Money
}

type position struct {
	id      string
	balance int64
}

// Simplify returns settle-up transactions that bring every balance in net
// to within SimplifyDust of zero.
//
// Debtors are matched most-negative first against creditors largest
// first with a two-pointer walk, which yields at most
// len(debtors)+len(creditors)-1 transactions. Equal balances are ordered
// by user id so the same input always produces the same list.
func Simplify(net NetBalance) []Transaction {
	var debtors, creditors []position
	for _, id := range net.Users() {
		amt := net[id].Cents
		switch {
		case amt < -SimplifyDust:
			debtors = append(debtors, position{id: id, balance: amt})
		case amt > SimplifyDust:
			creditors = append(creditors, position{id: id, balance: amt})
		}
	}

	sort.SliceStable(debtors, func(a, b int) bool { return debtors[a].balance < debtors[b].balance })
	sort.SliceStable(creditors, func(a, b int) bool { return creditors[a].balance > creditors[b].balance })

	var out []Transaction
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		d, c := &debtors[i], &creditors[j]

		amount := min(-d.balance, c.balance)
		if amount > 0 {
			out = append(out, Transaction{
				OwerID: d.id,
				OweeID: c.id,
				Amount: core.Money{Cents: amount},
			})
		}

		c.balance -= amount
		d.balance += amount

		if abs(d.balance) < 1 {
			i++
		}
		if c.balance < 1 {
			j++
		}
	}
	return out
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
