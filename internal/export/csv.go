// Package export renders a group's ledger as a sectioned CSV document.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"dividi/internal/balance"
	"dividi/internal/core"
)

const (
	SectionExpenses    = "--- EXPENSES ---"
	SectionSettlements = "--- SETTLEMENTS ---"
	SectionBalances    = "--- CURRENT BALANCES ---"

	dateLayout  = "2006-01-02"
	unknownUser = "Unknown"
)

var (
	expenseHeader    = []string{"Date", "Description", "Amount", "Category", "Paid By", "Split Details", "Notes"}
	settlementHeader = []string{"Date", "From", "To", "Amount"}
	balanceHeader    = []string{"Owes", "To", "Amount"}
)

// Input is one group's ledger plus the display names of its users.
type Input struct {
	Snapshot core.Snapshot
	Names    map[string]string
}

func (in Input) name(userID string) string {
	if userID == "" {
		return ""
	}
	if n := in.Names[userID]; n != "" {
		return n
	}
	return unknownUser
}

// Write renders expenses (newest first), settlements (newest first) and
// the pairwise balances above balance.ExportDust, separated by a blank
// line.
func Write(w io.Writer, in Input) error {
	cw := csv.NewWriter(w)

	rows := [][]string{{SectionExpenses}, expenseHeader}
	for _, e := range sortedExpenses(in.Snapshot.Expenses) {
		rows = append(rows, []string{
			e.Date.UTC().Format(dateLayout),
			e.Description,
			e.Amount.Major(),
			string(e.Category),
			in.name(e.PayerID),
			splitDetails(in, e.Shares),
			e.Notes,
		})
	}

	rows = append(rows, []string{""}, []string{SectionSettlements}, settlementHeader)
	for _, s := range sortedSettlements(in.Snapshot.Settlements) {
		rows = append(rows, []string{
			s.CreatedAt.UTC().Format(dateLayout),
			in.name(s.PayerID),
			in.name(s.ReceiverID),
			s.Amount.Major(),
		})
	}

	rows = append(rows, []string{""}, []string{SectionBalances}, balanceHeader)
	for _, p := range balance.PairwiseAbove(in.Snapshot, balance.ExportDust) {
		rows = append(rows, []string{in.name(p.OwerID), in.name(p.OweeID), p.Amount.Major()})
	}

	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

func splitDetails(in Input, shares []core.ExpenseShare) string {
	parts := make([]string, 0, len(shares))
	for _, s := range shares {
		parts = append(parts, in.name(s.UserID)+": "+s.Amount.Major())
	}
	return strings.Join(parts, "; ")
}

func sortedExpenses(list []core.Expense) []core.Expense {
	out := append([]core.Expense(nil), list...)
	sort.SliceStable(out, func(i, j int) bool { return newer(out[i].Date, out[j].Date) })
	return out
}

func sortedSettlements(list []core.Settlement) []core.Settlement {
	out := append([]core.Settlement(nil), list...)
	sort.SliceStable(out, func(i, j int) bool { return newer(out[i].CreatedAt, out[j].CreatedAt) })
	return out
}

func newer(a, b time.Time) bool { return a.After(b) }
