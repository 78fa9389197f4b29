package balance

import (
	"errors"
	"fmt"
)

// ErrUnsettledBalances rejects archiving a group that still carries debt.
var ErrUnsettledBalances = errors.New("cannot archive: there are unsettled balances, settle all debts first")

// Archivable reports whether every balance is within ArchiveDust of zero.
func Archivable(net NetBalance) bool {
	for _, v := range net {
		if v.Abs().Cents > ArchiveDust {
			return false
		}
	}
	return true
}

// CheckArchivable returns ErrUnsettledBalances, annotated with the number
// of users still carrying a balance, when the group cannot be archived.
func CheckArchivable(net NetBalance) error {
	unsettled := 0
	for _, v := range net {
		if v.Abs().Cents > ArchiveDust {
			unsettled++
		}
	}
	if unsettled > 0 {
		return fmt.Errorf("%w (%d users)", ErrUnsettledBalances, unsettled)
	}
	return nil
}
