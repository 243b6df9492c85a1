// Package ledger wraps the account substrate's value-movement primitives
// with the verification discipline the registry requires: transfers that
// must move an exact amount are checked against pre/post balances on both
// sides, not trusted.
package ledger

import (
	"errors"
	"fmt"

	"github.com/agentforge/registry/internal/state"
	"github.com/agentforge/registry/pkg/models"
)

// ErrInexactTransfer is returned when a transfer's observed balance delta
// does not equal the requested amount.
var ErrInexactTransfer = errors.New("transferred amount does not match expected value")

// Balance returns the account's balance in the transaction's view.
func Balance(txn *state.Txn, id models.AccountID) uint64 {
	return txn.Balance(id)
}

// Transfer moves amount between two accounts.
func Transfer(txn *state.Txn, from, to models.AccountID, amount uint64) error {
	return txn.Transfer(from, to, amount)
}

// ExactTransfer moves amount from one account to another and verifies by
// balance delta that exactly that amount moved on both sides.
func ExactTransfer(txn *state.Txn, from, to models.AccountID, amount uint64) error {
	preFrom := txn.Balance(from)
	preTo := txn.Balance(to)
	if preFrom < amount {
		return fmt.Errorf("exact transfer of %d: %w", amount, state.ErrInsufficientFunds)
	}
	if err := txn.Transfer(from, to, amount); err != nil {
		return err
	}
	postFrom := txn.Balance(from)
	postTo := txn.Balance(to)
	if preFrom-postFrom != amount || postTo-preTo != amount {
		return fmt.Errorf("exact transfer of %d: moved %d/%d: %w",
			amount, preFrom-postFrom, postTo-preTo, ErrInexactTransfer)
	}
	return nil
}
