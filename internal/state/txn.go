package state

import (
	"fmt"

	"github.com/agentforge/registry/pkg/models"
)

// Txn is an overlay of staged account writes over the store's committed
// state. Reads see staged values first; mutations only touch the overlay
// until Commit applies them atomically. Discard after Commit is a no-op,
// so callers can `defer txn.Discard()` and commit on the success path.
type Txn struct {
	store  *Store
	staged map[models.AccountID]*Account // nil value = account closed
	done   bool
}

// lookup returns the current view of an account without staging it.
// The second result is false if the account does not exist at all.
func (t *Txn) lookup(id models.AccountID) (*Account, bool) {
	if acct, ok := t.staged[id]; ok {
		return acct, acct != nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	acct, ok := t.store.accounts[id]
	return acct, ok
}

// mutable stages a copy of the account for writing and returns it.
// Missing accounts are materialized with a zero balance, matching the
// substrate model where every identifier implicitly holds value.
func (t *Txn) mutable(id models.AccountID) *Account {
	if acct, ok := t.staged[id]; ok {
		if acct == nil {
			acct = &Account{}
			t.staged[id] = acct
		}
		return acct
	}
	t.store.mu.RLock()
	base, ok := t.store.accounts[id]
	t.store.mu.RUnlock()
	var acct *Account
	if ok {
		acct = base.clone()
	} else {
		acct = &Account{}
	}
	t.staged[id] = acct
	return acct
}

// Exists reports whether the account holds a live record.
func (t *Txn) Exists(id models.AccountID) bool {
	acct, ok := t.lookup(id)
	return ok && acct.hasRecord()
}

// Balance returns the account's balance in this transaction's view.
func (t *Txn) Balance(id models.AccountID) uint64 {
	if acct, ok := t.lookup(id); ok {
		return acct.Balance
	}
	return 0
}

// Data returns a copy of the account's record bytes.
func (t *Txn) Data(id models.AccountID) ([]byte, error) {
	acct, ok := t.lookup(id)
	if !ok || !acct.hasRecord() {
		return nil, fmt.Errorf("read %s: %w", id, ErrNotFound)
	}
	out := make([]byte, len(acct.Data))
	copy(out, acct.Data)
	return out, nil
}

// Create allocates a record of the given size at id, owned by the named
// subsystem. The payer funds the record's minimum balance; that balance is
// returned to whoever closes the record.
func (t *Txn) Create(id models.AccountID, size int, owner string, payer models.AccountID) error {
	if t.Exists(id) {
		return fmt.Errorf("create %s: %w", id, ErrExists)
	}
	rent := MinBalance(size)
	payerAcct := t.mutable(payer)
	if payerAcct.Balance < rent {
		return fmt.Errorf("create %s: rent %d: %w", id, rent, ErrInsufficientFunds)
	}
	payerAcct.Balance -= rent
	acct := t.mutable(id)
	acct.Balance += rent
	acct.Owner = owner
	acct.Data = nil
	return nil
}

// Write replaces the record bytes of an existing record.
func (t *Txn) Write(id models.AccountID, data []byte) error {
	if !t.Exists(id) {
		return fmt.Errorf("write %s: %w", id, ErrNotFound)
	}
	acct := t.mutable(id)
	acct.Data = make([]byte, len(data))
	copy(acct.Data, data)
	return nil
}

// CloseAccount zeroes a record and returns its entire balance (the held
// minimum balance plus anything since accumulated) to refundTo.
func (t *Txn) CloseAccount(id models.AccountID, refundTo models.AccountID) error {
	acct, ok := t.lookup(id)
	if !ok || !acct.hasRecord() {
		return fmt.Errorf("close %s: %w", id, ErrNotFound)
	}
	refund := acct.Balance
	dest := t.mutable(refundTo)
	if dest.Balance+refund < dest.Balance {
		return fmt.Errorf("close %s: %w", id, ErrOverflow)
	}
	dest.Balance += refund
	t.staged[id] = nil
	return nil
}

// Transfer moves amount from one account to another.
func (t *Txn) Transfer(from, to models.AccountID, amount uint64) error {
	src := t.mutable(from)
	if src.Balance < amount {
		return fmt.Errorf("transfer %d from %s: %w", amount, from, ErrInsufficientFunds)
	}
	dst := t.mutable(to)
	if dst.Balance+amount < dst.Balance {
		return fmt.Errorf("transfer %d to %s: %w", amount, to, ErrOverflow)
	}
	src.Balance -= amount
	dst.Balance += amount
	return nil
}

// Credit adds amount to an account out of thin air. Bootstrap/genesis
// funding only; registry operations move value, they never mint it.
func (t *Txn) Credit(id models.AccountID, amount uint64) error {
	acct := t.mutable(id)
	if acct.Balance+amount < acct.Balance {
		return fmt.Errorf("credit %d to %s: %w", amount, id, ErrOverflow)
	}
	acct.Balance += amount
	return nil
}

// Commit applies all staged writes to the store atomically.
func (t *Txn) Commit() error {
	if t.done {
		return fmt.Errorf("commit: transaction already finished")
	}
	t.done = true
	t.store.mu.Lock()
	for id, acct := range t.staged {
		if acct == nil || (!acct.hasRecord() && acct.Balance == 0) {
			delete(t.store.accounts, id)
			continue
		}
		t.store.accounts[id] = acct
	}
	t.store.mu.Unlock()
	t.store.requestSave()
	return nil
}

// Discard drops all staged writes. Safe to call after Commit.
func (t *Txn) Discard() {
	if t.done {
		return
	}
	t.done = true
	t.staged = nil
}
