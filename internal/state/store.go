// Package state implements the keyed account substrate the registry runs
// on. Every account carries a native-value balance plus optional record
// bytes; records persist only while funded with a minimum balance, and
// closing a record zeroes its data and refunds that balance.
//
// All mutation happens through a Txn: an overlay of staged account writes
// committed atomically or discarded wholesale, which is what gives every
// registry operation its all-or-nothing semantics.
package state

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentforge/registry/pkg/models"
)

var (
	// ErrNotFound is returned when an account holds no record.
	ErrNotFound = errors.New("account not found")
	// ErrExists is returned when creating a record that already exists.
	ErrExists = errors.New("account already exists")
	// ErrInsufficientFunds is returned when a debit exceeds the balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrOverflow is returned when a credit would overflow a balance.
	ErrOverflow = errors.New("balance overflow")
)

// Rent parameters. A record must hold at least MinBalance(size) to persist;
// the payer funds it at creation and gets it back when the record closes.
const (
	baseRent uint64 = 1000
	byteRent uint64 = 10
)

// MinBalance returns the minimum balance an account must hold to keep a
// record of the given allocated size alive.
func MinBalance(size int) uint64 {
	return baseRent + byteRent*uint64(size)
}

// Account is one entry in the substrate: a balance, an owner tag naming the
// subsystem that created the record, and the record bytes. Accounts with no
// record (plain value-holding keys) have empty Owner and nil Data.
type Account struct {
	Balance uint64 `cbor:"balance"`
	Owner   string `cbor:"owner"`
	Data    []byte `cbor:"data"`
}

func (a *Account) clone() *Account {
	c := *a
	if a.Data != nil {
		c.Data = make([]byte, len(a.Data))
		copy(c.Data, a.Data)
	}
	return &c
}

// hasRecord reports whether the account holds a live record (as opposed to
// merely a balance).
func (a *Account) hasRecord() bool { return a.Owner != "" }

// Store holds all accounts in memory, with optional CBOR snapshot
// persistence so state survives restarts.
type Store struct {
	mu       sync.RWMutex
	accounts map[models.AccountID]*Account

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals the save goroutine to stop
	closeOnce    sync.Once
}

// NewStore creates a store with no persistence. Used in tests and
// single-run tooling.
func NewStore() *Store {
	return &Store{
		accounts: make(map[models.AccountID]*Account),
		saveCh:   make(chan struct{}, 1),
		doneCh:   make(chan struct{}),
	}
}

// Open creates a store persisted to a CBOR snapshot file in dir. Existing
// snapshot data is loaded; writes are flushed by a debounced background
// goroutine and on Close.
func Open(dir string) (*Store, error) {
	s := NewStore()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s.snapshotPath = filepath.Join(dir, "accounts.cbor")
	if err := s.loadSnapshot(); err != nil {
		return nil, err
	}
	go s.saveLoop()
	log.Info().Str("snapshot", s.snapshotPath).Msg("account store opened")
	return s, nil
}

// Begin starts a transaction over the current state.
func (s *Store) Begin() *Txn {
	return &Txn{store: s, staged: make(map[models.AccountID]*Account)}
}

// Balance returns the committed balance of an account. Missing accounts
// hold zero.
func (s *Store) Balance(id models.AccountID) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if acct, ok := s.accounts[id]; ok {
		return acct.Balance
	}
	return 0
}

// Close stops the background save goroutine and flushes a final snapshot.
func (s *Store) Close() error {
	s.closeOnce.Do(func() { close(s.doneCh) })
	if s.snapshotPath == "" {
		return nil
	}
	return s.saveSnapshot()
}

// requestSave signals the background goroutine to persist state.
// Non-blocking: coalesces rapid commits into one disk flush.
func (s *Store) requestSave() {
	if s.snapshotPath == "" {
		return
	}
	select {
	case s.saveCh <- struct{}{}:
	default:
		// Already pending
	}
}

// saveLoop debounces save requests (max one write per 500ms).
func (s *Store) saveLoop() {
	for {
		select {
		case <-s.doneCh:
			return
		case <-s.saveCh:
			time.Sleep(500 * time.Millisecond)
			if err := s.saveSnapshot(); err != nil {
				log.Warn().Err(err).Msg("account snapshot save failed")
			}
		}
	}
}

// snapshotEntry pairs an account id with its contents in the snapshot file.
type snapshotEntry struct {
	ID      models.AccountID `cbor:"id"`
	Account *Account         `cbor:"account"`
}

type snapshot struct {
	Entries []snapshotEntry `cbor:"entries"`
}

func (s *Store) saveSnapshot() error {
	s.mu.RLock()
	snap := snapshot{Entries: make([]snapshotEntry, 0, len(s.accounts))}
	for id, acct := range s.accounts {
		snap.Entries = append(snap.Entries, snapshotEntry{ID: id, Account: acct.clone()})
	}
	s.mu.RUnlock()

	data, err := Marshal(snap)
	if err != nil {
		return err
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	tmp := s.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.snapshotPath)
}

func (s *Store) loadSnapshot() error {
	data, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var snap snapshot
	if err := Unmarshal(data, &snap); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range snap.Entries {
		s.accounts[e.ID] = e.Account
	}
	return nil
}
