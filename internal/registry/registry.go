// Package registry implements the AgentForge service registry: the service
// lifecycle state machine, role and slot accounting, operator bonds, the
// deployment handoff to a whitelisted multisig implementation, slashing, and
// treasury drain. All operations are all-or-nothing: they run in a single
// store transaction and either commit every write or none.
package registry

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/agentforge/registry/internal/keyspace"
	"github.com/agentforge/registry/internal/multisig"
	"github.com/agentforge/registry/internal/state"
	"github.com/agentforge/registry/pkg/models"
)

const (
	// MaxRolesPerService bounds a service's role table.
	MaxRolesPerService = 128
	// MaxInstancesPerService bounds total instance slots across all roles.
	MaxInstancesPerService = 192
	// MaxWhitelistedMultisigs bounds the multisig whitelist.
	MaxWhitelistedMultisigs = 16
)

// Version is written into the registry root record at initialization.
const Version = "1.0.0"

// Config carries the immutable registry identity and its collaborators.
type Config struct {
	Name    string
	Symbol  string
	BaseURI string
	Owner   models.AccountID
	Manager models.AccountID
	Drainer models.AccountID

	// Deployer creates multisig records at deploy time. Defaults to the
	// built-in reference implementation.
	Deployer multisig.Implementation
	// Emitter receives committed events. Defaults to structured logging.
	Emitter Emitter
}

// Registry is the service registry engine. One instance per store; all
// operations serialize on an internal mutex, with a reentrancy latch in
// front of it so a deployer callback that re-enters a guarded operation
// fails fast instead of deadlocking.
type Registry struct {
	mu     sync.Mutex
	locked atomic.Bool

	store    *state.Store
	deployer multisig.Implementation
	emit     Emitter

	cfg    Config
	root   models.AccountID
	wallet models.AccountID
}

// New builds a Registry over the store. The root record is not created
// until Initialize runs with a funded owner.
func New(store *state.Store, cfg Config) (*Registry, error) {
	const op = "registry.New"
	if cfg.Name == "" {
		return nil, errf(KindValidation, op, "registry name must not be empty")
	}
	if cfg.Owner.IsZero() || cfg.Manager.IsZero() || cfg.Drainer.IsZero() {
		return nil, errf(KindValidation, op, "owner, manager, and drainer must be set")
	}
	if cfg.Deployer == nil {
		cfg.Deployer = multisig.Reference{}
	}
	if cfg.Emitter == nil {
		cfg.Emitter = LogEmitter{}
	}
	root := rootAccount(cfg.Name)
	return &Registry{
		store:    store,
		deployer: cfg.Deployer,
		emit:     cfg.Emitter,
		cfg:      cfg,
		root:     root,
		wallet:   walletAccount(root),
	}, nil
}

// RootID returns the registry root account identifier.
func (r *Registry) RootID() models.AccountID { return r.root }

// WalletID returns the registry treasury wallet identifier.
func (r *Registry) WalletID() models.AccountID { return r.wallet }

// enterGuarded takes the registry lock for operations that may call out to
// the deployer. The latch is checked before the mutex: a same-goroutine
// re-entry would otherwise deadlock rather than error.
func (r *Registry) enterGuarded(op string) error {
	if r.locked.Load() {
		return errf(KindReentrancy, op, "registry operation already in progress")
	}
	r.mu.Lock()
	if !r.locked.CompareAndSwap(false, true) {
		r.mu.Unlock()
		return errf(KindReentrancy, op, "registry operation already in progress")
	}
	return nil
}

func (r *Registry) exitGuarded() {
	r.locked.Store(false)
	r.mu.Unlock()
}

func (r *Registry) loadRoot(txn *state.Txn) (*models.RegistryRecord, error) {
	return readRecord[models.RegistryRecord](txn, r.root, keyspace.TagRegistry)
}

func (r *Registry) saveRoot(txn *state.Txn, root *models.RegistryRecord) error {
	return writeRecord(txn, r.root, keyspace.TagRegistry, root)
}

func (r *Registry) loadService(txn *state.Txn, serviceID uint64) (*models.Service, error) {
	svc, err := readRecord[models.Service](txn, serviceAccount(serviceID), keyspace.TagService)
	if err != nil {
		return nil, err
	}
	if svc.ID != serviceID {
		return nil, errf(KindDerivationMismatch, "registry.loadService",
			"service record at derived id carries id %d, want %d", svc.ID, serviceID)
	}
	return svc, nil
}

func (r *Registry) saveService(txn *state.Txn, svc *models.Service) error {
	return writeRecord(txn, serviceAccount(svc.ID), keyspace.TagService, svc)
}

func (r *Registry) loadWhitelist(txn *state.Txn) (*models.Whitelist, error) {
	return readRecord[models.Whitelist](txn, whitelistAccount(r.root), keyspace.TagWhitelist)
}

func (r *Registry) saveWhitelist(txn *state.Txn, wl *models.Whitelist) error {
	return writeRecord(txn, whitelistAccount(r.root), keyspace.TagWhitelist, wl)
}

// Initialized reports whether the root record exists.
func (r *Registry) Initialized() bool {
	txn := r.store.Begin()
	defer txn.Discard()
	return txn.Exists(r.root)
}

// Initialize creates the root, wallet, and whitelist records. The owner
// funds their minimum balances. Idempotent: a second call is a no-op.
func (r *Registry) Initialize() error {
	const op = "registry.Initialize"
	r.mu.Lock()
	defer r.mu.Unlock()

	txn := r.store.Begin()
	defer txn.Discard()

	if txn.Exists(r.root) {
		return nil
	}

	root := models.RegistryRecord{
		Name:    r.cfg.Name,
		Symbol:  r.cfg.Symbol,
		BaseURI: r.cfg.BaseURI,
		Version: Version,
		Owner:   r.cfg.Owner,
		Manager: r.cfg.Manager,
		Drainer: r.cfg.Drainer,
		Wallet:  r.wallet,
	}
	if err := putRecord(txn, r.root, keyspace.TagRegistry, &root, r.cfg.Owner); err != nil {
		return wrap(op, err)
	}
	// The wallet holds value only, no record bytes beyond the marker.
	if err := txn.Create(r.wallet, 0, recordOwner, r.cfg.Owner); err != nil {
		return wrap(op, err)
	}
	if err := putRecord(txn, whitelistAccount(r.root), keyspace.TagWhitelist,
		&models.Whitelist{}, r.cfg.Owner); err != nil {
		return wrap(op, err)
	}
	return wrap(op, txn.Commit())
}

// Fund credits an account out of band. Genesis/bootstrap only.
func (r *Registry) Fund(id models.AccountID, amount uint64) error {
	const op = "registry.Fund"
	r.mu.Lock()
	defer r.mu.Unlock()

	txn := r.store.Begin()
	defer txn.Discard()
	if err := txn.Credit(id, amount); err != nil {
		return wrap(op, err)
	}
	return wrap(op, txn.Commit())
}

// Balance returns an account's current balance.
func (r *Registry) Balance(id models.AccountID) uint64 {
	return r.store.Balance(id)
}

// ── Root record rotation ─────────────────────────────────────

// ChangeOwner rotates the registry owner. Owner-only.
func (r *Registry) ChangeOwner(caller, newOwner models.AccountID) error {
	const op = "registry.ChangeOwner"
	if newOwner.IsZero() {
		return errf(KindValidation, op, "new owner must not be zero")
	}
	err := r.updateRoot(op, caller, rootOwner, func(root *models.RegistryRecord) {
		root.Owner = newOwner
	})
	if err != nil {
		return err
	}
	r.emit.Emit(OwnerChanged{Owner: newOwner})
	return nil
}

// ChangeManager rotates the registry manager. Owner-only.
func (r *Registry) ChangeManager(caller, newManager models.AccountID) error {
	const op = "registry.ChangeManager"
	if newManager.IsZero() {
		return errf(KindValidation, op, "new manager must not be zero")
	}
	err := r.updateRoot(op, caller, rootOwner, func(root *models.RegistryRecord) {
		root.Manager = newManager
	})
	if err != nil {
		return err
	}
	r.emit.Emit(ManagerChanged{Manager: newManager})
	return nil
}

// ChangeDrainer rotates the registry drainer. Owner-only.
func (r *Registry) ChangeDrainer(caller, newDrainer models.AccountID) error {
	const op = "registry.ChangeDrainer"
	if newDrainer.IsZero() {
		return errf(KindValidation, op, "new drainer must not be zero")
	}
	err := r.updateRoot(op, caller, rootOwner, func(root *models.RegistryRecord) {
		root.Drainer = newDrainer
	})
	if err != nil {
		return err
	}
	r.emit.Emit(DrainerChanged{Drainer: newDrainer})
	return nil
}

// SetBaseURI replaces the metadata base URI. Owner-only.
func (r *Registry) SetBaseURI(caller models.AccountID, baseURI string) error {
	const op = "registry.SetBaseURI"
	if baseURI == "" {
		return errf(KindValidation, op, "base URI must not be empty")
	}
	err := r.updateRoot(op, caller, rootOwner, func(root *models.RegistryRecord) {
		root.BaseURI = baseURI
	})
	if err != nil {
		return err
	}
	r.emit.Emit(BaseURIChanged{BaseURI: baseURI})
	return nil
}

// rootRole selects which root-record identity a caller must match.
type rootRole uint8

const (
	rootOwner rootRole = iota
	rootManager
	rootDrainer
)

func (r *Registry) checkRootRole(op string, root *models.RegistryRecord, caller models.AccountID, role rootRole) error {
	var want models.AccountID
	var name string
	switch role {
	case rootOwner:
		want, name = root.Owner, "owner"
	case rootManager:
		want, name = root.Manager, "manager"
	case rootDrainer:
		want, name = root.Drainer, "drainer"
	}
	if caller != want {
		return errf(KindAccessControl, op, "caller is not the registry %s", name)
	}
	return nil
}

// updateRoot loads the root, checks the caller against the required role,
// applies the mutation, and commits.
func (r *Registry) updateRoot(op string, caller models.AccountID, role rootRole, mutate func(*models.RegistryRecord)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	txn := r.store.Begin()
	defer txn.Discard()

	root, err := r.loadRoot(txn)
	if err != nil {
		return wrap(op, err)
	}
	if err := r.checkRootRole(op, root, caller, role); err != nil {
		return err
	}
	mutate(root)
	if err := r.saveRoot(txn, root); err != nil {
		return wrap(op, err)
	}
	return wrap(op, txn.Commit())
}

// ── Read accessors ───────────────────────────────────────────

// Root returns a copy of the registry root record.
func (r *Registry) Root() (models.RegistryRecord, error) {
	const op = "registry.Root"
	txn := r.store.Begin()
	defer txn.Discard()
	root, err := r.loadRoot(txn)
	if err != nil {
		return models.RegistryRecord{}, wrap(op, err)
	}
	return *root, nil
}

// Service returns a copy of the service record, or an existence error.
func (r *Registry) Service(serviceID uint64) (models.Service, error) {
	const op = "registry.Service"
	txn := r.store.Begin()
	defer txn.Discard()
	svc, err := r.loadService(txn, serviceID)
	if err != nil {
		return models.Service{}, wrap(op, err)
	}
	return *svc, nil
}

// Roles returns the service's role table.
func (r *Registry) Roles(serviceID uint64) (models.RoleTable, error) {
	const op = "registry.Roles"
	txn := r.store.Begin()
	defer txn.Discard()
	table, err := readRecord[models.RoleTable](txn, roleTableAccount(serviceID), keyspace.TagRoleTable)
	if err != nil {
		return models.RoleTable{}, wrap(op, err)
	}
	return *table, nil
}

// Instances returns the service's registered agent instances.
func (r *Registry) Instances(serviceID uint64) (models.InstanceIndex, error) {
	const op = "registry.Instances"
	txn := r.store.Begin()
	defer txn.Discard()
	idx, err := readRecord[models.InstanceIndex](txn, instanceIndexAccount(serviceID), keyspace.TagInstanceIndex)
	if err != nil {
		return models.InstanceIndex{}, wrap(op, err)
	}
	return *idx, nil
}

// OperatorBondOf returns the cumulative bond an operator holds in a service.
// A missing bond record reads as zero.
func (r *Registry) OperatorBondOf(serviceID uint64, operator models.AccountID) (uint64, error) {
	const op = "registry.OperatorBondOf"
	txn := r.store.Begin()
	defer txn.Discard()
	bond, err := readRecord[models.OperatorBond](txn, operatorBondAccount(serviceID, operator), keyspace.TagOperatorBond)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return 0, nil
		}
		return 0, wrap(op, err)
	}
	return bond.Bond, nil
}

// Whitelisted returns the current multisig whitelist.
func (r *Registry) Whitelisted() (models.Whitelist, error) {
	const op = "registry.Whitelisted"
	txn := r.store.Begin()
	defer txn.Discard()
	wl, err := r.loadWhitelist(txn)
	if err != nil {
		return models.Whitelist{}, wrap(op, err)
	}
	return *wl, nil
}

// SlashedFunds returns the accumulated slashed amount held in the wallet.
func (r *Registry) SlashedFunds() (uint64, error) {
	root, err := r.Root()
	if err != nil {
		return 0, err
	}
	return root.SlashedFunds, nil
}

// TotalSupply returns the number of services ever created.
func (r *Registry) TotalSupply() (uint64, error) {
	root, err := r.Root()
	if err != nil {
		return 0, err
	}
	return root.TotalSupply, nil
}
