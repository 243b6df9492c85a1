package registry

import (
	"github.com/agentforge/registry/pkg/models"
)

// SetMultisigPermission adds a multisig implementation to the whitelist or
// removes it. Owner-only. Adding an already-whitelisted implementation and
// removing an absent one are no-ops; the whitelist is bounded.
func (r *Registry) SetMultisigPermission(caller, implID models.AccountID, allow bool) error {
	const op = "registry.SetMultisigPermission"
	if implID.IsZero() {
		return errf(KindValidation, op, "multisig implementation must not be zero")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	txn := r.store.Begin()
	defer txn.Discard()

	root, err := r.loadRoot(txn)
	if err != nil {
		return wrap(op, err)
	}
	if err := r.checkRootRole(op, root, caller, rootOwner); err != nil {
		return err
	}
	wl, err := r.loadWhitelist(txn)
	if err != nil {
		return wrap(op, err)
	}

	changed := false
	if allow {
		if !wl.Contains(implID) {
			if len(wl.Multisigs) >= MaxWhitelistedMultisigs {
				return errf(KindConfiguration, op,
					"whitelist is full (%d entries)", MaxWhitelistedMultisigs)
			}
			wl.Multisigs = append(wl.Multisigs, implID)
			changed = true
		}
	} else {
		kept := wl.Multisigs[:0]
		for _, m := range wl.Multisigs {
			if m != implID {
				kept = append(kept, m)
			} else {
				changed = true
			}
		}
		wl.Multisigs = kept
	}
	if !changed {
		return nil
	}

	if err := r.saveWhitelist(txn, wl); err != nil {
		return wrap(op, err)
	}
	if err := txn.Commit(); err != nil {
		return wrap(op, err)
	}
	r.emit.Emit(MultisigPermissionChanged{Multisig: implID, Allowed: allow})
	return nil
}
