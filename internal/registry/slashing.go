package registry

import (
	"math"

	"github.com/agentforge/registry/internal/keyspace"
	"github.com/agentforge/registry/internal/multisig"
	"github.com/agentforge/registry/pkg/models"
)

// Slash deducts bond from the operators behind misbehaving instances. Only
// the service's own multisig may call it, and only while Deployed. Each
// deduction is capped at the operator's remaining bond. Bonds already sit
// in the custodial wallet, so slashing moves no value; it re-labels held
// collateral by accruing the cut in slashed_funds.
func (r *Registry) Slash(caller models.AccountID, serviceID uint64, instances []models.AccountID, amounts []uint64) error {
	const op = "registry.Slash"
	if len(instances) == 0 {
		return errf(KindValidation, op, "no instances to slash")
	}
	if len(instances) != len(amounts) {
		return errf(KindValidation, op,
			"got %d instances and %d amounts", len(instances), len(amounts))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	txn := r.store.Begin()
	defer txn.Discard()

	svc, err := r.loadService(txn, serviceID)
	if err != nil {
		return wrap(op, err)
	}
	if svc.State != models.StateDeployed {
		return errf(KindStateViolation, op,
			"service %d is %s, slashing only while %s", serviceID, svc.State, models.StateDeployed)
	}
	if caller != svc.Multisig {
		return errf(KindAccessControl, op, "caller is not the service multisig")
	}
	authorized, err := multisig.IsAuthorizedCaller(txn, svc.Multisig, caller)
	if err != nil {
		return wrap(op, err)
	}
	if !authorized {
		return errf(KindAccessControl, op, "multisig record does not authorize the caller")
	}

	root, err := r.loadRoot(txn)
	if err != nil {
		return wrap(op, err)
	}

	slashed := make([]OperatorSlashed, 0, len(instances))
	for i, instance := range instances {
		amount := amounts[i]

		guard, err := readRecord[models.InstanceGuard](txn, instanceGuardAccount(instance), keyspace.TagInstanceGuard)
		if err != nil {
			return wrap(op, err)
		}
		if guard.ServiceID != serviceID || guard.Instance != instance {
			return errf(KindDerivationMismatch, op,
				"instance %s does not belong to service %d", instance, serviceID)
		}
		operator := guard.Operator

		bondID := operatorBondAccount(serviceID, operator)
		bond, err := readRecord[models.OperatorBond](txn, bondID, keyspace.TagOperatorBond)
		if err != nil {
			return wrap(op, err)
		}
		if bond.Operator != operator || bond.ServiceID != serviceID {
			return errf(KindDerivationMismatch, op,
				"bond record at derived id does not match operator %s", operator)
		}

		if amount == 0 {
			return errf(KindValidation, op, "slash amount for instance %s must be nonzero", instance)
		}
		if bond.Bond == 0 {
			return errf(KindValidation, op, "operator %s has no bond left to slash", operator)
		}

		cut := amount
		if cut > bond.Bond {
			cut = bond.Bond
		}
		bond.Bond -= cut
		if err := writeRecord(txn, bondID, keyspace.TagOperatorBond, bond); err != nil {
			return wrap(op, err)
		}
		if root.SlashedFunds > math.MaxUint64-cut {
			return errf(KindArithmetic, op, "slashed funds overflow")
		}
		root.SlashedFunds += cut

		slashed = append(slashed, OperatorSlashed{ServiceID: serviceID, Operator: operator, Amount: cut})
	}

	if err := r.saveRoot(txn, root); err != nil {
		return wrap(op, err)
	}
	if err := txn.Commit(); err != nil {
		return wrap(op, err)
	}
	for _, ev := range slashed {
		r.emit.Emit(ev)
	}
	return nil
}

// Drain sweeps the accumulated slashed funds from the registry wallet to
// the drainer. Drainer-only, reentrancy-guarded. With nothing accrued it
// is a no-op returning zero.
func (r *Registry) Drain(caller models.AccountID) (uint64, error) {
	const op = "registry.Drain"
	if err := r.enterGuarded(op); err != nil {
		return 0, err
	}
	defer r.exitGuarded()

	txn := r.store.Begin()
	defer txn.Discard()

	root, err := r.loadRoot(txn)
	if err != nil {
		return 0, wrap(op, err)
	}
	if err := r.checkRootRole(op, root, caller, rootDrainer); err != nil {
		return 0, err
	}
	amount := root.SlashedFunds
	if amount == 0 {
		return 0, nil
	}
	if err := txn.Transfer(r.wallet, caller, amount); err != nil {
		return 0, wrap(op, err)
	}
	root.SlashedFunds = 0
	if err := r.saveRoot(txn, root); err != nil {
		return 0, wrap(op, err)
	}
	if err := txn.Commit(); err != nil {
		return 0, wrap(op, err)
	}
	r.emit.Emit(Drained{Drainer: caller, Amount: amount})
	return amount, nil
}
