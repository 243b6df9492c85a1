package registry

import (
	"github.com/agentforge/registry/internal/keyspace"
	"github.com/agentforge/registry/internal/ledger"
	"github.com/agentforge/registry/pkg/models"
)

// Create mints a new service in PreRegistration. Manager-only. The service
// id is total_supply + 1; role capacity and deposit stay zero until roles
// are set.
func (r *Registry) Create(caller, serviceOwner models.AccountID, configHash models.Hash, threshold uint32) (uint64, error) {
	const op = "registry.Create"
	if err := r.enterGuarded(op); err != nil {
		return 0, err
	}
	defer r.exitGuarded()

	if serviceOwner.IsZero() {
		return 0, errf(KindValidation, op, "service owner must not be zero")
	}
	if configHash.IsZero() {
		return 0, errf(KindValidation, op, "config hash must not be zero")
	}
	if threshold == 0 {
		return 0, errf(KindValidation, op, "threshold must be nonzero")
	}

	txn := r.store.Begin()
	defer txn.Discard()

	root, err := r.loadRoot(txn)
	if err != nil {
		return 0, wrap(op, err)
	}
	if err := r.checkRootRole(op, root, caller, rootManager); err != nil {
		return 0, err
	}

	serviceID := root.TotalSupply + 1
	if serviceID == 0 {
		return 0, errf(KindArithmetic, op, "service id space exhausted")
	}
	svcID := serviceAccount(serviceID)
	if txn.Exists(svcID) {
		return 0, errf(KindExistence, op, "service %d already exists", serviceID)
	}

	svc := models.Service{
		ID:         serviceID,
		Owner:      serviceOwner,
		ConfigHash: configHash,
		Threshold:  threshold,
		State:      models.StatePreRegistration,
	}
	if err := putRecord(txn, svcID, keyspace.TagService, &svc, caller); err != nil {
		return 0, wrap(op, err)
	}
	root.TotalSupply = serviceID
	if err := r.saveRoot(txn, root); err != nil {
		return 0, wrap(op, err)
	}
	if err := txn.Commit(); err != nil {
		return 0, wrap(op, err)
	}
	r.emit.Emit(ServiceCreated{ServiceID: serviceID, ConfigHash: configHash})
	return serviceID, nil
}

// Update replaces a service's config hash and threshold while it is still
// in PreRegistration. Manager-only; serviceOwner must match the service
// record. The threshold is revalidated against the current capacity once
// roles exist.
func (r *Registry) Update(caller models.AccountID, serviceID uint64, serviceOwner models.AccountID, configHash models.Hash, threshold uint32) error {
	const op = "registry.Update"
	if serviceOwner.IsZero() {
		return errf(KindValidation, op, "service owner must not be zero")
	}
	if configHash.IsZero() {
		return errf(KindValidation, op, "config hash must not be zero")
	}
	if threshold == 0 {
		return errf(KindValidation, op, "threshold must be nonzero")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	txn := r.store.Begin()
	defer txn.Discard()

	root, err := r.loadRoot(txn)
	if err != nil {
		return wrap(op, err)
	}
	if err := r.checkRootRole(op, root, caller, rootManager); err != nil {
		return err
	}
	svc, err := r.loadService(txn, serviceID)
	if err != nil {
		return wrap(op, err)
	}
	if svc.State != models.StatePreRegistration {
		return errf(KindStateViolation, op,
			"service %d is %s, update only in %s", serviceID, svc.State, models.StatePreRegistration)
	}
	if svc.MaxNumAgentInstances > 0 {
		if err := validateThreshold(op, threshold, svc.MaxNumAgentInstances); err != nil {
			return err
		}
	}

	if svc.Owner != serviceOwner {
		return errf(KindAccessControl, op,
			"owner %s does not match the service record", serviceOwner)
	}
	svc.ConfigHash = configHash
	svc.Threshold = threshold
	if err := r.saveService(txn, svc); err != nil {
		return wrap(op, err)
	}
	if err := txn.Commit(); err != nil {
		return wrap(op, err)
	}
	r.emit.Emit(ServiceUpdated{ServiceID: serviceID, ConfigHash: configHash})
	return nil
}

// ActivateRegistration opens the service for operator registration.
// Manager-only; serviceOwner must match the service record. The manager
// stakes the security deposit into the custodial wallet, and the transfer
// is verified to have moved exactly that amount.
func (r *Registry) ActivateRegistration(caller models.AccountID, serviceID uint64, serviceOwner models.AccountID) error {
	const op = "registry.ActivateRegistration"
	r.mu.Lock()
	defer r.mu.Unlock()

	txn := r.store.Begin()
	defer txn.Discard()

	root, err := r.loadRoot(txn)
	if err != nil {
		return wrap(op, err)
	}
	if err := r.checkRootRole(op, root, caller, rootManager); err != nil {
		return err
	}
	svc, err := r.loadService(txn, serviceID)
	if err != nil {
		return wrap(op, err)
	}
	if svc.Owner != serviceOwner {
		return errf(KindAccessControl, op,
			"owner %s does not match the service record", serviceOwner)
	}
	if svc.State != models.StatePreRegistration {
		return errf(KindStateViolation, op,
			"service %d is %s, activation only from %s", serviceID, svc.State, models.StatePreRegistration)
	}
	if svc.MaxNumAgentInstances == 0 || svc.SecurityDeposit == 0 {
		return errf(KindValidation, op, "service %d has no roles configured", serviceID)
	}
	if err := validateThreshold(op, svc.Threshold, svc.MaxNumAgentInstances); err != nil {
		return err
	}

	// All deposits and bonds are held by the custodial wallet.
	if err := ledger.ExactTransfer(txn, caller, r.wallet, svc.SecurityDeposit); err != nil {
		return wrap(op, err)
	}

	svc.State = models.StateActiveRegistration
	if err := r.saveService(txn, svc); err != nil {
		return wrap(op, err)
	}
	if err := txn.Commit(); err != nil {
		return wrap(op, err)
	}
	r.emit.Emit(RegistrationActivated{ServiceID: serviceID, Deposit: svc.SecurityDeposit})
	return nil
}

// Deploy hands the fully registered instance set to a whitelisted multisig
// implementation and moves the service to Deployed. Service owner only.
// implID names the implementation being authorized; the deployer runs
// inside this operation's transaction, so a failing deployment rolls back
// cleanly.
func (r *Registry) Deploy(caller models.AccountID, serviceID uint64, implID models.AccountID, payload []byte) (models.AccountID, error) {
	const op = "registry.Deploy"
	if err := r.enterGuarded(op); err != nil {
		return models.ZeroAccount, err
	}
	defer r.exitGuarded()

	txn := r.store.Begin()
	defer txn.Discard()

	svc, err := r.loadService(txn, serviceID)
	if err != nil {
		return models.ZeroAccount, wrap(op, err)
	}
	if caller != svc.Owner {
		return models.ZeroAccount, errf(KindAccessControl, op, "caller is not the service owner")
	}
	if svc.State != models.StateFinishedRegistration {
		return models.ZeroAccount, errf(KindStateViolation, op,
			"service %d is %s, deploy only from %s", serviceID, svc.State, models.StateFinishedRegistration)
	}

	wl, err := r.loadWhitelist(txn)
	if err != nil {
		return models.ZeroAccount, wrap(op, err)
	}
	if !wl.Contains(implID) {
		return models.ZeroAccount, errf(KindConfiguration, op,
			"multisig implementation %s is not whitelisted", implID)
	}

	idx, err := readRecord[models.InstanceIndex](txn, instanceIndexAccount(serviceID), keyspace.TagInstanceIndex)
	if err != nil {
		return models.ZeroAccount, wrap(op, err)
	}

	msID, err := r.deployer.Create(txn, caller, idx.Instances, svc.Threshold, payload)
	if err != nil {
		return models.ZeroAccount, wrap(op, err)
	}

	svc.Multisig = msID
	svc.State = models.StateDeployed
	if err := r.saveService(txn, svc); err != nil {
		return models.ZeroAccount, wrap(op, err)
	}
	if err := txn.Commit(); err != nil {
		return models.ZeroAccount, wrap(op, err)
	}
	r.emit.Emit(ServiceDeployed{ServiceID: serviceID, Multisig: msID})
	return msID, nil
}

// Terminate tears a service down. Service owner only, any state past
// PreRegistration. Purges per-role and per-instance bookkeeping, refunds
// the security deposit exactly once, and lands in TerminatedBonded while
// operator bonds remain, PreRegistration otherwise.
func (r *Registry) Terminate(caller models.AccountID, serviceID uint64) error {
	const op = "registry.Terminate"
	if err := r.enterGuarded(op); err != nil {
		return err
	}
	defer r.exitGuarded()

	txn := r.store.Begin()
	defer txn.Discard()

	svc, err := r.loadService(txn, serviceID)
	if err != nil {
		return wrap(op, err)
	}
	if caller != svc.Owner {
		return errf(KindAccessControl, op, "caller is not the service owner")
	}
	switch svc.State {
	case models.StateActiveRegistration, models.StateFinishedRegistration, models.StateDeployed:
	default:
		return errf(KindStateViolation, op,
			"service %d is %s, nothing to terminate", serviceID, svc.State)
	}

	// Per-role bookkeeping: slot counters and params records. The role
	// table is closed too; a revived service defines roles afresh.
	tableID := roleTableAccount(serviceID)
	if txn.Exists(tableID) {
		table, err := readRecord[models.RoleTable](txn, tableID, keyspace.TagRoleTable)
		if err != nil {
			return wrap(op, err)
		}
		for _, e := range table.Entries {
			counterID := slotCounterAccount(serviceID, e.AgentID)
			if txn.Exists(counterID) {
				if err := txn.CloseAccount(counterID, caller); err != nil {
					return wrap(op, err)
				}
			}
			paramsID := roleParamsAccount(serviceID, e.AgentID)
			if txn.Exists(paramsID) {
				if err := txn.CloseAccount(paramsID, caller); err != nil {
					return wrap(op, err)
				}
			}
		}
		if err := txn.CloseAccount(tableID, caller); err != nil {
			return wrap(op, err)
		}
	}

	// Per-instance bookkeeping: ownership bindings and instance guards.
	// Operator-side records (bond, operator index, operator bindings)
	// survive until each operator unbonds.
	idxID := instanceIndexAccount(serviceID)
	if txn.Exists(idxID) {
		idx, err := readRecord[models.InstanceIndex](txn, idxID, keyspace.TagInstanceIndex)
		if err != nil {
			return wrap(op, err)
		}
		for _, instance := range idx.Instances {
			guardID := instanceGuardAccount(instance)
			guard, err := readRecord[models.InstanceGuard](txn, guardID, keyspace.TagInstanceGuard)
			if err != nil {
				return wrap(op, err)
			}
			if guard.ServiceID != serviceID || guard.Instance != instance {
				return errf(KindDerivationMismatch, op,
					"instance guard for %s does not match service %d", instance, serviceID)
			}
			bindingID := instanceBindingAccount(serviceID, guard.AgentID, instance)
			if txn.Exists(bindingID) {
				if err := txn.CloseAccount(bindingID, caller); err != nil {
					return wrap(op, err)
				}
			}
			if err := txn.CloseAccount(guardID, caller); err != nil {
				return wrap(op, err)
			}
		}
		if err := txn.CloseAccount(idxID, caller); err != nil {
			return wrap(op, err)
		}
	}

	refund := svc.SecurityDeposit
	if refund > 0 {
		if err := txn.Transfer(r.wallet, svc.Owner, refund); err != nil {
			return wrap(op, err)
		}
	}

	if svc.NumAgentInstances > 0 {
		svc.State = models.StateTerminatedBonded
	} else {
		svc.State = models.StatePreRegistration
	}
	svc.SecurityDeposit = 0
	svc.MaxNumAgentInstances = 0
	svc.Multisig = models.ZeroAccount
	if err := r.saveService(txn, svc); err != nil {
		return wrap(op, err)
	}
	if err := txn.Commit(); err != nil {
		return wrap(op, err)
	}
	r.emit.Emit(ServiceTerminated{ServiceID: serviceID, Refund: refund})
	return nil
}

// Unbond returns an operator's full remaining bond after termination and
// closes all of the operator's records for the service. Operator-called.
// The last operator out moves the service back to PreRegistration.
func (r *Registry) Unbond(caller models.AccountID, serviceID uint64) error {
	const op = "registry.Unbond"
	if err := r.enterGuarded(op); err != nil {
		return err
	}
	defer r.exitGuarded()

	txn := r.store.Begin()
	defer txn.Discard()

	svc, err := r.loadService(txn, serviceID)
	if err != nil {
		return wrap(op, err)
	}
	if svc.State != models.StateTerminatedBonded {
		return errf(KindStateViolation, op,
			"service %d is %s, unbonding only from %s", serviceID, svc.State, models.StateTerminatedBonded)
	}

	bondID := operatorBondAccount(serviceID, caller)
	bond, err := readRecord[models.OperatorBond](txn, bondID, keyspace.TagOperatorBond)
	if err != nil {
		return wrap(op, err)
	}
	if bond.Operator != caller || bond.ServiceID != serviceID {
		return errf(KindDerivationMismatch, op,
			"bond record at derived id does not match operator %s", caller)
	}

	oidxID := operatorIndexAccount(serviceID, caller)
	oidx, err := readRecord[models.OperatorIndex](txn, oidxID, keyspace.TagOperatorIndex)
	if err != nil {
		return wrap(op, err)
	}
	released := uint32(len(oidx.Bindings))
	if released > svc.NumAgentInstances {
		return errf(KindArithmetic, op,
			"operator holds %d instances, service counts %d", released, svc.NumAgentInstances)
	}

	refund := bond.Bond
	if refund > 0 {
		if err := txn.Transfer(r.wallet, caller, refund); err != nil {
			return wrap(op, err)
		}
	}
	for _, bindingRef := range oidx.Bindings {
		if txn.Exists(bindingRef) {
			if err := txn.CloseAccount(bindingRef, caller); err != nil {
				return wrap(op, err)
			}
		}
	}
	if err := txn.CloseAccount(oidxID, caller); err != nil {
		return wrap(op, err)
	}
	if err := txn.CloseAccount(bondID, caller); err != nil {
		return wrap(op, err)
	}

	svc.NumAgentInstances -= released
	if svc.NumAgentInstances == 0 {
		svc.State = models.StatePreRegistration
	}
	if err := r.saveService(txn, svc); err != nil {
		return wrap(op, err)
	}
	if err := txn.Commit(); err != nil {
		return wrap(op, err)
	}
	r.emit.Emit(OperatorUnbonded{ServiceID: serviceID, Operator: caller, Refund: refund})
	return nil
}
