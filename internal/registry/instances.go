package registry

import (
	"math"

	"github.com/agentforge/registry/internal/keyspace"
	"github.com/agentforge/registry/internal/ledger"
	"github.com/agentforge/registry/internal/state"
	"github.com/agentforge/registry/pkg/models"
)

// RegisterAgents registers a batch of agent instances for one operator.
// Manager-only, ActiveRegistration only. The operator stakes the sum of the
// role bonds in one exact transfer; all per-instance records are created in
// the same transaction, so a failure anywhere leaves no partial
// registration and no moved funds. The service flips to
// FinishedRegistration when the last slot fills.
func (r *Registry) RegisterAgents(caller, operator models.AccountID, serviceID uint64, instances []models.AccountID, agentIDs []uint32) error {
	const op = "registry.RegisterAgents"
	if operator.IsZero() {
		return errf(KindValidation, op, "operator must not be zero")
	}
	if len(instances) == 0 {
		return errf(KindValidation, op, "no instances to register")
	}
	if len(instances) != len(agentIDs) {
		return errf(KindValidation, op,
			"got %d instances and %d agent ids", len(instances), len(agentIDs))
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
	if svc.State != models.StateActiveRegistration {
		return errf(KindStateViolation, op,
			"service %d is %s, registration only in %s", serviceID, svc.State, models.StateActiveRegistration)
	}

	// An address already serving as an agent instance cannot act as an
	// operator.
	if txn.Exists(instanceGuardAccount(operator)) {
		return errf(KindValidation, op, "operator %s is registered as an agent instance", operator)
	}

	idxID := instanceIndexAccount(serviceID)
	idx := &models.InstanceIndex{}
	if txn.Exists(idxID) {
		idx, err = readRecord[models.InstanceIndex](txn, idxID, keyspace.TagInstanceIndex)
		if err != nil {
			return wrap(op, err)
		}
	}
	oidxID := operatorIndexAccount(serviceID, operator)
	oidx := &models.OperatorIndex{}
	if txn.Exists(oidxID) {
		oidx, err = readRecord[models.OperatorIndex](txn, oidxID, keyspace.TagOperatorIndex)
		if err != nil {
			return wrap(op, err)
		}
	}

	var totalBond uint64
	registered := make([]InstanceRegistered, 0, len(instances))
	for i, instance := range instances {
		agentID := agentIDs[i]
		if instance.IsZero() {
			return errf(KindValidation, op, "instance must not be zero")
		}
		if instance == operator {
			return errf(KindValidation, op, "operator cannot register itself as an instance")
		}

		params, err := r.roleParams(txn, op, serviceID, agentID)
		if err != nil {
			return err
		}
		if params.Slots == 0 {
			return errf(KindValidation, op, "agent %d has no instance slots", agentID)
		}

		counterID := slotCounterAccount(serviceID, agentID)
		counter := &models.SlotCounter{}
		if txn.Exists(counterID) {
			counter, err = readRecord[models.SlotCounter](txn, counterID, keyspace.TagSlotCounter)
			if err != nil {
				return wrap(op, err)
			}
		}
		if counter.Count >= params.Slots {
			return errf(KindValidation, op,
				"agent %d slots full (%d of %d)", agentID, counter.Count, params.Slots)
		}
		counter.Count++
		if err := putRecord(txn, counterID, keyspace.TagSlotCounter, counter, operator); err != nil {
			return wrap(op, err)
		}

		if idx.Contains(instance) {
			return errf(KindValidation, op, "instance %s already registered in service %d", instance, serviceID)
		}
		// A guard anywhere means the instance is in use, here or in
		// another service.
		if txn.Exists(instanceGuardAccount(instance)) {
			return errf(KindValidation, op, "instance %s is already in use", instance)
		}

		bindingID := instanceBindingAccount(serviceID, agentID, instance)
		binding := models.InstanceBinding{ServiceID: serviceID, AgentID: agentID, Instance: instance}
		if err := putRecord(txn, bindingID, keyspace.TagInstanceBinding, &binding, operator); err != nil {
			return wrap(op, err)
		}

		obID := operatorBindingAccount(instance, operator)
		ob := models.OperatorBinding{Operator: operator, Binding: bindingID}
		if err := putRecord(txn, obID, keyspace.TagOperatorBinding, &ob, operator); err != nil {
			return wrap(op, err)
		}

		guard := models.InstanceGuard{
			ServiceID: serviceID, AgentID: agentID, Operator: operator, Instance: instance,
		}
		if err := putRecord(txn, instanceGuardAccount(instance), keyspace.TagInstanceGuard, &guard, operator); err != nil {
			return wrap(op, err)
		}

		idx.Instances = append(idx.Instances, instance)
		if len(oidx.Bindings) >= MaxInstancesPerService {
			return errf(KindValidation, op,
				"operator %s holds %d instances, the limit is %d", operator, len(oidx.Bindings), MaxInstancesPerService)
		}
		oidx.Bindings = append(oidx.Bindings, obID)

		if totalBond+params.Bond < totalBond {
			return errf(KindArithmetic, op, "bond sum overflow")
		}
		totalBond += params.Bond

		if svc.NumAgentInstances >= svc.MaxNumAgentInstances {
			return errf(KindValidation, op,
				"service %d is at capacity (%d)", serviceID, svc.MaxNumAgentInstances)
		}
		svc.NumAgentInstances++

		registered = append(registered, InstanceRegistered{
			ServiceID: serviceID, Operator: operator, Instance: instance, AgentID: agentID,
		})
	}

	if err := putRecord(txn, idxID, keyspace.TagInstanceIndex, idx, operator); err != nil {
		return wrap(op, err)
	}
	if err := putRecord(txn, oidxID, keyspace.TagOperatorIndex, oidx, operator); err != nil {
		return wrap(op, err)
	}

	// Bonds move to the custodial wallet in one verified transfer.
	if err := ledger.ExactTransfer(txn, operator, r.wallet, totalBond); err != nil {
		return wrap(op, err)
	}
	if err := r.accumulateBond(txn, op, serviceID, operator, totalBond); err != nil {
		return err
	}

	if svc.NumAgentInstances == svc.MaxNumAgentInstances {
		svc.State = models.StateFinishedRegistration
	}
	if err := r.saveService(txn, svc); err != nil {
		return wrap(op, err)
	}
	if err := txn.Commit(); err != nil {
		return wrap(op, err)
	}
	for _, ev := range registered {
		r.emit.Emit(ev)
	}
	r.emit.Emit(BondDeposited{ServiceID: serviceID, Operator: operator, Amount: totalBond})
	return nil
}

// accumulateBond adds amount to the operator's bond record, creating it on
// first registration.
func (r *Registry) accumulateBond(txn *state.Txn, op string, serviceID uint64, operator models.AccountID, amount uint64) error {
	bondID := operatorBondAccount(serviceID, operator)
	bond := &models.OperatorBond{ServiceID: serviceID, Operator: operator}
	if txn.Exists(bondID) {
		var err error
		bond, err = readRecord[models.OperatorBond](txn, bondID, keyspace.TagOperatorBond)
		if err != nil {
			return wrap(op, err)
		}
	}
	if bond.Bond > math.MaxUint64-amount {
		return errf(KindArithmetic, op, "operator bond overflow")
	}
	bond.Bond += amount
	return wrap(op, putRecord(txn, bondID, keyspace.TagOperatorBond, bond, operator))
}
