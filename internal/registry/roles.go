package registry

import (
	"math"
	"sort"

	"github.com/agentforge/registry/internal/keyspace"
	"github.com/agentforge/registry/internal/state"
	"github.com/agentforge/registry/pkg/models"
)

// validateThreshold enforces the Byzantine bound: with max instances, at
// least ceil((2*max+1)/3) signatures are required, and the threshold can
// never exceed the instance count.
func validateThreshold(op string, threshold, max uint32) error {
	if max == 0 {
		return errf(KindValidation, op, "service has no instance slots")
	}
	quorum := uint32((2*uint64(max) + 3) / 3)
	if threshold < quorum || threshold > max {
		return errf(KindValidation, op,
			"threshold %d outside [%d, %d] for %d slots", threshold, quorum, max, max)
	}
	return nil
}

// roleDelta is one (agent id, params) pair of a role update. Slots and Bond
// both zero deletes the role; both nonzero upserts it; mixed is invalid.
type roleDelta struct {
	agentID uint32
	params  models.AgentParams
}

// SetRoles applies a batch of role upserts and deletions to a service in
// PreRegistration. Agent ids must be strictly increasing. Manager-only.
// Recomputes the instance capacity (saturating sum of slots) and the
// security deposit (largest bond), then revalidates the threshold against
// the new capacity.
func (r *Registry) SetRoles(caller models.AccountID, serviceID uint64, agentIDs []uint32, params []models.AgentParams) error {
	const op = "registry.SetRoles"
	if len(agentIDs) == 0 {
		return errf(KindValidation, op, "empty role update")
	}
	if len(agentIDs) != len(params) {
		return errf(KindValidation, op, "got %d agent ids and %d params", len(agentIDs), len(params))
	}
	deltas := make([]roleDelta, len(agentIDs))
	for i := range agentIDs {
		deltas[i] = roleDelta{agentID: agentIDs[i], params: params[i]}
	}
	return r.applyRoles(op, caller, serviceID, deltas)
}

// AddRole upserts a single role.
func (r *Registry) AddRole(caller models.AccountID, serviceID uint64, agentID uint32, params models.AgentParams) error {
	const op = "registry.AddRole"
	if params.Slots == 0 || params.Bond == 0 {
		return errf(KindValidation, op, "slots and bond must both be nonzero")
	}
	return r.applyRoles(op, caller, serviceID, []roleDelta{{agentID: agentID, params: params}})
}

// RemoveRole deletes a single role.
func (r *Registry) RemoveRole(caller models.AccountID, serviceID uint64, agentID uint32) error {
	const op = "registry.RemoveRole"
	return r.applyRoles(op, caller, serviceID, []roleDelta{{agentID: agentID}})
}

func (r *Registry) applyRoles(op string, caller models.AccountID, serviceID uint64, deltas []roleDelta) error {
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
			"service %d is %s, roles change only in %s", serviceID, svc.State, models.StatePreRegistration)
	}

	prev := uint32(0)
	for i, d := range deltas {
		if d.agentID == 0 {
			return errf(KindValidation, op, "agent id must be nonzero")
		}
		if i > 0 && d.agentID <= prev {
			return errf(KindValidation, op,
				"agent ids must be strictly increasing, got %d after %d", d.agentID, prev)
		}
		prev = d.agentID
		zeroSlots, zeroBond := d.params.Slots == 0, d.params.Bond == 0
		if zeroSlots != zeroBond {
			return errf(KindValidation, op,
				"agent %d: slots and bond must be both zero or both nonzero", d.agentID)
		}
	}

	tableID := roleTableAccount(serviceID)
	table := &models.RoleTable{}
	if txn.Exists(tableID) {
		table, err = readRecord[models.RoleTable](txn, tableID, keyspace.TagRoleTable)
		if err != nil {
			return wrap(op, err)
		}
	}

	for _, d := range deltas {
		paramsID := roleParamsAccount(serviceID, d.agentID)
		if d.params.Slots == 0 {
			// Deletion. The role must exist; its params record is closed
			// and the rent refunded to the caller.
			if table.Find(d.agentID) == nil {
				return errf(KindExistence, op, "agent %d has no role to delete", d.agentID)
			}
			if err := txn.CloseAccount(paramsID, caller); err != nil {
				return wrap(op, err)
			}
			kept := table.Entries[:0]
			for _, e := range table.Entries {
				if e.AgentID != d.agentID {
					kept = append(kept, e)
				}
			}
			table.Entries = kept
			continue
		}
		if err := putRecord(txn, paramsID, keyspace.TagRoleParams, &d.params, caller); err != nil {
			return wrap(op, err)
		}
		if entry := table.Find(d.agentID); entry != nil {
			entry.Slots = d.params.Slots
			entry.Bond = d.params.Bond
		} else {
			table.Entries = append(table.Entries, models.RoleEntry{
				AgentID: d.agentID, Slots: d.params.Slots, Bond: d.params.Bond,
			})
		}
	}

	if len(table.Entries) > MaxRolesPerService {
		return errf(KindValidation, op,
			"%d roles exceeds the limit of %d", len(table.Entries), MaxRolesPerService)
	}
	sort.Slice(table.Entries, func(i, j int) bool {
		return table.Entries[i].AgentID < table.Entries[j].AgentID
	})

	// Capacity is the saturating sum of slots; deposit is the largest bond.
	var max uint64
	var deposit uint64
	for _, e := range table.Entries {
		max += uint64(e.Slots)
		if e.Bond > deposit {
			deposit = e.Bond
		}
	}
	if max > math.MaxUint32 {
		max = math.MaxUint32
	}
	if max > MaxInstancesPerService {
		return errf(KindValidation, op,
			"%d instance slots exceeds the limit of %d", max, MaxInstancesPerService)
	}
	if err := validateThreshold(op, svc.Threshold, uint32(max)); err != nil {
		return err
	}

	svc.MaxNumAgentInstances = uint32(max)
	svc.SecurityDeposit = deposit
	if err := putRecord(txn, tableID, keyspace.TagRoleTable, table, caller); err != nil {
		return wrap(op, err)
	}
	if err := r.saveService(txn, svc); err != nil {
		return wrap(op, err)
	}
	if err := txn.Commit(); err != nil {
		return wrap(op, err)
	}
	r.emit.Emit(RolesUpdated{
		ServiceID:            serviceID,
		NumRoles:             len(table.Entries),
		MaxNumAgentInstances: svc.MaxNumAgentInstances,
		SecurityDeposit:      svc.SecurityDeposit,
	})
	return nil
}

// roleParams loads a role's params record, distinguishing a missing role
// from storage failure.
func (r *Registry) roleParams(txn *state.Txn, op string, serviceID uint64, agentID uint32) (*models.AgentParams, error) {
	p, err := readRecord[models.AgentParams](txn, roleParamsAccount(serviceID, agentID), keyspace.TagRoleParams)
	if err != nil {
		return nil, wrap(op, err)
	}
	return p, nil
}
