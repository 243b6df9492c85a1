package registry_test

import (
	"testing"

	"github.com/agentforge/registry/internal/registry"
	"github.com/agentforge/registry/internal/state"
	"github.com/agentforge/registry/pkg/models"
)

func acct(b byte) models.AccountID {
	var id models.AccountID
	id[0] = b
	return id
}

func hash(b byte) models.Hash {
	var h models.Hash
	h[0] = b
	return h
}

type env struct {
	reg     *registry.Registry
	store   *state.Store
	owner   models.AccountID
	manager models.AccountID
	drainer models.AccountID
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		store:   state.NewStore(),
		owner:   acct(0xA0),
		manager: acct(0xA1),
		drainer: acct(0xA2),
	}
	reg, err := registry.New(e.store, registry.Config{
		Name:    "test-registry",
		Symbol:  "TST",
		BaseURI: "https://example.test/services/",
		Owner:   e.owner,
		Manager: e.manager,
		Drainer: e.drainer,
		Emitter: registry.NopEmitter{},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	e.reg = reg
	for _, id := range []models.AccountID{e.owner, e.manager, e.drainer} {
		e.fund(t, id, 10_000_000)
	}
	if err := reg.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	return e
}

func (e *env) fund(t *testing.T, id models.AccountID, amount uint64) {
	t.Helper()
	if err := e.reg.Fund(id, amount); err != nil {
		t.Fatalf("Fund() error = %v", err)
	}
}

func wantKind(t *testing.T, err error, kind registry.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("got nil error, want kind %s", kind)
	}
	if got := registry.KindOf(err); got != kind {
		t.Fatalf("error kind = %s, want %s (err: %v)", got, kind, err)
	}
}

// twoRoleService creates a service with roles {agent 1: 3 slots, bond 100}
// and {agent 2: 2 slots, bond 200}: capacity 5, deposit 200, quorum 4.
func (e *env) twoRoleService(t *testing.T, svcOwner models.AccountID) uint64 {
	t.Helper()
	serviceID, err := e.reg.Create(e.manager, svcOwner, hash(1), 4)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	err = e.reg.SetRoles(e.manager, serviceID,
		[]uint32{1, 2},
		[]models.AgentParams{{Slots: 3, Bond: 100}, {Slots: 2, Bond: 200}},
	)
	if err != nil {
		t.Fatalf("SetRoles() error = %v", err)
	}
	return serviceID
}

// ─── Creation & access control ───────────────────────────────

func TestCreateAssignsSequentialIDs(t *testing.T) {
	e := newEnv(t)
	for want := uint64(1); want <= 3; want++ {
		got, err := e.reg.Create(e.manager, acct(0xB0), hash(byte(want)), 1)
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if got != want {
			t.Errorf("service id = %d, want %d", got, want)
		}
	}
	supply, err := e.reg.TotalSupply()
	if err != nil {
		t.Fatalf("TotalSupply() error = %v", err)
	}
	if supply != 3 {
		t.Errorf("TotalSupply() = %d, want 3", supply)
	}
}

func TestCreateRequiresManager(t *testing.T) {
	e := newEnv(t)
	_, err := e.reg.Create(e.owner, acct(0xB0), hash(1), 1)
	wantKind(t, err, registry.KindAccessControl)
}

func TestCreateRejectsZeroHash(t *testing.T) {
	e := newEnv(t)
	_, err := e.reg.Create(e.manager, acct(0xB0), models.ZeroHash, 1)
	wantKind(t, err, registry.KindValidation)
}

func TestCreateServiceState(t *testing.T) {
	e := newEnv(t)
	serviceID, err := e.reg.Create(e.manager, acct(0xB0), hash(1), 2)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	svc, err := e.reg.Service(serviceID)
	if err != nil {
		t.Fatalf("Service() error = %v", err)
	}
	if svc.State != models.StatePreRegistration {
		t.Errorf("state = %s, want %s", svc.State, models.StatePreRegistration)
	}
	if svc.Owner != acct(0xB0) || svc.Threshold != 2 {
		t.Errorf("service = %+v", svc)
	}
}

func TestGetMissingService(t *testing.T) {
	e := newEnv(t)
	_, err := e.reg.Service(99)
	wantKind(t, err, registry.KindExistence)
}

func TestUpdateRejectsOwnerMismatch(t *testing.T) {
	e := newEnv(t)
	svcOwner := acct(0xB0)
	serviceID := e.twoRoleService(t, svcOwner)

	// Update cannot be used to reassign ownership: a non-matching owner
	// argument is rejected and the record stays put.
	err := e.reg.Update(e.manager, serviceID, acct(0xB9), hash(2), 4)
	wantKind(t, err, registry.KindAccessControl)
	svc, _ := e.reg.Service(serviceID)
	if svc.Owner != svcOwner {
		t.Errorf("owner after rejected update = %s, want %s", svc.Owner, svcOwner)
	}
	if svc.ConfigHash != hash(1) {
		t.Errorf("config hash changed on rejected update: %s", svc.ConfigHash)
	}

	// With the matching owner the update goes through.
	if err := e.reg.Update(e.manager, serviceID, svcOwner, hash(2), 4); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	svc, _ = e.reg.Service(serviceID)
	if svc.ConfigHash != hash(2) || svc.Threshold != 4 {
		t.Errorf("service after update = %+v", svc)
	}
}

// ─── Roles & threshold ───────────────────────────────────────

func TestSetRolesComputesCapacityAndDeposit(t *testing.T) {
	e := newEnv(t)
	svcOwner := acct(0xB0)
	serviceID := e.twoRoleService(t, svcOwner)

	svc, err := e.reg.Service(serviceID)
	if err != nil {
		t.Fatalf("Service() error = %v", err)
	}
	if svc.MaxNumAgentInstances != 5 {
		t.Errorf("capacity = %d, want 5", svc.MaxNumAgentInstances)
	}
	// Deposit is the largest bond, not the sum.
	if svc.SecurityDeposit != 200 {
		t.Errorf("deposit = %d, want 200", svc.SecurityDeposit)
	}

	table, err := e.reg.Roles(serviceID)
	if err != nil {
		t.Fatalf("Roles() error = %v", err)
	}
	if len(table.Entries) != 2 {
		t.Fatalf("roles = %d, want 2", len(table.Entries))
	}
}

func TestSetRolesRequiresStrictlyIncreasingIDs(t *testing.T) {
	e := newEnv(t)
	serviceID, err := e.reg.Create(e.manager, acct(0xB0), hash(1), 4)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	err = e.reg.SetRoles(e.manager, serviceID,
		[]uint32{1, 2, 2},
		[]models.AgentParams{{Slots: 1, Bond: 1}, {Slots: 1, Bond: 1}, {Slots: 1, Bond: 1}},
	)
	wantKind(t, err, registry.KindValidation)

	err = e.reg.SetRoles(e.manager, serviceID,
		[]uint32{2, 1},
		[]models.AgentParams{{Slots: 1, Bond: 1}, {Slots: 1, Bond: 1}},
	)
	wantKind(t, err, registry.KindValidation)
}

func TestSetRolesRejectsMixedZeroParams(t *testing.T) {
	e := newEnv(t)
	serviceID, err := e.reg.Create(e.manager, acct(0xB0), hash(1), 1)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	err = e.reg.SetRoles(e.manager, serviceID,
		[]uint32{1}, []models.AgentParams{{Slots: 3, Bond: 0}})
	wantKind(t, err, registry.KindValidation)

	err = e.reg.SetRoles(e.manager, serviceID,
		[]uint32{1}, []models.AgentParams{{Slots: 0, Bond: 100}})
	wantKind(t, err, registry.KindValidation)
}

func TestThresholdBounds(t *testing.T) {
	// Capacity 5 requires threshold in [4, 5].
	cases := []struct {
		threshold uint32
		ok        bool
	}{
		{3, false},
		{4, true},
		{5, true},
		{6, false},
	}
	for _, tc := range cases {
		e := newEnv(t)
		serviceID, err := e.reg.Create(e.manager, acct(0xB0), hash(1), tc.threshold)
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		err = e.reg.SetRoles(e.manager, serviceID,
			[]uint32{1, 2},
			[]models.AgentParams{{Slots: 3, Bond: 100}, {Slots: 2, Bond: 200}},
		)
		if tc.ok && err != nil {
			t.Errorf("threshold %d: SetRoles() error = %v, want nil", tc.threshold, err)
		}
		if !tc.ok {
			wantKind(t, err, registry.KindValidation)
		}
	}
}

func TestRoleDeletion(t *testing.T) {
	e := newEnv(t)
	// Threshold 3 stays inside the Byzantine bound both before deletion
	// (capacity 4, quorum 3) and after (capacity 3, quorum 3).
	serviceID, err := e.reg.Create(e.manager, acct(0xB0), hash(1), 3)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	err = e.reg.SetRoles(e.manager, serviceID,
		[]uint32{1, 2},
		[]models.AgentParams{{Slots: 3, Bond: 50}, {Slots: 1, Bond: 80}},
	)
	if err != nil {
		t.Fatalf("SetRoles() error = %v", err)
	}
	if err := e.reg.RemoveRole(e.manager, serviceID, 2); err != nil {
		t.Fatalf("RemoveRole() error = %v", err)
	}
	svc, err := e.reg.Service(serviceID)
	if err != nil {
		t.Fatalf("Service() error = %v", err)
	}
	if svc.MaxNumAgentInstances != 3 || svc.SecurityDeposit != 50 {
		t.Errorf("after deletion capacity=%d deposit=%d, want 3/50",
			svc.MaxNumAgentInstances, svc.SecurityDeposit)
	}
	if err := e.reg.RemoveRole(e.manager, serviceID, 2); registry.KindOf(err) != registry.KindExistence {
		t.Errorf("deleting absent role error = %v, want existence", err)
	}
}

func TestSetRolesOnlyInPreRegistration(t *testing.T) {
	e := newEnv(t)
	svcOwner := acct(0xB0)
	e.fund(t, svcOwner, 1_000_000)
	serviceID := e.twoRoleService(t, svcOwner)
	if err := e.reg.ActivateRegistration(e.manager, serviceID, svcOwner); err != nil {
		t.Fatalf("ActivateRegistration() error = %v", err)
	}
	err := e.reg.AddRole(e.manager, serviceID, 3, models.AgentParams{Slots: 1, Bond: 1})
	wantKind(t, err, registry.KindStateViolation)
}

// ─── Activation ──────────────────────────────────────────────

func TestActivateMovesExactDepositToWallet(t *testing.T) {
	e := newEnv(t)
	svcOwner := acct(0xB0)
	serviceID := e.twoRoleService(t, svcOwner)

	preManager := e.reg.Balance(e.manager)
	preWallet := e.reg.Balance(e.reg.WalletID())
	if err := e.reg.ActivateRegistration(e.manager, serviceID, svcOwner); err != nil {
		t.Fatalf("ActivateRegistration() error = %v", err)
	}
	if moved := preManager - e.reg.Balance(e.manager); moved != 200 {
		t.Errorf("deposit debited = %d, want 200", moved)
	}
	if held := e.reg.Balance(e.reg.WalletID()) - preWallet; held != 200 {
		t.Errorf("wallet credited = %d, want 200", held)
	}

	svc, _ := e.reg.Service(serviceID)
	if svc.State != models.StateActiveRegistration {
		t.Errorf("state = %s, want %s", svc.State, models.StateActiveRegistration)
	}
}

func TestActivateRequiresManagerAndOwnerMatch(t *testing.T) {
	e := newEnv(t)
	svcOwner := acct(0xB0)
	e.fund(t, svcOwner, 1_000)
	serviceID := e.twoRoleService(t, svcOwner)

	// The service owner cannot activate directly; activation goes through
	// the manager.
	wantKind(t, e.reg.ActivateRegistration(svcOwner, serviceID, svcOwner), registry.KindAccessControl)

	// The stated owner must match the service record.
	wantKind(t, e.reg.ActivateRegistration(e.manager, serviceID, acct(0xB9)), registry.KindAccessControl)

	svc, _ := e.reg.Service(serviceID)
	if svc.State != models.StatePreRegistration {
		t.Errorf("state after failed activation = %s", svc.State)
	}
}

func TestActivateInsufficientManagerFunds(t *testing.T) {
	e := newEnv(t)
	svcOwner := acct(0xB0)
	serviceID := e.twoRoleService(t, svcOwner)

	// Hand management to an unfunded account; the deposit transfer must
	// fail and the state must not move.
	broke := acct(0xA9)
	if err := e.reg.ChangeManager(e.owner, broke); err != nil {
		t.Fatalf("ChangeManager() error = %v", err)
	}
	wantKind(t, e.reg.ActivateRegistration(broke, serviceID, svcOwner), registry.KindFunds)
	svc, _ := e.reg.Service(serviceID)
	if svc.State != models.StatePreRegistration {
		t.Errorf("state after failed activation = %s", svc.State)
	}
}

func TestActivateWithoutRoles(t *testing.T) {
	e := newEnv(t)
	svcOwner := acct(0xB0)
	e.fund(t, svcOwner, 1_000)
	serviceID, err := e.reg.Create(e.manager, svcOwner, hash(1), 1)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	wantKind(t, e.reg.ActivateRegistration(e.manager, serviceID, svcOwner), registry.KindValidation)
}

// ─── Instance registration ───────────────────────────────────

func registeredService(t *testing.T, e *env, svcOwner, operator models.AccountID) (uint64, []models.AccountID) {
	t.Helper()
	e.fund(t, svcOwner, 1_000_000)
	e.fund(t, operator, 1_000_000)
	serviceID := e.twoRoleService(t, svcOwner)
	if err := e.reg.ActivateRegistration(e.manager, serviceID, svcOwner); err != nil {
		t.Fatalf("ActivateRegistration() error = %v", err)
	}
	instances := []models.AccountID{acct(0x10), acct(0x11), acct(0x12), acct(0x13), acct(0x14)}
	agentIDs := []uint32{1, 1, 1, 2, 2}
	if err := e.reg.RegisterAgents(e.manager, operator, serviceID, instances, agentIDs); err != nil {
		t.Fatalf("RegisterAgents() error = %v", err)
	}
	return serviceID, instances
}

func TestRegisterAgentsFillsService(t *testing.T) {
	e := newEnv(t)
	operator := acct(0xC0)
	serviceID, _ := registeredService(t, e, acct(0xB0), operator)

	svc, _ := e.reg.Service(serviceID)
	if svc.State != models.StateFinishedRegistration {
		t.Errorf("state = %s, want %s", svc.State, models.StateFinishedRegistration)
	}
	if svc.NumAgentInstances != 5 {
		t.Errorf("instances = %d, want 5", svc.NumAgentInstances)
	}

	bond, err := e.reg.OperatorBondOf(serviceID, operator)
	if err != nil {
		t.Fatalf("OperatorBondOf() error = %v", err)
	}
	// 3 instances at bond 100 + 2 at bond 200.
	if bond != 700 {
		t.Errorf("bond = %d, want 700", bond)
	}
}

func TestRegisterAgentsSlotOverflow(t *testing.T) {
	e := newEnv(t)
	svcOwner, operator := acct(0xB0), acct(0xC0)
	e.fund(t, svcOwner, 1_000_000)
	e.fund(t, operator, 1_000_000)
	serviceID := e.twoRoleService(t, svcOwner)
	if err := e.reg.ActivateRegistration(e.manager, serviceID, svcOwner); err != nil {
		t.Fatalf("ActivateRegistration() error = %v", err)
	}

	// Agent 2 has two slots; a third instance must be rejected.
	err := e.reg.RegisterAgents(e.manager, operator, serviceID,
		[]models.AccountID{acct(0x10), acct(0x11), acct(0x12)},
		[]uint32{2, 2, 2},
	)
	wantKind(t, err, registry.KindValidation)
}

func TestRegisterAgentsRollbackOnPartialFailure(t *testing.T) {
	e := newEnv(t)
	svcOwner, operator := acct(0xB0), acct(0xC0)
	e.fund(t, svcOwner, 1_000_000)
	e.fund(t, operator, 1_000_000)
	serviceID := e.twoRoleService(t, svcOwner)
	if err := e.reg.ActivateRegistration(e.manager, serviceID, svcOwner); err != nil {
		t.Fatalf("ActivateRegistration() error = %v", err)
	}

	pre := e.reg.Balance(operator)
	// Second entry reuses the first instance id: the whole batch must fail.
	err := e.reg.RegisterAgents(e.manager, operator, serviceID,
		[]models.AccountID{acct(0x10), acct(0x10)},
		[]uint32{1, 2},
	)
	wantKind(t, err, registry.KindValidation)

	if got := e.reg.Balance(operator); got != pre {
		t.Errorf("operator balance moved on failed batch: %d -> %d", pre, got)
	}
	svc, _ := e.reg.Service(serviceID)
	if svc.NumAgentInstances != 0 {
		t.Errorf("instances after failed batch = %d, want 0", svc.NumAgentInstances)
	}
	bond, _ := e.reg.OperatorBondOf(serviceID, operator)
	if bond != 0 {
		t.Errorf("bond after failed batch = %d, want 0", bond)
	}
}

func TestInstanceUniqueAcrossServices(t *testing.T) {
	e := newEnv(t)
	operator := acct(0xC0)
	_, instances := registeredService(t, e, acct(0xB0), operator)

	// A second service cannot reuse an instance registered to the first.
	svcOwner2, operator2 := acct(0xB1), acct(0xC1)
	e.fund(t, svcOwner2, 1_000_000)
	e.fund(t, operator2, 1_000_000)
	serviceID2 := e.twoRoleService(t, svcOwner2)
	if err := e.reg.ActivateRegistration(e.manager, serviceID2, svcOwner2); err != nil {
		t.Fatalf("ActivateRegistration() error = %v", err)
	}
	err := e.reg.RegisterAgents(e.manager, operator2, serviceID2,
		[]models.AccountID{instances[0]}, []uint32{1})
	wantKind(t, err, registry.KindValidation)
}

func TestOperatorCannotBeInstance(t *testing.T) {
	e := newEnv(t)
	operator := acct(0xC0)
	_, instances := registeredService(t, e, acct(0xB0), operator)

	// A registered instance cannot act as an operator elsewhere.
	svcOwner2 := acct(0xB1)
	e.fund(t, svcOwner2, 1_000_000)
	e.fund(t, instances[0], 1_000_000)
	serviceID2 := e.twoRoleService(t, svcOwner2)
	if err := e.reg.ActivateRegistration(e.manager, serviceID2, svcOwner2); err != nil {
		t.Fatalf("ActivateRegistration() error = %v", err)
	}
	err := e.reg.RegisterAgents(e.manager, instances[0], serviceID2,
		[]models.AccountID{acct(0x20)}, []uint32{1})
	wantKind(t, err, registry.KindValidation)

	// And an operator cannot register itself as an instance.
	err = e.reg.RegisterAgents(e.manager, acct(0xC1), serviceID2,
		[]models.AccountID{acct(0xC1)}, []uint32{1})
	wantKind(t, err, registry.KindValidation)
}

// ─── Deployment ──────────────────────────────────────────────

func deployedService(t *testing.T, e *env, svcOwner, operator models.AccountID) (uint64, models.AccountID) {
	t.Helper()
	serviceID, _ := registeredService(t, e, svcOwner, operator)
	implID := acct(0xD0)
	if err := e.reg.SetMultisigPermission(e.owner, implID, true); err != nil {
		t.Fatalf("SetMultisigPermission() error = %v", err)
	}
	msID, err := e.reg.Deploy(svcOwner, serviceID, implID, []byte("governance"))
	if err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}
	return serviceID, msID
}

func TestDeploy(t *testing.T) {
	e := newEnv(t)
	serviceID, msID := deployedService(t, e, acct(0xB0), acct(0xC0))

	svc, _ := e.reg.Service(serviceID)
	if svc.State != models.StateDeployed {
		t.Errorf("state = %s, want %s", svc.State, models.StateDeployed)
	}
	if svc.Multisig != msID {
		t.Errorf("multisig = %s, want %s", svc.Multisig, msID)
	}
}

func TestDeployRequiresWhitelistedImplementation(t *testing.T) {
	e := newEnv(t)
	svcOwner := acct(0xB0)
	serviceID, _ := registeredService(t, e, svcOwner, acct(0xC0))
	_, err := e.reg.Deploy(svcOwner, serviceID, acct(0xD9), nil)
	wantKind(t, err, registry.KindConfiguration)
}

func TestDeployRequiresFinishedRegistration(t *testing.T) {
	e := newEnv(t)
	svcOwner := acct(0xB0)
	e.fund(t, svcOwner, 1_000_000)
	serviceID := e.twoRoleService(t, svcOwner)
	implID := acct(0xD0)
	if err := e.reg.SetMultisigPermission(e.owner, implID, true); err != nil {
		t.Fatalf("SetMultisigPermission() error = %v", err)
	}
	_, err := e.reg.Deploy(svcOwner, serviceID, implID, nil)
	wantKind(t, err, registry.KindStateViolation)
}

// ─── Slashing & drain ────────────────────────────────────────

func TestSlashCappedAtBond(t *testing.T) {
	e := newEnv(t)
	operator := acct(0xC0)
	serviceID, msID := deployedService(t, e, acct(0xB0), operator)

	instances := []models.AccountID{acct(0x10)}
	if err := e.reg.Slash(msID, serviceID, instances, []uint64{1_000_000}); err != nil {
		t.Fatalf("Slash() error = %v", err)
	}

	// Cut capped at the full 700 bond, not the requested amount.
	bond, _ := e.reg.OperatorBondOf(serviceID, operator)
	if bond != 0 {
		t.Errorf("bond after capped slash = %d, want 0", bond)
	}
	slashed, err := e.reg.SlashedFunds()
	if err != nil {
		t.Fatalf("SlashedFunds() error = %v", err)
	}
	if slashed != 700 {
		t.Errorf("slashed funds = %d, want 700", slashed)
	}
}

func TestSlashPartial(t *testing.T) {
	e := newEnv(t)
	operator := acct(0xC0)
	serviceID, msID := deployedService(t, e, acct(0xB0), operator)

	if err := e.reg.Slash(msID, serviceID, []models.AccountID{acct(0x10)}, []uint64{150}); err != nil {
		t.Fatalf("Slash() error = %v", err)
	}
	bond, _ := e.reg.OperatorBondOf(serviceID, operator)
	if bond != 550 {
		t.Errorf("bond = %d, want 550", bond)
	}
}

func TestSlashOnlyByServiceMultisig(t *testing.T) {
	e := newEnv(t)
	serviceID, _ := deployedService(t, e, acct(0xB0), acct(0xC0))
	err := e.reg.Slash(e.owner, serviceID, []models.AccountID{acct(0x10)}, []uint64{1})
	wantKind(t, err, registry.KindAccessControl)
}

func TestSlashRejectsZeroAmount(t *testing.T) {
	e := newEnv(t)
	operator := acct(0xC0)
	serviceID, msID := deployedService(t, e, acct(0xB0), operator)

	err := e.reg.Slash(msID, serviceID, []models.AccountID{acct(0x10)}, []uint64{0})
	wantKind(t, err, registry.KindValidation)
	bond, _ := e.reg.OperatorBondOf(serviceID, operator)
	if bond != 700 {
		t.Errorf("bond after rejected slash = %d, want 700", bond)
	}
}

func TestSlashRejectsEmptiedBond(t *testing.T) {
	e := newEnv(t)
	serviceID, msID := deployedService(t, e, acct(0xB0), acct(0xC0))

	instances := []models.AccountID{acct(0x10)}
	if err := e.reg.Slash(msID, serviceID, instances, []uint64{1_000_000}); err != nil {
		t.Fatalf("Slash() error = %v", err)
	}
	// The operator's bond is gone; slashing the same operator again is a
	// caller error, not a silent no-op.
	err := e.reg.Slash(msID, serviceID, instances, []uint64{10})
	wantKind(t, err, registry.KindValidation)
	slashed, _ := e.reg.SlashedFunds()
	if slashed != 700 {
		t.Errorf("slashed funds = %d, want 700", slashed)
	}
}

func TestWalletHoldsAllDepositsAndBonds(t *testing.T) {
	e := newEnv(t)
	svcOwner, operator := acct(0xB0), acct(0xC0)
	wallet := e.reg.WalletID()

	base := e.reg.Balance(wallet)
	serviceID, msID := deployedService(t, e, svcOwner, operator)

	// Deposit 200 and bonds 700 both sit in the custodial wallet.
	if held := e.reg.Balance(wallet) - base; held != 900 {
		t.Errorf("wallet holds %d after deployment, want 900", held)
	}

	// Slashing re-labels collateral the wallet already holds; the wallet
	// balance must not move.
	pre := e.reg.Balance(wallet)
	if err := e.reg.Slash(msID, serviceID, []models.AccountID{acct(0x10)}, []uint64{300}); err != nil {
		t.Fatalf("Slash() error = %v", err)
	}
	if got := e.reg.Balance(wallet); got != pre {
		t.Errorf("wallet balance moved on slash: %d -> %d", pre, got)
	}

	// Terminate and unbond pay refunds out of the wallet: the deposit and
	// the unslashed remainder of the bond. Drain then sweeps the cut.
	if err := e.reg.Terminate(svcOwner, serviceID); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}
	if err := e.reg.Unbond(operator, serviceID); err != nil {
		t.Fatalf("Unbond() error = %v", err)
	}
	if amount, err := e.reg.Drain(e.drainer); err != nil || amount != 300 {
		t.Fatalf("Drain() = (%d, %v), want (300, nil)", amount, err)
	}
	if got := e.reg.Balance(wallet); got != base {
		t.Errorf("wallet balance after full cycle = %d, want %d", got, base)
	}
}

func TestDrainSweepsSlashedFunds(t *testing.T) {
	e := newEnv(t)
	serviceID, msID := deployedService(t, e, acct(0xB0), acct(0xC0))
	if err := e.reg.Slash(msID, serviceID, []models.AccountID{acct(0x10)}, []uint64{300}); err != nil {
		t.Fatalf("Slash() error = %v", err)
	}

	pre := e.reg.Balance(e.drainer)
	amount, err := e.reg.Drain(e.drainer)
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if amount != 300 {
		t.Errorf("drained = %d, want 300", amount)
	}
	if got := e.reg.Balance(e.drainer); got != pre+300 {
		t.Errorf("drainer balance = %d, want %d", got, pre+300)
	}
	slashed, _ := e.reg.SlashedFunds()
	if slashed != 0 {
		t.Errorf("slashed funds after drain = %d, want 0", slashed)
	}
	// Nothing left to drain: a no-op, not an error.
	amount, err = e.reg.Drain(e.drainer)
	if err != nil || amount != 0 {
		t.Errorf("second drain = (%d, %v), want (0, nil)", amount, err)
	}
}

func TestDrainRequiresDrainer(t *testing.T) {
	e := newEnv(t)
	_, err := e.reg.Drain(e.owner)
	wantKind(t, err, registry.KindAccessControl)
}

// ─── Termination & unbonding ─────────────────────────────────

func TestTerminateRefundsDepositOnce(t *testing.T) {
	e := newEnv(t)
	svcOwner, operator := acct(0xB0), acct(0xC0)
	serviceID, _ := deployedService(t, e, svcOwner, operator)

	pre := e.reg.Balance(svcOwner)
	if err := e.reg.Terminate(svcOwner, serviceID); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}
	post := e.reg.Balance(svcOwner)
	// Deposit 200 plus rent refunds from purged per-service records.
	if post-pre < 200 {
		t.Errorf("refund = %d, want at least the 200 deposit", post-pre)
	}

	svc, _ := e.reg.Service(serviceID)
	if svc.State != models.StateTerminatedBonded {
		t.Errorf("state = %s, want %s", svc.State, models.StateTerminatedBonded)
	}

	// Second terminate finds nothing to tear down.
	wantKind(t, e.reg.Terminate(svcOwner, serviceID), registry.KindStateViolation)
}

func TestUnbondRefundsAndRevives(t *testing.T) {
	e := newEnv(t)
	svcOwner, operator := acct(0xB0), acct(0xC0)
	serviceID, _ := deployedService(t, e, svcOwner, operator)
	if err := e.reg.Terminate(svcOwner, serviceID); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}

	pre := e.reg.Balance(operator)
	if err := e.reg.Unbond(operator, serviceID); err != nil {
		t.Fatalf("Unbond() error = %v", err)
	}
	post := e.reg.Balance(operator)
	if post-pre < 700 {
		t.Errorf("refund = %d, want at least the 700 bond", post-pre)
	}

	svc, _ := e.reg.Service(serviceID)
	if svc.State != models.StatePreRegistration {
		t.Errorf("state after last unbond = %s, want %s", svc.State, models.StatePreRegistration)
	}
	if svc.NumAgentInstances != 0 {
		t.Errorf("instances after unbond = %d, want 0", svc.NumAgentInstances)
	}
}

func TestUnbondOnlyAfterTermination(t *testing.T) {
	e := newEnv(t)
	operator := acct(0xC0)
	serviceID, _ := deployedService(t, e, acct(0xB0), operator)
	wantKind(t, e.reg.Unbond(operator, serviceID), registry.KindStateViolation)
}

func TestUnbondAfterFullSlash(t *testing.T) {
	e := newEnv(t)
	svcOwner, operator := acct(0xB0), acct(0xC0)
	serviceID, msID := deployedService(t, e, svcOwner, operator)
	if err := e.reg.Slash(msID, serviceID, []models.AccountID{acct(0x10)}, []uint64{1_000_000}); err != nil {
		t.Fatalf("Slash() error = %v", err)
	}
	if err := e.reg.Terminate(svcOwner, serviceID); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}
	// Bond fully slashed; unbond still succeeds and returns only rents.
	if err := e.reg.Unbond(operator, serviceID); err != nil {
		t.Fatalf("Unbond() error = %v", err)
	}
	svc, _ := e.reg.Service(serviceID)
	if svc.State != models.StatePreRegistration {
		t.Errorf("state = %s, want %s", svc.State, models.StatePreRegistration)
	}
}

// ─── Whitelist ───────────────────────────────────────────────

func TestWhitelistBounded(t *testing.T) {
	e := newEnv(t)
	for i := 0; i < registry.MaxWhitelistedMultisigs; i++ {
		if err := e.reg.SetMultisigPermission(e.owner, acct(byte(0x50+i)), true); err != nil {
			t.Fatalf("SetMultisigPermission(%d) error = %v", i, err)
		}
	}
	err := e.reg.SetMultisigPermission(e.owner, acct(0x70), true)
	wantKind(t, err, registry.KindConfiguration)

	// Removal frees a slot.
	if err := e.reg.SetMultisigPermission(e.owner, acct(0x50), false); err != nil {
		t.Fatalf("remove error = %v", err)
	}
	if err := e.reg.SetMultisigPermission(e.owner, acct(0x70), true); err != nil {
		t.Fatalf("add after removal error = %v", err)
	}
}

func TestWhitelistOwnerOnly(t *testing.T) {
	e := newEnv(t)
	err := e.reg.SetMultisigPermission(e.manager, acct(0x50), true)
	wantKind(t, err, registry.KindAccessControl)
}

// ─── Root rotation ───────────────────────────────────────────

func TestRotateRoles(t *testing.T) {
	e := newEnv(t)
	newOwner := acct(0xE0)
	if err := e.reg.ChangeOwner(e.owner, newOwner); err != nil {
		t.Fatalf("ChangeOwner() error = %v", err)
	}
	// The old owner is out.
	wantKind(t, e.reg.ChangeOwner(e.owner, acct(0xE1)), registry.KindAccessControl)
	// The new owner is in.
	if err := e.reg.ChangeManager(newOwner, acct(0xE2)); err != nil {
		t.Fatalf("ChangeManager() by new owner error = %v", err)
	}
	wantKind(t, e.reg.ChangeDrainer(newOwner, models.ZeroAccount), registry.KindValidation)
}

func TestSetBaseURI(t *testing.T) {
	e := newEnv(t)
	if err := e.reg.SetBaseURI(e.owner, "https://elsewhere.test/"); err != nil {
		t.Fatalf("SetBaseURI() error = %v", err)
	}
	root, err := e.reg.Root()
	if err != nil {
		t.Fatalf("Root() error = %v", err)
	}
	if root.BaseURI != "https://elsewhere.test/" {
		t.Errorf("base URI = %q", root.BaseURI)
	}
}
