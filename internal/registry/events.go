package registry

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/agentforge/registry/pkg/models"
)

// Event is a structured notification emitted after a state change commits.
// Events are observational; no registry invariant depends on them.
type Event interface {
	EventName() string
}

// Emitter receives committed events. Implementations must not call back
// into the registry.
type Emitter interface {
	Emit(Event)
}

type ServiceCreated struct {
	ServiceID  uint64      `json:"service_id"`
	ConfigHash models.Hash `json:"config_hash"`
}

func (ServiceCreated) EventName() string { return "service.created" }

type ServiceUpdated struct {
	ServiceID  uint64      `json:"service_id"`
	ConfigHash models.Hash `json:"config_hash"`
}

func (ServiceUpdated) EventName() string { return "service.updated" }

type RolesUpdated struct {
	ServiceID            uint64 `json:"service_id"`
	NumRoles             int    `json:"num_roles"`
	MaxNumAgentInstances uint32 `json:"max_num_agent_instances"`
	SecurityDeposit      uint64 `json:"security_deposit"`
}

func (RolesUpdated) EventName() string { return "service.roles_updated" }

type RegistrationActivated struct {
	ServiceID uint64 `json:"service_id"`
	Deposit   uint64 `json:"deposit"`
}

func (RegistrationActivated) EventName() string { return "service.registration_activated" }

type InstanceRegistered struct {
	ServiceID uint64           `json:"service_id"`
	Operator  models.AccountID `json:"operator"`
	Instance  models.AccountID `json:"instance"`
	AgentID   uint32           `json:"agent_id"`
}

func (InstanceRegistered) EventName() string { return "service.instance_registered" }

type BondDeposited struct {
	ServiceID uint64           `json:"service_id"`
	Operator  models.AccountID `json:"operator"`
	Amount    uint64           `json:"amount"`
}

func (BondDeposited) EventName() string { return "service.bond_deposited" }

type ServiceDeployed struct {
	ServiceID uint64           `json:"service_id"`
	Multisig  models.AccountID `json:"multisig"`
}

func (ServiceDeployed) EventName() string { return "service.deployed" }

type OperatorSlashed struct {
	ServiceID uint64           `json:"service_id"`
	Operator  models.AccountID `json:"operator"`
	Amount    uint64           `json:"amount"`
}

func (OperatorSlashed) EventName() string { return "service.operator_slashed" }

type ServiceTerminated struct {
	ServiceID uint64 `json:"service_id"`
	Refund    uint64 `json:"refund"`
}

func (ServiceTerminated) EventName() string { return "service.terminated" }

type OperatorUnbonded struct {
	ServiceID uint64           `json:"service_id"`
	Operator  models.AccountID `json:"operator"`
	Refund    uint64           `json:"refund"`
}

func (OperatorUnbonded) EventName() string { return "service.operator_unbonded" }

type Drained struct {
	Drainer models.AccountID `json:"drainer"`
	Amount  uint64           `json:"amount"`
}

func (Drained) EventName() string { return "registry.drained" }

type OwnerChanged struct {
	Owner models.AccountID `json:"owner"`
}

func (OwnerChanged) EventName() string { return "registry.owner_changed" }

type ManagerChanged struct {
	Manager models.AccountID `json:"manager"`
}

func (ManagerChanged) EventName() string { return "registry.manager_changed" }

type DrainerChanged struct {
	Drainer models.AccountID `json:"drainer"`
}

func (DrainerChanged) EventName() string { return "registry.drainer_changed" }

type BaseURIChanged struct {
	BaseURI string `json:"base_uri"`
}

func (BaseURIChanged) EventName() string { return "registry.base_uri_changed" }

type MultisigPermissionChanged struct {
	Multisig models.AccountID `json:"multisig"`
	Allowed  bool             `json:"allowed"`
}

func (MultisigPermissionChanged) EventName() string { return "registry.multisig_permission_changed" }

// LogEmitter writes events to the global structured logger.
type LogEmitter struct{}

func (LogEmitter) Emit(ev Event) {
	log.Info().Str("event", ev.EventName()).EmbedObject(eventFields{ev}).Msg("registry event")
}

type eventFields struct{ ev Event }

func (f eventFields) MarshalZerologObject(e *zerolog.Event) {
	e.Interface("data", f.ev)
}

// NopEmitter discards events.
type NopEmitter struct{}

func (NopEmitter) Emit(Event) {}
