// Package models defines the shared types of the AgentForge service registry:
// account identifiers, the service lifecycle state, and the typed records
// persisted in the account store.
package models

import (
	"encoding/hex"
	"fmt"
)

// ── Account identifiers ──────────────────────────────────────

// AccountID is a 32-byte account identifier. Registry sub-records (role
// params, slot counters, bonds, ...) live at identifiers derived
// deterministically from their logical key; externally supplied identifiers
// (owners, operators, agent instances) are opaque.
type AccountID [32]byte

// ZeroAccount is the all-zero identifier. It is never a valid owner,
// operator, or instance.
var ZeroAccount AccountID

// IsZero reports whether the identifier is the all-zero value.
func (a AccountID) IsZero() bool { return a == ZeroAccount }

func (a AccountID) String() string { return hex.EncodeToString(a[:]) }

// MarshalText implements encoding.TextMarshaler so AccountID serializes as a
// hex string in JSON and CBOR text contexts.
func (a AccountID) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses a 64-character hex string.
func (a *AccountID) UnmarshalText(text []byte) error {
	parsed, err := ParseAccountID(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAccountID parses a 64-character hex string into an AccountID.
func ParseAccountID(s string) (AccountID, error) {
	var a AccountID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("account id %q: %w", s, err)
	}
	if len(raw) != len(a) {
		return a, fmt.Errorf("account id %q: got %d bytes, want %d", s, len(raw), len(a))
	}
	copy(a[:], raw)
	return a, nil
}

// ── Config hash ──────────────────────────────────────────────

// Hash is an opaque 256-bit content identifier (the service config hash).
type Hash [32]byte

// ZeroHash is the all-zero hash, rejected everywhere a config hash is
// required.
var ZeroHash Hash

func (h Hash) IsZero() bool { return h == ZeroHash }

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

func (h Hash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

func (h *Hash) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("hash %q: %w", text, err)
	}
	if len(raw) != len(h) {
		return fmt.Errorf("hash %q: got %d bytes, want %d", text, len(raw), len(h))
	}
	copy(h[:], raw)
	return nil
}

// ── Service lifecycle ────────────────────────────────────────

// ServiceState is the lifecycle state of a service.
//
// NonExistent → PreRegistration → ActiveRegistration →
// FinishedRegistration → Deployed, with TerminatedBonded reachable from any
// state past PreRegistration and looping back to PreRegistration once every
// operator has unbonded.
type ServiceState uint8

const (
	StateNonExistent ServiceState = iota
	StatePreRegistration
	StateActiveRegistration
	StateFinishedRegistration
	StateDeployed
	StateTerminatedBonded
)

func (s ServiceState) String() string {
	switch s {
	case StateNonExistent:
		return "non-existent"
	case StatePreRegistration:
		return "pre-registration"
	case StateActiveRegistration:
		return "active-registration"
	case StateFinishedRegistration:
		return "finished-registration"
	case StateDeployed:
		return "deployed"
	case StateTerminatedBonded:
		return "terminated-bonded"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

func (s ServiceState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *ServiceState) UnmarshalText(text []byte) error {
	for st := StateNonExistent; st <= StateTerminatedBonded; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown service state %q", text)
}

// ── Service & role records ───────────────────────────────────

// Service is the per-service lifecycle record.
type Service struct {
	ID                   uint64       `json:"id" cbor:"id"`
	Owner                AccountID    `json:"owner" cbor:"owner"`
	SecurityDeposit      uint64       `json:"security_deposit" cbor:"security_deposit"`
	Multisig             AccountID    `json:"multisig" cbor:"multisig"`
	ConfigHash           Hash         `json:"config_hash" cbor:"config_hash"`
	Threshold            uint32       `json:"threshold" cbor:"threshold"`
	MaxNumAgentInstances uint32       `json:"max_num_agent_instances" cbor:"max_instances"`
	NumAgentInstances    uint32       `json:"num_agent_instances" cbor:"num_instances"`
	State                ServiceState `json:"state" cbor:"state"`
}

// AgentParams describes one agent role: how many instance slots it has and
// the bond each instance must stake. Slots and Bond are either both zero
// (role deletion) or both nonzero.
type AgentParams struct {
	Slots uint32 `json:"slots" cbor:"slots"`
	Bond  uint64 `json:"bond" cbor:"bond"`
}

// RoleEntry is one row of a service's role table.
type RoleEntry struct {
	AgentID uint32 `json:"agent_id" cbor:"agent_id"`
	Slots   uint32 `json:"slots" cbor:"slots"`
	Bond    uint64 `json:"bond" cbor:"bond"`
}

// RoleTable is the per-service ordered, unique-by-agent-id role index.
type RoleTable struct {
	Entries []RoleEntry `json:"entries" cbor:"entries"`
}

// Find returns the entry for agentID, or nil.
func (t *RoleTable) Find(agentID uint32) *RoleEntry {
	for i := range t.Entries {
		if t.Entries[i].AgentID == agentID {
			return &t.Entries[i]
		}
	}
	return nil
}

// ── Instance registration records ────────────────────────────

// SlotCounter tracks how many instances currently occupy one role's slots.
type SlotCounter struct {
	Count uint32 `json:"count" cbor:"count"`
}

// InstanceIndex is the per-service set of registered agent instances.
type InstanceIndex struct {
	Instances []AccountID `json:"instances" cbor:"instances"`
}

// Contains reports whether the instance is already registered.
func (x *InstanceIndex) Contains(instance AccountID) bool {
	for _, id := range x.Instances {
		if id == instance {
			return true
		}
	}
	return false
}

// InstanceBinding binds one agent instance to one role within one service.
type InstanceBinding struct {
	ServiceID uint64    `json:"service_id" cbor:"service_id"`
	AgentID   uint32    `json:"agent_id" cbor:"agent_id"`
	Instance  AccountID `json:"instance" cbor:"instance"`
}

// OperatorBinding proves that an instance was registered by an operator.
// Binding is the account id of the corresponding InstanceBinding record.
type OperatorBinding struct {
	Operator AccountID `json:"operator" cbor:"operator"`
	Binding  AccountID `json:"binding" cbor:"binding"`
}

// InstanceGuard marks an identifier as being in use as an agent instance.
// Its presence at the identifier derived from an operator address is what
// stops an operator from registering itself as an instance, and it resolves
// an instance back to its operator during slashing.
type InstanceGuard struct {
	ServiceID uint64    `json:"service_id" cbor:"service_id"`
	AgentID   uint32    `json:"agent_id" cbor:"agent_id"`
	Operator  AccountID `json:"operator" cbor:"operator"`
	Instance  AccountID `json:"instance" cbor:"instance"`
}

// OperatorIndex lists the OperatorBinding record ids owned by one operator
// in one service. Used to batch-refund and close on unbonding.
type OperatorIndex struct {
	Bindings []AccountID `json:"bindings" cbor:"bindings"`
}

// OperatorBond is the cumulative bond one operator has staked in one
// service.
type OperatorBond struct {
	ServiceID uint64    `json:"service_id" cbor:"service_id"`
	Operator  AccountID `json:"operator" cbor:"operator"`
	Bond      uint64    `json:"bond" cbor:"bond"`
}

// ── Registry root & whitelist ────────────────────────────────

// RegistryRecord is the process-wide registry root.
type RegistryRecord struct {
	Name         string    `json:"name" cbor:"name"`
	Symbol       string    `json:"symbol" cbor:"symbol"`
	BaseURI      string    `json:"base_uri" cbor:"base_uri"`
	Version      string    `json:"version" cbor:"version"`
	Owner        AccountID `json:"owner" cbor:"owner"`
	Manager      AccountID `json:"manager" cbor:"manager"`
	Drainer      AccountID `json:"drainer" cbor:"drainer"`
	TotalSupply  uint64    `json:"total_supply" cbor:"total_supply"`
	SlashedFunds uint64    `json:"slashed_funds" cbor:"slashed_funds"`
	Wallet       AccountID `json:"wallet" cbor:"wallet"`
}

// Whitelist is the bounded set of authorized multisig implementations.
type Whitelist struct {
	Multisigs []AccountID `json:"multisigs" cbor:"multisigs"`
}

// Contains reports whether the multisig is whitelisted.
func (w *Whitelist) Contains(id AccountID) bool {
	for _, m := range w.Multisigs {
		if m == id {
			return true
		}
	}
	return false
}

// MultisigRecord is the deployment handoff record created for a service's
// final instance set.
type MultisigRecord struct {
	Instances []AccountID `json:"instances" cbor:"instances"`
	Threshold uint32      `json:"threshold" cbor:"threshold"`
	Payload   []byte      `json:"payload,omitempty" cbor:"payload"`
}
