package registry

import (
	"github.com/agentforge/registry/internal/keyspace"
	"github.com/agentforge/registry/internal/state"
	"github.com/agentforge/registry/pkg/models"
)

// recordOwner tags every account the registry creates.
const recordOwner = "registry"

// Identifier derivations. Each record kind's identifier is a pure function
// of its logical key, so lookups never need an index and stored handles can
// be re-verified against their key.

func rootAccount(name string) models.AccountID {
	id, _ := keyspace.Derive(keyspace.TagRegistry, []byte(name))
	return id
}

func walletAccount(root models.AccountID) models.AccountID {
	id, _ := keyspace.Derive(keyspace.TagWallet, root[:])
	return id
}

func whitelistAccount(root models.AccountID) models.AccountID {
	id, _ := keyspace.Derive(keyspace.TagWhitelist, root[:])
	return id
}

func serviceAccount(serviceID uint64) models.AccountID {
	id, _ := keyspace.Derive(keyspace.TagService, keyspace.U64(serviceID))
	return id
}

func roleParamsAccount(serviceID uint64, agentID uint32) models.AccountID {
	id, _ := keyspace.Derive(keyspace.TagRoleParams, keyspace.U64(serviceID), keyspace.U32(agentID))
	return id
}

func roleTableAccount(serviceID uint64) models.AccountID {
	id, _ := keyspace.Derive(keyspace.TagRoleTable, keyspace.U64(serviceID))
	return id
}

func slotCounterAccount(serviceID uint64, agentID uint32) models.AccountID {
	id, _ := keyspace.Derive(keyspace.TagSlotCounter, keyspace.U64(serviceID), keyspace.U32(agentID))
	return id
}

func instanceIndexAccount(serviceID uint64) models.AccountID {
	id, _ := keyspace.Derive(keyspace.TagInstanceIndex, keyspace.U64(serviceID))
	return id
}

func instanceBindingAccount(serviceID uint64, agentID uint32, instance models.AccountID) models.AccountID {
	id, _ := keyspace.Derive(keyspace.TagInstanceBinding,
		keyspace.U64(serviceID), keyspace.U32(agentID), instance[:])
	return id
}

func operatorBindingAccount(instance, operator models.AccountID) models.AccountID {
	id, _ := keyspace.Derive(keyspace.TagOperatorBinding, instance[:], operator[:])
	return id
}

func operatorIndexAccount(serviceID uint64, operator models.AccountID) models.AccountID {
	id, _ := keyspace.Derive(keyspace.TagOperatorIndex, keyspace.U64(serviceID), operator[:])
	return id
}

func operatorBondAccount(serviceID uint64, operator models.AccountID) models.AccountID {
	id, _ := keyspace.Derive(keyspace.TagOperatorBond, keyspace.U64(serviceID), operator[:])
	return id
}

func instanceGuardAccount(instance models.AccountID) models.AccountID {
	id, _ := keyspace.Derive(keyspace.TagInstanceGuard, instance[:])
	return id
}

// readRecord loads and decodes the record of the given kind at id.
func readRecord[T any](txn *state.Txn, id models.AccountID, tag keyspace.Tag) (*T, error) {
	data, err := txn.Data(id)
	if err != nil {
		return nil, err
	}
	v := new(T)
	if err := state.DecodeRecord(string(tag), data, v); err != nil {
		return nil, err
	}
	return v, nil
}

// writeRecord re-encodes v into an existing record at id.
func writeRecord(txn *state.Txn, id models.AccountID, tag keyspace.Tag, v any) error {
	data, err := state.EncodeRecord(string(tag), v)
	if err != nil {
		return err
	}
	return txn.Write(id, data)
}

// putRecord creates the record at id if missing, funded by payer, then
// writes v into it.
func putRecord(txn *state.Txn, id models.AccountID, tag keyspace.Tag, v any, payer models.AccountID) error {
	data, err := state.EncodeRecord(string(tag), v)
	if err != nil {
		return err
	}
	if !txn.Exists(id) {
		if err := txn.Create(id, len(data), recordOwner, payer); err != nil {
			return err
		}
	}
	return txn.Write(id, data)
}
