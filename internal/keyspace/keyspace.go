// Package keyspace derives stable account identifiers for registry
// sub-records. Every record kind has its own namespace tag; the identifier
// is a domain-separated BLAKE3 keyed hash over the length-prefixed key
// tuple, so distinct (tag, parts) tuples can never collide and a record's
// identifier is always recomputable from its logical key.
package keyspace

import (
	"encoding/binary"

	"github.com/zeebo/blake3"

	"github.com/agentforge/registry/pkg/models"
)

// Tag is a record namespace. Each persisted record kind gets exactly one.
type Tag string

const (
	TagRegistry        Tag = "registry"
	TagWallet          Tag = "registry_wallet"
	TagService         Tag = "service"
	TagRoleParams      Tag = "agent_param"
	TagRoleTable       Tag = "service_agent_ids_index"
	TagSlotCounter     Tag = "service_agent_slot"
	TagInstanceIndex   Tag = "agent_instances_index"
	TagInstanceBinding Tag = "service_agent_instance_account"
	TagOperatorBinding Tag = "operator_agent_instance"
	TagOperatorIndex   Tag = "operator_agent_instance_index"
	TagOperatorBond    Tag = "operator_bond"
	TagInstanceGuard   Tag = "operator_as_agent"
	TagWhitelist       Tag = "registry_multisig"
	TagMultisig        Tag = "multisig"
)

// domainKey builds the 32-byte BLAKE3 key for a tag. The key is the ASCII
// tag under a fixed prefix, zero-padded: readable in hex dumps, and distinct
// tags yield distinct keys because tags are short and unique.
func domainKey(tag Tag) [32]byte {
	var key [32]byte
	copy(key[:], "afr.")
	copy(key[4:], tag)
	return key
}

// Derive maps a (tag, parts) tuple to an account identifier plus a one-byte
// discriminant. Each part is framed with a 4-byte big-endian length prefix
// before hashing, so ("ab","c") and ("a","bc") derive different identifiers.
func Derive(tag Tag, parts ...[]byte) (models.AccountID, byte) {
	key := domainKey(tag)
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("keyspace: BLAKE3 keyed hash initialization failed: " + err.Error())
	}

	var frame [4]byte
	for _, part := range parts {
		binary.BigEndian.PutUint32(frame[:], uint32(len(part)))
		hasher.Write(frame[:])
		hasher.Write(part)
	}

	// 33 bytes from the XOF: 32 for the identifier, 1 for the discriminant.
	var out [33]byte
	digest := hasher.Digest()
	if _, err := digest.Read(out[:]); err != nil {
		panic("keyspace: BLAKE3 digest read failed: " + err.Error())
	}

	var id models.AccountID
	copy(id[:], out[:32])
	return id, out[32]
}

// Matches reports whether id equals the identifier derived from the given
// key tuple. A false result on a stored handle is a protocol violation, not
// a storage bug.
func Matches(id models.AccountID, tag Tag, parts ...[]byte) bool {
	derived, _ := Derive(tag, parts...)
	return derived == id
}

// U64 encodes a uint64 key part in little-endian, matching the layout of
// numeric parts everywhere in the keyspace.
func U64(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

// U32 encodes a uint32 key part in little-endian.
func U32(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}
