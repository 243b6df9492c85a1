// Package multisig defines the deployment handoff boundary. The registry
// does not implement threshold authorization itself; at deploy time it
// hands the final instance list, the threshold, and an opaque payload to a
// whitelisted implementation, which materializes a multisig record and
// returns its identifier.
package multisig

import (
	"errors"
	"fmt"
	"sort"

	"github.com/agentforge/registry/internal/keyspace"
	"github.com/agentforge/registry/internal/state"
	"github.com/agentforge/registry/pkg/models"
)

// ErrBadThreshold is returned when the threshold is zero or exceeds the
// instance count.
var ErrBadThreshold = errors.New("threshold outside instance count bounds")

// recordOwner tags accounts created by this package.
const recordOwner = "multisig"

// Implementation creates a multisig over a service's final instance set.
// Implementations run inside the caller's transaction: if the surrounding
// operation fails, the multisig record is rolled back with everything else.
type Implementation interface {
	Create(txn *state.Txn, payer models.AccountID, instances []models.AccountID, threshold uint32, payload []byte) (models.AccountID, error)
}

// Reference is the built-in implementation. It derives a deterministic
// deployment key from the sorted instance identifiers and stores the
// instance list, threshold, and payload as a multisig record.
type Reference struct{}

func (Reference) Create(txn *state.Txn, payer models.AccountID, instances []models.AccountID, threshold uint32, payload []byte) (models.AccountID, error) {
	if threshold == 0 || int(threshold) > len(instances) {
		return models.ZeroAccount, fmt.Errorf("create multisig for %d instances, threshold %d: %w",
			len(instances), threshold, ErrBadThreshold)
	}

	sorted := make([]models.AccountID, len(instances))
	copy(sorted, instances)
	sort.Slice(sorted, func(i, j int) bool {
		for b := range sorted[i] {
			if sorted[i][b] != sorted[j][b] {
				return sorted[i][b] < sorted[j][b]
			}
		}
		return false
	})

	parts := make([][]byte, len(sorted))
	for i := range sorted {
		parts[i] = sorted[i][:]
	}
	id, _ := keyspace.Derive(keyspace.TagMultisig, parts...)

	record := models.MultisigRecord{Instances: sorted, Threshold: threshold, Payload: payload}
	data, err := state.EncodeRecord(string(keyspace.TagMultisig), record)
	if err != nil {
		return models.ZeroAccount, err
	}
	if err := txn.Create(id, len(data), recordOwner, payer); err != nil {
		return models.ZeroAccount, err
	}
	if err := txn.Write(id, data); err != nil {
		return models.ZeroAccount, err
	}
	return id, nil
}

// Record loads the multisig record at id.
func Record(txn *state.Txn, id models.AccountID) (*models.MultisigRecord, error) {
	data, err := txn.Data(id)
	if err != nil {
		return nil, err
	}
	var record models.MultisigRecord
	if err := state.DecodeRecord(string(keyspace.TagMultisig), data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// IsAuthorizedCaller reports whether caller may act as the multisig at id.
// Only the multisig account itself is authorized, and the record must
// exist — a dangling identifier authorizes nobody.
func IsAuthorizedCaller(txn *state.Txn, id, caller models.AccountID) (bool, error) {
	if caller != id {
		return false, nil
	}
	if _, err := Record(txn, id); err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
