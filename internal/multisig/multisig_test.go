package multisig_test

import (
	"errors"
	"testing"

	"github.com/agentforge/registry/internal/multisig"
	"github.com/agentforge/registry/internal/state"
	"github.com/agentforge/registry/pkg/models"
)

func acct(b byte) models.AccountID {
	var id models.AccountID
	id[0] = b
	return id
}

func fundedTxn(t *testing.T, payer models.AccountID) *state.Txn {
	t.Helper()
	s := state.NewStore()
	txn := s.Begin()
	if err := txn.Credit(payer, 1_000_000); err != nil {
		t.Fatalf("Credit() error = %v", err)
	}
	return txn
}

func TestCreateDeterministicAcrossOrder(t *testing.T) {
	payer := acct(9)
	instances := []models.AccountID{acct(3), acct(1), acct(2)}
	reversed := []models.AccountID{acct(2), acct(1), acct(3)}

	txn1 := fundedTxn(t, payer)
	defer txn1.Discard()
	id1, err := multisig.Reference{}.Create(txn1, payer, instances, 2, nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	txn2 := fundedTxn(t, payer)
	defer txn2.Discard()
	id2, err := multisig.Reference{}.Create(txn2, payer, reversed, 2, nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if id1 != id2 {
		t.Errorf("deployment key depends on instance order: %s vs %s", id1, id2)
	}
}

func TestCreateThresholdBounds(t *testing.T) {
	payer := acct(9)
	instances := []models.AccountID{acct(1), acct(2)}

	for _, threshold := range []uint32{0, 3} {
		txn := fundedTxn(t, payer)
		_, err := multisig.Reference{}.Create(txn, payer, instances, threshold, nil)
		txn.Discard()
		if !errors.Is(err, multisig.ErrBadThreshold) {
			t.Errorf("Create(threshold=%d) error = %v, want ErrBadThreshold", threshold, err)
		}
	}
}

func TestRecordAndAuthorization(t *testing.T) {
	payer := acct(9)
	instances := []models.AccountID{acct(1), acct(2), acct(3)}

	txn := fundedTxn(t, payer)
	defer txn.Discard()
	id, err := multisig.Reference{}.Create(txn, payer, instances, 2, []byte("cfg"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	rec, err := multisig.Record(txn, id)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if rec.Threshold != 2 || len(rec.Instances) != 3 {
		t.Errorf("Record() = %+v", rec)
	}
	if string(rec.Payload) != "cfg" {
		t.Errorf("payload = %q, want %q", rec.Payload, "cfg")
	}

	ok, err := multisig.IsAuthorizedCaller(txn, id, id)
	if err != nil || !ok {
		t.Errorf("IsAuthorizedCaller(self) = %v, %v; want true", ok, err)
	}
	ok, err = multisig.IsAuthorizedCaller(txn, id, acct(1))
	if err != nil || ok {
		t.Errorf("IsAuthorizedCaller(other) = %v, %v; want false", ok, err)
	}
	dangling := acct(42)
	ok, err = multisig.IsAuthorizedCaller(txn, dangling, dangling)
	if err != nil || ok {
		t.Errorf("IsAuthorizedCaller(dangling) = %v, %v; want false", ok, err)
	}
}
