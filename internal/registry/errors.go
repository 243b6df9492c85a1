package registry

import (
	"errors"
	"fmt"

	"github.com/agentforge/registry/internal/ledger"
	"github.com/agentforge/registry/internal/state"
)

// Kind classifies registry errors. Every operation fails fast with exactly
// one kind and no partial state change.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindAccessControl: caller is not the expected owner/manager/drainer/multisig.
	KindAccessControl
	// KindStateViolation: operation invalid for the service's lifecycle state.
	KindStateViolation
	// KindValidation: zero hash, zero-valued role pair, bad id arrays, capacity exceeded.
	KindValidation
	// KindArithmetic: overflow in counters or balance arithmetic.
	KindArithmetic
	// KindFunds: insufficient balance, or a transfer that did not move the exact amount.
	KindFunds
	// KindDerivationMismatch: a record's identifier disagrees with its recomputed key.
	KindDerivationMismatch
	// KindExistence: expected record missing, or unexpected record already present.
	KindExistence
	// KindReentrancy: the registry lock was already held.
	KindReentrancy
	// KindConfiguration: multisig not whitelisted, whitelist full.
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindAccessControl:
		return "access-control"
	case KindStateViolation:
		return "state-violation"
	case KindValidation:
		return "validation"
	case KindArithmetic:
		return "arithmetic"
	case KindFunds:
		return "funds"
	case KindDerivationMismatch:
		return "derivation-mismatch"
	case KindExistence:
		return "existence"
	case KindReentrancy:
		return "reentrancy"
	case KindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Error is the error type returned by all registry operations.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := e.Op + ": " + e.Msg
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind from an error chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func errf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// wrap classifies an error bubbling up from the substrate or ledger.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	kind := KindUnknown
	switch {
	case errors.Is(err, state.ErrNotFound), errors.Is(err, state.ErrExists):
		kind = KindExistence
	case errors.Is(err, state.ErrInsufficientFunds), errors.Is(err, ledger.ErrInexactTransfer):
		kind = KindFunds
	case errors.Is(err, state.ErrOverflow):
		kind = KindArithmetic
	case errors.Is(err, state.ErrWrongKind), errors.Is(err, state.ErrWrongVersion):
		kind = KindDerivationMismatch
	}
	return &Error{Kind: kind, Op: op, Msg: "storage", Err: err}
}
