package state

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Record bytes are CBOR envelopes: a kind tag, a schema version, and the
// body. The kind tag replaces the hand-written discriminator bytes of
// ad hoc layouts — decoding a record as the wrong kind is an error, not
// silent garbage.

var (
	// ErrWrongKind is returned when a record's kind tag does not match the
	// expected record kind.
	ErrWrongKind = errors.New("record kind mismatch")
	// ErrWrongVersion is returned for record schema versions this build
	// does not understand.
	ErrWrongVersion = errors.New("unsupported record version")
)

// recordVersion is the current schema version written to every envelope.
const recordVersion = 1

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2): sorted map
// keys, smallest integer encoding, no indefinite-length items. Same logical
// record always produces identical bytes.
var encMode cbor.EncMode

// decMode accepts standard CBOR; unknown fields are ignored for forward
// compatibility.
var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// AccountID and Hash implement encoding.TextMarshaler; serialize them
	// as CBOR text strings rather than empty maps.
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("state: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("state: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to deterministic CBOR.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

type envelope struct {
	Kind    string          `cbor:"k"`
	Version uint8           `cbor:"v"`
	Body    cbor.RawMessage `cbor:"b"`
}

// EncodeRecord wraps v in a versioned envelope tagged with the record kind.
func EncodeRecord(kind string, v any) ([]byte, error) {
	body, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s record: %w", kind, err)
	}
	return encMode.Marshal(envelope{Kind: kind, Version: recordVersion, Body: body})
}

// DecodeRecord unwraps an envelope, checks its kind and version, and
// decodes the body into v.
func DecodeRecord(kind string, data []byte, v any) error {
	var env envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode %s record: %w", kind, err)
	}
	if env.Kind != kind {
		return fmt.Errorf("decode %s record: got kind %q: %w", kind, env.Kind, ErrWrongKind)
	}
	if env.Version != recordVersion {
		return fmt.Errorf("decode %s record: version %d: %w", kind, env.Version, ErrWrongVersion)
	}
	if err := decMode.Unmarshal(env.Body, v); err != nil {
		return fmt.Errorf("decode %s record body: %w", kind, err)
	}
	return nil
}
