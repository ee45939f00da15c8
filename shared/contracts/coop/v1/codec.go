package v1

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformed means the frame is not a decodable envelope.
	ErrMalformed = errors.New("malformed envelope")
	// ErrUnknownType means the envelope type is not part of the contract.
	ErrUnknownType = errors.New("unknown envelope type")
)

var emptyObject = json.RawMessage(`{}`)

// New builds an envelope with the JSON encoding of payload as data.
// A nil payload encodes as an empty object.
func New(typ string, payload any) (Envelope, error) {
	if !Known(typ) {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	if payload == nil {
		return Envelope{Type: typ, Data: emptyObject}, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s data: %w", typ, err)
	}
	return Envelope{Type: typ, Data: b}, nil
}

// Encode returns the wire bytes for an envelope of type typ.
func Encode(typ string, payload any) ([]byte, error) {
	env, err := New(typ, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Decode parses and validates one frame.
// Errors wrap ErrMalformed or ErrUnknownType.
func Decode(raw []byte) (Envelope, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Envelope{}, fmt.Errorf("%w: empty frame", ErrMalformed)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		env.Data = emptyObject
	}
	return env, nil
}

// DecodeData unmarshals the envelope data into v.
func (e Envelope) DecodeData(v any) error {
	data := e.Data
	if len(data) == 0 {
		data = emptyObject
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s data: %v", ErrMalformed, e.Type, err)
	}
	return nil
}
