package v1

import (
	"errors"
	"reflect"
	"testing"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		typ     string
		payload any
		fresh   func() any
	}{
		{typ: TypeJoin, payload: &JoinPayload{ID: "u1", Name: "Ann"}, fresh: func() any { return &JoinPayload{} }},
		{typ: TypeUserInput, payload: &UserInputPayload{ID: "u2", Name: "Bob", Text: "hello\nthere"}, fresh: func() any { return &UserInputPayload{} }},
		{typ: TypeWelcome, payload: &WelcomePayload{
			ID:     "u1",
			IsHost: true,
			Users:  []User{{ID: "u1", Name: "Ann", IsHost: true}, {ID: "u2", Name: "Bob"}},
		}, fresh: func() any { return &WelcomePayload{} }},
		{typ: TypeUserLeft, payload: &User{ID: "u2", Name: "Bob"}, fresh: func() any { return &User{} }},
		{typ: TypeBroadcastMessage, payload: &TextPayload{Text: "Hi there"}, fresh: func() any { return &TextPayload{} }},
		{typ: TypeHostInputRequest, payload: &EmptyPayload{}, fresh: func() any { return &EmptyPayload{} }},
		{typ: TypeError, payload: &ErrorPayload{Code: "not_host", Message: "host only"}, fresh: func() any { return &ErrorPayload{} }},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.typ, func(t *testing.T) {
			t.Parallel()

			raw, err := Encode(tc.typ, tc.payload)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			env, err := Decode(raw)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if env.Type != tc.typ {
				t.Fatalf("type=%q want=%q", env.Type, tc.typ)
			}
			got := tc.fresh()
			if err := env.DecodeData(got); err != nil {
				t.Fatalf("decode data: %v", err)
			}
			if !reflect.DeepEqual(got, tc.payload) {
				t.Fatalf("payload mismatch: got=%+v want=%+v", got, tc.payload)
			}
		})
	}
}

func TestDecode_Rejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
		want error
	}{
		{name: "empty", raw: "  ", want: ErrMalformed},
		{name: "not json", raw: "hello", want: ErrMalformed},
		{name: "missing type", raw: `{"data":{}}`, want: ErrMalformed},
		{name: "unknown type", raw: `{"type":"teleport","data":{}}`, want: ErrUnknownType},
	}

	for _, tc := range cases {
		_, err := Decode([]byte(tc.raw))
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: err=%v want %v", tc.name, err, tc.want)
		}
	}
}

func TestDecode_MissingDataIsEmptyObject(t *testing.T) {
	t.Parallel()

	env, err := Decode([]byte(`{"type":"host_input_request"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(env.Data) != "{}" {
		t.Fatalf("data=%q want {}", env.Data)
	}
}

func TestNew_UnknownTypeAndNilPayload(t *testing.T) {
	t.Parallel()

	if _, err := New("nope", nil); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}

	env, err := New(TypeRequestInputs, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if string(env.Data) != "{}" {
		t.Fatalf("data=%q want {}", env.Data)
	}
}
