// Package v1 defines the co-op session protocol v1 contract.
//
// It is shared between the coordination server and participants so the wire format
// has a single authoritative definition.
package v1

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Subprotocol is the optional websocket subprotocol name for this contract.
const Subprotocol = "coop.v1"

// Type constants (wire-stable).
const (
	// TypeJoin is the handshake sent right after the link opens (participant -> server).
	TypeJoin = "join"
	// TypeUserInput carries a client's input for the current round (client -> server).
	TypeUserInput = "user_input"
	// TypeRequestInputs asks every client to submit (host -> server).
	TypeRequestInputs = "request_inputs"
	// TypeBroadcastAIResponse carries the generated result to relay (host -> server).
	TypeBroadcastAIResponse = "broadcast_ai_response"

	// TypeWelcome assigns role and roster on join (server -> participant).
	TypeWelcome = "welcome"
	// TypeUserJoined announces a new participant (server -> others).
	TypeUserJoined = "user_joined"
	// TypeUserLeft announces a departed participant (server -> others).
	TypeUserLeft = "user_left"
	// TypeHostInputRequest tells clients it is their turn (server -> clients).
	TypeHostInputRequest = "host_input_request"
	// TypeClientInput forwards a client's input to the host (server -> host).
	TypeClientInput = "client_input"
	// TypeBroadcastMessage is the final AI output to render (server -> clients).
	TypeBroadcastMessage = "broadcast_message"

	// TypeError is a generic rejection (server -> participant).
	TypeError = "error"
)

// Known reports whether typ is a defined envelope type.
func Known(typ string) bool {
	switch typ {
	case TypeJoin,
		TypeUserInput,
		TypeRequestInputs,
		TypeBroadcastAIResponse,
		TypeWelcome,
		TypeUserJoined,
		TypeUserLeft,
		TypeHostInputRequest,
		TypeClientInput,
		TypeBroadcastMessage,
		TypeError:
		return true
	default:
		return false
	}
}

// Envelope is the canonical wire wrapper: one per transport frame.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Validate performs structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.Type) == "" {
		return fmt.Errorf("%w: missing field: type", ErrMalformed)
	}
	if !Known(e.Type) {
		return fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
	return nil
}

// ---- Payloads ----

// User is one roster entry.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	IsHost bool   `json:"isHost,omitempty"`
}

// JoinPayload is the connect handshake.
type JoinPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UserInputPayload is a client's round input. Also used for client_input.
type UserInputPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Text string `json:"text"`
}

// WelcomePayload carries the server-confirmed identity, role and roster.
type WelcomePayload struct {
	ID     string `json:"id"`
	IsHost bool   `json:"isHost"`
	Users  []User `json:"users"`
}

// EmptyPayload is used by request_inputs and host_input_request.
type EmptyPayload struct{}

// TextPayload is used by broadcast_ai_response and broadcast_message.
type TextPayload struct {
	Text string `json:"text"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
