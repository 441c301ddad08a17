package transport

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/liveq/internal/session"
)

// Command names accepted on the socket.
const (
	CommandFetchQuery  = "fetch_query"
	CommandUnsubscribe = "unsubscribe"
)

// Request is a client command frame.
type Request struct {
	ID      uint64 `json:"id" cbor:"id"`
	Command string `json:"command" cbor:"command"`
	Args    Args   `json:"args" cbor:"args"`
}

// Args are the command arguments. fetch_query uses Query, OperationName
// and Variables; unsubscribe uses Subscription.
type Args struct {
	Query         string `json:"query,omitempty" cbor:"query,omitempty"`
	OperationName string `json:"operationName,omitempty" cbor:"operationName,omitempty"`
	// Variables is either JSON text or an object.
	Variables    any         `json:"variables,omitempty" cbor:"variables,omitempty"`
	Subscription session.Key `json:"subscription,omitempty" cbor:"subscription,omitempty"`
}

// VariablesText returns the variables as JSON text for the engine.
func (a Args) VariablesText() (string, error) {
	switch v := a.Variables.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode variables: %w", err)
		}
		return string(data), nil
	}
}

// Response answers one Request. Exactly one of Result or Error is set,
// except for commands without a result.
type Response struct {
	ID     uint64 `json:"id"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// EventFrame carries a pushed event.
type EventFrame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}
