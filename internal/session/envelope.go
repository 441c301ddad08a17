package session

import (
	"bytes"
	"encoding/json"
	"fmt"
)

var nullPayload = Payload("null")

// Reply is the start-query result: either an inline result or a pending key.
type Reply struct {
	// Immediate is true when the query resolved inline.
	Immediate bool
	// Results is the inline result; nil when the producer completed
	// without a payload.
	Results Payload
	// Pending is the streaming key when Immediate is false.
	Pending Key
}

// MarshalJSON encodes {"results": <value>} or {"pending": <key>}.
func (r Reply) MarshalJSON() ([]byte, error) {
	if r.Immediate {
		results := r.Results
		if len(results) == 0 {
			results = nullPayload
		}
		return json.Marshal(struct {
			Results json.RawMessage `json:"results"`
		}{results})
	}
	return json.Marshal(struct {
		Pending Key `json:"pending"`
	}{r.Pending})
}

// UnmarshalJSON decodes either reply shape.
func (r *Reply) UnmarshalJSON(data []byte) error {
	var raw struct {
		Results json.RawMessage `json:"results"`
		Pending *Key            `json:"pending"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch {
	case raw.Pending != nil:
		*r = Reply{Pending: *raw.Pending}
	case raw.Results != nil:
		results := raw.Results
		if bytes.Equal(results, nullPayload) {
			results = nil
		}
		*r = Reply{Immediate: true, Results: results}
	default:
		return fmt.Errorf("reply has neither results nor pending")
	}
	return nil
}

// NextEvent is the body of a pushed "next" event.
type NextEvent struct {
	Next         Payload `json:"next"`
	Subscription Key     `json:"subscription"`
}

// encodeNext wraps payload as {"next": payload, "subscription": key}.
func encodeNext(key Key, payload Payload) ([]byte, error) {
	if len(payload) == 0 {
		payload = nullPayload
	}
	data, err := json.Marshal(NextEvent{Next: payload, Subscription: key})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return data, nil
}

// checkPayload verifies an inline result is representable in the envelope.
func checkPayload(p Payload) error {
	if len(p) > 0 && !json.Valid(p) {
		return fmt.Errorf("%w: result is not valid JSON", ErrSerialization)
	}
	return nil
}
