package collector

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Result is the tagged outcome of one source: either a success payload or an
// error message. The zero value is an error with an empty message.
type Result struct {
	ok      bool
	payload json.RawMessage
	message string
}

// Success builds a successful Result. A nil payload is stored as JSON null.
func Success(payload json.RawMessage) Result {
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return Result{ok: true, payload: append(json.RawMessage(nil), payload...)}
}

// SuccessValue marshals v and wraps it as a successful Result.
func SuccessValue(v any) (Result, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Result{}, fmt.Errorf("marshal result payload: %w", err)
	}
	return Success(data), nil
}

// Failure builds an error Result.
func Failure(message string) Result {
	return Result{message: message}
}

// IsSuccess reports whether the Result carries a payload.
func (r Result) IsSuccess() bool { return r.ok }

// IsError reports whether the Result carries an error message.
func (r Result) IsError() bool { return !r.ok }

// Payload returns the success payload, or nil for errors.
func (r Result) Payload() json.RawMessage {
	if !r.ok {
		return nil
	}
	return r.payload
}

// Message returns the error message, or "" for successes.
func (r Result) Message() string {
	if r.ok {
		return ""
	}
	return r.message
}

type resultWire struct {
	Success json.RawMessage `json:"success,omitempty"`
	Error   *string         `json:"error,omitempty"`
}

// MarshalJSON encodes {"success": payload} or {"error": message}.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.ok {
		return json.Marshal(resultWire{Success: r.payload})
	}
	msg := r.message
	return json.Marshal(resultWire{Error: &msg})
}

// UnmarshalJSON decodes the wire form written by MarshalJSON.
func (r *Result) UnmarshalJSON(data []byte) error {
	var wire resultWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	switch {
	case wire.Error != nil:
		*r = Failure(*wire.Error)
	case len(bytes.TrimSpace(wire.Success)) > 0:
		*r = Success(wire.Success)
	default:
		return errors.New("decode result: neither success nor error set")
	}
	return nil
}
