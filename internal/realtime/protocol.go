// Package realtime implements the board push channel: the JSON envelope
// spoken over the WebSocket and the client-side Bridge that keeps one
// connection per process, joins board and group rooms and fans typed events
// out to subscribers.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event names carried in Envelope.Event.
const (
	// client -> server
	EventJoinBoard  = "joinBoard"
	EventLeaveBoard = "leaveBoard"
	EventJoinGroup  = "joinGroup"
	EventLeaveGroup = "leaveGroup"

	// server -> client
	EventConnected    = "connected"
	EventBoardUpdated = "boardUpdated"
	EventTaskUpdate   = "tasks:update"
	EventBoardsUpdate = "boardsUpdate"
	EventGroupsUpdate = "groupsUpdate"
	EventError        = "error"
)

// Envelope is a single WebSocket text frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals an event with an optional payload into a frame.
func Encode(event string, data any) ([]byte, error) {
	env := Envelope{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("realtime.Encode: %w", err)
		}
		env.Data = raw
	}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("realtime.Encode: %w", err)
	}
	return out, nil
}

// Decode parses a frame.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("realtime.Decode: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, errors.New("realtime.Decode: missing event name")
	}
	return env, nil
}

// ErrorPayload is the data of an EventError frame.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
