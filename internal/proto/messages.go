package proto

import "encoding/json"

// Auth is sent by the client as the first message on the control connection.
type Auth struct {
	Token   string `json:"token"`
	ID      string `json:"id"`
	Version string `json:"version"`
}

// AuthReply is the control plane's answer to Auth. Error is set on rejection.
type AuthReply struct {
	Msg       string `json:"msg,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Event names pushed by the control plane after authentication.
const (
	EventRotateLogs = "rotate_logs"
	EventError      = "error"
	EventPing       = "ping"
)

// Event is a control plane -> client message.
type Event struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrorPayload accompanies EventError.
type ErrorPayload struct {
	Reason string `json:"reason"`
}

// Goodbye is the client's last message before closing the connection. An
// empty Reason marks a clean disconnect.
type Goodbye struct {
	Reason string `json:"reason,omitempty"`
}
