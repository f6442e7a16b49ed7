package engine

import "fmt"

// AuthError means the control plane rejected the credentials.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string { return fmt.Sprintf("control plane rejected client: %s", e.Reason) }
func (e *AuthError) Kind() string  { return "auth" }

// ConnectionLostError reports that an established control connection dropped.
// The engine reconnects on its own after reporting it.
type ConnectionLostError struct {
	Err error
}

func (e *ConnectionLostError) Error() string { return fmt.Sprintf("control connection lost: %v", e.Err) }
func (e *ConnectionLostError) Unwrap() error { return e.Err }
func (e *ConnectionLostError) Kind() string  { return "connection_lost" }

// ReconnectError reports a failed reconnect attempt.
type ReconnectError struct {
	Err error
}

func (e *ReconnectError) Error() string { return fmt.Sprintf("reconnect failed: %v", e.Err) }
func (e *ReconnectError) Unwrap() error { return e.Err }
func (e *ReconnectError) Kind() string  { return "reconnect" }

// ControlPlaneError is an error the control plane pushed to the client.
type ControlPlaneError struct {
	Reason string
}

func (e *ControlPlaneError) Error() string { return fmt.Sprintf("control plane error: %s", e.Reason) }
func (e *ControlPlaneError) Kind() string  { return "control_plane" }
