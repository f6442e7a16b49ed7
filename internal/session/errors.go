package session

import (
	"errors"
	"fmt"
)

// ErrAlreadyStarted is returned when Run is called on a controller that has
// already run. A controller is single-shot.
var ErrAlreadyStarted = errors.New("session: controller already started")

// StartupError reports that the session could not be established. It is the
// only error that leaves the controller and it maps to a non-zero exit.
type StartupError struct {
	Err error
}

func (e *StartupError) Error() string { return fmt.Sprintf("session startup failed: %v", e.Err) }
func (e *StartupError) Unwrap() error { return e.Err }

// RotationError reports a failed log roll-over. It never ends the session.
type RotationError struct {
	Err error
}

func (e *RotationError) Error() string { return fmt.Sprintf("failed to roll over to new log file: %v", e.Err) }
func (e *RotationError) Unwrap() error { return e.Err }
func (e *RotationError) Kind() string  { return "log_rotation" }

// errorKind labels err for metrics and log throttling.
func errorKind(err error) string {
	var k interface{ Kind() string }
	if errors.As(err, &k) {
		return k.Kind()
	}
	return "engine"
}
