package session

import (
	"sync"

	"github.com/8000178/firezone/internal/obs"
	"github.com/8000178/firezone/internal/ratelimit"
)

// Callbacks is the capability set the tunnel engine invokes from its own
// goroutines while a session is live.
type Callbacks interface {
	// RollLogFile asks the host to start a new log file. ok is false when no
	// new file was started, in which case the engine keeps the current one.
	RollLogFile() (path string, ok bool)
	// OnError surfaces an asynchronous engine error. It cannot fail.
	OnError(err error)
}

// LogRoller is the part of the rotating log sink the Bridge drives.
type LogRoller interface {
	RollToNewFile() (string, error)
}

// Error log lines are throttled per kind so a failing engine cannot flood
// the log sink. Metrics still count every error.
const (
	errorLogRate  = 5
	errorLogBurst = 20
)

// Bridge adapts engine callbacks onto the log sink and the error channel.
// It holds no tunnel logic.
type Bridge struct {
	roller   LogRoller
	limiter  *ratelimit.Limiter
	reporter func(kind string, err error)

	mu         sync.Mutex
	suppressed map[string]int
}

var _ Callbacks = (*Bridge)(nil)

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithReporter registers fn to be told about every reported error.
func WithReporter(fn func(kind string, err error)) BridgeOption {
	return func(b *Bridge) { b.reporter = fn }
}

// NewBridge returns a Bridge. roller may be nil when file logging is off.
func NewBridge(roller LogRoller, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		roller:     roller,
		limiter:    ratelimit.NewLimiter(errorLogRate, errorLogBurst),
		suppressed: make(map[string]int),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RollLogFile never returns an error to the engine: a failed roll-over is
// logged, reported once through OnError, and answered with ok=false so the
// engine keeps writing to the current file. The next request tries again.
func (b *Bridge) RollLogFile() (string, bool) {
	if b.roller == nil {
		return "", false
	}
	path, err := b.roller.RollToNewFile()
	if err != nil {
		obs.Debug("log.roll.failed", obs.Fields{"err": err.Error()})
		obs.LogRotationErrorsTotal.Inc()
		b.OnError(&RotationError{Err: err})
		return "", false
	}
	if path == "" {
		return "", false
	}
	obs.LogRotationsTotal.Inc()
	return path, true
}

// OnError records err. Nothing raised while reporting escapes to the caller.
func (b *Bridge) OnError(err error) {
	if err == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			obs.Debug("session.error.report_panic", obs.Fields{"panic": r})
		}
	}()

	kind := errorKind(err)
	obs.ErrorsTotal.WithLabelValues(kind).Inc()
	if b.reporter != nil {
		b.reporter(kind, err)
	}

	if !b.limiter.Allow(kind) {
		b.mu.Lock()
		b.suppressed[kind]++
		b.mu.Unlock()
		obs.SuppressedLogsTotal.WithLabelValues(kind).Inc()
		return
	}
	b.mu.Lock()
	dropped := b.suppressed[kind]
	delete(b.suppressed, kind)
	b.mu.Unlock()

	f := obs.Fields{"kind": kind, "err": err.Error()}
	if dropped > 0 {
		f["suppressed"] = dropped
	}
	obs.Error("session.error", f)
}
