// Package session drives a tunnel client through a single connect, wait,
// disconnect cycle and bridges the tunnel engine's callbacks into the host's
// logging and error reporting.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/8000178/firezone/internal/obs"
	"github.com/8000178/firezone/internal/secret"
	"github.com/8000178/firezone/internal/state"
)

// Handle is a live tunnel engine session. After Disconnect returns the
// handle must not be used again.
type Handle interface {
	// Disconnect tears the session down. A nil reason is a clean disconnect.
	Disconnect(reason error)
}

// Engine establishes tunnel sessions. The callbacks stay referenced by the
// engine until the returned handle is disconnected.
type Engine interface {
	Connect(ctx context.Context, apiURL string, token secret.String, clientID string, cb Callbacks) (Handle, error)
}

// InterruptWaiter blocks until the operator asks the process to stop.
type InterruptWaiter interface {
	Wait(ctx context.Context)
}

// Config is the immutable session configuration.
type Config struct {
	APIURL   string
	Token    secret.String
	ClientID string
	LogDir   string
}

// Validate checks presence only; the engine validates the values themselves.
func (c Config) Validate() error {
	switch {
	case c.APIURL == "":
		return errors.New("control plane URL is required")
	case c.Token.IsEmpty():
		return errors.New("token is required")
	case c.ClientID == "":
		return errors.New("client identity is required")
	}
	return nil
}

const recordTimeout = 2 * time.Second

// Controller owns the lifecycle state machine and the session handle.
type Controller struct {
	engine Engine
	waiter InterruptWaiter
	roller LogRoller
	store  state.Store

	mu        sync.Mutex
	started   bool
	state     State
	since     time.Time
	clientID  string
	errors    int64
	lastError string
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogRoller wires the Bridge to a rotating log sink.
func WithLogRoller(r LogRoller) Option {
	return func(c *Controller) { c.roller = r }
}

// WithStateStore publishes every transition to s.
func WithStateStore(s state.Store) Option {
	return func(c *Controller) { c.store = s }
}

// NewController returns a Controller in the Unconfigured state.
func NewController(engine Engine, waiter InterruptWaiter, opts ...Option) *Controller {
	c := &Controller{engine: engine, waiter: waiter, since: time.Now().UTC()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run connects, blocks until interrupted, then disconnects. Only a failed
// connect is returned, wrapped in *StartupError. There is no retry.
func (c *Controller) Run(ctx context.Context, cfg Config) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.clientID = cfg.ClientID
	c.mu.Unlock()

	if err := cfg.Validate(); err != nil {
		c.transition(Terminated)
		return &StartupError{Err: err}
	}

	bridge := NewBridge(c.roller, WithReporter(c.noteError))

	c.transition(Connecting)
	start := time.Now()
	handle, err := c.engine.Connect(ctx, cfg.APIURL, cfg.Token, cfg.ClientID, bridge)
	obs.ConnectDurationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		c.transition(Terminated)
		return &StartupError{Err: err}
	}

	c.transition(Connected)
	obs.Info("session.connected", obs.Fields{"client_id": cfg.ClientID, "api_url": cfg.APIURL, "file_logging": c.roller != nil})

	c.waiter.Wait(ctx)

	c.transition(Disconnecting)
	handle.Disconnect(nil)
	c.transition(Terminated)
	obs.Info("session.terminated", obs.Fields{"client_id": cfg.ClientID})
	return nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns the publishable view of the lifecycle.
func (c *Controller) Snapshot() state.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() state.Snapshot {
	return state.Snapshot{
		ClientID:  c.clientID,
		State:     c.state.String(),
		Since:     c.since,
		Errors:    c.errors,
		LastError: c.lastError,
		UpdatedAt: time.Now().UTC(),
	}
}

func (c *Controller) transition(to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.since = time.Now().UTC()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	obs.SessionState.Set(float64(to))
	obs.Debug("session.transition", obs.Fields{"from": from.String(), "to": to.String()})
	c.record(snap)
}

func (c *Controller) record(snap state.Snapshot) {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := c.store.Record(ctx, snap); err != nil {
		obs.Error("state.record", obs.Fields{"err": err.Error(), "state": snap.State})
	}
}

// noteError runs on engine goroutines; it only touches memory so a slow
// store can never block a callback.
func (c *Controller) noteError(_ string, err error) {
	c.mu.Lock()
	c.errors++
	c.lastError = err.Error()
	c.mu.Unlock()
}
