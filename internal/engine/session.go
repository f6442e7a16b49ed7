package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/8000178/firezone/internal/obs"
	"github.com/8000178/firezone/internal/proto"
	"github.com/8000178/firezone/internal/secret"
	"github.com/8000178/firezone/internal/session"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

var errSessionClosed = errors.New("engine: session closed")

// tunnelSession is the handle returned by Connect.
type tunnelSession struct {
	engine   *Engine
	url      string
	token    secret.String
	clientID string
	cb       session.Callbacks
	cron     *cron.Cron

	// rotateMu keeps at most one rotation request in flight.
	rotateMu sync.Mutex

	mu        sync.Mutex
	conn      *websocket.Conn
	sessionID string
	closed    bool

	cancel context.CancelFunc
	group  *errgroup.Group
	once   sync.Once
}

var _ session.Handle = (*tunnelSession)(nil)

func (s *tunnelSession) start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	s.group = g
	g.Go(func() error { return s.serve(gctx) })
	if s.engine.opts.PingInterval > 0 {
		g.Go(func() error { return s.keepalive(gctx) })
	}
	if s.cron != nil {
		s.cron.Start()
	}
}

func (s *tunnelSession) current() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *tunnelSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// swap installs a reconnected conn unless Disconnect got there first.
func (s *tunnelSession) swap(conn *websocket.Conn, sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conn = conn
	s.sessionID = sessionID
	return true
}

// serve reads control plane events and reconnects when the connection drops.
func (s *tunnelSession) serve(ctx context.Context) error {
	for {
		conn := s.current()
		err := s.readLoop(ctx, conn)
		if ctx.Err() != nil || s.isClosed() {
			return nil
		}
		_ = conn.CloseNow()
		s.cb.OnError(&ConnectionLostError{Err: err})
		if err := s.reconnect(ctx); err != nil {
			return nil
		}
	}
}

func (s *tunnelSession) reconnect(ctx context.Context) error {
	opts := s.engine.opts
	backoff := opts.BackoffMin
	for {
		obs.Info("tunnel.reconnecting", obs.Fields{"backoff": backoff.String(), "client_id": s.clientID})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		conn, reply, err := s.engine.handshake(ctx, s.url, s.token, s.clientID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.cb.OnError(&ReconnectError{Err: err})
			backoff = min(backoff*2, opts.BackoffMax)
			continue
		}
		if !s.swap(conn, reply.SessionID) {
			_ = conn.CloseNow()
			return errSessionClosed
		}
		obs.ReconnectsTotal.Inc()
		obs.Info("tunnel.reconnected", obs.Fields{"session_id": reply.SessionID, "client_id": s.clientID})
		return nil
	}
}

func (s *tunnelSession) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var ev proto.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			obs.Error("tunnel.event.invalid", obs.Fields{"err": err.Error()})
			continue
		}
		s.dispatch(ev)
	}
}

func (s *tunnelSession) dispatch(ev proto.Event) {
	switch ev.Event {
	case proto.EventRotateLogs:
		s.rotate("control_plane")
	case proto.EventError:
		var p proto.ErrorPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil || p.Reason == "" {
			p.Reason = string(ev.Payload)
		}
		s.cb.OnError(&ControlPlaneError{Reason: p.Reason})
	case proto.EventPing:
		obs.Debug("tunnel.event.ping", nil)
	default:
		obs.Debug("tunnel.event.unknown", obs.Fields{"event": ev.Event})
	}
}

func (s *tunnelSession) rotate(trigger string) {
	s.rotateMu.Lock()
	defer s.rotateMu.Unlock()
	if s.isClosed() {
		return
	}
	if path, ok := s.cb.RollLogFile(); ok {
		obs.Info("log.rotated", obs.Fields{"path": path, "trigger": trigger})
	}
}

// keepalive pings the control plane and drops a connection that stops
// answering so serve can reconnect it.
func (s *tunnelSession) keepalive(ctx context.Context) error {
	interval := s.engine.opts.PingInterval
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			conn := s.current()
			pctx, cancel := context.WithTimeout(ctx, interval)
			err := conn.Ping(pctx)
			cancel()
			if err != nil && ctx.Err() == nil && !s.isClosed() {
				obs.Debug("tunnel.ping.failed", obs.Fields{"err": err.Error()})
				_ = conn.CloseNow()
			}
		}
	}
}

// Disconnect sends a goodbye, closes the control connection and waits for
// the session goroutines. Later calls are no-ops.
func (s *tunnelSession) Disconnect(reason error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		conn := s.conn
		sessionID := s.sessionID
		s.mu.Unlock()

		if s.cron != nil {
			<-s.cron.Stop().Done()
		}

		bye := proto.Goodbye{}
		if reason != nil {
			bye.Reason = reason.Error()
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.engine.opts.CloseTimeout)
		if err := wsjson.Write(ctx, conn, bye); err != nil {
			obs.Debug("tunnel.goodbye.failed", obs.Fields{"err": err.Error()})
		}
		cancel()
		if err := conn.Close(websocket.StatusNormalClosure, "disconnect"); err != nil {
			obs.Debug("tunnel.close", obs.Fields{"err": err.Error()})
		}

		s.cancel()
		if err := s.group.Wait(); err != nil {
			obs.Debug("tunnel.shutdown", obs.Fields{"err": err.Error()})
		}
		obs.Info("tunnel.disconnected", obs.Fields{"session_id": sessionID, "clean": reason == nil})
	})
}
