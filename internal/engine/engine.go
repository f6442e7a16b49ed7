// Package engine is a reference tunnel engine: it authenticates to the
// control plane over a websocket, keeps the control connection alive and
// reconnects it, and calls back into the host for log rotation and
// asynchronous errors. Packet forwarding is not part of it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/8000178/firezone/internal/obs"
	"github.com/8000178/firezone/internal/proto"
	"github.com/8000178/firezone/internal/secret"
	"github.com/8000178/firezone/internal/session"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/robfig/cron/v3"
)

// Version is reported to the control plane on connect.
var Version = "dev"

const clientPath = "/client/websocket"

// Options tune the engine. Zero values take the defaults below.
type Options struct {
	// RotationSchedule is a cron spec (e.g. "@daily", "@every 6h") on which
	// the engine asks the host to roll its log file. Empty disables it.
	RotationSchedule string
	DialTimeout      time.Duration
	// PingInterval is the keepalive period; negative disables keepalives.
	PingInterval time.Duration
	BackoffMin   time.Duration
	BackoffMax   time.Duration
	CloseTimeout time.Duration
	HTTPClient   *http.Client
}

func (o Options) withDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.PingInterval == 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.BackoffMin <= 0 {
		o.BackoffMin = time.Second
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 60 * time.Second
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = 5 * time.Second
	}
	return o
}

// Engine opens control plane sessions.
type Engine struct {
	opts Options
}

var _ session.Engine = (*Engine)(nil)

func New(opts Options) *Engine {
	return &Engine{opts: opts.withDefaults()}
}

// Connect authenticates and starts the session goroutines. It fails without
// retrying; reconnects only happen after a session was established.
func (e *Engine) Connect(ctx context.Context, apiURL string, token secret.String, clientID string, cb session.Callbacks) (session.Handle, error) {
	wsURL, err := websocketURL(apiURL)
	if err != nil {
		return nil, err
	}
	s := &tunnelSession{engine: e, url: wsURL, token: token, clientID: clientID, cb: cb}
	if e.opts.RotationSchedule != "" {
		s.cron = cron.New()
		if _, err := s.cron.AddFunc(e.opts.RotationSchedule, func() { s.rotate("schedule") }); err != nil {
			return nil, fmt.Errorf("invalid log rotation schedule %q: %w", e.opts.RotationSchedule, err)
		}
	}

	conn, reply, err := e.handshake(ctx, wsURL, token, clientID)
	if err != nil {
		return nil, err
	}
	s.conn = conn
	s.sessionID = reply.SessionID
	obs.Info("tunnel.connected", obs.Fields{"url": wsURL, "client_id": clientID, "session_id": reply.SessionID})
	s.start()
	return s, nil
}

func (e *Engine) handshake(ctx context.Context, wsURL string, token secret.String, clientID string) (*websocket.Conn, proto.AuthReply, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.DialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPClient: e.opts.HTTPClient})
	if err != nil {
		return nil, proto.AuthReply{}, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Auth{Token: token.Expose(), ID: clientID, Version: Version}); err != nil {
		_ = conn.CloseNow()
		return nil, proto.AuthReply{}, fmt.Errorf("send auth: %w", err)
	}
	var reply proto.AuthReply
	if err := wsjson.Read(ctx, conn, &reply); err != nil {
		_ = conn.CloseNow()
		return nil, proto.AuthReply{}, fmt.Errorf("read auth reply: %w", err)
	}
	if reply.Error != "" {
		_ = conn.CloseNow()
		return nil, proto.AuthReply{}, &AuthError{Reason: reply.Error}
	}
	return conn, reply, nil
}

// websocketURL maps an http(s) or ws(s) control plane URL onto the client
// websocket endpoint. Query, fragment and userinfo are dropped.
func websocketURL(apiURL string) (string, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return "", fmt.Errorf("parse control plane URL: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported control plane URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("control plane URL has no host")
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + clientPath
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil
	return u.String(), nil
}
