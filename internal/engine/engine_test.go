package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/8000178/firezone/internal/obs"
	"github.com/8000178/firezone/internal/proto"
	"github.com/8000178/firezone/internal/secret"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const testToken = "tok_engine_secret"

// fakeControlPlane accepts client websockets, answers the auth handshake and
// forwards whatever the client sends afterwards. A silent control plane stops
// reading after the handshake, so it never answers pings.
type fakeControlPlane struct {
	srv      *httptest.Server
	reject   string
	silent   bool
	auths    chan proto.Auth
	conns    chan *websocket.Conn
	goodbyes chan proto.Goodbye

	stop     chan struct{}
	stopOnce sync.Once
}

func newFakeControlPlane(t *testing.T, reject string) *fakeControlPlane {
	t.Helper()
	return startControlPlane(t, &fakeControlPlane{reject: reject})
}

func newSilentControlPlane(t *testing.T) *fakeControlPlane {
	t.Helper()
	return startControlPlane(t, &fakeControlPlane{silent: true})
}

func startControlPlane(t *testing.T, cp *fakeControlPlane) *fakeControlPlane {
	cp.auths = make(chan proto.Auth, 64)
	cp.conns = make(chan *websocket.Conn, 64)
	cp.goodbyes = make(chan proto.Goodbye, 8)
	cp.stop = make(chan struct{})
	cp.srv = httptest.NewServer(http.HandlerFunc(cp.handle))
	t.Cleanup(cp.srv.Close)
	t.Cleanup(cp.release)
	return cp
}

// release lets silent handlers return and drop their connections.
func (cp *fakeControlPlane) release() {
	cp.stopOnce.Do(func() { close(cp.stop) })
}

func (cp *fakeControlPlane) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != clientPath {
		http.NotFound(w, r)
		return
	}
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer c.CloseNow()
	ctx := r.Context()

	var auth proto.Auth
	if err := wsjson.Read(ctx, c, &auth); err != nil {
		return
	}
	select {
	case cp.auths <- auth:
	default:
	}
	if cp.reject != "" {
		_ = wsjson.Write(ctx, c, proto.AuthReply{Error: cp.reject})
		return
	}
	if err := wsjson.Write(ctx, c, proto.AuthReply{Msg: "ok", SessionID: "sess-" + auth.ID}); err != nil {
		return
	}
	select {
	case cp.conns <- c:
	default:
	}
	if cp.silent {
		<-cp.stop
		return
	}
	for {
		var bye proto.Goodbye
		if err := wsjson.Read(ctx, c, &bye); err != nil {
			return
		}
		cp.goodbyes <- bye
	}
}

type recordingCallbacks struct {
	rolls chan struct{}
	errs  chan error
}

func newRecordingCallbacks() *recordingCallbacks {
	return &recordingCallbacks{rolls: make(chan struct{}, 16), errs: make(chan error, 16)}
}

func (c *recordingCallbacks) RollLogFile() (string, bool) {
	select {
	case c.rolls <- struct{}{}:
	default:
	}
	return "/var/log/client/next.log", true
}

func (c *recordingCallbacks) OnError(err error) {
	select {
	case c.errs <- err:
	default:
	}
}

func testOptions() Options {
	return Options{
		DialTimeout:  2 * time.Second,
		PingInterval: -1,
		BackoffMin:   10 * time.Millisecond,
		BackoffMax:   50 * time.Millisecond,
		CloseTimeout: time.Second,
	}
}

func receive[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
	var zero T
	return zero
}

func connect(t *testing.T, cp *fakeControlPlane, cb *recordingCallbacks) (*tunnelSession, *websocket.Conn) {
	t.Helper()
	return connectWith(t, cp, cb, testOptions())
}

func connectWith(t *testing.T, cp *fakeControlPlane, cb *recordingCallbacks, opts Options) (*tunnelSession, *websocket.Conn) {
	t.Helper()
	h, err := New(opts).Connect(context.Background(), cp.srv.URL, secret.New(testToken), "client-1", cb)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	s := h.(*tunnelSession)
	t.Cleanup(func() { s.Disconnect(nil) })
	return s, receive(t, cp.conns, "server conn")
}

func TestConnectSendsCredentials(t *testing.T) {
	cp := newFakeControlPlane(t, "")
	s, _ := connect(t, cp, newRecordingCallbacks())

	auth := receive(t, cp.auths, "auth")
	if auth.Token != testToken || auth.ID != "client-1" || auth.Version != Version {
		t.Errorf("auth = %+v", auth)
	}
	if s.sessionID != "sess-client-1" {
		t.Errorf("session id = %q", s.sessionID)
	}
}

func TestConnectAuthRejected(t *testing.T) {
	cp := newFakeControlPlane(t, "invalid token")

	h, err := New(testOptions()).Connect(context.Background(), cp.srv.URL, secret.New(testToken), "client-1", newRecordingCallbacks())
	if h != nil {
		t.Fatalf("expected no handle, got %v", h)
	}
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Connect error = %v, want *AuthError", err)
	}
	if authErr.Reason != "invalid token" {
		t.Errorf("reason = %q", authErr.Reason)
	}
	if strings.Contains(err.Error(), testToken) {
		t.Errorf("error leaks the token: %v", err)
	}
}

func TestConnectUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(testOptions()).Connect(context.Background(), url, secret.New(testToken), "client-1", newRecordingCallbacks())
	if err == nil {
		t.Fatal("expected an error for an unreachable control plane")
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		t.Errorf("unreachable server reported as auth failure: %v", err)
	}
	if strings.Contains(err.Error(), testToken) {
		t.Errorf("error leaks the token: %v", err)
	}
}

func TestConnectInvalidRotationSchedule(t *testing.T) {
	opts := testOptions()
	opts.RotationSchedule = "every other tuesday"
	_, err := New(opts).Connect(context.Background(), "https://cp.example", secret.New(testToken), "client-1", newRecordingCallbacks())
	if err == nil || !strings.Contains(err.Error(), "rotation schedule") {
		t.Fatalf("Connect = %v, want rotation schedule error", err)
	}
}

func TestRotateLogsEventRollsLogFile(t *testing.T) {
	cp := newFakeControlPlane(t, "")
	cb := newRecordingCallbacks()
	_, conn := connect(t, cp, cb)

	ctx := context.Background()
	if err := conn.Write(ctx, websocket.MessageText, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := wsjson.Write(ctx, conn, proto.Event{Event: proto.EventRotateLogs}); err != nil {
		t.Fatalf("write: %v", err)
	}
	receive(t, cb.rolls, "RollLogFile")

	select {
	case err := <-cb.errs:
		t.Errorf("unexpected OnError(%v)", err)
	default:
	}
}

func TestErrorEventReportsControlPlaneError(t *testing.T) {
	cp := newFakeControlPlane(t, "")
	cb := newRecordingCallbacks()
	_, conn := connect(t, cp, cb)

	ev := proto.Event{Event: proto.EventError, Payload: []byte(`{"reason":"relay down"}`)}
	if err := wsjson.Write(context.Background(), conn, ev); err != nil {
		t.Fatalf("write: %v", err)
	}
	err := receive(t, cb.errs, "OnError")
	var cpErr *ControlPlaneError
	if !errors.As(err, &cpErr) || cpErr.Reason != "relay down" {
		t.Fatalf("OnError(%v), want control plane error 'relay down'", err)
	}
}

func TestDisconnectSendsGoodbye(t *testing.T) {
	cp := newFakeControlPlane(t, "")
	s, _ := connect(t, cp, newRecordingCallbacks())

	s.Disconnect(nil)
	bye := receive(t, cp.goodbyes, "goodbye")
	if bye.Reason != "" {
		t.Errorf("goodbye reason = %q, want empty for a clean disconnect", bye.Reason)
	}

	s.Disconnect(errors.New("second call"))
	select {
	case bye := <-cp.goodbyes:
		t.Errorf("second Disconnect sent %+v", bye)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLostConnectionIsReportedAndReconnected(t *testing.T) {
	cp := newFakeControlPlane(t, "")
	cb := newRecordingCallbacks()
	_, conn := connect(t, cp, cb)
	receive(t, cp.auths, "first auth")
	before := testutil.ToFloat64(obs.ReconnectsTotal)

	_ = conn.Close(websocket.StatusGoingAway, "restart")

	err := receive(t, cb.errs, "OnError")
	var lost *ConnectionLostError
	if !errors.As(err, &lost) {
		t.Fatalf("OnError(%v), want *ConnectionLostError", err)
	}
	auth := receive(t, cp.auths, "reconnect auth")
	if auth.Token != testToken {
		t.Errorf("reconnect auth = %+v", auth)
	}
	receive(t, cp.conns, "reconnected server conn")

	deadline := time.Now().Add(3 * time.Second)
	for testutil.ToFloat64(obs.ReconnectsTotal) < before+1 {
		if time.Now().After(deadline) {
			t.Fatal("reconnect counter not incremented")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "https://api.firezone.dev", want: "wss://api.firezone.dev/client/websocket"},
		{in: "wss://api.firezone.dev/", want: "wss://api.firezone.dev/client/websocket"},
		{in: "http://127.0.0.1:8080/base", want: "ws://127.0.0.1:8080/base/client/websocket"},
		{in: "ws://user:pw@cp.local?x=1#frag", want: "ws://cp.local/client/websocket"},
		{in: "ftp://cp.local", wantErr: true},
		{in: "https://", wantErr: true},
		{in: "://bad", wantErr: true},
	}
	for _, tt := range tests {
		got, err := websocketURL(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("websocketURL(%q) = %q, want error", tt.in, got)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("websocketURL(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestRotationScheduleRollsLogFile(t *testing.T) {
	cp := newFakeControlPlane(t, "")
	cb := newRecordingCallbacks()
	opts := testOptions()
	opts.RotationSchedule = "@every 1s"
	connectWith(t, cp, cb, opts)

	receive(t, cb.rolls, "scheduled RollLogFile")
}

func TestKeepaliveDropsUnresponsiveConnection(t *testing.T) {
	cp := newSilentControlPlane(t)
	cb := newRecordingCallbacks()
	opts := testOptions()
	opts.PingInterval = 50 * time.Millisecond
	connectWith(t, cp, cb, opts)
	receive(t, cp.auths, "first auth")

	err := receive(t, cb.errs, "OnError")
	var lost *ConnectionLostError
	if !errors.As(err, &lost) {
		t.Fatalf("OnError(%v), want *ConnectionLostError", err)
	}
	receive(t, cp.auths, "reconnect auth")
	cp.release()
}

func TestDisconnectInterruptsReconnectBackoff(t *testing.T) {
	cp := newFakeControlPlane(t, "")
	cb := newRecordingCallbacks()
	opts := testOptions()
	opts.BackoffMin = time.Minute
	opts.BackoffMax = time.Minute
	s, conn := connectWith(t, cp, cb, opts)
	receive(t, cp.auths, "first auth")

	_ = conn.Close(websocket.StatusGoingAway, "restart")
	err := receive(t, cb.errs, "OnError")
	var lost *ConnectionLostError
	if !errors.As(err, &lost) {
		t.Fatalf("OnError(%v), want *ConnectionLostError", err)
	}

	done := make(chan struct{})
	go func() {
		s.Disconnect(nil)
		close(done)
	}()
	receive(t, done, "Disconnect during reconnect backoff")

	select {
	case auth := <-cp.auths:
		t.Errorf("session reconnected after Disconnect: %+v", auth)
	case <-time.After(50 * time.Millisecond):
	}
}
