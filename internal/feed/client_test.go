package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/tidwall/gjson"
)

// fakeFeed speaks just enough Engine.IO/Socket.IO to drive the client.
type fakeFeed struct {
	t           *testing.T
	loginAck    string
	afterLogin  []string
	dropFirst   bool
	connections atomic.Int32
	gotLogin    atomic.Value
	pongs       atomic.Int32
}

func (f *fakeFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/socket.io/" || r.URL.Query().Get("EIO") != "4" || r.URL.Query().Get("transport") != "websocket" {
		f.t.Errorf("unexpected handshake request %s", r.URL.String())
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		f.t.Errorf("accept: %v", err)
		return
	}
	defer conn.CloseNow()
	n := f.connections.Add(1)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	send := func(frame string) bool {
		return conn.Write(ctx, websocket.MessageText, []byte(frame)) == nil
	}
	recv := func() (string, bool) {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return "", false
		}
		return string(data), true
	}

	if !send(`0{"sid":"eio-1","upgrades":[],"pingInterval":25000,"pingTimeout":20000,"maxPayload":1000000}`) {
		return
	}
	if frame, ok := recv(); !ok || frame != "40" {
		f.t.Errorf("expected namespace connect, got %q", frame)
		return
	}
	if f.dropFirst && n == 1 {
		conn.Close(websocket.StatusGoingAway, "restart")
		return
	}
	if !send(`40{"sid":"sock-1"}`) {
		return
	}
	frame, ok := recv()
	if !ok || !strings.HasPrefix(frame, "420[") {
		f.t.Errorf("expected login with ack id, got %q", frame)
		return
	}
	f.gotLogin.Store(frame[3:])
	if !send("430" + f.loginAck) {
		return
	}
	if !send("2") {
		return
	}
	for _, frame := range f.afterLogin {
		if !send(frame) {
			return
		}
	}
	for {
		frame, ok := recv()
		if !ok {
			return
		}
		if frame == "3" {
			f.pongs.Add(1)
		}
	}
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	client, err := NewClient(Config{
		URL:              url,
		Username:         "admin",
		Password:         "hunter2",
		ReconnectInitial: 10 * time.Millisecond,
		ReconnectMax:     50 * time.Millisecond,
		LoginTimeout:     2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestClientRunDeliversTypedEvents(t *testing.T) {
	var observed atomic.Int32
	feed := &fakeFeed{
		t:        t,
		loginAck: `[{"ok":true,"token":"jwt"}]`,
		afterLogin: []string{
			`42["info",{"version":"1.23.0"}]`,
			`42["monitorList",{"7":{"id":7,"name":"DB","type":"port","active":true,"tags":[{"name":"Kener","value":"prod-db"}]}}]`,
			`42["heartbeatList",7,[{"monitorID":7,"status":0,"ping":null},{"monitorID":7,"status":1,"ping":120}],false]`,
			`42["heartbeat",{"monitorID":7,"status":1,"ping":150,"msg":"OK"}]`,
			`42["uptime",7,24,1]`,
		},
	}
	server := httptest.NewServer(feed)
	defer server.Close()

	client := newTestClient(t, server.URL)
	WithMessageObserver(func(string) { observed.Add(1) })(client)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Event, 16)
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx, out) }()

	var got []Event
	timeout := time.After(5 * time.Second)
	for len(got) < 6 {
		select {
		case ev := <-out:
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timed out after %d events", len(got))
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}

	if c, ok := got[0].(Connected); !ok || c.SessionID != "sock-1" {
		t.Fatalf("expected Connected first, got %#v", got[0])
	}
	if _, ok := got[1].(Authenticated); !ok {
		t.Fatalf("expected Authenticated, got %#v", got[1])
	}
	list, ok := got[2].(MonitorList)
	if !ok || len(list.Monitors) != 1 || list.Monitors[0].ID != "7" {
		t.Fatalf("unexpected monitor list %#v", got[2])
	}
	hbList, ok := got[3].(HeartbeatList)
	if !ok || hbList.MonitorID != "7" || len(hbList.Heartbeats) != 2 {
		t.Fatalf("unexpected heartbeat list %#v", got[3])
	}
	hb, ok := got[4].(HeartbeatEvent)
	if !ok || hb.Heartbeat.Latency != 150 || hb.ReceivedAt().IsZero() {
		t.Fatalf("unexpected heartbeat %#v", got[4])
	}
	if up, ok := got[5].(Uptime); !ok || up.MonitorID != "7" {
		t.Fatalf("unexpected uptime %#v", got[5])
	}

	login, _ := feed.gotLogin.Load().(string)
	if gjson.Get(login, "1.username").String() != "admin" || gjson.Get(login, "1.password").String() != "hunter2" {
		t.Fatalf("unexpected login payload %s", login)
	}
	if !gjson.Get(login, "1.token").Exists() || gjson.Get(login, "1.token").Type != gjson.Null {
		t.Fatalf("expected null token in login payload %s", login)
	}
	if observed.Load() != 5 {
		t.Fatalf("expected 5 observed messages, got %d", observed.Load())
	}
}

func TestClientRunStopsOnRejectedLogin(t *testing.T) {
	cases := []struct {
		ack  string
		want error
	}{
		{`[{"ok":false,"msg":"Incorrect username or password."}]`, ErrAuthentication},
		{`[{"tokenRequired":true}]`, ErrTwoFactorRequired},
	}
	for _, tc := range cases {
		feed := &fakeFeed{t: t, loginAck: tc.ack}
		server := httptest.NewServer(feed)

		client := newTestClient(t, server.URL)
		out := make(chan Event, 8)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Run(ctx, out)
		cancel()
		server.Close()

		if !errors.Is(err, tc.want) {
			t.Fatalf("expected %v, got %v", tc.want, err)
		}
		if feed.connections.Load() != 1 {
			t.Fatalf("expected no reconnect after auth failure, got %d connections", feed.connections.Load())
		}
		var failed bool
		for len(out) > 0 {
			if af, ok := (<-out).(AuthFailed); ok && errors.Is(af.Err, tc.want) {
				failed = true
			}
		}
		if !failed {
			t.Fatalf("expected AuthFailed event for %v", tc.want)
		}
	}
}

func TestClientReconnectsAfterTransportFailure(t *testing.T) {
	feed := &fakeFeed{t: t, loginAck: `[{"ok":true}]`, dropFirst: true}
	server := httptest.NewServer(feed)
	defer server.Close()

	client := newTestClient(t, server.URL)
	out := make(chan Event, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx, out)

	var sawDisconnect bool
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-out:
			switch ev.(type) {
			case Disconnected:
				sawDisconnect = true
			case Authenticated:
				if !sawDisconnect {
					t.Fatalf("expected a Disconnected event before the second session")
				}
				if feed.connections.Load() < 2 {
					t.Fatalf("expected a second connection")
				}
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for reconnect")
		}
	}
}

func TestClientRepliesToPing(t *testing.T) {
	feed := &fakeFeed{t: t, loginAck: `[{"ok":true}]`}
	server := httptest.NewServer(feed)
	defer server.Close()

	client := newTestClient(t, server.URL)
	out := make(chan Event, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx, out)

	deadline := time.Now().Add(5 * time.Second)
	for feed.pongs.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("no pong received")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestClientProbe(t *testing.T) {
	feed := &fakeFeed{
		t:          t,
		loginAck:   `[{"ok":true}]`,
		afterLogin: []string{`42["monitorList",{"1":{"id":1,"type":"http"},"2":{"id":2,"type":"push"}}]`},
	}
	server := httptest.NewServer(feed)
	defer server.Close()

	client := newTestClient(t, server.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	report, err := client.Probe(ctx)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !report.Authenticated || report.Monitors != 2 || report.SessionID != "sock-1" {
		t.Fatalf("unexpected report %+v", report)
	}
	if !strings.HasSuffix(report.Endpoint, "/socket.io/?EIO=4&transport=websocket") {
		t.Fatalf("unexpected endpoint %s", report.Endpoint)
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{URL: "http://kuma:3001"}); err == nil {
		t.Fatalf("expected error without username")
	}
	if _, err := NewClient(Config{Username: "admin"}); err == nil {
		t.Fatalf("expected error without URL")
	}
}
