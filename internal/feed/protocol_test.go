package feed

import (
	"testing"
	"time"
)

func TestParseSocketPacket(t *testing.T) {
	cases := []struct {
		in        string
		typ       byte
		namespace string
		ack       int
		data      string
	}{
		{`2["heartbeat",{"status":1}]`, socketEvent, "/", -1, `["heartbeat",{"status":1}]`},
		{`30[{"ok":true}]`, socketAck, "/", 0, `[{"ok":true}]`},
		{`312[{"ok":true}]`, socketAck, "/", 12, `[{"ok":true}]`},
		{`0{"sid":"abc"}`, socketConnect, "/", -1, `{"sid":"abc"}`},
		{`2/admin,5["x"]`, socketEvent, "/admin", 5, `["x"]`},
		{`1/admin`, socketDisconnect, "/admin", -1, ``},
	}
	for _, tc := range cases {
		pkt, err := parseSocketPacket(tc.in)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.in, err)
		}
		if pkt.Type != tc.typ || pkt.Namespace != tc.namespace || pkt.AckID != tc.ack || pkt.Data != tc.data {
			t.Fatalf("parse %q: unexpected packet %+v", tc.in, pkt)
		}
	}

	if _, err := parseSocketPacket(""); err == nil {
		t.Fatalf("expected error for empty packet")
	}
	if _, err := parseSocketPacket(`51-["x",{"_placeholder":true,"num":0}]`); err == nil {
		t.Fatalf("expected error for binary packet")
	}
}

func TestEncodeEvent(t *testing.T) {
	frame, err := encodeEvent(0, "login", map[string]any{"username": "u", "password": "p", "token": nil})
	if err != nil {
		t.Fatalf("encodeEvent: %v", err)
	}
	want := `420["login",{"password":"p","token":null,"username":"u"}]`
	if frame != want {
		t.Fatalf("unexpected frame %s", frame)
	}

	frame, err = encodeEvent(-1, "ping")
	if err != nil {
		t.Fatalf("encodeEvent: %v", err)
	}
	if frame != `42["ping"]` {
		t.Fatalf("unexpected frame %s", frame)
	}
}

func TestParseOpen(t *testing.T) {
	open, err := parseOpen(`0{"sid":"s1","upgrades":[],"pingInterval":1000,"pingTimeout":500,"maxPayload":1000000}`)
	if err != nil {
		t.Fatalf("parseOpen: %v", err)
	}
	if open.SID != "s1" || open.interval() != time.Second || open.timeout() != 500*time.Millisecond {
		t.Fatalf("unexpected open packet %+v", open)
	}
	if open.readLimit() != defaultMaxPayload {
		t.Fatalf("expected read limit floor, got %d", open.readLimit())
	}

	if _, err := parseOpen(`40`); err == nil {
		t.Fatalf("expected error for non-open packet")
	}
	empty := openPacket{}
	if empty.interval() != defaultPingInterval || empty.timeout() != defaultPingTimeout {
		t.Fatalf("expected defaults for empty open packet")
	}
}

func TestSocketURL(t *testing.T) {
	cases := map[string]string{
		"http://kuma:3001":          "http://kuma:3001/socket.io/?EIO=4&transport=websocket",
		"https://status.example/":   "https://status.example/socket.io/?EIO=4&transport=websocket",
		"wss://status.example/kuma": "https://status.example/kuma/socket.io/?EIO=4&transport=websocket",
	}
	for in, want := range cases {
		got, err := socketURL(in)
		if err != nil {
			t.Fatalf("socketURL(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("socketURL(%q) = %s, want %s", in, got, want)
		}
	}
	for _, bad := range []string{"", "ftp://kuma", "http://"} {
		if _, err := socketURL(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
