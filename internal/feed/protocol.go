package feed

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Engine.IO v4 packet types.
const (
	engineOpen    = '0'
	engineClose   = '1'
	enginePing    = '2'
	enginePong    = '3'
	engineMessage = '4'
	engineNoop    = '6'
)

// Socket.IO v5 packet types.
const (
	socketConnect      = '0'
	socketDisconnect   = '1'
	socketEvent        = '2'
	socketAck          = '3'
	socketConnectError = '4'
	socketBinaryEvent  = '5'
	socketBinaryAck    = '6'
)

const (
	socketPath          = "/socket.io/"
	defaultPingInterval = 25 * time.Second
	defaultPingTimeout  = 20 * time.Second
	defaultMaxPayload   = 16 << 20
)

type openPacket struct {
	SID          string `json:"sid"`
	PingInterval int64  `json:"pingInterval"`
	PingTimeout  int64  `json:"pingTimeout"`
	MaxPayload   int64  `json:"maxPayload"`
}

func (o openPacket) interval() time.Duration {
	if o.PingInterval <= 0 {
		return defaultPingInterval
	}
	return time.Duration(o.PingInterval) * time.Millisecond
}

func (o openPacket) timeout() time.Duration {
	if o.PingTimeout <= 0 {
		return defaultPingTimeout
	}
	return time.Duration(o.PingTimeout) * time.Millisecond
}

func (o openPacket) readLimit() int64 {
	if o.MaxPayload < defaultMaxPayload {
		return defaultMaxPayload
	}
	return o.MaxPayload
}

func parseOpen(frame string) (openPacket, error) {
	if frame == "" || frame[0] != engineOpen {
		return openPacket{}, fmt.Errorf("expected open packet, got %q", truncate(frame))
	}
	var open openPacket
	if err := json.Unmarshal([]byte(frame[1:]), &open); err != nil {
		return openPacket{}, fmt.Errorf("decode open packet: %w", err)
	}
	return open, nil
}

type socketPacket struct {
	Type      byte
	Namespace string
	AckID     int
	Data      string
}

func parseSocketPacket(payload string) (socketPacket, error) {
	if payload == "" {
		return socketPacket{}, fmt.Errorf("empty socket packet")
	}
	pkt := socketPacket{Type: payload[0], Namespace: "/", AckID: -1}
	rest := payload[1:]
	switch pkt.Type {
	case socketBinaryEvent, socketBinaryAck:
		return socketPacket{}, fmt.Errorf("binary socket packets are not supported")
	}

	if strings.HasPrefix(rest, "/") {
		if idx := strings.IndexByte(rest, ','); idx >= 0 {
			pkt.Namespace = rest[:idx]
			rest = rest[idx+1:]
		} else {
			pkt.Namespace = rest
			rest = ""
		}
	}

	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	if i > 0 {
		id, err := strconv.Atoi(rest[:i])
		if err != nil {
			return socketPacket{}, fmt.Errorf("parse ack id: %w", err)
		}
		pkt.AckID = id
	}
	pkt.Data = rest[i:]
	return pkt, nil
}

// encodeEvent frames an event for the default namespace. A negative ackID
// sends the event without requesting an acknowledgement.
func encodeEvent(ackID int, name string, args ...any) (string, error) {
	body, err := json.Marshal(append([]any{name}, args...))
	if err != nil {
		return "", fmt.Errorf("encode %s event: %w", name, err)
	}
	var b strings.Builder
	b.WriteByte(engineMessage)
	b.WriteByte(socketEvent)
	if ackID >= 0 {
		b.WriteString(strconv.Itoa(ackID))
	}
	b.Write(body)
	return b.String(), nil
}

func connectFrame() string {
	return string([]byte{engineMessage, socketConnect})
}

func truncate(s string) string {
	const max = 64
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
