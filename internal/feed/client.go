package feed

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/des-barres-dev/kenerkuma/internal/logging"
)

const (
	defaultLoginTimeout     = 10 * time.Second
	defaultReconnectInitial = time.Second
	defaultReconnectMax     = time.Minute
	loginAckID              = 0
)

var errClosedByPeer = errors.New("feed closed the connection")

// Config describes how to reach and authenticate against the feed.
type Config struct {
	URL              string
	Username         string
	Password         string
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	LoginTimeout     time.Duration
	TLS              *tls.Config
}

// Option customises a Client.
type Option func(*Client)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logging.For(logger, logging.ComponentFeed)
		}
	}
}

// WithMessageObserver is called with the name of every decoded feed event,
// including ones the client does not forward.
func WithMessageObserver(fn func(name string)) Option {
	return func(c *Client) {
		if fn != nil {
			c.observe = fn
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// Client maintains a session with the monitor feed and turns its traffic into
// typed events.
type Client struct {
	cfg        Config
	endpoint   string
	httpClient *http.Client
	logger     logrus.FieldLogger
	observe    func(string)
	now        func() time.Time
}

// NewClient validates cfg and builds a client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	endpoint, err := socketURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.Username == "" {
		return nil, fmt.Errorf("feed username is required")
	}
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = defaultLoginTimeout
	}
	if cfg.ReconnectInitial <= 0 {
		cfg.ReconnectInitial = defaultReconnectInitial
	}
	if cfg.ReconnectMax < cfg.ReconnectInitial {
		cfg.ReconnectMax = defaultReconnectMax
		if cfg.ReconnectMax < cfg.ReconnectInitial {
			cfg.ReconnectMax = cfg.ReconnectInitial
		}
	}

	c := &Client{
		cfg:      cfg,
		endpoint: endpoint,
		logger:   logging.For(nil, logging.ComponentFeed),
		observe:  func(string) {},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Transport: &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: cfg.TLS,
		}}
	}
	return c, nil
}

// Endpoint returns the websocket URL the client dials.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Run keeps a session open until ctx is cancelled or the feed rejects the
// login, delivering events to out in arrival order. Transport failures are
// reported as Disconnected and retried with exponential backoff.
func (c *Client) Run(ctx context.Context, out chan<- Event) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.ReconnectInitial
	b.MaxInterval = c.cfg.ReconnectMax
	b.MaxElapsedTime = 0

	op := func() error {
		err := c.session(ctx, out, b.Reset)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if errors.Is(err, ErrAuthentication) || errors.Is(err, ErrTwoFactorRequired) {
			return backoff.Permanent(err)
		}
		if sendErr := c.emit(ctx, out, Disconnected{Stamp: at(c.now()), Err: err}); sendErr != nil {
			return backoff.Permanent(sendErr)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.WithError(err).Warnf("Connection lost, reconnecting in %s", wait.Round(time.Millisecond))
	}
	return backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
}

// ProbeReport summarises a one-shot session.
type ProbeReport struct {
	Endpoint      string        `json:"endpoint"`
	SessionID     string        `json:"session_id,omitempty"`
	Authenticated bool          `json:"authenticated"`
	Monitors      int           `json:"monitors"`
	Elapsed       time.Duration `json:"elapsed"`
}

// Probe opens a single session, logs in and waits for the first monitor list.
func (c *Client) Probe(ctx context.Context) (ProbeReport, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	started := c.now()
	report := ProbeReport{Endpoint: c.endpoint}
	out := make(chan Event, 16)
	errc := make(chan error, 1)
	go func() { errc <- c.session(ctx, out, func() {}) }()

	for {
		select {
		case ev := <-out:
			switch e := ev.(type) {
			case Connected:
				report.SessionID = e.SessionID
			case Authenticated:
				report.Authenticated = true
			case MonitorList:
				report.Monitors = len(e.Monitors)
				report.Elapsed = c.now().Sub(started)
				return report, nil
			}
		case err := <-errc:
			report.Elapsed = c.now().Sub(started)
			return report, err
		case <-ctx.Done():
			return report, ctx.Err()
		}
	}
}

type session struct {
	client        *Client
	conn          *websocket.Conn
	out           chan<- Event
	open          openPacket
	authenticated bool
	loginBy       time.Time
	log           logrus.FieldLogger
}

func (c *Client) session(ctx context.Context, out chan<- Event, onLogin func()) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.LoginTimeout)
	conn, _, err := websocket.Dial(dialCtx, c.endpoint, &websocket.DialOptions{HTTPClient: c.httpClient})
	cancel()
	if err != nil {
		return fmt.Errorf("dial feed: %w", err)
	}
	defer conn.CloseNow()

	s := &session{
		client:  c,
		conn:    conn,
		out:     out,
		loginBy: c.now().Add(c.cfg.LoginTimeout),
		log:     c.logger,
	}

	frame, err := s.read(ctx, c.cfg.LoginTimeout)
	if err != nil {
		return fmt.Errorf("read handshake: %w", err)
	}
	if s.open, err = parseOpen(frame); err != nil {
		return err
	}
	conn.SetReadLimit(s.open.readLimit())
	s.log = c.logger.WithField("sid", s.open.SID)

	if err := s.write(ctx, connectFrame()); err != nil {
		return fmt.Errorf("connect namespace: %w", err)
	}

	for {
		wait := s.open.interval() + s.open.timeout()
		if !s.authenticated {
			remaining := s.loginBy.Sub(c.now())
			if remaining <= 0 {
				return fmt.Errorf("login not acknowledged within %s", c.cfg.LoginTimeout)
			}
			if remaining < wait {
				wait = remaining
			}
		}
		frame, err := s.read(ctx, wait)
		if err != nil {
			if ctx.Err() != nil {
				conn.Close(websocket.StatusNormalClosure, "shutdown")
				return ctx.Err()
			}
			return fmt.Errorf("read feed: %w", err)
		}
		if frame == "" {
			continue
		}
		switch frame[0] {
		case enginePing:
			if err := s.write(ctx, string(enginePong)); err != nil {
				return fmt.Errorf("reply to ping: %w", err)
			}
		case engineClose:
			return errClosedByPeer
		case engineMessage:
			if err := s.handleSocket(ctx, frame[1:], onLogin); err != nil {
				return err
			}
		case enginePong, engineNoop:
		default:
			s.log.Debugf("ignoring engine packet %q", truncate(frame))
		}
	}
}

func (s *session) handleSocket(ctx context.Context, payload string, onLogin func()) error {
	pkt, err := parseSocketPacket(payload)
	if err != nil {
		s.log.WithError(err).Debug("dropping malformed packet")
		return nil
	}
	if pkt.Namespace != "/" {
		return nil
	}
	now := s.client.now()

	switch pkt.Type {
	case socketConnect:
		sid := gjson.Get(pkt.Data, "sid").String()
		if err := s.client.emit(ctx, s.out, Connected{Stamp: at(now), SessionID: sid}); err != nil {
			return err
		}
		return s.login(ctx)
	case socketConnectError:
		msg := gjson.Get(pkt.Data, "message").String()
		if msg == "" {
			msg = pkt.Data
		}
		return fmt.Errorf("namespace connect rejected: %s", msg)
	case socketDisconnect:
		return errClosedByPeer
	case socketAck:
		if pkt.AckID != loginAckID || s.authenticated {
			return nil
		}
		if err := decodeLoginAck(pkt.Data); err != nil {
			if emitErr := s.client.emit(ctx, s.out, AuthFailed{Stamp: at(now), Err: err}); emitErr != nil {
				return emitErr
			}
			s.conn.Close(websocket.StatusNormalClosure, "login rejected")
			return err
		}
		s.authenticated = true
		onLogin()
		return s.client.emit(ctx, s.out, Authenticated{Stamp: at(now)})
	case socketEvent:
		return s.handleEvent(ctx, pkt.Data, now)
	}
	return nil
}

func (s *session) handleEvent(ctx context.Context, data string, now time.Time) error {
	name, args, err := decodeEvent(data)
	if err != nil {
		s.log.WithError(err).Debug("dropping malformed event")
		return nil
	}
	s.client.observe(name)

	var ev Event
	switch name {
	case "monitorList":
		if len(args) == 0 {
			return nil
		}
		ev = MonitorList{Stamp: at(now), Monitors: decodeMonitorList(args[0])}
	case "heartbeatList":
		list, ok := decodeHeartbeatList(args, now)
		if !ok {
			s.log.Debug("dropping malformed heartbeat list")
			return nil
		}
		ev = list
	case "heartbeat":
		if len(args) == 0 {
			return nil
		}
		hb, ok := decodeHeartbeat(args[0], "", now)
		if !ok {
			s.log.Debug("dropping malformed heartbeat")
			return nil
		}
		ev = HeartbeatEvent{Stamp: at(now), Heartbeat: hb}
	case "uptime":
		up, ok := decodeUptime(args, now)
		if !ok {
			return nil
		}
		ev = up
	default:
		return nil
	}
	return s.client.emit(ctx, s.out, ev)
}

func (s *session) login(ctx context.Context) error {
	frame, err := encodeEvent(loginAckID, "login", map[string]any{
		"username": s.client.cfg.Username,
		"password": s.client.cfg.Password,
		"token":    nil,
	})
	if err != nil {
		return err
	}
	if err := s.write(ctx, frame); err != nil {
		return fmt.Errorf("send login: %w", err)
	}
	return nil
}

func (s *session) read(ctx context.Context, wait time.Duration) (string, error) {
	readCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	for {
		typ, data, err := s.conn.Read(readCtx)
		if err != nil {
			return "", err
		}
		if typ != websocket.MessageText {
			continue
		}
		return string(data), nil
	}
}

func (s *session) write(ctx context.Context, frame string) error {
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.conn.Write(writeCtx, websocket.MessageText, []byte(frame))
}

func (c *Client) emit(ctx context.Context, out chan<- Event, ev Event) error {
	select {
	case out <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func socketURL(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("feed URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse feed URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "http"
	case "https", "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("feed URL must use http(s) or ws(s), got %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("feed URL missing host")
	}
	u.Path = strings.TrimRight(u.Path, "/") + socketPath
	q := url.Values{}
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return u.String(), nil
}
