package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/des-barres-dev/kenerkuma/internal/logging"
	"github.com/des-barres-dev/kenerkuma/pkg/types"
)

const (
	defaultStatusPath = "/api/status"
	userAgent         = "kenerkuma/1.0"
	maxErrorBody      = 512
)

// Config holds the static configuration for a sink client.
type Config struct {
	BaseURL string
	Token   string
}

// Dependencies allow test overrides for HTTP client, request ids, and logging.
type Dependencies struct {
	HTTPClient   *http.Client
	Logger       logrus.FieldLogger
	StatusPath   string
	NewRequestID func() string
}

// Client posts status updates to the sink's ingestion API.
type Client struct {
	httpClient *http.Client
	statusURL  string
	token      string
	newID      func() string
	logger     logrus.FieldLogger
}

// NewClient builds a sink client from configuration and dependencies.
func NewClient(cfg Config, deps Dependencies) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("sink URL is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("sink token is required")
	}
	httpClient := deps.HTTPClient
	if httpClient == nil {
		return nil, fmt.Errorf("HTTP client is required")
	}
	statusPath := deps.StatusPath
	if statusPath == "" {
		statusPath = defaultStatusPath
	}
	newID := deps.NewRequestID
	if newID == nil {
		newID = uuid.NewString
	}

	return &Client{
		httpClient: httpClient,
		statusURL:  joinURL(cfg.BaseURL, statusPath),
		token:      cfg.Token,
		newID:      newID,
		logger:     logging.For(deps.Logger, logging.ComponentSink),
	}, nil
}

// Send implements Sink. Any non-2xx answer is an error.
func (c *Client) Send(ctx context.Context, status types.RelayedStatus) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.statusURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build status request: %w", err)
	}
	requestID := c.newID()
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Code: resp.StatusCode, Status: resp.Status, Body: strings.TrimSpace(string(body)), RequestID: requestID}
	}
	io.Copy(io.Discard, resp.Body)

	c.logger.WithFields(logrus.Fields{"tag": status.Tag, "request_id": requestID}).Debug("status accepted")
	return nil
}

// Ping checks that the sink answers HTTP at all; any response counts.
func (c *Client) Ping(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.statusURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build ping request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", userAgent)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("reach sink: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// StatusError is returned for non-2xx sink responses.
type StatusError struct {
	Code      int
	Status    string
	Body      string
	RequestID string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status upload failed: %s", e.Status)
	}
	return fmt.Sprintf("status upload failed: %s: %s", e.Status, e.Body)
}

func joinURL(base, path string) string {
	if base == "" {
		return path
	}
	base = strings.TrimRight(base, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

var _ Sink = (*Client)(nil)
