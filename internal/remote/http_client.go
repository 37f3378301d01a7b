package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xelth-com/yatrasync/internal/identity"
	"github.com/xelth-com/yatrasync/internal/models"
)

// DefaultTimeout bounds every remote call
const DefaultTimeout = 10 * time.Second

// ErrNoRoute is returned when no server URL is currently reachable
var ErrNoRoute = fmt.Errorf("%w: no server route available", models.ErrTransient)

// NewIPv4Client creates an IPv4-only HTTP client. Field networks often
// advertise IPv6 routes that do not actually work.
func NewIPv4Client(timeout time.Duration) *http.Client {
	ipv4Dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return ipv4Dialer.DialContext(ctx, "tcp4", addr)
			},
			MaxIdleConns:    10,
			IdleConnTimeout: 90 * time.Second,
		},
	}
}

// HTTPClient talks to the API server over JSON/HTTP
type HTTPClient struct {
	baseURL func() string
	token   string
	device  identity.DeviceIdentity
	client  *http.Client
	timeout time.Duration
}

// NewHTTPClient creates a client. baseURL is consulted on every call so the
// network monitor can switch between primary and fallback routes.
func NewHTTPClient(baseURL func() string, token string, device identity.DeviceIdentity, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		device:  device,
		client:  NewIPv4Client(timeout),
		timeout: timeout,
	}
}

// StaticURL adapts a fixed URL to the baseURL callback
func StaticURL(u string) func() string {
	return func() string { return u }
}

type errorBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type scansBody struct {
	Scans []models.ScanEvent `json:"scans"`
}

type participantsBody struct {
	Participants []models.Participant `json:"participants"`
}

func (c *HTTPClient) CreateScan(ctx context.Context, ev models.ScanEvent) (models.CreateResult, error) {
	// syncState is device-local and never sent
	ev.SyncState = ""
	ev.ReceivedAt = time.Time{}

	var res models.CreateResult
	err := c.do(ctx, http.MethodPost, "/api/scans", nil, ev, &res)
	return res, err
}

func (c *HTTPClient) ListScansSince(ctx context.Context, since time.Time) ([]models.ScanEvent, error) {
	var body scansBody
	if err := c.do(ctx, http.MethodGet, "/api/scans", sinceQuery(since), nil, &body); err != nil {
		return nil, err
	}
	for i := range body.Scans {
		body.Scans[i].SyncState = models.SyncStateConfirmed
	}
	return body.Scans, nil
}

func (c *HTTPClient) ListParticipantsSince(ctx context.Context, since time.Time) ([]models.Participant, error) {
	var body participantsBody
	if err := c.do(ctx, http.MethodGet, "/api/participants", sinceQuery(since), nil, &body); err != nil {
		return nil, err
	}
	return body.Participants, nil
}

func (c *HTTPClient) FullSnapshot(ctx context.Context) (models.Snapshot, error) {
	var snap models.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/snapshot", nil, nil, &snap); err != nil {
		return models.Snapshot{}, err
	}
	for i := range snap.Scans {
		snap.Scans[i].SyncState = models.SyncStateConfirmed
	}
	return snap, nil
}

func sinceQuery(since time.Time) url.Values {
	if since.IsZero() {
		return nil
	}
	return url.Values{"since": {since.UTC().Format(time.RFC3339Nano)}}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	base := strings.TrimRight(c.baseURL(), "/")
	if base == "" {
		return ErrNoRoute
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.device.DeviceID != "" {
		req.Header.Set("X-Device-ID", c.device.DeviceID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Timeouts, refused connections, DNS: outcome unknown
		return fmt.Errorf("%w: %s %s: %v", models.ErrTransient, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", models.ErrTransient, path, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%w: decode %s: %v", models.ErrTransient, path, err)
		}
		return nil
	}

	return classify(resp.StatusCode, data)
}

// classify maps a non-2xx response onto the error taxonomy
func classify(status int, data []byte) error {
	var eb errorBody
	_ = json.Unmarshal(data, &eb)
	msg := eb.Error
	if msg == "" {
		msg = strings.TrimSpace(string(data))
	}

	switch {
	case status == http.StatusBadRequest:
		fields := eb.Fields
		if len(fields) == 0 {
			fields = map[string]string{"_": msg}
		}
		return &models.ValidationError{Fields: fields}
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		// Credentials can be fixed by an operator; keep the scan queued
		return fmt.Errorf("%w: HTTP %d (device not authorized): %s", models.ErrTransient, status, msg)
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP %d: %s", models.ErrTransient, status, msg)
	case status >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", models.ErrTransient, status, msg)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", models.ErrRejected, status, msg)
	}
}

// IsTransient reports whether err leaves the outcome of a call unknown
func IsTransient(err error) bool {
	return errors.Is(err, models.ErrTransient)
}
