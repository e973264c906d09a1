// Package feed is the client for the external position provider: session
// authentication, idempotent device registration, position polling, and the
// live push channel with bounded reconnects.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/crewmap/internal/domain/model"
	"github.com/okian/crewmap/pkg/logger"
	"github.com/okian/crewmap/pkg/metrics"
)

// Default client configuration constants.
const (
	defaultTimeout        = 10 * time.Second
	defaultBackoffInitial = 1 * time.Second
	defaultBackoffMax     = 30 * time.Second
	defaultMaxReconnects  = 5
	maxErrorBody          = 4 << 10
)

// Client talks to one provider. Construct one per crew session and Stop it
// on logout; it owns the push channel and its reconnect loop.
type Client struct {
	base     *url.URL
	email    string
	password string

	http    *http.Client
	dialer  *websocket.Dialer
	timeout time.Duration

	backoffInitial time.Duration
	backoffMax     time.Duration
	maxReconnects  int
	onDisconnect   func(error)
	onConnect      func()

	clock  model.Clock
	logger logger.Logger

	mu        sync.Mutex
	streaming bool
	stopped   bool
	cancel    context.CancelFunc
	done      chan struct{}
	connected atomic.Bool
}

// New builds a Client for the provider at baseURL.
func New(baseURL, email, password string, opts ...Option) (*Client, error) {
	base, err := parseBase(baseURL)
	if err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}

	c := &Client{
		base:           base,
		email:          email,
		password:       password,
		http:           &http.Client{},
		timeout:        defaultTimeout,
		backoffInitial: defaultBackoffInitial,
		backoffMax:     defaultBackoffMax,
		maxReconnects:  defaultMaxReconnects,
		clock:          model.SystemClock{},
		logger:         logger.Get().Named("feed"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http.Jar = jar
	c.dialer = &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.timeout,
		Jar:              jar,
	}
	return c, nil
}

func parseBase(raw string) (*url.URL, error) {
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse feed url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("feed url must be http or https, got %q", raw)
	}
	return base, nil
}

// Authenticate opens a provider session. The session cookie is kept for
// later REST calls and the push channel handshake.
func (c *Client) Authenticate(ctx context.Context) (Credentials, error) {
	form := url.Values{"email": {c.email}, "password": {c.password}}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/session", strings.NewReader(form.Encode()))
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var user userRecord
	if err := c.do(req, "session", &user); err != nil {
		metrics.RecordErrorByComponent("feed", "auth")
		return Credentials{}, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	return Credentials{UserID: string(user.ID), Name: user.Name, Email: user.Email}, nil
}

// RegisterDevice returns the provider device with uniqueID, creating it if
// it does not exist. A create that loses a race to another client falls
// back to the device the other client created.
func (c *Client) RegisterDevice(ctx context.Context, name, uniqueID string) (model.Device, error) {
	if _, err := c.Authenticate(ctx); err != nil {
		return model.Device{}, err
	}

	devices, err := c.listDevices(ctx)
	if err != nil {
		c.logger.Warn(ctx, "device list failed, attempting create", logger.Error(err))
	}
	if d, ok := findDevice(devices, uniqueID); ok {
		metrics.RecordDeviceRegistration("existing")
		return d, nil
	}

	created, createErr := c.createDevice(ctx, name, uniqueID)
	if createErr == nil {
		metrics.RecordDeviceRegistration("created")
		c.logger.Info(ctx, "device created", logger.String("device", created.ID), logger.String("unique_id", uniqueID))
		return created, nil
	}

	var dup *duplicateError
	if errors.As(createErr, &dup) {
		devices, err := c.listDevices(ctx)
		if err == nil {
			if d, ok := findDevice(devices, uniqueID); ok {
				metrics.RecordDeviceRegistration("recovered")
				return d, nil
			}
		}
	}

	metrics.RecordDeviceRegistration("failed")
	metrics.RecordErrorByComponent("feed", "device_registration")
	return model.Device{}, fmt.Errorf("%w: %s: %v", ErrDeviceRegistration, uniqueID, createErr)
}

// FetchPositions polls the latest positions, optionally limited to
// deviceIDs. Failures are logged and yield an empty list so a transient
// error never hides state the caller already has.
func (c *Client) FetchPositions(ctx context.Context, deviceIDs ...string) []model.Position {
	path := "/api/positions"
	if len(deviceIDs) > 0 {
		q := url.Values{}
		for _, id := range deviceIDs {
			q.Add("deviceId", id)
		}
		path += "?" + q.Encode()
	}

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return c.fetchFailed(ctx, err)
	}
	req.Header.Set("Accept", "application/json")

	var records []positionRecord
	if err := c.do(req, "positions", &records); err != nil {
		return c.fetchFailed(ctx, err)
	}

	positions := normalizePositions(records, c.clock.Now())
	metrics.RecordFeedBatch(len(positions))
	return positions
}

func (c *Client) fetchFailed(ctx context.Context, err error) []model.Position {
	metrics.RecordFeedFetchError()
	c.logger.Warn(ctx, "position poll failed", logger.Error(fmt.Errorf("%w: %v", ErrFeedFetch, err)))
	return []model.Position{}
}

// Connected reports whether the push channel is currently open.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

func (c *Client) listDevices(ctx context.Context) ([]model.Device, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/devices", nil)
	if err != nil {
		return nil, err
	}
	var records []deviceRecord
	if err := c.do(req, "devices", &records); err != nil {
		return nil, err
	}
	out := make([]model.Device, 0, len(records))
	for _, r := range records {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (c *Client) createDevice(ctx context.Context, name, uniqueID string) (model.Device, error) {
	body, err := json.Marshal(map[string]string{"name": name, "uniqueId": uniqueID})
	if err != nil {
		return model.Device{}, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/devices", bytes.NewReader(body))
	if err != nil {
		return model.Device{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.email, c.password)

	var rec deviceRecord
	if err := c.do(req, "create_device", &rec); err != nil {
		var se *statusError
		if errors.As(err, &se) && isDuplicateDeviceError(se.body) {
			return model.Device{}, &duplicateError{uniqueID: uniqueID, cause: err}
		}
		return model.Device{}, err
	}
	return rec.toModel(), nil
}

func findDevice(devices []model.Device, uniqueID string) (model.Device, bool) {
	for _, d := range devices {
		if d.UniqueID == uniqueID {
			return d, true
		}
	}
	return model.Device{}, false
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u := c.base.String() + path
	return http.NewRequestWithContext(ctx, method, u, body)
}

// do sends req with the client timeout and decodes a 2xx JSON body into out.
func (c *Client) do(req *http.Request, operation string, out any) error {
	ctx, cancel := context.WithTimeout(req.Context(), c.timeout)
	defer cancel()
	req = req.WithContext(ctx)

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.RecordFeedRequestLatency(operation, float64(time.Since(start).Milliseconds()))
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &statusError{method: req.Method, path: req.URL.Path, code: resp.StatusCode, body: string(b)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}

// Stop closes the push channel, cancels any pending reconnect, and waits
// for the stream loop to exit. No callback is delivered after Stop returns.
// It is safe to call more than once.
func (c *Client) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	c.http.CloseIdleConnections()
}
