package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/okian/crewmap/internal/domain/model"
	"github.com/okian/crewmap/pkg/logger"
	"github.com/okian/crewmap/pkg/metrics"
)

// StreamPositions opens the push channel and calls onPositions with every
// non-empty position batch. It returns immediately; the channel runs until
// Stop. When the channel closes it is reopened on an exponential schedule;
// after maxReconnects consecutive failures the stream gives up, logs
// ErrFeedDisconnected, and calls the disconnect handler. Callbacks run on
// the stream goroutine, one at a time; they must not call Stop.
func (c *Client) StreamPositions(ctx context.Context, onPositions func([]model.Position)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrStopped
	}
	if c.streaming {
		return ErrAlreadyStreaming
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.streaming = true
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.streamLoop(runCtx, onPositions, c.done)
	return nil
}

func (c *Client) newBackOff() backoff.BackOff {
	// WithMaxRetries treats zero as unlimited.
	if c.maxReconnects == 0 {
		return &backoff.StopBackOff{}
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.backoffInitial
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = c.backoffMax
	exp.MaxElapsedTime = 0
	exp.Clock = c.clock
	b := backoff.WithMaxRetries(exp, uint64(c.maxReconnects)) //nolint:gosec // validated non-negative
	b.Reset()
	return b
}

func (c *Client) streamLoop(ctx context.Context, onPositions func([]model.Position), done chan struct{}) {
	defer close(done)

	b := c.newBackOff()
	for {
		opened, err := c.session(ctx, onPositions)
		if ctx.Err() != nil {
			return
		}
		if opened {
			b.Reset()
		}

		next := b.NextBackOff()
		if next == backoff.Stop {
			c.disconnected(ctx, err)
			return
		}

		metrics.RecordFeedReconnect()
		c.logger.Info(ctx, "push channel closed, reconnecting",
			logger.Duration("delay", next), logger.Error(err))

		if c.needsReauth(err) {
			if _, authErr := c.Authenticate(ctx); authErr != nil {
				c.logger.Warn(ctx, "re-authentication failed", logger.Error(authErr))
			}
		}

		timer := time.NewTimer(next)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (c *Client) disconnected(ctx context.Context, cause error) {
	err := fmt.Errorf("%w after %d reconnect attempts: %v", ErrFeedDisconnected, c.maxReconnects, cause)
	metrics.RecordFeedDisconnected()
	metrics.RecordErrorByComponent("feed", "disconnected")
	c.logger.Error(ctx, "push channel abandoned, live positions frozen", logger.Error(err))
	if c.onDisconnect != nil {
		c.onDisconnect(err)
	}
}

// handshakeError carries the HTTP status of a refused upgrade.
type handshakeError struct {
	status int
	err    error
}

func (e *handshakeError) Error() string {
	return fmt.Sprintf("socket handshake: status %d: %v", e.status, e.err)
}

func (e *handshakeError) Unwrap() error { return e.err }

func (c *Client) needsReauth(err error) bool {
	var he *handshakeError
	return errors.As(err, &he) && (he.status == http.StatusUnauthorized || he.status == http.StatusForbidden)
}

// session runs one connection until it closes. opened reports whether the
// handshake succeeded.
func (c *Client) session(ctx context.Context, onPositions func([]model.Position)) (opened bool, err error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.socketURL(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return false, &handshakeError{status: resp.StatusCode, err: err}
		}
		return false, fmt.Errorf("socket dial: %w", err)
	}

	c.connected.Store(true)
	metrics.UpdateFeedConnected(true)
	c.logger.Info(ctx, "push channel connected")
	if c.onConnect != nil {
		c.onConnect()
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		_ = conn.Close()
		c.connected.Store(false)
		metrics.UpdateFeedConnected(false)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("socket read: %w", err)
		}

		var msg socketMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			metrics.RecordErrorByComponent("feed", "decode")
			c.logger.Warn(ctx, "dropping malformed push message", logger.Error(err))
			continue
		}
		if len(msg.Positions) == 0 {
			continue
		}

		positions := normalizePositions(msg.Positions, c.clock.Now())
		if len(positions) == 0 || ctx.Err() != nil {
			continue
		}
		metrics.RecordFeedBatch(len(positions))
		onPositions(positions)
	}
}

func (c *Client) socketURL() string {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = u.Path + "/api/socket"
	return u.String()
}
