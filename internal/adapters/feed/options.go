package feed

import (
	"net/http"
	"time"

	"github.com/okian/crewmap/internal/domain/model"
	"github.com/okian/crewmap/pkg/logger"
)

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for REST calls. Its cookie jar
// is replaced by the client's own so the push channel shares the session.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			cp := *hc
			c.http = &cp
		}
	}
}

// WithTimeout bounds each REST call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithBackoff sets the first reconnect delay and the cap.
func WithBackoff(initial, maximum time.Duration) Option {
	return func(c *Client) {
		if initial > 0 && maximum >= initial {
			c.backoffInitial = initial
			c.backoffMax = maximum
		}
	}
}

// WithMaxReconnects sets how many consecutive reconnects are attempted.
func WithMaxReconnects(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxReconnects = n
		}
	}
}

// WithDisconnectHandler is called once when the reconnect budget is exhausted.
func WithDisconnectHandler(fn func(error)) Option {
	return func(c *Client) {
		c.onDisconnect = fn
	}
}

// WithConnectHandler is called each time the push channel opens.
func WithConnectHandler(fn func()) Option {
	return func(c *Client) {
		c.onConnect = fn
	}
}

// WithClock sets the clock used to stamp positions that carry no time.
func WithClock(clock model.Clock) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}
