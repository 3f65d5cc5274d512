package aircast

import (
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"
)

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the logger for request diagnostics. Defaults to
// slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithHTTPClient replaces the control-channel HTTP client. The event
// stream keeps its own non-timeout client either way.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) {
		if httpc != nil {
			c.httpc = httpc
		}
	}
}

// WithRateLimit caps outgoing control requests at rps requests per
// second with the given burst. Useful when a supervisor polls scrub
// aggressively against a device that throttles.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}
