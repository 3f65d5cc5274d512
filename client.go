// Package aircast is a client for the HTTP remote-playback protocol
// spoken by AirPlay video receivers. A Client drives one device:
// starting playback of a URL the device fetches itself, pausing and
// resuming through the rate control, seeking, and watching the device's
// own state through its chunked event stream.
//
// Playback commands report the device's acceptance as a bool rather
// than an error, mirroring how receivers answer them. Transport
// failures and protocol violations are errors, and nothing is retried
// at this layer.
package aircast

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"aircast/internal/httputil"
	"aircast/plist"
)

// Client controls a single device. It is safe for concurrent use; all
// requests carry one session ID for the client's lifetime.
type Client struct {
	dev     Device
	base    string
	session string

	httpc   *http.Client
	streamc *http.Client
	limiter *rate.Limiter
	log     *slog.Logger

	mu     sync.Mutex
	closed bool
	stream *EventStream

	dialMu sync.Mutex // serializes event stream dialing
}

// NewClient prepares a client for the given device. No connection is
// made until the first operation.
func NewClient(dev Device, opts ...Option) *Client {
	c := &Client{
		dev:     dev,
		base:    dev.baseURL(),
		session: uuid.NewString(),
		httpc:   httputil.NewClientWithTimeout(dev.timeout()),
		streamc: httputil.NewStreamClient(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c
}

// Device returns the device this client controls.
func (c *Client) Device() Device { return c.dev }

func (c *Client) ready() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

// ServerInfo fetches the device's identity and capability record.
func (c *Client) ServerInfo(ctx context.Context) (*plist.Dict, error) {
	resp, err := c.do(ctx, "server-info", http.MethodGet, "/server-info", nil, nil, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		httputil.DrainBody(resp)
		return nil, &StatusError{Op: "server-info", Code: resp.StatusCode}
	}
	body, err := httputil.ReadBody(resp)
	if err != nil {
		return nil, &TransportError{Op: "server-info", Err: err}
	}
	return decodeDict("server-info", body)
}

// Play asks the device to begin fetching and playing location, which
// must be an absolute URL reachable from the device. The start position
// is relative: 0 plays from the beginning, 1 from the end. Returns
// whether the device accepted.
func (c *Client) Play(ctx context.Context, location string, position float64) (bool, error) {
	if err := httputil.ValidatePlaybackURL(location); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if math.IsNaN(position) || position < 0 || position > 1 {
		return false, fmt.Errorf("%w: start position %v not in [0, 1]", ErrInvalidArgument, position)
	}
	body := fmt.Sprintf("Content-Location: %s\nStart-Position: %s\n\n", location, formatFloat(position))
	return c.command(ctx, "play", http.MethodPost, "/play", nil, []byte(body), "text/parameters")
}

// Rate sets the playback rate: 0 pauses, 1 resumes, and some devices
// accept other non-negative values as shuttle speeds. Returns whether
// the device accepted.
func (c *Client) Rate(ctx context.Context, value float64) (bool, error) {
	if math.IsNaN(value) || value < 0 {
		return false, fmt.Errorf("%w: rate %v must be non-negative", ErrInvalidArgument, value)
	}
	q := url.Values{"value": {formatFloat(value)}}
	return c.command(ctx, "rate", http.MethodPut, "/rate", q, nil, "")
}

// Stop ends the playback session. Devices emit no state event for a
// stop they were asked for, so a true return is the only confirmation.
func (c *Client) Stop(ctx context.Context) (bool, error) {
	return c.command(ctx, "stop", http.MethodPost, "/stop", nil, nil, "")
}

// PlaybackInfo reports the device's current playback status. The bool
// is false when nothing is playing, which devices signal with a 204 or
// an empty body.
func (c *Client) PlaybackInfo(ctx context.Context) (*plist.Dict, bool, error) {
	resp, err := c.do(ctx, "playback-info", http.MethodGet, "/playback-info", nil, nil, "")
	if err != nil {
		return nil, false, err
	}
	if resp.StatusCode == http.StatusNoContent {
		httputil.DrainBody(resp)
		return nil, false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		httputil.DrainBody(resp)
		return nil, false, &StatusError{Op: "playback-info", Code: resp.StatusCode}
	}
	body, err := httputil.ReadBody(resp)
	if err != nil {
		return nil, false, &TransportError{Op: "playback-info", Err: err}
	}
	if len(body) == 0 {
		return nil, false, nil
	}
	info, err := decodeDict("playback-info", body)
	if err != nil {
		return nil, false, err
	}
	return info, true, nil
}

// ScrubInfo is a playback position report, both fields in seconds.
type ScrubInfo struct {
	Duration float64
	Position float64
}

// Scrub reads the media duration and current position.
func (c *Client) Scrub(ctx context.Context) (ScrubInfo, error) {
	resp, err := c.do(ctx, "scrub", http.MethodGet, "/scrub", nil, nil, "")
	if err != nil {
		return ScrubInfo{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		httputil.DrainBody(resp)
		return ScrubInfo{}, &StatusError{Op: "scrub", Code: resp.StatusCode}
	}
	body, err := httputil.ReadBody(resp)
	if err != nil {
		return ScrubInfo{}, &TransportError{Op: "scrub", Err: err}
	}
	params, err := parseTextParameters(body)
	if err != nil {
		return ScrubInfo{}, fmt.Errorf("scrub: %w", err)
	}
	return ScrubInfo{Duration: params["duration"], Position: params["position"]}, nil
}

// ScrubTo seeks to position seconds and reads the scrub state back.
// Devices do not echo the applied position in the seek response, so the
// follow-up read is the only confirmation; the reported position may
// differ from the request when the device clamps it.
func (c *Client) ScrubTo(ctx context.Context, position float64) (ScrubInfo, error) {
	if math.IsNaN(position) || position < 0 {
		return ScrubInfo{}, fmt.Errorf("%w: scrub position %v must be non-negative", ErrInvalidArgument, position)
	}
	q := url.Values{"position": {formatFloat(position)}}
	resp, err := c.do(ctx, "scrub", http.MethodPut, "/scrub", q, nil, "")
	if err != nil {
		return ScrubInfo{}, err
	}
	httputil.DrainBody(resp)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ScrubInfo{}, &StatusError{Op: "scrub", Code: resp.StatusCode}
	}
	return c.Scrub(ctx)
}

// Events returns the device's event stream, dialing it on first use.
// ctx bounds only the dial. The stream is a singleton: once it ends,
// for any reason, Events keeps returning the same terminal stream, and
// fresh events require a new Client.
func (c *Client) Events(ctx context.Context) (*EventStream, error) {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if s := c.stream; s != nil {
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	s, err := c.dialEvents(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		s.Close()
		return nil, ErrClosed
	}
	c.stream = s
	c.mu.Unlock()
	return s, nil
}

// Close releases the client. A dialed event stream is shut down, and
// every later operation returns ErrClosed. Close is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	stream := c.stream
	c.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
	return nil
}

func decodeDict(op string, body []byte) (*plist.Dict, error) {
	v, err := plist.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	d, ok := v.(*plist.Dict)
	if !ok {
		return nil, fmt.Errorf("%s: %w: root is not a dict", op, plist.ErrMalformed)
	}
	return d, nil
}
