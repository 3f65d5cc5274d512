package aircast

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"aircast/internal/httputil"
	"aircast/plist"
)

// eventsPath is the fixed endpoint devices stream state changes on.
const eventsPath = "/events"

// Event is one state notification from the device. Dict carries the
// whole payload; Category and State unwrap the two fields every
// playback event has.
type Event struct {
	Dict *plist.Dict
}

// Category returns the event's category, "video" for playback events.
func (e Event) Category() string {
	s, _ := e.Dict.GetString("category")
	return s
}

// State returns the playback state the event announces: "loading",
// "playing", "paused" or "stopped".
func (e Event) State() string {
	s, _ := e.Dict.GetString("state")
	return s
}

type streamState int

const (
	streamOpen streamState = iota
	streamClosed
	streamErrored
)

// EventStream delivers device events in arrival order to one consumer
// at a time. The reader stays at most one frame ahead of the consumer,
// so a slow consumer backpressures onto the connection instead of
// growing a queue.
//
// A stream is terminal once it ends for any reason. Next reports a
// clean shutdown as io.EOF, a connection that died as ErrStreamClosed,
// and a frame the device corrupted as plist.ErrMalformed.
type EventStream struct {
	cancel context.CancelFunc
	done   <-chan struct{}
	events chan Event
	log    *slog.Logger

	consumerMu sync.Mutex

	mu      sync.Mutex
	state   streamState
	err     error
	closing bool
}

// dialEvents opens the long-lived event connection. ctx bounds only the
// dial; the stream itself lives until Close or a terminal read.
func (c *Client) dialEvents(ctx context.Context) (*EventStream, error) {
	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.base+eventsPath, nil)
	if err != nil {
		cancel()
		return nil, &TransportError{Op: "events", Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Apple-Session-ID", c.session)

	// Abort the in-flight dial if ctx ends before the device answers.
	dialDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-dialDone:
		}
	}()

	resp, err := c.streamc.Do(req)
	close(dialDone)
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, &TransportError{Op: "events", Err: err}
	}
	if ctx.Err() != nil {
		httputil.DrainBody(resp)
		cancel()
		return nil, &TransportError{Op: "events", Err: ctx.Err()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		httputil.DrainBody(resp)
		cancel()
		return nil, &StatusError{Op: "events", Code: resp.StatusCode}
	}

	s := &EventStream{
		cancel: cancel,
		done:   streamCtx.Done(),
		events: make(chan Event, 1),
		log:    c.log,
	}
	go s.pump(resp.Body)

	c.log.Debug("event stream connected", "device", c.dev.Addr())
	return s, nil
}

// pump owns the connection: it reads frames, parses them and hands the
// events over. It exits on the first terminal condition and records it.
func (s *EventStream) pump(body io.ReadCloser) {
	defer close(s.events)
	defer body.Close()

	r := bufio.NewReader(body)
	for {
		frame, err := readFrame(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			s.finish(err)
			return
		}
		ev, err := parseEvent(frame)
		if err != nil {
			s.finish(err)
			return
		}
		select {
		case s.events <- ev:
		case <-s.done:
			s.finish(nil)
			return
		}
	}
}

// maxFrameHeader bounds the length line: the largest allowed frame
// needs seven digits plus CRLF, so anything longer is not a header.
const maxFrameHeader = 32

var errHeaderTooLong = errors.New("frame header too long")

// readFrame reads one length-prefixed frame: a decimal byte count, a
// CRLF, then exactly that many payload bytes.
func readFrame(r *bufio.Reader) ([]byte, error) {
	line, err := readHeaderLine(r)
	if err != nil {
		if errors.Is(err, errHeaderTooLong) {
			return nil, fmt.Errorf("%w: frame header exceeds %d bytes", plist.ErrMalformed, maxFrameHeader)
		}
		if errors.Is(err, io.EOF) {
			if line == "" {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("%w: truncated frame header", ErrStreamClosed)
		}
		return nil, fmt.Errorf("%w: %v", ErrStreamClosed, err)
	}
	header := strings.TrimRight(line, "\r\n")
	n, err := strconv.Atoi(header)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: frame header %q", plist.ErrMalformed, header)
	}
	if n > httputil.MaxResponseBody {
		return nil, fmt.Errorf("%w: frame of %d bytes", plist.ErrMalformed, n)
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, fmt.Errorf("%w: truncated frame payload", ErrStreamClosed)
	}
	return frame, nil
}

// readHeaderLine reads through the next newline, giving up once
// maxFrameHeader bytes arrive without one.
func readHeaderLine(r *bufio.Reader) (string, error) {
	var b strings.Builder
	for b.Len() < maxFrameHeader {
		c, err := r.ReadByte()
		if err != nil {
			return b.String(), err
		}
		b.WriteByte(c)
		if c == '\n' {
			return b.String(), nil
		}
	}
	return b.String(), errHeaderTooLong
}

func parseEvent(frame []byte) (Event, error) {
	if len(frame) == 0 {
		// Keep-alive frame; surfaces as an event with no fields.
		return Event{Dict: plist.NewDict()}, nil
	}
	v, err := plist.Decode(frame)
	if err != nil {
		return Event{}, fmt.Errorf("event frame: %w", err)
	}
	d, ok := v.(*plist.Dict)
	if !ok {
		return Event{}, fmt.Errorf("event frame: %w: not a dict", plist.ErrMalformed)
	}
	return Event{Dict: d}, nil
}

// Next blocks until an event arrives or ctx ends. Canceling ctx shuts
// the stream down: the pending call returns ctx.Err() and every later
// call reports the terminal state, io.EOF for this clean shutdown.
func (s *EventStream) Next(ctx context.Context) (Event, error) {
	s.consumerMu.Lock()
	defer s.consumerMu.Unlock()

	select {
	case ev, ok := <-s.events:
		if !ok {
			return Event{}, s.terminalErr()
		}
		return ev, nil
	case <-ctx.Done():
		s.Close()
		return Event{}, ctx.Err()
	}
}

// TryNext reports a pending event without blocking. The bool is false
// when nothing is pending; the error is non-nil only once the stream is
// terminal.
func (s *EventStream) TryNext() (Event, bool, error) {
	s.consumerMu.Lock()
	defer s.consumerMu.Unlock()

	select {
	case ev, ok := <-s.events:
		if !ok {
			return Event{}, false, s.terminalErr()
		}
		return ev, true, nil
	default:
		return Event{}, false, nil
	}
}

// Close shuts the stream down. It is idempotent and safe to call while
// another goroutine is blocked in Next.
func (s *EventStream) Close() error {
	s.mu.Lock()
	if s.state == streamOpen {
		s.closing = true
	}
	s.mu.Unlock()
	s.cancel()
	return nil
}

// finish records the terminal state exactly once. A shutdown the client
// asked for counts as clean no matter what error the aborted read
// produced.
func (s *EventStream) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != streamOpen {
		return
	}
	if err == nil || s.closing {
		s.state = streamClosed
		s.log.Debug("event stream closed")
		return
	}
	s.state = streamErrored
	s.err = err
	s.log.Warn("event stream failed", "error", err)
}

func (s *EventStream) terminalErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == streamErrored {
		return s.err
	}
	return io.EOF
}
