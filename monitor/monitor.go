// Package monitor tracks playback progress on an AirPlay receiver by
// combining its event stream with periodic position polls.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"aircast"
)

// Playback states reported by receivers.
const (
	StateLoading = "loading"
	StatePlaying = "playing"
	StatePaused  = "paused"
	StateStopped = "stopped"
)

// DefaultInterval is how often the position is polled while playing.
const DefaultInterval = 500 * time.Millisecond

// Scrubber reports playback position. *aircast.Client implements it.
type Scrubber interface {
	Scrub(ctx context.Context) (aircast.ScrubInfo, error)
}

// EventSource delivers playback events. *aircast.EventStream implements it.
type EventSource interface {
	Next(ctx context.Context) (aircast.Event, error)
}

// Status is a snapshot of playback progress.
type Status struct {
	State    string
	Position float64
	Duration float64
}

// Monitor drives one playback session. Events update the state; while the
// state is playing, Scrub fills in position and duration between events.
type Monitor struct {
	scrub    Scrubber
	events   EventSource
	interval time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	status Status

	subMu       sync.Mutex
	subscribers map[chan Status]struct{}
}

type Option func(*Monitor)

// WithInterval sets the position poll cadence.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.log = l
		}
	}
}

func New(s Scrubber, ev EventSource, opts ...Option) *Monitor {
	m := &Monitor{
		scrub:       s,
		events:      ev,
		interval:    DefaultInterval,
		status:      Status{State: StateLoading},
		subscribers: make(map[chan Status]struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	return m
}

// errStopped ends the errgroup when the device reports playback stopped.
var errStopped = errors.New("monitor: playback stopped")

// Run watches the session until playback stops, the event stream ends, or
// ctx is canceled. A stopped state is a clean end and returns nil;
// cancellation returns ctx.Err(). Run may be called once.
func (m *Monitor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return m.watchEvents(ctx) })
	g.Go(func() error { return m.pollPosition(ctx) })

	err := g.Wait()
	if errors.Is(err, errStopped) {
		return nil
	}
	return err
}

// Current reports the latest known status.
func (m *Monitor) Current() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Subscribe registers for status updates. Updates are dropped rather than
// block the monitor, so a buffer of at least 1 is sensible. The returned
// func removes the subscription and closes the channel.
func (m *Monitor) Subscribe(buffer int) (<-chan Status, func()) {
	ch := make(chan Status, buffer)
	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subscribers, ch)
			m.subMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (m *Monitor) watchEvents(ctx context.Context) error {
	for {
		ev, err := m.events.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("monitor: event stream ended: %w", err)
			}
			return err
		}
		state := ev.State()
		if state == "" {
			continue
		}
		m.log.Debug("playback state", "state", state)
		m.publish(m.applyEvent(ev, state))
		if state == StateStopped {
			return errStopped
		}
	}
}

func (m *Monitor) pollPosition(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if m.Current().State != StatePlaying {
			continue
		}
		info, err := m.scrub.Scrub(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.log.Warn("position poll failed", "error", err)
			continue
		}
		m.publish(m.applyScrub(info))
	}
}

// applyEvent folds a state event into the status. Some receivers attach
// duration and position to playing events; use them when present.
func (m *Monitor) applyEvent(ev aircast.Event, state string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.State = state
	if d, ok := ev.Dict.GetReal("duration"); ok {
		m.status.Duration = d
	}
	if p, ok := ev.Dict.GetReal("position"); ok {
		m.status.Position = p
	}
	return m.status
}

func (m *Monitor) applyScrub(info aircast.ScrubInfo) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.Duration = info.Duration
	m.status.Position = info.Position
	return m.status
}

func (m *Monitor) publish(st Status) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for ch := range m.subscribers {
		select {
		case ch <- st:
		default:
		}
	}
}
