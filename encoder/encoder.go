// Package encoder drives the ffmpeg toolchain: probing media files for
// receiver compatibility and converting what receivers cannot play into
// a single-file HLS rendition they can.
package encoder

import (
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
)

var (
	// ErrNotInstalled reports a missing or too-old toolchain. The HLS
	// flags used here need ffmpeg 3.0 or newer.
	ErrNotInstalled = errors.New("encoder: ffmpeg 3.0 or newer not available")

	// ErrMediaParse reports input the toolchain could not read as media.
	ErrMediaParse = errors.New("encoder: cannot parse media")
)

// Encoder wraps resolved ffmpeg and ffprobe binaries.
type Encoder struct {
	ffmpeg  string
	ffprobe string
	log     *slog.Logger
}

// Option customizes an Encoder.
type Option func(*Encoder)

// WithFFmpegPath pins the ffmpeg binary instead of searching $PATH.
func WithFFmpegPath(path string) Option {
	return func(e *Encoder) { e.ffmpeg = path }
}

// WithFFprobePath pins the ffprobe binary instead of searching $PATH.
func WithFFprobePath(path string) Option {
	return func(e *Encoder) { e.ffprobe = path }
}

// WithLogger sets the logger for subprocess traces.
func WithLogger(log *slog.Logger) Option {
	return func(e *Encoder) {
		if log != nil {
			e.log = log
		}
	}
}

// New resolves the toolchain up front so later calls fail fast instead
// of at subprocess start.
func New(opts ...Option) (*Encoder, error) {
	e := &Encoder{ffmpeg: "ffmpeg", ffprobe: "ffprobe"}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = slog.Default()
	}

	var err error
	if e.ffmpeg, err = exec.LookPath(e.ffmpeg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotInstalled, err)
	}
	if e.ffprobe, err = exec.LookPath(e.ffprobe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotInstalled, err)
	}
	return e, nil
}
