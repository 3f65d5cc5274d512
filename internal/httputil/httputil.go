package httputil

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// MaxResponseBody caps reads of device responses and event frames; control
// payloads are tiny, so anything near this is garbage.
const MaxResponseBody = 2 << 20 // 2 MiB

func NewClientWithTimeout(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// NewStreamClient returns a client without a deadline for long-lived
// chunked responses; cancellation happens through the request context.
func NewStreamClient() *http.Client {
	return &http.Client{Timeout: 0}
}

// DrainBody ensures the connection can be reused for keep-alive.
func DrainBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, MaxResponseBody))
		resp.Body.Close()
	}
}

// ReadBody reads at most MaxResponseBody bytes of the response body.
func ReadBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return b, nil
}

// ValidatePlaybackURL checks that a URL can be handed to a device as a
// playback target.
func ValidatePlaybackURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme == "" {
		return fmt.Errorf("URL must be absolute")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// Truncate converts a byte slice to string and truncates to maxRunes runes,
// appending "..." if truncated.
func Truncate(b []byte, maxRunes int) string {
	r := []rune(string(b))
	if len(r) > maxRunes {
		return string(r[:maxRunes]) + "..."
	}
	return string(r)
}
