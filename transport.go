package aircast

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"aircast/internal/httputil"
	"aircast/plist"
)

const userAgent = "MediaControl/1.0"

// do issues one control request. Every request carries the client's
// session ID; there are no retries at this layer.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body []byte, contentType string) (*http.Response, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{Op: op, Err: err}
		}
	}

	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader(body))
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Apple-Session-ID", c.session)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	return resp, nil
}

// command runs a control request whose outcome is the device's yes/no:
// any 2xx is acceptance, anything else rejection. Rejection is not an
// error; the diagnostics land in the log instead.
func (c *Client) command(ctx context.Context, op, method, path string, query url.Values, body []byte, contentType string) (bool, error) {
	resp, err := c.do(ctx, op, method, path, query, body, contentType)
	if err != nil {
		return false, err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		httputil.DrainBody(resp)
		c.log.Debug("device accepted command", "op", op, "status", resp.StatusCode)
		return true, nil
	}

	diag, _ := httputil.ReadBody(resp)
	c.log.Warn("device rejected command",
		"op", op,
		"status", resp.StatusCode,
		"body", httputil.Truncate(diag, 200))
	return false, nil
}

// bodyReader keeps nil bodies nil so the transport still emits an
// explicit Content-Length: 0 on bodyless POST and PUT requests.
func bodyReader(body []byte) io.Reader {
	if len(body) == 0 {
		return nil
	}
	return bytes.NewReader(body)
}

// parseTextParameters decodes the text/parameters format used by scrub
// responses: one "key: value" pair per line, values being decimal floats.
func parseTextParameters(data []byte) (map[string]float64, error) {
	params := make(map[string]float64)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: text parameter %q", plist.ErrMalformed, line)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: text parameter %q", plist.ErrMalformed, line)
		}
		params[strings.TrimSpace(key)] = f
	}
	return params, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
