package watchdog

import (
	"context"
	"net/http"
	"time"
)

// HTTPProber issues a GET against a health endpoint with a bounded
// timeout, grounded on the traced-HTTP-client-with-timeouts pattern the
// telemetry package uses for downstream calls.
type HTTPProber struct {
	url    string
	client *http.Client
}

// NewHTTPProber builds an HTTPProber. url may be empty, in which case
// Probe always reports healthy (the watchdog falls back to PID + resource
// checks only).
func NewHTTPProber(url string, timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProber{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Probe performs the health GET and returns the status code and observed
// round-trip latency. err is non-nil on timeout, connection refusal, or
// any transport-level failure.
func (p *HTTPProber) Probe(ctx context.Context) (status int, latency time.Duration, err error) {
	if p.url == "" {
		return http.StatusOK, 0, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return 0, 0, err
	}
	start := time.Now()
	resp, err := p.client.Do(req)
	latency = time.Since(start)
	if err != nil {
		return 0, latency, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, latency, nil
}
