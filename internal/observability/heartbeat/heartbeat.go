// Package heartbeat pings an external uptime monitor so operators can alert on
// an agent that stopped polling.
package heartbeat

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Pinger issues a GET against a configured URL.
type Pinger struct {
	url    string
	client *http.Client
}

// New returns nil when url is empty; a nil Pinger is a no-op.
func New(url string, timeout time.Duration) *Pinger {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Pinger{url: url, client: &http.Client{Timeout: timeout}}
}

// Ping performs one request. Non-2xx responses are reported as errors.
func (p *Pinger) Ping(ctx context.Context) error {
	if p == nil {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("heartbeat %s returned %d", p.url, resp.StatusCode)
	}
	return nil
}
