package service

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HTTPProbe polls an HTTP endpoint until it answers with a 2xx status.
type HTTPProbe struct {
	Client   *http.Client
	Interval time.Duration
}

// Wait blocks until the endpoint responds successfully or the timeout
// elapses. A timeout is fatal: the caller aborts the node's start.
func (p *HTTPProbe) Wait(ctx context.Context, url string, headers map[string]string, timeout time.Duration) error {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	interval := p.Interval
	if interval == 0 {
		interval = 500 * time.Millisecond
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if ok, err := p.check(ctx, client, url, headers); ok {
			return nil
		} else if err != nil && ctx.Err() != nil {
			return fmt.Errorf("probing %s: %w", url, ErrStartupTimeout)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("probing %s: %w", url, ErrStartupTimeout)
		case <-ticker.C:
		}
	}
}

func (p *HTTPProbe) check(ctx context.Context, client *http.Client, url string, headers map[string]string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}
