package resilience

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// HTTPPool is a pooled HTTP client with circuit breaker protection. The
// pooling itself rides on net/http's transport-level connection reuse; the
// pool adds the breaker and per-request logging on top.
type HTTPPool struct {
	client  *http.Client
	breaker *CircuitBreaker
}

// NewHTTPPool creates a pooled client for one collaborator host
func NewHTTPPool(maxIdle, maxPerHost int, idleTimeout time.Duration, cb *CircuitBreaker) *HTTPPool {
	transport := &http.Transport{
		MaxIdleConns:          maxIdle,
		MaxConnsPerHost:       maxPerHost,
		MaxIdleConnsPerHost:   maxIdle / 2,
		IdleConnTimeout:       idleTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &HTTPPool{
		client: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		},
		breaker: cb,
	}
}

// DoRequest executes one request under the circuit breaker
func (p *HTTPPool) DoRequest(ctx context.Context, method, url string, headers map[string]string) (*http.Response, error) {
	var resp *http.Response

	err := p.breaker.Call(func() error {
		req, err := http.NewRequestWithContext(ctx, method, url, nil)
		if err != nil {
			return err
		}
		for key, value := range headers {
			req.Header.Set(key, value)
		}

		start := time.Now()
		resp, err = p.client.Do(req)
		if err != nil {
			slog.Warn("Request failed",
				"url", url,
				"error", err,
				"duration_ms", time.Since(start).Milliseconds())
			return err
		}

		slog.Debug("Request completed",
			"url", url,
			"status", resp.StatusCode,
			"duration_ms", time.Since(start).Milliseconds())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// BreakerState exposes the breaker state for health reporting
func (p *HTTPPool) BreakerState() CircuitBreakerState {
	return p.breaker.State()
}

// Close releases idle connections
func (p *HTTPPool) Close() error {
	if transport, ok := p.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}
