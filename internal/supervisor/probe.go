package supervisor

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// ProbeResult describes the API server as seen from outside
type ProbeResult struct {
	Listening bool  // Something accepts TCP connections on the port
	Healthy   bool  // The health endpoint answered 200
	Err       error // Why the health check failed
}

// Prober checks whether the API server is up
type Prober interface {
	Probe(ctx context.Context) ProbeResult
}

// HTTPProber connects to the API port and then requests its health endpoint
type HTTPProber struct {
	Host       string
	Port       int
	HealthPath string
	Timeout    time.Duration
	client     *http.Client
}

// NewHTTPProber creates a prober. Wildcard hosts are probed on loopback.
func NewHTTPProber(host string, port int, healthPath string, timeout time.Duration) *HTTPProber {
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return &HTTPProber{
		Host:       host,
		Port:       port,
		HealthPath: healthPath,
		Timeout:    timeout,
		client:     &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProber) address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// Probe dials the API port and, when it accepts, requests the health path.
// Listening is true once the dial succeeds; Healthy needs a 200 response.
func (p *HTTPProber) Probe(ctx context.Context) ProbeResult {
	dialer := &net.Dialer{Timeout: p.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.address())
	if err != nil {
		return ProbeResult{Err: err}
	}
	conn.Close()

	result := ProbeResult{Listening: true}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+p.address()+p.HealthPath, nil)
	if err != nil {
		result.Err = err
		return result
	}

	resp, err := p.client.Do(req)
	if err != nil {
		result.Err = err
		return result
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		result.Err = fmt.Errorf("health endpoint returned %d", resp.StatusCode)
		return result
	}

	result.Healthy = true
	return result
}
