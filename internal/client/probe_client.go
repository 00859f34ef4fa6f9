package client

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// ProbeClient performs the watchdog's reachability check against a
// provisioned server's health endpoint. The result is binary: reachable or
// not.
type ProbeClient struct {
	port       int
	path       string
	httpClient *http.Client
}

// NewProbeClient creates a probe client for the given port and path
func NewProbeClient(port int, path string, timeout time.Duration) *ProbeClient {
	return &ProbeClient{
		port: port,
		path: path,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Probe reports whether the server at address answers its health endpoint
// with a 2xx.
func (c *ProbeClient) Probe(ctx context.Context, address string) bool {
	url := fmt.Sprintf("http://%s:%d%s", address, c.port, c.path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
