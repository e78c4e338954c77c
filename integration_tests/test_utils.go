//go:build integration
// +build integration

package integration_tests

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"
)

// HealthResponse mirrors the status server's /healthz body.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Clients int    `json:"clients"`
	Builds  int64  `json:"builds"`
	Failed  int64  `json:"failed"`
}

// FindAvailablePort finds an available port on the system
func FindAvailablePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()

	addr := listener.Addr().(*net.TCPAddr)
	return addr.Port, nil
}

// WaitForServerReadiness polls /healthz until it answers with status "ok".
func WaitForServerReadiness(ctx context.Context, baseURL string, timeout time.Duration) (*HealthResponse, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	var lastErr error
	for {
		select {
		case <-timeoutCtx.Done():
			return nil, fmt.Errorf("server readiness timeout after %v, last error: %w", timeout, lastErr)
		case <-ticker.C:
			health, err := FetchHealth(baseURL)
			if err != nil {
				lastErr = err
				continue
			}
			if health.Status == "ok" {
				return health, nil
			}
			lastErr = fmt.Errorf("unexpected status %q", health.Status)
		}
	}
}

// FetchHealth reads the status server's health report.
func FetchHealth(baseURL string) (*HealthResponse, error) {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(baseURL + "/healthz")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health check returned %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, err
	}
	return &health, nil
}
