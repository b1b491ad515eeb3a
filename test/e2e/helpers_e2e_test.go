//go:build e2e

package e2e_test

import (
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

// getenv returns the value of the environment variable k or def if empty.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// baseURL is the HTTP root of the running server under test.
func baseURL() string {
	return strings.TrimRight(getenv("E2E_BASE_URL", "http://localhost:8080"), "/")
}

// wsURL converts an API path into the matching websocket URL.
func wsURL(path string) string {
	u := baseURL()
	u = strings.Replace(u, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + path
}

// waitForAppReady polls /readyz until the app reports its dependencies are up.
func waitForAppReady(t *testing.T, client *http.Client, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := client.Get(baseURL() + "/readyz")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("app not ready after %v at %s", timeout, baseURL())
}
