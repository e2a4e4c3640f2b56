// Command healthcheck probes the bot's HTTP listener for container healthchecks.
// It targets HTTP_ADDR (default :8080) and exits non-zero unless the probe
// answers 200. HEALTHCHECK_PATH selects the probe, /healthz by default.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"
)

func probeURL(addr, path string) string {
	if addr == "" {
		addr = ":8080"
	}
	if addr[0] == ':' {
		addr = "localhost" + addr
	}
	if path == "" {
		path = "/healthz"
	}
	return "http://" + addr + path
}

func main() {
	client := &http.Client{Timeout: 3 * time.Second}
	ctx := context.Background()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL(os.Getenv("HTTP_ADDR"), os.Getenv("HEALTHCHECK_PATH")), nil)
	if err != nil {
		os.Exit(1)
	}
	resp, err := client.Do(req)
	if err != nil {
		os.Exit(1)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("failed to close response body: %v", err)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}
