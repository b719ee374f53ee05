/*
main.go - External sweep trigger

PURPOSE:
  Invoked by a cron-style scheduler to run the passed-slot sweep.
  POSTs to the engine's /jobs/update-passed-hours endpoint with the
  static bearer credential, retrying transport failures with
  exponential backoff (1s, 2s, 4s) before giving up.

USAGE:
  SWEEP_TOKEN=... ./sweeptrigger -url=https://engine.example.com

EXIT CODE:
  0 on a 2xx from the engine, 1 once retries are exhausted. A failed
  run is not fatal to the system: the sweep is idempotent and the next
  scheduled run covers the gap.
*/
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/sethvargo/go-retry"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "engine base URL")
	timeout := flag.Duration("timeout", 30*time.Second, "per-attempt request timeout")
	flag.Parse()

	token := os.Getenv("SWEEP_TOKEN")
	if token == "" {
		log.Fatal("SWEEP_TOKEN is required")
	}

	client := &http.Client{Timeout: *timeout}
	endpoint := *baseURL + "/jobs/update-passed-hours"

	var result struct {
		Message string `json:"message"`
		Updated int    `json:"updated"`
	}

	backoff := retry.WithMaxRetries(3, retry.NewExponential(1*time.Second))
	err := retry.Do(context.Background(), backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return retry.RetryableError(fmt.Errorf("sweep returned %d: %s", resp.StatusCode, body))
		}
		return json.NewDecoder(resp.Body).Decode(&result)
	})
	if err != nil {
		log.Printf("Sweep trigger failed at %s: %v", time.Now().UTC().Format(time.RFC3339), err)
		os.Exit(1)
	}

	log.Printf("%s (updated=%d)", result.Message, result.Updated)
}
