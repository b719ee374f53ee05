/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the driving-school lesson engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and environment
  2. Initialize SQLite store
  3. Wire booking manager, hours ledger, and reconciliation worker
  4. Configure the HTTP router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port            HTTP server port (default: 8080)
  -db              SQLite database path (default: school.db)
                   Use ":memory:" for an in-memory database
  -sweep-interval  Internal sweep interval; 0 disables the internal
                   sweeper (use when an external scheduler posts to
                   /jobs/update-passed-hours)

ENVIRONMENT:
  JWT_SECRET             Signing secret for actor bearer tokens
  STRIPE_WEBHOOK_SECRET  Provider webhook signing secret
  STRIPE_SECRET_KEY      Provider API key (receipt lookups; optional)
  SWEEP_TOKEN            Static bearer for /jobs/update-passed-hours

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the internal sweeper and close the database
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/drivehub/school-engine/api"
	"github.com/drivehub/school-engine/booking"
	"github.com/drivehub/school-engine/ledger"
	"github.com/drivehub/school-engine/payments"
	"github.com/drivehub/school-engine/school/notify"
	"github.com/drivehub/school-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "school.db", "SQLite database path")
	sweepInterval := flag.Duration("sweep-interval", 0, "internal sweep interval (0 = external scheduler)")
	flag.Parse()

	cfg := api.Config{
		JWTSecret:     getenv("JWT_SECRET", "dev-secret"),
		WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		SweepToken:    getenv("SWEEP_TOKEN", "dev-sweep-token"),
	}

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Wire the core
	notifier := notify.New()
	manager := booking.New(store, notifier)
	hoursLedger := ledger.New(store)

	var receipts payments.ReceiptFetcher
	if key := os.Getenv("STRIPE_SECRET_KEY"); key != "" {
		receipts = payments.NewStripeReceipts(key)
	}
	worker := payments.NewWorker(store, receipts, notifier)

	handler := api.NewHandler(store, manager, hoursLedger, worker, cfg)
	router := api.NewRouter(handler)

	// Internal sweeper, for deployments without an external scheduler
	sweeper := api.NewSweeper(manager)
	if *sweepInterval > 0 {
		sweeper.CheckInterval = *sweepInterval
		sweeper.Start()
		defer sweeper.Stop()
	}

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
