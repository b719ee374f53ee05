/*
sweeper.go - Internal passed-slot sweep scheduler

PURPOSE:
  Periodically flips elapsed reserved slots to passed when no external
  scheduler is configured. Deployments that point a cron at
  /jobs/update-passed-hours leave this disabled; the sweep itself is
  idempotent either way, so running both is merely redundant.

DESIGN:
  - Background goroutine with a configurable check interval
  - Runs one sweep immediately on start, then on each tick
  - Safe alongside reservations/cancellations: a sweep only ever moves
    slots toward passed=true

USAGE:
  sweeper := api.NewSweeper(manager)
  sweeper.Start()
  // ... later
  sweeper.Stop()
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/drivehub/school-engine/booking"
)

// Sweeper runs the passed-slot sweep on a fixed interval.
type Sweeper struct {
	Booking       *booking.Manager
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSweeper creates a sweeper with the default interval.
func NewSweeper(bk *booking.Manager) *Sweeper {
	return &Sweeper{
		Booking:       bk,
		CheckInterval: 5 * time.Minute,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the sweep loop.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		log.Println("[Sweeper] Disabled, not starting")
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)

	go s.run()

	log.Printf("[Sweeper] Started with check interval: %v", s.CheckInterval)
}

// Stop stops the sweep loop.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		log.Println("[Sweeper] Stopped")
	}
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.sweep()

	for {
		select {
		case <-s.ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	updated, err := s.Booking.Sweep(ctx, time.Now().UTC())
	if err != nil {
		log.Printf("[Sweeper] Error sweeping slots: %v", err)
		return
	}
	if updated > 0 {
		log.Printf("[Sweeper] Marked %d slots as passed", updated)
	}
}
