/*
scheduler.go - Automated TOIL expiry

PURPOSE:
  Periodically expires TOIL accruals whose expiry date has passed, across
  all tenants, so balances do not depend on someone calling
  POST /api/admin/toil/expire.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Each sweep is idempotent: already expired records are skipped
  - Keeps the result of the last run for the health endpoint

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active

USAGE:
  scheduler := NewExpiryScheduler(toilService)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ExpireToil endpoint (manual sweep)
  - toil/expiry.go: Service.Sweep
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/practicehub/timesheet-engine/generic"
	"github.com/practicehub/timesheet-engine/toil"
)

// ExpiryScheduler handles automated TOIL expiry.
type ExpiryScheduler struct {
	Toil          *toil.Service
	CheckInterval time.Duration
	Enabled       bool

	// Today is the clock used for the sweep date.
	Today func() generic.Date

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastRun    time.Time
	lastResult toil.SweepResult
}

// NewExpiryScheduler creates a new scheduler.
func NewExpiryScheduler(svc *toil.Service) *ExpiryScheduler {
	return &ExpiryScheduler{
		Toil:          svc,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Today:         generic.Today,
	}
}

// Start begins the scheduler.
func (es *ExpiryScheduler) Start() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if !es.Enabled || es.CheckInterval <= 0 {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}
	if es.ticker != nil {
		return
	}

	es.ticker = time.NewTicker(es.CheckInterval)
	es.stop = make(chan struct{})
	es.wg.Add(1)

	go es.run(es.ticker, es.stop)

	log.Printf("[Scheduler] Started with check interval: %v", es.CheckInterval)
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (es *ExpiryScheduler) Stop() {
	es.mu.Lock()
	if es.ticker == nil {
		es.mu.Unlock()
		return
	}
	es.ticker.Stop()
	close(es.stop)
	es.ticker = nil
	es.mu.Unlock()

	es.wg.Wait()
	log.Println("[Scheduler] Stopped")
}

func (es *ExpiryScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer es.wg.Done()

	// Run immediately on start
	es.RunNow(context.Background())

	for {
		select {
		case <-ticker.C:
			es.RunNow(context.Background())
		case <-stop:
			return
		}
	}
}

// RunNow sweeps every tenant immediately.
func (es *ExpiryScheduler) RunNow(ctx context.Context) (toil.SweepResult, error) {
	today := es.Today()
	log.Printf("[Scheduler] Checking for expired TOIL as of %s", today)

	result, err := es.Toil.Sweep(ctx, "", today)
	if err != nil {
		log.Printf("[Scheduler] Sweep failed: %v", err)
		return result, err
	}

	es.mu.Lock()
	es.lastRun = time.Now()
	es.lastResult = result
	es.mu.Unlock()

	if result.MarkedExpired > 0 {
		log.Printf("[Scheduler] Completed: %d accruals expired, %d users affected",
			result.MarkedExpired, result.UsersAffected)
	}
	return result, nil
}

// LastRun returns when the last successful sweep finished and its result.
func (es *ExpiryScheduler) LastRun() (time.Time, toil.SweepResult) {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.lastRun, es.lastResult
}

// GetNextRunTime returns when the next scheduled check will occur.
func (es *ExpiryScheduler) GetNextRunTime() time.Time {
	es.mu.Lock()
	defer es.mu.Unlock()
	if es.lastRun.IsZero() {
		return time.Now().Add(es.CheckInterval)
	}
	return es.lastRun.Add(es.CheckInterval)
}
