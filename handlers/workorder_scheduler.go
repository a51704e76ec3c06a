package handlers

import (
	"context"
	"log"
	"os"
	"time"

	"p9e.in/gridops/models"
)

const (
	defaultSweepInterval = time.Hour
	minSweepInterval     = time.Minute
	// processingTimeout escalates claimed orders with no deadline that have
	// seen no activity for this long.
	processingTimeout = 24 * time.Hour
)

// WorkOrderScheduler periodically escalates stalled orders to Reported on
// behalf of the reserved system actor.
type WorkOrderScheduler struct {
	engine   *LifecycleEngine
	store    WorkOrderStore
	now      func() time.Time
	interval time.Duration
}

// NewWorkOrderScheduler wires a scheduler over the engine and store. The
// clock is injectable for tests.
func NewWorkOrderScheduler(engine *LifecycleEngine, store WorkOrderStore, now func() time.Time) *WorkOrderScheduler {
	if now == nil {
		now = time.Now
	}
	return &WorkOrderScheduler{
		engine:   engine,
		store:    store,
		now:      now,
		interval: sweepIntervalFromEnv(),
	}
}

func sweepIntervalFromEnv() time.Duration {
	raw := os.Getenv("SCHEDULER_INTERVAL")
	if raw == "" {
		return defaultSweepInterval
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid SCHEDULER_INTERVAL %q, using default: %v", raw, err)
		return defaultSweepInterval
	}
	if d < minSweepInterval {
		log.Printf("SCHEDULER_INTERVAL %s below minimum, using %s", d, minSweepInterval)
		return minSweepInterval
	}
	return d
}

// Run ticks until the context is cancelled. A sweep in flight drains
// before Run returns; no new tick starts after cancellation.
func (s *WorkOrderScheduler) Run(ctx context.Context) {
	log.Printf("work order scheduler starting, interval=%s", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("work order scheduler stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs the three escalation passes. Each pass is idempotent and each
// order's failure is logged and swallowed so the rest of the sweep
// continues.
func (s *WorkOrderScheduler) Sweep(ctx context.Context) {
	s.sweepStaleUnclaimed(ctx)
	s.sweepProcessingTimeout(ctx)
	s.sweepDeadlineExceeded(ctx)
}

// sweepStaleUnclaimed escalates orders still unclaimed after their
// creation day has ended.
func (s *WorkOrderScheduler) sweepStaleUnclaimed(ctx context.Context) {
	now := s.now()
	startOfToday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	orders, err := s.store.UnclaimedCreatedBefore(ctx, startOfToday)
	if err != nil {
		log.Printf("stale-unclaimed sweep query failed: %v", err)
		return
	}
	escalated := 0
	for _, order := range orders {
		err := s.engine.Escalate(ctx, order.WorkID, models.StatusUnclaimed,
			"order not claimed by end of its creation day, escalated automatically")
		if err != nil {
			log.Printf("stale-unclaimed escalation failed: workId=%s: %v", order.WorkID, err)
			continue
		}
		escalated++
	}
	if len(orders) > 0 {
		log.Printf("stale-unclaimed sweep: %d/%d escalated", escalated, len(orders))
	}
}

// sweepProcessingTimeout escalates claimed orders with no deadline and no
// activity for 24 hours.
func (s *WorkOrderScheduler) sweepProcessingTimeout(ctx context.Context) {
	cutoff := s.now().Add(-processingTimeout)

	orders, err := s.store.ProcessingStaleWithoutDeadline(ctx, cutoff)
	if err != nil {
		log.Printf("processing-timeout sweep query failed: %v", err)
		return
	}
	escalated := 0
	for _, order := range orders {
		err := s.engine.Escalate(ctx, order.WorkID, models.StatusProcessing,
			"order unresolved 24 hours after claim, escalated automatically")
		if err != nil {
			log.Printf("processing-timeout escalation failed: workId=%s: %v", order.WorkID, err)
			continue
		}
		escalated++
	}
	if len(orders) > 0 {
		log.Printf("processing-timeout sweep: %d/%d escalated", escalated, len(orders))
	}
}

// sweepDeadlineExceeded escalates any unfinished order whose deadline has
// passed.
func (s *WorkOrderScheduler) sweepDeadlineExceeded(ctx context.Context) {
	orders, err := s.store.DeadlineExceeded(ctx, s.now())
	if err != nil {
		log.Printf("deadline sweep query failed: %v", err)
		return
	}
	escalated := 0
	for _, order := range orders {
		if order.Status == models.StatusReported {
			// Already escalated; the deadline stays set but there is
			// nothing further to do.
			continue
		}
		err := s.engine.Escalate(ctx, order.WorkID, order.Status,
			"order passed its deadline unresolved, escalated automatically")
		if err != nil {
			log.Printf("deadline escalation failed: workId=%s: %v", order.WorkID, err)
			continue
		}
		escalated++
	}
	if len(orders) > 0 {
		log.Printf("deadline sweep: %d/%d escalated", escalated, len(orders))
	}
}
