// Package worker holds the background loops that run alongside the HTTP
// server.
package worker

import (
	"context"
	"log"
	"sync/atomic"
	"time"
)

const (
	// DefaultReprocessInterval is how often unprocessed notifications are
	// retried when no interval is configured.
	DefaultReprocessInterval = 15 * time.Minute

	// DefaultReprocessBatch caps how many records one cycle picks up.
	DefaultReprocessBatch = 100
)

// Reprocessor is anything that can re-run failed notifications. The
// dispatcher implements it.
type Reprocessor interface {
	Reprocess(ctx context.Context, limit int) (int, error)
}

// ReprocessWorker periodically re-runs notifications that never reached a
// terminal outcome, oldest first. Retries happen only here, never inline in
// the webhook path.
type ReprocessWorker struct {
	dispatcher Reprocessor
	interval   time.Duration
	batchSize  int

	cycles    atomic.Int64
	attempted atomic.Int64
}

// NewReprocessWorker creates a reprocess worker with custom timing.
func NewReprocessWorker(dispatcher Reprocessor, interval time.Duration, batchSize int) *ReprocessWorker {
	if interval <= 0 {
		interval = DefaultReprocessInterval
	}
	if batchSize <= 0 {
		batchSize = DefaultReprocessBatch
	}
	return &ReprocessWorker{
		dispatcher: dispatcher,
		interval:   interval,
		batchSize:  batchSize,
	}
}

// Start begins the reprocess loop. It blocks until ctx is cancelled.
func (rw *ReprocessWorker) Start(ctx context.Context) {
	log.Printf("[Reprocessor] Starting (interval=%s, batch=%d)", rw.interval, rw.batchSize)

	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Reprocessor] Stopping (cycles=%d, attempted=%d)",
				rw.cycles.Load(), rw.attempted.Load())
			return
		case <-ticker.C:
			rw.runCycle(ctx)
		}
	}
}

// RunCycle retries one batch immediately. Exposed so the operational API
// can trigger a cycle outside the schedule.
func (rw *ReprocessWorker) RunCycle(ctx context.Context) (int, error) {
	cycleCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	n, err := rw.dispatcher.Reprocess(cycleCtx, rw.batchSize)
	if err != nil {
		return 0, err
	}
	rw.cycles.Add(1)
	rw.attempted.Add(int64(n))
	return n, nil
}

func (rw *ReprocessWorker) runCycle(ctx context.Context) {
	n, err := rw.RunCycle(ctx)
	if err != nil {
		log.Printf("[Reprocessor] Cycle error: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[Reprocessor] Retried %d notification(s)", n)
	}
}

// Attempted returns how many records this worker has re-run.
func (rw *ReprocessWorker) Attempted() int64 { return rw.attempted.Load() }
