package subscription

import (
	"context"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/mailbox-monitor/internal/config"
	"github.com/ignite/mailbox-monitor/internal/domain"
)

// lifecycle is what the scheduler needs from the manager.
type lifecycle interface {
	Renew(ctx context.Context, sub *domain.Subscription) error
	MarkExpired(ctx context.Context, id string) error
}

// entry is one scheduled renewal.
type entry struct {
	id      string
	renewAt time.Time
}

// Scheduler keeps every tracked subscription renewed ahead of expiry. It
// holds a single index sorted by renewal time and drains due entries from
// one periodic loop, so there is never a per-subscription timer to leak or
// stack. A slower safety sweep re-indexes anything that fell out.
type Scheduler struct {
	manager lifecycle
	store   Store
	cfg     config.SubscriptionConfig
	clock   Clock

	mu      sync.Mutex
	entries []entry // sorted by renewAt ascending

	renewals atomic.Int64
	failures atomic.Int64
	expired  atomic.Int64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a renewal scheduler.
func NewScheduler(manager lifecycle, store Store, cfg config.SubscriptionConfig) *Scheduler {
	return &Scheduler{
		manager: manager,
		store:   store,
		cfg:     cfg,
		clock:   realClock{},
		stopCh:  make(chan struct{}),
	}
}

// SetClock overrides the time source.
func (s *Scheduler) SetClock(c Clock) { s.clock = c }

// Track schedules a subscription's next renewal at expiry minus the lead
// window. A subscription already past that point is due immediately.
// Re-tracking an ID replaces its existing entry.
func (s *Scheduler) Track(sub domain.Subscription) {
	renewAt := sub.ExpiresAt.Add(-s.cfg.RenewalLead())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(sub.ID)
	s.insertLocked(entry{id: sub.ID, renewAt: renewAt})
}

// Forget drops a subscription from the schedule.
func (s *Scheduler) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
}

// Tracked reports whether id has a scheduled renewal.
func (s *Scheduler) Tracked(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.id == id {
			return true
		}
	}
	return false
}

// Reload rebuilds the schedule from the store. Called at startup so
// subscriptions survive process restarts.
func (s *Scheduler) Reload(ctx context.Context) (int, error) {
	subs, err := s.store.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	for _, sub := range subs {
		s.Track(sub)
	}
	return len(subs), nil
}

// Start launches the renewal loop and the safety sweep.
func (s *Scheduler) Start(ctx context.Context) {
	log.Printf("[SubscriptionScheduler] Starting (poll %s, lead %s, sweep every %s)",
		s.cfg.SchedulerPoll(), s.cfg.RenewalLead(), s.cfg.SweepInterval())
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop halts the scheduler and waits for in-flight work.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	log.Printf("[SubscriptionScheduler] Stopped (renewals=%d failures=%d expired=%d)",
		s.renewals.Load(), s.failures.Load(), s.expired.Load())
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	poll := time.NewTicker(s.cfg.SchedulerPoll())
	defer poll.Stop()
	sweep := time.NewTicker(s.cfg.SweepInterval())
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-poll.C:
			s.RunDue(ctx)
		case <-sweep.C:
			s.Sweep(ctx)
		}
	}
}

// RunDue renews every subscription whose renewal time has arrived.
func (s *Scheduler) RunDue(ctx context.Context) {
	now := s.clock.Now()

	s.mu.Lock()
	n := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].renewAt.After(now)
	})
	due := make([]entry, n)
	copy(due, s.entries[:n])
	s.entries = append(s.entries[:0], s.entries[n:]...)
	s.mu.Unlock()

	for _, e := range due {
		s.renewOne(ctx, e.id, now)
	}
}

func (s *Scheduler) renewOne(ctx context.Context, id string, now time.Time) {
	sub, err := s.store.GetByID(ctx, id)
	if err != nil {
		log.Printf("[SubscriptionScheduler] Dropping %s: %v", id, err)
		return
	}
	if !sub.IsActive() {
		return
	}

	if err := s.manager.Renew(ctx, sub); err != nil {
		s.failures.Add(1)
		log.Printf("[SubscriptionScheduler] Renewal failed for %s (%s): %v", sub.ID, sub.Mailbox, err)
		if now.After(sub.ExpiresAt) {
			// Lapsed with no successful renewal; stop chasing it.
			if err := s.manager.MarkExpired(ctx, sub.ID); err == nil {
				s.expired.Add(1)
			}
			return
		}
		// Retry on the next poll tick.
		s.mu.Lock()
		s.removeLocked(sub.ID)
		s.insertLocked(entry{id: sub.ID, renewAt: now.Add(s.cfg.SchedulerPoll())})
		s.mu.Unlock()
		return
	}

	s.renewals.Add(1)
	s.Track(*sub)
}

// Sweep re-indexes active subscriptions expiring within the threshold that
// the schedule has somehow lost.
func (s *Scheduler) Sweep(ctx context.Context) {
	subs, err := s.store.ListExpiringWithin(ctx, s.cfg.SweepThreshold())
	if err != nil {
		log.Printf("[SubscriptionScheduler] Sweep failed: %v", err)
		return
	}
	recovered := 0
	for _, sub := range subs {
		if s.Tracked(sub.ID) {
			continue
		}
		s.Track(sub)
		recovered++
	}
	if recovered > 0 {
		log.Printf("[SubscriptionScheduler] Sweep recovered %d untracked subscription(s)", recovered)
	}
}

// removeLocked deletes id from the index. Caller holds s.mu.
func (s *Scheduler) removeLocked(id string) {
	for i, e := range s.entries {
		if e.id == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

// insertLocked adds e keeping the index sorted. Caller holds s.mu.
func (s *Scheduler) insertLocked(e entry) {
	i := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].renewAt.After(e.renewAt)
	})
	s.entries = append(s.entries, entry{})
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = e
}
