package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/snapconvert/snapconvert/core/assets"
	"github.com/snapconvert/snapconvert/core/grants"
	"github.com/snapconvert/snapconvert/core/infra/logging"
	"github.com/snapconvert/snapconvert/core/infra/metrics"
)

// Scheduler owns the reclamation of expired state: one timer per grant so
// deletion latency is bounded by the retention window, plus a coarse
// periodic sweep as a backstop for timers lost to process restarts.
//
// Every deletion here is best effort. Failures are logged, counted, and
// swallowed; cleanup never takes the serving process down with it.
type Scheduler struct {
	store   *assets.LocalStore
	index   grants.Index
	clock   Clock
	metrics metrics.PipelineMetrics

	sweepInterval time.Duration
	sweepMaxAge   time.Duration

	mu     sync.Mutex
	timers map[string]Timer
	closed bool

	onExpire func(id string)
}

// OnExpire registers a callback invoked after a grant's state has been
// reclaimed, for event fanout.
func (s *Scheduler) OnExpire(fn func(id string)) { s.onExpire = fn }

func NewScheduler(store *assets.LocalStore, index grants.Index, clock Clock, m metrics.PipelineMetrics, sweepInterval, sweepMaxAge time.Duration) *Scheduler {
	if clock == nil {
		clock = RealClock()
	}
	if m == nil {
		m = metrics.Noop{}
	}
	return &Scheduler{
		store:         store,
		index:         index,
		clock:         clock,
		metrics:       m,
		sweepInterval: sweepInterval,
		sweepMaxAge:   sweepMaxAge,
		timers:        make(map[string]Timer),
	}
}

// ScheduleGrant registers the expiry timer for a freshly issued grant.
// Safe to call concurrently with timers firing.
func (s *Scheduler) ScheduleGrant(g grants.Grant) {
	d := g.ExpiresAt.Sub(s.clock.Now())
	if d < 0 {
		d = 0
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.timers[g.ID] = s.clock.AfterFunc(d, func() { s.expireGrant(g.ID) })
	s.mu.Unlock()
}

func (s *Scheduler) expireGrant(id string) {
	s.mu.Lock()
	delete(s.timers, id)
	s.mu.Unlock()

	failures := 0
	if err := s.index.Delete(context.Background(), id); err != nil {
		logging.Warn("cleanup", "grant index delete failed", "grant", id, "error", err)
		failures++
	}
	if err := s.store.RemoveDelivery(id); err != nil {
		logging.Warn("cleanup", "delivery delete failed", "grant", id, "error", err)
		failures++
	}
	if failures > 0 {
		s.metrics.IncCleanupFailures()
	}
	s.metrics.IncGrantsExpired()
	logging.Info("cleanup", "grant reclaimed", "grant", id, "failures", failures)
	if s.onExpire != nil {
		s.onExpire(id)
	}
}

// Sweep removes upload and processed directories older than the age
// ceiling, plus delivery directories with no live grant. Returns how many
// deletions failed; it never returns an error.
func (s *Scheduler) Sweep() int {
	failures := 0
	cutoff := s.clock.Now().Add(-s.sweepMaxAge)

	for _, root := range []string{s.store.UploadsRoot(), s.store.ProcessedRoot()} {
		failures += s.sweepStale(root, cutoff)
	}
	failures += s.sweepOrphanedDeliveries(cutoff)

	if failures > 0 {
		s.metrics.IncCleanupFailures()
	}
	return failures
}

func (s *Scheduler) sweepStale(root string, cutoff time.Time) int {
	entries, err := os.ReadDir(root)
	if err != nil {
		logging.Warn("cleanup", "sweep read failed", "root", root, "error", err)
		return 1
	}
	failures := 0
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(root, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			logging.Warn("cleanup", "sweep delete failed", "path", path, "error", err)
			failures++
			continue
		}
		logging.Info("cleanup", "swept stale dir", "path", path)
	}
	return failures
}

func (s *Scheduler) sweepOrphanedDeliveries(cutoff time.Time) int {
	entries, err := os.ReadDir(s.store.DownloadsRoot())
	if err != nil {
		return 1
	}
	failures := 0
	for _, entry := range entries {
		id := entry.Name()
		if _, err := s.index.Get(context.Background(), id); err == nil {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := s.store.RemoveDelivery(id); err != nil {
			failures++
			continue
		}
		logging.Info("cleanup", "swept orphaned delivery", "grant", id)
	}
	return failures
}

// Run executes the periodic sweep until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	logging.Info("cleanup", "sweep loop started", "interval", s.sweepInterval, "max_age", s.sweepMaxAge)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Close stops all pending grant timers. Delivery directories for grants
// whose timers were stopped fall to the next process's sweep.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// PendingTimers reports registered, unfired timers.
func (s *Scheduler) PendingTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
