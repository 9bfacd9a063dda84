// Package syncsched implements the background sync scheduler: a
// tracked set of root paths, periodically resynced on a ticker, plus an
// optional fsnotify-driven eager trigger that nudges a root's next resync
// ahead of schedule when the filesystem actually changes.
package syncsched

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rscodex/rscodex/internal/pipeline"
)

// DefaultInterval is the default resync period.
const DefaultInterval = 300 * time.Second

// DefaultInitialDelay is the default first-tick delay.
const DefaultInitialDelay = 5 * time.Second

// Reindexer runs one incremental reindex for root. It is satisfied by
// *internal/incremental.Driver through a thin adapter the caller supplies,
// since the scheduler itself is root-agnostic and doesn't own any one
// collection's storage handles.
type Reindexer interface {
	Reindex(ctx context.Context, root string, force bool) (pipeline.Stats, error)
}

// Scheduler drives periodic resync of a tracked root set.
type Scheduler struct {
	reindex  Reindexer
	interval time.Duration
	delay    time.Duration
	log      *slog.Logger

	mu      sync.RWMutex
	tracked map[string]bool

	nowCh chan string // sync_now requests, drained by run()
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval overrides the default 300s tick interval.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = d }
}

// WithInitialDelay overrides the default 5s first-tick delay.
func WithInitialDelay(d time.Duration) Option {
	return func(s *Scheduler) { s.delay = d }
}

// New builds a Scheduler over reindex, applying any options.
func New(reindex Reindexer, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		reindex:  reindex,
		interval: DefaultInterval,
		delay:    DefaultInitialDelay,
		log:      logger,
		tracked:  make(map[string]bool),
		nowCh:    make(chan string, 16),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Track adds root to the scheduler's tracked set. The tool-call layer
// calls this automatically after a successful indexing call for that root.
func (s *Scheduler) Track(root string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracked[root] = true
}

// Untrack removes root from the tracked set.
func (s *Scheduler) Untrack(root string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tracked, root)
}

// Tracked returns a snapshot of the currently tracked roots.
func (s *Scheduler) Tracked() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roots := make([]string, 0, len(s.tracked))
	for r := range s.tracked {
		roots = append(roots, r)
	}
	return roots
}

// SyncNow requests an out-of-band resync of root ahead of the next tick.
// Non-blocking: if the request channel is full, the root simply waits for
// its next scheduled tick instead.
func (s *Scheduler) SyncNow(root string) {
	select {
	case s.nowCh <- root:
	default:
	}
}

// Run executes the scheduler loop until ctx is cancelled: an initial
// delay, then every interval tick a sequential pass over the tracked set
// under a read-lock snapshot. A per-root error is
// logged and does not abort the cycle. Eager sync_now requests are served
// between ticks without waiting for the interval.
func (s *Scheduler) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.delay):
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case root := <-s.nowCh:
			s.resyncOne(ctx, root, false)
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	for _, root := range s.Tracked() {
		if ctx.Err() != nil {
			return
		}
		s.resyncOne(ctx, root, false)
	}
}

func (s *Scheduler) resyncOne(ctx context.Context, root string, force bool) {
	_, err := s.reindex.Reindex(ctx, root, force)
	if err != nil {
		s.log.Warn("scheduled resync failed", slog.String("root", root), slog.String("error", err.Error()))
	}
}
