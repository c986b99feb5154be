// Package scheduler implements the Scheduler (spec.md §2, §4.8, §5):
// it takes the Work Selector's path list from its caller
// (internal/engine runs the selector), spawns a bounded pool of File Analyzer
// tasks via golang.org/x/sync/errgroup and a counting semaphore,
// aggregates Run Stats, and honors cooperative cancellation.
package scheduler

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/codekeeper/crawler/internal/model"
)

// DefaultConcurrency implements spec.md §4.8's "C = max(cpu_count, 10)".
func DefaultConcurrency() int {
	c := runtime.NumCPU()
	if c < 10 {
		return 10
	}
	return c
}

// PersistEvery is how often, in files processed, Run Stats are
// flushed to durable storage mid-run (spec.md §4.8).
const PersistEvery = 10

// FileTask is the unit of work the Scheduler dispatches: run the full
// File Analyzer -> Fix Pipeline -> Validator -> Applier -> Learner
// sequence for one path and report what happened.
type FileTask func(ctx context.Context, path string) FileOutcome

// FileOutcome aggregates what happened to a single file, for Run Stats.
type FileOutcome struct {
	Skipped       bool
	Errored       bool
	HadIssues     bool
	IssuesFound   int
	IssuesAutoFixed int
	IssuesNeedingReview int
}

// StatsPersister durably persists Run Stats, e.g. internal/store's
// PersistRunStats.
type StatsPersister interface {
	PersistRunStats(ctx context.Context, stats model.RunStats) error
}

// Scheduler drives a bounded-concurrency crawl over a path list.
type Scheduler struct {
	concurrency int
	persister   StatsPersister
	logger      *logrus.Logger

	mu        sync.Mutex
	stats     model.RunStats
	cancelled bool
}

// New builds a Scheduler. concurrency <= 0 uses DefaultConcurrency().
func New(concurrency int, persister StatsPersister, logger *logrus.Logger) *Scheduler {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Scheduler{concurrency: concurrency, persister: persister, logger: logger}
}

// Run dispatches task over every path in paths, up to s.concurrency at
// a time, aggregating Run Stats and persisting them every PersistEvery
// completions and once more at the end. Cancelling ctx sets the
// cancelled flag; in-flight tasks finish their current stage and no
// new paths are dispatched.
func (s *Scheduler) Run(ctx context.Context, paths []string, task FileTask) model.RunStats {
	s.mu.Lock()
	s.stats = model.RunStats{StartTime: now()}
	s.mu.Unlock()

	sem := semaphore.NewWeighted(int64(s.concurrency))
	eg, egCtx := errgroup.WithContext(ctx)

	completed := 0
	var completedMu sync.Mutex

	for _, path := range paths {
		path := path
		if ctx.Err() != nil {
			s.markCancelled()
			break
		}
		if err := sem.Acquire(egCtx, 1); err != nil {
			s.markCancelled()
			break
		}
		eg.Go(func() error {
			defer sem.Release(1)
			outcome := task(egCtx, path)
			s.record(outcome)

			completedMu.Lock()
			completed++
			n := completed
			completedMu.Unlock()

			if n%PersistEvery == 0 {
				s.persist(ctx)
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		s.logger.WithError(err).Warn("scheduler: a file task returned an error")
	}

	s.mu.Lock()
	s.stats.EndTime = now()
	if ctx.Err() != nil {
		s.stats.Cancelled = true
	}
	final := s.stats
	s.mu.Unlock()

	s.persist(ctx)
	return final
}

func (s *Scheduler) record(o FileOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.Skipped {
		s.stats.FilesSkipped++
	} else {
		s.stats.FilesScanned++
	}
	if o.Errored {
		s.stats.Errors++
	}
	if o.HadIssues {
		s.stats.FilesWithIssues++
	}
	s.stats.IssuesFound += o.IssuesFound
	s.stats.IssuesAutoFixed += o.IssuesAutoFixed
	s.stats.IssuesNeedingReview += o.IssuesNeedingReview
}

func (s *Scheduler) markCancelled() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
}

func (s *Scheduler) persist(ctx context.Context) {
	if s.persister == nil {
		return
	}
	s.mu.Lock()
	snapshot := s.stats
	s.mu.Unlock()
	// Persistence uses a background-derived context: Run Stats must be
	// flushed even when the run's own context has just been cancelled.
	persistCtx := context.WithoutCancel(ctx)
	if err := s.persister.PersistRunStats(persistCtx, snapshot); err != nil {
		s.logger.WithError(err).Error("scheduler: failed to persist run stats")
	}
}

func now() time.Time { return time.Now() }
