// Package scheduler runs the adaptive monitoring loop: select due sources, probe them
// concurrently, reconcile their state and sleep until the next check.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-sentinel/internal/alerts"
	"github.com/miradorstack/mirador-sentinel/internal/metrics"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/schedule"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

var (
	// ErrAlreadyRunning is returned by Start when the loop is active.
	ErrAlreadyRunning = errors.New("scheduler already running")
	// ErrStopTimeout is returned by Stop when the loop had to be cancelled.
	ErrStopTimeout = errors.New("scheduler stop timed out; in-flight probes cancelled")
)

// Sources is the registry view the loop reads from.
type Sources interface {
	DueSources(ctx context.Context, now time.Time) ([]models.Source, error)
	List(ctx context.Context) ([]models.Source, error)
}

// Committer persists one reconciliation step.
type Committer interface {
	CommitProbe(ctx context.Context, commit models.Commit) error
}

// Prober runs a check and always returns a result.
type Prober interface {
	Dispatch(ctx context.Context, src models.Source) models.ProbeResult
}

// PatternObserver feeds change counts into trend detection.
type PatternObserver interface {
	Observe(ctx context.Context, sourceID, metric string, value float64, at time.Time) (models.PatternSnapshot, bool)
}

// AlertSink receives alerts for asynchronous delivery.
type AlertSink interface {
	Dispatch(batch ...models.Alert)
}

// Observer is called after every successfully persisted commit.
type Observer func(commit models.Commit)

// Deps groups the scheduler's collaborators. Detector and Alerts are optional.
type Deps struct {
	Sources  Sources
	Store    Committer
	Prober   Prober
	Detector PatternObserver
	Alerts   AlertSink
}

// tickWindow is how many recent ticks the average and p95 durations cover.
const tickWindow = 1024

// Options tunes the loop.
type Options struct {
	MinSleep       time.Duration
	MaxSleep       time.Duration
	ErrorCooldown  time.Duration
	StopTimeout    time.Duration
	MaxConcurrency int
	UpcomingLimit  int
}

func (o Options) withDefaults() Options {
	if o.MinSleep <= 0 {
		o.MinSleep = time.Second
	}
	if o.MaxSleep < o.MinSleep {
		o.MaxSleep = o.MinSleep
	}
	if o.ErrorCooldown <= 0 {
		o.ErrorCooldown = time.Minute
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 30 * time.Second
	}
	if o.UpcomingLimit <= 0 {
		o.UpcomingLimit = 10
	}
	return o
}

// Scheduler owns the background monitoring loop.
type Scheduler struct {
	deps      Deps
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
	observers []Observer

	running atomic.Bool
	wake    chan struct{}

	mu     sync.Mutex
	stopCh chan struct{}
	done   chan struct{}
	cancel context.CancelFunc

	stats     stats
	tickTimes *utils.DurationWindow
}

type stats struct {
	mu               sync.Mutex
	totalTicks       int64
	successfulTicks  int64
	alertsGenerated  int64
	patternsDetected int64
}

// New constructs a Scheduler.
func New(logger *slog.Logger, deps Deps, opts Options) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		deps:      deps,
		opts:      opts.withDefaults(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		wake:      make(chan struct{}, 1),
		tickTimes: utils.NewDurationWindow(tickWindow),
	}
}

// AddObserver registers fn for committed results. It must be called before Start.
func (s *Scheduler) AddObserver(fn Observer) {
	s.observers = append(s.observers, fn)
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Wake interrupts the current sleep so newly due sources are picked up promptly.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start launches the loop in a background goroutine. Cancelling ctx aborts in-flight probes.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	probeCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})

	go s.run(probeCtx, s.stopCh, s.done)
	s.logger.Info("scheduler started",
		slog.Duration("min_sleep", s.opts.MinSleep),
		slog.Duration("max_sleep", s.opts.MaxSleep),
		slog.Int("max_concurrency", s.opts.MaxConcurrency),
	)
	return nil
}

// Stop asks the loop to exit after the current tick and waits up to the configured
// stop timeout (or ctx). On timeout in-flight probes are cancelled and ErrStopTimeout
// is returned.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running.CompareAndSwap(true, false) {
		s.mu.Unlock()
		return nil
	}
	stopCh, done, cancel := s.stopCh, s.done, s.cancel
	s.mu.Unlock()

	close(stopCh)
	timer := time.NewTimer(s.opts.StopTimeout)
	defer timer.Stop()

	select {
	case <-done:
		cancel()
		s.logger.Info("scheduler stopped")
		return nil
	case <-timer.C:
		cancel()
		<-done
		s.logger.Warn("scheduler stop timed out", slog.Duration("timeout", s.opts.StopTimeout))
		return ErrStopTimeout
	case <-ctx.Done():
		cancel()
		<-done
		return fmt.Errorf("stop scheduler: %w", ctx.Err())
	}
}

func (s *Scheduler) run(ctx context.Context, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for s.running.Load() {
		sleep, err := s.safeTick(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.abandon(stopCh)
				return
			}
			s.logger.Error("scheduler tick failed", slog.Any("error", err), slog.Duration("cooldown", s.opts.ErrorCooldown))
			sleep = s.opts.ErrorCooldown
		}
		if !s.running.Load() {
			return
		}

		timer := time.NewTimer(sleep)
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			s.abandon(stopCh)
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// abandon clears the running flag when the loop exits because its parent context was
// cancelled. After Stop has closed stopCh the flag belongs to Stop and a later Start.
func (s *Scheduler) abandon(stopCh <-chan struct{}) {
	select {
	case <-stopCh:
	default:
		s.running.Store(false)
		s.logger.Info("scheduler context cancelled; loop exited")
	}
}

func (s *Scheduler) safeTick(ctx context.Context) (sleep time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panic: %v", r)
			s.recordTick(0, false)
		}
	}()
	return s.Tick(ctx)
}

// Tick runs one selection, probe and reconciliation pass and returns how long the
// loop should sleep before the next one.
func (s *Scheduler) Tick(ctx context.Context) (time.Duration, error) {
	start := s.now()

	due, err := s.deps.Sources.DueSources(ctx, start)
	if err != nil {
		s.recordTick(s.now().Sub(start), false)
		metrics.ObserveTick(s.now().Sub(start), metrics.OutcomeError, 0)
		return 0, fmt.Errorf("select due sources: %w", err)
	}

	results := make([]models.ProbeResult, len(due))
	var g errgroup.Group
	if s.opts.MaxConcurrency > 0 {
		g.SetLimit(s.opts.MaxConcurrency)
	}
	for i := range due {
		g.Go(func() error {
			results[i] = s.dispatch(ctx, due[i], start)
			return nil
		})
	}
	_ = g.Wait()

	committed := 0
	for i := range due {
		if s.reconcile(ctx, due[i], results[i]) {
			committed++
		}
	}

	sleep, err := s.nextSleep(ctx)
	elapsed := s.now().Sub(start)
	s.recordTick(elapsed, err == nil)
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeError
	}
	metrics.ObserveTick(elapsed, outcome, len(due))

	if len(due) > 0 {
		s.logger.Debug("tick complete",
			slog.Int("due", len(due)),
			slog.Int("committed", committed),
			slog.Duration("elapsed", elapsed),
			slog.Duration("sleep", sleep),
		)
	}
	return sleep, err
}

// dispatch runs one probe. A panicking prober is recorded as a failed result for its
// source so the rest of the tick still commits.
func (s *Scheduler) dispatch(ctx context.Context, src models.Source, at time.Time) (result models.ProbeResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("prober panicked", slog.String("source_id", src.ID), slog.Any("panic", r))
			result = models.FailedResult(src, fmt.Sprintf("probe panic: %v", r))
			result.ID = uuid.NewString()
			result.Timestamp = at
		}
	}()
	return s.deps.Prober.Dispatch(ctx, src)
}

// reconcile folds a result into the source, runs trend detection and alert evaluation,
// and persists the step. It reports whether the commit succeeded.
func (s *Scheduler) reconcile(ctx context.Context, src models.Source, result models.ProbeResult) bool {
	now := s.now()
	updated := schedule.Reconcile(src, result, now)
	result.NextCheckRecommended = updated.NextCheck

	var pattern *models.PatternSnapshot
	if s.deps.Detector != nil && result.ChangesDetected > 0 {
		if snap, ok := s.deps.Detector.Observe(ctx, src.ID, models.MetricChanges, float64(result.ChangesDetected), now); ok {
			pattern = &snap
		}
	}

	raised := alerts.Evaluate(updated, result, pattern, now)
	result.AlertsGenerated = len(raised)

	commit := models.Commit{Source: updated, Result: result, Pattern: pattern}
	if err := s.deps.Store.CommitProbe(ctx, commit); err != nil {
		metrics.IncPersistFailure()
		s.logger.Error("persist probe failed", slog.String("source_id", src.ID), slog.Any("error", err))
		return false
	}

	metrics.ObserveProbe(string(src.Type), result.ProcessingTime, result.Success)
	s.stats.mu.Lock()
	if pattern != nil {
		s.stats.patternsDetected++
	}
	s.stats.alertsGenerated += int64(len(raised))
	s.stats.mu.Unlock()

	if pattern != nil {
		metrics.IncPattern(string(pattern.Trend))
	}
	for _, a := range raised {
		metrics.IncAlert(a.Category)
	}
	if s.deps.Alerts != nil && len(raised) > 0 {
		s.deps.Alerts.Dispatch(raised...)
	}
	for _, fn := range s.observers {
		fn(commit)
	}
	return true
}

// nextSleep returns the time until the earliest scheduled check, clamped to the
// configured sleep bounds.
func (s *Scheduler) nextSleep(ctx context.Context) (time.Duration, error) {
	sources, err := s.deps.Sources.List(ctx)
	if err != nil {
		return s.opts.MinSleep, fmt.Errorf("list sources: %w", err)
	}
	now := s.now()
	sleep := s.opts.MaxSleep
	for _, src := range sources {
		if !src.Enabled || src.NextCheck == nil {
			continue
		}
		if until := src.NextCheck.Sub(now); until < sleep {
			sleep = until
		}
	}
	return clamp(sleep, s.opts.MinSleep, s.opts.MaxSleep), nil
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

func (s *Scheduler) recordTick(elapsed time.Duration, ok bool) {
	s.stats.mu.Lock()
	s.stats.totalTicks++
	if ok {
		s.stats.successfulTicks++
	}
	s.stats.mu.Unlock()
	s.tickTimes.Observe(elapsed)
}

// Status summarises the loop and the registry. Counters are always served from memory;
// a registry read failure is returned as an error.
func (s *Scheduler) Status(ctx context.Context) (models.Status, error) {
	now := s.now()
	status := models.Status{
		Running:       s.Running(),
		SourcesByType: make(map[models.SourceType]int),
		Performance:   s.performance(),
		Upcoming:      []models.UpcomingCheck{},
		GeneratedAt:   now,
	}

	sources, err := s.deps.Sources.List(ctx)
	if err != nil {
		return status, fmt.Errorf("list sources: %w", err)
	}

	status.TotalSources = len(sources)
	for _, src := range sources {
		if !src.Enabled {
			continue
		}
		status.ActiveSources++
		status.SourcesByType[src.Type]++
		if src.NextCheck != nil {
			status.Upcoming = append(status.Upcoming, models.UpcomingCheck{
				SourceID:  src.ID,
				Name:      src.Name,
				TimeUntil: src.NextCheck.Sub(now),
				Frequency: src.Frequency,
			})
		}
	}
	sort.SliceStable(status.Upcoming, func(i, j int) bool {
		return status.Upcoming[i].TimeUntil < status.Upcoming[j].TimeUntil
	})
	if len(status.Upcoming) > s.opts.UpcomingLimit {
		status.Upcoming = status.Upcoming[:s.opts.UpcomingLimit]
	}
	return status, nil
}

func (s *Scheduler) performance() models.Performance {
	s.stats.mu.Lock()
	perf := models.Performance{
		TotalTicks:       s.stats.totalTicks,
		SuccessfulTicks:  s.stats.successfulTicks,
		AlertsGenerated:  s.stats.alertsGenerated,
		PatternsDetected: s.stats.patternsDetected,
	}
	s.stats.mu.Unlock()
	perf.AvgTickSeconds = s.tickTimes.Mean().Seconds()
	perf.P95TickSeconds = s.tickTimes.Percentile(95).Seconds()
	return perf
}
