// internal/monitoring/scheduler.go - probe dispatch over a bounded worker pool
package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"watchpost/internal/database"
	"watchpost/internal/metrics"
	"watchpost/internal/probe"
)

// Prober runs one probe cycle against a host address.
type Prober interface {
	Probe(ctx context.Context, address string) (*probe.Result, error)
}

// NotifyFunc is called after each processed probe so outer layers (the
// websocket hub) can fan results out. changed is true when a transition
// event was recorded.
type NotifyFunc func(host database.Host, kind database.EventKind, result *probe.Result, changed bool)

type probeOutcome struct {
	host     database.Host
	result   *probe.Result
	err      error
	duration time.Duration
}

// Scheduler dispatches one probe per host on a fixed interval through a
// bounded worker pool. The tick timer never waits for probes: a host whose
// previous probe is still outstanding is skipped for the tick, tracked in a
// per-host in-flight set, so slow hosts neither pile up probes nor delay
// anyone else.
type Scheduler struct {
	tracker  *Tracker
	prober   Prober
	metrics  *metrics.Collector
	notify   NotifyFunc
	interval time.Duration
	workers  int

	mu       sync.Mutex
	hosts    map[string]database.Host
	inFlight map[string]bool

	jobs    chan database.Host
	results chan probeOutcome
	wg      sync.WaitGroup
	done    chan struct{}
}

func NewScheduler(tracker *Tracker, prober Prober, collector *metrics.Collector, interval time.Duration, workers int) *Scheduler {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if workers <= 0 {
		workers = 8
	}
	return &Scheduler{
		tracker:  tracker,
		prober:   prober,
		metrics:  collector,
		interval: interval,
		workers:  workers,
		hosts:    make(map[string]database.Host),
		inFlight: make(map[string]bool),
		jobs:     make(chan database.Host, 1024),
		results:  make(chan probeOutcome, 1024),
		done:     make(chan struct{}),
	}
}

// SetNotify installs the broadcast hook. Must be called before Start.
func (s *Scheduler) SetNotify(fn NotifyFunc) {
	s.notify = fn
}

// SetHosts replaces the monitored host set.
func (s *Scheduler) SetHosts(hosts []database.Host) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hosts = make(map[string]database.Host, len(hosts))
	for _, host := range hosts {
		s.hosts[host.Hostname] = host
	}
}

// SetHost adds or updates a single monitored host.
func (s *Scheduler) SetHost(host database.Host) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hosts[host.Hostname] = host
}

// Start launches the workers, the result processor and the tick loop. It
// returns immediately; cancel ctx to stop, then Wait for the drain.
func (s *Scheduler) Start(ctx context.Context) {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}
	go s.processResults()
	go s.run(ctx)

	logrus.WithFields(logrus.Fields{
		"interval": s.interval,
		"workers":  s.workers,
	}).Info("Scheduler started")
}

// Wait blocks until all in-flight work has drained after ctx cancellation.
// The clean session close must not be written before this returns.
func (s *Scheduler) Wait() {
	<-s.done
}

func (s *Scheduler) run(ctx context.Context) {
	// Immediate first cycle on startup, then fixed ticks.
	s.dispatch(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(s.jobs)
			s.wg.Wait()
			close(s.results)
			return
		case <-ticker.C:
			s.dispatch(ctx)
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context) {
	s.mu.Lock()
	due := make([]database.Host, 0, len(s.hosts))
	skipped := 0
	for hostname, host := range s.hosts {
		if s.inFlight[hostname] {
			skipped++
			continue
		}
		s.inFlight[hostname] = true
		due = append(due, host)
	}
	s.mu.Unlock()

	for _, host := range due {
		select {
		case s.jobs <- host:
		case <-ctx.Done():
			s.clearInFlight(host.Hostname)
			return
		}
	}

	if skipped > 0 {
		logrus.WithField("count", skipped).Debug("Skipped hosts with outstanding probes")
	}
	if len(due) > 0 {
		logrus.WithField("count", len(due)).Debug("Dispatched probes")
	}
}

func (s *Scheduler) worker(ctx context.Context, id int) {
	defer s.wg.Done()

	for host := range s.jobs {
		start := time.Now()
		result, err := s.prober.Probe(ctx, host.Address)

		if ctx.Err() != nil {
			// Shutting down: abandon the probe, its result is discarded.
			s.clearInFlight(host.Hostname)
			continue
		}

		s.results <- probeOutcome{
			host:     host,
			result:   result,
			err:      err,
			duration: time.Since(start),
		}
	}
}

func (s *Scheduler) processResults() {
	defer close(s.done)
	for outcome := range s.results {
		s.handleOutcome(outcome)
	}
}

func (s *Scheduler) handleOutcome(outcome probeOutcome) {
	defer s.clearInFlight(outcome.host.Hostname)

	if outcome.err != nil {
		// Only malformed addresses land here; network failure is a
		// normal negative probe result, not an error.
		logrus.WithError(outcome.err).
			WithField("host", outcome.host.Hostname).
			Error("Probe failed")
		return
	}

	// Persistence uses a fresh context: during shutdown the run context is
	// already cancelled but completed results must still be committed
	// before the session closes.
	kind, changed, err := s.tracker.HandleResult(context.Background(), &outcome.host, outcome.result)
	if err != nil {
		logrus.WithError(err).
			WithField("host", outcome.host.Hostname).
			Error("Failed to store probe outcome, will retry next tick")
		return
	}

	if s.metrics != nil {
		s.metrics.RecordProbe(outcome.host.Hostname, kind, outcome.duration)
		s.metrics.UpdateHostStatus(outcome.host.Hostname, kind)
	}
	if s.notify != nil {
		s.notify(outcome.host, kind, outcome.result, changed)
	}

	fields := logrus.Fields{
		"host":      outcome.host.Hostname,
		"status":    kind,
		"successes": outcome.result.Successes,
		"attempts":  outcome.result.Attempts,
	}
	if latency := outcome.result.LatencyMs(); latency != nil {
		fields["latency_ms"] = *latency
	}
	if changed {
		logrus.WithFields(fields).Info("Host changed state")
	} else {
		logrus.WithFields(fields).Debug("Probe completed")
	}
}

func (s *Scheduler) clearInFlight(hostname string) {
	s.mu.Lock()
	delete(s.inFlight, hostname)
	s.mu.Unlock()
}
