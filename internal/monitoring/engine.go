// internal/monitoring/engine.go
package monitoring

import (
	"context"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"watchpost/internal/config"
	"watchpost/internal/database"
	"watchpost/internal/metrics"
	"watchpost/internal/probe"
)

// Engine wires the session manager, host state tracker and scheduler
// together around a single store.
type Engine struct {
	config    *config.Config
	store     database.Store
	metrics   *metrics.Collector
	sessions  *SessionManager
	scheduler *Scheduler
	cancel    context.CancelFunc
}

func NewEngine(cfg *config.Config, store database.Store, collector *metrics.Collector) *Engine {
	pinger := probe.New(
		cfg.Monitoring.ProbeAttempts,
		cfg.Monitoring.ProbeTimeout,
		cfg.Monitoring.Privileged,
	)
	tracker := NewTracker(store)

	return &Engine{
		config:    cfg,
		store:     store,
		metrics:   collector,
		sessions:  NewSessionManager(store),
		scheduler: NewScheduler(tracker, pinger, collector, cfg.Monitoring.Interval, cfg.Server.Workers),
	}
}

// SetNotify installs the probe broadcast hook. Must be called before Start.
func (e *Engine) SetNotify(fn NotifyFunc) {
	e.scheduler.SetNotify(fn)
}

// Start brings the engine up: session reconciliation first, so a crash gap
// is recorded against the hosts that were being monitored before any new
// host registration or probe muddies the picture; then the configured host
// list is synced into the store and the scheduler begins ticking.
// A reconciliation failure aborts startup.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.sessions.Reconcile(ctx); err != nil {
		return fmt.Errorf("session reconciliation: %w", err)
	}

	if err := e.syncHosts(ctx); err != nil {
		return err
	}

	hosts, err := e.store.GetHosts(ctx)
	if err != nil {
		return fmt.Errorf("failed to load hosts: %w", err)
	}
	e.scheduler.SetHosts(hosts)

	if e.metrics != nil {
		e.metrics.SetMonitoredHosts(len(hosts))
	}

	logrus.WithField("hosts", len(hosts)).Info("Starting monitoring engine")

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.scheduler.Start(runCtx)

	return nil
}

// Stop drains the scheduler, then closes the session cleanly. The ordering
// matters: a clean close must never be written while probe results are
// still being committed.
func (e *Engine) Stop(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
		e.scheduler.Wait()
	}

	logrus.Info("Monitoring engine stopped")
	return e.sessions.Close(ctx)
}

// Session returns the currently open monitor session.
func (e *Engine) Session() *database.Session {
	return e.sessions.Current()
}

// AddHost registers a host or updates its address, idempotent on hostname.
// The host joins the probe rotation on the next tick.
func (e *Engine) AddHost(ctx context.Context, hostname, address string) (*database.Host, bool, error) {
	if hostname == "" {
		return nil, false, fmt.Errorf("hostname is required")
	}
	if net.ParseIP(address) == nil {
		return nil, false, fmt.Errorf("invalid address %q for host %s", address, hostname)
	}

	host, created, err := e.store.UpsertHost(ctx, hostname, address)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert host %s: %w", hostname, err)
	}

	e.scheduler.SetHost(*host)
	if e.metrics != nil {
		if hosts, err := e.store.GetHosts(ctx); err == nil {
			e.metrics.SetMonitoredHosts(len(hosts))
		}
	}

	if created {
		logrus.WithFields(logrus.Fields{
			"host":    hostname,
			"address": address,
		}).Info("Registered host")
	}

	return host, created, nil
}

// syncHosts upserts every validly configured host. A malformed address
// excludes that host and is reported, but never blocks the others.
func (e *Engine) syncHosts(ctx context.Context) error {
	hosts, errs := e.config.HostList()
	for _, err := range errs {
		logrus.WithError(err).Warn("Skipping misconfigured host")
	}

	for _, host := range hosts {
		if _, _, err := e.store.UpsertHost(ctx, host.Hostname, host.Address); err != nil {
			return fmt.Errorf("failed to register host %s: %w", host.Hostname, err)
		}
	}

	return nil
}
