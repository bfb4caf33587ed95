// internal/monitoring/session.go - monitor process session tracking
package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"watchpost/internal/database"
)

// SessionManager tracks the monitor process's own lifetime. On startup it
// reconciles the previous run: an open session left in the store proves the
// process died without a clean shutdown, and the affected period is recorded
// as a monitoring gap before anything else happens.
type SessionManager struct {
	store database.Store

	mu      sync.Mutex
	current *database.Session
}

func NewSessionManager(store database.Store) *SessionManager {
	return &SessionManager{store: store}
}

// Reconcile finalizes a crashed previous session (if any) and opens the
// session for this run. It must run before any probe is dispatched, so that
// gaps are attributed to monitor downtime rather than merged into host
// history. Any failure here is fatal to startup: running without reliable
// gap attribution would silently corrupt history.
func (m *SessionManager) Reconcile(ctx context.Context) error {
	open, err := m.store.OpenSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to inspect sessions: %w", err)
	}

	switch {
	case len(open) > 1:
		// Something other than this process wrote sessions. Refuse to
		// pick one; the operator has to sort it out.
		return fmt.Errorf("found %d open sessions: %w", len(open), database.ErrCorruptSessions)

	case len(open) == 1:
		if err := m.finalizeCrashed(ctx, &open[0]); err != nil {
			return err
		}
	}

	session, err := m.store.OpenSession(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}

	m.mu.Lock()
	m.current = session
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"session":    session.ID,
		"started_at": session.StartedAt,
	}).Info("Opened monitor session")

	return nil
}

// finalizeCrashed closes the dangling session as crashed and appends one
// Unknown event per known host, dated at the crashed session's last probe
// activity (its start time when it never probed anything).
func (m *SessionManager) finalizeCrashed(ctx context.Context, crashed *database.Session) error {
	gapAt := crashed.StartedAt
	termination := database.TerminationUnknown

	lastProbe, err := m.store.LastProbeTime(ctx)
	if err != nil {
		return fmt.Errorf("failed to find last probe activity: %w", err)
	}
	if lastProbe != nil && lastProbe.After(gapAt) {
		gapAt = *lastProbe
		termination = database.TerminationCrashed
	}

	if err := m.store.CloseSession(ctx, crashed.ID, time.Now().UTC(), termination); err != nil {
		return fmt.Errorf("failed to finalize crashed session %d: %w", crashed.ID, err)
	}

	logrus.WithFields(logrus.Fields{
		"session":     crashed.ID,
		"started_at":  crashed.StartedAt,
		"gap_at":      gapAt,
		"termination": termination,
	}).Warn("Previous run did not shut down cleanly, recording monitoring gap")

	hosts, err := m.store.GetHosts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list hosts for gap recording: %w", err)
	}

	for _, host := range hosts {
		if _, err := m.store.AppendEvent(ctx, host.ID, database.EventUnknown, gapAt, "monitor was not running"); err != nil {
			return fmt.Errorf("failed to record gap for %s: %w", host.Hostname, err)
		}
	}

	return nil
}

// Current returns the session opened by Reconcile, nil before that or after
// Close.
func (m *SessionManager) Current() *database.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Close marks the current session cleanly stopped. This is the only code
// path that writes a clean termination; it must run after all in-flight
// probe writes have drained.
func (m *SessionManager) Close(ctx context.Context) error {
	m.mu.Lock()
	session := m.current
	m.mu.Unlock()

	if session == nil {
		return nil
	}

	if err := m.store.CloseSession(ctx, session.ID, time.Now().UTC(), database.TerminationClean); err != nil {
		return fmt.Errorf("failed to close session %d: %w", session.ID, err)
	}

	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()

	logrus.WithField("session", session.ID).Info("Closed monitor session")
	return nil
}
