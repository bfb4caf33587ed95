package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"watchpost/internal/database"
)

func TestReconcileFreshStore(t *testing.T) {
	store := setupTestStore(t)
	manager := NewSessionManager(store)
	ctx := context.Background()

	if err := manager.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	session := manager.Current()
	if session == nil {
		t.Fatal("Expected a current session after reconcile")
	}
	if !session.Open() {
		t.Fatal("Current session should be open")
	}
}

func TestReconcileAfterCleanShutdown(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	host, _, err := store.UpsertHost(ctx, "web-1", "192.168.1.10")
	if err != nil {
		t.Fatalf("Failed to upsert host: %v", err)
	}

	first := NewSessionManager(store)
	if err := first.Reconcile(ctx); err != nil {
		t.Fatalf("First reconcile failed: %v", err)
	}
	if err := first.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	second := NewSessionManager(store)
	if err := second.Reconcile(ctx); err != nil {
		t.Fatalf("Second reconcile failed: %v", err)
	}

	// A clean restart introduces no gap events.
	events, err := store.GetEvents(ctx, host.ID, database.EventFilters{})
	if err != nil {
		t.Fatalf("Failed to get events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("Expected no events after clean restart, got %d", len(events))
	}

	sessions, err := store.GetSessions(ctx)
	if err != nil {
		t.Fatalf("Failed to list sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].Termination != database.TerminationClean {
		t.Errorf("Expected first session closed clean, got %s", sessions[0].Termination)
	}
}

func TestReconcileAfterCrashRecordsGap(t *testing.T) {
	store := setupTestStore(t)
	tracker := NewTracker(store)
	ctx := context.Background()

	hostA, _, err := store.UpsertHost(ctx, "a", "10.0.0.1")
	if err != nil {
		t.Fatalf("Failed to upsert host: %v", err)
	}
	hostB, _, err := store.UpsertHost(ctx, "b", "10.0.0.2")
	if err != nil {
		t.Fatalf("Failed to upsert host: %v", err)
	}

	// Simulate a previous run that probed and then died without closing
	// its session.
	started := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	crashed, err := store.OpenSession(ctx, started)
	if err != nil {
		t.Fatalf("Failed to open session: %v", err)
	}

	lastProbe := started.Add(30 * time.Minute)
	if _, _, err := tracker.HandleResult(ctx, hostA, probeAt(started.Add(10*time.Minute), true)); err != nil {
		t.Fatalf("HandleResult failed: %v", err)
	}
	if _, _, err := tracker.HandleResult(ctx, hostA, probeAt(lastProbe, true)); err != nil {
		t.Fatalf("HandleResult failed: %v", err)
	}

	manager := NewSessionManager(store)
	if err := manager.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	// Every host gets exactly one gap event, dated at the last observed
	// probe activity.
	for _, host := range []*database.Host{hostA, hostB} {
		events, err := store.GetEvents(ctx, host.ID, database.EventFilters{})
		if err != nil {
			t.Fatalf("Failed to get events for %s: %v", host.Hostname, err)
		}
		if len(events) == 0 {
			t.Fatalf("Expected a gap event for %s", host.Hostname)
		}
		last := events[len(events)-1]
		if last.Kind != database.EventUnknown {
			t.Errorf("Host %s: expected unknown gap event, got %s", host.Hostname, last.Kind)
		}
		if !last.Timestamp.Equal(lastProbe) {
			t.Errorf("Host %s: gap dated %v, want %v", host.Hostname, last.Timestamp, lastProbe)
		}
	}

	// Host A had prior history: online then unknown, never doubled.
	aEvents, err := store.GetEvents(ctx, hostA.ID, database.EventFilters{})
	if err != nil {
		t.Fatalf("Failed to get events: %v", err)
	}
	if len(aEvents) != 2 {
		t.Fatalf("Expected [online, unknown] for host a, got %d events", len(aEvents))
	}

	// The crashed session was finalized with the crash termination.
	sessions, err := store.GetSessions(ctx)
	if err != nil {
		t.Fatalf("Failed to list sessions: %v", err)
	}
	var finalized *database.Session
	for i := range sessions {
		if sessions[i].ID == crashed.ID {
			finalized = &sessions[i]
		}
	}
	if finalized == nil || finalized.Open() {
		t.Fatal("Crashed session was not finalized")
	}
	if finalized.Termination != database.TerminationCrashed {
		t.Errorf("Expected crashed termination, got %s", finalized.Termination)
	}
}

func TestReconcileCrashWithoutProbes(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	host, _, err := store.UpsertHost(ctx, "web-1", "192.168.1.10")
	if err != nil {
		t.Fatalf("Failed to upsert host: %v", err)
	}

	started := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	crashed, err := store.OpenSession(ctx, started)
	if err != nil {
		t.Fatalf("Failed to open session: %v", err)
	}

	manager := NewSessionManager(store)
	if err := manager.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	// No probe ever ran, so the gap can only be dated at session start
	// and nothing is known about how the run ended.
	events, err := store.GetEvents(ctx, host.ID, database.EventFilters{})
	if err != nil {
		t.Fatalf("Failed to get events: %v", err)
	}
	if len(events) != 1 || events[0].Kind != database.EventUnknown {
		t.Fatalf("Expected single unknown event, got %v", events)
	}
	if !events[0].Timestamp.Equal(started) {
		t.Errorf("Gap dated %v, want session start %v", events[0].Timestamp, started)
	}

	sessions, err := store.GetSessions(ctx)
	if err != nil {
		t.Fatalf("Failed to list sessions: %v", err)
	}
	for _, s := range sessions {
		if s.ID == crashed.ID && s.Termination != database.TerminationUnknown {
			t.Errorf("Expected unknown termination, got %s", s.Termination)
		}
	}
}

// corruptSessionStore simulates a session table damaged outside this
// process: OpenSessions reports two dangling sessions.
type corruptSessionStore struct {
	database.Store
}

func (c corruptSessionStore) OpenSessions(ctx context.Context) ([]database.Session, error) {
	return []database.Session{
		{ID: 1, StartedAt: time.Now().UTC().Add(-2 * time.Hour)},
		{ID: 2, StartedAt: time.Now().UTC().Add(-time.Hour)},
	}, nil
}

func TestReconcileRefusesMultipleOpenSessions(t *testing.T) {
	store := setupTestStore(t)

	manager := NewSessionManager(corruptSessionStore{Store: store})
	err := manager.Reconcile(context.Background())
	if !errors.Is(err, database.ErrCorruptSessions) {
		t.Fatalf("Expected ErrCorruptSessions, got %v", err)
	}
	if manager.Current() != nil {
		t.Error("No session should be opened on corruption")
	}
}

func TestCloseWithoutSessionIsNoop(t *testing.T) {
	store := setupTestStore(t)
	manager := NewSessionManager(store)

	if err := manager.Close(context.Background()); err != nil {
		t.Fatalf("Close without session failed: %v", err)
	}
}
