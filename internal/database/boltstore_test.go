package database

import (
	"context"
	"errors"
	"testing"
	"time"
)

func setupTestStore(t *testing.T) *BoltStore {
	t.Helper()

	store, err := NewBoltStore(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestUpsertHost(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	host, created, err := store.UpsertHost(ctx, "web-1", "192.168.1.10")
	if err != nil {
		t.Fatalf("Failed to upsert host: %v", err)
	}
	if !created {
		t.Error("Expected created=true for new host")
	}
	if host.ID == "" {
		t.Error("Expected non-empty host ID")
	}
	if host.FirstSeenOnline != nil {
		t.Error("New host should have no first-seen-online timestamp")
	}

	// Same hostname, new address: updates in place, same identity.
	updated, created, err := store.UpsertHost(ctx, "web-1", "192.168.1.11")
	if err != nil {
		t.Fatalf("Failed to re-upsert host: %v", err)
	}
	if created {
		t.Error("Expected created=false for existing host")
	}
	if updated.ID != host.ID {
		t.Errorf("Expected stable ID %s, got %s", host.ID, updated.ID)
	}
	if updated.Address != "192.168.1.11" {
		t.Errorf("Expected updated address, got %s", updated.Address)
	}

	// Unchanged address is a pure no-op.
	same, created, err := store.UpsertHost(ctx, "web-1", "192.168.1.11")
	if err != nil {
		t.Fatalf("Failed to upsert unchanged host: %v", err)
	}
	if created {
		t.Error("Expected created=false for unchanged host")
	}
	if !same.CreatedAt.Equal(host.CreatedAt) {
		t.Error("CreatedAt must not change on upsert")
	}

	hosts, err := store.GetHosts(ctx)
	if err != nil {
		t.Fatalf("Failed to list hosts: %v", err)
	}
	if len(hosts) != 1 {
		t.Fatalf("Expected 1 host, got %d", len(hosts))
	}
}

func TestGetHostNotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetHost(context.Background(), "missing")
	if !errors.Is(err, ErrHostNotFound) {
		t.Fatalf("Expected ErrHostNotFound, got %v", err)
	}
}

func TestMarkFirstSeenOnlineIsSetOnce(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, _, err := store.UpsertHost(ctx, "web-1", "192.168.1.10"); err != nil {
		t.Fatalf("Failed to upsert host: %v", err)
	}

	first := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	if err := store.MarkFirstSeenOnline(ctx, "web-1", first); err != nil {
		t.Fatalf("Failed to stamp first-seen-online: %v", err)
	}

	// Later stamps must not overwrite the original.
	if err := store.MarkFirstSeenOnline(ctx, "web-1", first.Add(time.Hour)); err != nil {
		t.Fatalf("Failed second stamp: %v", err)
	}

	host, err := store.GetHost(ctx, "web-1")
	if err != nil {
		t.Fatalf("Failed to get host: %v", err)
	}
	if host.FirstSeenOnline == nil || !host.FirstSeenOnline.Equal(first) {
		t.Errorf("Expected first-seen-online %v, got %v", first, host.FirstSeenOnline)
	}
}

func TestAppendEventSuppressesRepeats(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	host, _, err := store.UpsertHost(ctx, "web-1", "192.168.1.10")
	if err != nil {
		t.Fatalf("Failed to upsert host: %v", err)
	}

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	transitions := []struct {
		kind EventKind
		want bool
	}{
		{EventOnline, true},
		{EventOnline, false},
		{EventOffline, true},
		{EventOffline, false},
		{EventOffline, false},
		{EventOnline, true},
	}

	for i, tr := range transitions {
		recorded, err := store.AppendEvent(ctx, host.ID, tr.kind, base.Add(time.Duration(i)*time.Minute), "")
		if err != nil {
			t.Fatalf("AppendEvent %d failed: %v", i, err)
		}
		if recorded != tr.want {
			t.Errorf("AppendEvent %d (%s): recorded=%t, want %t", i, tr.kind, recorded, tr.want)
		}
	}

	events, err := store.GetEvents(ctx, host.ID, EventFilters{})
	if err != nil {
		t.Fatalf("Failed to get events: %v", err)
	}
	wantKinds := []EventKind{EventOnline, EventOffline, EventOnline}
	if len(events) != len(wantKinds) {
		t.Fatalf("Expected %d events, got %d", len(wantKinds), len(events))
	}
	for i, e := range events {
		if e.Kind != wantKinds[i] {
			t.Errorf("Event %d: got %s, want %s", i, e.Kind, wantKinds[i])
		}
	}

	// The projection always mirrors the last event in the log.
	state, err := store.GetHostState(ctx, host.ID)
	if err != nil {
		t.Fatalf("Failed to get state: %v", err)
	}
	last := events[len(events)-1]
	if state.Kind != last.Kind || !state.Since.Equal(last.Timestamp) {
		t.Errorf("State %s@%v does not match last event %s@%v",
			state.Kind, state.Since, last.Kind, last.Timestamp)
	}
}

func TestAppendEventInvalidKind(t *testing.T) {
	store := setupTestStore(t)

	if _, err := store.AppendEvent(context.Background(), "some-id", EventKind("flaky"), time.Now(), ""); err == nil {
		t.Fatal("Expected error for invalid event kind")
	}
}

func TestGetEventsFilters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	host, _, err := store.UpsertHost(ctx, "web-1", "192.168.1.10")
	if err != nil {
		t.Fatalf("Failed to upsert host: %v", err)
	}

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	kinds := []EventKind{EventOnline, EventOffline, EventOnline, EventOffline, EventOnline}
	for i, kind := range kinds {
		if _, err := store.AppendEvent(ctx, host.ID, kind, base.Add(time.Duration(i)*time.Hour), ""); err != nil {
			t.Fatalf("AppendEvent %d failed: %v", i, err)
		}
	}

	asc, err := store.GetEvents(ctx, host.ID, EventFilters{})
	if err != nil {
		t.Fatalf("Failed to get events: %v", err)
	}
	if len(asc) != 5 {
		t.Fatalf("Expected 5 events, got %d", len(asc))
	}
	for i := 1; i < len(asc); i++ {
		if asc[i].Timestamp.Before(asc[i-1].Timestamp) {
			t.Fatal("Ascending query returned out-of-order events")
		}
	}

	desc, err := store.GetEvents(ctx, host.ID, EventFilters{Descending: true, Limit: 2})
	if err != nil {
		t.Fatalf("Failed to get events descending: %v", err)
	}
	if len(desc) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(desc))
	}
	if !desc[0].Timestamp.Equal(base.Add(4 * time.Hour)) {
		t.Errorf("Expected newest event first, got %v", desc[0].Timestamp)
	}

	since := base.Add(90 * time.Minute)
	until := base.Add(200 * time.Minute)
	window, err := store.GetEvents(ctx, host.ID, EventFilters{Since: &since, Until: &until})
	if err != nil {
		t.Fatalf("Failed to get windowed events: %v", err)
	}
	if len(window) != 2 {
		t.Fatalf("Expected 2 events in window, got %d", len(window))
	}
}

func TestEventsAreIsolatedPerHost(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	a, _, err := store.UpsertHost(ctx, "a", "10.0.0.1")
	if err != nil {
		t.Fatalf("Failed to upsert host a: %v", err)
	}
	b, _, err := store.UpsertHost(ctx, "b", "10.0.0.2")
	if err != nil {
		t.Fatalf("Failed to upsert host b: %v", err)
	}

	now := time.Now().UTC()
	if _, err := store.AppendEvent(ctx, a.ID, EventOnline, now, ""); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}
	// Same kind on another host must still be recorded: suppression is
	// per host, not global.
	recorded, err := store.AppendEvent(ctx, b.ID, EventOnline, now, "")
	if err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}
	if !recorded {
		t.Error("Expected event recorded for second host")
	}

	aEvents, err := store.GetEvents(ctx, a.ID, EventFilters{})
	if err != nil {
		t.Fatalf("Failed to get events: %v", err)
	}
	if len(aEvents) != 1 {
		t.Fatalf("Expected 1 event for host a, got %d", len(aEvents))
	}
	if aEvents[0].HostID != a.ID {
		t.Errorf("Event leaked across host prefixes: %s", aEvents[0].HostID)
	}
}

func TestRecordProbeAndLastProbeTime(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	last, err := store.LastProbeTime(ctx)
	if err != nil {
		t.Fatalf("Failed to read last probe time: %v", err)
	}
	if last != nil {
		t.Fatal("Expected nil last probe time in empty store")
	}

	host, _, err := store.UpsertHost(ctx, "web-1", "192.168.1.10")
	if err != nil {
		t.Fatalf("Failed to upsert host: %v", err)
	}

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	latency := 12.5
	for i := 0; i < 3; i++ {
		result := &ProbeResult{
			HostID:    host.ID,
			Timestamp: base.Add(time.Duration(i) * 10 * time.Second),
			Responded: true,
			LatencyMs: &latency,
			Successes: 3,
			Attempts:  3,
		}
		if err := store.RecordProbe(ctx, result); err != nil {
			t.Fatalf("RecordProbe %d failed: %v", i, err)
		}
		if result.ID == 0 {
			t.Fatal("Expected probe result to be assigned an ID")
		}
	}

	probes, err := store.GetProbes(ctx, host.ID, ProbeFilters{Limit: 2})
	if err != nil {
		t.Fatalf("Failed to get probes: %v", err)
	}
	if len(probes) != 2 {
		t.Fatalf("Expected 2 probes, got %d", len(probes))
	}
	if !probes[0].Timestamp.Equal(base.Add(20 * time.Second)) {
		t.Errorf("Expected newest probe first, got %v", probes[0].Timestamp)
	}

	last, err = store.LastProbeTime(ctx)
	if err != nil {
		t.Fatalf("Failed to read last probe time: %v", err)
	}
	if last == nil || !last.Equal(base.Add(20*time.Second)) {
		t.Errorf("Expected last probe at %v, got %v", base.Add(20*time.Second), last)
	}
}

func TestSessionLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	session, err := store.OpenSession(ctx, started)
	if err != nil {
		t.Fatalf("Failed to open session: %v", err)
	}
	if !session.Open() {
		t.Fatal("New session should be open")
	}

	// A second open while the first is still running must be refused.
	if _, err := store.OpenSession(ctx, started.Add(time.Minute)); !errors.Is(err, ErrSessionConflict) {
		t.Fatalf("Expected ErrSessionConflict, got %v", err)
	}

	open, err := store.OpenSessions(ctx)
	if err != nil {
		t.Fatalf("Failed to list open sessions: %v", err)
	}
	if len(open) != 1 || open[0].ID != session.ID {
		t.Fatalf("Expected exactly the open session, got %v", open)
	}

	stopped := started.Add(time.Hour)
	if err := store.CloseSession(ctx, session.ID, stopped, TerminationClean); err != nil {
		t.Fatalf("Failed to close session: %v", err)
	}

	last, err := store.LastSession(ctx)
	if err != nil {
		t.Fatalf("Failed to get last session: %v", err)
	}
	if last.Open() {
		t.Error("Closed session still reported open")
	}
	if last.Termination != TerminationClean {
		t.Errorf("Expected clean termination, got %s", last.Termination)
	}
	if last.StoppedAt == nil || !last.StoppedAt.Equal(stopped) {
		t.Errorf("Expected stopped at %v, got %v", stopped, last.StoppedAt)
	}

	// Once closed, a new session may open.
	next, err := store.OpenSession(ctx, stopped.Add(time.Minute))
	if err != nil {
		t.Fatalf("Failed to open follow-up session: %v", err)
	}
	if next.ID <= session.ID {
		t.Errorf("Expected monotonic session IDs, got %d after %d", next.ID, session.ID)
	}

	sessions, err := store.GetSessions(ctx)
	if err != nil {
		t.Fatalf("Failed to list sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}
}

func TestCloseSessionNotFound(t *testing.T) {
	store := setupTestStore(t)

	err := store.CloseSession(context.Background(), 42, time.Now(), TerminationClean)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestPurgeProbesBefore(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	host, _, err := store.UpsertHost(ctx, "web-1", "192.168.1.10")
	if err != nil {
		t.Fatalf("Failed to upsert host: %v", err)
	}

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		result := &ProbeResult{
			HostID:    host.ID,
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Responded: i%2 == 0,
			Successes: 1,
			Attempts:  3,
		}
		if err := store.RecordProbe(ctx, result); err != nil {
			t.Fatalf("RecordProbe %d failed: %v", i, err)
		}
	}
	if _, err := store.AppendEvent(ctx, host.ID, EventOnline, base, ""); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}

	removed, err := store.PurgeProbesBefore(ctx, base.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if removed != 3 {
		t.Errorf("Expected 3 probes purged, got %d", removed)
	}

	probes, err := store.GetProbes(ctx, host.ID, ProbeFilters{})
	if err != nil {
		t.Fatalf("Failed to get probes: %v", err)
	}
	if len(probes) != 2 {
		t.Fatalf("Expected 2 probes remaining, got %d", len(probes))
	}

	// Events are permanent history and survive probe purges.
	events, err := store.GetEvents(ctx, host.ID, EventFilters{})
	if err != nil {
		t.Fatalf("Failed to get events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected event history intact, got %d events", len(events))
	}
}

func TestStatsAndCompact(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	host, _, err := store.UpsertHost(ctx, "web-1", "192.168.1.10")
	if err != nil {
		t.Fatalf("Failed to upsert host: %v", err)
	}
	if _, err := store.AppendEvent(ctx, host.ID, EventOnline, time.Now().UTC(), ""); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}
	if err := store.RecordProbe(ctx, &ProbeResult{HostID: host.ID, Timestamp: time.Now().UTC(), Responded: true, Successes: 3, Attempts: 3}); err != nil {
		t.Fatalf("RecordProbe failed: %v", err)
	}
	if _, err := store.OpenSession(ctx, time.Now().UTC()); err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Hosts != 1 || stats.Events != 1 || stats.Probes != 1 || stats.Sessions != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if stats.SizeBytes <= 0 {
		t.Error("Expected positive database size")
	}

	if err := store.Compact(ctx); err != nil {
		t.Fatalf("Compact failed: %v", err)
	}

	// All data must survive compaction, including sequence counters.
	hosts, err := store.GetHosts(ctx)
	if err != nil {
		t.Fatalf("GetHosts after compact failed: %v", err)
	}
	if len(hosts) != 1 {
		t.Fatalf("Expected 1 host after compact, got %d", len(hosts))
	}
	events, err := store.GetEvents(ctx, host.ID, EventFilters{})
	if err != nil {
		t.Fatalf("GetEvents after compact failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 event after compact, got %d", len(events))
	}
	if _, err := store.AppendEvent(ctx, host.ID, EventOffline, time.Now().UTC(), ""); err != nil {
		t.Fatalf("AppendEvent after compact failed: %v", err)
	}
	events, err = store.GetEvents(ctx, host.ID, EventFilters{})
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events after post-compact append, got %d", len(events))
	}
}
