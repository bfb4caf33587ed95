// internal/database/store.go
package database

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrHostNotFound is returned when a host lookup misses.
	ErrHostNotFound = errors.New("host not found")

	// ErrSessionNotFound is returned when a session lookup misses.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionConflict is returned when opening a session while another
	// session is still open. At most one session may be open at a time.
	ErrSessionConflict = errors.New("another session is still open")

	// ErrCorruptSessions indicates more than one open session was found.
	// This is unrecoverable corruption requiring operator intervention;
	// the store never picks one silently.
	ErrCorruptSessions = errors.New("multiple open sessions found")
)

// Store defines the persistence operations for the monitoring core. It is
// the only component allowed to mutate durable state; every write method is
// atomic, and reads reflect only committed writes.
type Store interface {
	// Host operations. UpsertHost is idempotent on hostname: re-adding a
	// host updates only its address, and an unchanged address is a no-op.
	UpsertHost(ctx context.Context, hostname, address string) (*Host, bool, error)
	GetHost(ctx context.Context, hostname string) (*Host, error)
	GetHosts(ctx context.Context) ([]Host, error)
	// MarkFirstSeenOnline stamps the host's first-responsive timestamp.
	// It is set-once: calls after the first are no-ops.
	MarkFirstSeenOnline(ctx context.Context, hostname string, ts time.Time) error

	// AppendEvent appends a HostEvent and updates the HostState projection
	// in a single transaction. When the host's current projected kind
	// already equals kind, nothing is written and recorded is false.
	AppendEvent(ctx context.Context, hostID string, kind EventKind, ts time.Time, note string) (recorded bool, err error)
	GetHostState(ctx context.Context, hostID string) (*HostState, error)
	GetHostStates(ctx context.Context) (map[string]HostState, error)
	GetEvents(ctx context.Context, hostID string, filters EventFilters) ([]HostEvent, error)

	// Probe log operations.
	RecordProbe(ctx context.Context, result *ProbeResult) error
	GetProbes(ctx context.Context, hostID string, filters ProbeFilters) ([]ProbeResult, error)
	// LastProbeTime returns the timestamp of the most recent probe across
	// all hosts, or nil when no probe has ever been recorded.
	LastProbeTime(ctx context.Context) (*time.Time, error)

	// Session operations.
	OpenSession(ctx context.Context, startedAt time.Time) (*Session, error)
	CloseSession(ctx context.Context, id uint64, stoppedAt time.Time, termination Termination) error
	LastSession(ctx context.Context) (*Session, error)
	OpenSessions(ctx context.Context) ([]Session, error)
	GetSessions(ctx context.Context) ([]Session, error)

	// Close the database.
	Close() error
}

// MaintenanceStore extends Store with explicit, operator-invoked upkeep
// operations. None of these run automatically: history retention is an
// operational decision, not something the core decides on its own.
type MaintenanceStore interface {
	Store

	// PurgeProbesBefore deletes probe results older than cutoff and
	// returns how many were removed. Host events are never purged.
	PurgeProbesBefore(ctx context.Context, cutoff time.Time) (int, error)

	Stats(ctx context.Context) (*StoreStats, error)
	Compact(ctx context.Context) error
}
