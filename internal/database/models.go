// internal/database/models.go
package database

import (
	"time"
)

// EventKind classifies a host state transition.
type EventKind string

const (
	EventOnline  EventKind = "online"
	EventOffline EventKind = "offline"
	// EventUnknown marks a monitoring gap: the monitor was not running and
	// cannot vouch for the host's state during that period.
	EventUnknown EventKind = "unknown"
)

// Valid reports whether k is one of the defined event kinds.
func (k EventKind) Valid() bool {
	switch k {
	case EventOnline, EventOffline, EventUnknown:
		return true
	}
	return false
}

// Termination records how a monitor session ended.
type Termination string

const (
	TerminationClean   Termination = "clean"
	TerminationCrashed Termination = "crashed"
	TerminationUnknown Termination = "unknown"
)

type Host struct {
	ID       string `json:"id"`
	Hostname string `json:"hostname"`
	Address  string `json:"address"`
	// CreatedAt is the first time the host was ever configured.
	CreatedAt time.Time `json:"created_at"`
	// FirstSeenOnline is stamped by the first successful probe and never
	// changed afterwards. Nil until the host has responded at least once.
	FirstSeenOnline *time.Time `json:"first_seen_online,omitempty"`
}

// ProbeResult is one row per probe cycle against a host, never updated.
type ProbeResult struct {
	ID        uint64    `json:"id"`
	HostID    string    `json:"host_id"`
	Timestamp time.Time `json:"timestamp"`
	Responded bool      `json:"responded"`
	// LatencyMs is the round-trip time of the fastest successful attempt,
	// nil when no attempt got a response.
	LatencyMs *float64 `json:"latency_ms,omitempty"`
	Successes int      `json:"successes"`
	Attempts  int      `json:"attempts"`
}

// HostEvent is one entry in a host's append-only state transition log.
// The event sequence per host, in insertion order, is the authoritative
// history; consecutive events for a host never repeat the same kind.
type HostEvent struct {
	ID        uint64    `json:"id"`
	HostID    string    `json:"host_id"`
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Note      string    `json:"note,omitempty"`
}

// HostState is the materialized projection of the latest HostEvent for a
// host. It is written in the same transaction as the event it mirrors.
type HostState struct {
	HostID string    `json:"host_id"`
	Kind   EventKind `json:"kind"`
	Since  time.Time `json:"since"`
}

// Session is one contiguous run of the monitor process. StoppedAt is nil
// while the session is open; a nil StoppedAt found at the next startup is
// conclusive evidence the process did not shut down cleanly.
type Session struct {
	ID          uint64      `json:"id"`
	StartedAt   time.Time   `json:"started_at"`
	StoppedAt   *time.Time  `json:"stopped_at,omitempty"`
	Termination Termination `json:"termination,omitempty"`
}

// Open reports whether the session has not been closed.
func (s *Session) Open() bool {
	return s.StoppedAt == nil
}

// EventFilters bounds an event history query.
type EventFilters struct {
	Limit      int
	Since      *time.Time
	Until      *time.Time
	Descending bool
}

// ProbeFilters bounds a probe history query.
type ProbeFilters struct {
	Limit int
	Since *time.Time
	Until *time.Time
}

// StoreStats describes database size and content for the maintenance API.
type StoreStats struct {
	Hosts       int       `json:"hosts"`
	Events      int       `json:"events"`
	Probes      int       `json:"probes"`
	Sessions    int       `json:"sessions"`
	SizeBytes   int64     `json:"size_bytes"`
	OldestProbe time.Time `json:"oldest_probe,omitempty"`
	NewestProbe time.Time `json:"newest_probe,omitempty"`
}
