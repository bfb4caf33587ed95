// internal/monitoring/tracker.go - per-host status classification
package monitoring

import (
	"context"
	"fmt"

	"watchpost/internal/database"
	"watchpost/internal/probe"
)

// Tracker turns probe results into durable history. Classification is
// derived from the most recent probe alone; a transition event is appended
// only when the classification differs from the current projection, which
// the store checks atomically with the append.
type Tracker struct {
	store database.Store
}

func NewTracker(store database.Store) *Tracker {
	return &Tracker{store: store}
}

// HandleResult persists one probe outcome for host. It returns the derived
// classification and whether a transition event was recorded. The first
// result for a host always records an initiating event, since there is no
// prior projection to compare against.
func (t *Tracker) HandleResult(ctx context.Context, host *database.Host, result *probe.Result) (database.EventKind, bool, error) {
	kind := database.EventOffline
	if result.Responded {
		kind = database.EventOnline

		if err := t.store.MarkFirstSeenOnline(ctx, host.Hostname, result.Timestamp); err != nil {
			return kind, false, fmt.Errorf("failed to stamp first-seen-online for %s: %w", host.Hostname, err)
		}
	}

	record := &database.ProbeResult{
		HostID:    host.ID,
		Timestamp: result.Timestamp,
		Responded: result.Responded,
		LatencyMs: result.LatencyMs(),
		Successes: result.Successes,
		Attempts:  result.Attempts,
	}
	if err := t.store.RecordProbe(ctx, record); err != nil {
		return kind, false, fmt.Errorf("failed to record probe result for %s: %w", host.Hostname, err)
	}

	recorded, err := t.store.AppendEvent(ctx, host.ID, kind, result.Timestamp, "")
	if err != nil {
		return kind, false, fmt.Errorf("failed to append %s event for %s: %w", kind, host.Hostname, err)
	}

	return kind, recorded, nil
}
