// internal/database/boltstore.go - BoltDB implementation of Store
package database

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var (
	HostsBucket    = []byte("hosts")
	EventsBucket   = []byte("events")
	StateBucket    = []byte("state")
	ProbesBucket   = []byte("probes")
	SessionsBucket = []byte("sessions")
	MetaBucket     = []byte("meta")
)

var lastProbeKey = []byte("last_probe_at")

type BoltStore struct {
	db   *bbolt.DB
	path string
}

// NewBoltStore opens (or creates) the database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open BoltDB: %w", err)
	}

	store := &BoltStore{db: db, path: path}

	if err := store.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return store, nil
}

func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{HostsBucket, EventsBucket, StateBucket, ProbesBucket, SessionsBucket, MetaBucket}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
}

// seqKey builds an entry key under a per-host prefix. Sequence numbers are
// zero-padded so lexicographic key order equals insertion order.
func seqKey(hostID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s/%020d", hostID, seq))
}

func hostPrefix(hostID string) []byte {
	return []byte(hostID + "/")
}

func sessionKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%020d", id))
}

func (s *BoltStore) UpsertHost(ctx context.Context, hostname, address string) (*Host, bool, error) {
	var host Host
	created := false

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(HostsBucket)
		key := []byte(hostname)

		if v := b.Get(key); v != nil {
			if err := json.Unmarshal(v, &host); err != nil {
				return fmt.Errorf("failed to unmarshal host %s: %w", hostname, err)
			}
			if host.Address == address {
				return nil // unchanged, nothing to write
			}
			host.Address = address
		} else {
			created = true
			host = Host{
				ID:        uuid.New().String(),
				Hostname:  hostname,
				Address:   address,
				CreatedAt: time.Now().UTC(),
			}
		}

		data, err := json.Marshal(&host)
		if err != nil {
			return fmt.Errorf("failed to marshal host: %w", err)
		}
		return b.Put(key, data)
	})
	if err != nil {
		return nil, false, err
	}
	return &host, created, nil
}

func (s *BoltStore) GetHost(ctx context.Context, hostname string) (*Host, error) {
	var host Host

	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(HostsBucket).Get([]byte(hostname))
		if v == nil {
			return fmt.Errorf("%q: %w", hostname, ErrHostNotFound)
		}
		return json.Unmarshal(v, &host)
	})
	if err != nil {
		return nil, err
	}
	return &host, nil
}

func (s *BoltStore) GetHosts(ctx context.Context) ([]Host, error) {
	var hosts []Host

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(HostsBucket).ForEach(func(k, v []byte) error {
			var host Host
			if err := json.Unmarshal(v, &host); err != nil {
				return fmt.Errorf("failed to unmarshal host %s: %w", k, err)
			}
			hosts = append(hosts, host)
			return nil
		})
	})

	return hosts, err
}

func (s *BoltStore) MarkFirstSeenOnline(ctx context.Context, hostname string, ts time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(HostsBucket)
		key := []byte(hostname)

		v := b.Get(key)
		if v == nil {
			return fmt.Errorf("%q: %w", hostname, ErrHostNotFound)
		}

		var host Host
		if err := json.Unmarshal(v, &host); err != nil {
			return fmt.Errorf("failed to unmarshal host %s: %w", hostname, err)
		}
		if host.FirstSeenOnline != nil {
			return nil // already stamped, immutable
		}

		host.FirstSeenOnline = &ts
		data, err := json.Marshal(&host)
		if err != nil {
			return fmt.Errorf("failed to marshal host: %w", err)
		}
		return b.Put(key, data)
	})
}

// AppendEvent writes the event and the projection update in one transaction,
// so the projection can never diverge from the log's last entry. Duplicate
// kinds are suppressed by checking the projection inside the same
// transaction, which keeps the no-repeat invariant under concurrency.
func (s *BoltStore) AppendEvent(ctx context.Context, hostID string, kind EventKind, ts time.Time, note string) (bool, error) {
	if !kind.Valid() {
		return false, fmt.Errorf("invalid event kind %q", kind)
	}

	recorded := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		sb := tx.Bucket(StateBucket)

		if v := sb.Get([]byte(hostID)); v != nil {
			var state HostState
			if err := json.Unmarshal(v, &state); err != nil {
				return fmt.Errorf("failed to unmarshal state for %s: %w", hostID, err)
			}
			if state.Kind == kind {
				return nil // no-op transition, suppressed
			}
		}

		eb := tx.Bucket(EventsBucket)
		seq, err := eb.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate event sequence: %w", err)
		}

		event := HostEvent{
			ID:        seq,
			HostID:    hostID,
			Kind:      kind,
			Timestamp: ts,
			Note:      note,
		}
		data, err := json.Marshal(&event)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		if err := eb.Put(seqKey(hostID, seq), data); err != nil {
			return err
		}

		state := HostState{HostID: hostID, Kind: kind, Since: ts}
		data, err = json.Marshal(&state)
		if err != nil {
			return fmt.Errorf("failed to marshal state: %w", err)
		}
		if err := sb.Put([]byte(hostID), data); err != nil {
			return err
		}

		recorded = true
		return nil
	})

	return recorded, err
}

func (s *BoltStore) GetHostState(ctx context.Context, hostID string) (*HostState, error) {
	var state *HostState

	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(StateBucket).Get([]byte(hostID))
		if v == nil {
			return nil // never classified yet
		}
		state = &HostState{}
		return json.Unmarshal(v, state)
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (s *BoltStore) GetHostStates(ctx context.Context) (map[string]HostState, error) {
	states := make(map[string]HostState)

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(StateBucket).ForEach(func(k, v []byte) error {
			var state HostState
			if err := json.Unmarshal(v, &state); err != nil {
				return fmt.Errorf("failed to unmarshal state %s: %w", k, err)
			}
			states[state.HostID] = state
			return nil
		})
	})

	return states, err
}

func (s *BoltStore) GetEvents(ctx context.Context, hostID string, filters EventFilters) ([]HostEvent, error) {
	var events []HostEvent
	prefix := hostPrefix(hostID)

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(EventsBucket).Cursor()

		collect := func(v []byte) (bool, error) {
			var event HostEvent
			if err := json.Unmarshal(v, &event); err != nil {
				return false, fmt.Errorf("failed to unmarshal event: %w", err)
			}
			if filters.Since != nil && event.Timestamp.Before(*filters.Since) {
				return true, nil
			}
			if filters.Until != nil && event.Timestamp.After(*filters.Until) {
				return true, nil
			}
			events = append(events, event)
			return filters.Limit <= 0 || len(events) < filters.Limit, nil
		}

		if filters.Descending {
			for k, v := seekLast(c, prefix); k != nil; k, v = c.Prev() {
				if !bytes.HasPrefix(k, prefix) {
					break
				}
				more, err := collect(v)
				if err != nil || !more {
					return err
				}
			}
			return nil
		}

		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			more, err := collect(v)
			if err != nil || !more {
				return err
			}
		}
		return nil
	})

	return events, err
}

func (s *BoltStore) RecordProbe(ctx context.Context, result *ProbeResult) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		pb := tx.Bucket(ProbesBucket)
		seq, err := pb.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate probe sequence: %w", err)
		}
		result.ID = seq

		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal probe result: %w", err)
		}
		if err := pb.Put(seqKey(result.HostID, seq), data); err != nil {
			return err
		}

		// Track the newest probe timestamp globally; session reconciliation
		// uses it to date monitoring gaps.
		mb := tx.Bucket(MetaBucket)
		if v := mb.Get(lastProbeKey); v != nil {
			var prev time.Time
			if err := prev.UnmarshalText(v); err == nil && prev.After(result.Timestamp) {
				return nil
			}
		}
		stamp, err := result.Timestamp.MarshalText()
		if err != nil {
			return err
		}
		return mb.Put(lastProbeKey, stamp)
	})
}

func (s *BoltStore) GetProbes(ctx context.Context, hostID string, filters ProbeFilters) ([]ProbeResult, error) {
	var probes []ProbeResult
	prefix := hostPrefix(hostID)

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(ProbesBucket).Cursor()

		// Newest first: count-bounded probe queries want recent history.
		for k, v := seekLast(c, prefix); k != nil; k, v = c.Prev() {
			if !bytes.HasPrefix(k, prefix) {
				break
			}
			var probe ProbeResult
			if err := json.Unmarshal(v, &probe); err != nil {
				return fmt.Errorf("failed to unmarshal probe result: %w", err)
			}
			if filters.Since != nil && probe.Timestamp.Before(*filters.Since) {
				continue
			}
			if filters.Until != nil && probe.Timestamp.After(*filters.Until) {
				continue
			}
			probes = append(probes, probe)
			if filters.Limit > 0 && len(probes) >= filters.Limit {
				break
			}
		}
		return nil
	})

	return probes, err
}

func (s *BoltStore) LastProbeTime(ctx context.Context) (*time.Time, error) {
	var last *time.Time

	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(MetaBucket).Get(lastProbeKey)
		if v == nil {
			return nil
		}
		var ts time.Time
		if err := ts.UnmarshalText(v); err != nil {
			return fmt.Errorf("failed to parse last probe timestamp: %w", err)
		}
		last = &ts
		return nil
	})
	if err != nil {
		return nil, err
	}
	return last, nil
}

func (s *BoltStore) OpenSession(ctx context.Context, startedAt time.Time) (*Session, error) {
	var session Session

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(SessionsBucket)

		// Invariant: at most one open session. Opening while another is
		// still open means reconciliation did not run; refuse.
		err := b.ForEach(func(k, v []byte) error {
			var existing Session
			if jerr := json.Unmarshal(v, &existing); jerr != nil {
				return fmt.Errorf("failed to unmarshal session %s: %w", k, jerr)
			}
			if existing.Open() {
				return fmt.Errorf("session %d: %w", existing.ID, ErrSessionConflict)
			}
			return nil
		})
		if err != nil {
			return err
		}

		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate session id: %w", err)
		}
		session = Session{ID: seq, StartedAt: startedAt}

		data, err := json.Marshal(&session)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}
		return b.Put(sessionKey(seq), data)
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *BoltStore) CloseSession(ctx context.Context, id uint64, stoppedAt time.Time, termination Termination) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(SessionsBucket)

		v := b.Get(sessionKey(id))
		if v == nil {
			return fmt.Errorf("session %d: %w", id, ErrSessionNotFound)
		}

		var session Session
		if err := json.Unmarshal(v, &session); err != nil {
			return fmt.Errorf("failed to unmarshal session %d: %w", id, err)
		}

		session.StoppedAt = &stoppedAt
		session.Termination = termination

		data, err := json.Marshal(&session)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}
		return b.Put(sessionKey(id), data)
	})
}

func (s *BoltStore) LastSession(ctx context.Context) (*Session, error) {
	var session *Session

	err := s.db.View(func(tx *bbolt.Tx) error {
		_, v := tx.Bucket(SessionsBucket).Cursor().Last()
		if v == nil {
			return nil
		}
		session = &Session{}
		return json.Unmarshal(v, session)
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (s *BoltStore) OpenSessions(ctx context.Context) ([]Session, error) {
	var open []Session

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(SessionsBucket).ForEach(func(k, v []byte) error {
			var session Session
			if err := json.Unmarshal(v, &session); err != nil {
				return fmt.Errorf("failed to unmarshal session %s: %w", k, err)
			}
			if session.Open() {
				open = append(open, session)
			}
			return nil
		})
	})

	return open, err
}

func (s *BoltStore) GetSessions(ctx context.Context) ([]Session, error) {
	var sessions []Session

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(SessionsBucket).ForEach(func(k, v []byte) error {
			var session Session
			if err := json.Unmarshal(v, &session); err != nil {
				return fmt.Errorf("failed to unmarshal session %s: %w", k, err)
			}
			sessions = append(sessions, session)
			return nil
		})
	})

	return sessions, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// seekLast positions the cursor on the last key matching prefix.
func seekLast(c *bbolt.Cursor, prefix []byte) ([]byte, []byte) {
	bound := append(append([]byte{}, prefix...), 0xff)
	k, v := c.Seek(bound)
	if k == nil {
		k, v = c.Last()
	} else {
		k, v = c.Prev()
	}
	if k == nil || !bytes.HasPrefix(k, prefix) {
		return nil, nil
	}
	return k, v
}
