// internal/database/maintenance.go - operator-invoked upkeep operations
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"
)

// PurgeProbesBefore removes probe results older than cutoff. The event log
// and projection are untouched: state history stays permanent, only the raw
// probe audit trail is trimmed, and only when an operator asks for it.
func (s *BoltStore) PurgeProbesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(ProbesBucket)
		c := b.Cursor()

		var stale [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var probe ProbeResult
			if err := json.Unmarshal(v, &probe); err != nil {
				continue
			}
			if probe.Timestamp.Before(cutoff) {
				stale = append(stale, copyBytes(k))
			}
		}

		for _, key := range stale {
			if err := b.Delete(key); err != nil {
				return fmt.Errorf("failed to delete probe entry: %w", err)
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge probe history: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"deleted": deleted,
		"cutoff":  cutoff,
	}).Info("Purged old probe results")

	return deleted, nil
}

// Stats returns database size and content counts.
func (s *BoltStore) Stats(ctx context.Context) (*StoreStats, error) {
	stats := &StoreStats{}

	err := s.db.View(func(tx *bbolt.Tx) error {
		stats.Hosts = tx.Bucket(HostsBucket).Stats().KeyN
		stats.Events = tx.Bucket(EventsBucket).Stats().KeyN
		stats.Probes = tx.Bucket(ProbesBucket).Stats().KeyN
		stats.Sessions = tx.Bucket(SessionsBucket).Stats().KeyN

		c := tx.Bucket(ProbesBucket).Cursor()
		if _, v := c.First(); v != nil {
			var probe ProbeResult
			if err := json.Unmarshal(v, &probe); err == nil {
				stats.OldestProbe = probe.Timestamp
			}
		}
		if _, v := c.Last(); v != nil {
			var probe ProbeResult
			if err := json.Unmarshal(v, &probe); err == nil {
				stats.NewestProbe = probe.Timestamp
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to collect store stats: %w", err)
	}

	if info, err := os.Stat(s.path); err == nil {
		stats.SizeBytes = info.Size()
	}

	return stats, nil
}

// Compact rewrites the database into a fresh file and swaps it in. BoltDB
// never shrinks a file on its own, so this is how purged space is reclaimed.
func (s *BoltStore) Compact(ctx context.Context) error {
	logrus.Info("Starting database compaction")

	tmpPath := s.path + ".compact.tmp"

	compacted, err := bbolt.Open(tmpPath, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to create compact database: %w", err)
	}

	cleanup := func() {
		compacted.Close()
		os.Remove(tmpPath)
	}

	buckets := [][]byte{HostsBucket, EventsBucket, StateBucket, ProbesBucket, SessionsBucket, MetaBucket}

	err = s.db.View(func(src *bbolt.Tx) error {
		return compacted.Update(func(dst *bbolt.Tx) error {
			for _, name := range buckets {
				srcBucket := src.Bucket(name)
				dstBucket, err := dst.CreateBucket(name)
				if err != nil {
					return fmt.Errorf("failed to create bucket %s: %w", name, err)
				}
				if err := dstBucket.SetSequence(srcBucket.Sequence()); err != nil {
					return fmt.Errorf("failed to carry sequence for %s: %w", name, err)
				}

				c := srcBucket.Cursor()
				for k, v := c.First(); k != nil; k, v = c.Next() {
					if err := dstBucket.Put(copyBytes(k), copyBytes(v)); err != nil {
						return fmt.Errorf("failed to copy data: %w", err)
					}
				}
			}
			return nil
		})
	})
	if err != nil {
		cleanup()
		return fmt.Errorf("failed to copy data to compact database: %w", err)
	}

	if err := compacted.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close compact database: %w", err)
	}
	if err := s.db.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close database: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to replace database: %w", err)
	}

	s.db, err = bbolt.Open(s.path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to reopen compacted database: %w", err)
	}

	logrus.Info("Database compaction completed")
	return nil
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	copied := make([]byte, len(b))
	copy(copied, b)
	return copied
}
