// Package catalog persists an index of finished recordings in a BoltDB file.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

const recordingBucket = "recordings"

// ErrNotFound indicates a requested recording is missing.
var ErrNotFound = errors.New("recording not found")

// Recording describes one finished record session.
type Recording struct {
	// Locator addresses the archive holding the recorded messages.
	Locator string `json:"locator"`
	// Topics are the topic names that were subscribed.
	Topics []string `json:"topics"`
	// Started and Ended bound the record session in wall-clock time.
	Started time.Time `json:"started"`
	Ended   time.Time `json:"ended"`
	// Messages is the number of records appended.
	Messages int64 `json:"messages"`
}

// Store provides a BoltDB-backed recording catalog.
type Store struct {
	db *bbolt.DB
}

// Open opens a catalog at the provided path, creating it when missing.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("catalog path is required")
	}

	cleanPath := filepath.Clean(path)
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open catalog db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put persists a recording entry keyed by its locator.
func (s *Store) Put(rec Recording) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("catalog is not configured")
	}
	if strings.TrimSpace(rec.Locator) == "" {
		return fmt.Errorf("recording locator is required")
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal recording: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(recordingBucket))
		if bucket == nil {
			return fmt.Errorf("recording bucket is missing")
		}
		return bucket.Put([]byte(rec.Locator), payload)
	})
}

// Get fetches a recording entry by locator.
func (s *Store) Get(locator string) (Recording, error) {
	if s == nil || s.db == nil {
		return Recording{}, fmt.Errorf("catalog is not configured")
	}

	var rec Recording
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(recordingBucket))
		if bucket == nil {
			return fmt.Errorf("recording bucket is missing")
		}
		payload := bucket.Get([]byte(locator))
		if payload == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(payload, &rec); err != nil {
			return fmt.Errorf("unmarshal recording: %w", err)
		}
		return nil
	})
	if err != nil {
		return Recording{}, err
	}
	return rec, nil
}

// List returns all recordings ordered by start time.
func (s *Store) List() ([]Recording, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("catalog is not configured")
	}

	var recs []Recording
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(recordingBucket))
		if bucket == nil {
			return fmt.Errorf("recording bucket is missing")
		}
		return bucket.ForEach(func(_, payload []byte) error {
			var rec Recording
			if err := json.Unmarshal(payload, &rec); err != nil {
				return fmt.Errorf("unmarshal recording: %w", err)
			}
			recs = append(recs, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(recs, func(i, j int) bool {
		return recs[i].Started.Before(recs[j].Started)
	})
	return recs, nil
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(recordingBucket)); err != nil {
			return fmt.Errorf("create recording bucket: %w", err)
		}
		return nil
	})
}
