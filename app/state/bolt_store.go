package state

import (
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var watermarkBucket = []byte("watermarks")

// BoltStore keeps job watermarks in a local bbolt file, for deployments that
// want scheduler state outside the article database.
type BoltStore struct {
	db *bolt.DB
}

func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open state file: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(watermarkBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialise state file: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) GetWatermark(_ context.Context, jobType string) (*time.Time, error) {
	var mark *time.Time
	err := s.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(watermarkBucket).Get([]byte(jobType))
		if value == nil {
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, string(value))
		if err != nil {
			return fmt.Errorf("invalid watermark for %s: %w", jobType, err)
		}
		mark = &t
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read watermark: %w", err)
	}
	return mark, nil
}

// AdvanceWatermark stores mark unless the stored watermark is already later.
func (s *BoltStore) AdvanceWatermark(_ context.Context, jobType string, mark time.Time) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(watermarkBucket)
		if value := bucket.Get([]byte(jobType)); value != nil {
			current, err := time.Parse(time.RFC3339Nano, string(value))
			if err == nil && !mark.After(current) {
				return nil
			}
		}
		return bucket.Put([]byte(jobType), []byte(mark.UTC().Format(time.RFC3339Nano)))
	})
	if err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}
	return nil
}

func (s *BoltStore) ListWatermarks(_ context.Context) (map[string]time.Time, error) {
	marks := make(map[string]time.Time)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(watermarkBucket).ForEach(func(k, v []byte) error {
			t, err := time.Parse(time.RFC3339Nano, string(v))
			if err != nil {
				return fmt.Errorf("invalid watermark for %s: %w", k, err)
			}
			marks[string(k)] = t
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list watermarks: %w", err)
	}
	return marks, nil
}
