package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/samvad-hq/samvad-search-scraper/internal/domain"
	bolt "go.etcd.io/bbolt"
)

const (
	progressBucket = "progress"
	failedBucket   = "failed"
)

// boltStore implements a Store backed by BoltDB. Progress lives in one bucket
// keyed by category; failures in a nested bucket per category keyed by item id.
type boltStore struct {
	db *bolt.DB
}

// openBolt initializes a BoltDB-backed Store.
func openBolt(path string) (Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{progressBucket, failedBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}

	return &boltStore{db: db}, nil
}

// Close closes the BoltDB store.
func (b *boltStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *boltStore) LoadPage(category string) (int, bool, error) {
	var (
		page  int
		found bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(progressBucket))
		if bucket == nil {
			return fmt.Errorf("progress bucket missing")
		}
		value := bucket.Get([]byte(category))
		if value == nil {
			return nil
		}
		n, err := strconv.Atoi(string(value))
		if err != nil || n < 0 {
			return fmt.Errorf("progress for %s: %w: %q", category, ErrCorruptState, value)
		}
		page, found = n, true
		return nil
	})
	return page, found, err
}

func (b *boltStore) SavePage(category string, page int) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(progressBucket))
		if bucket == nil {
			return fmt.Errorf("progress bucket missing")
		}
		return bucket.Put([]byte(category), []byte(strconv.Itoa(page)))
	})
}

func (b *boltStore) MarkFailed(category string, item domain.FailedItem) error {
	value, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode failed item: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(failedBucket))
		if root == nil {
			return fmt.Errorf("failed bucket missing")
		}
		bucket, err := root.CreateBucketIfNotExists([]byte(category))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(item.ObjectID), value)
	})
}

func (b *boltStore) FailedItems(category string) ([]domain.FailedItem, error) {
	ledger := map[string]domain.FailedItem{}
	err := b.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(failedBucket))
		if root == nil {
			return fmt.Errorf("failed bucket missing")
		}
		bucket := root.Bucket([]byte(category))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var item domain.FailedItem
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("failed item %s/%s: %w: %v", category, k, ErrCorruptState, err)
			}
			ledger[string(k)] = item
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return sortedFailures(ledger), nil
}

func (b *boltStore) ClearFailed(category, objectID string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(failedBucket))
		if root == nil {
			return fmt.Errorf("failed bucket missing")
		}
		bucket := root.Bucket([]byte(category))
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(objectID))
	})
}
