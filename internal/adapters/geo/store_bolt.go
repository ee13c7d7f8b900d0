package geo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"

	"github.com/xoelrdgz/authradar/internal/domain"
)

var GeoBucket = []byte("geo_cache")

// BoltStore keeps the cache table in a bbolt database, one key per IP.
// Save replaces the bucket inside a single transaction.
type BoltStore struct {
	db   *bolt.DB
	path string
}

func OpenBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout:    2 * time.Second,
		NoGrowSync: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(GeoBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BoltStore{db: db, path: path}, nil
}

func (s *BoltStore) Load() (map[string]domain.CacheEntry, error) {
	entries := make(map[string]domain.CacheEntry)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(GeoBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var entry domain.CacheEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				log.Warn().Err(err).Str("ip", string(k)).Msg("Skipping corrupt cache entry")
				return nil
			}
			entries[string(k)] = entry
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("read bolt cache: %w", err)
	}
	return entries, nil
}

func (s *BoltStore) Save(entries map[string]domain.CacheEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(GeoBucket); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		b, err := tx.CreateBucket(GeoBucket)
		if err != nil {
			return err
		}
		for ip, entry := range entries {
			data, err := json.Marshal(entry)
			if err != nil {
				return fmt.Errorf("encode %s: %w", ip, err)
			}
			if err := b.Put([]byte(ip), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) Location() string {
	return s.path
}

func (s *BoltStore) Size() (int64, error) {
	var size int64
	err := s.db.View(func(tx *bolt.Tx) error {
		size = tx.Size()
		return nil
	})
	return size, err
}

func (s *BoltStore) Backend() string {
	return "bolt"
}

func (s *BoltStore) Close() error {
	if s.db != nil {
		log.Info().Str("db_path", s.path).Msg("Closing geo cache store")
		return s.db.Close()
	}
	return nil
}
