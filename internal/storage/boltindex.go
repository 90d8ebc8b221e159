package storage

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var indexBucketName = []byte("wal_offsets")

// BoltIndexStore is a Store backed by a single bbolt database file. The WAL
// (internal/wal) writes one of these to map a monotonic offset to the byte
// position of that entry's frame within its segment file. The WAL only
// writes it: Replay scans every entry from the start of the file without
// consulting the index, and nothing rebuilds the index from the WAL if it
// is stale or missing.
type BoltIndexStore struct {
	db *bolt.DB
}

// OpenBoltIndexStore opens (creating if necessary) a bbolt file at path.
func OpenBoltIndexStore(path string) (*BoltIndexStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open bolt index %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(indexBucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: init bolt index bucket: %w", err)
	}
	return &BoltIndexStore{db: db}, nil
}

func (s *BoltIndexStore) Close() error { return s.db.Close() }

func (s *BoltIndexStore) Get(key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(indexBucketName).Get([]byte(key))
		if v == nil {
			return ErrKeyNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltIndexStore) Put(key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(indexBucketName).Put([]byte(key), value)
	})
}

func (s *BoltIndexStore) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(indexBucketName).Delete([]byte(key))
	})
}

func (s *BoltIndexStore) List() []string {
	var keys []string
	_ = s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(indexBucketName).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	return keys
}

func (s *BoltIndexStore) Stats() StoreStats {
	var stats StoreStats
	_ = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(indexBucketName)
		stats.Keys = b.Stats().KeyN
		return b.ForEach(func(_, v []byte) error {
			stats.Bytes += len(v)
			return nil
		})
	})
	return stats
}
