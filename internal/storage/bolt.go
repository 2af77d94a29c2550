package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/hyperjump/kotoba/internal/models"
)

var (
	responsesBucket = []byte("responses")
	importsBucket   = []byte("imports")
)

// BoltTable implements ResponseTable on a bbolt file. bbolt serialises
// writers, so every Append runs alone and commits with an fsync.
type BoltTable struct {
	db *bolt.DB
}

// NewBoltTable opens or creates the bbolt file at path. Parent directories are
// created if they do not exist. The file is locked exclusively while open.
func NewBoltTable(path string, opts Options) (*BoltTable, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: opts.OpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{responsesBucket, importsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}
	return &BoltTable{db: db}, nil
}

// Append adds r to the bucket under key inside a single write transaction.
func (s *BoltTable) Append(ctx context.Context, key []byte, r models.Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(responsesBucket)
		existing := b.Get(key)
		data, err := models.AppendEncoded(existing, r)
		if err != nil {
			return fmt.Errorf("%w: key %x: %w", ErrCorrupt, key, err)
		}
		return b.Put(key, data)
	})
}

// Get returns the bucket stored under key.
func (s *BoltTable) Get(ctx context.Context, key []byte) (models.Bucket, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var (
		bucket models.Bucket
		found  bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(responsesBucket).Get(key)
		if data == nil {
			return nil
		}
		found = true
		var err error
		bucket, err = decodeStored(key, data)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return bucket, found, nil
}

// ForEach walks every stored pair in key order inside one read transaction.
func (s *BoltTable) ForEach(ctx context.Context, fn func(key []byte, bucket models.Bucket) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(responsesBucket).ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			bucket, err := decodeStored(k, v)
			if err != nil {
				return err
			}
			return fn(k, bucket)
		})
	})
}

// Count returns the number of stored keys.
func (s *BoltTable) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.View(func(tx *bolt.Tx) error {
		n = int64(tx.Bucket(responsesBucket).Stats().KeyN)
		return nil
	})
	return n, err
}

// ImportFingerprint returns the fingerprint recorded for fileID.
func (s *BoltTable) ImportFingerprint(ctx context.Context, fileID string) (string, bool, error) {
	var (
		fp    string
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(importsBucket).Get([]byte(fileID)); v != nil {
			fp, found = string(v), true
		}
		return nil
	})
	return fp, found, err
}

// SetImportFingerprint records the fingerprint for fileID.
func (s *BoltTable) SetImportFingerprint(ctx context.Context, fileID, fingerprint string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(importsBucket).Put([]byte(fileID), []byte(fingerprint))
	})
}

// Close releases the file lock.
func (s *BoltTable) Close() error {
	return s.db.Close()
}
