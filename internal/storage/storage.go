// Package storage defines the durable response table: canonical vector keys
// mapped to encoded response buckets.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/kotoba/internal/models"
)

// ErrCorrupt is wrapped by errors caused by a stored value that cannot be decoded.
var ErrCorrupt = errors.New("corrupt stored value")

// ResponseTable is the source of truth for learned responses.
// Implementations must be safe for concurrent use.
type ResponseTable interface {
	// Append adds r to the bucket stored under key, creating the bucket if
	// needed. The read-modify-write is atomic with respect to other Appends
	// and is durable when Append returns.
	Append(ctx context.Context, key []byte, r models.Response) error
	// Get returns the bucket stored under key. ok is false when there is none.
	Get(ctx context.Context, key []byte) (bucket models.Bucket, ok bool, err error)
	// ForEach calls fn for every stored pair. key is only valid during the call.
	ForEach(ctx context.Context, fn func(key []byte, bucket models.Bucket) error) error
	// Count returns the number of stored keys.
	Count(ctx context.Context) (int64, error)

	// ImportFingerprint returns the fingerprint recorded for an imported file.
	ImportFingerprint(ctx context.Context, fileID string) (fingerprint string, ok bool, err error)
	// SetImportFingerprint records the fingerprint of an imported file.
	SetImportFingerprint(ctx context.Context, fileID, fingerprint string) error

	Close() error
}

// Backend names a ResponseTable implementation.
type Backend string

const (
	// BackendBolt stores responses in a bbolt file. It is the default.
	BackendBolt Backend = "bolt"
	// BackendSQLite stores responses in a SQLite database in WAL mode.
	BackendSQLite Backend = "sqlite"
)

// Options configures NewResponseTable.
type Options struct {
	// OpenTimeout bounds how long to wait for the file lock (bolt) or a busy
	// database (sqlite). Zero means the backend default.
	OpenTimeout time.Duration
}

// NewResponseTable opens or creates a response table of the given backend at path.
func NewResponseTable(backend string, path string, opts Options) (ResponseTable, error) {
	switch Backend(backend) {
	case BackendBolt, "":
		return NewBoltTable(path, opts)
	case BackendSQLite:
		return NewSQLiteTable(path, opts)
	default:
		return nil, unknownBackend(backend)
	}
}

func unknownBackend(backend string) error {
	return fmt.Errorf("unknown storage backend: %s (supported: bolt, sqlite)", backend)
}

func decodeStored(key, data []byte) (models.Bucket, error) {
	b, err := models.DecodeBucket(data)
	if err != nil {
		return nil, fmt.Errorf("%w: key %x: %w", ErrCorrupt, key, err)
	}
	return b, nil
}
