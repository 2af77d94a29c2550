// Package responder is the vector-indexed response store: it learns responses
// for prompts and answers a new prompt with a response learned for the
// closest known prompt.
package responder

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyperjump/kotoba/internal/config"
	"github.com/hyperjump/kotoba/internal/embedding"
	"github.com/hyperjump/kotoba/internal/hnsw"
	"github.com/hyperjump/kotoba/internal/models"
	"github.com/hyperjump/kotoba/internal/storage"
	"github.com/hyperjump/kotoba/internal/vector"
	"go.uber.org/zap"
)

// Store maps utterance meanings to learned responses. It is safe for
// concurrent use.
//
// Every key in the response table has exactly one node with the same
// coordinates in the index. Insert writes the table first and the index
// second; if the index write fails the store refuses further calls.
type Store struct {
	encoder   *embedding.Encoder
	responses storage.ResponseTable

	mu        sync.RWMutex
	index     *hnsw.Graph
	writer    *hnsw.Searcher // guarded by mu (write)
	searchers sync.Pool      // *hnsw.Searcher for readers

	indexOpts hnsw.Options
	efSearch  int
	choose    func(n int) int
	logger    *zap.Logger
	poisoned  atomic.Bool
}

// Load builds a Store from configuration: it loads the embedding table, opens
// the response table and rebuilds the index from every stored key.
func Load(ctx context.Context, cfg *config.Config, opts ...Option) (*Store, error) {
	table, err := embedding.Load(cfg.Embedding.Path)
	if err != nil {
		return nil, &Error{Op: "load", Kind: ErrEmbeddingLoad, Err: err}
	}
	responses, err := storage.NewResponseTable(cfg.Storage.Backend, cfg.Storage.DatabasePath, storage.Options{
		OpenTimeout: cfg.Storage.OpenTimeout,
	})
	if err != nil {
		return nil, &Error{Op: "load", Kind: ErrDatabase, Err: err}
	}

	base := []Option{
		WithIndexOptions(hnsw.Options{
			M:              cfg.Index.M,
			M0:             cfg.Index.M0,
			EFConstruction: cfg.Index.EFConstruction,
			Seed:           cfg.Index.Seed,
		}),
		WithEFSearch(cfg.Index.EFSearch),
	}
	s, err := Open(ctx, embedding.NewEncoder(table, cfg.Embedding.CacheSize), responses, append(base, opts...)...)
	if err != nil {
		_ = responses.Close()
		return nil, err
	}
	return s, nil
}

// Open assembles a Store from an encoder and an already open response table,
// rebuilding the index from the table. The store takes ownership of responses
// only on success.
func Open(ctx context.Context, encoder *embedding.Encoder, responses storage.ResponseTable, opts ...Option) (*Store, error) {
	s := &Store{
		encoder:   encoder,
		responses: responses,
		writer:    hnsw.NewSearcher(),
		indexOpts: hnsw.DefaultOptions,
		efSearch:  hnsw.DefaultOptions.EFConstruction,
		choose:    rand.IntN,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.searchers.New = func() any { return hnsw.NewSearcher() }
	s.index = hnsw.New(encoder.Table().Dimensions(), func(o *hnsw.Options) { *o = s.indexOpts })

	if err := s.rebuild(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) rebuild(ctx context.Context) error {
	start := time.Now()
	err := s.responses.ForEach(ctx, func(key []byte, _ models.Bucket) error {
		v, err := vector.FromKey(key)
		if err != nil {
			return &Error{Op: "load", Kind: ErrSerialization, Err: fmt.Errorf("key %x: %w", key, err)}
		}
		if _, err := s.index.Insert(v, s.writer); err != nil {
			var mismatch *hnsw.ErrDimensionMismatch
			if errors.As(err, &mismatch) {
				return &Error{Op: "load", Kind: ErrSerialization, Err: fmt.Errorf("key %x: %w", key, err)}
			}
			return &Error{Op: "load", Kind: ErrIndex, Err: err}
		}
		return nil
	})
	if err != nil {
		var se *Error
		if errors.As(err, &se) {
			return err
		}
		return tableError("load", err)
	}
	s.logger.Info("response index rebuilt",
		zap.Int("prompts", s.index.Len()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// Insert learns response for prompt. Inserting the same prompt again adds
// another response for it.
func (s *Store) Insert(ctx context.Context, prompt string, response models.Response) error {
	if s.poisoned.Load() {
		return &Error{Op: "insert", Kind: ErrPoisoned}
	}
	v, ok := s.encoder.Encode(prompt)
	if !ok {
		return ErrNoPromptVector
	}
	key := vector.Key(v)
	if err := s.responses.Append(ctx, key, response); err != nil {
		return tableError("insert", err)
	}
	if err := s.insertIndex(v); err != nil {
		s.poisoned.Store(true)
		s.logger.Error("index insert failed after response was stored; refusing further calls",
			zap.String("key", fmt.Sprintf("%x", key)),
			zap.Error(err),
		)
		return &Error{Op: "insert", Kind: ErrIndex, Err: err}
	}
	s.logger.Debug("response learned", zap.String("prompt", prompt))
	return nil
}

func (s *Store) insertIndex(v vector.Vector) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	_, err = s.index.Insert(v, s.writer)
	return err
}

// Respond returns one of the responses learned for the indexed prompt closest
// to prompt.
func (s *Store) Respond(ctx context.Context, prompt string) (models.Response, error) {
	if s.poisoned.Load() {
		return models.Response{}, &Error{Op: "respond", Kind: ErrPoisoned}
	}
	v, ok := s.encoder.Encode(prompt)
	if !ok {
		return models.Response{}, ErrNoPromptVector
	}

	key, found, err := s.nearestKey(v)
	if err != nil {
		return models.Response{}, &Error{Op: "respond", Kind: ErrIndex, Err: err}
	}
	if !found {
		return models.Response{}, ErrNoResponses
	}

	bucket, ok, err := s.responses.Get(ctx, key)
	if err != nil {
		return models.Response{}, tableError("respond", err)
	}
	if !ok {
		s.logger.Error("indexed prompt has no stored responses", zap.String("key", fmt.Sprintf("%x", key)))
		return models.Response{}, ErrMissingResponses
	}
	return bucket[s.choose(len(bucket))], nil
}

func (s *Store) nearestKey(v vector.Vector) ([]byte, bool, error) {
	searcher := s.searchers.Get().(*hnsw.Searcher)
	defer s.searchers.Put(searcher)

	s.mu.RLock()
	defer s.mu.RUnlock()
	found, err := s.index.Nearest(v, 1, s.efSearch, searcher)
	if err != nil || len(found) == 0 {
		return nil, false, err
	}
	return vector.Key(s.index.Feature(found[0].ID)), true, nil
}

// Stats reports index and table sizes.
func (s *Store) Stats(ctx context.Context) (models.Stats, error) {
	s.mu.RLock()
	size := s.index.Len()
	s.mu.RUnlock()

	count, err := s.responses.Count(ctx)
	if err != nil {
		return models.Stats{}, tableError("stats", err)
	}
	table := s.encoder.Table()
	return models.Stats{
		IndexSize:           size,
		StoredPrompts:       count,
		EmbeddingWords:      table.Len(),
		EmbeddingDimensions: table.Dimensions(),
	}, nil
}

// Responses returns the underlying response table.
func (s *Store) Responses() storage.ResponseTable { return s.responses }

// Close closes the response table.
func (s *Store) Close() error {
	return s.responses.Close()
}

func tableError(op string, err error) error {
	if errors.Is(err, storage.ErrCorrupt) {
		return &Error{Op: op, Kind: ErrSerialization, Err: err}
	}
	return &Error{Op: op, Kind: ErrDatabase, Err: err}
}
