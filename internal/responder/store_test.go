package responder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kotoba/internal/config"
	"github.com/hyperjump/kotoba/internal/embedding"
	"github.com/hyperjump/kotoba/internal/hnsw"
	"github.com/hyperjump/kotoba/internal/models"
	"github.com/hyperjump/kotoba/internal/storage"
	"github.com/hyperjump/kotoba/internal/vector"
)

var testWords = map[string]vector.Vector{
	"i":      {0.1, 0.1, 0.1},
	"like":   {0.2, 0.0, 0.3},
	"fish":   {1.0, 0.0, 0.0},
	"chips":  {0.9, 0.1, 0.0},
	"hello":  {0.0, 1.0, 0.0},
	"there":  {0.0, 0.8, 0.2},
	"rain":   {0.0, 0.0, 1.0},
	"cloudy": {0.1, 0.0, 0.9},
}

func newEncoder(t *testing.T) *embedding.Encoder {
	t.Helper()
	table, err := embedding.NewTable(3, testWords)
	require.NoError(t, err)
	return embedding.NewEncoder(table, 16)
}

func openTable(t *testing.T, path string) storage.ResponseTable {
	t.Helper()
	table, err := storage.NewBoltTable(path, storage.Options{})
	require.NoError(t, err)
	return table
}

func newStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	table := openTable(t, filepath.Join(t.TempDir(), "responses.db"))
	s, err := Open(context.Background(), newEncoder(t), table, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_InsertRespond(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, "I like fish", models.Response{Plain: "chips"}))

	got, err := s.Respond(ctx, "fish")
	require.NoError(t, err)
	assert.Equal(t, "chips", got.Plain)
}

func TestStore_RespondPicksNearestPrompt(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, "fish", models.Response{Plain: "chips"}))
	require.NoError(t, s.Insert(ctx, "hello", models.Response{Plain: "hi there", HTML: "<i>hi</i> there"}))
	require.NoError(t, s.Insert(ctx, "rain", models.Response{Plain: "take an umbrella"}))

	got, err := s.Respond(ctx, "HELLO there")
	require.NoError(t, err)
	assert.Equal(t, models.Response{Plain: "hi there", HTML: "<i>hi</i> there"}, got)

	got, err = s.Respond(ctx, "cloudy")
	require.NoError(t, err)
	assert.Equal(t, "take an umbrella", got.Plain)

	got, err = s.Respond(ctx, "fish chips")
	require.NoError(t, err)
	assert.Equal(t, "chips", got.Plain)
}

func TestStore_MultipleResponsesAccumulate(t *testing.T) {
	picks := []int{}
	var mu sync.Mutex
	s := newStore(t, WithChooser(func(n int) int {
		mu.Lock()
		defer mu.Unlock()
		picks = append(picks, n)
		return n - 1
	}))
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, "hello", models.Response{Plain: "hi"}))
	require.NoError(t, s.Insert(ctx, "hello", models.Response{Plain: "hey"}))
	require.NoError(t, s.Insert(ctx, "hello", models.Response{Plain: "yo"}))

	bucket, ok, err := s.Responses().Get(ctx, vector.Key(testWords["hello"]))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.Bucket{{Plain: "hi"}, {Plain: "hey"}, {Plain: "yo"}}, bucket)

	got, err := s.Respond(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, "yo", got.Plain)
	assert.Equal(t, []int{3}, picks)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.IndexSize, "duplicate prompts are indexed again")
	assert.Equal(t, int64(1), stats.StoredPrompts)
}

func TestStore_RespondDrawsFromAllResponses(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	want := map[string]bool{"a": true, "b": true}
	for plain := range want {
		require.NoError(t, s.Insert(ctx, "rain", models.Response{Plain: plain}))
	}
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		got, err := s.Respond(ctx, "rain")
		require.NoError(t, err)
		assert.True(t, want[got.Plain], "unexpected response %q", got.Plain)
		seen[got.Plain] = true
	}
	assert.Len(t, seen, 2, "both responses should be drawn")
}

func TestStore_FishAndChips(t *testing.T) {
	words := map[string]vector.Vector{
		"fish":  {1.0, 0.0},
		"chips": {0.9, 0.1},
	}
	table, err := embedding.NewTable(2, words)
	require.NoError(t, err)
	s, err := Open(context.Background(), embedding.NewEncoder(table, 0),
		openTable(t, filepath.Join(t.TempDir(), "responses.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, "fish", models.Response{Plain: "A"}))

	got, err := s.Respond(ctx, "chips")
	require.NoError(t, err)
	assert.Equal(t, models.Response{Plain: "A"}, got)

	require.NoError(t, s.Insert(ctx, "fish", models.Response{Plain: "B"}))
	bucket, ok, err := s.Responses().Get(ctx, vector.Key(vector.Vector{1, 0}))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.Bucket{{Plain: "A"}, {Plain: "B"}}, bucket)
}

func TestStore_EmptyStore(t *testing.T) {
	s := newStore(t)
	_, err := s.Respond(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNoResponses)
}

func TestStore_NoPromptVector(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	err := s.Insert(ctx, "", models.Response{Plain: "x"})
	assert.ErrorIs(t, err, ErrNoPromptVector)
	err = s.Insert(ctx, "unknown words only", models.Response{Plain: "x"})
	assert.ErrorIs(t, err, ErrNoPromptVector)

	count, err := s.Responses().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "nothing is written for a prompt without a vector")

	require.NoError(t, s.Insert(ctx, "fish", models.Response{Plain: "chips"}))
	_, err = s.Respond(ctx, "   ")
	assert.ErrorIs(t, err, ErrNoPromptVector)
}

func TestStore_ConcurrentInserts(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	const workers, perWorker = 8, 20
	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker*2)
	for w := 0; w < workers; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if err := s.Insert(ctx, "I like fish", models.Response{Plain: fmt.Sprintf("%d-%d", w, i)}); err != nil {
					errs <- err
				}
			}
		}(w)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := s.Respond(ctx, "fish"); err != nil && err != ErrNoResponses {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	v, ok := s.encoder.Encode("I like fish")
	require.True(t, ok)
	bucket, ok, err := s.Responses().Get(ctx, vector.Key(v))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, bucket, workers*perWorker)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, workers*perWorker, stats.IndexSize)
}

func TestStore_RebuildOnOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "responses.db")
	ctx := context.Background()

	s, err := Open(ctx, newEncoder(t), openTable(t, path))
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, "fish", models.Response{Plain: "chips"}))
	require.NoError(t, s.Insert(ctx, "hello there", models.Response{Plain: "general kenobi"}))
	require.NoError(t, s.Close())

	s, err = Open(ctx, newEncoder(t), openTable(t, path))
	require.NoError(t, err)
	defer s.Close()

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.IndexSize)
	assert.Equal(t, int64(2), stats.StoredPrompts)

	got, err := s.Respond(ctx, "hello there")
	require.NoError(t, err)
	assert.Equal(t, "general kenobi", got.Plain)
}

func TestStore_CorruptKeyIsFatalOnOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "responses.db")
	ctx := context.Background()

	table := openTable(t, path)
	require.NoError(t, table.Append(ctx, []byte("not a vector"), models.Response{Plain: "x"}))

	_, err := Open(ctx, newEncoder(t), table)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSerialization)
	require.NoError(t, table.Close())
}

func TestStore_WrongDimensionKeyIsFatalOnOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "responses.db")
	ctx := context.Background()

	table := openTable(t, path)
	require.NoError(t, table.Append(ctx, vector.Key(vector.Vector{1, 2}), models.Response{Plain: "x"}))

	_, err := Open(ctx, newEncoder(t), table)
	assert.ErrorIs(t, err, ErrSerialization)
	require.NoError(t, table.Close())
}

func TestStore_MissingResponses(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	// index a node the table does not know about
	_, err := s.index.Insert(testWords["fish"], hnsw.NewSearcher())
	require.NoError(t, err)

	_, err = s.Respond(ctx, "fish")
	assert.ErrorIs(t, err, ErrMissingResponses)

	// the store stays usable
	require.NoError(t, s.Insert(ctx, "hello", models.Response{Plain: "hi"}))
	got, err := s.Respond(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Plain)
}

func TestStore_IndexFailurePoisons(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	// an index of the wrong dimensionality rejects every insert
	s.index = hnsw.New(4)

	err := s.Insert(ctx, "fish", models.Response{Plain: "chips"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIndex)

	_, ok, err := s.Responses().Get(ctx, vector.Key(testWords["fish"]))
	require.NoError(t, err)
	assert.True(t, ok, "the response table is written before the index")

	err = s.Insert(ctx, "hello", models.Response{Plain: "hi"})
	assert.ErrorIs(t, err, ErrPoisoned)
	_, err = s.Respond(ctx, "fish")
	assert.ErrorIs(t, err, ErrPoisoned)
}

func TestStore_Stats(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, "fish", models.Response{Plain: "chips"}))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Stats{
		IndexSize:           1,
		StoredPrompts:       1,
		EmbeddingWords:      len(testWords),
		EmbeddingDimensions: 3,
	}, stats)
}

func writeEmbeddings(t *testing.T, path string, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	embPath := filepath.Join(dir, "vectors.txt")
	writeEmbeddings(t, embPath, "3 2\nfish 1 0\nchips 0.9 0.1\nhello 0 1\n")

	for _, backend := range []string{"bolt", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			cfg.Embedding.Path = embPath
			cfg.Storage.Backend = backend
			cfg.Storage.DatabasePath = filepath.Join(t.TempDir(), "responses.db")

			ctx := context.Background()
			s, err := Load(ctx, cfg)
			require.NoError(t, err)
			require.NoError(t, s.Insert(ctx, "hello", models.Response{Plain: "hi"}))
			require.NoError(t, s.Close())

			s, err = Load(ctx, cfg)
			require.NoError(t, err)
			defer s.Close()
			got, err := s.Respond(ctx, "hello")
			require.NoError(t, err)
			assert.Equal(t, "hi", got.Plain)
		})
	}
}

func TestLoad_EmbeddingError(t *testing.T) {
	dir := t.TempDir()
	embPath := filepath.Join(dir, "vectors.txt")
	writeEmbeddings(t, embPath, "3 2\nfish 1 0\nhello 0 1\n")

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Embedding.Path = embPath
	cfg.Storage.DatabasePath = filepath.Join(dir, "responses.db")

	_, err := Load(context.Background(), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbeddingLoad)
	assert.ErrorIs(t, err, embedding.ErrMissingVectors)

	_, statErr := os.Stat(cfg.Storage.DatabasePath)
	assert.True(t, os.IsNotExist(statErr), "the response table is not opened when embeddings fail")
}

func TestLoad_DatabaseError(t *testing.T) {
	dir := t.TempDir()
	embPath := filepath.Join(dir, "vectors.txt")
	writeEmbeddings(t, embPath, "1 2\nfish 1 0\n")

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Embedding.Path = embPath
	cfg.Storage.Backend = "carrier-pigeon"
	cfg.Storage.DatabasePath = filepath.Join(dir, "responses.db")

	_, err := Load(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrDatabase)
}
