package embedding

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kotoba/internal/vector"
)

const fishAndChips = `3 2
fish 1.0 0.0
chips 0.9 0.1
and 0.0 1.0
`

func readTable(t *testing.T, s string) *Table {
	t.Helper()
	table, err := Read(strings.NewReader(s))
	require.NoError(t, err)
	return table
}

func requireLoadError(t *testing.T, err error, kind error) *LoadError {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, kind)
	var le *LoadError
	require.True(t, errors.As(err, &le), "expected *LoadError, got %T", err)
	return le
}

func TestRead(t *testing.T) {
	table := readTable(t, fishAndChips)
	assert.Equal(t, 2, table.Dimensions())
	assert.Equal(t, 3, table.Len())
	v, ok := table.Lookup("chips")
	require.True(t, ok)
	assert.Equal(t, vector.Vector{0.9, 0.1}, v)
}

func TestRead_CRLFAndTrailingBlank(t *testing.T) {
	table := readTable(t, "1 2\r\nfish 1.0 0.0 \r\n")
	v, ok := table.Lookup("fish")
	require.True(t, ok)
	assert.Equal(t, vector.Vector{1, 0}, v)
}

func TestRead_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		kind  error
	}{
		{"empty", "", ErrMissingHeader},
		{"header too short", "3\n", ErrWrongHeader},
		{"header too long", "3 4 5\n", ErrWrongHeader},
		{"three words", "a b c\n", ErrWrongHeader},
		{"blank header", "\n1 2\n", ErrWrongHeader},
		{"header not int", "three 4\n", ErrParseInt},
		{"dimension not int", "3 4.5\n", ErrParseInt},
		{"missing word", "1 2\n 1.0 0.0\n", ErrMissingWord},
		{"blank line", "1 2\nfish 1.0 0.0\n\n", ErrMissingWord},
		{"bad float", "1 2\nfish 1.0 x\n", ErrParseFloat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.input))
			requireLoadError(t, err, tt.kind)
		})
	}
}

func TestRead_WrongDimensionality(t *testing.T) {
	_, err := Read(strings.NewReader("1 4\nfish 1.0 2.0 3.0\n"))
	le := requireLoadError(t, err, ErrWrongDimensionality)
	assert.Equal(t, 4, le.Expected)
	assert.Equal(t, 3, le.Actual)
	assert.Equal(t, 2, le.Line)
	assert.Contains(t, le.Error(), "expected a vector of dimensionality 4, got 3")
}

func TestRead_MissingVectors(t *testing.T) {
	_, err := Read(strings.NewReader("3 4\na 1 2 3 4\nb 1 2 3 4\n"))
	le := requireLoadError(t, err, ErrMissingVectors)
	assert.Equal(t, 3, le.Expected)
	assert.Equal(t, 2, le.Actual)
}

func TestRead_DuplicateWordsOverwrite(t *testing.T) {
	_, err := Read(strings.NewReader("2 1\nfish 1\nfish 2\n"))
	le := requireLoadError(t, err, ErrMissingVectors)
	assert.Equal(t, 1, le.Actual)

	table := readTable(t, "1 1\nfish 1\nfish 2\n")
	v, _ := table.Lookup("fish")
	assert.Equal(t, vector.Vector{2}, v)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.txt"))
	le := requireLoadError(t, err, ErrIO)
	assert.True(t, errors.Is(le, os.ErrNotExist))
}

func TestLoad_Compressed(t *testing.T) {
	dir := t.TempDir()

	gzPath := filepath.Join(dir, "vectors.txt.gz")
	f, err := os.Create(gzPath)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte(fishAndChips))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	zstPath := filepath.Join(dir, "vectors.txt.zst")
	f, err = os.Create(zstPath)
	require.NoError(t, err)
	zw, err := zstd.NewWriter(f)
	require.NoError(t, err)
	_, err = zw.Write([]byte(fishAndChips))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	for _, path := range []string{gzPath, zstPath} {
		table, err := Load(path)
		require.NoError(t, err, path)
		assert.Equal(t, 3, table.Len(), path)
	}
}

func TestLoad_CorruptGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.txt.gz")
	require.NoError(t, os.WriteFile(path, []byte("plain text"), 0600))
	_, err := Load(path)
	requireLoadError(t, err, ErrIO)
}

func TestEncode_Deterministic(t *testing.T) {
	table := readTable(t, fishAndChips)
	a, ok := table.Encode("Fish and chips")
	require.True(t, ok)
	b, ok := table.Encode("Fish and chips")
	require.True(t, ok)
	for i := range a {
		assert.Equal(t, math.Float64bits(a[i]), math.Float64bits(b[i]))
	}
	assert.Equal(t, vector.Key(a), vector.Key(b))
}

func TestEncode_Mean(t *testing.T) {
	table := readTable(t, fishAndChips)
	v, ok := table.Encode("fish chips")
	require.True(t, ok)
	fish, _ := table.Lookup("fish")
	chips, _ := table.Lookup("chips")
	want := vector.Vector{(fish[0] + chips[0]) / 2, (fish[1] + chips[1]) / 2}
	assert.True(t, vector.Equal(want, v), "got %v, want %v", v, want)
}

func TestEncode_UnknownWords(t *testing.T) {
	table := readTable(t, fishAndChips)

	_, ok := table.Encode("zzqx")
	assert.False(t, ok)
	_, ok = table.Encode("")
	assert.False(t, ok)

	v, ok := table.Encode("zzqx fish")
	require.True(t, ok)
	fish, _ := table.Lookup("fish")
	assert.True(t, vector.Equal(fish, v))

	// punctuation is not stripped
	_, ok = table.Encode("fish?")
	assert.False(t, ok)
}

func TestEncode_DoesNotAliasTable(t *testing.T) {
	table := readTable(t, fishAndChips)
	v, ok := table.Encode("fish")
	require.True(t, ok)
	v[0] = 42
	fish, _ := table.Lookup("fish")
	assert.Equal(t, 1.0, fish[0])
}

func TestNewTable_ChecksDimensions(t *testing.T) {
	_, err := NewTable(2, map[string]vector.Vector{"fish": {1}})
	requireLoadError(t, err, ErrWrongDimensionality)
}

func TestEncoder_CachesResults(t *testing.T) {
	enc := NewEncoder(readTable(t, fishAndChips), 8)
	v, ok := enc.Encode("fish")
	require.True(t, ok)
	v[0] = 42 // must not poison the cache

	again, ok := enc.Encode("fish")
	require.True(t, ok)
	assert.Equal(t, vector.Vector{1, 0}, again)

	_, ok = enc.Encode("zzqx")
	assert.False(t, ok)
	_, ok = enc.Encode("zzqx")
	assert.False(t, ok)
	assert.Equal(t, 2, enc.cache.Len())
}
