package embedding

import "github.com/hyperjump/kotoba/internal/vector"

// Encoder turns utterances into vectors using a Table, remembering recent
// results in an optional LRU cache.
type Encoder struct {
	table *Table
	cache *EncodingCache
}

// NewEncoder returns an encoder over table. cacheSize <= 0 disables caching.
func NewEncoder(table *Table, cacheSize int) *Encoder {
	e := &Encoder{table: table}
	if cacheSize > 0 {
		e.cache = NewEncodingCache(cacheSize)
	}
	return e
}

// Table returns the underlying embedding table.
func (e *Encoder) Table() *Table { return e.table }

// Encode is Table.Encode with caching. The returned vector is owned by the caller.
func (e *Encoder) Encode(utterance string) (vector.Vector, bool) {
	if e.cache == nil {
		return e.table.Encode(utterance)
	}
	if v, ok := e.cache.Get(utterance); ok {
		return v.Clone(), v != nil
	}
	v, ok := e.table.Encode(utterance)
	e.cache.Set(utterance, v.Clone())
	return v, ok
}
