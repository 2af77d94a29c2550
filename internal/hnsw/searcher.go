package hnsw

import "github.com/bits-and-blooms/bitset"

// Searcher is the scratch state of one graph traversal. A Searcher may be
// reused across calls but must not be shared by concurrent callers.
type Searcher struct {
	visited    bitset.BitSet
	candidates priorityQueue
	results    priorityQueue
}

// NewSearcher returns an empty Searcher.
func NewSearcher() *Searcher {
	return &Searcher{results: priorityQueue{farthestFirst: true}}
}

func (s *Searcher) reset() {
	s.visited.ClearAll()
	s.candidates.reset()
	s.results.reset()
}
