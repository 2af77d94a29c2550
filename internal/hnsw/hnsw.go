// Package hnsw implements a Hierarchical Navigable Small World graph over
// float64 vectors with Euclidean distance.
//
// A Graph is not safe for concurrent use when one of the callers mutates it.
// Concurrent Nearest and Feature calls are safe as long as each caller passes
// its own Searcher.
package hnsw

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/hyperjump/kotoba/internal/vector"
)

// ErrDimensionMismatch is returned when a vector does not have the graph's dimensionality.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Options configures a Graph.
type Options struct {
	// M is the number of links a new node keeps on the upper layers.
	M int
	// M0 is the number of links a node keeps on layer 0.
	M0 int
	// EFConstruction is the candidate list size used while inserting.
	EFConstruction int
	// Seed seeds the PCG source that draws node layers.
	Seed uint64
}

// DefaultOptions mirrors the parameters the response store has always used.
var DefaultOptions = Options{
	M:              12,
	M0:             24,
	EFConstruction: 24,
}

type node struct {
	vector  vector.Vector
	friends [][]uint32 // friends[level] are the links on that layer
}

// Graph is the HNSW index.
type Graph struct {
	dimension int
	opts      Options
	ml        float64 // level normalisation factor, 1/ln(M)
	rng       *rand.Rand
	nodes     []*node
	entry     uint32
	maxLevel  int
}

// New creates an empty graph for vectors of the given dimension.
func New(dimension int, optFns ...func(o *Options)) *Graph {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.M < 2 {
		// ml would be 1/ln(1) = +Inf
		opts.M = 2
	}
	if opts.M0 < opts.M {
		opts.M0 = 2 * opts.M
	}
	if opts.EFConstruction < opts.M {
		opts.EFConstruction = opts.M
	}
	return &Graph{
		dimension: dimension,
		opts:      opts,
		ml:        1 / math.Log(float64(opts.M)),
		rng:       rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
	}
}

// Dimension returns the dimensionality of the vectors stored in the graph.
func (g *Graph) Dimension() int { return g.dimension }

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Feature returns the coordinates stored for id. The returned vector must not be modified.
func (g *Graph) Feature(id uint32) vector.Vector {
	return g.nodes[id].vector
}

// Insert adds v as a new node and returns its id. Inserting the same
// coordinates twice creates two nodes.
func (g *Graph) Insert(v vector.Vector, s *Searcher) (uint32, error) {
	if len(v) != g.dimension {
		return 0, &ErrDimensionMismatch{Expected: g.dimension, Actual: len(v)}
	}
	level := g.randomLevel()
	n := &node{vector: v.Clone(), friends: make([][]uint32, level+1)}
	id := uint32(len(g.nodes))
	g.nodes = append(g.nodes, n)
	if id == 0 {
		g.entry = id
		g.maxLevel = level
		return id, nil
	}

	ep := Neighbor{ID: g.entry, Distance: vector.EuclideanBits(v, g.nodes[g.entry].vector)}
	for l := g.maxLevel; l > level; l-- {
		ep = g.greedy(v, ep, l)
	}

	for l := min(level, g.maxLevel); l >= 0; l-- {
		candidates := g.searchLayer(s, v, ep, g.opts.EFConstruction, l, id)
		if len(candidates) == 0 {
			continue
		}
		selected := g.selectNeighbours(candidates, g.opts.M)
		n.friends[l] = make([]uint32, len(selected))
		for i, c := range selected {
			n.friends[l][i] = c.ID
		}
		for _, c := range selected {
			g.link(c.ID, id, l)
		}
		ep = candidates[0]
	}

	if level > g.maxLevel {
		g.entry = id
		g.maxLevel = level
	}
	return id, nil
}

// Nearest returns up to k approximate nearest neighbours of q in ascending
// distance order. ef is the search candidate list size; it is raised to k when
// smaller. An empty graph yields no neighbours.
func (g *Graph) Nearest(q vector.Vector, k, ef int, s *Searcher) ([]Neighbor, error) {
	if len(q) != g.dimension {
		return nil, &ErrDimensionMismatch{Expected: g.dimension, Actual: len(q)}
	}
	if k <= 0 || len(g.nodes) == 0 {
		return nil, nil
	}
	ef = max(ef, k)
	ep := Neighbor{ID: g.entry, Distance: vector.EuclideanBits(q, g.nodes[g.entry].vector)}
	for l := g.maxLevel; l > 0; l-- {
		ep = g.greedy(q, ep, l)
	}
	found := g.searchLayer(s, q, ep, ef, 0, math.MaxUint32)
	if len(found) > k {
		found = found[:k]
	}
	return found, nil
}

func (g *Graph) randomLevel() int {
	// 1-Float64() is in (0, 1], so the logarithm is finite.
	return int(math.Floor(-math.Log(1-g.rng.Float64()) * g.ml))
}

func (g *Graph) maxFriends(level int) int {
	if level == 0 {
		return g.opts.M0
	}
	return g.opts.M
}

// greedy walks layer level towards q until no friend is closer than ep.
func (g *Graph) greedy(q vector.Vector, ep Neighbor, level int) Neighbor {
	for changed := true; changed; {
		changed = false
		friends := g.nodes[ep.ID].friends
		if level >= len(friends) {
			break
		}
		for _, f := range friends[level] {
			c := Neighbor{ID: f, Distance: vector.EuclideanBits(q, g.nodes[f].vector)}
			if closer(c, ep) {
				ep = c
				changed = true
			}
		}
	}
	return ep
}

// searchLayer runs the best-first beam search of width ef on one layer and
// returns the results sorted by ascending distance. skip is excluded from the
// results; it is the node being inserted.
func (g *Graph) searchLayer(s *Searcher, q vector.Vector, ep Neighbor, ef, level int, skip uint32) []Neighbor {
	s.reset()
	s.visited.Set(uint(ep.ID))
	s.candidates.push(ep)
	if ep.ID != skip {
		s.results.push(ep)
	}

	for s.candidates.Len() > 0 {
		c := s.candidates.pop()
		if s.results.Len() >= ef && closer(s.results.top(), c) {
			break
		}
		friends := g.nodes[c.ID].friends
		if level >= len(friends) {
			continue
		}
		for _, f := range friends[level] {
			if s.visited.Test(uint(f)) {
				continue
			}
			s.visited.Set(uint(f))
			if f == skip {
				continue
			}
			n := Neighbor{ID: f, Distance: vector.EuclideanBits(q, g.nodes[f].vector)}
			if s.results.Len() < ef || closer(n, s.results.top()) {
				s.candidates.push(n)
				s.results.push(n)
				if s.results.Len() > ef {
					s.results.pop()
				}
			}
		}
	}

	out := make([]Neighbor, s.results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = s.results.pop()
	}
	return out
}

// selectNeighbours applies the HNSW diversity heuristic to candidates sorted
// by ascending distance: a candidate is kept when it is closer to the query
// than to every neighbour kept so far. Pruned candidates fill up the
// remaining slots.
func (g *Graph) selectNeighbours(candidates []Neighbor, m int) []Neighbor {
	if len(candidates) <= m {
		return candidates
	}
	kept := make([]Neighbor, 0, m)
	var pruned []Neighbor
	for _, c := range candidates {
		if len(kept) >= m {
			break
		}
		good := true
		for _, k := range kept {
			if vector.EuclideanBits(g.nodes[c.ID].vector, g.nodes[k.ID].vector) < c.Distance {
				good = false
				break
			}
		}
		if good {
			kept = append(kept, c)
		} else {
			pruned = append(pruned, c)
		}
	}
	for i := 0; len(kept) < m && i < len(pruned); i++ {
		kept = append(kept, pruned[i])
	}
	return kept
}

// link adds a connection from -> to on level, shrinking from's friend list
// when it overflows.
func (g *Graph) link(from, to uint32, level int) {
	n := g.nodes[from]
	n.friends[level] = append(n.friends[level], to)
	limit := g.maxFriends(level)
	if len(n.friends[level]) <= limit {
		return
	}
	candidates := make([]Neighbor, len(n.friends[level]))
	for i, f := range n.friends[level] {
		candidates[i] = Neighbor{ID: f, Distance: vector.EuclideanBits(n.vector, g.nodes[f].vector)}
	}
	sortNeighbours(candidates)
	selected := g.selectNeighbours(candidates, limit)
	friends := n.friends[level][:0]
	for _, c := range selected {
		friends = append(friends, c.ID)
	}
	n.friends[level] = friends
}
