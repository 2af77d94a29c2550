package hnsw

import (
	"container/heap"
	"slices"

	"github.com/hyperjump/kotoba/internal/vector"
)

// Compile time check to ensure priorityQueue satisfies the heap interface.
var _ heap.Interface = (*priorityQueue)(nil)

// Neighbor is a node id together with its distance to a query.
type Neighbor struct {
	ID       uint32
	Distance vector.Distance
}

// closer orders by distance, then by node id so equal distances never order
// nondeterministically.
func closer(a, b Neighbor) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.ID < b.ID
}

func sortNeighbours(ns []Neighbor) {
	slices.SortFunc(ns, func(a, b Neighbor) int {
		switch {
		case closer(a, b):
			return -1
		case closer(b, a):
			return 1
		default:
			return 0
		}
	})
}

// priorityQueue is a min-heap of neighbours, or a max-heap when farthestFirst is set.
type priorityQueue struct {
	farthestFirst bool
	items         []Neighbor
}

func (pq *priorityQueue) Len() int { return len(pq.items) }

func (pq *priorityQueue) Less(i, j int) bool {
	if pq.farthestFirst {
		return closer(pq.items[j], pq.items[i])
	}
	return closer(pq.items[i], pq.items[j])
}

func (pq *priorityQueue) Swap(i, j int) { pq.items[i], pq.items[j] = pq.items[j], pq.items[i] }

func (pq *priorityQueue) Push(x any) { pq.items = append(pq.items, x.(Neighbor)) }

func (pq *priorityQueue) Pop() any {
	n := len(pq.items)
	item := pq.items[n-1]
	pq.items = pq.items[:n-1]
	return item
}

func (pq *priorityQueue) push(n Neighbor) { heap.Push(pq, n) }

func (pq *priorityQueue) pop() Neighbor { return heap.Pop(pq).(Neighbor) }

func (pq *priorityQueue) top() Neighbor { return pq.items[0] }

func (pq *priorityQueue) reset() { pq.items = pq.items[:0] }
