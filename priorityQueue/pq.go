package priorityQueue

import (
	"container/heap"
)

// An Item is an in-flight value keyed by the absolute sequence number just
// past its last byte.
type Item[T any] struct {
	UpperEdge uint64 // The priority of the item
	Index     int    // The index of the item in the heap
	Value     T
}

type items[T any] []*Item[T]

func (pq items[T]) Len() int { return len(pq) }

func (pq items[T]) Less(i, j int) bool {
	// We want Pop to give us the lowest upper edge (earliest sent), so we use less than here
	return pq[i].UpperEdge < pq[j].UpperEdge
}

func (pq items[T]) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].Index = i
	pq[j].Index = j
}

func (pq *items[T]) Push(x any) {
	n := len(*pq)
	item := x.(*Item[T])
	item.Index = n
	*pq = append(*pq, item)
}

func (pq *items[T]) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil  // don't stop the GC from reclaiming the item eventually
	item.Index = -1 // for safety
	*pq = old[0 : n-1]
	return item
}

// PriorityQueue orders values by upper edge, lowest first.
type PriorityQueue[T any] struct {
	heap items[T]
}

func (pq *PriorityQueue[T]) Len() int { return len(pq.heap) }

func (pq *PriorityQueue[T]) Push(upperEdge uint64, value T) {
	heap.Push(&pq.heap, &Item[T]{UpperEdge: upperEdge, Value: value})
}

// Peek returns the item with the lowest upper edge without removing it.
func (pq *PriorityQueue[T]) Peek() (*Item[T], bool) {
	if len(pq.heap) == 0 {
		return nil, false
	}
	return pq.heap[0], true
}

func (pq *PriorityQueue[T]) Pop() (*Item[T], bool) {
	if len(pq.heap) == 0 {
		return nil, false
	}
	return heap.Pop(&pq.heap).(*Item[T]), true
}

// PopThrough removes every item whose upper edge is at or below edge and
// returns how many were removed.
func (pq *PriorityQueue[T]) PopThrough(edge uint64) int {
	removed := 0
	for len(pq.heap) > 0 && pq.heap[0].UpperEdge <= edge {
		heap.Pop(&pq.heap)
		removed++
	}
	return removed
}

func (pq *PriorityQueue[T]) Clear() {
	pq.heap = nil
}
