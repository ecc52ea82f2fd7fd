package scorer

import (
	"container/heap"
	"sync"

	"github.com/calebmori/mevengine/internal/domain"
)

// Scored pairs an opportunity with its computed priority.
type Scored struct {
	Opp      *domain.Opportunity
	Priority float64
}

// Queue is a bounded, concurrency-safe max-priority queue. When full, a new
// item only enters by evicting the current minimum if it outranks it; ties
// rank the older discovery first, since a fresher duplicate of the same edge
// has had more time to be taken by competitors.
type Queue struct {
	capacity int

	mu    sync.Mutex
	items scoredHeap
}

// NewQueue creates a queue holding at most capacity items (default 512).
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 512
	}
	return &Queue{capacity: capacity}
}

// Push inserts the scored opportunity. It returns the evicted item when the
// queue was full and the newcomer outranked the minimum, or the newcomer
// itself when it did not make the cut; nil means a plain insert.
func (q *Queue) Push(s Scored) *Scored {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) < q.capacity {
		heap.Push(&q.items, s)
		return nil
	}
	min := q.items.minIndex()
	if !less(q.items[min], s) {
		return &s
	}
	evicted := q.items[min]
	q.items[min] = s
	heap.Fix(&q.items, min)
	return &evicted
}

// Pop removes and returns the highest-priority item, or false when empty.
func (q *Queue) Pop() (Scored, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Scored{}, false
	}
	return heap.Pop(&q.items).(Scored), true
}

// Len returns the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// less orders a before b in the max-heap sense: higher priority first, older
// discovery breaking ties.
func less(a, b Scored) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.Opp.DiscoveredAt.Before(b.Opp.DiscoveredAt)
}

type scoredHeap []Scored

func (h scoredHeap) Len() int           { return len(h) }
func (h scoredHeap) Less(i, j int) bool { return less(h[i], h[j]) }
func (h scoredHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *scoredHeap) Push(x any)        { *h = append(*h, x.(Scored)) }
func (h *scoredHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// minIndex returns the index of the lowest-ranked item. Leaves of the heap
// hold the candidates; the heap is small enough that a linear scan of the
// second half is fine.
func (h scoredHeap) minIndex() int {
	n := len(h)
	min := n / 2
	for i := min + 1; i < n; i++ {
		if less(h[min], h[i]) {
			min = i
		}
	}
	return min
}
