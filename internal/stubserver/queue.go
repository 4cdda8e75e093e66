package stubserver

import (
	"container/heap"
	"sync"
	"time"

	"github.com/chrisdamba/foodcart/internal/models"
)

// transition is a status change scheduled by the kitchen simulator.
type transition struct {
	At      time.Time
	OrderID string
	Status  models.OrderStatus
}

// transitionQueue is a time-ordered priority queue.
type transitionQueue struct {
	mu    sync.Mutex
	items transitionHeap
}

type transitionHeap []*transition

func (h transitionHeap) Len() int           { return len(h) }
func (h transitionHeap) Less(i, j int) bool { return h[i].At.Before(h[j].At) }
func (h transitionHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *transitionHeap) Push(x any) {
	*h = append(*h, x.(*transition))
}

func (h *transitionHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func (q *transitionQueue) Enqueue(t *transition) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.items, t)
}

// DequeueDue pops every transition scheduled at or before now, earliest
// first.
func (q *transitionQueue) DequeueDue(now time.Time) []*transition {
	q.mu.Lock()
	defer q.mu.Unlock()
	var due []*transition
	for len(q.items) > 0 && !q.items[0].At.After(now) {
		due = append(due, heap.Pop(&q.items).(*transition))
	}
	return due
}

func (q *transitionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
