// Copyright (C) 2026 Chengis
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"container/heap"
	"sync"
	"time"

	"github.com/chengis/chengis/internal/jobs"
	"github.com/chengis/chengis/internal/store"
)

// Item is one queued build awaiting a retried dispatch attempt.
type Item struct {
	Build      *store.Build
	Job        *jobs.Job
	Priority   int
	EnqueuedAt time.Time
}

// Queue is a priority queue scored by priority desc, then enqueue_time
// asc (spec.md §4.G), backed by container/heap. It is one queue shared by
// all orgs: items are not partitioned or ordered by org.
type Queue struct {
	mu       sync.Mutex
	items    itemHeap
	capacity int
}

// NewQueue returns an empty Queue. capacity <= 0 means unbounded.
func NewQueue(capacity int) *Queue {
	q := &Queue{capacity: capacity}
	heap.Init(&q.items)
	return q
}

// Push enqueues an item, dropping the lowest-priority item (the most
// recently enqueued among equal priorities) if capacity is exceeded.
func (q *Queue) Push(it Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.items, it)
	if q.capacity > 0 && q.items.Len() > q.capacity {
		// drop the worst-scoring item, not necessarily the one just pushed
		worst := 0
		for i := 1; i < q.items.Len(); i++ {
			if q.items.less(worst, i) {
				worst = i
			}
		}
		heap.Remove(&q.items, worst)
	}
}

// Pop removes and returns the highest-scoring item, or ok=false if the
// queue is empty.
func (q *Queue) Pop() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Len() == 0 {
		return Item{}, false
	}
	return heap.Pop(&q.items).(Item), true
}

// Len reports the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

type itemHeap []Item

func (h itemHeap) Len() int { return len(h) }

// less implements the queue's scoring: higher priority first, then
// earlier enqueue time first.
func (h itemHeap) less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].EnqueuedAt.Before(h[j].EnqueuedAt)
}

func (h itemHeap) Less(i, j int) bool { return h.less(i, j) }
func (h itemHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x interface{}) { *h = append(*h, x.(Item)) }

func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}
