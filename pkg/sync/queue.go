package sync

import (
	goSync "sync"
)

type queueKey struct {
	origin Origin
	key    string
}

// Queue is the ordered list of pending items. Enqueueing an item whose
// (origin, key) is already queued replaces the stale item in place, so the
// position in the queue is preserved and only the latest event for a key is
// ever processed.
type Queue struct {
	lock  goSync.Mutex
	items []Item
	index map[queueKey]int
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{index: map[queueKey]int{}}
}

// Enqueue adds the item, or replaces the queued item with the same origin
// and key. It returns whether an existing item was replaced.
func (q *Queue) Enqueue(item Item) (replaced bool) {
	q.lock.Lock()
	defer q.lock.Unlock()

	item.Status = Pending
	k := queueKey{item.Origin, item.Key}
	if i, ok := q.index[k]; ok {
		q.items[i] = item
		return true
	}

	q.index[k] = len(q.items)
	q.items = append(q.items, item)
	return false
}

// Requeue adds the item back to the end of the queue, unless a newer item
// with the same origin and key was queued in the meantime. It returns
// whether the item was added.
func (q *Queue) Requeue(item Item) bool {
	q.lock.Lock()
	defer q.lock.Unlock()

	k := queueKey{item.Origin, item.Key}
	if _, ok := q.index[k]; ok {
		return false
	}

	item.Status = Pending
	q.index[k] = len(q.items)
	q.items = append(q.items, item)
	return true
}

// Pop removes and returns up to `n` items from the front of the queue.
func (q *Queue) Pop(n int) []Item {
	q.lock.Lock()
	defer q.lock.Unlock()

	if n > len(q.items) {
		n = len(q.items)
	}
	if n <= 0 {
		return nil
	}

	popped := make([]Item, n)
	copy(popped, q.items[:n])
	q.items = append([]Item{}, q.items[n:]...)

	// Rebuild the index since every remaining item shifted.
	q.index = make(map[queueKey]int, len(q.items))
	for i, item := range q.items {
		q.index[queueKey{item.Origin, item.Key}] = i
	}
	return popped
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return len(q.items)
}

// Snapshot returns a copy of the queued items in order.
func (q *Queue) Snapshot() []Item {
	q.lock.Lock()
	defer q.lock.Unlock()
	return append([]Item{}, q.items...)
}
