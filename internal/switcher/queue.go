package switcher

import "slices"

// Queue is an ordered set of pending switch targets. Submitting the current
// tail is a no-op; submitting an identifier queued elsewhere moves it to the
// tail. Queue is not safe for concurrent use; the Controller guards it.
type Queue struct {
	items []string
}

// Enqueue adds id and reports whether the queue changed.
func (q *Queue) Enqueue(id string) bool {
	if n := len(q.items); n > 0 && q.items[n-1] == id {
		return false
	}
	if i := slices.Index(q.items, id); i >= 0 {
		q.items = slices.Delete(q.items, i, i+1)
	}
	q.items = append(q.items, id)
	return true
}

// Dequeue removes and returns the head. ok is false when the queue is empty.
func (q *Queue) Dequeue() (id string, ok bool) {
	if len(q.items) == 0 {
		return "", false
	}
	id = q.items[0]
	q.items[0] = ""
	q.items = q.items[1:]
	return id, true
}

// Len returns the number of pending targets.
func (q *Queue) Len() int {
	return len(q.items)
}

// Snapshot returns a copy of the pending targets in drain order.
func (q *Queue) Snapshot() []string {
	return slices.Clone(q.items)
}

// Clear drops every pending target and returns how many were dropped.
func (q *Queue) Clear() int {
	n := len(q.items)
	q.items = nil
	return n
}
