package switcher

import (
	"slices"
	"testing"
)

func TestQueue_Enqueue(t *testing.T) {
	tests := []struct {
		name    string
		submit  []string
		want    []string
		changed bool // result of the last Enqueue
	}{
		{"single", []string{"a"}, []string{"a"}, true},
		{"tail repeat is a no-op", []string{"a", "b", "b"}, []string{"a", "b"}, false},
		{"queued id moves to tail", []string{"a", "b", "a"}, []string{"b", "a"}, true},
		{"middle id moves to tail", []string{"a", "b", "c", "b"}, []string{"a", "c", "b"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var q Queue
			var changed bool
			for _, id := range tt.submit {
				changed = q.Enqueue(id)
			}
			if got := q.Snapshot(); !slices.Equal(got, tt.want) {
				t.Errorf("queue = %v, want %v", got, tt.want)
			}
			if changed != tt.changed {
				t.Errorf("last Enqueue changed = %v, want %v", changed, tt.changed)
			}
		})
	}
}

func TestQueue_noDuplicates(t *testing.T) {
	var q Queue
	for _, id := range []string{"a", "b", "a", "c", "b", "a", "a", "c"} {
		q.Enqueue(id)
	}
	seen := map[string]bool{}
	for _, id := range q.Snapshot() {
		if seen[id] {
			t.Fatalf("duplicate %q in %v", id, q.Snapshot())
		}
		seen[id] = true
	}
	if got := q.Snapshot(); !slices.Equal(got, []string{"b", "a", "c"}) {
		t.Errorf("queue = %v", got)
	}
}

func TestQueue_DequeueOrder(t *testing.T) {
	var q Queue
	q.Enqueue("a")
	q.Enqueue("b")

	for _, want := range []string{"a", "b"} {
		got, ok := q.Dequeue()
		if !ok || got != want {
			t.Errorf("Dequeue = %q, %v; want %q", got, ok, want)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Error("Dequeue on empty queue should report false")
	}
}

func TestQueue_Clear(t *testing.T) {
	var q Queue
	q.Enqueue("a")
	q.Enqueue("b")
	if n := q.Clear(); n != 2 {
		t.Errorf("Clear = %d, want 2", n)
	}
	if q.Len() != 0 {
		t.Errorf("Len after Clear = %d", q.Len())
	}
}

func TestQueue_SnapshotIsCopy(t *testing.T) {
	var q Queue
	q.Enqueue("a")
	snap := q.Snapshot()
	snap[0] = "z"
	if got, _ := q.Dequeue(); got != "a" {
		t.Errorf("snapshot aliases queue storage, got %q", got)
	}
}
