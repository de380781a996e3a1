package stream

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"stream-switcher/internal/switcher"
)

func TestHistory_RecordAndList(t *testing.T) {
	h := NewHistory(10)
	h.Record(switcher.Result{Target: "idle.mp4", Outcome: "switched", Attempts: 1, Duration: 3 * time.Second})
	h.Record(switcher.Result{Target: "speaking.mp4", Outcome: "exhausted", Attempts: 4, Err: errors.New("startup retries exhausted")})

	got := h.List()
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Target != "speaking.mp4" || got[0].Error == "" {
		t.Errorf("newest entry first with error, got %+v", got[0])
	}
	if got[1].DurationMS != 3000 {
		t.Errorf("DurationMS = %d", got[1].DurationMS)
	}
}

func TestHistory_bounded(t *testing.T) {
	h := NewHistory(3)
	for i := 1; i <= 5; i++ {
		h.Record(switcher.Result{Target: fmt.Sprintf("clip%d.mp4", i)})
	}
	if h.Len() != 3 {
		t.Errorf("Len = %d, want 3", h.Len())
	}
	got := h.List()
	want := []string{"clip5.mp4", "clip4.mp4", "clip3.mp4"}
	for i, e := range got {
		if e.Target != want[i] {
			t.Errorf("entry %d = %s, want %s", i, e.Target, want[i])
		}
	}
}

func TestNewHistory_defaultSize(t *testing.T) {
	h := NewHistory(0)
	for i := 0; i < DefaultHistorySize+5; i++ {
		h.Record(switcher.Result{Target: "idle.mp4"})
	}
	if h.Len() != DefaultHistorySize {
		t.Errorf("Len = %d, want %d", h.Len(), DefaultHistorySize)
	}
}
