package otel

import (
	"fmt"
	"sync"
	"testing"
)

func TestRingBufferSnapshotOrder(t *testing.T) {
	rb := NewRingBuffer(4)
	for i := 0; i < 3; i++ {
		rb.Push(Event{Kind: KindEntityStart, Entity: fmt.Sprintf("E%d", i)})
	}

	got := rb.Snapshot()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, e := range got {
		if want := fmt.Sprintf("E%d", i); e.Entity != want {
			t.Errorf("snapshot[%d].Entity = %q, want %q", i, e.Entity, want)
		}
	}
}

func TestRingBufferOverwritesOldest(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := 0; i < 5; i++ {
		rb.Push(Event{Entity: fmt.Sprintf("E%d", i)})
	}

	got := rb.Snapshot()
	if len(got) != 3 {
		t.Fatalf("len = %d, want capacity 3", len(got))
	}
	// Oldest two (E0, E1) were overwritten.
	if got[0].Entity != "E2" || got[2].Entity != "E4" {
		t.Errorf("wrong window after wrap: %q .. %q", got[0].Entity, got[2].Entity)
	}
}

func TestRingBufferLast(t *testing.T) {
	rb := NewRingBuffer(8)
	for i := 0; i < 6; i++ {
		rb.Push(Event{Entity: fmt.Sprintf("E%d", i)})
	}

	last := rb.Last(2)
	if len(last) != 2 || last[0].Entity != "E4" || last[1].Entity != "E5" {
		t.Errorf("Last(2) = %v", last)
	}
	if got := rb.Last(100); len(got) != 6 {
		t.Errorf("Last(100) len = %d, want all 6", len(got))
	}
	if rb.Last(0) != nil {
		t.Error("Last(0) should return nil")
	}
}

func TestRingBufferLastAcrossWrap(t *testing.T) {
	rb := NewRingBuffer(4)
	for i := 0; i < 6; i++ {
		rb.Push(Event{Entity: fmt.Sprintf("E%d", i)})
	}

	last := rb.Last(3)
	if len(last) != 3 || last[0].Entity != "E3" || last[2].Entity != "E5" {
		t.Errorf("Last(3) across wrap = %v", last)
	}
}

func TestRingBufferLastKind(t *testing.T) {
	rb := NewRingBuffer(4)
	rb.Push(Event{Kind: KindCompletion, Entity: "E0"})
	rb.Push(Event{Kind: KindExploratory, Entity: "E1"})
	rb.Push(Event{Kind: KindCompletion, Entity: "E2"})
	rb.Push(Event{Kind: KindCompletion, Entity: "E3"})
	rb.Push(Event{Kind: KindExploratory, Entity: "E4"}) // wraps, evicts E0

	got := rb.LastKind(KindCompletion, 10)
	if len(got) != 2 || got[0].Entity != "E2" || got[1].Entity != "E3" {
		t.Errorf("LastKind(completion) = %v", got)
	}
	if got := rb.LastKind(KindCompletion, 1); len(got) != 1 || got[0].Entity != "E3" {
		t.Errorf("LastKind(completion, 1) = %v", got)
	}
	if rb.LastKind(KindEmbedding, 10) != nil {
		t.Error("LastKind for an absent kind should return nil")
	}
	if rb.LastKind(KindCompletion, 0) != nil {
		t.Error("LastKind(_, 0) should return nil")
	}
}

func TestRingBufferStats(t *testing.T) {
	rb := NewRingBuffer(16)
	rb.Push(Event{Kind: KindExploratory})
	rb.Push(Event{Kind: KindExploratory})
	rb.Push(Event{Kind: KindCompletion})

	stats := rb.Stats()
	if stats[KindExploratory] != 2 || stats[KindCompletion] != 1 {
		t.Errorf("stats = %v", stats)
	}
}

func TestRingBufferExtraCopied(t *testing.T) {
	rb := NewRingBuffer(4)
	extra := map[string]any{"topic": "Partnerships"}
	rb.Push(Event{Kind: KindExploratory, Extra: extra})

	extra["topic"] = "mutated"
	got := rb.Snapshot()
	if got[0].Extra["topic"] != "Partnerships" {
		t.Error("Extra map aliased the caller's map")
	}
}

func TestRingBufferConcurrent(t *testing.T) {
	rb := NewRingBuffer(64)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				rb.Push(Event{Kind: KindCompletion})
				rb.Snapshot()
				rb.Last(5)
				rb.Stats()
			}
		}()
	}
	wg.Wait()

	if rb.Len() != 64 {
		t.Errorf("Len = %d, want full capacity 64", rb.Len())
	}
}
