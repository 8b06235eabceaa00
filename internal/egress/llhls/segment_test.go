package llhls

import (
	"testing"
	"time"
)

func TestWindowFinalizesOnNewSegmentFlag(t *testing.T) {
	w := NewWindow(3, []byte("init"))
	w.AppendPart([]byte("p0"), 100*time.Millisecond, true, false)
	w.AppendPart([]byte("p1"), 100*time.Millisecond, false, false)
	w.AppendPart([]byte("p2"), 100*time.Millisecond, true, true) // closes segment 0, starts segment 1

	segments, current, mediaSeq, _ := w.Snapshot()
	if mediaSeq != 0 {
		t.Fatalf("mediaSeq = %d, want 0", mediaSeq)
	}
	if len(segments) != 1 || len(segments[0].Parts) != 2 {
		t.Fatalf("segments = %+v, want one finalized segment with 2 parts", segments)
	}
	if len(current.Parts) != 1 {
		t.Fatalf("current parts = %d, want 1", len(current.Parts))
	}
}

func TestWindowTrimsToMaxSegments(t *testing.T) {
	w := NewWindow(2, nil)
	for i := 0; i < 5; i++ {
		w.AppendPart([]byte("p"), 50*time.Millisecond, true, true)
	}
	segments, _, mediaSeq, _ := w.Snapshot()
	if len(segments) != 2 {
		t.Fatalf("segments len = %d, want 2", len(segments))
	}
	if mediaSeq != 2 {
		t.Fatalf("mediaSeq = %d, want 2 (two trimmed)", mediaSeq)
	}
}

func TestWindowPartLookupAcrossFinalizedAndCurrent(t *testing.T) {
	w := NewWindow(5, nil)
	w.AppendPart([]byte("seg0-part0"), 10*time.Millisecond, true, false)
	w.AppendPart([]byte("seg1-part0"), 10*time.Millisecond, true, true)

	p, ok := w.Part(0, 0)
	if !ok || string(p.Data) != "seg0-part0" {
		t.Fatalf("Part(0,0) = %+v, %v", p, ok)
	}
	p, ok = w.Part(1, 0)
	if !ok || string(p.Data) != "seg1-part0" {
		t.Fatalf("Part(1,0) = %+v, %v", p, ok)
	}
	if _, ok := w.Part(1, 1); ok {
		t.Fatal("expected no part at (1,1) yet")
	}
}

func TestWindowWaitForVersionUnblocksOnAppend(t *testing.T) {
	w := NewWindow(3, nil)
	_, _, _, v0 := w.Snapshot()

	done := make(chan struct{})
	go func() {
		w.WaitForVersion(v0, 2*time.Second)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	w.AppendPart([]byte("x"), 10*time.Millisecond, true, false)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForVersion did not unblock after AppendPart")
	}
}
