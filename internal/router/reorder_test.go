package router

import (
	"testing"

	"originflux/internal/media"
)

func pkt(dts int64) *media.Packet {
	p := media.AcquirePacket()
	p.DTS = dts
	return p
}

func TestReorderWindowInOrderPassthrough(t *testing.T) {
	w := NewReorderWindow(4)
	var delivered []int64
	for i := int64(0); i < 10; i++ {
		for _, p := range w.Push(pkt(i)) {
			delivered = append(delivered, p.DTS)
		}
	}
	for _, p := range w.Flush() {
		delivered = append(delivered, p.DTS)
	}
	for i, v := range delivered {
		if v != int64(i) {
			t.Fatalf("expected strictly increasing DTS, got %v at index %d", delivered, i)
		}
	}
}

func TestReorderWindowDeliversWithinWindow(t *testing.T) {
	// Window size 4: a packet arriving 3 (W-1) positions out of order
	// must still be delivered in order.
	w := NewReorderWindow(4)
	order := []int64{0, 1, 2, 4, 5, 6, 3, 7, 8}
	var delivered []int64
	for _, dts := range order {
		for _, p := range w.Push(pkt(dts)) {
			delivered = append(delivered, p.DTS)
		}
	}
	for _, p := range w.Flush() {
		delivered = append(delivered, p.DTS)
	}

	for i := 1; i < len(delivered); i++ {
		if delivered[i] < delivered[i-1] {
			t.Fatalf("DTS not monotonic: %v", delivered)
		}
	}
	if len(delivered) != len(order) {
		t.Errorf("expected all %d packets delivered, got %d: %v", len(order), len(delivered), delivered)
	}
}

func TestReorderWindowDropsBeyondWindow(t *testing.T) {
	w := NewReorderWindow(2)
	// Push enough in-order packets to force flushes past DTS=5.
	for i := int64(0); i <= 5; i++ {
		w.Push(pkt(i))
	}
	// A packet far behind the flushed boundary must be dropped.
	result := w.Push(pkt(0))
	if result != nil {
		t.Error("packet arriving far outside the window should not be delivered")
	}
	if w.Dropped() == 0 {
		t.Error("expected dropped counter to increment")
	}
}

func TestReorderWindowDropsDuplicate(t *testing.T) {
	w := NewReorderWindow(4)
	w.Push(pkt(1))
	w.Push(pkt(1))
	if w.Dropped() != 1 {
		t.Errorf("expected 1 duplicate dropped, got %d", w.Dropped())
	}
}
