package media

import "testing"

func TestTimebaseRescaleRoundTrip(t *testing.T) {
	rtp := Timebase{Num: 1, Den: 90000}
	ms := Timebase{Num: 1, Den: 1000}

	v := int64(123456)
	down := rtp.Rescale(v, ms)
	back := ms.Rescale(down, rtp)

	// Rounding to the coarser ms timebase loses up to half a ms, so the
	// round trip is bounded by one unit of that timebase (90 ticks).
	maxDiff := int64(rtp.Den / ms.Den)
	diff := back - v
	if diff < -maxDiff || diff > maxDiff {
		t.Errorf("rescale round trip differs by %d ticks, want at most %d (one ms unit)", diff, maxDiff)
	}
}

func TestTimebaseRescaleIdentity(t *testing.T) {
	tb := Timebase{Num: 1, Den: 1000}
	if got := tb.Rescale(42, tb); got != 42 {
		t.Errorf("identity rescale changed value: got %d, want 42", got)
	}
}

func TestUnwrapper32BitWrap(t *testing.T) {
	u := NewUnwrapper(32)

	// Start near the top of the 32-bit range and cross the wraparound.
	start := uint64(1)<<32 - 1000
	first := u.Extend(start)
	if first != int64(start) {
		t.Fatalf("first sample not seeded correctly: got %d want %d", first, start)
	}

	// Next raw value wraps past zero (delta crosses 2^31 in the forward
	// direction), e.g. raw=500 after start=(2^32-1000).
	second := u.Extend(500)
	want := int64(start) + 1500 // 1000 forward to wrap, 500 more
	if second != want {
		t.Errorf("wraparound not extended correctly: got %d want %d", second, want)
	}
}

func TestUnwrapperMonotonicWithoutWrap(t *testing.T) {
	u := NewUnwrapper(32)
	u.Extend(1000)
	got := u.Extend(2000)
	if got != 2000 {
		t.Errorf("non-wrapping sample mis-extended: got %d want 2000", got)
	}
}
