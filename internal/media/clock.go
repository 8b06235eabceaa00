// If you are AI: This file implements the Clock & Timebase contract
// (C2): a monotonic now(), per-session wall/media anchors for latency
// accounting, and 32-bit RTP / 33-bit PCR wraparound extension.
package media

import "time"

// Now returns the current time as a time.Time, which carries Go's
// monotonic clock reading on every supported platform; elapsed time is
// taken by comparing two time.Time values rather than converting to
// Unix nanoseconds.
func Now() time.Time {
	return time.Now()
}

// Anchor pairs a wall-clock instant with the media-time value observed
// at that instant, established on the first packet of a session, used
// to compute end-to-end latency for the bounded-latency testable
// property (spec §8.3).
type Anchor struct {
	WallTime  time.Time
	MediaTime int64
	Timebase  Timebase
}

// NewAnchor captures the current instant against a first packet's media
// time.
func NewAnchor(mediaTime int64, tb Timebase) Anchor {
	return Anchor{WallTime: Now(), MediaTime: mediaTime, Timebase: tb}
}

// LatencySince computes the wall-clock duration that has elapsed between
// the anchor and a later media-time value in the same timebase.
func (a Anchor) LatencySince(mediaTime int64) time.Duration {
	if a.Timebase.Den == 0 {
		return 0
	}
	deltaTicks := mediaTime - a.MediaTime
	seconds := float64(deltaTicks) * float64(a.Timebase.Num) / float64(a.Timebase.Den)
	return time.Since(a.WallTime.Add(time.Duration(seconds * float64(time.Second))))
}

// Unwrapper extends a wrapping counter (32-bit RTP timestamp, 33-bit PCR)
// to a monotonically increasing 64-bit value using a last-seen-delta
// rollover heuristic: a jump greater than half the counter's range, in
// the expected (forward) direction, is treated as a wraparound rather
// than a reorder.
type Unwrapper struct {
	bits      uint
	have      bool
	lastRaw   uint64
	extended  int64
	wrapValue int64
}

// NewUnwrapper constructs an Unwrapper for a counter of the given bit
// width (32 for RTP timestamps, 33 for MPEG-TS PCR).
func NewUnwrapper(bits uint) *Unwrapper {
	return &Unwrapper{bits: bits, wrapValue: int64(1) << bits}
}

// Extend feeds one raw (wrapped) sample and returns its 64-bit extended
// value.
func (u *Unwrapper) Extend(raw uint64) int64 {
	mask := uint64(u.wrapValue - 1)
	raw &= mask
	if !u.have {
		u.have = true
		u.lastRaw = raw
		u.extended = int64(raw)
		return u.extended
	}

	half := u.wrapValue / 2
	delta := int64(raw) - int64(u.lastRaw)
	switch {
	case delta > half:
		// raw went backwards across a boundary the forward direction
		// wrapped past: treat as moving backwards by one full cycle.
		delta -= u.wrapValue
	case delta < -half:
		// raw wrapped forward past zero.
		delta += u.wrapValue
	}
	u.extended += delta
	u.lastRaw = raw
	return u.extended
}
