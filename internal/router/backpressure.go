// If you are AI: This file implements the three subscriber drop policies
// from spec §4.9: drop-to-next-keyframe, disconnect-after-T, and block
// (recording sinks only, never the live router).
package router

import (
	"sync/atomic"
	"time"
)

// Policy is a Publisher's configured back-pressure behavior for one
// subscriber type.
type Policy uint8

const (
	// PolicyDropToKeyframe discards non-key packets until the next
	// keyframe once the outbound queue exceeds its high-water mark.
	// Default for LL-HLS and WebRTC.
	PolicyDropToKeyframe Policy = iota
	// PolicyDisconnect closes the subscriber once its queue has been
	// over the high-water mark for longer than a configured duration.
	PolicyDisconnect
	// PolicyBlock propagates back-pressure to the Transcoder's encoder
	// instead of dropping. Valid only for recording-to-disk sinks; never
	// used on the live MediaRouter path.
	PolicyBlock
)

// Limiter tracks one subscriber's back-pressure state against a
// high-water mark, in bytes, with an over-HWM grace period for
// PolicyDisconnect.
type Limiter struct {
	Policy Policy
	HWM    int // bytes

	// GraceDuration is how long the queue may stay over HWM before
	// PolicyDisconnect closes the subscriber (spec default 5s via the
	// publisher write-stall timeout, reused here).
	GraceDuration time.Duration

	queuedBytes   int64
	overSince     atomic.Int64 // unix nanos, 0 when not currently over HWM
	droppingToKey atomic.Bool
}

// NewLimiter builds a Limiter with the given policy/HWM and a default
// 5s grace duration (spec §5 publisher write-stall timeout).
func NewLimiter(policy Policy, hwmBytes int) *Limiter {
	return &Limiter{Policy: policy, HWM: hwmBytes, GraceDuration: 5 * time.Second}
}

// Action is what Observe tells the caller to do with the packet at hand.
type Action uint8

const (
	ActionContinue Action = iota
	ActionDropUntilKeyframe
	ActionDisconnect
)

// Observe reports queuedBytes and returns what the publisher should do.
func (l *Limiter) Observe(queuedBytes int) Action {
	over := queuedBytes > l.HWM
	if !over {
		l.overSince.Store(0)
		if l.droppingToKey.Load() {
			// Keep dropping until ShouldResumeAfterKeyframe sees a keyframe.
			return ActionDropUntilKeyframe
		}
		return ActionContinue
	}

	switch l.Policy {
	case PolicyDropToKeyframe:
		l.droppingToKey.Store(true)
		return ActionDropUntilKeyframe
	case PolicyDisconnect:
		now := time.Now().UnixNano()
		since := l.overSince.Load()
		if since == 0 {
			l.overSince.Store(now)
			return ActionContinue
		}
		if time.Duration(now-since) > l.GraceDuration {
			return ActionDisconnect
		}
		return ActionContinue
	case PolicyBlock:
		// The caller (a recording-sink publisher) is expected to block
		// its own write; the live router must never see PolicyBlock.
		return ActionContinue
	default:
		return ActionContinue
	}
}

// ShouldResumeAfterKeyframe reports whether a drop-to-keyframe subscriber
// that has just observed a keyframe should resume normal delivery.
func (l *Limiter) ShouldResumeAfterKeyframe() bool {
	return l.droppingToKey.CompareAndSwap(true, false)
}
