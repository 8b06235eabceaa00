// If you are AI: This file defines Subscriber, a connected viewer's
// router-side state: its outbound queue, back-pressure limiter, and
// pending-keyframe-wait flag for cold joins. Generalizes the teacher's
// bus.Subscriber (which only wrapped a RingBuffer) with the limiter and
// join semantics spec.md §3/§4.6 require.
package router

import (
	"context"

	"github.com/google/uuid"

	"originflux/internal/media"
)

// Subscriber is a connected viewer's state inside one PublishPoint.
type Subscriber struct {
	ID uuid.UUID

	queue   *Queue
	limiter *Limiter

	// awaitingKeyframe is true for a subscriber that joined cold (no
	// keyframe seen yet) or is mid-drop-to-keyframe recovery; packets are
	// suppressed until the next keyframe arrives.
	awaitingKeyframe bool

	onClose func()

	// notify is signalled (non-blocking) on every successful Deliver, so
	// egress adapters can block in Wait instead of busy-polling Pop.
	notify chan struct{}
}

// NewSubscriber constructs a Subscriber with its own bounded outbound
// queue and back-pressure limiter.
func NewSubscriber(queueCapacity int, policy Policy, hwmBytes int) *Subscriber {
	dropPolicy := DropOldest
	if policy == PolicyDisconnect {
		dropPolicy = DropNewest
	}
	return &Subscriber{
		ID:               uuid.New(),
		queue:            NewQueue(queueCapacity, dropPolicy),
		limiter:          NewLimiter(policy, hwmBytes),
		awaitingKeyframe: true,
		notify:           make(chan struct{}, 1),
	}
}

// Deliver enqueues p for this subscriber, honoring keyframe-first-join
// and drop-to-keyframe recovery (spec invariant 2: keyframe-first
// delivery).
func (s *Subscriber) Deliver(p *media.Packet) {
	if s.awaitingKeyframe {
		if !p.IsKeyframe() {
			return
		}
		s.awaitingKeyframe = false
	}

	action := s.limiter.Observe(s.queue.Len() * avgPacketSizeEstimate)
	switch action {
	case ActionDropUntilKeyframe:
		if !p.IsKeyframe() {
			return
		}
		s.limiter.ShouldResumeAfterKeyframe()
	case ActionDisconnect:
		if s.onClose != nil {
			s.onClose()
		}
		return
	}

	p.Retain()
	if !s.queue.Push(p) {
		p.Release()
		return
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Wait blocks until a packet may be available or ctx is cancelled. It
// never guarantees Pop will succeed (another goroutine may drain first
// in multi-consumer setups), so callers must still loop on Pop.
func (s *Subscriber) Wait(ctx context.Context) {
	select {
	case <-s.notify:
	case <-ctx.Done():
	}
}

// avgPacketSizeEstimate approximates per-packet bytes for HWM accounting
// without walking the queue; real byte accounting is refined by callers
// that track cumulative enqueued bytes directly where precision matters
// (e.g. LL-HLS part boundaries).
const avgPacketSizeEstimate = 4096

// Pop retrieves the next packet for this subscriber, or ok=false if its
// queue is currently empty.
func (s *Subscriber) Pop() (*media.Packet, bool) {
	return s.queue.Pop()
}

// Dropped returns the count of packets this subscriber's queue has
// discarded under back-pressure.
func (s *Subscriber) Dropped() uint64 { return s.queue.Dropped() }

// SetOnClose registers a callback invoked when the back-pressure policy
// decides to disconnect this subscriber.
func (s *Subscriber) SetOnClose(fn func()) { s.onClose = fn }

// Close invokes the registered onClose callback, for admin-initiated
// termination (the egress adapter tears its connection down in
// response; the PublishPoint entry itself is removed separately via
// PublishPoint.Leave).
func (s *Subscriber) Close() {
	if s.onClose != nil {
		s.onClose()
	}
}
