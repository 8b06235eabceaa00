// If you are AI: This file implements PublishPoint (C10, spec §4.6): a
// per-Stream bounded ring of the most recent packets spanning at least
// one full GOP per video track, plus the init segment (track extradata)
// and the subscriber list. Generalizes the teacher's flat
// bus.RingBuffer + init-message cache into a GOP-aware ring with the
// slowest-track eviction rule spec §9 mandates for mixed-GOP-length
// Streams.
package router

import (
	"sync"

	"github.com/google/uuid"

	"originflux/internal/media"
)

// DefaultRingCapacity bounds the GOP ring; sized generously enough to
// hold a multi-second GOP at typical bitrates while remaining a
// declared, non-growing capacity (spec invariant 4).
const DefaultRingCapacity = 4096

// PublishPoint is the per-Stream, per-publisher-type fan-out object.
type PublishPoint struct {
	mu     sync.RWMutex
	tracks map[uint32]media.Track

	ring     []*media.Packet // append-only conceptually; evicted entries released
	head     int             // index of the oldest live entry
	count    int
	capacity int

	// lastKeyDTS is the DTS of the most recent keyframe per video track,
	// used for the GOP-tracking and eviction rules.
	lastKeyDTS map[uint32]int64

	subs map[uuid.UUID]*Subscriber
}

// NewPublishPoint constructs a PublishPoint for the given frozen track set.
func NewPublishPoint(tracks []media.Track) *PublishPoint {
	tm := make(map[uint32]media.Track, len(tracks))
	for _, t := range tracks {
		tm[t.ID] = t
	}
	return &PublishPoint{
		tracks:     tm,
		ring:       make([]*media.Packet, DefaultRingCapacity),
		capacity:   DefaultRingCapacity,
		lastKeyDTS: make(map[uint32]int64),
		subs:       make(map[uuid.UUID]*Subscriber),
	}
}

// InitSegment returns the codec parameters every ring packet must match
// (spec invariant: init segment matches every packet's codec params).
func (pp *PublishPoint) InitSegment() map[uint32]media.Track {
	pp.mu.RLock()
	defer pp.mu.RUnlock()
	out := make(map[uint32]media.Track, len(pp.tracks))
	for k, v := range pp.tracks {
		out[k] = v
	}
	return out
}

// Publish appends p to the ring, updates GOP tracking, evicts under the
// slowest-track rule, and fans out to every attached subscriber. Per the
// Consumer contract, Publish takes one reference of its own for the ring
// copy and leaves the caller's reference untouched; each subscriber that
// accepts p retains its own.
func (pp *PublishPoint) Publish(p *media.Packet) {
	pp.mu.Lock()

	if t, ok := pp.tracks[p.TrackID]; ok && t.Kind == media.KindVideo && p.IsKeyframe() {
		pp.lastKeyDTS[p.TrackID] = p.DTS
	}

	p.Retain()
	pp.pushRing(p)
	pp.evictLocked()

	subs := make([]*Subscriber, 0, len(pp.subs))
	for _, s := range pp.subs {
		subs = append(subs, s)
	}
	pp.mu.Unlock()

	for _, s := range subs {
		s.Deliver(p)
	}
}

// pushRing appends p to the ring, evicting the oldest slot if full
// (capacity is fixed — spec invariant 4: no unbounded queues).
func (pp *PublishPoint) pushRing(p *media.Packet) {
	idx := (pp.head + pp.count) % pp.capacity
	if pp.count == pp.capacity {
		// Ring physically full: drop the oldest regardless of GOP
		// boundary to respect the hard capacity bound; this only
		// engages if the configured capacity is too small for the
		// stream's actual GOP size.
		if old := pp.ring[pp.head]; old != nil {
			old.Release()
		}
		pp.head = (pp.head + 1) % pp.capacity
		pp.count--
	}
	pp.ring[idx] = p
	pp.count++
}

// evictLocked drops packets strictly before the eviction boundary: the
// DTS of the last keyframe of the *slowest* (longest-GOP) video track —
// i.e. the minimum last-keyframe DTS across all video tracks. This is
// the binding resolution of spec §9's open question: with mixed GOP
// lengths, no packet that is still within any video track's current GOP
// may be evicted, so the boundary is gated on whichever track is
// furthest behind.
func (pp *PublishPoint) evictLocked() {
	if len(pp.lastKeyDTS) == 0 {
		return
	}
	boundary := int64(-1)
	for _, dts := range pp.lastKeyDTS {
		if boundary == -1 || dts < boundary {
			boundary = dts
		}
	}

	for pp.count > 0 {
		oldest := pp.ring[pp.head]
		if oldest == nil || oldest.DTS >= boundary {
			break
		}
		oldest.Release()
		pp.ring[pp.head] = nil
		pp.head = (pp.head + 1) % pp.capacity
		pp.count--
	}
}

// Join attaches a new subscriber, returning it plus a snapshot of the
// ring from the most recent keyframe boundary onward so the subscriber
// can be fast-forwarded to a coherent start (spec invariant 2:
// keyframe-first delivery). If the ring is empty (cold Stream), the
// snapshot is empty and the subscriber awaits the next live keyframe.
func (pp *PublishPoint) Join(queueCapacity int, policy Policy, hwmBytes int) (*Subscriber, []*media.Packet) {
	sub := NewSubscriber(queueCapacity, policy, hwmBytes)

	pp.mu.Lock()
	defer pp.mu.Unlock()

	snapshot := pp.keyframeSnapshotLocked()
	pp.subs[sub.ID] = sub
	return sub, snapshot
}

// keyframeSnapshotLocked returns ring entries from the earliest position
// that is still at-or-after every video track's last keyframe, i.e. a
// coherent multi-track starting point. Caller holds pp.mu.
func (pp *PublishPoint) keyframeSnapshotLocked() []*media.Packet {
	if pp.count == 0 {
		return nil
	}
	boundary := int64(-1)
	for _, dts := range pp.lastKeyDTS {
		if boundary == -1 || dts < boundary {
			boundary = dts
		}
	}
	if boundary == -1 {
		return nil // no keyframe observed yet: cold stream
	}

	out := make([]*media.Packet, 0, pp.count)
	for i := 0; i < pp.count; i++ {
		p := pp.ring[(pp.head+i)%pp.capacity]
		if p == nil || p.DTS < boundary {
			continue
		}
		p.Retain()
		out = append(out, p)
	}
	return out
}

// Leave detaches a subscriber by id.
func (pp *PublishPoint) Leave(id uuid.UUID) {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	delete(pp.subs, id)
}

// SubscriberCount returns the number of attached subscribers.
func (pp *PublishPoint) SubscriberCount() int {
	pp.mu.RLock()
	defer pp.mu.RUnlock()
	return len(pp.subs)
}

// SubscriberIDs returns a snapshot of attached subscriber ids, for the
// admin surface's subscriber listing/termination endpoints.
func (pp *PublishPoint) SubscriberIDs() []uuid.UUID {
	pp.mu.RLock()
	defer pp.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(pp.subs))
	for id := range pp.subs {
		ids = append(ids, id)
	}
	return ids
}
