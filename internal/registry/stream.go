// If you are AI: This file implements Stream, the registry's unit of
// indexing (spec §3 Data Model, §4.4). A Stream moves through
// Initialising -> Ready -> Publishing -> Stopping -> Stopped; once Ready
// its track set is frozen.
package registry

import (
	"sync"
	"time"

	"originflux/internal/media"
)

// State is the Stream lifecycle state.
type State uint8

const (
	StateInitialising State = iota
	StateReady
	StatePublishing
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitialising:
		return "initialising"
	case StateReady:
		return "ready"
	case StatePublishing:
		return "publishing"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Stats are the read-mostly counters the admin surface exposes.
type Stats struct {
	BytesIn           uint64
	SubscriberCount   int
	LastPacketAt      time.Time
}

// Stream is the registry's per-name unit. At most one source per Stream;
// once Ready the track set is frozen; once Stopped it is removed
// atomically and the name becomes available again.
type Stream struct {
	key     Key
	epoch   uint64
	created time.Time

	mu     sync.RWMutex
	state  State
	tracks []media.Track
	source string // Provider identity, or the upstream URL in edge/pull mode
	stats  Stats

	// pendingSub is a callback set invoked once the Stream becomes Ready,
	// to resolve subscriptions registered before the Stream existed
	// (spec §4.4 Subscribe).
	onReady []func(*Stream)
}

func newStream(key Key, epoch uint64) *Stream {
	return &Stream{
		key:     key,
		epoch:   epoch,
		created: time.Now(),
		state:   StateInitialising,
	}
}

func (s *Stream) Key() Key       { return s.key }
func (s *Stream) Epoch() uint64  { return s.epoch }
func (s *Stream) Created() time.Time { return s.created }

func (s *Stream) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Tracks returns a copy of the frozen track set. Empty while Initialising.
func (s *Stream) Tracks() []media.Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]media.Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// freeze transitions Initialising -> Ready, fixing the track set and
// firing any onReady callbacks registered by pending subscriptions.
func (s *Stream) freeze(tracks []media.Track, source string) {
	s.mu.Lock()
	if s.state != StateInitialising {
		s.mu.Unlock()
		return
	}
	s.tracks = tracks
	s.source = source
	s.state = StateReady
	callbacks := s.onReady
	s.onReady = nil
	s.mu.Unlock()

	for _, cb := range callbacks {
		cb(s)
	}
}

// markPublishing records that the Provider has begun pushing packets.
func (s *Stream) markPublishing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateReady {
		s.state = StatePublishing
	}
}

func (s *Stream) markStopping() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateReady || s.state == StatePublishing {
		s.state = StateStopping
	}
}

func (s *Stream) markStopped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateStopped
}

// RecordPacket updates last-packet-time and byte counters; called by the
// MediaRouter on the hot path, so it takes only the write lock briefly.
func (s *Stream) RecordPacket(n int) {
	s.mu.Lock()
	s.stats.BytesIn += uint64(n)
	s.stats.LastPacketAt = time.Now()
	s.mu.Unlock()
}

// SetSubscriberCount is updated by the MediaRouter/PublishPoint as
// subscribers attach/detach, for admin-surface snapshotting.
func (s *Stream) SetSubscriberCount(n int) {
	s.mu.Lock()
	s.stats.SubscriberCount = n
	s.mu.Unlock()
}

func (s *Stream) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// whenReady registers cb to run once the Stream becomes Ready. If it is
// already Ready, cb runs immediately (synchronously, by the caller).
func (s *Stream) whenReady(cb func(*Stream)) (alreadyReady bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateReady || s.state == StatePublishing {
		return true
	}
	s.onReady = append(s.onReady, cb)
	return false
}
