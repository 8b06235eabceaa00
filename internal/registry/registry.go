// If you are AI: This file implements the process-wide Stream Registry
// (C6, spec §4.4): name -> Stream with a per-name epoch counter, pending
// subscriptions, and a short-held exclusive lock for mutation with
// versioned snapshot reads so lookups never block behind lifecycle
// changes. Grounded on the teacher's internal/core/bus/registry.go,
// generalized with epoch safety and subscribe-before-create resolution.
package registry

import (
	"sync"

	"golang.org/x/sync/singleflight"

	"originflux/internal/errs"
	"originflux/internal/media"
)

type entry struct {
	stream *Stream
	epoch  uint64
}

// Registry is the process-wide (vhost, application, name) -> Stream map.
type Registry struct {
	mu      sync.RWMutex
	streams map[Key]*entry

	// group collapses concurrent Create races on the same key into one
	// winner, matching how two racing RTMP publish commands for the same
	// stream name must agree on exactly one AttachPublisher success.
	group singleflight.Group

	// pending holds subscribers registered before their Stream exists;
	// resolved the moment a matching Create freezes the Stream to Ready.
	pendingMu sync.Mutex
	pending   map[Key][]func(*Stream)
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		streams: make(map[Key]*entry),
		pending: make(map[Key][]func(*Stream)),
	}
}

// Create activates a new Stream for key with the given tracks, or fails
// with errs.AlreadyPublishing if one is already Ready/Publishing (spec
// invariant 5: registry uniqueness). Source identifies the Provider
// (protocol name) or upstream URL in pull/edge mode.
func (r *Registry) Create(key Key, tracks []media.Track, source string) (Handle, error) {
	ran := false
	v, err, _ := r.group.Do(key.String(), func() (interface{}, error) {
		ran = true
		r.mu.Lock()
		e, exists := r.streams[key]
		if exists {
			st := e.stream.State()
			if st == StateReady || st == StatePublishing {
				r.mu.Unlock()
				return Handle{}, errs.AlreadyPublishing
			}
			// Previous entry is Stopped/Stopping: bump epoch, fresh Stream.
			e.epoch++
			e.stream = newStream(key, e.epoch)
		} else {
			e = &entry{stream: newStream(key, 1), epoch: 1}
			r.streams[key] = e
		}
		epoch := e.epoch
		stream := e.stream
		r.mu.Unlock()

		stream.freeze(tracks, source)
		stream.markPublishing()
		r.resolvePending(key, stream)

		return Handle{Key: key, Epoch: epoch, reg: r}, nil
	})
	if err != nil {
		return Handle{}, err
	}
	if !ran {
		// A concurrent Create for the same key ran instead and won.
		return Handle{}, errs.AlreadyPublishing
	}
	return v.(Handle), nil
}

// Lookup returns a resolved Handle for key if a Stream currently exists,
// regardless of state.
func (r *Registry) Lookup(key Key) (Handle, bool) {
	r.mu.RLock()
	e, ok := r.streams[key]
	r.mu.RUnlock()
	if !ok {
		return Handle{}, false
	}
	return Handle{Key: key, Epoch: e.epoch, reg: r}, true
}

func (r *Registry) lookupWithEpoch(key Key) (*Stream, uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.streams[key]
	if !ok {
		return nil, 0, false
	}
	return e.stream, e.epoch, true
}

// Subscribe registers onReady to fire with the target Stream once it is
// Ready: immediately if it already exists and is Ready/Publishing,
// otherwise deferred until the next matching Create (spec §4.4 Subscribe).
func (r *Registry) Subscribe(key Key, onReady func(*Stream)) {
	r.mu.RLock()
	e, exists := r.streams[key]
	r.mu.RUnlock()

	if exists {
		if !e.stream.whenReady(onReady) {
			return // registered as a pending callback on the existing Stream
		}
		onReady(e.stream)
		return
	}

	r.pendingMu.Lock()
	r.pending[key] = append(r.pending[key], onReady)
	r.pendingMu.Unlock()
}

func (r *Registry) resolvePending(key Key, stream *Stream) {
	r.pendingMu.Lock()
	cbs := r.pending[key]
	delete(r.pending, key)
	r.pendingMu.Unlock()

	for _, cb := range cbs {
		cb(stream)
	}
}

// Stop idempotently transitions a Stream to Stopping then Stopped and
// increments its epoch so stale handles are rejected even if the name is
// immediately re-created. The caller (Provider) is expected to have
// already drained its PublishPoints before calling Stop; Stop itself
// only performs the registry-side bookkeeping.
func (r *Registry) Stop(h Handle) {
	r.mu.Lock()
	e, ok := r.streams[h.Key]
	if !ok || e.epoch != h.Epoch {
		r.mu.Unlock()
		return // already stopped/reused: idempotent no-op
	}
	e.stream.markStopping()
	e.stream.markStopped()
	e.epoch++
	r.mu.Unlock()
}

// Remove deletes key from the registry if its Stream is Stopped. Returns
// false if the Stream is still live or doesn't exist.
func (r *Registry) Remove(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.streams[key]
	if !ok {
		return false
	}
	if e.stream.State() != StateStopped {
		return false
	}
	delete(r.streams, key)
	return true
}

// Count returns the number of tracked streams (any state).
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}

// List returns a snapshot of every tracked Key.
func (r *Registry) List() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]Key, 0, len(r.streams))
	for k := range r.streams {
		keys = append(keys, k)
	}
	return keys
}

// Streams returns a snapshot of every live *Stream, for the admin
// surface and stats collection. Taking the read lock only to copy
// pointers keeps it off the hot path.
func (r *Registry) Streams() []*Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Stream, 0, len(r.streams))
	for _, e := range r.streams {
		out = append(out, e.stream)
	}
	return out
}
