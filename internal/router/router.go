// If you are AI: This file implements the MediaRouter (C7, spec §4.5):
// per-Stream track admission buffering, per-track reorder/dedup, and
// fan-out to N PublishPoints and M Transcoder inputs. It never blocks
// the producer — each Consumer is responsible for its own back-pressure
// policy. Grounded on the teacher's bus.Stream.Publish fan-out pattern,
// generalized with the admission and reorder stages spec.md adds.
package router

import (
	"sync"
	"time"

	"originflux/internal/media"
)

// Consumer receives packets fanned out by a MediaRouter: a PublishPoint
// or a Transcoder input queue. Publish must not block and must Retain()
// the packet itself if it needs to keep it past the call.
type Consumer interface {
	Publish(p *media.Packet)
}

// DefaultAdmissionCap is the spec default track-admission buffer cap.
const DefaultAdmissionCap = 5 * time.Second

// Router fans packets from one Provider out to many Consumers for a
// single Stream, applying track admission and per-track reordering
// first.
type Router struct {
	mu sync.Mutex

	tracks  map[uint32]media.Track
	windows map[uint32]*ReorderWindow

	consumers []Consumer

	admitting      bool
	trackSeen      map[uint32]bool
	admissionBuf   []*media.Packet
	admissionStart time.Time
	admissionCap   time.Duration

	onKeyframeRequest func()
}

// NewRouter builds a Router for a Stream whose track set is tracks, with
// the given per-track reorder window size (spec default 32).
func NewRouter(tracks []media.Track, reorderWindow int) *Router {
	tm := make(map[uint32]media.Track, len(tracks))
	windows := make(map[uint32]*ReorderWindow, len(tracks))
	seen := make(map[uint32]bool, len(tracks))
	for _, t := range tracks {
		tm[t.ID] = t
		windows[t.ID] = NewReorderWindow(reorderWindow)
		// Audio tracks are admitted immediately (no keyframe concept);
		// only video tracks gate admission on their first keyframe.
		seen[t.ID] = t.Kind != media.KindVideo
	}
	return &Router{
		tracks:       tm,
		windows:      windows,
		trackSeen:    seen,
		admitting:    true,
		admissionCap: DefaultAdmissionCap,
	}
}

// AddConsumer registers c to receive every subsequent packet.
func (r *Router) AddConsumer(c Consumer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumers = append(r.consumers, c)
}

// RemoveConsumer deregisters c.
func (r *Router) RemoveConsumer(c Consumer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.consumers {
		if existing == c {
			r.consumers = append(r.consumers[:i], r.consumers[i+1:]...)
			return
		}
	}
}

// SetKeyframeRequestHandler registers the callback invoked when a
// downstream PLI/FIR/first-subscriber-wants-keyframe event needs
// forwarding to the Provider (spec §7 keyframe recovery).
func (r *Router) SetKeyframeRequestHandler(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onKeyframeRequest = fn
}

// RequestKeyframe forwards a keyframe request to the Provider, if one is
// registered. Best-effort: providers that can't produce one on demand
// ignore it.
func (r *Router) RequestKeyframe() {
	r.mu.Lock()
	fn := r.onKeyframeRequest
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Ingest admits one packet from the Provider: reorder/dedup, then
// admission buffering or direct fan-out. Ownership: Ingest consumes the
// caller's reference to p.
func (r *Router) Ingest(p *media.Packet) {
	r.mu.Lock()
	window, ok := r.windows[p.TrackID]
	r.mu.Unlock()
	if !ok {
		p.Release() // unknown track: the track set was frozen at Create
		return
	}

	for _, ready := range window.Push(p) {
		r.admitOrForward(ready)
	}
}

func (r *Router) admitOrForward(p *media.Packet) {
	r.mu.Lock()
	if !r.admitting {
		r.mu.Unlock()
		r.forward(p)
		return
	}

	if r.admissionStart.IsZero() {
		r.admissionStart = time.Now()
	}

	if t, ok := r.tracks[p.TrackID]; ok && t.Kind == media.KindVideo && p.IsKeyframe() {
		r.trackSeen[p.TrackID] = true
	}
	r.admissionBuf = append(r.admissionBuf, p)

	if time.Since(r.admissionStart) > r.admissionCap {
		r.dropOldestNonKeyLocked()
	}

	if r.allTracksSeenLocked() {
		flush := r.admissionBuf
		r.admissionBuf = nil
		r.admitting = false
		r.mu.Unlock()
		for _, fp := range flush {
			r.forward(fp)
		}
		return
	}
	r.mu.Unlock()
}

// dropOldestNonKeyLocked implements the cap-exceeded policy: drop the
// oldest non-key packets; if a video keyframe is still the head after
// that, reset the buffer to start there (spec §4.5.1). Everything before
// the most recent buffered video keyframe is released, so the buffer then
// starts at that keyframe; with no video keyframe buffered, it is emptied.
func (r *Router) dropOldestNonKeyLocked() {
	start := len(r.admissionBuf)
	for i := len(r.admissionBuf) - 1; i >= 0; i-- {
		p := r.admissionBuf[i]
		if t, known := r.tracks[p.TrackID]; known && t.Kind == media.KindVideo && p.IsKeyframe() {
			start = i
			break
		}
	}
	for _, p := range r.admissionBuf[:start] {
		p.Release()
	}
	r.admissionBuf = r.admissionBuf[start:]
}

func (r *Router) allTracksSeenLocked() bool {
	for _, seen := range r.trackSeen {
		if !seen {
			return false
		}
	}
	return true
}

func (r *Router) forward(p *media.Packet) {
	r.mu.Lock()
	consumers := make([]Consumer, len(r.consumers))
	copy(consumers, r.consumers)
	r.mu.Unlock()

	for _, c := range consumers {
		c.Publish(p)
	}
	p.Release()
}

// Flush drains every track's reorder window (end-of-stream) and forwards
// whatever remains, in order.
func (r *Router) Flush() {
	r.mu.Lock()
	windows := make([]*ReorderWindow, 0, len(r.windows))
	for _, w := range r.windows {
		windows = append(windows, w)
	}
	r.mu.Unlock()

	for _, w := range windows {
		for _, p := range w.Flush() {
			r.admitOrForward(p)
		}
	}
}
