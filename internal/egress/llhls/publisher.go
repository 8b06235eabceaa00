// If you are AI: This file is the LL-HLS Publisher (C9): it Joins a
// Stream's PublishPoint, demuxes the subscriber's packet stream back
// into per-track fMP4 fragments, and feeds them into a Window part by
// part. One Publisher per live Stream; the Service in service.go owns
// the Publisher-per-key map and HTTP routing.
package llhls

import (
	"context"
	"sync"
	"time"

	"originflux/internal/media"
	"originflux/internal/registry"
	"originflux/internal/router"
)

// partTarget is the low-latency part duration target (spec §7.2
// default of ~200ms, well under the 1s LL-HLS recommended ceiling).
const partTarget = 200 * time.Millisecond

// targetDuration is the whole-segment duration target; a segment closes
// on the first video keyframe at or after this much accumulated time.
const targetDuration = 2 * time.Second

// Publisher feeds one Stream's packets into an LL-HLS Window.
type Publisher struct {
	key    registry.Key
	window *Window

	sub *router.Subscriber
	pp  *router.PublishPoint

	tracks map[uint32]media.Track

	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	pending     map[uint32][]FragmentSample // track ID -> buffered samples for the in-flight part
	baseDecode  map[uint32]uint64           // track ID -> cumulative duration ticks already emitted
	partStarted time.Time
	segStarted  time.Time
	partIdx     int
	hasVideo    bool
}

// NewPublisher joins key's PublishPoint and starts demuxing in a
// background goroutine. Call Close to detach.
func NewPublisher(mgr interface {
	Join(registry.Key, int, router.Policy, int) (*router.Subscriber, []*media.Packet, *router.PublishPoint, error)
}, key registry.Key, tracks []media.Track) (*Publisher, error) {
	sub, snapshot, pp, err := mgr.Join(key, 256, router.PolicyDropToKeyframe, 8<<20)
	if err != nil {
		return nil, err
	}

	tm := make(map[uint32]media.Track, len(tracks))
	hasVideo := false
	for _, t := range tracks {
		tm[t.ID] = t
		if t.Kind == media.KindVideo {
			hasVideo = true
		}
	}

	p := &Publisher{
		key:        key,
		window:     NewWindow(6, BuildInitSegment(tracks)),
		sub:        sub,
		pp:         pp,
		tracks:     tm,
		done:       make(chan struct{}),
		pending:    make(map[uint32][]FragmentSample),
		baseDecode: make(map[uint32]uint64),
		hasVideo:   hasVideo,
	}
	now := time.Now()
	p.partStarted, p.segStarted = now, now

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	for _, pkt := range snapshot {
		p.ingest(pkt)
		pkt.Release()
	}

	go p.run(ctx)
	return p, nil
}

// Window exposes the Publisher's LL-HLS window for HTTP serving.
func (p *Publisher) Window() *Window { return p.window }

// Close detaches from the PublishPoint and stops the demux goroutine.
func (p *Publisher) Close() {
	p.cancel()
	<-p.done
	p.pp.Leave(p.sub.ID)
}

func (p *Publisher) run(ctx context.Context) {
	defer close(p.done)
	for {
		for {
			pkt, ok := p.sub.Pop()
			if !ok {
				break
			}
			p.ingest(pkt)
			pkt.Release()
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		p.sub.Wait(ctx)
		if ctx.Err() != nil {
			return
		}
	}
}

// ingest appends one packet into its track's pending sample buffer and
// flushes a part when the part-duration target elapses. A video keyframe
// first closes the open part and is then flushed as a part of its own,
// so it leads its part (and, once targetDuration has elapsed, a new
// segment).
func (p *Publisher) ingest(pkt *media.Packet) {
	t, ok := p.tracks[pkt.TrackID]
	if !ok {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	isVideoKey := t.Kind == media.KindVideo && pkt.IsKeyframe()
	if isVideoKey {
		p.flushPartLocked(false)
	}

	duration := uint32(0)
	if pkt.Duration > 0 {
		duration = uint32(pkt.Duration)
	}
	payload := append([]byte(nil), pkt.Payload...)
	p.pending[pkt.TrackID] = append(p.pending[pkt.TrackID], FragmentSample{
		Duration:  duration,
		Size:      uint32(len(payload)),
		Keyframe:  pkt.IsKeyframe(),
		CTSOffset: int32(pkt.PTS - pkt.DTS),
		Payload:   payload,
	})

	startsSegment := isVideoKey && time.Since(p.segStarted) >= targetDuration
	if isVideoKey || time.Since(p.partStarted) >= partTarget {
		p.flushPartLocked(startsSegment)
	}
}

// flushPartLocked builds a fragment from every track's pending samples
// and appends it to the Window. Caller holds p.mu.
func (p *Publisher) flushPartLocked(startsNewSegment bool) {
	var total time.Duration
	var fragTracks []FragmentTrack
	independent := true

	for trackID, samples := range p.pending {
		if len(samples) == 0 {
			continue
		}
		t := p.tracks[trackID]
		fragTracks = append(fragTracks, FragmentTrack{
			TrackID:             trackID,
			BaseMediaDecodeTime: p.baseDecode[trackID],
			Samples:             samples,
		})

		var trackTicks uint32
		for _, s := range samples {
			trackTicks += s.Duration
		}
		p.baseDecode[trackID] += uint64(trackTicks)

		if t.Kind == media.KindVideo {
			independent = samples[0].Keyframe
			tb := t.Timebase
			if tb.Den == 0 {
				tb.Den = 1000
			}
			total = time.Duration(float64(trackTicks) / float64(tb.Den) * float64(time.Second))
		}
	}
	if len(fragTracks) == 0 {
		return
	}

	data := BuildFragment(uint32(p.partIdx), fragTracks)
	p.window.AppendPart(data, total, independent, startsNewSegment)
	p.partIdx++
	p.partStarted = time.Now()
	if startsNewSegment {
		p.segStarted = time.Now()
	}
	p.pending = make(map[uint32][]FragmentSample)
}
