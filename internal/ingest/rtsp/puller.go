// If you are AI: This file implements RTSP/RTP pull ingest (C4): connect
// to a remote RTSP source, depacketize its H264 (and optional Opus)
// media via the same samplebuilder pipeline internal/ingest/webrtc uses
// for WHIP, and republish into a local session.Manager Stream. Grounded
// on internal/ingest/rtmppull/puller.go's Backoff/Run/runOnce reconnect
// shape (reused directly rather than duplicated) and on
// internal/ingest/webrtc/provider.go's RTP-to-access-unit assembly.
package rtsp

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"

	"originflux/internal/ingest/rtmppull"
	"originflux/internal/media"
	rtspwire "originflux/internal/protocol/rtsp"
	"originflux/internal/registry"
	"originflux/internal/session"
)

// Puller pulls one remote RTSP source and republishes it under key.
type Puller struct {
	mgr       *session.Manager
	key       registry.Key
	remoteURL string
	backoff   rtmppull.Backoff

	// Reconnect mirrors rtmppull.Puller.Reconnect.
	Reconnect bool
}

// New builds a Puller for one RelayConfig entry in "rtsp_pull" mode.
func New(mgr *session.Manager, key registry.Key, remoteURL string, base, max time.Duration, jitterFrac float64) *Puller {
	return &Puller{
		mgr:       mgr,
		key:       key,
		remoteURL: remoteURL,
		backoff:   rtmppull.Backoff{Base: base, Max: max, JitterFrac: jitterFrac},
	}
}

// Run connects, pulls, and republishes until ctx is cancelled.
func (p *Puller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		connectedAt, err := p.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("rtsp pull %s: %v", p.key, err)
		}
		if !p.Reconnect {
			return
		}
		if time.Since(connectedAt) > 30*time.Second {
			p.backoff.Reset()
		}
		delay := p.backoff.Next()
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (p *Puller) runOnce(ctx context.Context) (connectedAt time.Time, err error) {
	src, err := rtspwire.Dial(p.remoteURL)
	if err != nil {
		return time.Now(), err
	}
	defer src.Close()

	sess := &pullSession{mgr: p.mgr, key: p.key, source: "rtsp:" + p.remoteURL, tracks: make(map[media.Kind]media.Track), deadline: time.Now().Add(3 * time.Second)}

	videoTrack := media.Track{ID: 1, Kind: media.KindVideo, Codec: media.CodecH264, Timebase: media.Timebase{Num: 1, Den: 90000}}
	sess.tracks[media.KindVideo] = videoTrack
	sb := samplebuilder.New(50, &codecs.H264Packet{}, 90000)

	src.OnVideoPacket(func(pkt *rtp.Packet) {
		sb.Push(pkt)
		for {
			sample := sb.Pop()
			if sample == nil {
				break
			}
			sess.handle(accessUnit(videoTrack.ID, int64(pkt.Timestamp), sample.Data, looksLikeKeyframe(sample.Data)))
		}
	})

	if src.AudioFormat != nil {
		audioTrack := media.Track{
			ID: 2, Kind: media.KindAudio, Codec: media.CodecOpus,
			Timebase: media.Timebase{Num: 1, Den: 48000}, SampleRate: 48000, Channels: 2,
		}
		sess.tracks[media.KindAudio] = audioTrack
		src.OnAudioPacket(func(pkt *rtp.Packet) {
			if len(pkt.Payload) == 0 {
				return
			}
			sess.handle(accessUnit(audioTrack.ID, int64(pkt.Timestamp), pkt.Payload, false))
		})
	}

	if err := src.Setup(); err != nil {
		return time.Now(), err
	}
	if err := src.Play(); err != nil {
		return time.Now(), err
	}

	connectedAt = time.Now()
	waitErr := make(chan error, 1)
	go func() { waitErr <- src.Wait() }()

	select {
	case <-ctx.Done():
		return connectedAt, nil
	case err := <-waitErr:
		sess.close()
		return connectedAt, err
	}
}

// pullSession assembles incoming access units into the settle-then-admit
// pattern shared by every Provider in this tree.
type pullSession struct {
	mgr    *session.Manager
	key    registry.Key
	source string

	mu       sync.Mutex
	admitted bool
	handle   registry.Handle
	ingest   func(*media.Packet)
	tracks   map[media.Kind]media.Track
	backlog  []*media.Packet
	deadline time.Time
}

func (s *pullSession) handle(pkt *media.Packet) {
	s.mu.Lock()
	if s.admitted {
		ingest := s.ingest
		s.mu.Unlock()
		ingest(pkt)
		return
	}

	s.backlog = append(s.backlog, pkt)
	ready := len(s.tracks) >= 2 || time.Now().After(s.deadline)
	if !ready {
		s.mu.Unlock()
		return
	}

	tracks := make([]media.Track, 0, len(s.tracks))
	for _, t := range s.tracks {
		tracks = append(tracks, t)
	}
	backlog := s.backlog
	s.backlog = nil
	s.mu.Unlock()

	handle, ingest, err := s.mgr.Publish(s.key, tracks, s.source)
	if err != nil {
		for _, p := range backlog {
			p.Release()
		}
		return
	}

	s.mu.Lock()
	s.handle, s.ingest, s.admitted = handle, ingest, true
	s.mu.Unlock()

	for _, p := range backlog {
		ingest(p)
	}
}

func (s *pullSession) close() {
	s.mu.Lock()
	admitted, handle := s.admitted, s.handle
	s.mu.Unlock()
	if admitted {
		s.mgr.Unpublish(handle)
	}
}

func accessUnit(trackID uint32, pts int64, payload []byte, keyframe bool) *media.Packet {
	pkt := media.AcquirePacket()
	pkt.TrackID = trackID
	pkt.PTS, pkt.DTS = pts, pts
	pkt.Format = media.FormatAnnexB
	if keyframe {
		pkt.Flags |= media.FlagKeyframe
	}
	pkt.SetPayload(payload)
	return pkt
}

func looksLikeKeyframe(annexB []byte) bool {
	for i := 0; i+4 < len(annexB); i++ {
		if annexB[i] == 0 && annexB[i+1] == 0 && annexB[i+2] == 1 {
			nalType := annexB[i+3] & 0x1F
			if nalType == 5 || nalType == 7 || nalType == 8 {
				return true
			}
			i += 3
		}
	}
	return false
}
