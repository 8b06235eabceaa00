// If you are AI: This file implements WHIP-style WebRTC ingest (C4):
// one HTTP POST per publisher, carrying an SDP offer, answered with a
// complete (non-trickle) SDP answer; incoming RTP is depacketized via
// pion/webrtc's samplebuilder into access units and admitted through the
// same settle-then-admit pattern every other Provider in this tree uses.
// Grounded on internal/ingest/rtmp/provider.go's Listen/Serve/Stop shape
// (generalized here to RegisterRoutes since WebRTC signalling rides
// plain HTTP, not a bespoke TCP accept loop) and on the pack's WebRTC
// examples (bluenviron/mediamtx's incoming_track.go) for the
// OnTrack/ReadRTP/samplebuilder pipeline.
package webrtc

import (
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"

	"originflux/internal/media"
	wire "originflux/internal/protocol/webrtc"
	"originflux/internal/registry"
	"originflux/internal/session"
)

// Provider serves a WHIP-style ingest endpoint at /whip/{app}/{name}.
type Provider struct {
	mgr *session.Manager
	api *webrtc.API

	mu    sync.Mutex
	peers map[*webrtc.PeerConnection]struct{}
}

// NewProvider builds a WHIP Provider bound to mgr, with ICE candidates
// restricted to cfg's UDP port range.
func NewProvider(mgr *session.Manager, cfg wire.Config) (*Provider, error) {
	api, err := wire.NewAPI(cfg)
	if err != nil {
		return nil, err
	}
	return &Provider{mgr: mgr, api: api, peers: make(map[*webrtc.PeerConnection]struct{})}, nil
}

// RegisterRoutes wires the WHIP endpoint onto mux.
func (p *Provider) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/whip/", p.handle)
}

// Stop closes every in-flight PeerConnection.
func (p *Provider) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for pc := range p.peers {
		_ = pc.Close()
	}
	p.peers = make(map[*webrtc.PeerConnection]struct{})
	return nil
}

func (p *Provider) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	app, name, ok := parseWHIPPath(r.URL.Path)
	if !ok {
		http.Error(w, "expected /whip/{app}/{name}", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read offer", http.StatusBadRequest)
		return
	}

	pc, err := p.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		http.Error(w, "create peer connection", http.StatusInternalServerError)
		return
	}
	p.mu.Lock()
	p.peers[pc] = struct{}{}
	p.mu.Unlock()

	sess := newIngestSession(p.mgr, registry.NewKey("", app, name))
	pc.OnTrack(sess.onTrack)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed ||
			state == webrtc.PeerConnectionStateDisconnected {
			sess.close()
			p.mu.Lock()
			delete(p.peers, pc)
			p.mu.Unlock()
			_ = pc.Close()
		}
	})

	answer, err := wire.Negotiate(pc, string(body))
	if err != nil {
		http.Error(w, "negotiate: "+err.Error(), http.StatusBadRequest)
		_ = pc.Close()
		return
	}

	w.Header().Set("Content-Type", "application/sdp")
	w.Header().Set("Location", r.URL.Path)
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte(answer))
}

func parseWHIPPath(p string) (app, name string, ok bool) {
	p = strings.TrimPrefix(p, "/whip/")
	parts := strings.SplitN(p, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// ingestSession assembles RTP from each negotiated track into access
// units, mirroring the settle-then-admit pattern of the other Providers:
// it buffers samples until two track kinds are registered (or, once the
// deadline passes, any one is) before calling Manager.Publish.
type ingestSession struct {
	mgr *session.Manager
	key registry.Key

	mu        sync.Mutex
	admitted  bool
	handle    registry.Handle
	ingest    func(*media.Packet)
	tracks    map[media.Kind]media.Track
	backlog   []*media.Packet
	deadline  time.Time
}

func newIngestSession(mgr *session.Manager, key registry.Key) *ingestSession {
	return &ingestSession{
		mgr:      mgr,
		key:      key,
		tracks:   make(map[media.Kind]media.Track),
		deadline: time.Now().Add(3 * time.Second),
	}
}

func (s *ingestSession) onTrack(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	switch remote.Kind() {
	case webrtc.RTPCodecTypeVideo:
		go s.readVideo(remote)
	case webrtc.RTPCodecTypeAudio:
		go s.readAudio(remote)
	}

	// Drain incoming RTCP so pion's interceptors (NACK/PLI/REMB) function.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := receiver.Read(buf); err != nil {
				return
			}
		}
	}()
}

func (s *ingestSession) readVideo(remote *webrtc.TrackRemote) {
	sb := samplebuilder.New(50, &codecs.H264Packet{}, remote.Codec().ClockRate)
	track := media.Track{ID: 1, Kind: media.KindVideo, Codec: media.CodecH264, Timebase: media.Timebase{Num: 1, Den: remote.Codec().ClockRate}}
	s.registerTrack(track)

	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			return
		}
		sb.Push(pkt)
		for {
			sample := sb.Pop()
			if sample == nil {
				break
			}
			s.handlePacket(accessUnit(track.ID, int64(pkt.Timestamp), sample.Data, looksLikeKeyframe(sample.Data)))
		}
	}
}

func (s *ingestSession) readAudio(remote *webrtc.TrackRemote) {
	track := media.Track{
		ID: 2, Kind: media.KindAudio, Codec: media.CodecOpus,
		Timebase: media.Timebase{Num: 1, Den: remote.Codec().ClockRate},
		SampleRate: int(remote.Codec().ClockRate), Channels: int(remote.Codec().Channels),
	}
	s.registerTrack(track)

	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		s.handlePacket(accessUnit(track.ID, int64(pkt.Timestamp), pkt.Payload, false))
	}
}

func (s *ingestSession) registerTrack(t media.Track) {
	s.mu.Lock()
	s.tracks[t.Kind] = t
	s.mu.Unlock()
}

func (s *ingestSession) handlePacket(pkt *media.Packet) {
	s.mu.Lock()
	if s.admitted {
		ingest := s.ingest
		s.mu.Unlock()
		ingest(pkt)
		return
	}

	s.backlog = append(s.backlog, pkt)
	ready := len(s.tracks) >= 2 || (len(s.tracks) >= 1 && time.Now().After(s.deadline))
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

	handle, ingest, err := s.mgr.Publish(s.key, tracks, "webrtc-whip:"+s.key.String())
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

func (s *ingestSession) close() {
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

// looksLikeKeyframe scans every Annex-B NAL unit type for an
// IDR slice (type 5) or parameter set (7/8), the cheap heuristic every
// WebRTC SFU in the pack uses rather than parsing full slice headers.
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
