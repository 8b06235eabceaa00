// If you are AI: This file implements WHEP-style WebRTC egress (C9): one
// HTTP POST per viewer carrying an SDP offer, answered with a complete
// SDP answer after this process adds one TrackLocalStaticSample per
// Stream track and starts writing samples from a router.Subscriber.
// Grounded on internal/egress/llhls/publisher.go's Join/Pop/Wait
// consumer loop, swapping the fMP4 fragment writer for pion's
// TrackLocalStaticSample.WriteSample, which handles RTP packetization
// internally (see the pack's WebRTC examples for the same
// AddTrack-then-WriteSample shape).
package webrtc

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	webrtcmedia "github.com/pion/webrtc/v4/pkg/media"

	"originflux/internal/media"
	wire "originflux/internal/protocol/webrtc"
	"originflux/internal/registry"
	"originflux/internal/router"
	"originflux/internal/session"
)

// Service serves live Streams as WHEP-style WebRTC playback.
type Service struct {
	mgr *session.Manager
	api *webrtc.API
}

// New builds a WHEP Service bound to mgr, with ICE candidates restricted
// to cfg's UDP port range.
func New(mgr *session.Manager, cfg wire.Config) (*Service, error) {
	api, err := wire.NewAPI(cfg)
	if err != nil {
		return nil, err
	}
	return &Service{mgr: mgr, api: api}, nil
}

// RegisterRoutes wires the WHEP endpoint onto mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/whep/", s.handle)
}

func (s *Service) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	app, name, ok := parseWHEPPath(r.URL.Path)
	if !ok {
		http.Error(w, "expected /whep/{app}/{name}", http.StatusBadRequest)
		return
	}
	key := registry.NewKey("", app, name)

	handle, ok := s.mgr.Registry().Lookup(key)
	if !ok {
		http.Error(w, "stream not live", http.StatusNotFound)
		return
	}
	st, err := handle.Resolve()
	if err != nil {
		http.Error(w, "stream not live", http.StatusNotFound)
		return
	}

	offerBody, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read offer", http.StatusBadRequest)
		return
	}

	pc, err := s.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		http.Error(w, "create peer connection", http.StatusInternalServerError)
		return
	}

	localTracks := make(map[uint32]*webrtc.TrackLocalStaticSample)
	for _, t := range st.Tracks() {
		cap, ok := rtpCapabilityFor(t)
		if !ok {
			continue
		}
		local, err := webrtc.NewTrackLocalStaticSample(cap, t.Kind.String(), "originflux")
		if err != nil {
			continue
		}
		if _, err := pc.AddTrack(local); err != nil {
			continue
		}
		localTracks[t.ID] = local
	}

	sub, snapshot, pp, err := s.mgr.Join(key, 256, router.PolicyDropToKeyframe, 8<<20)
	if err != nil {
		http.Error(w, "join: "+err.Error(), http.StatusServiceUnavailable)
		_ = pc.Close()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub.SetOnClose(cancel)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed ||
			state == webrtc.PeerConnectionStateDisconnected {
			cancel()
			pp.Leave(sub.ID)
			_ = pc.Close()
		}
	})

	for _, pkt := range snapshot {
		writeSample(localTracks, pkt)
		pkt.Release()
	}
	go runSubscriber(ctx, sub, localTracks)

	answer, err := wire.Negotiate(pc, string(offerBody))
	if err != nil {
		http.Error(w, "negotiate: "+err.Error(), http.StatusBadRequest)
		pp.Leave(sub.ID)
		_ = pc.Close()
		return
	}

	w.Header().Set("Content-Type", "application/sdp")
	w.Header().Set("Location", r.URL.Path)
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte(answer))
}

func runSubscriber(ctx context.Context, sub *router.Subscriber, localTracks map[uint32]*webrtc.TrackLocalStaticSample) {
	for {
		for {
			pkt, ok := sub.Pop()
			if !ok {
				break
			}
			writeSample(localTracks, pkt)
			pkt.Release()
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		sub.Wait(ctx)
	}
}

func writeSample(localTracks map[uint32]*webrtc.TrackLocalStaticSample, pkt *media.Packet) {
	local, ok := localTracks[pkt.TrackID]
	if !ok {
		return
	}
	_ = local.WriteSample(webrtcmedia.Sample{Data: pkt.Payload, Duration: time.Duration(pkt.Duration) * time.Millisecond})
}

func rtpCapabilityFor(t media.Track) (webrtc.RTPCodecCapability, bool) {
	switch t.Codec {
	case media.CodecH264:
		return webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		}, true
	case media.CodecOpus:
		return webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		}, true
	default:
		return webrtc.RTPCodecCapability{}, false
	}
}

func parseWHEPPath(p string) (app, name string, ok bool) {
	p = strings.TrimPrefix(p, "/whep/")
	parts := strings.SplitN(p, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
