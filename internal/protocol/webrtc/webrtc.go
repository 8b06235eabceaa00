// If you are AI: This file wraps github.com/pion/webrtc/v4's
// PeerConnection construction and the non-trickle offer/answer exchange
// both WHIP ingest and WHEP egress share: a client POSTs one SDP offer
// and gets back one complete SDP answer, so there is no separate
// signalling channel to trickle ICE candidates over (spec.md §4.3 WebRTC
// ingest/egress share one HTTP SDP endpoint per direction). Grounded on
// the codec-registration and ICE-range patterns the pack's WebRTC SFU
// examples use (see other_examples' mediamtx/livekit/waterfall
// incoming-track files), trimmed to the single H264+Opus pair this
// server negotiates.
package webrtc

import (
	"time"

	"github.com/pion/webrtc/v4"
)

// Config bounds ICE candidate gathering to the configured UDP port range,
// matching config.WebRTCProviderConfig.ICEUDPRange.
type Config struct {
	ICEPortMin, ICEPortMax uint16
}

// NewAPI builds a pion API instance with H264 and Opus registered as the
// only negotiable codecs, and ICE candidates restricted to cfg's UDP
// range when one is configured.
func NewAPI(cfg Config) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		},
		PayloadType: 102,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, err
	}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{}
	if cfg.ICEPortMin != 0 && cfg.ICEPortMax != 0 {
		if err := se.SetEphemeralUDPPortRange(cfg.ICEPortMin, cfg.ICEPortMax); err != nil {
			return nil, err
		}
	}

	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se)), nil
}

// Negotiate drives a non-trickle offer/answer exchange: it sets offerSDP
// as the remote description, creates and sets a local answer, then
// blocks until ICE gathering completes so the returned SDP carries every
// host/srflx candidate inline (no trickle signalling round-trip).
func Negotiate(pc *webrtc.PeerConnection, offerSDP string) (answerSDP string, err error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return "", err
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return "", err
	}

	select {
	case <-gatherComplete:
	case <-time.After(5 * time.Second):
	}

	return pc.LocalDescription().SDP, nil
}

// CreateOfferAndWait builds the local offer side of a WHEP-style
// negotiation where this process originates tracks (egress): it creates
// an offer up front so AddTrack calls before Negotiate are reflected.
func CreateOfferAndWait(pc *webrtc.PeerConnection) (offerSDP string, err error) {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return "", err
	}

	select {
	case <-gatherComplete:
	case <-time.After(5 * time.Second):
	}

	return pc.LocalDescription().SDP, nil
}

// SetAnswer applies a remote WHEP client's SDP answer to pc.
func SetAnswer(pc *webrtc.PeerConnection, answerSDP string) error {
	return pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answerSDP,
	})
}
