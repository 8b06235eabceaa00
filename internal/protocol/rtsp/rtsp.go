// If you are AI: This file wraps github.com/bluenviron/gortsplib/v4's
// client for RTSP/RTP pull ingest (C4): Describe a remote RTSP source,
// Setup its H264 (and, if present, an audio) media, and hand every
// received RTP packet to a callback. Grounded on the pack's RTSP
// client examples (see other_examples' rtsp_source.go), trimmed to the
// Describe/Setup/OnPacketRTP/Play sequence this server needs — no RTSP
// *server* role, since this repo only ever pulls from RTSP as a client.
package rtsp

import (
	"fmt"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"
)

// Source pulls one RTSP stream's video (and optional audio) media.
type Source struct {
	client  *gortsplib.Client
	baseURL *base.URL

	VideoMedia  *description.Media
	VideoFormat *format.H264

	AudioMedia  *description.Media
	AudioFormat *format.Opus
}

// Dial connects to rawURL, performs DESCRIBE, and locates an H264 video
// media plus an optional Opus audio media. It does not SETUP or PLAY;
// call Setup and then Play once OnPacketRTP callbacks are registered.
func Dial(rawURL string) (*Source, error) {
	u, err := base.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("rtsp: parse url: %w", err)
	}

	transport := gortsplib.TransportTCP
	client := &gortsplib.Client{Transport: &transport}
	if err := client.Start(u.Scheme, u.Host); err != nil {
		return nil, fmt.Errorf("rtsp: connect: %w", err)
	}

	desc, _, err := client.Describe(u)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("rtsp: describe: %w", err)
	}

	src := &Source{client: client, baseURL: desc.BaseURL}
	for _, m := range desc.Medias {
		for _, f := range m.Formats {
			switch ff := f.(type) {
			case *format.H264:
				if src.VideoMedia == nil {
					src.VideoMedia, src.VideoFormat = m, ff
				}
			case *format.Opus:
				if src.AudioMedia == nil {
					src.AudioMedia, src.AudioFormat = m, ff
				}
			}
		}
	}
	if src.VideoMedia == nil {
		client.Close()
		return nil, fmt.Errorf("rtsp: no H264 video media advertised")
	}

	return src, nil
}

// OnVideoPacket registers the RTP callback for the video media. Must be
// called after Dial and before Setup and Play.
func (s *Source) OnVideoPacket(fn func(*rtp.Packet)) {
	s.client.OnPacketRTP(s.VideoMedia, s.VideoFormat, fn)
}

// OnAudioPacket registers the RTP callback for the audio media, if one
// was advertised.
func (s *Source) OnAudioPacket(fn func(*rtp.Packet)) bool {
	if s.AudioMedia == nil {
		return false
	}
	s.client.OnPacketRTP(s.AudioMedia, s.AudioFormat, fn)
	return true
}

// Setup issues SETUP for the discovered media tracks.
func (s *Source) Setup() error {
	if _, err := s.client.Setup(s.baseURL, s.VideoMedia, 0, 0); err != nil {
		return fmt.Errorf("rtsp: setup video: %w", err)
	}
	if s.AudioMedia != nil {
		if _, err := s.client.Setup(s.baseURL, s.AudioMedia, 0, 0); err != nil {
			return fmt.Errorf("rtsp: setup audio: %w", err)
		}
	}
	return nil
}

// Play starts RTP delivery.
func (s *Source) Play() error {
	_, err := s.client.Play(nil)
	return err
}

// Wait blocks until the underlying connection fails.
func (s *Source) Wait() error {
	return s.client.Wait()
}

// Close tears down the RTSP session.
func (s *Source) Close() {
	s.client.Close()
}
