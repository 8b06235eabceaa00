// If you are AI: This file is the RTMP Provider's per-connection service
// session: protocol handshake/command handling plus translation of
// FLV-framed audio/video messages into media.Packet, admitted into the
// session.Manager once the video sequence header has arrived, plus the
// audio one if any audio message has been seen (or, after a short
// timeout, with whatever headers arrived). Consolidates the teacher's
// session.go + commands.go, which both declared colliding
// HandleCreateStream/HandlePublish methods on *ServiceSession — this
// version keeps session.go's HandleConnect/SendConnectResult and
// commands.go's streamID-aware HandleCreateStream/HandlePublish
// (extractStreamName + sendOnStatus), dropping the duplicate pair.
//
// RTMP carries no virtual-host field, so every RTMP-ingested Stream
// resolves to the "default" VirtualHost; host-based routing only
// applies to the HTTP/TLS-SNI egress protocols.
package rtmp

import (
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"originflux/internal/media"
	"originflux/internal/protocol/amf0"
	"originflux/internal/protocol/flv"
	rtmpwire "originflux/internal/protocol/rtmp"
	"originflux/internal/registry"
	"originflux/internal/session"
)

// trackAssemblyTimeout bounds how long a connection waits for both an
// audio and video sequence header before admitting whatever arrived.
const trackAssemblyTimeout = 3 * time.Second

// serviceSession wraps the wire-level rtmpwire.Session with publish
// lifecycle and track-assembly state.
type serviceSession struct {
	*rtmpwire.Session

	mgr          *session.Manager
	nextStreamID uint32

	app        string
	streamName string

	mu          sync.Mutex
	assembling  bool
	haveVideo   bool
	haveAudio   bool
	videoTrack  media.Track
	audioTrack  media.Track
	wantAudio   bool // set once the first audio message of any kind arrives
	assembleDeadline time.Time
	backlog     []pendingPacket

	handle registry.Handle
	ingest func(*media.Packet)
	key    registry.Key
}

type pendingPacket struct {
	kind      byte // rtmpwire.MessageTypeAudio/Video
	timestamp uint32
	body      []byte
}

func newServiceSession(conn io.ReadWriter, mgr *session.Manager) *serviceSession {
	return &serviceSession{
		Session:      rtmpwire.NewSession(conn),
		mgr:          mgr,
		nextStreamID: 1,
		assembling:   true,
	}
}

func (s *serviceSession) HandleConnect(command amf0.Array) error {
	if len(command) < 2 {
		return fmt.Errorf("invalid connect command")
	}
	app := "live"
	objectEncoding := float64(0)
	if len(command) >= 3 && command[2] != nil {
		if cmdObj, ok := command[2].(amf0.Object); ok {
			if v, ok := cmdObj["app"].(string); ok {
				app = v
			}
			if v, ok := cmdObj["objectEncoding"].(float64); ok {
				objectEncoding = v
			}
		}
	}
	s.app = app

	if err := s.WriteMessage(2, rtmpwire.MessageTypeWinAckSize, 0, 0, rtmpwire.CreateWindowAckSize(5_000_000)); err != nil {
		return fmt.Errorf("window ack size: %w", err)
	}
	if err := s.WriteMessage(2, rtmpwire.MessageTypeSetPeerBandwidth, 0, 0, rtmpwire.CreateSetPeerBandwidth(5_000_000, 2)); err != nil {
		return fmt.Errorf("set peer bandwidth: %w", err)
	}

	transID, _ := command[1].(float64)
	result := amf0.Array{
		"_result", transID,
		amf0.Object{"fmsVer": "FMS/3,0,1,123", "capabilities": float64(31)},
		amf0.Object{"level": "status", "code": "NetConnection.Connect.Success", "description": "Connection succeeded.", "objectEncoding": objectEncoding},
	}
	body, err := amf0.EncodeCommand(result)
	if err != nil {
		return err
	}
	return s.WriteMessage(3, rtmpwire.MessageTypeCommandAMF0, 0, 0, body)
}

func (s *serviceSession) HandleReleaseStream(command amf0.Array) error {
	return s.ackTransaction(command)
}

func (s *serviceSession) HandleFCPublish(command amf0.Array) error {
	return s.ackTransaction(command)
}

func (s *serviceSession) ackTransaction(command amf0.Array) error {
	if len(command) < 2 {
		return nil
	}
	transID, _ := command[1].(float64)
	body, err := amf0.EncodeCommand(amf0.Array{"_result", transID, nil})
	if err != nil {
		return err
	}
	return s.WriteMessage(3, rtmpwire.MessageTypeCommandAMF0, 0, 0, body)
}

func (s *serviceSession) HandleCreateStream(command amf0.Array) error {
	if len(command) < 2 {
		return fmt.Errorf("invalid createStream command")
	}
	streamID := s.nextStreamID
	s.nextStreamID++
	transID, _ := command[1].(float64)
	body, err := amf0.EncodeCommand(amf0.Array{"_result", transID, nil, float64(streamID)})
	if err != nil {
		return err
	}
	return s.WriteMessage(3, rtmpwire.MessageTypeCommandAMF0, 0, 0, body)
}

// HandlePublish begins track assembly; the Stream is registered once
// assembly completes (see observeVideo/observeAudio/flushAssembly).
func (s *serviceSession) HandlePublish(command amf0.Array, streamID uint32) error {
	streamName := extractStreamName(command)
	if streamName == "" {
		return fmt.Errorf("stream name not found in publish command")
	}
	if s.app == "" {
		return fmt.Errorf("app not set")
	}
	s.streamName = streamName
	s.key = registry.NewKey("default", s.app, streamName)

	s.mu.Lock()
	s.assembleDeadline = time.Now().Add(trackAssemblyTimeout)
	s.mu.Unlock()

	if err := s.WriteMessage(2, rtmpwire.MessageTypeUserCtrl, 0, 0, rtmpwire.CreateStreamBegin(streamID)); err != nil {
		log.Printf("rtmp: StreamBegin write failed: %v", err)
	}
	return s.sendOnStatus(streamID, "status", "NetStream.Publish.Start", "Start publishing")
}

func (s *serviceSession) sendOnStatus(streamID uint32, level, code, description string) error {
	status := amf0.Object{"level": level, "code": code, "description": description}
	body, err := amf0.EncodeCommand(amf0.Array{"onStatus", float64(0), nil, status})
	if err != nil {
		return err
	}
	return s.WriteMessage(5, rtmpwire.MessageTypeCommandAMF0, 0, streamID, body)
}

func extractStreamName(command amf0.Array) string {
	if len(command) >= 4 {
		if name, ok := command[3].(string); ok {
			return name
		}
	}
	if len(command) >= 3 {
		if name, ok := command[2].(string); ok {
			return name
		}
	}
	return ""
}

// HandleMediaMessage routes one audio/video/data RTMP message, either
// into track assembly (before the Stream exists) or directly into the
// router (after).
func (s *serviceSession) HandleMediaMessage(msgType byte, timestamp uint32, body []byte) {
	switch msgType {
	case rtmpwire.MessageTypeVideo:
		s.handleVideo(timestamp, body)
	case rtmpwire.MessageTypeAudio:
		s.handleAudio(timestamp, body)
	default:
		// Script/metadata data messages carry onMetaData; codec params
		// are recovered from sequence headers instead, so these are
		// informational only and not required for admission.
	}
}

func (s *serviceSession) handleVideo(timestamp uint32, body []byte) {
	s.mu.Lock()
	if s.assembling {
		if flv.IsAVCSequenceHeader(body) && !s.haveVideo {
			s.videoTrack = media.Track{
				ID:        0,
				Kind:      media.KindVideo,
				Codec:     media.CodecH264,
				Timebase:  media.Timebase{Num: 1, Den: 1000},
				Extradata: append([]byte(nil), flv.AVCDecoderConfig(body)...),
			}
			s.haveVideo = true
		}
		s.maybeFlushAssemblyLocked()
		if s.assembling {
			s.backlog = append(s.backlog, pendingPacket{kind: rtmpwire.MessageTypeVideo, timestamp: timestamp, body: append([]byte(nil), body...)})
			s.mu.Unlock()
			return
		}
	}
	ingest := s.ingest
	s.mu.Unlock()
	if ingest == nil {
		return
	}
	if p := videoPacket(timestamp, body); p != nil {
		ingest(p)
	}
}

func (s *serviceSession) handleAudio(timestamp uint32, body []byte) {
	s.mu.Lock()
	if s.assembling {
		s.wantAudio = true
		if flv.IsAACSequenceHeader(body) && !s.haveAudio {
			sampleRate, channels := flv.ParseAudioSpecificConfigRates(flv.AudioSpecificConfig(body))
			s.audioTrack = media.Track{
				ID:         1,
				Kind:       media.KindAudio,
				Codec:      media.CodecAAC,
				Timebase:   media.Timebase{Num: 1, Den: 1000},
				Extradata:  append([]byte(nil), flv.AudioSpecificConfig(body)...),
				SampleRate: sampleRate,
				Channels:   channels,
			}
			s.haveAudio = true
		}
		s.maybeFlushAssemblyLocked()
		if s.assembling {
			s.backlog = append(s.backlog, pendingPacket{kind: rtmpwire.MessageTypeAudio, timestamp: timestamp, body: append([]byte(nil), body...)})
			s.mu.Unlock()
			return
		}
	}
	ingest := s.ingest
	s.mu.Unlock()
	if ingest == nil {
		return
	}
	if p := audioPacket(timestamp, body); p != nil {
		ingest(p)
	}
}

// maybeFlushAssemblyLocked admits the Stream once every track it has
// seen activity for has produced a sequence header, or the assembly
// deadline passes with at least one track known (caller holds s.mu).
func (s *serviceSession) maybeFlushAssemblyLocked() {
	if !s.assembling {
		return
	}
	videoSettled := s.haveVideo
	audioSettled := s.haveAudio || !s.wantAudio
	deadlinePassed := !time.Now().Before(s.assembleDeadline)

	if !(videoSettled && audioSettled) && !deadlinePassed {
		return
	}
	if !s.haveVideo && !s.haveAudio {
		return // deadline passed with nothing usable yet
	}

	var tracks []media.Track
	if s.haveVideo {
		tracks = append(tracks, s.videoTrack)
	}
	if s.haveAudio {
		tracks = append(tracks, s.audioTrack)
	}
	if len(tracks) == 0 {
		return
	}

	handle, ingest, err := s.mgr.Publish(s.key, tracks, "rtmp")
	if err != nil {
		log.Printf("rtmp: publish %s rejected: %v", s.key, err)
		s.assembling = false
		return
	}
	s.handle = handle
	s.ingest = ingest
	s.assembling = false

	backlog := s.backlog
	s.backlog = nil
	for _, pp := range backlog {
		var p *media.Packet
		if pp.kind == rtmpwire.MessageTypeVideo {
			p = videoPacket(pp.timestamp, pp.body)
		} else {
			p = audioPacket(pp.timestamp, pp.body)
		}
		if p != nil {
			ingest(p)
		}
	}
}

func videoPacket(timestamp uint32, body []byte) *media.Packet {
	if flv.IsAVCSequenceHeader(body) {
		return nil // config carried in Track.Extradata, not as a packet
	}
	frameType, _ := flv.VideoFrameType(body)
	nalus := flv.AVCNALUs(body)
	if nalus == nil {
		return nil
	}
	p := media.AcquirePacket()
	p.TrackID = 0
	p.DTS = int64(timestamp)
	p.PTS = p.DTS + int64(flv.AVCCompositionTime(body))
	p.Format = media.FormatAVCC
	if frameType == 1 {
		p.Flags |= media.FlagKeyframe
	}
	p.SetPayload(nalus)
	return p
}

func audioPacket(timestamp uint32, body []byte) *media.Packet {
	if flv.IsAACSequenceHeader(body) {
		return nil
	}
	raw := flv.AACRawData(body)
	if raw == nil {
		return nil
	}
	p := media.AcquirePacket()
	p.TrackID = 1
	p.DTS = int64(timestamp)
	p.PTS = p.DTS
	p.Format = media.FormatRaw
	p.SetPayload(raw)
	return p
}

// Close detaches the Stream, if one was ever admitted.
func (s *serviceSession) Close() {
	s.mu.Lock()
	handle := s.handle
	hadHandle := s.ingest != nil
	s.mu.Unlock()
	if hadHandle {
		s.mgr.Unpublish(handle)
	}
	s.Session.Close()
}
