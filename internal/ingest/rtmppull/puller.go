// If you are AI: This file implements edge-mode RTMP pull relay: connect
// to a remote RTMP origin, issue connect/createStream/play, and
// republish the received audio/video into a local session.Manager
// Stream exactly as internal/ingest/rtmp's Provider does for a
// publisher-initiated connection. Grounded on the teacher's
// internal/svc/relay/pull.go connect-loop shape (net.DialTimeout +
// reconnect-with-delay around a blocking read loop); that version never
// actually sent connect/createStream/play (its own NOTE said so) and
// used a fixed 5s retry, both replaced here: real AMF0 commands plus
// the exponential back-off spec.md §9 calls for in place of the
// teacher's fixed delay.
package rtmppull

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net"
	"net/url"
	"strings"
	"time"

	"originflux/internal/media"
	"originflux/internal/protocol/amf0"
	"originflux/internal/protocol/flv"
	rtmpwire "originflux/internal/protocol/rtmp"
	"originflux/internal/registry"
	"originflux/internal/session"
)

// Backoff computes the delay before the next reconnect attempt.
type Backoff struct {
	Base, Max  time.Duration
	JitterFrac float64

	attempt int
}

// Next returns the delay for the next attempt and advances the
// internal attempt counter.
func (b *Backoff) Next() time.Duration {
	d := b.Base << uint(b.attempt)
	if d <= 0 || d > b.Max {
		d = b.Max
	}
	b.attempt++
	if b.JitterFrac <= 0 {
		return d
	}
	jitter := time.Duration(float64(d) * b.JitterFrac * (rand.Float64()*2 - 1))
	return d + jitter
}

// Reset returns the schedule to its initial state after a successful
// connection that stayed up past a minimal stability window.
func (b *Backoff) Reset() { b.attempt = 0 }

// Puller pulls one remote RTMP stream and republishes it under key.
type Puller struct {
	mgr       *session.Manager
	key       registry.Key
	remoteURL string
	backoff   Backoff

	// Reconnect controls whether a dropped or failed connection is
	// retried. When false, Run performs a single connect-play-consume
	// attempt and returns once it ends.
	Reconnect bool
}

// New builds a Puller for one RelayConfig entry.
func New(mgr *session.Manager, key registry.Key, remoteURL string, base, max time.Duration, jitterFrac float64) *Puller {
	return &Puller{
		mgr:       mgr,
		key:       key,
		remoteURL: remoteURL,
		backoff:   Backoff{Base: base, Max: max, JitterFrac: jitterFrac},
	}
}

// Run connects, pulls, and republishes until ctx is cancelled. When
// Reconnect is set it reconnects with exponential back-off after every
// failure; otherwise it returns once the first attempt ends.
func (p *Puller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		stableSince, err := p.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("rtmppull %s: %v", p.key, err)
		}
		if !p.Reconnect {
			return
		}
		if time.Since(stableSince) > 30*time.Second {
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

// runOnce performs one connect-play-consume cycle, returning the time
// the connection was established (for the caller's back-off reset
// heuristic) and any error that ended it.
func (p *Puller) runOnce(ctx context.Context) (connectedAt time.Time, err error) {
	u, err := url.Parse(p.remoteURL)
	if err != nil {
		return time.Now(), fmt.Errorf("invalid remote url: %w", err)
	}
	app, streamName := splitRTMPPath(u.Path)
	host := u.Host
	if u.Port() == "" {
		host += ":1935"
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return time.Now(), fmt.Errorf("dial %s: %w", host, err)
	}
	defer conn.Close()
	connectedAt = time.Now()

	if err := rtmpwire.PerformClientHandshake(conn); err != nil {
		return connectedAt, fmt.Errorf("handshake: %w", err)
	}
	sess := rtmpwire.NewSession(conn)

	if err := sendConnect(sess, app); err != nil {
		return connectedAt, fmt.Errorf("connect: %w", err)
	}
	if err := sendCreateStream(sess); err != nil {
		return connectedAt, fmt.Errorf("createStream: %w", err)
	}
	if err := sendPlay(sess, streamName); err != nil {
		return connectedAt, fmt.Errorf("play: %w", err)
	}

	d2 := &demuxer{key: p.key, mgr: p.mgr}
	defer d2.close()

	for {
		if ctx.Err() != nil {
			return connectedAt, ctx.Err()
		}
		csID, err := sess.ReadChunk()
		if err != nil {
			return connectedAt, fmt.Errorf("read chunk: %w", err)
		}
		body, msgType, timestamp, _, complete := sess.GetCompleteMessage(csID)
		if !complete {
			continue
		}
		switch msgType {
		case rtmpwire.MessageTypeVideo:
			d2.handleVideo(timestamp, body)
		case rtmpwire.MessageTypeAudio:
			d2.handleAudio(timestamp, body)
		}
	}
}

// splitRTMPPath extracts app/streamName from an rtmp:// URL path of the
// form "/app/name" (spec.md's RTMP binding resolution: the first path
// segment is the app, the remainder is the stream name).
func splitRTMPPath(path string) (app, name string) {
	trimmed := strings.TrimPrefix(path, "/")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	if len(parts) == 1 {
		return parts[0], ""
	}
	return "", ""
}

func sendConnect(sess *rtmpwire.Session, app string) error {
	cmd := amf0.Array{"connect", float64(1), amf0.Object{
		"app":      app,
		"type":     "nonprivate",
		"flashVer": "originflux-edge/1.0",
	}}
	body, err := amf0.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	return sess.WriteMessage(3, rtmpwire.MessageTypeCommandAMF0, 0, 0, body)
}

func sendCreateStream(sess *rtmpwire.Session) error {
	body, err := amf0.EncodeCommand(amf0.Array{"createStream", float64(2), nil})
	if err != nil {
		return err
	}
	return sess.WriteMessage(3, rtmpwire.MessageTypeCommandAMF0, 0, 0, body)
}

func sendPlay(sess *rtmpwire.Session, streamName string) error {
	body, err := amf0.EncodeCommand(amf0.Array{"play", float64(3), nil, streamName})
	if err != nil {
		return err
	}
	return sess.WriteMessage(8, rtmpwire.MessageTypeCommandAMF0, 0, 1, body)
}

// demuxer buffers until both sequence headers have arrived or a 3s
// deadline has passed, then admits the tracks it has; an edge pull
// already knows its target key up front. Unlike internal/ingest/rtmp,
// a video-only source is admitted only once the deadline has passed.
type demuxer struct {
	key registry.Key
	mgr *session.Manager

	admitted bool
	handle   registry.Handle
	ingest   func(*media.Packet)

	haveVideo, haveAudio   bool
	videoTrack, audioTrack media.Track
	deadline               time.Time
	backlog                []queuedFrame
}

type queuedFrame struct {
	video     bool
	timestamp uint32
	body      []byte
}

func (d *demuxer) handleVideo(timestamp uint32, body []byte) {
	if d.admitted {
		if p := videoPacket(timestamp, body); p != nil {
			d.ingest(p)
		}
		return
	}
	if d.deadline.IsZero() {
		d.deadline = time.Now().Add(3 * time.Second)
	}
	if flv.IsAVCSequenceHeader(body) && !d.haveVideo {
		d.videoTrack = media.Track{
			ID: 0, Kind: media.KindVideo, Codec: media.CodecH264,
			Timebase:  media.Timebase{Num: 1, Den: 1000},
			Extradata: append([]byte(nil), flv.AVCDecoderConfig(body)...),
		}
		d.haveVideo = true
	}
	d.backlog = append(d.backlog, queuedFrame{video: true, timestamp: timestamp, body: append([]byte(nil), body...)})
	d.maybeAdmit()
}

func (d *demuxer) handleAudio(timestamp uint32, body []byte) {
	if d.admitted {
		if p := audioPacket(timestamp, body); p != nil {
			d.ingest(p)
		}
		return
	}
	if d.deadline.IsZero() {
		d.deadline = time.Now().Add(3 * time.Second)
	}
	if flv.IsAACSequenceHeader(body) && !d.haveAudio {
		sampleRate, channels := flv.ParseAudioSpecificConfigRates(flv.AudioSpecificConfig(body))
		d.audioTrack = media.Track{
			ID: 1, Kind: media.KindAudio, Codec: media.CodecAAC,
			Timebase:   media.Timebase{Num: 1, Den: 1000},
			Extradata:  append([]byte(nil), flv.AudioSpecificConfig(body)...),
			SampleRate: sampleRate,
			Channels:   channels,
		}
		d.haveAudio = true
	}
	d.backlog = append(d.backlog, queuedFrame{video: false, timestamp: timestamp, body: append([]byte(nil), body...)})
	d.maybeAdmit()
}

func (d *demuxer) maybeAdmit() {
	deadlinePassed := !d.deadline.IsZero() && time.Now().After(d.deadline)
	if !d.haveVideo && !deadlinePassed {
		return
	}
	if !d.haveAudio && !deadlinePassed {
		// Once video has arrived, wait for audio until the deadline, so
		// a video-only source is admitted when the deadline passes
		// rather than never.
		return
	}

	tracks := make([]media.Track, 0, 2)
	if d.haveVideo {
		tracks = append(tracks, d.videoTrack)
	}
	if d.haveAudio {
		tracks = append(tracks, d.audioTrack)
	}
	if len(tracks) == 0 {
		return
	}

	handle, ingest, err := d.mgr.Publish(d.key, tracks, "rtmp-pull:"+d.key.String())
	if err != nil {
		return
	}
	d.handle, d.ingest, d.admitted = handle, ingest, true

	for _, f := range d.backlog {
		if f.video {
			if p := videoPacket(f.timestamp, f.body); p != nil {
				ingest(p)
			}
		} else {
			if p := audioPacket(f.timestamp, f.body); p != nil {
				ingest(p)
			}
		}
	}
	d.backlog = nil
}

func (d *demuxer) close() {
	if d.admitted {
		d.mgr.Unpublish(d.handle)
	}
}

func videoPacket(timestamp uint32, body []byte) *media.Packet {
	if flv.IsAVCSequenceHeader(body) {
		return nil
	}
	p := media.AcquirePacket()
	p.TrackID = 0
	p.Format = media.FormatAVCC
	p.DTS = int64(timestamp)
	p.PTS = p.DTS + int64(flv.AVCCompositionTime(body))
	if flv.IsVideoKeyframe(body) {
		p.Flags |= media.FlagKeyframe
	}
	p.SetPayload(flv.AVCNALUs(body))
	return p
}

func audioPacket(timestamp uint32, body []byte) *media.Packet {
	if flv.IsAACSequenceHeader(body) {
		return nil
	}
	p := media.AcquirePacket()
	p.TrackID = 1
	p.Format = media.FormatADTS
	p.PTS, p.DTS = int64(timestamp), int64(timestamp)
	p.SetPayload(flv.AACRawData(body))
	return p
}
