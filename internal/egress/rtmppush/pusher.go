// If you are AI: This file implements RTMP push egress (C9): an
// outbound connector that dials a remote RTMP server, issues
// connect/createStream/publish, and forwards one local Stream's
// packets as FLV-framed video/audio RTMP messages. Grounded on
// internal/ingest/rtmppull/puller.go's connect-loop and AMF0 command
// shape (mirrored in the opposite direction: publish instead of play)
// and internal/egress/srt/service.go's Join/snapshot/Pop/Wait consumer
// loop. Reuses rtmppull.Backoff directly rather than redefining the
// same exponential schedule a third time.
package rtmppush

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/url"
	"strings"
	"time"

	"originflux/internal/ingest/rtmppull"
	"originflux/internal/media"
	"originflux/internal/protocol/amf0"
	"originflux/internal/protocol/flv"
	rtmpwire "originflux/internal/protocol/rtmp"
	"originflux/internal/registry"
	"originflux/internal/router"
	"originflux/internal/session"
)

// Pusher dials one remote RTMP target and republishes a local Stream's
// packets to it for as long as the Stream stays live.
type Pusher struct {
	mgr       *session.Manager
	key       registry.Key
	remoteURL string
	backoff   rtmppull.Backoff

	// Reconnect mirrors rtmppull.Puller.Reconnect.
	Reconnect bool
}

// New builds a Pusher for one RelayConfig entry in "push" mode.
func New(mgr *session.Manager, key registry.Key, remoteURL string, base, max time.Duration, jitterFrac float64) *Pusher {
	return &Pusher{
		mgr:       mgr,
		key:       key,
		remoteURL: remoteURL,
		backoff:   rtmppull.Backoff{Base: base, Max: max, JitterFrac: jitterFrac},
	}
}

// Run connects and pushes until ctx is cancelled, reconnecting with
// exponential back-off whenever the remote connection drops.
func (p *Pusher) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		connectedAt, err := p.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("rtmppush %s: %v", p.key, err)
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

func (p *Pusher) runOnce(ctx context.Context) (connectedAt time.Time, err error) {
	handle, ok := p.mgr.Registry().Lookup(p.key)
	if !ok {
		return time.Now(), fmt.Errorf("stream not live: %s", p.key)
	}
	st, err := handle.Resolve()
	if err != nil {
		return time.Now(), err
	}

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
	if err := sendPublish(sess, streamName); err != nil {
		return connectedAt, fmt.Errorf("publish: %w", err)
	}

	sub, snapshot, pp, err := p.mgr.Join(p.key, 256, router.PolicyDropToKeyframe, 8<<20)
	if err != nil {
		return connectedAt, fmt.Errorf("join %s: %w", p.key, err)
	}
	defer pp.Leave(sub.ID)

	tracks := make(map[uint32]media.Track, len(st.Tracks()))
	sentHeader := make(map[uint32]bool, len(st.Tracks()))
	for _, t := range st.Tracks() {
		tracks[t.ID] = t
	}

	rtmpTB := media.Timebase{Num: 1, Den: 1000}
	writeErrCh := make(chan error, 1)

	write := func(pkt *media.Packet) error {
		t, ok := tracks[pkt.TrackID]
		if !ok {
			return nil
		}
		if !sentHeader[pkt.TrackID] && len(t.Extradata) > 0 {
			if err := sendSequenceHeader(sess, t); err != nil {
				return err
			}
			sentHeader[pkt.TrackID] = true
		}
		dtsMS := uint32(t.Timebase.Rescale(pkt.DTS, rtmpTB))
		ptsMS := uint32(t.Timebase.Rescale(pkt.PTS, rtmpTB))
		return sendFrame(sess, t, dtsMS, int32(ptsMS-dtsMS), pkt)
	}

	for _, pkt := range snapshot {
		if err := write(pkt); err != nil {
			pkt.Release()
			return connectedAt, err
		}
		pkt.Release()
	}

	go func() {
		bctx, cancel := context.WithCancel(ctx)
		defer cancel()
		for {
			for {
				pkt, ok := sub.Pop()
				if !ok {
					break
				}
				err := write(pkt)
				pkt.Release()
				if err != nil {
					writeErrCh <- err
					return
				}
			}
			select {
			case <-bctx.Done():
				writeErrCh <- bctx.Err()
				return
			default:
			}
			sub.Wait(bctx)
		}
	}()

	select {
	case <-ctx.Done():
		return connectedAt, nil
	case err := <-writeErrCh:
		return connectedAt, err
	}
}

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

func sendPublish(sess *rtmpwire.Session, streamName string) error {
	body, err := amf0.EncodeCommand(amf0.Array{"publish", float64(3), nil, streamName, "live"})
	if err != nil {
		return err
	}
	return sess.WriteMessage(8, rtmpwire.MessageTypeCommandAMF0, 0, 1, body)
}

func sendSequenceHeader(sess *rtmpwire.Session, t media.Track) error {
	switch t.Codec {
	case media.CodecH264:
		return sess.WriteMessage(6, rtmpwire.MessageTypeVideo, 0, 1, flv.EncodeAVCSequenceHeader(t.Extradata))
	case media.CodecAAC:
		return sess.WriteMessage(7, rtmpwire.MessageTypeAudio, 0, 1, flv.EncodeAACSequenceHeader(t.Extradata))
	default:
		return nil
	}
}

func sendFrame(sess *rtmpwire.Session, t media.Track, dtsMS uint32, compositionMS int32, pkt *media.Packet) error {
	switch t.Kind {
	case media.KindVideo:
		body := flv.EncodeAVCNALU(pkt.Payload, pkt.IsKeyframe(), compositionMS)
		return sess.WriteMessage(6, rtmpwire.MessageTypeVideo, dtsMS, 1, body)
	case media.KindAudio:
		body := flv.EncodeAACRaw(pkt.Payload)
		return sess.WriteMessage(7, rtmpwire.MessageTypeAudio, dtsMS, 1, body)
	default:
		return nil
	}
}
