// If you are AI: This file implements OVT egress (C9): a plain TCP
// listener that speaks internal/protocol/ovt's length-prefixed framing
// to downstream edge nodes. A connecting edge sends one FrameHello
// naming "app/name"; the Service answers with a FrameTrack per track in
// the Stream, replays its keyframe-aligned snapshot, then streams every
// subsequent MediaPacket as a FrameMedia until the edge disconnects.
// Grounded on internal/egress/srt/service.go's listener/Join/Pop/Wait
// shape, swapping the MPEG-TS remux for the OVT framed codec since OVT
// serves downstream edges rather than browsers or players — a pull
// here triggers the edge's own MediaRouter, never a transcode.
package ovt

import (
	"bufio"
	"context"
	"log"
	"net"

	"originflux/internal/media"
	ovtwire "originflux/internal/protocol/ovt"
	"originflux/internal/registry"
	"originflux/internal/router"
	"originflux/internal/session"
	"originflux/internal/socket"
)

// Service serves live Streams to downstream edge nodes over OVT.
type Service struct {
	mgr      *session.Manager
	listener *socket.Listener
	maxConns int
}

// New builds an OVT egress Service bound to mgr.
func New(mgr *session.Manager, maxConns int) *Service {
	return &Service{mgr: mgr, maxConns: maxConns}
}

// Listen binds addr ("host:port") for incoming edge connections.
func (s *Service) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = socket.New(ln, s.maxConns)
	return nil
}

// Serve accepts edge connections until the listener is closed.
func (s *Service) Serve() error {
	return s.listener.Serve(s.handleConnection)
}

// Stop closes the listener and waits for in-flight sessions to drain.
func (s *Service) Stop() error {
	if s.listener != nil {
		return s.listener.Stop()
	}
	return nil
}

func (s *Service) handleConnection(conn net.Conn) {
	defer conn.Close()

	kind, payload, err := ovtwire.ReadFrame(conn)
	if err != nil {
		log.Printf("ovt egress: read hello: %v", err)
		return
	}
	if kind != ovtwire.FrameHello {
		log.Printf("ovt egress: expected hello frame, got %s", ovtwire.FrameName(kind))
		return
	}
	app, name, err := ovtwire.DecodeHello(payload)
	if err != nil {
		log.Printf("ovt egress: decode hello: %v", err)
		return
	}
	key := registry.NewKey("", app, name)

	handle, ok := s.mgr.Registry().Lookup(key)
	if !ok {
		log.Printf("ovt egress: stream not live: %s", key)
		return
	}
	st, err := handle.Resolve()
	if err != nil {
		log.Printf("ovt egress: %v", err)
		return
	}

	sub, snapshot, pp, err := s.mgr.Join(key, 256, router.PolicyDropToKeyframe, 8<<20)
	if err != nil {
		log.Printf("ovt egress: join %s: %v", key, err)
		return
	}
	defer pp.Leave(sub.ID)

	bw := bufio.NewWriterSize(conn, 64*1024)
	for _, t := range st.Tracks() {
		if err := ovtwire.WriteFrame(bw, ovtwire.FrameTrack, ovtwire.EncodeTrack(t)); err != nil {
			return
		}
	}
	if err := bw.Flush(); err != nil {
		return
	}

	for _, pkt := range snapshot {
		if err := writePacket(bw, pkt); err != nil {
			pkt.Release()
			return
		}
		pkt.Release()
	}
	if err := bw.Flush(); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for {
		flushed := false
		for {
			pkt, ok := sub.Pop()
			if !ok {
				break
			}
			err := writePacket(bw, pkt)
			pkt.Release()
			if err != nil {
				return
			}
			flushed = true
		}
		if flushed {
			if err := bw.Flush(); err != nil {
				return
			}
		}
		sub.Wait(ctx)
	}
}

func writePacket(w *bufio.Writer, pkt *media.Packet) error {
	return ovtwire.WriteFrame(w, ovtwire.FrameMedia, ovtwire.EncodeMedia(pkt))
}
