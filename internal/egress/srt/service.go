// If you are AI: This file implements SRT egress (C9): a listener
// identical in shape to internal/ingest/srt's, except every accepted
// connection presents an "<app>/<name>" streamid and is served a
// live MPEG-TS remux of the named Stream instead of being demuxed as a
// publisher. Grounded on internal/egress/llhls/publisher.go's
// Join/Pop/Wait consumer loop, swapping the fMP4 fragment builder for
// internal/protocol/mpegts.Muxer since SRT's native payload is MPEG-TS
// rather than CMAF.
package srt

import (
	"context"
	"log"
	"net"

	"originflux/internal/media"
	"originflux/internal/protocol/mpegts"
	srtwire "originflux/internal/protocol/srt"
	"originflux/internal/registry"
	"originflux/internal/router"
	"originflux/internal/session"
	"originflux/internal/socket"
)

// Service serves live Streams as MPEG-TS over SRT.
type Service struct {
	mgr      *session.Manager
	listener *socket.Listener
	maxConns int
}

// New builds an SRT egress Service bound to mgr.
func New(mgr *session.Manager, maxConns int) *Service {
	return &Service{mgr: mgr, maxConns: maxConns}
}

// Listen binds addr ("host:port") for incoming SRT player connections.
func (s *Service) Listen(addr string) error {
	ln, err := srtwire.Listen(addr)
	if err != nil {
		return err
	}
	s.listener = socket.New(egressAcceptor{ln}, s.maxConns)
	return nil
}

// Serve accepts player connections until the listener is closed.
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

type egressAcceptor struct{ *srtwire.Listener }

func (s *Service) handleConnection(conn net.Conn) {
	defer conn.Close()

	sc, ok := conn.(*srtwire.Conn)
	if !ok {
		log.Printf("srt egress: accepted connection missing streamid metadata")
		return
	}
	app, name, err := srtwire.ParsePlayStreamID(sc.StreamID())
	if err != nil {
		log.Printf("srt egress: %v", err)
		return
	}
	key := registry.NewKey("", app, name)

	handle, ok := s.mgr.Registry().Lookup(key)
	if !ok {
		log.Printf("srt egress: stream not live: %s", key)
		return
	}
	st, err := handle.Resolve()
	if err != nil {
		log.Printf("srt egress: %v", err)
		return
	}

	sub, snapshot, pp, err := s.mgr.Join(key, 256, router.PolicyDropToKeyframe, 8<<20)
	if err != nil {
		log.Printf("srt egress: join %s: %v", key, err)
		return
	}
	defer pp.Leave(sub.ID)

	mux, err := mpegts.NewMuxer(context.Background(), conn, st.Tracks())
	if err != nil {
		log.Printf("srt egress: mpegts muxer: %v", err)
		return
	}

	for _, pkt := range snapshot {
		writePacket(mux, pkt)
		pkt.Release()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for {
		for {
			pkt, ok := sub.Pop()
			if !ok {
				break
			}
			if err := writePacket(mux, pkt); err != nil {
				pkt.Release()
				return
			}
			pkt.Release()
		}
		sub.Wait(ctx)
	}
}

func writePacket(mux *mpegts.Muxer, pkt *media.Packet) error {
	return mux.WritePacket(pkt.TrackID, pkt.PTS, pkt.DTS, pkt.IsKeyframe(), pkt.Payload)
}
