// If you are AI: This file implements SRT ingest (C4): an
// internal/socket.Listener over internal/protocol/srt's accept loop,
// demuxing each connection's MPEG-TS payload via internal/protocol/mpegts
// and admitting the resolved tracks into a session.Manager Stream named
// from the connection's streamid. Grounded on internal/ingest/rtmp's
// Provider shape (Listen/Serve/Stop over a shared socket.Listener) and
// internal/ingest/mpegts's settle-then-admit track assembly, since SRT
// ingest is "MPEG-TS demuxing plus a named connection" rather than its
// own distinct media model.
package srt

import (
	"context"
	"log"
	"net"
	"time"

	"originflux/internal/media"
	"originflux/internal/protocol/mpegts"
	srtwire "originflux/internal/protocol/srt"
	"originflux/internal/registry"
	"originflux/internal/session"
	"originflux/internal/socket"
)

// Provider listens for SRT publisher connections and feeds admitted
// Streams into a session.Manager.
type Provider struct {
	mgr      *session.Manager
	listener *socket.Listener
	maxConns int
}

// NewProvider builds an SRT Provider bound to mgr.
func NewProvider(mgr *session.Manager, maxConns int) *Provider {
	return &Provider{mgr: mgr, maxConns: maxConns}
}

// Listen binds addr ("host:port") for incoming SRT connections.
func (p *Provider) Listen(addr string) error {
	ln, err := srtwire.Listen(addr)
	if err != nil {
		return err
	}
	p.listener = socket.New(srtAcceptor{ln}, p.maxConns)
	return nil
}

// Serve accepts connections until the listener is closed or Stop is called.
func (p *Provider) Serve() error {
	return p.listener.Serve(p.handleConnection)
}

// Stop closes the listener and waits for in-flight connections to drain.
func (p *Provider) Stop() error {
	if p.listener != nil {
		return p.listener.Stop()
	}
	return nil
}

// srtAcceptor adapts *srtwire.Listener to socket.Acceptor; its Accept
// already returns net.Conn per srtwire.Listener.Accept's own signature.
type srtAcceptor struct{ *srtwire.Listener }

func (p *Provider) handleConnection(conn net.Conn) {
	defer conn.Close()

	sc, ok := conn.(*srtwire.Conn)
	if !ok {
		log.Printf("srt: accepted connection missing streamid metadata")
		return
	}
	app, name, err := srtwire.ParseInputStreamID(sc.StreamID())
	if err != nil {
		log.Printf("srt: %v", err)
		return
	}
	key := registry.NewKey("", app, name)

	demux := mpegts.NewDemuxer(context.Background(), conn)

	var (
		admitted bool
		handle   registry.Handle
		ingest   func(*media.Packet)
		seen     = map[uint32]media.Track{}
		deadline = time.Now().Add(3 * time.Second)
		backlog  []mpegts.AccessUnit
	)

	for {
		au, err := demux.Next()
		if err != nil {
			break
		}

		if admitted {
			ingest(accessUnitPacket(au))
			continue
		}

		seen[au.Track.ID] = au.Track
		backlog = append(backlog, au)

		if len(seen) < 2 && time.Now().Before(deadline) {
			continue
		}

		tracks := make([]media.Track, 0, len(seen))
		for _, t := range seen {
			tracks = append(tracks, t)
		}
		h, ing, err := p.mgr.Publish(key, tracks, "srt:"+sc.RemoteAddr().String())
		if err != nil {
			log.Printf("srt: publish %s: %v", key, err)
			return
		}
		handle, ingest, admitted = h, ing, true
		for _, pending := range backlog {
			ingest(accessUnitPacket(pending))
		}
		backlog = nil
	}

	if admitted {
		p.mgr.Unpublish(handle)
	}
}

func accessUnitPacket(au mpegts.AccessUnit) *media.Packet {
	pkt := media.AcquirePacket()
	pkt.TrackID = au.Track.ID
	pkt.PTS, pkt.DTS = au.PTS, au.DTS
	pkt.Format = media.FormatAnnexB
	if au.RandomAccess {
		pkt.Flags |= media.FlagKeyframe
	}
	pkt.SetPayload(au.Payload)
	return pkt
}
