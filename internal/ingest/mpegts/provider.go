// If you are AI: This file implements UDP/MPEG-TS ingest (C4): one UDP
// socket per configured port carries one MPEG-TS program, demuxed by
// internal/protocol/mpegts and admitted into a session.Manager Stream
// the same way every other Provider in this tree is. Grounded on
// internal/ingest/rtmp/provider.go's Listen/Serve/Stop shape, adapted
// from a connection-oriented Accept loop to UDP's connectionless
// datagram stream (no per-client session: one socket is one program,
// named by port since raw MPEG-TS-over-UDP carries no stream-name
// handshake of its own — unlike RTMP's publish command or SRT's
// streamid, spec.md §4.3 leaves UDP/MPEG-TS naming unspecified, so this
// repo resolves it from config.MPEGTSProviderConfig.PortRange: each
// bound port becomes its own Stream at app/udp-<port>).
package mpegts

import (
	"context"
	"io"
	"log"
	"net"
	"strconv"
	"time"

	"originflux/internal/media"
	"originflux/internal/protocol/mpegts"
	"originflux/internal/registry"
	"originflux/internal/session"
)

// Provider owns one UDP listener per bound port.
type Provider struct {
	mgr   *session.Manager
	conns []*net.UDPConn
}

// NewProvider builds an MPEG-TS/UDP Provider bound to mgr.
func NewProvider(mgr *session.Manager) *Provider {
	return &Provider{mgr: mgr}
}

// Bind opens a UDP socket on port and starts demuxing it into app's
// udp-<port> Stream, running until Stop closes every bound socket.
func (p *Provider) Bind(app string, port int) error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return err
	}
	p.conns = append(p.conns, conn)

	key := registry.NewKey("", app, udpStreamName(port))
	go p.serve(conn, key)
	return nil
}

// BindRange opens one UDP socket for every port in [lo, hi].
func (p *Provider) BindRange(app string, lo, hi int) error {
	for port := lo; port <= hi; port++ {
		if err := p.Bind(app, port); err != nil {
			return err
		}
	}
	return nil
}

// Stop closes every bound UDP socket.
func (p *Provider) Stop() error {
	for _, c := range p.conns {
		c.Close()
	}
	return nil
}

func udpStreamName(port int) string {
	return "udp-" + strconv.Itoa(port)
}

// serve pipes datagrams from conn into an MPEG-TS demuxer and admits
// the resulting tracks once access units from two distinct tracks have
// arrived, or with whatever tracks were seen once 3s have passed,
// following the settle-then-admit pattern
// internal/ingest/rtmp/session.go and internal/ingest/rtmppull use.
func (p *Provider) serve(conn *net.UDPConn, key registry.Key) {
	defer conn.Close()

	pr, pw := io.Pipe()
	go func() {
		buf := make([]byte, 64*1024)
		for {
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				pw.CloseWithError(err)
				return
			}
			if _, err := pw.Write(buf[:n]); err != nil {
				return
			}
		}
	}()

	demux := mpegts.NewDemuxer(context.Background(), pr)

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
		h, ing, err := p.mgr.Publish(key, tracks, "mpegts-udp:"+key.String())
		if err != nil {
			continue
		}
		handle, ingest, admitted = h, ing, true
		for _, pending := range backlog {
			ingest(accessUnitPacket(pending))
		}
		backlog = nil
	}

	if admitted {
		p.mgr.Unpublish(handle)
	} else {
		log.Printf("mpegts: %s closed before any track was admitted", key)
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
