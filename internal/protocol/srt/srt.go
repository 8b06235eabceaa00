// If you are AI: This file wraps github.com/datarhei/gosrt's listener,
// which itself carries an MPEG-TS payload once accepted (decoded by
// internal/protocol/mpegts). Grounded on this repo's internal/protocol
// packages each owning exactly one wire format with no session
// knowledge (mirrors internal/protocol/rtmp). SRT's accept handshake
// carries a caller-supplied streamid used to route the connection to
// an Application/Stream the way RTMP's publish command does; parsing
// that is this package's other half (see streamid.go).
package srt

import (
	"net"

	"github.com/datarhei/gosrt"
)

// Listener accepts SRT connections, exposing each as a net.Conn plus
// the streamid the caller presented during the handshake.
type Listener struct {
	inner srt.Listener
}

// Listen binds addr ("host:port") for incoming SRT connections.
func Listen(addr string) (*Listener, error) {
	ln, err := srt.Listen("srt", addr, srt.DefaultConfig())
	if err != nil {
		return nil, err
	}
	return &Listener{inner: ln}, nil
}

// Accept blocks for the next SRT connection, admitting every caller
// (stream-id based rejection happens one layer up, in
// internal/ingest/srt, once the stream-id has been parsed) and
// returning it as a *Conn so callers can recover StreamID().
func (l *Listener) Accept() (net.Conn, error) {
	conn, _, err := l.inner.Accept(func(req srt.ConnRequest) srt.ConnType {
		return srt.SUBSCRIBE
	})
	if err != nil {
		return nil, err
	}
	return &Conn{Conn: conn, streamID: conn.StreamId()}, nil
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	l.inner.Close()
	return nil
}

// Addr returns the bound local address.
func (l *Listener) Addr() net.Addr { return l.inner.Addr() }

// Conn is an accepted SRT connection carrying the caller's streamid.
type Conn struct {
	srt.Conn
	streamID string
}

// StreamID returns the streamid the client presented at handshake time.
func (c *Conn) StreamID() string { return c.streamID }
