// If you are AI: This file implements the I/O Socket Layer (C3): one
// accept loop shape shared by every stream-oriented ingest Provider
// (RTMP, SRT, and any future TCP-ish listener), so each protocol
// package stops hand-rolling its own `for { Accept(); go handle() }`
// loop. Grounded on the teacher's internal/svc/rtmp/server.go accept
// loop, generalized the same way internal/ingest/rtmp/provider.go
// already generalizes it (workerpool.Pool-bounded dispatch instead of
// a bare `go`) but lifted out so SRT's listener (github.com/datarhei/gosrt)
// can share it: gosrt.Listener's Accept/Close shape matches net.Listener,
// so both satisfy Acceptor without an adapter.
package socket

import (
	"context"
	"net"

	"originflux/internal/workerpool"
)

// Acceptor is the minimal listener surface a Socket needs: Accept a
// connection, Close the listener. net.Listener and gosrt.Listener both
// satisfy this as-is.
type Acceptor interface {
	Accept() (net.Conn, error)
	Close() error
}

// Listener runs an Accept loop over an Acceptor, dispatching each
// connection to a handler through a bounded workerpool.Pool so a
// connection storm can't exhaust memory (spec.md §4.2/§5).
type Listener struct {
	acceptor Acceptor
	pool     *workerpool.Pool
}

// New wraps acceptor, bounding concurrent connection handlers to
// maxConns (0 for unbounded, still tracked for Stop/Wait).
func New(acceptor Acceptor, maxConns int) *Listener {
	return &Listener{
		acceptor: acceptor,
		pool:     workerpool.New(context.Background(), maxConns),
	}
}

// Serve accepts connections until the Acceptor is closed, running each
// through handle on its own pool-bounded goroutine. Returns the
// Accept error that ended the loop (nil only if the caller arranges
// for Accept to return cleanly, which a Close from Stop does not).
func (l *Listener) Serve(handle func(net.Conn)) error {
	for {
		conn, err := l.acceptor.Accept()
		if err != nil {
			return err
		}
		l.pool.Submit(func(ctx context.Context) error {
			handle(conn)
			return nil
		})
	}
}

// Stop closes the Acceptor and waits for in-flight handlers to drain.
func (l *Listener) Stop() error {
	l.acceptor.Close()
	return l.pool.Stop()
}

// Running returns the number of connection handlers currently active.
func (l *Listener) Running() int { return l.pool.Running() }
