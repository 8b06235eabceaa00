package rtmp

import (
	"io"
	"net"
	"testing"
	"time"

	"originflux/internal/protocol/amf0"
	rtmpwire "originflux/internal/protocol/rtmp"
	"originflux/internal/registry"
	"originflux/internal/session"
)

// TestProviderEndToEndPublish drives a full client/server RTMP exchange
// over net.Pipe: handshake, connect, createStream, publish, then an AVC
// sequence header + keyframe, verifying the stream is admitted into the
// session.Manager (a router exists for its key).
func TestProviderEndToEndPublish(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	mgr := session.NewManager()
	p := NewProvider(mgr, 0)

	done := make(chan struct{})
	go func() {
		p.handleConnection(serverConn)
		close(done)
	}()

	if err := rtmpwire.PerformClientHandshake(clientConn); err != nil {
		t.Fatalf("client handshake: %v", err)
	}

	// The server writes connect/createStream/publish responses that this
	// test never inspects; net.Pipe is synchronous, so they must be
	// drained or the server's writes (and therefore its read loop) block.
	go io.Copy(io.Discard, clientConn)

	sendCommand := func(csID uint32, arr amf0.Array) {
		body, err := amf0.EncodeCommand(arr)
		if err != nil {
			t.Fatalf("encode command: %v", err)
		}
		if err := rtmpwire.WriteChunk(clientConn, csID, rtmpwire.MessageTypeCommandAMF0, 0, 0, body, rtmpwire.DefaultChunkSize); err != nil {
			t.Fatalf("write command: %v", err)
		}
	}

	sendCommand(3, amf0.Array{"connect", float64(1), amf0.Object{"app": "live", "objectEncoding": float64(0)}})
	sendCommand(3, amf0.Array{"createStream", float64(2), nil})

	key := registry.NewKey("default", "live", "mystream")

	sendCommand(3, amf0.Array{"publish", float64(3), nil, "mystream", "live"})

	// AVC sequence header, then a keyframe, on the media stream ID (1,
	// matching serviceSession.nextStreamID's first-assigned value).
	avcHeader := append([]byte{0x17, 0x00, 0x00, 0x00, 0x00}, []byte{0x01, 0x42, 0x00, 0x1f}...)
	avcFrame := append([]byte{0x17, 0x01, 0x00, 0x00, 0x00}, []byte{0x00, 0x00, 0x00, 0x04, 0xAA, 0xBB, 0xCC, 0xDD}...)

	if err := rtmpwire.WriteChunk(clientConn, 6, rtmpwire.MessageTypeVideo, 0, 1, avcHeader, rtmpwire.DefaultChunkSize); err != nil {
		t.Fatalf("write video seq header: %v", err)
	}
	if err := rtmpwire.WriteChunk(clientConn, 6, rtmpwire.MessageTypeVideo, 33, 1, avcFrame, rtmpwire.DefaultChunkSize); err != nil {
		t.Fatalf("write video frame: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := mgr.RouterFor(key); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for stream to be admitted into the registry")
		}
		time.Sleep(time.Millisecond)
	}

	clientConn.Close()
	serverConn.Close()
	<-done
}
