// If you are AI: This file defines MediaPacket, one access unit on the
// wire, and its sync.Pool-backed allocation. Packets are reference
// counted and immutable once published into a router; the pooling
// strategy generalizes the teacher's bus.MediaMessage pool to carry PTS,
// DTS, duration, flags, and a bitstream format tag per track.
package media

import (
	"sync"
	"sync/atomic"
)

// Format tags the byte framing of a packet's payload.
type Format uint8

const (
	FormatRaw Format = iota
	FormatAnnexB
	FormatAVCC
	FormatADTS
)

// Flags are bit flags on a MediaPacket.
type Flags uint8

const (
	FlagKeyframe Flags = 1 << iota
	FlagDiscontinuity
	FlagEndOfStream
)

// Packet is one access unit: track id, timing, flags, framing, payload.
// Reference-counted; once Publish()-ed into a router it must not be
// mutated by any holder. Allocation is pool-backed via Acquire/Release,
// mirroring the teacher's AcquireMessage/ReleaseMessage/payload pool.
type Packet struct {
	TrackID  uint32
	PTS, DTS int64
	Duration int64
	Flags    Flags
	Format   Format
	Payload  []byte

	refcount int32
}

func (p *Packet) IsKeyframe() bool      { return p.Flags&FlagKeyframe != 0 }
func (p *Packet) IsDiscontinuity() bool { return p.Flags&FlagDiscontinuity != 0 }
func (p *Packet) IsEndOfStream() bool   { return p.Flags&FlagEndOfStream != 0 }

var packetPool = sync.Pool{
	New: func() interface{} { return &Packet{} },
}

var payloadPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, 0, 64*1024)
		return &buf
	},
}

// AcquirePacket returns a zeroed Packet with refcount 1.
func AcquirePacket() *Packet {
	p := packetPool.Get().(*Packet)
	*p = Packet{refcount: 1}
	return p
}

// AcquirePayload returns a pooled byte buffer with length 0.
func AcquirePayload() []byte {
	bufPtr := payloadPool.Get().(*[]byte)
	return (*bufPtr)[:0]
}

// ReleasePayload returns a buffer to the pool, bounding retained capacity
// to avoid memory bloat from one oversized packet poisoning the pool.
func ReleasePayload(buf []byte) {
	if buf == nil {
		return
	}
	buf = buf[:0]
	if cap(buf) <= 256*1024 {
		payloadPool.Put(&buf)
	}
}

// SetPayload copies data into a freshly pooled buffer and assigns it.
func (p *Packet) SetPayload(data []byte) {
	buf := AcquirePayload()
	p.Payload = append(buf, data...)
}

// Retain increments the packet's reference count. Call once per consumer
// that the MediaRouter fans the packet out to.
func (p *Packet) Retain() {
	atomic.AddInt32(&p.refcount, 1)
}

// Release decrements the reference count and returns the packet (and its
// payload) to their pools once the last holder releases it.
func (p *Packet) Release() {
	if atomic.AddInt32(&p.refcount, -1) > 0 {
		return
	}
	ReleasePayload(p.Payload)
	p.Payload = nil
	packetPool.Put(p)
}

// Clone deep-copies the packet into a freshly acquired, independently
// owned packet — used where a consumer needs to hold a packet past the
// router's own lifetime management (e.g. the GOP ring).
func (p *Packet) Clone() *Packet {
	c := AcquirePacket()
	c.TrackID, c.PTS, c.DTS, c.Duration = p.TrackID, p.PTS, p.DTS, p.Duration
	c.Flags, c.Format = p.Flags, p.Format
	if len(p.Payload) > 0 {
		c.SetPayload(p.Payload)
	}
	return c
}
