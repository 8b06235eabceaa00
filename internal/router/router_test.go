package router

import (
	"testing"

	"originflux/internal/media"
)

type recordingConsumer struct {
	received []*media.Packet
}

func (c *recordingConsumer) Publish(p *media.Packet) {
	p.Retain()
	c.received = append(c.received, p)
}

func videoTrack(id uint32) media.Track {
	return media.Track{ID: id, Kind: media.KindVideo, Codec: media.CodecH264, Timebase: media.Timebase{Num: 1, Den: 90000}}
}

func audioTrack(id uint32) media.Track {
	return media.Track{ID: id, Kind: media.KindAudio, Codec: media.CodecAAC, Timebase: media.Timebase{Num: 1, Den: 48000}}
}

func videoPkt(dts int64, key bool) *media.Packet {
	p := media.AcquirePacket()
	p.TrackID = 0
	p.DTS = dts
	p.PTS = dts
	if key {
		p.Flags |= media.FlagKeyframe
	}
	return p
}

func audioPkt(trackID uint32, dts int64) *media.Packet {
	p := media.AcquirePacket()
	p.TrackID = trackID
	p.DTS = dts
	p.PTS = dts
	return p
}

func TestRouterBuffersUntilAllTracksHaveKeyframe(t *testing.T) {
	r := NewRouter([]media.Track{videoTrack(0), audioTrack(1)}, 4)
	c := &recordingConsumer{}
	r.AddConsumer(c)

	// Audio-only packets arrive first: video hasn't shown a keyframe yet,
	// so nothing should be forwarded.
	// The reorder window holds packets until it fills or is flushed, so
	// each step flushes it before checking what was forwarded.
	r.Ingest(audioPkt(1, 0))
	r.Ingest(audioPkt(1, 10))
	r.Flush()
	if len(c.received) != 0 {
		t.Fatalf("expected no packets forwarded before video keyframe, got %d", len(c.received))
	}

	// Non-key video packet still doesn't admit the stream.
	r.Ingest(videoPkt(0, false))
	r.Flush()
	if len(c.received) != 0 {
		t.Fatalf("expected no packets forwarded before a video keyframe arrives, got %d", len(c.received))
	}

	// Now the first keyframe arrives: everything buffered so far should flush.
	r.Ingest(videoPkt(20, true))
	r.Flush()

	if len(c.received) == 0 {
		t.Fatal("expected buffered packets to flush once the video keyframe arrives")
	}

	// First forwarded packet must be the keyframe or something at/after it
	// in admission order — never raw garbage ahead of the gating keyframe.
	foundKey := false
	for _, p := range c.received {
		if p.IsKeyframe() {
			foundKey = true
		}
	}
	if !foundKey {
		t.Error("expected the keyframe itself to be among the forwarded packets")
	}
}

func TestRouterForwardsDirectlyAfterAdmission(t *testing.T) {
	r := NewRouter([]media.Track{videoTrack(0)}, 4)
	c := &recordingConsumer{}
	r.AddConsumer(c)

	r.Ingest(videoPkt(0, true))
	r.Flush()
	count := len(c.received)
	if count == 0 {
		t.Fatal("expected the admitting keyframe to be forwarded")
	}

	r.Ingest(videoPkt(10, false))
	r.Ingest(videoPkt(20, false))
	r.Flush()

	if len(c.received) != count+2 {
		t.Fatalf("expected packets to forward immediately post-admission, got %d new", len(c.received)-count)
	}
}

func TestRouterFanOutReachesAllConsumers(t *testing.T) {
	r := NewRouter([]media.Track{videoTrack(0)}, 4)
	c1 := &recordingConsumer{}
	c2 := &recordingConsumer{}
	r.AddConsumer(c1)
	r.AddConsumer(c2)

	r.Ingest(videoPkt(0, true))
	r.Ingest(videoPkt(10, false))
	r.Flush()

	if len(c1.received) != len(c2.received) {
		t.Fatalf("expected both consumers to receive the same packet count, got %d vs %d", len(c1.received), len(c2.received))
	}
}

func TestRouterRemoveConsumerStopsDelivery(t *testing.T) {
	r := NewRouter([]media.Track{videoTrack(0)}, 4)
	c := &recordingConsumer{}
	r.AddConsumer(c)
	r.Ingest(videoPkt(0, true))
	r.Flush()
	before := len(c.received)

	r.RemoveConsumer(c)
	r.Ingest(videoPkt(10, false))
	r.Flush()

	if len(c.received) != before {
		t.Errorf("expected no further delivery after RemoveConsumer, got %d new packets", len(c.received)-before)
	}
}

func TestRouterMonotonicDTSAcrossReorder(t *testing.T) {
	r := NewRouter([]media.Track{videoTrack(0)}, 4)
	c := &recordingConsumer{}
	r.AddConsumer(c)

	order := []int64{0, 10, 20, 40, 30, 50}
	for i, dts := range order {
		r.Ingest(videoPkt(dts, i == 0))
	}
	r.Flush()

	var last int64 = -1
	for _, p := range c.received {
		if p.DTS < last {
			t.Fatalf("DTS went backwards: %d after %d", p.DTS, last)
		}
		last = p.DTS
	}
}
