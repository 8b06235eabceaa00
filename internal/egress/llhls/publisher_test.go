package llhls

import (
	"testing"
	"time"

	"originflux/internal/media"
	"originflux/internal/registry"
	"originflux/internal/session"
)

func publishVideoOnlyStream(t *testing.T, mgr *session.Manager) registry.Key {
	t.Helper()
	key := registry.NewKey("default", "live", "stream1")
	tracks := []media.Track{{
		ID: 0, Kind: media.KindVideo, Codec: media.CodecH264,
		Timebase: media.Timebase{Num: 1, Den: 90000}, Width: 640, Height: 360,
		Extradata: []byte{0x01, 0x42, 0x00, 0x1e, 0xff, 0xe1, 0, 0, 0x01, 0, 0},
	}}
	_, ingest, err := mgr.Publish(key, tracks, "test")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	pkt := media.AcquirePacket()
	pkt.TrackID = 0
	pkt.Flags = media.FlagKeyframe
	pkt.Duration = 3000
	pkt.SetPayload([]byte{0, 0, 0, 4, 1, 2, 3, 4})
	ingest(pkt)
	pkt.Release()

	return key
}

func TestPublisherProducesInitSegmentAndFirstPart(t *testing.T) {
	mgr := session.NewManager()
	key := publishVideoOnlyStream(t, mgr)

	handle, ok := mgr.Registry().Lookup(key)
	if !ok {
		t.Fatal("stream not registered")
	}
	st, err := handle.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	pub, err := NewPublisher(mgr, key, st.Tracks())
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	defer pub.Close()

	if len(pub.Window().InitSegment()) == 0 {
		t.Fatal("expected non-empty init segment")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := pub.Window().Part(0, 0); ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for first part to be published")
}
