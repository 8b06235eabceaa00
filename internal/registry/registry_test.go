package registry

import (
	"testing"

	"originflux/internal/media"
)

func sampleTracks() []media.Track {
	return []media.Track{{ID: 1, Kind: media.KindVideo, Codec: media.CodecH264}}
}

func TestCreateAndLookup(t *testing.T) {
	reg := New()
	key := NewKey("", "live", "test")

	h, err := reg.Create(key, sampleTracks(), "rtmp")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	looked, ok := reg.Lookup(key)
	if !ok {
		t.Fatal("Lookup should find created stream")
	}
	if looked.Epoch != h.Epoch {
		t.Errorf("Lookup epoch %d does not match Create epoch %d", looked.Epoch, h.Epoch)
	}

	if reg.Count() != 1 {
		t.Errorf("expected 1 stream, got %d", reg.Count())
	}
}

func TestRegistryUniqueness(t *testing.T) {
	// Invariant 5: at all times |{Stream Ready/Publishing with name=n}| <= 1.
	reg := New()
	key := NewKey("", "live", "test")

	if _, err := reg.Create(key, sampleTracks(), "rtmp"); err != nil {
		t.Fatalf("first Create should succeed: %v", err)
	}

	_, err := reg.Create(key, sampleTracks(), "rtmp")
	if err == nil {
		t.Fatal("second Create on a live stream should fail with AlreadyPublishing")
	}
}

func TestEpochSafety(t *testing.T) {
	// Invariant 6: a handle obtained before stop is rejected after stop,
	// even if the name is re-created.
	reg := New()
	key := NewKey("", "live", "test")

	h1, err := reg.Create(key, sampleTracks(), "rtmp")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	reg.Stop(h1)
	reg.Remove(key)

	if _, err := h1.Resolve(); err == nil {
		t.Error("stale handle should fail to resolve after stop")
	}

	h2, err := reg.Create(key, sampleTracks(), "rtmp")
	if err != nil {
		t.Fatalf("re-create after stop should succeed: %v", err)
	}
	if h2.Epoch == h1.Epoch {
		t.Error("re-created stream should have a different epoch")
	}
	if _, err := h1.Resolve(); err == nil {
		t.Error("original handle should still be stale after re-create")
	}
	if _, err := h2.Resolve(); err != nil {
		t.Errorf("new handle should resolve: %v", err)
	}
}

func TestSubscribeBeforeCreateResolves(t *testing.T) {
	reg := New()
	key := NewKey("", "live", "pending")

	resolved := make(chan *Stream, 1)
	reg.Subscribe(key, func(s *Stream) { resolved <- s })

	select {
	case <-resolved:
		t.Fatal("subscription should not resolve before the stream exists")
	default:
	}

	if _, err := reg.Create(key, sampleTracks(), "rtmp"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	select {
	case s := <-resolved:
		if s.Key() != key {
			t.Errorf("resolved stream has wrong key: %v", s.Key())
		}
	default:
		t.Fatal("subscription should resolve once the stream is created")
	}
}

func TestRemoveRequiresStopped(t *testing.T) {
	reg := New()
	key := NewKey("", "live", "test")
	reg.Create(key, sampleTracks(), "rtmp")

	if reg.Remove(key) {
		t.Error("Remove should fail while the stream is still live")
	}
}
