package rtmppull

import (
	"testing"
	"time"

	"originflux/internal/registry"
	"originflux/internal/session"
)

func TestBackoffNextDoublesAndCapsAtMax(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: time.Second}

	got := b.Next()
	if got != 100*time.Millisecond {
		t.Fatalf("first delay = %v, want 100ms", got)
	}
	got = b.Next()
	if got != 200*time.Millisecond {
		t.Fatalf("second delay = %v, want 200ms", got)
	}
	got = b.Next()
	if got != 400*time.Millisecond {
		t.Fatalf("third delay = %v, want 400ms", got)
	}
	got = b.Next()
	if got != 800*time.Millisecond {
		t.Fatalf("fourth delay = %v, want 800ms", got)
	}

	for i := 0; i < 10; i++ {
		if d := b.Next(); d != time.Second {
			t.Fatalf("delay after repeated doubling = %v, want capped at 1s", d)
		}
	}
}

func TestBackoffResetReturnsToBase(t *testing.T) {
	b := Backoff{Base: 50 * time.Millisecond, Max: time.Second}
	b.Next()
	b.Next()
	b.Reset()
	if d := b.Next(); d != 50*time.Millisecond {
		t.Fatalf("delay after reset = %v, want base 50ms", d)
	}
}

func TestBackoffJitterStaysWithinFraction(t *testing.T) {
	b := Backoff{Base: time.Second, Max: time.Second, JitterFrac: 0.5}
	for i := 0; i < 50; i++ {
		d := b.Next()
		if d < 500*time.Millisecond || d > 1500*time.Millisecond {
			t.Fatalf("jittered delay %v out of expected [0.5s,1.5s] range", d)
		}
	}
}

func TestSplitRTMPPath(t *testing.T) {
	cases := []struct {
		path   string
		app    string
		stream string
	}{
		{"/live/mystream", "live", "mystream"},
		{"live/mystream", "live", "mystream"},
		{"/live", "live", ""},
		{"", "", ""},
	}
	for _, c := range cases {
		app, stream := splitRTMPPath(c.path)
		if app != c.app || stream != c.stream {
			t.Errorf("splitRTMPPath(%q) = (%q, %q), want (%q, %q)", c.path, app, stream, c.app, c.stream)
		}
	}
}

// TestDemuxerAdmitsOnceBothTracksSeen drives the demuxer directly with
// raw FLV-framed RTMP video/audio message bodies (the same shapes
// internal/ingest/rtmp's provider test uses) and checks the stream is
// admitted into the session.Manager once both sequence headers arrive.
func TestDemuxerAdmitsOnceBothTracksSeen(t *testing.T) {
	mgr := session.NewManager()
	key := registry.NewKey("default", "live", "pulled")
	d := &demuxer{key: key, mgr: mgr}

	avcHeader := append([]byte{0x17, 0x00, 0x00, 0x00, 0x00}, []byte{0x01, 0x42, 0x00, 0x1f}...)
	aacHeader := []byte{0xAF, 0x00, 0x12, 0x10}

	d.handleVideo(0, avcHeader)
	if _, ok := mgr.RouterFor(key); ok {
		t.Fatal("admitted after video-only sequence header; expected to wait for audio")
	}

	d.handleAudio(0, aacHeader)
	if _, ok := mgr.RouterFor(key); !ok {
		t.Fatal("expected stream admitted once both sequence headers arrived")
	}

	d.close()
	if _, ok := mgr.RouterFor(key); ok {
		t.Fatal("expected stream torn down after close")
	}
}

// TestDemuxerAdmitsVideoOnlyAfterDeadline exercises the settle-deadline
// path for a video-only source (no audio track ever arrives).
func TestDemuxerAdmitsVideoOnlyAfterDeadline(t *testing.T) {
	mgr := session.NewManager()
	key := registry.NewKey("default", "live", "videoonly")
	d := &demuxer{key: key, mgr: mgr}
	d.deadline = time.Now().Add(-time.Millisecond) // force the deadline to have already passed

	avcHeader := append([]byte{0x17, 0x00, 0x00, 0x00, 0x00}, []byte{0x01, 0x42, 0x00, 0x1f}...)
	d.handleVideo(0, avcHeader)

	if _, ok := mgr.RouterFor(key); !ok {
		t.Fatal("expected video-only stream admitted once the settle deadline passed")
	}
	d.close()
}
