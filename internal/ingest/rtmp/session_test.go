package rtmp

import (
	"bytes"
	"testing"
	"time"

	"originflux/internal/media"
	"originflux/internal/registry"
	"originflux/internal/session"
)

// avcSequenceHeader builds a minimal FLV-framed AVC sequence header
// payload: frame/codec byte, AVCPacketType=0 (sequence header),
// composition time (zero), then a fake AVCDecoderConfigurationRecord.
func avcSequenceHeader() []byte {
	return append([]byte{0x17, 0x00, 0x00, 0x00, 0x00}, []byte{0x01, 0x42, 0x00, 0x1f}...)
}

// avcKeyframe builds a non-sequence-header AVC keyframe payload with a
// composition time offset and a fake NALU body.
func avcKeyframe(compositionTime int32) []byte {
	body := []byte{0x17, 0x01, byte(compositionTime >> 16), byte(compositionTime >> 8), byte(compositionTime)}
	return append(body, []byte{0x00, 0x00, 0x00, 0x04, 0xAA, 0xBB, 0xCC, 0xDD}...)
}

func aacSequenceHeader() []byte {
	// AudioSpecificConfig for 44100Hz stereo AAC-LC: profile=2, freqIdx=4, chans=2.
	return []byte{0xAF, 0x00, 0x12, 0x10}
}

func aacRawFrame() []byte {
	return []byte{0xAF, 0x01, 0xDE, 0xAD, 0xBE, 0xEF}
}

// newPublishedTestSession builds a serviceSession as it looks right after
// HandlePublish has run (assembleDeadline armed, key set), without going
// through the wire protocol.
func newPublishedTestSession(mgr *session.Manager, streamName string) *serviceSession {
	s := newServiceSession(&bytes.Buffer{}, mgr)
	s.app = "live"
	s.streamName = streamName
	s.key = registry.NewKey("default", s.app, streamName)
	s.assembleDeadline = time.Now().Add(trackAssemblyTimeout)
	return s
}

func TestTrackAssemblyFlushesAfterVideoOnlySequenceHeader(t *testing.T) {
	mgr := session.NewManager()
	s := newPublishedTestSession(mgr, "test1")

	s.handleVideo(0, avcSequenceHeader())
	if s.assembling {
		t.Fatal("expected assembly to flush once video settles and no audio activity was ever observed")
	}
	if _, ok := mgr.RouterFor(s.key); !ok {
		t.Fatal("expected router to exist after video sequence header admits the stream")
	}
}

func TestTrackAssemblyBuffersUntilBothTracksSeen(t *testing.T) {
	mgr := session.NewManager()
	s := newPublishedTestSession(mgr, "test2")

	s.handleAudio(0, aacSequenceHeader())
	if !s.assembling {
		t.Fatal("expected assembly to continue after only audio sequence header: video activity not yet resolved")
	}
	if _, ok := mgr.RouterFor(s.key); ok {
		t.Fatal("stream must not be admitted until video settles or the deadline passes")
	}

	s.handleVideo(0, avcSequenceHeader())
	if s.assembling {
		t.Fatal("expected assembly to flush once both video and audio sequence headers arrived")
	}
	if _, ok := mgr.RouterFor(s.key); !ok {
		t.Fatal("expected router to exist after both sequence headers admit the stream")
	}
}

func TestTrackAssemblyBacklogFlushesOnceSettled(t *testing.T) {
	mgr := session.NewManager()
	s := newPublishedTestSession(mgr, "test3")

	// A raw audio frame arrives before its sequence header (out of
	// order, but realistic if the encoder resends periodically): it
	// marks wantAudio without satisfying audioSettled, so the video
	// sequence header alone must not flush yet.
	s.handleAudio(0, aacRawFrame())
	s.handleVideo(0, avcSequenceHeader())
	if !s.assembling {
		t.Fatal("expected assembly to continue: audio sequence header not yet seen")
	}

	s.handleAudio(40, aacSequenceHeader())
	if s.assembling {
		t.Fatal("expected assembly to flush once the audio sequence header arrived")
	}
	if _, ok := mgr.RouterFor(s.key); !ok {
		t.Fatal("expected router after assembly flush")
	}
}

func TestTrackAssemblyDeadlineAdmitsWhateverArrived(t *testing.T) {
	mgr := session.NewManager()
	s := newPublishedTestSession(mgr, "test4")
	s.assembleDeadline = time.Now().Add(-time.Millisecond) // force deadline already passed

	// Audio activity is seen (wantAudio=true) but its sequence header
	// never arrives; with nothing usable yet the deadline must not force
	// an empty admission.
	s.handleAudio(0, aacRawFrame())
	if !s.assembling {
		t.Fatal("deadline passed but no track has produced a sequence header yet: must keep buffering")
	}

	// Once the video sequence header lands, the passed deadline should
	// force admission with only the video track, even though audio
	// activity was observed and never settled.
	s.handleVideo(0, avcSequenceHeader())
	if s.assembling {
		t.Fatal("expected deadline-forced flush with at least a video track known")
	}
	if s.haveAudio {
		t.Fatal("audio sequence header was never sent; haveAudio must stay false")
	}
	if _, ok := mgr.RouterFor(s.key); !ok {
		t.Fatal("expected router to exist after deadline-forced admission")
	}
}

func TestVideoPacketKeyframeFlagAndCompositionOffset(t *testing.T) {
	p := videoPacket(1000, avcKeyframe(200))
	if p == nil {
		t.Fatal("expected a packet for a non-sequence-header payload")
	}
	if p.Flags&media.FlagKeyframe == 0 {
		t.Fatal("expected FlagKeyframe set for AVC frame type 1")
	}
	if p.DTS != 1000 {
		t.Fatalf("DTS = %d, want 1000", p.DTS)
	}
	if p.PTS != 1200 {
		t.Fatalf("PTS = %d, want 1200 (DTS + composition time)", p.PTS)
	}
	p.Release()
}

func TestVideoPacketSequenceHeaderReturnsNil(t *testing.T) {
	if p := videoPacket(0, avcSequenceHeader()); p != nil {
		t.Fatal("expected nil packet for a sequence header payload; config belongs in Track.Extradata")
	}
}

func TestAudioPacketRawFrame(t *testing.T) {
	p := audioPacket(500, aacRawFrame())
	if p == nil {
		t.Fatal("expected a packet for a raw AAC frame")
	}
	if p.DTS != 500 || p.PTS != 500 {
		t.Fatalf("DTS/PTS = %d/%d, want 500/500 (audio carries no composition offset)", p.DTS, p.PTS)
	}
	p.Release()
}
