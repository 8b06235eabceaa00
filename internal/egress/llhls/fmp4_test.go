package llhls

import (
	"encoding/binary"
	"testing"

	"originflux/internal/media"
)

func testTracks() []media.Track {
	return []media.Track{
		{ID: 0, Kind: media.KindVideo, Codec: media.CodecH264, Timebase: media.Timebase{Num: 1, Den: 90000}, Width: 640, Height: 360, Extradata: []byte{0x01, 0x42, 0x00, 0x1e, 0xff, 0xe1, 0, 0, 0x01, 0, 0}},
		{ID: 1, Kind: media.KindAudio, Codec: media.CodecAAC, Timebase: media.Timebase{Num: 1, Den: 48000}, SampleRate: 48000, Channels: 2, Extradata: []byte{0x11, 0x90}},
	}
}

func readBoxes(t *testing.T, data []byte) []string {
	t.Helper()
	var names []string
	for len(data) >= 8 {
		size := binary.BigEndian.Uint32(data[0:4])
		if size < 8 || int(size) > len(data) {
			t.Fatalf("bad top-level box size %d (remaining %d)", size, len(data))
		}
		names = append(names, string(data[4:8]))
		data = data[size:]
	}
	return names
}

func TestBuildInitSegmentTopLevelBoxes(t *testing.T) {
	init := BuildInitSegment(testTracks())
	names := readBoxes(t, init)
	if len(names) != 2 || names[0] != "ftyp" || names[1] != "moov" {
		t.Fatalf("top-level boxes = %v, want [ftyp moov]", names)
	}
}

func TestBuildFragmentMoofThenMdat(t *testing.T) {
	frag := BuildFragment(1, []FragmentTrack{
		{TrackID: 0, Samples: []FragmentSample{
			{Duration: 3000, Size: 4, Keyframe: true, Payload: []byte{1, 2, 3, 4}},
		}},
	})
	names := readBoxes(t, frag)
	if len(names) != 2 || names[0] != "moof" || names[1] != "mdat" {
		t.Fatalf("top-level boxes = %v, want [moof mdat]", names)
	}

	// mdat's payload must start exactly with the sample bytes given the
	// trun data-offset patched by BuildFragment.
	moofSize := binary.BigEndian.Uint32(frag[0:4])
	mdat := frag[moofSize:]
	mdatPayload := mdat[8:]
	if string(mdatPayload) != "\x01\x02\x03\x04" {
		t.Fatalf("mdat payload = %x, want 01020304", mdatPayload)
	}
}

func TestBuildFragmentMultiTrackDataOffsets(t *testing.T) {
	frag := BuildFragment(1, []FragmentTrack{
		{TrackID: 0, Samples: []FragmentSample{{Duration: 3000, Size: 2, Keyframe: true, Payload: []byte{0xAA, 0xBB}}}},
		{TrackID: 1, Samples: []FragmentSample{{Duration: 1024, Size: 2, Payload: []byte{0xCC, 0xDD}}}},
	})
	moofSize := binary.BigEndian.Uint32(frag[0:4])
	mdat := frag[moofSize:]
	mdatPayload := mdat[8:]
	want := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	if string(mdatPayload) != string(want) {
		t.Fatalf("mdat payload = %x, want %x", mdatPayload, want)
	}

	firstTrunOffset := findTrunDataOffset(t, frag[:moofSize])
	if firstTrunOffset != int64(moofSize)+8 {
		t.Fatalf("first track's trun data-offset = %d, want %d", firstTrunOffset, int64(moofSize)+8)
	}
}

// findTrunDataOffset walks a moof's box tree to the first traf's trun
// and returns its data-offset field (version-1 trun, as built here).
func findTrunDataOffset(t *testing.T, moof []byte) int64 {
	t.Helper()
	body := moof[8:]
	for len(body) >= 8 {
		size := binary.BigEndian.Uint32(body[0:4])
		name := string(body[4:8])
		if name == "traf" {
			traf := body[8:size]
			for len(traf) >= 8 {
				tsize := binary.BigEndian.Uint32(traf[0:4])
				tname := string(traf[4:8])
				if tname == "trun" {
					// fullbox header(4) + sample count(4) = offset 8 into box body
					return int64(int32(binary.BigEndian.Uint32(traf[8+8 : 8+12])))
				}
				traf = traf[tsize:]
			}
		}
		body = body[size:]
	}
	t.Fatal("no trun found")
	return 0
}
