package llhls

import (
	"strings"
	"testing"
	"time"
)

func TestRenderPlaylistIncludesPartsSegmentsAndPreloadHint(t *testing.T) {
	segments := []Segment{
		{
			Seq:      0,
			Duration: 400 * time.Millisecond,
			Parts: []Part{
				{Index: 0, Independent: true, Duration: 200 * time.Millisecond},
				{Index: 1, Duration: 200 * time.Millisecond},
			},
		},
	}
	current := Segment{Parts: []Part{{Index: 0, Independent: true, Duration: 200 * time.Millisecond}}}

	text := RenderPlaylist(segments, current, 0, PlaylistOptions{
		TargetDuration: 2 * time.Second,
		PartTarget:     200 * time.Millisecond,
		InitSegmentURI: "/hls/default/live/stream/init.mp4",
		SegmentURIFmt:  "/hls/default/live/stream/seg-%d.m4s",
		PartURIFmt:     "/hls/default/live/stream/part-%d-%d.m4s",
	})

	for _, want := range []string{
		"#EXTM3U",
		"#EXT-X-MAP:URI=\"/hls/default/live/stream/init.mp4\"",
		"#EXT-X-PART:DURATION=0.200,URI=\"/hls/default/live/stream/part-0-0.m4s\",INDEPENDENT=YES",
		"#EXTINF:0.400,",
		"/hls/default/live/stream/seg-0.m4s",
		"#EXT-X-PART:DURATION=0.200,URI=\"/hls/default/live/stream/part-1-0.m4s\",INDEPENDENT=YES",
		"#EXT-X-PRELOAD-HINT:TYPE=PART,URI=\"/hls/default/live/stream/part-1-1.m4s\"",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("playlist missing %q\nfull playlist:\n%s", want, text)
		}
	}
}

func TestRenderMultivariantPlaylist(t *testing.T) {
	text := RenderMultivariantPlaylist([]MultivariantEntry{
		{BandwidthEstimate: 2_000_000, Codecs: "avc1.64001f,mp4a.40.2", MediaPlaylistURI: "/hls/default/live/stream/playlist.m3u8"},
	})
	if !strings.Contains(text, "BANDWIDTH=2000000") || !strings.Contains(text, "playlist.m3u8") {
		t.Fatalf("multivariant playlist missing expected fields: %s", text)
	}
}
