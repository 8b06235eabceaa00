// If you are AI: This file renders the LL-HLS media playlist text:
// EXT-X-PART/EXT-X-PRELOAD-HINT for in-flight low-latency delivery,
// EXT-X-SERVER-CONTROL advertising the part hold-back, and EXT-X-MAP
// pointing at the fMP4 init segment (RFC 8216bis §4.4, Apple's LL-HLS
// extension).
package llhls

import (
	"fmt"
	"strings"
	"time"
)

// PlaylistOptions configures the rendered playlist's advertised timing.
type PlaylistOptions struct {
	TargetDuration time.Duration // whole-segment target
	PartTarget     time.Duration // per-part target
	InitSegmentURI string
	SegmentURIFmt  string // fmt.Sprintf pattern taking one %d (segment seq)
	PartURIFmt     string // fmt.Sprintf pattern taking two %d (segment seq, part idx)
}

// RenderPlaylist produces the full LL-HLS media playlist text for the
// given window snapshot.
func RenderPlaylist(segments []Segment, current Segment, mediaSequence int, opts PlaylistOptions) string {
	var b strings.Builder

	fmt.Fprintf(&b, "#EXTM3U\n")
	fmt.Fprintf(&b, "#EXT-X-VERSION:9\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", int(opts.TargetDuration.Round(time.Second).Seconds()))
	fmt.Fprintf(&b, "#EXT-X-PART-INF:PART-TARGET=%.3f\n", opts.PartTarget.Seconds())
	fmt.Fprintf(&b, "#EXT-X-SERVER-CONTROL:CAN-BLOCK-RELOAD=YES,PART-HOLD-BACK=%.3f\n", 3*opts.PartTarget.Seconds())
	fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n", mediaSequence)
	fmt.Fprintf(&b, "#EXT-X-MAP:URI=\"%s\"\n", opts.InitSegmentURI)

	for i, seg := range segments {
		seq := mediaSequence + i
		for _, p := range seg.Parts {
			writePartTag(&b, p, seq, opts)
		}
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n", seg.Duration.Seconds())
		fmt.Fprintf(&b, "%s\n", fmt.Sprintf(opts.SegmentURIFmt, seq))
	}

	curSeq := mediaSequence + len(segments)
	for _, p := range current.Parts {
		writePartTag(&b, p, curSeq, opts)
	}

	// Preload hint: the next part that has not been published yet, so a
	// client already holding the connection open can pipeline its
	// request the instant it is available (blocking GET on the part URI
	// itself serves that wait).
	nextIdx := len(current.Parts)
	fmt.Fprintf(&b, "#EXT-X-PRELOAD-HINT:TYPE=PART,URI=\"%s\"\n", fmt.Sprintf(opts.PartURIFmt, curSeq, nextIdx))

	return b.String()
}

func writePartTag(b *strings.Builder, p Part, seq int, opts PlaylistOptions) {
	uri := fmt.Sprintf(opts.PartURIFmt, seq, p.Index)
	independent := ""
	if p.Independent {
		independent = ",INDEPENDENT=YES"
	}
	fmt.Fprintf(b, "#EXT-X-PART:DURATION=%.3f,URI=\"%s\"%s\n", p.Duration.Seconds(), uri, independent)
}

// RenderMultivariantPlaylist produces the top-level (master) playlist
// for one application, listing every live Stream as a variant. Real
// per-Stream bandwidth/codec attributes are approximated from the
// source track set since this repo's single output profile passes
// codecs through unchanged by default (spec §6 "source" profile).
func RenderMultivariantPlaylist(streams []MultivariantEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#EXTM3U\n#EXT-X-VERSION:9\n")
	for _, e := range streams {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,CODECS=\"%s\"\n", e.BandwidthEstimate, e.Codecs)
		fmt.Fprintf(&b, "%s\n", e.MediaPlaylistURI)
	}
	return b.String()
}

// MultivariantEntry is one Stream's entry in a master playlist.
type MultivariantEntry struct {
	BandwidthEstimate int
	Codecs            string
	MediaPlaylistURI  string
}
