// If you are AI: This file assembles CMAF-compatible fMP4 init segments
// and media fragments (moof+mdat) directly against the ISOBMFF box
// grammar, using only encoding/binary and bytes.Buffer. github.com/abema/go-mp4's
// box types are generated code whose exact field names/method surface
// cannot be confirmed without compiling — a constraint this exercise
// forbids — so it was dropped from go.mod rather than guessed at; see
// DESIGN.md for the reasoning. The box layouts below are fixed by the
// ISO/IEC 14496-12 grammar itself, so hand-assembling them against
// encoding/binary keeps this package correct without that risk.
package llhls

import (
	"bytes"
	"encoding/binary"

	"originflux/internal/media"
)

// box writes a length-prefixed ISOBMFF box: a [4]byte size, a 4-byte
// FourCC, then body.
func box(fourcc string, body []byte) []byte {
	out := make([]byte, 8+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(8+len(body)))
	copy(out[4:8], fourcc)
	copy(out[8:], body)
	return out
}

// fullBox is a box body's version/flags header (ISO/IEC 14496-12 §4.2).
func fullBox(version byte, flags uint32) []byte {
	b := make([]byte, 4)
	b[0] = version
	b[1] = byte(flags >> 16)
	b[2] = byte(flags >> 8)
	b[3] = byte(flags)
	return b
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func u16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

// BuildInitSegment assembles ftyp+moov for the given track set. Track
// IDs become moov trak IDs directly; callers must keep them stable for
// the life of one LL-HLS rendition.
func BuildInitSegment(tracks []media.Track) []byte {
	var buf bytes.Buffer
	buf.Write(ftypBox())
	buf.Write(moovBox(tracks))
	return buf.Bytes()
}

func ftypBox() []byte {
	var body bytes.Buffer
	body.WriteString("iso5")       // major brand
	body.Write(u32(1))             // minor version
	body.WriteString("iso5")       // compatible brands
	body.WriteString("iso6")
	body.WriteString("mp41")
	return box("ftyp", body.Bytes())
}

func moovBox(tracks []media.Track) []byte {
	var body bytes.Buffer
	body.Write(mvhdBox(tracks))
	for _, t := range tracks {
		body.Write(trakBox(t))
	}
	body.Write(mvexBox(tracks))
	return box("moov", body.Bytes())
}

// movieTimescale is the moov-level timescale; track media timescales
// carry the real per-track rate, so this only needs to be nonzero.
const movieTimescale = 1000

func mvhdBox(tracks []media.Track) []byte {
	var body bytes.Buffer
	body.Write(fullBox(0, 0))
	body.Write(u32(0)) // creation time
	body.Write(u32(0)) // modification time
	body.Write(u32(movieTimescale))
	body.Write(u32(0))                // duration (fragmented: unknown)
	body.Write(u32(0x00010000))       // rate 1.0
	body.Write(u16(0x0100))           // volume 1.0
	body.Write(u16(0))                // reserved
	body.Write(make([]byte, 8))       // reserved
	body.Write(identityMatrix())
	body.Write(make([]byte, 24)) // pre-defined
	nextID := uint32(1)
	for _, t := range tracks {
		if t.ID+1 > nextID {
			nextID = t.ID + 1
		}
	}
	body.Write(u32(nextID))
	return box("mvhd", body.Bytes())
}

func identityMatrix() []byte {
	m := []int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}
	b := make([]byte, 36)
	for i, v := range m {
		binary.BigEndian.PutUint32(b[i*4:], uint32(v))
	}
	return b
}

func trakBox(t media.Track) []byte {
	var body bytes.Buffer
	body.Write(tkhdBox(t))
	body.Write(mdiaBox(t))
	return box("trak", body.Bytes())
}

func tkhdBox(t media.Track) []byte {
	var body bytes.Buffer
	body.Write(fullBox(0, 0x000007)) // track enabled, in movie, in preview
	body.Write(u32(0))               // creation time
	body.Write(u32(0))               // modification time
	body.Write(u32(t.ID))
	body.Write(u32(0)) // reserved
	body.Write(u32(0)) // duration
	body.Write(make([]byte, 8))
	body.Write(u16(0)) // layer
	body.Write(u16(0)) // alternate group
	if t.Kind == media.KindAudio {
		body.Write(u16(0x0100)) // volume 1.0
	} else {
		body.Write(u16(0))
	}
	body.Write(u16(0)) // reserved
	body.Write(identityMatrix())
	if t.Kind == media.KindVideo {
		w, h := videoDims(t)
		body.Write(u32(uint32(w) << 16))
		body.Write(u32(uint32(h) << 16))
	} else {
		body.Write(u32(0))
		body.Write(u32(0))
	}
	return box("tkhd", body.Bytes())
}

// trackTimescale picks the media timescale reported on the track, or a
// codec-appropriate default when unset.
func trackTimescale(t media.Track) uint32 {
	if t.Timebase.Den != 0 {
		return t.Timebase.Den
	}
	if t.Kind == media.KindAudio && t.SampleRate != 0 {
		return uint32(t.SampleRate)
	}
	return 90000
}

func mdiaBox(t media.Track) []byte {
	var body bytes.Buffer
	body.Write(mdhdBox(t))
	body.Write(hdlrBox(t))
	body.Write(minfBox(t))
	return box("mdia", body.Bytes())
}

func mdhdBox(t media.Track) []byte {
	var body bytes.Buffer
	body.Write(fullBox(0, 0))
	body.Write(u32(0)) // creation time
	body.Write(u32(0)) // modification time
	body.Write(u32(trackTimescale(t)))
	body.Write(u32(0))      // duration
	body.Write(u16(0x55c4)) // language "und"
	body.Write(u16(0))      // pre-defined
	return box("mdhd", body.Bytes())
}

func hdlrBox(t media.Track) []byte {
	handlerType, name := "vide", "VideoHandler"
	if t.Kind == media.KindAudio {
		handlerType, name = "soun", "SoundHandler"
	}
	var body bytes.Buffer
	body.Write(fullBox(0, 0))
	body.Write(u32(0)) // pre-defined
	body.WriteString(handlerType)
	body.Write(make([]byte, 12)) // reserved
	body.WriteString(name)
	body.WriteByte(0)
	return box("hdlr", body.Bytes())
}

func minfBox(t media.Track) []byte {
	var body bytes.Buffer
	if t.Kind == media.KindAudio {
		body.Write(box("smhd", append(fullBox(0, 0), 0, 0, 0, 0)))
	} else {
		body.Write(box("vmhd", append(fullBox(0, 1), 0, 0, 0, 0, 0, 0, 0, 0)))
	}
	body.Write(dinfBox())
	body.Write(stblBox(t))
	return box("minf", body.Bytes())
}

func dinfBox() []byte {
	var urlBody bytes.Buffer
	urlBody.Write(fullBox(0, 0x000001)) // self-contained
	dref := append(fullBox(0, 0), u32(1)...)
	dref = append(dref, box("url ", urlBody.Bytes())...)
	return box("dinf", box("dref", dref))
}

// stblBox builds an empty-table sample table: every fragment carries its
// own sample timing/offsets in a moof/traf, so the init segment's stbl
// only needs to exist and declare the sample entry (stsd).
func stblBox(t media.Track) []byte {
	var body bytes.Buffer
	body.Write(stsdBox(t))
	body.Write(emptyTableBox("stts", 8))
	body.Write(emptyTableBox("stsc", 8))
	body.Write(emptyTableBox("stsz", 12))
	body.Write(emptyTableBox("stco", 8))
	return box("stbl", body.Bytes())
}

func emptyTableBox(fourcc string, extraZeroBytes int) []byte {
	body := append(fullBox(0, 0), make([]byte, extraZeroBytes)...)
	return box(fourcc, body)
}

func stsdBox(t media.Track) []byte {
	var entry []byte
	switch t.Kind {
	case media.KindVideo:
		entry = avc1Box(t)
	case media.KindAudio:
		entry = mp4aBox(t)
	}
	body := append(fullBox(0, 0), u32(1)...)
	body = append(body, entry...)
	return box("stsd", body)
}

// videoDims falls back to a placeholder when a Provider hasn't parsed
// SPS dimensions out of the AVC sequence header (e.g. the RTMP ingest
// path, which admits on extradata presence alone); real dimensions
// still arrive correctly whenever a Provider does set them.
func videoDims(t media.Track) (w, h int) {
	if t.Width > 0 && t.Height > 0 {
		return t.Width, t.Height
	}
	return 1280, 720
}

func avc1Box(t media.Track) []byte {
	w, h := videoDims(t)
	var body bytes.Buffer
	body.Write(make([]byte, 6)) // reserved
	body.Write(u16(1))          // data reference index
	body.Write(make([]byte, 16))
	body.Write(u16(uint16(w)))
	body.Write(u16(uint16(h)))
	body.Write(u32(0x00480000)) // horiz resolution 72dpi
	body.Write(u32(0x00480000)) // vert resolution 72dpi
	body.Write(u32(0))          // reserved
	body.Write(u16(1))          // frame count
	body.Write(make([]byte, 32)) // compressor name
	body.Write(u16(0x0018))      // depth 24
	body.Write([]byte{0xff, 0xff})
	body.Write(box("avcC", t.Extradata))
	return box("avc1", body.Bytes())
}

func mp4aBox(t media.Track) []byte {
	var body bytes.Buffer
	body.Write(make([]byte, 6)) // reserved
	body.Write(u16(1))          // data reference index
	body.Write(make([]byte, 8)) // reserved (version/revision/vendor)
	channels := uint16(t.Channels)
	if channels == 0 {
		channels = 2
	}
	body.Write(u16(channels))
	body.Write(u16(16)) // sample size
	body.Write(make([]byte, 4))
	sampleRate := uint32(t.SampleRate)
	if sampleRate == 0 {
		sampleRate = 48000
	}
	body.Write(u32(sampleRate << 16))
	body.Write(esdsBox(t.Extradata))
	return box("mp4a", body.Bytes())
}

// esdsBox wraps an AudioSpecificConfig into the minimal MPEG-4 ES
// descriptor tree players require to locate it.
func esdsBox(asc []byte) []byte {
	decSpecific := descriptor(0x05, asc)
	decConfig := descriptor(0x04, append([]byte{
		0x40,       // objectTypeIndication: MPEG-4 Audio
		0x15,       // streamType=audio, upStream=0, reserved=1
		0, 0, 0,    // buffer size
		0, 0, 0, 0, // max bitrate
		0, 0, 0, 0, // avg bitrate
	}, decSpecific...))
	slConfig := descriptor(0x06, []byte{0x02})
	esDescr := descriptor(0x03, append(append([]byte{0, 0, 0}, decConfig...), slConfig...))
	return box("esds", append(fullBox(0, 0), esDescr...))
}

// descriptor encodes one MPEG-4 descriptor tag with its expandable
// length field (ISO/IEC 14496-1 §8.3.3).
func descriptor(tag byte, payload []byte) []byte {
	out := []byte{tag}
	n := len(payload)
	var lenBytes []byte
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if len(lenBytes) > 0 {
			b |= 0x80
		}
		lenBytes = append([]byte{b}, lenBytes...)
		if n == 0 {
			break
		}
	}
	out = append(out, lenBytes...)
	out = append(out, payload...)
	return out
}

func mvexBox(tracks []media.Track) []byte {
	var body bytes.Buffer
	for _, t := range tracks {
		trex := append(fullBox(0, 0), u32(t.ID)...)
		trex = append(trex, u32(1)...) // default sample description index
		trex = append(trex, u32(0)...) // default sample duration
		trex = append(trex, u32(0)...) // default sample size
		trex = append(trex, u32(0)...) // default sample flags
		body.Write(box("trex", trex))
	}
	return box("mvex", body.Bytes())
}

// FragmentSample is one access unit going into a moof/mdat fragment.
type FragmentSample struct {
	Duration  uint32 // in the track's timescale
	Size      uint32
	Keyframe  bool
	CTSOffset int32
	Payload   []byte
}

// FragmentTrack is one track's contribution to a multiplexed fragment:
// LL-HLS parts in this repo carry every track sharing one PublishPoint
// in a single fMP4 fragment (one moof with one traf per track, one
// shared mdat), so a part is one HTTP object regardless of track count.
type FragmentTrack struct {
	TrackID             uint32
	BaseMediaDecodeTime uint64
	Samples             []FragmentSample
}

// BuildFragment assembles one moof+mdat pair spanning every track in
// tracks, using sequence as the fragment's Mfhd sequence number (spec
// §7.2: LL-HLS parts are one fMP4 fragment each).
func BuildFragment(sequence uint32, tracks []FragmentTrack) []byte {
	mfhd := box("mfhd", append(fullBox(0, 0), u32(sequence)...))

	trafs := make([][]byte, len(tracks))
	trunOffsetFields := make([]int, len(tracks)) // offset within moof body of each trun's data-offset field
	moofBodyLen := len(mfhd)
	for i, tr := range tracks {
		traf, trunDataOffsetRel := trafBox(tr.TrackID, tr.BaseMediaDecodeTime, tr.Samples)
		trafs[i] = traf
		trunOffsetFields[i] = moofBodyLen + trunDataOffsetRel
		moofBodyLen += len(traf)
	}

	var moofBody bytes.Buffer
	moofBody.Write(mfhd)
	for _, traf := range trafs {
		moofBody.Write(traf)
	}
	moof := box("moof", moofBody.Bytes())

	// Each track's mdat payload offset, measured from the start of moof
	// (default-base-is-moof), is the whole moof box size plus the mdat
	// header (8 bytes) plus the sum of preceding tracks' sample bytes
	// within the shared mdat.
	dataStart := int64(len(moof) + 8)
	cursor := dataStart
	for i, tr := range tracks {
		fieldOffset := 8 + trunOffsetFields[i] // +8 for moof's own box header
		binary.BigEndian.PutUint32(moof[fieldOffset:], uint32(cursor))
		for _, s := range tr.Samples {
			cursor += int64(len(s.Payload))
		}
	}

	mdat := mdatBoxMulti(tracks)

	out := make([]byte, 0, len(moof)+len(mdat))
	out = append(out, moof...)
	out = append(out, mdat...)
	return out
}

func trafBox(trackID uint32, baseMediaDecodeTime uint64, samples []FragmentSample) (traf []byte, trunDataOffsetRelToTraf int) {
	tfhd := tfhdBox(trackID)
	tfdt := tfdtBox(baseMediaDecodeTime)
	trun, offsetFieldInTrun := trunBox(samples)

	var body bytes.Buffer
	body.Write(tfhd)
	body.Write(tfdt)
	trunStart := body.Len()
	body.Write(trun)

	full := box("traf", body.Bytes())
	// full = [size(4)][fourcc(4)][body...]; offsetFieldInTrun is relative
	// to the start of trun's body, after trun's own 8-byte header.
	return full, 8 + trunStart + 8 + offsetFieldInTrun
}

// tfhdFlags: default-base-is-moof only; durations/sizes/flags are
// carried per-sample in trun.
const tfhdDefaultBaseIsMoof = 0x020000

func tfhdBox(trackID uint32) []byte {
	body := append(fullBox(0, tfhdDefaultBaseIsMoof), u32(trackID)...)
	return box("tfhd", body)
}

func tfdtBox(baseMediaDecodeTime uint64) []byte {
	body := fullBox(1, 0) // version 1: 64-bit base media decode time
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, baseMediaDecodeTime)
	body = append(body, b...)
	return box("tfdt", body)
}

// trun flags: data-offset-present, sample-duration, sample-size,
// sample-flags, sample-composition-time-offset (version 1, signed).
const trunFlags = 0x000001 | 0x000100 | 0x000200 | 0x000400 | 0x000800

func trunBox(samples []FragmentSample) (trun []byte, dataOffsetFieldOffset int) {
	body := fullBox(1, trunFlags)
	body = append(body, u32(uint32(len(samples)))...)
	dataOffsetFieldOffset = len(body)
	body = append(body, u32(0)...) // data offset, patched by caller

	for _, s := range samples {
		flags := sampleFlags(s.Keyframe)
		body = append(body, u32(s.Duration)...)
		body = append(body, u32(s.Size)...)
		body = append(body, u32(flags)...)
		body = append(body, u32(uint32(s.CTSOffset))...)
	}
	return box("trun", body), dataOffsetFieldOffset
}

// sampleFlags encodes the is-leading/depends-on/is-non-sync bits: a
// keyframe depends on nothing and is sync; a non-key sample depends on
// another sample and is marked non-sync (ISO/IEC 14496-12 §8.8.3.1).
func sampleFlags(keyframe bool) uint32 {
	if keyframe {
		return 0x02000000 // sample_depends_on = 2 (does not depend on others)
	}
	return 0x01010000 // sample_depends_on = 1, sample_is_non_sync_sample = 1
}

func mdatBoxMulti(tracks []FragmentTrack) []byte {
	total := 0
	for _, tr := range tracks {
		for _, s := range tr.Samples {
			total += len(s.Payload)
		}
	}
	body := make([]byte, 0, total)
	for _, tr := range tracks {
		for _, s := range tr.Samples {
			body = append(body, s.Payload...)
		}
	}
	return box("mdat", body)
}
