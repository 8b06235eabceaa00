// If you are AI: This file wraps github.com/asticode/go-astits for
// MPEG-TS demuxing (UDP/MPEG-TS ingest, C4) and muxing (SRT egress,
// C9), translating between astits' PID/PES model and this repo's
// media.Track/media.Packet model. Grounded on the teacher's protocol
// packages living under internal/protocol/* as thin wire-format
// translators with no session/router knowledge of their own (mirrors
// internal/protocol/rtmp's chunk/session split): this package only
// knows MPEG-TS; internal/ingest/mpegts and internal/egress/srt own
// the session.Manager wiring.
package mpegts

import (
	"context"
	"io"

	"github.com/asticode/go-astits"

	"originflux/internal/media"
)

// Demuxer reads an MPEG-TS byte stream (from a UDP socket or an SRT
// connection) and yields access units tagged with the track they
// belong to, resolving track identity from the Program Map Table the
// first time it is seen.
type Demuxer struct {
	inner  *astits.Demuxer
	tracks map[uint16]media.Track
	nextID uint32
}

// NewDemuxer wraps r (a reassembled MPEG-TS byte stream; UDP ingest
// reassembles one per 188-byte-aligned datagram burst, SRT ingest
// hands the whole connection stream directly since SRT already
// guarantees in-order delivery).
func NewDemuxer(ctx context.Context, r io.Reader) *Demuxer {
	return &Demuxer{
		inner:  astits.NewDemuxer(ctx, r),
		tracks: make(map[uint16]media.Track),
	}
}

// AccessUnit is one demuxed PES payload: the track it belongs to and
// its presentation/decode timestamps in 90kHz MPEG-TS ticks.
type AccessUnit struct {
	Track        media.Track
	PTS, DTS     int64
	RandomAccess bool
	Payload      []byte
}

// Next returns the next access unit, resolving newly-seen PMT entries
// into media.Track identities as they're encountered. Returns io.EOF
// once the underlying stream ends.
func (d *Demuxer) Next() (AccessUnit, error) {
	for {
		data, err := d.inner.NextData()
		if err != nil {
			return AccessUnit{}, err
		}

		switch {
		case data.PMT != nil:
			for _, es := range data.PMT.ElementaryStreams {
				if _, known := d.tracks[es.ElementaryPID]; known {
					continue
				}
				track, ok := trackForStreamType(es.StreamType, d.nextID)
				if !ok {
					continue
				}
				d.nextID++
				d.tracks[es.ElementaryPID] = track
			}
		case data.PES != nil:
			track, ok := d.tracks[data.PID]
			if !ok {
				continue // elementary stream without a resolved PMT entry yet
			}
			pts, dts := pesTimestamps(data.PES.Header)
			return AccessUnit{
				Track:        track,
				PTS:          pts,
				DTS:          dts,
				RandomAccess: data.PES.Header.OptionalHeader != nil && data.PES.Header.OptionalHeader.DataAlignmentIndicator,
				Payload:      data.PES.Data,
			}, nil
		}
	}
}

func pesTimestamps(header *astits.PESHeader) (pts, dts int64) {
	if header == nil || header.OptionalHeader == nil {
		return 0, 0
	}
	opt := header.OptionalHeader
	if opt.PTS != nil {
		pts = int64(opt.PTS.Base)
	}
	if opt.DTS != nil {
		dts = int64(opt.DTS.Base)
	} else {
		dts = pts
	}
	return pts, dts
}

// trackForStreamType maps an MPEG-TS stream_type to a media.Track
// identity. Only H.264 video and ADTS/LOAS AAC audio are recognized;
// every other stream type (MPEG-2 video, AC-3, data) is skipped rather
// than guessed at (spec.md §4.3 scopes MPEG-TS ingest to H.264/AAC).
func trackForStreamType(streamType astits.StreamType, id uint32) (media.Track, bool) {
	switch streamType {
	case astits.StreamTypeH264Video:
		return media.Track{
			ID: id, Kind: media.KindVideo, Codec: media.CodecH264,
			Timebase: media.Timebase{Num: 1, Den: 90000},
		}, true
	case astits.StreamTypeAACAudio, astits.StreamTypeAACLOASAudio:
		return media.Track{
			ID: id, Kind: media.KindAudio, Codec: media.CodecAAC,
			Timebase: media.Timebase{Num: 1, Den: 90000},
		}, true
	default:
		return media.Track{}, false
	}
}

// Muxer packages access units from one or more tracks into an MPEG-TS
// byte stream, for SRT egress (C9) where the wire format is MPEG-TS
// regardless of transport.
type Muxer struct {
	inner *astits.Muxer
	pids  map[uint32]uint16
}

// NewMuxer builds a Muxer writing to w, declaring one elementary stream
// per track and electing the first video track (or the first track, if
// none is video) as the PCR carrier.
func NewMuxer(ctx context.Context, w io.Writer, tracks []media.Track) (*Muxer, error) {
	m := &Muxer{inner: astits.NewMuxer(ctx, w), pids: make(map[uint32]uint16)}

	pcrPID := uint16(0)
	for i, t := range tracks {
		pid := uint16(256 + i)
		m.pids[t.ID] = pid

		streamType := astits.StreamTypeAACAudio
		if t.Kind == media.KindVideo {
			streamType = astits.StreamTypeH264Video
		}
		if err := m.inner.AddElementaryStream(astits.PMTElementaryStream{
			ElementaryPID: pid,
			StreamType:    streamType,
		}); err != nil {
			return nil, err
		}
		if pcrPID == 0 && t.Kind == media.KindVideo {
			pcrPID = pid
		}
	}
	if pcrPID == 0 && len(tracks) > 0 {
		pcrPID = m.pids[tracks[0].ID]
	}
	if pcrPID != 0 {
		m.inner.SetPCRPID(pcrPID)
	}
	if err := m.inner.WriteTables(); err != nil {
		return nil, err
	}
	return m, nil
}

// WritePacket muxes one access unit's payload into a PES packet on its
// track's PID.
func (m *Muxer) WritePacket(trackID uint32, pts, dts int64, randomAccess bool, payload []byte) error {
	pid, ok := m.pids[trackID]
	if !ok {
		return nil
	}
	_, err := m.inner.WriteData(&astits.MuxerData{
		PID: pid,
		PES: &astits.PESData{
			Header: &astits.PESHeader{
				OptionalHeader: &astits.PESOptionalHeader{
					MarkerBits:      2,
					PTSDTSIndicator: astits.PTSDTSIndicatorBothPresent,
					PTS:             &astits.ClockReference{Base: pts},
					DTS:             &astits.ClockReference{Base: dts},
					DataAlignmentIndicator: randomAccess,
				},
			},
			Data: payload,
		},
	})
	return err
}
