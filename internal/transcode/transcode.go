// If you are AI: This file implements the Transcoder (C8, spec.md §4.7):
// one OutputProfile applied to one live Stream. It attaches to the
// source Stream's Router as an ordinary router.Consumer (session.Manager
// RouterFor exists specifically for this), remuxes its packets to MPEG-TS
// over a pipe into an `ffmpeg` subprocess, and republishes ffmpeg's
// re-encoded MPEG-TS output as a derived Stream under
// "<name>_<profile>". Grounded on the teacher's internal/svc/transcode,
// whose ffmpeg integration was never wired past a stub pointing at
// nonchalant/internal/core/bus (see DESIGN.md) — this replaces it with a
// real exec.Cmd pipeline rather than the cgo-bound internal/ffx
// scaffold, since spawning the `ffmpeg` binary needs no cgo and no build
// tag. Keeps the bypass semantics of spec.md §4.7: no OutputProfiles at
// all means the Application serves only the original Stream.
package transcode

import (
	"context"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strconv"
	"sync"

	"originflux/internal/config"
	"originflux/internal/media"
	"originflux/internal/protocol/mpegts"
	"originflux/internal/registry"
	"originflux/internal/router"
	"originflux/internal/session"
)

// outputTrackID fixes the derived Stream's track identities: at most one
// video and one audio track survive a transcode profile.
const (
	outputVideoTrackID uint32 = 1
	outputAudioTrackID uint32 = 2
)

// Transcoder applies one OutputProfile to one source Stream, publishing
// the re-encoded result as a sibling Stream.
type Transcoder struct {
	mgr      *session.Manager
	srcKey   registry.Key
	outKey   registry.Key
	profile  config.OutputProfile
	srcRouter *router.Router

	queue chan *media.Packet

	cmd   *exec.Cmd
	stdin io.WriteCloser

	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	admitted bool
	outHandle registry.Handle
	ingest    func(*media.Packet)
}

// outputKey derives the registry Key for one profile applied to src.
func outputKey(src registry.Key, profileName string) registry.Key {
	return registry.NewKey(src.VHost, src.App, src.Name+"_"+profileName)
}

// New builds a Transcoder for profile applied to the Stream at srcKey,
// whose current track set is tracks (the set the Router was created
// with). The Stream must already be live: New registers as a Consumer
// on its Router via mgr.RouterFor.
func New(mgr *session.Manager, srcKey registry.Key, tracks []media.Track, profile config.OutputProfile) (*Transcoder, error) {
	r, ok := mgr.RouterFor(srcKey)
	if !ok {
		return nil, fmt.Errorf("transcode: source stream not live: %s", srcKey)
	}

	t := &Transcoder{
		mgr:       mgr,
		srcKey:    srcKey,
		outKey:    outputKey(srcKey, profile.Name),
		profile:   profile,
		srcRouter: r,
		queue:     make(chan *media.Packet, 256),
		done:      make(chan struct{}),
	}
	return t, nil
}

// Start spawns the ffmpeg subprocess and begins forwarding packets.
// Call RemoveConsumer's counterpart, Stop, to tear it down.
func (t *Transcoder) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	args := buildFFmpegArgs(t.profile)
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("transcode: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("transcode: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("transcode: start ffmpeg: %w", err)
	}
	t.cmd = cmd
	t.stdin = stdin

	srcTracks := inputTracks()
	mux, err := mpegts.NewMuxer(ctx, stdin, srcTracks)
	if err != nil {
		cancel()
		return fmt.Errorf("transcode: input muxer: %w", err)
	}

	t.srcRouter.AddConsumer(t)

	go t.feedLoop(mux)
	go t.readLoop(ctx, stdout)

	return nil
}

// Publish implements router.Consumer: non-blocking enqueue, dropping the
// packet if ffmpeg is falling behind rather than stalling the live
// Router (spec.md §4.5's "never block the producer" rule applies to
// every Consumer, transcode inputs included).
func (t *Transcoder) Publish(p *media.Packet) {
	p.Retain()
	select {
	case t.queue <- p:
	default:
		p.Release()
	}
}

func (t *Transcoder) feedLoop(mux *mpegts.Muxer) {
	defer t.stdin.Close()
	for p := range t.queue {
		err := mux.WritePacket(p.TrackID, p.PTS, p.DTS, p.IsKeyframe(), p.Payload)
		p.Release()
		if err != nil {
			return
		}
	}
}

func (t *Transcoder) readLoop(ctx context.Context, stdout io.Reader) {
	defer close(t.done)
	defer t.teardown()

	demux := mpegts.NewDemuxer(ctx, stdout)
	for {
		au, err := demux.Next()
		if err != nil {
			return
		}

		id := outputAudioTrackID
		if au.Track.Kind == media.KindVideo {
			id = outputVideoTrackID
		}
		au.Track.ID = id

		t.mu.Lock()
		if !t.admitted {
			t.mu.Unlock()
			t.admit(au.Track)
			t.mu.Lock()
		}
		admitted, ingest := t.admitted, t.ingest
		t.mu.Unlock()
		if !admitted {
			continue
		}

		pkt := media.AcquirePacket()
		pkt.TrackID = id
		pkt.PTS, pkt.DTS = au.PTS, au.DTS
		pkt.Format = media.FormatAnnexB
		if au.RandomAccess {
			pkt.Flags |= media.FlagKeyframe
		}
		pkt.SetPayload(au.Payload)
		ingest(pkt)
	}
}

// admit publishes the derived Stream the first time a track from
// ffmpeg's output is seen, tolerating video-only or audio-only profile
// output (e.g. an audio-bitrate-only profile).
func (t *Transcoder) admit(first media.Track) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.admitted {
		return
	}
	handle, ingest, err := t.mgr.Publish(t.outKey, []media.Track{first}, "transcode:"+t.profile.Name)
	if err != nil {
		log.Printf("transcode %s: publish derived stream: %v", t.outKey, err)
		return
	}
	t.outHandle, t.ingest, t.admitted = handle, ingest, true
}

// Stop deregisters from the source Router, closes the input queue, and
// kills the ffmpeg subprocess, waiting for the read loop to exit.
func (t *Transcoder) Stop() {
	t.srcRouter.RemoveConsumer(t)
	close(t.queue)
	if t.cancel != nil {
		t.cancel()
	}
	<-t.done
	t.teardown()
}

func (t *Transcoder) teardown() {
	t.mu.Lock()
	admitted, handle := t.admitted, t.outHandle
	t.admitted = false
	t.mu.Unlock()
	if admitted {
		t.mgr.Unpublish(handle)
	}
}

// inputTracks declares a fixed H264 video stream type on ffmpeg's input
// muxer. The demuxer-facing stream types are resolved from the PMT at
// runtime, but the muxer must declare its own elementary streams up
// front; this server only ever ingests H264(+AAC/Opus), so a fixed
// video/audio pair covers every source this build produces.
func inputTracks() []media.Track {
	return []media.Track{
		{ID: outputVideoTrackID, Kind: media.KindVideo, Codec: media.CodecH264, Timebase: media.Timebase{Num: 1, Den: 90000}},
		{ID: outputAudioTrackID, Kind: media.KindAudio, Codec: media.CodecAAC, Timebase: media.Timebase{Num: 1, Den: 90000}},
	}
}

// buildFFmpegArgs translates an OutputProfile into an ffmpeg command
// line: MPEG-TS in on stdin, MPEG-TS out on stdout, re-encoded per the
// profile's codec/geometry/bitrate/frame-rate fields.
func buildFFmpegArgs(p config.OutputProfile) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-f", "mpegts", "-i", "pipe:0"}

	if p.VideoCodec != "" {
		args = append(args, "-c:v", ffmpegVideoCodec(p.VideoCodec))
		if p.Width > 0 && p.Height > 0 {
			args = append(args, "-s", strconv.Itoa(p.Width)+"x"+strconv.Itoa(p.Height))
		}
		if p.Bitrate > 0 {
			args = append(args, "-b:v", strconv.Itoa(p.Bitrate)+"k")
		}
		if p.FrameRate > 0 {
			args = append(args, "-r", strconv.FormatFloat(p.FrameRate, 'f', -1, 64))
		}
	} else {
		args = append(args, "-vn")
	}

	if p.AudioCodec != "" {
		args = append(args, "-c:a", ffmpegAudioCodec(p.AudioCodec))
	} else {
		args = append(args, "-an")
	}

	args = append(args, "-f", "mpegts", "pipe:1")
	return args
}

func ffmpegVideoCodec(name string) string {
	switch name {
	case "h264":
		return "libx264"
	case "h265", "hevc":
		return "libx265"
	default:
		return name
	}
}

func ffmpegAudioCodec(name string) string {
	switch name {
	case "aac":
		return "aac"
	case "opus":
		return "libopus"
	default:
		return name
	}
}
