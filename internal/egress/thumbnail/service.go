// If you are AI: This file implements thumbnail egress (C9): a
// periodic JPEG snapshot of a live Stream's latest video keyframe,
// pushed to subscribers over a WebSocket channel (SPEC_FULL.md names
// github.com/gorilla/websocket explicitly as this package's push
// transport). One capture loop per Stream is shared across every
// connected client, decoding each fresh keyframe through a short-lived
// `ffmpeg` subprocess (the same exec-based approach internal/transcode
// uses, rather than internal/ffx's unfinished cgo scaffold) and
// fanning the resulting JPEG out to all registered *websocket.Conn.
package thumbnail

import (
	"bytes"
	"context"
	"log"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"originflux/internal/media"
	"originflux/internal/registry"
	"originflux/internal/router"
	"originflux/internal/session"
)

// Interval bounds how often a fresh keyframe is re-rendered to JPEG per
// Stream, regardless of how often the source emits keyframes.
const Interval = 2 * time.Second

// Service serves periodic JPEG thumbnails of live Streams over
// WebSocket.
type Service struct {
	mgr      *session.Manager
	upgrader websocket.Upgrader

	mu       sync.Mutex
	captures map[registry.Key]*capture
}

// New builds a thumbnail Service bound to mgr.
func New(mgr *session.Manager) *Service {
	return &Service{
		mgr: mgr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		captures: make(map[registry.Key]*capture),
	}
}

// RegisterRoutes mounts the thumbnail WebSocket endpoint.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/thumbnail/", s.handle)
}

func (s *Service) handle(w http.ResponseWriter, r *http.Request) {
	app, name, ok := parseThumbnailPath(r.URL.Path)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	key := registry.NewKey("", app, name)

	if _, ok := s.mgr.Registry().Lookup(key); !ok {
		http.Error(w, "stream not live", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("thumbnail: upgrade: %v", err)
		return
	}

	cap := s.captureFor(key)
	cap.addClient(conn)
}

func parseThumbnailPath(p string) (app, name string, ok bool) {
	trimmed := strings.TrimPrefix(p, "/thumbnail/")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// captureFor returns the shared capture loop for key, starting one if
// this is the first client.
func (s *Service) captureFor(key registry.Key) *capture {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.captures[key]; ok {
		return c
	}
	c := newCapture(s, key)
	s.captures[key] = c
	c.start()
	return c
}

func (s *Service) removeCapture(key registry.Key) {
	s.mu.Lock()
	delete(s.captures, key)
	s.mu.Unlock()
}

// capture runs one Join/video-keyframe-watch loop per Stream, rendering
// at most one JPEG every Interval and broadcasting it to every
// registered client.
type capture struct {
	svc *Service
	key registry.Key

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	last    []byte

	cancel context.CancelFunc
}

func newCapture(svc *Service, key registry.Key) *capture {
	return &capture{svc: svc, key: key, clients: make(map[*websocket.Conn]struct{})}
}

func (c *capture) addClient(conn *websocket.Conn) {
	c.mu.Lock()
	c.clients[conn] = struct{}{}
	last := c.last
	c.mu.Unlock()

	if last != nil {
		_ = conn.WriteMessage(websocket.BinaryMessage, last)
	}

	// Drain reads until the client disconnects (WebSocket servers must
	// read control frames to keep the connection alive); thumbnail
	// subscribers never send data frames of their own.
	go func() {
		defer c.removeClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (c *capture) removeClient(conn *websocket.Conn) {
	conn.Close()
	c.mu.Lock()
	delete(c.clients, conn)
	empty := len(c.clients) == 0
	c.mu.Unlock()
	if empty {
		c.stop()
		c.svc.removeCapture(c.key)
	}
}

func (c *capture) broadcast(jpeg []byte) {
	c.mu.Lock()
	c.last = jpeg
	clients := make([]*websocket.Conn, 0, len(c.clients))
	for conn := range c.clients {
		clients = append(clients, conn)
	}
	c.mu.Unlock()

	for _, conn := range clients {
		_ = conn.WriteMessage(websocket.BinaryMessage, jpeg)
	}
}

func (c *capture) start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(ctx)
}

func (c *capture) stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *capture) run(ctx context.Context) {
	handle, ok := c.svc.mgr.Registry().Lookup(c.key)
	if !ok {
		return
	}
	st, err := handle.Resolve()
	if err != nil {
		return
	}
	var videoTrack media.Track
	for _, t := range st.Tracks() {
		if t.Kind == media.KindVideo {
			videoTrack = t
			break
		}
	}
	annexBHeader := avcConfigToAnnexB(videoTrack.Extradata)

	sub, snapshot, pp, err := c.svc.mgr.Join(c.key, 32, router.PolicyDropToKeyframe, 4<<20)
	if err != nil {
		log.Printf("thumbnail %s: join: %v", c.key, err)
		return
	}
	defer pp.Leave(sub.ID)
	for _, p := range snapshot {
		p.Release()
	}

	var lastRender time.Time

	for {
		for {
			pkt, ok := sub.Pop()
			if !ok {
				break
			}
			if pkt.TrackID == videoTrack.ID && pkt.IsKeyframe() && time.Since(lastRender) >= Interval {
				annexB := toAnnexB(pkt.Format, pkt.Payload)
				if jpeg, err := renderJPEG(ctx, annexBHeader, annexB); err == nil {
					c.broadcast(jpeg)
					lastRender = time.Now()
				}
			}
			pkt.Release()
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		sub.Wait(ctx)
		if ctx.Err() != nil {
			return
		}
	}
}

// renderJPEG decodes one Annex-B framed H.264 access unit (header, then
// the keyframe's own NALUs) to a single JPEG frame via a short-lived
// ffmpeg process.
func renderJPEG(ctx context.Context, header, payload []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-f", "h264", "-i", "pipe:0",
		"-frames:v", "1", "-f", "mjpeg", "pipe:1")

	var in bytes.Buffer
	in.Write(header)
	in.Write(payload)
	cmd.Stdin = &in

	var out bytes.Buffer
	cmd.Stdout = &out

	if err := cmd.Run(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// toAnnexB returns payload as Annex-B-framed NALUs (start codes instead
// of 4-byte length prefixes) regardless of its on-the-wire framing, the
// only input format ffmpeg's raw "-f h264" demuxer accepts.
func toAnnexB(format media.Format, payload []byte) []byte {
	if format != media.FormatAVCC {
		return payload
	}
	var out bytes.Buffer
	for len(payload) >= 4 {
		n := int(payload[0])<<24 | int(payload[1])<<16 | int(payload[2])<<8 | int(payload[3])
		payload = payload[4:]
		if n < 0 || n > len(payload) {
			break
		}
		out.Write(annexBStartCode)
		out.Write(payload[:n])
		payload = payload[n:]
	}
	return out.Bytes()
}

var annexBStartCode = []byte{0, 0, 0, 1}

// avcConfigToAnnexB extracts the SPS/PPS NAL units from an
// AVCDecoderConfigurationRecord and re-frames them as Annex-B, so a
// keyframe carrying no in-band parameter sets (RTMP/FLV ingest) can
// still be decoded standalone. Returns nil if config isn't a
// recognizable AVCDecoderConfigurationRecord (e.g. Annex-B sources
// that never populate Track.Extradata, since their keyframes already
// carry SPS/PPS in-band).
func avcConfigToAnnexB(config []byte) []byte {
	if len(config) < 6 {
		return nil
	}
	var out bytes.Buffer
	pos := 5
	numSPS := int(config[pos] & 0x1f)
	pos++
	for i := 0; i < numSPS && pos+2 <= len(config); i++ {
		n := int(config[pos])<<8 | int(config[pos+1])
		pos += 2
		if pos+n > len(config) {
			return out.Bytes()
		}
		out.Write(annexBStartCode)
		out.Write(config[pos : pos+n])
		pos += n
	}
	if pos >= len(config) {
		return out.Bytes()
	}
	numPPS := int(config[pos])
	pos++
	for i := 0; i < numPPS && pos+2 <= len(config); i++ {
		n := int(config[pos])<<8 | int(config[pos+1])
		pos += 2
		if pos+n > len(config) {
			return out.Bytes()
		}
		out.Write(annexBStartCode)
		out.Write(config[pos : pos+n])
		pos += n
	}
	return out.Bytes()
}
