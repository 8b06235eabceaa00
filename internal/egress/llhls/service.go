// If you are AI: This file is the LL-HLS Service: the HTTP surface
// (C9/C11) that lazily creates one Publisher per requested live Stream
// and serves its playlist/init/segment/part objects, tearing the
// Publisher down once the backing Stream stops. Grounded on the
// teacher's internal/svc/httpflv/server.go request-routing shape
// (method-and-path dispatch over a bare http.ServeMux), generalized
// from raw FLV byte streaming to LL-HLS's playlist/part/init object
// model.
package llhls

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"originflux/internal/registry"
	"originflux/internal/session"
)

// Service serves LL-HLS for every live Stream under one session.Manager.
type Service struct {
	mgr *session.Manager

	mu         sync.Mutex
	publishers map[registry.Key]*Publisher
}

// New builds a Service bound to mgr.
func New(mgr *session.Manager) *Service {
	return &Service{mgr: mgr, publishers: make(map[registry.Key]*Publisher)}
}

// RegisterRoutes wires the Service's handlers onto mux under
// /hls/{vhost}/{app}/{name}/...
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/hls/", s.handle)
}

// parsedPath is one /hls/{vhost}/{app}/{name}/{object} request.
type parsedPath struct {
	key    registry.Key
	object string // "playlist.m3u8", "init.mp4", "seg-{n}.m4s", "part-{n}-{i}.m4s"
}

func parsePath(p string) (parsedPath, bool) {
	p = strings.TrimPrefix(p, "/hls/")
	parts := strings.Split(p, "/")
	if len(parts) != 4 {
		return parsedPath{}, false
	}
	return parsedPath{
		key:    registry.NewKey(parts[0], parts[1], parts[2]),
		object: parts[3],
	}, true
}

func (s *Service) handle(w http.ResponseWriter, r *http.Request) {
	pp, ok := parsePath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	pub, ok := s.publisherFor(pp.key)
	if !ok {
		http.Error(w, "stream not live", http.StatusNotFound)
		return
	}

	switch {
	case pp.object == "playlist.m3u8":
		s.servePlaylist(w, r, pub, pp.key)
	case pp.object == "init.mp4":
		serveMP4(w, pub.Window().InitSegment())
	case strings.HasPrefix(pp.object, "seg-"):
		s.serveSegment(w, pub, pp.object)
	case strings.HasPrefix(pp.object, "part-"):
		s.servePart(w, r, pub, pp.object)
	default:
		http.NotFound(w, r)
	}
}

// publisherFor returns the live Publisher for key, creating one on
// first request and tearing down any stale Publisher whose Stream has
// since stopped.
func (s *Service) publisherFor(key registry.Key) (*Publisher, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pub, ok := s.publishers[key]; ok {
		if _, live := s.mgr.RouterFor(key); live {
			return pub, true
		}
		pub.Close()
		delete(s.publishers, key)
	}

	handle, ok := s.mgr.Registry().Lookup(key)
	if !ok {
		return nil, false
	}
	st, err := handle.Resolve()
	if err != nil {
		return nil, false
	}

	pub, err := NewPublisher(s.mgr, key, st.Tracks())
	if err != nil {
		return nil, false
	}
	s.publishers[key] = pub
	return pub, true
}

const (
	// blockingReloadTimeout bounds how long a playlist GET with
	// _HLS_msn/_HLS_part waits for the requested part to exist before
	// returning whatever is current (spec §7.2 blocking reload).
	blockingReloadTimeout = 4 * time.Second
)

func (s *Service) servePlaylist(w http.ResponseWriter, r *http.Request, pub *Publisher, key registry.Key) {
	win := pub.Window()

	if msn := r.URL.Query().Get("_HLS_msn"); msn != "" {
		wantSeq, _ := strconv.Atoi(msn)
		wantPart := 0
		if part := r.URL.Query().Get("_HLS_part"); part != "" {
			wantPart, _ = strconv.Atoi(part)
		}
		deadline := time.Now().Add(blockingReloadTimeout)
		for time.Now().Before(deadline) {
			segments, current, mediaSeq, version := win.Snapshot()
			lastSeq := mediaSeq + len(segments)
			lastPart := len(current.Parts) - 1
			if lastSeq > wantSeq || (lastSeq == wantSeq && lastPart >= wantPart) {
				break
			}
			win.WaitForVersion(version, 500*time.Millisecond)
		}
	}

	segments, current, mediaSeq, _ := win.Snapshot()
	uriBase := fmt.Sprintf("/hls/%s/%s/%s", key.VHost, key.App, key.Name)
	text := RenderPlaylist(segments, current, mediaSeq, PlaylistOptions{
		TargetDuration: targetDuration,
		PartTarget:     partTarget,
		InitSegmentURI: uriBase + "/init.mp4",
		SegmentURIFmt:  uriBase + "/seg-%d.m4s",
		PartURIFmt:     uriBase + "/part-%d-%d.m4s",
	})

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}

func (s *Service) serveSegment(w http.ResponseWriter, pub *Publisher, object string) {
	var seq int
	if _, err := fmt.Sscanf(object, "seg-%d.m4s", &seq); err != nil {
		http.NotFound(w, nil)
		return
	}
	data, ok := pub.Window().Segment(seq)
	if !ok {
		http.NotFound(w, nil)
		return
	}
	serveMP4(w, data)
}

func (s *Service) servePart(w http.ResponseWriter, r *http.Request, pub *Publisher, object string) {
	var seq, idx int
	if _, err := fmt.Sscanf(object, "part-%d-%d.m4s", &seq, &idx); err != nil {
		http.NotFound(w, r)
		return
	}

	win := pub.Window()
	deadline := time.Now().Add(blockingReloadTimeout)
	part, ok := win.Part(seq, idx)
	for !ok && time.Now().Before(deadline) {
		_, _, _, version := win.Snapshot()
		win.WaitForVersion(version, 500*time.Millisecond)
		part, ok = win.Part(seq, idx)
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	serveMP4(w, part.Data)
}

func serveMP4(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
