// If you are AI: This file implements the administrative HTTP surface
// (C11, spec.md §6): a read-mostly JSON API over the Stream Registry and
// live PublishPoints, bearer-token gated. Grounded on the teacher's
// internal/svc/api/{server,handlers}.go (Service wrapping a registry,
// net/http + encoding/json, writeJSON/writeError helpers), generalized
// from the teacher's flat /api/server|streams|relay set to the expanded
// /api/v1/... surface and its {statusCode, message, response} envelope.
package admin

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"originflux/internal/registry"
	"originflux/internal/session"
)

// Service serves the admin HTTP API.
type Service struct {
	mgr         *session.Manager
	bearerToken string
	startTime   time.Time
}

// New builds an admin Service backed by mgr. bearerToken is required on
// every request via "Authorization: Bearer <token>"; an empty token
// disables auth (single-operator/dev deployments only).
func New(mgr *session.Manager, bearerToken string) *Service {
	return &Service{mgr: mgr, bearerToken: bearerToken, startTime: time.Now()}
}

// RegisterRoutes adds the /api/v1/... routes to mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/vhosts", s.withAuth(s.handleVHosts))
	mux.HandleFunc("/api/v1/streams", s.withAuth(s.handleStreams))
	mux.HandleFunc("/api/v1/streams/", s.withAuth(s.handleStreamByName))
	mux.HandleFunc("/api/v1/stats", s.withAuth(s.handleStats))
}

func (s *Service) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.bearerToken != "" {
			h := r.Header.Get("Authorization")
			if !strings.HasPrefix(h, "Bearer ") || strings.TrimPrefix(h, "Bearer ") != s.bearerToken {
				s.writeEnvelope(w, http.StatusUnauthorized, "unauthorized", nil)
				return
			}
		}
		next(w, r)
	}
}

// envelope is the {statusCode, message, response} shape every admin
// response uses, matching the teacher's writeJSON/writeError pattern
// generalized to a single consistent wrapper.
type envelope struct {
	StatusCode int         `json:"statusCode"`
	Message    string      `json:"message"`
	Response   interface{} `json:"response,omitempty"`
}

func (s *Service) writeEnvelope(w http.ResponseWriter, status int, message string, response interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{StatusCode: status, Message: message, Response: response})
}

// vhostInfo groups streams by (vhost, app) for GET /api/v1/vhosts.
type vhostInfo struct {
	Name string   `json:"name"`
	Apps []string `json:"apps"`
}

func (s *Service) handleVHosts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeEnvelope(w, http.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}
	apps := map[string]map[string]struct{}{}
	for _, k := range s.mgr.Registry().List() {
		if apps[k.VHost] == nil {
			apps[k.VHost] = map[string]struct{}{}
		}
		apps[k.VHost][k.App] = struct{}{}
	}
	out := make([]vhostInfo, 0, len(apps))
	for vhost, appSet := range apps {
		names := make([]string, 0, len(appSet))
		for a := range appSet {
			names = append(names, a)
		}
		out = append(out, vhostInfo{Name: vhost, Apps: names})
	}
	s.writeEnvelope(w, http.StatusOK, "OK", out)
}

// streamInfo is one entry of GET /api/v1/streams.
type streamInfo struct {
	VHost           string  `json:"vhost"`
	App             string  `json:"app"`
	Name            string  `json:"name"`
	State           string  `json:"state"`
	TrackCount      int     `json:"trackCount"`
	SubscriberCount int     `json:"subscriberCount"`
	BytesIn         uint64  `json:"bytesIn"`
	UptimeSeconds   float64 `json:"uptimeSeconds"`
}

func streamInfoFor(st *registry.Stream) streamInfo {
	key := st.Key()
	stats := st.Stats()
	return streamInfo{
		VHost:           key.VHost,
		App:             key.App,
		Name:            key.Name,
		State:           st.State().String(),
		TrackCount:      len(st.Tracks()),
		SubscriberCount: stats.SubscriberCount,
		BytesIn:         stats.BytesIn,
		UptimeSeconds:   time.Since(st.Created()).Seconds(),
	}
}

func (s *Service) handleStreams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeEnvelope(w, http.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}
	streams := s.mgr.Registry().Streams()
	out := make([]streamInfo, 0, len(streams))
	for _, st := range streams {
		out = append(out, streamInfoFor(st))
	}
	s.writeEnvelope(w, http.StatusOK, "OK", out)
}

// handleStreamByName dispatches /api/v1/streams/{app}/{name} and
// /api/v1/streams/{app}/{name}/subscribers/{id}.
func (s *Service) handleStreamByName(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/streams/"), "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		s.writeEnvelope(w, http.StatusBadRequest, "expected /streams/{app}/{name}", nil)
		return
	}
	app, name := parts[0], parts[1]
	key := registry.NewKey("default", app, name)

	if len(parts) == 4 && parts[2] == "subscribers" {
		s.handleSubscriber(w, r, key, parts[3])
		return
	}
	if len(parts) != 2 {
		s.writeEnvelope(w, http.StatusNotFound, "not found", nil)
		return
	}

	switch r.Method {
	case http.MethodGet:
		handle, ok := s.mgr.Registry().Lookup(key)
		if !ok {
			s.writeEnvelope(w, http.StatusNotFound, "stream not found", nil)
			return
		}
		st, err := handle.Resolve()
		if err != nil {
			s.writeEnvelope(w, http.StatusNotFound, "stream not found", nil)
			return
		}
		s.writeEnvelope(w, http.StatusOK, "OK", streamInfoFor(st))
	case http.MethodDelete:
		if !s.mgr.Terminate(key) {
			s.writeEnvelope(w, http.StatusNotFound, "stream not found", nil)
			return
		}
		s.writeEnvelope(w, http.StatusOK, "stream terminated", nil)
	default:
		s.writeEnvelope(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	}
}

func (s *Service) handleSubscriber(w http.ResponseWriter, r *http.Request, key registry.Key, idStr string) {
	if r.Method != http.MethodDelete {
		s.writeEnvelope(w, http.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		s.writeEnvelope(w, http.StatusBadRequest, "invalid subscriber id", nil)
		return
	}
	pp, ok := s.mgr.PublishPointFor(key)
	if !ok {
		s.writeEnvelope(w, http.StatusNotFound, "stream not found", nil)
		return
	}
	found := false
	for _, sid := range pp.SubscriberIDs() {
		if sid == id {
			found = true
			break
		}
	}
	if !found {
		s.writeEnvelope(w, http.StatusNotFound, "subscriber not found", nil)
		return
	}
	pp.Leave(id)
	s.writeEnvelope(w, http.StatusOK, "subscriber terminated", nil)
}

// statsResponse is the GET /api/v1/stats payload: process-wide totals
// plus per-stream bitrate/subscriber snapshots.
type statsResponse struct {
	StreamCount     int          `json:"streamCount"`
	TotalSubs       int          `json:"totalSubscribers"`
	UptimeSeconds   float64      `json:"uptimeSeconds"`
	Streams         []streamInfo `json:"streams"`
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeEnvelope(w, http.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}
	streams := s.mgr.Registry().Streams()
	out := make([]streamInfo, 0, len(streams))
	totalSubs := 0
	for _, st := range streams {
		info := streamInfoFor(st)
		out = append(out, info)
		totalSubs += info.SubscriberCount
	}
	s.writeEnvelope(w, http.StatusOK, "OK", statsResponse{
		StreamCount:   len(out),
		TotalSubs:     totalSubs,
		UptimeSeconds: time.Since(s.startTime).Seconds(),
		Streams:       out,
	})
}
