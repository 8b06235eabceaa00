// If you are AI: This file implements the top-level process wiring: one
// Server value owns the config, the session.Manager (registry + routers
// + publish points), every bound ingest Provider, and the admin HTTP
// surface — no global mutable state (spec.md §9). Grounded on the
// teacher's internal/server/server.go (http.Server + per-protocol
// services constructed in New, started in Start, torn down in Shutdown),
// generalized from the teacher's fixed RTMP+HTTP-FLV+WS-FLV trio to the
// config-driven provider/publisher bind set SPEC_FULL.md §6 describes.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"originflux/internal/admin"
	"originflux/internal/config"
	"originflux/internal/egress/llhls"
	egressovt "originflux/internal/egress/ovt"
	"originflux/internal/egress/rtmppush"
	egresssrt "originflux/internal/egress/srt"
	"originflux/internal/egress/thumbnail"
	egresswebrtc "originflux/internal/egress/webrtc"
	ingestmpegts "originflux/internal/ingest/mpegts"
	ingestrtmp "originflux/internal/ingest/rtmp"
	"originflux/internal/ingest/rtmppull"
	ingestrtsp "originflux/internal/ingest/rtsp"
	ingestsrt "originflux/internal/ingest/srt"
	ingestwebrtc "originflux/internal/ingest/webrtc"
	"originflux/internal/media"
	wirewebrtc "originflux/internal/protocol/webrtc"
	"originflux/internal/registry"
	"originflux/internal/session"
	"originflux/internal/transcode"
)

// Server owns every live component for one configuration.
type Server struct {
	cfg *config.Config
	mgr *session.Manager

	rtmpProvider   *ingestrtmp.Provider
	srtProvider    *ingestsrt.Provider
	mpegtsProvider *ingestmpegts.Provider

	adminSvc    *admin.Service
	adminServer *http.Server

	llhlsSvc    *llhls.Service
	llhlsServer *http.Server

	srtEgressSvc *egresssrt.Service
	ovtEgressSvc *egressovt.Service

	thumbnailSvc    *thumbnail.Service
	thumbnailServer *http.Server

	webrtcIngest     *ingestwebrtc.Provider
	webrtcEgress     *egresswebrtc.Service
	webrtcSignalling *http.Server

	relayPullers []*rtmppull.Puller
	rtspPullers  []*ingestrtsp.Puller
	rtmpPushers  []*rtmppush.Pusher
	relayCancel  context.CancelFunc

	transcodeMu sync.Mutex
	transcoders map[registry.Key][]*transcode.Transcoder
}

// New builds a Server from cfg. The MPEG-TS UDP ports are bound here
// (BindRange); every other listener is bound in Start.
func New(cfg *config.Config) *Server {
	mgr := session.NewManager()

	s := &Server{
		cfg:         cfg,
		mgr:         mgr,
		transcoders: make(map[registry.Key][]*transcode.Transcoder),
	}

	mgr.OnPublish(s.startTranscoders)
	mgr.OnUnpublish(s.stopTranscoders)

	if cfg.Server.Bind.Providers.RTMP != nil {
		s.rtmpProvider = ingestrtmp.NewProvider(mgr, 0)
	}
	if cfg.Server.Bind.Providers.SRT != nil {
		s.srtProvider = ingestsrt.NewProvider(mgr, 0)
	}
	if cfg.Server.Bind.Providers.MPEGTS != nil {
		s.mpegtsProvider = ingestmpegts.NewProvider(mgr)
	}

	s.adminSvc = admin.New(mgr, cfg.Server.Admin.BearerToken)
	mux := http.NewServeMux()
	s.adminSvc.RegisterRoutes(mux)
	s.adminServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Admin.Port),
		Handler: mux,
	}

	if cfg.Server.Bind.Publishers.LLHLS != nil {
		s.llhlsSvc = llhls.New(mgr)
		hlsMux := http.NewServeMux()
		s.llhlsSvc.RegisterRoutes(hlsMux)
		s.llhlsServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Server.Bind.Publishers.LLHLS.Port),
			Handler: hlsMux,
		}
	}

	if cfg.Server.Bind.Publishers.SRT != nil {
		s.srtEgressSvc = egresssrt.New(mgr, 0)
	}

	if cfg.Server.Bind.Publishers.OVT != nil {
		s.ovtEgressSvc = egressovt.New(mgr, 0)
	}

	if cfg.Server.Bind.Publishers.Thumbnail != nil {
		s.thumbnailSvc = thumbnail.New(mgr)
		thumbMux := http.NewServeMux()
		s.thumbnailSvc.RegisterRoutes(thumbMux)
		s.thumbnailServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Server.Bind.Publishers.Thumbnail.Port),
			Handler: thumbMux,
		}
	}

	if p := cfg.Server.Bind.Providers.WebRTC; p != nil {
		wireCfg := wirewebrtc.Config{ICEPortMin: uint16(p.ICEUDPRange[0]), ICEPortMax: uint16(p.ICEUDPRange[1])}

		signallingMux := http.NewServeMux()
		if ingest, err := ingestwebrtc.NewProvider(mgr, wireCfg); err == nil {
			s.webrtcIngest = ingest
			ingest.RegisterRoutes(signallingMux)
		} else {
			log.Printf("webrtc ingest init: %v", err)
		}
		if cfg.Server.Bind.Publishers.WebRTC != nil {
			if egress, err := egresswebrtc.New(mgr, wireCfg); err == nil {
				s.webrtcEgress = egress
				egress.RegisterRoutes(signallingMux)
			} else {
				log.Printf("webrtc egress init: %v", err)
			}
		}
		s.webrtcSignalling = &http.Server{
			Addr:    fmt.Sprintf(":%d", p.SignallingPort),
			Handler: signallingMux,
		}
	}

	for _, rc := range cfg.Relays {
		base, err := time.ParseDuration(rc.Reconnect.BaseDelay)
		if err != nil {
			base = time.Second
		}
		max, err := time.ParseDuration(rc.Reconnect.MaxDelay)
		if err != nil {
			max = 30 * time.Second
		}
		key := registry.NewKey("", rc.App, rc.Name)

		switch rc.Mode {
		case "pull":
			p := rtmppull.New(mgr, key, rc.RemoteURL, base, max, rc.Reconnect.JitterFrac)
			p.Reconnect = rc.Reconnect.Enabled
			s.relayPullers = append(s.relayPullers, p)
		case "rtsp_pull":
			p := ingestrtsp.New(mgr, key, rc.RemoteURL, base, max, rc.Reconnect.JitterFrac)
			p.Reconnect = rc.Reconnect.Enabled
			s.rtspPullers = append(s.rtspPullers, p)
		case "push":
			p := rtmppush.New(mgr, key, rc.RemoteURL, base, max, rc.Reconnect.JitterFrac)
			p.Reconnect = rc.Reconnect.Enabled
			s.rtmpPushers = append(s.rtmpPushers, p)
		}
	}

	if s.mpegtsProvider != nil {
		rng := cfg.Server.Bind.Providers.MPEGTS.PortRange
		for _, vh := range cfg.VirtualHosts {
			for _, app := range vh.Applications {
				if hasProvider(app.Providers, "mpegts") {
					if err := s.mpegtsProvider.BindRange(app.Name, rng[0], rng[1]); err != nil {
						log.Printf("mpegts provider bind %s [%d-%d]: %v", app.Name, rng[0], rng[1], err)
					}
				}
			}
		}
	}

	return s
}

func hasProvider(providers []string, name string) bool {
	for _, p := range providers {
		if p == name {
			return true
		}
	}
	return false
}

// applicationFor returns the config.Application named app, across every
// VirtualHost (vhost isn't threaded through registry.Key's App/Name
// today; this server only has one implicit default vhost in practice).
func (s *Server) applicationFor(app string) (config.Application, bool) {
	for _, vh := range s.cfg.VirtualHosts {
		for _, a := range vh.Applications {
			if a.Name == app {
				return a, true
			}
		}
	}
	return config.Application{}, false
}

// startTranscoders is the session.Manager.OnPublish hook: for every
// OutputProfile configured on key.App's Application, it spawns a
// transcode.Transcoder attached to the newly-live Stream's Router. No
// OutputProfiles at all is the bypass case (spec.md §4.7): nothing is
// started.
func (s *Server) startTranscoders(key registry.Key, tracks []media.Track) {
	app, ok := s.applicationFor(key.App)
	if !ok || len(app.OutputProfiles) == 0 {
		return
	}

	var started []*transcode.Transcoder
	for _, profile := range app.OutputProfiles {
		tc, err := transcode.New(s.mgr, key, tracks, profile)
		if err != nil {
			log.Printf("transcode %s/%s: %v", key, profile.Name, err)
			continue
		}
		if err := tc.Start(context.Background()); err != nil {
			log.Printf("transcode %s/%s: start: %v", key, profile.Name, err)
			continue
		}
		started = append(started, tc)
	}
	if len(started) == 0 {
		return
	}

	s.transcodeMu.Lock()
	s.transcoders[key] = started
	s.transcodeMu.Unlock()
}

// stopTranscoders is the session.Manager.OnUnpublish hook, tearing down
// every Transcoder started for key.
func (s *Server) stopTranscoders(key registry.Key) {
	s.transcodeMu.Lock()
	tcs := s.transcoders[key]
	delete(s.transcoders, key)
	s.transcodeMu.Unlock()

	for _, tc := range tcs {
		tc.Stop()
	}
}

// Manager exposes the session.Manager for egress adapters and tests.
func (s *Server) Manager() *session.Manager { return s.mgr }

// Start binds every configured listener and begins serving. Blocks on
// the admin HTTP server; ingest Providers run their accept loops in
// background goroutines.
func (s *Server) Start() error {
	if s.rtmpProvider != nil {
		addr := fmt.Sprintf(":%d", s.cfg.Server.Bind.Providers.RTMP.Port)
		if err := s.rtmpProvider.Listen(addr); err != nil {
			return fmt.Errorf("rtmp provider listen %s: %w", addr, err)
		}
		go func() {
			if err := s.rtmpProvider.Serve(); err != nil {
				log.Printf("rtmp provider stopped: %v", err)
			}
		}()
	}

	if s.srtProvider != nil {
		addr := fmt.Sprintf(":%d", s.cfg.Server.Bind.Providers.SRT.Port)
		if err := s.srtProvider.Listen(addr); err != nil {
			return fmt.Errorf("srt provider listen %s: %w", addr, err)
		}
		go func() {
			if err := s.srtProvider.Serve(); err != nil {
				log.Printf("srt provider stopped: %v", err)
			}
		}()
	}

	if s.llhlsServer != nil {
		go func() {
			if err := s.llhlsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("llhls server stopped: %v", err)
			}
		}()
	}

	if s.srtEgressSvc != nil {
		addr := fmt.Sprintf(":%d", s.cfg.Server.Bind.Publishers.SRT.Port)
		if err := s.srtEgressSvc.Listen(addr); err != nil {
			return fmt.Errorf("srt egress listen %s: %w", addr, err)
		}
		go func() {
			if err := s.srtEgressSvc.Serve(); err != nil {
				log.Printf("srt egress stopped: %v", err)
			}
		}()
	}

	if s.ovtEgressSvc != nil {
		addr := fmt.Sprintf(":%d", s.cfg.Server.Bind.Publishers.OVT.Port)
		if err := s.ovtEgressSvc.Listen(addr); err != nil {
			return fmt.Errorf("ovt egress listen %s: %w", addr, err)
		}
		go func() {
			if err := s.ovtEgressSvc.Serve(); err != nil {
				log.Printf("ovt egress stopped: %v", err)
			}
		}()
	}

	if s.webrtcSignalling != nil {
		go func() {
			if err := s.webrtcSignalling.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("webrtc signalling server stopped: %v", err)
			}
		}()
	}

	if s.thumbnailServer != nil {
		go func() {
			if err := s.thumbnailServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("thumbnail server stopped: %v", err)
			}
		}()
	}

	if len(s.relayPullers) > 0 || len(s.rtspPullers) > 0 || len(s.rtmpPushers) > 0 {
		var ctx context.Context
		ctx, s.relayCancel = context.WithCancel(context.Background())
		for _, p := range s.relayPullers {
			go p.Run(ctx)
		}
		for _, p := range s.rtspPullers {
			go p.Run(ctx)
		}
		for _, p := range s.rtmpPushers {
			go p.Run(ctx)
		}
	}

	return s.adminServer.ListenAndServe()
}

// Shutdown gracefully stops every component.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.relayCancel != nil {
		s.relayCancel()
	}
	if s.rtmpProvider != nil {
		if err := s.rtmpProvider.Stop(); err != nil {
			log.Printf("rtmp provider stop: %v", err)
		}
	}
	if s.srtProvider != nil {
		if err := s.srtProvider.Stop(); err != nil {
			log.Printf("srt provider stop: %v", err)
		}
	}
	if s.mpegtsProvider != nil {
		if err := s.mpegtsProvider.Stop(); err != nil {
			log.Printf("mpegts provider stop: %v", err)
		}
	}
	if s.srtEgressSvc != nil {
		if err := s.srtEgressSvc.Stop(); err != nil {
			log.Printf("srt egress stop: %v", err)
		}
	}
	if s.ovtEgressSvc != nil {
		if err := s.ovtEgressSvc.Stop(); err != nil {
			log.Printf("ovt egress stop: %v", err)
		}
	}
	if s.webrtcIngest != nil {
		if err := s.webrtcIngest.Stop(); err != nil {
			log.Printf("webrtc ingest stop: %v", err)
		}
	}
	if s.webrtcSignalling != nil {
		if err := s.webrtcSignalling.Shutdown(ctx); err != nil {
			log.Printf("webrtc signalling shutdown: %v", err)
		}
	}
	if s.llhlsServer != nil {
		if err := s.llhlsServer.Shutdown(ctx); err != nil {
			log.Printf("llhls server shutdown: %v", err)
		}
	}
	if s.thumbnailServer != nil {
		if err := s.thumbnailServer.Shutdown(ctx); err != nil {
			log.Printf("thumbnail server shutdown: %v", err)
		}
	}
	return s.adminServer.Shutdown(ctx)
}

// ShutdownWithTimeout stops the server with a fixed 5-second timeout.
func (s *Server) ShutdownWithTimeout() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}
