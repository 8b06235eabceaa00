// If you are AI: This file defines the configuration structure for
// originflux. It uses strict YAML decoding and explicit defaults,
// generalizing the teacher's flat ServerConfig/RelayConfig/TranscodeConfig
// into the hierarchical server/virtual_hosts/applications schema
// SPEC_FULL.md §6 specifies.
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the complete server configuration.
type Config struct {
	Server       ServerConfig  `yaml:"server"`
	VirtualHosts []VirtualHost `yaml:"virtual_hosts"`
	Relays       []RelayConfig `yaml:"relays,omitempty"`
}

// ServerConfig defines process-wide bind and admin settings.
type ServerConfig struct {
	Name  string      `yaml:"name,omitempty"`
	IP    string      `yaml:"ip,omitempty"`
	Bind  BindConfig  `yaml:"bind"`
	Admin AdminConfig `yaml:"admin"`
}

// BindConfig lists which providers (ingest) and publishers (egress) the
// process listens for, with their port configuration.
type BindConfig struct {
	Providers  ProvidersConfig  `yaml:"providers"`
	Publishers PublishersConfig `yaml:"publishers"`
}

// ProvidersConfig configures the ingest protocol listeners (C4/C5). A nil
// field means that provider is not bound at all.
type ProvidersConfig struct {
	RTMP     *RTMPProviderConfig     `yaml:"rtmp,omitempty"`
	SRT      *SRTProviderConfig      `yaml:"srt,omitempty"`
	WebRTC   *WebRTCProviderConfig   `yaml:"webrtc,omitempty"`
	RTSPPull *RTSPPullProviderConfig `yaml:"rtsp_pull,omitempty"`
	MPEGTS   *MPEGTSProviderConfig   `yaml:"mpegts,omitempty"`
}

type RTMPProviderConfig struct {
	Port int `yaml:"port"`
}

type SRTProviderConfig struct {
	Port int `yaml:"port"`
}

type WebRTCProviderConfig struct {
	SignallingPort    int    `yaml:"signalling_port"`
	TLSSignallingPort int    `yaml:"tls_signalling_port,omitempty"`
	ICEUDPRange       [2]int `yaml:"ice_udp_range,omitempty"`
}

// RTSPPullProviderConfig is intentionally empty: RTSP ingest is
// per-Application pull targets (Application.Providers names "rtsp_pull",
// the actual source URL lives with the Application, not the bind layer).
type RTSPPullProviderConfig struct{}

type MPEGTSProviderConfig struct {
	PortRange [2]int `yaml:"port_range"`
}

// PublishersConfig configures the egress protocol listeners (C9).
type PublishersConfig struct {
	LLHLS     *LLHLSPublisherConfig     `yaml:"llhls,omitempty"`
	WebRTC    *WebRTCPublisherConfig    `yaml:"webrtc,omitempty"`
	SRT       *SRTPublisherConfig       `yaml:"srt,omitempty"`
	Thumbnail *ThumbnailPublisherConfig `yaml:"thumbnail,omitempty"`
	OVT       *OVTPublisherConfig       `yaml:"ovt,omitempty"`
}

type LLHLSPublisherConfig struct {
	Port    int `yaml:"port"`
	TLSPort int `yaml:"tls_port,omitempty"`
}

// WebRTCPublisherConfig is empty: egress WebRTC reuses the ingest
// provider's signalling listener (one SDP offer/answer endpoint
// multiplexes both directions by URL path).
type WebRTCPublisherConfig struct{}

type SRTPublisherConfig struct {
	Port int `yaml:"port"`
}

type ThumbnailPublisherConfig struct {
	Port    int `yaml:"port"`
	TLSPort int `yaml:"tls_port,omitempty"`
}

type OVTPublisherConfig struct {
	Port int `yaml:"port"`
}

// AdminConfig configures the bearer-token-authenticated admin HTTP API (C11).
type AdminConfig struct {
	Port        int    `yaml:"port"`
	BearerToken string `yaml:"bearer_token,omitempty"`
}

// VirtualHost groups Applications under a set of host names and an
// optional TLS identity.
type VirtualHost struct {
	Name         string        `yaml:"name"`
	Host         HostConfig    `yaml:"host,omitempty"`
	Applications []Application `yaml:"applications"`
}

type HostConfig struct {
	Names []string   `yaml:"names,omitempty"`
	TLS   *TLSConfig `yaml:"tls,omitempty"`
}

type TLSConfig struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
	CA   string `yaml:"ca,omitempty"`
}

// Application is the unit of access control and publish-point
// configuration: one live or VOD namespace within a VirtualHost.
type Application struct {
	Name           string               `yaml:"name"`
	Type           string               `yaml:"type"`
	OutputProfiles []OutputProfile      `yaml:"output_profiles,omitempty"`
	Providers      []string             `yaml:"providers,omitempty"`
	Publishers     []string             `yaml:"publishers,omitempty"`
	AccessControl  *AccessControlConfig `yaml:"access_control,omitempty"`
}

// OutputProfile names one transcode target (C8); no OutputProfiles at
// all means "bypass only" (spec.md §4.7).
type OutputProfile struct {
	Name       string  `yaml:"name"`
	VideoCodec string  `yaml:"video_codec,omitempty"`
	AudioCodec string  `yaml:"audio_codec,omitempty"`
	Width      int     `yaml:"width,omitempty"`
	Height     int     `yaml:"height,omitempty"`
	Bitrate    int     `yaml:"bitrate,omitempty"`
	FrameRate  float64 `yaml:"frame_rate,omitempty"`
}

// AccessControlConfig selects one admission policy for an Application.
// At most one of SignedPolicy/AdmissionWebhook should be set; Validate
// rejects AdmissionWebhook outright (see errs.WebhookNotConfigured).
type AccessControlConfig struct {
	SignedPolicy     *SignedPolicyConfig     `yaml:"signed_policy,omitempty"`
	AdmissionWebhook *AdmissionWebhookConfig `yaml:"admission_webhook,omitempty"`
}

// SignedPolicyConfig is an HMAC-signed stream-key policy, verifiable
// from Application config alone (spec.md §9 binding resolution).
type SignedPolicyConfig struct {
	SecretKey string `yaml:"secret_key"`
}

// AdmissionWebhookConfig names an as-yet-unimplemented policy variant;
// present in the schema so config authors get a clear validation error
// rather than a silently-ignored field.
type AdmissionWebhookConfig struct {
	URL       string `yaml:"url"`
	TimeoutMS int    `yaml:"timeout_ms,omitempty"`
}

// RelayConfig defines an edge-mode pull/push relay task, carried forward
// from the teacher's internal/svc/relay with its reconnect knob expanded
// into the full back-off schedule (see ReconnectConfig).
type RelayConfig struct {
	App       string          `yaml:"app"`
	Name      string          `yaml:"name"`
	Mode      string          `yaml:"mode"` // "pull" (RTMP), "push" (RTMP), or "rtsp_pull"
	RemoteURL string          `yaml:"remote_url"`
	Reconnect ReconnectConfig `yaml:"reconnect,omitempty"`
}

// ReconnectConfig is the exponential back-off schedule for relay
// reconnection (spec.md §9: replaces the teacher's fixed 5s retry).
type ReconnectConfig struct {
	Enabled    bool    `yaml:"enabled,omitempty"`
	BaseDelay  string  `yaml:"base_delay,omitempty"` // parsed with time.ParseDuration
	MaxDelay   string  `yaml:"max_delay,omitempty"`
	JitterFrac float64 `yaml:"jitter_frac,omitempty"`
}

// Load reads configuration from a YAML file, rejecting unknown fields,
// then applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// setDefaults applies explicit default values to unset fields, per the
// default ports table in SPEC_FULL.md §6.
func (c *Config) setDefaults() {
	if c.Server.Admin.Port == 0 {
		c.Server.Admin.Port = 8080
	}
	if p := c.Server.Bind.Providers.RTMP; p != nil && p.Port == 0 {
		p.Port = 1935
	}
	if p := c.Server.Bind.Providers.SRT; p != nil && p.Port == 0 {
		p.Port = 9999
	}
	if p := c.Server.Bind.Providers.WebRTC; p != nil && p.SignallingPort == 0 {
		p.SignallingPort = 3333
	}
	if p := c.Server.Bind.Publishers.LLHLS; p != nil && p.Port == 0 {
		p.Port = 8088
	}
	if p := c.Server.Bind.Publishers.SRT; p != nil && p.Port == 0 {
		p.Port = 9998
	}
	if p := c.Server.Bind.Publishers.Thumbnail; p != nil && p.Port == 0 {
		p.Port = 8081
	}
	if p := c.Server.Bind.Publishers.OVT; p != nil && p.Port == 0 {
		p.Port = 9000
	}

	for i := range c.Relays {
		r := &c.Relays[i]
		if r.Reconnect.BaseDelay == "" {
			r.Reconnect.BaseDelay = "1s"
		}
		if r.Reconnect.MaxDelay == "" {
			r.Reconnect.MaxDelay = "30s"
		}
		if r.Reconnect.JitterFrac == 0 {
			r.Reconnect.JitterFrac = 0.2
		}
	}
}
