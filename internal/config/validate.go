// If you are AI: This file validates configuration values and returns
// descriptive errors, wrapped with the shared error taxonomy (KindConfig
// is always fatal at startup).
package config

import (
	"fmt"

	"originflux/internal/errs"
)

// Validate checks that all configuration values are within acceptable
// ranges and internally consistent. Returns the first failure found.
func (c *Config) Validate() error {
	usedPorts := map[int]string{}
	if err := c.Server.Validate(usedPorts); err != nil {
		return errs.Wrap(errs.KindConfig, "server", err)
	}
	if len(c.VirtualHosts) == 0 {
		return errs.New(errs.KindConfig, "at least one virtual_host is required")
	}
	for i := range c.VirtualHosts {
		if err := c.VirtualHosts[i].Validate(); err != nil {
			return errs.Wrap(errs.KindConfig, fmt.Sprintf("virtual_hosts[%d]", i), err)
		}
	}
	for i, r := range c.Relays {
		if err := r.Validate(); err != nil {
			return errs.Wrap(errs.KindConfig, fmt.Sprintf("relays[%d]", i), err)
		}
	}
	return nil
}

// Validate checks server-level bind/admin settings, rejecting port
// collisions across every provider/publisher/admin listener.
func (s *ServerConfig) Validate(usedPorts map[int]string) error {
	claim := func(port int, owner string) error {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("%s: port must be between 1 and 65535, got %d", owner, port)
		}
		if existing, ok := usedPorts[port]; ok {
			return fmt.Errorf("%s and %s both claim port %d", owner, existing, port)
		}
		usedPorts[port] = owner
		return nil
	}

	if err := claim(s.Admin.Port, "admin"); err != nil {
		return err
	}
	if p := s.Bind.Providers.RTMP; p != nil {
		if err := claim(p.Port, "providers.rtmp"); err != nil {
			return err
		}
	}
	if p := s.Bind.Providers.SRT; p != nil {
		if err := claim(p.Port, "providers.srt"); err != nil {
			return err
		}
	}
	if p := s.Bind.Providers.WebRTC; p != nil {
		if err := claim(p.SignallingPort, "providers.webrtc.signalling_port"); err != nil {
			return err
		}
		if p.TLSSignallingPort != 0 {
			if err := claim(p.TLSSignallingPort, "providers.webrtc.tls_signalling_port"); err != nil {
				return err
			}
		}
	}
	if p := s.Bind.Providers.MPEGTS; p != nil {
		if p.PortRange[0] <= 0 || p.PortRange[1] < p.PortRange[0] {
			return fmt.Errorf("providers.mpegts.port_range invalid: %v", p.PortRange)
		}
	}
	if p := s.Bind.Publishers.LLHLS; p != nil {
		if err := claim(p.Port, "publishers.llhls"); err != nil {
			return err
		}
		if p.TLSPort != 0 {
			if err := claim(p.TLSPort, "publishers.llhls.tls_port"); err != nil {
				return err
			}
		}
	}
	if p := s.Bind.Publishers.SRT; p != nil {
		if err := claim(p.Port, "publishers.srt"); err != nil {
			return err
		}
	}
	if p := s.Bind.Publishers.Thumbnail; p != nil {
		if err := claim(p.Port, "publishers.thumbnail"); err != nil {
			return err
		}
		if p.TLSPort != 0 {
			if err := claim(p.TLSPort, "publishers.thumbnail.tls_port"); err != nil {
				return err
			}
		}
	}
	if p := s.Bind.Publishers.OVT; p != nil {
		if err := claim(p.Port, "publishers.ovt"); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks one VirtualHost and its Applications.
func (v *VirtualHost) Validate() error {
	if v.Name == "" {
		return fmt.Errorf("name is required")
	}
	if v.Host.TLS != nil {
		if v.Host.TLS.Cert == "" || v.Host.TLS.Key == "" {
			return fmt.Errorf("host.tls requires both cert and key")
		}
	}
	for i := range v.Applications {
		if err := v.Applications[i].Validate(); err != nil {
			return fmt.Errorf("applications[%d]: %w", i, err)
		}
	}
	return nil
}

var validAppTypes = map[string]bool{"live": true, "vod": true}

// Validate checks one Application: a known type, and an access-control
// policy this build can actually enforce.
func (a *Application) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !validAppTypes[a.Type] {
		return fmt.Errorf("type must be 'live' or 'vod', got %q", a.Type)
	}
	if a.AccessControl != nil && a.AccessControl.AdmissionWebhook != nil {
		// Binding resolution of spec.md §9: the webhook payload contract
		// was never recovered from the original implementation. Rather
		// than guess a shape, this is rejected at config-validate time so
		// the failure is visible at startup, not at the first publish
		// attempt.
		return errs.WebhookNotConfigured
	}
	if a.AccessControl != nil && a.AccessControl.SignedPolicy != nil {
		if a.AccessControl.SignedPolicy.SecretKey == "" {
			return fmt.Errorf("access_control.signed_policy.secret_key is required")
		}
	}
	return nil
}

// Validate checks one RelayConfig.
func (r *RelayConfig) Validate() error {
	if r.App == "" || r.Name == "" {
		return fmt.Errorf("app and name are required")
	}
	if r.Mode != "pull" && r.Mode != "push" && r.Mode != "rtsp_pull" {
		return fmt.Errorf("mode must be 'pull', 'push', or 'rtsp_pull', got %q", r.Mode)
	}
	if r.RemoteURL == "" {
		return fmt.Errorf("remote_url is required")
	}
	return nil
}
