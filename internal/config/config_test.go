package config

import (
	"os"
	"path/filepath"
	"testing"

	"originflux/internal/errs"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

const minimalValidConfig = `
server:
  bind:
    providers:
      rtmp: {}
    publishers:
      llhls: {port: 8088}
  admin: {}
virtual_hosts:
  - name: default
    applications:
      - name: live
        type: live
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, minimalValidConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Bind.Providers.RTMP.Port != 1935 {
		t.Errorf("expected rtmp port 1935, got %d", cfg.Server.Bind.Providers.RTMP.Port)
	}
	if cfg.Server.Admin.Port != 8080 {
		t.Errorf("expected admin port 8080, got %d", cfg.Server.Admin.Port)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeTempConfig(t, minimalValidConfig+"\nbogus_field: true\n")
	if _, err := Load(path); err == nil {
		t.Error("expected an error for an unknown top-level field")
	}
}

func TestValidateRequiresVirtualHost(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			Admin: AdminConfig{Port: 8080},
		},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error when no virtual_hosts are configured")
	}
}

func TestValidateRejectsPortCollision(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			Admin: AdminConfig{Port: 8080},
			Bind: BindConfig{
				Providers: ProvidersConfig{
					RTMP: &RTMPProviderConfig{Port: 8080},
				},
			},
		},
		VirtualHosts: []VirtualHost{{
			Name:         "default",
			Applications: []Application{{Name: "live", Type: "live"}},
		}},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error when two listeners claim the same port")
	}
}

func TestValidateRejectsAdmissionWebhook(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Admin: AdminConfig{Port: 8080}},
		VirtualHosts: []VirtualHost{{
			Name: "default",
			Applications: []Application{{
				Name: "live",
				Type: "live",
				AccessControl: &AccessControlConfig{
					AdmissionWebhook: &AdmissionWebhookConfig{URL: "https://example.invalid/admit"},
				},
			}},
		}},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected admission_webhook to fail validation")
	}
	if !errs.Is(err, errs.KindAuth) {
		t.Errorf("expected a KindAuth error, got %v", err)
	}
}

func TestValidateAcceptsSignedPolicy(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Admin: AdminConfig{Port: 8080}},
		VirtualHosts: []VirtualHost{{
			Name: "default",
			Applications: []Application{{
				Name: "live",
				Type: "live",
				AccessControl: &AccessControlConfig{
					SignedPolicy: &SignedPolicyConfig{SecretKey: "topsecret"},
				},
			}},
		}},
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected signed_policy config to validate cleanly, got %v", err)
	}
}

func TestRelayConfigValidation(t *testing.T) {
	r := RelayConfig{App: "live", Name: "cam1", Mode: "bogus", RemoteURL: "rtmp://x"}
	if err := r.Validate(); err == nil {
		t.Error("expected an error for an invalid relay mode")
	}
}
