package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/subwaynet/subway/internal/client"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadServerConfigDefaults(t *testing.T) {
	path := writeConfig(t, `{"domain": "tunnel.example"}`)
	cfg, err := loadServerConfig(path)
	if err != nil {
		t.Fatalf("loadServerConfig() error = %v", err)
	}

	if cfg.Control.Listen != "0.0.0.0:5678" {
		t.Errorf("Control.Listen = %q", cfg.Control.Listen)
	}
	if cfg.Control.ReadBuf != 4096 {
		t.Errorf("Control.ReadBuf = %d", cfg.Control.ReadBuf)
	}
	if cfg.Proxy.Port != 80 {
		t.Errorf("Proxy.Port = %d", cfg.Proxy.Port)
	}
	if cfg.Proxy.TLS.Port != 443 {
		t.Errorf("Proxy.TLS.Port = %d", cfg.Proxy.TLS.Port)
	}
	if cfg.Tunnel.RequestBind != "127.0.0.1" {
		t.Errorf("Tunnel.RequestBind = %q", cfg.Tunnel.RequestBind)
	}
	if cfg.Tunnel.ExpireTimeS != 3600 {
		t.Errorf("Tunnel.ExpireTimeS = %d", cfg.Tunnel.ExpireTimeS)
	}
	if cfg.Tunnel.CleanupIntervalS != 60 {
		t.Errorf("Tunnel.CleanupIntervalS = %d", cfg.Tunnel.CleanupIntervalS)
	}
	if cfg.Tunnel.MaxTenants != 256 {
		t.Errorf("Tunnel.MaxTenants = %d", cfg.Tunnel.MaxTenants)
	}
	if cfg.Metrics.Namespace != "subway" {
		t.Errorf("Metrics.Namespace = %q", cfg.Metrics.Namespace)
	}
}

func TestLoadServerConfigDefaultDomain(t *testing.T) {
	path := writeConfig(t, `{}`)
	cfg, err := loadServerConfig(path)
	if err != nil {
		t.Fatalf("loadServerConfig() error = %v", err)
	}
	if cfg.Domain != "subway.local" {
		t.Errorf("Domain = %q, want subway.local", cfg.Domain)
	}
}

func TestLoadServerConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{
			name:    "tls without cert",
			content: `{"domain": "t.example", "proxy": {"tls": {"enabled": true}}}`,
			wantErr: true,
		},
		{
			name:    "expire below cleanup interval",
			content: `{"domain": "t.example", "tunnel": {"expire_time_s": 10, "cleanup_interval_s": 60}}`,
			wantErr: true,
		},
		{
			name:    "minimal valid",
			content: `{"domain": "t.example"}`,
			wantErr: false,
		},
		{
			name: "full valid",
			content: `{
				"domain": "t.example",
				"control": {"listen": "0.0.0.0:9000"},
				"proxy": {"behind_proxy": true, "max_conns": 100},
				"ratelimit": {"enabled": true, "max_connections_per_ip": 10},
				"log": {"debug": true}
			}`,
			wantErr: false,
		},
		{
			name:    "invalid json",
			content: `{`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := loadServerConfig(path)
			if (err != nil) != tt.wantErr {
				t.Errorf("loadServerConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadServerConfigMissingFile(t *testing.T) {
	if _, err := loadServerConfig(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("loadServerConfig() on a missing file returned no error")
	}
}

func TestLoadClientConfig(t *testing.T) {
	cfg, err := loadClientConfig("")
	if err != nil {
		t.Fatalf("loadClientConfig(\"\") error = %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 5678 {
		t.Errorf("defaults = %s:%d", cfg.Server.Host, cfg.Server.Port)
	}

	path := writeConfig(t, `{
		"server": {"host": "relay.example", "port": 9000},
		"local": {"port": 3000},
		"subdomain": "myapp",
		"reconnect": true
	}`)
	cfg, err = loadClientConfig(path)
	if err != nil {
		t.Fatalf("loadClientConfig() error = %v", err)
	}
	if cfg.Server.Host != "relay.example" || cfg.Server.Port != 9000 {
		t.Errorf("server = %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Local.Port != 3000 || cfg.Subdomain != "myapp" || !cfg.Reconnect {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestValidateClientConfig(t *testing.T) {
	cfg := &client.Config{}
	if err := validateClientConfig(cfg); err == nil {
		t.Error("missing local port accepted")
	}

	cfg.Local.Port = 3000
	if err := validateClientConfig(cfg); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	cfg.Socks.Enabled = true
	if err := validateClientConfig(cfg); err == nil {
		t.Error("socks without host accepted")
	}
}
