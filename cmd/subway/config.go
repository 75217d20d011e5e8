package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/subwaynet/subway/internal/client"
	"github.com/subwaynet/subway/internal/server"
	"github.com/subwaynet/subway/pkg/logger"
)

// serverConfig wraps the engine config with process-level settings.
type serverConfig struct {
	server.Config
	Log struct {
		Debug bool              `json:"debug"`
		File  logger.FileConfig `json:"file"`
	} `json:"log"`
	Metrics struct {
		Enabled   bool   `json:"enabled"`
		Namespace string `json:"namespace"`
	} `json:"metrics"`
}

func loadServerConfig(path string) (*serverConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg serverConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Set defaults if needed
	if cfg.Control.Listen == "" {
		cfg.Control.Listen = "0.0.0.0:5678"
	}
	if cfg.Control.ReadBuf == 0 {
		cfg.Control.ReadBuf = 4096
	}
	if cfg.Proxy.Bind == "" {
		cfg.Proxy.Bind = "0.0.0.0"
	}
	if cfg.Proxy.Port == 0 {
		cfg.Proxy.Port = 80
	}
	if cfg.Proxy.TLS.Port == 0 {
		cfg.Proxy.TLS.Port = 443
	}
	if cfg.Tunnel.RequestBind == "" {
		cfg.Tunnel.RequestBind = "127.0.0.1"
	}
	if cfg.Tunnel.ExpireTimeS == 0 {
		cfg.Tunnel.ExpireTimeS = 3600
	}
	if cfg.Tunnel.CleanupIntervalS == 0 {
		cfg.Tunnel.CleanupIntervalS = 60
	}
	if cfg.Tunnel.MaxTenants == 0 {
		cfg.Tunnel.MaxTenants = 256
	}
	if cfg.Tunnel.MaxParkedPerTenant == 0 {
		cfg.Tunnel.MaxParkedPerTenant = 128
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "subway"
	}
	if cfg.Domain == "" {
		cfg.Domain = "subway.local"
	}

	// Validate required fields
	if cfg.Proxy.TLS.Enabled {
		if cfg.Proxy.TLS.Cert == "" || cfg.Proxy.TLS.Key == "" {
			return nil, fmt.Errorf("proxy.tls.cert_file and key_file are required when tls is enabled")
		}
	}
	if cfg.Tunnel.ExpireTimeS < cfg.Tunnel.CleanupIntervalS {
		return nil, fmt.Errorf("tunnel.expire_time_s (%d) must be >= cleanup_interval_s (%d)",
			cfg.Tunnel.ExpireTimeS, cfg.Tunnel.CleanupIntervalS)
	}

	return &cfg, nil
}

func loadClientConfig(path string) (*client.Config, error) {
	cfg := &client.Config{}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 5678
	cfg.Local.Host = "127.0.0.1"

	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5678
	}
	return cfg, nil
}

func validateClientConfig(cfg *client.Config) error {
	if cfg.Local.Port == 0 {
		return fmt.Errorf("local port is required")
	}
	if cfg.Socks.Enabled && (cfg.Socks.Host == "" || cfg.Socks.Port == 0) {
		return fmt.Errorf("socks.host and socks.port are required when socks is enabled")
	}
	return nil
}
