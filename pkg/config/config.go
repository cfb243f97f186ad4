package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultManifestPath = "/mcp.json"
	DefaultClientName   = "manifold-mcp-bridge"
)

type ManifoldConfig struct {
	Server  ServerConfig  `yaml:"server"`
	Remote  RemoteConfig  `yaml:"remote"`
	Policy  PolicyConfig  `yaml:"policy"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type Config = ManifoldConfig

type ServerConfig struct {
	Name      string `yaml:"name"`
	Version   string `yaml:"version"`
	LogLevel  string `yaml:"log_level"`
	SafeMode  bool   `yaml:"safe_mode"`
	Transport string `yaml:"transport"`
	HTTPAddr  string `yaml:"http_addr"`
	BaseURL   string `yaml:"base_url"`
	BasePath  string `yaml:"base_path"`
}

// RemoteConfig describes the API whose manifest is bridged. Domain may be a
// bare host ("api.example.com") or a full base URL.
type RemoteConfig struct {
	Domain       string `yaml:"domain"`
	Token        string `yaml:"token"`
	ManifestPath string `yaml:"manifest_path"`
	ManifestFile string `yaml:"manifest_file"`
	ClientName   string `yaml:"client_name"`
}

type PolicyConfig struct {
	AllowTools   []string `yaml:"allow_tools"`
	DenyTools    []string `yaml:"deny_tools"`
	ConfirmTools []string `yaml:"confirm_tools"`
	DenyMethods  []string `yaml:"deny_methods"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

func DefaultConfig() *ManifoldConfig {
	return &ManifoldConfig{
		Server: ServerConfig{
			Name:      "Manifold",
			Version:   "v0.1.0",
			LogLevel:  "info",
			Transport: "stdio",
			HTTPAddr:  ":8080",
			BasePath:  "/mcp",
		},
		Remote: RemoteConfig{
			ManifestPath: DefaultManifestPath,
			ClientName:   DefaultClientName,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

func LoadConfig(path string) (*ManifoldConfig, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, err
	}

	applyDefaults(cfg)
	return cfg, nil
}

// BaseURL returns the remote base URL without a trailing slash. A domain
// given without a scheme is served over https.
func (r RemoteConfig) BaseURL() string {
	domain := strings.TrimSpace(r.Domain)
	if domain == "" {
		return ""
	}
	if !strings.HasPrefix(domain, "http://") && !strings.HasPrefix(domain, "https://") {
		domain = "https://" + domain
	}
	return strings.TrimRight(domain, "/")
}

func applyDefaults(cfg *ManifoldConfig) {
	if cfg.Server.Name == "" {
		cfg.Server.Name = "Manifold"
	}
	if cfg.Server.Version == "" {
		cfg.Server.Version = "v0.1.0"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}
	if cfg.Server.Transport == "" {
		cfg.Server.Transport = "stdio"
	}
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = ":8080"
	}
	if cfg.Server.BasePath == "" {
		cfg.Server.BasePath = "/mcp"
	}
	if cfg.Remote.ManifestPath == "" {
		cfg.Remote.ManifestPath = DefaultManifestPath
	}
	if cfg.Remote.ClientName == "" {
		cfg.Remote.ClientName = DefaultClientName
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}
