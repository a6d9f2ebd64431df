// Package config provides configuration loading and management for cortexd.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main cortexd configuration.
type Config struct {
	Version       string               `yaml:"version"`
	Node          NodeConfig           `yaml:"node"`
	Discovery     DiscoveryConfig      `yaml:"discovery"`
	Resources     ResourcesConfig      `yaml:"resources"`
	Health        HealthConfig         `yaml:"health"`
	Consensus     ConsensusConfig      `yaml:"consensus"`
	Transport     TransportConfig      `yaml:"transport"`
	Report        ReportConfig         `yaml:"report"`
	Telemetry     TelemetryConfig      `yaml:"telemetry"`
	Notifications []NotificationConfig `yaml:"notifications"`
}

// NodeConfig identifies this node.
type NodeConfig struct {
	ID           string `yaml:"id"`
	Hostname     string `yaml:"hostname"`
	MeshIP       string `yaml:"mesh_ip"`
	Role         string `yaml:"role"` // voter, observer, mcp-only
	GRPCEndpoint string `yaml:"grpc_endpoint"`
	DataDir      string `yaml:"data_dir"`
}

// DiscoveryConfig configures the peer discovery poller.
type DiscoveryConfig struct {
	PollIntervalMS int      `yaml:"poll_interval_ms"`
	ClusterTag     string   `yaml:"cluster_tag"`
	MeshCommand    string   `yaml:"mesh_command"` // e.g. "tailscale"
	MeshArgs       []string `yaml:"mesh_args"`
}

func (d DiscoveryConfig) PollInterval() time.Duration {
	if d.PollIntervalMS <= 0 {
		return 15 * time.Second
	}
	return time.Duration(d.PollIntervalMS) * time.Millisecond
}

// ResourcesConfig configures the resource monitor.
type ResourcesConfig struct {
	PollIntervalMS        int      `yaml:"poll_interval_ms"`
	GamingProcesses       []string `yaml:"gaming_processes"`
	GamingGPUThresholdPct float64  `yaml:"gaming_gpu_threshold_pct"`
	GamingCooldownMS      int      `yaml:"gaming_cooldown_ms"`
}

func (r ResourcesConfig) PollInterval() time.Duration {
	if r.PollIntervalMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(r.PollIntervalMS) * time.Millisecond
}

func (r ResourcesConfig) GamingThreshold() float64 {
	if r.GamingGPUThresholdPct <= 0 {
		return 70.0
	}
	return r.GamingGPUThresholdPct
}

func (r ResourcesConfig) GamingCooldown() time.Duration {
	if r.GamingCooldownMS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(r.GamingCooldownMS) * time.Millisecond
}

func (r ResourcesConfig) GamingProcessSet() []string {
	if len(r.GamingProcesses) > 0 {
		return r.GamingProcesses
	}
	return []string{"steam", "steamwebhelper", "lutris", "wine", "cs2", "dota2", "eldenring"}
}

// HealthConfig configures the health reporter.
type HealthConfig struct {
	CheckIntervalMS int              `yaml:"check_interval_ms"`
	Thresholds      HealthThresholds `yaml:"thresholds"`
}

func (h HealthConfig) CheckInterval() time.Duration {
	if h.CheckIntervalMS <= 0 {
		return 15 * time.Second
	}
	return time.Duration(h.CheckIntervalMS) * time.Millisecond
}

// HealthThresholds holds the warn/error percentage thresholds per resource.
type HealthThresholds struct {
	MemWarnPct  float64 `yaml:"mem_warn_pct"`
	MemErrPct   float64 `yaml:"mem_err_pct"`
	CPUWarnPct  float64 `yaml:"cpu_warn_pct"`
	CPUErrPct   float64 `yaml:"cpu_err_pct"`
	DiskWarnPct float64 `yaml:"disk_warn_pct"`
	DiskErrPct  float64 `yaml:"disk_err_pct"`
}

func (h HealthThresholds) WithDefaults() HealthThresholds {
	if h.MemWarnPct <= 0 {
		h.MemWarnPct = 90
	}
	if h.MemErrPct <= 0 {
		h.MemErrPct = 95
	}
	if h.CPUWarnPct <= 0 {
		h.CPUWarnPct = 95
	}
	if h.CPUErrPct <= 0 {
		h.CPUErrPct = 98
	}
	if h.DiskWarnPct <= 0 {
		h.DiskWarnPct = 95
	}
	if h.DiskErrPct <= 0 {
		h.DiskErrPct = 98
	}
	return h
}

// ConsensusConfig configures the replicated-log state machine.
type ConsensusConfig struct {
	ElectionTimeoutMinMS int  `yaml:"election_timeout_min_ms"`
	ElectionTimeoutMaxMS int  `yaml:"election_timeout_max_ms"`
	HeartbeatIntervalMS  int  `yaml:"heartbeat_interval_ms"`
	PreVoteEnabled       bool `yaml:"pre_vote_enabled"`
	SnapshotThreshold    int  `yaml:"snapshot_threshold"`
}

func (c ConsensusConfig) ElectionTimeoutRange() (time.Duration, time.Duration) {
	min, max := c.ElectionTimeoutMinMS, c.ElectionTimeoutMaxMS
	if min <= 0 {
		min = 150
	}
	if max <= 0 {
		max = 300
	}
	return time.Duration(min) * time.Millisecond, time.Duration(max) * time.Millisecond
}

func (c ConsensusConfig) HeartbeatInterval() time.Duration {
	if c.HeartbeatIntervalMS <= 0 {
		return 50 * time.Millisecond
	}
	return time.Duration(c.HeartbeatIntervalMS) * time.Millisecond
}

func (c ConsensusConfig) SnapshotThresholdOrDefault() int {
	if c.SnapshotThreshold <= 0 {
		return 10000
	}
	return c.SnapshotThreshold
}

// TransportConfig configures the gRPC transport.
type TransportConfig struct {
	MaxMessageBytes    int    `yaml:"max_message_bytes"`
	KeepaliveTimeMS    int    `yaml:"keepalive_time_ms"`
	KeepaliveTimeoutMS int    `yaml:"keepalive_timeout_ms"`
	TLSEnabled         bool   `yaml:"tls_enabled"`
	TLSCertFile        string `yaml:"tls_cert_file"`
	TLSKeyFile         string `yaml:"tls_key_file"`
	TLSTrustRootFile   string `yaml:"tls_trust_root_file"`
}

func (t TransportConfig) MaxMessageSize() int {
	if t.MaxMessageBytes <= 0 {
		return 50 * 1024 * 1024
	}
	return t.MaxMessageBytes
}

func (t TransportConfig) KeepaliveTime() time.Duration {
	if t.KeepaliveTimeMS <= 0 {
		return 10 * time.Second
	}
	return time.Duration(t.KeepaliveTimeMS) * time.Millisecond
}

func (t TransportConfig) KeepaliveTimeout() time.Duration {
	if t.KeepaliveTimeoutMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(t.KeepaliveTimeoutMS) * time.Millisecond
}

// ReportConfig configures the node-report pipeline.
type ReportConfig struct {
	IntervalMS           int `yaml:"interval_ms"`
	FailureGraceMultiple int `yaml:"failure_grace_multiple"`
}

func (r ReportConfig) Interval() time.Duration {
	if r.IntervalMS <= 0 {
		return 10 * time.Second
	}
	return time.Duration(r.IntervalMS) * time.Millisecond
}

func (r ReportConfig) FailureGrace(pollInterval time.Duration) time.Duration {
	mult := r.FailureGraceMultiple
	if mult <= 0 {
		mult = 3
	}
	return time.Duration(mult) * pollInterval
}

// TelemetryConfig contains observability settings.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // e.g., "stdout", "none"
}

// NotificationConfig describes a leader-gated messaging channel adapter.
type NotificationConfig struct {
	Type       string   `yaml:"type"`
	URL        string   `yaml:"url,omitempty"`
	Secret     string   `yaml:"secret,omitempty"`
	WebhookURL string   `yaml:"webhook_url,omitempty"`
	Events     []string `yaml:"events"`
}

// DefaultConfigDir returns the default configuration directory path.
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".cortexd"), nil
}

// Load reads the configuration from the specified path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}

// LoadDefault loads configuration from the default path.
func LoadDefault() (*Config, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return nil, err
	}
	return Load(filepath.Join(dir, "config.yaml"))
}

// Save writes the configuration to the specified path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
