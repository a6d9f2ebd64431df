package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigDir(t *testing.T) {
	dir, err := DefaultConfigDir()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dir == "" {
		t.Fatal("expected non-empty directory")
	}
	if filepath.Base(dir) != ".cortexd" {
		t.Errorf("expected dir ending in .cortexd, got %s", dir)
	}
}

func TestLoadSave(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "config.yaml")

	cfg := &Config{
		Version: "0.1.0",
		Node: NodeConfig{
			ID:           "node-1",
			Hostname:     "lab-01",
			Role:         "voter",
			GRPCEndpoint: "lab-01:7946",
		},
		Discovery: DiscoveryConfig{
			PollIntervalMS: 15000,
			ClusterTag:     "tag:cortex",
			MeshCommand:    "tailscale",
		},
		Consensus: ConsensusConfig{
			ElectionTimeoutMinMS: 150,
			ElectionTimeoutMaxMS: 300,
			HeartbeatIntervalMS:  50,
		},
		Telemetry: TelemetryConfig{
			Enabled:  true,
			Exporter: "stdout",
		},
	}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("save error: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}

	if loaded.Version != "0.1.0" {
		t.Errorf("expected version '0.1.0', got '%s'", loaded.Version)
	}
	if loaded.Node.ID != "node-1" {
		t.Errorf("expected node id 'node-1', got '%s'", loaded.Node.ID)
	}
	if loaded.Discovery.ClusterTag != "tag:cortex" {
		t.Errorf("expected cluster tag 'tag:cortex', got '%s'", loaded.Discovery.ClusterTag)
	}
	if loaded.Consensus.ElectionTimeoutMinMS != 150 {
		t.Errorf("expected election timeout min 150, got %d", loaded.Consensus.ElectionTimeoutMinMS)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for nonexistent file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "bad.yaml")
	// Use a truly unparseable YAML structure (tab in flow context)
	os.WriteFile(path, []byte("{\t\x00invalid}"), 0600)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid yaml")
	}
}

func TestSave_Permissions(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "config.yaml")

	cfg := &Config{Version: "1.0"}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat error: %v", err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("expected file mode 0600, got %o", perm)
	}
}

func TestConfig_Notifications(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "config.yaml")

	cfg := &Config{
		Version: "0.1.0",
		Notifications: []NotificationConfig{
			{Type: "webhook", URL: "https://hook.example.com", Events: []string{"leader_change"}},
			{Type: "slack", WebhookURL: "https://hooks.slack.com/services/xxx", Events: []string{"node_offline"}},
		},
	}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("save error: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}

	if len(loaded.Notifications) != 2 {
		t.Errorf("expected 2 notifications, got %d", len(loaded.Notifications))
	}
	if loaded.Notifications[0].Type != "webhook" {
		t.Errorf("expected type 'webhook', got '%s'", loaded.Notifications[0].Type)
	}
}

func TestHealthThresholds_WithDefaults(t *testing.T) {
	th := HealthThresholds{}.WithDefaults()
	if th.MemWarnPct != 90 || th.MemErrPct != 95 {
		t.Errorf("unexpected memory thresholds: %+v", th)
	}
	if th.CPUWarnPct != 95 || th.CPUErrPct != 98 {
		t.Errorf("unexpected cpu thresholds: %+v", th)
	}
	if th.DiskWarnPct != 95 || th.DiskErrPct != 98 {
		t.Errorf("unexpected disk thresholds: %+v", th)
	}
}
