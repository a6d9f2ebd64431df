package diag

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cortexhq/cortexd/internal/config"
)

func TestCheckConfigLoaded_EmptyID(t *testing.T) {
	result := checkConfigLoaded(&config.Config{})
	if result.Status != StatusFail {
		t.Errorf("expected StatusFail for empty node id, got %d", result.Status)
	}
}

func TestCheckConfigLoaded_Present(t *testing.T) {
	result := checkConfigLoaded(&config.Config{Node: config.NodeConfig{ID: "node-a"}})
	if result.Status != StatusPass {
		t.Errorf("expected StatusPass, got %d", result.Status)
	}
}

func TestCheckDataDir_EmptyPath(t *testing.T) {
	result := checkDataDir(&config.Config{})
	if result.Status != StatusFail {
		t.Errorf("expected StatusFail for empty data dir, got %d", result.Status)
	}
}

func TestCheckDataDir_Writable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	result := checkDataDir(&config.Config{Node: config.NodeConfig{DataDir: dir}})
	if result.Status != StatusPass {
		t.Errorf("expected StatusPass for writable dir, got %d (%s)", result.Status, result.Detail)
	}
}

func TestCheckMeshProbe_NotConfigured(t *testing.T) {
	result := checkMeshProbe(&config.Config{})
	if result.Status != StatusFail {
		t.Errorf("expected StatusFail with no mesh command configured, got %d", result.Status)
	}
}

// fakeMeshScript writes an executable shell script that prints a fixed
// mesh-status JSON payload, standing in for a real mesh CLI.
func fakeMeshScript(t *testing.T, json string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-mesh.sh")
	content := "#!/bin/sh\ncat <<'EOF'\n" + json + "\nEOF\n"
	if err := os.WriteFile(path, []byte(content), 0700); err != nil {
		t.Fatalf("write fake mesh script: %v", err)
	}
	return path
}

func TestCheckMeshProbe_Reachable(t *testing.T) {
	script := fakeMeshScript(t, `{"peers":[{"id":"a","self":true},{"id":"b","tags":["cortex"]}]}`)
	cfg := &config.Config{Discovery: config.DiscoveryConfig{MeshCommand: script}}

	result := checkMeshProbe(cfg)
	if result.Status != StatusPass {
		t.Fatalf("expected StatusPass, got %d (%s)", result.Status, result.Detail)
	}
}

func TestCheckMeshProbe_Unreachable(t *testing.T) {
	cfg := &config.Config{Discovery: config.DiscoveryConfig{MeshCommand: "/nonexistent/mesh-cli"}}
	result := checkMeshProbe(cfg)
	if result.Status != StatusFail {
		t.Fatalf("expected StatusFail, got %d", result.Status)
	}
}

func TestCheckPeerDiscovered_NonePresent(t *testing.T) {
	script := fakeMeshScript(t, `{"peers":[{"id":"a","self":true}]}`)
	cfg := &config.Config{Discovery: config.DiscoveryConfig{MeshCommand: script, ClusterTag: "cortex"}}

	result := checkPeerDiscovered(cfg)
	if result.Status != StatusWarn {
		t.Fatalf("expected StatusWarn with no tagged peers, got %d (%s)", result.Status, result.Detail)
	}
}

func TestCheckPeerDiscovered_TaggedPeerPresent(t *testing.T) {
	script := fakeMeshScript(t, `{"peers":[{"id":"a","self":true},{"id":"b","tags":["cortex"]}]}`)
	cfg := &config.Config{Discovery: config.DiscoveryConfig{MeshCommand: script, ClusterTag: "cortex"}}

	result := checkPeerDiscovered(cfg)
	if result.Status != StatusPass {
		t.Fatalf("expected StatusPass with a tagged peer present, got %d (%s)", result.Status, result.Detail)
	}
}

func TestRunAll_MissingConfig(t *testing.T) {
	results := RunAll(filepath.Join(t.TempDir(), "missing.yaml"))
	if len(results) != 1 || results[0].Status != StatusFail {
		t.Fatalf("expected a single failing result for a missing config file, got %+v", results)
	}
}

func TestRunAll_FullConfig(t *testing.T) {
	script := fakeMeshScript(t, `{"peers":[{"id":"a","self":true},{"id":"b","tags":["cortex"]}]}`)
	cfg := config.Config{
		Node:      config.NodeConfig{ID: "node-a", DataDir: filepath.Join(t.TempDir(), "data")},
		Discovery: config.DiscoveryConfig{MeshCommand: script, ClusterTag: "cortex"},
	}
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save config: %v", err)
	}

	results := RunAll(path)
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Status == StatusFail {
			t.Errorf("check %q unexpectedly failed: %s", r.Name, r.Detail)
		}
	}
}
