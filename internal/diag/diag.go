// Package diag implements the preflight checks behind `cortex diag`:
// config present and parseable, the persistence directory writable,
// the mesh control-plane probe reachable, and at least one cluster
// peer visible on the mesh. Every check runs independently and never
// panics; a failing check is reported, not fatal to the others.
package diag

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cortexhq/cortexd/internal/config"
	"github.com/cortexhq/cortexd/internal/discovery"
)

// Status is the outcome of a single check.
type Status int

const (
	StatusPass Status = iota
	StatusWarn
	StatusFail
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// Result holds the outcome of a single check.
type Result struct {
	Name   string
	Status Status
	Detail string
	Fix    string
}

// RunAll executes every check against the config at cfgPath and
// returns one Result per check, in a stable order.
func RunAll(cfgPath string) []Result {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return []Result{{
			Name:   "Configuration",
			Status: StatusFail,
			Detail: err.Error(),
			Fix:    fmt.Sprintf("Run: cortex config init --path %s", cfgPath),
		}}
	}

	checks := []func(*config.Config) Result{
		checkConfigLoaded,
		checkDataDir,
		checkMeshProbe,
		checkPeerDiscovered,
	}

	results := make([]Result, 0, len(checks)+1)
	results = append(results, Result{
		Name:   "Configuration",
		Status: StatusPass,
		Detail: cfgPath,
	})
	for _, check := range checks {
		results = append(results, check(cfg))
	}
	return results
}

func checkConfigLoaded(cfg *config.Config) Result {
	if cfg.Node.ID == "" {
		return Result{
			Name:   "Node identity",
			Status: StatusFail,
			Detail: "node.id is empty",
			Fix:    "Set node.id in the config file",
		}
	}
	return Result{
		Name:   "Node identity",
		Status: StatusPass,
		Detail: cfg.Node.ID,
	}
}

func checkDataDir(cfg *config.Config) Result {
	dir := cfg.Node.DataDir
	if dir == "" {
		return Result{
			Name:   "Persistence directory",
			Status: StatusFail,
			Detail: "node.data_dir is empty",
			Fix:    "Set node.data_dir in the config file",
		}
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return Result{
			Name:   "Persistence directory",
			Status: StatusFail,
			Detail: fmt.Sprintf("cannot create %s: %v", dir, err),
			Fix:    "Check permissions on the parent directory",
		}
	}
	probe := filepath.Join(dir, ".diag-write-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0600); err != nil {
		return Result{
			Name:   "Persistence directory",
			Status: StatusFail,
			Detail: fmt.Sprintf("%s is not writable: %v", dir, err),
			Fix:    "Check permissions on node.data_dir",
		}
	}
	_ = os.Remove(probe)
	return Result{
		Name:   "Persistence directory",
		Status: StatusPass,
		Detail: dir,
	}
}

func checkMeshProbe(cfg *config.Config) Result {
	if cfg.Discovery.MeshCommand == "" {
		return Result{
			Name:   "Mesh probe",
			Status: StatusFail,
			Detail: "discovery.mesh_command is empty",
			Fix:    "Set discovery.mesh_command (e.g. tailscale) in the config file",
		}
	}
	view, err := (discovery.CLIQuerier{Command: cfg.Discovery.MeshCommand, Args: cfg.Discovery.MeshArgs}).Query()
	if err != nil {
		return Result{
			Name:   "Mesh probe",
			Status: StatusFail,
			Detail: err.Error(),
			Fix:    fmt.Sprintf("Ensure %q is installed and the mesh client is logged in", cfg.Discovery.MeshCommand),
		}
	}
	return Result{
		Name:   "Mesh probe",
		Status: StatusPass,
		Detail: fmt.Sprintf("%s reports %d peer(s)", cfg.Discovery.MeshCommand, len(view.Peers)),
	}
}

func checkPeerDiscovered(cfg *config.Config) Result {
	if cfg.Discovery.MeshCommand == "" {
		return Result{
			Name:   "Cluster peers",
			Status: StatusWarn,
			Detail: "mesh probe not configured, cannot check",
		}
	}
	view, err := (discovery.CLIQuerier{Command: cfg.Discovery.MeshCommand, Args: cfg.Discovery.MeshArgs}).Query()
	if err != nil {
		return Result{
			Name:   "Cluster peers",
			Status: StatusWarn,
			Detail: "mesh probe unreachable, cannot check",
		}
	}
	count := 0
	for _, p := range view.Peers {
		if p.Self {
			continue
		}
		if !hasTag(p.Tags, cfg.Discovery.ClusterTag) {
			continue
		}
		count++
	}
	if count == 0 {
		return Result{
			Name:   "Cluster peers",
			Status: StatusWarn,
			Detail: fmt.Sprintf("no peers tagged %q visible yet", cfg.Discovery.ClusterTag),
			Fix:    "Join another node to the mesh with the same cluster tag",
		}
	}
	return Result{
		Name:   "Cluster peers",
		Status: StatusPass,
		Detail: fmt.Sprintf("%d peer(s) tagged %q", count, cfg.Discovery.ClusterTag),
	}
}

func hasTag(tags []string, want string) bool {
	if want == "" {
		return true
	}
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}
