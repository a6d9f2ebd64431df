package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cortexhq/cortexd/internal/config"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the cortexd config file",
	}
	cmd.AddCommand(configInitCmd())
	cmd.AddCommand(configShowCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var hostname, meshIP, grpcEndpoint, dataDir, clusterTag string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file for this node",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", cfgPath)
			}

			if hostname == "" {
				h, err := os.Hostname()
				if err != nil {
					h = "cortexd-node"
				}
				hostname = h
			}
			if dataDir == "" {
				dir, err := config.DefaultConfigDir()
				if err != nil {
					return err
				}
				dataDir = filepath.Join(dir, "data")
			}

			cfg := &config.Config{
				Version: "1",
				Node: config.NodeConfig{
					ID:           uuid.NewString(),
					Hostname:     hostname,
					MeshIP:       meshIP,
					Role:         "voter",
					GRPCEndpoint: grpcEndpoint,
					DataDir:      dataDir,
				},
				Discovery: config.DiscoveryConfig{
					ClusterTag:  clusterTag,
					MeshCommand: "tailscale",
					MeshArgs:    []string{"status", "--json"},
				},
			}

			if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
				return fmt.Errorf("create config directory: %w", err)
			}
			if err := cfg.Save(cfgPath); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			fmt.Println(okStyle.Render("wrote " + cfgPath))
			fmt.Printf("node id:  %s\n", cfg.Node.ID)
			fmt.Printf("data dir: %s\n", cfg.Node.DataDir)
			return nil
		},
	}

	cmd.Flags().StringVar(&hostname, "hostname", "", "Node hostname (default: OS hostname)")
	cmd.Flags().StringVar(&meshIP, "mesh-ip", "", "This node's mesh-VPN IP")
	cmd.Flags().StringVar(&grpcEndpoint, "grpc-endpoint", "0.0.0.0:7300", "Address the daemon listens on")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Persistence directory (default: under the config dir)")
	cmd.Flags().StringVar(&clusterTag, "cluster-tag", "cortexd", "Mesh tag identifying cluster peers")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved config file path and its contents",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(cfgPath)
			if err != nil {
				return fmt.Errorf("read %s: %w", cfgPath, err)
			}
			fmt.Println(subtleStyle.Render(cfgPath))
			fmt.Print(string(data))
			return nil
		},
	}
}
