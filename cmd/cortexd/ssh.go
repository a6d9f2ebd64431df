package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/cortexhq/cortexd/internal/wire"
	"github.com/spf13/cobra"
)

func sshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ssh <node>",
		Short: "Shell into a cluster node over its mesh IP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialedClient()
			if err != nil {
				return err
			}
			defer c.Close()

			resp, err := c.ListNodes(cmd.Context())
			if err != nil {
				return fmt.Errorf("list nodes: %w", err)
			}

			target, ok := findNode(resp.Nodes, args[0])
			if !ok {
				return fmt.Errorf("no node named %q in the cluster", args[0])
			}
			if target.MeshIP == "" {
				return fmt.Errorf("node %q has no known mesh IP", args[0])
			}

			sshPath, err := exec.LookPath("ssh")
			if err != nil {
				return fmt.Errorf("ssh binary not found in PATH: %w", err)
			}

			c.Close()
			sshCmd := exec.Command(sshPath, target.MeshIP)
			sshCmd.Stdin, sshCmd.Stdout, sshCmd.Stderr = os.Stdin, os.Stdout, os.Stderr
			return sshCmd.Run()
		},
	}
}

func findNode(nodes []wire.NodeInfoWire, name string) (wire.NodeInfoWire, bool) {
	for _, n := range nodes {
		if n.NodeID == name || n.Hostname == name {
			return n, true
		}
	}
	return wire.NodeInfoWire{}, false
}
