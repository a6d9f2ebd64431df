package main

import (
	"fmt"

	"github.com/cortexhq/cortexd/internal/wire"
	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show cluster leadership, membership, and capacity",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialedClient()
			if err != nil {
				return err
			}
			defer c.Close()

			state, err := c.GetClusterState(cmd.Context())
			if err != nil {
				return fmt.Errorf("get cluster state: %w", err)
			}
			printClusterState(state)
			return nil
		},
	}
}

func printClusterState(state *wire.GetClusterStateResponse) {
	fmt.Println(titleStyle.Render(fmt.Sprintf(" %s ", state.ClusterID)))
	fmt.Printf("term %d, leader %s\n\n", state.Term, leaderBadgeStyle.Render(state.LeaderID))

	fmt.Printf("%-16s %-10s %-10s %-22s %s\n", "NODE", "ROLE", "STATUS", "ENDPOINT", "MESH IP")
	for _, n := range state.Nodes {
		role := n.Role
		if n.NodeID == state.LeaderID {
			role = leaderBadgeStyle.Render(role + " (leader)")
		}
		fmt.Printf("%-16s %-10s %-10s %-22s %s\n", n.NodeID, role, statusLabel(n.Status), n.GRPCEndpoint, n.MeshIP)
	}

	fmt.Println()
	fmt.Printf("capacity: %d/%d CPU cores, %s/%s memory, %d/%d GPUs (%s/%s GPU mem)\n",
		state.AvailCPUCores, state.TotalCPUCores,
		formatGiB(state.AvailMemoryBytes), formatGiB(state.TotalMemoryBytes),
		state.AvailGPUCount, state.TotalGPUCount,
		formatGiB(state.AvailGPUMemBytes), formatGiB(state.TotalGPUMemBytes))
	fmt.Printf("tasks: %d active, %d queued\n", state.ActiveTasks, state.QueuedTasks)
}

func statusLabel(s string) string {
	switch s {
	case "active":
		return okStyle.Render(s)
	case "draining", "pending":
		return warnStyle.Render(s)
	case "gone":
		return errorStyle.Render(s)
	default:
		return subtleStyle.Render(s)
	}
}

func formatGiB(bytes uint64) string {
	return fmt.Sprintf("%.1fGiB", float64(bytes)/(1<<30))
}
