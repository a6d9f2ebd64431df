package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// cordon, uncordon, and deploy belong to the workload-execution layer
// this daemon deliberately doesn't implement: it only provides
// leadership, membership, and health primitives for an external
// scheduler to consume. These subcommands exist for CLI-surface
// completeness and fail loudly rather than fake a scheduler.

func cordonCmd() *cobra.Command {
	return workloadStub("cordon [node]", "Mark a node unschedulable (workload-layer operation, not implemented here)")
}

func uncordonCmd() *cobra.Command {
	return workloadStub("uncordon [node]", "Mark a node schedulable again (workload-layer operation, not implemented here)")
}

func deployCmd() *cobra.Command {
	return workloadStub("deploy [spec]", "Deploy a workload to the cluster (workload-layer operation, not implemented here)")
}

func workloadStub(use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(errorStyle.Render(cmd.Name() + ": not implemented — this daemon provides leadership, membership, and health primitives only; workload scheduling is an external layer"))
			return fmt.Errorf("%s: out of scope", cmd.Name())
		},
	}
}
