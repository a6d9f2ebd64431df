package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func snapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Report this node's consensus log and snapshot bookkeeping",
		Long: `Snapshotting is threshold-triggered by the consensus log length,
not remotely forced, so this only reports current state.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialedClient()
			if err != nil {
				return err
			}
			defer c.Close()

			resp, err := c.GetSnapshotInfo(cmd.Context())
			if err != nil {
				return fmt.Errorf("get snapshot info: %w", err)
			}

			if !resp.HasSnapshot {
				fmt.Println(subtleStyle.Render("no snapshot taken yet"))
			} else {
				fmt.Printf("last snapshot: index %d, term %d\n", resp.LastIncludedIndex, resp.LastIncludedTerm)
			}
			fmt.Printf("log length: %d (snapshots at %d entries)\n", resp.LogLength, resp.SnapshotThreshold)
			return nil
		},
	}
}
