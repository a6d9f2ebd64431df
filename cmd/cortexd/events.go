package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func eventsCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Stream join/leave/leader-change events by polling cluster state",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialedClient()
			if err != nil {
				return err
			}
			defer c.Close()

			prevStatus := map[string]string{}
			prevLeader := ""
			first := true

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				state, err := c.GetClusterState(cmd.Context())
				if err != nil {
					fmt.Println(errorStyle.Render(err.Error()))
				} else {
					if !first && state.LeaderID != prevLeader {
						fmt.Printf("%s leader changed: %s -> %s\n", timestamp(), prevLeader, leaderBadgeStyle.Render(state.LeaderID))
					}
					prevLeader = state.LeaderID

					seen := map[string]bool{}
					for _, n := range state.Nodes {
						seen[n.NodeID] = true
						if prev, ok := prevStatus[n.NodeID]; !first && (!ok || prev != n.Status) {
							fmt.Printf("%s %s: %s -> %s\n", timestamp(), n.NodeID, prev, n.Status)
						}
						prevStatus[n.NodeID] = n.Status
					}
					for id := range prevStatus {
						if !seen[id] {
							fmt.Printf("%s %s: removed from roster\n", timestamp(), id)
							delete(prevStatus, id)
						}
					}
					first = false
				}

				select {
				case <-cmd.Context().Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 3*time.Second, "Polling interval")
	return cmd
}

func timestamp() string {
	return subtleStyle.Render(time.Now().Format("15:04:05"))
}
