package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func tasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List active tasks reported by this node's health check",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialedClient()
			if err != nil {
				return err
			}
			defer c.Close()

			resp, err := c.GetHealth(cmd.Context())
			if err != nil {
				return fmt.Errorf("get health: %w", err)
			}
			if len(resp.Status.ActiveTasks) == 0 {
				fmt.Println(subtleStyle.Render("no active tasks"))
				return nil
			}
			for _, t := range resp.Status.ActiveTasks {
				fmt.Println(t)
			}
			return nil
		},
	}
}
