package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func switchLeaderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "switch-leader [node]",
		Short: "Transfer leadership to another node, or step down with no argument",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var target string
			if len(args) == 1 {
				target = args[0]
			}

			c, err := dialedClient()
			if err != nil {
				return err
			}
			defer c.Close()

			resp, err := c.TransferLeadership(cmd.Context(), target)
			if err != nil {
				return fmt.Errorf("transfer leadership: %w", err)
			}
			if !resp.Success {
				fmt.Println(errorStyle.Render(resp.Message))
				return fmt.Errorf("leadership transfer failed")
			}
			fmt.Println(okStyle.Render(resp.Message))
			return nil
		},
	}
}
