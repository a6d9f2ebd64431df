package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func drainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drain [node]",
		Short: "Mark a node draining so it stops receiving new placement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialedClient()
			if err != nil {
				return err
			}
			defer c.Close()

			resp, err := c.DrainNode(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("drain node: %w", err)
			}
			if !resp.Success {
				fmt.Println(errorStyle.Render(resp.Error))
				return fmt.Errorf("drain failed")
			}
			fmt.Println(okStyle.Render(fmt.Sprintf("%s is draining", args[0])))
			return nil
		},
	}
}
