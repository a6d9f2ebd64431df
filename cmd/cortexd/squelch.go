package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func squelchCmd() *cobra.Command {
	var off bool

	cmd := &cobra.Command{
		Use:   "squelch",
		Short: "Silence this node's outbound alert notifications (use --off to resume)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialedClient()
			if err != nil {
				return err
			}
			defer c.Close()

			resp, err := c.SetSquelch(cmd.Context(), !off)
			if err != nil {
				return fmt.Errorf("set squelch: %w", err)
			}
			if resp.Squelched {
				fmt.Println(warnStyle.Render("squelched: outbound notifications disabled on this node"))
			} else {
				fmt.Println(okStyle.Render("unsquelched: outbound notifications resumed"))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&off, "off", false, "Resume outbound notifications instead of silencing them")
	return cmd
}
