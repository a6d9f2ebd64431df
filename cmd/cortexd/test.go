package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func testCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Check connectivity to this node's own daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialedClient()
			if err != nil {
				fmt.Println(errorStyle.Render(err.Error()))
				return err
			}
			defer c.Close()

			start := time.Now()
			health, err := c.GetHealth(cmd.Context())
			if err != nil {
				fmt.Println(errorStyle.Render(fmt.Sprintf("GetHealth failed: %v", err)))
				return err
			}
			healthLatency := time.Since(start)

			start = time.Now()
			if _, err := c.GetResources(cmd.Context()); err != nil {
				fmt.Println(errorStyle.Render(fmt.Sprintf("GetResources failed: %v", err)))
				return err
			}
			resourcesLatency := time.Since(start)

			fmt.Println(okStyle.Render("connected"))
			fmt.Printf("GetHealth:    %v\n", healthLatency)
			fmt.Printf("GetResources: %v\n", resourcesLatency)
			if !health.Status.Healthy {
				fmt.Println(warnStyle.Render("node reports unhealthy: " + health.Status.Message))
			}
			return nil
		},
	}
}
