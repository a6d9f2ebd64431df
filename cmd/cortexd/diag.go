package main

import (
	"fmt"

	"github.com/cortexhq/cortexd/internal/diag"
	"github.com/spf13/cobra"
)

func diagCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diag",
		Short: "Run preflight checks against the config and mesh",
		RunE: func(cmd *cobra.Command, args []string) error {
			results := diag.RunAll(cfgPath)

			failed := false
			for _, r := range results {
				var icon, line string
				switch r.Status {
				case diag.StatusPass:
					icon = okStyle.Render("[PASS]")
				case diag.StatusWarn:
					icon = warnStyle.Render("[WARN]")
				case diag.StatusFail:
					icon = errorStyle.Render("[FAIL]")
					failed = true
				}
				line = fmt.Sprintf("%s %-24s %s", icon, r.Name, r.Detail)
				fmt.Println(line)
				if r.Status == diag.StatusFail && r.Fix != "" {
					fmt.Println(subtleStyle.Render("       fix: " + r.Fix))
				}
			}

			if failed {
				return fmt.Errorf("one or more checks failed")
			}
			return nil
		},
	}
}
