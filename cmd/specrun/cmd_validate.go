package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/miott/specrun/pkg/cli"
	"github.com/miott/specrun/pkg/graph"
)

func newValidateCmd() *cobra.Command {
	var specPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Build-check every test in a spec file without touching devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, loader, err := loadSpecs(specPath)
			if err != nil {
				return err
			}

			builder := graph.NewBuilder(loader)
			failures := 0
			for _, ts := range specs {
				if err := builder.Validate(ts); err != nil {
					failures++
					fmt.Printf("  %s %s: %v\n", cli.Red("FAIL"), ts.Name, err)
					continue
				}
				fmt.Printf("  %s %s\n", cli.Green("OK"), ts.Name)
			}
			if failures > 0 {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&specPath, "spec", "S", "", "spec file to validate")
	return cmd
}
