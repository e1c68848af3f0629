package main

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/miott/specrun/pkg/cli"
)

func newListCmd() *cobra.Command {
	var specPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tests in a spec file",
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, _, err := loadSpecs(specPath)
			if err != nil {
				return err
			}

			table := cli.NewTable("TEST", "ID", "DEVICES", "ACTIONS")
			for _, ts := range specs {
				table.Row(ts.Name,
					strconv.Itoa(ts.TestID),
					strings.Join(ts.Devices, ","),
					strconv.Itoa(len(ts.Actions)))
			}
			table.Flush()
			return nil
		},
	}

	cmd.Flags().StringVarP(&specPath, "spec", "S", "", "spec file to list")
	return cmd
}
