package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/miott/specrun/pkg/graph"
)

func newGraphCmd() *cobra.Command {
	var specPath, test, output string
	var testID int

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Export a test's action tree in Graphviz dot format",
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, loader, err := loadSpecs(specPath)
			if err != nil {
				return err
			}
			selected, err := selectSpecs(specs, test, testID)
			if err != nil {
				return err
			}
			if len(selected) != 1 {
				return fmt.Errorf("graph needs a single test; pick one with --test or --test-id")
			}

			tree, err := graph.NewBuilder(loader).Build(selected[0])
			if err != nil {
				return err
			}
			dot, err := tree.DOT()
			if err != nil {
				return err
			}

			if output != "" {
				return os.WriteFile(output, []byte(dot), 0o644)
			}
			fmt.Print(dot)
			return nil
		},
	}

	cmd.Flags().StringVarP(&specPath, "spec", "S", "", "spec file")
	cmd.Flags().StringVar(&test, "test", "", "test name")
	cmd.Flags().IntVar(&testID, "test-id", 0, "disambiguate same-named tests")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write dot to file instead of stdout")
	return cmd
}
