package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/miott/specrun/pkg/util"
	"github.com/miott/specrun/pkg/version"
)

var verboseFlag bool

func main() {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:   "specrun",
		Short: "Declarative action-graph test execution for network devices",
		Long: `Specrun executes TestSpec documents: YAML files describing sequences of
cli, yang, sleep and timestamp actions against named devices, with
templated payloads, verification against expected results, and a timing
side-channel.

  specrun list --spec suite.yaml          # show tests in a file
  specrun validate --spec suite.yaml      # build-only check, no device I/O
  specrun run --spec suite.yaml           # run every test in the file
  specrun run --spec suite.yaml --test config-interface --var intf=g3
  specrun graph --spec suite.yaml --test config-interface > tree.dot`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verboseFlag {
				return util.SetLogLevel("debug")
			}
			return util.SetLogLevel(logLevel)
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newRunCmd(),
		newListCmd(),
		newValidateCmd(),
		newGraphCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				if version.Version == "dev" {
					fmt.Println("specrun dev build (use 'make build' for version info)")
				} else {
					fmt.Printf("specrun %s (%s)\n", version.Version, version.GitCommit)
				}
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
