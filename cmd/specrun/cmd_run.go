package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/miott/specrun/pkg/device"
	"github.com/miott/specrun/pkg/engine"
	"github.com/miott/specrun/pkg/graph"
	"github.com/miott/specrun/pkg/report"
	"github.com/miott/specrun/pkg/timing"
)

type runOptions struct {
	Spec      string
	Test      string
	TestID    int
	Vars      []string
	TimingDir string
	Report    string
	JUnit     string

	Adapter     string
	SSHUser     string
	SSHPassword string
	SSHKey      string
	Hosts       []string
	RedisLock   string
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute tests from a spec file",
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, loader, err := loadSpecs(opts.Spec)
			if err != nil {
				return err
			}
			selected, err := selectSpecs(specs, opts.Test, opts.TestID)
			if err != nil {
				return err
			}
			vars, err := parseVars(opts.Vars)
			if err != nil {
				return err
			}

			adapter, err := buildAdapter(&opts)
			if err != nil {
				return err
			}
			defer adapter.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			builder := graph.NewBuilder(loader)
			var results []*engine.RunResult
			for _, ts := range selected {
				tree, err := builder.Build(ts)
				if err != nil {
					return err
				}

				eng := engine.New(adapter, timing.NewRecorder(timing.NewCSVSink(opts.TimingDir)))
				eng.Progress = engine.NewConsoleProgress(verboseFlag)

				result, err := eng.Run(ctx, tree, vars)
				results = append(results, result)
				if err != nil {
					// Interrupted: report what completed, then stop.
					break
				}
			}

			gen := &report.Generator{Results: results}
			if len(results) > 1 {
				gen.Summary(os.Stdout)
			}
			if opts.Report != "" {
				if err := gen.WriteMarkdown(opts.Report); err != nil {
					return err
				}
			}
			if opts.JUnit != "" {
				if err := gen.WriteJUnit(opts.JUnit); err != nil {
					return err
				}
			}

			if code := report.ExitCode(results); code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Spec, "spec", "S", "", "spec file to run")
	cmd.Flags().StringVar(&opts.Test, "test", "", "run a single test by name")
	cmd.Flags().IntVar(&opts.TestID, "test-id", 0, "disambiguate same-named tests")
	cmd.Flags().StringArrayVar(&opts.Vars, "var", nil, "variable override name=value (repeatable)")
	cmd.Flags().StringVar(&opts.TimingDir, "timing-dir", ".", "directory for timing CSV files")
	cmd.Flags().StringVar(&opts.Report, "report", "", "Markdown report output path")
	cmd.Flags().StringVar(&opts.JUnit, "junit", "", "JUnit XML output path")
	cmd.Flags().StringVar(&opts.Adapter, "adapter", "scripted", "device adapter: ssh or scripted")
	cmd.Flags().StringVar(&opts.SSHUser, "ssh-user", "", "SSH user name")
	cmd.Flags().StringVar(&opts.SSHPassword, "ssh-password", "", "SSH password (prompts when omitted)")
	cmd.Flags().StringVar(&opts.SSHKey, "ssh-key", "", "SSH private key file")
	cmd.Flags().StringArrayVar(&opts.Hosts, "host", nil, "device address device=host:port (repeatable)")
	cmd.Flags().StringVar(&opts.RedisLock, "redis-lock", "", "Redis address for the shared device locker")

	return cmd
}

// buildAdapter assembles the device adapter stack: the transport named by
// --adapter, wrapped by the per-device serialization dispatcher, with an
// optional Redis-backed shared locker.
func buildAdapter(opts *runOptions) (device.Adapter, error) {
	var transport device.Adapter

	switch opts.Adapter {
	case "scripted":
		transport = device.NewScriptedAdapter()
	case "ssh":
		password := opts.SSHPassword
		if password == "" && opts.SSHKey == "" {
			fmt.Fprintf(os.Stderr, "password for %s: ", opts.SSHUser)
			entered, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return nil, fmt.Errorf("reading password: %w", err)
			}
			password = string(entered)
		}
		hosts, err := parseHosts(opts.Hosts)
		if err != nil {
			return nil, err
		}
		transport, err = device.NewSSHCLIAdapter(device.SSHConfig{
			User:     opts.SSHUser,
			Password: password,
			KeyFile:  opts.SSHKey,
			Hosts:    hosts,
		})
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown adapter %q (want ssh or scripted)", opts.Adapter)
	}

	var locker device.Locker
	if opts.RedisLock != "" {
		hostname, _ := os.Hostname()
		l, err := device.NewRedisLocker(opts.RedisLock, hostname+"/"+uuid.NewString())
		if err != nil {
			return nil, err
		}
		locker = l
	}

	return device.NewSerial(transport, locker), nil
}
