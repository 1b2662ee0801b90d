// Package cli implements the sheep command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kromenak/gengine-sub002/pkg/app"
	"github.com/kromenak/gengine-sub002/pkg/config"
	"github.com/kromenak/gengine-sub002/pkg/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
	Hosts      string

	// Config is loaded before any subcommand runs.
	Config *config.Config
}

// NewRootCommand creates the root command for the sheep CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "sheep",
		Short: "Sheep script compiler and runner",
		Long: `Compile, inspect and run Sheep scripts.

Settings come from a TOML config file, then SHEEP_LOG_LEVEL and SHEEP_TIMEOUT,
then flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (TOML)")
	cmd.PersistentFlags().StringVarP(&opts.LogLevel, "log-level", "l", "", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.Hosts, "hosts", "", "host function manifest (YAML)")

	cmd.AddCommand(NewCompileCommand(opts))
	cmd.AddCommand(NewDisasmCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewEvalCommand(opts))

	return cmd
}

func (opts *RootOptions) load(cmd *cobra.Command) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.Hosts != "" {
		cfg.Hosts.Manifest = opts.Hosts
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := logger.InitLoggerTo(cmd.ErrOrStderr(), cfg.Log.Level); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	opts.Config = cfg
	return nil
}

// newApp sets up an application writing script output to the command's stdout.
func newApp(opts *RootOptions, cmd *cobra.Command) (*app.Application, error) {
	a := app.New(opts.Config, cmd.OutOrStdout())
	if err := a.Setup(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}
