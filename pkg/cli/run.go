package cli

import (
	"time"

	"github.com/spf13/cobra"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Entry   string
	Timeout time.Duration
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Run a script headlessly until its threads finish",
		Long: `Run a script with the built-in host functions and a frame loop.

Functions listed in the host manifest but not built in are stubbed: calls are
logged and return nothing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("timeout") {
				opts.Config.Runtime.Timeout.Duration = opts.Timeout
			}
			a, err := newApp(opts.RootOptions, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.LoadScript(args[0])
			if err != nil {
				return err
			}
			return a.Run(cmd.Context(), s, opts.Entry)
		},
	}

	cmd.Flags().StringVarP(&opts.Entry, "entry", "e", "", "entry function (default: first function)")
	cmd.Flags().DurationVarP(&opts.Timeout, "timeout", "t", 0, "stop after this long (0 waits forever)")

	return cmd
}
