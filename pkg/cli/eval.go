package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// EvalOptions holds flags for the eval command.
type EvalOptions struct {
	*RootOptions
	N int32
	V int32
}

// NewEvalCommand creates the eval command.
func NewEvalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EvalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "eval <expression>",
		Short: "Evaluate a condition expression",
		Long: `Compile and evaluate a single int expression, printing true or false.

The expression may read n$ and v$, set with --n and --v.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts.RootOptions, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			m := a.Manager()
			s, err := m.CompileEvaluate(args[0])
			if err != nil {
				return err
			}
			ok, err := m.Evaluate(s, opts.N, opts.V)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ok)
			return nil
		},
	}

	cmd.Flags().Int32Var(&opts.N, "n", 0, "value of n$")
	cmd.Flags().Int32Var(&opts.V, "v", 0, "value of v$")

	return cmd
}
