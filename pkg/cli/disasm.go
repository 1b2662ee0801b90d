package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kromenak/gengine-sub002/pkg/bytecode"
)

// NewDisasmCommand creates the disasm command.
func NewDisasmCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "disasm <file>",
		Short: "Print the disassembly of a source or compiled script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.LoadScript(args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), bytecode.Disassemble(s))
			return nil
		},
	}
}
