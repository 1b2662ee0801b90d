package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kromenak/gengine-sub002/pkg/bytecode"
	"github.com/kromenak/gengine-sub002/pkg/script"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string
	Cache  string
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <file>",
		Short: "Compile a script to a binary asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file (default <name>.compiled"+script.Extension+")")
	cmd.Flags().StringVar(&opts.Cache, "cache", "", "compiled script cache (SQLite)")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	if opts.Cache != "" {
		opts.Config.Cache.Path = opts.Cache
	}
	a, err := newApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.LoadScript(path)
	if err != nil {
		return err
	}
	data, err := bytecode.Marshal(s)
	if err != nil {
		return err
	}

	out := opts.Output
	if out == "" {
		out = strings.TrimSuffix(path, filepath.Ext(path)) + ".compiled" + script.Extension
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "compiled %s: %d function(s), %d variable(s), %d code bytes -> %s\n",
		s.Name, len(s.Functions), len(s.Variables), len(s.Code), out)
	return nil
}
