package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

// SQLOptions holds flags for the sql command.
type SQLOptions struct {
	*RootOptions
	Vars map[string]string
}

// NewSQLCommand creates the sql command.
func NewSQLCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SQLOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sql [statements...]",
		Short: "Run SurrealQL statements",
		Long: `Run SurrealQL statements and print the result of each one.

Statements are read from the arguments, or from stdin when there are none.

Example:
  surreal-embedded sql --ns app --db main "CREATE person:1 SET name = 'a'"
  surreal-embedded sql --url surrealkv://data.db --ns app --db main < seed.surql`,
		RunE: func(cmd *cobra.Command, args []string) error {
			src := strings.Join(args, ";\n")
			if len(args) == 0 {
				raw, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to read stdin", err)
				}
				src = string(raw)
			}
			return runSQL(cmd, opts, src)
		},
	}

	cmd.Flags().StringToStringVar(&opts.Vars, "var", nil, "query parameter as name=value, repeatable")

	return cmd
}

func runSQL(cmd *cobra.Command, opts *SQLOptions, src string) error {
	if strings.TrimSpace(src) == "" {
		return NewExitError(ExitCommandError, "no statements given")
	}
	ctx, stop := signalContext(cmd)
	defer stop()

	s, err := openSession(ctx, cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.close()

	var vars map[string]any
	if len(opts.Vars) > 0 {
		vars = make(map[string]any, len(opts.Vars))
		for k, v := range opts.Vars {
			vars[k] = v
		}
	}
	results, err := s.db.Query(ctx, src, vars)
	if err != nil {
		return WrapExitError(ExitFailure, "query failed", err)
	}
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Results(results)
}

// signalContext cancels the command context on interrupt.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
