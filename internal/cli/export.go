package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/forgo/surrealembed/pkg/opt"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Output     string
	Tables     []string
	NoUsers    bool
	NoAccesses bool
	NoRecords  bool
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Dump the selected database as SurrealQL",
		Long: `Dump users, access methods, table definitions and records of the
selected database as SurrealQL that the sql command can import again.

Example:
  surreal-embedded export --url surrealkv://data.db --ns app --db main -o dump.surql
  surreal-embedded export --ns app --db main --table person --no-users`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write to this file instead of stdout")
	cmd.Flags().StringSliceVar(&opts.Tables, "table", nil, "export only these tables")
	cmd.Flags().BoolVar(&opts.NoUsers, "no-users", false, "skip DEFINE USER statements")
	cmd.Flags().BoolVar(&opts.NoAccesses, "no-accesses", false, "skip DEFINE ACCESS statements")
	cmd.Flags().BoolVar(&opts.NoRecords, "no-records", false, "skip records")

	return cmd
}

func (o *ExportOptions) selection() opt.ExportOptions {
	sel := opt.DefaultExportOptions()
	sel.Users = !o.NoUsers
	sel.Accesses = !o.NoAccesses
	sel.Records = !o.NoRecords
	if len(o.Tables) > 0 {
		sel.Tables = opt.SomeTargets(o.Tables...)
	}
	return sel
}

func runExport(cmd *cobra.Command, opts *ExportOptions) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	s, err := openSession(ctx, cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.close()

	dump, err := s.db.Export(ctx, opts.selection())
	if err != nil {
		return WrapExitError(ExitFailure, "export failed", err)
	}

	var w io.Writer = cmd.OutOrStdout()
	if opts.Output != "" {
		f, err := os.Create(opts.Output)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to create output", err)
		}
		defer func() { _ = f.Close() }()
		w = f
	}
	if _, err := fmt.Fprint(w, dump); err != nil {
		return WrapExitError(ExitFailure, "failed to write export", err)
	}
	return nil
}
