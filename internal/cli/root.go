// Package cli implements the surreal-embedded command line.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath  string
	LogLevel    string
	Format      string // "json" | "text"
	URL         string
	Namespace   string
	Database    string
	Strict      bool
	MetricsAddr string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "surreal-embedded",
		Short: "Run SurrealQL against an embedded or remote engine",
		Long: `surreal-embedded opens a SurrealDB engine in-process (mem://,
surrealkv://, surrealkv+versioned://) or relays to a server (ws://, http://)
and runs statements, exports or key generation against it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	flags.StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.URL, "url", "", "engine url, e.g. mem:// or surrealkv://data.db")
	flags.StringVar(&opts.Namespace, "ns", "", "namespace to use")
	flags.StringVar(&opts.Database, "db", "", "database to use")
	flags.BoolVar(&opts.Strict, "strict", false, "require namespaces, databases and tables to be defined")
	flags.StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	cmd.AddCommand(NewSQLCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))
	cmd.AddCommand(NewKeygenCommand(opts))

	return cmd
}
