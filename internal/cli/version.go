package cli

import (
	"github.com/spf13/cobra"
)

// NewVersionCommand creates the version command. It reports the version of
// the engine behind --url.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the engine version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			s, err := openSession(ctx, cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.close()

			v, err := s.db.Version(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "version failed", err)
			}
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			if rootOpts.Format == "json" {
				return out.Result(map[string]any{"version": v, "status": s.db.Status().String()})
			}
			return out.Result(v)
		},
	}
}
