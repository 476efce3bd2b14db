package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/forgo/surrealembed/pkg/jwt"
)

// KeygenOptions holds flags for the keygen command.
type KeygenOptions struct {
	*RootOptions
	PrivateKey string
	PublicKey  string
}

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &KeygenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an RSA key pair for signing session tokens",
		Long: `Generate an RSA key pair. Point token.private_key_path (or
TOKEN_PRIVATE_KEY_PATH) at the private key so session tokens survive restarts.

Example:
  surreal-embedded keygen --private keys/private.pem --public keys/public.pem`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeygen(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.PrivateKey, "private", "./keys/private.pem", "path to write the private key")
	cmd.Flags().StringVar(&opts.PublicKey, "public", "./keys/public.pem", "path to write the public key")

	return cmd
}

func runKeygen(cmd *cobra.Command, opts *KeygenOptions) error {
	for _, path := range []string{opts.PrivateKey, opts.PublicKey} {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return WrapExitError(ExitCommandError, "failed to create key directory", err)
		}
	}
	if err := jwt.GenerateKeyPair(opts.PrivateKey, opts.PublicKey); err != nil {
		return WrapExitError(ExitCommandError, "failed to generate keys", err)
	}
	// Load the pair back to check it.
	if _, err := jwt.NewService(jwt.Config{PrivateKeyPath: opts.PrivateKey, PublicKeyPath: opts.PublicKey}); err != nil {
		return WrapExitError(ExitFailure, "generated keys do not load", err)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		return out.Result(map[string]string{"private_key": opts.PrivateKey, "public_key": opts.PublicKey})
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "private key: %s\npublic key:  %s\n", opts.PrivateKey, opts.PublicKey)
	return err
}
