package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rescale/chunkvault/internal/crypto" // package name is 'encryption'
)

func newKeygenCmd() *cobra.Command {
	var version int
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Print a new random object key",
		Long: `Print a new random object key.

Version 2 keys are 32 alphanumeric characters; version 3 keys are 64 hex
characters encoding a raw 256-bit key.`,
		Args:              cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			v := encryption.Version(version)
			if v != encryption.Version2 && v != encryption.Version3 {
				return fmt.Errorf("unsupported key version %d", version)
			}
			key, err := encryption.GenerateKey(v)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
	cmd.Flags().IntVar(&version, "key-version", int(encryption.CurrentVersion), "Key version: 2 or 3")
	return cmd
}
