package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rescale/chunkvault/internal/crypto" // package name is 'encryption'
)

func newMetaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meta",
		Short: "Encrypt and decrypt metadata envelopes",
		// Metadata commands never touch storage.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	}
	cmd.AddCommand(newMetaEncryptCmd())
	cmd.AddCommand(newMetaDecryptCmd())
	return cmd
}

func newMetaEncryptCmd() *cobra.Command {
	var key string
	var raw bool
	cmd := &cobra.Command{
		Use:   "encrypt TEXT",
		Short: "Encrypt TEXT into a versioned envelope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := resolveKey(key)
			if err != nil {
				return err
			}
			envelope, err := encryption.EncryptMetadata(args[0], k, !raw)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), envelope)
			return nil
		},
	}
	cmd.Flags().StringVarP(&key, "key", "k", "", "Encryption key ('-' prompts)")
	cmd.Flags().BoolVar(&raw, "raw", false, "Use a 32-byte version 2 key as is instead of deriving one")
	cmd.MarkFlagRequired("key")
	return cmd
}

type metaDecryptOptions struct {
	keys     []string
	raw      bool
	jsonOnly bool
}

func newMetaDecryptCmd() *cobra.Command {
	var opts metaDecryptOptions
	cmd := &cobra.Command{
		Use:   "decrypt ENVELOPE",
		Short: "Decrypt an envelope with one or more candidate keys",
		Long: `Decrypt an envelope with one or more candidate keys.

With several --key flags every key is tried and the first one, in flag
order, that decrypts the envelope wins. --json additionally requires the
plaintext to be a JSON object, which rejects accidental matches.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMetaDecrypt(args[0], opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringArrayVarP(&opts.keys, "key", "k", nil, "Candidate key, repeatable ('-' prompts)")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "The envelope was sealed with a raw version 2 key")
	cmd.Flags().BoolVar(&opts.jsonOnly, "json", false, "Only accept plaintexts that are JSON objects")
	cmd.MarkFlagRequired("key")
	return cmd
}

func runMetaDecrypt(envelope string, opts metaDecryptOptions, out, errOut io.Writer) error {
	keys := make([]string, 0, len(opts.keys))
	for _, k := range opts.keys {
		resolved, err := resolveKey(k)
		if err != nil {
			return err
		}
		keys = append(keys, resolved)
	}
	if len(keys) == 0 {
		return errors.New("at least one --key is required")
	}
	envelope = strings.TrimSpace(envelope)

	if opts.raw {
		if len(keys) != 1 {
			return errors.New("--raw takes exactly one key")
		}
		plain, err := encryption.DecryptMetadataRawKey(envelope, keys[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(out, plain)
		return nil
	}

	var accept encryption.AcceptFunc
	if opts.jsonOnly {
		accept = encryption.AcceptJSON
	}
	var (
		plain string
		index int
		err   error
	)
	if len(keys) == 1 {
		plain, index, err = encryption.TryDecryptMetadata(envelope, keys, accept)
	} else {
		plain, index, err = encryption.TryDecryptMetadataParallel(envelope, keys, accept)
	}
	if err != nil {
		return err
	}
	if len(keys) > 1 {
		fmt.Fprintf(errOut, "matched key %d of %d\n", index+1, len(keys))
	}
	fmt.Fprintln(out, plain)
	return nil
}
