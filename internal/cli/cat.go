package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	cloudtransfer "github.com/rescale/chunkvault/internal/cloud/transfer"
)

func newCatCmd() *cobra.Command {
	var object objectFlags
	cmd := &cobra.Command{
		Use:   "cat [ID]",
		Short: "Stream a decrypted object to stdout",
		Long: `Stream a decrypted object, or a byte range of it, to stdout.

Bytes are written as soon as each chunk in order has been fetched and
decrypted. A failed chunk ends the stream with an error.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCat(cmd.Context(), args, &object, cmd.OutOrStdout())
		},
	}
	object.register(cmd)
	return cmd
}

func runCat(ctx context.Context, args []string, object *objectFlags, out io.Writer) error {
	req, _, err := object.request(args)
	if err != nil {
		return err
	}

	b, err := openBackend(ctx)
	if err != nil {
		return err
	}
	mgr := CreateResourceManager()
	defer mgr.Shutdown()

	downloader := cloudtransfer.NewDownloader(b, mgr.DownloadPools(), cloudtransfer.WithDownloadLogger(GetLogger()))
	stream, err := downloader.Download(ctx, req)
	if err != nil {
		return err
	}
	defer stream.Close()

	n, err := io.Copy(out, stream)
	if err != nil {
		return fmt.Errorf("stream ended after %d bytes: %w", n, err)
	}
	return nil
}
