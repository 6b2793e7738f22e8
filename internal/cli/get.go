package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	cloudtransfer "github.com/rescale/chunkvault/internal/cloud/transfer"
	"github.com/rescale/chunkvault/internal/pathutil"
	"github.com/rescale/chunkvault/internal/progress"
	"github.com/rescale/chunkvault/internal/validation"
)

type getOptions struct {
	object objectFlags
	output string
	force  bool
}

func newGetCmd() *cobra.Command {
	var opts getOptions
	cmd := &cobra.Command{
		Use:   "get [ID]",
		Short: "Download and decrypt an object to a file",
		Long: `Download and decrypt an object to a file.

The object is identified by ID, key and chunk count, either through flags
or through a descriptor file written by 'put --json'. The file only
appears once the whole download has succeeded.`,
		Example: `  chunkvault get 0b9c... --key - --chunks 12 --size 11534336 -o data.bin
  chunkvault get --descriptor data.json --range 0-1023 -o head.bin`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd.Context(), args, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	opts.object.register(cmd)
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Destination path (defaults to the object name in the current directory)")
	cmd.Flags().BoolVarP(&opts.force, "force", "f", false, "Overwrite an existing file without asking")
	return cmd
}

func runGet(ctx context.Context, args []string, opts getOptions, in io.Reader, out io.Writer) error {
	req, name, err := opts.object.request(args)
	if err != nil {
		return err
	}

	// name comes from a descriptor and may not be a safe file name.
	if err := validation.ValidateName(name); err != nil {
		GetLogger().Warn().Err(err).Str("object", req.ObjectID).Msg("unusable object name, saving under the object ID")
		name = req.ObjectID
	}
	target := opts.output
	if target == "" {
		target = name
	}
	path, err := pathutil.ResolveAbsolutePath(target)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", target, err)
	}
	if info, err := os.Stat(path); err == nil {
		if info.IsDir() {
			path = filepath.Join(path, name)
		} else if !opts.force {
			ok, err := promptOverwrite(in, out, path)
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("download skipped: file exists")
			}
		}
	}

	b, err := openBackend(ctx)
	if err != nil {
		return err
	}
	mgr := CreateResourceManager()
	defer mgr.Shutdown()

	log := GetLogger()
	downloader := cloudtransfer.NewDownloader(b, mgr.DownloadPools(), cloudtransfer.WithDownloadLogger(log))

	expected := req.Size
	if req.Range != nil {
		expected = req.Range.Len()
	}
	reporter := progress.New(log)
	reporter.Start(expected, filepath.Base(path))
	req.Progress = progress.Func(reporter)

	started := time.Now()
	n, err := downloader.DownloadToFile(ctx, req, path)
	if err != nil {
		reporter.Error(err)
		return fmt.Errorf("failed to download %s: %w", req.ObjectID, err)
	}
	reporter.Finish()

	elapsed := time.Since(started)
	log.Debug().Str("pools", mgr.DownloadPools().Stats().String()).Msg("download pools")
	log.Info().
		Str("object", req.ObjectID).
		Str("path", path).
		Int64("bytes", n).
		Str("rate", progress.FormatRate(n, elapsed)).
		Msg("download complete")
	return nil
}
