package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"text/tabwriter"

	"github.com/spf13/cobra"

	cloudtransfer "github.com/rescale/chunkvault/internal/cloud/transfer"
	"github.com/rescale/chunkvault/internal/crypto" // package name is 'encryption'
	"github.com/rescale/chunkvault/internal/localfs"
	"github.com/rescale/chunkvault/internal/pathutil"
	"github.com/rescale/chunkvault/internal/progress"
	"github.com/rescale/chunkvault/internal/transfer"
)

type putOptions struct {
	parent        string
	keyVersion    int
	jsonOut       bool
	includeHidden bool
}

func newPutCmd() *cobra.Command {
	var opts putOptions
	cmd := &cobra.Command{
		Use:   "put FILE...",
		Short: "Encrypt and upload files",
		Long: `Encrypt and upload files.

Each file gets a fresh random key and is sent as encrypted 1 MiB chunks.
Directories are walked recursively. The printed descriptor holds the key;
without it the object cannot be read back.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPut(cmd.Context(), args, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.parent, "parent", "", "Parent object ID recorded with each upload")
	cmd.Flags().IntVar(&opts.keyVersion, "key-version", 0, "Key version for new objects: 2 or 3 (defaults to config)")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print one JSON descriptor per line")
	cmd.Flags().BoolVar(&opts.includeHidden, "include-hidden", false, "Include hidden files when walking directories")
	return cmd
}

func runPut(ctx context.Context, args []string, opts putOptions, out io.Writer) error {
	files, err := collectFiles(args, opts.includeHidden)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.New("no files to upload")
	}

	version := encryption.Version(cfg.KeyVersion)
	if opts.keyVersion != 0 {
		version = encryption.Version(opts.keyVersion)
	}
	if version != encryption.Version2 && version != encryption.Version3 {
		return fmt.Errorf("unsupported key version %d", int(version))
	}

	b, err := openBackend(ctx)
	if err != nil {
		return err
	}
	mgr := CreateResourceManager()
	defer mgr.Shutdown()

	log := GetLogger()
	uploader := cloudtransfer.NewUploader(b, b, mgr.UploadPools(),
		cloudtransfer.WithUploadLogger(log),
		cloudtransfer.WithKeyVersion(version))

	queue := transfer.NewQueue(ctx, func(task transfer.Snapshot) {
		log.Debug().Str("task", task.ID).Str("file", task.Name).Str("state", string(task.State)).Msg("upload state")
	})
	ui := progress.NewTransferUI("Uploading", len(files))
	restore := log.Output()
	log.SetOutput(ui.Writer())
	defer log.SetOutput(restore)

	descriptors := make([]*cloudtransfer.ObjectDescriptor, len(files))
	errs := make([]error, len(files))
	var wg sync.WaitGroup
	for i, f := range files {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task := queue.Track(transfer.TaskTypeUpload, f.Name, f.Path, b.Name(), f.Size)
			bar := ui.AddFileBar(f.Path, f.Size)
			queue.Activate(task.ID)

			desc, err := uploader.UploadFile(ctx, f.Path, cloudtransfer.Destination{
				ParentID: opts.parent,
				Task:     task,
				Progress: bar.Add,
			})
			if err != nil {
				queue.Fail(task.ID, err)
				bar.Complete("", err)
				errs[i] = fmt.Errorf("failed to upload %s: %w", f.Path, err)
				return
			}
			queue.Complete(task.ID)
			bar.Complete(desc.ObjectID, nil)
			descriptors[i] = desc
		}()
	}
	wg.Wait()
	ui.Wait()

	if err := printDescriptors(out, descriptors, opts.jsonOut); err != nil {
		return err
	}

	stats := queue.GetStats()
	log.Debug().Int("completed", stats.Completed).Int("failed", stats.Failed).Msg("uploads finished")
	if err := errors.Join(errs...); err != nil {
		_, failed := ui.Counts()
		return fmt.Errorf("%d of %d uploads failed: %w", failed, len(files), err)
	}
	return nil
}

// collectFiles expands directories and drops duplicate paths, keeping the
// order the arguments were given in.
func collectFiles(args []string, includeHidden bool) ([]localfs.FileEntry, error) {
	var files []localfs.FileEntry
	seen := make(map[string]bool)
	add := func(e localfs.FileEntry) {
		if !seen[e.Path] {
			seen[e.Path] = true
			files = append(files, e)
		}
	}

	for _, arg := range args {
		path, err := pathutil.ResolveAbsolutePath(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", arg, err)
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			add(localfs.FileEntry{Path: path, Name: info.Name(), Size: info.Size(), ModTime: info.ModTime(), Mode: info.Mode()})
			continue
		}
		opts := localfs.WalkOptions{IncludeHidden: includeHidden, SkipHiddenDirs: !includeHidden}
		if err := localfs.WalkFiles(path, opts, func(e localfs.FileEntry) error {
			if e.Mode.IsRegular() {
				add(e)
			}
			return nil
		}); err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", path, err)
		}
	}
	return files, nil
}

func printDescriptors(out io.Writer, descriptors []*cloudtransfer.ObjectDescriptor, jsonOut bool) error {
	if jsonOut {
		enc := json.NewEncoder(out)
		for _, d := range descriptors {
			if d == nil {
				continue
			}
			if err := enc.Encode(d); err != nil {
				return err
			}
		}
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSIZE\tCHUNKS\tBUCKET\tREGION\tKEY")
	for _, d := range descriptors {
		if d == nil {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\t%s\n", d.ObjectID, d.Name, d.Size, d.ChunkCount, d.Bucket, d.Region, d.Key)
	}
	return w.Flush()
}
