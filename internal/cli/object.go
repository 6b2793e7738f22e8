package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	cloudtransfer "github.com/rescale/chunkvault/internal/cloud/transfer"
	"github.com/rescale/chunkvault/internal/crypto" // package name is 'encryption'
)

// objectFlags locates one remote object for get and cat.
type objectFlags struct {
	descriptor string
	key        string
	chunks     int64
	size       int64
	bucket     string
	region     string
	version    int
	byteRange  string
}

func (f *objectFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.descriptor, "descriptor", "d", "", "Read object details from a JSON descriptor written by 'put --json'")
	flags.StringVarP(&f.key, "key", "k", "", "Object key ('-' prompts)")
	flags.Int64Var(&f.chunks, "chunks", 0, "Number of chunks in the object")
	flags.Int64Var(&f.size, "size", 0, "Plaintext size in bytes")
	flags.StringVar(&f.bucket, "bucket", "", "Bucket holding the chunks (defaults to config)")
	flags.StringVar(&f.region, "region", "", "Region holding the chunks (defaults to config)")
	flags.IntVar(&f.version, "key-version", 0, "Envelope version (0 = from key length)")
	flags.StringVarP(&f.byteRange, "range", "r", "", "Inclusive byte range START-END or START-")
}

// request builds a download request from the flags, an optional descriptor
// file and the positional object ID.
func (f *objectFlags) request(args []string) (cloudtransfer.DownloadRequest, string, error) {
	var req cloudtransfer.DownloadRequest
	var name string

	if f.descriptor != "" {
		desc, err := readDescriptor(f.descriptor)
		if err != nil {
			return req, "", err
		}
		req.ObjectID = desc.ObjectID
		req.Bucket = desc.Bucket
		req.Region = desc.Region
		req.Key = desc.Key
		req.Version = desc.Version
		req.ChunkCount = desc.ChunkCount
		req.Size = desc.Size
		name = desc.Name
	}

	if len(args) > 0 {
		req.ObjectID = args[0]
	}
	if f.key != "" {
		key, err := resolveKey(f.key)
		if err != nil {
			return req, "", err
		}
		req.Key = key
	}
	if f.chunks > 0 {
		req.ChunkCount = f.chunks
	}
	if f.size > 0 {
		req.Size = f.size
	}
	if f.bucket != "" {
		req.Bucket = f.bucket
	}
	if f.region != "" {
		req.Region = f.region
	}
	if f.version != 0 {
		req.Version = encryption.Version(f.version)
	}
	if req.Bucket == "" {
		req.Bucket = cfg.Bucket
	}
	if req.Region == "" {
		req.Region = cfg.Region
	}

	switch {
	case req.ObjectID == "":
		return req, "", errors.New("object ID is required")
	case req.Key == "":
		return req, "", errors.New("--key is required")
	case req.ChunkCount <= 0 && req.Size > 0:
		req.ChunkCount = cloudtransfer.ChunkCount(req.Size)
	}

	if f.byteRange != "" {
		r, err := parseRange(f.byteRange, req.Size)
		if err != nil {
			return req, "", err
		}
		if err := cloudtransfer.ValidateRange(r, req.Size); err != nil {
			return req, "", err
		}
		req.Range = &r
	}
	if name == "" {
		name = req.ObjectID
	}
	return req, name, nil
}

// parseRange parses "START-END" or "START-". An open end runs to the last
// byte of an object of the given size.
func parseRange(s string, size int64) (cloudtransfer.ByteRange, error) {
	var r cloudtransfer.ByteRange
	lo, hi, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok || lo == "" {
		return r, fmt.Errorf("invalid range %q: want START-END", s)
	}
	start, err := strconv.ParseInt(lo, 10, 64)
	if err != nil {
		return r, fmt.Errorf("invalid range start %q: %w", lo, err)
	}
	end := size - 1
	if hi != "" {
		if end, err = strconv.ParseInt(hi, 10, 64); err != nil {
			return r, fmt.Errorf("invalid range end %q: %w", hi, err)
		}
	}
	r.Start, r.End = start, end
	return r, nil
}

func readDescriptor(path string) (*cloudtransfer.ObjectDescriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptor: %w", err)
	}
	defer f.Close()

	// put --json writes one object per line; the first one is used.
	var desc cloudtransfer.ObjectDescriptor
	if err := json.NewDecoder(f).Decode(&desc); err != nil {
		return nil, fmt.Errorf("failed to parse descriptor %s: %w", path, err)
	}
	return &desc, nil
}
