// Package azure stores chunks as block blobs in an Azure Storage container.
//
// Layout:
//
//	{prefix}/{objectID}/{index}
//	{prefix}/{objectID}/manifest.json
package azure

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/rescale/chunkvault/internal/cloud"
	"github.com/rescale/chunkvault/internal/cloud/storage"
	"github.com/rescale/chunkvault/internal/config"
	"github.com/rescale/chunkvault/internal/constants"
	"github.com/rescale/chunkvault/internal/http"
	"github.com/rescale/chunkvault/internal/logging"
)

// digestMetadataKey carries the hex SHA-512 of the ciphertext. Azure metadata
// names must be valid identifiers.
const digestMetadataKey = "chunksha512"

// Store wraps the Azure blob client. Safe for concurrent use.
type Store struct {
	client    *azblob.Client
	container string
	region    string
	prefix    string
	retry     http.Config
	log       *logging.Logger
}

// New creates a Store from cfg. A shared key is preferred when configured;
// otherwise the SAS token is appended to the service URL.
func New(cfg *config.Config, log *logging.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, config.ErrMissingBucket
	}

	// Shared optimized HTTP client keeps proxy settings and the connection pool.
	httpClient, err := http.CreateOptimizedClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}
	opts := &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Transport: httpClient,
			// ExecuteWithRetry owns backoff; keep the SDK's own retries short.
			Retry: policy.RetryOptions{MaxRetries: 2},
		},
	}

	serviceURL, err := buildServiceURL(cfg)
	if err != nil {
		return nil, err
	}

	var client *azblob.Client
	if cfg.AzureKey != "" {
		cred, err := azblob.NewSharedKeyCredential(cfg.AzureAccount, cfg.AzureKey)
		if err != nil {
			return nil, fmt.Errorf("invalid Azure shared key: %w", err)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(serviceURL, cred, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure client: %w", err)
		}
	} else {
		client, err = azblob.NewClientWithNoCredential(withSAS(serviceURL, cfg.AzureSASToken), opts)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure client: %w", err)
		}
	}
	return NewWithClient(client, cfg.Bucket, cfg.Region, cfg.Prefix, log), nil
}

// NewWithClient wraps an existing blob client.
func NewWithClient(client *azblob.Client, container, region, prefix string, log *logging.Logger) *Store {
	if log == nil {
		log = logging.Nop()
	}
	s := &Store{
		client:    client,
		container: container,
		region:    region,
		prefix:    strings.Trim(prefix, "/"),
		log:       log,
	}
	s.retry = http.Config{
		MaxRetries:   constants.MaxRetries,
		InitialDelay: constants.RetryInitialDelay,
		MaxDelay:     constants.RetryMaxDelay,
		OnRetry: func(attempt int, err error, errorType http.ErrorType) {
			s.log.Debug().
				Int("attempt", attempt).
				Str("type", http.ErrorTypeName(errorType)).
				Err(err).
				Msg("retrying azure request")
		},
	}
	return s
}

// buildServiceURL returns the blob service URL, from AzureAccountURL or
// derived from the account name.
func buildServiceURL(cfg *config.Config) (string, error) {
	if cfg.AzureAccountURL != "" {
		u := cfg.AzureAccountURL
		if !strings.HasSuffix(u, "/") {
			u += "/"
		}
		return u, nil
	}
	if cfg.AzureAccount == "" {
		return "", fmt.Errorf("Azure storage account name not configured")
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AzureAccount), nil
}

// withSAS appends a SAS token unless the URL already carries a query.
func withSAS(serviceURL, sas string) string {
	sas = strings.TrimPrefix(sas, "?")
	if sas == "" || strings.Contains(serviceURL, "?") {
		return serviceURL
	}
	return serviceURL + "?" + sas
}

// Name implements cloud.Backend.
func (s *Store) Name() string { return config.BackendAzure }

func (s *Store) objectPrefix(objectID string) string {
	return path.Join(s.prefix, objectID) + "/"
}

func (s *Store) blobName(objectID string, index int64) string {
	return s.objectPrefix(objectID) + strconv.FormatInt(index, 10)
}

// FetchChunk downloads one chunk. A missing blob is reported as
// storage.ErrChunkNotFound.
func (s *Store) FetchChunk(ctx context.Context, ref cloud.ChunkRef) ([]byte, error) {
	container := ref.Bucket
	if container == "" {
		container = s.container
	}
	name := s.blobName(ref.ObjectID, ref.Index)

	var data []byte
	err := http.ExecuteWithRetry(ctx, s.retry, func() error {
		resp, err := s.client.DownloadStream(ctx, container, name, nil)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		data, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, fmt.Errorf("chunk %d of %s: %w", ref.Index, ref.ObjectID, storage.ErrChunkNotFound)
		}
		return nil, fmt.Errorf("azure get %s: %w", name, err)
	}
	return data, nil
}

// SendChunk uploads one chunk as a block blob.
func (s *Store) SendChunk(ctx context.Context, req cloud.SendRequest, progress cloud.ProgressFunc) (cloud.Placement, error) {
	name := s.blobName(req.ObjectID, req.Index)
	digest := req.Digest
	err := http.ExecuteWithRetry(ctx, s.retry, func() error {
		_, err := s.client.UploadBuffer(ctx, s.container, name, req.Ciphertext, &azblob.UploadBufferOptions{
			Metadata: map[string]*string{digestMetadataKey: &digest},
		})
		return err
	})
	if err != nil {
		return cloud.Placement{}, fmt.Errorf("azure put %s: %w", name, err)
	}
	if progress != nil {
		progress(int64(len(req.Ciphertext)))
	}
	return cloud.Placement{Bucket: s.container, Region: s.region}, nil
}

// FinalizeUpload counts the object's blobs and writes the manifest. The
// counted value is authoritative.
func (s *Store) FinalizeUpload(ctx context.Context, req cloud.FinalizeRequest) (cloud.FinalizeResult, error) {
	count, err := s.countChunks(ctx, req.ObjectID)
	if err != nil {
		return cloud.FinalizeResult{}, err
	}

	data, err := json.Marshal(cloud.NewManifest(req, s.container, s.region, count))
	if err != nil {
		return cloud.FinalizeResult{}, err
	}
	name := s.objectPrefix(req.ObjectID) + cloud.ManifestName
	err = http.ExecuteWithRetry(ctx, s.retry, func() error {
		_, err := s.client.UploadBuffer(ctx, s.container, name, data, nil)
		return err
	})
	if err != nil {
		return cloud.FinalizeResult{}, fmt.Errorf("azure put %s: %w", name, err)
	}
	return cloud.FinalizeResult{ChunkCount: count}, nil
}

// countChunks lists the object prefix and counts blobs named by an index.
func (s *Store) countChunks(ctx context.Context, objectID string) (int64, error) {
	prefix := s.objectPrefix(objectID)
	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})

	var n int64
	for pager.More() {
		var page azblob.ListBlobsFlatResponse
		err := http.ExecuteWithRetry(ctx, s.retry, func() error {
			var err error
			page, err = pager.NextPage(ctx)
			return err
		})
		if err != nil {
			return 0, fmt.Errorf("azure list %s: %w", prefix, err)
		}
		if page.Segment == nil {
			continue
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			if _, err := strconv.ParseInt(strings.TrimPrefix(*item.Name, prefix), 10, 64); err == nil {
				n++
			}
		}
	}
	return n, nil
}

var _ cloud.Backend = (*Store)(nil)
