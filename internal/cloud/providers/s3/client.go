// Package s3 stores chunks in an S3 bucket.
//
// Layout:
//
//	{prefix}/{objectID}/{index}
//	{prefix}/{objectID}/manifest.json
package s3

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptrace"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/rescale/chunkvault/internal/cloud"
	"github.com/rescale/chunkvault/internal/cloud/storage"
	"github.com/rescale/chunkvault/internal/config"
	"github.com/rescale/chunkvault/internal/constants"
	"github.com/rescale/chunkvault/internal/http"
	"github.com/rescale/chunkvault/internal/logging"
)

// digestMetadataKey carries the hex SHA-512 of the ciphertext as object
// metadata.
const digestMetadataKey = "chunk-sha512"

// Store wraps the AWS S3 client. Safe for concurrent use.
type Store struct {
	client *s3.Client
	bucket string
	region string
	prefix string
	retry  http.Config
	log    *logging.Logger
}

// New creates a Store from cfg. Static credentials are used when an access
// key is configured; otherwise the default AWS credential chain applies.
func New(ctx context.Context, cfg *config.Config, log *logging.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, config.ErrMissingBucket
	}

	// Shared optimized HTTP client keeps proxy settings and the connection pool.
	httpClient, err := http.CreateOptimizedClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithHTTPClient(httpClient),
	}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.S3AccessKey != "" {
		static := awscreds.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3SessionToken)
		opts = append(opts, awsconfig.WithCredentialsProvider(aws.NewCredentialsCache(static)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithClient(client, cfg.Bucket, awsCfg.Region, cfg.Prefix, log), nil
}

// NewWithClient wraps an existing S3 client.
func NewWithClient(client *s3.Client, bucket, region, prefix string, log *logging.Logger) *Store {
	if log == nil {
		log = logging.Nop()
	}
	s := &Store{
		client: client,
		bucket: bucket,
		region: region,
		prefix: strings.Trim(prefix, "/"),
		log:    log,
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
				Msg("retrying s3 request")
		},
	}
	return s
}

// Name implements cloud.Backend.
func (s *Store) Name() string { return config.BackendS3 }

func (s *Store) objectPrefix(objectID string) string {
	return path.Join(s.prefix, objectID) + "/"
}

func (s *Store) chunkKey(objectID string, index int64) string {
	return s.objectPrefix(objectID) + strconv.FormatInt(index, 10)
}

// FetchChunk downloads one chunk. A missing key is reported as
// storage.ErrChunkNotFound.
func (s *Store) FetchChunk(ctx context.Context, ref cloud.ChunkRef) ([]byte, error) {
	bucket := ref.Bucket
	if bucket == "" {
		bucket = s.bucket
	}
	key := s.chunkKey(ref.ObjectID, ref.Index)

	var data []byte
	err := http.ExecuteWithRetry(ctx, s.retry, func() error {
		out, err := s.client.GetObject(TraceContext(ctx, s.log, "GetObject"), &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
		defer out.Body.Close()
		data, err = io.ReadAll(out.Body)
		return err
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("chunk %d of %s: %w", ref.Index, ref.ObjectID, storage.ErrChunkNotFound)
		}
		return nil, fmt.Errorf("s3 get %s: %w", key, err)
	}
	return data, nil
}

// SendChunk uploads one chunk with its ciphertext digest as metadata.
func (s *Store) SendChunk(ctx context.Context, req cloud.SendRequest, progress cloud.ProgressFunc) (cloud.Placement, error) {
	key := s.chunkKey(req.ObjectID, req.Index)
	err := http.ExecuteWithRetry(ctx, s.retry, func() error {
		_, err := s.client.PutObject(TraceContext(ctx, s.log, "PutObject"), &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(req.Ciphertext),
			ContentLength: aws.Int64(int64(len(req.Ciphertext))),
			ContentType:   aws.String("application/octet-stream"),
			Metadata:      map[string]string{digestMetadataKey: req.Digest},
		})
		return err
	})
	if err != nil {
		return cloud.Placement{}, fmt.Errorf("s3 put %s: %w", key, err)
	}
	if progress != nil {
		progress(int64(len(req.Ciphertext)))
	}
	return cloud.Placement{Bucket: s.bucket, Region: s.region}, nil
}

// FinalizeUpload counts the object's chunks with ListObjectsV2 and writes
// the manifest. The counted value is authoritative.
func (s *Store) FinalizeUpload(ctx context.Context, req cloud.FinalizeRequest) (cloud.FinalizeResult, error) {
	count, err := s.countChunks(ctx, req.ObjectID)
	if err != nil {
		return cloud.FinalizeResult{}, err
	}

	data, err := json.Marshal(cloud.NewManifest(req, s.bucket, s.region, count))
	if err != nil {
		return cloud.FinalizeResult{}, err
	}
	key := s.objectPrefix(req.ObjectID) + cloud.ManifestName
	err = http.ExecuteWithRetry(ctx, s.retry, func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String("application/json"),
		})
		return err
	})
	if err != nil {
		return cloud.FinalizeResult{}, fmt.Errorf("s3 put %s: %w", key, err)
	}
	return cloud.FinalizeResult{ChunkCount: count}, nil
}

// countChunks lists the object prefix and counts keys named by an index.
func (s *Store) countChunks(ctx context.Context, objectID string) (int64, error) {
	prefix := s.objectPrefix(objectID)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	var n int64
	for paginator.HasMorePages() {
		var page *s3.ListObjectsV2Output
		err := http.ExecuteWithRetry(ctx, s.retry, func() error {
			var err error
			page, err = paginator.NextPage(ctx)
			return err
		})
		if err != nil {
			return 0, fmt.Errorf("s3 list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if _, err := strconv.ParseInt(name, 10, 64); err == nil {
				n++
			}
		}
	}
	return n, nil
}

// TraceContext adds HTTP connection tracing when DEBUG_HTTP=true.
// This is useful for debugging connection reuse and TLS handshake overhead.
func TraceContext(ctx context.Context, log *logging.Logger, operation string) context.Context {
	if os.Getenv("DEBUG_HTTP") != "true" {
		return ctx
	}

	var handshakeStart time.Time
	return httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			log.Debug().Str("op", operation).Bool("reused", info.Reused).Msg("got connection")
		},
		TLSHandshakeStart: func() {
			handshakeStart = time.Now()
		},
		TLSHandshakeDone: func(_ tls.ConnectionState, _ error) {
			log.Debug().Str("op", operation).Dur("took", time.Since(handshakeStart)).Msg("TLS handshake")
		},
	})
}

var _ cloud.Backend = (*Store)(nil)
