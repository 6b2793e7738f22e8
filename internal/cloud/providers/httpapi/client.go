// Package httpapi implements the chunk transport against the REST gateway:
// chunks are read from the egest service, written to the ingest service and
// uploads are completed through the gateway.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/rescale/chunkvault/internal/cloud"
	"github.com/rescale/chunkvault/internal/cloud/storage"
	"github.com/rescale/chunkvault/internal/config"
	"github.com/rescale/chunkvault/internal/constants"
	"github.com/rescale/chunkvault/internal/http"
	"github.com/rescale/chunkvault/internal/logging"
	"github.com/rescale/chunkvault/internal/ratelimit"
)

// maxErrorBody caps how much of a failed response body is kept for logs.
const maxErrorBody = 4 << 10

// retryLogger implements the retryablehttp.LeveledLogger interface
type retryLogger struct {
	log *logging.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Error().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	// Only log errors and warnings, not all info
}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Warn().Fields(keysAndValues).Msg(msg)
}

// Client talks to the REST gateway. It is safe for concurrent use.
type Client struct {
	httpClient *retryablehttp.Client
	gateway    string
	ingest     string
	egest      string
	token      string
	limiter    *ratelimit.RateLimiter
	log        *logging.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying transport client (tests use
// httptest servers with plain clients).
func WithHTTPClient(hc *nethttp.Client) Option {
	return func(c *Client) { c.httpClient.HTTPClient = hc }
}

// WithRetryMax overrides the retry budget.
func WithRetryMax(n int) Option {
	return func(c *Client) { c.httpClient.RetryMax = n }
}

// WithRateLimiter overrides the request limiter.
func WithRateLimiter(rl *ratelimit.RateLimiter) Option {
	return func(c *Client) { c.limiter = rl }
}

// New creates a gateway client from cfg.
func New(cfg *config.Config, log *logging.Logger, opts ...Option) (*Client, error) {
	if log == nil {
		log = logging.Nop()
	}
	gateway, ingest, egest := cfg.Endpoints()
	if gateway == "" {
		return nil, config.ErrMissingGatewayURL
	}

	httpClient, err := http.CreateOptimizedClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = httpClient
	retryClient.RetryMax = constants.MaxRetries
	retryClient.RetryWaitMin = constants.HTTPRetryWaitMin
	retryClient.RetryWaitMax = constants.HTTPRetryWaitMax
	retryClient.Logger = &retryLogger{log: log}
	// Surface the final response so exhausted retries still map to a status.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	c := &Client{
		httpClient: retryClient,
		gateway:    gateway,
		ingest:     ingest,
		egest:      egest,
		token:      cfg.APIToken,
		limiter:    ratelimit.NewTransportRateLimiter(log),
		log:        log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name implements cloud.Backend.
func (c *Client) Name() string { return config.BackendHTTP }

// FetchChunk downloads GET {egest}/{region}/{bucket}/{objectID}/{index}.
func (c *Client) FetchChunk(ctx context.Context, ref cloud.ChunkRef) ([]byte, error) {
	u := c.egest + "/" + url.PathEscape(ref.Region) + "/" + url.PathEscape(ref.Bucket) + "/" +
		url.PathEscape(ref.ObjectID) + "/" + strconv.FormatInt(ref.Index, 10)

	resp, err := c.do(ctx, nethttp.MethodGet, u, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk %d: %w", ref.Index, err)
	}
	return data, nil
}

// ingestResponse is the body returned by the ingest service.
type ingestResponse struct {
	Bucket string `json:"bucket"`
	Region string `json:"region"`
}

// SendChunk uploads POST {ingest}/v3/upload with the chunk ciphertext as the
// body. Progress is reported once the service acknowledges the chunk.
func (c *Client) SendChunk(ctx context.Context, req cloud.SendRequest, progress cloud.ProgressFunc) (cloud.Placement, error) {
	q := url.Values{}
	q.Set("uuid", req.ObjectID)
	q.Set("index", strconv.FormatInt(req.Index, 10))
	q.Set("parent", req.ParentID)
	q.Set("uploadKey", req.UploadToken)
	q.Set("hash", req.Digest)
	u := c.ingest + "/v3/upload?" + q.Encode()

	resp, err := c.do(ctx, nethttp.MethodPost, u, req.Ciphertext, "application/octet-stream")
	if err != nil {
		return cloud.Placement{}, err
	}
	defer resp.Body.Close()

	var ir ingestResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		return cloud.Placement{}, fmt.Errorf("failed to decode ingest response: %w", err)
	}
	if progress != nil {
		progress(int64(len(req.Ciphertext)))
	}
	return cloud.Placement{Bucket: ir.Bucket, Region: ir.Region}, nil
}

// uploadDone is the body of POST {gateway}/v3/upload/done.
type uploadDone struct {
	UUID              string `json:"uuid"`
	Bucket            string `json:"bucket"`
	Region            string `json:"region"`
	EncryptedName     string `json:"encryptedName"`
	EncryptedSize     string `json:"encryptedSize"`
	EncryptedMime     string `json:"encryptedMime"`
	EncryptedMetadata string `json:"encryptedMetadata"`
	ChunkCount        int64  `json:"chunkCount"`
	RemovalToken      string `json:"removalToken"`
	UploadKey         string `json:"uploadKey"`
	Parent            string `json:"parent,omitempty"`
	Version           int    `json:"version"`
}

type uploadDoneResponse struct {
	ChunkCount int64 `json:"chunkCount"`
}

// FinalizeUpload completes an upload. The returned chunk count is the one the
// gateway recorded.
func (c *Client) FinalizeUpload(ctx context.Context, req cloud.FinalizeRequest) (cloud.FinalizeResult, error) {
	body, err := json.Marshal(uploadDone{
		UUID:              req.ObjectID,
		Bucket:            req.Bucket,
		Region:            req.Region,
		EncryptedName:     req.EncryptedName,
		EncryptedSize:     req.EncryptedSize,
		EncryptedMime:     req.EncryptedMime,
		EncryptedMetadata: req.EncryptedMetadata,
		ChunkCount:        req.ChunkCount,
		RemovalToken:      req.RemovalToken,
		UploadKey:         req.UploadToken,
		Parent:            req.ParentID,
		Version:           req.Version,
	})
	if err != nil {
		return cloud.FinalizeResult{}, fmt.Errorf("failed to marshal request body: %w", err)
	}

	resp, err := c.do(ctx, nethttp.MethodPost, c.gateway+"/v3/upload/done", body, "application/json")
	if err != nil {
		return cloud.FinalizeResult{}, err
	}
	defer resp.Body.Close()

	var done uploadDoneResponse
	if err := json.NewDecoder(resp.Body).Decode(&done); err != nil {
		return cloud.FinalizeResult{}, fmt.Errorf("failed to decode upload/done response: %w", err)
	}
	return cloud.FinalizeResult{ChunkCount: done.ChunkCount}, nil
}

// do performs a rate limited, authenticated request. Non-2xx responses are
// returned as *storage.StatusError with the body closed.
func (c *Client) do(ctx context.Context, method, u string, body []byte, contentType string) (*nethttp.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter cancelled: %w", err)
	}

	var reqBody interface{}
	if body != nil {
		reqBody = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	// With exhausted retries the final response comes back alongside err.
	resp, err := c.httpClient.Do(req)
	if resp == nil {
		return nil, fmt.Errorf("%s %s: %w", method, redactQuery(u), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		c.log.Debug().
			Str("method", method).
			Str("url", redactQuery(u)).
			Int("status", resp.StatusCode).
			Str("body", strings.TrimSpace(string(bytes.ToValidUTF8(snippet, nil)))).
			Msg("gateway request failed")
		return nil, &storage.StatusError{StatusCode: resp.StatusCode, Status: resp.Status, URL: redactQuery(u)}
	}
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("%s %s: %w", method, redactQuery(u), err)
	}
	return resp, nil
}

// redactQuery drops the query string, which carries upload tokens.
func redactQuery(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}

var _ cloud.Backend = (*Client)(nil)
