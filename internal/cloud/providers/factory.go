// Package providers builds the chunk transport selected by configuration.
package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/rescale/chunkvault/internal/cloud"
	"github.com/rescale/chunkvault/internal/cloud/providers/azure"
	"github.com/rescale/chunkvault/internal/cloud/providers/httpapi"
	"github.com/rescale/chunkvault/internal/cloud/providers/local"
	"github.com/rescale/chunkvault/internal/cloud/providers/s3"
	"github.com/rescale/chunkvault/internal/config"
	"github.com/rescale/chunkvault/internal/logging"
)

// New creates the backend named by cfg.Backend. cfg is validated first.
func New(ctx context.Context, cfg *config.Config, log *logging.Logger) (cloud.Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Nop()
	}
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	log = log.Child(log.With().Str("backend", backend))

	switch backend {
	case config.BackendHTTP:
		return httpapi.New(cfg, log)
	case config.BackendS3:
		return s3.New(ctx, cfg, log)
	case config.BackendAzure:
		return azure.New(cfg, log)
	case config.BackendLocal:
		return local.New(cfg.LocalRoot, cfg.Bucket, cfg.Region, log)
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Backend)
	}
}
