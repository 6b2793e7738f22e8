package providers

import (
	"context"
	"errors"
	"testing"

	"github.com/rescale/chunkvault/internal/config"
)

func TestNewSelectsBackend(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"http", func(c *config.Config) { c.GatewayURL = "https://gw.example"; c.APIToken = "t" }, "http"},
		{"local", func(c *config.Config) { c.Backend = config.BackendLocal; c.LocalRoot = t.TempDir() }, "local"},
		{"azure sas", func(c *config.Config) {
			c.Backend = config.BackendAzure
			c.Bucket = "vault"
			c.AzureAccount = "acct"
			c.AzureSASToken = "sv=1"
		}, "azure"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			b, err := New(context.Background(), cfg, nil)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if b.Name() != tt.want {
				t.Errorf("Name() = %q, want %q", b.Name(), tt.want)
			}
		})
	}
}

func TestNewValidates(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = config.BackendLocal
	if _, err := New(context.Background(), cfg, nil); !errors.Is(err, config.ErrMissingLocalRoot) {
		t.Errorf("New() error = %v, want ErrMissingLocalRoot", err)
	}
}
