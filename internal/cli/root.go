// Package cli provides the command-line interface for chunkvault.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rescale/chunkvault/internal/cloud"
	"github.com/rescale/chunkvault/internal/cloud/providers"
	"github.com/rescale/chunkvault/internal/cloud/storage"
	"github.com/rescale/chunkvault/internal/config"
	"github.com/rescale/chunkvault/internal/fips"
	inthttp "github.com/rescale/chunkvault/internal/http"
	"github.com/rescale/chunkvault/internal/logging"
	"github.com/rescale/chunkvault/internal/resources"
	"github.com/rescale/chunkvault/internal/version"
)

// ErrInterrupted is returned by Execute when a signal aborted the command.
var ErrInterrupted = errors.New("interrupted")

var (
	// Global flags
	cfgFile   string
	backend   string
	verbose   bool
	debug     bool
	logLevel  string
	logFile   string
	logFormat string

	// Thread control flags
	fetchThreads  int
	uploadThreads int
	autoScale     bool

	// Global state set by PersistentPreRunE
	cfg    *config.Config
	logger *logging.Logger

	// Global context for signal handling
	rootContext context.Context = context.Background()
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "chunkvault",
		Short: "Encrypted chunked transfers to object storage",
		Long: `chunkvault ` + version.String() + `

Uploads files as independently encrypted 1 MiB chunks and streams them
back, in whole or by byte range, through an HTTP gateway, S3, Azure Blob
Storage or a local directory.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				logger.Close()
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "Configuration file path")
	flags.StringVar(&backend, "backend", "", "Storage backend: http, s3, azure or local (overrides config)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")
	flags.BoolVar(&debug, "debug", false, "Enable debug output (same as --verbose)")
	flags.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&logFile, "log-file", "", "Also write JSON logs to this rotated file")
	flags.StringVar(&logFormat, "log-format", "", "Console log format: cli or json")

	flags.IntVar(&fetchThreads, "fetch-threads", 0, "Download fetch/decrypt threads (0 = auto-detect)")
	flags.IntVar(&uploadThreads, "upload-threads", 0, "Upload read/encrypt threads (0 = auto-detect)")
	flags.BoolVar(&autoScale, "auto-scale", false, "Grow thread pools with measured throughput")

	rootCmd.Version = version.String() + " " + fips.Status()

	AddCommands(rootCmd)
	return rootCmd
}

// AddCommands registers every subcommand on rootCmd.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newPutCmd())
	rootCmd.AddCommand(newGetCmd())
	rootCmd.AddCommand(newCatCmd())
	rootCmd.AddCommand(newMetaCmd())
	rootCmd.AddCommand(newKeygenCmd())
	rootCmd.AddCommand(newConfigCmd())
}

// setup loads configuration, applies flag overrides and builds the logger.
func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	applyFlags(loaded)
	cfg = loaded

	if cfg.LogFile != "" {
		cfg.LogFile = config.LogFilePath(cfg.LogFile)
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0700); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	logger = logging.NewLogger(logging.Options{Mode: cfg.LogFormat, File: cfg.LogFile})

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	if verbose || debug {
		level = zerolog.DebugLevel
	}
	logging.SetGlobalLevel(level)

	if inthttp.NeedsProxyPassword(cfg) {
		pw, err := promptSecret(fmt.Sprintf("Proxy password for %s@%s: ", cfg.ProxyUser, cfg.ProxyHost))
		if err != nil {
			return fmt.Errorf("failed to read proxy password: %w", err)
		}
		cfg.ProxyPassword = pw
	}
	return nil
}

func applyFlags(c *config.Config) {
	if backend != "" {
		c.Backend = backend
	}
	if logLevel != "" {
		c.LogLevel = logLevel
	}
	if logFile != "" {
		c.LogFile = logFile
	}
	if logFormat != "" {
		c.LogFormat = logFormat
	}
	if fetchThreads > 0 {
		c.FetchThreads = fetchThreads
	}
	if uploadThreads > 0 {
		c.UploadThreads = uploadThreads
	}
	if autoScale {
		c.AutoScale = true
	}
}

// Execute runs the CLI.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	rootContext = ctx

	// Restore default handling after the first signal so a second one exits.
	go func() {
		<-ctx.Done()
		stop()
	}()

	err := NewRootCmd().ExecuteContext(ctx)
	if err != nil && storage.IsAborted(err) && ctx.Err() != nil {
		return ErrInterrupted
	}
	return err
}

// GetLogger returns the global logger instance.
func GetLogger() *logging.Logger {
	if logger == nil {
		return logging.NewDefaultCLILogger()
	}
	return logger
}

// GetContext returns the context cancelled by SIGINT and SIGTERM.
func GetContext() context.Context {
	return rootContext
}

// CreateResourceManager sizes the transfer pools from the loaded config.
func CreateResourceManager() *resources.Manager {
	return resources.NewManager(cfg.ResourceConfig())
}

// openBackend builds the configured chunk transport.
func openBackend(ctx context.Context) (cloud.Backend, error) {
	b, err := providers.New(ctx, cfg, GetLogger())
	if err != nil {
		return nil, err
	}
	GetLogger().Debug().Str("backend", b.Name()).Msg("backend ready")
	return b, nil
}
