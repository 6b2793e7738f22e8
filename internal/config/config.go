// Package config provides configuration management for chunkvault.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/rescale/chunkvault/internal/resources"
)

// Config is the full client configuration.
//
// Config file location:
//   - Windows: %USERPROFILE%\.config\chunkvault\config
//   - Unix: ~/.config/chunkvault/config
//
// INI format:
//
//	[storage]
//	backend = http
//	bucket = vault-us
//	region = us-east-1
//	gateway_url = https://vault.example.com
//	api_token = <token>
//
//	[transfer]
//	fetch_threads = 32
//	write_slots = 8
//	max_downloads = 16
//	auto_scale = false
//
//	[proxy]
//	mode = no-proxy
//
//	[log]
//	level = info
//	file = /var/log/chunkvault.log
type Config struct {
	// [storage]
	Backend string // "http", "s3", "azure" or "local"
	Bucket  string
	Region  string
	Prefix  string // key prefix for s3 and azure

	GatewayURL string // REST gateway (finalize)
	IngestURL  string // REST chunk ingest; defaults to GatewayURL
	EgestURL   string // REST chunk egest; defaults to GatewayURL
	APIToken   string

	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3SessionToken string

	AzureAccountURL string
	AzureAccount    string
	AzureKey        string
	AzureSASToken   string

	LocalRoot string

	// [transfer]
	FetchThreads  int
	WriteSlots    int
	MaxDownloads  int
	UploadThreads int
	UploadSlots   int
	MaxUploads    int
	AutoScale     bool
	KeyVersion    int

	// [proxy]
	ProxyMode     string // "no-proxy", "system", "basic" or "ntlm"
	ProxyHost     string
	ProxyPort     int
	ProxyUser     string
	ProxyPassword string
	NoProxy       string
	ProxyWarmup   bool

	// [log]
	LogLevel  string
	LogFile   string
	LogFormat string // "cli" or "json"
}

// Validation errors
var (
	ErrMissingBackend    = errors.New("storage backend is required")
	ErrUnknownBackend    = errors.New("storage backend must be one of http, s3, azure, local")
	ErrMissingGatewayURL = errors.New("gateway_url is required for the http backend")
	ErrMissingAPIToken   = errors.New("api_token is required for the http backend")
	ErrMissingBucket     = errors.New("bucket is required for the s3 and azure backends")
	ErrMissingAzureAuth  = errors.New("azure backend needs an account key or SAS token")
	ErrMissingLocalRoot  = errors.New("local_root is required for the local backend")
	ErrInvalidThreads    = errors.New("thread and slot counts must not be negative")
	ErrInvalidKeyVersion = errors.New("key_version must be 2 or 3")
	ErrInvalidProxyMode  = errors.New("proxy mode must be one of no-proxy, system, basic, ntlm")
	ErrMissingProxyHost  = errors.New("proxy host is required for basic and ntlm proxy modes")
	ErrInvalidLogFormat  = errors.New("log format must be cli or json")
)

// Backends
const (
	BackendHTTP  = "http"
	BackendS3    = "s3"
	BackendAzure = "azure"
	BackendLocal = "local"
)

// Default returns a Config with default values. Zero thread counts are
// sized from the host by resources.NewManager.
func Default() *Config {
	return &Config{
		Backend:    BackendHTTP,
		KeyVersion: 2,
		ProxyMode:  "no-proxy",
		ProxyPort:  8080,
		LogLevel:   "info",
		LogFormat:  "cli",
	}
}

// DefaultPath returns the default path for the config file.
func DefaultPath() (string, error) {
	dir, err := Directory()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config"), nil
}

// Load reads configuration from an INI file and then applies CHUNKVAULT_*
// environment overrides. A missing file yields defaults and no error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			path = ""
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cfg.loadFile(path); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config: %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	f, err := ini.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	s := f.Section("storage")
	c.Backend = s.Key("backend").MustString(c.Backend)
	c.Bucket = s.Key("bucket").String()
	c.Region = s.Key("region").String()
	c.Prefix = s.Key("prefix").String()
	c.GatewayURL = s.Key("gateway_url").String()
	c.IngestURL = s.Key("ingest_url").String()
	c.EgestURL = s.Key("egest_url").String()
	c.APIToken = s.Key("api_token").String()
	c.S3Endpoint = s.Key("s3_endpoint").String()
	c.S3AccessKey = s.Key("s3_access_key").String()
	c.S3SecretKey = s.Key("s3_secret_key").String()
	c.S3SessionToken = s.Key("s3_session_token").String()
	c.AzureAccountURL = s.Key("azure_account_url").String()
	c.AzureAccount = s.Key("azure_account").String()
	c.AzureKey = s.Key("azure_key").String()
	c.AzureSASToken = s.Key("azure_sas_token").String()
	c.LocalRoot = s.Key("local_root").String()

	t := f.Section("transfer")
	c.FetchThreads = t.Key("fetch_threads").MustInt(c.FetchThreads)
	c.WriteSlots = t.Key("write_slots").MustInt(c.WriteSlots)
	c.MaxDownloads = t.Key("max_downloads").MustInt(c.MaxDownloads)
	c.UploadThreads = t.Key("upload_threads").MustInt(c.UploadThreads)
	c.UploadSlots = t.Key("upload_slots").MustInt(c.UploadSlots)
	c.MaxUploads = t.Key("max_uploads").MustInt(c.MaxUploads)
	c.AutoScale = t.Key("auto_scale").MustBool(c.AutoScale)
	c.KeyVersion = t.Key("key_version").MustInt(c.KeyVersion)

	p := f.Section("proxy")
	c.ProxyMode = p.Key("mode").MustString(c.ProxyMode)
	c.ProxyHost = p.Key("host").String()
	c.ProxyPort = p.Key("port").MustInt(c.ProxyPort)
	c.ProxyUser = p.Key("user").String()
	c.ProxyPassword = p.Key("password").String()
	c.NoProxy = p.Key("no_proxy").String()
	c.ProxyWarmup = p.Key("warmup").MustBool(false)

	l := f.Section("log")
	c.LogLevel = l.Key("level").MustString(c.LogLevel)
	c.LogFile = l.Key("file").String()
	c.LogFormat = l.Key("format").MustString(c.LogFormat)
	return nil
}

// envVars maps CHUNKVAULT_* variables to the fields they override.
func (c *Config) envVars() map[string]any {
	return map[string]any{
		"CHUNKVAULT_BACKEND":           &c.Backend,
		"CHUNKVAULT_BUCKET":            &c.Bucket,
		"CHUNKVAULT_REGION":            &c.Region,
		"CHUNKVAULT_PREFIX":            &c.Prefix,
		"CHUNKVAULT_GATEWAY_URL":       &c.GatewayURL,
		"CHUNKVAULT_INGEST_URL":        &c.IngestURL,
		"CHUNKVAULT_EGEST_URL":         &c.EgestURL,
		"CHUNKVAULT_API_TOKEN":         &c.APIToken,
		"CHUNKVAULT_S3_ENDPOINT":       &c.S3Endpoint,
		"CHUNKVAULT_S3_ACCESS_KEY":     &c.S3AccessKey,
		"CHUNKVAULT_S3_SECRET_KEY":     &c.S3SecretKey,
		"CHUNKVAULT_S3_SESSION_TOKEN":  &c.S3SessionToken,
		"CHUNKVAULT_AZURE_ACCOUNT_URL": &c.AzureAccountURL,
		"CHUNKVAULT_AZURE_ACCOUNT":     &c.AzureAccount,
		"CHUNKVAULT_AZURE_KEY":         &c.AzureKey,
		"CHUNKVAULT_AZURE_SAS_TOKEN":   &c.AzureSASToken,
		"CHUNKVAULT_LOCAL_ROOT":        &c.LocalRoot,
		"CHUNKVAULT_FETCH_THREADS":     &c.FetchThreads,
		"CHUNKVAULT_WRITE_SLOTS":       &c.WriteSlots,
		"CHUNKVAULT_MAX_DOWNLOADS":     &c.MaxDownloads,
		"CHUNKVAULT_UPLOAD_THREADS":    &c.UploadThreads,
		"CHUNKVAULT_UPLOAD_SLOTS":      &c.UploadSlots,
		"CHUNKVAULT_MAX_UPLOADS":       &c.MaxUploads,
		"CHUNKVAULT_AUTO_SCALE":        &c.AutoScale,
		"CHUNKVAULT_KEY_VERSION":       &c.KeyVersion,
		"CHUNKVAULT_PROXY_MODE":        &c.ProxyMode,
		"CHUNKVAULT_PROXY_HOST":        &c.ProxyHost,
		"CHUNKVAULT_PROXY_PORT":        &c.ProxyPort,
		"CHUNKVAULT_PROXY_USER":        &c.ProxyUser,
		"CHUNKVAULT_PROXY_PASSWORD":    &c.ProxyPassword,
		"CHUNKVAULT_NO_PROXY":          &c.NoProxy,
		"CHUNKVAULT_LOG_LEVEL":         &c.LogLevel,
		"CHUNKVAULT_LOG_FILE":          &c.LogFile,
		"CHUNKVAULT_LOG_FORMAT":        &c.LogFormat,
	}
}

// ApplyEnv overrides fields from environment variables looked up with
// lookup (os.LookupEnv outside tests).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for name, field := range c.envVars() {
		value, ok := lookup(name)
		if !ok {
			continue
		}
		switch f := field.(type) {
		case *string:
			*f = value
		case *int:
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*f = n
		case *bool:
			b, err := strconv.ParseBool(strings.TrimSpace(value))
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*f = b
		}
	}
	return nil
}

// Save writes the configuration to an INI file. Creates parent directories
// if they don't exist. Secrets are stored in the file, so it is written
// with owner-only permissions.
func Save(c *Config, path string) error {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := c.toINI()
	if err != nil {
		return err
	}

	// Use temporary file + rename for atomicity
	tmpPath := path + ".tmp"
	if err := f.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// WriteTo renders the configuration in the INI format Save uses.
func (c *Config) WriteTo(w io.Writer) (int64, error) {
	f, err := c.toINI()
	if err != nil {
		return 0, err
	}
	return f.WriteTo(w)
}

func (c *Config) toINI() (*ini.File, error) {
	f := ini.Empty()
	sections := []struct {
		name string
		keys [][2]string
	}{
		{"storage", [][2]string{
			{"backend", c.Backend},
			{"bucket", c.Bucket},
			{"region", c.Region},
			{"prefix", c.Prefix},
			{"gateway_url", c.GatewayURL},
			{"ingest_url", c.IngestURL},
			{"egest_url", c.EgestURL},
			{"api_token", c.APIToken},
			{"s3_endpoint", c.S3Endpoint},
			{"s3_access_key", c.S3AccessKey},
			{"s3_secret_key", c.S3SecretKey},
			{"s3_session_token", c.S3SessionToken},
			{"azure_account_url", c.AzureAccountURL},
			{"azure_account", c.AzureAccount},
			{"azure_key", c.AzureKey},
			{"azure_sas_token", c.AzureSASToken},
			{"local_root", c.LocalRoot},
		}},
		{"transfer", [][2]string{
			{"fetch_threads", strconv.Itoa(c.FetchThreads)},
			{"write_slots", strconv.Itoa(c.WriteSlots)},
			{"max_downloads", strconv.Itoa(c.MaxDownloads)},
			{"upload_threads", strconv.Itoa(c.UploadThreads)},
			{"upload_slots", strconv.Itoa(c.UploadSlots)},
			{"max_uploads", strconv.Itoa(c.MaxUploads)},
			{"auto_scale", strconv.FormatBool(c.AutoScale)},
			{"key_version", strconv.Itoa(c.KeyVersion)},
		}},
		{"proxy", [][2]string{
			{"mode", c.ProxyMode},
			{"host", c.ProxyHost},
			{"port", strconv.Itoa(c.ProxyPort)},
			{"user", c.ProxyUser},
			{"no_proxy", c.NoProxy},
			{"warmup", strconv.FormatBool(c.ProxyWarmup)},
		}},
		{"log", [][2]string{
			{"level", c.LogLevel},
			{"file", c.LogFile},
			{"format", c.LogFormat},
		}},
	}
	for _, sec := range sections {
		s, err := f.NewSection(sec.name)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s section: %w", sec.name, err)
		}
		for _, kv := range sec.keys {
			if kv[1] == "" {
				continue
			}
			s.Key(kv[0]).SetValue(kv[1])
		}
	}
	return f, nil
}

// Validate checks the configuration for the selected backend.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Backend)) {
	case "":
		return ErrMissingBackend
	case BackendHTTP:
		if strings.TrimSpace(c.GatewayURL) == "" {
			return ErrMissingGatewayURL
		}
		if strings.TrimSpace(c.APIToken) == "" {
			return ErrMissingAPIToken
		}
	case BackendS3:
		if c.Bucket == "" {
			return ErrMissingBucket
		}
	case BackendAzure:
		if c.Bucket == "" {
			return ErrMissingBucket
		}
		if c.AzureKey == "" && c.AzureSASToken == "" {
			return ErrMissingAzureAuth
		}
	case BackendLocal:
		if c.LocalRoot == "" {
			return ErrMissingLocalRoot
		}
	default:
		return ErrUnknownBackend
	}

	for _, n := range []int{c.FetchThreads, c.WriteSlots, c.MaxDownloads, c.UploadThreads, c.UploadSlots, c.MaxUploads} {
		if n < 0 {
			return ErrInvalidThreads
		}
	}
	if c.KeyVersion != 2 && c.KeyVersion != 3 {
		return ErrInvalidKeyVersion
	}

	switch strings.ToLower(c.ProxyMode) {
	case "", "no-proxy", "system":
	case "basic", "ntlm":
		if c.ProxyHost == "" {
			return ErrMissingProxyHost
		}
	default:
		return ErrInvalidProxyMode
	}

	if c.LogFormat != "" && c.LogFormat != "cli" && c.LogFormat != "json" {
		return ErrInvalidLogFormat
	}
	return nil
}

// Endpoints returns the gateway, ingest and egest base URLs, filling the
// chunk endpoints from the gateway when they are not set.
func (c *Config) Endpoints() (gateway, ingest, egest string) {
	gateway = strings.TrimRight(c.GatewayURL, "/")
	ingest = strings.TrimRight(c.IngestURL, "/")
	egest = strings.TrimRight(c.EgestURL, "/")
	if ingest == "" {
		ingest = gateway
	}
	if egest == "" {
		egest = gateway
	}
	return gateway, ingest, egest
}

// ResourceConfig returns the pool sizing for resources.NewManager.
func (c *Config) ResourceConfig() resources.Config {
	return resources.Config{
		FetchThreads:  c.FetchThreads,
		WriteSlots:    c.WriteSlots,
		MaxDownloads:  c.MaxDownloads,
		UploadThreads: c.UploadThreads,
		UploadSlots:   c.UploadSlots,
		MaxUploads:    c.MaxUploads,
		AutoScale:     c.AutoScale,
	}
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	for _, s := range []*string{&out.APIToken, &out.S3SecretKey, &out.S3SessionToken, &out.AzureKey, &out.AzureSASToken, &out.ProxyPassword} {
		if *s != "" {
			*s = "********"
		}
	}
	return &out
}
