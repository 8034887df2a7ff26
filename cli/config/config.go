package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pithecene-io/tsrebuild/ledger"
	"github.com/pithecene-io/tsrebuild/remote"
	"github.com/pithecene-io/tsrebuild/types"
)

// Config represents a tsrebuild.yaml configuration file.
// CLI flags override the download and output sections.
type Config struct {
	StartUTC int64          `yaml:"start_utc"`
	EndUTC   int64          `yaml:"end_utc"`
	S3Prefix string         `yaml:"s3_prefix"`
	AWS      AWSConfig      `yaml:"aws"`
	Store    StoreConfig    `yaml:"store"`
	Download DownloadConfig `yaml:"download"`
	Output   OutputConfig   `yaml:"output"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Adapter  AdapterConfig  `yaml:"adapter"`
}

// AWSConfig holds the bucket and client settings for the object store.
type AWSConfig struct {
	S3Bucket     string `yaml:"s3_bucket"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	S3PathStyle  bool   `yaml:"s3_path_style"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	SessionToken string `yaml:"session_token"`
}

// StoreConfig selects the object store backend. The fs backend reads a
// local mirror laid out as <root>/<bucket>/<key>.
type StoreConfig struct {
	Backend string `yaml:"backend"`
	Root    string `yaml:"root"`
}

// DownloadConfig holds retrieval settings.
type DownloadConfig struct {
	Workers    int      `yaml:"workers"`
	Attempts   int      `yaml:"attempts"`
	RetryDelay Duration `yaml:"retry_delay"`
}

// OutputConfig holds output writer settings.
type OutputConfig struct {
	BufferSize      int   `yaml:"buffer_size"`
	CheckpointEvery int   `yaml:"checkpoint_every"`
	MaxPayloadSize  int64 `yaml:"max_payload_size"`
}

// LedgerConfig holds run history settings. An empty backend disables the ledger.
type LedgerConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	Bucket  string `yaml:"bucket"`
	Dataset string `yaml:"dataset"`
	Region  string `yaml:"region"`
}

// AdapterConfig holds completion notification settings.
// An empty type disables notifications.
type AdapterConfig struct {
	Type    string   `yaml:"type"`
	URL     string   `yaml:"url"`
	Timeout Duration `yaml:"timeout,omitempty"`
	Retries *int     `yaml:"retries,omitempty"`

	// webhook
	Headers map[string]string `yaml:"headers,omitempty"`
	Secret  string            `yaml:"secret,omitempty"`

	// redis
	Channel      string   `yaml:"channel,omitempty"`
	Stream       string   `yaml:"stream,omitempty"`
	StreamMaxLen int64    `yaml:"stream_max_len,omitempty"`
	StatusKey    string   `yaml:"status_key,omitempty"`
	StatusTTL    Duration `yaml:"status_ttl,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Window returns the configured time window.
func (c *Config) Window() types.TimeWindow {
	return types.TimeWindow{Start: c.StartUTC, End: c.EndUTC}
}

// Validate checks the settings a run cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Window().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.AWS.S3Bucket == "" && !hasScheme(c.S3Prefix) {
		errs = append(errs, errors.New("aws.s3_bucket is required"))
	}
	if c.Download.Workers < 0 {
		errs = append(errs, fmt.Errorf("download.workers must be >= 0, got %d", c.Download.Workers))
	}
	if c.Download.Attempts < 0 {
		errs = append(errs, fmt.Errorf("download.attempts must be >= 0, got %d", c.Download.Attempts))
	}
	if c.Output.MaxPayloadSize < 0 {
		errs = append(errs, fmt.Errorf("output.max_payload_size must be >= 0, got %d", c.Output.MaxPayloadSize))
	}
	switch c.Store.Backend {
	case "", remote.BackendS3:
	case remote.BackendFS:
		if c.Store.Root == "" {
			errs = append(errs, errors.New("store.root is required for the fs backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend must be s3 or fs, got %q", c.Store.Backend))
	}
	switch c.Adapter.Type {
	case "", "webhook", "redis":
	default:
		errs = append(errs, fmt.Errorf("adapter.type must be webhook or redis, got %q", c.Adapter.Type))
	}
	if c.Adapter.Type != "" && c.Adapter.URL == "" {
		errs = append(errs, fmt.Errorf("adapter.url is required for the %s adapter", c.Adapter.Type))
	}
	return errors.Join(errs...)
}

// FullPrefix returns the scheme://bucket/prefix the manifest is built
// against. A prefix that already carries a scheme is returned unchanged.
func (c *Config) FullPrefix() string {
	if hasScheme(c.S3Prefix) {
		return c.S3Prefix
	}
	prefix := strings.Trim(c.S3Prefix, "/")
	if prefix == "" {
		return "s3://" + c.AWS.S3Bucket
	}
	return "s3://" + c.AWS.S3Bucket + "/" + prefix
}

// S3Config converts the aws section into remote client settings.
func (c *Config) S3Config() remote.S3Config {
	return remote.S3Config{
		Region:       c.AWS.Region,
		Endpoint:     c.AWS.Endpoint,
		UsePathStyle: c.AWS.S3PathStyle,
		AccessKey:    c.AWS.AccessKey,
		SecretKey:    c.AWS.SecretKey,
		SessionToken: c.AWS.SessionToken,
	}
}

// StoreOptions returns the object store options for remote.Open.
func (c *Config) StoreOptions() remote.Options {
	return remote.Options{
		Backend: c.Store.Backend,
		Root:    c.Store.Root,
		S3:      c.S3Config(),
	}
}

// LedgerOptions returns the ledger options, or false when the ledger is disabled.
// The s3 ledger reuses the aws client settings with its own region override.
func (c *Config) LedgerOptions() (ledger.Options, bool) {
	if c.Ledger.Backend == "" {
		return ledger.Options{}, false
	}
	s3cfg := c.S3Config()
	if c.Ledger.Region != "" {
		s3cfg.Region = c.Ledger.Region
	}
	return ledger.Options{
		Dataset: c.Ledger.Dataset,
		Backend: c.Ledger.Backend,
		Path:    c.Ledger.Path,
		Bucket:  c.Ledger.Bucket,
		S3:      s3cfg,
	}, true
}

func hasScheme(s string) bool {
	return strings.Contains(s, "://")
}
