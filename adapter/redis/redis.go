// Package redis announces finished rebuilds through Redis.
//
// Every event is PUBLISHed to a channel. Two optional sinks survive
// subscriber downtime: a stream (XADD, trimmed to a maximum length) and a
// status hash keyed by output path that holds the latest event per output.
// All writes for one event go out in a single MULTI/EXEC.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/tsrebuild/adapter"
)

const (
	DefaultChannel = "tsrebuild:run_completed"
	DefaultTimeout = 5 * time.Second
	DefaultRetries = 3

	// DefaultStreamMaxLen caps the stream when Stream is set and
	// StreamMaxLen is zero.
	DefaultStreamMaxLen = 10000
)

// Config configures the Redis adapter.
type Config struct {
	// URL is redis://[:password@]host:port[/db]. Required.
	URL     string
	Channel string

	// Stream, when set, also appends each event to this stream.
	Stream       string
	StreamMaxLen int64

	// StatusKey, when set, names a hash of output path to latest event.
	// A positive StatusTTL refreshes the hash expiry on every write.
	StatusKey string
	StatusTTL time.Duration

	Timeout time.Duration
	Retries int
}

// Adapter writes run completion events to Redis.
type Adapter struct {
	config  Config
	client  *goredis.Client
	backoff time.Duration
}

// New validates cfg, applies defaults and creates the client. No
// connection is made until the first Publish.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}

	switch {
	case cfg.Retries < 0:
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	case cfg.StreamMaxLen < 0:
		return nil, fmt.Errorf("stream max length must be >= 0, got %d", cfg.StreamMaxLen)
	case cfg.StatusTTL < 0:
		return nil, fmt.Errorf("status ttl must be >= 0, got %s", cfg.StatusTTL)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Stream != "" && cfg.StreamMaxLen == 0 {
		cfg.StreamMaxLen = DefaultStreamMaxLen
	}

	return &Adapter{
		config:  cfg,
		client:  goredis.NewClient(opts),
		backoff: adapter.BaseBackoff,
	}, nil
}

// Publish writes event to every configured sink, retrying the whole
// transaction on failure.
func (a *Adapter) Publish(ctx context.Context, event *adapter.RunCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	return adapter.Retry(ctx, "redis", a.config.Retries, a.backoff, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()

		if a.config.Stream == "" && a.config.StatusKey == "" {
			return a.client.Publish(ctx, a.config.Channel, body).Err()
		}
		_, err := a.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			a.queue(ctx, pipe, event, body)
			return nil
		})
		return err
	})
}

func (a *Adapter) queue(ctx context.Context, pipe goredis.Pipeliner, event *adapter.RunCompletedEvent, body []byte) {
	cfg := a.config
	if cfg.StatusKey != "" {
		pipe.HSet(ctx, cfg.StatusKey, event.Output, body)
		if cfg.StatusTTL > 0 {
			pipe.Expire(ctx, cfg.StatusKey, cfg.StatusTTL)
		}
	}
	if cfg.Stream != "" {
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: cfg.Stream,
			MaxLen: cfg.StreamMaxLen,
			Values: map[string]any{
				"run_id":  event.RunID,
				"outcome": event.Outcome,
				"event":   body,
			},
		})
	}
	pipe.Publish(ctx, cfg.Channel, body)
}

// Close releases the connection pool.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
