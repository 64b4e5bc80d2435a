// Package config loads feed-archive settings from HCL files and the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfighcl"

	"github.com/wolfeidau/feed-archive/server"
)

// EnvPrefix prefixes every environment variable, e.g. FEED_ARCHIVE_DATA_DIR.
const EnvPrefix = "FEED_ARCHIVE"

type Config struct {
	DataDir      string        `hcl:"data_dir" env:"DATA_DIR" default:"./data"`
	Address      string        `hcl:"address" env:"ADDRESS" default:":8080"`
	AuthToken    string        `hcl:"auth_token" env:"AUTH_TOKEN"`
	Scrap        bool          `hcl:"scrap" env:"SCRAP" default:"false"`
	RecencyLimit int           `hcl:"recency_limit" env:"RECENCY_LIMIT" default:"10"`
	PollInterval time.Duration `hcl:"poll_interval" env:"POLL_INTERVAL" default:"15m"`

	// Feeds are "URL" or "KEY=URL"; without a key a new archive is created
	// on every start.
	Feeds []string `hcl:"feeds" env:"FEEDS"`

	// Replicas are "KEY@REMOTE" pairs pulled from a peer.
	Replicas []string `hcl:"replicas" env:"REPLICAS"`

	LogLevel  string `hcl:"log_level" env:"LOG_LEVEL" default:"info"`
	LogFormat string `hcl:"log_format" env:"LOG_FORMAT" default:"text"`

	MetricsPrometheus bool   `hcl:"metrics_prometheus" env:"METRICS_PROMETHEUS" default:"true"`
	OTLPEndpoint      string `hcl:"otlp_endpoint" env:"OTLP_ENDPOINT"`
}

var (
	cfg  Config
	once sync.Once
)

// Get loads the configuration once from the default files and the environment.
func Get() Config {
	once.Do(func() {
		loaded, err := Load(DefaultFiles()...)
		if err != nil {
			slog.Error("failed to load config", "err", err)
		}
		cfg = loaded
	})

	return cfg
}

// DefaultFiles lists the files read by Get, lowest precedence first.
func DefaultFiles() []string {
	files := []string{"./feed-archive.hcl", "./feed-archive.local.hcl"}
	if home, err := os.UserHomeDir(); err == nil {
		files = append(files, filepath.Join(home, ".config", "feed-archive", "config.hcl"))
	}
	return files
}

// Load reads files in order, then the environment. Missing files are skipped.
func Load(files ...string) (Config, error) {
	var c Config
	loader := aconfig.LoaderFor(&c, aconfig.Config{
		SkipFlags: true,
		EnvPrefix: EnvPrefix,
		Files:     files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".hcl": aconfighcl.New(),
		},
	})

	if err := loader.Load(); err != nil {
		return c, fmt.Errorf("loading config: %w", err)
	}
	return c, nil
}

// ServerFeeds converts the feed settings for the server.
func (c Config) ServerFeeds() []server.FeedConfig {
	out := make([]server.FeedConfig, 0, len(c.Feeds))
	for _, f := range c.Feeds {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		key, url, ok := strings.Cut(f, "=")
		if !ok || strings.Contains(key, "://") {
			out = append(out, server.FeedConfig{URL: f})
			continue
		}
		out = append(out, server.FeedConfig{Key: key, URL: url})
	}
	return out
}

// ServerReplicas converts the replica settings for the server.
func (c Config) ServerReplicas() ([]server.ReplicaConfig, error) {
	out := make([]server.ReplicaConfig, 0, len(c.Replicas))
	for _, r := range c.Replicas {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		key, remote, ok := strings.Cut(r, "@")
		if !ok || key == "" || remote == "" {
			return nil, fmt.Errorf("replica %q: want KEY@REMOTE", r)
		}
		out = append(out, server.ReplicaConfig{Key: key, Remote: remote})
	}
	return out, nil
}
