package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/feed-archive/server"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "missing.hcl"))
	require.NoError(t, err)

	require.Equal(t, "./data", c.DataDir)
	require.Equal(t, ":8080", c.Address)
	require.Equal(t, 10, c.RecencyLimit)
	require.Equal(t, 15*time.Minute, c.PollInterval)
	require.False(t, c.Scrap)
	require.True(t, c.MetricsPrometheus)
	require.Equal(t, "text", c.LogFormat)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed-archive.hcl")
	err := os.WriteFile(path, []byte(`
data_dir = "/var/lib/feed-archive"
scrap = true
recency_limit = 25
poll_interval = "5m"
feeds = ["https://example.com/feed.xml"]
`), 0o600)
	require.NoError(t, err)

	c, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "/var/lib/feed-archive", c.DataDir)
	require.True(t, c.Scrap)
	require.Equal(t, 25, c.RecencyLimit)
	require.Equal(t, 5*time.Minute, c.PollInterval)
	require.Equal(t, []string{"https://example.com/feed.xml"}, c.Feeds)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed-archive.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`address = ":9000"`), 0o600))

	t.Setenv("FEED_ARCHIVE_ADDRESS", ":9100")
	t.Setenv("FEED_ARCHIVE_AUTH_TOKEN", "secret")

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9100", c.Address)
	require.Equal(t, "secret", c.AuthToken)
}

func TestServerFeeds(t *testing.T) {
	c := Config{Feeds: []string{
		"https://example.com/a.xml",
		"abc123=https://example.com/b.xml",
		"https://example.com/c.xml?x=1",
		" ",
	}}

	require.Equal(t, []server.FeedConfig{
		{URL: "https://example.com/a.xml"},
		{Key: "abc123", URL: "https://example.com/b.xml"},
		{URL: "https://example.com/c.xml?x=1"},
	}, c.ServerFeeds())
}

func TestServerReplicas(t *testing.T) {
	c := Config{Replicas: []string{"abc123@http://peer:8080"}}
	replicas, err := c.ServerReplicas()
	require.NoError(t, err)
	require.Equal(t, []server.ReplicaConfig{{Key: "abc123", Remote: "http://peer:8080"}}, replicas)

	_, err = Config{Replicas: []string{"no-remote"}}.ServerReplicas()
	require.Error(t, err)
}
