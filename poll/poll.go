// Package poll keeps archives current in the background: owned mirrors are
// refreshed from their feed URL and replicas are pulled from their peer on a
// fixed interval.
package poll

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// UpdateFunc refreshes an owned mirror from its feed URL.
type UpdateFunc func(ctx context.Context, url string) error

// ReplicateFunc pulls an archive from a peer and reports the records applied.
// (*swarm.Swarm).Replicate has this shape.
type ReplicateFunc func(ctx context.Context, remote string) (int, error)

// Feed is an owned mirror refreshed from URL on every run.
type Feed struct {
	Name   string
	URL    string
	Update UpdateFunc
}

// Replica is an archive pulled from Remote on every run.
type Replica struct {
	Name      string
	Remote    string
	Replicate ReplicateFunc
}

// Config holds polling configuration.
type Config struct {
	// Interval is how often to poll.
	// Default is 15 minutes.
	Interval time.Duration

	// Logger for polling events.
	Logger *slog.Logger
}

// Manager runs the configured feeds and replicas on an interval.
type Manager struct {
	config   Config
	feeds    []Feed
	replicas []Replica
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewManager creates a new poll manager.
func NewManager(cfg Config, feeds []Feed, replicas []Replica) *Manager {
	if cfg.Interval == 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Manager{
		config:   cfg,
		feeds:    feeds,
		replicas: replicas,
		logger:   cfg.Logger,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins background polling.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped || m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.mu.Unlock()

	go m.run(ctx)
	return nil
}

// Stop stops background polling and waits for an in-progress run to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running || m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	close(m.stopCh)
	<-m.doneCh
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	// Run immediately on start
	m.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.runOnce(ctx)
		}
	}
}

// Result contains the results of a polling run.
type Result struct {
	Updated    int
	Replicated int
	Records    int
	Errors     int
	Duration   time.Duration
}

// RunOnce polls every feed and replica once.
func (m *Manager) RunOnce(ctx context.Context) *Result {
	return m.runOnce(ctx)
}

func (m *Manager) runOnce(ctx context.Context) *Result {
	start := m.now()
	result := &Result{}

	for _, f := range m.feeds {
		if ctx.Err() != nil {
			break
		}
		if err := f.Update(ctx, f.URL); err != nil {
			m.logger.Error("feed update failed", "feed", f.Name, "url", f.URL, "error", err)
			result.Errors++
			continue
		}
		result.Updated++
	}

	for _, r := range m.replicas {
		if ctx.Err() != nil {
			break
		}
		n, err := r.Replicate(ctx, r.Remote)
		if err != nil {
			m.logger.Error("replication failed", "archive", r.Name, "remote", r.Remote, "error", err)
			result.Errors++
			continue
		}
		result.Replicated++
		result.Records += n
	}

	result.Duration = m.now().Sub(start)

	m.logger.Info("poll complete",
		"updated", result.Updated,
		"replicated", result.Replicated,
		"records", result.Records,
		"errors", result.Errors,
		"duration", result.Duration,
	)

	return result
}
