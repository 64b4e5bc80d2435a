package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/wolfeidau/feed-archive/server"
	"github.com/wolfeidau/feed-archive/telemetry"
)

type ServeCmd struct {
	Address      string        `help:"Address to listen on." default:"${address}"`
	RecencyLimit int           `help:"Entries rendered when a request does not ask for a count." default:"${recency_limit}"`
	PollInterval time.Duration `help:"How often configured feeds are refreshed." default:"${poll_interval}"`
	Scrap        bool          `help:"Fetch the full body of every new entry." default:"${scrap}"`
}

func (c *ServeCmd) Run(g *Globals) error {
	ctx := g.ctx
	logger := g.logger

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:      "feed-archive",
		ServiceVersion:   version,
		OTLPEndpoint:     g.cfg.OTLPEndpoint,
		EnablePrometheus: g.cfg.MetricsPrometheus,
	})
	if err != nil {
		return fmt.Errorf("initialising metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown failed", "error", err)
		}
	}()

	replicas, err := g.cfg.ServerReplicas()
	if err != nil {
		return err
	}

	d, err := g.openDrive()
	if err != nil {
		return err
	}
	defer d.Close()

	srv, err := server.New(ctx, server.Config{
		Address:      c.Address,
		AuthToken:    g.cfg.AuthToken,
		RecencyLimit: c.RecencyLimit,
		Scrap:        c.Scrap,
		PollInterval: c.PollInterval,
		Feeds:        g.cfg.ServerFeeds(),
		Replicas:     replicas,
		Logger:       logger,
	}, d)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info("server started",
		"address", srv.Address(),
		"archives_url", fmt.Sprintf("http://localhost%s/archives", srv.Address()),
	)

	// Wait for shutdown or error
	select {
	case <-ctx.Done():
		logger.Info("received signal, shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
