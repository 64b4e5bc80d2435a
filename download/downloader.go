// Package download deduplicates concurrent blob downloads from peers with
// singleflight and serves stored blobs over HTTP. When several replications
// need the same blob at once, it is fetched only once.
package download

import (
	"context"
	"errors"
	"log/slog"

	feedarchive "github.com/wolfeidau/feed-archive"
	"golang.org/x/sync/singleflight"
)

// Result holds the outcome of a download operation.
type Result struct {
	Hash feedarchive.Hash
	Size int64
}

// DownloadFunc fetches a blob from a peer, verifies its hash, and stores it on the drive.
// The context passed to DownloadFunc is detached from any single request so
// that one caller timing out does not cancel the download for other waiters.
type DownloadFunc func(ctx context.Context) (*Result, error)

// Downloader deduplicates concurrent downloads for the same resource key
// using singleflight. It uses DoChan so each caller can respect its own
// context deadline without cancelling the in-flight download for others.
type Downloader struct {
	group  singleflight.Group
	logger *slog.Logger
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithLogger sets the logger for the downloader.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Downloader) {
		d.logger = logger
	}
}

// New creates a new Downloader.
func New(opts ...Option) *Downloader {
	d := &Downloader{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Do deduplicates concurrent downloads for the same key.
// The fn receives a background context (not tied to any single request).
// Returns the result, whether it was shared with another caller, and any error.
//
// If the caller's context expires before the download completes, Do returns
// the context error but the in-flight download continues for other waiters.
func (d *Downloader) Do(ctx context.Context, key string, fn DownloadFunc) (*Result, bool, error) {
	ch := d.group.DoChan(key, func() (any, error) {
		// Use a detached context so that no single caller's cancellation
		// stops the download for everyone else.
		return fn(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Shared, res.Err
		}
		return res.Val.(*Result), res.Shared, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// ForgetOnError forgets key after a real download failure so the next caller
// retries. Caller timeouts and cancellations leave the in-flight download alone.
func (d *Downloader) ForgetOnError(key string, err error) {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	d.logger.Debug("forgetting failed download", "key", key, "error", err)
	d.group.Forget(key)
}
