// Package swarm shares archives between peers over HTTP. A peer serves a
// manifest of each archive's finalized records plus the content they point
// to; another peer replicates an archive by fetching the manifest and every
// blob it is missing, verifying each against its BLAKE3 reference.
package swarm

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	feedarchive "github.com/wolfeidau/feed-archive"
	"github.com/wolfeidau/feed-archive/archive"
	"github.com/wolfeidau/feed-archive/download"
	"github.com/wolfeidau/feed-archive/fetch"
	"github.com/wolfeidau/feed-archive/telemetry"
)

// PathPrefix is where peers expect the swarm routes to be mounted.
const PathPrefix = "/swarm/"

// Peer serves the archives on a drive and replicates archives from other peers.
type Peer struct {
	drive       *archive.Drive
	fetcher     *fetch.Fetcher
	downloads   *download.Downloader
	concurrency int
	logger      *slog.Logger
	mux         *http.ServeMux
}

// Option configures a Peer.
type Option func(*Peer)

// WithLogger sets the logger for the peer.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Peer) {
		p.logger = logger
	}
}

// WithFetcher sets the fetcher used to talk to remote peers.
func WithFetcher(f *fetch.Fetcher) Option {
	return func(p *Peer) {
		p.fetcher = f
	}
}

// WithConcurrency bounds how many blobs are downloaded at once.
func WithConcurrency(n int) Option {
	return func(p *Peer) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// NewPeer creates a peer for the archives on drive.
func NewPeer(drive *archive.Drive, opts ...Option) *Peer {
	p := &Peer{
		drive:       drive,
		concurrency: 4,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.fetcher == nil {
		p.fetcher = fetch.NewFetcher("swarm", fetch.WithLogger(p.logger))
	}
	p.downloads = download.New(download.WithLogger(p.logger))

	p.mux = http.NewServeMux()
	p.mux.HandleFunc("GET /swarm/{key}", p.handleManifest)
	p.mux.HandleFunc("GET /swarm/{key}/blobs/{ref}", p.handleBlob)
	p.mux.HandleFunc("HEAD /swarm/{key}/blobs/{ref}", p.handleBlob)
	return p
}

// Join returns the replication handle for one archive.
func (p *Peer) Join(key feedarchive.Key) *Swarm {
	return &Swarm{peer: p, key: key}
}

// ServeHTTP serves the manifest and blobs of every archive on the drive.
func (p *Peer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mux.ServeHTTP(w, r)
}

// Manifest returns the finalized records of an archive held on the drive.
func (p *Peer) Manifest(ctx context.Context, key feedarchive.Key) (*Manifest, error) {
	a, err := p.drive.Lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	records, err := a.List(ctx)
	if err != nil {
		return nil, err
	}
	return &Manifest{
		Key:     key,
		Records: lo.Map(records, func(rec archive.Record, _ int) ManifestRecord { return manifestRecord(rec) }),
	}, nil
}

func (p *Peer) handleManifest(w http.ResponseWriter, r *http.Request) {
	telemetry.SetRoute(r, "/swarm/{key}")

	key, err := feedarchive.ParseKey(r.PathValue("key"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	telemetry.SetArchive(r, key.ShortString())

	m, err := p.Manifest(r.Context(), key)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		download.HandleError(w, p.logger, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(m); err != nil {
		p.logger.Error("failed to encode manifest", "archive", key.ShortString(), "error", err)
	}
}

func (p *Peer) handleBlob(w http.ResponseWriter, r *http.Request) {
	telemetry.SetRoute(r, "/swarm/{key}/blobs/{ref}")

	key, err := feedarchive.ParseKey(r.PathValue("key"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	telemetry.SetArchive(r, key.ShortString())

	ref, err := feedarchive.ParseBlobRef(r.PathValue("ref"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Only content referenced by a finalized record of this archive is served.
	m, err := p.Manifest(r.Context(), key)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		download.HandleError(w, p.logger, err)
		return
	}
	if !lo.ContainsBy(m.Records, func(rec ManifestRecord) bool { return rec.Blob.Hash == ref.Hash }) {
		http.NotFound(w, r)
		return
	}

	blob, err := p.drive.Blob(r.Context(), ref.Hash)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		download.HandleError(w, p.logger, err)
		return
	}

	download.ServeBlob(w, r, blob, download.ServeOptions{
		ExtraHeaders: map[string]string{"Cache-Control": "public, max-age=31536000, immutable"},
	}, p.logger)
}

// Replicate copies the finalized records of archive key from the peer at
// remote into the local drive and returns how many records were applied.
// Archives created on this drive cannot be replicated into.
func (p *Peer) Replicate(ctx context.Context, remote string, key feedarchive.Key) (int, error) {
	start := time.Now()
	n, err := p.replicate(ctx, strings.TrimSuffix(remote, "/"), key)

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	telemetry.RecordReplication(ctx, outcome, n, time.Since(start))
	return n, err
}

func (p *Peer) replicate(ctx context.Context, base string, key feedarchive.Key) (int, error) {
	ctx = telemetry.WithSource(ctx, "swarm")

	if _, err := p.drive.Resume(ctx, key); err == nil {
		return 0, archive.ErrOwned
	}
	a, err := p.drive.Open(ctx, key)
	if err != nil {
		return 0, err
	}

	resp, err := p.fetcher.Fetch(ctx, base+PathPrefix+key.String())
	if err != nil {
		return 0, err
	}
	var m Manifest
	if err := json.Unmarshal(resp.Body, &m); err != nil {
		return 0, fmt.Errorf("decoding manifest: %w", err)
	}
	if m.Key != key {
		return 0, fmt.Errorf("manifest is for archive %s, want %s", m.Key.ShortString(), key.ShortString())
	}

	local, err := a.List(ctx)
	if err != nil {
		return 0, err
	}
	have := lo.SliceToMap(local, func(rec archive.Record) (string, feedarchive.Hash) {
		return rec.Name, rec.Hash
	})

	missing := lo.Filter(m.Records, func(rec ManifestRecord, _ int) bool {
		h, ok := have[rec.Name]
		return !ok || h != rec.Blob.Hash
	})
	if len(missing) == 0 {
		p.logger.Debug("archive up to date", "archive", key.ShortString(), "remote", base)
		return 0, nil
	}
	slices.SortFunc(missing, func(x, y ManifestRecord) int { return cmp.Compare(x.Seq, y.Seq) })

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, rec := range lo.UniqBy(missing, func(rec ManifestRecord) feedarchive.Hash { return rec.Blob.Hash }) {
		g.Go(func() error {
			return p.fetchBlob(gctx, base, key, rec)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	for _, rec := range missing {
		if err := a.Apply(ctx, rec.record()); err != nil {
			return 0, fmt.Errorf("applying %s: %w", rec.Name, err)
		}
	}
	if err := a.Finalize(ctx); err != nil {
		return 0, err
	}

	p.logger.Info("replicated archive", "archive", key.ShortString(), "remote", base, "records", len(missing))
	return len(missing), nil
}

// fetchBlob makes sure the content of rec is on the drive, downloading it
// from the remote peer when needed. Concurrent requests for the same blob
// share one download.
func (p *Peer) fetchBlob(ctx context.Context, base string, key feedarchive.Key, rec ManifestRecord) error {
	ok, err := p.drive.HasBlob(ctx, rec.Blob.Hash)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	ref := rec.Blob.String()
	_, shared, err := p.downloads.Do(ctx, ref, func(ctx context.Context) (*download.Result, error) {
		resp, err := p.fetcher.Fetch(ctx, base+PathPrefix+key.String()+"/blobs/"+ref)
		if err != nil {
			return nil, err
		}
		put, err := p.drive.PutBlob(ctx, rec.Blob.Hash, rec.ContentType, resp.Body)
		if err != nil {
			return nil, err
		}
		return &download.Result{Hash: put.Hash, Size: put.Size}, nil
	})
	if err != nil {
		p.downloads.ForgetOnError(ref, err)
		return fmt.Errorf("downloading %s: %w", rec.Name, err)
	}

	p.logger.Debug("downloaded blob", "name", rec.Name, "ref", rec.Blob.Hash.ShortString(), "shared", shared)
	return nil
}
