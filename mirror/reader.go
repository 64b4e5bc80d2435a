// Package mirror mirrors a syndication feed into an append-only archive and
// renders the archive back out as RSS.
//
// A Mirror owns its archive and is the only handle that can write to it. A
// Reader is a read-only view of an archive opened by key, typically one
// replicated from a peer.
package mirror

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	feedarchive "github.com/wolfeidau/feed-archive"
	"github.com/wolfeidau/feed-archive/archive"
	"github.com/wolfeidau/feed-archive/feed"
	"github.com/wolfeidau/feed-archive/fetch"
	"github.com/wolfeidau/feed-archive/swarm"
)

const (
	// MetaName is the reserved record name holding the feed metadata.
	MetaName = "_meta"

	// ContentSuffix is appended to an entry's GUID to name its scrapped body.
	ContentSuffix = ":content"
)

// Reader is a read-only view of a mirrored archive.
type Reader struct {
	drive   *archive.Drive
	archive *archive.Archive
	opts    options

	mu   sync.RWMutex
	meta *feed.Meta
}

// Open returns a read-only view of the archive with the given key. Opening
// does no network I/O; an archive the drive has never seen is empty until it
// is replicated.
func Open(ctx context.Context, drive *archive.Drive, key feedarchive.Key, opts ...Option) (*Reader, error) {
	a, err := drive.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	r := newReader(drive, a, newOptions(opts))
	if _, err := r.loadMeta(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func newReader(drive *archive.Drive, a *archive.Archive, opts options) *Reader {
	return &Reader{drive: drive, archive: a, opts: opts}
}

// Key returns the archive key.
func (r *Reader) Key() feedarchive.Key {
	return r.archive.Key()
}

// Meta returns the last known feed metadata and whether any is known.
func (r *Reader) Meta() (feed.Meta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.meta == nil {
		return feed.Meta{}, false
	}
	return *r.meta, true
}

func (r *Reader) setMeta(meta feed.Meta) {
	r.mu.Lock()
	r.meta = &meta
	r.mu.Unlock()
}

// loadMeta refreshes the cached metadata from the archive. A missing record
// leaves the cache untouched.
func (r *Reader) loadMeta(ctx context.Context) (feed.Meta, error) {
	f, err := r.archive.ReadFile(ctx, MetaName)
	switch {
	case errors.Is(err, archive.ErrNotFound):
		meta, _ := r.Meta()
		return meta, nil
	case err != nil:
		return feed.Meta{}, err
	}

	var meta feed.Meta
	if err := json.Unmarshal(f.Data, &meta); err != nil {
		return feed.Meta{}, fmt.Errorf("decoding %s: %w", MetaName, err)
	}
	r.setMeta(meta)
	return meta, nil
}

// Swarm returns the replication handle for this archive.
func (r *Reader) Swarm() *swarm.Swarm {
	return swarm.NewPeer(r.drive, swarm.WithLogger(r.opts.logger)).Join(r.archive.Key())
}

// List returns the entry records of the archive, excluding the metadata
// record and scrapped bodies. An owner finalizes pending writes first.
func (r *Reader) List(ctx context.Context, opts ...archive.ListOption) ([]archive.Record, error) {
	if r.archive.Owned() {
		if err := r.archive.Finalize(ctx); err != nil {
			return nil, err
		}
	}

	records, err := r.archive.List(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return lo.Filter(records, func(rec archive.Record, _ int) bool {
		return isEntryName(rec.Name)
	}), nil
}

// XML renders the newest entries as an RSS 2.0 document, newest first.
// At most recency entries are rendered; a recency of zero or less uses the
// configured recency limit.
func (r *Reader) XML(ctx context.Context, recency int) (string, error) {
	if recency <= 0 {
		recency = r.opts.recencyLimit
	}

	records, err := r.List(ctx)
	if err != nil {
		return "", err
	}

	slices.SortStableFunc(records, func(a, b archive.Record) int {
		return cmp.Or(cmp.Compare(b.CTime, a.CTime), cmp.Compare(b.Seq, a.Seq))
	})
	if len(records) > recency {
		records = records[:recency]
	}

	entries := make([]feed.Entry, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.concurrency)
	for i, rec := range records {
		g.Go(func() error {
			e, err := r.loadEntry(gctx, rec.Name)
			if err != nil {
				return fmt.Errorf("loading %s: %w", rec.Name, err)
			}
			entries[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	meta, err := r.loadMeta(ctx)
	if err != nil {
		return "", err
	}

	return feed.Render(meta, entries)
}

// loadEntry reads an entry and, when one was scrapped, replaces its content
// with the readable text of the full body.
func (r *Reader) loadEntry(ctx context.Context, guid string) (feed.Entry, error) {
	f, err := r.archive.ReadFile(ctx, guid)
	if err != nil {
		return feed.Entry{}, err
	}

	var e feed.Entry
	if err := json.Unmarshal(f.Data, &e); err != nil {
		return feed.Entry{}, fmt.Errorf("decoding entry: %w", err)
	}

	body, err := r.archive.ReadFile(ctx, guid+ContentSuffix)
	switch {
	case errors.Is(err, archive.ErrNotFound):
		return e, nil
	case err != nil:
		return feed.Entry{}, err
	}

	text, err := fetch.Extract(body.Data, body.ContentType, e.SourceURL())
	if err != nil {
		r.opts.logger.Warn("extracting scrapped body", "guid", guid, "error", err)
		return e, nil
	}
	if text != "" {
		e.Content = text
	}
	return e, nil
}

func isEntryName(name string) bool {
	return name != MetaName && !strings.HasSuffix(name, ContentSuffix)
}
