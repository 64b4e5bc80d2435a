package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	feedarchive "github.com/wolfeidau/feed-archive"
	"github.com/wolfeidau/feed-archive/archive"
	"github.com/wolfeidau/feed-archive/feed"
	"github.com/wolfeidau/feed-archive/fetch"
	"github.com/wolfeidau/feed-archive/telemetry"
)

const entryContentType = "application/json"

// Mirror is the owner's handle on a mirrored archive. It can do everything a
// Reader can and also append to the archive.
type Mirror struct {
	*Reader
	index guidIndex
}

// Create starts a new archive on drive, owned by the returned Mirror.
func Create(ctx context.Context, drive *archive.Drive, opts ...Option) (*Mirror, error) {
	a, err := drive.Create(ctx)
	if err != nil {
		return nil, err
	}
	return &Mirror{Reader: newReader(drive, a, newOptions(opts))}, nil
}

// Resume reopens an archive previously created on drive, with write access.
// It fails with ErrPermissionDenied for archives the drive only replicates.
func Resume(ctx context.Context, drive *archive.Drive, key feedarchive.Key, opts ...Option) (*Mirror, error) {
	a, err := drive.Resume(ctx, key)
	if err != nil {
		return nil, err
	}
	m := &Mirror{Reader: newReader(drive, a, newOptions(opts))}
	if _, err := m.loadMeta(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Finalize makes every record written so far visible to readers and peers.
func (m *Mirror) Finalize(ctx context.Context) error {
	return m.archive.Finalize(ctx)
}

// Update mirrors a feed document: its metadata replaces the stored metadata
// and every entry not already archived is saved, then scrapped when scrapping
// is enabled. Work happens in document order and stops at the first failure;
// anything written before the failure stays written.
func (m *Mirror) Update(ctx context.Context, raw []byte) (*Mirror, error) {
	return m.update(ctx, raw, "")
}

// UpdateFrom fetches the feed at url and mirrors it with Update. The feed
// URL is recorded in the metadata when the document does not carry one.
func (m *Mirror) UpdateFrom(ctx context.Context, url string) (*Mirror, error) {
	resp, err := m.opts.fetcher.Fetch(telemetry.WithSource(ctx, "feed"), url)
	if err != nil {
		return nil, err
	}
	return m.update(ctx, resp.Body, url)
}

func (m *Mirror) update(ctx context.Context, raw []byte, sourceURL string) (*Mirror, error) {
	meta, entries, err := feed.Parse(raw)
	if err != nil {
		return nil, err
	}
	if meta.XMLURL == "" {
		meta.XMLURL = sourceURL
	}

	var p pipeline
	p.add(MetaName, func(ctx context.Context) error {
		return m.writeMeta(ctx, meta)
	})
	for e := range entries {
		m.addEntrySteps(&p, e)
	}

	if err := p.run(ctx); err != nil {
		return nil, err
	}

	m.opts.logger.Info("updated archive", "archive", m.Key().ShortString(), "title", meta.Title, "steps", len(p))
	return m, nil
}

// SetMeta replaces the stored feed metadata.
func (m *Mirror) SetMeta(ctx context.Context, meta feed.Meta) (*Mirror, error) {
	if err := m.writeMeta(ctx, meta); err != nil {
		return nil, err
	}
	return m, nil
}

// Push archives a single entry immediately. An entry that cannot be stored
// as given is rejected with a *ValidationError; any other failure is
// reported as ErrArchiveFailed.
func (m *Mirror) Push(ctx context.Context, e feed.Entry) (*Mirror, error) {
	if err := validateGUID(e.GUID); err != nil {
		telemetry.RecordEntry(ctx, telemetry.EntryInvalid)
		return nil, err
	}

	var p pipeline
	m.addEntrySteps(&p, e)

	if err := p.run(ctx); err != nil {
		m.opts.logger.Error("push failed", "archive", m.Key().ShortString(), "guid", e.GUID, "error", err)
		return nil, ErrArchiveFailed
	}
	return m, nil
}

func (m *Mirror) writeMeta(ctx context.Context, meta feed.Meta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	if _, err := m.archive.WriteFile(ctx, MetaName, 0, entryContentType, bytes.NewReader(data)); err != nil {
		return err
	}
	m.setMeta(meta)
	return nil
}

// addEntrySteps appends the save step for e and, when scrapping, the scrap
// step. The scrap step runs for duplicates too, so a body that failed to
// fetch on an earlier update is retried.
func (m *Mirror) addEntrySteps(p *pipeline, e feed.Entry) {
	p.add("save "+e.GUID, func(ctx context.Context) error {
		return m.save(ctx, e)
	})
	if m.opts.scrap {
		p.add("scrap "+e.GUID, func(ctx context.Context) error {
			return m.scrap(ctx, e)
		})
	}
}

// save writes e under its GUID unless an entry with that GUID is already
// archived.
func (m *Mirror) save(ctx context.Context, e feed.Entry) error {
	if err := validateGUID(e.GUID); err != nil {
		telemetry.RecordEntry(ctx, telemetry.EntryInvalid)
		return err
	}

	if err := m.index.seed(ctx, m.archive); err != nil {
		return err
	}
	if m.index.has(e.GUID) {
		telemetry.RecordEntry(ctx, telemetry.EntryDuplicate)
		m.opts.logger.Debug("skipping duplicate entry", "guid", e.GUID)
		return nil
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding entry: %w", err)
	}
	if _, err := m.archive.WriteFile(ctx, e.GUID, e.CTime(), entryContentType, bytes.NewReader(data)); err != nil {
		return err
	}

	m.index.add(e.GUID)
	telemetry.RecordEntry(ctx, telemetry.EntrySaved)
	return nil
}

// scrap fetches the full body e links to and stores it under its GUID with
// ContentSuffix. Nothing is fetched when that record already exists.
func (m *Mirror) scrap(ctx context.Context, e feed.Entry) error {
	switch _, err := m.archive.Stat(ctx, e.GUID+ContentSuffix); {
	case err == nil:
		return nil
	case !errors.Is(err, archive.ErrNotFound):
		return err
	}

	url := e.SourceURL()
	if url == "" {
		return &FetchError{Err: ErrNoURL}
	}

	resp, err := m.opts.fetcher.Fetch(telemetry.WithSource(ctx, "scrap"), url)
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			return err
		}
		return &FetchError{URL: url, Err: err}
	}
	if resp.StatusCode != 0 && resp.StatusCode != http.StatusOK {
		return &FetchError{URL: url, StatusCode: resp.StatusCode, Err: fetch.ErrInvalidStatus}
	}

	contentType := resp.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := m.archive.WriteFile(ctx, e.GUID+ContentSuffix, e.CTime(), contentType, bytes.NewReader(resp.Body)); err != nil {
		return err
	}

	telemetry.RecordEntry(ctx, telemetry.EntryScrapped)
	return nil
}

func validateGUID(guid string) error {
	switch {
	case guid == "":
		return ErrMissingGUID
	case guid == MetaName:
		return &ValidationError{Field: "guid", Reason: "reserved name " + MetaName}
	case strings.HasSuffix(guid, ContentSuffix):
		return &ValidationError{Field: "guid", Reason: "must not end with " + ContentSuffix}
	}
	return nil
}

// guidIndex tracks the GUIDs already archived. It is seeded from the
// archive listing on first use.
type guidIndex struct {
	mu     sync.Mutex
	seeded bool
	guids  map[string]struct{}
}

func (x *guidIndex) seed(ctx context.Context, a *archive.Archive) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.seeded {
		return nil
	}

	records, err := a.List(ctx)
	if err != nil {
		return err
	}
	x.guids = make(map[string]struct{}, len(records))
	for _, rec := range records {
		if isEntryName(rec.Name) {
			x.guids[rec.Name] = struct{}{}
		}
	}
	x.seeded = true
	return nil
}

func (x *guidIndex) has(guid string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, ok := x.guids[guid]
	return ok
}

func (x *guidIndex) add(guid string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.guids[guid] = struct{}{}
}
