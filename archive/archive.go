package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	feedarchive "github.com/wolfeidau/feed-archive"
	"github.com/wolfeidau/feed-archive/store/metadb"
	"github.com/wolfeidau/feed-archive/telemetry"
)

// Record describes the newest visible version of a named record.
type Record struct {
	Name        string
	CTime       int64 // milliseconds since epoch, 0 when unknown
	Size        int64
	Hash        feedarchive.Hash
	ContentType string
	Seq         uint64
}

// Time returns CTime as a time, or the zero time when it is unknown.
func (r Record) Time() time.Time {
	if r.CTime == 0 {
		return time.Time{}
	}
	return time.UnixMilli(r.CTime).UTC()
}

// File is a record together with its content.
type File struct {
	Record
	Data []byte
}

// ListOption filters an archive listing.
type ListOption func(*listOptions)

type listOptions struct {
	prefix string
}

// WithPrefix limits a listing to record names starting with prefix.
func WithPrefix(prefix string) ListOption {
	return func(o *listOptions) {
		o.prefix = prefix
	}
}

// Archive is a handle to one archive on a drive.
type Archive struct {
	drive *Drive
	key   feedarchive.Key
	owned bool
}

// Key returns the archive's unique key.
func (a *Archive) Key() feedarchive.Key {
	return a.key
}

// Owned reports whether this process created the archive and may append to it.
func (a *Archive) Owned() bool {
	return a.owned
}

// WriteFile appends a new version of the named record.
// Records are never modified in place; a later write of the same name wins.
func (a *Archive) WriteFile(ctx context.Context, name string, ctime int64, contentType string, r io.Reader) (*Record, error) {
	if !a.owned {
		return nil, ErrPermissionDenied
	}

	put, err := a.drive.blobs.Put(ctx, contentType, r)
	if err != nil {
		return nil, &StorageError{Op: "write " + name, Err: err}
	}

	entry := &metadb.RecordEntry{
		Name:        name,
		Hash:        put.Hash.String(),
		Size:        put.Size,
		ContentType: contentType,
		CTime:       ctime,
	}
	if _, err := a.drive.db.AppendRecord(ctx, a.key.String(), entry); err != nil {
		return nil, &StorageError{Op: "index " + name, Err: err}
	}
	telemetry.RecordRecordWrite(ctx, put.Size, !put.Exists)

	a.drive.logger.Debug("wrote record",
		"archive", a.key.ShortString(),
		"name", name,
		"hash", put.Hash.ShortString(),
		"size", put.Size,
		"deduplicated", put.Exists,
	)

	return recordFromEntry(entry)
}

// ReadFile returns the newest visible version of the named record.
func (a *Archive) ReadFile(ctx context.Context, name string) (*File, error) {
	rec, err := a.Stat(ctx, name)
	if err != nil {
		return nil, err
	}

	blob, err := a.drive.Blob(ctx, rec.Hash)
	if err != nil {
		return nil, err
	}

	return &File{Record: *rec, Data: blob.Data}, nil
}

// OpenFile returns a reader over the named record's content.
func (a *Archive) OpenFile(ctx context.Context, name string) (io.ReadCloser, error) {
	f, err := a.ReadFile(ctx, name)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(f.Data)), nil
}

// Stat returns the newest visible version of the named record without its content.
func (a *Archive) Stat(ctx context.Context, name string) (*Record, error) {
	upTo, err := a.visibleSeq(ctx)
	if err != nil {
		return nil, err
	}

	entry, err := a.drive.db.GetRecord(ctx, a.key.String(), name, upTo)
	if err != nil {
		if errors.Is(err, metadb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, &StorageError{Op: "stat " + name, Err: err}
	}
	return recordFromEntry(entry)
}

// List returns every visible record, oldest first.
// Owners see everything they have written; read-only handles see only
// finalized records.
func (a *Archive) List(ctx context.Context, opts ...ListOption) ([]Record, error) {
	var o listOptions
	for _, opt := range opts {
		opt(&o)
	}

	upTo, err := a.visibleSeq(ctx)
	if err != nil {
		return nil, err
	}

	entries, err := a.drive.db.ListRecords(ctx, a.key.String(), upTo, o.prefix)
	if err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}

	records := make([]Record, 0, len(entries))
	for i := range entries {
		rec, err := recordFromEntry(&entries[i])
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

// Finalize seals every record written so far, making it visible to
// read-only handles and peers.
func (a *Archive) Finalize(ctx context.Context) error {
	sealed, err := a.drive.db.Seal(ctx, a.key.String())
	if err != nil {
		return &StorageError{Op: "finalize", Err: err}
	}
	a.drive.logger.Debug("finalized archive", "archive", a.key.ShortString(), "seq", sealed)
	return nil
}

// Apply appends a record received from a peer. Its content must already be
// on the drive (see Drive.PutBlob). Archives created on this drive never
// accept applied records.
func (a *Archive) Apply(ctx context.Context, rec Record) error {
	info, err := a.drive.db.GetArchive(ctx, a.key.String())
	if err != nil {
		return &StorageError{Op: "load archive", Err: err}
	}
	if info.Owned {
		return ErrOwned
	}

	ok, err := a.drive.HasBlob(ctx, rec.Hash)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: blob %s for %s", ErrNotFound, rec.Hash.ShortString(), rec.Name)
	}

	entry := &metadb.RecordEntry{
		Name:        rec.Name,
		Hash:        rec.Hash.String(),
		Size:        rec.Size,
		ContentType: rec.ContentType,
		CTime:       rec.CTime,
	}
	if _, err := a.drive.db.AppendRecord(ctx, a.key.String(), entry); err != nil {
		return &StorageError{Op: "index " + rec.Name, Err: err}
	}
	return nil
}

func (a *Archive) visibleSeq(ctx context.Context) (uint64, error) {
	info, err := a.drive.db.GetArchive(ctx, a.key.String())
	if err != nil {
		return 0, &StorageError{Op: "load archive", Err: err}
	}
	if a.owned {
		return info.LastSeq, nil
	}
	return info.SealedSeq, nil
}

func recordFromEntry(e *metadb.RecordEntry) (*Record, error) {
	h, err := feedarchive.ParseHash(e.Hash)
	if err != nil {
		return nil, &StorageError{Op: "decode " + e.Name, Err: err}
	}
	return &Record{
		Name:        e.Name,
		CTime:       e.CTime,
		Size:        e.Size,
		Hash:        h,
		ContentType: e.ContentType,
		Seq:         e.Seq,
	}, nil
}
