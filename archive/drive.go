// Package archive implements append-only, content-addressed archives of
// named records. A Drive holds any number of archives; each Archive handle is
// either owned (created here, writable) or a read-only view opened by key.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	feedarchive "github.com/wolfeidau/feed-archive"
	"github.com/wolfeidau/feed-archive/backend"
	"github.com/wolfeidau/feed-archive/store"
	"github.com/wolfeidau/feed-archive/store/metadb"
)

const indexFile = "index.db"

// Drive is the storage shared by the archives it holds: a blob store for
// record content and a bbolt index of record names.
type Drive struct {
	dir       string
	ephemeral bool
	codec     *backend.Codec
	blobs     *store.CAFS
	db        *metadb.BoltDB
	logger    *slog.Logger
}

// DriveOption configures a Drive.
type DriveOption func(*Drive)

// WithLogger sets the logger for the drive and its index.
func WithLogger(logger *slog.Logger) DriveOption {
	return func(d *Drive) {
		d.logger = logger
	}
}

// OpenDrive opens the drive stored under dir, creating it if needed.
// An empty dir gives an ephemeral drive: blobs live in memory and the index
// lives in a temporary directory that Close removes.
func OpenDrive(dir string, opts ...DriveOption) (*Drive, error) {
	d := &Drive{dir: dir, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}

	var (
		b    backend.Backend
		name string
	)
	if dir == "" {
		tmp, err := os.MkdirTemp("", "feed-archive-*")
		if err != nil {
			return nil, fmt.Errorf("creating ephemeral drive: %w", err)
		}
		d.dir = tmp
		d.ephemeral = true
		b, name = backend.NewMemory(), "memory"
	} else {
		fs, err := backend.NewFilesystem(dir)
		if err != nil {
			return nil, fmt.Errorf("creating filesystem backend: %w", err)
		}
		b, name = fs, "filesystem"
	}

	codec, err := backend.NewCodec()
	if err != nil {
		d.cleanup()
		return nil, err
	}
	d.codec = codec
	d.blobs = store.NewCAFS(backend.NewInstrumentedBackend(b, name), codec)

	d.db = metadb.NewBoltDB(metadb.WithLogger(d.logger), metadb.WithNoSync(d.ephemeral))
	if err := d.db.Open(filepath.Join(d.dir, indexFile)); err != nil {
		codec.Close()
		d.cleanup()
		return nil, err
	}

	d.logger.Debug("opened drive", "dir", d.dir, "ephemeral", d.ephemeral)
	return d, nil
}

// Close closes the index and, for ephemeral drives, discards everything.
func (d *Drive) Close() error {
	err := d.db.Close()
	d.codec.Close()
	d.cleanup()
	return err
}

func (d *Drive) cleanup() {
	if d.ephemeral {
		_ = os.RemoveAll(d.dir)
	}
}

// Ephemeral reports whether the drive is discarded on Close.
func (d *Drive) Ephemeral() bool {
	return d.ephemeral
}

// Create creates a brand-new archive owned by this process.
func (d *Drive) Create(ctx context.Context) (*Archive, error) {
	key, err := feedarchive.NewKey()
	if err != nil {
		return nil, err
	}
	if err := d.db.CreateArchive(ctx, &metadb.ArchiveInfo{Key: key.String(), Owned: true}); err != nil {
		return nil, &StorageError{Op: "create archive", Err: err}
	}
	d.logger.Info("created archive", "key", key.String())
	return &Archive{drive: d, key: key, owned: true}, nil
}

// Open returns a read-only handle for the archive with the given key.
// Keys the drive has never seen are registered as empty replicas so a peer
// can fill them in later.
func (d *Drive) Open(ctx context.Context, key feedarchive.Key) (*Archive, error) {
	_, err := d.db.GetArchive(ctx, key.String())
	switch {
	case err == nil:
	case errors.Is(err, metadb.ErrNotFound):
		if err := d.db.CreateArchive(ctx, &metadb.ArchiveInfo{Key: key.String()}); err != nil && !errors.Is(err, metadb.ErrArchiveExists) {
			return nil, &StorageError{Op: "register archive", Err: err}
		}
		d.logger.Debug("registered replica", "key", key.ShortString())
	default:
		return nil, &StorageError{Op: "open archive", Err: err}
	}
	return &Archive{drive: d, key: key}, nil
}

// Resume reopens an archive this drive created, with write access.
// Replicas and unknown keys return ErrPermissionDenied and ErrNotFound.
func (d *Drive) Resume(ctx context.Context, key feedarchive.Key) (*Archive, error) {
	info, err := d.db.GetArchive(ctx, key.String())
	if err != nil {
		if errors.Is(err, metadb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, &StorageError{Op: "open archive", Err: err}
	}
	if !info.Owned {
		return nil, ErrPermissionDenied
	}
	return &Archive{drive: d, key: key, owned: true}, nil
}

// Lookup returns a read-only handle for an archive the drive already holds.
// Unlike Open it never registers new keys.
func (d *Drive) Lookup(ctx context.Context, key feedarchive.Key) (*Archive, error) {
	if _, err := d.db.GetArchive(ctx, key.String()); err != nil {
		if errors.Is(err, metadb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, &StorageError{Op: "open archive", Err: err}
	}
	return &Archive{drive: d, key: key}, nil
}

// Archives lists every archive the drive holds.
func (d *Drive) Archives(ctx context.Context) ([]metadb.ArchiveInfo, error) {
	return d.db.ListArchives(ctx)
}

// Blob returns raw record content by hash, for peers replicating an archive.
func (d *Drive) Blob(ctx context.Context, h feedarchive.Hash) (*store.Blob, error) {
	blob, err := d.blobs.Get(ctx, h)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, &StorageError{Op: "read blob", Err: err}
	}
	return blob, nil
}

// HasBlob reports whether content with the given hash is on the drive.
func (d *Drive) HasBlob(ctx context.Context, h feedarchive.Hash) (bool, error) {
	ok, err := d.blobs.Has(ctx, h)
	if err != nil {
		return false, &StorageError{Op: "stat blob", Err: err}
	}
	return ok, nil
}

// PutBlob stores content received from a peer. The content must hash to want.
func (d *Drive) PutBlob(ctx context.Context, want feedarchive.Hash, contentType string, data []byte) (*store.PutResult, error) {
	if got := feedarchive.HashBytes(data); got != want {
		return nil, fmt.Errorf("%w: want %s, got %s", ErrHashMismatch, want.ShortString(), got.ShortString())
	}
	put, err := d.blobs.PutBytes(ctx, contentType, data)
	if err != nil {
		return nil, &StorageError{Op: "write blob", Err: err}
	}
	return put, nil
}
