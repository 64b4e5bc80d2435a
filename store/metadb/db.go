package metadb

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when an archive or record does not exist.
	ErrNotFound = errors.New("metadb: not found")

	// ErrArchiveExists is returned when creating an archive whose key is already indexed.
	ErrArchiveExists = errors.New("metadb: archive already exists")
)

// MetaDB indexes the records of every archive held by a drive.
//
// Each archive has an append-only log of record versions keyed by sequence
// number, plus a name index pointing at the newest version of each name.
// Readers only see versions up to the archive's sealed sequence.
type MetaDB interface {
	// Lifecycle
	Open(path string) error
	Close() error

	// Archives
	CreateArchive(ctx context.Context, info *ArchiveInfo) error
	GetArchive(ctx context.Context, key string) (*ArchiveInfo, error)
	ListArchives(ctx context.Context) ([]ArchiveInfo, error)

	// Seal marks every record appended so far as visible to readers and
	// returns the sealed sequence number.
	Seal(ctx context.Context, key string) (uint64, error)

	// Records
	AppendRecord(ctx context.Context, key string, rec *RecordEntry) (uint64, error)
	GetRecord(ctx context.Context, key, name string, upTo uint64) (*RecordEntry, error)
	ListRecords(ctx context.Context, key string, upTo uint64, prefix string) ([]RecordEntry, error)
}

// New creates a new MetaDB backed by bbolt.
func New() MetaDB {
	return NewBoltDB()
}
