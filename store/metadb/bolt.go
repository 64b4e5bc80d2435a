package metadb

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

// BoltDB implements MetaDB using bbolt.
type BoltDB struct {
	db     *bbolt.DB
	logger *slog.Logger
	now    func() time.Time
	noSync bool // disables fsync per transaction (for testing only)
}

// BoltDBOption configures a BoltDB instance.
type BoltDBOption func(*BoltDB)

// WithLogger sets the logger for the database.
func WithLogger(logger *slog.Logger) BoltDBOption {
	return func(b *BoltDB) {
		b.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) BoltDBOption {
	return func(b *BoltDB) {
		b.now = now
	}
}

// WithNoSync disables fsync per transaction.
// WARNING: This improves write performance but risks data loss on crash.
// Ephemeral drives use it; persistent drives never should.
func WithNoSync(noSync bool) BoltDBOption {
	return func(b *BoltDB) {
		b.noSync = noSync
	}
}

// NewBoltDB creates a new BoltDB instance with options.
func NewBoltDB(opts ...BoltDBOption) *BoltDB {
	b := &BoltDB{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open opens the database at the given path.
func (b *BoltDB) Open(path string) error {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  b.noSync,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	b.db = db

	if err := b.createBuckets(); err != nil {
		_ = db.Close()
		return err
	}

	b.logger.Debug("opened metadb", "path", path, "noSync", b.noSync)
	return nil
}

func (b *BoltDB) createBuckets() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketArchives, bucketRecords} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Close closes the database and releases resources.
func (b *BoltDB) Close() error {
	if b.db == nil {
		return nil
	}
	b.logger.Debug("closing metadb")
	err := b.db.Close()
	b.db = nil
	return err
}

// CreateArchive registers a new, empty archive.
func (b *BoltDB) CreateArchive(_ context.Context, info *ArchiveInfo) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		archives := tx.Bucket(bucketArchives)
		if archives.Get([]byte(info.Key)) != nil {
			return ErrArchiveExists
		}

		if info.CreatedAt.IsZero() {
			info.CreatedAt = b.now().UTC()
		}

		records, err := tx.Bucket(bucketRecords).CreateBucket([]byte(info.Key))
		if err != nil {
			return fmt.Errorf("creating records bucket: %w", err)
		}
		for _, name := range [][]byte{bucketLog, bucketNames} {
			if _, err := records.CreateBucket(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}

		return putArchive(archives, info)
	})
}

// GetArchive retrieves the registry entry for an archive.
func (b *BoltDB) GetArchive(_ context.Context, key string) (*ArchiveInfo, error) {
	var info *ArchiveInfo
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		info, err = getArchive(tx.Bucket(bucketArchives), key)
		return err
	})
	return info, err
}

// ListArchives returns every archive in the registry, ordered by key.
func (b *BoltDB) ListArchives(_ context.Context) ([]ArchiveInfo, error) {
	var out []ArchiveInfo
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketArchives).ForEach(func(_, v []byte) error {
			var info ArchiveInfo
			if err := json.Unmarshal(v, &info); err != nil {
				return fmt.Errorf("decoding archive: %w", err)
			}
			out = append(out, info)
			return nil
		})
	})
	return out, err
}

// Seal makes every appended record visible to readers.
func (b *BoltDB) Seal(_ context.Context, key string) (uint64, error) {
	var sealed uint64
	err := b.db.Update(func(tx *bbolt.Tx) error {
		archives := tx.Bucket(bucketArchives)
		info, err := getArchive(archives, key)
		if err != nil {
			return err
		}
		if info.SealedSeq == info.LastSeq {
			sealed = info.SealedSeq
			return nil
		}
		info.SealedSeq = info.LastSeq
		sealed = info.SealedSeq
		return putArchive(archives, info)
	})
	return sealed, err
}

// AppendRecord appends a new record version to the archive log and points
// the name index at it. The assigned sequence number is returned.
func (b *BoltDB) AppendRecord(_ context.Context, key string, rec *RecordEntry) (uint64, error) {
	var seq uint64
	err := b.db.Update(func(tx *bbolt.Tx) error {
		archives := tx.Bucket(bucketArchives)
		info, err := getArchive(archives, key)
		if err != nil {
			return err
		}

		records := tx.Bucket(bucketRecords).Bucket([]byte(key))
		if records == nil {
			return fmt.Errorf("records bucket for %s missing", key)
		}

		info.LastSeq++
		seq = info.LastSeq
		rec.Seq = seq
		if rec.WrittenAt.IsZero() {
			rec.WrittenAt = b.now().UTC()
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encoding record: %w", err)
		}
		if err := records.Bucket(bucketLog).Put(encodeSeq(seq), data); err != nil {
			return fmt.Errorf("putting record: %w", err)
		}
		if err := records.Bucket(bucketNames).Put([]byte(rec.Name), encodeSeq(seq)); err != nil {
			return fmt.Errorf("putting name index: %w", err)
		}

		return putArchive(archives, info)
	})
	return seq, err
}

// GetRecord returns the newest version of name with a sequence number <= upTo.
func (b *BoltDB) GetRecord(_ context.Context, key, name string, upTo uint64) (*RecordEntry, error) {
	var rec *RecordEntry
	err := b.db.View(func(tx *bbolt.Tx) error {
		records := tx.Bucket(bucketRecords).Bucket([]byte(key))
		if records == nil {
			return ErrNotFound
		}

		seqBytes := records.Bucket(bucketNames).Get([]byte(name))
		if seqBytes == nil {
			return ErrNotFound
		}

		log := records.Bucket(bucketLog)
		if seq := decodeSeq(seqBytes); seq <= upTo {
			var err error
			rec, err = decodeRecord(log.Get(encodeSeq(seq)))
			return err
		}

		// The newest version is not visible yet; walk back to an older one.
		c := log.Cursor()
		k, v := c.Seek(encodeSeq(upTo))
		if k == nil {
			k, v = c.Last()
		}
		if k != nil && decodeSeq(k) > upTo {
			k, v = c.Prev()
		}
		for ; k != nil; k, v = c.Prev() {
			candidate, err := decodeRecord(v)
			if err != nil {
				return err
			}
			if candidate.Name == name {
				rec = candidate
				return nil
			}
		}
		return ErrNotFound
	})
	return rec, err
}

// ListRecords returns the newest visible version of every record name,
// optionally restricted to names with the given prefix, ordered by sequence.
func (b *BoltDB) ListRecords(_ context.Context, key string, upTo uint64, prefix string) ([]RecordEntry, error) {
	latest := make(map[string]RecordEntry)
	err := b.db.View(func(tx *bbolt.Tx) error {
		records := tx.Bucket(bucketRecords).Bucket([]byte(key))
		if records == nil {
			return ErrNotFound
		}

		c := records.Bucket(bucketLog).Cursor()
		for k, v := c.First(); k != nil && decodeSeq(k) <= upTo; k, v = c.Next() {
			rec, err := decodeRecord(v)
			if err != nil {
				return err
			}
			if prefix != "" && !strings.HasPrefix(rec.Name, prefix) {
				continue
			}
			latest[rec.Name] = *rec
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]RecordEntry, 0, len(latest))
	for _, rec := range latest {
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b RecordEntry) int { return cmp.Compare(a.Seq, b.Seq) })
	return out, nil
}

func getArchive(bucket *bbolt.Bucket, key string) (*ArchiveInfo, error) {
	val := bucket.Get([]byte(key))
	if val == nil {
		return nil, ErrNotFound
	}
	var info ArchiveInfo
	if err := json.Unmarshal(val, &info); err != nil {
		return nil, fmt.Errorf("decoding archive: %w", err)
	}
	return &info, nil
}

func putArchive(bucket *bbolt.Bucket, info *ArchiveInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encoding archive: %w", err)
	}
	if err := bucket.Put([]byte(info.Key), data); err != nil {
		return fmt.Errorf("putting archive: %w", err)
	}
	return nil
}

func decodeRecord(data []byte) (*RecordEntry, error) {
	if data == nil {
		return nil, ErrNotFound
	}
	var rec RecordEntry
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	return &rec, nil
}

// Compile-time interface check
var _ MetaDB = (*BoltDB)(nil)
