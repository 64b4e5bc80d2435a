// Package metadb provides the bbolt index of archives and their records.
package metadb

import "time"

// ArchiveInfo describes an archive known to the drive.
type ArchiveInfo struct {
	Key       string    `json:"key"`
	Owned     bool      `json:"owned"`
	CreatedAt time.Time `json:"created_at"`
	// LastSeq is the sequence number of the newest appended record (0 when empty).
	LastSeq uint64 `json:"last_seq"`
	// SealedSeq is the newest sequence number visible to readers.
	SealedSeq uint64 `json:"sealed_seq"`
}

// RecordEntry is one version of a named record in an archive log.
type RecordEntry struct {
	Seq         uint64    `json:"seq"`
	Name        string    `json:"name"`
	Hash        string    `json:"hash"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type,omitempty"`
	CTime       int64     `json:"ctime"`
	WrittenAt   time.Time `json:"written_at"`
}
