package swarm

import (
	feedarchive "github.com/wolfeidau/feed-archive"
	"github.com/wolfeidau/feed-archive/archive"
)

// Manifest is a peer's view of an archive: its finalized records, newest
// version of each name, in append order.
type Manifest struct {
	Key     feedarchive.Key  `json:"key"`
	Records []ManifestRecord `json:"records"`
}

// ManifestRecord describes one record and where its content can be fetched.
type ManifestRecord struct {
	Name        string              `json:"name"`
	CTime       int64               `json:"ctime"`
	Size        int64               `json:"size"`
	Blob        feedarchive.BlobRef `json:"blob"`
	ContentType string              `json:"content_type,omitempty"`
	Seq         uint64              `json:"seq"`
}

func manifestRecord(rec archive.Record) ManifestRecord {
	return ManifestRecord{
		Name:        rec.Name,
		CTime:       rec.CTime,
		Size:        rec.Size,
		Blob:        feedarchive.NewBlobRef(rec.Hash),
		ContentType: rec.ContentType,
		Seq:         rec.Seq,
	}
}

func (m ManifestRecord) record() archive.Record {
	return archive.Record{
		Name:        m.Name,
		CTime:       m.CTime,
		Size:        m.Size,
		Hash:        m.Blob.Hash,
		ContentType: m.ContentType,
	}
}
