// Package store provides the content-addressable blob store that archive
// records are written to.
package store

import (
	"bytes"
	"context"
	"io"

	feedarchive "github.com/wolfeidau/feed-archive"
)

// Store provides content-addressable storage operations.
// Content is stored by its BLAKE3 hash, ensuring deduplication: two records
// with identical bodies share one blob.
type Store interface {
	// Put stores content and returns details of the stored blob.
	// If the content already exists (same hash), the blob is not rewritten.
	Put(ctx context.Context, contentType string, r io.Reader) (*PutResult, error)

	// Get retrieves content by its hash.
	// Returns backend.ErrNotFound if the hash does not exist.
	Get(ctx context.Context, h feedarchive.Hash) (*Blob, error)

	// Has checks if content with the given hash exists.
	Has(ctx context.Context, h feedarchive.Hash) (bool, error)
}

// PutResult contains information about a Put operation.
type PutResult struct {
	Hash   feedarchive.Hash
	Size   int64
	Exists bool // true if the content already existed
}

// Blob is decoded blob content plus the type it was stored with.
type Blob struct {
	Hash        feedarchive.Hash
	ContentType string
	Data        []byte
}

// Reader returns a reader over the blob content.
func (b *Blob) Reader() io.ReadCloser {
	return io.NopCloser(bytes.NewReader(b.Data))
}
