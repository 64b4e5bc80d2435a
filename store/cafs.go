package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	feedarchive "github.com/wolfeidau/feed-archive"
	"github.com/wolfeidau/feed-archive/backend"
)

// MaxBlobSize caps a single record body. Scrapped pages larger than this are rejected.
const MaxBlobSize = backend.MaxDecompressedSize

var (
	// ErrBlobTooLarge is returned when content exceeds MaxBlobSize.
	ErrBlobTooLarge = errors.New("blob exceeds maximum size")

	// ErrCorrupted is returned when stored content no longer matches its hash.
	ErrCorrupted = errors.New("blob content does not match its hash")
)

// CAFS implements content-addressable file storage.
// Blobs are framed with a JSON header and stored in a sharded layout based on hash.
type CAFS struct {
	backend backend.Backend
	codec   *backend.Codec
	now     func() time.Time
}

// CAFSOption configures a CAFS instance.
type CAFSOption func(*CAFS)

// WithNow sets the time function used for header timestamps.
func WithNow(now func() time.Time) CAFSOption {
	return func(c *CAFS) {
		c.now = now
	}
}

// NewCAFS creates a new content-addressable file store.
func NewCAFS(b backend.Backend, codec *backend.Codec, opts ...CAFSOption) *CAFS {
	c := &CAFS{backend: b, codec: codec, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Put stores content and returns detailed information.
func (c *CAFS) Put(ctx context.Context, contentType string, r io.Reader) (*PutResult, error) {
	hr := feedarchive.NewHashingReader(io.LimitReader(r, MaxBlobSize+1))
	data, err := io.ReadAll(hr)
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	if len(data) > MaxBlobSize {
		return nil, ErrBlobTooLarge
	}

	hash := hr.Sum()
	size := hr.BytesRead()
	key := feedarchive.BlobStorageKey(hash)

	exists, err := c.backend.Exists(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("checking existence: %w", err)
	}
	if exists {
		return &PutResult{Hash: hash, Size: size, Exists: true}, nil
	}

	body, encoding := c.codec.Encode(data)
	header := &backend.BlobHeader{
		ContentType:     contentType,
		ContentLength:   size,
		ContentEncoding: encoding,
		ContentHash:     feedarchive.NewBlobRef(hash).String(),
		StoredAt:        c.now().UTC().Format(time.RFC3339),
	}

	var buf bytes.Buffer
	if err := backend.WriteFramed(&buf, header, bytes.NewReader(body)); err != nil {
		return nil, fmt.Errorf("framing content: %w", err)
	}

	if err := c.backend.Write(ctx, key, &buf); err != nil {
		return nil, fmt.Errorf("writing content: %w", err)
	}

	return &PutResult{Hash: hash, Size: size, Exists: false}, nil
}

// PutBytes is a convenience method for storing bytes.
func (c *CAFS) PutBytes(ctx context.Context, contentType string, data []byte) (*PutResult, error) {
	return c.Put(ctx, contentType, bytes.NewReader(data))
}

// Get retrieves and decodes content by its hash, verifying it against the hash.
func (c *CAFS) Get(ctx context.Context, h feedarchive.Hash) (*Blob, error) {
	rc, err := c.backend.Read(ctx, feedarchive.BlobStorageKey(h))
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil, backend.ErrNotFound
		}
		return nil, fmt.Errorf("reading content: %w", err)
	}
	defer func() { _ = rc.Close() }()

	header, body, err := backend.ReadFramed(rc)
	if err != nil {
		return nil, fmt.Errorf("reading frame: %w", err)
	}

	encoded, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}

	data, err := c.codec.Decode(encoded, header.ContentEncoding)
	if err != nil {
		return nil, fmt.Errorf("decoding content: %w", err)
	}

	if feedarchive.HashBytes(data) != h {
		return nil, ErrCorrupted
	}

	return &Blob{Hash: h, ContentType: header.ContentType, Data: data}, nil
}

// GetBytes is a convenience method for retrieving content as bytes.
func (c *CAFS) GetBytes(ctx context.Context, h feedarchive.Hash) ([]byte, error) {
	blob, err := c.Get(ctx, h)
	if err != nil {
		return nil, err
	}
	return blob.Data, nil
}

// Has checks if content with the given hash exists.
func (c *CAFS) Has(ctx context.Context, h feedarchive.Hash) (bool, error) {
	return c.backend.Exists(ctx, feedarchive.BlobStorageKey(h))
}

// Compile-time interface checks
var _ Store = (*CAFS)(nil)
