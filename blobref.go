package feedarchive

import (
	"fmt"
	"strings"
)

// AlgBLAKE3 is the only digest algorithm archives are addressed with.
const AlgBLAKE3 = "blake3"

// BlobRef is the wire form of a record's content hash, "blake3:<hex>".
// Peers exchange refs rather than bare hashes so the algorithm stays explicit.
type BlobRef struct {
	Hash Hash
}

// NewBlobRef creates a BlobRef for h.
func NewBlobRef(h Hash) BlobRef {
	return BlobRef{Hash: h}
}

// ParseBlobRef parses a blob reference string in the form "blake3:hex".
// Plain hex strings are accepted and assumed to be BLAKE3.
func ParseBlobRef(s string) (BlobRef, error) {
	if s == "" {
		return BlobRef{}, fmt.Errorf("empty blob ref")
	}

	algo, hexStr, hasPrefix := strings.Cut(s, ":")
	if !hasPrefix {
		hexStr = algo
		algo = AlgBLAKE3
	}

	if !strings.EqualFold(algo, AlgBLAKE3) {
		return BlobRef{}, fmt.Errorf("unsupported algorithm %q in blob ref %q", algo, s)
	}

	h, err := ParseHash(strings.ToLower(hexStr))
	if err != nil {
		return BlobRef{}, fmt.Errorf("invalid hash in blob ref %q: %w", s, err)
	}

	return BlobRef{Hash: h}, nil
}

// String returns the canonical string form "blake3:hex".
func (r BlobRef) String() string {
	return AlgBLAKE3 + ":" + r.Hash.String()
}

// MarshalText implements encoding.TextMarshaler.
func (r BlobRef) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *BlobRef) UnmarshalText(text []byte) error {
	ref, err := ParseBlobRef(string(text))
	if err != nil {
		return err
	}
	*r = ref
	return nil
}

const blobKeyPrefix = "blobs"

// BlobStorageKey returns the backend storage key for a blob.
// Format: blobs/{hex[:2]}/{hex}
func BlobStorageKey(h Hash) string {
	hex := h.String()
	return blobKeyPrefix + "/" + hex[:2] + "/" + hex
}
