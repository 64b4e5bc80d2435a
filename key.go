package feedarchive

import (
	"fmt"

	"github.com/google/uuid"
)

// Key identifies an archive. It is assigned once, when the owning process
// creates the archive, and is how read-only peers ask for it afterwards.
type Key Hash

// NewKey derives a fresh archive key from a random UUID.
func NewKey() (Key, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return Key{}, fmt.Errorf("generating archive key: %w", err)
	}
	return Key(HashBytes(id[:])), nil
}

// ParseKey parses the hex form of an archive key.
func ParseKey(s string) (Key, error) {
	h, err := ParseHash(s)
	if err != nil {
		return Key{}, fmt.Errorf("invalid archive key %q: %w", s, err)
	}
	return Key(h), nil
}

// String returns the hex form of the key.
func (k Key) String() string {
	return Hash(k).String()
}

// ShortString returns a shortened hex form for log lines.
func (k Key) ShortString() string {
	return Hash(k).ShortString()
}

// IsZero reports whether the key is unset.
func (k Key) IsZero() bool {
	return Hash(k).IsZero()
}

// MarshalText implements encoding.TextMarshaler.
func (k Key) MarshalText() ([]byte, error) {
	return Hash(k).MarshalText()
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Key) UnmarshalText(text []byte) error {
	return (*Hash)(k).UnmarshalText(text)
}
