package archive

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a record or blob does not exist.
	ErrNotFound = errors.New("archive: not found")

	// ErrPermissionDenied is returned when writing to an archive this process does not own.
	ErrPermissionDenied = errors.New("archive: can't write to an archive you don't own")

	// ErrOwned is returned when replicated records are applied to a locally owned archive.
	ErrOwned = errors.New("archive: archive is owned locally")

	// ErrHashMismatch is returned when replicated content does not match its record hash.
	ErrHashMismatch = errors.New("archive: content does not match record hash")
)

// StorageError wraps a failure in the underlying blob store or index.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("archive: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
