package mirror

import (
	"errors"
	"fmt"

	"github.com/wolfeidau/feed-archive/archive"
	"github.com/wolfeidau/feed-archive/feed"
	"github.com/wolfeidau/feed-archive/fetch"
)

var (
	// ErrPermissionDenied is returned when writing through a handle that does
	// not own its archive.
	ErrPermissionDenied = archive.ErrPermissionDenied

	// ErrArchiveFailed is returned by Push when any step fails. The cause is logged.
	ErrArchiveFailed = errors.New("mirror: archive failed")

	// ErrMissingGUID is returned when an entry without a GUID is saved.
	ErrMissingGUID = &ValidationError{Field: "guid", Reason: "GUID not found"}

	// ErrNoURL is the cause of a FetchError for entries with nothing to scrap.
	ErrNoURL = errors.New("entry has no URL")
)

type (
	// ParseError is returned when Update is given a document that is not a feed.
	ParseError = feed.ParseError

	// FetchError is returned when an entry's full body could not be fetched.
	FetchError = fetch.FetchError

	// StorageError is returned when the archive fails to read or write.
	StorageError = archive.StorageError
)

// ValidationError is returned when an entry cannot be stored as given.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("mirror: invalid %s: %s", e.Field, e.Reason)
}
