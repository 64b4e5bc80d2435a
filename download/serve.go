package download

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	feedarchive "github.com/wolfeidau/feed-archive"
	"github.com/wolfeidau/feed-archive/store"
)

// ContentHashHeader carries the BLAKE3 reference of a served blob.
const ContentHashHeader = "X-Content-Hash"

// ServeOptions configures how ServeBlob writes the HTTP response.
type ServeOptions struct {
	ContentType  string
	ExtraHeaders map[string]string
}

// HandleError writes an HTTP error response for a failed blob lookup.
// Caller cancellations and timeouts map to 504; anything else is logged and
// reported as 500.
func HandleError(w http.ResponseWriter, logger *slog.Logger, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		http.Error(w, "request timeout", http.StatusGatewayTimeout)
		return
	}
	logger.Error("request failed", "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

// ServeBlob writes a stored blob to the response with its content type,
// length and hash reference. For HEAD requests only headers are written.
func ServeBlob(w http.ResponseWriter, r *http.Request, blob *store.Blob, opts ServeOptions, logger *slog.Logger) {
	contentType := opts.ContentType
	if contentType == "" {
		contentType = blob.ContentType
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(blob.Data)))
	w.Header().Set(ContentHashHeader, feedarchive.NewBlobRef(blob.Hash).String())
	for k, v := range opts.ExtraHeaders {
		w.Header().Set(k, v)
	}

	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(blob.Data); err != nil {
		logger.Error("failed to write blob", "hash", blob.Hash.ShortString(), "error", err)
	}
}
