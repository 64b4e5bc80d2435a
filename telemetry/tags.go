// Package telemetry provides request tagging, metric instruments and exporters.
package telemetry

import (
	"context"
	"net/http"
)

type contextKey string

const (
	// requestTagsKey is the context key for the request tags holder.
	requestTagsKey contextKey = "request_tags"
	// sourceKey is the context key for the fetch source propagated to background work.
	sourceKey contextKey = "source"
)

// RequestTags holds mutable request metadata that handlers can set for logging.
type RequestTags struct {
	// Route is the matched route pattern, e.g. "/swarm/{key}".
	Route string
	// Archive is the short form of the archive key the request touched.
	Archive string
}

// InjectTags creates a new request with an empty RequestTags in context.
// Call this in middleware before handlers run.
func InjectTags(r *http.Request) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), requestTagsKey, &RequestTags{}))
}

// GetTags retrieves the request tags from context.
// Returns nil if not in a request context with logging middleware.
func GetTags(r *http.Request) *RequestTags {
	if tags, ok := r.Context().Value(requestTagsKey).(*RequestTags); ok {
		return tags
	}
	return nil
}

// SetRoute sets the route tag for metrics and logging.
func SetRoute(r *http.Request, route string) {
	if tags := GetTags(r); tags != nil {
		tags.Route = route
	}
}

// SetArchive sets the archive tag for logging.
func SetArchive(r *http.Request, archive string) {
	if tags := GetTags(r); tags != nil {
		tags.Archive = archive
	}
}

// SourceFromContext returns the fetch source stored by WithSource, or "unknown".
func SourceFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(sourceKey).(string); ok && s != "" {
		return s
	}
	return "unknown"
}

// WithSource returns a context labelled with a fetch source ("feed", "scrap", "swarm").
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey, source)
}
