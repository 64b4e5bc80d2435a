package mirror

import (
	"context"
	"log/slog"

	"github.com/wolfeidau/feed-archive/fetch"
)

// DefaultRecencyLimit is how many entries XML renders when no count is given.
const DefaultRecencyLimit = 10

// ContentFetcher retrieves the full body an entry links to.
type ContentFetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Response, error)
}

// Option configures a Mirror or Reader.
type Option func(*options)

type options struct {
	scrap        bool
	fetcher      ContentFetcher
	recencyLimit int
	concurrency  int
	logger       *slog.Logger
}

func newOptions(opts []Option) options {
	o := options{
		recencyLimit: DefaultRecencyLimit,
		concurrency:  8,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.fetcher == nil {
		o.fetcher = fetch.NewFetcher("scrap", fetch.WithLogger(o.logger))
	}
	return o
}

// WithScrap enables fetching each new entry's full body.
func WithScrap(scrap bool) Option {
	return func(o *options) {
		o.scrap = scrap
	}
}

// WithFetcher sets the fetcher used to scrap entry bodies.
func WithFetcher(f ContentFetcher) Option {
	return func(o *options) {
		o.fetcher = f
	}
}

// WithRecencyLimit sets how many entries XML renders when called with a
// count of zero or less.
func WithRecencyLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.recencyLimit = n
		}
	}
}

// WithLoadConcurrency bounds how many entries XML loads at once.
func WithLoadConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
