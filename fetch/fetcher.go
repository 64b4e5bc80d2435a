// Package fetch retrieves documents over HTTP for mirroring: feed documents
// and the full bodies entries link to.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/wolfeidau/feed-archive/telemetry"
)

const (
	// DefaultTimeout is the default timeout for a single request.
	DefaultTimeout = 30 * time.Second

	// DefaultUserAgent identifies the mirror to upstream servers.
	DefaultUserAgent = "feed-archive/1.0 (+https://github.com/wolfeidau/feed-archive)"

	// DefaultMaxBodySize caps the size of a fetched body.
	DefaultMaxBodySize = 10 << 20

	// DefaultMaxRetries is how many times a failed request is retried.
	DefaultMaxRetries = 3
)

var (
	// ErrInvalidStatus is returned when upstream answers with a status other than 200.
	ErrInvalidStatus = errors.New("invalid status code")

	// ErrBodyTooLarge is returned when a body exceeds the configured size cap.
	ErrBodyTooLarge = errors.New("body too large")
)

// FetchError describes a failed fetch. StatusCode is 0 when no response was received.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %v (%d)", e.URL, e.Err, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Response is a successfully fetched document.
type Response struct {
	// URL is the final URL after redirects.
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
}

// Fetcher performs GET requests with retries.
// Transport errors and 5xx responses are retried with exponential backoff;
// any other non-200 status fails immediately.
type Fetcher struct {
	client      *http.Client
	userAgent   string
	maxBodySize int64
	maxRetries  int
	newBackOff  func() backoff.BackOff
	logger      *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

// WithMaxBodySize sets the largest body the fetcher accepts.
func WithMaxBodySize(n int64) Option {
	return func(f *Fetcher) {
		f.maxBodySize = n
	}
}

// WithMaxRetries sets how many times a failed request is retried. Zero disables retries.
func WithMaxRetries(n int) Option {
	return func(f *Fetcher) {
		f.maxRetries = n
	}
}

// WithBackOff sets the backoff policy used between retries.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(f *Fetcher) {
		f.newBackOff = fn
	}
}

// WithLogger sets the logger for the fetcher.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// NewFetcher creates a fetcher. The default client records upstream fetch
// metrics labelled with source.
func NewFetcher(source string, opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: telemetry.NewInstrumentedTransport(nil, source),
		},
		userAgent:   DefaultUserAgent,
		maxBodySize: DefaultMaxBodySize,
		maxRetries:  DefaultMaxRetries,
		newBackOff:  defaultBackOff,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = time.Minute
	return b
}

// Fetch performs a GET of url and returns the body of a 200 response.
// Every failure is returned as a *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Response, error) {
	var (
		resp    *Response
		attempt int
	)

	op := func() error {
		attempt++
		r, err := f.get(ctx, url)
		switch {
		case err != nil:
			if ctx.Err() != nil || errors.Is(err, ErrBodyTooLarge) {
				return backoff.Permanent(&FetchError{URL: url, Err: err})
			}
			return &FetchError{URL: url, Err: err}
		case r.StatusCode >= http.StatusInternalServerError:
			return &FetchError{URL: url, StatusCode: r.StatusCode, Err: ErrInvalidStatus}
		case r.StatusCode != http.StatusOK:
			return backoff.Permanent(&FetchError{URL: url, StatusCode: r.StatusCode, Err: ErrInvalidStatus})
		}
		resp = r
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(f.newBackOff(), uint64(f.maxRetries)), ctx)
	err := backoff.RetryNotify(op, b, func(err error, delay time.Duration) {
		f.logger.Debug("retrying fetch", "url", url, "attempt", attempt, "delay", delay, "error", err)
	})
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			return nil, fe
		}
		return nil, &FetchError{URL: url, Err: err}
	}

	f.logger.Debug("fetched", "url", url, "size", len(resp.Body), "attempts", attempt)
	return resp, nil
}

func (f *Fetcher) get(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	out := &Response{
		URL:         resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return out, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if int64(len(body)) > f.maxBodySize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, f.maxBodySize)
	}
	out.Body = body
	return out, nil
}
