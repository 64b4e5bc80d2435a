// Package server provides the HTTP server for feed archives.
package server

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	feedarchive "github.com/wolfeidau/feed-archive"
	"github.com/wolfeidau/feed-archive/archive"
	"github.com/wolfeidau/feed-archive/mirror"
	"github.com/wolfeidau/feed-archive/poll"
	"github.com/wolfeidau/feed-archive/swarm"
	"github.com/wolfeidau/feed-archive/telemetry"
)

// FeedConfig is a feed mirrored into an archive owned by this server.
type FeedConfig struct {
	// Key of an existing owned archive. Empty creates a new archive on start.
	Key string

	// URL of the RSS or Atom document.
	URL string
}

// ReplicaConfig is an archive replicated from a peer.
type ReplicaConfig struct {
	Key    string
	Remote string
}

// Config holds server configuration.
type Config struct {
	// Address to listen on (e.g., ":8080")
	Address string

	// AuthToken protects the mutating routes. Empty disables authentication.
	AuthToken string

	// RecencyLimit is the number of entries rendered when a feed request
	// does not ask for a count.
	RecencyLimit int

	// Scrap fetches the full body of every new entry.
	Scrap bool

	// PollInterval is how often feeds are refreshed and replicas pulled.
	// Default is 15 minutes.
	PollInterval time.Duration

	// Feeds are mirrored on every poll.
	Feeds []FeedConfig

	// Replicas are pulled from their peer on every poll.
	Replicas []ReplicaConfig

	// Logger for the server
	Logger *slog.Logger
}

// Server is the HTTP server for feed archives.
type Server struct {
	config     Config
	httpServer *http.Server
	logger     *slog.Logger

	drive  *archive.Drive
	peer   *swarm.Peer
	poller *poll.Manager

	mu      sync.Mutex
	mirrors map[feedarchive.Key]*mirror.Mirror

	// writeMu serialises writes; a Mirror assumes a single writer.
	writeMu sync.Mutex
}

// New creates a new server serving the archives on drive.
func New(ctx context.Context, cfg Config, drive *archive.Drive) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":8080"
	}
	if cfg.RecencyLimit <= 0 {
		cfg.RecencyLimit = mirror.DefaultRecencyLimit
	}

	s := &Server{
		config:  cfg,
		logger:  cfg.Logger,
		drive:   drive,
		peer:    swarm.NewPeer(drive, swarm.WithLogger(cfg.Logger.With("component", "swarm"))),
		mirrors: make(map[feedarchive.Key]*mirror.Mirror),
	}

	feeds, err := s.pollFeeds(ctx)
	if err != nil {
		return nil, err
	}
	replicas, err := s.pollReplicas()
	if err != nil {
		return nil, err
	}
	if len(feeds) > 0 || len(replicas) > 0 {
		s.poller = poll.NewManager(poll.Config{
			Interval: cfg.PollInterval,
			Logger:   cfg.Logger.With("component", "poll"),
		}, feeds, replicas)
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return s.loggingMiddleware(s.authMiddleware(mux))
}

// registerRoutes sets up the HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Health check
	mux.HandleFunc("GET /health", s.handleHealth)

	// Prometheus metrics endpoint (returns 404 if not enabled)
	mux.Handle("GET /metrics", telemetry.PrometheusHandler())

	mux.HandleFunc("GET /archives", s.handleArchives)
	mux.HandleFunc("POST /archives", s.handleCreate)
	mux.HandleFunc("GET /archives/{key}/feed.xml", s.handleFeed)
	mux.HandleFunc("GET /archives/{key}/entries", s.handleEntries)
	mux.HandleFunc("POST /archives/{key}/entries", s.handlePush)
	mux.HandleFunc("GET /archives/{key}/meta", s.handleGetMeta)
	mux.HandleFunc("PUT /archives/{key}/meta", s.handleSetMeta)
	mux.HandleFunc("POST /archives/{key}/update", s.handleUpdate)

	// Replication between peers
	mux.Handle("GET "+swarm.PathPrefix, s.peer)
	mux.Handle("HEAD "+swarm.PathPrefix, s.peer)
}

func (s *Server) mirrorOptions() []mirror.Option {
	return []mirror.Option{
		mirror.WithScrap(s.config.Scrap),
		mirror.WithRecencyLimit(s.config.RecencyLimit),
		mirror.WithLogger(s.logger.With("component", "mirror")),
	}
}

// pollFeeds resolves the configured feeds to owned mirrors.
func (s *Server) pollFeeds(ctx context.Context) ([]poll.Feed, error) {
	feeds := make([]poll.Feed, 0, len(s.config.Feeds))
	for _, fc := range s.config.Feeds {
		var m *mirror.Mirror
		if fc.Key == "" {
			created, err := mirror.Create(ctx, s.drive, s.mirrorOptions()...)
			if err != nil {
				return nil, fmt.Errorf("creating archive for %s: %w", fc.URL, err)
			}
			s.logger.Info("mirroring feed into new archive", "url", fc.URL, "key", created.Key().String())
			m = created
		} else {
			key, err := feedarchive.ParseKey(fc.Key)
			if err != nil {
				return nil, fmt.Errorf("feed %s: %w", fc.URL, err)
			}
			if m, err = s.owned(ctx, key); err != nil {
				return nil, fmt.Errorf("resuming archive for %s: %w", fc.URL, err)
			}
		}

		s.mu.Lock()
		s.mirrors[m.Key()] = m
		s.mu.Unlock()

		feeds = append(feeds, poll.Feed{
			Name: m.Key().ShortString(),
			URL:  fc.URL,
			Update: func(ctx context.Context, url string) error {
				s.writeMu.Lock()
				defer s.writeMu.Unlock()

				if _, err := m.UpdateFrom(ctx, url); err != nil {
					return err
				}
				return m.Finalize(ctx)
			},
		})
	}
	return feeds, nil
}

func (s *Server) pollReplicas() ([]poll.Replica, error) {
	replicas := make([]poll.Replica, 0, len(s.config.Replicas))
	for _, rc := range s.config.Replicas {
		key, err := feedarchive.ParseKey(rc.Key)
		if err != nil {
			return nil, fmt.Errorf("replica of %s: %w", rc.Remote, err)
		}
		replicas = append(replicas, poll.Replica{
			Name:      key.ShortString(),
			Remote:    rc.Remote,
			Replicate: s.peer.Join(key).Replicate,
		})
	}
	return replicas, nil
}

// owned returns the writable mirror for key, resuming it on first use so that
// every write to an archive goes through one Mirror.
func (s *Server) owned(ctx context.Context, key feedarchive.Key) (*mirror.Mirror, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.mirrors[key]; ok {
		return m, nil
	}
	m, err := mirror.Resume(ctx, s.drive, key, s.mirrorOptions()...)
	if err != nil {
		return nil, err
	}
	s.mirrors[key] = m
	return m, nil
}

// reader returns a read-only view of an archive the drive already holds.
func (s *Server) reader(ctx context.Context, key feedarchive.Key) (*mirror.Reader, error) {
	a, err := s.drive.Lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	if a.Owned() {
		m, err := s.owned(ctx, key)
		if err != nil {
			return nil, err
		}
		return m.Reader, nil
	}
	return mirror.Open(ctx, s.drive, key, s.mirrorOptions()...)
}

// loggingMiddleware logs HTTP requests with structured fields for analysis.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		// Inject request tags so handlers can set the archive they touched
		r = telemetry.InjectTags(r)
		tags := telemetry.GetTags(r)

		// Wrap response writer to capture status and bytes
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		// The mux records the matched pattern on the request
		if tags.Route == "" && r.Pattern != "" {
			tags.Route = r.Pattern
		}

		attrs := []any{
			// Request identification
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,

			// Response details
			"status", wrapped.status,
			"status_class", telemetry.StatusClass(wrapped.status),
			"bytes_sent", wrapped.bytesWritten,

			// Timing
			"duration_ms", duration.Milliseconds(),
			"duration", duration.String(),

			// Client info
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
			"http_version", fmt.Sprintf("%d.%d", r.ProtoMajor, r.ProtoMinor),
		}

		if tags.Route != "" {
			attrs = append(attrs, "route", tags.Route)
		}
		if tags.Archive != "" {
			attrs = append(attrs, "archive", tags.Archive)
		}
		if ct := wrapped.Header().Get("Content-Type"); ct != "" {
			attrs = append(attrs, "content_type", ct)
		}

		s.logger.Info("http request", attrs...)

		telemetry.RecordHTTP(r.Context(), r, wrapped.status, wrapped.bytesWritten, duration)
	})
}

// Start starts the poller and the server.
func (s *Server) Start(ctx context.Context) error {
	if s.poller != nil {
		s.logger.Info("starting poller",
			"feeds", len(s.config.Feeds),
			"replicas", len(s.config.Replicas),
			"interval", s.config.PollInterval,
		)
		if err := s.poller.Start(ctx); err != nil {
			return fmt.Errorf("starting poller: %w", err)
		}
	}

	s.logger.Info("starting server", "address", s.config.Address)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	if s.poller != nil {
		s.poller.Stop()
	}

	return s.httpServer.Shutdown(ctx)
}

// Address returns the server's listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// responseWriter wraps http.ResponseWriter to capture the status code and bytes written.
// It preserves http.Flusher and http.Hijacker interfaces for streaming support.
type responseWriter struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Flush implements http.Flusher for streaming responses.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker for connection upgrades.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("hijacking not supported")
}

// Unwrap returns the underlying ResponseWriter.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
