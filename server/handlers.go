package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	feedarchive "github.com/wolfeidau/feed-archive"
	"github.com/wolfeidau/feed-archive/archive"
	"github.com/wolfeidau/feed-archive/download"
	"github.com/wolfeidau/feed-archive/feed"
	"github.com/wolfeidau/feed-archive/mirror"
	"github.com/wolfeidau/feed-archive/telemetry"
)

const (
	maxEntryBody = 1 << 20
	maxFeedBody  = 10 << 20
)

// entryRecord is the JSON form of an archived entry record.
type entryRecord struct {
	Name        string `json:"name"`
	CTime       int64  `json:"ctime"`
	Size        int64  `json:"size"`
	Hash        string `json:"hash"`
	ContentType string `json:"content_type,omitempty"`
	Seq         uint64 `json:"seq"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleArchives(w http.ResponseWriter, r *http.Request) {
	archives, err := s.drive.Archives(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, archives)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	m, err := mirror.Create(r.Context(), s.drive, s.mirrorOptions()...)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.mu.Lock()
	s.mirrors[m.Key()] = m
	s.mu.Unlock()

	telemetry.SetArchive(r, m.Key().ShortString())
	writeJSON(w, http.StatusCreated, map[string]string{"key": m.Key().String()})
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	key, ok := s.pathKey(w, r)
	if !ok {
		return
	}

	recency := 0
	if n := r.URL.Query().Get("n"); n != "" {
		v, err := strconv.Atoi(n)
		if err != nil || v < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "n must be a non-negative integer"})
			return
		}
		recency = v
	}

	rd, err := s.reader(r.Context(), key)
	if err != nil {
		s.writeError(w, err)
		return
	}
	doc, err := rd.XML(r.Context(), recency)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	_, _ = io.WriteString(w, doc)
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	key, ok := s.pathKey(w, r)
	if !ok {
		return
	}

	rd, err := s.reader(r.Context(), key)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var opts []archive.ListOption
	if prefix := r.URL.Query().Get("prefix"); prefix != "" {
		opts = append(opts, archive.WithPrefix(prefix))
	}
	records, err := rd.List(r.Context(), opts...)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]entryRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, entryRecord{
			Name:        rec.Name,
			CTime:       rec.CTime,
			Size:        rec.Size,
			Hash:        rec.Hash.String(),
			ContentType: rec.ContentType,
			Seq:         rec.Seq,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	m, ok := s.pathMirror(w, r)
	if !ok {
		return
	}

	var e feed.Entry
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEntryBody)).Decode(&e); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid entry: " + err.Error()})
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := m.Push(r.Context(), e); err != nil {
		s.writeError(w, err)
		return
	}
	if err := m.Finalize(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"guid": e.GUID})
}

func (s *Server) handleGetMeta(w http.ResponseWriter, r *http.Request) {
	key, ok := s.pathKey(w, r)
	if !ok {
		return
	}

	rd, err := s.reader(r.Context(), key)
	if err != nil {
		s.writeError(w, err)
		return
	}
	meta, ok := rd.Meta()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "archive has no metadata"})
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleSetMeta(w http.ResponseWriter, r *http.Request) {
	m, ok := s.pathMirror(w, r)
	if !ok {
		return
	}

	var meta feed.Meta
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEntryBody)).Decode(&meta); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid metadata: " + err.Error()})
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := m.SetMeta(r.Context(), meta); err != nil {
		s.writeError(w, err)
		return
	}
	if err := m.Finalize(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// handleUpdate mirrors the feed document in the request body, or the one at
// the url query parameter when given.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	m, ok := s.pathMirror(w, r)
	if !ok {
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var err error
	if url := r.URL.Query().Get("url"); url != "" {
		_, err = m.UpdateFrom(r.Context(), url)
	} else {
		var raw []byte
		raw, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxFeedBody))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reading feed: " + err.Error()})
			return
		}
		_, err = m.Update(r.Context(), raw)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := m.Finalize(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}

	meta, _ := m.Meta()
	writeJSON(w, http.StatusOK, meta)
}

// pathKey parses the {key} path value, writing a 400 when it is malformed.
func (s *Server) pathKey(w http.ResponseWriter, r *http.Request) (feedarchive.Key, bool) {
	key, err := feedarchive.ParseKey(r.PathValue("key"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid archive key"})
		return feedarchive.Key{}, false
	}
	telemetry.SetArchive(r, key.ShortString())
	return key, true
}

// pathMirror resolves the {key} path value to a writable mirror.
func (s *Server) pathMirror(w http.ResponseWriter, r *http.Request) (*mirror.Mirror, bool) {
	key, ok := s.pathKey(w, r)
	if !ok {
		return nil, false
	}
	m, err := s.owned(r.Context(), key)
	if err != nil {
		s.writeError(w, err)
		return nil, false
	}
	return m, true
}

// writeError maps mirror and archive errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		validationErr *mirror.ValidationError
		parseErr      *mirror.ParseError
		fetchErr      *mirror.FetchError
	)

	switch {
	case errors.As(err, &validationErr), errors.As(err, &parseErr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, mirror.ErrPermissionDenied):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, archive.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "archive not found"})
	case errors.Is(err, mirror.ErrArchiveFailed), errors.As(err, &fetchErr):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	default:
		download.HandleError(w, s.logger, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
