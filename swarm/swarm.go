package swarm

import (
	"context"
	"net/http"
	"strings"

	feedarchive "github.com/wolfeidau/feed-archive"
)

// Swarm is the replication handle for a single archive.
type Swarm struct {
	peer *Peer
	key  feedarchive.Key
}

// Key returns the archive key the handle serves.
func (s *Swarm) Key() feedarchive.Key {
	return s.key
}

// ServeHTTP serves this archive's manifest and blobs. Requests for any other
// archive get 404.
func (s *Swarm) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	prefix := PathPrefix + s.key.String()
	if r.URL.Path != prefix && !strings.HasPrefix(r.URL.Path, prefix+"/") {
		http.NotFound(w, r)
		return
	}
	s.peer.ServeHTTP(w, r)
}

// Replicate pulls this archive from the peer at remote.
func (s *Swarm) Replicate(ctx context.Context, remote string) (int, error) {
	return s.peer.Replicate(ctx, remote, s.key)
}
