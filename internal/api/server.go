// Package api provides the HTTP server and handlers.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Damil001/pinata-image-api-sub000/internal/catalog"
	"github.com/Damil001/pinata-image-api-sub000/internal/config"
	"github.com/Damil001/pinata-image-api-sub000/internal/engagement"
	"github.com/Damil001/pinata-image-api-sub000/internal/events"
	"github.com/Damil001/pinata-image-api-sub000/internal/gateway"
	"github.com/Damil001/pinata-image-api-sub000/internal/logging"
	"github.com/Damil001/pinata-image-api-sub000/internal/metrics"
	"github.com/Damil001/pinata-image-api-sub000/internal/pinning"
	"github.com/Damil001/pinata-image-api-sub000/internal/ratelimit"
)

// EngagementStore is the slice of the engagement layer the handlers
// need. Satisfied by *engagement.Store.
type EngagementStore interface {
	UpsertLike(ctx context.Context, imageID, deviceID, action string) error
	LikeCounts(ctx context.Context, imageID string) ([]engagement.LikeCount, error)
	RecordDownload(ctx context.Context, imageID, deviceID string) error
	DownloadCounts(ctx context.Context, imageID string) (total, unique int, err error)
}

// Server is the HTTP server.
type Server struct {
	config      *config.Config
	catalog     *catalog.Catalog
	pins        *pinning.Client
	resolver    *gateway.Resolver
	store       EngagementStore
	broadcaster *events.Broadcaster
	rateLimiter *ratelimit.Limiter

	// One loader per hash, created lazily by the URL endpoint.
	loadersMu sync.Mutex
	loaders   map[string]*gateway.Loader
}

// NewServer creates a new server.
func NewServer(
	cfg *config.Config,
	cat *catalog.Catalog,
	pins *pinning.Client,
	resolver *gateway.Resolver,
	store EngagementStore,
	broadcaster *events.Broadcaster,
	rateLimiter *ratelimit.Limiter,
) *Server {
	return &Server{
		config:      cfg,
		catalog:     cat,
		pins:        pins,
		resolver:    resolver,
		store:       store,
		broadcaster: broadcaster,
		rateLimiter: rateLimiter,
		loaders:     make(map[string]*gateway.Loader),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/events", s.handleEvents)

	mux.HandleFunc("GET /api/images", s.handleListImages)
	mux.HandleFunc("GET /api/images/by-tag", s.handleImagesByTag)
	mux.HandleFunc("GET /api/images/{hash}", s.handleGetImage)
	mux.HandleFunc("GET /api/images/{hash}/url", s.handleImageURL)
	mux.HandleFunc("POST /api/images/{hash}/url/retry", s.handleImageURLRetry)
	mux.HandleFunc("DELETE /api/images/{hash}", s.handleDeleteImage)
	mux.HandleFunc("GET /api/images/{imageId}/likes", s.handleLikeCounts)

	// Write endpoints sit behind the per-device limiter.
	limited := http.NewServeMux()
	limited.HandleFunc("POST /api/upload", s.handleUpload)
	limited.HandleFunc("POST /api/like", s.handleLike)
	limited.HandleFunc("POST /api/download", s.handleDownload)
	mux.Handle("POST /api/", s.rateLimiter.Middleware(limited))

	return logging.Middleware(metrics.Middleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   "archive backend is running",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// loaderFor returns the loader tracking a hash, creating it on first use.
func (s *Server) loaderFor(hash string) *gateway.Loader {
	s.loadersMu.Lock()
	defer s.loadersMu.Unlock()

	l, ok := s.loaders[hash]
	if !ok {
		l = gateway.NewLoader(s.resolver)
		s.loaders[hash] = l
	}
	return l
}

// PruneLoaders evicts loaders that reached a settled state. Polling a
// pruned hash recreates its loader on demand, so only probes still in
// flight are kept. Returns the number of evicted entries.
func (s *Server) PruneLoaders() int {
	s.loadersMu.Lock()
	defer s.loadersMu.Unlock()

	n := 0
	for hash, l := range s.loaders {
		if l.State().Status != gateway.StatusLoading {
			delete(s.loaders, hash)
			n++
		}
	}
	return n
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	s.sendJSON(w, code, map[string]any{
		"success": false,
		"error":   message,
	})
}

// sendErrorDetail carries upstream detail alongside the generic message.
func (s *Server) sendErrorDetail(w http.ResponseWriter, code int, message, details string) {
	s.sendJSON(w, code, map[string]any{
		"success": false,
		"error":   message,
		"details": details,
	})
}
