package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Damil001/pinata-image-api-sub000/internal/catalog"
	"github.com/Damil001/pinata-image-api-sub000/internal/events"
	"github.com/Damil001/pinata-image-api-sub000/internal/gateway"
	"github.com/Damil001/pinata-image-api-sub000/internal/logging"
	"github.com/Damil001/pinata-image-api-sub000/internal/media"
	"github.com/Damil001/pinata-image-api-sub000/internal/pinning"
)

// Cap for the by-tag full scan.
const tagScanLimit = 1000

// handleListImages serves the filtered catalog view with pagination.
func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page := 1
	if p, err := strconv.Atoi(q.Get("page")); err == nil && p > 0 {
		page = p
	}

	mode := catalog.ModeAppend
	if page == 1 {
		mode = catalog.ModeReplace
	}
	if err := s.catalog.FetchPage(r.Context(), page, mode); err != nil && !errors.Is(err, catalog.ErrBusy) {
		s.upstreamFailure(w, "failed to list pinned files", err)
		return
	}

	filter := media.Filter{
		Search:   q.Get("search"),
		FileType: q.Get("fileType"),
		SortKey:  q.Get("sort"),
	}
	if tags := q.Get("tags"); tags != "" {
		filter.Tags = media.ParseTags(tags)
	}

	view := s.catalog.View(filter)
	if category := q.Get("category"); category != "" {
		filtered := view[:0:0]
		for _, rec := range view {
			if rec.Category == category {
				filtered = append(filtered, rec)
			}
		}
		view = filtered
	}

	// The catalog pages at a fixed size; the reported limit is the one
	// actually used, not whatever the query asked for.
	pag := s.catalog.Pagination()
	s.sendJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"images":  view,
		"pagination": map[string]any{
			"page":    pag.Page,
			"limit":   pag.Limit,
			"total":   pag.Total,
			"hasMore": s.catalog.HasMore(),
		},
	})
}

// handleImagesByTag scans up to tagScanLimit pins and slices the result.
// Fine at archive scale; revisit if the pin list outgrows the cap.
func (s *Server) handleImagesByTag(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tag := q.Get("tag")
	if tag == "" {
		s.sendError(w, http.StatusBadRequest, "tag parameter is required")
		return
	}

	page := 1
	if p, err := strconv.Atoi(q.Get("page")); err == nil && p > 0 {
		page = p
	}
	limit := s.catalog.PageSize()
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}

	result, err := s.pins.ListPins(r.Context(), 1, tagScanLimit)
	if err != nil {
		s.upstreamFailure(w, "failed to list pinned files", err)
		return
	}

	var matched []media.Record
	for i := range result.Rows {
		rec := result.Rows[i].Record()
		if !rec.Visible {
			continue
		}
		for _, t := range rec.Tags {
			if strings.Contains(strings.ToLower(t), strings.ToLower(tag)) {
				matched = append(matched, rec)
				break
			}
		}
	}

	start := (page - 1) * limit
	if start > len(matched) {
		start = len(matched)
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}

	s.sendJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"tag":     tag,
		"images":  matched[start:end],
		"pagination": map[string]any{
			"page":  page,
			"limit": limit,
			"total": len(matched),
		},
	})
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")

	row, err := s.pins.GetPin(r.Context(), hash)
	if err != nil {
		if errors.Is(err, pinning.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, "image not found")
			return
		}
		s.upstreamFailure(w, "failed to fetch image", err)
		return
	}

	rec := row.Record()
	if total, unique, err := s.store.DownloadCounts(r.Context(), hash); err == nil {
		rec.TotalDownloads = total
		rec.UniqueDownloads = unique
	}

	s.sendJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"image":   rec,
	})
}

// handleImageURL reports (and on first call starts) gateway resolution
// for a hash. Clients poll until status leaves "loading".
func (s *Server) handleImageURL(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")
	if !gateway.ValidHash(hash) {
		s.sendError(w, http.StatusBadRequest, "invalid content hash")
		return
	}

	kind := media.Kind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = media.KindImage
	}

	l := s.loaderFor(hash)
	if l.State().Status == gateway.StatusIdle {
		// Detach from the request: resolution outlives the poll.
		l.Set(context.Background(), hash, kind, r.URL.Query().Get("thumbnailUrl"))
	}

	st := l.State()
	body := map[string]any{
		"success": true,
		"status":  st.Status,
	}
	if st.URL != "" {
		body["url"] = st.URL
	}
	s.sendJSON(w, http.StatusOK, body)
}

// handleImageURLRetry re-arms a failed resolution from the first gateway.
func (s *Server) handleImageURLRetry(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")
	if !gateway.ValidHash(hash) {
		s.sendError(w, http.StatusBadRequest, "invalid content hash")
		return
	}

	l := s.loaderFor(hash)
	l.Retry(context.Background())

	st := l.State()
	body := map[string]any{
		"success": true,
		"status":  st.Status,
	}
	if st.URL != "" {
		body["url"] = st.URL
	}
	s.sendJSON(w, http.StatusOK, body)
}

func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")

	if err := s.pins.Unpin(r.Context(), hash); err != nil {
		s.upstreamFailure(w, "failed to unpin image", err)
		return
	}

	s.broadcaster.Publish(events.Event{Type: events.EventUnpinned, Hash: hash})
	logging.Info("image unpinned", zap.String("hash", hash))

	s.sendJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  "image unpinned",
		"ipfsHash": hash,
	})
}

// upstreamFailure logs the technical detail and returns a generic
// failure, carrying upstream detail when the pinning service gave one.
func (s *Server) upstreamFailure(w http.ResponseWriter, message string, err error) {
	logging.Error(message, zap.Error(err))

	var ue *pinning.UpstreamError
	if errors.As(err, &ue) {
		s.sendErrorDetail(w, http.StatusBadGateway, message, ue.Detail)
		return
	}
	s.sendError(w, http.StatusInternalServerError, message)
}
