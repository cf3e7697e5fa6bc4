package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/Damil001/pinata-image-api-sub000/internal/engagement"
	"github.com/Damil001/pinata-image-api-sub000/internal/events"
	"github.com/Damil001/pinata-image-api-sub000/internal/logging"
)

type likeRequest struct {
	ImageID  string `json:"imageId"`
	DeviceID string `json:"deviceId"`
	Action   string `json:"action"`
}

type downloadRequest struct {
	ImageID  string `json:"imageId"`
	DeviceID string `json:"deviceId"`
}

// handleLike upserts a device's reaction. A device flipping between
// like and dislike keeps a single row.
func (s *Server) handleLike(w http.ResponseWriter, r *http.Request) {
	var req likeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ImageID == "" || req.DeviceID == "" {
		s.sendError(w, http.StatusBadRequest, "imageId and deviceId are required")
		return
	}
	if !engagement.ValidAction(req.Action) {
		s.sendError(w, http.StatusBadRequest, `action must be "like" or "dislike"`)
		return
	}

	if err := s.store.UpsertLike(r.Context(), req.ImageID, req.DeviceID, req.Action); err != nil {
		logging.Error("like upsert failed",
			zap.String("imageId", req.ImageID),
			zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to record reaction")
		return
	}

	s.broadcaster.Publish(events.Event{
		Type:   events.EventLiked,
		Hash:   req.ImageID,
		Action: req.Action,
	})

	s.sendJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "reaction recorded",
	})
}

func (s *Server) handleLikeCounts(w http.ResponseWriter, r *http.Request) {
	imageID := r.PathValue("imageId")

	counts, err := s.store.LikeCounts(r.Context(), imageID)
	if err != nil {
		logging.Error("like counts failed",
			zap.String("imageId", imageID),
			zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to fetch reactions")
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"counts":  counts,
	})
}

// handleDownload appends one download event and returns the updated
// aggregate counters.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ImageID == "" || req.DeviceID == "" {
		s.sendError(w, http.StatusBadRequest, "imageId and deviceId are required")
		return
	}

	if err := s.store.RecordDownload(r.Context(), req.ImageID, req.DeviceID); err != nil {
		logging.Error("download record failed",
			zap.String("imageId", req.ImageID),
			zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to record download")
		return
	}

	total, unique, err := s.store.DownloadCounts(r.Context(), req.ImageID)
	if err != nil {
		logging.Warn("download counts unavailable after record",
			zap.String("imageId", req.ImageID),
			zap.Error(err))
	}

	s.broadcaster.Publish(events.Event{
		Type: events.EventDownloaded,
		Hash: req.ImageID,
	})

	s.sendJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"total":   total,
		"unique":  unique,
	})
}
