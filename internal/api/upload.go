package api

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	"go.uber.org/zap"

	"github.com/Damil001/pinata-image-api-sub000/internal/events"
	"github.com/Damil001/pinata-image-api-sub000/internal/logging"
	"github.com/Damil001/pinata-image-api-sub000/internal/media"
	"github.com/Damil001/pinata-image-api-sub000/internal/pinning"
)

// Longest edge for server-generated PDF thumbnails.
const thumbnailMaxEdge = 512

// handleUpload pins a file with its metadata. Only images and PDFs are
// accepted; everything else is rejected before touching the pinning
// service.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadSize)
	if err := r.ParseMultipartForm(s.config.MaxUploadSize); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid multipart request")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	contentType := sniffType(header, content)
	if !acceptedType(contentType) {
		s.sendError(w, http.StatusBadRequest,
			fmt.Sprintf("unsupported file type %q: only images and PDFs are accepted", contentType))
		return
	}

	name := r.FormValue("name")
	if name == "" {
		name = header.Filename
	}

	keyvalues := map[string]any{
		"visibility": normalizeVisibility(r.FormValue("visibility")),
	}
	for _, field := range []string{"description", "category", "location", "artist"} {
		if v := r.FormValue(field); v != "" {
			keyvalues[field] = v
		}
	}
	if tags := media.ParseTags(r.FormValue("tags")); len(tags) != 0 {
		keyvalues["tags"] = strings.Join(tags, ",")
	}

	// Images carry their own provenance; fold it in when the uploader
	// left the fields blank.
	if strings.HasPrefix(contentType, "image/") {
		applyExif(content, keyvalues)
	}

	// A PDF can ship a preview image; it gets downscaled and pinned as
	// its own record, referenced from the main pin.
	if thumbHash := s.pinThumbnail(r, name); thumbHash != "" {
		keyvalues["thumbnailHash"] = thumbHash
	}

	result, err := s.pins.PinFile(r.Context(), name, bytes.NewReader(content), pinning.PinMetadata{
		Name:      name,
		KeyValues: keyvalues,
	})
	if err != nil {
		s.upstreamFailure(w, "failed to pin file", err)
		return
	}

	logging.Info("file pinned",
		zap.String("hash", result.IPFSHash),
		zap.String("name", name),
		zap.Int64("size", result.PinSize))

	s.broadcaster.Publish(events.Event{
		Type: events.EventPinned,
		Hash: result.IPFSHash,
		Name: name,
		Size: result.PinSize,
	})

	// The catalog re-syncs on its next replace fetch.
	gatewayURL := ""
	if gws := s.resolver.Gateways(); len(gws) > 0 {
		gatewayURL = gws[0] + "/" + result.IPFSHash
	}

	s.sendJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"ipfsHash":   result.IPFSHash,
		"pinSize":    result.PinSize,
		"timestamp":  result.Timestamp,
		"gatewayUrl": gatewayURL,
		"metadata":   keyvalues,
	})
}

// pinThumbnail pins the optional thumbnail form file, downscaled to
// thumbnailMaxEdge. Thumbnail failures never fail the upload.
func (s *Server) pinThumbnail(r *http.Request, name string) string {
	thumb, _, err := r.FormFile("thumbnail")
	if err != nil {
		return ""
	}
	defer thumb.Close()

	img, err := imaging.Decode(thumb, imaging.AutoOrientation(true))
	if err != nil {
		logging.Warn("thumbnail decode failed", zap.Error(err))
		return ""
	}
	img = imaging.Fit(img, thumbnailMaxEdge, thumbnailMaxEdge, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		logging.Warn("thumbnail encode failed", zap.Error(err))
		return ""
	}

	thumbName := "thumb_" + strings.TrimSuffix(name, ".pdf") + ".jpg"
	result, err := s.pins.PinFile(r.Context(), thumbName, &buf, pinning.PinMetadata{
		Name: thumbName,
		KeyValues: map[string]any{
			"type":       "thumbnail",
			"visibility": "hidden",
		},
	})
	if err != nil {
		logging.Warn("thumbnail pin failed", zap.Error(err))
		return ""
	}
	return result.IPFSHash
}

// applyExif extracts capture time and GPS coordinates from image EXIF
// data into the metadata keyvalues, without overwriting user input.
func applyExif(content []byte, keyvalues map[string]any) {
	x, err := exif.Decode(bytes.NewReader(content))
	if err != nil {
		return
	}

	if _, ok := keyvalues["dateTaken"]; !ok {
		if t, err := x.DateTime(); err == nil {
			keyvalues["dateTaken"] = t.UTC().Format("2006-01-02T15:04:05Z")
		}
	}
	if _, ok := keyvalues["location"]; !ok {
		if lat, long, err := x.LatLong(); err == nil {
			keyvalues["location"] = fmt.Sprintf("%.6f,%.6f", lat, long)
		}
	}
}

// sniffType prefers the declared content type, falling back to content
// sniffing when the part carries none.
func sniffType(header *multipart.FileHeader, content []byte) string {
	if ct := header.Header.Get("Content-Type"); ct != "" && ct != "application/octet-stream" {
		return ct
	}
	return http.DetectContentType(content)
}

func acceptedType(contentType string) bool {
	return strings.HasPrefix(contentType, "image/") || contentType == "application/pdf"
}

func normalizeVisibility(v string) string {
	if !media.ParseVisible(v) {
		return "hidden"
	}
	return "visible"
}
