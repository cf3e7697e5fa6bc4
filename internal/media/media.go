// Package media defines the archive's media record model and the
// normalization applied at the ingestion boundary. Listing rows arrive
// from the pinning service with loosely typed metadata (tags as either
// a JSON array or a comma-joined string, visibility as "true"/"false"
// or "visible"/"hidden"); everything is normalized here before any
// other component sees it.
package media

import (
	"path/filepath"
	"strings"
	"time"
)

// Kind classifies a record by file type, resolved once from the file
// name at ingestion and carried on the record.
type Kind string

const (
	KindImage   Kind = "image"
	KindPDF     Kind = "pdf"
	KindUnknown Kind = "unknown"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
	".tiff": true,
	".svg":  true,
}

// KindForName resolves the file kind from a display name's extension.
func KindForName(name string) Kind {
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case ext == ".pdf":
		return KindPDF
	case imageExtensions[ext]:
		return KindImage
	default:
		return KindUnknown
	}
}

// Record is one pinned file. ContentHash is the identity: globally
// unique and immutable once pinned.
type Record struct {
	ContentHash   string    `json:"ipfsHash"`
	Name          string    `json:"name"`
	SizeBytes     int64     `json:"size"`
	PinnedAt      time.Time `json:"pinnedAt"`
	Description   string    `json:"description,omitempty"`
	Tags          []string  `json:"tags"`
	Category      string    `json:"category,omitempty"`
	Location      string    `json:"location,omitempty"`
	Artist        string    `json:"artist,omitempty"`
	Visible       bool      `json:"visible"`
	Kind          Kind      `json:"kind"`
	ThumbnailHash string    `json:"thumbnailHash,omitempty"`

	// Download counters are fetched per-record after listing and
	// default to zero when the secondary fetch fails.
	TotalDownloads  int `json:"totalDownloads"`
	UniqueDownloads int `json:"uniqueDownloads"`
}

// Extension returns the record's lowercased file extension without the
// leading dot, or "" when the name has none.
func (r *Record) Extension() string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(r.Name)), ".")
}

// ParseTags normalizes the two tag representations seen in pin
// metadata: an explicit list or a comma-joined string. Entries are
// trimmed and empties dropped; order is preserved.
func ParseTags(v any) []string {
	var raw []string
	switch t := v.(type) {
	case nil:
		return nil
	case []string:
		raw = t
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	case string:
		raw = strings.Split(t, ",")
	default:
		return nil
	}

	var tags []string
	for _, t := range raw {
		t = strings.TrimSpace(t)
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// ParseVisible normalizes the visibility flag. Both "true"/"false" and
// "visible"/"hidden" occur in stored metadata; anything unrecognized
// defaults to visible.
func ParseVisible(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "false", "hidden":
			return false
		default:
			return true
		}
	default:
		return true
	}
}
