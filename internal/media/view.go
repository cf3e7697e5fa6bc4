package media

import (
	"sort"
	"strings"
)

// Sort keys accepted by ComputeView.
const (
	SortRecent     = "recent"
	SortName       = "name"
	SortSize       = "size"
	SortDownloaded = "downloaded"
)

// Filter describes a client-visible projection over the record list.
type Filter struct {
	// Search matches case-insensitively as a substring against name,
	// description, any tag, and location; a record matches if ANY
	// field matches.
	Search string
	// Tags matches when ANY selected tag is a case-insensitive
	// substring of ANY of the record's tags.
	Tags []string
	// FileType is an exact match on the lowercased file extension, or
	// "all" / "" to disable.
	FileType string
	// SortKey is one of the Sort* constants; unknown keys fall back to
	// SortRecent.
	SortKey string
}

// ComputeView returns a new filtered, sorted projection of records.
// Hidden records never appear: the view is the client-facing surface,
// and hidden pins (thumbnail records included) stay internal.
// It is pure: the input slice is never mutated and ties keep input
// order (stable sort). Name ordering is ascending byte-wise comparison
// of the lowercased names.
func ComputeView(records []Record, f Filter) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if matches(&r, &f) {
			out = append(out, r)
		}
	}

	switch f.SortKey {
	case SortName:
		sort.SliceStable(out, func(i, j int) bool {
			return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
		})
	case SortSize:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].SizeBytes > out[j].SizeBytes
		})
	case SortDownloaded:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].TotalDownloads > out[j].TotalDownloads
		})
	default: // SortRecent
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].PinnedAt.After(out[j].PinnedAt)
		})
	}

	return out
}

func matches(r *Record, f *Filter) bool {
	if !r.Visible {
		return false
	}
	if f.Search != "" && !matchesSearch(r, f.Search) {
		return false
	}
	if len(f.Tags) > 0 && !matchesTags(r, f.Tags) {
		return false
	}
	if f.FileType != "" && f.FileType != "all" {
		if r.Extension() != strings.ToLower(f.FileType) {
			return false
		}
	}
	return true
}

func matchesSearch(r *Record, search string) bool {
	q := strings.ToLower(search)
	if strings.Contains(strings.ToLower(r.Name), q) ||
		strings.Contains(strings.ToLower(r.Description), q) ||
		strings.Contains(strings.ToLower(r.Location), q) {
		return true
	}
	for _, tag := range r.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}

// matchesTags is deliberately asymmetric: the selected tag must be a
// substring of a record tag, not the other way around.
func matchesTags(r *Record, selected []string) bool {
	for _, sel := range selected {
		s := strings.ToLower(sel)
		for _, tag := range r.Tags {
			if strings.Contains(strings.ToLower(tag), s) {
				return true
			}
		}
	}
	return false
}
