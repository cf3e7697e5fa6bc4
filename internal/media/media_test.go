package media

import (
	"reflect"
	"testing"
	"time"
)

func TestParseTags(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want []string
	}{
		{"comma string", "art, poster ,protest", []string{"art", "poster", "protest"}},
		{"string list", []string{"art", "poster"}, []string{"art", "poster"}},
		{"any list", []any{"art", 42, "poster"}, []string{"art", "poster"}},
		{"empty entries dropped", "art,, ,poster", []string{"art", "poster"}},
		{"nil", nil, nil},
		{"unexpected type", 7, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseTags(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseTags(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseVisible(t *testing.T) {
	tests := []struct {
		in   any
		want bool
	}{
		{"true", true},
		{"false", false},
		{"visible", true},
		{"hidden", false},
		{" Hidden ", false},
		{true, true},
		{false, false},
		{nil, true},
		{"garbage", true},
	}

	for _, tt := range tests {
		if got := ParseVisible(tt.in); got != tt.want {
			t.Errorf("ParseVisible(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestKindForName(t *testing.T) {
	tests := []struct {
		name string
		want Kind
	}{
		{"flyer.png", KindImage},
		{"poster.JPEG", KindImage},
		{"zine.pdf", KindPDF},
		{"notes.txt", KindUnknown},
		{"noextension", KindUnknown},
	}

	for _, tt := range tests {
		if got := KindForName(tt.name); got != tt.want {
			t.Errorf("KindForName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func sampleRecords() []Record {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return []Record{
		{
			ContentHash: "QmA", Name: "flyer.png", SizeBytes: 100,
			PinnedAt: base, Tags: []string{"palestine"}, Location: "Beirut",
			Visible: true, TotalDownloads: 5,
		},
		{
			ContentHash: "QmB", Name: "banner.png", SizeBytes: 300,
			PinnedAt: base.Add(48 * time.Hour), Tags: []string{"mural"},
			Visible: true, TotalDownloads: 1,
		},
		{
			ContentHash: "QmC", Name: "Ant.jpg", SizeBytes: 200,
			PinnedAt: base.Add(24 * time.Hour), Tags: []string{"stencil art"},
			Visible: true, TotalDownloads: 9,
		},
		{
			ContentHash: "QmD", Name: "zine.pdf", SizeBytes: 400,
			PinnedAt: base.Add(72 * time.Hour), Tags: []string{"print"},
			Visible: true, TotalDownloads: 9,
		},
	}
}

func hashes(records []Record) []string {
	var out []string
	for _, r := range records {
		out = append(out, r.ContentHash)
	}
	return out
}

func TestComputeViewSearchORSemantics(t *testing.T) {
	records := sampleRecords()

	// The same record must be reachable through location, tag, and name.
	for _, q := range []string{"beir", "pale", "fly"} {
		view := ComputeView(records, Filter{Search: q})
		if len(view) != 1 || view[0].ContentHash != "QmA" {
			t.Errorf("search %q: got %v, want [QmA]", q, hashes(view))
		}
	}
}

func TestComputeViewTagSubstring(t *testing.T) {
	// "art" is a substring of "stencil art", not an exact tag.
	view := ComputeView(sampleRecords(), Filter{Tags: []string{"art"}})
	if len(view) != 1 || view[0].ContentHash != "QmC" {
		t.Errorf("tag filter: got %v, want [QmC]", hashes(view))
	}
}

func TestComputeViewFileType(t *testing.T) {
	view := ComputeView(sampleRecords(), Filter{FileType: "pdf"})
	if len(view) != 1 || view[0].ContentHash != "QmD" {
		t.Errorf("file type pdf: got %v, want [QmD]", hashes(view))
	}

	all := ComputeView(sampleRecords(), Filter{FileType: "all"})
	if len(all) != 4 {
		t.Errorf("file type all: got %d records, want 4", len(all))
	}
}

func TestComputeViewSortKeys(t *testing.T) {
	records := sampleRecords()

	tests := []struct {
		key  string
		want []string
	}{
		{SortRecent, []string{"QmD", "QmB", "QmC", "QmA"}},
		{SortName, []string{"QmC", "QmB", "QmA", "QmD"}},
		{SortSize, []string{"QmD", "QmB", "QmC", "QmA"}},
		// QmC and QmD tie at 9 downloads; input order is kept.
		{SortDownloaded, []string{"QmC", "QmD", "QmA", "QmB"}},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got := hashes(ComputeView(records, Filter{SortKey: tt.key}))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("sort %s: got %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestComputeViewExcludesHidden(t *testing.T) {
	records := sampleRecords()
	records = append(records, Record{
		ContentHash: "QmThumb", Name: "thumb_zine.jpg", SizeBytes: 10,
		Visible: false,
	})

	view := ComputeView(records, Filter{})
	for _, r := range view {
		if r.ContentHash == "QmThumb" {
			t.Fatal("hidden record leaked into the view")
		}
	}
	if len(view) != 4 {
		t.Errorf("got %d records, want the 4 visible ones", len(view))
	}
}

func TestComputeViewDoesNotMutateInput(t *testing.T) {
	records := sampleRecords()
	before := hashes(records)

	ComputeView(records, Filter{SortKey: SortName})

	if !reflect.DeepEqual(hashes(records), before) {
		t.Error("ComputeView mutated its input slice")
	}
}
