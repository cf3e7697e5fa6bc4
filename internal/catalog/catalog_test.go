package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Damil001/pinata-image-api-sub000/internal/media"
)

// fakeSource serves scripted pages keyed by page number.
type fakeSource struct {
	mu    sync.Mutex
	pages map[int][]media.Record
	total int
	limit int
	err   error
	block chan struct{} // when non-nil, ListPage waits on it
	calls []int
}

func (s *fakeSource) ListPage(ctx context.Context, page, limit int) ([]media.Record, Pagination, error) {
	s.mu.Lock()
	s.calls = append(s.calls, page)
	block := s.block
	s.mu.Unlock()

	if block != nil {
		<-block
	}
	if s.err != nil {
		return nil, Pagination{}, s.err
	}
	return s.pages[page], Pagination{Page: page, Limit: s.limit, Total: s.total}, nil
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// fakeCounters returns scripted counts, failing for hashes in bad.
type fakeCounters struct {
	counts map[string][2]int
	bad    map[string]bool
}

func (c *fakeCounters) DownloadCounts(_ context.Context, hash string) (int, int, error) {
	if c.bad[hash] {
		return 0, 0, errors.New("counts unavailable")
	}
	n := c.counts[hash]
	return n[0], n[1], nil
}

func rec(hash string, extra ...func(*media.Record)) media.Record {
	r := media.Record{ContentHash: hash, Name: hash + ".png", Visible: true, Kind: media.KindImage}
	for _, f := range extra {
		f(&r)
	}
	return r
}

func withCategory(cat string) func(*media.Record) {
	return func(r *media.Record) { r.Category = cat }
}

func hashes(records []media.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ContentHash
	}
	return out
}

func TestFetchPageAppendDedupes(t *testing.T) {
	src := &fakeSource{
		pages: map[int][]media.Record{
			1: {rec("QmA"), rec("QmB")},
			2: {rec("QmB"), rec("QmC")},
		},
		total: 4,
		limit: 2,
	}
	c := New(src, nil, 2, time.Hour)
	c.Reset("")

	if err := c.FetchPage(context.Background(), 1, ModeReplace); err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if err := c.FetchPage(context.Background(), 2, ModeAppend); err != nil {
		t.Fatalf("page 2: %v", err)
	}

	got := hashes(c.Records())
	want := []string{"QmA", "QmB", "QmC"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("record %d: got %s, want %s (first seen wins)", i, got[i], want[i])
		}
	}
}

func TestFetchPageReplaceDiscardsPrevious(t *testing.T) {
	src := &fakeSource{
		pages: map[int][]media.Record{
			1: {rec("QmA"), rec("QmB")},
			2: {rec("QmC")},
		},
		total: 3,
		limit: 2,
	}
	c := New(src, nil, 2, time.Hour)
	c.Reset("")

	c.FetchPage(context.Background(), 1, ModeReplace)
	c.FetchPage(context.Background(), 2, ModeReplace)

	got := hashes(c.Records())
	if len(got) != 1 || got[0] != "QmC" {
		t.Errorf("got %v, want [QmC]", got)
	}
}

func TestHasMoreFromServerTotal(t *testing.T) {
	src := &fakeSource{
		pages: map[int][]media.Record{
			1: {rec("QmA")}, 2: {rec("QmB")}, 3: {rec("QmC")},
		},
		total: 25,
		limit: 10,
	}
	c := New(src, nil, 10, time.Hour)
	c.Reset("")

	if !c.HasMore() {
		t.Error("HasMore must be true before the first fetch")
	}

	c.FetchPage(context.Background(), 1, ModeReplace)
	if !c.HasMore() {
		t.Error("after page 1 of 25/10: want more")
	}
	c.FetchPage(context.Background(), 2, ModeAppend)
	if !c.HasMore() {
		t.Error("after page 2 of 25/10: want more")
	}
	c.FetchPage(context.Background(), 3, ModeAppend)
	if c.HasMore() {
		t.Error("after page 3 of 25/10: want no more")
	}
}

func TestHasMoreCategoryScanHeuristic(t *testing.T) {
	// Pages 1 and 2 have no posters; the scan must not stop there.
	src := &fakeSource{
		pages: map[int][]media.Record{
			1: {rec("QmA", withCategory("flyer"))},
			2: {rec("QmB", withCategory("flyer"))},
			3: {rec("QmC", withCategory("poster"))},
		},
		total: 100,
		limit: 1,
	}
	c := New(src, nil, 1, time.Hour)
	c.Reset("poster")

	c.FetchPage(context.Background(), 1, ModeReplace)
	if !c.HasMore() {
		t.Fatal("scan must continue past a match-free first page")
	}
	c.FetchPage(context.Background(), 2, ModeAppend)
	if !c.HasMore() {
		t.Fatal("scan must continue past a match-free second page")
	}
	c.FetchPage(context.Background(), 3, ModeAppend)
	// Page 3 matched, so pagination keeps going while the server has more.
	if !c.HasMore() {
		t.Error("a matching page must keep the scan alive")
	}
}

func TestFetchPageSingleFlight(t *testing.T) {
	block := make(chan struct{})
	src := &fakeSource{
		pages: map[int][]media.Record{1: {rec("QmA")}},
		total: 1,
		limit: 1,
		block: block,
	}
	c := New(src, nil, 1, time.Hour)
	c.Reset("")

	done := make(chan error, 1)
	go func() { done <- c.FetchPage(context.Background(), 1, ModeReplace) }()

	// Wait for the first fetch to reach the source.
	deadline := time.Now().Add(2 * time.Second)
	for src.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if err := c.FetchPage(context.Background(), 2, ModeAppend); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent fetch: got %v, want ErrBusy", err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if n := src.callCount(); n != 1 {
		t.Errorf("source called %d times, want 1", n)
	}
}

func TestResetDiscardsInFlightFetch(t *testing.T) {
	block := make(chan struct{})
	src := &fakeSource{
		pages: map[int][]media.Record{1: {rec("QmStale")}},
		total: 1,
		limit: 1,
		block: block,
	}
	c := New(src, nil, 1, time.Hour)
	c.Reset("")

	done := make(chan error, 1)
	go func() { done <- c.FetchPage(context.Background(), 1, ModeReplace) }()

	deadline := time.Now().Add(2 * time.Second)
	for src.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	c.Reset("")
	close(block)
	if err := <-done; err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if got := c.Records(); len(got) != 0 {
		t.Errorf("stale fetch applied after reset: %v", hashes(got))
	}
	if c.Pagination().Page != 0 {
		t.Errorf("stale pagination applied after reset: %+v", c.Pagination())
	}
}

func TestFetchPageErrorKeepsExistingRecords(t *testing.T) {
	src := &fakeSource{
		pages: map[int][]media.Record{1: {rec("QmA")}},
		total: 10,
		limit: 1,
	}
	c := New(src, nil, 1, time.Hour)
	c.Reset("")
	c.FetchPage(context.Background(), 1, ModeReplace)

	src.err = errors.New("listing down")
	if err := c.FetchPage(context.Background(), 2, ModeAppend); err == nil {
		t.Fatal("expected listing error")
	}

	if got := hashes(c.Records()); len(got) != 1 || got[0] != "QmA" {
		t.Errorf("records after failed fetch: %v, want [QmA]", got)
	}
}

func TestCounterFailureKeepsRecordWithZeroCounts(t *testing.T) {
	src := &fakeSource{
		pages: map[int][]media.Record{1: {rec("QmA"), rec("QmB")}},
		total: 2,
		limit: 2,
	}
	counters := &fakeCounters{
		counts: map[string][2]int{"QmA": {7, 3}},
		bad:    map[string]bool{"QmB": true},
	}
	c := New(src, counters, 2, time.Hour)
	c.Reset("")

	if err := c.FetchPage(context.Background(), 1, ModeReplace); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	records := c.Records()
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].TotalDownloads != 7 || records[0].UniqueDownloads != 3 {
		t.Errorf("QmA counts: %d/%d, want 7/3",
			records[0].TotalDownloads, records[0].UniqueDownloads)
	}
	if records[1].TotalDownloads != 0 || records[1].UniqueDownloads != 0 {
		t.Errorf("QmB must keep zero counts on counter failure, got %d/%d",
			records[1].TotalDownloads, records[1].UniqueDownloads)
	}
}

func TestAutoLoadFillsSparseCategoryView(t *testing.T) {
	// One poster per page: two auto-loads are needed to reach three
	// visible posters.
	src := &fakeSource{
		pages: map[int][]media.Record{
			1: {rec("QmP1", withCategory("poster")), rec("QmF1", withCategory("flyer"))},
			2: {rec("QmP2", withCategory("poster")), rec("QmF2", withCategory("flyer"))},
			3: {rec("QmP3", withCategory("poster")), rec("QmF3", withCategory("flyer"))},
			4: {rec("QmP4", withCategory("poster"))},
		},
		total: 7,
		limit: 2,
	}
	c := New(src, nil, 2, 10*time.Millisecond)
	c.Reset("poster")

	if err := c.FetchPage(context.Background(), 1, ModeReplace); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		view := c.View(media.Filter{})
		posters := 0
		for _, r := range view {
			if r.Category == "poster" {
				posters++
			}
		}
		if posters >= 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	records := c.Records()
	posters := 0
	for _, r := range records {
		if r.Category == "poster" {
			posters++
		}
	}
	if posters < 3 {
		t.Fatalf("auto-load stalled at %d posters after %d fetches", posters, src.callCount())
	}

	// Once the minimum is met, auto-load disarms: no fourth page.
	calls := src.callCount()
	time.Sleep(100 * time.Millisecond)
	if src.callCount() != calls {
		t.Errorf("auto-load kept fetching after minimum was met")
	}
}

// ctxSource fails like a real HTTP client when its context is dead.
type ctxSource struct {
	inner *fakeSource
}

func (s *ctxSource) ListPage(ctx context.Context, page, limit int) ([]media.Record, Pagination, error) {
	if err := ctx.Err(); err != nil {
		return nil, Pagination{}, err
	}
	return s.inner.ListPage(ctx, page, limit)
}

func TestAutoLoadOutlivesCallerContext(t *testing.T) {
	src := &fakeSource{
		pages: map[int][]media.Record{
			1: {rec("QmA")},
			2: {rec("QmB")},
			3: {rec("QmC")},
		},
		total: 3,
		limit: 1,
	}
	c := New(&ctxSource{inner: src}, nil, 1, 10*time.Millisecond)
	c.Reset("")

	ctx, cancel := context.WithCancel(context.Background())
	if err := c.FetchPage(ctx, 1, ModeReplace); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	// The request-scoped caller goes away before the debounce fires.
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(c.Records()) < 3 {
		time.Sleep(10 * time.Millisecond)
	}
	if got := hashes(c.Records()); len(got) != 3 {
		t.Fatalf("auto-load stalled after caller context was canceled: %v", got)
	}
}

func TestViewAppliesFilter(t *testing.T) {
	src := &fakeSource{
		pages: map[int][]media.Record{
			1: {rec("QmA"), rec("QmB", func(r *media.Record) { r.Name = "zine.pdf"; r.Kind = media.KindPDF })},
		},
		total: 2,
		limit: 2,
	}
	c := New(src, nil, 2, time.Hour)
	c.Reset("")
	c.FetchPage(context.Background(), 1, ModeReplace)

	view := c.View(media.Filter{FileType: "pdf"})
	if len(view) != 1 || view[0].ContentHash != "QmB" {
		t.Errorf("pdf view: %v", hashes(view))
	}
}
