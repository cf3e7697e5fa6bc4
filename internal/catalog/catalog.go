// Package catalog maintains the authoritative in-memory list of media
// records, fetched page-by-page from the pinning service and
// deduplicated by content hash. All mutation goes through FetchPage
// and Reset; nothing else touches the list.
package catalog

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Damil001/pinata-image-api-sub000/internal/logging"
	"github.com/Damil001/pinata-image-api-sub000/internal/media"
	"github.com/Damil001/pinata-image-api-sub000/internal/metrics"
)

// ErrBusy means a fetch is already in flight; the trigger is a no-op.
var ErrBusy = errors.New("catalog fetch already in flight")

// Mode selects how a fetched page is applied.
type Mode string

const (
	// ModeReplace makes the list exactly the fetched page.
	ModeReplace Mode = "replace"
	// ModeAppend concatenates, then dedups by hash (first seen wins).
	ModeAppend Mode = "append"
)

// When a category filter leaves fewer visible records than this and
// more server pages remain, the catalog auto-loads the next page.
const minVisibleRecords = 3

// Scan at least this many server pages before letting a match-free
// category view terminate pagination.
const minScanPages = 3

// Pagination mirrors the server-reported paging state.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

// more reports whether the server has pages beyond Page.
func (p Pagination) more() bool {
	return p.Page*p.Limit < p.Total
}

// Source lists one server page of records. Page is 1-based.
type Source interface {
	ListPage(ctx context.Context, page, limit int) ([]media.Record, Pagination, error)
}

// Counters fetches per-record download counts. Failures are tolerated:
// the record keeps zero counts.
type Counters interface {
	DownloadCounts(ctx context.Context, hash string) (total, unique int, err error)
}

// Catalog is the incremental record list plus its pagination state.
type Catalog struct {
	source   Source
	counters Counters
	pageSize int
	debounce time.Duration

	mu      sync.Mutex
	records []media.Record
	seen    map[string]bool
	pag     Pagination
	fetched bool // at least one page applied since reset
	busy    bool
	seq     uint64 // bumped by Reset; stale fetches are discarded

	// Category filtering happens after fetch (the listing endpoint has
	// no category parameter), so early pages can legitimately yield
	// zero matches while more server pages remain.
	category     string
	pagesScanned int
	pagesMatched int

	autoArmed bool
}

// New creates a catalog.
func New(source Source, counters Counters, pageSize int, debounce time.Duration) *Catalog {
	if pageSize <= 0 {
		pageSize = 12
	}
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	return &Catalog{
		source:    source,
		counters:  counters,
		pageSize:  pageSize,
		debounce:  debounce,
		seen:      make(map[string]bool),
		autoArmed: true,
	}
}

// Reset clears the list and pagination, optionally scoping the
// visibility heuristics to a category. Any in-flight fetch result is
// discarded on arrival. Auto-load is re-armed: it runs once per reset.
func (c *Catalog) Reset(category string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	c.records = nil
	c.seen = make(map[string]bool)
	c.pag = Pagination{Limit: c.pageSize}
	c.fetched = false
	c.busy = false
	c.category = category
	c.pagesScanned = 0
	c.pagesMatched = 0
	c.autoArmed = true
}

// PageSize returns the configured page size.
func (c *Catalog) PageSize() int {
	return c.pageSize
}

// NextPage returns the next page number to request.
func (c *Catalog) NextPage() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pag.Page + 1
}

// HasMore reports whether another page is worth fetching. For
// category-scoped views the server total alone is not trusted to
// terminate early: at least minScanPages pages are scanned, and
// scanning continues while any page has yielded a match.
func (c *Catalog) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasMoreLocked()
}

func (c *Catalog) hasMoreLocked() bool {
	if !c.fetched {
		return true
	}
	if !c.pag.more() {
		return false
	}
	if c.category == "" {
		return true
	}
	return c.pagesScanned < minScanPages || c.pagesMatched > 0
}

// Pagination returns the last server-reported paging state.
func (c *Catalog) Pagination() Pagination {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pag
}

// Records returns a snapshot copy of the deduplicated list.
func (c *Catalog) Records() []media.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]media.Record, len(c.records))
	copy(out, c.records)
	return out
}

// View returns the filtered, sorted projection over a snapshot.
func (c *Catalog) View(f media.Filter) []media.Record {
	return media.ComputeView(c.Records(), f)
}

// FetchPage fetches one server page and applies it. Only one fetch may
// be in flight at a time; concurrent triggers return ErrBusy and do
// nothing. A listing failure leaves the current list intact.
func (c *Catalog) FetchPage(ctx context.Context, page int, mode Mode) error {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	c.busy = true
	seq := c.seq
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()
	}()

	records, pag, err := c.source.ListPage(ctx, page, c.pageSize)
	if err != nil {
		metrics.RecordCatalogFetch(string(mode), false)
		return err
	}

	c.attachCounts(ctx, records)

	c.mu.Lock()
	// A reset happened while this fetch was on the wire; the response
	// belongs to the old scan and must not corrupt the new one.
	if seq != c.seq {
		c.mu.Unlock()
		metrics.RecordCatalogFetch(string(mode), true)
		return nil
	}

	switch mode {
	case ModeReplace:
		c.records = nil
		c.seen = make(map[string]bool)
		c.appendDedupedLocked(records)
	default:
		c.appendDedupedLocked(records)
	}

	c.pag = pag
	c.fetched = true
	c.pagesScanned++
	if c.pageMatches(records) {
		c.pagesMatched++
	}
	metrics.SetCatalogSize(len(c.records))

	autoNext := 0
	if c.autoArmed {
		if c.visibleCountLocked() < minVisibleRecords && c.hasMoreLocked() {
			autoNext = c.pag.Page + 1
		} else {
			// Minimum satisfied (or nothing left): disarm for good.
			c.autoArmed = false
		}
	}
	c.mu.Unlock()

	metrics.RecordCatalogFetch(string(mode), true)

	if autoNext > 0 {
		c.scheduleAutoLoad(ctx, autoNext, seq)
	}
	return nil
}

// appendDedupedLocked appends records not yet seen, preserving
// first-seen order: on a hash collision the earlier entry wins.
func (c *Catalog) appendDedupedLocked(records []media.Record) {
	for _, r := range records {
		if r.ContentHash == "" || c.seen[r.ContentHash] {
			continue
		}
		c.seen[r.ContentHash] = true
		c.records = append(c.records, r)
	}
}

// attachCounts fetches download counters for each record concurrently.
// A failed counter fetch never fails the page: the record keeps zeros.
func (c *Catalog) attachCounts(ctx context.Context, records []media.Record) {
	if c.counters == nil {
		return
	}
	var wg sync.WaitGroup
	for i := range records {
		wg.Add(1)
		go func(r *media.Record) {
			defer wg.Done()
			total, unique, err := c.counters.DownloadCounts(ctx, r.ContentHash)
			if err != nil {
				logging.Debug("download counts unavailable",
					zap.String("hash", r.ContentHash),
					zap.Error(err))
				return
			}
			r.TotalDownloads = total
			r.UniqueDownloads = unique
		}(&records[i])
	}
	wg.Wait()
}

func (c *Catalog) pageMatches(records []media.Record) bool {
	if c.category == "" {
		return len(records) > 0
	}
	for _, r := range records {
		if r.Category == c.category {
			return true
		}
	}
	return false
}

func (c *Catalog) visibleCountLocked() int {
	n := 0
	for _, r := range c.records {
		if !r.Visible {
			continue
		}
		if c.category != "" && r.Category != c.category {
			continue
		}
		n++
	}
	return n
}

// scheduleAutoLoad triggers the next append after a short debounce,
// under the same single-flight guard as any other fetch. A reset in
// the meantime cancels it via the sequence check in FetchPage.
func (c *Catalog) scheduleAutoLoad(ctx context.Context, page int, seq uint64) {
	// The triggering fetch is usually request-scoped and its context is
	// dead before the debounce fires; the auto-load must outlive it.
	ctx = context.WithoutCancel(ctx)
	time.AfterFunc(c.debounce, func() {
		c.mu.Lock()
		stale := seq != c.seq
		c.mu.Unlock()
		if stale {
			return
		}
		if err := c.FetchPage(ctx, page, ModeAppend); err != nil && !errors.Is(err, ErrBusy) {
			logging.Warn("auto-load fetch failed",
				zap.Int("page", page),
				zap.Error(err))
		}
	})
}
