// Package harvest builds the movie catalog by walking the discover listing
// and enriching each film with its lead cast.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/cinematch/internal/catalog"
	"github.com/kalambet/cinematch/internal/metrics"
	"github.com/kalambet/cinematch/internal/storage"
	"github.com/kalambet/cinematch/internal/tmdb"
)

// API is the part of the movie database client the harvester uses.
type API interface {
	Discover(ctx context.Context, page int, q tmdb.DiscoverQuery) (*tmdb.DiscoverPage, error)
	Credits(ctx context.Context, movieID int64) (*tmdb.Credits, error)
	Genres(ctx context.Context) (map[int]string, error)
}

// RunStore records finished runs. Implemented by storage.Store.
type RunStore interface {
	SaveHarvestRun(r storage.HarvestRun) error
}

// Options configures a Harvester.
type Options struct {
	Pages       int // defaults to 500
	Concurrency int // pages fetched at once; defaults to 1
	CastLimit   int // defaults to 3
	Query       tmdb.DiscoverQuery
	// ProgressEvery logs progress after every n pages; defaults to 50.
	ProgressEvery int
	Logger        *slog.Logger
	Now           func() time.Time
}

// Harvester walks the listing pages and enriches every film.
type Harvester struct {
	api  API
	opts Options
	log  *slog.Logger
}

// New creates a Harvester.
func New(api API, opts Options) *Harvester {
	if opts.Pages <= 0 {
		opts.Pages = 500
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.CastLimit <= 0 {
		opts.CastLimit = 3
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 50
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Harvester{api: api, opts: opts, log: opts.Logger}
}

// Summary aggregates the per-unit results of a run.
type Summary struct {
	RunID          string         `json:"run_id"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
	PagesRequested int            `json:"pages_requested"`
	PagesOK        int            `json:"pages_ok"`
	PagesSkipped   int            `json:"pages_skipped"`
	Items          int            `json:"items"`
	ItemsEnriched  int            `json:"items_enriched"`
	ItemsSkipped   int            `json:"items_skipped"`
	Reasons        map[string]int `json:"skip_reasons"`
	DuplicateIDs   []int64        `json:"duplicate_ids,omitempty"`
	Canceled       bool           `json:"canceled"`
	OutputPath     string         `json:"output_path,omitempty"`
}

func (s *Summary) skip(unit string, err error) {
	if s.Reasons == nil {
		s.Reasons = make(map[string]int)
	}
	s.Reasons[unit+":"+Reason(err)]++
}

// Reason classifies a unit failure for the run summary.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, tmdb.ErrParse):
		return "parse"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, tmdb.ErrTransport):
		return "transport"
	default:
		return "other"
	}
}

// PageResult is the outcome of one listing page: either its items or the
// error that made the whole page skipped.
type PageResult struct {
	Page  int
	Items []ItemResult
	Err   error
}

// ItemResult is one film from a successful page. EnrichErr is set when the
// cast lookup failed; the record is kept with an empty cast.
type ItemResult struct {
	Record    catalog.MovieRecord
	EnrichErr error
}

// Run walks pages 1..Pages and returns the collected catalog with a
// summary. Page and item failures are counted, never returned. When ctx is
// canceled the run stops at the next page boundary; pages already in
// flight are finished.
func (h *Harvester) Run(ctx context.Context) (Summary, catalog.Catalog) {
	sum := Summary{
		RunID:          uuid.NewString(),
		StartedAt:      h.opts.Now(),
		PagesRequested: h.opts.Pages,
	}
	work := context.WithoutCancel(ctx)

	genres, err := h.api.Genres(work)
	if err != nil {
		h.log.Warn("genre list unavailable, genre column will be empty", "error", err)
		sum.skip("genres", err)
	}

	var records []catalog.MovieRecord
	batch := h.opts.Concurrency
	for first := 1; first <= h.opts.Pages; first += batch {
		if ctx.Err() != nil {
			sum.Canceled = true
			h.log.Warn("harvest canceled", "next_page", first)
			break
		}

		last := min(first+batch-1, h.opts.Pages)
		for _, pr := range h.fetchPages(work, first, last, genres) {
			if pr.Err != nil {
				sum.PagesSkipped++
				sum.skip("page", pr.Err)
				metrics.HarvestPages.WithLabelValues("skipped").Inc()
				h.log.Debug("page skipped", "page", pr.Page, "error", pr.Err)
			} else {
				sum.PagesOK++
				metrics.HarvestPages.WithLabelValues("ok").Inc()
			}
			for _, ir := range pr.Items {
				if ir.EnrichErr != nil {
					sum.ItemsSkipped++
					sum.skip("item", ir.EnrichErr)
					metrics.HarvestItems.WithLabelValues("unenriched").Inc()
				} else {
					sum.ItemsEnriched++
					metrics.HarvestItems.WithLabelValues("enriched").Inc()
				}
				records = append(records, ir.Record)
			}

			if pr.Page%h.opts.ProgressEvery == 0 {
				h.log.Info("harvest progress",
					"pages", pr.Page,
					"items", len(records),
					"pages_skipped", sum.PagesSkipped,
				)
			}
		}
	}

	cat := catalog.Catalog{Records: records}
	sum.Items = len(records)
	sum.DuplicateIDs = cat.DuplicateIDs()
	sum.FinishedAt = h.opts.Now()
	if len(sum.DuplicateIDs) > 0 {
		h.log.Info("duplicate ids across pages kept", "count", len(sum.DuplicateIDs))
	}
	return sum, cat
}

// fetchPages processes pages first..last with up to Concurrency pages in
// flight and returns their results in page order.
func (h *Harvester) fetchPages(ctx context.Context, first, last int, genres map[int]string) []PageResult {
	results := make([]PageResult, last-first+1)
	if len(results) == 1 {
		results[0] = h.fetchPage(ctx, first, genres)
		return results
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(h.opts.Concurrency)
	for p := first; p <= last; p++ {
		g.Go(func() error {
			pr := h.fetchPage(ctx, p, genres)
			mu.Lock()
			results[p-first] = pr
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (h *Harvester) fetchPage(ctx context.Context, page int, genres map[int]string) PageResult {
	listing, err := h.api.Discover(ctx, page, h.opts.Query)
	if err != nil {
		return PageResult{Page: page, Err: err}
	}

	items := make([]ItemResult, 0, len(listing.Results))
	for _, li := range listing.Results {
		rec := toRecord(li, genres)
		credits, err := h.api.Credits(ctx, li.ID)
		if err != nil {
			items = append(items, ItemResult{Record: rec, EnrichErr: err})
			continue
		}
		rec.Actors = leadCast(credits.Cast, h.opts.CastLimit)
		items = append(items, ItemResult{Record: rec})
	}
	return PageResult{Page: page, Items: items}
}

// leadCast joins the first n names in billing order.
func leadCast(cast []tmdb.CastMember, n int) string {
	names := make([]string, 0, n)
	for _, c := range cast {
		if len(names) == n {
			break
		}
		names = append(names, c.Name)
	}
	return strings.Join(names, ", ")
}

// listingColumns are upstream fields mapped onto dedicated catalog columns.
var listingColumns = map[string]bool{
	"id": true, "title": true, "overview": true, "poster_path": true,
	"vote_average": true, "vote_count": true, "release_date": true,
	"original_language": true,
}

func toRecord(li tmdb.ListingItem, genres map[int]string) catalog.MovieRecord {
	rec := catalog.MovieRecord{
		ID:               li.ID,
		Title:            li.Title,
		Genre:            genreNames(li.GenreIDs, genres),
		Overview:         li.Overview,
		VoteAverage:      li.VoteAverage,
		VoteCount:        li.VoteCount,
		ReleaseDate:      li.ReleaseDate,
		OriginalLanguage: li.OriginalLanguage,
	}
	if li.PosterPath != nil {
		rec.PosterPath = *li.PosterPath
	}
	for k, raw := range li.Fields {
		if listingColumns[k] {
			continue
		}
		if rec.Extra == nil {
			rec.Extra = make(map[string]string)
		}
		rec.Extra[k] = rawText(raw)
	}
	return rec
}

func genreNames(ids []int, names map[int]string) string {
	if len(names) == 0 {
		return ""
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if n, ok := names[id]; ok {
			out = append(out, n)
		}
	}
	return strings.Join(out, ", ")
}

// rawText renders a JSON value as a CSV cell: strings unquoted, null empty,
// anything else verbatim.
func rawText(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	switch {
	case s == "null":
		return ""
	case strings.HasPrefix(s, `"`):
		var v string
		if err := json.Unmarshal(raw, &v); err == nil {
			return v
		}
	}
	return s
}

// Run harvests with h, writes the catalog to path once, and records the run
// in store when it is non-nil. The summary is returned even on error.
func Run(ctx context.Context, h *Harvester, path string, store RunStore) (Summary, error) {
	sum, cat := h.Run(ctx)
	sum.OutputPath = path

	status := storage.RunCompleted
	if sum.Canceled {
		status = storage.RunCanceled
	}
	saveErr := catalog.Save(path, cat)
	if saveErr != nil {
		status = storage.RunFailed
		h.log.Error("writing catalog failed", "path", path, "error", saveErr)
	} else {
		h.log.Info("catalog written", "path", path, "records", cat.Len())
	}

	metrics.HarvestDuration.Observe(sum.FinishedAt.Sub(sum.StartedAt).Seconds())
	if status == storage.RunCompleted {
		metrics.HarvestLastSuccess.Set(float64(sum.FinishedAt.Unix()))
	}

	if store != nil {
		run := storage.HarvestRun{
			ID:             sum.RunID,
			StartedAt:      sum.StartedAt,
			FinishedAt:     sum.FinishedAt,
			Status:         status,
			PagesRequested: sum.PagesRequested,
			PagesOK:        sum.PagesOK,
			PagesSkipped:   sum.PagesSkipped,
			Items:          sum.Items,
			ItemsEnriched:  sum.ItemsEnriched,
			ItemsSkipped:   sum.ItemsSkipped,
			SkipReasons:    sum.Reasons,
			DuplicateIDs:   sum.DuplicateIDs,
			OutputPath:     path,
		}
		if saveErr != nil {
			run.Error = saveErr.Error()
		}
		if err := store.SaveHarvestRun(run); err != nil {
			h.log.Warn("recording harvest run failed", "error", err)
		}
	}

	if saveErr != nil {
		return sum, fmt.Errorf("writing catalog: %w", saveErr)
	}
	return sum, nil
}

// SortedReasons returns the skip reasons as "reason=count" pairs in name
// order, for display.
func (s Summary) SortedReasons() []string {
	keys := make([]string, 0, len(s.Reasons))
	for k := range s.Reasons {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k + "=" + strconv.Itoa(s.Reasons[k])
	}
	return out
}
