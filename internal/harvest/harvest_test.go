package harvest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/cinematch/internal/catalog"
	"github.com/kalambet/cinematch/internal/storage"
	"github.com/kalambet/cinematch/internal/tmdb"
)

// fakeAPI serves pages from memory. Pages and credits listed in the fail
// maps return the given error.
type fakeAPI struct {
	mu         sync.Mutex
	pages      map[int][]tmdb.ListingItem
	cast       map[int64][]string
	pageErr    map[int]error
	creditsErr map[int64]error
	genresErr  error
	onDiscover func(page int)
	discovered []int
}

func (f *fakeAPI) Discover(_ context.Context, page int, _ tmdb.DiscoverQuery) (*tmdb.DiscoverPage, error) {
	f.mu.Lock()
	f.discovered = append(f.discovered, page)
	f.mu.Unlock()
	if f.onDiscover != nil {
		f.onDiscover(page)
	}
	if err := f.pageErr[page]; err != nil {
		return nil, err
	}
	return &tmdb.DiscoverPage{Page: page, Results: f.pages[page]}, nil
}

func (f *fakeAPI) Credits(_ context.Context, id int64) (*tmdb.Credits, error) {
	if err := f.creditsErr[id]; err != nil {
		return nil, err
	}
	var cr tmdb.Credits
	for _, n := range f.cast[id] {
		cr.Cast = append(cr.Cast, tmdb.CastMember{Name: n})
	}
	return &cr, nil
}

func (f *fakeAPI) Genres(context.Context) (map[int]string, error) {
	if f.genresErr != nil {
		return nil, f.genresErr
	}
	return map[int]string{28: "Action", 35: "Comédie", 80: "Crime"}, nil
}

func item(id int64, title string, genres ...int) tmdb.ListingItem {
	return tmdb.ListingItem{ID: id, Title: title, GenreIDs: genres, VoteAverage: 7, VoteCount: 100}
}

func quietOptions(pages int) Options {
	return Options{Pages: pages, Logger: testLogger()}
}

func TestRunCollectsAndToleratesFailures(t *testing.T) {
	api := &fakeAPI{
		pages: map[int][]tmdb.ListingItem{
			1: {item(1, "A", 28), item(2, "B", 35, 80)},
			3: {item(5, "E")},
		},
		cast: map[int64][]string{
			1: {"One", "Two", "Three", "Four"},
			2: {"Solo"},
		},
		pageErr:    map[int]error{2: fmt.Errorf("%w: boom", tmdb.ErrTransport)},
		creditsErr: map[int64]error{5: fmt.Errorf("%w: bad json", tmdb.ErrParse)},
	}

	sum, cat := New(api, quietOptions(3)).Run(context.Background())

	if cat.Len() != 3 {
		t.Fatalf("got %d records, want 3", cat.Len())
	}
	if got := cat.Records[0].Actors; got != "One, Two, Three" {
		t.Errorf("actors = %q, want first three names", got)
	}
	if got := cat.Records[1].Genre; got != "Comédie, Crime" {
		t.Errorf("genre = %q", got)
	}
	if cat.Records[2].Actors != "" {
		t.Errorf("failed enrichment should leave actors empty, got %q", cat.Records[2].Actors)
	}

	if sum.PagesOK != 2 || sum.PagesSkipped != 1 {
		t.Errorf("pages ok/skipped = %d/%d, want 2/1", sum.PagesOK, sum.PagesSkipped)
	}
	if sum.Items != 3 || sum.ItemsEnriched != 2 || sum.ItemsSkipped != 1 {
		t.Errorf("items = %d enriched=%d skipped=%d", sum.Items, sum.ItemsEnriched, sum.ItemsSkipped)
	}
	if sum.Reasons["page:transport"] != 1 || sum.Reasons["item:parse"] != 1 {
		t.Errorf("reasons = %v", sum.Reasons)
	}
	if sum.RunID == "" || sum.Canceled {
		t.Errorf("summary = %+v", sum)
	}
}

func TestRunGenreListFailure(t *testing.T) {
	api := &fakeAPI{
		pages:     map[int][]tmdb.ListingItem{1: {item(1, "A", 28)}},
		genresErr: fmt.Errorf("%w: down", tmdb.ErrTransport),
	}
	sum, cat := New(api, quietOptions(1)).Run(context.Background())
	if cat.Len() != 1 || cat.Records[0].Genre != "" {
		t.Errorf("records = %+v", cat.Records)
	}
	if sum.Reasons["genres:transport"] != 1 {
		t.Errorf("reasons = %v", sum.Reasons)
	}
}

func TestRunKeepsDuplicateIDs(t *testing.T) {
	api := &fakeAPI{pages: map[int][]tmdb.ListingItem{
		1: {item(1, "A"), item(2, "B")},
		2: {item(2, "B"), item(3, "C")},
	}}
	sum, cat := New(api, quietOptions(2)).Run(context.Background())
	if cat.Len() != 4 {
		t.Errorf("len = %d, want 4 (no dedup)", cat.Len())
	}
	if len(sum.DuplicateIDs) != 1 || sum.DuplicateIDs[0] != 2 {
		t.Errorf("DuplicateIDs = %v, want [2]", sum.DuplicateIDs)
	}
}

func TestRunConcurrentKeepsPageOrder(t *testing.T) {
	pages := map[int][]tmdb.ListingItem{}
	for p := 1; p <= 10; p++ {
		pages[p] = []tmdb.ListingItem{item(int64(p*10), "P"), item(int64(p*10+1), "Q")}
	}
	api := &fakeAPI{pages: pages}
	opts := quietOptions(10)
	opts.Concurrency = 4

	sum, cat := New(api, opts).Run(context.Background())
	if cat.Len() != 20 || sum.PagesOK != 10 {
		t.Fatalf("len=%d pages_ok=%d", cat.Len(), sum.PagesOK)
	}
	for i := 1; i < cat.Len(); i++ {
		if cat.Records[i].ID <= cat.Records[i-1].ID {
			t.Fatalf("records out of page order at %d: %d after %d", i, cat.Records[i].ID, cat.Records[i-1].ID)
		}
	}
}

func TestRunCancelStopsAtPageBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := &fakeAPI{
		pages: map[int][]tmdb.ListingItem{
			1: {item(1, "A")}, 2: {item(2, "B")}, 3: {item(3, "C")}, 4: {item(4, "D")},
		},
		onDiscover: func(page int) {
			if page == 2 {
				cancel()
			}
		},
	}

	sum, cat := New(api, quietOptions(4)).Run(ctx)
	if !sum.Canceled {
		t.Error("summary should report cancellation")
	}
	// Page 2 was in flight when cancel arrived and is completed.
	if cat.Len() != 2 {
		t.Errorf("len = %d, want 2", cat.Len())
	}
	if len(api.discovered) != 2 {
		t.Errorf("discovered pages %v, want [1 2]", api.discovered)
	}
}

type memRuns struct{ runs []storage.HarvestRun }

func (m *memRuns) SaveHarvestRun(r storage.HarvestRun) error {
	m.runs = append(m.runs, r)
	return nil
}

func TestRunWritesCatalogOnceAndRecords(t *testing.T) {
	api := &fakeAPI{pages: map[int][]tmdb.ListingItem{1: {item(1, "A", 28)}}}
	path := filepath.Join(t.TempDir(), "films.csv")
	runs := &memRuns{}

	sum, err := Run(context.Background(), New(api, quietOptions(2)), path, runs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.OutputPath != path {
		t.Errorf("OutputPath = %q", sum.OutputPath)
	}

	cat, err := catalog.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cat.Len() != 1 || cat.Records[0].Genre != "Action" {
		t.Errorf("written catalog = %+v", cat.Records)
	}

	if len(runs.runs) != 1 || runs.runs[0].Status != storage.RunCompleted || runs.runs[0].ID != sum.RunID {
		t.Errorf("recorded runs = %+v", runs.runs)
	}
}

func TestRunWriteFailureIsReported(t *testing.T) {
	api := &fakeAPI{}
	dir := t.TempDir()
	runs := &memRuns{}
	// The target is an existing directory, so the rename fails.
	_, err := Run(context.Background(), New(api, quietOptions(1)), dir, runs)
	if err == nil {
		t.Fatal("expected write error")
	}
	if len(runs.runs) != 1 || runs.runs[0].Status != storage.RunFailed || runs.runs[0].Error == "" {
		t.Errorf("recorded runs = %+v", runs.runs)
	}
}

func TestReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("%w: x", tmdb.ErrTransport), "transport"},
		{fmt.Errorf("%w: x", tmdb.ErrParse), "parse"},
		{context.Canceled, "canceled"},
		{errors.New("odd"), "other"},
	}
	for _, tt := range tests {
		if got := Reason(tt.err); got != tt.want {
			t.Errorf("Reason(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestSortedReasons(t *testing.T) {
	s := Summary{Reasons: map[string]int{"page:transport": 2, "item:parse": 1}}
	got := strings.Join(s.SortedReasons(), " ")
	if got != "item:parse=1 page:transport=2" {
		t.Errorf("SortedReasons = %q", got)
	}
}

// TestRunAgainstHTTP drives the real client against a fake movie API: two
// pages of two films, with the credits call for film 3 failing.
func TestRunAgainstHTTP(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/genre/movie/list", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"genres":[{"id":28,"name":"Action"}]}`))
	})
	mux.HandleFunc("/discover/movie", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "1":
			w.Write([]byte(`{"page":1,"results":[{"id":1,"title":"Un","genre_ids":[28],"vote_average":7.1,"vote_count":90,"poster_path":"/1.jpg","popularity":9.5},{"id":2,"title":"Deux","genre_ids":[],"vote_average":6,"vote_count":60,"poster_path":null}]}`))
		case "2":
			w.Write([]byte(`{"page":2,"results":[{"id":3,"title":"Trois","vote_average":5,"vote_count":55},{"id":4,"title":"Quatre","vote_average":8,"vote_count":500}]}`))
		default:
			w.Write([]byte(`{"results":[]}`))
		}
	})
	mux.HandleFunc("/movie/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/movie/3/") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"cast":[{"name":"A"},{"name":"B"},{"name":"C"},{"name":"D"},{"name":"E"}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := tmdb.New(tmdb.Options{BaseURL: srv.URL, Token: "t", Timeout: time.Second, HTTPClient: srv.Client()})
	sum, cat := New(client, quietOptions(2)).Run(context.Background())

	if cat.Len() != 4 {
		t.Fatalf("got %d rows, want 4", cat.Len())
	}
	for _, r := range cat.Records {
		if r.ID == 3 {
			if r.Actors != "" {
				t.Errorf("film 3 actors = %q, want empty", r.Actors)
			}
			continue
		}
		if n := len(strings.Split(r.Actors, ", ")); n > 3 {
			t.Errorf("film %d has %d actors", r.ID, n)
		}
	}
	if cat.Records[0].PosterPath != "/1.jpg" || cat.Records[1].PosterPath != "" {
		t.Errorf("poster paths = %q, %q", cat.Records[0].PosterPath, cat.Records[1].PosterPath)
	}
	if cat.Records[0].Extra["popularity"] != "9.5" {
		t.Errorf("popularity passthrough = %q", cat.Records[0].Extra["popularity"])
	}
	if cat.Records[0].Extra["genre_ids"] != "[28]" {
		t.Errorf("genre_ids passthrough = %q", cat.Records[0].Extra["genre_ids"])
	}
	if sum.ItemsSkipped != 1 || sum.Reasons["item:transport"] != 1 {
		t.Errorf("summary = %+v", sum)
	}
}
