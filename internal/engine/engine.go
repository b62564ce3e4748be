// Package engine ranks films by how similar their genre, cast, and plot
// text is to a film the user picked.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/kalambet/cinematch/internal/catalog"
	"github.com/kalambet/cinematch/internal/metrics"
	"github.com/kalambet/cinematch/internal/retrieval"
)

var (
	// ErrNotFound is returned by Search when the title is not in the
	// filtered view. Errors carrying it name the searched title.
	ErrNotFound = errors.New("film not available under current filters")
	// ErrNoCatalog is returned when a query arrives before Load.
	ErrNoCatalog = errors.New("no catalog loaded")
)

// NotFoundError reports the title that could not be resolved.
type NotFoundError struct {
	Title string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("film %q is not available under current filters", e.Title)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// State is the index lifecycle.
type State int

const (
	// Unbuilt means the index does not reflect the current catalog and filter.
	Unbuilt State = iota
	// Ready means soups, vectors, and the similarity matrix are current.
	Ready
)

func (s State) String() string {
	if s == Ready {
		return "ready"
	}
	return "unbuilt"
}

// Recommendation is one ranked film.
type Recommendation struct {
	Position  int                 `json:"position"`
	Score     float32             `json:"score"`
	Film      catalog.MovieRecord `json:"-"`
	Title     string              `json:"title"`
	Genre     string              `json:"genre"`
	Actors    string              `json:"actors"`
	Overview  string              `json:"overview"`
	Rating    float64             `json:"vote_average"`
	PosterURL string              `json:"poster_url,omitempty"`
}

// SearchResult is the answer to a title search.
type SearchResult struct {
	Query           string           `json:"query"`
	Chosen          Recommendation   `json:"chosen"`
	Recommendations []Recommendation `json:"recommendations"`
}

// Options configures an Engine.
type Options struct {
	// Weights defaults to DefaultSoupWeights when nil. Zero boosts are
	// honoured, leaving a plot-only soup.
	Weights *SoupWeights
	Filter  catalog.Filter
	Logger  *slog.Logger
	// Rand drives Showcase. Defaults to an unseeded PCG source.
	Rand *rand.Rand
}

// Engine holds one session's filtered catalog and its similarity index.
// All methods are safe for concurrent use; rebuilds run under the lock.
type Engine struct {
	weights SoupWeights
	logger  *slog.Logger

	mu       sync.Mutex
	rng      *rand.Rand
	cat      catalog.Catalog
	loaded   bool
	filter   catalog.Filter
	view     catalog.FilteredCatalog
	titles   []string
	index    *retrieval.SimilarityIndex
	state    State
	rebuilds int
}

// New creates an Engine with no catalog.
func New(opts Options) *Engine {
	w := DefaultSoupWeights
	if opts.Weights != nil {
		w = *opts.Weights
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Engine{
		weights: w,
		logger:  logger,
		rng:     rng,
		filter:  opts.Filter,
	}
}

// Load replaces the catalog. The index is rebuilt on the next query.
func (e *Engine) Load(cat catalog.Catalog) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cat = cat
	e.loaded = true
	e.view = catalog.Apply(cat, e.filter)
	e.invalidate()
}

// SetFilters applies f and rebuilds the index.
func (e *Engine) SetFilters(f catalog.Filter) error {
	if err := f.Validate(); err != nil {
		return fmt.Errorf("invalid filter: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.filter = f
	if !e.loaded {
		return nil
	}
	e.view = catalog.Apply(e.cat, f)
	e.invalidate()
	e.rebuild()
	return nil
}

// Filter returns the active filter.
func (e *Engine) Filter() catalog.Filter {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.filter
}

// Available returns the number of films passing the active filter.
func (e *Engine) Available() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view.Len()
}

// State reports whether the index is current.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Rebuilds returns how many times the index has been built.
func (e *Engine) Rebuilds() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rebuilds
}

func (e *Engine) invalidate() {
	e.state = Unbuilt
	e.index = nil
	e.titles = nil
}

// rebuild recomputes soups, vectors, and the similarity matrix for the
// current view. Callers hold e.mu.
func (e *Engine) rebuild() {
	start := time.Now()
	n := e.view.Len()
	docs := make([]string, n)
	titles := make([]string, n)
	for i, r := range e.view.Records {
		docs[i] = BuildSoup(r, e.weights)
		titles[i] = retrieval.Normalize(r.Title)
	}
	e.index = retrieval.LinearKernel(retrieval.FitTransform(docs))
	e.titles = titles
	e.state = Ready
	e.rebuilds++

	d := time.Since(start)
	metrics.RecordRebuild(n, d)
	e.logger.Debug("similarity index rebuilt", "items", n, "filter", e.filter.Key(), "duration", d)
}

func (e *Engine) ensureReady() error {
	if !e.loaded {
		return ErrNoCatalog
	}
	if e.state != Ready {
		e.rebuild()
	}
	return nil
}

// Lookup returns the position of the first film whose normalized title
// equals the normalized query.
func (e *Engine) Lookup(title string) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureReady(); err != nil {
		return -1, false
	}
	return e.lookup(title)
}

func (e *Engine) lookup(title string) (int, bool) {
	q := retrieval.Normalize(title)
	for i, t := range e.titles {
		if t == q {
			return i, true
		}
	}
	return -1, false
}

// Recommend returns up to k films most similar to the film at idx.
func (e *Engine) Recommend(idx, k int) ([]Recommendation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureReady(); err != nil {
		return nil, err
	}
	return e.recommend(idx, k)
}

func (e *Engine) recommend(idx, k int) ([]Recommendation, error) {
	scored, err := e.index.TopK(idx, k)
	if err != nil {
		return nil, fmt.Errorf("ranking neighbours: %w", err)
	}
	out := make([]Recommendation, len(scored))
	for i, s := range scored {
		out[i] = card(e.view.Records[s.Index], s.Index, s.Score)
	}
	return out, nil
}

// Search resolves title against the filtered view and returns the chosen
// film with its k nearest neighbours.
func (e *Engine) Search(title string, k int) (SearchResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureReady(); err != nil {
		return SearchResult{}, err
	}

	idx, ok := e.lookup(title)
	if !ok {
		metrics.SearchRequests.WithLabelValues("not_found").Inc()
		return SearchResult{}, &NotFoundError{Title: title}
	}
	recs, err := e.recommend(idx, k)
	if err != nil {
		return SearchResult{}, err
	}
	metrics.SearchRequests.WithLabelValues("found").Inc()
	return SearchResult{
		Query:           title,
		Chosen:          card(e.view.Records[idx], idx, e.index.At(idx, idx)),
		Recommendations: recs,
	}, nil
}

// Stats aggregates the filtered view. It does not need the index.
func (e *Engine) Stats() (catalog.Stats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return catalog.Stats{}, ErrNoCatalog
	}
	return catalog.ComputeStats(e.view), nil
}

// Showcase returns n distinct random films from the filtered view, or none
// when the view has fewer than n films.
func (e *Engine) Showcase(n int) ([]Recommendation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return nil, ErrNoCatalog
	}
	if n <= 0 || e.view.Len() < n {
		return nil, nil
	}
	perm := e.rng.Perm(e.view.Len())[:n]
	out := make([]Recommendation, n)
	for i, p := range perm {
		out[i] = card(e.view.Records[p], p, 0)
	}
	return out, nil
}

func card(r catalog.MovieRecord, pos int, score float32) Recommendation {
	return Recommendation{
		Position:  pos,
		Score:     score,
		Film:      r,
		Title:     r.Title,
		Genre:     r.Genre,
		Actors:    r.Actors,
		Overview:  r.Overview,
		Rating:    r.VoteAverage,
		PosterURL: r.PosterURL(),
	}
}
