// Package api exposes the recommendation engine over HTTP and MCP.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/cinematch/internal/account"
	"github.com/kalambet/cinematch/internal/catalog"
	"github.com/kalambet/cinematch/internal/engine"
	"github.com/kalambet/cinematch/internal/session"
	"github.com/kalambet/cinematch/internal/storage"
)

const maxRequestBodySize = 64 << 10 // 64KB

// Authenticator checks credentials. Implemented by account.Directory.
type Authenticator interface {
	Authenticate(username, password string) (account.Record, error)
	Logout(username string)
}

// RunLister lists harvest history. Implemented by storage.Store.
type RunLister interface {
	ListHarvestRuns(limit int) ([]storage.HarvestRun, error)
}

// Deps holds what the HTTP surface needs.
type Deps struct {
	// Accounts is nil when the accounts file is missing; logins then fail
	// with a missing_resource error.
	Accounts  Authenticator
	Sessions  *session.Manager
	Runs      RunLister // optional
	TopK      int       // default result count for /search
	RateLimit int       // requests per minute per IP; <= 0 disables limiting
	Logger    *slog.Logger
}

// NewHandler returns the query API router.
func NewHandler(deps Deps) http.Handler {
	if deps.TopK <= 0 {
		deps.TopK = 5
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(observe(deps.Logger))
	if deps.RateLimit > 0 {
		r.Use(httprate.LimitByIP(deps.RateLimit, time.Minute))
	}

	r.Get("/health", handleHealth(deps))
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/sessions", handleLogin(deps))

	r.Group(func(r chi.Router) {
		r.Use(SessionAuth(deps.Sessions))
		r.Delete("/sessions", handleLogout(deps))
		r.Get("/search", handleSearch(deps))
		r.Get("/filters", handleGetFilters)
		r.Put("/filters", handlePutFilters)
		r.Get("/showcase", handleShowcase)
		r.Get("/stats", handleStats(""))
		r.Get("/stats/{kind}", handleStats("kind"))
		r.Get("/harvests", handleHarvests(deps))
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"catalog":  deps.Sessions.HasCatalog(),
			"accounts": deps.Accounts != nil,
			"sessions": deps.Sessions.Len(),
		})
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token   string         `json:"token"`
	Account account.Public `json:"account"`
}

func handleLogin(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Accounts == nil {
			httpError(w, http.StatusServiceUnavailable, "missing_resource", "accounts file is not available; logins are disabled")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Username == "" || req.Password == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "username and password are required")
			return
		}

		rec, err := deps.Accounts.Authenticate(req.Username, req.Password)
		if err != nil {
			deps.Logger.Info("login failed", "user", req.Username)
			httpError(w, http.StatusUnauthorized, "wrong_credentials", "wrong username or password")
			return
		}

		s := deps.Sessions.Create(rec.Public())
		writeJSON(w, http.StatusCreated, loginResponse{Token: s.Token, Account: s.Account})
	}
}

func handleLogout(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := sessionFrom(r.Context())
		deps.Sessions.Delete(s.Token)
		if deps.Accounts != nil {
			deps.Accounts.Logout(s.Account.Username)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := sessionFrom(r.Context())
		title := r.URL.Query().Get("title")
		if title == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "title is required")
			return
		}
		k, err := intParam(r, "k", deps.TopK)
		if err != nil || k < 0 || k > 100 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "k must be an integer between 0 and 100")
			return
		}

		res, err := s.Engine.Search(title, k)
		if err != nil {
			engineError(w, err)
			return
		}
		s.SetLastSearch(title)
		writeJSON(w, http.StatusOK, res)
	}
}

type filtersResponse struct {
	catalog.Filter
	Available int `json:"available"`
}

func handleGetFilters(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())
	writeJSON(w, http.StatusOK, filtersResponse{Filter: s.Engine.Filter(), Available: s.Engine.Available()})
}

func handlePutFilters(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var f catalog.Filter
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}
	if err := s.Engine.SetFilters(f); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, filtersResponse{Filter: s.Engine.Filter(), Available: s.Engine.Available()})
}

func handleShowcase(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())
	n, err := intParam(r, "n", 3)
	if err != nil || n < 0 || n > 50 {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "n must be an integer between 0 and 50")
		return
	}
	films, err := s.Engine.Showcase(n)
	if err != nil {
		engineError(w, err)
		return
	}
	if films == nil {
		films = []engine.Recommendation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"films": films})
}

func handleStats(param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := sessionFrom(r.Context())
		st, err := s.Engine.Stats()
		if err != nil {
			engineError(w, err)
			return
		}

		kind := ""
		if param != "" {
			kind = chi.URLParam(r, param)
		}
		switch kind {
		case "":
			writeJSON(w, http.StatusOK, st)
		case "genres":
			writeJSON(w, http.StatusOK, map[string]any{"total": st.Total, "genres": st.Genres})
		case "languages":
			writeJSON(w, http.StatusOK, map[string]any{"total": st.Total, "languages": st.Languages})
		case "popularity":
			writeJSON(w, http.StatusOK, map[string]any{"total": st.Total, "points": st.Popularity, "log_scale": st.LogScale})
		default:
			httpError(w, http.StatusNotFound, "not_found", "unknown stats kind %q", kind)
		}
	}
}

type harvestRunResponse struct {
	ID           string         `json:"id"`
	StartedAt    time.Time      `json:"started_at"`
	DurationSec  float64        `json:"duration_seconds"`
	Status       string         `json:"status"`
	PagesOK      int            `json:"pages_ok"`
	PagesSkipped int            `json:"pages_skipped"`
	Items        int            `json:"items"`
	ItemsSkipped int            `json:"items_skipped"`
	SkipReasons  map[string]int `json:"skip_reasons"`
	DuplicateIDs []int64        `json:"duplicate_ids,omitempty"`
}

func handleHarvests(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Runs == nil {
			httpError(w, http.StatusServiceUnavailable, "missing_resource", "harvest history is not available")
			return
		}
		limit, err := intParam(r, "limit", 20)
		if err != nil || limit <= 0 || limit > 500 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be an integer between 1 and 500")
			return
		}
		runs, err := deps.Runs.ListHarvestRuns(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing harvest runs: %v", err)
			return
		}
		out := make([]harvestRunResponse, len(runs))
		for i, run := range runs {
			out[i] = harvestRunResponse{
				ID:           run.ID,
				StartedAt:    run.StartedAt,
				DurationSec:  run.Duration().Seconds(),
				Status:       run.Status,
				PagesOK:      run.PagesOK,
				PagesSkipped: run.PagesSkipped,
				Items:        run.Items,
				ItemsSkipped: run.ItemsSkipped,
				SkipReasons:  run.SkipReasons,
				DuplicateIDs: run.DuplicateIDs,
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"runs": out})
	}
}

// engineError maps engine failures onto the error envelope.
func engineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, engine.ErrNoCatalog):
		httpError(w, http.StatusServiceUnavailable, "missing_resource", "catalog file is not available; run `cinematch harvest` first")
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", name, err)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
