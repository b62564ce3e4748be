package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/cinematch/internal/catalog"
	"github.com/kalambet/cinematch/internal/config"
	"github.com/kalambet/cinematch/internal/engine"
	"github.com/kalambet/cinematch/internal/storage"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestLogin(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /sessions": `{"token":"tok-1","account":{"username":"alice","name":"Alice"}}`,
	})
	c := ts.client()
	c.token = ""

	token, acct, err := login(ctx, c, "alice", "wonderland")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "tok-1" || acct.Name != "Alice" {
		t.Errorf("login = %q, %+v", token, acct)
	}
	if ts.requests[0].Auth != "" {
		t.Errorf("login should not send a bearer token, got %q", ts.requests[0].Auth)
	}
	if !strings.Contains(ts.requests[0].Body, `"password":"wonderland"`) {
		t.Errorf("body = %s", ts.requests[0].Body)
	}
}

func TestLogin_WrongCredentials(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"wrong username or password","type":"wrong_credentials"}}`))
	}))
	defer ts.Close()

	c := &apiClient{baseURL: ts.URL, httpClient: ts.Client()}
	_, _, err := login(ctx, c, "alice", "nope")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "401") || !strings.Contains(err.Error(), "wrong username or password") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestSessionTokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", sessionFileName)

	tok, err := readSessionToken(path)
	if err != nil || tok != "" {
		t.Fatalf("missing file: got %q, %v", tok, err)
	}
	if err := writeSessionToken(path, "abc\n"); err != nil {
		t.Fatalf("writeSessionToken: %v", err)
	}
	tok, err = readSessionToken(path)
	if err != nil || tok != "abc" {
		t.Errorf("got %q, %v; want abc", tok, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestSearchCommand_URLEncoding(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /search": `{"query":"x","chosen":{"position":0,"title":"Amélie"},"recommendations":[{"position":1,"score":0.42,"title":"Delicatessen","genre":"Comédie","vote_average":7.2}]}`,
	})

	res, err := search(ctx, ts.client(), "Le Fabuleux Destin d'Amélie & co", 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Chosen.Title != "Amélie" || len(res.Recommendations) != 1 {
		t.Fatalf("result = %+v", res)
	}

	path := ts.requests[0].Path
	if !strings.Contains(path, "k=4") {
		t.Errorf("path %q lacks k=4", path)
	}
	if !strings.Contains(path, "%26") || strings.Contains(path, "& co") {
		t.Errorf("path %q should encode the title", path)
	}
	if ts.requests[0].Auth != "Bearer test-token" {
		t.Errorf("auth = %q", ts.requests[0].Auth)
	}
}

func TestSearchCommand_NotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"film \"Flop\" is not available under current filters","type":"not_found"}}`))
	}))
	defer ts.Close()

	c := &apiClient{baseURL: ts.URL, token: "t", httpClient: ts.Client()}
	_, err := search(ctx, c, "Flop", 0)
	if err == nil || !strings.Contains(err.Error(), `"Flop" is not available`) {
		t.Errorf("error = %v", err)
	}
}

func TestPrintSearchResult(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()
	noColor = true

	var buf bytes.Buffer
	printSearchResult(&buf, engine.SearchResult{
		Chosen: engine.Recommendation{Title: "Heat", Genre: "Action, Crime", Actors: "Al Pacino"},
		Recommendations: []engine.Recommendation{
			{Position: 1, Score: 0.5, Title: "Ronin", Genre: "Action", Rating: 6.9, PosterURL: "https://image.tmdb.org/t/p/w500/r.jpg"},
		},
	})
	out := buf.String()
	for _, want := range []string{"Because you liked Heat", "with Al Pacino", "1. Ronin", "[score: 0.500]", "★ 6.9", "/w500/r.jpg"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}

	buf.Reset()
	printSearchResult(&buf, engine.SearchResult{Chosen: engine.Recommendation{Title: "Heat"}})
	if !strings.Contains(buf.String(), "No other films") {
		t.Errorf("empty result output:\n%s", buf.String())
	}
}

func TestFilters(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /filters": `{"min_rating":5,"available":120}`,
		"PUT /filters": `{"min_rating":7,"language":"fr","available":12}`,
	})
	c := ts.client()

	cur, err := getFilters(ctx, c)
	if err != nil {
		t.Fatalf("getFilters: %v", err)
	}
	if cur.MinRating != 5 || cur.Available != 120 {
		t.Errorf("current = %+v", cur)
	}

	res, err := setFilters(ctx, c, catalog.Filter{MinRating: 7, Language: "fr"})
	if err != nil {
		t.Fatalf("setFilters: %v", err)
	}
	if res.Available != 12 || res.Language != "fr" {
		t.Errorf("updated = %+v", res)
	}
	if got := ts.requests[1].Body; got != `{"min_rating":7,"language":"fr"}` {
		t.Errorf("PUT body = %s", got)
	}
}

func TestPrintStats(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()
	noColor = true

	st := catalog.Stats{
		Total:      3,
		Genres:     []catalog.GenreCount{{Genre: "Action", Count: 2}},
		Languages:  []catalog.LanguageShare{{Language: "fr", Count: 2, Percent: 66.7}},
		Popularity: []catalog.RatingPoint{{Title: "Heat", VoteCount: 7000, VoteAverage: 7.9}},
		LogScale:   true,
	}

	var buf bytes.Buffer
	if err := printStats(&buf, st, ""); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "Action") || !strings.Contains(out, "66.7%") || strings.Contains(out, "Heat") {
		t.Errorf("summary output:\n%s", out)
	}

	buf.Reset()
	if err := printStats(&buf, st, "popularity"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "axis: log") || !strings.Contains(buf.String(), "Heat") {
		t.Errorf("popularity output:\n%s", buf.String())
	}

	if err := printStats(&buf, st, "budget"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestShowcase(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /showcase": `{"films":[{"position":1,"title":"Taxi"},{"position":2,"title":"Heat"}]}`,
	})
	films, err := showcase(ctx, ts.client(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(films) != 2 || films[0].Title != "Taxi" {
		t.Errorf("films = %+v", films)
	}
	if ts.requests[0].Path != "/showcase?n=2" {
		t.Errorf("path = %q", ts.requests[0].Path)
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	client := ts.client()
	_, err := client.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestDecodeJSON_NoContent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	c := &apiClient{baseURL: ts.URL, token: "t", httpClient: ts.Client()}
	resp, err := c.delete(ctx, "/sessions")
	if err != nil {
		t.Fatal(err)
	}
	if err := decodeJSON(resp, nil); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDecodeJSON_PlainError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
	}))
	defer ts.Close()

	c := &apiClient{baseURL: ts.URL, token: "t", httpClient: ts.Client()}
	resp, err := c.get(ctx, "/stats")
	if err != nil {
		t.Fatal(err)
	}
	err = decodeJSON(resp, &struct{}{})
	if err == nil || err.Error() != "server returned 429: rate limit exceeded" {
		t.Errorf("error = %v", err)
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4000
	cfg.TMDB.Token = "secret"

	keys := config.ShowAll(cfg)
	if len(keys) == 0 {
		t.Fatal("expected non-empty keys from ShowAll")
	}

	found := false
	for _, k := range keys {
		if k.Key == "server.port" && k.Value == "4000" {
			found = true
		}
		if k.Value == "secret" {
			t.Errorf("ShowAll leaked the token under %s", k.Key)
		}
	}
	if !found {
		t.Error("expected to find server.port=4000 in ShowAll output")
	}
}

func TestFormatRun(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()
	noColor = true

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	line := formatRun(storage.HarvestRun{
		ID:             "0123456789abcdef",
		StartedAt:      start,
		FinishedAt:     start.Add(90 * time.Second),
		Status:         storage.RunFailed,
		PagesOK:        9,
		PagesRequested: 10,
		Items:          180,
		Error:          "disk full",
	})
	for _, want := range []string{"01234567 ", "failed", "180 films", "9/10 pages", "1m30s", "disk full"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q lacks %q", line, want)
		}
	}
}

func TestReadLine(t *testing.T) {
	tests := []struct{ in, want string }{
		{"secret\n", "secret"},
		{"secret\r\n", "secret"},
		{"no-newline", "no-newline"},
	}
	for _, tt := range tests {
		got, err := readLine(strings.NewReader(tt.in))
		if err != nil || got != tt.want {
			t.Errorf("readLine(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
	if _, err := readLine(strings.NewReader("")); err == nil {
		t.Error("expected error on empty input")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("  Amélie  ", 10); got != "Amélie" {
		t.Errorf("got %q", got)
	}
	if got := truncate("abcdéfgh", 5); got != "abcdé..." {
		t.Errorf("got %q", got)
	}
}

func TestEngineOptionsKeepsZeroBoosts(t *testing.T) {
	var cfg config.Config
	cfg.Engine.DefaultMinRating = 6
	opts := engineOptions(cfg)
	if opts.Weights == nil || *opts.Weights != (engine.SoupWeights{}) {
		t.Errorf("Weights = %v, want explicit zero boosts", opts.Weights)
	}
}
