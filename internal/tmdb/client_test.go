package tmdb

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Options{
		BaseURL:    srv.URL,
		Token:      "test-token",
		Language:   "fr-FR",
		Timeout:    time.Second,
		HTTPClient: srv.Client(),
	})
}

func TestDiscover_QueryAndAuth(t *testing.T) {
	var gotQuery, gotAuth, gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"page":3,"results":[{"id":7,"title":"Amélie","genre_ids":[35,10749],"overview":"x","poster_path":"/p.jpg","vote_average":7.9,"vote_count":11000,"release_date":"2001-04-25","original_language":"fr","popularity":42.5,"adult":false}],"total_pages":9}`))
	})

	page, err := c.Discover(context.Background(), 3, DiscoverQuery{
		MinVoteCount:   50,
		ReleaseDateGTE: "1996-01-01",
		SortBy:         "popularity.desc",
	})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	if gotPath != "/discover/movie" {
		t.Errorf("path = %q, want /discover/movie", gotPath)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", gotAuth)
	}
	for _, want := range []string{"include_adult=false", "language=fr-FR", "page=3", "sort_by=popularity.desc", "vote_count.gte=50", "primary_release_date.gte=1996-01-01"} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("query %q missing %q", gotQuery, want)
		}
	}

	if len(page.Results) != 1 {
		t.Fatalf("got %d results, want 1", len(page.Results))
	}
	item := page.Results[0]
	if item.ID != 7 || item.Title != "Amélie" || item.VoteCount != 11000 {
		t.Errorf("item = %+v", item)
	}
	if item.PosterPath == nil || *item.PosterPath != "/p.jpg" {
		t.Errorf("PosterPath = %v, want /p.jpg", item.PosterPath)
	}
	if string(item.Fields["popularity"]) != "42.5" {
		t.Errorf("Fields[popularity] = %s, want 42.5", item.Fields["popularity"])
	}
	if len(item.GenreIDs) != 2 {
		t.Errorf("GenreIDs = %v", item.GenreIDs)
	}
}

func TestCredits(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/movie/42/credits" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"id":42,"cast":[{"name":"A"},{"name":"B"},{"name":"C"},{"name":"D"}]}`))
	})

	cr, err := c.Credits(context.Background(), 42)
	if err != nil {
		t.Fatalf("Credits: %v", err)
	}
	if len(cr.Cast) != 4 || cr.Cast[0].Name != "A" {
		t.Errorf("cast = %+v", cr.Cast)
	}
}

func TestGenres(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"genres":[{"id":28,"name":"Action"},{"id":35,"name":"Comédie"}]}`))
	})

	names, err := c.Genres(context.Background())
	if err != nil {
		t.Fatalf("Genres: %v", err)
	}
	if names[28] != "Action" || names[35] != "Comédie" {
		t.Errorf("names = %v", names)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			want: ErrTransport,
		},
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"status_message":"Invalid API key"}`))
			},
			want: ErrTransport,
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"results": [`))
			},
			want: ErrParse,
		},
		{
			name: "slow upstream",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(3 * time.Second):
				}
			},
			want: ErrTransport,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler)
			c.timeout = 100 * time.Millisecond
			_, err := c.Discover(context.Background(), 1, DiscoverQuery{})
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	for i := 0; i < 30; i++ {
		_, err := c.Credits(context.Background(), int64(i))
		if !errors.Is(err, ErrTransport) {
			t.Fatalf("call %d: err = %v, want ErrTransport", i, err)
		}
	}
	if got := hits.Load(); got >= 30 {
		t.Errorf("server saw %d requests, want fewer once the breaker opened", got)
	}
}

func TestThrottle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":1,"cast":[]}`))
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, RatePerSecond: 10, HTTPClient: srv.Client()})

	start := time.Now()
	for i := 0; i < 15; i++ {
		if _, err := c.Credits(context.Background(), 1); err != nil {
			t.Fatalf("Credits: %v", err)
		}
	}
	// burst of 10, then 5 more at 10/s
	if elapsed := time.Since(start); elapsed < 400*time.Millisecond {
		t.Errorf("15 calls took %v, want throttling to spread them over >= 400ms", elapsed)
	}
}

func TestPing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"success":true}`))
	})
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}

	var sb strings.Builder
	if err := EnsureReady(context.Background(), c, &sb); err != nil {
		t.Errorf("EnsureReady: %v", err)
	}
	if !strings.Contains(sb.String(), "ready") {
		t.Errorf("output = %q, want it to mention ready", sb.String())
	}
}
