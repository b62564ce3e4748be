// Package ingest watches the catalog snapshot on disk and pushes new
// versions to the live sessions.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kalambet/cinematch/internal/catalog"
)

// Reloader receives each new catalog. Implemented by session.Manager.
type Reloader interface {
	ReloadAll(cat catalog.Catalog) int
}

// ReloaderFunc adapts a function to Reloader.
type ReloaderFunc func(cat catalog.Catalog) int

func (f ReloaderFunc) ReloadAll(cat catalog.Catalog) int { return f(cat) }

// Fanout delivers each catalog to every reloader and returns the total
// number of engines reloaded.
func Fanout(rs ...Reloader) Reloader {
	return ReloaderFunc(func(cat catalog.Catalog) int {
		n := 0
		for _, r := range rs {
			n += r.ReloadAll(cat)
		}
		return n
	})
}

type fingerprint struct {
	modTime time.Time
	size    int64
}

// Worker polls the catalog file and reloads it when its modification time
// or size changes.
type Worker struct {
	path     string
	reloader Reloader
	poll     time.Duration
	logger   *slog.Logger

	seen    fingerprint
	loaded  bool
	missing bool
}

// NewWorker creates a Worker for the catalog at path.
// If pollInterval is <= 0, it defaults to 5s.
func NewWorker(path string, reloader Reloader, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Worker{
		path:     path,
		reloader: reloader,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if _, err := w.RunOnce(ctx); err != nil && !errors.Is(err, catalog.ErrMissing) {
			w.logger.Error("catalog reload failed", "path", w.path, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce checks the file and reloads it if it changed since the last
// successful load. Returns true when a new catalog was handed out. A
// missing file yields catalog.ErrMissing and leaves any loaded catalog in
// place.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	info, err := os.Stat(w.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if !w.missing {
				w.logger.Warn("catalog file not found; queries are unavailable until it appears", "path", w.path)
				w.missing = true
			}
			return false, fmt.Errorf("%w: %s", catalog.ErrMissing, w.path)
		}
		return false, fmt.Errorf("checking catalog: %w", err)
	}
	w.missing = false

	fp := fingerprint{modTime: info.ModTime(), size: info.Size()}
	if w.loaded && fp == w.seen {
		return false, nil
	}

	cat, err := catalog.Load(w.path)
	if err != nil {
		return false, err
	}
	if len(cat.Rejected) > 0 {
		w.logger.Warn("catalog rows quarantined", "count", len(cat.Rejected), "first_line", cat.Rejected[0].Line, "reason", cat.Rejected[0].Reason)
	}

	sessions := w.reloader.ReloadAll(cat)
	w.seen = fp
	w.loaded = true
	w.logger.Info("catalog loaded", "path", w.path, "records", cat.Len(), "sessions", sessions)
	return true, nil
}
