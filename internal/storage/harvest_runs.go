package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// timeLayout has fixed-width fractions so stored timestamps sort lexically.
// Reads accept any RFC 3339 form.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const harvestRunColumns = `id, started_at, finished_at, status, pages_requested, pages_ok, pages_skipped,
	items, items_enriched, items_skipped, skip_reasons, duplicate_ids, output_path, error`

// SaveHarvestRun inserts r, replacing any run with the same id.
func (s *Store) SaveHarvestRun(r HarvestRun) error {
	reasons := r.SkipReasons
	if reasons == nil {
		reasons = map[string]int{}
	}
	reasonsJSON, err := json.Marshal(reasons)
	if err != nil {
		return fmt.Errorf("encoding skip reasons: %w", err)
	}
	dups := r.DuplicateIDs
	if dups == nil {
		dups = []int64{}
	}
	dupsJSON, err := json.Marshal(dups)
	if err != nil {
		return fmt.Errorf("encoding duplicate ids: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO harvest_runs (`+harvestRunColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.StartedAt.UTC().Format(timeLayout), r.FinishedAt.UTC().Format(timeLayout),
		r.Status, r.PagesRequested, r.PagesOK, r.PagesSkipped,
		r.Items, r.ItemsEnriched, r.ItemsSkipped, string(reasonsJSON), string(dupsJSON),
		r.OutputPath, r.Error,
	)
	return err
}

// GetHarvestRun returns the run with the given id.
func (s *Store) GetHarvestRun(id string) (HarvestRun, error) {
	row := s.db.QueryRow(`SELECT `+harvestRunColumns+` FROM harvest_runs WHERE id = ?`, id)
	r, err := scanHarvestRun(row)
	if err == sql.ErrNoRows {
		return HarvestRun{}, ErrNotFound
	}
	return r, err
}

// ListHarvestRuns returns up to limit runs, newest first.
func (s *Store) ListHarvestRuns(limit int) ([]HarvestRun, error) {
	rows, err := s.db.Query(`SELECT `+harvestRunColumns+` FROM harvest_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []HarvestRun
	for rows.Next() {
		r, err := scanHarvestRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LastSuccessfulHarvest returns the most recent completed run.
func (s *Store) LastSuccessfulHarvest() (HarvestRun, error) {
	row := s.db.QueryRow(`SELECT `+harvestRunColumns+` FROM harvest_runs
		WHERE status = ? ORDER BY started_at DESC LIMIT 1`, RunCompleted)
	r, err := scanHarvestRun(row)
	if err == sql.ErrNoRows {
		return HarvestRun{}, ErrNotFound
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanHarvestRun(sc scanner) (HarvestRun, error) {
	var r HarvestRun
	var started, finished, reasons, dups string
	if err := sc.Scan(&r.ID, &started, &finished, &r.Status, &r.PagesRequested, &r.PagesOK, &r.PagesSkipped,
		&r.Items, &r.ItemsEnriched, &r.ItemsSkipped, &reasons, &dups, &r.OutputPath, &r.Error); err != nil {
		return HarvestRun{}, err
	}
	var err error
	if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return HarvestRun{}, fmt.Errorf("parsing started_at: %w", err)
	}
	if r.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
		return HarvestRun{}, fmt.Errorf("parsing finished_at: %w", err)
	}
	if err := json.Unmarshal([]byte(reasons), &r.SkipReasons); err != nil {
		return HarvestRun{}, fmt.Errorf("decoding skip reasons: %w", err)
	}
	if err := json.Unmarshal([]byte(dups), &r.DuplicateIDs); err != nil {
		return HarvestRun{}, fmt.Errorf("decoding duplicate ids: %w", err)
	}
	return r, nil
}
