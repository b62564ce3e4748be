package catalog

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Column names of the snapshot format.
const (
	ColID               = "id"
	ColTitle            = "title"
	ColGenre            = "genre"
	ColOverview         = "overview"
	ColActors           = "acteurs"
	ColPosterPath       = "poster_path"
	ColVoteAverage      = "vote_average"
	ColVoteCount        = "vote_count"
	ColReleaseDate      = "release_date"
	ColOriginalLanguage = "original_language"
)

// Header is the fixed leading header of every written snapshot. Extra
// columns follow in sorted order.
var Header = []string{
	ColID, ColTitle, ColGenre, ColOverview, ColActors,
	ColPosterPath, ColVoteAverage, ColVoteCount, ColReleaseDate, ColOriginalLanguage,
}

func isKnown(col string) bool {
	for _, h := range Header {
		if h == col {
			return true
		}
	}
	return false
}

// Read parses a snapshot. Columns are matched by name so files written by
// other tools load as long as id and title are present. Rows that fail to
// parse or validate are quarantined in Catalog.Rejected.
func Read(r io.Reader) (Catalog, error) {
	br := bufio.NewReader(r)
	if b, err := br.Peek(3); err == nil && string(b) == "\xef\xbb\xbf" {
		_, _ = br.Discard(3)
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return Catalog{}, fmt.Errorf("reading header: empty file")
	}
	if err != nil {
		return Catalog{}, fmt.Errorf("reading header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		header[i] = h
		idx[h] = i
	}
	for _, required := range []string{ColID, ColTitle} {
		if _, ok := idx[required]; !ok {
			return Catalog{}, fmt.Errorf("header is missing required column %q", required)
		}
	}

	cat := Catalog{Columns: header}
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				cat.Rejected = append(cat.Rejected, Rejected{Line: perr.Line, Reason: perr.Err.Error()})
				continue
			}
			return Catalog{}, fmt.Errorf("reading catalog: %w", err)
		}
		line, _ := cr.FieldPos(0)
		if len(row) != len(header) {
			cat.Rejected = append(cat.Rejected, Rejected{
				Line:   line,
				Reason: fmt.Sprintf("expected %d fields, got %d", len(header), len(row)),
			})
			continue
		}

		rec, err := decodeRow(header, row)
		if err == nil {
			err = rec.Validate()
		}
		if err != nil {
			cat.Rejected = append(cat.Rejected, Rejected{Line: line, Reason: err.Error()})
			continue
		}
		cat.Records = append(cat.Records, rec)
	}
	return cat, nil
}

func decodeRow(header, row []string) (MovieRecord, error) {
	var rec MovieRecord
	for i, col := range header {
		v := row[i]
		switch col {
		case ColID:
			id, err := parseID(v)
			if err != nil {
				return rec, err
			}
			rec.ID = id
		case ColTitle:
			rec.Title = v
		case ColGenre:
			rec.Genre = v
		case ColOverview:
			rec.Overview = v
		case ColActors:
			rec.Actors = v
		case ColPosterPath:
			rec.PosterPath = v
		case ColVoteAverage:
			if strings.TrimSpace(v) == "" {
				continue
			}
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return rec, fmt.Errorf("bad vote_average %q", v)
			}
			rec.VoteAverage = f
		case ColVoteCount:
			if strings.TrimSpace(v) == "" {
				continue
			}
			n, err := parseCount(v)
			if err != nil {
				return rec, err
			}
			rec.VoteCount = n
		case ColReleaseDate:
			rec.ReleaseDate = v
		case ColOriginalLanguage:
			rec.OriginalLanguage = v
		default:
			if rec.Extra == nil {
				rec.Extra = make(map[string]string)
			}
			rec.Extra[col] = v
		}
	}
	return rec, nil
}

// parseID accepts integer ids, including the "123.0" form some writers emit.
func parseID(v string) (int64, error) {
	v = strings.TrimSpace(v)
	if id, err := strconv.ParseInt(v, 10, 64); err == nil {
		return id, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f != float64(int64(f)) {
		return 0, fmt.Errorf("bad id %q", v)
	}
	return int64(f), nil
}

func parseCount(v string) (int, error) {
	id, err := parseID(v)
	if err != nil {
		return 0, fmt.Errorf("bad vote_count %q", v)
	}
	return int(id), nil
}

// Write serializes cat with the fixed header followed by every extra column
// present on any record, sorted by name.
func Write(w io.Writer, cat Catalog) error {
	extraSet := make(map[string]struct{})
	for _, r := range cat.Records {
		for k := range r.Extra {
			if !isKnown(k) {
				extraSet[k] = struct{}{}
			}
		}
	}
	extras := make([]string, 0, len(extraSet))
	for k := range extraSet {
		extras = append(extras, k)
	}
	sort.Strings(extras)

	cw := csv.NewWriter(w)
	header := append(append([]string{}, Header...), extras...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	row := make([]string, len(header))
	for _, r := range cat.Records {
		row[0] = strconv.FormatInt(r.ID, 10)
		row[1] = r.Title
		row[2] = r.Genre
		row[3] = r.Overview
		row[4] = r.Actors
		row[5] = r.PosterPath
		row[6] = strconv.FormatFloat(r.VoteAverage, 'f', -1, 64)
		row[7] = strconv.Itoa(r.VoteCount)
		row[8] = r.ReleaseDate
		row[9] = r.OriginalLanguage
		for i, k := range extras {
			row[len(Header)+i] = r.Extra[k]
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing record %d: %w", r.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Load reads the snapshot at path. A missing file yields ErrMissing.
func Load(path string) (Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Catalog{}, fmt.Errorf("%w: %s", ErrMissing, path)
		}
		return Catalog{}, fmt.Errorf("opening catalog: %w", err)
	}
	defer f.Close()

	cat, err := Read(f)
	if err != nil {
		return Catalog{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cat, nil
}

// Save overwrites path with cat. The snapshot is written to a sibling temp
// file and renamed into place so readers never observe a partial file.
func Save(path string, cat Catalog) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating catalog directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".catalog-*.csv")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	if err := Write(bw, cat); err != nil {
		tmp.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flushing catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing catalog: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing catalog: %w", err)
	}
	return nil
}
