// Package catalog holds the movie catalog: its record type, the CSV
// snapshot format shared by the harvester and the engine, filtered views,
// and the aggregates shown on the stats pages.
package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrMissing is returned when the catalog file does not exist.
var ErrMissing = errors.New("catalog file not found")

// PosterBaseURL prefixes poster_path to build a displayable image URL.
const PosterBaseURL = "https://image.tmdb.org/t/p/w500"

var validate = validator.New()

// MovieRecord is one catalog row.
type MovieRecord struct {
	ID               int64  `validate:"gt=0"`
	Title            string `validate:"required"`
	Genre            string // comma-separated labels
	Overview         string
	Actors           string  // up to three lead names joined with ", "
	PosterPath       string  // empty when upstream had none
	VoteAverage      float64 `validate:"gte=0,lte=10"`
	VoteCount        int     `validate:"gte=0"`
	ReleaseDate      string
	OriginalLanguage string

	// Extra carries upstream listing fields that have no dedicated column.
	Extra map[string]string
}

// Validate checks the record invariants enforced at load time.
func (r MovieRecord) Validate() error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid record: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid record: %w", err)
	}
	return nil
}

// PosterURL returns the full artwork URL, or "" when the record has no poster.
func (r MovieRecord) PosterURL() string {
	if r.PosterPath == "" {
		return ""
	}
	return PosterBaseURL + r.PosterPath
}

// Catalog is an ordered snapshot of movie records.
type Catalog struct {
	Records []MovieRecord
	// Columns lists the header fields present in the source, in file order.
	// Empty for catalogs built in memory.
	Columns []string
	// Rejected lists rows quarantined while reading.
	Rejected []Rejected
}

// Rejected describes a row that failed parsing or validation.
type Rejected struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// Len returns the number of records.
func (c Catalog) Len() int { return len(c.Records) }

// HasColumn reports whether the catalog carries the named column. In-memory
// catalogs without a header are treated as carrying every known column.
func (c Catalog) HasColumn(name string) bool {
	if len(c.Columns) == 0 {
		for _, k := range Header {
			if k == name {
				return true
			}
		}
		return false
	}
	for _, col := range c.Columns {
		if col == name {
			return true
		}
	}
	return false
}

// DuplicateIDs returns ids that occur more than once, in first-seen order.
func (c Catalog) DuplicateIDs() []int64 {
	seen := make(map[int64]int, len(c.Records))
	var dups []int64
	for _, r := range c.Records {
		seen[r.ID]++
		if seen[r.ID] == 2 {
			dups = append(dups, r.ID)
		}
	}
	return dups
}
