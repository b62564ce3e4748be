package catalog

import "strings"

// Filter selects the rows a session works with.
type Filter struct {
	MinRating float64 `json:"min_rating" validate:"gte=0,lte=10"`
	// Language restricts rows to one original_language code when non-empty.
	Language string `json:"language,omitempty" validate:"omitempty,min=2,max=8"`
}

// Validate checks the filter bounds.
func (f Filter) Validate() error {
	return validate.Struct(f)
}

// Key identifies the filter for logging and cache labels.
func (f Filter) Key() string {
	var b strings.Builder
	b.WriteString("min_rating>=")
	b.WriteString(formatRating(f.MinRating))
	if f.Language != "" {
		b.WriteString(",language=")
		b.WriteString(f.Language)
	}
	return b.String()
}

// FilteredCatalog is the subset of a catalog that passes a filter. Positions
// in Records are the positional indices used by the similarity index.
type FilteredCatalog struct {
	Records []MovieRecord
	Filter  Filter
}

// Len returns the number of rows in the view.
func (fc FilteredCatalog) Len() int { return len(fc.Records) }

// Apply returns the rows of cat whose rating is at least f.MinRating and,
// when f.Language is set and the catalog has the column, whose original
// language matches. Source order is preserved.
func Apply(cat Catalog, f Filter) FilteredCatalog {
	byLanguage := f.Language != "" && cat.HasColumn(ColOriginalLanguage)
	out := make([]MovieRecord, 0, len(cat.Records))
	for _, r := range cat.Records {
		if r.VoteAverage < f.MinRating {
			continue
		}
		if byLanguage && r.OriginalLanguage != f.Language {
			continue
		}
		out = append(out, r)
	}
	return FilteredCatalog{Records: out, Filter: f}
}
