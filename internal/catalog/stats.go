package catalog

import (
	"sort"
	"strconv"
	"strings"
)

// TopLanguages is how many languages the distribution keeps.
const TopLanguages = 10

// Stats aggregates a filtered catalog for the stats pages.
type Stats struct {
	Total      int             `json:"total"`
	Genres     []GenreCount    `json:"genres"`
	Languages  []LanguageShare `json:"languages"`
	Popularity []RatingPoint   `json:"popularity"`
	// LogScale is true when every vote count is positive, so the popularity
	// axis can be drawn on a log scale.
	LogScale bool `json:"log_scale"`
}

// GenreCount is the number of films carrying one genre label.
type GenreCount struct {
	Genre string `json:"genre"`
	Count int    `json:"count"`
}

// LanguageShare is one entry of the language distribution.
type LanguageShare struct {
	Language string  `json:"language"`
	Count    int     `json:"count"`
	Percent  float64 `json:"percent"`
}

// RatingPoint pairs popularity with rating for one film.
type RatingPoint struct {
	Title       string  `json:"title"`
	VoteCount   int     `json:"vote_count"`
	VoteAverage float64 `json:"vote_average"`
}

// ComputeStats builds every aggregate over fc.
func ComputeStats(fc FilteredCatalog) Stats {
	return Stats{
		Total:      fc.Len(),
		Genres:     GenreCounts(fc),
		Languages:  LanguageDistribution(fc, TopLanguages),
		Popularity: RatingVsPopularity(fc),
		LogScale:   logScale(fc),
	}
}

// GenreCounts splits each genre field on commas and counts labels, most
// frequent first with ties broken by name.
func GenreCounts(fc FilteredCatalog) []GenreCount {
	counts := make(map[string]int)
	for _, r := range fc.Records {
		for _, g := range strings.Split(r.Genre, ",") {
			g = strings.TrimSpace(g)
			if g == "" {
				continue
			}
			counts[g]++
		}
	}
	out := make([]GenreCount, 0, len(counts))
	for g, n := range counts {
		out = append(out, GenreCount{Genre: g, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Genre < out[j].Genre
	})
	return out
}

// LanguageDistribution returns the top languages by film count. Percent is
// relative to all rows that have a language.
func LanguageDistribution(fc FilteredCatalog, top int) []LanguageShare {
	counts := make(map[string]int)
	total := 0
	for _, r := range fc.Records {
		if r.OriginalLanguage == "" {
			continue
		}
		counts[r.OriginalLanguage]++
		total++
	}
	out := make([]LanguageShare, 0, len(counts))
	for lang, n := range counts {
		out = append(out, LanguageShare{
			Language: lang,
			Count:    n,
			Percent:  float64(n) * 100 / float64(total),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Language < out[j].Language
	})
	if top > 0 && len(out) > top {
		out = out[:top]
	}
	return out
}

// RatingVsPopularity returns one point per film in catalog order.
func RatingVsPopularity(fc FilteredCatalog) []RatingPoint {
	out := make([]RatingPoint, len(fc.Records))
	for i, r := range fc.Records {
		out[i] = RatingPoint{Title: r.Title, VoteCount: r.VoteCount, VoteAverage: r.VoteAverage}
	}
	return out
}

func logScale(fc FilteredCatalog) bool {
	if len(fc.Records) == 0 {
		return false
	}
	for _, r := range fc.Records {
		if r.VoteCount <= 0 {
			return false
		}
	}
	return true
}

func formatRating(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
