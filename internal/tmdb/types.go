package tmdb

import (
	"github.com/goccy/go-json"
)

// DiscoverPage is one page of the discover listing.
type DiscoverPage struct {
	Page         int           `json:"page"`
	Results      []ListingItem `json:"results"`
	TotalPages   int           `json:"total_pages"`
	TotalResults int           `json:"total_results"`
}

// ListingItem is one movie entry on a listing page. Fields keeps every
// upstream field verbatim so unknown columns can be passed through.
type ListingItem struct {
	ID               int64   `json:"id"`
	Title            string  `json:"title"`
	GenreIDs         []int   `json:"genre_ids"`
	Overview         string  `json:"overview"`
	PosterPath       *string `json:"poster_path"`
	VoteAverage      float64 `json:"vote_average"`
	VoteCount        int     `json:"vote_count"`
	ReleaseDate      string  `json:"release_date"`
	OriginalLanguage string  `json:"original_language"`

	Fields map[string]json.RawMessage `json:"-"`
}

func (li *ListingItem) UnmarshalJSON(data []byte) error {
	type plain ListingItem
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*li = ListingItem(p)
	li.Fields = fields
	return nil
}

// Credits is the credits payload for one movie.
type Credits struct {
	ID   int64        `json:"id"`
	Cast []CastMember `json:"cast"`
}

// CastMember is one credited performer, in billing order.
type CastMember struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Character string `json:"character"`
	Order     int    `json:"order"`
}

type genreList struct {
	Genres []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"genres"`
}
