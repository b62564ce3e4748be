package engine

import (
	"strings"

	"github.com/kalambet/cinematch/internal/catalog"
	"github.com/kalambet/cinematch/internal/retrieval"
)

// SoupWeights sets how many times genre and cast text are repeated in a
// film's document. Overview text always appears once.
type SoupWeights struct {
	Genre  int
	Actors int
}

// DefaultSoupWeights favours genre over cast over plot, 3:2:1.
var DefaultSoupWeights = SoupWeights{Genre: 3, Actors: 2}

// BuildSoup returns the normalized document for rec: each genre and cast
// occurrence is followed by a space, then the overview.
func BuildSoup(rec catalog.MovieRecord, w SoupWeights) string {
	var b strings.Builder
	b.Grow((len(rec.Genre)+1)*max(w.Genre, 0) + (len(rec.Actors)+1)*max(w.Actors, 0) + len(rec.Overview))
	for range max(w.Genre, 0) {
		b.WriteString(rec.Genre)
		b.WriteByte(' ')
	}
	for range max(w.Actors, 0) {
		b.WriteString(rec.Actors)
		b.WriteByte(' ')
	}
	b.WriteString(rec.Overview)
	return retrieval.Normalize(b.String())
}
