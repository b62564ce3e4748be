package retrieval

import (
	"fmt"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

// Scored is one neighbour with its similarity to the query row.
type Scored struct {
	Index int
	Score float32
}

// SimilarityIndex is a dense N×N matrix of pairwise document similarity,
// aligned with the row order of the Matrix it was built from.
type SimilarityIndex struct {
	n    int
	data []float32 // row-major
}

// Len returns N.
func (s *SimilarityIndex) Len() int { return s.n }

// At returns the similarity between rows i and j.
func (s *SimilarityIndex) At(i, j int) float32 { return s.data[i*s.n+j] }

// Row returns row i. The slice aliases the index and must not be modified.
func (s *SimilarityIndex) Row(i int) []float32 { return s.data[i*s.n : (i+1)*s.n] }

// LinearKernel computes the dot product of every pair of rows in m. Rows are
// filled in parallel; each worker accumulates through an inverted index so
// only documents sharing a term are visited.
func LinearKernel(m *Matrix) *SimilarityIndex {
	n := m.Len()
	idx := &SimilarityIndex{n: n, data: make([]float32, n*n)}
	if n == 0 {
		return idx
	}

	type posting struct {
		doc int
		w   float64
	}
	postings := make([][]posting, len(m.IDF))
	for d, row := range m.Rows {
		for k, col := range row.Terms {
			postings[col] = append(postings[col], posting{doc: d, w: row.Weights[k]})
		}
	}

	workers := runtime.GOMAXPROCS(0)
	if workers > n {
		workers = n
	}
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			acc := make([]float64, n)
			for i := w; i < n; i += workers {
				clear(acc)
				row := m.Rows[i]
				for k, col := range row.Terms {
					wi := row.Weights[k]
					for _, p := range postings[col] {
						acc[p.doc] += wi * p.w
					}
				}
				out := idx.data[i*n : (i+1)*n]
				for j, v := range acc {
					out[j] = float32(v)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return idx
}

// TopK returns the k rows most similar to row i, best first. Scores are
// sorted with a stable sort so ties keep row order, and row i itself is
// dropped. At most N-1 entries are returned.
func (s *SimilarityIndex) TopK(i, k int) ([]Scored, error) {
	if i < 0 || i >= s.n {
		return nil, fmt.Errorf("row %d out of range [0,%d)", i, s.n)
	}
	if k < 0 {
		return nil, fmt.Errorf("k must be non-negative, got %d", k)
	}

	row := s.Row(i)
	ranked := make([]Scored, s.n)
	for j, v := range row {
		ranked[j] = Scored{Index: j, Score: v}
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].Score > ranked[b].Score
	})

	// The query row normally sorts first; under ties with an identical
	// document it may not, so remove it by index.
	out := make([]Scored, 0, min(k, s.n-1))
	for _, sc := range ranked {
		if len(out) == k {
			break
		}
		if sc.Index == i {
			continue
		}
		out = append(out, sc)
	}
	return out, nil
}
