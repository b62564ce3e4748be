package retrieval

import (
	"math"
	"sort"
	"strings"
)

// SparseVector holds the non-zero weights of one document, with term
// indices in ascending order.
type SparseVector struct {
	Terms   []int
	Weights []float64
}

// Dot returns the inner product of two sparse vectors.
func (v SparseVector) Dot(o SparseVector) float64 {
	var sum float64
	i, j := 0, 0
	for i < len(v.Terms) && j < len(o.Terms) {
		switch {
		case v.Terms[i] == o.Terms[j]:
			sum += v.Weights[i] * o.Weights[j]
			i++
			j++
		case v.Terms[i] < o.Terms[j]:
			i++
		default:
			j++
		}
	}
	return sum
}

// Matrix is a fitted TF-IDF document-term matrix.
type Matrix struct {
	Vocabulary map[string]int // term -> column, columns in lexical term order
	IDF        []float64      // by column
	Rows       []SparseVector // one per document, L2-normalized
}

// Len returns the number of documents.
func (m *Matrix) Len() int { return len(m.Rows) }

// FitTransform builds the vocabulary from docs and returns their TF-IDF
// vectors. Documents are lowercased and tokenized with Tokenize. Weights
// are raw term counts times the smoothed inverse document frequency
// ln((1+n)/(1+df))+1, and each row is scaled to unit length. A document
// with no terms gets an empty row.
func FitTransform(docs []string) *Matrix {
	n := len(docs)
	tokenized := make([][]string, n)
	df := make(map[string]int)
	for i, d := range docs {
		terms := Tokenize(strings.ToLower(d))
		tokenized[i] = terms
		seen := make(map[string]struct{}, len(terms))
		for _, t := range terms {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			df[t]++
		}
	}

	vocab := make([]string, 0, len(df))
	for t := range df {
		vocab = append(vocab, t)
	}
	sort.Strings(vocab)

	m := &Matrix{
		Vocabulary: make(map[string]int, len(vocab)),
		IDF:        make([]float64, len(vocab)),
		Rows:       make([]SparseVector, n),
	}
	for col, t := range vocab {
		m.Vocabulary[t] = col
		m.IDF[col] = math.Log(float64(1+n)/float64(1+df[t])) + 1
	}

	for i, terms := range tokenized {
		m.Rows[i] = m.weigh(terms)
	}
	return m
}

func (m *Matrix) weigh(terms []string) SparseVector {
	counts := make(map[int]int, len(terms))
	for _, t := range terms {
		if col, ok := m.Vocabulary[t]; ok {
			counts[col]++
		}
	}
	cols := make([]int, 0, len(counts))
	for col := range counts {
		cols = append(cols, col)
	}
	sort.Ints(cols)

	v := SparseVector{Terms: cols, Weights: make([]float64, len(cols))}
	var norm float64
	for k, col := range cols {
		w := float64(counts[col]) * m.IDF[col]
		v.Weights[k] = w
		norm += w * w
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for k := range v.Weights {
			v.Weights[k] /= norm
		}
	}
	return v
}
