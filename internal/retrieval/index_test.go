package retrieval

import (
	"fmt"
	"math"
	"testing"
)

var corpus = []string{
	"action action action crime crime heist in los angeles",
	"action action action crime crime bank robbery gone wrong",
	"comedie comedie comedie romance romance paris cafe waitress",
	"comedie comedie comedie romance romance paris love story",
	"drame drame drame war soldiers",
	"action action action war soldiers heroes",
}

func TestLinearKernelShape(t *testing.T) {
	m := FitTransform(corpus)
	idx := LinearKernel(m)
	n := len(corpus)
	if idx.Len() != n {
		t.Fatalf("Len = %d, want %d", idx.Len(), n)
	}
	for i := 0; i < n; i++ {
		if d := idx.At(i, i); math.Abs(float64(d)-1) > 1e-5 {
			t.Errorf("diagonal %d = %v, want 1", i, d)
		}
		for j := 0; j < n; j++ {
			if idx.At(i, j) != idx.At(j, i) {
				t.Errorf("not symmetric at (%d,%d): %v vs %v", i, j, idx.At(i, j), idx.At(j, i))
			}
			if idx.At(i, j) > idx.At(i, i)+1e-6 {
				t.Errorf("row %d: off-diagonal %d exceeds self-similarity", i, j)
			}
		}
	}
}

func TestLinearKernelMatchesDot(t *testing.T) {
	m := FitTransform(corpus)
	idx := LinearKernel(m)
	for i := range m.Rows {
		for j := range m.Rows {
			want := m.Rows[i].Dot(m.Rows[j])
			if math.Abs(float64(idx.At(i, j))-want) > 1e-6 {
				t.Errorf("At(%d,%d) = %v, want %v", i, j, idx.At(i, j), want)
			}
		}
	}
}

func TestLinearKernelEmpty(t *testing.T) {
	idx := LinearKernel(FitTransform(nil))
	if idx.Len() != 0 {
		t.Errorf("Len = %d, want 0", idx.Len())
	}
}

func TestTopK(t *testing.T) {
	idx := LinearKernel(FitTransform(corpus))

	got, err := idx.TopK(0, 2)
	if err != nil {
		t.Fatalf("TopK: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	if got[0].Index != 1 {
		t.Errorf("best match for the heist film = %d, want 1", got[0].Index)
	}
	if got[0].Score < got[1].Score {
		t.Errorf("scores not descending: %+v", got)
	}
}

func TestTopKProperties(t *testing.T) {
	idx := LinearKernel(FitTransform(corpus))
	n := len(corpus)
	for i := 0; i < n; i++ {
		for _, k := range []int{0, 1, 3, n - 1, n, n + 5} {
			t.Run(fmt.Sprintf("row%d_k%d", i, k), func(t *testing.T) {
				got, err := idx.TopK(i, k)
				if err != nil {
					t.Fatalf("TopK: %v", err)
				}
				if len(got) != min(k, n-1) {
					t.Errorf("len = %d, want %d", len(got), min(k, n-1))
				}
				for p, sc := range got {
					if sc.Index == i {
						t.Errorf("result contains the query row")
					}
					if p > 0 && got[p-1].Score < sc.Score {
						t.Errorf("scores increase at %d", p)
					}
				}
			})
		}
	}
}

func TestTopKStableTies(t *testing.T) {
	// Rows 1..3 are unrelated to row 0 and score 0; they keep row order.
	idx := LinearKernel(FitTransform([]string{"alpha", "beta", "gamma", "delta"}))
	got, err := idx.TopK(0, 3)
	if err != nil {
		t.Fatalf("TopK: %v", err)
	}
	for p, want := range []int{1, 2, 3} {
		if got[p].Index != want {
			t.Errorf("position %d = %d, want %d", p, got[p].Index, want)
		}
	}
}

func TestTopKDuplicateDocumentsExcludeSelf(t *testing.T) {
	idx := LinearKernel(FitTransform([]string{"same words", "same words", "other"}))
	got, err := idx.TopK(1, 2)
	if err != nil {
		t.Fatalf("TopK: %v", err)
	}
	if got[0].Index != 0 || got[1].Index != 2 {
		t.Errorf("TopK(1) = %+v, want [0 2]", got)
	}
}

func TestTopKSingleRow(t *testing.T) {
	idx := LinearKernel(FitTransform([]string{"alone"}))
	got, err := idx.TopK(0, 5)
	if err != nil {
		t.Fatalf("TopK: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %+v, want empty", got)
	}
}

func TestTopKErrors(t *testing.T) {
	idx := LinearKernel(FitTransform(corpus))
	if _, err := idx.TopK(-1, 1); err == nil {
		t.Error("expected error for negative row")
	}
	if _, err := idx.TopK(len(corpus), 1); err == nil {
		t.Error("expected error for row past the end")
	}
	if _, err := idx.TopK(0, -1); err == nil {
		t.Error("expected error for negative k")
	}
}
