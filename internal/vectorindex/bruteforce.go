package vectorindex

import (
	"fmt"
	"math"
	"sort"
)

// bruteIndex is a flat cosine-similarity index over parallel id/vector
// slices. Vectors are stored as ingested; magnitudes are precomputed at
// build time and normalization happens in the comparison, so build and
// query share one code path.
type bruteIndex struct {
	ids  []string
	vecs [][]float32
	mags []float64
	dim  int
}

func newBruteIndex(ids []string, vectors [][]float32) (*bruteIndex, error) {
	if len(ids) != len(vectors) {
		return nil, fmt.Errorf("ids and vectors length mismatch: %d != %d", len(ids), len(vectors))
	}
	idx := &bruteIndex{}
	if len(ids) == 0 {
		return idx, nil
	}

	dim := len(vectors[0])
	for i := range vectors {
		if len(vectors[i]) != dim {
			return nil, fmt.Errorf("inconsistent vector dims %d vs %d", len(vectors[i]), dim)
		}
	}

	idx.ids = ids
	idx.vecs = vectors
	idx.dim = dim
	idx.mags = make([]float64, len(vectors))
	for i := range vectors {
		idx.mags[i] = magnitude(vectors[i])
	}
	return idx, nil
}

// query returns up to k entries by descending cosine similarity. allow, when
// non-nil, restricts the candidate set before scoring (relational pre-filter).
func (i *bruteIndex) query(q []float32, k int, allow func(pos int) bool) ([]string, []float64, error) {
	if i.dim == 0 || len(i.vecs) == 0 {
		return nil, nil, nil
	}
	if len(q) != i.dim {
		return nil, nil, fmt.Errorf("query dim %d != index dim %d", len(q), i.dim)
	}
	qm := magnitude(q)
	if qm == 0 {
		return nil, nil, nil
	}

	type scored struct {
		pos   int
		score float64
	}
	candidates := make([]scored, 0, len(i.vecs))
	for pos := range i.vecs {
		if allow != nil && !allow(pos) {
			continue
		}
		if i.mags[pos] == 0 {
			continue
		}
		s := dot(q, i.vecs[pos]) / (qm * i.mags[pos])
		if math.IsNaN(s) {
			continue
		}
		candidates = append(candidates, scored{pos: pos, score: s})
	}

	sort.Slice(candidates, func(a, b int) bool { return candidates[a].score > candidates[b].score })
	if k <= 0 || k > len(candidates) {
		k = len(candidates)
	}

	ids := make([]string, k)
	scores := make([]float64, k)
	for n := 0; n < k; n++ {
		ids[n] = i.ids[candidates[n].pos]
		scores[n] = candidates[n].score
	}
	return ids, scores, nil
}

func (i *bruteIndex) size() int { return len(i.ids) }

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func magnitude(v []float32) float64 { return math.Sqrt(dot(v, v)) }
