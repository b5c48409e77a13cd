package vectorstore

import (
	"container/heap"
	"fmt"
	"math"
)

// Index is an exact nearest-neighbor structure over one document's
// embeddings. It is immutable after construction and safe for concurrent
// queries.
//
// Search is a brute-force scan with a bounded selection heap: O(n·d) per
// query with no recall trade-off. Per-document chunk counts stay in the
// hundreds, so an approximate structure would buy nothing here.
type Index struct {
	metric  Metric
	dim     int
	vectors [][]float32

	// norms caches vector magnitudes for cosine distance.
	norms []float32
}

// NewIndex builds an index over vectors with the given dimension and metric.
//
// Every vector must have length dim. Building from zero vectors is legal and
// yields an index that answers every query with an empty result.
func NewIndex(dim int, metric Metric, vectors [][]float32) (*Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidInput, dim)
	}
	switch metric {
	case MetricCosine, MetricL2:
	default:
		return nil, fmt.Errorf("%w: unknown metric %d", ErrInvalidInput, metric)
	}

	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: vector %d has dimension %d, expected %d",
				ErrDimensionMismatch, i, len(v), dim)
		}
	}

	idx := &Index{
		metric:  metric,
		dim:     dim,
		vectors: vectors,
	}

	if metric == MetricCosine {
		idx.norms = make([]float32, len(vectors))
		for i, v := range vectors {
			idx.norms[i] = norm(v)
		}
	}

	return idx, nil
}

// Search returns the k nearest vectors to query, ordered by ascending
// distance, ties broken by lower ordinal.
//
// k is clamped to the index size; k <= 0 is an error. The query dimension
// must equal the index dimension.
func (idx *Index) Search(query []float32, k int) ([]Neighbor, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: top-k must be positive, got %d", ErrInvalidInput, k)
	}
	if len(query) != idx.dim {
		return nil, fmt.Errorf("%w: query has dimension %d, index has %d",
			ErrDimensionMismatch, len(query), idx.dim)
	}

	if len(idx.vectors) == 0 {
		return []Neighbor{}, nil
	}
	if k > len(idx.vectors) {
		k = len(idx.vectors)
	}

	var queryNorm float32
	if idx.metric == MetricCosine {
		queryNorm = norm(query)
	}

	// Keep the k best seen so far in a max-heap keyed by "worseness";
	// the root is the candidate to beat.
	h := make(neighborHeap, 0, k+1)
	for ord := range idx.vectors {
		d := idx.distance(query, queryNorm, ord)
		if len(h) == k && !worse(h[0], Neighbor{Ordinal: ord, Distance: d}) {
			continue
		}
		heap.Push(&h, Neighbor{Ordinal: ord, Distance: d})
		if len(h) > k {
			heap.Pop(&h)
		}
	}

	// Drain the heap worst-first into the result tail.
	out := make([]Neighbor, len(h))
	for i := len(h) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&h).(Neighbor)
	}
	return out, nil
}

// distance computes the configured metric between query and vector ord.
func (idx *Index) distance(query []float32, queryNorm float32, ord int) float32 {
	v := idx.vectors[ord]
	switch idx.metric {
	case MetricL2:
		var sum float64
		for i, q := range query {
			d := float64(q) - float64(v[i])
			sum += d * d
		}
		return float32(math.Sqrt(sum))
	default: // MetricCosine
		denom := queryNorm * idx.norms[ord]
		if denom == 0 {
			// A zero vector has no direction; treat it as orthogonal.
			return 1
		}
		return 1 - dot(query, v)/denom
	}
}

// Size returns the number of indexed vectors.
func (idx *Index) Size() int { return len(idx.vectors) }

// Dimension returns the vector dimension.
func (idx *Index) Dimension() int { return idx.dim }

// Metric returns the distance metric.
func (idx *Index) Metric() Metric { return idx.metric }

// vector returns the raw vector at ordinal ord. Used by the codec.
func (idx *Index) vector(ord int) []float32 { return idx.vectors[ord] }

func dot(a, b []float32) float32 {
	var sum float32
	for i, x := range a {
		sum += x * b[i]
	}
	return sum
}

func norm(v []float32) float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	return float32(math.Sqrt(sumSq))
}

// worse reports whether a ranks strictly worse than b: greater distance, or
// equal distance with a higher ordinal.
func worse(a, b Neighbor) bool {
	if a.Distance != b.Distance {
		return a.Distance > b.Distance
	}
	return a.Ordinal > b.Ordinal
}

// neighborHeap is a max-heap ordered by worse, so the root is always the
// weakest of the current candidates.
type neighborHeap []Neighbor

func (h neighborHeap) Len() int            { return len(h) }
func (h neighborHeap) Less(i, j int) bool  { return worse(h[i], h[j]) }
func (h neighborHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *neighborHeap) Push(x interface{}) { *h = append(*h, x.(Neighbor)) }
func (h *neighborHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
