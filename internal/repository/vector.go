package repository

import (
	"container/heap"
	"math"

	"notes-sync-indexer/internal/domain"
)

func normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	norm = math.Sqrt(norm)
	if norm == 0 {
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dotProduct(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// cosineSimilarity returns 0 for vectors of different dimensions.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return dotProduct(normalize(a), normalize(b))
}

// topK keeps the best limit chunks seen so far, min score at the root.
type topK struct {
	limit int
	h     minHeap
}

func newTopK(limit int) *topK {
	return &topK{limit: limit}
}

func (t *topK) offer(c domain.ScoredChunk) {
	if t.h.Len() < t.limit {
		heap.Push(&t.h, c)
		return
	}
	if c.Score > t.h[0].Score {
		t.h[0] = c
		heap.Fix(&t.h, 0)
	}
}

// results drains the heap in descending score order.
func (t *topK) results() []domain.ScoredChunk {
	out := make([]domain.ScoredChunk, t.h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&t.h).(domain.ScoredChunk)
	}
	return out
}

type minHeap []domain.ScoredChunk

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)        { *h = append(*h, x.(domain.ScoredChunk)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
