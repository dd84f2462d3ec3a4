// Package merger combines ranked result lists from several projects.
package merger

import (
	"container/heap"

	"github.com/darpa-sail-on/docsearch/internal/searcher/ranker"
)

// Merge keeps the best limit results across lists, in ranker order. A limit
// of zero or less keeps everything.
func Merge(lists [][]ranker.Result, limit int) []ranker.Result {
	h := &resultHeap{}
	heap.Init(h)
	for _, results := range lists {
		for _, r := range results {
			heap.Push(h, r)
			if limit > 0 && h.Len() > limit {
				heap.Pop(h)
			}
		}
	}
	result := make([]ranker.Result, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(ranker.Result)
	}
	return result
}

// resultHeap is a min-heap: the worst result sits on top.
type resultHeap []ranker.Result

func (h resultHeap) Len() int { return len(h) }

func (h resultHeap) Less(i, j int) bool { return ranker.Less(h[j], h[i]) }

func (h resultHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *resultHeap) Push(x interface{}) {
	*h = append(*h, x.(ranker.Result))
}

func (h *resultHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
