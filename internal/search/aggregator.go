// Package search merges per-chunk query results into one bounded result,
// the role the teacher's query engine plays across multiple backing stores.
package search

import (
	"sort"

	"gastrolog/internal/indexstore"
)

// Aggregator merges a fan-out of per-chunk indexstore.SearchResult values
// into one: hits are unioned and truncated to the top howMany by sortKey,
// and buckets sharing the same [Low,High) interval have their counts
// summed.
type Aggregator struct {
	sortKey func(a, b indexstore.Hit) bool
	howMany int
}

// NewAggregator builds an Aggregator. sortKey is the same "less" comparator
// passed to each chunk's SearchQuery; nil preserves arrival order. howMany
// <= 0 means unbounded.
func NewAggregator(sortKey func(a, b indexstore.Hit) bool, howMany int) *Aggregator {
	return &Aggregator{sortKey: sortKey, howMany: howMany}
}

// Merge combines results from any number of chunks into one.
func (a *Aggregator) Merge(results []indexstore.SearchResult) indexstore.SearchResult {
	var hits []indexstore.Hit
	for _, r := range results {
		hits = append(hits, r.Hits...)
	}
	if a.sortKey != nil {
		sort.Slice(hits, func(i, j int) bool { return a.sortKey(hits[i], hits[j]) })
	}
	if a.howMany > 0 && len(hits) > a.howMany {
		hits = hits[:a.howMany]
	}

	buckets := mergeBuckets(results)
	return indexstore.SearchResult{Hits: hits, Buckets: buckets}
}

// mergeBuckets sums counts across results for buckets sharing the same
// half-open interval, preserving first-seen interval order.
func mergeBuckets(results []indexstore.SearchResult) []indexstore.Bucket {
	type key struct{ low, high int64 }
	var order []key
	counts := make(map[key]int64)
	for _, r := range results {
		for _, b := range r.Buckets {
			k := key{b.Low, b.High}
			if _, seen := counts[k]; !seen {
				order = append(order, k)
			}
			counts[k] += b.Count
		}
	}
	if len(order) == 0 {
		return nil
	}
	merged := make([]indexstore.Bucket, len(order))
	for i, k := range order {
		merged[i] = indexstore.Bucket{Low: k.low, High: k.high, Count: counts[k]}
	}
	return merged
}
