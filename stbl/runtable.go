// Package stbl resolves per-sample timing, sync status and byte location
// from the tables of a sample table (stbl) box.
package stbl

import "sort"

// Run is one (count, value) pair of a run-length table.
type Run[V any] struct {
	Count uint64
	Value V
}

// RunTable is a materialized run-length table with the cumulative index of
// the first sample of every run. stts, ctts and stsc are all read through it.
type RunTable[V any] struct {
	runs  []Run[V]
	first []uint64
	total uint64
}

// NewRunTable builds a table over runs. Runs with a zero count are kept
// and never match a sample.
func NewRunTable[V any](runs []Run[V]) *RunTable[V] {
	t := &RunTable[V]{runs: runs, first: make([]uint64, len(runs))}
	for i, r := range runs {
		t.first[i] = t.total
		t.total += r.Count
	}
	return t
}

// Total returns the sum of all run counts.
func (t *RunTable[V]) Total() uint64 { return t.total }

// Len returns the number of runs.
func (t *RunTable[V]) Len() int { return len(t.runs) }

// Run returns the r-th run.
func (t *RunTable[V]) Run(r int) Run[V] { return t.runs[r] }

// First returns the 0-based index of the first sample of run r.
func (t *RunTable[V]) First(r int) uint64 { return t.first[r] }

// Find returns the run holding the 0-based sample i.
func (t *RunTable[V]) Find(i uint64) (int, bool) {
	if i >= t.total {
		return 0, false
	}
	r := sort.Search(len(t.runs), func(r int) bool {
		return t.first[r]+t.runs[r].Count > i
	})
	return r, true
}

// At returns the value for the 0-based sample i.
func (t *RunTable[V]) At(i uint64) (V, bool) {
	r, ok := t.Find(i)
	if !ok {
		var zero V
		return zero, false
	}
	return t.runs[r].Value, true
}

// Cursor returns a cursor positioned on the first run.
func (t *RunTable[V]) Cursor() *Cursor[V] {
	return &Cursor[V]{t: t}
}

// Cursor remembers the last run it landed on so that increasing seeks
// cost O(1) amortized. Seeking backwards falls back to a binary search.
// A Cursor is not safe for concurrent use.
type Cursor[V any] struct {
	t   *RunTable[V]
	run int
}

// Seek moves to the run holding the 0-based sample i and returns its index.
func (c *Cursor[V]) Seek(i uint64) (int, bool) {
	t := c.t
	if i >= t.total {
		return 0, false
	}
	if c.run >= len(t.runs) || i < t.first[c.run] {
		c.run, _ = t.Find(i)
		return c.run, true
	}
	for i >= t.first[c.run]+t.runs[c.run].Count {
		c.run++
	}
	return c.run, true
}

// Value seeks to sample i and returns the value of its run.
func (c *Cursor[V]) Value(i uint64) (V, bool) {
	r, ok := c.Seek(i)
	if !ok {
		var zero V
		return zero, false
	}
	return c.t.runs[r].Value, true
}
