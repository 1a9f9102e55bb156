// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package job

import (
	"container/heap"

	"github.com/lsmkit/compactcore/internal/base"
	"github.com/lsmkit/compactcore/internal/compact"
)

// mergingIter merges several sorted InputIterators (one per input run, §6
// Input iterator contract) into the single strictly-ordered stream a
// CompactionIterator requires (§3, Invariants). It mirrors the role of the
// teacher's merging_iter.go, but a min-heap over the small number of input
// runs in a single subcompaction (typically single digits) is simpler than
// the teacher's specialized two/three-way fast paths and is adequate at
// this scale.
type mergingIter struct {
	cmp  base.Compare
	h    mergeHeap
	err  error
	item *mergeItem
}

type mergeItem struct {
	run compact.InputIterator
	kv  *base.InternalKV
}

type mergeHeap struct {
	cmp   base.Compare
	items []*mergeItem
}

func (h mergeHeap) Len() int { return len(h.items) }
func (h mergeHeap) Less(i, j int) bool {
	return base.InternalCompare(h.cmp, h.items[i].kv.K, h.items[j].kv.K) < 0
}
func (h mergeHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *mergeHeap) Push(x any)   { h.items = append(h.items, x.(*mergeItem)) }
func (h *mergeHeap) Pop() any {
	n := len(h.items)
	it := h.items[n-1]
	h.items = h.items[:n-1]
	return it
}

// newMergingIter constructs a mergingIter over runs, calling First on each
// to prime the heap.
func newMergingIter(cmp base.Compare, runs []compact.InputIterator) *mergingIter {
	m := &mergingIter{cmp: cmp, h: mergeHeap{cmp: cmp}}
	for _, run := range runs {
		kv := run.First()
		if kv == nil {
			if err := run.Error(); err != nil {
				m.err = err
			}
			continue
		}
		heap.Push(&m.h, &mergeItem{run: run, kv: kv})
	}
	return m
}

var _ compact.InputIterator = (*mergingIter)(nil)

func (m *mergingIter) First() *base.InternalKV {
	if m.err != nil || m.h.Len() == 0 {
		return nil
	}
	item := m.h.items[0]
	m.item = item
	return item.kv
}

// Next advances the winning run and re-establishes the heap invariant,
// returning the new overall minimum.
func (m *mergingIter) Next() *base.InternalKV {
	if m.err != nil {
		return nil
	}
	if m.item != nil {
		next := m.item.run.Next()
		if next == nil {
			if err := m.item.run.Error(); err != nil {
				m.err = err
				return nil
			}
			heap.Pop(&m.h)
		} else {
			m.item.kv = next
			heap.Fix(&m.h, 0)
		}
		m.item = nil
	}
	if m.h.Len() == 0 {
		return nil
	}
	item := m.h.items[0]
	m.item = item
	return item.kv
}

func (m *mergingIter) Error() error { return m.err }
