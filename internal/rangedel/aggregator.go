// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package rangedel

import (
	"sort"

	"github.com/lsmkit/compactcore/internal/base"
)

// Aggregator answers "is (user_key, seq) covered by a range tombstone at
// output level L?" (§4.B). It accumulates the union of range tombstones
// observed while scanning a subcompaction's input, fragments them on
// demand, and can serialize the surviving fragments for embedding in an
// output run.
//
// An Aggregator is per-subcompaction (§5, Shared resources): it is
// constructed fresh from the shared set of input tombstones, and is not
// safe for concurrent use.
type Aggregator struct {
	cmp    base.Compare
	frag   Fragmenter
	sorted []Tombstone // fragmented, non-overlapping, sorted by Start.UserKey
	dirty  bool
}

// NewAggregator constructs an Aggregator that fragments tombstones using
// cmp as the user-key comparator.
func NewAggregator(cmp base.Compare) *Aggregator {
	a := &Aggregator{cmp: cmp}
	a.frag.Cmp = cmp
	a.frag.Emit = func(fragment []Tombstone) {
		a.sorted = append(a.sorted, fragment...)
	}
	return a
}

// AddTombstone records a RangeTombstone observed during the input scan.
func (a *Aggregator) AddTombstone(start base.InternalKey, end []byte) {
	a.frag.Add(start, end)
	a.dirty = true
}

func (a *Aggregator) finish() {
	if !a.dirty {
		return
	}
	// Re-fragment the fragments emitted by earlier calls together with the
	// newly added tombstones, so that sorted stays non-overlapping when
	// tombstones arrive after a query.
	prev := a.sorted
	a.sorted = nil
	for _, t := range prev {
		a.frag.Add(t.Start, t.End)
	}
	a.frag.Finish()
	sort.Slice(a.sorted, func(i, j int) bool {
		if c := a.cmp(a.sorted[i].Start.UserKey, a.sorted[j].Start.UserKey); c != 0 {
			return c < 0
		}
		return a.sorted[i].Start.SeqNum() > a.sorted[j].Start.SeqNum()
	})
	a.dirty = false
}

// ShouldDelete reports whether (userKey, seq) is covered by a tombstone
// whose sequence number is at least seq. mode is accepted for interface symmetry with callers that
// distinguish kForCompaction from kForReadTree; the core always evaluates
// against every tombstone it has been given regardless of mode, since the
// caller is responsible for only constructing the Aggregator with
// level-appropriate tombstones.
func (a *Aggregator) ShouldDelete(userKey []byte, seq base.SeqNum, _ Mode) bool {
	a.finish()
	idx := sort.Search(len(a.sorted), func(i int) bool {
		return a.cmp(a.sorted[i].Start.UserKey, userKey) > 0
	})
	// Walk backwards over fragments starting at or before userKey; because
	// fragments are non-overlapping, at most a contiguous run can cover it
	// (multiple stripes of the same [start,end) span appear consecutively).
	for i := idx - 1; i >= 0; i-- {
		t := a.sorted[i]
		if a.cmp(userKey, t.End) >= 0 {
			// t's span doesn't reach userKey, and since fragments are
			// sorted and non-overlapping, none before it will either
			// once we've walked past the containing span.
			break
		}
		if t.Covers(seq) {
			return true
		}
	}
	return false
}

// Tombstones returns the fully fragmented, sorted tombstone set. Intended
// for tests and for SerializeForOutput.
func (a *Aggregator) Tombstones() []Tombstone {
	a.finish()
	return a.sorted
}

// SerializeForOutput produces the range tombstones that should be embedded
// in the output run for level. A tombstone is only dropped when the output
// is the bottommost level relative to all snapshots; isBottommost
// encapsulates that decision since it depends on information (snapshot
// list, level topology) the Aggregator itself does not own. elide is
// consulted per fragment, and receives the whole Tombstone (not just its
// key bounds) since a caller needs the fragment's own sequence number to
// decide whether any open snapshot still needs it (§4.B).
func (a *Aggregator) SerializeForOutput(isBottommost bool, elide func(t Tombstone) bool) []Tombstone {
	a.finish()
	if !isBottommost {
		out := make([]Tombstone, len(a.sorted))
		copy(out, a.sorted)
		return out
	}
	out := make([]Tombstone, 0, len(a.sorted))
	for _, t := range a.sorted {
		if elide != nil && elide(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}
