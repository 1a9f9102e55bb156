// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package rangedel

import (
	"sort"

	"github.com/lsmkit/compactcore/internal/base"
)

// Fragmenter splits a set of possibly-overlapping range tombstones into
// non-overlapping fragments at every distinct boundary point, then emits
// each fragment's covering stripe (newest-to-oldest by sequence number) to
// Emit. This reproduces the splitting behavior documented on compactionIter
// for two overlapping tombstones [a,e)#1 and [c,g)#2, which fragment into
// [a,c)#1, [c,e)#{2,1}, [e,g)#2.
//
// The fragmenter buffers all Add calls until FlushTo/Finish is called; it is
// not a streaming algorithm, trading memory for simplicity since a single
// subcompaction's tombstone set is expected to be small relative to its
// point-key volume.
type Fragmenter struct {
	Cmp  base.Compare
	Emit func(fragment []Tombstone)

	pending []base.InternalKey // Start keys
	ends    [][]byte
}

// Add records a raw (possibly overlapping) range tombstone.
func (f *Fragmenter) Add(start base.InternalKey, end []byte) {
	f.pending = append(f.pending, start)
	f.ends = append(f.ends, end)
}

// Empty reports whether any tombstones have been buffered.
func (f *Fragmenter) Empty() bool {
	return len(f.pending) == 0
}

// FlushTo fragments and emits all buffered tombstones that start strictly
// before splitKey, leaving any tombstone extending past splitKey buffered
// (re-added, truncated) for the next call. The Runner does not call it: it
// embeds a subcompaction's tombstones in its final table only.
func (f *Fragmenter) FlushTo(splitKey []byte) {
	f.flush(splitKey, true)
}

// Finish fragments and emits everything remaining.
func (f *Fragmenter) Finish() {
	f.flush(nil, false)
}

func (f *Fragmenter) flush(splitKey []byte, hasSplit bool) {
	if len(f.pending) == 0 {
		return
	}
	type rawTombstone struct {
		start base.InternalKey
		end   []byte
	}
	raw := make([]rawTombstone, len(f.pending))
	for i := range f.pending {
		raw[i] = rawTombstone{start: f.pending[i], end: f.ends[i]}
	}
	f.pending = f.pending[:0]
	f.ends = f.ends[:0]

	// Collect every distinct boundary point across all tombstones.
	boundarySet := make(map[string][]byte)
	addBoundary := func(k []byte) {
		boundarySet[string(k)] = k
	}
	for _, t := range raw {
		addBoundary(t.start.UserKey)
		addBoundary(t.end)
	}
	if hasSplit {
		addBoundary(splitKey)
	}
	boundaries := make([][]byte, 0, len(boundarySet))
	for _, k := range boundarySet {
		boundaries = append(boundaries, k)
	}
	sort.Slice(boundaries, func(i, j int) bool { return f.Cmp(boundaries[i], boundaries[j]) < 0 })

	var leftover []rawTombstone
	for i := 0; i < len(boundaries)-1; i++ {
		lo, hi := boundaries[i], boundaries[i+1]
		if hasSplit && f.Cmp(lo, splitKey) >= 0 {
			// Everything from here on belongs to the next flush.
			for _, t := range raw {
				if f.Cmp(t.start.UserKey, splitKey) < 0 && f.Cmp(splitKey, t.end) < 0 {
					leftover = append(leftover, rawTombstone{
						start: base.MakeInternalKey(splitKey, t.start.SeqNum(), t.start.Kind()),
						end:   t.end,
					})
				} else if f.Cmp(t.start.UserKey, splitKey) >= 0 {
					leftover = append(leftover, t)
				}
			}
			break
		}
		var covering []base.InternalKey
		for _, t := range raw {
			if f.Cmp(t.start.UserKey, lo) <= 0 && f.Cmp(hi, t.end) <= 0 {
				covering = append(covering, t.start)
			}
		}
		if len(covering) == 0 {
			continue
		}
		sort.Slice(covering, func(a, b int) bool { return covering[a].SeqNum() > covering[b].SeqNum() })
		frags := make([]Tombstone, len(covering))
		for j, s := range covering {
			frags[j] = Tombstone{Start: base.MakeInternalKey(lo, s.SeqNum(), s.Kind()), End: hi}
		}
		f.Emit(frags)
	}
	f.pending = append(f.pending, func() []base.InternalKey {
		r := make([]base.InternalKey, len(leftover))
		for i, t := range leftover {
			r[i] = t.start
		}
		return r
	}()...)
	for _, t := range leftover {
		f.ends = append(f.ends, t.end)
	}
}
