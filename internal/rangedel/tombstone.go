// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package rangedel implements the RangeDelAggregator (§4.B): fragmentation,
// coverage queries and serialization of range tombstones observed during a
// compaction.
package rangedel

import "github.com/lsmkit/compactcore/internal/base"

// Tombstone is a single fragment of a RangeTombstone: all user keys in
// [Start.UserKey, End) whose sequence number is <= Start.SeqNum() are
// covered. Start carries the sequence number in its trailer so a slice of
// Tombstone sharing the same [Start.UserKey, End) bounds but different
// stripes sorts naturally by descending sequence number, mirroring
// InternalKey ordering.
type Tombstone struct {
	Start base.InternalKey
	End   []byte
}

// Empty reports whether the tombstone covers no keys.
func (t Tombstone) Empty() bool {
	return len(t.Start.UserKey) == 0 && len(t.End) == 0
}

// Covers reports whether the tombstone's sequence number would shadow a
// record at seq, i.e. the tombstone is at least as new.
func (t Tombstone) Covers(seq base.SeqNum) bool {
	return seq <= t.Start.SeqNum()
}

// Mode selects the coverage semantics a RangeDelAggregator query is
// evaluated under (§4.B).
type Mode int

const (
	// ForCompaction evaluates coverage against the tombstones visible to a
	// compaction at its output level, used to decide whether a point record
	// can be elided.
	ForCompaction Mode = iota
	// ForReadTree evaluates coverage as a live read would see it, ignoring
	// whether the tombstone's level is reachable from a compaction's output.
	ForReadTree
)
