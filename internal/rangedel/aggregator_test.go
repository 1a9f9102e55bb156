// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package rangedel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lsmkit/compactcore/internal/base"
)

func TestAggregatorShouldDelete(t *testing.T) {
	a := NewAggregator(base.DefaultCompare)
	a.AddTombstone(base.MakeInternalKey(base.UserKey("a"), 50, base.InternalKeyKindRangeDelete), []byte("m"))

	// g < m, seq 30 <= 50: covered.
	require.True(t, a.ShouldDelete([]byte("g"), 30, ForCompaction))
	// m is the exclusive end: not covered (S6 boundary behavior).
	require.False(t, a.ShouldDelete([]byte("m"), 31, ForCompaction))
	// Newer than the tombstone: not covered.
	require.False(t, a.ShouldDelete([]byte("g"), 60, ForCompaction))
	// Before the start: not covered.
	require.False(t, a.ShouldDelete([]byte("0"), 10, ForCompaction))
}

func TestAggregatorOverlappingFragmentation(t *testing.T) {
	// [a,e)#1 and [c,g)#2 fragment into [a,c)#1, [c,e)#{2,1}, [e,g)#2, per
	// the Fragmenter's doc comment.
	a := NewAggregator(base.DefaultCompare)
	a.AddTombstone(base.MakeInternalKey(base.UserKey("a"), 1, base.InternalKeyKindRangeDelete), []byte("e"))
	a.AddTombstone(base.MakeInternalKey(base.UserKey("c"), 2, base.InternalKeyKindRangeDelete), []byte("g"))

	tombstones := a.Tombstones()
	require.NotEmpty(t, tombstones)

	// [c,e) must be covered by both stripes: seq 1 and seq 2 both apply.
	require.True(t, a.ShouldDelete([]byte("d"), 1, ForCompaction))
	require.True(t, a.ShouldDelete([]byte("d"), 2, ForCompaction))
	require.False(t, a.ShouldDelete([]byte("d"), 3, ForCompaction))

	// [a,c) is only covered by seq 1.
	require.True(t, a.ShouldDelete([]byte("b"), 1, ForCompaction))
	require.False(t, a.ShouldDelete([]byte("b"), 2, ForCompaction))

	// [e,g) carries only the seq 2 stripe, which covers records at seq 2
	// and below.
	require.True(t, a.ShouldDelete([]byte("f"), 2, ForCompaction))
	require.True(t, a.ShouldDelete([]byte("f"), 1, ForCompaction))
}

func TestAggregatorSerializeForOutputElidesAtBottommost(t *testing.T) {
	a := NewAggregator(base.DefaultCompare)
	a.AddTombstone(base.MakeInternalKey(base.UserKey("a"), 50, base.InternalKeyKindRangeDelete), []byte("m"))

	notBottommost := a.SerializeForOutput(false, nil)
	require.Len(t, notBottommost, 1)

	// A tombstone is dropped only when bottommost and the elide predicate
	// says so (§4.B: "not dropped unless the output is the bottommost level
	// relative to all snapshots").
	elideAll := a.SerializeForOutput(true, func(t Tombstone) bool { return true })
	require.Empty(t, elideAll)

	keepAll := a.SerializeForOutput(true, func(t Tombstone) bool { return false })
	require.Len(t, keepAll, 1)

	// The predicate receives the fragment's own sequence number, not just
	// its key bounds, since deciding whether a snapshot still needs a
	// tombstone depends on it (§4.B).
	var sawSeq base.SeqNum
	a.SerializeForOutput(true, func(t Tombstone) bool {
		sawSeq = t.Start.SeqNum()
		return true
	})
	require.Equal(t, base.SeqNum(50), sawSeq)
}

func TestAggregatorEmpty(t *testing.T) {
	a := NewAggregator(base.DefaultCompare)
	require.Empty(t, a.Tombstones())
	require.False(t, a.ShouldDelete([]byte("x"), 1, ForCompaction))
}
