// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package compact

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lsmkit/compactcore/internal/base"
)

// fakeIter is a fixed, in-memory InputIterator built from a literal slice of
// records, matching the teacher's own fakeIter helper used throughout its
// compaction iterator tests.
type fakeIter struct {
	kvs []base.InternalKV
	pos int
	err error
}

func (f *fakeIter) First() *base.InternalKV {
	f.pos = 0
	return f.cur()
}

func (f *fakeIter) Next() *base.InternalKV {
	f.pos++
	return f.cur()
}

func (f *fakeIter) cur() *base.InternalKV {
	if f.pos >= len(f.kvs) {
		return nil
	}
	return &f.kvs[f.pos]
}

func (f *fakeIter) Error() error { return f.err }

func kv(userKey string, seq base.SeqNum, kind base.InternalKeyKind, value string) base.InternalKV {
	return base.InternalKV{
		K: base.MakeInternalKey(base.UserKey(userKey), seq, kind),
		V: base.InlineValue([]byte(value)),
	}
}

// drain runs it to completion and returns every surviving record as
// (userKey, seq, kind, value) tuples for easy assertion.
type survivor struct {
	key   string
	seq   base.SeqNum
	kind  base.InternalKeyKind
	value string
}

func drain(t *testing.T, it *Iter) []survivor {
	t.Helper()
	var out []survivor
	for ok := it.SeekToFirst(); ok; ok = it.Next() {
		v, err := it.Value().Value()
		require.NoError(t, err)
		out = append(out, survivor{
			key:   string(it.UserKey()),
			seq:   it.Key().SeqNum(),
			kind:  it.Key().Kind(),
			value: string(v),
		})
	}
	require.NoError(t, it.Status())
	return out
}

func newTestIter(t *testing.T, kvs []base.InternalKV, opts func(*Config)) *Iter {
	t.Helper()
	cfg := Config{
		Comparer: base.DefaultComparer,
		Input:    &fakeIter{kvs: kvs},
		Proxy:    &TestProxy{Bottommost: true, NumLevels: 7},
	}
	if opts != nil {
		opts(&cfg)
	}
	return NewIter(cfg)
}

// The tombstone/filter/merge/snapshot scenarios S1-S4 and S6 that used to
// live here as plain table tests now live in runner_test.go, driven
// through datadriven against testdata/runner_scenarios so it exercises the
// full Iter+Runner pipeline the way a real subcompaction does rather than
// the iterator in isolation.

type addMerger struct {
	total int
}

func (m *addMerger) MergeOlder(value []byte) error {
	m.total += atoiT(value)
	return nil
}

func (m *addMerger) Finish(includesBase bool) ([]byte, error) {
	return []byte(itoaT(m.total)), nil
}

func atoiT(b []byte) int {
	neg := false
	s := string(b)
	if len(s) > 0 && s[0] == '+' {
		s = s[1:]
	} else if len(s) > 0 && s[0] == '-' {
		neg = true
		s = s[1:]
	}
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	if neg {
		return -n
	}
	return n
}

func itoaT(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf []byte
	for n > 0 {
		buf = append([]byte{byte('0' + n%10)}, buf...)
		n /= 10
	}
	if neg {
		buf = append([]byte{'-'}, buf...)
	}
	return string(buf)
}

func addMerge(key, newestValue []byte) (ValueMerger, error) {
	m := &addMerger{total: atoiT(newestValue)}
	return m, nil
}

// Merge with no operator configured is fatal (§4.C, §7).
func TestMergeWithoutOperatorIsFatal(t *testing.T) {
	kvs := []base.InternalKV{
		kv("k", 1, base.InternalKeyKindMerge, "+1"),
	}
	it := newTestIter(t, kvs, nil)
	ok := it.SeekToFirst()
	require.False(t, ok)
	require.ErrorIs(t, it.Status(), base.ErrMergeOperatorNotSupported)
}

// Empty input produces empty output with OK status (§8, Boundary behaviors).
func TestEmptyInput(t *testing.T) {
	it := newTestIter(t, nil, nil)
	got := drain(t, it)
	require.Empty(t, got)
	require.NoError(t, it.Status())
}

// A floating SingleDelete (no matching Put follows) must be emitted
// unchanged.
func TestFloatingSingleDeleteEmittedUnchanged(t *testing.T) {
	kvs := []base.InternalKV{
		kv("k", 10, base.InternalKeyKindSingleDelete, ""),
		kv("other", 5, base.InternalKeyKindSet, "v"),
	}
	it := newTestIter(t, kvs, func(c *Config) {
		// Disable the seqnum-zeroing path so this test asserts only the
		// SingleDelete float behavior, not the unrelated zeroing rule.
		c.Proxy = &TestProxy{Bottommost: false, NumLevels: 7}
	})
	got := drain(t, it)
	require.Equal(t, []survivor{
		{"k", 10, base.InternalKeyKindSingleDelete, ""},
		{"other", 5, base.InternalKeyKindSet, "v"},
	}, got)
}

// A SingleDelete followed by a Put in a *different* snapshot bucket must
// not be collapsed (§4.E).
func TestSingleDeleteAcrossSnapshotBoundaryNotCollapsed(t *testing.T) {
	kvs := []base.InternalKV{
		kv("k", 30, base.InternalKeyKindSingleDelete, ""),
		kv("k", 10, base.InternalKeyKindSet, "v"),
	}
	it := newTestIter(t, kvs, func(c *Config) {
		c.Snapshots = Snapshots{20}
	})
	got := drain(t, it)
	require.Equal(t, []survivor{
		{"k", 30, base.InternalKeyKindSingleDelete, ""},
		{"k", 10, base.InternalKeyKindSet, "v"},
	}, got)
}

// Delete at bottommost with no data beyond the output level is elided.
func TestDeleteElidedAtBottommost(t *testing.T) {
	kvs := []base.InternalKV{
		kv("k", 10, base.InternalKeyKindDelete, ""),
	}
	it := newTestIter(t, kvs, func(c *Config) {
		c.Proxy = &TestProxy{Bottommost: true, NumLevels: 7, KeyNotExistsFunc: func([]byte, []int) bool { return true }}
	})
	got := drain(t, it)
	require.Empty(t, got)
}

// preserve_deletes retains a tombstone even when it would otherwise be
// elided (§4.E, Incremental-snapshot retention).
func TestPreserveDeletesRetainsTombstone(t *testing.T) {
	kvs := []base.InternalKV{
		kv("k", 10, base.InternalKeyKindDelete, ""),
	}
	it := newTestIter(t, kvs, func(c *Config) {
		c.PreserveDeletesSeqNum = 5
		c.Proxy = &TestProxy{Bottommost: true, NumLevels: 7, Preserve: true, KeyNotExistsFunc: func([]byte, []int) bool { return true }}
	})
	got := drain(t, it)
	require.Equal(t, []survivor{{"k", 10, base.InternalKeyKindDelete, ""}}, got)
}

type filterFunc func(level int, userKey []byte, kind base.InternalKeyKind, existing []byte) (FilterResult, error)

func (f filterFunc) FilterV3(level int, userKey []byte, kind base.InternalKeyKind, existing []byte) (FilterResult, error) {
	return f(level, userKey, kind, existing)
}
