// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package job

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lsmkit/compactcore/blob"
	"github.com/lsmkit/compactcore/internal/base"
)

type gcMemWritable struct {
	bytes.Buffer
}

func (gcMemWritable) Sync() error { return nil }

func newGCObjectFunc(t *testing.T) (blob.NewObjectFunc, map[uint64]*gcMemWritable) {
	t.Helper()
	writables := make(map[uint64]*gcMemWritable)
	var next uint64 = 900
	return func(hint blob.PlacementHint, ancestors []uint64) (uint64, blob.Writable, error) {
		fileNum := next
		next++
		w := &gcMemWritable{}
		writables[fileNum] = w
		return fileNum, w, nil
	}, writables
}

type fakeFetcher struct {
	values map[base.BlobHandle][]byte
}

func (f *fakeFetcher) Fetch(h base.BlobHandle) ([]byte, error) {
	v, ok := f.values[h]
	if !ok {
		return nil, base.NewCorruptionError("gc_test: no value for handle %+v", h)
	}
	return v, nil
}

type fakeLiveness struct {
	live map[base.BlobHandle]bool
}

func (f *fakeLiveness) IsLive(h base.BlobHandle) (bool, error) { return f.live[h], nil }

type fakeHotness struct{}

func (fakeHotness) Classify(userKey []byte, value []byte) blob.PlacementHint {
	if len(value) > 4 {
		return blob.HintHot
	}
	return blob.HintCold
}

func TestRunGCNonPartitionedNoLookbackRewritesEverythingBelowCutoff(t *testing.T) {
	h1 := base.BlobHandle{FileNum: 1, Offset: 0, Size: 5}
	h2 := base.BlobHandle{FileNum: 10, Offset: 0, Size: 5}
	fetch := &fakeFetcher{values: map[base.BlobHandle][]byte{
		h1: []byte("aaaaa"),
	}}
	newObject, _ := newGCObjectFunc(t)

	plan := GCPlan{Discipline: GCNonPartitionedNoLookback, CutoffFileNum: 5}
	inputs := []GCInput{
		{Key: base.MakeInternalKey(base.UserKey("a"), 1, base.InternalKeyKindSet), Handle: h1},
		{Key: base.MakeInternalKey(base.UserKey("b"), 1, base.InternalKeyKindSet), Handle: h2},
	}
	res := RunGC(context.Background(), plan, inputs, fetch, newObject)
	require.NoError(t, res.Err)
	require.Len(t, res.Rewritten, 1)
	newHandle, ok := res.Rewritten[h1]
	require.True(t, ok)
	require.NotEqual(t, h1.FileNum, newHandle.FileNum)
	require.Len(t, res.Blobs, 1)
}

func TestRunGCNonPartitionedLookbackDropsDeadIndirections(t *testing.T) {
	h1 := base.BlobHandle{FileNum: 1, Offset: 0, Size: 5}
	h2 := base.BlobHandle{FileNum: 2, Offset: 0, Size: 5}
	fetch := &fakeFetcher{values: map[base.BlobHandle][]byte{
		h1: []byte("alive"),
		h2: []byte("dead!"),
	}}
	newObject, _ := newGCObjectFunc(t)
	liveness := &fakeLiveness{live: map[base.BlobHandle]bool{h1: true, h2: false}}

	plan := GCPlan{Discipline: GCNonPartitionedLookback, CutoffFileNum: 100, Liveness: liveness}
	inputs := []GCInput{
		{Key: base.MakeInternalKey(base.UserKey("a"), 1, base.InternalKeyKindSet), Handle: h1},
		{Key: base.MakeInternalKey(base.UserKey("b"), 1, base.InternalKeyKindSet), Handle: h2},
	}
	res := RunGC(context.Background(), plan, inputs, fetch, newObject)
	require.NoError(t, res.Err)
	require.Len(t, res.Rewritten, 1)
	_, ok := res.Rewritten[h1]
	require.True(t, ok)
	_, ok = res.Rewritten[h2]
	require.False(t, ok)
}

func TestRunGCNonPartitionedLookbackRequiresLivenessChecker(t *testing.T) {
	newObject, _ := newGCObjectFunc(t)
	plan := GCPlan{Discipline: GCNonPartitionedLookback, CutoffFileNum: 100}
	inputs := []GCInput{{Key: base.MakeInternalKey(base.UserKey("a"), 1, base.InternalKeyKindSet),
		Handle: base.BlobHandle{FileNum: 1}}}
	res := RunGC(context.Background(), plan, inputs, &fakeFetcher{}, newObject)
	require.Error(t, res.Err)
}

func TestRunGCPartitionedTriagedClassifiesByHotness(t *testing.T) {
	hHot := base.BlobHandle{FileNum: 1, Offset: 0, Size: 5}
	hCold := base.BlobHandle{FileNum: 2, Offset: 0, Size: 5}
	fetch := &fakeFetcher{values: map[base.BlobHandle][]byte{
		hHot:  []byte("longvalue"),
		hCold: []byte("sm"),
	}}
	newObject, writables := newGCObjectFunc(t)
	plan := GCPlan{Discipline: GCPartitionedTriaged, CutoffFileNum: 100, Hotness: fakeHotness{}}
	inputs := []GCInput{
		{Key: base.MakeInternalKey(base.UserKey("a"), 1, base.InternalKeyKindSet), Handle: hHot},
		{Key: base.MakeInternalKey(base.UserKey("b"), 1, base.InternalKeyKindSet), Handle: hCold},
	}
	res := RunGC(context.Background(), plan, inputs, fetch, newObject)
	require.NoError(t, res.Err)
	require.Len(t, res.Rewritten, 2)
	require.Len(t, res.Blobs, 2)
	require.Len(t, writables, 2)
}

func TestRunGCPartitionedTriagedRequiresHotnessOracle(t *testing.T) {
	newObject, _ := newGCObjectFunc(t)
	plan := GCPlan{Discipline: GCPartitionedTriaged, CutoffFileNum: 100}
	inputs := []GCInput{{Key: base.MakeInternalKey(base.UserKey("a"), 1, base.InternalKeyKindSet),
		Handle: base.BlobHandle{FileNum: 1}}}
	res := RunGC(context.Background(), plan, inputs, &fakeFetcher{values: map[base.BlobHandle][]byte{
		{FileNum: 1}: []byte("v"),
	}}, newObject)
	require.Error(t, res.Err)
}

func TestRunGCSkipsIndirectionsAtOrAboveCutoff(t *testing.T) {
	h := base.BlobHandle{FileNum: 50}
	newObject, _ := newGCObjectFunc(t)
	plan := GCPlan{Discipline: GCNonPartitionedNoLookback, CutoffFileNum: 50}
	inputs := []GCInput{{Key: base.MakeInternalKey(base.UserKey("a"), 1, base.InternalKeyKindSet), Handle: h}}
	res := RunGC(context.Background(), plan, inputs, &fakeFetcher{}, newObject)
	require.NoError(t, res.Err)
	require.Empty(t, res.Rewritten)
	require.Empty(t, res.Blobs)
}

func TestRunGCRespectsContextCancellation(t *testing.T) {
	newObject, _ := newGCObjectFunc(t)
	plan := GCPlan{Discipline: GCNonPartitionedNoLookback, CutoffFileNum: 100}
	inputs := []GCInput{{Key: base.MakeInternalKey(base.UserKey("a"), 1, base.InternalKeyKindSet),
		Handle: base.BlobHandle{FileNum: 1}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := RunGC(ctx, plan, inputs, &fakeFetcher{}, newObject)
	require.ErrorIs(t, res.Err, base.ErrShutdownInProgress)
}
