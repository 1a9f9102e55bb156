// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package job

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lsmkit/compactcore/internal/base"
	"github.com/lsmkit/compactcore/internal/compact"
)

// sliceIter is a fixed InputIterator over a literal slice, matching the
// fakeIter helper used throughout the compact package's own tests.
type sliceIter struct {
	kvs []base.InternalKV
	pos int
}

func (s *sliceIter) First() *base.InternalKV {
	s.pos = 0
	return s.cur()
}
func (s *sliceIter) Next() *base.InternalKV {
	s.pos++
	return s.cur()
}
func (s *sliceIter) cur() *base.InternalKV {
	if s.pos >= len(s.kvs) {
		return nil
	}
	return &s.kvs[s.pos]
}
func (s *sliceIter) Error() error { return nil }

func jkv(userKey string, seq base.SeqNum, kind base.InternalKeyKind, value string) base.InternalKV {
	return base.InternalKV{
		K: base.MakeInternalKey(base.UserKey(userKey), seq, kind),
		V: base.InlineValue([]byte(value)),
	}
}

// fakeBuilder is an in-memory compact.TableBuilder that never rolls early;
// tests control rolling entirely through TargetOutputFileSize.
type fakeBuilder struct {
	entries []base.InternalKV
	size    uint64
}

func (b *fakeBuilder) Add(key base.InternalKey, value base.LazyValue) error {
	b.entries = append(b.entries, base.InternalKV{K: key, V: value})
	raw, err := value.Value()
	if err != nil {
		return err
	}
	b.size += uint64(len(key.UserKey) + len(raw) + 1)
	return nil
}
func (b *fakeBuilder) EstimatedSize() uint64 { return b.size }
func (b *fakeBuilder) Finish() (compact.FileMetadata, error) {
	return compact.FileMetadata{Size: b.size}, nil
}
func (b *fakeBuilder) Abandon() {}

type fakeEditor struct {
	installed bool
	lastDesc  Descriptor
	lastRes   compact.Result
}

func (e *fakeEditor) Install(ctx context.Context, desc Descriptor, result compact.Result) error {
	e.installed = true
	e.lastDesc = desc
	e.lastRes = result
	return nil
}

func baseDescriptor(kvs []base.InternalKV) Descriptor {
	return Descriptor{
		Comparer:             base.DefaultComparer,
		Inputs:               []InputRun{{Level: 0, New: func([]byte) compact.InputIterator { return &sliceIter{kvs: kvs} }}},
		OutputLevel:          6,
		NumberLevels:         7,
		Bottommost:           true,
		TargetOutputFileSize: 1 << 20,
	}
}

func TestJobPrepareSingleSubcompactionByDefault(t *testing.T) {
	j := NewJob(baseDescriptor(nil), func() compact.TableBuilder { return &fakeBuilder{} }, &fakeEditor{}, nil)
	require.NoError(t, j.Prepare(context.Background()))
	require.Len(t, j.bounds, 1)
}

func TestJobRunProducesOutputTable(t *testing.T) {
	kvs := []base.InternalKV{
		jkv("a", 3, base.InternalKeyKindSet, "1"),
		jkv("b", 2, base.InternalKeyKindSet, "2"),
		jkv("c", 1, base.InternalKeyKindSet, "3"),
	}
	desc := baseDescriptor(kvs)
	j := NewJob(desc, func() compact.TableBuilder { return &fakeBuilder{} }, &fakeEditor{}, nil)

	result := j.Run(context.Background())
	require.NoError(t, result.Err)
	require.Len(t, result.Tables, 1)
	require.Equal(t, uint64(3), result.Stats.KeysProcessed)
}

func TestJobRunEmptyInputProducesNoTables(t *testing.T) {
	desc := baseDescriptor(nil)
	j := NewJob(desc, func() compact.TableBuilder { return &fakeBuilder{} }, &fakeEditor{}, nil)
	result := j.Run(context.Background())
	require.NoError(t, result.Err)
	require.Empty(t, result.Tables)
}

func TestJobInstallSkippedOnFailure(t *testing.T) {
	editor := &fakeEditor{}
	j := NewJob(baseDescriptor(nil), func() compact.TableBuilder { return &fakeBuilder{} }, editor, nil)
	err := j.Install(context.Background(), compact.Result{}.WithError(base.ErrIncomplete))
	require.Error(t, err)
	require.False(t, editor.installed)
}

func TestJobInstallSucceeds(t *testing.T) {
	editor := &fakeEditor{}
	kvs := []base.InternalKV{jkv("a", 1, base.InternalKeyKindSet, "1")}
	desc := baseDescriptor(kvs)
	j := NewJob(desc, func() compact.TableBuilder { return &fakeBuilder{} }, editor, nil)
	result := j.Run(context.Background())
	require.NoError(t, j.Install(context.Background(), result))
	require.True(t, editor.installed)
	require.Len(t, editor.lastRes.Tables, 1)
}

func TestJobMergeOperandsAcrossInputRuns(t *testing.T) {
	// Two input runs each contributing a Set for the same user key at
	// different sequence numbers; the merging iterator must interleave them
	// in InternalKey order so the compaction iterator sees only the newest.
	run1 := []base.InternalKV{jkv("k", 5, base.InternalKeyKindSet, "new")}
	run2 := []base.InternalKV{jkv("k", 1, base.InternalKeyKindSet, "old")}
	desc := Descriptor{
		Comparer: base.DefaultComparer,
		Inputs: []InputRun{
			{Level: 0, New: func([]byte) compact.InputIterator { return &sliceIter{kvs: run1} }},
			{Level: 1, New: func([]byte) compact.InputIterator { return &sliceIter{kvs: run2} }},
		},
		OutputLevel:          6,
		NumberLevels:         7,
		Bottommost:           true,
		TargetOutputFileSize: 1 << 20,
	}
	j := NewJob(desc, func() compact.TableBuilder { return &fakeBuilder{} }, &fakeEditor{}, nil)
	result := j.Run(context.Background())
	require.NoError(t, result.Err)
	require.Len(t, result.Tables, 1)
	require.Len(t, result.Tables[0].BlobFileNums, 0)
}

func TestJobVerifySkippedOnFailedRun(t *testing.T) {
	j := NewJob(baseDescriptor(nil), func() compact.TableBuilder { return &fakeBuilder{} }, &fakeEditor{}, nil)
	err := j.Verify(context.Background(), compact.Result{}.WithError(base.ErrIncomplete))
	require.Error(t, err)
}

func TestJobVerifyPassesWithoutTableVerifier(t *testing.T) {
	kvs := []base.InternalKV{jkv("a", 1, base.InternalKeyKindSet, "1")}
	desc := baseDescriptor(kvs)
	j := NewJob(desc, func() compact.TableBuilder { return &fakeBuilder{} }, &fakeEditor{}, nil)
	result := j.Run(context.Background())
	require.NoError(t, j.Verify(context.Background(), result))
}

type recordingVerifier struct {
	seen []compact.FileMetadata
	err  error
}

func (v *recordingVerifier) VerifyTable(ctx context.Context, meta compact.FileMetadata) error {
	v.seen = append(v.seen, meta)
	return v.err
}

func TestJobVerifyInvokesTableVerifier(t *testing.T) {
	kvs := []base.InternalKV{jkv("a", 1, base.InternalKeyKindSet, "1")}
	desc := baseDescriptor(kvs)
	desc.TableVerifier = &recordingVerifier{}
	j := NewJob(desc, func() compact.TableBuilder { return &fakeBuilder{} }, &fakeEditor{}, nil)
	result := j.Run(context.Background())
	require.NoError(t, j.Verify(context.Background(), result))
	require.Len(t, desc.TableVerifier.(*recordingVerifier).seen, 1)
}

func TestJobVerifyPropagatesTableVerifierError(t *testing.T) {
	kvs := []base.InternalKV{jkv("a", 1, base.InternalKeyKindSet, "1")}
	desc := baseDescriptor(kvs)
	desc.TableVerifier = &recordingVerifier{err: base.ErrIncomplete}
	j := NewJob(desc, func() compact.TableBuilder { return &fakeBuilder{} }, &fakeEditor{}, nil)
	result := j.Run(context.Background())
	require.Error(t, j.Verify(context.Background(), result))
}
