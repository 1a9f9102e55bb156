// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package compact

import "github.com/lsmkit/compactcore/internal/base"

// InputIterator is the merged, sequence-ordered stream of internal records
// the CompactionIterator consumes (§6, Input iterator contract). It must be
// forward-only and present the invariant from §3: within a UserKey group,
// the highest-sequence record appears first.
type InputIterator interface {
	// First positions the iterator at the first record, or returns nil if
	// the input is empty.
	First() *base.InternalKV
	// Next advances to and returns the next record, or nil at end of input.
	Next() *base.InternalKV
	// Error returns any error encountered while reading the input, checked
	// after First/Next returns nil.
	Error() error
}

// ValueSeparation is the narrow view of the ValueSeparationStore (§4.D) the
// iterator needs to apply Separate/Combine/Rebuild to a single record. It
// is typically a *blob.Bound.
type ValueSeparation interface {
	ShouldSeparate(key, value []byte) bool
	NeedsRebuild(h base.BlobHandle) bool
	Separate(value []byte) (base.BlobHandle, error)
	Combine(h base.BlobHandle) ([]byte, error)
	Rebuild(h base.BlobHandle, value []byte) (base.BlobHandle, error)
}

// NoSeparation is a ValueSeparation that never separates or rebuilds
// values, used when a store has value separation disabled entirely.
type NoSeparation struct{}

func (NoSeparation) ShouldSeparate(key, value []byte) bool          { return false }
func (NoSeparation) NeedsRebuild(h base.BlobHandle) bool            { return false }
func (NoSeparation) Separate(value []byte) (base.BlobHandle, error) { return base.BlobHandle{}, nil }
func (NoSeparation) Combine(h base.BlobHandle) ([]byte, error)      { return nil, nil }
func (NoSeparation) Rebuild(h base.BlobHandle, value []byte) (base.BlobHandle, error) {
	return base.BlobHandle{}, nil
}
