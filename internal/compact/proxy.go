// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package compact

// Proxy is the small capability set a CompactionIterator needs from the
// surrounding compaction descriptor, re-expressed from the source's virtual
// CompactionProxy base class as an interface (Design Notes, §9). It has two
// concrete implementations: jobProxy (backed by a real compaction
// descriptor, owned by the job package) and TestProxy (a synthetic
// implementation for unit tests).
type Proxy interface {
	// Level is the compaction's output level.
	Level() int
	// BottommostLevel reports whether the output level is the lowest level
	// at which this user-key range exists in the LSM.
	BottommostLevel() bool
	// NumberLevels is the total number of levels in the LSM, sizing the
	// level_ptrs optimization (Design Notes, §9).
	NumberLevels() int
	// LargestUserKey bounds the output level for this compaction.
	LargestUserKey() []byte
	// AllowIngestBehind reports whether this compaction reserves the
	// bottommost level for externally ingested files.
	AllowIngestBehind() bool
	// PreserveDeletes reports whether tombstones at or above
	// PreserveDeletesSeqNum must survive regardless of visibility.
	PreserveDeletes() bool
	// KeyNotExistsBeyondOutputLevel reports whether userKey provably does
	// not exist in any level below the compaction's output level.
	// levelPtrs is the caller-owned, per-iterator amortization state
	// (Design Notes, §9): implementations may update it in place, relying
	// on the guarantee that user keys within a subcompaction are presented
	// in non-decreasing order across calls.
	KeyNotExistsBeyondOutputLevel(userKey []byte, levelPtrs []int) bool
}

// TestProxy is a directly configurable Proxy for unit tests, the "test"
// variant called out in Design Notes §9.
type TestProxy struct {
	Level_           int
	Bottommost       bool
	NumLevels        int
	Largest          []byte
	IngestBehind     bool
	Preserve         bool
	KeyNotExistsFunc func(userKey []byte, levelPtrs []int) bool
}

var _ Proxy = (*TestProxy)(nil)

func (p *TestProxy) Level() int                 { return p.Level_ }
func (p *TestProxy) BottommostLevel() bool      { return p.Bottommost }
func (p *TestProxy) NumberLevels() int          { return p.NumLevels }
func (p *TestProxy) LargestUserKey() []byte     { return p.Largest }
func (p *TestProxy) AllowIngestBehind() bool    { return p.IngestBehind }
func (p *TestProxy) PreserveDeletes() bool      { return p.Preserve }
func (p *TestProxy) KeyNotExistsBeyondOutputLevel(userKey []byte, levelPtrs []int) bool {
	if p.KeyNotExistsFunc == nil {
		return p.Bottommost
	}
	return p.KeyNotExistsFunc(userKey, levelPtrs)
}
