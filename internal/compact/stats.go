// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package compact

// Stats accumulates counters the CompactionIterator maintains as it scans,
// surfaced to the Runner and ultimately aggregated by the CompactionJob
// (§4.G, Phase 4 Install).
type Stats struct {
	KeysProcessed       uint64
	KeysElided          uint64
	TombstonesElided    uint64
	MergesResolved      uint64
	MergeChainsUnresolved uint64
	ValuesSeparated     uint64
	ValuesCombined      uint64
	ValuesRebuilt       uint64
	SeqNumsZeroed       uint64
	SnapshotPinnedKeys  uint64
}

// OccurrenceEvent describes a single new-user-key-group transition, the
// observability hook surfaced per Design Notes §9 for downstream hotness
// tracking. It is emitted once per UserKey group, not once per record.
type OccurrenceEvent struct {
	UserKey     []byte
	SeqNum      uint64
	HasBlobFile bool
	BlobFileNum uint64
}
