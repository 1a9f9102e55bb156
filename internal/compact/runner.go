// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package compact

import (
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"

	"github.com/lsmkit/compactcore/internal/base"
	"github.com/lsmkit/compactcore/internal/rangedel"
)

// TableBuilder is the Output builder contract (§6): the table/blob-file
// format itself is out of scope for this core, but the Runner needs a
// narrow seam to hand surviving records to whatever builder the embedding
// store supplies.
type TableBuilder interface {
	// Add appends a record to the table under construction.
	Add(key base.InternalKey, value base.LazyValue) error
	// EstimatedSize reports the builder's current on-disk size estimate,
	// used by the Runner to decide when to roll to a new table (§4.F).
	EstimatedSize() uint64
	// Finish closes the builder and returns its metadata.
	Finish() (FileMetadata, error)
	// Abandon discards a builder without finishing it, used when a roll is
	// aborted because an error occurred mid-table.
	Abandon()
}

// FileMetadata is what a finished TableBuilder reports back about the table
// it produced.
type FileMetadata struct {
	SmallestKey base.InternalKey
	LargestKey  base.InternalKey
	Size        uint64
	// Checksum is a whole-file integrity tag the Runner computes from the
	// sequence of keys/values it handed to the builder (§4.F, "record
	// expected file checksums"). It is independent of whatever per-block
	// checksum the table format itself may carry.
	Checksum uint64
}

// OutputTable records one data run produced by a Runner (§4.F).
type OutputTable struct {
	CreationTime time.Time
	Meta         FileMetadata
	// BlobFileNums lists every blob file this table's indirections
	// reference, the dependency list §4.F requires every output run to
	// carry.
	BlobFileNums []uint64
	// Tombstones embedded in this table, serialized from the
	// RangeDelAggregator at roll time.
	Tombstones []rangedel.Tombstone
}

// OutputBlob records one blob run produced during the compaction, as
// reported by blob.Store.Finish.
type OutputBlob struct {
	FileNum   uint64
	Size      uint64
	ValueSize uint64
	Ancestors []uint64
}

// Result is the outcome of running a Runner to completion: the tables and
// blobs it produced (valid even on failure, so the caller can clean up
// partial outputs) and an error, if any, combined across every step.
type Result struct {
	Err    error
	Tables []OutputTable
	Blobs  []OutputBlob
	Stats  Stats
}

// WithError returns a Result with err combined into Err, matching the
// teacher's own Result.WithError (internal/compact/run.go): compaction
// errors are accumulated across phases, not overwritten.
func (r Result) WithError(err error) Result {
	return Result{
		Err:    errors.CombineErrors(r.Err, err),
		Tables: r.Tables,
		Blobs:  r.Blobs,
		Stats:  r.Stats,
	}
}

// RunnerConfig bundles the policy a Runner needs to decide when to roll a
// table (§4.F).
type RunnerConfig struct {
	// TargetOutputFileSize is the desired size of a single output table: a
	// table is rolled once the builder's estimated size reaches this value,
	// at the next user-key boundary.
	TargetOutputFileSize uint64
	// UpperBound is the subcompaction's exclusive upper key boundary. No
	// output table may contain a key >= UpperBound.
	UpperBound []byte
	// IsBottommost reports whether the Runner's output level is bottommost,
	// controlling whether SerializeForOutput elides tombstones.
	IsBottommost bool
}

// Runner drives a CompactionIterator to completion across one or more
// output tables, matching the sample usage the teacher documents on its
// own Runner (internal/compact/run.go):
//
//	r := NewRunner(cfg, iter, rdel)
//	for r.MoreDataToWrite() {
//	  r.WriteTable(builder)
//	}
//	result := r.Finish()
type Runner struct {
	cmp  base.Compare
	cfg  RunnerConfig
	iter *Iter
	rdel *rangedel.Aggregator

	kv  *base.InternalKV
	err error

	tables []OutputTable
	stats  Stats
}

// NewRunner constructs a Runner that will drain iter (which must already be
// positioned via SeekToFirst) into one or more tables.
func NewRunner(cfg RunnerConfig, iter *Iter, rdel *rangedel.Aggregator) *Runner {
	r := &Runner{cmp: iter.cmp, cfg: cfg, iter: iter, rdel: rdel}
	if iter.Valid() {
		kv := base.InternalKV{K: iter.Key(), V: iter.Value()}
		r.kv = &kv
	}
	return r
}

// MoreDataToWrite reports whether another call to WriteTable would have
// anything to write.
func (r *Runner) MoreDataToWrite() bool {
	return r.err == nil && r.kv != nil
}

// FirstKey returns the user key that the next WriteTable call would begin
// with. It may only be called when MoreDataToWrite returns true.
func (r *Runner) FirstKey() []byte {
	return r.kv.K.UserKey
}

// TableSplitLimit returns the key bound for a table beginning at firstKey:
// the subcompaction's UpperBound, regardless of firstKey. The size-based
// roll at TargetOutputFileSize is not reflected here; WriteTable decides it.
func (r *Runner) TableSplitLimit(firstKey []byte) []byte {
	return r.cfg.UpperBound
}

// WriteTable drains iter into builder until the table should roll (target
// size reached) or the subcompaction's upper bound is hit, then finishes
// builder and appends the resulting OutputTable. WriteTable always either
// finishes or abandons builder before returning.
func (r *Runner) WriteTable(builder TableBuilder) {
	if r.err != nil {
		panic("compactcore: WriteTable called after Runner failed")
	}
	if r.kv == nil {
		panic("compactcore: WriteTable called with no data to write")
	}

	table := OutputTable{CreationTime: time.Now()}
	checksum := xxhash.New()
	var blobNums []uint64
	seen := make(map[uint64]bool)
	smallest := r.kv.K
	var largest base.InternalKey

	for r.kv != nil {
		if r.cfg.UpperBound != nil && r.cmp(r.kv.K.UserKey, r.cfg.UpperBound) >= 0 {
			break
		}
		if builder.EstimatedSize() >= r.cfg.TargetOutputFileSize && !r.sameUserKeyAsLast(largest) {
			break
		}
		if err := builder.Add(r.kv.K, r.kv.V); err != nil {
			builder.Abandon()
			r.err = err
			return
		}
		writeChecksumRecord(checksum, r.kv.K, r.kv.V)
		if r.kv.V.IsIndirect() {
			fn := r.kv.V.Handle().FileNum
			if !seen[fn] {
				seen[fn] = true
				blobNums = append(blobNums, fn)
			}
		}
		largest = r.kv.K

		if !r.iter.Next() {
			if err := r.iter.Status(); err != nil {
				builder.Abandon()
				r.err = err
				return
			}
			r.kv = nil
			break
		}
		kv := base.InternalKV{K: r.iter.Key(), V: r.iter.Value()}
		r.kv = &kv
	}

	// Range tombstones are embedded only in the final table of the
	// subcompaction: the Aggregator holds the full fragmented set for the
	// whole subcompaction, and mid-run tables would otherwise each carry a
	// duplicate copy. A subcompaction that rolls to multiple tables still
	// gets correct read semantics because a tombstone's span is bounded by
	// the subcompaction's own key range, not by any one table's bounds.
	if r.rdel != nil && r.kv == nil {
		before := len(r.rdel.Tombstones())
		tombstones := r.rdel.SerializeForOutput(r.cfg.IsBottommost, func(t rangedel.Tombstone) bool {
			return r.iter.tombstoneElidable(t.Start.SeqNum())
		})
		table.Tombstones = tombstones
		for _, t := range tombstones {
			_, _ = checksum.Write(t.Start.UserKey)
			_, _ = checksum.Write(t.End)
		}
		r.stats.TombstonesElided += uint64(before - len(tombstones))
	}

	meta, err := builder.Finish()
	if err != nil {
		r.err = err
		return
	}
	meta.SmallestKey = smallest
	meta.LargestKey = largest
	meta.Checksum = checksum.Sum64()
	table.Meta = meta
	table.BlobFileNums = blobNums
	r.tables = append(r.tables, table)
}

func (r *Runner) sameUserKeyAsLast(last base.InternalKey) bool {
	return last.UserKey != nil && r.cmp(r.kv.K.UserKey, last.UserKey) == 0
}

// writeChecksumRecord folds one record's key and (if resident) value bytes
// into the running table checksum. Indirect values are checksummed by their
// handle rather than rematerialized; the referenced blob bytes are not part
// of this checksum.
func writeChecksumRecord(h *xxhash.Digest, key base.InternalKey, value base.LazyValue) {
	_, _ = h.Write(key.UserKey)
	var trailer [8]byte
	for i := range trailer {
		trailer[i] = byte(key.Trailer >> (8 * i))
	}
	_, _ = h.Write(trailer[:])
	if value.IsIndirect() {
		handle := value.Handle()
		var buf [20]byte
		for i := 0; i < 8; i++ {
			buf[i] = byte(handle.FileNum >> (8 * i))
		}
		for i := 0; i < 8; i++ {
			buf[8+i] = byte(handle.Offset >> (8 * i))
		}
		for i := 0; i < 4; i++ {
			buf[16+i] = byte(handle.Size >> (8 * i))
		}
		_, _ = h.Write(buf[:])
		return
	}
	raw, err := value.Value()
	if err != nil {
		return
	}
	_, _ = h.Write(raw)
}

// Finish returns the accumulated Result. It may be called once
// MoreDataToWrite reports false, or after an error has halted the Runner.
func (r *Runner) Finish() Result {
	stats := r.stats
	iterStats := r.iter.Stats()
	stats.KeysProcessed = iterStats.KeysProcessed
	stats.KeysElided = iterStats.KeysElided
	stats.MergesResolved = iterStats.MergesResolved
	stats.MergeChainsUnresolved = iterStats.MergeChainsUnresolved
	stats.ValuesSeparated = iterStats.ValuesSeparated
	stats.ValuesCombined = iterStats.ValuesCombined
	stats.ValuesRebuilt = iterStats.ValuesRebuilt
	stats.SeqNumsZeroed = iterStats.SeqNumsZeroed
	stats.SnapshotPinnedKeys = iterStats.SnapshotPinnedKeys
	return Result{
		Err:    r.err,
		Tables: r.tables,
		Stats:  stats,
	}
}
