// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package compact

import (
	"github.com/lsmkit/compactcore/internal/base"
	"github.com/lsmkit/compactcore/internal/rangedel"
)

// Iter is the CompactionIterator (§4.E): a single-pass transducer that
// consumes a sorted stream of internal records and emits the records that
// must survive compaction, applying snapshot visibility, tombstone
// suppression, merge-operand resolution, compaction-filter verdicts and
// large-value separation. It wraps an InputIterator; it does not own the
// comparator, merge helper, snapshot list, range-del aggregator or
// compaction filter it is constructed with (§5, Ownership: the iterator
// borrows these).
type Iter struct {
	cmp   base.Compare
	merge *MergeHelper
	vis   Visibility
	rdel  *rangedel.Aggregator
	filt  *SampledFilter
	sep   ValueSeparation
	proxy Proxy
	input InputIterator

	shuttingDown                  func() bool
	earliestWriteConflictSnapshot base.SeqNum
	preserveDeletesSeqNum         base.SeqNum

	onOccurrence func(OccurrenceEvent)

	// level_ptrs optimization (Design Notes §9): sized to
	// proxy.NumberLevels(), reused across calls under the assumption that
	// user keys within a subcompaction never regress.
	levelPtrs []int

	// one-record lookahead buffer, used by SingleDelete's Put-pairing check
	// and by the merge chain resolver when it reads one record past the
	// chain.
	pending *base.InternalKV

	// records queued for emission ahead of pulling fresh input, used when a
	// single decision (an unresolved merge chain) produces more than one
	// surviving record.
	queued []base.InternalKV

	// current group state
	hasCurrentUserKey         bool
	currentUserKey            []byte
	currentUserKeySeq         base.SeqNum
	currentUserKeySnapshotIdx int
	currentUserKeySnapshot    base.SeqNum
	hasOutputtedKey           bool
	clearAndOutputNextKey     bool
	hasLatestValidFileNo      bool
	latestValidFileNo         uint64

	skipUntilKey []byte

	cur *base.InternalKV

	key   base.InternalKey
	value base.LazyValue
	valid bool
	err   error
	done  bool

	stats Stats
}

// Config bundles everything an Iter needs at construction. Fields left at
// their zero value disable the corresponding policy: a nil Filter means no
// compaction filter, a nil MergeHelper operator means Merge records will
// produce ErrMergeOperatorNotSupported, etc.
type Config struct {
	Comparer                      *base.Comparer
	Input                         InputIterator
	Snapshots                     Snapshots
	SnapshotChecker               SnapshotChecker
	MergeHelper                   *MergeHelper
	RangeDelAggregator            *rangedel.Aggregator
	Filter                        *SampledFilter
	ValueSeparation               ValueSeparation
	Proxy                         Proxy
	EarliestWriteConflictSnapshot base.SeqNum
	PreserveDeletesSeqNum         base.SeqNum
	ShuttingDown                  func() bool
	OnOccurrence                  func(OccurrenceEvent)
}

// NewIter constructs a CompactionIterator from cfg.
func NewIter(cfg Config) *Iter {
	sep := cfg.ValueSeparation
	if sep == nil {
		sep = NoSeparation{}
	}
	// A zero EarliestWriteConflictSnapshot means the caller left write-conflict
	// retention unconfigured, not that it wants every record retained: the
	// retention rule fires when a record's sequence exceeds this value, so
	// "off" means the maximum representable sequence, not zero (§4.E,
	// Incremental-snapshot retention).
	earliestWriteConflictSnapshot := cfg.EarliestWriteConflictSnapshot
	if earliestWriteConflictSnapshot == 0 {
		earliestWriteConflictSnapshot = base.SeqNumMax
	}
	it := &Iter{
		cmp:                           cfg.Comparer.Compare,
		merge:                         cfg.MergeHelper,
		vis:                           Visibility{Snapshots: cfg.Snapshots, Checker: cfg.SnapshotChecker},
		rdel:                          cfg.RangeDelAggregator,
		filt:                          cfg.Filter,
		sep:                           sep,
		proxy:                         cfg.Proxy,
		input:                         cfg.Input,
		shuttingDown:                  cfg.ShuttingDown,
		earliestWriteConflictSnapshot: earliestWriteConflictSnapshot,
		preserveDeletesSeqNum:         cfg.PreserveDeletesSeqNum,
		onOccurrence:                  cfg.OnOccurrence,
	}
	if it.proxy != nil {
		it.levelPtrs = make([]int, it.proxy.NumberLevels())
	}
	return it
}

// SeekToFirst positions the iterator at its first surviving record. It may
// only be called once, per the public contract (§4.E).
func (it *Iter) SeekToFirst() bool {
	it.cur = it.input.First()
	return it.Next()
}

// Valid reports whether Key/Value return a live record.
func (it *Iter) Valid() bool { return it.valid }

// Key returns the current surviving record's key. Stable until the next
// call to Next.
func (it *Iter) Key() base.InternalKey { return it.key }

// Value returns the current surviving record's value.
func (it *Iter) Value() base.LazyValue { return it.value }

// UserKey returns the current record's user key.
func (it *Iter) UserKey() []byte { return it.key.UserKey }

// Status returns any error encountered. Once non-nil, Valid() is false for
// the remainder of iteration (§7, Propagation).
func (it *Iter) Status() error { return it.err }

// Stats returns the counters accumulated so far.
func (it *Iter) Stats() Stats { return it.stats }

func (it *Iter) fail(err error) bool {
	it.err = err
	it.valid = false
	return false
}

// pull returns the next raw input record, preferring a buffered lookahead
// record over reading from the input iterator, and surfacing input errors.
func (it *Iter) pull() *base.InternalKV {
	if it.pending != nil {
		r := it.pending
		it.pending = nil
		return r
	}
	r := it.input.Next()
	if r == nil {
		if err := it.input.Error(); err != nil {
			it.err = err
		}
	}
	return r
}

func (it *Iter) checkShutdown() bool {
	if it.shuttingDown != nil && it.shuttingDown() {
		it.err = base.ErrShutdownInProgress
		it.valid = false
		it.done = true
		return true
	}
	return false
}

// Next advances to and returns whether a surviving record is available.
// This is the transducer's main loop: each raw input record is resolved
// into zero or more (usually one) emitted records.
func (it *Iter) Next() bool {
	if it.err != nil || it.done {
		it.valid = false
		return false
	}
	if len(it.queued) > 0 {
		it.emitQueued()
		return true
	}
	for {
		if it.checkShutdown() {
			return false
		}
		if it.cur == nil {
			it.valid = false
			it.done = true
			return false
		}
		r := *it.cur

		if it.skipUntilKey != nil {
			if it.cmp(r.K.UserKey, it.skipUntilKey) < 0 {
				it.cur = it.pull()
				continue
			}
			it.skipUntilKey = nil
		}

		newGroup := !it.hasCurrentUserKey || it.cmp(r.K.UserKey, it.currentUserKey) != 0
		idx, seq := it.vis.FindEarliestVisible(r.K.SeqNum())

		if newGroup {
			it.beginGroup(r, idx, seq)
		} else if idx == it.currentUserKeySnapshotIdx {
			if !it.mustRetainShadowed(r) {
				it.cur = it.pull()
				continue
			}
			// Fall through: retained despite being shadowed by a newer
			// record in the same bucket (write-conflict / ingest-behind /
			// preserve-deletes override, §4.E Incremental-snapshot
			// retention).
		} else {
			// Same user key, but a newer stripe boundary: each snapshot
			// stripe keeps its own newest surviving record (§4.A).
			it.currentUserKeySnapshotIdx = idx
			it.currentUserKeySnapshot = seq
			it.hasOutputtedKey = false
		}

		switch r.K.Kind() {
		case base.InternalKeyKindRangeDelete:
			end, err := r.V.Value()
			if err != nil {
				return it.fail(err)
			}
			if it.rdel != nil {
				it.rdel.AddTombstone(r.K, end)
			}
			it.cur = it.pull()
			continue

		case base.InternalKeyKindSet:
			if ok, done := it.handlePut(r); done {
				return ok
			}
			continue

		case base.InternalKeyKindDelete:
			if ok, done := it.handleDelete(r); done {
				return ok
			}
			continue

		case base.InternalKeyKindSingleDelete:
			if ok, done := it.handleSingleDelete(r); done {
				return ok
			}
			continue

		case base.InternalKeyKindMerge:
			if ok, done := it.handleMerge(r); done {
				return ok
			}
			continue

		case base.InternalKeyKindInvalid:
			it.saveKey(r.K)
			it.value = r.V
			it.valid = true
			it.recordSnapshotPinned()
			it.cur = it.pull()
			return true

		default:
			// Pass through unrecognized kinds unchanged (§3, ValueType).
			it.saveKey(r.K)
			it.value = r.V
			it.valid = true
			it.recordSnapshotPinned()
			it.cur = it.pull()
			return true
		}
	}
}

func (it *Iter) emitQueued() {
	r := it.queued[0]
	it.queued = it.queued[1:]
	it.key = r.K
	it.value = r.V
	it.valid = true
}

// beginGroup implements the "New group" procedure (§4.E).
func (it *Iter) beginGroup(r base.InternalKV, idx int, seq base.SeqNum) {
	it.currentUserKey = append(it.currentUserKey[:0], r.K.UserKey...)
	it.hasCurrentUserKey = true
	it.currentUserKeySeq = r.K.SeqNum()
	it.currentUserKeySnapshotIdx = idx
	it.currentUserKeySnapshot = seq
	it.hasOutputtedKey = false

	if r.K.Kind() == base.InternalKeyKindBlobIndex && r.V.IsIndirect() {
		it.latestValidFileNo = r.V.Handle().FileNum
		it.hasLatestValidFileNo = true
	} else {
		it.hasLatestValidFileNo = false
	}

	if it.onOccurrence != nil {
		it.onOccurrence(OccurrenceEvent{
			UserKey:     append([]byte(nil), r.K.UserKey...),
			SeqNum:      uint64(r.K.SeqNum()),
			HasBlobFile: it.hasLatestValidFileNo,
			BlobFileNum: it.latestValidFileNo,
		})
	}

	if it.clearAndOutputNextKey {
		it.clearAndOutputNextKey = false
		if idx == len(it.vis.Snapshots) {
			// Safe to zero: this record is also above all snapshots.
			it.currentUserKeySeq = 0
		}
	}
}

// mustRetainShadowed implements the Incremental-snapshot retention rules
// (§4.E) for a record that would otherwise be dropped as hidden by a newer
// record in the same snapshot bucket.
func (it *Iter) mustRetainShadowed(r base.InternalKV) bool {
	if r.K.SeqNum() > it.earliestWriteConflictSnapshot {
		return true
	}
	if it.proxy != nil && it.proxy.AllowIngestBehind() && it.proxy.BottommostLevel() {
		return true
	}
	if it.proxy != nil && it.proxy.PreserveDeletes() && isTombstoneKind(r.K.Kind()) && r.K.SeqNum() >= it.preserveDeletesSeqNum {
		return true
	}
	return false
}

func isTombstoneKind(k base.InternalKeyKind) bool {
	return k == base.InternalKeyKindDelete || k == base.InternalKeyKindSingleDelete
}

func (it *Iter) saveKey(k base.InternalKey) {
	it.key = k
}

// aboveAllSnapshots reports whether the current group's bucket is the
// sentinel "above all snapshots" bucket.
func (it *Iter) aboveAllSnapshots() bool {
	return it.currentUserKeySnapshotIdx == len(it.vis.Snapshots)
}

// belowEarliestSnapshot reports whether the current record's sequence
// number is at or below the earliest (smallest) open snapshot, i.e. bucket
// index 0. A tombstone or covered Put may only be dropped from this bucket:
// any lower-sequence record sharing this key necessarily falls in the same
// bucket and is already elided by ordinary shadowing, so dropping the
// bucket-0 record itself cannot resurrect an older value that some
// snapshot still needs (§4.E, "no snapshot spans a lower record").
func (it *Iter) belowEarliestSnapshot() bool {
	return it.currentUserKeySnapshotIdx == 0
}

// tombstoneElidable reports whether a range tombstone fragment starting at
// seq is safe to drop entirely from a bottommost output run: every open
// snapshot's sequence number is at or above seq, so every snapshot's view
// already reflects (or postdates) the deletion, the same belowEarliestSnapshot
// reasoning handleDelete applies to a Delete's own sequence number rather than
// the ambient group bucket, since a tombstone fragment carries no "current
// group" of its own the way a point record does (§4.B, §4.E).
func (it *Iter) tombstoneElidable(seq base.SeqNum) bool {
	idx, _ := it.vis.FindEarliestVisible(seq)
	return idx == 0
}

// recordSnapshotPinned increments SnapshotPinnedKeys when the record about
// to be emitted survives only because it sits in an open snapshot's own
// bucket rather than the "above all snapshots" sentinel, mirroring the
// teacher's own Iter.SnapshotPinned() (internal/compact/run.go): "the kv
// pair we just added to the sstable was only surfaced because an open
// snapshot prevented its elision."
func (it *Iter) recordSnapshotPinned() {
	if !it.aboveAllSnapshots() {
		it.stats.SnapshotPinnedKeys++
	}
}

// maybeZeroSeqnum implements §4.E's seqnum-zeroing rule: only safe when the
// output is bottommost, the record is above all snapshots, and (for Puts)
// no other data exists for this key beyond the output level.
func (it *Iter) maybeZeroSeqnum(userKey []byte) bool {
	if it.proxy == nil || !it.proxy.BottommostLevel() || !it.aboveAllSnapshots() {
		return false
	}
	if !it.proxy.KeyNotExistsBeyondOutputLevel(userKey, it.levelPtrs) {
		return false
	}
	it.stats.SeqNumsZeroed++
	return true
}

// sepFetcher adapts a ValueSeparation's Combine method to a
// base.ValueFetcher, letting the iterator hand out a LazyValue that still
// defers dereferencing an indirection it just created or rebuilt.
type sepFetcher struct{ sep ValueSeparation }

func (f sepFetcher) Fetch(h base.BlobHandle) ([]byte, error) { return f.sep.Combine(h) }

func (it *Iter) applySeparation(key base.InternalKey, value base.LazyValue) (base.LazyValue, error) {
	if value.IsIndirect() {
		h := value.Handle()
		if it.sep.NeedsRebuild(h) {
			raw, err := it.sep.Combine(h)
			if err != nil {
				return value, err
			}
			newHandle, err := it.sep.Rebuild(h, raw)
			if err != nil {
				return value, err
			}
			it.stats.ValuesRebuilt++
			return base.IndirectValue(newHandle, sepFetcher{it.sep}), nil
		}
		if it.sep.ShouldSeparate(key.UserKey, make([]byte, value.Len())) {
			// Still meets the threshold; nothing to do. ShouldSeparate is
			// evaluated against a placeholder slice of the value's recorded
			// Len because the size check against an already-separated value
			// uses that length, not a rematerialized copy.
			return value, nil
		}
		raw, err := it.sep.Combine(h)
		if err != nil {
			return value, err
		}
		it.stats.ValuesCombined++
		return base.InlineValue(raw), nil
	}
	raw, err := value.Value()
	if err != nil {
		return value, err
	}
	if !it.sep.ShouldSeparate(key.UserKey, raw) {
		return value, nil
	}
	h, err := it.sep.Separate(raw)
	if err != nil {
		return value, err
	}
	it.stats.ValuesSeparated++
	return base.IndirectValue(h, sepFetcher{it.sep}), nil
}

// handlePut implements the Put emission rule (§4.E).
func (it *Iter) handlePut(r base.InternalKV) (ok, done bool) {
	if !it.hasOutputtedKey && it.vis.IsCommitted(r.K.UserKey, r.K.SeqNum(), it.currentUserKeySnapshot) && it.filt != nil {
		existing, err := r.V.Value()
		if err != nil {
			return it.fail(err), true
		}
		res, err := it.filt.Apply(it.outputLevel(), r.K.UserKey, r.K.Kind(), existing)
		if err != nil {
			return it.fail(err), true
		}
		switch res.Decision {
		case FilterRemove:
			it.hasOutputtedKey = true
			it.stats.KeysElided++
			it.cur = it.pull()
			return false, false
		case FilterChangeValue:
			r.V = base.InlineValue(res.NewValue)
		case FilterRemoveAndSkipUntil:
			it.hasOutputtedKey = true
			it.skipUntilKey = append([]byte(nil), res.SkipUntil...)
			it.cur = it.pull()
			return false, false
		}
	}

	if it.rdel != nil && it.rdel.ShouldDelete(r.K.UserKey, r.K.SeqNum(), rangedel.ForCompaction) {
		if it.proxy != nil && it.proxy.BottommostLevel() && it.belowEarliestSnapshot() {
			it.hasOutputtedKey = true
			it.stats.KeysElided++
			it.cur = it.pull()
			return false, false
		}
	}

	key := r.K
	if it.maybeZeroSeqnum(r.K.UserKey) {
		key.SetSeqNum(0)
	}
	value, err := it.applySeparation(key, r.V)
	if err != nil {
		return it.fail(err), true
	}
	it.hasOutputtedKey = true
	it.key = key
	it.value = value
	it.valid = true
	it.recordSnapshotPinned()
	it.stats.KeysProcessed++
	it.cur = it.pull()
	return true, true
}

// handleDelete implements the Delete emission rule (§4.E). preserve_deletes
// overrides the drop even when every other elision condition holds, since a
// caller relying on preserve_deletes for change-data-capture needs the
// tombstone to survive past the point it would otherwise be provably safe
// to discard (§4.E, Incremental-snapshot retention).
func (it *Iter) handleDelete(r base.InternalKV) (ok, done bool) {
	preserved := it.proxy != nil && it.proxy.PreserveDeletes() && r.K.SeqNum() >= it.preserveDeletesSeqNum
	if !preserved && it.proxy != nil && it.proxy.BottommostLevel() && it.belowEarliestSnapshot() &&
		it.proxy.KeyNotExistsBeyondOutputLevel(r.K.UserKey, it.levelPtrs) {
		it.hasOutputtedKey = true
		it.stats.KeysElided++
		it.cur = it.pull()
		return false, false
	}
	it.hasOutputtedKey = true
	it.key = r.K
	it.value = r.V
	it.valid = true
	it.recordSnapshotPinned()
	it.stats.KeysProcessed++
	it.cur = it.pull()
	return true, true
}

// handleSingleDelete implements the SingleDelete emission rule, including
// its one-record-lookahead Put-pairing and the bottommost "last record"
// edge case (§4.E, Design Notes §9 Open Question).
func (it *Iter) handleSingleDelete(r base.InternalKV) (ok, done bool) {
	userKey := append([]byte(nil), r.K.UserKey...)
	next := it.pull()
	if next == nil || it.cmp(next.K.UserKey, userKey) != 0 {
		// Floating SingleDelete: no record follows for this key at all.
		if next != nil {
			it.pending = next
		}
		it.hasOutputtedKey = true
		it.key = r.K
		it.value = r.V
		it.valid = true
		it.recordSnapshotPinned()
		it.stats.KeysProcessed++
		it.cur = it.pull()
		return true, true
	}

	nextIdx, _ := it.vis.FindEarliestVisible(next.K.SeqNum())
	if next.K.Kind() == base.InternalKeyKindSet && nextIdx == it.currentUserKeySnapshotIdx {
		// The SingleDelete cancels exactly one Put in the same bucket; both
		// are dropped.
		it.hasOutputtedKey = true
		it.stats.KeysElided += 2
		after := it.pull()
		if it.proxy != nil && it.proxy.BottommostLevel() &&
			(after == nil || it.cmp(after.K.UserKey, userKey) != 0) {
			it.clearAndOutputNextKey = true
		}
		it.cur = after
		return false, false
	}

	// Floating SingleDelete: next record is a different type, or the same
	// key in a different bucket. It must be emitted unchanged, and next
	// must still be examined on its own.
	it.pending = next
	it.hasOutputtedKey = true
	it.key = r.K
	it.value = r.V
	it.valid = true
	it.recordSnapshotPinned()
	it.stats.KeysProcessed++
	it.cur = it.pull()
	return true, true
}

// handleMerge implements the Merge emission rule (§4.E, §4.C).
func (it *Iter) handleMerge(r base.InternalKV) (ok, done bool) {
	if it.merge == nil {
		return it.fail(base.ErrMergeOperatorNotSupported), true
	}
	chain, err := it.merge.Start(r)
	if err != nil {
		return it.fail(err), true
	}
	groupKey := append([]byte(nil), r.K.UserKey...)
	terminatedByBase := false
	var terminator *base.InternalKV

loop:
	for {
		next := it.pull()
		if next == nil {
			break loop
		}
		if it.cmp(next.K.UserKey, groupKey) != 0 {
			it.pending = next
			break loop
		}
		idx, _ := it.vis.FindEarliestVisible(next.K.SeqNum())
		if idx != it.currentUserKeySnapshotIdx {
			// Chain may not be collapsed across a snapshot boundary.
			it.pending = next
			break loop
		}
		switch next.K.Kind() {
		case base.InternalKeyKindSet:
			if err := chain.MergeOlder(*next); err != nil {
				return it.fail(err), true
			}
			terminatedByBase = true
			break loop
		case base.InternalKeyKindMerge:
			if err := chain.MergeOlder(*next); err != nil {
				return it.fail(err), true
			}
			continue loop
		case base.InternalKeyKindRangeDelete:
			end, err := next.V.Value()
			if err != nil {
				return it.fail(err), true
			}
			if it.rdel != nil {
				it.rdel.AddTombstone(next.K, end)
			}
			break loop
		default:
			terminator = next
			break loop
		}
	}

	var resolved []byte
	var resolvedOK bool
	if terminatedByBase {
		resolved, err = chain.FinishWithBase()
		if err != nil {
			return it.fail(err), true
		}
		resolvedOK = true
	} else {
		resolved, resolvedOK, err = chain.FinishPartial()
		if err != nil {
			return it.fail(err), true
		}
	}

	if resolvedOK {
		it.stats.MergesResolved++
		key := r.K
		key.SetKind(base.InternalKeyKindSet)
		if it.maybeZeroSeqnum(r.K.UserKey) {
			key.SetSeqNum(0)
		}
		value, err := it.applySeparation(key, base.InlineValue(resolved))
		if err != nil {
			return it.fail(err), true
		}
		it.hasOutputtedKey = true
		it.key = key
		it.value = value
		it.valid = true
		it.recordSnapshotPinned()
		it.cur = it.nextAfterChain(terminator)
		return true, true
	}

	// Partial merge unavailable: emit the chain unchanged.
	it.stats.MergeChainsUnresolved++
	operands := chain.Operands()
	it.hasOutputtedKey = true
	it.key = operands[0].K
	it.value = operands[0].V
	it.valid = true
	it.recordSnapshotPinned()
	if len(operands) > 1 {
		it.queued = append(it.queued, operands[1:]...)
	}
	it.cur = it.nextAfterChain(terminator)
	return true, true
}

// nextAfterChain resolves what the outer loop should examine after a merge
// chain finishes: the unconsumed terminator record if one was captured, or
// whatever pull() yields (the buffered lookahead left in it.pending, or a
// fresh input record) otherwise.
func (it *Iter) nextAfterChain(terminator *base.InternalKV) *base.InternalKV {
	if terminator != nil {
		return terminator
	}
	return it.pull()
}

func (it *Iter) outputLevel() int {
	if it.proxy == nil {
		return 0
	}
	return it.proxy.Level()
}
