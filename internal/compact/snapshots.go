// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package compact implements the per-subcompaction transducer (the
// CompactionIterator, §4.E), its supporting oracles (snapshot visibility
// §4.A, merge resolution §4.C, value separation §4.D), and the OutputWriter
// that turns a surviving record stream into output runs (§4.F).
package compact

import (
	"sort"

	"github.com/lsmkit/compactcore/internal/base"
)

// Snapshots stores the ordered list of immutable sequence numbers that must
// remain independently readable through a compaction (§3). Snapshots are
// immutable for the lifetime of a compaction; the lowest snapshot may only
// increase between compactions (§3, Invariants).
type Snapshots []base.SeqNum

// Index returns the index of the first snapshot sequence number which is >=
// seq, or len(s) if there is no such sequence number.
func (s Snapshots) Index(seq base.SeqNum) int {
	return sort.Search(len(s), func(i int) bool {
		return s[i] >= seq
	})
}

// IndexAndSeqNum implements findEarliestVisible (§4.A): it returns the
// bucket index of the earliest snapshot able to see seq, and that
// snapshot's sequence number (or SeqNumMax, the "above all snapshots"
// sentinel, if none can).
func (s Snapshots) IndexAndSeqNum(seq base.SeqNum) (int, base.SeqNum) {
	index := s.Index(seq)
	if index == len(s) {
		return index, base.SeqNumMax
	}
	return index, s[index]
}

// SnapshotCheckerResult is the verdict returned by a SnapshotChecker.
type SnapshotCheckerResult int

const (
	// InSnapshot means the record at seq was committed as of snapshot.
	InSnapshot SnapshotCheckerResult = iota
	// NotInSnapshot means the record was not yet committed as of snapshot.
	NotInSnapshot
	// SnapshotReleased means the snapshot no longer exists; the caller should
	// behave as if it were never supplied.
	SnapshotReleased
)

// SnapshotChecker is the external collaborator (§6) that resolves whether a
// sequence number was committed as of a given snapshot, for stores whose
// write path may stage records before making them visible (e.g. pending
// transactions). If no SnapshotChecker is supplied, every record is treated
// as committed (§4.A).
type SnapshotChecker interface {
	CheckInSnapshot(seq base.SeqNum, snapshot base.SeqNum) SnapshotCheckerResult
}

// Visibility resolves snapshot-bucket assignment and commit status for the
// CompactionIterator. It is the concrete form of §4.A's oracle.
type Visibility struct {
	Snapshots Snapshots
	Checker   SnapshotChecker // may be nil
}

// FindEarliestVisible implements findEarliestVisible(seq) -> (earliest
// visible snapshot index, snapshot seqnum), §4.A.
func (v Visibility) FindEarliestVisible(seq base.SeqNum) (int, base.SeqNum) {
	return v.Snapshots.IndexAndSeqNum(seq)
}

// IsCommitted implements isCommitted(user_key, seq), §4.A. The user key is
// accepted for interface parity with stores that key commit status by more
// than just sequence number; the default checker ignores it.
func (v Visibility) IsCommitted(userKey []byte, seq base.SeqNum, snapshot base.SeqNum) bool {
	if v.Checker == nil {
		return true
	}
	switch v.Checker.CheckInSnapshot(seq, snapshot) {
	case InSnapshot:
		return true
	case SnapshotReleased:
		return true
	default:
		return false
	}
}
