// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package compact

import (
	"github.com/cockroachdb/errors"
	"github.com/lsmkit/compactcore/internal/base"
)

// ValueMerger accumulates the operands of a Merge chain. The newest operand
// is handed to the Merge function that constructs the ValueMerger, and
// MergeOlder is called once per older operand encountered while scanning
// backwards through the chain. Finish resolves the accumulated state; includesBase
// reports whether a terminating Put/base value was folded in via
// MergeOlder, matching the FullMergeV3 vs. PartialMerge distinction in
// §4.C.
type ValueMerger interface {
	MergeOlder(value []byte) error
	Finish(includesBase bool) ([]byte, error)
}

// Merge constructs a fresh ValueMerger seeded with the newest operand for
// key. It is the merge operator the store configures; a nil Merge means no
// operator is configured at all.
type Merge func(key, newestValue []byte) (ValueMerger, error)

// ErrPartialMergeUnavailable is returned by ValueMerger.Finish(false) when
// the operator cannot fold a chain of pure operands into a value without a
// base Put (i.e. it has no PartialMerge). MergeHelper interprets this as a
// signal to emit the operand chain unchanged rather than collapsing it.
var ErrPartialMergeUnavailable = errors.New("compactcore: operator does not support partial merge")

// MergeHelper collapses runs of same-UserKey Merge records, optionally
// terminated by a Put, into a single resolved record (§4.C).
type MergeHelper struct {
	merge Merge
}

// NewMergeHelper constructs a MergeHelper around merge, which may be nil.
func NewMergeHelper(merge Merge) *MergeHelper {
	return &MergeHelper{merge: merge}
}

// Chain tracks one in-progress resolution of a Merge run for a single user
// key. Operands are buffered newest-to-oldest, each tagged with its
// original InternalKey, so that if partial resolution is unavailable the
// caller can fall back to emitting the chain unchanged (§4.C).
type Chain struct {
	key      []byte
	merger   ValueMerger
	operands []base.InternalKV
}

// Start begins a new chain for key, seeded with its newest Merge operand.
// It returns base.ErrMergeOperatorNotSupported if no merge operator was
// configured, which the caller must treat as fatal (§7).
func (h *MergeHelper) Start(firstRecord base.InternalKV) (*Chain, error) {
	if h.merge == nil {
		return nil, base.ErrMergeOperatorNotSupported
	}
	value, err := firstRecord.V.Value()
	if err != nil {
		return nil, err
	}
	merger, err := h.merge(firstRecord.K.UserKey, value)
	if err != nil {
		return nil, err
	}
	return &Chain{
		key:      append([]byte(nil), firstRecord.K.UserKey...),
		merger:   merger,
		operands: []base.InternalKV{firstRecord},
	}, nil
}

// Key returns the user key the chain is resolving.
func (c *Chain) Key() []byte { return c.key }

// Operands returns the buffered operands, newest first, for fallback
// emission when resolution is not possible.
func (c *Chain) Operands() []base.InternalKV { return c.operands }

// MergeOlder folds in the next-older operand or base value in the chain.
func (c *Chain) MergeOlder(record base.InternalKV) error {
	c.operands = append(c.operands, record)
	value, err := record.V.Value()
	if err != nil {
		return err
	}
	return c.merger.MergeOlder(value)
}

// FinishWithBase resolves the chain under FullMergeV3 semantics: the chain
// was terminated by a Put, so a base value is always foldable.
func (c *Chain) FinishWithBase() ([]byte, error) {
	return c.merger.Finish(true)
}

// FinishPartial resolves the chain under PartialMerge semantics: there is
// no base value. ok is false when the operator has no partial-merge
// capability, in which case the caller should emit Operands() unchanged
// rather than use value.
func (c *Chain) FinishPartial() (value []byte, ok bool, err error) {
	v, err := c.merger.Finish(false)
	if err != nil {
		if errors.Is(err, ErrPartialMergeUnavailable) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return v, true, nil
}
