// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package job

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/lsmkit/compactcore/blob"
	"github.com/lsmkit/compactcore/internal/base"
)

// GCDiscipline selects one of the four garbage-collection disciplines
// (§4.G, Garbage collection variant).
type GCDiscipline int

const (
	// GCNonPartitionedLookback rereads current live indirections from the
	// live version and drops dead ones.
	GCNonPartitionedLookback GCDiscipline = iota
	// GCNonPartitionedNoLookback trusts that every input indirection is
	// live, skipping the liveness recheck.
	GCNonPartitionedNoLookback
	// GCPartitionedTriaged separates live values into Hot/Warm/Cold blob
	// outputs by a hotness oracle.
	GCPartitionedTriaged
	// GCPartitionedNoTriage writes every live value to the HintWarm blob
	// output without consulting a hotness oracle; inputs are not split
	// across several outputs.
	GCPartitionedNoTriage
)

func (d GCDiscipline) String() string {
	switch d {
	case GCNonPartitionedLookback:
		return "non-partitioned-lookback"
	case GCNonPartitionedNoLookback:
		return "non-partitioned-no-lookback"
	case GCPartitionedTriaged:
		return "partitioned-triaged"
	case GCPartitionedNoTriage:
		return "partitioned-no-triage"
	default:
		return "unknown"
	}
}

// LivenessChecker resolves whether a blob indirection is still referenced
// by any live data run, the version-set-backed lookback GCNonPartitionedLookback
// needs. It is an external collaborator (§1, Out of scope: the version
// set); GCNonPartitionedNoLookback does not use one.
type LivenessChecker interface {
	IsLive(h base.BlobHandle) (bool, error)
}

// HotnessOracle classifies a live value for GCPartitionedTriaged, deciding
// which of the Hot/Warm/Cold blob outputs it belongs in.
type HotnessOracle interface {
	Classify(userKey []byte, value []byte) blob.PlacementHint
}

// GCPlan describes one garbage-collection compaction: the discipline to
// apply and the cutoff file number below which blob files are eligible for
// rewriting, supplementing spec.md's prose description of the variant with
// the concrete field `compaction_job.h` carries as
// blob_garbage_collection_cutoff_file_number.
type GCPlan struct {
	Discipline GCDiscipline
	// CutoffFileNum: only indirections whose handle references a blob file
	// numbered below this are candidates for rewriting; handles referencing
	// newer files are passed through unchanged.
	CutoffFileNum uint64

	Liveness LivenessChecker // required for GCNonPartitionedLookback
	Hotness  HotnessOracle   // required for GCPartitionedTriaged
}

// GCInput is one blob indirection a GC compaction considers, paired with
// the data-run record that references it so a rewritten handle can be
// spliced back in.
type GCInput struct {
	Key    base.InternalKey
	Handle base.BlobHandle
}

// GCResult is the outcome of running a GC compaction: for every live
// indirection that was rewritten, its new handle; dead indirections are
// omitted entirely, and the caller is expected to elide the corresponding
// data-run record on its next ordinary compaction.
type GCResult struct {
	Rewritten map[base.BlobHandle]base.BlobHandle
	Blobs     []OutputBlobResult
	Err       error
}

// OutputBlobResult mirrors compact.OutputBlob for the GC path, which does
// not run a CompactionIterator/Runner at all (§4.G: "the GC variant
// bypasses the standard record policy").
type OutputBlobResult struct {
	FileNum   uint64
	Size      uint64
	ValueSize uint64
	Ancestors []uint64
}

// RunGC executes plan against inputs, fetching live values through fetch
// and writing survivors through newObject. It implements the Garbage
// collection variant's four disciplines (§4.G): unlike Job.Run, there is no
// CompactionIterator or MergeHelper involved, since GC input is restricted
// to blob indirections rather than the ordinary record stream.
func RunGC(ctx context.Context, plan GCPlan, inputs []GCInput, fetch base.ValueFetcher, newObject blob.NewObjectFunc) GCResult {
	result := GCResult{Rewritten: make(map[base.BlobHandle]base.BlobHandle)}
	store := blob.NewStore(blob.Config{}, newObject, nil, nil)

	for _, in := range inputs {
		if ctx.Err() != nil {
			result.Err = base.ErrShutdownInProgress
			return result
		}
		if in.Handle.FileNum >= plan.CutoffFileNum {
			continue
		}

		live := true
		var err error
		switch plan.Discipline {
		case GCNonPartitionedLookback:
			if plan.Liveness == nil {
				result.Err = errors.New("compactcore: GCNonPartitionedLookback requires a LivenessChecker")
				return result
			}
			live, err = plan.Liveness.IsLive(in.Handle)
		case GCNonPartitionedNoLookback:
			live = true
		case GCPartitionedTriaged, GCPartitionedNoTriage:
			live = true
		}
		if err != nil {
			result.Err = err
			return result
		}
		if !live {
			continue
		}

		value, err := fetch.Fetch(in.Handle)
		if err != nil {
			result.Err = err
			return result
		}

		hint := blob.HintDefault
		switch plan.Discipline {
		case GCPartitionedTriaged:
			if plan.Hotness == nil {
				result.Err = errors.New("compactcore: GCPartitionedTriaged requires a HotnessOracle")
				return result
			}
			hint = plan.Hotness.Classify(in.Key.UserKey, value)
		case GCPartitionedNoTriage:
			hint = blob.HintWarm
		}

		newHandle, err := store.Rebuild(hint, in.Handle, value)
		if err != nil {
			result.Err = err
			return result
		}
		result.Rewritten[in.Handle] = newHandle
	}

	metas, err := store.Finish()
	if err != nil {
		result.Err = errors.CombineErrors(result.Err, err)
		return result
	}
	for _, m := range metas {
		result.Blobs = append(result.Blobs, OutputBlobResult{
			FileNum:   m.FileNum,
			Size:      m.Size,
			ValueSize: m.ValueSize,
			Ancestors: m.Ancestors,
		})
	}
	return result
}
