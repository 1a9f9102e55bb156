// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package blob implements the ValueSeparationStore (§4.D): reading, writing
// and rewriting the "blob" runs that hold values separated from the main
// sorted run because they are too large to keep inline.
package blob

import (
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/lsmkit/compactcore/internal/base"
)

// PlacementHint classifies an output blob run by expected access frequency,
// letting the OutputWriter (§4.F) steer hot values into a different run
// than warm or cold ones.
type PlacementHint uint8

const (
	HintDefault PlacementHint = iota
	HintHot
	HintWarm
	HintCold
)

func (h PlacementHint) String() string {
	switch h {
	case HintHot:
		return "hot"
	case HintWarm:
		return "warm"
	case HintCold:
		return "cold"
	default:
		return "default"
	}
}

// FileMeta describes a completed blob run: its file number, the on-disk and
// uncompressed value sizes, and the inheritance chain of ancestor blob file
// ids a GC rewrite carries forward for provenance (§6, Persisted file
// layout).
type FileMeta struct {
	FileNum   uint64
	Size      uint64
	ValueSize uint64
	Ancestors []uint64
}

// Writable is the minimal sink a blob run is written to; objstorage-style
// backends (local file, remote object store) satisfy it directly.
type Writable interface {
	io.Writer
	Sync() error
}

// FileWriter appends self-describing value records to a single blob run and
// produces its FileMeta on Close. Each record is <uvarint len><bytes>,
// keyed by the byte offset of its value bytes, which AddValue reports to
// callers in the returned handle, matching §6's "sequence of
// self-describing value records keyed by internal offset."
type FileWriter struct {
	fileNum   uint64
	w         Writable
	offset    uint64
	valueSize uint64
	ancestors []uint64
	buf       []byte
}

// NewFileWriter constructs a FileWriter for fileNum, writing through w.
// ancestors records the provenance chain (non-nil only for GC rewrites,
// §4.G). It is reported in the FileMeta that Close returns; the writer does
// not write a footer or any other copy of it into the run itself.
func NewFileWriter(fileNum uint64, w Writable, ancestors []uint64) *FileWriter {
	return &FileWriter{fileNum: fileNum, w: w, ancestors: ancestors}
}

// EstimatedSize returns the number of bytes written to the run so far.
func (w *FileWriter) EstimatedSize() uint64 { return w.offset }

// AddValue appends value to the run and returns a handle referencing it.
func (w *FileWriter) AddValue(value []byte) (base.BlobHandle, error) {
	w.buf = binary.AppendUvarint(w.buf[:0], uint64(len(value)))
	n, err := w.w.Write(w.buf)
	if err != nil {
		return base.BlobHandle{}, err
	}
	offset := w.offset + uint64(n)
	if _, err := w.w.Write(value); err != nil {
		return base.BlobHandle{}, err
	}
	h := base.BlobHandle{FileNum: w.fileNum, Offset: offset, Size: uint32(len(value))}
	w.offset = offset + uint64(len(value))
	w.valueSize += uint64(len(value))
	return h, nil
}

// Close fsyncs the run (§4.D's guarantee that newly written blobs are
// fsync'd before the enclosing job installs outputs) and returns its
// metadata.
func (w *FileWriter) Close() (FileMeta, error) {
	if err := w.w.Sync(); err != nil {
		return FileMeta{}, err
	}
	return FileMeta{
		FileNum:   w.fileNum,
		Size:      w.offset,
		ValueSize: w.valueSize,
		Ancestors: w.ancestors,
	}, nil
}

// FileReader resolves BlobHandles against an in-memory snapshot of a blob
// run's bytes. It implements base.ValueFetcher so a LazyValue can
// dereference an indirection lazily.
type FileReader struct {
	fileNum uint64
	data    []byte
}

// NewFileReader wraps data, the full contents of the blob run identified by
// fileNum.
func NewFileReader(fileNum uint64, data []byte) *FileReader {
	return &FileReader{fileNum: fileNum, data: data}
}

// Fetch implements base.ValueFetcher.
func (r *FileReader) Fetch(h base.BlobHandle) ([]byte, error) {
	if h.FileNum != r.fileNum {
		return nil, errors.Newf("blob: handle references file %d, reader is for file %d", h.FileNum, r.fileNum)
	}
	if uint64(h.Offset)+uint64(h.Size) > uint64(len(r.data)) {
		return nil, base.NewCorruptionError("blob: handle %+v out of bounds for file of length %d", h, len(r.data))
	}
	return r.data[h.Offset : h.Offset+uint64(h.Size)], nil
}
