// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

// BlobHandle identifies a value stored in a blob run: the file holding it,
// the byte offset of the value record, and its length. Handles are what an
// indirection stores in place of inline bytes.
type BlobHandle struct {
	FileNum uint64
	Offset  uint64
	Size    uint32
}

// ValueFetcher resolves a BlobHandle to its bytes. The ValueSeparationStore
// (blob package) implements this so that LazyValue can defer dereferencing
// an indirection until a consumer actually needs it.
type ValueFetcher interface {
	Fetch(h BlobHandle) ([]byte, error)
}

// LazyValue is a value cell that is either inline bytes or an indirection
// into a blob run. Materialization is lazy: Value() only dereferences the
// fetcher when bytes are actually required, satisfying the §3 invariant
// that the iterator must not force materialization unless a consumer does.
type LazyValue struct {
	inline  []byte
	handle  BlobHandle
	fetcher ValueFetcher
}

// InlineValue wraps bytes already resident in memory.
func InlineValue(v []byte) LazyValue {
	return LazyValue{inline: v}
}

// IndirectValue wraps a blob indirection, to be resolved through fetcher on
// demand.
func IndirectValue(h BlobHandle, fetcher ValueFetcher) LazyValue {
	return LazyValue{handle: h, fetcher: fetcher}
}

// IsIndirect reports whether the value is a blob indirection rather than
// inline bytes.
func (v LazyValue) IsIndirect() bool {
	return v.fetcher != nil
}

// Handle returns the blob handle backing an indirect value. Calling it on an
// inline value is a programming error.
func (v LazyValue) Handle() BlobHandle {
	return v.handle
}

// Value materializes the value's bytes, dereferencing a blob indirection if
// necessary. Inline values return immediately without an error path.
func (v LazyValue) Value() ([]byte, error) {
	if v.fetcher == nil {
		return v.inline, nil
	}
	return v.fetcher.Fetch(v.handle)
}

// Len returns the length of the value without materializing it, using the
// handle's recorded size for indirections.
func (v LazyValue) Len() int {
	if v.fetcher == nil {
		return len(v.inline)
	}
	return int(v.handle.Size)
}
