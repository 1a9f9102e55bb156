// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

// Comparer bundles the comparator contracts every component in the core
// takes as a borrowed dependency (§5, Ownership): a total order over user
// keys, an equality fast-path, and a prefix splitter. Value separation's
// key-size-ratio check (§4.D) uses the full key length and does not call
// Split.
type Comparer struct {
	Compare Compare
	Equal   Equal
	// Split returns the length of the prefix of key that should be treated
	// as its "meaningful" portion. Stores without a notion of key suffixes
	// should return len(key).
	Split func(key []byte) int
}

// DefaultComparer orders keys lexicographically and treats the whole key as
// its prefix.
var DefaultComparer = &Comparer{
	Compare: DefaultCompare,
	Equal:   DefaultEqual,
	Split:   func(key []byte) int { return len(key) },
}

// InternalKV pairs an InternalKey with its LazyValue, the unit the
// CompactionIterator consumes and emits.
type InternalKV struct {
	K InternalKey
	V LazyValue
}
