// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type staticFetcher map[BlobHandle][]byte

func (f staticFetcher) Fetch(h BlobHandle) ([]byte, error) { return f[h], nil }

func TestLazyValueInline(t *testing.T) {
	v := InlineValue([]byte("hello"))
	require.False(t, v.IsIndirect())
	require.Equal(t, 5, v.Len())
	raw, err := v.Value()
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), raw)
}

func TestLazyValueIndirectDefersFetch(t *testing.T) {
	h := BlobHandle{FileNum: 1, Offset: 0, Size: 3}
	fetched := false
	fetcher := fetcherFunc(func(got BlobHandle) ([]byte, error) {
		fetched = true
		require.Equal(t, h, got)
		return []byte("abc"), nil
	})
	v := IndirectValue(h, fetcher)
	require.True(t, v.IsIndirect())
	require.Equal(t, 3, v.Len())
	require.False(t, fetched, "Len must not materialize the value")

	raw, err := v.Value()
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), raw)
	require.True(t, fetched)
}

type fetcherFunc func(BlobHandle) ([]byte, error)

func (f fetcherFunc) Fetch(h BlobHandle) ([]byte, error) { return f(h) }
