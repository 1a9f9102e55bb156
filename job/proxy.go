// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package job

// jobProxy is the production compact.Proxy (§9 Design Notes): a thin view
// over a Descriptor and the bound currently assigned to one subcompaction,
// re-expressing the source's CompactionProxy virtual base class as a plain
// struct rather than an interface hierarchy, since there is exactly one
// production implementation.
type jobProxy struct {
	desc  *Descriptor
	bound subcompactionBound
}

func (p *jobProxy) Level() int              { return p.desc.OutputLevel }
func (p *jobProxy) BottommostLevel() bool   { return p.desc.Bottommost }
func (p *jobProxy) NumberLevels() int       { return p.desc.NumberLevels }
func (p *jobProxy) LargestUserKey() []byte  { return p.desc.LargestUserKey }
func (p *jobProxy) AllowIngestBehind() bool { return p.desc.AllowIngestBehind }
func (p *jobProxy) PreserveDeletes() bool   { return p.desc.PreserveDeletes }

func (p *jobProxy) KeyNotExistsBeyondOutputLevel(userKey []byte, levelPtrs []int) bool {
	if p.desc.KeyNotExistsBeyondOutputLevel == nil {
		return p.desc.Bottommost
	}
	return p.desc.KeyNotExistsBeyondOutputLevel(userKey, levelPtrs)
}
