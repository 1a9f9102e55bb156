// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package compact

import "github.com/lsmkit/compactcore/internal/base"

// FilterDecision is the verdict a CompactionFilter returns for a Put (§4.E
// Filter, §6).
type FilterDecision int

const (
	// FilterKeep emits the record unchanged.
	FilterKeep FilterDecision = iota
	// FilterRemove drops the record as if a Delete had occurred.
	FilterRemove
	// FilterChangeValue emits a Put with the filter's substituted value.
	FilterChangeValue
	// FilterRemoveAndSkipUntil drops the record and asks the iterator to
	// skip every subsequent record with a user key less than SkipUntil.
	FilterRemoveAndSkipUntil
)

// FilterResult is the outcome of invoking a CompactionFilter.
type FilterResult struct {
	Decision  FilterDecision
	NewValue  []byte // valid when Decision == FilterChangeValue
	SkipUntil []byte // valid when Decision == FilterRemoveAndSkipUntil
}

// Filter is the pure, thread-confined-per-subcompaction compaction filter
// contract (§6). It must not access iterator state; it only sees the
// key/value it is asked to classify.
type Filter interface {
	FilterV3(level int, userKey []byte, valueType base.InternalKeyKind, existingValue []byte) (FilterResult, error)
}

// SampledFilter wraps a Filter with the filter_sample_interval policy
// (§4.E): the filter is invoked once per N candidate records; skipped
// records pass through as FilterKeep without consulting the filter.
type SampledFilter struct {
	filter   Filter
	interval int
	counter  int
}

// NewSampledFilter wraps filter so it is consulted once every interval
// candidate records. interval <= 1 disables sampling (every record is
// filtered). A nil filter makes every record pass through as FilterKeep.
func NewSampledFilter(filter Filter, interval int) *SampledFilter {
	return &SampledFilter{filter: filter, interval: interval}
}

// Apply evaluates the filter for a candidate Put, honoring sampling.
func (s *SampledFilter) Apply(
	level int, userKey []byte, valueType base.InternalKeyKind, existingValue []byte,
) (FilterResult, error) {
	if s.filter == nil {
		return FilterResult{Decision: FilterKeep}, nil
	}
	s.counter++
	if s.interval > 1 && s.counter%s.interval != 0 {
		return FilterResult{Decision: FilterKeep}, nil
	}
	return s.filter.FilterV3(level, userKey, valueType, existingValue)
}
