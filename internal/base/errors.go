// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import "github.com/cockroachdb/errors"

// The compaction core surfaces a small, closed set of error kinds (§7). Each
// is a sentinel that callers can match with errors.Is; the underlying
// github.com/cockroachdb/errors machinery attaches stack traces and, for
// assertion failures, a marker that downstream reporting can special-case.

// ErrMergeOperatorNotSupported is returned when the iterator observes a
// Merge record but no merge operator was configured. It is fatal: the
// surrounding subcompaction must halt and the job must abort installation.
var ErrMergeOperatorNotSupported = errors.New("compactcore: merge operator not configured")

// ErrShutdownInProgress is returned once a subcompaction observes the
// shutdown flag. The job tears down any partial outputs it produced.
var ErrShutdownInProgress = errors.New("compactcore: shutdown in progress")

// ErrIncomplete names a benign status: the iterator simply has no more
// records to offer (for example, a compaction filter asked to skip past the
// end of the input). The iterator reports that case with a nil Status
// rather than this error; a Result whose Err holds ErrIncomplete is treated
// by the job like any other failure.
var ErrIncomplete = errors.New("compactcore: iteration incomplete")

// CorruptionError wraps a corruption detected while parsing an internal
// record or a blob run footer. It is always fatal.
type CorruptionError struct {
	cause error
}

// NewCorruptionError wraps cause as a fatal corruption error.
func NewCorruptionError(format string, args ...interface{}) error {
	return &CorruptionError{cause: errors.Newf(format, args...)}
}

func (e *CorruptionError) Error() string { return "corruption: " + e.cause.Error() }
func (e *CorruptionError) Unwrap() error { return e.cause }

// AssertionFailedf reports an invariant violation that should never happen
// given a correct caller; it panics-via-error rather than crashing so the
// job can still clean up partial outputs.
func AssertionFailedf(format string, args ...interface{}) error {
	return errors.AssertionFailedf(format, args...)
}
