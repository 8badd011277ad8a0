// Package ragerrors holds the sentinel errors shared across the memory
// engine's packages, meant for use with errors.Is/errors.As.
package ragerrors

import "errors"

var (
	// ErrStoreBackend wraps a failure surfaced by the underlying BlobStore.
	ErrStoreBackend = errors.New("ragmemory: store backend failure")
	// ErrCorruptStore indicates a blob was readable but its payload could
	// not be decoded.
	ErrCorruptStore = errors.New("ragmemory: corrupt store payload")
	// ErrConcurrent indicates a non-reentrant operation was already in
	// progress.
	ErrConcurrent = errors.New("ragmemory: operation already in progress")
	// ErrInvalidInput indicates a caller-supplied argument violated a
	// precondition.
	ErrInvalidInput = errors.New("ragmemory: invalid input")

	// ErrMagicMismatch indicates an MNX payload's magic bytes did not match.
	ErrMagicMismatch = errors.New("ragmemory/mnx: magic mismatch")
	// ErrVersionTooNew indicates an MNX payload declares a format version
	// newer than this codec supports.
	ErrVersionTooNew = errors.New("ragmemory/mnx: version too new")
	// ErrTruncatedInput indicates an MNX payload ended before a declared
	// section or footer was fully read.
	ErrTruncatedInput = errors.New("ragmemory/mnx: truncated input")
	// ErrChecksumMismatch indicates an MNX payload's footer checksum did
	// not match its computed checksum.
	ErrChecksumMismatch = errors.New("ragmemory/mnx: checksum mismatch")
	// ErrUnknownSection indicates a section type id was not recognised
	// while decoding in strict mode.
	ErrUnknownSection = errors.New("ragmemory/mnx: unknown section in strict mode")
	// ErrSectionCorrupt indicates a section's payload failed to decode.
	ErrSectionCorrupt = errors.New("ragmemory/mnx: section payload corrupt")
)
