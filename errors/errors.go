// Package errors defines the error taxonomy shared by every plfsio
// component: filters, blocks, the log sink, the double-buffered
// writer and the point reader all return one of these kinds rather
// than ad-hoc errors, so callers can dispatch on them with errors.Is.
package errors

import (
	"github.com/cockroachdb/errors"
)

// Sentinel error kinds. Wrap them with errors.Wrap/errors.Mark to add
// context (file name, offset, key) while keeping errors.Is working.
var (
	// NotFound is returned by the reader when a key is absent.
	NotFound = errors.New("plfsio: not found")

	// Corruption covers checksum mismatches, truncated footers/index
	// streams, out-of-order keys in sorted mode, and bad filter magic.
	Corruption = errors.New("plfsio: corruption")

	// IoError covers failures from the underlying storage on
	// read/append/sync/close.
	IoError = errors.New("plfsio: io error")

	// Disconnected is returned for operations on a sink or writer
	// after it has been closed or finished.
	Disconnected = errors.New("plfsio: disconnected")

	// AlreadyExists is reserved for metadata paths; the write path
	// never produces it itself.
	AlreadyExists = errors.New("plfsio: already exists")

	// InvalidArgument flags a configuration the write path cannot
	// honor (e.g. an unimplemented filter family).
	InvalidArgument = errors.New("plfsio: invalid argument")
)

// WithCorruption builds a new error from msg, marked as a Corruption
// for errors.Is.
func WithCorruption(msg string) error {
	return errors.Mark(errors.New(msg), Corruption)
}

// WithIoError marks err as an IoError for errors.Is while preserving
// the underlying cause for %+v and errors.Cause.
func WithIoError(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, IoError)
}

// Is reports whether err is (or wraps) the given sentinel kind.
func Is(err, kind error) bool {
	return errors.Is(err, kind)
}

// Wrap annotates err with msg without changing what errors.Is reports.
func Wrap(err error, msg string) error {
	return errors.Wrap(err, msg)
}

// Newf builds a new error carrying a stack trace, in the teacher's
// NewErrCorruption style but generalized to any sentinel kind.
func Newf(kind error, format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), kind)
}
