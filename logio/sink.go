package logio

import (
	"sync/atomic"

	"github.com/pdlfs/plfsio/env"
	"github.com/pdlfs/plfsio/errors"
	"github.com/pdlfs/plfsio/metrics"
)

// SinkOptions configures one LogSink. Unlike the original's LogOptions
// there is no mu field here: a LogSink is not itself safe for
// concurrent use, and the Writer (root package) keeps its calls from
// overlapping instead (compactions append one at a time in ticket
// order; Sync, Rotate and Finish wait for every compaction to drain
// before touching the sink).
type SinkOptions struct {
	// MaxBuf is the write buffer size in bytes; 0 disables it. Lwrite
	// flushes the buffer at the end of every call, so it only coalesces
	// the pieces of one write, never separate writes.
	MaxBuf   int
	Rotation RotationType
	Type     LogType
	Stats    *metrics.IoStats
	Env      env.Env
}

// LogSink is an append-only destination with a logical write offset
// that is stable across physical file rotations. It is ref-counted:
// Unref closes the underlying file once every reference is released.
// Reference counting does not make concurrent calls safe.
type LogSink struct {
	opts     SinkOptions
	prefix   string
	rolling  *env.Rolling
	appender env.Appender

	prevOff uint64 // logical offset at the start of the current physical file
	off     uint64 // logical write offset, monotonically increasing
	refs    int32
	closed  bool
}

// Open creates a sink for prefix according to opts, naming the first
// physical file <prefix>.dat (or <prefix>.dat.0 when rotation is
// enabled). The returned sink starts with one reference; call
// Ref/Unref to share it.
func Open(opts SinkOptions, prefix string) (*LogSink, error) {
	if opts.Env == nil {
		return nil, errors.Newf(errors.InvalidArgument, "logio: sink options missing Env")
	}

	var appender env.Appender
	var rolling *env.Rolling
	var err error
	if opts.Rotation == RotationExtCtrl {
		rolling, err = env.NewRolling(opts.Env, prefix)
		appender = rolling
	} else {
		appender, err = opts.Env.Create(baseName(prefix))
	}
	if err != nil {
		return nil, errors.Wrap(err, "logio: open sink")
	}

	if opts.MaxBuf > 0 {
		appender = env.NewBuffered(appender, opts.MaxBuf)
	}
	if opts.Stats != nil {
		appender = env.NewMeasured(appender, opts.Stats, opts.Type == IndexLog)
	}

	return &LogSink{
		opts:     opts,
		prefix:   prefix,
		rolling:  rolling,
		appender: appender,
		refs:     1,
	}, nil
}

// Ltell returns the current logical write offset. Valid even after
// Close.
func (s *LogSink) Ltell() uint64 { return s.off }

// NumRotas returns the number of Lrotate calls made so far, or -1 if
// the sink was not opened with RotationExtCtrl. A Reader needs this
// count to enumerate the same physical files on the read side, since
// env.Env has no directory listing to discover it on its own.
func (s *LogSink) NumRotas() int {
	if s.rolling == nil {
		return -1
	}
	return s.rolling.Index()
}

// Ptell returns the current physical offset: bytes written to the
// file currently open, which resets to zero on every Rotate.
func (s *LogSink) Ptell() uint64 { return s.off - s.prevOff }

// Lwrite appends data to the sink. Data may be lost until the next
// Lsync. Returns Disconnected if the sink has already been closed.
func (s *LogSink) Lwrite(data []byte) error {
	if s.closed {
		return errors.Newf(errors.Disconnected, "logio: sink %s already closed", s.prefix)
	}
	if _, err := s.appender.Append(data); err != nil {
		return errors.Wrap(err, "logio: append")
	}
	if err := s.appender.Flush(); err != nil {
		return errors.Wrap(err, "logio: flush")
	}
	s.off += uint64(len(data))
	return nil
}

// Lsync forces previously buffered data out to storage.
func (s *LogSink) Lsync() error {
	if s.closed {
		return errors.Newf(errors.Disconnected, "logio: sink %s already closed", s.prefix)
	}
	if err := s.appender.Sync(); err != nil {
		return errors.Wrap(err, "logio: sync")
	}
	return nil
}

// Lrotate flushes and closes the current physical file and opens a
// new one, keeping Ltell stable. Requires the sink to have been
// opened with RotationExtCtrl.
func (s *LogSink) Lrotate(sync bool) error {
	if s.closed {
		return errors.Newf(errors.Disconnected, "logio: sink %s already closed", s.prefix)
	}
	if s.rolling == nil {
		return errors.Newf(errors.InvalidArgument, "logio: sink %s was not opened with rotation", s.prefix)
	}
	if err := s.appender.Flush(); err != nil {
		return errors.Wrap(err, "logio: flush before rotate")
	}
	if err := s.rolling.Rotate(sync); err != nil {
		return errors.Wrap(err, "logio: rotate")
	}
	s.prevOff = s.off
	return nil
}

// Lclose closes the sink so no further writes are accepted. Safe to
// call more than once.
func (s *LogSink) Lclose(sync bool) error {
	if s.closed {
		return nil
	}
	s.closed = true
	if sync {
		if err := s.appender.Sync(); err != nil {
			_ = s.appender.Close()
			return errors.Wrap(err, "logio: sync before close")
		}
	}
	if err := s.appender.Close(); err != nil {
		return errors.Wrap(err, "logio: close")
	}
	return nil
}

// Ref increments the reference count.
func (s *LogSink) Ref() { atomic.AddInt32(&s.refs, 1) }

// Unref decrements the reference count, closing the sink (without a
// final sync) once it reaches zero.
func (s *LogSink) Unref() error {
	if atomic.AddInt32(&s.refs, -1) > 0 {
		return nil
	}
	return s.Lclose(false)
}
