package logio

import (
	"io"
	"sync/atomic"

	"github.com/pdlfs/plfsio/env"
	"github.com/pdlfs/plfsio/errors"
	"github.com/pdlfs/plfsio/metrics"
)

// SourceOptions configures one LogSource.
type SourceOptions struct {
	// NumRotas is the number of rotations the matching sink performed.
	// -1 means the log was never rotated (a single physical file). The
	// original's LogSource::LogOptions takes this the same way: a
	// caller-supplied count, not something a source discovers on its
	// own, since env.Env has no directory listing.
	NumRotas int
	Type     LogType
	Stats    *metrics.IoStats
	Env      env.Env
}

type logFile struct {
	r    env.ReaderAt
	size int64
}

// LogSource reads a log that may consist of several physical pieces
// due to rotation, addressed by file index + offset within that file.
type LogSource struct {
	opts  SourceOptions
	files []logFile
	refs  int32
}

// OpenSource opens every physical file that makes up prefix's log.
func OpenSource(opts SourceOptions, prefix string) (*LogSource, error) {
	if opts.Env == nil {
		return nil, errors.Newf(errors.InvalidArgument, "logio: source options missing Env")
	}

	var names []string
	if opts.NumRotas < 0 {
		names = []string{baseName(prefix)}
	} else {
		for i := 0; i <= opts.NumRotas; i++ {
			names = append(names, rotatedName(prefix, i))
		}
	}

	files := make([]logFile, 0, len(names))
	for _, n := range names {
		r, err := opts.Env.Open(n)
		if err != nil {
			for _, f := range files {
				_ = f.r.Close()
			}
			return nil, errors.Wrap(err, "logio: open source file")
		}
		if opts.Stats != nil {
			r = env.NewMeasuredReaderAt(r, opts.Stats, opts.Type == IndexLog)
		}
		sz, err := r.Size()
		if err != nil {
			_ = r.Close()
			for _, f := range files {
				_ = f.r.Close()
			}
			return nil, errors.Wrap(err, "logio: stat source file")
		}
		files = append(files, logFile{r: r, size: sz})
	}

	return &LogSource{opts: opts, files: files, refs: 1}, nil
}

// Read reads up to len(scratch) bytes at offset off within the file
// at index, returning the slice actually read. index beyond the last
// file returns an empty slice, matching the original's out-of-range
// behavior rather than an error.
func (s *LogSource) Read(index int, off int64, scratch []byte) ([]byte, error) {
	if index < 0 || index >= len(s.files) {
		return nil, nil
	}
	n, err := s.files[index].r.ReadAt(scratch, off)
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "logio: read")
	}
	return scratch[:n], nil
}

// Locate maps a logical offset (stable across rotation, as produced
// by LogSink.Ltell) to the physical file that holds it and the offset
// within that file. It assumes, as the sink guarantees, that physical
// files are filled strictly in order with no gaps: file i's size is
// exactly the span of logical offsets it covers.
func (s *LogSource) Locate(logicalOff int64) (index int, physOff int64) {
	var base int64
	for i, f := range s.files {
		if logicalOff < base+f.size || i == len(s.files)-1 {
			return i, logicalOff - base
		}
		base += f.size
	}
	return 0, logicalOff
}

// Size returns the size of the file at index, or 0 if out of range.
func (s *LogSource) Size(index int) int64 {
	if index < 0 || index >= len(s.files) {
		return 0
	}
	return s.files[index].size
}

// TotalSize sums the size of every physical file in the log.
func (s *LogSource) TotalSize() int64 {
	var total int64
	for _, f := range s.files {
		total += f.size
	}
	return total
}

// LastFileIndex returns the index of the most recent physical file,
// or -1 if the source has no files.
func (s *LogSource) LastFileIndex() int {
	if len(s.files) == 0 {
		return -1
	}
	return len(s.files) - 1
}

func (s *LogSource) Ref() { atomic.AddInt32(&s.refs, 1) }

// Unref decrements the reference count, closing every physical file
// once it reaches zero.
func (s *LogSource) Unref() error {
	if atomic.AddInt32(&s.refs, -1) > 0 {
		return nil
	}
	var first error
	for _, f := range s.files {
		if err := f.r.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
