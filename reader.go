package plfsio

import (
	"encoding/binary"

	"github.com/pdlfs/plfsio/block"
	"github.com/pdlfs/plfsio/errors"
	"github.com/pdlfs/plfsio/filter"
	"github.com/pdlfs/plfsio/logio"
	"github.com/pdlfs/plfsio/metrics"
)

// indexEntrySize is the encoded size of one (filterEnd, dataEnd)
// index stripe entry: two little-endian uint64s.
const indexEntrySize = 16

// Reader answers point reads against one finished log written by a
// Writer. It opens the log once, pulls the footer, filter stream and
// index stream into memory, and serves every Get off those in-memory
// structures; it never touches the data blocks until a filter check
// passes. Grounded on the original's ReadBatch/Open point-lookup path
// (pdb.cc), generalized over logio.LogSource so a log written with
// Rotation: RotationExtCtrl reads back across every physical piece,
// the same way original_source's LogSource::open does for
// num_rotas >= 0.
type Reader struct {
	opts  Options
	stats *metrics.IoStats

	source *logio.LogSource

	filterStream []byte
	indexStream  []byte
}

// OpenReader opens the log named prefix for point reads. opts.NumRotas
// must match the number of Writer.Rotate calls made against this log
// when opts.Rotation is RotationExtCtrl (see Writer.NumRotas).
func OpenReader(opts Options, prefix string) (*Reader, error) {
	if opts.Env == nil {
		return nil, errors.Newf(errors.InvalidArgument, "plfsio: options missing Env")
	}
	if opts.Comparer == nil {
		opts.Comparer = DefaultOptions().Comparer
	}

	var stats *metrics.IoStats
	if opts.MeasureReads {
		stats = metrics.NewIoStats(opts.Registerer, opts.Name)
	}

	numRotas := -1
	if opts.Rotation == logio.RotationExtCtrl {
		numRotas = opts.NumRotas
	}
	source, err := logio.OpenSource(logio.SourceOptions{
		NumRotas: numRotas,
		Type:     logio.DataLog,
		Stats:    stats,
		Env:      opts.Env,
	}, prefix)
	if err != nil {
		return nil, err
	}

	total := source.TotalSize()
	if total < block.FooterLength {
		_ = source.Unref()
		return nil, errors.Newf(errors.Corruption, "plfsio: log too short for footer")
	}

	footerBuf := make([]byte, block.FooterLength)
	if err := readLogical(source, total-block.FooterLength, footerBuf); err != nil {
		_ = source.Unref()
		return nil, errors.Wrap(err, "plfsio: read footer")
	}
	footer, err := block.DecodeFooter(footerBuf)
	if err != nil {
		_ = source.Unref()
		return nil, err
	}

	filterStream := make([]byte, footer.FilterHandle.Size)
	if len(filterStream) > 0 {
		if err := readLogical(source, int64(footer.FilterHandle.Offset), filterStream); err != nil {
			_ = source.Unref()
			return nil, errors.Wrap(err, "plfsio: read filter stream")
		}
	}

	indexStream := make([]byte, footer.IndexHandle.Size)
	if err := readLogical(source, int64(footer.IndexHandle.Offset), indexStream); err != nil {
		_ = source.Unref()
		return nil, errors.Wrap(err, "plfsio: read index stream")
	}
	if len(indexStream) < indexEntrySize {
		_ = source.Unref()
		return nil, errors.Newf(errors.Corruption, "plfsio: index stream too short")
	}

	return &Reader{
		opts:         opts,
		stats:        stats,
		source:       source,
		filterStream: filterStream,
		indexStream:  indexStream,
	}, nil
}

// Close releases the underlying physical files.
func (r *Reader) Close() error {
	return r.source.Unref()
}

// readLogical reads len(buf) bytes at the logical offset off,
// mapping it to the physical file that holds it. A read spanning two
// physical files (a rotation mid-record) is not supported: Rotate is
// meant to run between compactions, never inside one.
func readLogical(source *logio.LogSource, off int64, buf []byte) error {
	index, physOff := source.Locate(off)
	data, err := source.Read(index, physOff, buf)
	if err != nil {
		return err
	}
	if len(data) < len(buf) {
		return errors.Newf(errors.Corruption, "plfsio: short read at offset %d", off)
	}
	return nil
}

// Get returns the most recently written value for key, or
// errors.NotFound if no block's filter (or contents, with
// IgnoreFilters) admits it.
//
// The index stripe is walked newest block first: a key written again
// after an earlier buffer already compacted is stored in a later
// block, and the write path never removes the stale copy, so only a
// backward scan satisfies "most recent Add wins" (spec.md's
// testable property on overwritten keys).
func (r *Reader) Get(key []byte) ([]byte, error) {
	n := len(r.indexStream) / indexEntrySize
	if n == 0 {
		return nil, errors.NotFound
	}

	for i := n - 1; i >= 0; i-- {
		filterStart, dataStart := uint64(0), uint64(0)
		if i > 0 {
			filterStart, dataStart = decodeIndexEntry(r.indexStream, i-1)
		}
		filterEnd, dataEnd := decodeIndexEntry(r.indexStream, i)

		if dataEnd == dataStart {
			// Sentinel trailing entry (written by Finish) or an empty
			// buffer's no-op compaction; nothing to scan.
			continue
		}

		if !r.opts.IgnoreFilters && r.opts.Filter != filter.NoFilter {
			blob := r.filterStream[filterStart:filterEnd]
			if len(blob) > 0 && !filter.KeyMayMatch(r.opts.Filter, r.opts.CuckooSeed, key, blob) {
				continue
			}
		}

		raw := make([]byte, dataEnd-dataStart)
		if err := readLogical(r.source, int64(dataStart), raw); err != nil {
			return nil, errors.Wrap(err, "plfsio: read block")
		}

		v, found, err := block.Get(raw, r.opts.blockMode(), r.opts.BlockPadding, key)
		if err != nil {
			return nil, err
		}
		if found {
			return v, nil
		}
	}

	return nil, errors.NotFound
}

func decodeIndexEntry(stream []byte, i int) (filterEnd, dataEnd uint64) {
	off := i * indexEntrySize
	filterEnd = binary.LittleEndian.Uint64(stream[off : off+8])
	dataEnd = binary.LittleEndian.Uint64(stream[off+8 : off+16])
	return
}
