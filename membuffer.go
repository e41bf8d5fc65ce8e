package plfsio

import (
	"sort"

	"github.com/pdlfs/plfsio/block"
	"github.com/pdlfs/plfsio/comparer"
	"github.com/pdlfs/plfsio/filter"
)

// record is one buffered (key, value) pair, kept in insertion order
// until compaction sorts (or dedups) it.
type record struct {
	key   []byte
	value []byte
}

// approxRecordOverhead accounts for the slice headers and bookkeeping
// around each stored key/value pair when estimating a buffer's size
// against its threshold; matching the physical byte count exactly
// would require re-deriving the block encoding ahead of time, which
// the original also avoids.
const approxRecordOverhead = 16

// MemBuffer is an in-memory accumulator of records. Exactly one is
// active (accepts Add) at a time; the rest are either free or handed
// off to a compaction. Sizing, sort-vs-unordered, and duplicate-key
// handling are all driven by the Options the buffer was created with.
type MemBuffer struct {
	opts      *Options
	threshold int64
	records   []record
	size      int64
}

func newMemBuffer(opts *Options, threshold int64) *MemBuffer {
	b := &MemBuffer{opts: opts, threshold: threshold}
	if opts.MemtableReserv > 0 {
		capHint := int64(float64(threshold) * opts.MemtableReserv / approxRecordOverhead)
		if capHint > 0 {
			b.records = make([]record, 0, capHint)
		}
	}
	return b
}

// Add appends one record, copying both key and value since the
// caller's slices are not guaranteed to outlive the call.
func (b *MemBuffer) Add(key, value []byte) {
	k := append([]byte(nil), key...)
	v := append([]byte(nil), value...)
	b.records = append(b.records, record{key: k, value: v})
	b.size += int64(len(k) + len(v) + approxRecordOverhead)
}

// Full reports whether the buffer has crossed its rotation threshold.
func (b *MemBuffer) Full() bool { return b.size >= b.threshold }

// Empty reports whether any record has been added.
func (b *MemBuffer) Empty() bool { return len(b.records) == 0 }

// NumEntries returns the number of records currently buffered.
func (b *MemBuffer) NumEntries() int { return len(b.records) }

// Reset clears the buffer for reuse and returns it, mirroring the
// original's pattern of handing a cleared buffer back to the free
// list rather than allocating a fresh one.
func (b *MemBuffer) Reset() *MemBuffer {
	b.records = b.records[:0]
	b.size = 0
	return b
}

// orderedRecords returns the records this buffer should compact, in
// the order the block builder should see them: sorted whenever
// LevelDBCompatible is set and SkipSort is not, and in that case also
// deduped (keeping the most recently Add-ed value per key) in
// UniqueKey mode; otherwise in raw insertion order.
func (b *MemBuffer) orderedRecords(cmp comparer.Comparer) []record {
	if b.opts.SkipSort || !b.opts.LevelDBCompatible {
		return b.records
	}

	sorted := append([]record(nil), b.records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return cmp.Compare(sorted[i].key, sorted[j].key) < 0
	})

	if b.opts.Mode != UniqueKey {
		return sorted
	}

	// Strictly increasing keys are required by the sorted block format;
	// collapse runs of equal keys down to the last writer, matching
	// UniqueKey semantics (most recent Add wins).
	deduped := sorted[:0:0]
	for i := 0; i < len(sorted); {
		j := i + 1
		for j < len(sorted) && cmp.Compare(sorted[j].key, sorted[i].key) == 0 {
			j++
		}
		deduped = append(deduped, sorted[j-1])
		i = j
	}
	return deduped
}

// built is the result of compacting one buffer: the finished block
// plus its filter stripe (nil when the buffer was empty or filters
// are disabled).
type built struct {
	block  []byte
	filter []byte
}

// build serializes the buffer into one block, then builds its filter
// stripe by iterating the same ordered record set. The compaction task
// calls it while holding no lock.
func (b *MemBuffer) build(opts *Options, writeSize int) (built, error) {
	if b.Empty() {
		return built{}, nil
	}

	records := b.orderedRecords(opts.Comparer)

	bb := block.NewBuilder(opts.blockMode(), opts.Comparer, 0)
	for _, r := range records {
		if err := bb.Add(r.key, r.value); err != nil {
			return built{}, err
		}
	}

	var raw []byte
	if opts.BlockPadding && writeSize > 0 {
		raw = bb.FinishPadded(opts.Compression, writeSize)
	} else {
		raw = bb.Finish(opts.Compression)
	}

	if opts.ParanoidChecks {
		if err := block.VerifyChecksum(raw); err != nil {
			return built{}, err
		}
	}

	var filterBlob []byte
	if opts.Filter != filter.NoFilter {
		fb, err := filter.NewBuilder(opts.Filter, opts.filterOptions())
		if err != nil {
			return built{}, err
		}
		if fb != nil {
			fb.Reset(len(records))
			for _, r := range records {
				fb.AddKey(r.key)
			}
			filterBlob = fb.Finish()
		}
	}

	return built{block: raw, filter: filterBlob}, nil
}
