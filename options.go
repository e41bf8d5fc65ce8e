package plfsio

import (
	"github.com/pdlfs/plfsio/block"
	"github.com/pdlfs/plfsio/comparer"
	"github.com/pdlfs/plfsio/env"
	"github.com/pdlfs/plfsio/filter"
	"github.com/pdlfs/plfsio/logio"
	"github.com/prometheus/client_golang/prometheus"
)

// DirMode governs what happens when a second Add arrives for a key
// already buffered in the active MemBuffer. The original ships five
// variants (unique/multimap, each with an ordered or unordered
// counterpart); only the two that matter once a comparator is always
// available are exposed here.
type DirMode int

const (
	// UniqueKey keeps only the most recently Add-ed value per key
	// within one buffer's lifetime: a later Add silently supersedes an
	// earlier one instead of producing two records.
	UniqueKey DirMode = iota
	// MultiMap admits every Add as a distinct record, even when the key
	// repeats; such a buffer is always compacted in fixed-kv (unordered)
	// form, since the sorted block format requires strictly increasing
	// keys.
	MultiMap
)

// Options configures a Writer or Reader. Call DefaultOptions and
// override individual fields rather than constructing the zero value
// directly: several fields are meaningless at zero (e.g. N, BlockSize).
type Options struct {
	// Env is the storage + scheduling backend. Required.
	Env env.Env
	// Registerer receives the writer's IoStats counters; nil disables
	// metrics registration (counters still work, just unregistered).
	Registerer prometheus.Registerer
	// Comparer orders keys in LevelDBCompatible mode. Defaults to
	// comparer.DefaultComparer (lexicographic).
	Comparer comparer.Comparer

	// N is the number of MemBuffers, >= 2. One is always active; the
	// rest cycle through free/immutable as compactions drain.
	N int
	// TotalMemtableBudget is the aggregate byte budget across all N
	// buffers; each buffer's threshold is TotalMemtableBudget/N.
	TotalMemtableBudget int64
	// MemtableUtil is the fraction of a buffer's share that triggers
	// rotation.
	MemtableUtil float64
	// MemtableReserv is the fraction of a buffer's share pre-reserved
	// at construction, sizing its initial backing slice.
	MemtableReserv float64

	// BlockSize is the alignment unit used when BlockPadding is set.
	// It does not bound block size: each compacted buffer becomes
	// exactly one block, however large.
	BlockSize int
	// BlockUtil is carried in the option set but no code path reads it;
	// blocks are never split by utilization.
	BlockUtil float64
	// BlockPadding zero-pads each finished block up to a multiple of
	// BlockSize.
	BlockPadding bool
	// LevelDBCompatible selects the sorted, restart-indexed block
	// format. False selects the fixed-kv (unordered) format.
	LevelDBCompatible bool
	// SkipSort skips sorting a buffer's records before compaction; only
	// safe when the caller guarantees key order already (LevelDBCompatible
	// mode requires it unless this is set deliberately by a caller that
	// has verified order itself).
	SkipSort bool
	// FixedKVLength, KeySize and ValueSize are carried in the option
	// set but no code path reads them: fixed-kv records are always
	// length-prefixed, never fixed-stride.
	FixedKVLength bool
	KeySize       int
	ValueSize     int

	// DirMode governs duplicate-key handling within one buffer.
	Mode DirMode

	// Filter selects the point-membership structure attached to each
	// block. NoFilter disables it.
	Filter filter.Family
	// BFBitsPerKey sizes the Bloom filter.
	BFBitsPerKey int
	// CuckooFrac is the cuckoo filter's target load factor; <= 0 means
	// no load-factor slack: ceil(numKeys/4) buckets, rounded up to a
	// power of two like every bucket count.
	CuckooFrac float64
	// CuckooBitsPerFp/CuckooBitsPerValue size the cuckoo filter's
	// fingerprint and optional value payload.
	CuckooBitsPerFp    int
	CuckooBitsPerValue int
	// CuckooMaxMoves bounds the eviction chain length before a cuckoo
	// builder spills to an auxiliary table (AddKey) or fails
	// (TestAddKey).
	CuckooMaxMoves int
	// CuckooSeed seeds the cuckoo filter's hash mixer; must match
	// between writer and reader.
	CuckooSeed uint32

	// Compression is applied to every finished block.
	Compression block.Compression

	// CompactionPool, if set, runs compaction tasks. If nil and
	// AllowEnvThreads is true, Env.ThreadPool() is used instead; if that
	// is also nil, compactions run inline on the caller's goroutine.
	CompactionPool  env.ThreadPool
	AllowEnvThreads bool

	// Rotation controls whether the underlying log rotates across
	// numbered physical files. Most callers leave this at NoRotation;
	// external rotation is driven by calling Writer.Rotate.
	Rotation logio.RotationType
	// MaxSinkBuf is the write-buffering size given to the log sink.
	MaxSinkBuf int
	// TailPadding is carried in the option set but no code path reads
	// it: Finish never pads the tail of the log.
	TailPadding bool

	// ParanoidChecks re-verifies a block's checksum immediately after
	// Finish inside the compactor, rather than trusting the bytes it
	// just produced.
	ParanoidChecks bool

	// IgnoreFilters skips the filter check on every Get, always reading
	// the candidate block. Useful for measuring filter effectiveness or
	// recovering from a corrupt filter stream.
	IgnoreFilters bool
	// VerifyChecksums and SkipChecksums are carried in the option set
	// but no code path reads them: Reader.Get always verifies a block's
	// CRC before scanning it.
	VerifyChecksums bool
	SkipChecksums   bool

	// MeasureReads/MeasureWrites gate IoStats counter updates in the
	// Reader and the Writer respectively.
	MeasureReads  bool
	MeasureWrites bool

	// Name identifies this writer/reader in registered metrics and log
	// messages.
	Name string
	// LogDir, if set, tees the writer's ambient logging into a daily
	// rotating file under this directory (logger.DefaultSettings),
	// in addition to stdout. Left empty, logging stays stdout-only.
	LogDir string

	// NumRotas tells OpenReader how many times Writer.Rotate was called
	// on the log being opened, when Rotation is RotationExtCtrl; ignored
	// otherwise. Like the original's LogOptions.num_rotas, this is
	// caller-supplied (typically from Writer.NumRotas, persisted
	// wherever the caller tracks rotation counts) rather than
	// discovered from the log itself: env.Env exposes no directory
	// listing a reader could use to enumerate physical files on its
	// own.
	NumRotas int
}

// DefaultOptions returns the option set spec.md §6 lists defaults for,
// plus the SPEC_FULL.md §3.1 additions.
func DefaultOptions() Options {
	return Options{
		Comparer: comparer.DefaultComparer,

		N:                   2,
		TotalMemtableBudget: 4 << 20,
		MemtableUtil:        0.97,
		MemtableReserv:      1.00,

		BlockSize:         32 << 10,
		BlockUtil:         0.996,
		BlockPadding:      true,
		LevelDBCompatible: true,
		KeySize:           8,
		ValueSize:         32,

		Mode: UniqueKey,

		Filter:             filter.Bloom,
		BFBitsPerKey:       8,
		CuckooFrac:         0.95,
		CuckooBitsPerFp:    8,
		CuckooBitsPerValue: 0,
		CuckooMaxMoves:     500,
		CuckooSeed:         301,

		Compression: block.NoCompression,

		Rotation: logio.NoRotation,

		VerifyChecksums: true,

		MeasureReads:  true,
		MeasureWrites: true,
	}
}

// blockMode returns the block.Mode implied by the option set.
func (o *Options) blockMode() block.Mode {
	if o.LevelDBCompatible && o.Mode != MultiMap {
		return block.LevelDBCompatible
	}
	return block.FixedKV
}

// bufferThreshold is the byte capacity of each individual MemBuffer.
func (o *Options) bufferThreshold() int64 {
	n := int64(o.N)
	if n < 2 {
		n = 2
	}
	budget := o.TotalMemtableBudget / n
	util := o.MemtableUtil
	if util <= 0 {
		util = 1
	}
	return int64(float64(budget) * util)
}

func (o *Options) filterOptions() filter.Options {
	return filter.Options{
		BitsPerKey:         o.BFBitsPerKey,
		CuckooFrac:         o.CuckooFrac,
		CuckooBitsPerFp:    o.CuckooBitsPerFp,
		CuckooBitsPerValue: o.CuckooBitsPerValue,
		CuckooMaxMoves:     o.CuckooMaxMoves,
		CuckooSeed:         o.CuckooSeed,
	}
}
