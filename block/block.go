// Package block implements the on-disk block format: a batch of
// key/value records serialized either in leveldb-compatible mode
// (restart array, shared-prefix delta encoding, sorted order required)
// or fixed-kv mode (length-prefixed, unordered admitted), terminated
// by a compression byte and a masked CRC32C trailer. Grounded on the
// teacher's table/table_writer.go and table/table_reader.go, with the
// checksum fixed to the masked castagnoli scheme spec.md requires in
// place of the teacher's unmasked crc32.ChecksumIEEE.
package block

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/golang/snappy"
	"github.com/pdlfs/plfsio/comparer"
	"github.com/pdlfs/plfsio/errors"
)

var (
	errCorruptHandle = errors.Newf(errors.Corruption, "block: corrupt block handle")
	errCorruptFooter = errors.Newf(errors.Corruption, "block: corrupt footer")
)

// Compression is the trailer's one-byte compression indicator.
type Compression uint8

const (
	NoCompression Compression = 0
	Snappy        Compression = 1
)

// TrailerLength is the fixed size of the compression byte + masked
// CRC32C that follows every block's payload.
const TrailerLength = 5

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// maskCRC applies the standard castagnoli mask so stored checksums
// never equal zero for an all-zero input, matching spec.md's
// crc_masked = rot_right(crc, 15) + 0xa282ead8.
func maskCRC(crc uint32) uint32 {
	return ((crc >> 15) | (crc << 17)) + 0xa282ead8
}

func unmaskCRC(masked uint32) uint32 {
	rot := masked - 0xa282ead8
	return (rot << 15) | (rot >> 17)
}

// Mode selects the block's key layout. Fixed at construction.
type Mode int

const (
	// LevelDBCompatible uses a restart array and shared-prefix delta
	// encoding; Add requires strictly increasing keys.
	LevelDBCompatible Mode = iota
	// FixedKV uses plain length-prefixed entries; keys may repeat or
	// appear out of order.
	FixedKV
)

const defaultRestartInterval = 16

// Builder accumulates key/value records and serializes them into one
// block on Finish.
type Builder struct {
	mode             Mode
	cmp              comparer.Comparer
	restartInterval  int
	data             []byte
	prevKey          []byte
	entries          int
	restarts         []uint32
	finished         bool
}

// NewBuilder returns a Builder in the given mode. cmp is only
// consulted in LevelDBCompatible mode to enforce sorted order; pass
// nil to use comparer.DefaultComparer. restartInterval <= 0 uses the
// default of 16, mirroring the teacher's BlockRestartInterval.
func NewBuilder(mode Mode, cmp comparer.Comparer, restartInterval int) *Builder {
	if cmp == nil {
		cmp = comparer.DefaultComparer
	}
	if restartInterval <= 0 {
		restartInterval = defaultRestartInterval
	}
	return &Builder{mode: mode, cmp: cmp, restartInterval: restartInterval}
}

// Add appends one record. In LevelDBCompatible mode it fails with
// Corruption if key <= the last key added.
func (b *Builder) Add(key, value []byte) error {
	if b.finished {
		return errors.Newf(errors.InvalidArgument, "block: add after finish")
	}
	if b.mode == LevelDBCompatible && b.entries > 0 && b.cmp.Compare(b.prevKey, key) >= 0 {
		return errors.Newf(errors.Corruption, "block: keys out of order")
	}

	switch b.mode {
	case LevelDBCompatible:
		b.addSorted(key, value)
	default:
		b.addFixed(key, value)
	}

	b.prevKey = append(b.prevKey[:0], key...)
	b.entries++
	return nil
}

func (b *Builder) addSorted(key, value []byte) {
	shared := 0
	if b.entries%b.restartInterval == 0 {
		b.restarts = append(b.restarts, uint32(len(b.data)))
	} else {
		shared = comparer.SharedPrefixLen(b.prevKey, key)
	}
	unshared := key[shared:]

	var scratch [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(scratch[:], uint64(shared))
	b.data = append(b.data, scratch[:n]...)
	n = binary.PutUvarint(scratch[:], uint64(len(unshared)))
	b.data = append(b.data, scratch[:n]...)
	n = binary.PutUvarint(scratch[:], uint64(len(value)))
	b.data = append(b.data, scratch[:n]...)
	b.data = append(b.data, unshared...)
	b.data = append(b.data, value...)
}

// addFixed lays out each record as
// [keyLen:uvarint][valueLen:uvarint][key][value], with no restart
// array and no shared-prefix encoding, so lookups must scan linearly
// and keys may repeat or appear unordered.
func (b *Builder) addFixed(key, value []byte) {
	var scratch [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(scratch[:], uint64(len(key)))
	b.data = append(b.data, scratch[:n]...)
	n = binary.PutUvarint(scratch[:], uint64(len(value)))
	b.data = append(b.data, scratch[:n]...)
	b.data = append(b.data, key...)
	b.data = append(b.data, value...)
}

// Empty reports whether any record has been added since the last
// Reset.
func (b *Builder) Empty() bool { return b.entries == 0 }

// Entries returns the number of records added since the last Reset.
func (b *Builder) Entries() int { return b.entries }

// Finish appends the restart array (LevelDBCompatible mode only), the
// compression byte, and the masked CRC32C trailer, returning the
// finished block. No further Add calls succeed until Reset.
func (b *Builder) Finish(compression Compression) []byte {
	return b.FinishPadded(compression, 0)
}

// padTagLength is the size of the little-endian uint32 pad-length tag
// FinishPadded writes right after the zero padding, letting Parse
// know how many trailing zero bytes to strip before it ever looks for
// a restart array. It sits inside the checksummed region, immediately
// before the trailer; the last TrailerLength bytes of the block stay
// exactly [compression_type][crc32c_masked], bit-exact.
const padTagLength = 4

// FinishPadded behaves like Finish, but when writeSize > 0 it
// zero-extends the payload up to the next multiple of writeSize
// before the compression byte and CRC are appended, followed by a
// 4-byte pad-length tag so the padding can be stripped again on read.
// Padding is covered by the checksum and the trailer always lands at
// the block's physical end.
func (b *Builder) FinishPadded(compression Compression, writeSize int) []byte {
	b.finished = true

	payload := b.data
	if b.mode == LevelDBCompatible {
		restarts := b.restarts
		if len(restarts) == 0 {
			restarts = []uint32{0}
		}
		tail := make([]byte, 0, (len(restarts)+1)*4)
		var buf4 [4]byte
		for _, r := range restarts {
			binary.LittleEndian.PutUint32(buf4[:], r)
			tail = append(tail, buf4[:]...)
		}
		binary.LittleEndian.PutUint32(buf4[:], uint32(len(restarts)))
		tail = append(tail, buf4[:]...)
		payload = append(payload, tail...)
	}

	if compression == Snappy {
		payload = snappy.Encode(nil, payload)
	}

	if writeSize > 0 {
		base := len(payload) + padTagLength + TrailerLength
		padLen := 0
		if rem := base % writeSize; rem != 0 {
			padLen = writeSize - rem
		}
		var tag [padTagLength]byte
		binary.LittleEndian.PutUint32(tag[:], uint32(padLen))
		payload = append(payload, make([]byte, padLen)...)
		payload = append(payload, tag[:]...)
	}

	out := make([]byte, len(payload)+TrailerLength)
	copy(out, payload)
	out[len(payload)] = byte(compression)

	crc := crc32.Checksum(out[:len(payload)+1], crc32cTable)
	binary.LittleEndian.PutUint32(out[len(payload)+1:], maskCRC(crc))
	return out
}

// Reset returns the builder to an empty state, ready for a new block.
func (b *Builder) Reset() {
	b.data = b.data[:0]
	b.prevKey = b.prevKey[:0]
	b.entries = 0
	b.restarts = b.restarts[:0]
	b.finished = false
}

// VerifyChecksum checks the trailer's masked CRC32C against the
// block's payload + compression byte, returning Corruption on
// mismatch. raw is the block exactly as stored (no trailer removed).
func VerifyChecksum(raw []byte) error {
	if len(raw) < TrailerLength {
		return errors.Newf(errors.Corruption, "block: too short for a trailer")
	}
	want := binary.LittleEndian.Uint32(raw[len(raw)-4:])
	got := crc32.Checksum(raw[:len(raw)-4], crc32cTable)
	if maskCRC(got) != want {
		return errors.Newf(errors.Corruption, "block: checksum mismatch")
	}
	return nil
}
