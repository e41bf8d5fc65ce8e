package filter

import (
	"encoding/binary"
	"math"
	"math/rand"

	"github.com/cespare/xxhash/v2"
)

const cuckooSlotsPerBucket = 4

// cuckooSlot is empty when fp == 0: fingerprints are wrapped non-zero
// on construction, so the zero value doubles as the empty sentinel
// and the serialized form needs no separate occupied bit.
type cuckooSlot struct {
	fp    uint32
	value uint32
}

type cuckooTable struct {
	buckets [][cuckooSlotsPerBucket]cuckooSlot
}

func newCuckooTable(numBuckets uint32) *cuckooTable {
	return &cuckooTable{buckets: make([][cuckooSlotsPerBucket]cuckooSlot, numBuckets)}
}

func (t *cuckooTable) freeSlot(bucket uint32) (int, bool) {
	for i, s := range t.buckets[bucket] {
		if s.fp == 0 {
			return i, true
		}
	}
	return 0, false
}

func (t *cuckooTable) tryInsert(fp, value, i1, i2 uint32) bool {
	if slot, ok := t.freeSlot(i1); ok {
		t.buckets[i1][slot] = cuckooSlot{fp, value}
		return true
	}
	if slot, ok := t.freeSlot(i2); ok {
		t.buckets[i2][slot] = cuckooSlot{fp, value}
		return true
	}
	return false
}

// insertWithEviction implements the per-key insertion algorithm: try
// both candidate buckets, then up to maxMoves random evictions before
// giving up. On failure every eviction is undone, so the table holds
// exactly what it held before the call and no earlier key is lost.
func (t *cuckooTable) insertWithEviction(fp, value, i1, i2, m uint32, maxMoves int, rnd *rand.Rand) bool {
	if t.tryInsert(fp, value, i1, i2) {
		return true
	}
	type step struct {
		idx  uint32
		slot int
		prev cuckooSlot
	}
	path := make([]step, 0, maxMoves)
	curFp, curVal, curIdx := fp, value, i1
	for move := 0; move < maxMoves; move++ {
		slot := rnd.Intn(cuckooSlotsPerBucket)
		evicted := t.buckets[curIdx][slot]
		t.buckets[curIdx][slot] = cuckooSlot{curFp, curVal}
		path = append(path, step{curIdx, slot, evicted})
		curFp, curVal = evicted.fp, evicted.value
		curIdx = cuckooAltIndex(curIdx, curFp, m)
		if free, ok := t.freeSlot(curIdx); ok {
			t.buckets[curIdx][free] = cuckooSlot{curFp, curVal}
			return true
		}
	}
	for k := len(path) - 1; k >= 0; k-- {
		t.buckets[path[k].idx][path[k].slot] = path[k].prev
	}
	return false
}

func (t *cuckooTable) lookup(fp, i1, i2 uint32, out *[]uint32) bool {
	found := false
	for _, s := range t.buckets[i1] {
		if s.fp == fp {
			found = true
			if out != nil {
				*out = append(*out, s.value)
			} else {
				return true
			}
		}
	}
	for _, s := range t.buckets[i2] {
		if s.fp == fp {
			found = true
			if out != nil {
				*out = append(*out, s.value)
			} else {
				return true
			}
		}
	}
	return found
}

type cuckooBuilder struct {
	fpBits    int
	valueBits int
	frac      float64
	maxMoves  int
	seed      uint32

	numBuckets uint32
	tables     []*cuckooTable
	rnd        *rand.Rand
}

func newCuckooBuilder(opts Options) *cuckooBuilder {
	b := &cuckooBuilder{
		fpBits:    opts.CuckooBitsPerFp,
		valueBits: opts.CuckooBitsPerValue,
		frac:      opts.CuckooFrac,
		maxMoves:  opts.CuckooMaxMoves,
		seed:      opts.CuckooSeed,
	}
	if b.fpBits < 1 {
		b.fpBits = 1
	}
	if b.maxMoves < 1 {
		b.maxMoves = 1
	}
	b.rnd = rand.New(rand.NewSource(int64(b.seed) + 1))
	b.Reset(0)
	return b
}

func (b *cuckooBuilder) Reset(expectedKeys int) {
	b.numBuckets = cuckooNumBuckets(expectedKeys, b.frac)
	b.tables = []*cuckooTable{newCuckooTable(b.numBuckets)}
}

// AddKey never fails: when eviction is exhausted on the last table it
// spills into a freshly allocated one, per the auxiliary-table
// strategy. Finish emits the resulting table sequence.
func (b *cuckooBuilder) AddKey(key []byte) {
	b.AddKeyValue(key, 0)
}

// AddKeyValue is AddKey with an attached v-bit value payload, used
// when the filter doubles as a tiny hash table.
func (b *cuckooBuilder) AddKeyValue(key []byte, value uint32) {
	fp, i1, i2 := b.locate(key)
	value &= cuckooValueMask(b.valueBits)
	for {
		t := b.tables[len(b.tables)-1]
		if t.insertWithEviction(fp, value, i1, i2, b.numBuckets, b.maxMoves, b.rnd) {
			return
		}
		b.tables = append(b.tables, newCuckooTable(b.numBuckets))
	}
}

// TestAddKey is the strict counterpart to AddKey: it never spills to
// an auxiliary table, returning false if eviction is exhausted on the
// single table this builder owns.
func (b *cuckooBuilder) TestAddKey(key []byte) bool {
	fp, i1, i2 := b.locate(key)
	return b.tables[len(b.tables)-1].insertWithEviction(fp, 0, i1, i2, b.numBuckets, b.maxMoves, b.rnd)
}

func (b *cuckooBuilder) locate(key []byte) (fp, i1, i2 uint32) {
	h := cuckooHash(b.seed, key)
	fp = cuckooFingerprint(h, b.fpBits)
	i1 = uint32(h) % b.numBuckets
	i2 = cuckooAltIndex(i1, fp, b.numBuckets)
	return
}

// Finish serializes the table sequence followed by the trailer
// [num_tables:u32 LE][bucket_count:u32 LE][bits_per_fingerprint:u8]
// [bits_per_value:u8][variant_tag:u8]. Each slot is stored as a fixed
// 4-byte little-endian word: fp in the low fpBits, value shifted up
// by fpBits, which keeps decoding branch-free regardless of bit width.
func (b *cuckooBuilder) Finish() []byte {
	slotBytes := 4
	tableBytes := int(b.numBuckets) * cuckooSlotsPerBucket * slotBytes
	dst := make([]byte, 0, len(b.tables)*tableBytes+14)

	for _, t := range b.tables {
		for _, bucket := range t.buckets {
			for _, s := range bucket {
				word := s.fp | (s.value << uint(b.fpBits))
				var buf [4]byte
				binary.LittleEndian.PutUint32(buf[:], word)
				dst = append(dst, buf[:]...)
			}
		}
	}

	var trailer [10]byte
	binary.LittleEndian.PutUint32(trailer[0:4], uint32(len(b.tables)))
	binary.LittleEndian.PutUint32(trailer[4:8], b.numBuckets)
	trailer[8] = byte(b.fpBits)
	trailer[9] = byte(b.valueBits)
	dst = append(dst, trailer[:]...)
	dst = append(dst, byte(Cuckoo))

	b.Reset(0)
	return dst
}

// cuckooKeyMayMatch decodes the trailer, then scans every table for a
// slot matching key's fingerprint at either candidate bucket. When out
// is non-nil it accumulates the matching slots' values instead of
// short-circuiting on the first hit.
func cuckooKeyMayMatch(seed uint32, key, blob []byte, out *[]uint32) bool {
	if len(blob) < 11 {
		return false
	}
	tag := blob[len(blob)-1]
	if tag != byte(Cuckoo) {
		return false
	}
	trailer := blob[len(blob)-11 : len(blob)-1]
	numTables := binary.LittleEndian.Uint32(trailer[0:4])
	numBuckets := binary.LittleEndian.Uint32(trailer[4:8])
	fpBits := int(trailer[8])
	if numBuckets == 0 || numTables == 0 {
		return false
	}

	h := cuckooHash(seed, key)
	fp := cuckooFingerprint(h, fpBits)
	i1 := uint32(h) % numBuckets
	i2 := cuckooAltIndex(i1, fp, numBuckets)

	tableBytes := int(numBuckets) * cuckooSlotsPerBucket * 4
	if len(blob)-11 < int(numTables)*tableBytes {
		return false
	}

	found := false
	for tbl := 0; tbl < int(numTables); tbl++ {
		base := tbl * tableBytes
		if matchBucket(blob, base, i1, fpBits, fp, out) {
			found = true
			if out == nil {
				return true
			}
		}
		if matchBucket(blob, base, i2, fpBits, fp, out) {
			found = true
			if out == nil {
				return true
			}
		}
	}
	return found
}

func matchBucket(blob []byte, tableBase int, bucket uint32, fpBits int, fp uint32, out *[]uint32) bool {
	found := false
	off := tableBase + int(bucket)*cuckooSlotsPerBucket*4
	for i := 0; i < cuckooSlotsPerBucket; i++ {
		word := binary.LittleEndian.Uint32(blob[off+i*4 : off+i*4+4])
		slotFp := word & cuckooFpMask(fpBits)
		if slotFp == fp && slotFp != 0 {
			found = true
			if out != nil {
				*out = append(*out, word>>uint(fpBits))
			} else {
				return true
			}
		}
	}
	return found
}

func cuckooHash(seed uint32, key []byte) uint64 {
	var seedBuf [4]byte
	binary.LittleEndian.PutUint32(seedBuf[:], seed)
	h := xxhash.New()
	_, _ = h.Write(seedBuf[:])
	_, _ = h.Write(key)
	return h.Sum64()
}

func cuckooFpMask(bits int) uint32 {
	return uint32(1)<<uint(bits) - 1
}

func cuckooValueMask(bits int) uint32 {
	if bits <= 0 {
		return 0
	}
	return uint32(1)<<uint(bits) - 1
}

func cuckooFingerprint(h uint64, bits int) uint32 {
	fp := uint32(h) & cuckooFpMask(bits)
	if fp == 0 {
		fp = 1
	}
	return fp
}

// cuckooAltIndex computes i2 = i1 XOR hash(fp) mod m, hashing the
// fingerprint itself so the alternate bucket depends only on what was
// actually stored, letting lookup recompute it without the key.
func cuckooAltIndex(i1, fp, m uint32) uint32 {
	var fpBuf [4]byte
	binary.LittleEndian.PutUint32(fpBuf[:], fp)
	h2 := uint32(xxhash.Sum64(fpBuf[:]))
	return (i1 ^ h2) % m
}

// cuckooNumBuckets rounds ceil(numKeys/4/frac) (or ceil(numKeys/4) for
// non-positive frac) up to the next power of two, with a floor of 1.
func cuckooNumBuckets(numKeys int, frac float64) uint32 {
	var target float64
	if frac > 0 {
		target = math.Ceil(float64(numKeys) / cuckooSlotsPerBucket / frac)
	} else {
		target = math.Ceil(float64(numKeys) / cuckooSlotsPerBucket)
	}
	if target < 1 {
		target = 1
	}
	return nextPow2(uint32(target))
}

func nextPow2(n uint32) uint32 {
	if n <= 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}
