package filter

import "github.com/cespare/xxhash/v2"

// bloomBuilder accumulates key hashes and emits a classic k-hash bloom
// filter. Hashes are kept instead of raw keys so Finish does not need
// to retain key bytes beyond the call to AddKey.
type bloomBuilder struct {
	bitsPerKey int
	hashes     []uint32
}

func newBloomBuilder(bitsPerKey int) *bloomBuilder {
	if bitsPerKey < 1 {
		bitsPerKey = 1
	}
	return &bloomBuilder{bitsPerKey: bitsPerKey}
}

func (b *bloomBuilder) Reset(expectedKeys int) {
	if expectedKeys < 0 {
		expectedKeys = 0
	}
	b.hashes = make([]uint32, 0, expectedKeys)
}

func (b *bloomBuilder) AddKey(key []byte) {
	b.hashes = append(b.hashes, bloomHash(key))
}

// Finish lays out [bits...][num_hashes:u8]. An empty key set produces
// a nil blob; the caller skips appending a filter stripe entry for it.
func (b *bloomBuilder) Finish() []byte {
	n := len(b.hashes)
	if n == 0 {
		return nil
	}

	numHashes := bloomNumHashes(b.bitsPerKey)
	numBits := n * b.bitsPerKey
	if numBits < 64 {
		numBits = 64
	}
	numBytes := (numBits + 7) / 8
	numBits = numBytes * 8

	dst := make([]byte, numBytes+1)
	for _, h := range b.hashes {
		delta := bloomDelta(h)
		hh := h
		for i := 0; i < numHashes; i++ {
			bitPos := hh % uint32(numBits)
			dst[bitPos/8] |= 1 << (bitPos % 8)
			hh += delta
		}
	}
	dst[numBytes] = byte(numHashes)

	b.hashes = b.hashes[:0]
	return dst
}

// bloomKeyMayMatch extracts k from the blob's last byte, recomputes
// the same k probes with the fixed mixer, and AND-reduces the bits.
func bloomKeyMayMatch(key, blob []byte) bool {
	if len(blob) < 1 {
		return false
	}
	numBytes := len(blob) - 1
	numBits := numBytes * 8
	if numBits == 0 {
		return false
	}
	numHashes := int(blob[len(blob)-1])

	h := bloomHash(key)
	delta := bloomDelta(h)
	for i := 0; i < numHashes; i++ {
		bitPos := h % uint32(numBits)
		if blob[bitPos/8]&(1<<(bitPos%8)) == 0 {
			return false
		}
		h += delta
	}
	return true
}

// bloomHash is the fixed mixer shared by every bloom blob: a single
// xxhash32-style reduction of xxhash64, independent of any per-filter
// seed so key_may_match never needs to know how a blob was built.
func bloomHash(key []byte) uint32 {
	return uint32(xxhash.Sum64(key))
}

// bloomDelta derives the second probe offset from the first hash by
// double hashing (Kirsch-Mitzenmacher), avoiding a second hash pass.
func bloomDelta(h uint32) uint32 {
	return (h >> 17) | (h << 15)
}

// bloomNumHashes is the standard ln(2)*bits_per_key optimum, clamped
// to the usual [1,30] practical range.
func bloomNumHashes(bitsPerKey int) int {
	k := int(float64(bitsPerKey) * 0.69)
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}
	return k
}
