// Package filter implements the two interchangeable point-membership
// structures used by the write path's per-block filter stripe: a
// classic k-hash Bloom block and a 4-slot cuckoo block. Both share the
// reset/add_key/finish/key_may_match contract described in the block
// format; only the blob each produces differs.
package filter

import "github.com/pdlfs/plfsio/errors"

// Family identifies which filter variant produced a blob. Only the
// cuckoo blob records it (as its final variant-tag byte); a Bloom blob
// ends in its hash count instead, so a reader still needs to know
// which codec to hand a blob to, exactly like a FilterPolicy on both
// ends of a table.
type Family int

const (
	NoFilter Family = iota
	Bloom
	Cuckoo
	// Bitmap is accepted as a configuration value but has no builder:
	// the retrieved sources carry the enum member but never a codec for
	// it, so Writer.Open rejects it with errors.InvalidArgument instead
	// of silently falling back to NoFilter.
	Bitmap
)

// Builder is the contract common to Bloom and Cuckoo builders.
type Builder interface {
	// Reset sizes the structure for expectedKeys and clears prior state.
	Reset(expectedKeys int)
	// AddKey inserts one key. Idempotent with respect to membership.
	AddKey(key []byte)
	// Finish emits a self-describing blob and resets the builder.
	Finish() []byte
}

// Options configures filter construction. The zero value is not
// usable; callers should start from Options populated by the root
// package's Options.
type Options struct {
	BitsPerKey int

	CuckooFrac         float64
	CuckooBitsPerFp    int
	CuckooBitsPerValue int
	CuckooMaxMoves     int
	CuckooSeed         uint32
}

// NewBuilder returns a Builder for the given family, or an
// InvalidArgument error if family has no construction path.
func NewBuilder(family Family, opts Options) (Builder, error) {
	switch family {
	case Bloom:
		return newBloomBuilder(opts.BitsPerKey), nil
	case Cuckoo:
		return newCuckooBuilder(opts), nil
	case NoFilter:
		return nil, nil
	case Bitmap:
		return nil, errors.Newf(errors.InvalidArgument, "filter: bitmap filters are not implemented")
	default:
		return nil, errors.Newf(errors.InvalidArgument, "filter: unknown family %d", family)
	}
}

// KeyMayMatch answers membership against a blob produced by the given
// family's builder. False positives are permitted; false negatives
// never happen for keys actually inserted before Finish.
func KeyMayMatch(family Family, seed uint32, key, blob []byte) bool {
	switch family {
	case Bloom:
		return bloomKeyMayMatch(key, blob)
	case Cuckoo:
		return cuckooKeyMayMatch(seed, key, blob, nil)
	default:
		return true
	}
}

// Values returns the value payload of every slot in blob whose
// fingerprint matches key, for Cuckoo filters built with a non-zero
// bits-per-value. It is a no-op (returns nil) for Bloom blobs.
func Values(family Family, seed uint32, key, blob []byte) []uint32 {
	if family != Cuckoo {
		return nil
	}
	var out []uint32
	cuckooKeyMayMatch(seed, key, blob, &out)
	return out
}
