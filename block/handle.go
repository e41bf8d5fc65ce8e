package block

import "encoding/binary"

// kMaxHandleLength is the maximum encoded length of one BlockHandle:
// two varint64s, each up to 10 bytes.
const kMaxHandleLength = 20

// FooterLength is the fixed size of the trailing footer: two
// BlockHandles (filter stream, index stream), zero-padded.
const FooterLength = 2 * kMaxHandleLength

// Handle locates a byte range within a stream.
type Handle struct {
	Offset uint64
	Size   uint64
}

// EncodeTo appends the varint encoding of h to dst and returns it.
func (h Handle) EncodeTo(dst []byte) []byte {
	var scratch [binary.MaxVarintLen64 * 2]byte
	n := binary.PutUvarint(scratch[:], h.Offset)
	n += binary.PutUvarint(scratch[n:], h.Size)
	return append(dst, scratch[:n]...)
}

// DecodeHandle reads a varint-encoded handle from the front of buf,
// returning it and the number of bytes consumed.
func DecodeHandle(buf []byte) (Handle, int, error) {
	offset, n := binary.Uvarint(buf)
	if n <= 0 {
		return Handle{}, 0, errCorruptHandle
	}
	size, m := binary.Uvarint(buf[n:])
	if m <= 0 {
		return Handle{}, 0, errCorruptHandle
	}
	return Handle{Offset: offset, Size: size}, n + m, nil
}

// Footer is the fixed-size suffix of one log's data stream: the
// handles locating the filter stream and the index stream.
type Footer struct {
	FilterHandle Handle
	IndexHandle  Handle
}

// Encode returns the FooterLength-byte encoding of f, zero-padded.
func (f Footer) Encode() []byte {
	buf := make([]byte, 0, FooterLength)
	buf = f.FilterHandle.EncodeTo(buf)
	buf = f.IndexHandle.EncodeTo(buf)
	out := make([]byte, FooterLength)
	copy(out, buf)
	return out
}

// DecodeFooter parses a FooterLength-byte buffer produced by Encode.
func DecodeFooter(buf []byte) (Footer, error) {
	if len(buf) != FooterLength {
		return Footer{}, errCorruptFooter
	}
	fh, n, err := DecodeHandle(buf)
	if err != nil {
		return Footer{}, errCorruptFooter
	}
	ih, _, err := DecodeHandle(buf[n:])
	if err != nil {
		return Footer{}, errCorruptFooter
	}
	return Footer{FilterHandle: fh, IndexHandle: ih}, nil
}
