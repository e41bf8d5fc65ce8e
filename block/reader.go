package block

import (
	"bytes"
	"encoding/binary"

	"github.com/golang/snappy"
	"github.com/pdlfs/plfsio/errors"
)

// Parse validates raw (a block exactly as stored, trailer included),
// decompresses it if needed, and returns the decoded payload: record
// bytes only, with any block padding and the restart array
// (LevelDBCompatible mode) already stripped off, since the point-read
// path always does a linear scan and has no use for either. padded
// must match whatever BlockPadding setting produced raw.
func Parse(raw []byte, mode Mode, padded bool) ([]byte, error) {
	if err := VerifyChecksum(raw); err != nil {
		return nil, err
	}
	compression := Compression(raw[len(raw)-TrailerLength])
	payload := raw[:len(raw)-TrailerLength]

	if padded {
		if len(payload) < padTagLength {
			return nil, errors.Newf(errors.Corruption, "block: too short for pad tag")
		}
		padLen := binary.LittleEndian.Uint32(payload[len(payload)-padTagLength:])
		payload = payload[:len(payload)-padTagLength]
		if int(padLen) > len(payload) {
			return nil, errors.Newf(errors.Corruption, "block: pad length overruns block")
		}
		payload = payload[:len(payload)-int(padLen)]
	}

	switch compression {
	case NoCompression:
	case Snappy:
		decoded, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, errors.Wrap(err, "block: snappy decode")
		}
		payload = decoded
	default:
		return nil, errors.Newf(errors.Corruption, "block: unknown compression type %d", compression)
	}

	if mode == LevelDBCompatible {
		if len(payload) < 4 {
			return nil, errors.Newf(errors.Corruption, "block: too short for restart count")
		}
		numRestarts := binary.LittleEndian.Uint32(payload[len(payload)-4:])
		trim := 4 + int(numRestarts)*4
		if trim > len(payload) {
			return nil, errors.Newf(errors.Corruption, "block: restart array overruns block")
		}
		payload = payload[:len(payload)-trim]
	}

	return payload, nil
}

// Entry is one decoded record.
type Entry struct {
	Key   []byte
	Value []byte
}

// Iterator walks a parsed payload's records in storage order. It
// makes no ordering assumption about the keys it sees, matching the
// point reader's "null comparator" linear scan.
type Iterator struct {
	mode    Mode
	payload []byte
	off     int
	prevKey []byte
	cur     Entry
	err     error
}

// NewIterator returns an Iterator over payload, the output of Parse.
func NewIterator(payload []byte, mode Mode) *Iterator {
	return &Iterator{mode: mode, payload: payload}
}

// Next decodes the next record, returning false at the end or on
// error; check Err afterwards.
func (it *Iterator) Next() bool {
	if it.err != nil || it.off >= len(it.payload) {
		return false
	}
	switch it.mode {
	case LevelDBCompatible:
		return it.nextSorted()
	default:
		return it.nextFixed()
	}
}

func (it *Iterator) nextSorted() bool {
	buf := it.payload[it.off:]
	shared, n := binary.Uvarint(buf)
	if n <= 0 {
		it.err = errors.Newf(errors.Corruption, "block: bad shared length")
		return false
	}
	buf = buf[n:]
	unsharedLen, n := binary.Uvarint(buf)
	if n <= 0 {
		it.err = errors.Newf(errors.Corruption, "block: bad unshared length")
		return false
	}
	buf = buf[n:]
	valueLen, n := binary.Uvarint(buf)
	if n <= 0 {
		it.err = errors.Newf(errors.Corruption, "block: bad value length")
		return false
	}
	buf = buf[n:]

	if uint64(shared) > uint64(len(it.prevKey)) || uint64(len(buf)) < unsharedLen+valueLen {
		it.err = errors.Newf(errors.Corruption, "block: truncated entry")
		return false
	}

	key := make([]byte, shared, shared+unsharedLen)
	copy(key, it.prevKey[:shared])
	key = append(key, buf[:unsharedLen]...)
	value := buf[unsharedLen : unsharedLen+valueLen]

	it.prevKey = key
	it.cur = Entry{Key: key, Value: value}
	it.off = len(it.payload) - len(buf) + int(unsharedLen) + int(valueLen)
	return true
}

func (it *Iterator) nextFixed() bool {
	buf := it.payload[it.off:]
	keyLen, n := binary.Uvarint(buf)
	if n <= 0 {
		it.err = errors.Newf(errors.Corruption, "block: bad key length")
		return false
	}
	buf = buf[n:]
	valueLen, n := binary.Uvarint(buf)
	if n <= 0 {
		it.err = errors.Newf(errors.Corruption, "block: bad value length")
		return false
	}
	buf = buf[n:]

	if uint64(len(buf)) < keyLen+valueLen {
		it.err = errors.Newf(errors.Corruption, "block: truncated entry")
		return false
	}

	key := buf[:keyLen]
	value := buf[keyLen : keyLen+valueLen]

	it.cur = Entry{Key: key, Value: value}
	it.off = len(it.payload) - len(buf) + int(keyLen) + int(valueLen)
	return true
}

func (it *Iterator) Key() []byte   { return it.cur.Key }
func (it *Iterator) Value() []byte { return it.cur.Value }
func (it *Iterator) Err() error    { return it.err }

// Get does a linear scan of raw for key, decoding it with Parse first.
// It never assumes sorted order, matching the point reader's
// null-comparator seek.
func Get(raw []byte, mode Mode, padded bool, key []byte) (value []byte, found bool, err error) {
	payload, err := Parse(raw, mode, padded)
	if err != nil {
		return nil, false, err
	}
	it := NewIterator(payload, mode)
	for it.Next() {
		if bytes.Equal(it.Key(), key) {
			v := make([]byte, len(it.Value()))
			copy(v, it.Value())
			return v, true, nil
		}
	}
	if it.Err() != nil {
		return nil, false, it.Err()
	}
	return nil, false, nil
}
