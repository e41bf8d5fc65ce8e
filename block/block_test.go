package block

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuilder_SortedRoundTrip(t *testing.T) {
	b := NewBuilder(LevelDBCompatible, nil, 4)
	keys := []string{"alpha", "beta", "delta0", "delta1", "gamma", "zeta"}
	for i, k := range keys {
		require.NoError(t, b.Add([]byte(k), []byte{byte(i)}))
	}
	raw := b.Finish(NoCompression)

	for i, k := range keys {
		v, found, err := Get(raw, LevelDBCompatible, false, []byte(k))
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, []byte{byte(i)}, v)
	}

	_, found, err := Get(raw, LevelDBCompatible, false, []byte("missing"))
	require.NoError(t, err)
	require.False(t, found)
}

func TestBuilder_SortedRejectsOutOfOrderKeys(t *testing.T) {
	b := NewBuilder(LevelDBCompatible, nil, 16)
	require.NoError(t, b.Add([]byte("b"), nil))
	err := b.Add([]byte("a"), nil)
	require.Error(t, err)
}

func TestBuilder_SortedRejectsDuplicateKeys(t *testing.T) {
	b := NewBuilder(LevelDBCompatible, nil, 16)
	require.NoError(t, b.Add([]byte("a"), nil))
	err := b.Add([]byte("a"), nil)
	require.Error(t, err)
}

func TestBuilder_FixedKVAllowsUnorderedAndDuplicates(t *testing.T) {
	b := NewBuilder(FixedKV, nil, 16)
	require.NoError(t, b.Add([]byte("z"), []byte("1")))
	require.NoError(t, b.Add([]byte("a"), []byte("2")))
	require.NoError(t, b.Add([]byte("a"), []byte("3")))
	raw := b.Finish(NoCompression)

	v, found, err := Get(raw, FixedKV, false, []byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("2"), v, "linear scan returns the first match")
}

func TestBuilder_SnappyRoundTrip(t *testing.T) {
	b := NewBuilder(FixedKV, nil, 16)
	require.NoError(t, b.Add([]byte("k"), []byte("some reasonably compressible value value value")))
	raw := b.Finish(Snappy)

	v, found, err := Get(raw, FixedKV, false, []byte("k"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("some reasonably compressible value value value"), v)
}

func TestBuilder_EmptyBlockHasNoEntries(t *testing.T) {
	b := NewBuilder(LevelDBCompatible, nil, 16)
	raw := b.Finish(NoCompression)

	_, found, err := Get(raw, LevelDBCompatible, false, []byte("anything"))
	require.NoError(t, err)
	require.False(t, found)
}

func TestBuilder_ResetAllowsReuse(t *testing.T) {
	b := NewBuilder(LevelDBCompatible, nil, 16)
	require.NoError(t, b.Add([]byte("a"), []byte("1")))
	_ = b.Finish(NoCompression)

	b.Reset()
	require.True(t, b.Empty())
	require.NoError(t, b.Add([]byte("x"), []byte("2")))
	raw := b.Finish(NoCompression)

	v, found, err := Get(raw, LevelDBCompatible, false, []byte("x"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("2"), v)

	_, found, err = Get(raw, LevelDBCompatible, false, []byte("a"))
	require.NoError(t, err)
	require.False(t, found)
}

func TestBuilder_AddAfterFinishFails(t *testing.T) {
	b := NewBuilder(LevelDBCompatible, nil, 16)
	_ = b.Finish(NoCompression)
	err := b.Add([]byte("a"), []byte("1"))
	require.Error(t, err)
}

func TestVerifyChecksum_DetectsCorruption(t *testing.T) {
	b := NewBuilder(FixedKV, nil, 16)
	require.NoError(t, b.Add([]byte("a"), []byte("1")))
	raw := b.Finish(NoCompression)
	require.NoError(t, VerifyChecksum(raw))

	corrupt := append([]byte{}, raw...)
	corrupt[0] ^= 0xff
	require.Error(t, VerifyChecksum(corrupt))
}

func TestFinishPadded_RoundsUpToWriteSizeAndStillReads(t *testing.T) {
	b := NewBuilder(FixedKV, nil, 16)
	require.NoError(t, b.Add([]byte("a"), []byte("1")))
	raw := b.FinishPadded(NoCompression, 64)

	require.Len(t, raw, 64)
	require.NoError(t, VerifyChecksum(raw))

	v, found, err := Get(raw, FixedKV, true, []byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("1"), v)
}

func TestFinishPadded_NoOpWhenAlreadyAligned(t *testing.T) {
	b := NewBuilder(FixedKV, nil, 16)
	require.NoError(t, b.Add([]byte("a"), []byte("1")))
	unpadded := b.Finish(NoCompression)

	b2 := NewBuilder(FixedKV, nil, 16)
	require.NoError(t, b2.Add([]byte("a"), []byte("1")))
	padded := b2.FinishPadded(NoCompression, len(unpadded)+padTagLength)

	v, found, err := Get(padded, FixedKV, true, []byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("1"), v)
}

func TestHandleAndFooterRoundTrip(t *testing.T) {
	f := Footer{
		FilterHandle: Handle{Offset: 128, Size: 64},
		IndexHandle:  Handle{Offset: 192, Size: 32},
	}
	buf := f.Encode()
	require.Len(t, buf, FooterLength)

	got, err := DecodeFooter(buf)
	require.NoError(t, err)
	require.Equal(t, f, got)
}

func TestDecodeFooter_RejectsWrongLength(t *testing.T) {
	_, err := DecodeFooter(make([]byte, FooterLength-1))
	require.Error(t, err)
}
