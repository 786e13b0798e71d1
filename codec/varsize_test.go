package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUSizeBucketBoundaries(t *testing.T) {
	cases := []struct {
		v     uint64
		bytes int
	}{
		{0, 1},
		{63, 1},
		{64, 2},
		{16383, 2},
		{16384, 4},
		{1<<30 - 1, 4},
		{1 << 30, 8},
		{1<<62 - 1, 8},
	}
	for _, c := range cases {
		buf, err := EncodeUSize(c.v, nil)
		require.NoError(t, err)
		require.Lenf(t, buf, c.bytes, "value %d", c.v)

		got, rest, err := DecodeUSize(buf)
		require.NoError(t, err)
		require.Empty(t, rest)
		require.Equal(t, c.v, got)
	}
}

func TestUSizeOverflowRejected(t *testing.T) {
	_, err := EncodeUSize(1<<62, nil)
	require.Error(t, err)
}

func TestUSizeRoundTripAppendsAfter(t *testing.T) {
	buf, err := EncodeUSize(64, []byte{0xAA})
	require.NoError(t, err)
	require.Equal(t, byte(0xAA), buf[0])

	v, rest, err := DecodeUSize(buf[1:])
	require.NoError(t, err)
	require.Equal(t, uint64(64), v)
	require.Empty(t, rest)
}

func TestStringTooLongFailsEncode(t *testing.T) {
	huge := make([]byte, MaxStringLen+1)
	_, err := EncodeString(string(huge), nil)
	require.Error(t, err)
}

func TestStringRoundTrip(t *testing.T) {
	buf, err := EncodeString("hello, bdt", nil)
	require.NoError(t, err)
	got, rest, err := DecodeString(buf)
	require.NoError(t, err)
	require.Equal(t, "hello, bdt", got)
	require.Empty(t, rest)
}

func TestListRoundTrip(t *testing.T) {
	in := []uint32{1, 2, 3, 4, 5}
	buf, err := EncodeList(in, nil, EncodeU32)
	require.NoError(t, err)
	out, rest, err := DecodeList(buf, DecodeU32)
	require.NoError(t, err)
	require.Equal(t, in, out)
	require.Empty(t, rest)
}

func TestMapEncodingIsOrderStable(t *testing.T) {
	a := map[string]uint32{"z": 1, "a": 2, "m": 3}
	b := map[string]uint32{"m": 3, "z": 1, "a": 2}

	encA, err := EncodeMap(a, nil, StringLess, EncodeString, EncodeU32)
	require.NoError(t, err)
	encB, err := EncodeMap(b, nil, StringLess, EncodeString, EncodeU32)
	require.NoError(t, err)
	require.Equal(t, encA, encB)

	out, rest, err := DecodeMap(encA, DecodeString, DecodeU32)
	require.NoError(t, err)
	require.Empty(t, rest)
	require.Equal(t, a, out)
}
