package borshio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_ReadsInOrder(t *testing.T) {
	t.Parallel()

	data := []byte{
		0x07,                   // u8
		0x01, 0x02,             // u16
		0x0A, 0x00, 0x00, 0x00, // u32
		0x03, 0x00, 0x00, 0x00, 'a', 'b', 'c', // string
	}
	r := NewReader(data)

	assert.Equal(t, uint8(7), r.ReadU8())
	assert.Equal(t, uint16(0x0201), r.ReadU16())
	assert.Equal(t, uint32(10), r.ReadU32())
	assert.Equal(t, "abc", r.ReadString())
	require.NoError(t, r.Err())
	assert.Zero(t, r.Remaining())
}

func TestReader_TruncationStopsReads(t *testing.T) {
	t.Parallel()

	r := NewReader([]byte{0x01, 0x02})
	assert.Equal(t, uint32(0), r.ReadU32())
	require.Error(t, r.Err())

	// Later reads keep returning zero values without panicking.
	assert.Equal(t, uint64(0), r.ReadU64())
	assert.Equal(t, [32]byte{}, r.ReadPubkey())
	assert.Equal(t, "", r.ReadString())
}

func TestReader_StringLengthBeyondData(t *testing.T) {
	t.Parallel()

	r := NewReader([]byte{0xFF, 0xFF, 0xFF, 0xFF, 'a'})
	assert.Equal(t, "", r.ReadString())
	require.Error(t, r.Err())
}

func TestReader_PubkeySlice(t *testing.T) {
	t.Parallel()

	data := []byte{0x02, 0x00, 0x00, 0x00}
	var a, b [32]byte
	a[0], b[0] = 1, 2
	data = append(data, a[:]...)
	data = append(data, b[:]...)

	r := NewReader(data)
	got := r.ReadPubkeySlice()
	require.NoError(t, r.Err())
	assert.Equal(t, [][32]byte{a, b}, got)
}

func TestReader_SkipCountsAsRead(t *testing.T) {
	t.Parallel()

	r := NewReader(make([]byte, 10))
	r.Skip(8)
	assert.Equal(t, 2, r.Remaining())
	r.Skip(4)
	require.Error(t, r.Err())
}
