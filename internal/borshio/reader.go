// Package borshio provides cursor-based reading of Borsh-serialized account
// data. Reads never panic: once the cursor runs past the end of the data the
// reader is marked truncated, subsequent reads return zero values, and the
// caller checks Err() once after decoding a whole account.
package borshio

import (
	"encoding/binary"
	"fmt"
	"math"
)

type Reader struct {
	data   []byte
	offset int
	err    error
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.offset
}

// Err returns the first truncation error encountered, if any.
func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) fail(what string) {
	if r.err == nil {
		r.err = fmt.Errorf("borsh: not enough data for %s at offset %d", what, r.offset)
	}
}

func (r *Reader) take(n int, what string) []byte {
	if r.err != nil {
		return nil
	}
	if r.offset+n > len(r.data) {
		r.fail(what)
		return nil
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b
}

func (r *Reader) ReadU8() uint8 {
	b := r.take(1, "u8")
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) ReadBool() bool {
	return r.ReadU8() != 0
}

func (r *Reader) ReadU16() uint16 {
	b := r.take(2, "u16")
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *Reader) ReadU32() uint32 {
	b := r.take(4, "u32")
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *Reader) ReadU64() uint64 {
	b := r.take(8, "u64")
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *Reader) ReadU128() [16]byte {
	var out [16]byte
	b := r.take(16, "u128")
	if b != nil {
		copy(out[:], b)
	}
	return out
}

func (r *Reader) ReadF64() float64 {
	return math.Float64frombits(r.ReadU64())
}

func (r *Reader) ReadPubkey() [32]byte {
	var out [32]byte
	b := r.take(32, "pubkey")
	if b != nil {
		copy(out[:], b)
	}
	return out
}

func (r *Reader) ReadIPv4() [4]byte {
	var out [4]byte
	b := r.take(4, "ipv4")
	if b != nil {
		copy(out[:], b)
	}
	return out
}

func (r *Reader) ReadNetworkV4() [5]byte {
	var out [5]byte
	b := r.take(5, "network_v4")
	if b != nil {
		copy(out[:], b)
	}
	return out
}

func (r *Reader) ReadString() string {
	length := r.ReadU32()
	if length == 0 {
		return ""
	}
	b := r.take(int(length), fmt.Sprintf("string of length %d", length))
	if b == nil {
		return ""
	}
	return string(b)
}

// Skip discards n bytes, typically reserved padding.
func (r *Reader) Skip(n int) {
	_ = r.take(n, fmt.Sprintf("%d skipped bytes", n))
}

func (r *Reader) ReadPubkeySlice() [][32]byte {
	length := r.ReadU32()
	if length == 0 || r.err != nil {
		return nil
	}
	if int(length)*32 > r.Remaining() {
		r.fail(fmt.Sprintf("%d pubkeys", length))
		return nil
	}
	out := make([][32]byte, length)
	for i := range out {
		out[i] = r.ReadPubkey()
	}
	return out
}

func (r *Reader) ReadNetworkV4Slice() [][5]byte {
	length := r.ReadU32()
	if length == 0 || r.err != nil {
		return nil
	}
	if int(length)*5 > r.Remaining() {
		r.fail(fmt.Sprintf("%d network_v4 entries", length))
		return nil
	}
	out := make([][5]byte, length)
	for i := range out {
		out[i] = r.ReadNetworkV4()
	}
	return out
}

func (r *Reader) ReadU32Slice() []uint32 {
	length := r.ReadU32()
	if length == 0 || r.err != nil {
		return nil
	}
	if int(length)*4 > r.Remaining() {
		r.fail(fmt.Sprintf("%d u32s", length))
		return nil
	}
	out := make([]uint32, length)
	for i := range out {
		out[i] = r.ReadU32()
	}
	return out
}
