// Package wire defines the datagram chunk framing shared by the sender
// and receiver. A chunk is a fixed 40-byte little-endian header followed
// immediately by the payload bytes it describes.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
)

// HeaderSize is the fixed encoded size of a chunk Header in bytes.
const HeaderSize = 40

// FlagLast marks the chunk covering the tail of the file.
const FlagLast = 0x01

// ErrShortBuffer indicates a buffer too small to contain a chunk header.
var ErrShortBuffer = errors.New("wire: buffer shorter than chunk header")

// Header describes one datagram chunk of a transfer.
//
// Layout (little-endian):
//
//	offset 0  transfer_id  u64
//	offset 8  total_size   u64
//	offset 16 offset       u64
//	offset 24 length       u32
//	offset 28 flags        u8 (bit0 = last chunk)
//	offset 29 padding      3 bytes, zero
//	offset 32 timestamp    u64 (sender-local monotonic nanoseconds)
type Header struct {
	TransferID uint64
	TotalSize  uint64
	Offset     uint64
	Length     uint32
	Flags      uint8
	Timestamp  uint64
}

// Last reports whether the header carries the last-chunk flag.
func (h Header) Last() bool {
	return h.Flags&FlagLast != 0
}

// AppendTo appends the 40-byte encoding of h to b and returns the
// extended slice. Padding bytes are zero-filled.
func (h Header) AppendTo(b []byte) []byte {
	b = binary.LittleEndian.AppendUint64(b, h.TransferID)
	b = binary.LittleEndian.AppendUint64(b, h.TotalSize)
	b = binary.LittleEndian.AppendUint64(b, h.Offset)
	b = binary.LittleEndian.AppendUint32(b, h.Length)
	b = append(b, h.Flags, 0, 0, 0)
	b = binary.LittleEndian.AppendUint64(b, h.Timestamp)
	return b
}

// Encode returns the 40-byte encoding of h.
func (h Header) Encode() []byte {
	return h.AppendTo(make([]byte, 0, HeaderSize))
}

// DecodeHeader parses a chunk header from the front of b and returns it
// together with the remaining payload bytes. It fails with ErrShortBuffer
// when b holds fewer than HeaderSize bytes. The payload is not copied; it
// aliases b. There is no checksum: corruption beyond the transport's own
// integrity guarantees passes through undetected.
func DecodeHeader(b []byte) (Header, []byte, error) {
	if len(b) < HeaderSize {
		return Header{}, nil, fmt.Errorf("%w: got %d bytes", ErrShortBuffer, len(b))
	}
	h := Header{
		TransferID: binary.LittleEndian.Uint64(b[0:8]),
		TotalSize:  binary.LittleEndian.Uint64(b[8:16]),
		Offset:     binary.LittleEndian.Uint64(b[16:24]),
		Length:     binary.LittleEndian.Uint32(b[24:28]),
		Flags:      b[28],
		Timestamp:  binary.LittleEndian.Uint64(b[32:40]),
	}
	return h, b[HeaderSize:], nil
}

// TransferID derives the 64-bit identity of a transfer from the source
// path and file size. The value is stable for the lifetime of a sender
// run. There is no collision handling: two distinct files hashing to the
// same ID are silently merged into one output on the receiver.
func TransferID(path string, size uint64) uint64 {
	h := fnv.New64a()
	h.Write([]byte(path))
	var sz [8]byte
	binary.LittleEndian.PutUint64(sz[:], size)
	h.Write(sz[:])
	return h.Sum64()
}
