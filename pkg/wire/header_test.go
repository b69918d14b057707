package wire

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		h    Header
	}{
		{
			name: "zero header",
			h:    Header{},
		},
		{
			name: "first chunk",
			h: Header{
				TransferID: 0xdeadbeefcafef00d,
				TotalSize:  3000,
				Offset:     0,
				Length:     1200,
				Timestamp:  123456789,
			},
		},
		{
			name: "last chunk",
			h: Header{
				TransferID: 1,
				TotalSize:  3000,
				Offset:     2400,
				Length:     600,
				Flags:      FlagLast,
				Timestamp:  987654321,
			},
		},
		{
			name: "max values",
			h: Header{
				TransferID: ^uint64(0),
				TotalSize:  ^uint64(0),
				Offset:     ^uint64(0),
				Length:     ^uint32(0),
				Flags:      0xff,
				Timestamp:  ^uint64(0),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := tt.h.Encode()
			if len(enc) != HeaderSize {
				t.Fatalf("Encode length = %d, want %d", len(enc), HeaderSize)
			}
			got, rest, err := DecodeHeader(enc)
			if err != nil {
				t.Fatalf("DecodeHeader error: %v", err)
			}
			if got != tt.h {
				t.Errorf("round trip mismatch: got %+v, want %+v", got, tt.h)
			}
			if len(rest) != 0 {
				t.Errorf("remaining payload = %d bytes, want 0", len(rest))
			}
		})
	}
}

func TestHeaderLayout(t *testing.T) {
	h := Header{
		TransferID: 0x1122334455667788,
		TotalSize:  0x99aabbccddeeff00,
		Offset:     0x0102030405060708,
		Length:     0xa1b2c3d4,
		Flags:      FlagLast,
		Timestamp:  0x1213141516171819,
	}
	enc := h.Encode()

	if got := binary.LittleEndian.Uint64(enc[0:8]); got != h.TransferID {
		t.Errorf("transfer_id field = %#x, want %#x", got, h.TransferID)
	}
	if got := binary.LittleEndian.Uint64(enc[8:16]); got != h.TotalSize {
		t.Errorf("total_size field = %#x, want %#x", got, h.TotalSize)
	}
	if got := binary.LittleEndian.Uint64(enc[16:24]); got != h.Offset {
		t.Errorf("offset field = %#x, want %#x", got, h.Offset)
	}
	if got := binary.LittleEndian.Uint32(enc[24:28]); got != h.Length {
		t.Errorf("length field = %#x, want %#x", got, h.Length)
	}
	if enc[28] != h.Flags {
		t.Errorf("flags field = %#x, want %#x", enc[28], h.Flags)
	}
	if !bytes.Equal(enc[29:32], []byte{0, 0, 0}) {
		t.Errorf("padding = %v, want zeros", enc[29:32])
	}
	if got := binary.LittleEndian.Uint64(enc[32:40]); got != h.Timestamp {
		t.Errorf("timestamp field = %#x, want %#x", got, h.Timestamp)
	}
}

func TestDecodeHeaderPayload(t *testing.T) {
	h := Header{TransferID: 7, TotalSize: 100, Offset: 40, Length: 5}
	payload := []byte("hello")
	buf := h.AppendTo(nil)
	buf = append(buf, payload...)

	got, rest, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("DecodeHeader error: %v", err)
	}
	if got != h {
		t.Errorf("header = %+v, want %+v", got, h)
	}
	if !bytes.Equal(rest, payload) {
		t.Errorf("payload = %q, want %q", rest, payload)
	}
}

func TestDecodeHeaderShortBuffer(t *testing.T) {
	for _, n := range []int{0, 1, 39} {
		buf := make([]byte, n)
		if _, _, err := DecodeHeader(buf); err == nil {
			t.Errorf("DecodeHeader(%d bytes): expected error, got nil", n)
		}
	}
}

func TestTransferIDStable(t *testing.T) {
	a := TransferID("/tmp/input.bin", 3000)
	b := TransferID("/tmp/input.bin", 3000)
	if a != b {
		t.Errorf("same path and size produced different IDs: %#x vs %#x", a, b)
	}
	if TransferID("/tmp/input.bin", 3001) == a {
		t.Error("different size produced identical ID")
	}
	if TransferID("/tmp/other.bin", 3000) == a {
		t.Error("different path produced identical ID")
	}
}
