package transfer

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pacewire/pacewire/internal/logging"
	"github.com/pacewire/pacewire/internal/transport"
	"github.com/pacewire/pacewire/pkg/wire"
)

func newTestReceiver(t *testing.T) (*Receiver, string) {
	t.Helper()
	outDir := t.TempDir()
	r, err := NewReceiver(outDir, nil, logging.New("test", "error"))
	require.NoError(t, err)
	return r, outDir
}

// chunkFor frames a datagram the way the sender does.
func chunkFor(transferID uint64, total uint64, offset uint64, payload []byte, last bool) []byte {
	hdr := wire.Header{
		TransferID: transferID,
		TotalSize:  total,
		Offset:     offset,
		Length:     uint32(len(payload)),
	}
	if last {
		hdr.Flags = wire.FlagLast
	}
	b := hdr.AppendTo(make([]byte, 0, wire.HeaderSize+len(payload)))
	return append(b, payload...)
}

func dgramOutPath(outDir string, transferID, total uint64) string {
	return filepath.Join(outDir, fmt.Sprintf("%016x_size%d.bin", transferID, total))
}

func TestReceiverConcreteScenario(t *testing.T) {
	// 3000-byte file, 1200-byte chunks: offsets 0, 1200, 2400 with the
	// final 600-byte chunk flagged last.
	src := make([]byte, 3000)
	_, err := rand.Read(src)
	require.NoError(t, err)

	r, outDir := newTestReceiver(t)
	const id = uint64(0xabc)

	r.handleDatagram(chunkFor(id, 3000, 0, src[0:1200], false))
	r.handleDatagram(chunkFor(id, 3000, 1200, src[1200:2400], false))
	r.handleDatagram(chunkFor(id, 3000, 2400, src[2400:3000], true))

	got, err := os.ReadFile(dgramOutPath(outDir, id, 3000))
	require.NoError(t, err)
	require.Equal(t, src, got)
}

func TestReceiverOutOfOrder(t *testing.T) {
	src := make([]byte, 3000)
	_, err := rand.Read(src)
	require.NoError(t, err)

	r, outDir := newTestReceiver(t)
	const id = uint64(7)

	r.handleDatagram(chunkFor(id, 3000, 2400, src[2400:3000], true))
	r.handleDatagram(chunkFor(id, 3000, 0, src[0:1200], false))
	r.handleDatagram(chunkFor(id, 3000, 1200, src[1200:2400], false))

	got, err := os.ReadFile(dgramOutPath(outDir, id, 3000))
	require.NoError(t, err)
	require.Equal(t, src, got)
}

func TestReceiverIdempotentWrite(t *testing.T) {
	src := make([]byte, 2400)
	_, err := rand.Read(src)
	require.NoError(t, err)

	r, outDir := newTestReceiver(t)
	const id = uint64(42)

	r.handleDatagram(chunkFor(id, 2400, 0, src[0:1200], false))
	r.handleDatagram(chunkFor(id, 2400, 1200, src[1200:2400], true))
	single, err := os.ReadFile(dgramOutPath(outDir, id, 2400))
	require.NoError(t, err)

	// Duplicate delivery of the same chunk must leave the file unchanged.
	r.handleDatagram(chunkFor(id, 2400, 0, src[0:1200], false))
	double, err := os.ReadFile(dgramOutPath(outDir, id, 2400))
	require.NoError(t, err)
	require.Equal(t, single, double)
	require.Equal(t, src, double)
}

func TestReceiverLossGapMisreportedComplete(t *testing.T) {
	// The documented fidelity gap: drop the middle chunk, deliver the
	// last one, and the length heuristic sees a "complete" file while
	// bytes [1200,2400) are holes. The test asserts the mismatch.
	src := make([]byte, 3000)
	_, err := rand.Read(src)
	require.NoError(t, err)

	r, outDir := newTestReceiver(t)
	const id = uint64(0xbad)

	r.handleDatagram(chunkFor(id, 3000, 0, src[0:1200], false))
	// chunk at offset 1200 lost
	r.handleDatagram(chunkFor(id, 3000, 2400, src[2400:3000], true))

	got, err := os.ReadFile(dgramOutPath(outDir, id, 3000))
	require.NoError(t, err)

	// Length reaches the declared total, which is what the completion
	// check keys on.
	require.Len(t, got, 3000)
	require.Equal(t, src[0:1200], got[0:1200])
	require.Equal(t, src[2400:3000], got[2400:3000])
	// The hole holds whatever the sparse file reads back (zeros), not
	// the source bytes.
	require.NotEqual(t, src[1200:2400], got[1200:2400])
	require.Equal(t, make([]byte, 1200), got[1200:2400])
}

func TestReceiverShortHeaderDropped(t *testing.T) {
	r, outDir := newTestReceiver(t)

	r.handleDatagram(make([]byte, 10))

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	require.Empty(t, entries, "a malformed datagram must not create transfer state")
}

func TestReceiverTruncatedPayload(t *testing.T) {
	r, outDir := newTestReceiver(t)
	const id = uint64(9)

	// Header declares 1200 bytes but only 100 arrived: the write is
	// truncated to the bytes actually present.
	payload := make([]byte, 100)
	_, err := rand.Read(payload)
	require.NoError(t, err)
	hdr := wire.Header{TransferID: id, TotalSize: 1200, Offset: 0, Length: 1200}
	b := hdr.AppendTo(nil)
	b = append(b, payload...)
	r.handleDatagram(b)

	got, err := os.ReadFile(dgramOutPath(outDir, id, 1200))
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestReceiverStreamPath(t *testing.T) {
	src := make([]byte, 5000)
	_, err := rand.Read(src)
	require.NoError(t, err)

	r, outDir := newTestReceiver(t)
	a, b := transport.NewMemoryPair()

	id, err := a.OpenStream(0)
	require.NoError(t, err)

	_, err = a.WriteStream(id, src[:2000], false)
	require.NoError(t, err)
	r.OnStreamReadable(b, id)

	_, err = a.WriteStream(id, src[2000:], true)
	require.NoError(t, err)
	r.OnStreamReadable(b, id)

	require.Equal(t, uint64(5000), r.ReceivedBytes(id))
	got, err := os.ReadFile(filepath.Join(outDir, fmt.Sprintf("%016x.bin", id)))
	require.NoError(t, err)
	require.True(t, bytes.Equal(src, got))
}

func TestReceiverMultipleTransfers(t *testing.T) {
	r, outDir := newTestReceiver(t)

	one := []byte("first transfer payload")
	two := []byte("second transfer payload, different file")
	r.handleDatagram(chunkFor(1, uint64(len(one)), 0, one, true))
	r.handleDatagram(chunkFor(2, uint64(len(two)), 0, two, true))

	gotOne, err := os.ReadFile(dgramOutPath(outDir, 1, uint64(len(one))))
	require.NoError(t, err)
	require.Equal(t, one, gotOne)

	gotTwo, err := os.ReadFile(dgramOutPath(outDir, 2, uint64(len(two))))
	require.NoError(t, err)
	require.Equal(t, two, gotTwo)
}
