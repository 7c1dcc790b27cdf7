package mem

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"icdi/internal/rsp"
	"icdi/internal/usbchannel"
)

// TestChunkSizeProperty is spec.md §8 property #4: chunk_size(max) <=
// (max-64)/2 and is a multiple of 4, for all max >= 68.
func TestChunkSizeProperty(t *testing.T) {
	for max := uint32(68); max <= 8192; max += 17 {
		cs := ChunkSize(max)
		require.LessOrEqualf(t, cs, (max-64)/2, "max=%d", max)
		require.Zerof(t, cs%4, "max=%d chunk=%d", max, cs)
	}
}

func TestChunkSizeDefault2048(t *testing.T) {
	// ((2048-64)/4*4)/2
	require.EqualValues(t, 992, ChunkSize(2048))
}

func TestChunkSizeTooSmall(t *testing.T) {
	require.EqualValues(t, 0, ChunkSize(0))
	require.EqualValues(t, 0, ChunkSize(64))
}

// fakeDevice is a minimal, address-addressable memory backing for
// memCommands, used to test ReadMem/WriteMem cursor behavior without the
// RSP wire format.
type fakeDevice struct {
	mem    map[uint32]byte
	maxPkt uint32
}

func newFakeDevice(maxPkt uint32) *fakeDevice {
	return &fakeDevice{mem: make(map[uint32]byte), maxPkt: maxPkt}
}

func (f *fakeDevice) MaxPacketSize() uint32 { return f.maxPkt }

func (f *fakeDevice) ReadMemory(_ context.Context, addr, length uint32) ([]byte, error) {
	out := make([]byte, length)
	for i := uint32(0); i < length; i++ {
		out[i] = f.mem[addr+i]
	}
	return out, nil
}

func (f *fakeDevice) WriteMemory(_ context.Context, addr uint32, data []byte) error {
	for i, b := range data {
		f.mem[addr+uint32(i)] = b
	}
	return nil
}

// TestWriteThenReadRoundTrip is spec.md §8 property #5: for any byte vector
// and address, write-then-read of the same length returns the same bytes
// and the cursor (address) advances exactly len(bs).
func TestWriteThenReadRoundTrip(t *testing.T) {
	dev := newFakeDevice(128) // chunk size 32, forces many chunks
	io := New(dev)

	data := make([]byte, 257)
	for i := range data {
		data[i] = byte(i * 7)
	}

	const addr = 0x2000_0100
	require.NoError(t, io.WriteMem(context.Background(), addr, data))

	out := make([]byte, len(data))
	require.NoError(t, io.ReadMem(context.Background(), addr, out))
	require.Equal(t, data, out)

	// Nothing should have leaked to adjacent addresses.
	require.Zero(t, dev.mem[addr-1])
	require.Zero(t, dev.mem[addr+uint32(len(data))])
}

// TestRead32Scenario is scenario S2: reading 8 u32 words at 0x20000000
// issues exactly one outbound x command and decodes little-endian.
func TestRead32Scenario(t *testing.T) {
	wantBytes := make([]byte, 32)
	for i := range wantBytes {
		wantBytes[i] = byte(i + 1)
	}
	fake := usbchannel.NewFake(append(append([]byte("+$"), wantBytes...), []byte("#00")...))
	client := rsp.NewClient(fake)
	io := New(client)

	words := make([]uint32, 8)
	err := io.Read32(context.Background(), 0x2000_0000, words)
	require.NoError(t, err)

	require.Len(t, fake.Writes, 1)
	require.Equal(t, "$x20000000,00000020#a8", string(fake.Writes[0]))

	for i := range words {
		require.Equal(t, binary.LittleEndian.Uint32(wantBytes[i*4:i*4+4]), words[i])
	}
}

func TestRead32ShortReadFails(t *testing.T) {
	short := append([]byte("+$"), append([]byte{0x01, 0x02, 0x03, 0x04}, []byte("#00")...)...)
	fake := usbchannel.NewFake(short) // only 4 raw bytes, want 32
	client := rsp.NewClient(fake)
	io := New(client)

	words := make([]uint32, 8)
	err := io.Read32(context.Background(), 0x2000_0000, words)
	require.Error(t, err)
}
