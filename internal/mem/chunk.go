// Package mem implements chunking memory I/O (C5): it segments
// arbitrary-length address-space reads and writes into protocol-sized
// chunks dictated by the negotiated RSP packet size, and reassembles them
// on the caller's side.
package mem

import (
	"context"
	"encoding/binary"
	"fmt"

	"icdi/internal/errs"
)

// memCommands is the subset of internal/rsp.Client this package depends on,
// so chunk-size arithmetic and reassembly can be unit tested against a
// minimal fake without pulling in the whole RSP command surface.
type memCommands interface {
	MaxPacketSize() uint32
	ReadMemory(ctx context.Context, addr, length uint32) ([]byte, error)
	WriteMemory(ctx context.Context, addr uint32, data []byte) error
}

// ChunkSize derives the maximum binary memory payload per RSP x/X request
// from the negotiated max packet size, per spec.md §3: leaving room for the
// "Xaaaaaaaa,llllllll:" header and checksum trailer.
func ChunkSize(maxPacketSize uint32) uint32 {
	if maxPacketSize <= 64 {
		return 0
	}
	return ((maxPacketSize-64)/4*4) / 2
}

// IO provides chunked memory read/write built on top of an rsp.Client.
type IO struct {
	cmds memCommands
}

// New wraps an rsp.Client (or any type satisfying memCommands) with
// chunked memory I/O.
func New(cmds memCommands) *IO {
	return &IO{cmds: cmds}
}

// ReadMem reads len(out) bytes starting at addr into out, walking the
// address space in chunks of at most ChunkSize(maxPacketSize) bytes. Per
// spec.md §5, the cursor advances atomically per chunk and any chunk
// failure leaves the target memory region's contents indeterminate.
func (m *IO) ReadMem(ctx context.Context, addr uint32, out []byte) error {
	chunk := ChunkSize(m.cmds.MaxPacketSize())
	if chunk == 0 {
		return errs.New(errs.KindShortRead, "negotiated packet size too small for any memory chunk")
	}

	for off := 0; off < len(out); {
		n := len(out) - off
		if uint32(n) > chunk {
			n = int(chunk)
		}

		data, err := m.cmds.ReadMemory(ctx, addr, uint32(n))
		if err != nil {
			return fmt.Errorf("mem: read chunk at %#x: %w", addr, err)
		}
		if len(data) != n {
			return fmt.Errorf("mem: read chunk at %#x: %w",
				addr, errs.New(errs.KindShortRead, fmt.Sprintf("decoded %d bytes, wanted %d", len(data), n)))
		}

		copy(out[off:off+n], data)
		addr += uint32(n)
		off += n
	}
	return nil
}

// WriteMem writes data starting at addr, walking it in chunks of at most
// ChunkSize(maxPacketSize) bytes, symmetric to ReadMem.
func (m *IO) WriteMem(ctx context.Context, addr uint32, data []byte) error {
	chunk := ChunkSize(m.cmds.MaxPacketSize())
	if chunk == 0 {
		return errs.New(errs.KindShortRead, "negotiated packet size too small for any memory chunk")
	}

	for off := 0; off < len(data); {
		n := len(data) - off
		if uint32(n) > chunk {
			n = int(chunk)
		}

		if err := m.cmds.WriteMemory(ctx, addr, data[off:off+n]); err != nil {
			return fmt.Errorf("mem: write chunk at %#x: %w", addr, err)
		}

		addr += uint32(n)
		off += n
	}
	return nil
}

// Read32 reads len(words) consecutive little-endian 32-bit words starting
// at addr, built on ReadMem per spec.md §4.5.
func (m *IO) Read32(ctx context.Context, addr uint32, words []uint32) error {
	raw := make([]byte, 4*len(words))
	if err := m.ReadMem(ctx, addr, raw); err != nil {
		return err
	}
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
	}
	return nil
}

// Write32 serializes each word little-endian and writes them as a single
// contiguous WriteMem call.
func (m *IO) Write32(ctx context.Context, addr uint32, words []uint32) error {
	raw := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(raw[i*4:i*4+4], w)
	}
	return m.WriteMem(ctx, addr, raw)
}

// WriteDebugReg writes a single 32-bit debug register at addr.
func (m *IO) WriteDebugReg(ctx context.Context, addr uint32, value uint32) error {
	var raw [4]byte
	binary.LittleEndian.PutUint32(raw[:], value)
	return m.WriteMem(ctx, addr, raw[:])
}
