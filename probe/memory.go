package probe

import (
	"context"
	"fmt"
)

// MemoryInterface is a view over a Probe's memory and core-register access.
// It exists as a separate type so callers working purely in terms of memory
// operations do not need the rest of the Probe façade in scope.
type MemoryInterface struct {
	p *Probe
}

// ReadMem8 reads len(out) bytes starting at addr.
func (m *MemoryInterface) ReadMem8(ctx context.Context, addr uint32, out []byte) error {
	if err := m.p.requireAttached("read memory"); err != nil {
		return err
	}
	if err := m.p.mem.ReadMem(ctx, addr, out); err != nil {
		return fmt.Errorf("probe: read mem8 %#x: %w", addr, err)
	}
	return nil
}

// WriteMem8 writes data starting at addr.
func (m *MemoryInterface) WriteMem8(ctx context.Context, addr uint32, data []byte) error {
	if err := m.p.requireAttached("write memory"); err != nil {
		return err
	}
	if err := m.p.mem.WriteMem(ctx, addr, data); err != nil {
		return fmt.Errorf("probe: write mem8 %#x: %w", addr, err)
	}
	return nil
}

// ReadMem32 reads len(words) consecutive little-endian 32-bit words
// starting at addr.
func (m *MemoryInterface) ReadMem32(ctx context.Context, addr uint32, words []uint32) error {
	if err := m.p.requireAttached("read memory"); err != nil {
		return err
	}
	if err := m.p.mem.Read32(ctx, addr, words); err != nil {
		return fmt.Errorf("probe: read mem32 %#x: %w", addr, err)
	}
	return nil
}

// WriteMem32 writes words as consecutive little-endian 32-bit words
// starting at addr.
func (m *MemoryInterface) WriteMem32(ctx context.Context, addr uint32, words []uint32) error {
	if err := m.p.requireAttached("write memory"); err != nil {
		return err
	}
	if err := m.p.mem.Write32(ctx, addr, words); err != nil {
		return fmt.Errorf("probe: write mem32 %#x: %w", addr, err)
	}
	return nil
}

// ReadCoreReg reads core register regnum (per the target's GDB register
// numbering).
func (m *MemoryInterface) ReadCoreReg(ctx context.Context, regnum int) (uint32, error) {
	if err := m.p.requireAttached("read core register"); err != nil {
		return 0, err
	}
	v, err := m.p.c.ReadRegister(ctx, regnum)
	if err != nil {
		return 0, fmt.Errorf("probe: read core reg %d: %w", regnum, err)
	}
	return v, nil
}

// WriteCoreReg writes value to core register regnum.
func (m *MemoryInterface) WriteCoreReg(ctx context.Context, regnum int, value uint32) error {
	if err := m.p.requireAttached("write core register"); err != nil {
		return err
	}
	if err := m.p.c.WriteRegister(ctx, regnum, value); err != nil {
		return fmt.Errorf("probe: write core reg %d: %w", regnum, err)
	}
	return nil
}
