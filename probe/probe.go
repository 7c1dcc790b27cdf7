package probe

import (
	"context"
	"fmt"

	"icdi/internal/errs"
	"icdi/internal/mem"
	"icdi/internal/rsp"
	"icdi/internal/usbchannel"
)

const (
	// dhcsrAddr is the Debug Halting Control and Status Register address.
	dhcsrAddr = 0xE000EDF0
	// sHaltBit is DHCSR bit 17, set while the core is halted.
	sHaltBit = 1 << 17

	// romTableBase is the CoreSight ROM table base this ICDI's single
	// memory AP exposes; identification via that table belongs to the
	// external ARM-debug subsystem, not this driver.
	romTableBase = 0xE00FF000

	// defaultSpeedKHz is the fixed TCK-equivalent speed reported until
	// SetSpeed is implemented (it never will be: see SetSpeed).
	defaultSpeedKHz = 1120
)

// Probe is a single, exclusively-owned ICDI probe handle. All operations
// on a Probe are strictly sequential; there is no concurrent use.
type Probe struct {
	ch    usbchannel.Channel
	c     *rsp.Client
	mem   *mem.IO
	state State
	proto Protocol
	speed uint32
}

// Open claims an ICDI device matching selector and returns a handle in
// StateCreated. Call Attach before any target-control operation.
func Open(selector usbchannel.Selector) (*Probe, error) {
	ch, err := usbchannel.Open(selector)
	if err != nil {
		return nil, fmt.Errorf("probe: open: %w", err)
	}
	client := rsp.NewClient(ch)
	return &Probe{
		ch:    ch,
		c:     client,
		mem:   mem.New(client),
		state: StateCreated,
		proto: JTAG,
		speed: defaultSpeedKHz,
	}, nil
}

// Serial returns the opened device's serial number.
func (p *Probe) Serial() string { return p.ch.Serial() }

// LifecycleState reports the probe handle's own lifecycle state (not the target's
// halted/running state — see TargetState).
func (p *Probe) LifecycleState() State { return p.state }

func (p *Probe) requireAttached(op string) error {
	if p.state != StateAttached {
		return errs.New(errs.KindUnsupportedOperation,
			fmt.Sprintf("%s requires an attached probe, current state is %s", op, p.state))
	}
	return nil
}

// Attach negotiates the packet size via qSupported and enters extended
// mode. It is idempotent within a session: calling it again while already
// attached is a no-op.
func (p *Probe) Attach(ctx context.Context) error {
	if p.state == StateAttached {
		return nil
	}
	if p.state == StateDetached {
		return errs.New(errs.KindUnsupportedOperation, "cannot attach a detached probe")
	}

	if _, err := p.c.QSupported(ctx); err != nil {
		return fmt.Errorf("probe: attach: %w", err)
	}
	if err := p.c.ExtendedMode(ctx); err != nil {
		return fmt.Errorf("probe: attach: %w", err)
	}

	p.state = StateAttached
	return nil
}

// Detach disables debug on the target. It is terminal: no further
// operations are valid on this handle afterward.
func (p *Probe) Detach(ctx context.Context) error {
	if err := p.requireAttached("detach"); err != nil {
		return err
	}
	if _, err := p.c.RemoteCommand(ctx, "debug disable"); err != nil {
		return fmt.Errorf("probe: detach: %w", err)
	}
	p.state = StateDetached
	return nil
}

// TargetReset issues a hard reset of the target.
func (p *Probe) TargetReset(ctx context.Context) error {
	if err := p.requireAttached("target reset"); err != nil {
		return err
	}
	if _, err := p.c.RemoteCommand(ctx, "debug hreset"); err != nil {
		return fmt.Errorf("probe: target reset: %w", err)
	}
	return nil
}

// TargetResetAssert asserts (holds) the target reset line.
func (p *Probe) TargetResetAssert(ctx context.Context) error {
	if err := p.requireAttached("target reset assert"); err != nil {
		return err
	}
	if _, err := p.c.RemoteCommand(ctx, "debug sreset"); err != nil {
		return fmt.Errorf("probe: target reset assert: %w", err)
	}
	return nil
}

// TargetResetDeassert releases the target reset line. Per the source this
// is the same remote command as TargetReset.
func (p *Probe) TargetResetDeassert(ctx context.Context) error {
	if err := p.requireAttached("target reset deassert"); err != nil {
		return err
	}
	if _, err := p.c.RemoteCommand(ctx, "debug hreset"); err != nil {
		return fmt.Errorf("probe: target reset deassert: %w", err)
	}
	return nil
}

// SelectProtocol accepts only JTAG; any other protocol, including SWD, is
// rejected with UnsupportedProtocol since the ICDI's RSP command set has no
// SWD-specific commands to switch to.
func (p *Probe) SelectProtocol(proto Protocol) error {
	if proto != JTAG {
		return errs.New(errs.KindUnsupportedProtocol, fmt.Sprintf("protocol %s is not supported by this probe", proto))
	}
	p.proto = proto
	return nil
}

// HasARMInterface always reports true: the ICDI only ever talks to
// Cortex-M ARM targets.
func (p *Probe) HasARMInterface() bool { return true }

// Speed returns the probe's fixed TCK-equivalent speed in kHz.
func (p *Probe) Speed() uint32 { return p.speed }

// SetSpeed is unsupported: the ICDI host side never adjusts TCK frequency.
// A "debug speed <n>" remote command exists on the wire but whether to
// wire it to this call is unspecified by the source (spec.md §9 open
// question 3); it is left unwired.
func (p *Probe) SetSpeed(khz uint32) error {
	return errs.New(errs.KindUnsupportedSpeed, "set_speed is not supported by this probe")
}

// Run resumes the target ('c').
func (p *Probe) Run(ctx context.Context) error {
	if err := p.requireAttached("run"); err != nil {
		return err
	}
	if err := p.c.Continue(ctx); err != nil {
		return fmt.Errorf("probe: run: %w", err)
	}
	return nil
}

// Halt queries the current stop reason ('?'), which also has the side
// effect of halting a running target on most ICDI firmware.
func (p *Probe) Halt(ctx context.Context) error {
	if err := p.requireAttached("halt"); err != nil {
		return err
	}
	if err := p.c.QueryStopReason(ctx); err != nil {
		return fmt.Errorf("probe: halt: %w", err)
	}
	return nil
}

// Step single-steps the target ('s').
func (p *Probe) Step(ctx context.Context) error {
	if err := p.requireAttached("step"); err != nil {
		return err
	}
	if err := p.c.Step(ctx); err != nil {
		return fmt.Errorf("probe: step: %w", err)
	}
	return nil
}

// TargetState reads the DHCSR and reports Halted iff S_HALT is set.
func (p *Probe) TargetState(ctx context.Context) (TargetState, error) {
	if err := p.requireAttached("state"); err != nil {
		return Running, err
	}
	var words [1]uint32
	if err := p.mem.Read32(ctx, dhcsrAddr, words[:]); err != nil {
		return Running, fmt.Errorf("probe: state: %w", err)
	}
	if words[0]&sHaltBit != 0 {
		return Halted, nil
	}
	return Running, nil
}

// Flush is a no-op: the RSP transport has no write-behind buffering.
func (p *Probe) Flush(_ context.Context) error { return nil }

// NumAccessPorts reports the single memory access port this probe exposes.
func (p *Probe) NumAccessPorts() int { return 1 }

// APInformation returns the fixed descriptor for access port 0; any other
// port number has no descriptor.
func (p *Probe) APInformation(port int) (APInfo, bool) {
	if port != 0 {
		return APInfo{}, false
	}
	return APInfo{
		MemoryAP:      true,
		BaseAddress:   romTableBase,
		Supports8Bit:  true,
		Supports32Bit: true,
	}, true
}

// MemoryInterface returns a view routing 8/32-bit memory and core-register
// access through this probe. The ap argument is ignored: the ICDI exposes
// a single memory access port numbered 0.
func (p *Probe) MemoryInterface(_ int) *MemoryInterface {
	return &MemoryInterface{p: p}
}

// Close releases the underlying USB handle. It is safe to call regardless
// of lifecycle state.
func (p *Probe) Close() error {
	return p.ch.Close()
}
