// Package usbchannel is the thin USB bulk-transport layer (C1) the rest of
// the ICDI driver is built on: enumerate and open an ICDI device by
// vendor/product/serial, then move bytes over its bulk IN/OUT endpoints.
package usbchannel

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/gousb"

	"icdi/internal/errs"
)

const (
	// VendorID is the ICDI probe's USB vendor id.
	VendorID = 0x1CBE
	// ProductID is the ICDI probe's USB product id.
	ProductID = 0x00FD

	interfaceNumber = 0x02
	inEndpoint      = 0x83
	outEndpoint     = 0x02

	// DefaultTimeout is the fixed per-transfer USB bulk timeout.
	DefaultTimeout = 1 * time.Second
)

// Selector names a candidate ICDI device in the host's USB topology. A zero
// Serial matches any serial number.
type Selector struct {
	VendorID  gousb.ID
	ProductID gousb.ID
	Serial    string
}

// DefaultSelector matches any ICDI probe regardless of serial number.
func DefaultSelector() Selector {
	return Selector{VendorID: VendorID, ProductID: ProductID}
}

func (s Selector) matches(desc *gousb.DeviceDesc, serial string) bool {
	if desc.Vendor != s.VendorID || desc.Product != s.ProductID {
		return false
	}
	if s.Serial == "" {
		return true
	}
	return s.Serial == serial
}

// DeviceInfo is an immutable snapshot of one candidate device found during
// enumeration.
type DeviceInfo struct {
	VendorID  gousb.ID
	ProductID gousb.ID
	Serial    string
	Bus       int
	Address   int
}

// Channel is the capability set the rest of the driver needs from a USB
// transport: bulk IN/OUT transfers on an ICDI interface that Open has
// already claimed, the device's serial number, and release. Modeling it as an interface (rather than a concrete gousb
// type) lets higher layers be exercised against a scripted mock without a
// real device attached.
type Channel interface {
	WriteBulk(ctx context.Context, p []byte) (int, error)
	ReadBulk(ctx context.Context, buf []byte) (int, error)
	Serial() string
	Close() error
}

// List enumerates ICDI-class devices currently visible on the host's USB
// bus, independent of any particular selector. Each candidate is briefly
// opened to read its serial number string descriptor, then closed, so a
// caller can tell multiple attached probes apart.
func List() ([]DeviceInfo, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	var infos []DeviceInfo
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == VendorID && desc.Product == ProductID
	})
	for _, d := range devs {
		serial, _ := d.SerialNumber()
		infos = append(infos, DeviceInfo{
			VendorID:  d.Desc.Vendor,
			ProductID: d.Desc.Product,
			Serial:    serial,
			Bus:       d.Desc.Bus,
			Address:   d.Desc.Address,
		})
		d.Close()
	}
	if err != nil {
		return infos, fmt.Errorf("usbchannel: enumerate: %w", err)
	}
	return infos, nil
}

// gousbChannel is the real Channel implementation, backed by libusb via
// gousb, mirroring the claim/endpoint sequence of the teacher's
// OpenUSBDevice (config 1, default-alt interface, explicit IN/OUT endpoint
// numbers) adapted to the ICDI's fixed interface and endpoint numbers.
type gousbChannel struct {
	ctx    *gousb.Context
	dev    *gousb.Device
	cfg    *gousb.Config
	intf   *gousb.Interface
	epIn   *gousb.InEndpoint
	epOut  *gousb.OutEndpoint
	serial string
}

// Open enumerates the host's USB topology for a device matching selector; it
// succeeds only when exactly one candidate matches.
func Open(selector Selector) (Channel, error) {
	if selector.VendorID == 0 {
		selector.VendorID = VendorID
	}
	if selector.ProductID == 0 {
		selector.ProductID = ProductID
	}

	ctx := gousb.NewContext()

	var candidates []*gousb.Device
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == selector.VendorID && desc.Product == selector.ProductID
	})
	for _, d := range devs {
		serial, _ := d.SerialNumber()
		if selector.matches(d.Desc, serial) {
			candidates = append(candidates, d)
		} else {
			d.Close()
		}
	}
	if err != nil && len(candidates) == 0 {
		ctx.Close()
		return nil, fmt.Errorf("usbchannel: open: %w", err)
	}

	if len(candidates) == 0 {
		ctx.Close()
		return nil, errs.New(errs.KindNotFound, "no ICDI device matched selector")
	}
	if len(candidates) > 1 {
		for _, d := range candidates {
			d.Close()
		}
		ctx.Close()
		return nil, errs.New(errs.KindNotFound, "multiple ICDI devices matched selector, pass a serial number")
	}

	dev := candidates[0]
	serial, _ := dev.SerialNumber()

	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbchannel: set config: %w", err)
	}

	intf, err := cfg.Interface(interfaceNumber, 0)
	if err != nil {
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbchannel: claim interface %#x: %w", interfaceNumber, err)
	}

	epOut, err := intf.OutEndpoint(outEndpoint)
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbchannel: open OUT endpoint %#x: %w", outEndpoint, err)
	}

	epIn, err := intf.InEndpoint(inEndpoint)
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbchannel: open IN endpoint %#x: %w", inEndpoint, err)
	}

	log.Printf("usbchannel: opened ICDI probe serial=%q", serial)

	return &gousbChannel{
		ctx:    ctx,
		dev:    dev,
		cfg:    cfg,
		intf:   intf,
		epIn:   epIn,
		epOut:  epOut,
		serial: serial,
	}, nil
}

func (c *gousbChannel) Serial() string { return c.serial }

// WriteBulk writes p to the OUT endpoint. A short write (n != len(p)) is
// always fatal, per spec.
func (c *gousbChannel) WriteBulk(ctx context.Context, p []byte) (int, error) {
	n, err := c.epOut.WriteContext(ctx, p)
	if err != nil {
		return n, fmt.Errorf("usbchannel: bulk write: %w", err)
	}
	if n != len(p) {
		return n, errs.New(errs.KindTransportWrite, fmt.Sprintf("short write: sent %d of %d bytes", n, len(p)))
	}
	return n, nil
}

// ReadBulk reads into buf from the IN endpoint, returning whatever bytes
// arrived before ctx's deadline.
func (c *gousbChannel) ReadBulk(ctx context.Context, buf []byte) (int, error) {
	n, err := c.epIn.ReadContext(ctx, buf)
	if err != nil {
		return n, fmt.Errorf("usbchannel: bulk read: %w", err)
	}
	return n, nil
}

// Close releases the interface, config, device and libusb context in that
// order, the reverse of acquisition.
func (c *gousbChannel) Close() error {
	if c.intf != nil {
		c.intf.Close()
	}
	if c.cfg != nil {
		c.cfg.Close()
	}
	var err error
	if c.dev != nil {
		err = c.dev.Close()
	}
	if c.ctx != nil {
		c.ctx.Close()
	}
	return err
}
