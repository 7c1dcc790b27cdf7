package rsp

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"icdi/internal/errs"
)

// QSupported issues qSupported, updates the negotiated max packet size from
// the reply's "PacketSize=<hex>" feature if present, and returns the raw
// feature-list payload.
func (c *Client) QSupported(ctx context.Context) (string, error) {
	payload, err := c.command(ctx, []byte("qSupported"))
	if err != nil {
		return "", fmt.Errorf("qSupported: %w", err)
	}
	if size, ok := parsePacketSize(string(payload)); ok {
		c.maxPacketSize = size
	}
	return string(payload), nil
}

// ExtendedMode issues '!', entering extended-remote mode. Expects OK.
func (c *Client) ExtendedMode(ctx context.Context) error {
	_, err := c.command(ctx, []byte("!"))
	if err != nil {
		return fmt.Errorf("extended mode: %w", err)
	}
	return nil
}

// RemoteCommand issues a host-defined qRcmd string (e.g. "debug disable",
// "debug hreset", "version"), hex-encoding text as the wire requires.
func (c *Client) RemoteCommand(ctx context.Context, text string) (string, error) {
	body := "qRcmd," + encodeHex([]byte(text))
	payload, err := c.command(ctx, []byte(body))
	if err != nil {
		return "", fmt.Errorf("qRcmd %q: %w", text, err)
	}
	return string(payload), nil
}

// Version issues "qRcmd,version" and decodes the hex-encoded ASCII reply,
// trimming trailing newlines and requiring valid UTF-8.
func (c *Client) Version(ctx context.Context) (string, error) {
	payload, err := c.command(ctx, []byte("qRcmd,"+encodeHex([]byte("version"))))
	if err != nil {
		return "", fmt.Errorf("version: %w", err)
	}
	raw, err := fromHex(string(payload))
	if err != nil {
		return "", fmt.Errorf("version: %w", err)
	}
	if !utf8.Valid(raw) {
		return "", errs.New(errs.KindUTF8, "version reply is not valid UTF-8")
	}
	return strings.TrimRight(string(raw), "\r\n"), nil
}

// Continue issues 'c', resuming the target.
func (c *Client) Continue(ctx context.Context) error {
	_, err := c.command(ctx, []byte("c"))
	if err != nil {
		return fmt.Errorf("continue: %w", err)
	}
	return nil
}

// QueryStopReason issues '?', the current stop reason query.
func (c *Client) QueryStopReason(ctx context.Context) error {
	_, err := c.command(ctx, []byte("?"))
	if err != nil {
		return fmt.Errorf("query stop reason: %w", err)
	}
	return nil
}

// Step issues 's', a single instruction step.
func (c *Client) Step(ctx context.Context) error {
	_, err := c.command(ctx, []byte("s"))
	if err != nil {
		return fmt.Errorf("step: %w", err)
	}
	return nil
}

// ReadRegister issues "p<regnum:hex>" and decodes the little-endian 4-byte
// reply into a uint32, per spec.md §4.4.
func (c *Client) ReadRegister(ctx context.Context, regnum int) (uint32, error) {
	body := fmt.Sprintf("p%x", regnum)
	payload, err := c.command(ctx, []byte(body))
	if err != nil {
		return 0, fmt.Errorf("read register %d: %w", regnum, err)
	}
	raw, err := fromHex(string(payload))
	if err != nil {
		return 0, fmt.Errorf("read register %d: %w", regnum, err)
	}
	if len(raw) < 4 {
		return 0, errs.New(errs.KindShortRead, fmt.Sprintf("register reply has %d bytes, want 4", len(raw)))
	}
	return leUint32(raw), nil
}

// WriteRegister issues "P<regnum:hex>=<hex bytes LE>" and, per spec.md §9
// note 2, checks the reply for OK (the FIXME in the original source is not
// carried forward).
func (c *Client) WriteRegister(ctx context.Context, regnum int, value uint32) error {
	var le [4]byte
	putLeUint32(le[:], value)
	body := fmt.Sprintf("P%x=%s", regnum, encodeHex(le[:]))
	_, err := c.command(ctx, []byte(body))
	if err != nil {
		return fmt.Errorf("write register %d: %w", regnum, err)
	}
	return nil
}

// ReadMemory issues "x<addr:8 hex>,<len:8 hex>" and returns the decoded,
// unescaped binary payload. Some firmware prefixes the payload with "OK:";
// both variants are tolerated, per spec.md §4.4 and §9 open question 1.
func (c *Client) ReadMemory(ctx context.Context, addr, length uint32) ([]byte, error) {
	body := fmt.Sprintf("x%s,%s", hex32(addr), hex32(length))
	// Bypass checkCmdResult: the reply is a raw binary payload and may
	// coincidentally start with bytes that look like an "Exx" error.
	payload, err := c.sendPacket(ctx, []byte(body))
	if err != nil {
		return nil, fmt.Errorf("read memory %#x/%d: %w", addr, length, err)
	}
	payload = trimOKPrefix(payload)
	return unescape(payload), nil
}

// WriteMemory issues "X<addr:8 hex>,<len:8 hex>:<escaped bytes>" and
// expects an OK ack.
func (c *Client) WriteMemory(ctx context.Context, addr uint32, data []byte) error {
	var sb strings.Builder
	sb.WriteByte('X')
	sb.WriteString(hex32(addr))
	sb.WriteByte(',')
	sb.WriteString(hex32(uint32(len(data))))
	sb.WriteByte(':')
	sb.Write(escape(data))
	_, err := c.command(ctx, []byte(sb.String()))
	if err != nil {
		return fmt.Errorf("write memory %#x/%d bytes: %w", addr, len(data), err)
	}
	return nil
}

// trimOKPrefix strips a leading "OK:" from a memory-read payload when
// present, tolerating firmware that prefixes the binary payload this way.
func trimOKPrefix(payload []byte) []byte {
	const prefix = "OK:"
	if len(payload) >= len(prefix) && string(payload[:len(prefix)]) == prefix {
		return payload[len(prefix):]
	}
	return payload
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLeUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
