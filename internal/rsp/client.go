// Package rsp implements the GDB Remote Serial Protocol dialect the ICDI
// speaks: packet framing and checksums (C2), response-frame accumulation
// and classification (C3), and the RSP command vocabulary the driver issues
// (C4) — qSupported, !, qRcmd, c, s, ?, p, P, x, X.
package rsp

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"icdi/internal/errs"
	"icdi/internal/usbchannel"
)

const (
	// maxAckAttempts bounds the ack-retry loop: up to 3 total attempts
	// before TooManyRetries, per spec.md §4.2/§7.
	maxAckAttempts = 3

	// defaultMaxPacketSize is used until qSupported negotiates one.
	defaultMaxPacketSize = 2048
)

// Client issues RSP commands over a usbchannel.Channel, owning the single
// in-flight transaction invariant: a reply is fully consumed before the
// next request is framed.
type Client struct {
	ch            usbchannel.Channel
	timeout       time.Duration
	maxPacketSize uint32
	Verbose       bool
}

// NewClient wraps ch with the RSP command layer. The negotiated packet
// size starts at the spec default until a qSupported exchange updates it.
func NewClient(ch usbchannel.Channel) *Client {
	return &Client{
		ch:            ch,
		timeout:       usbchannel.DefaultTimeout,
		maxPacketSize: defaultMaxPacketSize,
	}
}

// MaxPacketSize returns the negotiated maximum RSP packet size.
func (c *Client) MaxPacketSize() uint32 { return c.maxPacketSize }

func (c *Client) logf(format string, args ...any) {
	if c.Verbose {
		log.Printf("rsp: "+format, args...)
	}
}

// checksum computes sum(body) mod 256, per spec.md §3.
func checksum(body []byte) byte {
	var sum byte
	for _, b := range body {
		sum += b
	}
	return sum
}

// frame wraps body (the RSP command, with no leading '$') as "$body#cc".
func frame(body []byte) []byte {
	var sb strings.Builder
	sb.Grow(len(body) + 4)
	sb.WriteByte('$')
	sb.Write(body)
	sb.WriteByte('#')
	sb.WriteByte(hexDigits[checksum(body)>>4])
	sb.WriteByte(hexDigits[checksum(body)&0x0f])
	return []byte(sb.String())
}

// readFrame reads bulk-IN transfers into a fresh response buffer. The ack
// byte ('+' or '-') is expected to arrive first: a '-' is recognized as
// soon as it is seen, without waiting for a full frame to follow (none
// will), while anything else accumulates until a complete RSP frame is
// present — tolerant of firmware that omits the ack and replies directly.
func (c *Client) readFrame(ctx context.Context) (rb *responseBuffer, nack bool, err error) {
	rb = newResponseBuffer()
	buf := make([]byte, minBufferCap)
	for {
		readCtx, cancel := context.WithTimeout(ctx, c.timeout)
		n, err := c.ch.ReadBulk(readCtx, buf)
		cancel()
		if err != nil {
			return nil, false, errs.New(errs.KindTransportRead, "bulk read failed", err.Error())
		}
		rb.feed(buf[:n])

		if first, ok := rb.firstByte(); ok && first == '-' {
			return rb, true, nil
		}
		if rb.complete() {
			return rb, false, nil
		}
		if rb.exhausted() {
			return nil, false, errs.New(errs.KindFraming, "response buffer exhausted before checksum byte arrived")
		}
	}
}

// sendPacket sends body as a framed RSP packet and returns the accumulated
// reply's raw payload (the bytes between '$' and the last '#'), after
// resolving the ack handshake. It is the sole retry point in the driver:
// a '-' ack triggers an identical resend, bounded at maxAckAttempts.
func (c *Client) sendPacket(ctx context.Context, body []byte) ([]byte, error) {
	pkt := frame(body)

	for attempt := 1; attempt <= maxAckAttempts; attempt++ {
		c.logf("-> %s (attempt %d)", pkt, attempt)

		writeCtx, cancel := context.WithTimeout(ctx, c.timeout)
		_, err := c.ch.WriteBulk(writeCtx, pkt)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("rsp: send %q: %w", body, err)
		}

		rb, nack, err := c.readFrame(ctx)
		if err != nil {
			return nil, fmt.Errorf("rsp: send %q: %w", body, err)
		}
		if nack {
			c.logf("<- nack, resending")
			continue
		}

		payload, err := rb.payload()
		if err != nil {
			return nil, fmt.Errorf("rsp: send %q: %w", body, err)
		}
		return payload, nil
	}

	return nil, errs.New(errs.KindTooManyRetries, fmt.Sprintf("no ack after %d attempts", maxAckAttempts), string(body))
}

// command sends body and classifies the reply with checkCmdResult,
// returning the raw payload on success for callers that need to inspect it
// further (e.g. qSupported's feature list).
func (c *Client) command(ctx context.Context, body []byte) ([]byte, error) {
	payload, err := c.sendPacket(ctx, body)
	if err != nil {
		return nil, err
	}
	if err := checkCmdResult(payload); err != nil {
		return payload, fmt.Errorf("rsp: command %q: %w", body, err)
	}
	return payload, nil
}

// parsePacketSize extracts "PacketSize=<hex>" from a qSupported feature
// list, returning 0 if absent.
func parsePacketSize(payload string) (uint32, bool) {
	for _, feature := range strings.Split(payload, ";") {
		if !strings.HasPrefix(feature, "PacketSize=") {
			continue
		}
		v, err := strconv.ParseUint(strings.TrimPrefix(feature, "PacketSize="), 16, 32)
		if err != nil {
			continue
		}
		return uint32(v), true
	}
	return 0, false
}
