package rsp

import (
	"bytes"
	"strconv"

	"icdi/internal/errs"
)

// minBufferCap is the smallest capacity a response buffer is allowed: at
// least 2048 bytes per spec.md §3/§4.3.
const minBufferCap = 2048

// responseBuffer accumulates bulk-IN reads until a full RSP frame is
// present, then exposes the payload between the first '$' and the last
// '#'.
type responseBuffer struct {
	buf []byte
	cap int
}

func newResponseBuffer() *responseBuffer {
	return &responseBuffer{cap: minBufferCap}
}

func (r *responseBuffer) reset() {
	r.buf = r.buf[:0]
}

// feed appends newly read bytes and reports whether the buffer now holds a
// complete frame: at least 3 bytes with '#' three bytes from the end
// (the checksum byte has fully arrived).
func (r *responseBuffer) feed(b []byte) bool {
	r.buf = append(r.buf, b...)
	return r.complete()
}

func (r *responseBuffer) complete() bool {
	n := len(r.buf)
	return n >= 3 && r.buf[n-3] == '#'
}

// exhausted reports whether the buffer has grown past its capacity without
// completing — a framing error per spec.md §4.3.
func (r *responseBuffer) exhausted() bool {
	return len(r.buf) > r.cap
}

// payload returns the slice strictly between the first '$' and the last
// '#' in the accumulated buffer.
func (r *responseBuffer) payload() ([]byte, error) {
	first := bytes.IndexByte(r.buf, '$')
	last := bytes.LastIndexByte(r.buf, '#')
	if first < 0 || last < 0 || last <= first {
		return nil, errs.New(errs.KindFraming, "response missing '$' or '#' delimiter")
	}
	return r.buf[first+1 : last], nil
}

// firstByte returns the very first byte received, used by the ack loop to
// distinguish '+' / '-' / an un-acked reply.
func (r *responseBuffer) firstByte() (byte, bool) {
	if len(r.buf) == 0 {
		return 0, false
	}
	return r.buf[0], true
}

// checkCmdResult classifies a command-reply payload per spec.md §4.3:
// empty -> EmptyResponse, "OK" prefix -> success, "Exx" -> CommandFailed,
// anything else is treated as success so data-returning replies can also
// pass through this helper.
func checkCmdResult(payload []byte) error {
	if len(payload) == 0 {
		return errs.New(errs.KindEmptyResponse, "empty RSP reply payload")
	}
	if bytes.HasPrefix(payload, []byte("OK")) {
		return nil
	}
	if payload[0] == 'E' && len(payload) >= 3 {
		code, err := strconv.ParseUint(string(payload[1:3]), 16, 8)
		if err == nil {
			return errs.CommandFailed(int(code))
		}
	}
	return nil
}
