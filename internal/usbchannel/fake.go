package usbchannel

import (
	"context"
	"fmt"
)

// Fake is a scripted Channel used to test the layers built on top of
// usbchannel without a real ICDI device attached: each WriteBulk call
// records the frame sent, and each ReadBulk call serves the next byte
// string from Replies.
type Fake struct {
	Replies [][]byte
	Writes  [][]byte

	readPos  int
	readOff  int
	SerialNo string
}

// NewFake builds a Fake channel that will serve replies in order.
func NewFake(replies ...[]byte) *Fake {
	return &Fake{Replies: replies}
}

func (f *Fake) WriteBulk(_ context.Context, p []byte) (int, error) {
	cp := make([]byte, len(p))
	copy(cp, p)
	f.Writes = append(f.Writes, cp)
	return len(p), nil
}

func (f *Fake) ReadBulk(_ context.Context, buf []byte) (int, error) {
	if f.readPos >= len(f.Replies) {
		return 0, fmt.Errorf("usbchannel: fake: no more scripted replies")
	}
	reply := f.Replies[f.readPos]
	n := copy(buf, reply[f.readOff:])
	f.readOff += n
	if f.readOff >= len(reply) {
		f.readPos++
		f.readOff = 0
	}
	return n, nil
}

func (f *Fake) Serial() string { return f.SerialNo }

func (f *Fake) Close() error { return nil }
