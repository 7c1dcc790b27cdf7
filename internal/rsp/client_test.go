package rsp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"icdi/internal/errs"
	"icdi/internal/usbchannel"
)

// TestAttachSequence is scenario S1: attach sends qSupported then !, and
// qSupported's PacketSize feature updates the negotiated max packet size.
func TestAttachSequence(t *testing.T) {
	fake := usbchannel.NewFake(
		[]byte("+$PacketSize=400;qXfer:memory-map:read+#7a"),
		[]byte("+$OK#9a"),
	)
	c := NewClient(fake)

	_, err := c.QSupported(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 0x400, c.MaxPacketSize())

	err = c.ExtendedMode(context.Background())
	require.NoError(t, err)

	require.Len(t, fake.Writes, 2)
	require.Equal(t, "$qSupported#37", string(fake.Writes[0]))
	require.Equal(t, "$!#21", string(fake.Writes[1]))
}

// TestWriteMemoryEscaping is scenario S3.
func TestWriteMemoryEscaping(t *testing.T) {
	fake := usbchannel.NewFake([]byte("+$OK#9a"))
	c := NewClient(fake)

	err := c.WriteMemory(context.Background(), 0x1000, []byte{0x23, 0x24, 0x7d, 0x2a})
	require.NoError(t, err)

	require.Len(t, fake.Writes, 1)
	require.Equal(t, "$X00001000,00000004:}\x03}\x04}\x5d}\x0a#25", string(fake.Writes[0]))
}

// TestAckRetry is scenario S5: a '-' nack triggers an identical resend.
// TestAckRetryExhausted covers three consecutive '-' surfacing TooManyRetries.
func TestAckRetry(t *testing.T) {
	fake := usbchannel.NewFake([]byte("-"), []byte("+$OK#9a"))
	c := NewClient(fake)

	err := c.Continue(context.Background())
	require.NoError(t, err)
	require.Len(t, fake.Writes, 2)
	require.Equal(t, fake.Writes[0], fake.Writes[1])
}

func TestAckRetryExhausted(t *testing.T) {
	fake := usbchannel.NewFake([]byte("-"), []byte("-"), []byte("-"))
	c := NewClient(fake)

	err := c.Continue(context.Background())
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindTooManyRetries))
	require.Len(t, fake.Writes, 3)
}

// TestRunCommandFailed is scenario S6.
func TestRunCommandFailed(t *testing.T) {
	fake := usbchannel.NewFake([]byte("+$E05#xx"))
	c := NewClient(fake)

	err := c.Continue(context.Background())
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindCommandFailed))

	var aerr *errs.Error
	require.ErrorAs(t, err, &aerr)
	require.Equal(t, 5, aerr.Code)
}

// TestReadRegisterRoundTrip is property #3: parse_register(hex(v LE)) == v.
func TestReadRegisterRoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 1, 0xdeadbeef, 0xffffffff, 0x20000000} {
		var le [4]byte
		putLeUint32(le[:], v)
		fake := usbchannel.NewFake([]byte("+$" + encodeHex(le[:]) + "#00"))
		c := NewClient(fake)

		got, err := c.ReadRegister(context.Background(), 0)
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

func TestReadMemoryToleratesOKPrefix(t *testing.T) {
	raw := []byte{0x01, 0x02, 0x03, 0x04}

	withoutPrefix := usbchannel.NewFake(append([]byte("+$"), append(escape(raw), []byte("#00")...)...))
	c1 := NewClient(withoutPrefix)
	got, err := c1.ReadMemory(context.Background(), 0x2000, 4)
	require.NoError(t, err)
	require.Equal(t, raw, got)

	withPrefix := usbchannel.NewFake(append([]byte("+$OK:"), append(escape(raw), []byte("#00")...)...))
	c2 := NewClient(withPrefix)
	got2, err := c2.ReadMemory(context.Background(), 0x2000, 4)
	require.NoError(t, err)
	require.Equal(t, raw, got2)
}

func TestVersionDecodesAndTrims(t *testing.T) {
	fake := usbchannel.NewFake([]byte("+$" + encodeHex([]byte("1.2.3\n")) + "#00"))
	c := NewClient(fake)

	v, err := c.Version(context.Background())
	require.NoError(t, err)
	require.Equal(t, "1.2.3", v)
}
