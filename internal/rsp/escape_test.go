package rsp

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEscapeKnownBytes(t *testing.T) {
	in := []byte{0x23, 0x24, 0x7d, 0x2a} // '#', '$', '}', '*'
	want := []byte{'}', 0x23 ^ 0x20, '}', 0x24 ^ 0x20, '}', 0x7d ^ 0x20, '}', 0x2a ^ 0x20}
	require.Equal(t, want, escape(in))
}

func TestEscapeRoundTrip(t *testing.T) {
	vectors := [][]byte{
		{},
		{0x00},
		[]byte("hello world"),
		{'$', '#', '}', '*'},
		{0x23, 0x24, 0x7d, 0x2a, 0x00, 0xff, 0x7d, 0x7d},
		bytes.Repeat([]byte{'$', 'a', '#', 'b', '}', 'c', '*', 'd'}, 16),
	}
	for _, v := range vectors {
		require.Equal(t, v, unescape(escape(v)))
	}
}

// TestEscapeOutputNeverRaw checks spec.md §8 property 2: an escaped byte
// (one that needed escaping) never appears on the wire except as the
// second byte of a }-prefixed pair, since the XOR 0x20 transform can never
// itself produce one of the four special values.
func TestEscapeOutputNeverRaw(t *testing.T) {
	in := bytes.Repeat([]byte{'$', '#', '}', '*', 'x'}, 32)
	escaped := escape(in)

	for i := 0; i < len(escaped); i++ {
		b := escaped[i]
		if !needsEscape(b) {
			continue
		}
		if b == escapeByte {
			require.Less(t, i+1, len(escaped), "trailing escape byte with no payload")
			i++ // skip the XORed payload byte
			continue
		}
		t.Fatalf("raw special byte %q found unescaped at %d", b, i)
	}
}
