package framer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMBAPBuildLayout(t *testing.T) {
	f := NewMBAP()

	request := f.Build(0x01, []byte{0x03, 0x00, 0x00, 0x00, 0x01}, 0x0100)
	require.Equal(t,
		[]byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x06, 0x01, 0x03, 0x00, 0x00, 0x00, 0x01},
		request)

	response := f.Build(0x01, []byte{0x03, 0x02, 0x00, 0x11}, 0x0100)
	require.Equal(t,
		[]byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x05, 0x01, 0x03, 0x02, 0x00, 0x11},
		response)
}

func TestMBAPRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		dev  uint8
		pdu  []byte
		tid  uint16
	}{
		{"read holding", 0x01, []byte{0x03, 0x00, 0x00, 0x00, 0x01}, 1},
		{"read response", 0x11, []byte{0x03, 0x02, 0x00, 0x11}, 0xABCD},
		{"exception", 0x01, []byte{0x83, 0x02}, 7},
		{"max unit id", 0xFF, []byte{0x07}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewMBAP()
			frames := f.Feed(f.Build(tt.dev, tt.pdu, tt.tid))
			require.Len(t, frames, 1)
			assert.Equal(t, tt.dev, frames[0].DeviceID)
			assert.Equal(t, tt.pdu, frames[0].PDU)
			assert.Equal(t, tt.tid, frames[0].TransactionID)
		})
	}
}

func TestMBAPFragmentedFeed(t *testing.T) {
	f := NewMBAP()
	adu := f.Build(0x05, []byte{0x04, 0x00, 0x10, 0x00, 0x02}, 0x0042)

	var frames []Frame
	for _, b := range adu {
		frames = append(frames, f.Feed([]byte{b})...)
	}
	require.Len(t, frames, 1)
	assert.Equal(t, uint8(0x05), frames[0].DeviceID)
	assert.Equal(t, uint16(0x0042), frames[0].TransactionID)
}

func TestMBAPPipelinedFrames(t *testing.T) {
	f := NewMBAP()
	stream := append(f.Build(1, []byte{0x03, 0x00, 0x00, 0x00, 0x01}, 1),
		f.Build(2, []byte{0x01, 0x00, 0x00, 0x00, 0x08}, 2)...)
	frames := f.Feed(stream)
	require.Len(t, frames, 2)
	assert.Equal(t, uint16(1), frames[0].TransactionID)
	assert.Equal(t, uint16(2), frames[1].TransactionID)
}

func TestMBAPDropsNonzeroProtocolID(t *testing.T) {
	f := NewMBAP()
	bad := f.Build(1, []byte{0x03, 0x00, 0x00, 0x00, 0x01}, 1)
	bad[2] = 0x12 // protocol id high byte
	good := f.Build(1, []byte{0x03, 0x00, 0x00, 0x00, 0x01}, 2)

	frames := f.Feed(append(bad, good...))
	require.Len(t, frames, 1)
	assert.Equal(t, uint16(2), frames[0].TransactionID)
}

func TestRTUBuildAppendsCRCLowByteFirst(t *testing.T) {
	f := NewRTU(DecodeRequests)
	adu := f.Build(0x01, []byte{0x03, 0x00, 0x00, 0x00, 0x01}, 0)
	require.Len(t, adu, 8)
	crc := CRC16(adu[:6])
	assert.Equal(t, byte(crc), adu[6])
	assert.Equal(t, byte(crc>>8), adu[7])
}

func TestRTURequestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		pdu  []byte
	}{
		{"read coils", []byte{0x01, 0x00, 0x01, 0x00, 0x15}},
		{"write single reg", []byte{0x06, 0x00, 0x02, 0x12, 0x34}},
		{"read exception status", []byte{0x07}},
		{"diagnostics echo", []byte{0x08, 0x00, 0x00, 0xA5, 0x37}},
		{"write multiple coils", []byte{0x0F, 0x00, 0x01, 0x00, 0x0A, 0x02, 0xFF, 0x03}},
		{"write multiple regs", []byte{0x10, 0x00, 0x00, 0x00, 0x02, 0x04, 0x00, 0x01, 0x00, 0x02}},
		{"mask write", []byte{0x16, 0x00, 0x04, 0x00, 0xF2, 0x00, 0x25}},
		{"read fifo", []byte{0x18, 0x04, 0xDE}},
		{"read file record", []byte{0x14, 0x07, 0x06, 0x00, 0x04, 0x00, 0x01, 0x00, 0x02}},
		{"device identification", []byte{0x2B, 0x0E, 0x01, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewRTU(DecodeRequests)
			frames := f.Feed(f.Build(0x11, tt.pdu, 0))
			require.Len(t, frames, 1)
			assert.Equal(t, uint8(0x11), frames[0].DeviceID)
			assert.Equal(t, tt.pdu, frames[0].PDU)
		})
	}
}

func TestRTUResponseRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		pdu  []byte
	}{
		{"read holding", []byte{0x03, 0x02, 0x00, 0x11}},
		{"write echo", []byte{0x06, 0x00, 0x02, 0x12, 0x34}},
		{"exception", []byte{0x83, 0x02}},
		{"exception status", []byte{0x07, 0x44}},
		{"comm event counter", []byte{0x0B, 0xFF, 0xFF, 0x00, 0x03}},
		{"read fifo", []byte{0x18, 0x00, 0x06, 0x00, 0x02, 0x01, 0xB8, 0x12, 0x84}},
		{"device identification", []byte{
			0x2B, 0x0E, 0x01, 0x01, 0x00, 0x00, 0x02,
			0x00, 0x03, 'A', 'c', 'e',
			0x01, 0x02, 'M', '7',
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewRTU(DecodeResponses)
			frames := f.Feed(f.Build(0x01, tt.pdu, 0))
			require.Len(t, frames, 1)
			assert.Equal(t, tt.pdu, frames[0].PDU)
		})
	}
}

func TestRTUResyncSkipsLeadingGarbage(t *testing.T) {
	f := NewRTU(DecodeRequests)
	valid := f.Build(0x01, []byte{0x03, 0x00, 0x00, 0x00, 0x01}, 0)

	frames := f.Feed(append([]byte{0xFF, 0xFF, 0xFF}, valid...))
	require.Len(t, frames, 1)
	assert.Equal(t, uint8(0x01), frames[0].DeviceID)
	assert.Equal(t, []byte{0x03, 0x00, 0x00, 0x00, 0x01}, frames[0].PDU)
}

func TestRTUSingleBitCorruptionNeverYieldsOriginalFrame(t *testing.T) {
	orig := []byte{0x03, 0x00, 0x00, 0x00, 0x01}
	adu := NewRTU(DecodeRequests).Build(0x01, orig, 0)

	for byteIdx := range adu {
		for bit := 0; bit < 8; bit++ {
			corrupted := append([]byte(nil), adu...)
			corrupted[byteIdx] ^= 1 << bit

			f := NewRTU(DecodeRequests)
			for _, frame := range f.Feed(corrupted) {
				if frame.DeviceID == 0x01 && len(frame.PDU) == len(orig) {
					assert.NotEqual(t, orig, frame.PDU,
						"bit %d of byte %d flipped but the original frame was still decoded", bit, byteIdx)
				}
			}
		}
	}
}

func TestRTUBackToBackFrames(t *testing.T) {
	f := NewRTU(DecodeRequests)
	first := f.Build(1, []byte{0x01, 0x00, 0x00, 0x00, 0x08}, 0)
	second := f.Build(2, []byte{0x05, 0x00, 0x03, 0xFF, 0x00}, 0)

	frames := f.Feed(append(first, second...))
	require.Len(t, frames, 2)
	assert.Equal(t, uint8(1), frames[0].DeviceID)
	assert.Equal(t, uint8(2), frames[1].DeviceID)
}

func TestASCIIBuildLayout(t *testing.T) {
	f := NewASCII()
	adu := f.Build(0x01, []byte{0x03, 0x00, 0x00, 0x00, 0x01}, 0)
	// lrc = -(0x01+0x03+0x01) = 0xFB
	assert.Equal(t, []byte(":010300000001FB\r\n"), adu)
}

func TestASCIIRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		dev  uint8
		pdu  []byte
	}{
		{"read coils", 0x0A, []byte{0x01, 0x00, 0x13, 0x00, 0x25}},
		{"exception", 0x01, []byte{0x81, 0x02}},
		{"empty data", 0x02, []byte{0x07}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewASCII()
			frames := f.Feed(f.Build(tt.dev, tt.pdu, 0))
			require.Len(t, frames, 1)
			assert.Equal(t, tt.dev, frames[0].DeviceID)
			assert.Equal(t, tt.pdu, frames[0].PDU)
		})
	}
}

func TestASCIISkipsNoiseBeforeStart(t *testing.T) {
	f := NewASCII()
	frames := f.Feed(append([]byte("garbage\r\n"), f.Build(1, []byte{0x07}, 0)...))
	require.Len(t, frames, 1)
	assert.Equal(t, uint8(1), frames[0].DeviceID)
}

func TestASCIIDropsBadLRC(t *testing.T) {
	f := NewASCII()
	adu := f.Build(0x01, []byte{0x03, 0x00, 0x00, 0x00, 0x01}, 0)
	adu[len(adu)-3] ^= 0x01 // corrupt the LRC's low hex digit
	assert.Empty(t, f.Feed(adu))
}

func TestASCIIFragmentedFeed(t *testing.T) {
	f := NewASCII()
	adu := f.Build(0x03, []byte{0x04, 0x00, 0x08, 0x00, 0x01}, 0)
	var frames []Frame
	for _, b := range adu {
		frames = append(frames, f.Feed([]byte{b})...)
	}
	require.Len(t, frames, 1)
	assert.Equal(t, uint8(0x03), frames[0].DeviceID)
}

func TestSocketDecodesSingleDatagram(t *testing.T) {
	f := NewSocket()
	frames := f.Feed(f.Build(0x01, []byte{0x03, 0x00, 0x00, 0x00, 0x01}, 9))
	require.Len(t, frames, 1)
	assert.Equal(t, uint16(9), frames[0].TransactionID)
	assert.Equal(t, []byte{0x03, 0x00, 0x00, 0x00, 0x01}, frames[0].PDU)
}

func TestSocketDropsPartialDatagram(t *testing.T) {
	f := NewSocket()
	adu := f.Build(0x01, []byte{0x03, 0x00, 0x00, 0x00, 0x01}, 9)
	assert.Empty(t, f.Feed(adu[:len(adu)-2]))
	assert.Empty(t, f.Feed(adu[len(adu)-2:]), "datagram framing must not buffer across datagrams")
}

func TestSocketDropsTrailingBytes(t *testing.T) {
	f := NewSocket()
	adu := f.Build(0x01, []byte{0x03, 0x00, 0x00, 0x00, 0x01}, 9)
	assert.Empty(t, f.Feed(append(adu, 0x00)))
}
