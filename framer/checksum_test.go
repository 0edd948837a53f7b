package framer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC16KnownVectors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint16
	}{
		// Frames taken from the MODBUS-over-serial-line spec examples.
		{"read holding regs", []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01}, 0x0A84},
		{"empty input", nil, 0xFFFF},
		{"single zero byte", []byte{0x00}, 0x40BF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CRC16(tt.data))
		})
	}
}

func TestLRCIsTwosComplementOfSum(t *testing.T) {
	data := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01}
	lrc := LRC(data)

	sum := uint8(0)
	for _, b := range data {
		sum += b
	}
	assert.Equal(t, uint8(0), sum+lrc)
}

func TestLRCOverflowWraps(t *testing.T) {
	assert.Equal(t, uint8(0x02), LRC([]byte{0xFF, 0xFF}))
}
