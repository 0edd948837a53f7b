package modbus

import (
	"reflect"
	"testing"
)

func TestEncodeDecodeUint32WordOrders(t *testing.T) {
	client := NewTCPClient("localhost:1")

	tests := []struct {
		name      string
		byteOrder Endianness
		wordOrder WordOrder
		value     uint32
		regs      []uint16
	}{
		{"default big endian high first", BigEndian, HighWordFirst, 0x12345678, []uint16{0x1234, 0x5678}},
		{"low word first", BigEndian, LowWordFirst, 0x12345678, []uint16{0x5678, 0x1234}},
		{"little endian bytes", LittleEndian, HighWordFirst, 0x12345678, []uint16{0x3412, 0x7856}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client.SetEncoding(tt.byteOrder, tt.wordOrder)

			regs := client.encodeUint32(tt.value)
			if !reflect.DeepEqual(regs, tt.regs) {
				t.Errorf("encode: expected %04X, got %04X", tt.regs, regs)
			}
			if got := client.decodeUint32(regs); got != tt.value {
				t.Errorf("decode: expected %08X, got %08X", tt.value, got)
			}
		})
	}
}

func TestEncodeDecodeUint64RoundTrip(t *testing.T) {
	client := NewTCPClient("localhost:1")

	for _, wordOrder := range []WordOrder{HighWordFirst, LowWordFirst} {
		for _, byteOrder := range []Endianness{BigEndian, LittleEndian} {
			client.SetEncoding(byteOrder, wordOrder)

			const value = uint64(0x0123456789ABCDEF)
			regs := client.encodeUint64(value)
			if len(regs) != 4 {
				t.Fatalf("expected 4 registers, got %d", len(regs))
			}
			if got := client.decodeUint64(regs); got != value {
				t.Errorf("byteOrder=%v wordOrder=%v: expected %016X, got %016X",
					byteOrder, wordOrder, value, got)
			}
		}
	}
}

func TestRegistersToBytesRoundTrip(t *testing.T) {
	client := NewTCPClient("localhost:1")
	client.SetEncoding(BigEndian, HighWordFirst)

	regs := []uint16{0x0102, 0x0304, 0xFFEE}
	data := client.RegistersToBytes(regs)
	expected := []byte{0x01, 0x02, 0x03, 0x04, 0xFF, 0xEE}
	if !reflect.DeepEqual(data, expected) {
		t.Errorf("expected % X, got % X", expected, data)
	}

	back := client.BytesToRegisters(data)
	if !reflect.DeepEqual(back, regs) {
		t.Errorf("round trip mismatch: %04X != %04X", back, regs)
	}
}

func TestDefaultEncodingIsBigEndianHighWordFirst(t *testing.T) {
	client := NewTCPClient("localhost:1")
	enc := client.GetEncoding()
	if enc.ByteOrder != BigEndian || enc.WordOrder != HighWordFirst {
		t.Errorf("unexpected default encoding: %+v", enc)
	}
}
