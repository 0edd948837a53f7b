package framer

import (
	"encoding/binary"

	"github.com/fieldkit/modbus/modbus"
)

// MBAP frames PDUs with the MODBUS Application Protocol header used on
// TCP and TLS streams:
//
//	transaction_id:u16 | protocol_id:u16 (always 0) | length:u16 | unit_id:u8 | pdu
//
// length counts every byte after the length field, so a frame is complete
// once 6+length bytes are buffered.
type MBAP struct {
	buf     []byte
	dropped int
}

// NewMBAP returns an empty MBAP framer.
func NewMBAP() *MBAP {
	return &MBAP{}
}

// Build encodes one frame. length = unit id + PDU.
func (f *MBAP) Build(deviceID uint8, pduBytes []byte, transactionID uint16) []byte {
	adu := make([]byte, modbus.MBAPHeaderSize+len(pduBytes))
	binary.BigEndian.PutUint16(adu[0:2], transactionID)
	binary.BigEndian.PutUint16(adu[2:4], modbus.MBAPProtocolID)
	binary.BigEndian.PutUint16(adu[4:6], uint16(1+len(pduBytes)))
	adu[6] = deviceID
	copy(adu[7:], pduBytes)
	return adu
}

// Feed buffers data and extracts every complete frame. A header whose
// protocol id is nonzero or whose length is out of range cannot belong to
// a MODBUS peer; the frame's declared extent is discarded (or, when the
// length itself is implausible, a single byte) and scanning continues.
func (f *MBAP) Feed(data []byte) []Frame {
	f.buf = append(f.buf, data...)

	var frames []Frame
	for len(f.buf) >= modbus.MBAPHeaderSize-1 {
		protocolID := binary.BigEndian.Uint16(f.buf[2:4])
		length := binary.BigEndian.Uint16(f.buf[4:6])

		if length < 2 || int(length) > modbus.MaxPDUSize+1 {
			f.buf = f.buf[1:]
			f.dropped++
			continue
		}

		total := 6 + int(length)
		if len(f.buf) < total {
			break
		}

		if protocolID != modbus.MBAPProtocolID {
			f.buf = f.buf[total:]
			f.dropped += total
			continue
		}

		pdu := make([]byte, length-1)
		copy(pdu, f.buf[7:total])
		frames = append(frames, Frame{
			DeviceID:      f.buf[6],
			PDU:           pdu,
			TransactionID: binary.BigEndian.Uint16(f.buf[0:2]),
		})
		f.buf = f.buf[total:]
	}
	if len(f.buf) == 0 {
		f.buf = nil
	}
	return frames
}

// Reset discards buffered partial input.
func (f *MBAP) Reset() {
	f.buf = nil
}

// Dropped reports bytes discarded during resynchronization.
func (f *MBAP) Dropped() int {
	return f.dropped
}
