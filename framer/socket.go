package framer

import (
	"encoding/binary"

	"github.com/fieldkit/modbus/modbus"
)

// Socket is the framing used for UDP carriage: MBAP byte for byte, but
// with each datagram holding exactly one frame. There is no cross-datagram
// buffering or resynchronization; a short or malformed datagram is simply
// dropped, since datagram boundaries already delimit frames.
type Socket struct {
	dropped int
}

// NewSocket returns the datagram framing.
func NewSocket() *Socket {
	return &Socket{}
}

// Build encodes one frame, identically to MBAP.
func (f *Socket) Build(deviceID uint8, pduBytes []byte, transactionID uint16) []byte {
	return (&MBAP{}).Build(deviceID, pduBytes, transactionID)
}

// Feed decodes the single frame a datagram carries. A partial, oversized,
// or non-MODBUS datagram yields no frames.
func (f *Socket) Feed(datagram []byte) []Frame {
	if len(datagram) < modbus.MBAPHeaderSize+1 {
		f.dropped += len(datagram)
		return nil
	}
	protocolID := binary.BigEndian.Uint16(datagram[2:4])
	length := binary.BigEndian.Uint16(datagram[4:6])
	if protocolID != modbus.MBAPProtocolID {
		f.dropped += len(datagram)
		return nil
	}
	if length < 2 || int(length) > modbus.MaxPDUSize+1 || len(datagram) != 6+int(length) {
		f.dropped += len(datagram)
		return nil
	}
	pdu := make([]byte, length-1)
	copy(pdu, datagram[7:])
	return []Frame{{
		DeviceID:      datagram[6],
		PDU:           pdu,
		TransactionID: binary.BigEndian.Uint16(datagram[0:2]),
	}}
}

// Reset is a no-op: datagram framing keeps no buffered state.
func (f *Socket) Reset() {}

// Dropped reports bytes discarded from malformed datagrams.
func (f *Socket) Dropped() int {
	return f.dropped
}
