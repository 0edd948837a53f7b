package framer

import (
	"encoding/binary"

	"github.com/fieldkit/modbus/modbus"
)

// RTU frames PDUs for the serial RTU line discipline:
//
//	dev_id:u8 | pdu | crc:u16 (least significant byte first)
//
// RTU carries no length field, so the framer discovers each frame's
// extent from the function code: request PDUs mostly have fixed sizes,
// response PDUs mostly carry a byte count. A CRC mismatch or an unknown
// function code advances the buffer a single byte and retries, which is
// how a late-joining listener resynchronizes onto a live bus.
type RTU struct {
	dir     Direction
	buf     []byte
	dropped int
}

// NewRTU returns an RTU framer decoding the given direction of traffic.
func NewRTU(dir Direction) *RTU {
	return &RTU{dir: dir}
}

// Build encodes one frame, appending the CRC low byte first.
func (f *RTU) Build(deviceID uint8, pduBytes []byte, _ uint16) []byte {
	adu := make([]byte, 1+len(pduBytes)+2)
	adu[0] = deviceID
	copy(adu[1:], pduBytes)
	crc := CRC16(adu[:1+len(pduBytes)])
	adu[1+len(pduBytes)] = byte(crc)
	adu[2+len(pduBytes)] = byte(crc >> 8)
	return adu
}

// Feed buffers data and extracts every frame whose length rule and CRC
// both check out.
func (f *RTU) Feed(data []byte) []Frame {
	f.buf = append(f.buf, data...)

	var frames []Frame
	for len(f.buf) >= 4 {
		pduLen, state := f.pduLength(f.buf[1:])
		if state == lenUnknown {
			f.buf = f.buf[1:]
			f.dropped++
			continue
		}
		if state == lenIncomplete {
			break
		}

		total := 1 + pduLen + 2
		if total > modbus.MaxSerialADUSize {
			f.buf = f.buf[1:]
			f.dropped++
			continue
		}
		if len(f.buf) < total {
			break
		}

		wireCRC := uint16(f.buf[total-2]) | uint16(f.buf[total-1])<<8
		if CRC16(f.buf[:total-2]) != wireCRC {
			f.buf = f.buf[1:]
			f.dropped++
			continue
		}

		pdu := make([]byte, pduLen)
		copy(pdu, f.buf[1:1+pduLen])
		frames = append(frames, Frame{DeviceID: f.buf[0], PDU: pdu})
		f.buf = f.buf[total:]
	}
	if len(f.buf) == 0 {
		f.buf = nil
	}
	return frames
}

// Reset discards buffered partial input.
func (f *RTU) Reset() {
	f.buf = nil
}

// Dropped reports bytes discarded during resynchronization.
func (f *RTU) Dropped() int {
	return f.dropped
}

type lengthState int

const (
	lenKnown lengthState = iota
	lenIncomplete
	lenUnknown
)

// pduLength derives the PDU length (function code byte included) from the
// function code and, where the framing rule needs one, a byte count field.
// pdu is the buffered bytes after the device id and may be shorter than a
// full PDU.
func (f *RTU) pduLength(pdu []byte) (int, lengthState) {
	if len(pdu) == 0 {
		return 0, lenIncomplete
	}
	fc := modbus.FunctionCode(pdu[0])

	if fc.IsException() {
		// fc + exception code
		return 2, lenKnown
	}
	if f.dir == DecodeRequests {
		return requestPDULength(fc, pdu)
	}
	return responsePDULength(fc, pdu)
}

func requestPDULength(fc modbus.FunctionCode, pdu []byte) (int, lengthState) {
	switch fc {
	case modbus.FuncCodeReadCoils, modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadHoldingRegisters, modbus.FuncCodeReadInputRegisters,
		modbus.FuncCodeWriteSingleCoil, modbus.FuncCodeWriteSingleRegister,
		modbus.FuncCodeDiagnostic:
		return 5, lenKnown
	case modbus.FuncCodeReadExceptionStatus, modbus.FuncCodeGetCommEventCounter,
		modbus.FuncCodeGetCommEventLog, modbus.FuncCodeReportServerID:
		return 1, lenKnown
	case modbus.FuncCodeWriteMultipleCoils, modbus.FuncCodeWriteMultipleRegisters:
		// addr + qty + byte_count + data
		if len(pdu) < 6 {
			return 0, lenIncomplete
		}
		return 6 + int(pdu[5]), lenKnown
	case modbus.FuncCodeReadFileRecord, modbus.FuncCodeWriteFileRecord:
		if len(pdu) < 2 {
			return 0, lenIncomplete
		}
		return 2 + int(pdu[1]), lenKnown
	case modbus.FuncCodeMaskWriteRegister:
		return 7, lenKnown
	case modbus.FuncCodeReadWriteMultipleRegs:
		// rd_addr + rd_qty + wr_addr + wr_qty + byte_count + data
		if len(pdu) < 10 {
			return 0, lenIncomplete
		}
		return 10 + int(pdu[9]), lenKnown
	case modbus.FuncCodeReadFIFOQueue:
		return 3, lenKnown
	case modbus.FuncCodeEncapsulatedInterface:
		return 4, lenKnown
	default:
		return 0, lenUnknown
	}
}

func responsePDULength(fc modbus.FunctionCode, pdu []byte) (int, lengthState) {
	switch fc {
	case modbus.FuncCodeReadCoils, modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadHoldingRegisters, modbus.FuncCodeReadInputRegisters,
		modbus.FuncCodeGetCommEventLog, modbus.FuncCodeReportServerID,
		modbus.FuncCodeReadFileRecord, modbus.FuncCodeWriteFileRecord,
		modbus.FuncCodeReadWriteMultipleRegs:
		if len(pdu) < 2 {
			return 0, lenIncomplete
		}
		return 2 + int(pdu[1]), lenKnown
	case modbus.FuncCodeWriteSingleCoil, modbus.FuncCodeWriteSingleRegister,
		modbus.FuncCodeWriteMultipleCoils, modbus.FuncCodeWriteMultipleRegisters,
		modbus.FuncCodeDiagnostic, modbus.FuncCodeGetCommEventCounter:
		return 5, lenKnown
	case modbus.FuncCodeReadExceptionStatus:
		return 2, lenKnown
	case modbus.FuncCodeMaskWriteRegister:
		return 7, lenKnown
	case modbus.FuncCodeReadFIFOQueue:
		// u16 byte count follows the function code
		if len(pdu) < 3 {
			return 0, lenIncomplete
		}
		return 3 + int(binary.BigEndian.Uint16(pdu[1:3])), lenKnown
	case modbus.FuncCodeEncapsulatedInterface:
		return deviceIdentResponseLength(pdu)
	default:
		return 0, lenUnknown
	}
}

// deviceIdentResponseLength walks the object list of an FC 43/14 response,
// which carries no aggregate length: fc, mei, read code, conformity, more
// follows, next object id, object count, then (id, len, bytes) per object.
func deviceIdentResponseLength(pdu []byte) (int, lengthState) {
	if len(pdu) < 7 {
		return 0, lenIncomplete
	}
	count := int(pdu[6])
	offset := 7
	for i := 0; i < count; i++ {
		if len(pdu) < offset+2 {
			return 0, lenIncomplete
		}
		offset += 2 + int(pdu[offset+1])
	}
	if offset > modbus.MaxPDUSize {
		return 0, lenUnknown
	}
	return offset, lenKnown
}
