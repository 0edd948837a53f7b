package datastore

import (
	"fmt"
	"sync"

	"github.com/fieldkit/modbus/modbus"
)

// DeviceContext bundles the four address spaces a MODBUS device exposes
// plus the auxiliary state needed by the file record, FIFO, diagnostic,
// and comm-event-log function codes. It is constructed once at server
// start and is the sole shared state for its device id. Every accessor
// method takes ctx.Mutex itself; the server package in this module
// dispatches one request at a time per connection and relies on that
// per-context RWMutex for cross-connection safety.
type DeviceContext struct {
	Mutex sync.RWMutex

	DiscreteInputs   Block[bool]
	Coils            Block[bool]
	HoldingRegisters Block[uint16]
	InputRegisters   Block[uint16]

	fileRecords map[uint16]map[uint16][]uint16
	fifoQueues  map[uint16][]uint16

	exceptionStatus uint8
	diagnostics     modbus.DiagnosticData
	commEventLog    []byte

	Identification *modbus.DeviceIdentification
}

// NewDeviceContext builds a device context over the four supplied blocks.
func NewDeviceContext(discreteInputs, coils Block[bool], holding, input Block[uint16]) *DeviceContext {
	return &DeviceContext{
		DiscreteInputs:   discreteInputs,
		Coils:            coils,
		HoldingRegisters: holding,
		InputRegisters:   input,
		fileRecords:      make(map[uint16]map[uint16][]uint16),
		fifoQueues:       make(map[uint16][]uint16),
		Identification: &modbus.DeviceIdentification{
			VendorName:         "fieldkit",
			ProductCode:        "FK-MB",
			MajorMinorRevision: "1.0.0",
			ConformityLevel:    modbus.ConformityLevelBasicStream,
		},
	}
}

// NewSequentialDeviceContext builds a device context of four zero-filled
// sequential blocks of the given sizes, all based at address 0, the
// conventional layout for a simple device.
func NewSequentialDeviceContext(coilCount, discreteInputCount, holdingRegCount, inputRegCount int) *DeviceContext {
	return NewDeviceContext(
		NewZeroSequentialBlock[bool](0, discreteInputCount),
		NewZeroSequentialBlock[bool](0, coilCount),
		NewZeroSequentialBlock[uint16](0, holdingRegCount),
		NewZeroSequentialBlock[uint16](0, inputRegCount),
	)
}

// ReadCoils implements FC 1.
func (ctx *DeviceContext) ReadCoils(addr, count uint16) ([]bool, modbus.ExceptionCode) {
	ctx.Mutex.RLock()
	defer ctx.Mutex.RUnlock()
	return ctx.Coils.GetValues(addr, count)
}

// WriteCoils implements FC 5/15.
func (ctx *DeviceContext) WriteCoils(addr uint16, values []bool, origin Origin) (modbus.ExceptionCode, error) {
	ctx.Mutex.Lock()
	defer ctx.Mutex.Unlock()
	return ctx.Coils.SetValues(addr, values, origin)
}

// SetCoil seeds a single coil from application code.
func (ctx *DeviceContext) SetCoil(addr uint16, value bool) error {
	_, err := ctx.WriteCoils(addr, []bool{value}, OriginProgram)
	return err
}

// SetHoldingRegister seeds a single holding register from application code.
func (ctx *DeviceContext) SetHoldingRegister(addr uint16, value uint16) error {
	_, err := ctx.WriteHoldingRegisters(addr, []uint16{value}, OriginProgram)
	return err
}

// SetDiscreteInput seeds a single discrete input from application code.
func (ctx *DeviceContext) SetDiscreteInput(addr uint16, value bool) error {
	ctx.Mutex.Lock()
	defer ctx.Mutex.Unlock()
	_, err := ctx.DiscreteInputs.SetValues(addr, []bool{value}, OriginProgram)
	return err
}

// SetInputRegister seeds a single input register from application code.
func (ctx *DeviceContext) SetInputRegister(addr uint16, value uint16) error {
	ctx.Mutex.Lock()
	defer ctx.Mutex.Unlock()
	_, err := ctx.InputRegisters.SetValues(addr, []uint16{value}, OriginProgram)
	return err
}

// ReadDiscreteInputs implements FC 2.
func (ctx *DeviceContext) ReadDiscreteInputs(addr, count uint16) ([]bool, modbus.ExceptionCode) {
	ctx.Mutex.RLock()
	defer ctx.Mutex.RUnlock()
	return ctx.DiscreteInputs.GetValues(addr, count)
}

// ReadHoldingRegisters implements FC 3.
func (ctx *DeviceContext) ReadHoldingRegisters(addr, count uint16) ([]uint16, modbus.ExceptionCode) {
	ctx.Mutex.RLock()
	defer ctx.Mutex.RUnlock()
	return ctx.HoldingRegisters.GetValues(addr, count)
}

// WriteHoldingRegisters implements FC 6/16.
func (ctx *DeviceContext) WriteHoldingRegisters(addr uint16, values []uint16, origin Origin) (modbus.ExceptionCode, error) {
	ctx.Mutex.Lock()
	defer ctx.Mutex.Unlock()
	return ctx.HoldingRegisters.SetValues(addr, values, origin)
}

// ReadInputRegisters implements FC 4.
func (ctx *DeviceContext) ReadInputRegisters(addr, count uint16) ([]uint16, modbus.ExceptionCode) {
	ctx.Mutex.RLock()
	defer ctx.Mutex.RUnlock()
	return ctx.InputRegisters.GetValues(addr, count)
}

// ReadFileRecords implements FC 20.
func (ctx *DeviceContext) ReadFileRecords(records []modbus.FileRecord) ([]modbus.FileRecord, modbus.ExceptionCode) {
	ctx.Mutex.RLock()
	defer ctx.Mutex.RUnlock()

	result := make([]modbus.FileRecord, 0, len(records))
	for _, rec := range records {
		if rec.ReferenceType != modbus.FileRecordTypeExtended {
			return nil, modbus.ExceptionCodeIllegalDataValue
		}
		fileMap, ok := ctx.fileRecords[rec.FileNumber]
		if !ok {
			return nil, modbus.ExceptionCodeIllegalDataAddress
		}
		data, ok := fileMap[rec.RecordNumber]
		if !ok || uint16(len(data)) < rec.RecordLength {
			return nil, modbus.ExceptionCodeIllegalDataAddress
		}
		out := modbus.FileRecord{
			ReferenceType: rec.ReferenceType,
			FileNumber:    rec.FileNumber,
			RecordNumber:  rec.RecordNumber,
			RecordLength:  rec.RecordLength,
			RecordData:    append([]uint16(nil), data[:rec.RecordLength]...),
		}
		result = append(result, out)
	}
	return result, 0
}

// WriteFileRecords implements FC 21.
func (ctx *DeviceContext) WriteFileRecords(records []modbus.FileRecord) modbus.ExceptionCode {
	ctx.Mutex.Lock()
	defer ctx.Mutex.Unlock()

	for _, rec := range records {
		if rec.ReferenceType != modbus.FileRecordTypeExtended {
			return modbus.ExceptionCodeIllegalDataValue
		}
		fileMap, ok := ctx.fileRecords[rec.FileNumber]
		if !ok {
			fileMap = make(map[uint16][]uint16)
			ctx.fileRecords[rec.FileNumber] = fileMap
		}
		fileMap[rec.RecordNumber] = append([]uint16(nil), rec.RecordData...)
	}
	return 0
}

// ReadFIFOQueue implements FC 24. An address with no queue yet reads back empty.
func (ctx *DeviceContext) ReadFIFOQueue(addr uint16) []uint16 {
	ctx.Mutex.RLock()
	defer ctx.Mutex.RUnlock()
	q, ok := ctx.fifoQueues[addr]
	if !ok {
		return []uint16{}
	}
	return append([]uint16(nil), q...)
}

// SeedFIFOQueue sets the contents of a FIFO queue address for test/demo setup.
func (ctx *DeviceContext) SeedFIFOQueue(addr uint16, values []uint16) error {
	ctx.Mutex.Lock()
	defer ctx.Mutex.Unlock()
	if len(values) > modbus.MaxFIFOCount {
		return fmt.Errorf("%w: FIFO queue size %d exceeds maximum %d", ErrParameter, len(values), modbus.MaxFIFOCount)
	}
	ctx.fifoQueues[addr] = append([]uint16(nil), values...)
	return nil
}

// ReadExceptionStatus implements FC 7.
func (ctx *DeviceContext) ReadExceptionStatus() uint8 {
	ctx.Mutex.RLock()
	defer ctx.Mutex.RUnlock()
	return ctx.exceptionStatus
}

// SetExceptionStatus sets the exception status byte surfaced by FC 7.
func (ctx *DeviceContext) SetExceptionStatus(status uint8) {
	ctx.Mutex.Lock()
	defer ctx.Mutex.Unlock()
	ctx.exceptionStatus = status
}

// GetDiagnosticData implements FC 8's sub-functions.
func (ctx *DeviceContext) GetDiagnosticData(subFunction uint16, data []byte) ([]byte, modbus.ExceptionCode) {
	ctx.Mutex.Lock()
	defer ctx.Mutex.Unlock()

	switch subFunction {
	case modbus.DiagSubReturnQueryData:
		return data, 0
	case modbus.DiagSubRestartCommOption:
		ctx.commEventLog = ctx.commEventLog[:0]
		ctx.diagnostics = modbus.DiagnosticData{}
		return data, 0
	case modbus.DiagSubReturnDiagRegister:
		return []byte{0x00, 0x00}, 0
	case modbus.DiagSubClearCounters:
		ctx.diagnostics = modbus.DiagnosticData{}
		return data, 0
	case modbus.DiagSubReturnBusMessageCount:
		return encodeU16(ctx.diagnostics.BusMessageCount), 0
	case modbus.DiagSubReturnBusCommErrorCount:
		return encodeU16(ctx.diagnostics.BusCommErrorCount), 0
	case modbus.DiagSubReturnBusExceptionCount:
		return encodeU16(ctx.diagnostics.BusExceptionCount), 0
	case modbus.DiagSubReturnServerMessageCount:
		return encodeU16(ctx.diagnostics.ServerMessageCount), 0
	case modbus.DiagSubReturnServerNoRespCount:
		return encodeU16(ctx.diagnostics.ServerNoRespCount), 0
	case modbus.DiagSubReturnServerNAKCount:
		return encodeU16(ctx.diagnostics.ServerNAKCount), 0
	case modbus.DiagSubReturnServerBusyCount:
		return encodeU16(ctx.diagnostics.ServerBusyCount), 0
	case modbus.DiagSubReturnBusCharOverrunCount:
		return encodeU16(ctx.diagnostics.BusCharOverrunCount), 0
	default:
		return nil, modbus.ExceptionCodeIllegalFunction
	}
}

// IncrementDiagnosticCounter bumps one of the FC 8/11 counters; called by
// the server pipeline as frames are processed.
func (ctx *DeviceContext) IncrementDiagnosticCounter(counter string) {
	ctx.Mutex.Lock()
	defer ctx.Mutex.Unlock()
	switch counter {
	case "BusMessage":
		ctx.diagnostics.BusMessageCount++
	case "BusCommError":
		ctx.diagnostics.BusCommErrorCount++
	case "BusException":
		ctx.diagnostics.BusExceptionCount++
	case "ServerMessage":
		ctx.diagnostics.ServerMessageCount++
	case "ServerNoResp":
		ctx.diagnostics.ServerNoRespCount++
	case "ServerNAK":
		ctx.diagnostics.ServerNAKCount++
	case "ServerBusy":
		ctx.diagnostics.ServerBusyCount++
	case "BusCharOverrun":
		ctx.diagnostics.BusCharOverrunCount++
	}
}

// GetCommEventCounter implements FC 11.
func (ctx *DeviceContext) GetCommEventCounter() (status, count uint16) {
	ctx.Mutex.RLock()
	defer ctx.Mutex.RUnlock()
	return 0xFFFF, ctx.diagnostics.BusMessageCount
}

// GetCommEventLog implements FC 12.
func (ctx *DeviceContext) GetCommEventLog() (status, eventCount, messageCount uint16, events []byte) {
	ctx.Mutex.RLock()
	defer ctx.Mutex.RUnlock()
	return 0xFFFF, ctx.diagnostics.BusMessageCount, ctx.diagnostics.ServerMessageCount, append([]byte(nil), ctx.commEventLog...)
}

// Reset restores every block to its constructed contents.
func (ctx *DeviceContext) Reset() {
	ctx.Mutex.Lock()
	defer ctx.Mutex.Unlock()
	ctx.Coils.Reset()
	ctx.DiscreteInputs.Reset()
	ctx.HoldingRegisters.Reset()
	ctx.InputRegisters.Reset()
	ctx.fileRecords = make(map[uint16]map[uint16][]uint16)
	ctx.fifoQueues = make(map[uint16][]uint16)
	ctx.exceptionStatus = 0
	ctx.diagnostics = modbus.DiagnosticData{}
	ctx.commEventLog = ctx.commEventLog[:0]
}

func encodeU16(v uint16) []byte {
	return []byte{byte(v >> 8), byte(v)}
}
