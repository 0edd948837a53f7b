package pdu

import (
	"encoding/binary"

	"github.com/fieldkit/modbus/datastore"
	"github.com/fieldkit/modbus/modbus"
)

// builtinHandlers is the full function code matrix this package answers
// out of the box, generalized from a single hard-coded data store onto a
// per-device datastore.DeviceContext so the same handler serves any number
// of devices a server context routes to it.
var builtinHandlers = map[modbus.FunctionCode]HandlerFunc{
	modbus.FuncCodeReadCoils:              handleReadCoils,
	modbus.FuncCodeReadDiscreteInputs:     handleReadDiscreteInputs,
	modbus.FuncCodeReadHoldingRegisters:   handleReadHoldingRegisters,
	modbus.FuncCodeReadInputRegisters:     handleReadInputRegisters,
	modbus.FuncCodeWriteSingleCoil:        handleWriteSingleCoil,
	modbus.FuncCodeWriteSingleRegister:    handleWriteSingleRegister,
	modbus.FuncCodeWriteMultipleCoils:     handleWriteMultipleCoils,
	modbus.FuncCodeWriteMultipleRegisters: handleWriteMultipleRegisters,
	modbus.FuncCodeMaskWriteRegister:      handleMaskWriteRegister,
	modbus.FuncCodeReadWriteMultipleRegs:  handleReadWriteMultipleRegisters,
	modbus.FuncCodeReadExceptionStatus:    handleReadExceptionStatus,
	modbus.FuncCodeDiagnostic:             handleDiagnostic,
	modbus.FuncCodeGetCommEventCounter:    handleGetCommEventCounter,
	modbus.FuncCodeGetCommEventLog:        handleGetCommEventLog,
	modbus.FuncCodeReportServerID:         handleReportServerID,
	modbus.FuncCodeReadFileRecord:         handleReadFileRecord,
	modbus.FuncCodeWriteFileRecord:        handleWriteFileRecord,
	modbus.FuncCodeReadFIFOQueue:          handleReadFIFOQueue,
	modbus.FuncCodeEncapsulatedInterface:  handleEncapsulatedInterface,
}

func handleReadCoils(dev *datastore.DeviceContext, req *Request) *Response {
	if len(req.Data) != 4 {
		return NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address, _ := DecodeUint16(req.Data[0:2])
	quantity, _ := DecodeUint16(req.Data[2:4])

	values, ec := dev.ReadCoils(address, quantity)
	if ec != 0 {
		return NewExceptionResponse(req.FunctionCode, ec)
	}

	coilBytes := EncodeBoolSlice(values)
	responseData := make([]byte, 1+len(coilBytes))
	responseData[0] = byte(len(coilBytes))
	copy(responseData[1:], coilBytes)
	return NewResponse(req.FunctionCode, responseData)
}

func handleReadDiscreteInputs(dev *datastore.DeviceContext, req *Request) *Response {
	if len(req.Data) != 4 {
		return NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address, _ := DecodeUint16(req.Data[0:2])
	quantity, _ := DecodeUint16(req.Data[2:4])

	values, ec := dev.ReadDiscreteInputs(address, quantity)
	if ec != 0 {
		return NewExceptionResponse(req.FunctionCode, ec)
	}

	inputBytes := EncodeBoolSlice(values)
	responseData := make([]byte, 1+len(inputBytes))
	responseData[0] = byte(len(inputBytes))
	copy(responseData[1:], inputBytes)
	return NewResponse(req.FunctionCode, responseData)
}

func handleReadHoldingRegisters(dev *datastore.DeviceContext, req *Request) *Response {
	if len(req.Data) != 4 {
		return NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address, _ := DecodeUint16(req.Data[0:2])
	quantity, _ := DecodeUint16(req.Data[2:4])

	values, ec := dev.ReadHoldingRegisters(address, quantity)
	if ec != 0 {
		return NewExceptionResponse(req.FunctionCode, ec)
	}

	registerBytes := EncodeUint16Slice(values)
	responseData := make([]byte, 1+len(registerBytes))
	responseData[0] = byte(len(registerBytes))
	copy(responseData[1:], registerBytes)
	return NewResponse(req.FunctionCode, responseData)
}

func handleReadInputRegisters(dev *datastore.DeviceContext, req *Request) *Response {
	if len(req.Data) != 4 {
		return NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address, _ := DecodeUint16(req.Data[0:2])
	quantity, _ := DecodeUint16(req.Data[2:4])

	values, ec := dev.ReadInputRegisters(address, quantity)
	if ec != 0 {
		return NewExceptionResponse(req.FunctionCode, ec)
	}

	registerBytes := EncodeUint16Slice(values)
	responseData := make([]byte, 1+len(registerBytes))
	responseData[0] = byte(len(registerBytes))
	copy(responseData[1:], registerBytes)
	return NewResponse(req.FunctionCode, responseData)
}

func handleWriteSingleCoil(dev *datastore.DeviceContext, req *Request) *Response {
	if len(req.Data) != 4 {
		return NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address, _ := DecodeUint16(req.Data[0:2])
	value, _ := DecodeUint16(req.Data[2:4])

	if value != modbus.CoilOff && value != modbus.CoilOn {
		return NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	ec, _ := dev.WriteCoils(address, []bool{value == modbus.CoilOn}, datastore.OriginProtocol)
	if ec != 0 {
		return NewExceptionResponse(req.FunctionCode, ec)
	}
	return NewResponse(req.FunctionCode, req.Data)
}

func handleWriteSingleRegister(dev *datastore.DeviceContext, req *Request) *Response {
	if len(req.Data) != 4 {
		return NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address, _ := DecodeUint16(req.Data[0:2])
	value, _ := DecodeUint16(req.Data[2:4])

	ec, _ := dev.WriteHoldingRegisters(address, []uint16{value}, datastore.OriginProtocol)
	if ec != 0 {
		return NewExceptionResponse(req.FunctionCode, ec)
	}
	return NewResponse(req.FunctionCode, req.Data)
}

func handleWriteMultipleCoils(dev *datastore.DeviceContext, req *Request) *Response {
	if len(req.Data) < 5 {
		return NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address, _ := DecodeUint16(req.Data[0:2])
	quantity, _ := DecodeUint16(req.Data[2:4])
	byteCount := req.Data[4]

	if len(req.Data) != 5+int(byteCount) {
		return NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	values := DecodeBoolSlice(req.Data[5:], int(quantity))
	ec, _ := dev.WriteCoils(address, values, datastore.OriginProtocol)
	if ec != 0 {
		return NewExceptionResponse(req.FunctionCode, ec)
	}

	responseData := make([]byte, 4)
	copy(responseData[0:2], EncodeUint16(address))
	copy(responseData[2:4], EncodeUint16(quantity))
	return NewResponse(req.FunctionCode, responseData)
}

func handleWriteMultipleRegisters(dev *datastore.DeviceContext, req *Request) *Response {
	if len(req.Data) < 5 {
		return NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address, _ := DecodeUint16(req.Data[0:2])
	quantity, _ := DecodeUint16(req.Data[2:4])
	byteCount := req.Data[4]

	if len(req.Data) != 5+int(byteCount) || int(byteCount) != int(quantity)*2 {
		return NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	values, err := DecodeUint16Slice(req.Data[5:])
	if err != nil {
		return NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	ec, _ := dev.WriteHoldingRegisters(address, values, datastore.OriginProtocol)
	if ec != 0 {
		return NewExceptionResponse(req.FunctionCode, ec)
	}

	responseData := make([]byte, 4)
	copy(responseData[0:2], EncodeUint16(address))
	copy(responseData[2:4], EncodeUint16(quantity))
	return NewResponse(req.FunctionCode, responseData)
}

func handleMaskWriteRegister(dev *datastore.DeviceContext, req *Request) *Response {
	if len(req.Data) != 6 {
		return NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address, _ := DecodeUint16(req.Data[0:2])
	andMask, _ := DecodeUint16(req.Data[2:4])
	orMask, _ := DecodeUint16(req.Data[4:6])

	current, ec := dev.ReadHoldingRegisters(address, 1)
	if ec != 0 {
		return NewExceptionResponse(req.FunctionCode, ec)
	}

	result := (current[0] & andMask) | (orMask & ^andMask)

	ec, _ = dev.WriteHoldingRegisters(address, []uint16{result}, datastore.OriginProtocol)
	if ec != 0 {
		return NewExceptionResponse(req.FunctionCode, ec)
	}
	return NewResponse(req.FunctionCode, req.Data)
}

func handleReadWriteMultipleRegisters(dev *datastore.DeviceContext, req *Request) *Response {
	if len(req.Data) < 9 {
		return NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	readAddress, _ := DecodeUint16(req.Data[0:2])
	readQuantity, _ := DecodeUint16(req.Data[2:4])
	writeAddress, _ := DecodeUint16(req.Data[4:6])
	writeQuantity, _ := DecodeUint16(req.Data[6:8])
	writeByteCount := req.Data[8]

	if len(req.Data) != 9+int(writeByteCount) || int(writeByteCount) != int(writeQuantity)*2 {
		return NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	writeValues, err := DecodeUint16Slice(req.Data[9:])
	if err != nil {
		return NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	ec, _ := dev.WriteHoldingRegisters(writeAddress, writeValues, datastore.OriginProtocol)
	if ec != 0 {
		return NewExceptionResponse(req.FunctionCode, ec)
	}

	readValues, ec := dev.ReadHoldingRegisters(readAddress, readQuantity)
	if ec != 0 {
		return NewExceptionResponse(req.FunctionCode, ec)
	}

	registerBytes := EncodeUint16Slice(readValues)
	responseData := make([]byte, 1+len(registerBytes))
	responseData[0] = byte(len(registerBytes))
	copy(responseData[1:], registerBytes)
	return NewResponse(req.FunctionCode, responseData)
}

func handleReadExceptionStatus(dev *datastore.DeviceContext, req *Request) *Response {
	return NewResponse(req.FunctionCode, []byte{dev.ReadExceptionStatus()})
}

func handleDiagnostic(dev *datastore.DeviceContext, req *Request) *Response {
	if len(req.Data) < 2 {
		return NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	subFunction, _ := DecodeUint16(req.Data[0:2])
	var data []byte
	if len(req.Data) > 2 {
		data = req.Data[2:]
	}

	result, ec := dev.GetDiagnosticData(subFunction, data)
	if ec != 0 {
		return NewExceptionResponse(req.FunctionCode, ec)
	}

	responseData := make([]byte, 2+len(result))
	copy(responseData[0:2], EncodeUint16(subFunction))
	copy(responseData[2:], result)
	return NewResponse(req.FunctionCode, responseData)
}

func handleGetCommEventCounter(dev *datastore.DeviceContext, req *Request) *Response {
	status, eventCount := dev.GetCommEventCounter()
	responseData := make([]byte, 4)
	copy(responseData[0:2], EncodeUint16(status))
	copy(responseData[2:4], EncodeUint16(eventCount))
	return NewResponse(req.FunctionCode, responseData)
}

func handleGetCommEventLog(dev *datastore.DeviceContext, req *Request) *Response {
	status, eventCount, messageCount, events := dev.GetCommEventLog()
	responseData := make([]byte, 7+len(events))
	responseData[0] = byte(6 + len(events))
	copy(responseData[1:3], EncodeUint16(status))
	copy(responseData[3:5], EncodeUint16(eventCount))
	copy(responseData[5:7], EncodeUint16(messageCount))
	copy(responseData[7:], events)
	return NewResponse(req.FunctionCode, responseData)
}

func handleReportServerID(dev *datastore.DeviceContext, req *Request) *Response {
	serverID := []byte(dev.Identification.VendorName + " " + dev.Identification.ProductCode)
	runIndicator := byte(0xFF)

	responseData := make([]byte, 2+len(serverID))
	responseData[0] = byte(1 + len(serverID))
	responseData[1] = runIndicator
	copy(responseData[2:], serverID)
	return NewResponse(req.FunctionCode, responseData)
}

func handleReadFileRecord(dev *datastore.DeviceContext, req *Request) *Response {
	if len(req.Data) < 1 {
		return NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	byteCount := req.Data[0]
	if len(req.Data) != 1+int(byteCount) {
		return NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	records, decErr := decodeFileRecordRequests(req.Data[1:])
	if decErr {
		return NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	resultRecords, ec := dev.ReadFileRecords(records)
	if ec != 0 {
		return NewExceptionResponse(req.FunctionCode, ec)
	}

	var responseData []byte
	for _, record := range resultRecords {
		subResp := make([]byte, 2+len(record.RecordData)*2)
		subResp[0] = 1 + byte(len(record.RecordData)*2)
		subResp[1] = record.ReferenceType
		copy(subResp[2:], EncodeUint16Slice(record.RecordData))
		responseData = append(responseData, subResp...)
	}

	fullResponse := make([]byte, 1+len(responseData))
	fullResponse[0] = byte(len(responseData))
	copy(fullResponse[1:], responseData)
	return NewResponse(req.FunctionCode, fullResponse)
}

func handleWriteFileRecord(dev *datastore.DeviceContext, req *Request) *Response {
	if len(req.Data) < 1 {
		return NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	byteCount := req.Data[0]
	if len(req.Data) != 1+int(byteCount) {
		return NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	records := make([]modbus.FileRecord, 0)
	offset := 1
	for offset < len(req.Data) {
		if offset+7 > len(req.Data) {
			return NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
		}
		record := modbus.FileRecord{
			ReferenceType: req.Data[offset],
			FileNumber:    binary.BigEndian.Uint16(req.Data[offset+1 : offset+3]),
			RecordNumber:  binary.BigEndian.Uint16(req.Data[offset+3 : offset+5]),
			RecordLength:  binary.BigEndian.Uint16(req.Data[offset+5 : offset+7]),
		}
		dataByteCount := int(record.RecordLength) * 2
		if offset+7+dataByteCount > len(req.Data) {
			return NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
		}
		recordData, err := DecodeUint16Slice(req.Data[offset+7 : offset+7+dataByteCount])
		if err != nil {
			return NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
		}
		record.RecordData = recordData
		records = append(records, record)
		offset += 7 + dataByteCount
	}

	ec := dev.WriteFileRecords(records)
	if ec != 0 {
		return NewExceptionResponse(req.FunctionCode, ec)
	}
	return NewResponse(req.FunctionCode, req.Data)
}

func handleReadFIFOQueue(dev *datastore.DeviceContext, req *Request) *Response {
	if len(req.Data) != 2 {
		return NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address, _ := DecodeUint16(req.Data[0:2])

	values := dev.ReadFIFOQueue(address)
	if len(values) > modbus.MaxFIFOCount {
		return NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	fifoBytes := EncodeUint16Slice(values)
	responseData := make([]byte, 4+len(fifoBytes))
	copy(responseData[0:2], EncodeUint16(uint16(2+len(fifoBytes))))
	copy(responseData[2:4], EncodeUint16(uint16(len(values))))
	copy(responseData[4:], fifoBytes)
	return NewResponse(req.FunctionCode, responseData)
}

func handleEncapsulatedInterface(dev *datastore.DeviceContext, req *Request) *Response {
	if len(req.Data) < 1 {
		return NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	switch req.Data[0] {
	case modbus.MEITypeDeviceIdentification:
		return handleReadDeviceIdentification(dev, req)
	default:
		return NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalFunction)
	}
}

func handleReadDeviceIdentification(dev *datastore.DeviceContext, req *Request) *Response {
	if len(req.Data) < 3 {
		return NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	readCode := req.Data[1]
	info := dev.Identification

	responseData := []byte{
		modbus.MEITypeDeviceIdentification,
		readCode,
		info.ConformityLevel,
		0x00,
		0x00,
		0x03,
	}
	responseData = append(responseData, modbus.DeviceIDVendorName, byte(len(info.VendorName)))
	responseData = append(responseData, []byte(info.VendorName)...)
	responseData = append(responseData, modbus.DeviceIDProductCode, byte(len(info.ProductCode)))
	responseData = append(responseData, []byte(info.ProductCode)...)
	responseData = append(responseData, modbus.DeviceIDMajorMinorRevision, byte(len(info.MajorMinorRevision)))
	responseData = append(responseData, []byte(info.MajorMinorRevision)...)

	return NewResponse(req.FunctionCode, responseData)
}

func decodeFileRecordRequests(data []byte) ([]modbus.FileRecord, bool) {
	records := make([]modbus.FileRecord, 0)
	offset := 0
	for offset < len(data) {
		if offset+7 > len(data) {
			return nil, true
		}
		records = append(records, modbus.FileRecord{
			ReferenceType: data[offset],
			FileNumber:    binary.BigEndian.Uint16(data[offset+1 : offset+3]),
			RecordNumber:  binary.BigEndian.Uint16(data[offset+3 : offset+5]),
			RecordLength:  binary.BigEndian.Uint16(data[offset+5 : offset+7]),
		})
		offset += 7
	}
	return records, false
}
