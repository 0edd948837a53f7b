package datastore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldkit/modbus/modbus"
)

func TestDeviceContextBlocks(t *testing.T) {
	dev := NewSequentialDeviceContext(100, 100, 100, 100)

	require.NoError(t, dev.SetCoil(0, true))
	require.NoError(t, dev.SetCoil(2, true))
	require.NoError(t, dev.SetHoldingRegister(5, 1234))
	require.NoError(t, dev.SetDiscreteInput(1, true))
	require.NoError(t, dev.SetInputRegister(3, 777))

	coils, ec := dev.ReadCoils(0, 3)
	require.Equal(t, modbus.ExceptionCode(0), ec)
	assert.Equal(t, []bool{true, false, true}, coils)

	regs, ec := dev.ReadHoldingRegisters(5, 1)
	require.Equal(t, modbus.ExceptionCode(0), ec)
	assert.Equal(t, []uint16{1234}, regs)

	inputs, ec := dev.ReadDiscreteInputs(0, 2)
	require.Equal(t, modbus.ExceptionCode(0), ec)
	assert.Equal(t, []bool{false, true}, inputs)

	inRegs, ec := dev.ReadInputRegisters(3, 1)
	require.Equal(t, modbus.ExceptionCode(0), ec)
	assert.Equal(t, []uint16{777}, inRegs)

	_, ec = dev.ReadCoils(99, 2)
	assert.Equal(t, modbus.ExceptionCode(modbus.ExceptionCodeIllegalDataAddress), ec)
}

func TestDeviceContextFileRecords(t *testing.T) {
	dev := NewSequentialDeviceContext(10, 10, 10, 10)

	write := []modbus.FileRecord{{
		ReferenceType: modbus.FileRecordTypeExtended,
		FileNumber:    4,
		RecordNumber:  1,
		RecordLength:  3,
		RecordData:    []uint16{0x0102, 0x0304, 0x0506},
	}}
	require.Equal(t, modbus.ExceptionCode(0), dev.WriteFileRecords(write))

	read, ec := dev.ReadFileRecords([]modbus.FileRecord{{
		ReferenceType: modbus.FileRecordTypeExtended,
		FileNumber:    4,
		RecordNumber:  1,
		RecordLength:  3,
	}})
	require.Equal(t, modbus.ExceptionCode(0), ec)
	require.Len(t, read, 1)
	assert.Equal(t, []uint16{0x0102, 0x0304, 0x0506}, read[0].RecordData)

	t.Run("unknown file", func(t *testing.T) {
		_, ec := dev.ReadFileRecords([]modbus.FileRecord{{
			ReferenceType: modbus.FileRecordTypeExtended,
			FileNumber:    99,
			RecordNumber:  0,
			RecordLength:  1,
		}})
		assert.Equal(t, modbus.ExceptionCode(modbus.ExceptionCodeIllegalDataAddress), ec)
	})

	t.Run("bad reference type", func(t *testing.T) {
		ec := dev.WriteFileRecords([]modbus.FileRecord{{ReferenceType: 0x01, FileNumber: 1}})
		assert.Equal(t, modbus.ExceptionCode(modbus.ExceptionCodeIllegalDataValue), ec)
	})
}

func TestDeviceContextFIFOQueue(t *testing.T) {
	dev := NewSequentialDeviceContext(10, 10, 10, 10)

	assert.Empty(t, dev.ReadFIFOQueue(0x04DE))

	require.NoError(t, dev.SeedFIFOQueue(0x04DE, []uint16{0x01B8, 0x1284}))
	assert.Equal(t, []uint16{0x01B8, 0x1284}, dev.ReadFIFOQueue(0x04DE))

	tooLong := make([]uint16, modbus.MaxFIFOCount+1)
	assert.ErrorIs(t, dev.SeedFIFOQueue(0, tooLong), ErrParameter)
}

func TestDeviceContextDiagnostics(t *testing.T) {
	dev := NewSequentialDeviceContext(10, 10, 10, 10)

	t.Run("echo query data", func(t *testing.T) {
		data, ec := dev.GetDiagnosticData(modbus.DiagSubReturnQueryData, []byte{0xA5, 0x37})
		require.Equal(t, modbus.ExceptionCode(0), ec)
		assert.Equal(t, []byte{0xA5, 0x37}, data)
	})

	t.Run("bus message counter", func(t *testing.T) {
		dev.IncrementDiagnosticCounter("BusMessage")
		dev.IncrementDiagnosticCounter("BusMessage")

		data, ec := dev.GetDiagnosticData(modbus.DiagSubReturnBusMessageCount, nil)
		require.Equal(t, modbus.ExceptionCode(0), ec)
		assert.Equal(t, []byte{0x00, 0x02}, data)
	})

	t.Run("clear counters", func(t *testing.T) {
		dev.IncrementDiagnosticCounter("BusCommError")
		_, ec := dev.GetDiagnosticData(modbus.DiagSubClearCounters, nil)
		require.Equal(t, modbus.ExceptionCode(0), ec)

		data, _ := dev.GetDiagnosticData(modbus.DiagSubReturnBusCommErrorCount, nil)
		assert.Equal(t, []byte{0x00, 0x00}, data)
	})

	t.Run("unknown sub-function", func(t *testing.T) {
		_, ec := dev.GetDiagnosticData(0x7777, nil)
		assert.Equal(t, modbus.ExceptionCode(modbus.ExceptionCodeIllegalFunction), ec)
	})
}

func TestDeviceContextCommEvents(t *testing.T) {
	dev := NewSequentialDeviceContext(10, 10, 10, 10)
	dev.IncrementDiagnosticCounter("BusMessage")
	dev.IncrementDiagnosticCounter("ServerMessage")

	status, count := dev.GetCommEventCounter()
	assert.Equal(t, uint16(0xFFFF), status)
	assert.Equal(t, uint16(1), count)

	status, eventCount, messageCount, events := dev.GetCommEventLog()
	assert.Equal(t, uint16(0xFFFF), status)
	assert.Equal(t, uint16(1), eventCount)
	assert.Equal(t, uint16(1), messageCount)
	assert.Empty(t, events)
}

func TestDeviceContextExceptionStatusAndReset(t *testing.T) {
	dev := NewSequentialDeviceContext(10, 10, 10, 10)

	dev.SetExceptionStatus(0x44)
	assert.Equal(t, uint8(0x44), dev.ReadExceptionStatus())

	require.NoError(t, dev.SetHoldingRegister(0, 42))
	dev.Reset()

	assert.Equal(t, uint8(0), dev.ReadExceptionStatus())
	regs, ec := dev.ReadHoldingRegisters(0, 1)
	require.Equal(t, modbus.ExceptionCode(0), ec)
	assert.Equal(t, []uint16{0}, regs)
}

func TestServerContextRouting(t *testing.T) {
	devA := NewSequentialDeviceContext(10, 10, 10, 10)
	devB := NewSequentialDeviceContext(10, 10, 10, 10)

	t.Run("single mode answers every id", func(t *testing.T) {
		sc := NewSingleServerContext(devA)
		for _, id := range []uint8{0, 1, 42, 255} {
			got, ok := sc.GetDevice(id)
			require.True(t, ok)
			assert.Same(t, devA, got)
		}
		assert.True(t, sc.IsSingle())
	})

	t.Run("multi mode routes by exact id", func(t *testing.T) {
		sc := NewMultiServerContext(map[uint8]*DeviceContext{1: devA, 2: devB})

		got, ok := sc.GetDevice(1)
		require.True(t, ok)
		assert.Same(t, devA, got)

		got, ok = sc.GetDevice(2)
		require.True(t, ok)
		assert.Same(t, devB, got)

		_, ok = sc.GetDevice(3)
		assert.False(t, ok)

		assert.Equal(t, []uint8{1, 2}, sc.DeviceIDs())
	})

	t.Run("broadcast touches every device", func(t *testing.T) {
		sc := NewMultiServerContext(map[uint8]*DeviceContext{1: devA, 2: devB})
		touched := 0
		sc.Broadcast(func(dev *DeviceContext) { touched++ })
		assert.Equal(t, 2, touched)
	})

	t.Run("single mode rejects AddDevice", func(t *testing.T) {
		sc := NewSingleServerContext(devA)
		assert.Error(t, sc.AddDevice(2, devB))
	})
}
