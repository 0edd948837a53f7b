package modbus

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/fieldkit/modbus/modbus"
)

func TestTCPClient(t *testing.T) {
	device := NewDataStore(1000, 1000, 1000, 1000)
	for i := 0; i < 10; i++ {
		if err := device.SetCoil(uint16(i), i%2 == 0); err != nil {
			t.Fatalf("Failed to seed coil %d: %v", i, err)
		}
		if err := device.SetHoldingRegister(uint16(i), uint16(i*100)); err != nil {
			t.Fatalf("Failed to seed register %d: %v", i, err)
		}
	}

	server, err := NewTCPServer("localhost:15502", device)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	if err := server.Bind(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	time.Sleep(100 * time.Millisecond)

	client := NewTCPClient("localhost:15502")
	client.SetSlaveID(1)
	client.SetTimeout(2 * time.Second)

	t.Run("ConnectAndDisconnect", func(t *testing.T) {
		if err := client.Connect(); err != nil {
			t.Fatalf("Failed to connect: %v", err)
		}
		if !client.IsConnected() {
			t.Error("Expected client to be connected")
		}

		client.Close()
		if client.IsConnected() {
			t.Error("Expected client to be disconnected")
		}

		if err := client.Connect(); err != nil {
			t.Fatalf("Failed to reconnect: %v", err)
		}
	})

	t.Run("ReadCoils", func(t *testing.T) {
		values, err := client.ReadCoils(0, 5)
		if err != nil {
			t.Fatalf("Failed to read coils: %v", err)
		}

		expected := []bool{true, false, true, false, true}
		for i, v := range values {
			if v != expected[i] {
				t.Errorf("Coil %d: expected %v, got %v", i, expected[i], v)
			}
		}
	})

	t.Run("WriteSingleCoil", func(t *testing.T) {
		if err := client.WriteSingleCoil(10, true); err != nil {
			t.Fatalf("Failed to write coil: %v", err)
		}

		values, err := client.ReadCoils(10, 1)
		if err != nil {
			t.Fatalf("Failed to read coil: %v", err)
		}
		if !values[0] {
			t.Error("Expected coil to be ON")
		}
	})

	t.Run("ReadHoldingRegisters", func(t *testing.T) {
		values, err := client.ReadHoldingRegisters(0, 5)
		if err != nil {
			t.Fatalf("Failed to read holding registers: %v", err)
		}

		for i, v := range values {
			expected := uint16(i * 100)
			if v != expected {
				t.Errorf("Register %d: expected %d, got %d", i, expected, v)
			}
		}
	})

	t.Run("WriteSingleRegister", func(t *testing.T) {
		if err := client.WriteSingleRegister(20, 12345); err != nil {
			t.Fatalf("Failed to write register: %v", err)
		}

		values, err := client.ReadHoldingRegisters(20, 1)
		if err != nil {
			t.Fatalf("Failed to read register: %v", err)
		}
		if values[0] != 12345 {
			t.Errorf("Expected 12345, got %d", values[0])
		}
	})

	t.Run("WriteMultipleCoilsReadBack", func(t *testing.T) {
		values := make([]bool, 21)
		for i := range values {
			values[i] = true
		}
		if err := client.WriteMultipleCoils(100, values); err != nil {
			t.Fatalf("Failed to write coils: %v", err)
		}

		// Reading 24 bits back: the written 21 plus three zero-filled
		// bits padding the last byte.
		readBack, err := client.ReadCoils(100, 24)
		if err != nil {
			t.Fatalf("Failed to read coils back: %v", err)
		}
		for i := 0; i < 21; i++ {
			if !readBack[i] {
				t.Errorf("Coil %d: expected ON", i)
			}
		}
		for i := 21; i < 24; i++ {
			if readBack[i] {
				t.Errorf("Coil %d: expected OFF", i)
			}
		}
	})

	t.Run("WriteMultipleRegisters", func(t *testing.T) {
		values := []uint16{11, 22, 33, 44}
		if err := client.WriteMultipleRegisters(200, values); err != nil {
			t.Fatalf("Failed to write registers: %v", err)
		}

		readBack, err := client.ReadHoldingRegisters(200, 4)
		if err != nil {
			t.Fatalf("Failed to read registers back: %v", err)
		}
		for i, v := range readBack {
			if v != values[i] {
				t.Errorf("Register %d: expected %d, got %d", i, values[i], v)
			}
		}
	})

	t.Run("ReadWriteMultipleRegisters", func(t *testing.T) {
		read, err := client.ReadWriteMultipleRegisters(0, 3, 300, []uint16{7, 8})
		if err != nil {
			t.Fatalf("Failed read/write registers: %v", err)
		}
		if len(read) != 3 {
			t.Fatalf("Expected 3 registers, got %d", len(read))
		}

		written, err := client.ReadHoldingRegisters(300, 2)
		if err != nil {
			t.Fatalf("Failed to read written registers: %v", err)
		}
		if written[0] != 7 || written[1] != 8 {
			t.Errorf("Expected [7 8], got %v", written)
		}
	})

	t.Run("MaskWriteRegister", func(t *testing.T) {
		if err := client.WriteSingleRegister(400, 0x0012); err != nil {
			t.Fatalf("Failed to seed register: %v", err)
		}
		if err := client.MaskWriteRegister(400, 0x00F2, 0x0025); err != nil {
			t.Fatalf("Failed mask write: %v", err)
		}

		values, err := client.ReadHoldingRegisters(400, 1)
		if err != nil {
			t.Fatalf("Failed to read register: %v", err)
		}
		// (0x12 AND 0xF2) OR (0x25 AND NOT 0xF2) = 0x17
		if values[0] != 0x0017 {
			t.Errorf("Expected 0x0017, got 0x%04X", values[0])
		}
	})

	t.Run("IllegalAddress", func(t *testing.T) {
		_, err := client.ReadHoldingRegisters(5000, 1)
		if err == nil {
			t.Fatal("Expected exception for out-of-range read")
		}
		var mbErr *modbus.ModbusError
		if !errors.As(err, &mbErr) {
			t.Fatalf("Expected a ModbusError, got %T: %v", err, err)
		}
		if mbErr.ExceptionCode != modbus.ExceptionCodeIllegalDataAddress {
			t.Errorf("Expected IllegalDataAddress, got %v", mbErr.ExceptionCode)
		}
	})

	t.Run("BroadcastWrite", func(t *testing.T) {
		if err := client.BroadcastWriteSingleRegister(500, 999); err != nil {
			t.Fatalf("Broadcast failed: %v", err)
		}

		// The server answered nothing, but applied the write.
		values, err := client.ReadHoldingRegisters(500, 1)
		if err != nil {
			t.Fatalf("Failed to read register: %v", err)
		}
		if values[0] != 999 {
			t.Errorf("Expected broadcast write to apply, got %d", values[0])
		}
	})

	t.Run("ReadDeviceIdentification", func(t *testing.T) {
		deviceID, moreFollows, nextObjectID, err := client.ReadDeviceIdentification(
			modbus.DeviceIDReadBasic, 0)
		if err != nil {
			t.Fatalf("Failed to read device identification: %v", err)
		}
		if deviceID.VendorName == "" {
			t.Error("Expected vendor name")
		}
		if deviceID.ProductCode == "" {
			t.Error("Expected product code")
		}
		if moreFollows {
			t.Logf("More objects available, next object ID: %d", nextObjectID)
		}
	})

	client.Close()
}

func TestClientRetry(t *testing.T) {
	client := NewTCPClient("localhost:19999")
	client.SetSlaveID(1)
	client.SetTimeout(100 * time.Millisecond)
	client.SetRetryCount(2)

	if err := client.Connect(); err == nil {
		t.Error("Expected connection error")
		client.Close()
	}
}

// A listener that accepts and then never responds: every client attempt
// must run the full retry budget and fail with a timeout kind.
func TestClientTimeoutAfterRetries(t *testing.T) {
	listener, err := net.Listen("tcp", "localhost:15503")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer listener.Close()
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			// Hold the connection open, never reply.
			defer conn.Close()
		}
	}()

	client := NewTCPClient("localhost:15503")
	client.SetSlaveID(1)
	client.SetTimeout(50 * time.Millisecond)
	client.SetRetryCount(2)
	client.SetRetryDelay(0)

	if err := client.Connect(); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	start := time.Now()
	_, err = client.ReadCoils(0, 10)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if !errors.Is(err, modbus.ErrTimeout) {
		t.Errorf("Expected Timeout kind, got %v", err)
	}
	// retries+1 attempts at 50ms each, with some slack for timer granularity
	if elapsed < 120*time.Millisecond {
		t.Errorf("Expected at least 3 attempts, finished in %v", elapsed)
	}
}
