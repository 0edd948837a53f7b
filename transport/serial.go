package transport

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fieldkit/modbus/framer"
	"github.com/fieldkit/modbus/logging"
	"github.com/fieldkit/modbus/modbus"
	"github.com/fieldkit/modbus/pdu"
	"go.bug.st/serial"
)

// SerialConfig holds serial port parameters.
type SerialConfig struct {
	Port     string
	BaudRate int
	DataBits int
	StopBits serial.StopBits
	Parity   serial.Parity
	Timeout  time.Duration
}

// NewSerialConfig builds a SerialConfig, mapping the conventional numeric
// and letter forms of stop bits and parity onto the serial library's
// types.
func NewSerialConfig(port string, baudRate int, dataBits int, stopBits int, parity string) (*SerialConfig, error) {
	var sb serial.StopBits
	switch stopBits {
	case 1:
		sb = serial.OneStopBit
	case 2:
		sb = serial.TwoStopBits
	default:
		return nil, modbus.NewCoreError(modbus.KindParameter, "NewSerialConfig",
			fmt.Errorf("invalid stop bits: %d (must be 1 or 2)", stopBits))
	}

	var p serial.Parity
	switch strings.ToUpper(parity) {
	case "N", "NONE":
		p = serial.NoParity
	case "E", "EVEN":
		p = serial.EvenParity
	case "O", "ODD":
		p = serial.OddParity
	default:
		return nil, modbus.NewCoreError(modbus.KindParameter, "NewSerialConfig",
			fmt.Errorf("invalid parity: %s (must be N, E, or O)", parity))
	}

	return &SerialConfig{
		Port:     port,
		BaudRate: baudRate,
		DataBits: dataBits,
		StopBits: sb,
		Parity:   p,
		Timeout:  time.Duration(modbus.DefaultResponseTimeout) * time.Millisecond,
	}, nil
}

func openSerialPort(config *SerialConfig) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: config.BaudRate,
		DataBits: config.DataBits,
		Parity:   config.Parity,
		StopBits: config.StopBits,
	}
	port, err := serial.Open(config.Port, mode)
	if err != nil {
		return nil, modbus.NewCoreError(modbus.KindConnection, "Connect",
			fmt.Errorf("failed to open serial port %s: %w", config.Port, err))
	}
	return port, nil
}

// characterTime is the wall time one character occupies on the wire:
// start bit + data bits + parity bit (if any) + stop bits.
func characterTime(config *SerialConfig) time.Duration {
	stopBits := 1
	if config.StopBits == serial.TwoStopBits {
		stopBits = 2
	}
	bits := 1 + config.DataBits + stopBits
	if config.Parity != serial.NoParity {
		bits++
	}
	return time.Duration(int64(bits) * int64(time.Second) / int64(config.BaudRate))
}

// RTUTransport carries RTU frames over a serial line. Frame extents and
// CRC validation live in framer.RTU; this type owns the port, the
// inter-character silence rules, and the single-exchange discipline a
// half-duplex bus imposes.
type RTUTransport struct {
	config    *SerialConfig
	port      serial.Port
	framer    *framer.RTU
	connected bool
	mutex     sync.Mutex
	log       logging.Sink
}

// NewRTUTransport creates an RTU transport over the configured port.
func NewRTUTransport(config *SerialConfig) *RTUTransport {
	return &RTUTransport{
		config: config,
		framer: framer.NewRTU(framer.DecodeResponses),
		log:    logging.NewNoop(),
	}
}

// SetLogSink attaches a structured logging sink.
func (t *RTUTransport) SetLogSink(sink logging.Sink) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if sink == nil {
		sink = logging.NewNoop()
	}
	t.log = sink
}

// Connect opens the serial port.
func (t *RTUTransport) Connect() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.connected {
		return nil
	}
	port, err := openSerialPort(t.config)
	if err != nil {
		return err
	}
	if err := port.SetReadTimeout(t.config.Timeout); err != nil {
		_ = port.Close()
		return modbus.NewCoreError(modbus.KindConnection, "Connect",
			fmt.Errorf("failed to set read timeout: %w", err))
	}
	t.port = port
	t.framer.Reset()
	t.connected = true
	return nil
}

// Close closes the serial port.
func (t *RTUTransport) Close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.connected || t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	t.connected = false
	return err
}

// IsConnected reports whether the port is open.
func (t *RTUTransport) IsConnected() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.connected
}

// SetTimeout sets the response timeout.
func (t *RTUTransport) SetTimeout(timeout time.Duration) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.config.Timeout = timeout
	if t.connected && t.port != nil {
		_ = t.port.SetReadTimeout(timeout)
	}
}

// GetTimeout returns the current response timeout.
func (t *RTUTransport) GetTimeout() time.Duration {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.config.Timeout
}

// SendRequest writes one RTU frame and accumulates port reads through the
// framer until the addressed device's reply emerges or the response
// timeout passes. RTU mandates 3.5 character times of silence between
// frames; the inter-read timeout approximates that so a finished frame is
// recognized promptly even when shorter than a full read buffer.
func (t *RTUTransport) SendRequest(slaveID modbus.SlaveID, request *pdu.Request) (*pdu.Response, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.connected {
		return nil, modbus.NewCoreError(modbus.KindConnection, "SendRequest", fmt.Errorf("transport not connected"))
	}

	adu := t.framer.Build(uint8(slaveID), request.Bytes(), 0)
	if _, err := t.port.Write(adu); err != nil {
		return nil, modbus.NewCoreError(modbus.KindConnection, "SendRequest",
			fmt.Errorf("failed to write RTU frame: %w", err))
	}

	interFrame := 4 * characterTime(t.config)
	if interFrame < time.Millisecond {
		interFrame = time.Millisecond
	}
	_ = t.port.SetReadTimeout(interFrame)
	defer func() { _ = t.port.SetReadTimeout(t.config.Timeout) }()

	deadline := time.Now().Add(t.config.Timeout)
	buf := make([]byte, modbus.MaxSerialADUSize)
	for {
		n, err := t.port.Read(buf)
		if err != nil {
			return nil, modbus.NewCoreError(modbus.KindConnection, "SendRequest",
				fmt.Errorf("failed to read RTU response: %w", err))
		}
		for _, frame := range t.framer.Feed(buf[:n]) {
			if frame.DeviceID != uint8(slaveID) {
				t.log.Debug("dropping frame from unexpected device", logging.Fields{"unit_id": frame.DeviceID})
				continue
			}
			responsePDU, perr := pdu.ParsePDU(frame.PDU)
			if perr != nil {
				return nil, modbus.NewCoreError(modbus.KindIO, "SendRequest", perr)
			}
			return &pdu.Response{PDU: responsePDU}, nil
		}
		if time.Now().After(deadline) {
			return nil, modbus.NewCoreError(modbus.KindTimeout, "SendRequest",
				fmt.Errorf("no response before deadline"))
		}
	}
}

// SendBroadcast writes a frame addressed to unit id 0 and observes the
// 3.5-character inter-frame silence instead of waiting for a reply.
func (t *RTUTransport) SendBroadcast(request *pdu.Request) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.connected {
		return modbus.NewCoreError(modbus.KindConnection, "SendBroadcast", fmt.Errorf("transport not connected"))
	}
	adu := t.framer.Build(uint8(modbus.BroadcastAddress), request.Bytes(), 0)
	if _, err := t.port.Write(adu); err != nil {
		return modbus.NewCoreError(modbus.KindConnection, "SendBroadcast",
			fmt.Errorf("failed to write broadcast frame: %w", err))
	}
	time.Sleep(4 * characterTime(t.config))
	return nil
}

// GetTransportType returns the transport type.
func (t *RTUTransport) GetTransportType() modbus.TransportType {
	return modbus.TransportRTU
}

// String returns a string representation of the transport.
func (t *RTUTransport) String() string {
	return fmt.Sprintf("RTU(%s@%d)", t.config.Port, t.config.BaudRate)
}

// ASCIITransport carries ASCII frames over a serial line, with framing
// and LRC validation delegated to framer.ASCII.
type ASCIITransport struct {
	config    *SerialConfig
	port      serial.Port
	framer    *framer.ASCII
	connected bool
	mutex     sync.Mutex
	log       logging.Sink
}

// NewASCIITransport creates an ASCII transport over the configured port.
func NewASCIITransport(config *SerialConfig) *ASCIITransport {
	return &ASCIITransport{
		config: config,
		framer: framer.NewASCII(),
		log:    logging.NewNoop(),
	}
}

// SetLogSink attaches a structured logging sink.
func (t *ASCIITransport) SetLogSink(sink logging.Sink) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if sink == nil {
		sink = logging.NewNoop()
	}
	t.log = sink
}

// Connect opens the serial port.
func (t *ASCIITransport) Connect() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.connected {
		return nil
	}
	port, err := openSerialPort(t.config)
	if err != nil {
		return err
	}
	if err := port.SetReadTimeout(t.config.Timeout); err != nil {
		_ = port.Close()
		return modbus.NewCoreError(modbus.KindConnection, "Connect",
			fmt.Errorf("failed to set read timeout: %w", err))
	}
	t.port = port
	t.framer.Reset()
	t.connected = true
	return nil
}

// Close closes the serial port.
func (t *ASCIITransport) Close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.connected || t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	t.connected = false
	return err
}

// IsConnected reports whether the port is open.
func (t *ASCIITransport) IsConnected() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.connected
}

// SetTimeout sets the response timeout.
func (t *ASCIITransport) SetTimeout(timeout time.Duration) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.config.Timeout = timeout
	if t.connected && t.port != nil {
		_ = t.port.SetReadTimeout(timeout)
	}
}

// GetTimeout returns the current response timeout.
func (t *ASCIITransport) GetTimeout() time.Duration {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.config.Timeout
}

// SendRequest writes one ASCII frame and reads until the addressed
// device's reply emerges from the framer or the timeout passes.
func (t *ASCIITransport) SendRequest(slaveID modbus.SlaveID, request *pdu.Request) (*pdu.Response, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.connected {
		return nil, modbus.NewCoreError(modbus.KindConnection, "SendRequest", fmt.Errorf("transport not connected"))
	}

	adu := t.framer.Build(uint8(slaveID), request.Bytes(), 0)
	if _, err := t.port.Write(adu); err != nil {
		return nil, modbus.NewCoreError(modbus.KindConnection, "SendRequest",
			fmt.Errorf("failed to write ASCII frame: %w", err))
	}

	deadline := time.Now().Add(t.config.Timeout)
	buf := make([]byte, modbus.MaxSerialADUSize*2)
	for {
		n, err := t.port.Read(buf)
		if err != nil {
			return nil, modbus.NewCoreError(modbus.KindConnection, "SendRequest",
				fmt.Errorf("failed to read ASCII response: %w", err))
		}
		for _, frame := range t.framer.Feed(buf[:n]) {
			if frame.DeviceID != uint8(slaveID) {
				t.log.Debug("dropping frame from unexpected device", logging.Fields{"unit_id": frame.DeviceID})
				continue
			}
			responsePDU, perr := pdu.ParsePDU(frame.PDU)
			if perr != nil {
				return nil, modbus.NewCoreError(modbus.KindIO, "SendRequest", perr)
			}
			return &pdu.Response{PDU: responsePDU}, nil
		}
		if time.Now().After(deadline) {
			return nil, modbus.NewCoreError(modbus.KindTimeout, "SendRequest",
				fmt.Errorf("no response before deadline"))
		}
	}
}

// SendBroadcast writes a frame addressed to unit id 0 and returns without
// waiting for a reply.
func (t *ASCIITransport) SendBroadcast(request *pdu.Request) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.connected {
		return modbus.NewCoreError(modbus.KindConnection, "SendBroadcast", fmt.Errorf("transport not connected"))
	}
	adu := t.framer.Build(uint8(modbus.BroadcastAddress), request.Bytes(), 0)
	if _, err := t.port.Write(adu); err != nil {
		return modbus.NewCoreError(modbus.KindConnection, "SendBroadcast",
			fmt.Errorf("failed to write broadcast frame: %w", err))
	}
	return nil
}

// GetTransportType returns the transport type.
func (t *ASCIITransport) GetTransportType() modbus.TransportType {
	return modbus.TransportASCII
}

// String returns a string representation of the transport.
func (t *ASCIITransport) String() string {
	return fmt.Sprintf("ASCII(%s@%d)", t.config.Port, t.config.BaudRate)
}
