package transport

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/fieldkit/modbus/framer"
	"github.com/fieldkit/modbus/logging"
	"github.com/fieldkit/modbus/modbus"
	"github.com/fieldkit/modbus/pdu"
)

// TCPTransport carries MBAP frames over a TCP or TLS stream. Framing is
// delegated to framer.MBAP; this type only owns the socket, timeouts, and
// the transaction id counter.
type TCPTransport struct {
	conn           net.Conn
	framer         *framer.MBAP
	transactionID  uint16
	timeout        time.Duration
	idleTimeout    time.Duration
	connectTimeout time.Duration
	mutex          sync.Mutex
	address        string
	sourceAddress  string
	connected      bool
	tlsConfig      *tls.Config
	log            logging.Sink
}

// TCPTransportConfig holds configuration for a TCP transport.
type TCPTransportConfig struct {
	Address string
	// SourceAddress, when set, is the local address the dialer binds to.
	SourceAddress  string
	Timeout        time.Duration
	IdleTimeout    time.Duration
	ConnectTimeout time.Duration
	TLSConfig      *tls.Config
	Log            logging.Sink
}

// NewTCPTransport creates a TCP transport with default timeouts.
func NewTCPTransport(address string) *TCPTransport {
	return NewTCPTransportWithConfig(TCPTransportConfig{Address: address})
}

// NewTCPTransportWithConfig creates a TCP transport with full configuration.
func NewTCPTransportWithConfig(config TCPTransportConfig) *TCPTransport {
	t := &TCPTransport{
		address:        config.Address,
		sourceAddress:  config.SourceAddress,
		framer:         framer.NewMBAP(),
		timeout:        config.Timeout,
		idleTimeout:    config.IdleTimeout,
		connectTimeout: config.ConnectTimeout,
		tlsConfig:      config.TLSConfig,
		log:            config.Log,
		transactionID:  1,
	}
	if t.timeout == 0 {
		t.timeout = time.Duration(modbus.DefaultResponseTimeout) * time.Millisecond
	}
	if t.connectTimeout == 0 {
		t.connectTimeout = time.Duration(modbus.DefaultConnectTimeout) * time.Millisecond
	}
	if t.idleTimeout == 0 {
		t.idleTimeout = 60 * time.Second
	}
	if t.log == nil {
		t.log = logging.NewNoop()
	}
	return t
}

// NewTLSTransport creates a transport that carries MBAP over TLS.
func NewTLSTransport(address string, tlsConfig *tls.Config) *TCPTransport {
	return NewTCPTransportWithConfig(TCPTransportConfig{Address: address, TLSConfig: tlsConfig})
}

// SetLogSink attaches a structured logging sink.
func (t *TCPTransport) SetLogSink(sink logging.Sink) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if sink == nil {
		sink = logging.NewNoop()
	}
	t.log = sink
}

// SetIdleTimeout sets the idle timeout for the connection.
func (t *TCPTransport) SetIdleTimeout(timeout time.Duration) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.idleTimeout = timeout
}

// SetConnectTimeout sets the connection timeout.
func (t *TCPTransport) SetConnectTimeout(timeout time.Duration) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.connectTimeout = timeout
}

// Connect establishes the TCP (or TLS) session.
func (t *TCPTransport) Connect() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.connected {
		return nil
	}

	dialer := &net.Dialer{Timeout: t.connectTimeout}
	if t.sourceAddress != "" {
		local, err := net.ResolveTCPAddr("tcp", t.sourceAddress)
		if err != nil {
			return modbus.NewCoreError(modbus.KindParameter, "Connect",
				fmt.Errorf("invalid source address %s: %w", t.sourceAddress, err))
		}
		dialer.LocalAddr = local
	}

	var conn net.Conn
	var err error
	if t.tlsConfig != nil {
		t.log.Debug("dialing with TLS", logging.Fields{"address": t.address})
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: t.tlsConfig}
		conn, err = tlsDialer.Dial("tcp", t.address)
	} else {
		t.log.Debug("dialing", logging.Fields{"address": t.address})
		conn, err = dialer.Dial("tcp", t.address)
	}
	if err != nil {
		return modbus.NewCoreError(modbus.KindConnection, "Connect",
			fmt.Errorf("failed to connect to %s: %w", t.address, err))
	}

	t.conn = conn
	t.framer.Reset()
	t.connected = true
	t.log.Info("connected", logging.Fields{"address": t.address, "tls": t.tlsConfig != nil})
	return nil
}

// Close closes the session.
func (t *TCPTransport) Close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.connected || t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.connected = false
	return err
}

// IsConnected reports whether the session is up.
func (t *TCPTransport) IsConnected() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.connected
}

// SetTimeout sets the response timeout.
func (t *TCPTransport) SetTimeout(timeout time.Duration) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.timeout = timeout
}

// GetTimeout returns the current response timeout.
func (t *TCPTransport) GetTimeout() time.Duration {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.timeout
}

// SendRequest sends one request and waits for the frame whose transaction
// id matches it. Frames with a different transaction id belong to no
// waiter on this simple synchronous path and are dropped.
func (t *TCPTransport) SendRequest(slaveID modbus.SlaveID, request *pdu.Request) (*pdu.Response, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.connected {
		return nil, modbus.NewCoreError(modbus.KindConnection, "SendRequest", fmt.Errorf("transport not connected"))
	}

	txID := t.transactionID
	t.transactionID++
	if t.transactionID == 0 {
		t.transactionID = 1
	}

	adu := t.framer.Build(uint8(slaveID), request.Bytes(), txID)
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.timeout)); err != nil {
		return nil, modbus.NewCoreError(modbus.KindConnection, "SendRequest", err)
	}
	if _, err := t.conn.Write(adu); err != nil {
		return nil, modbus.NewCoreError(modbus.KindConnection, "SendRequest",
			fmt.Errorf("failed to write request: %w", err))
	}

	deadline := time.Now().Add(t.timeout)
	frame, err := t.awaitFrame(deadline, func(fr framer.Frame) bool {
		return fr.TransactionID == txID && fr.DeviceID == uint8(slaveID)
	})
	if err != nil {
		return nil, err
	}

	responsePDU, err := pdu.ParsePDU(frame.PDU)
	if err != nil {
		return nil, modbus.NewCoreError(modbus.KindIO, "SendRequest",
			fmt.Errorf("failed to parse response PDU: %w", err))
	}
	return &pdu.Response{PDU: responsePDU}, nil
}

// awaitFrame reads from the socket into the framer until a frame matching
// match arrives or deadline passes.
func (t *TCPTransport) awaitFrame(deadline time.Time, match func(framer.Frame) bool) (framer.Frame, error) {
	buf := make([]byte, modbus.MaxTCPADUSize)
	for {
		if err := t.conn.SetReadDeadline(deadline); err != nil {
			return framer.Frame{}, modbus.NewCoreError(modbus.KindConnection, "awaitFrame", err)
		}
		n, err := t.conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return framer.Frame{}, modbus.NewCoreError(modbus.KindTimeout, "awaitFrame",
					fmt.Errorf("no matching response before deadline"))
			}
			return framer.Frame{}, modbus.NewCoreError(modbus.KindConnection, "awaitFrame",
				fmt.Errorf("read failed: %w", err))
		}
		for _, frame := range t.framer.Feed(buf[:n]) {
			if match(frame) {
				return frame, nil
			}
			t.log.Debug("dropping unmatched frame", logging.Fields{
				"transaction_id": frame.TransactionID,
				"unit_id":        frame.DeviceID,
			})
		}
	}
}

// SendBroadcast writes a frame addressed to unit id 0 and returns without
// reading: a broadcast's only acknowledgement is silence.
func (t *TCPTransport) SendBroadcast(request *pdu.Request) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.connected {
		return modbus.NewCoreError(modbus.KindConnection, "SendBroadcast", fmt.Errorf("transport not connected"))
	}

	txID := t.transactionID
	t.transactionID++
	if t.transactionID == 0 {
		t.transactionID = 1
	}

	adu := t.framer.Build(uint8(modbus.BroadcastAddress), request.Bytes(), txID)
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.timeout)); err != nil {
		return modbus.NewCoreError(modbus.KindConnection, "SendBroadcast", err)
	}
	if _, err := t.conn.Write(adu); err != nil {
		return modbus.NewCoreError(modbus.KindConnection, "SendBroadcast",
			fmt.Errorf("failed to write broadcast: %w", err))
	}
	return nil
}

// GetTransportType returns the transport type.
func (t *TCPTransport) GetTransportType() modbus.TransportType {
	return modbus.TransportTCP
}

// String returns a string representation of the transport.
func (t *TCPTransport) String() string {
	if t.tlsConfig != nil {
		return fmt.Sprintf("TCP+TLS(%s)", t.address)
	}
	return fmt.Sprintf("TCP(%s)", t.address)
}

// RTUOverTCPTransport carries RTU frames over a TCP stream, the framing
// serial-to-Ethernet converters expect.
type RTUOverTCPTransport struct {
	conn           net.Conn
	framer         *framer.RTU
	timeout        time.Duration
	connectTimeout time.Duration
	mutex          sync.Mutex
	address        string
	connected      bool
	log            logging.Sink
}

// NewRTUOverTCPTransport creates an RTU-over-TCP transport.
func NewRTUOverTCPTransport(address string) *RTUOverTCPTransport {
	return &RTUOverTCPTransport{
		address:        address,
		framer:         framer.NewRTU(framer.DecodeResponses),
		timeout:        time.Duration(modbus.DefaultResponseTimeout) * time.Millisecond,
		connectTimeout: time.Duration(modbus.DefaultConnectTimeout) * time.Millisecond,
		log:            logging.NewNoop(),
	}
}

// SetLogSink attaches a structured logging sink.
func (t *RTUOverTCPTransport) SetLogSink(sink logging.Sink) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if sink == nil {
		sink = logging.NewNoop()
	}
	t.log = sink
}

// Connect establishes the TCP session.
func (t *RTUOverTCPTransport) Connect() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.connected {
		return nil
	}
	dialer := &net.Dialer{Timeout: t.connectTimeout}
	conn, err := dialer.Dial("tcp", t.address)
	if err != nil {
		return modbus.NewCoreError(modbus.KindConnection, "Connect",
			fmt.Errorf("failed to connect to %s: %w", t.address, err))
	}
	t.conn = conn
	t.framer.Reset()
	t.connected = true
	return nil
}

// Close closes the session.
func (t *RTUOverTCPTransport) Close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.connected || t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.connected = false
	return err
}

// IsConnected reports whether the session is up.
func (t *RTUOverTCPTransport) IsConnected() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.connected
}

// SetTimeout sets the response timeout.
func (t *RTUOverTCPTransport) SetTimeout(timeout time.Duration) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.timeout = timeout
}

// GetTimeout returns the current response timeout.
func (t *RTUOverTCPTransport) GetTimeout() time.Duration {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.timeout
}

// SendRequest sends one RTU frame and waits for the addressed device's
// reply. RTU carries no transaction id, so the serial exchange discipline
// applies: one request in flight, the next frame from the right device is
// the answer.
func (t *RTUOverTCPTransport) SendRequest(slaveID modbus.SlaveID, request *pdu.Request) (*pdu.Response, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.connected {
		return nil, modbus.NewCoreError(modbus.KindConnection, "SendRequest", fmt.Errorf("transport not connected"))
	}

	adu := t.framer.Build(uint8(slaveID), request.Bytes(), 0)
	if err := t.conn.SetDeadline(time.Now().Add(t.timeout)); err != nil {
		return nil, modbus.NewCoreError(modbus.KindConnection, "SendRequest", err)
	}
	if _, err := t.conn.Write(adu); err != nil {
		return nil, modbus.NewCoreError(modbus.KindConnection, "SendRequest",
			fmt.Errorf("failed to send RTU frame: %w", err))
	}

	buf := make([]byte, modbus.MaxSerialADUSize)
	for {
		n, err := t.conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil, modbus.NewCoreError(modbus.KindTimeout, "SendRequest",
					fmt.Errorf("no response before deadline"))
			}
			return nil, modbus.NewCoreError(modbus.KindConnection, "SendRequest",
				fmt.Errorf("read failed: %w", err))
		}
		for _, frame := range t.framer.Feed(buf[:n]) {
			if frame.DeviceID != uint8(slaveID) {
				t.log.Debug("dropping frame from unexpected device", logging.Fields{"unit_id": frame.DeviceID})
				continue
			}
			responsePDU, err := pdu.ParsePDU(frame.PDU)
			if err != nil {
				return nil, modbus.NewCoreError(modbus.KindIO, "SendRequest", err)
			}
			return &pdu.Response{PDU: responsePDU}, nil
		}
	}
}

// SendBroadcast writes an RTU frame addressed to unit id 0 and returns
// without reading.
func (t *RTUOverTCPTransport) SendBroadcast(request *pdu.Request) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.connected {
		return modbus.NewCoreError(modbus.KindConnection, "SendBroadcast", fmt.Errorf("transport not connected"))
	}
	adu := t.framer.Build(uint8(modbus.BroadcastAddress), request.Bytes(), 0)
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.timeout)); err != nil {
		return modbus.NewCoreError(modbus.KindConnection, "SendBroadcast", err)
	}
	if _, err := t.conn.Write(adu); err != nil {
		return modbus.NewCoreError(modbus.KindConnection, "SendBroadcast",
			fmt.Errorf("failed to write broadcast: %w", err))
	}
	return nil
}

// GetTransportType returns the transport type.
func (t *RTUOverTCPTransport) GetTransportType() modbus.TransportType {
	return modbus.TransportRTU
}

// String returns a string representation.
func (t *RTUOverTCPTransport) String() string {
	return fmt.Sprintf("RTU-over-TCP(%s)", t.address)
}
