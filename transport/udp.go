package transport

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/fieldkit/modbus/framer"
	"github.com/fieldkit/modbus/logging"
	"github.com/fieldkit/modbus/modbus"
	"github.com/fieldkit/modbus/pdu"
)

// UDPTransport carries MBAP frames over UDP datagrams, one frame per
// datagram (the socket framing variant). Datagram loss is left to the
// transaction layer's retry policy.
type UDPTransport struct {
	conn          *net.UDPConn
	framer        *framer.Socket
	transactionID uint16
	timeout       time.Duration
	mutex         sync.Mutex
	address       string
	connected     bool
	log           logging.Sink
}

// NewUDPTransport creates a UDP transport.
func NewUDPTransport(address string) *UDPTransport {
	return &UDPTransport{
		address: address,
		framer:  framer.NewSocket(),
		timeout: time.Duration(modbus.DefaultResponseTimeout) * time.Millisecond,
		log:     logging.NewNoop(),

		transactionID: 1,
	}
}

// SetLogSink attaches a structured logging sink.
func (t *UDPTransport) SetLogSink(sink logging.Sink) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if sink == nil {
		sink = logging.NewNoop()
	}
	t.log = sink
}

// Connect resolves the remote address and opens the socket.
func (t *UDPTransport) Connect() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.connected {
		return nil
	}
	remoteAddr, err := net.ResolveUDPAddr("udp", t.address)
	if err != nil {
		return modbus.NewCoreError(modbus.KindConnection, "Connect",
			fmt.Errorf("failed to resolve %s: %w", t.address, err))
	}
	conn, err := net.DialUDP("udp", nil, remoteAddr)
	if err != nil {
		return modbus.NewCoreError(modbus.KindConnection, "Connect",
			fmt.Errorf("failed to open UDP socket: %w", err))
	}
	t.conn = conn
	t.connected = true
	return nil
}

// Close closes the socket.
func (t *UDPTransport) Close() error {
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

// IsConnected reports whether the socket is open.
func (t *UDPTransport) IsConnected() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.connected
}

// SetTimeout sets the response timeout.
func (t *UDPTransport) SetTimeout(timeout time.Duration) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.timeout = timeout
}

// GetTimeout returns the current response timeout.
func (t *UDPTransport) GetTimeout() time.Duration {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.timeout
}

// SendRequest sends one datagram and waits for the reply datagram whose
// transaction id matches. Unmatched or malformed datagrams are dropped
// and the wait continues until the deadline.
func (t *UDPTransport) SendRequest(slaveID modbus.SlaveID, request *pdu.Request) (*pdu.Response, error) {
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
	deadline := time.Now().Add(t.timeout)
	if err := t.conn.SetDeadline(deadline); err != nil {
		return nil, modbus.NewCoreError(modbus.KindConnection, "SendRequest", err)
	}
	if _, err := t.conn.Write(adu); err != nil {
		return nil, modbus.NewCoreError(modbus.KindConnection, "SendRequest",
			fmt.Errorf("failed to send datagram: %w", err))
	}

	buf := make([]byte, modbus.MaxTCPADUSize)
	for {
		n, err := t.conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil, modbus.NewCoreError(modbus.KindTimeout, "SendRequest",
					fmt.Errorf("no response before deadline"))
			}
			return nil, modbus.NewCoreError(modbus.KindConnection, "SendRequest",
				fmt.Errorf("receive failed: %w", err))
		}
		for _, frame := range t.framer.Feed(buf[:n]) {
			if frame.TransactionID != txID {
				t.log.Debug("dropping unmatched datagram", logging.Fields{"transaction_id": frame.TransactionID})
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

// SendBroadcast sends a datagram addressed to unit id 0 and returns
// without waiting for a reply.
func (t *UDPTransport) SendBroadcast(request *pdu.Request) error {
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
	if _, err := t.conn.Write(adu); err != nil {
		return modbus.NewCoreError(modbus.KindConnection, "SendBroadcast",
			fmt.Errorf("failed to send broadcast datagram: %w", err))
	}
	return nil
}

// GetTransportType returns the transport type.
func (t *UDPTransport) GetTransportType() modbus.TransportType {
	return modbus.TransportUDP
}

// String returns a string representation.
func (t *UDPTransport) String() string {
	return fmt.Sprintf("UDP(%s)", t.address)
}

// UDPServer answers MBAP requests carried one-per-datagram. A reply, when
// one is due, goes back to the datagram's source address.
type UDPServer struct {
	address     string
	handler     RequestHandler
	conn        *net.UDPConn
	framer      *framer.Socket
	manipulator func([]byte) []byte
	log         logging.Sink
	mutex       sync.RWMutex
	running     bool
	wg          sync.WaitGroup
}

// NewUDPServer creates a UDP server that dispatches to handler.
func NewUDPServer(address string, handler RequestHandler) *UDPServer {
	return &UDPServer{
		address: address,
		handler: handler,
		framer:  framer.NewSocket(),
		log:     logging.NewNoop(),
	}
}

// SetResponseManipulator installs a hook that rewrites framed response
// bytes before they are written, or nil to disable it.
func (s *UDPServer) SetResponseManipulator(fn func([]byte) []byte) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.manipulator = fn
}

// SetLogSink attaches a structured logging sink.
func (s *UDPServer) SetLogSink(sink logging.Sink) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if sink == nil {
		sink = logging.NewNoop()
	}
	s.log = sink
}

// Start binds the socket and begins serving datagrams.
func (s *UDPServer) Start() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.running {
		return modbus.NewCoreError(modbus.KindParameter, "Start", fmt.Errorf("server already running"))
	}
	addr, err := net.ResolveUDPAddr("udp", s.address)
	if err != nil {
		return modbus.NewCoreError(modbus.KindConnection, "Start",
			fmt.Errorf("failed to resolve %s: %w", s.address, err))
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return modbus.NewCoreError(modbus.KindConnection, "Start",
			fmt.Errorf("failed to bind %s: %w", s.address, err))
	}
	s.conn = conn
	s.running = true

	s.wg.Add(1)
	go s.serveLoop()
	return nil
}

// Stop closes the socket and waits for the serve loop to terminate.
func (s *UDPServer) Stop() error {
	s.mutex.Lock()
	if !s.running {
		s.mutex.Unlock()
		return nil
	}
	s.running = false
	err := s.conn.Close()
	s.mutex.Unlock()

	s.wg.Wait()
	return err
}

// IsRunning reports whether the server is serving.
func (s *UDPServer) IsRunning() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.running
}

func (s *UDPServer) serveLoop() {
	defer s.wg.Done()

	buf := make([]byte, modbus.MaxTCPADUSize)
	for {
		n, peer, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		for _, frame := range s.framer.Feed(buf[:n]) {
			s.serveDatagram(frame, peer)
		}
	}
}

func (s *UDPServer) serveDatagram(frame framer.Frame, peer *net.UDPAddr) {
	requestPDU, err := pdu.ParsePDU(frame.PDU)
	if err != nil {
		return
	}
	response := s.handler.HandleRequest(modbus.SlaveID(frame.DeviceID), &pdu.Request{PDU: requestPDU})
	if response == nil {
		return
	}

	adu := s.framer.Build(frame.DeviceID, response.Bytes(), frame.TransactionID)

	s.mutex.RLock()
	manipulator := s.manipulator
	s.mutex.RUnlock()
	if manipulator != nil {
		adu = manipulator(adu)
	}

	if _, err := s.conn.WriteToUDP(adu, peer); err != nil {
		s.log.Warn("datagram write failed", logging.Fields{"peer": peer.String(), "error": err.Error()})
	}
}
