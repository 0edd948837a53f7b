package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/fieldkit/modbus/framer"
	"github.com/fieldkit/modbus/logging"
	"github.com/fieldkit/modbus/modbus"
	"github.com/fieldkit/modbus/pdu"
)

// RequestHandler answers a decoded request. A nil response means the
// request must produce no bytes on the wire: broadcast writes and, with
// missing-device suppression on, requests for unknown unit ids.
type RequestHandler interface {
	HandleRequest(slaveID modbus.SlaveID, req *pdu.Request) *pdu.Response
}

// DefaultGarbageByteLimit is how many unframeable bytes a connection may
// feed the server before it is closed as hostile or broken.
const DefaultGarbageByteLimit = 1024

// TCPServer accepts MBAP connections and runs the request pipeline over
// each: feed bytes to a per-connection framer, dispatch each decoded PDU
// to the handler, frame and write the response.
type TCPServer struct {
	listener         net.Listener
	address          string
	handler          RequestHandler
	connections      map[net.Conn]bool
	maxConnections   uint
	garbageByteLimit int
	manipulator      func([]byte) []byte
	log              logging.Sink
	mutex            sync.RWMutex
	running          bool
	stopChan         chan struct{}
	wg               sync.WaitGroup
	shutdownCtx      context.Context
	shutdownCancel   context.CancelFunc
}

// NewTCPServer creates a TCP server that dispatches to handler.
func NewTCPServer(address string, handler RequestHandler) *TCPServer {
	ctx, cancel := context.WithCancel(context.Background())
	return &TCPServer{
		address:          address,
		handler:          handler,
		connections:      make(map[net.Conn]bool),
		garbageByteLimit: DefaultGarbageByteLimit,
		log:              logging.NewNoop(),
		stopChan:         make(chan struct{}),
		shutdownCtx:      ctx,
		shutdownCancel:   cancel,
	}
}

// SetMaxConnections caps the number of concurrently accepted client
// connections; 0 (the default) means unlimited. Connections beyond the
// cap are accepted and immediately closed.
func (s *TCPServer) SetMaxConnections(max uint) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.maxConnections = max
}

// SetGarbageByteLimit sets how many resync-discarded bytes a connection
// tolerates before the server closes it. Zero restores the default.
func (s *TCPServer) SetGarbageByteLimit(limit int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if limit <= 0 {
		limit = DefaultGarbageByteLimit
	}
	s.garbageByteLimit = limit
}

// SetResponseManipulator installs a hook that rewrites the framed response
// bytes before they are written, or nil to disable it.
func (s *TCPServer) SetResponseManipulator(fn func([]byte) []byte) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.manipulator = fn
}

// SetLogSink attaches a structured logging sink.
func (s *TCPServer) SetLogSink(sink logging.Sink) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if sink == nil {
		sink = logging.NewNoop()
	}
	s.log = sink
}

// Start begins listening and accepting connections. Starting a server
// that is already running is an invalid-state error.
func (s *TCPServer) Start() error {
	s.mutex.Lock()
	if s.running {
		s.mutex.Unlock()
		return modbus.NewCoreError(modbus.KindParameter, "Start", fmt.Errorf("server already running"))
	}
	s.shutdownCtx, s.shutdownCancel = context.WithCancel(context.Background())
	s.stopChan = make(chan struct{})
	s.mutex.Unlock()

	lc := net.ListenConfig{}
	listener, err := lc.Listen(context.Background(), "tcp", s.address)
	if err != nil {
		return modbus.NewCoreError(modbus.KindConnection, "Start",
			fmt.Errorf("failed to listen on %s: %w", s.address, err))
	}

	s.mutex.Lock()
	s.listener = listener
	s.running = true
	s.mutex.Unlock()

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and every live connection, then waits for all
// handler goroutines to terminate.
func (s *TCPServer) Stop() error {
	s.mutex.Lock()
	if !s.running {
		s.mutex.Unlock()
		return nil
	}
	s.shutdownCancel()
	close(s.stopChan)
	s.running = false

	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			s.log.Warn("error closing listener", logging.Fields{"error": err.Error()})
		}
	}
	for conn := range s.connections {
		_ = conn.Close()
	}
	s.connections = make(map[net.Conn]bool)
	s.mutex.Unlock()

	s.wg.Wait()
	return nil
}

// StopWithTimeout stops the server, bounding the drain of in-flight
// handlers by timeout.
func (s *TCPServer) StopWithTimeout(timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- s.Stop()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return modbus.NewCoreError(modbus.KindTimeout, "Stop",
			fmt.Errorf("server shutdown timed out after %v", timeout))
	}
}

// IsRunning reports whether the server is accepting connections.
func (s *TCPServer) IsRunning() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.running
}

func (s *TCPServer) acceptLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopChan:
			return
		case <-s.shutdownCtx.Done():
			return
		default:
			conn, err := s.listener.Accept()
			if err != nil {
				if s.IsRunning() {
					s.log.Warn("accept failed", logging.Fields{"error": err.Error()})
				}
				continue
			}

			s.mutex.Lock()
			if s.maxConnections > 0 && uint(len(s.connections)) >= s.maxConnections {
				s.mutex.Unlock()
				s.log.Warn("rejecting connection, limit reached", logging.Fields{
					"remote": conn.RemoteAddr().String(),
					"limit":  s.maxConnections,
				})
				_ = conn.Close()
				continue
			}
			s.connections[conn] = true
			s.mutex.Unlock()

			s.wg.Add(1)
			go s.handleConnection(conn)
		}
	}
}

// handleConnection runs one connection's frame pipeline: the framer owns
// resynchronization, so a garbage prefix costs nothing but its bytes; a
// connection that exceeds the garbage budget is cut off.
func (s *TCPServer) handleConnection(conn net.Conn) {
	defer func() {
		s.wg.Done()
		_ = conn.Close()
		s.mutex.Lock()
		delete(s.connections, conn)
		s.mutex.Unlock()
	}()

	fr := framer.NewMBAP()
	buf := make([]byte, modbus.MaxTCPADUSize)

	for {
		select {
		case <-s.stopChan:
			return
		case <-s.shutdownCtx.Done():
			return
		default:
		}

		n, err := conn.Read(buf)
		if err != nil {
			return
		}

		for _, frame := range fr.Feed(buf[:n]) {
			if !s.serveFrame(conn, fr, frame) {
				return
			}
		}

		s.mutex.RLock()
		limit := s.garbageByteLimit
		s.mutex.RUnlock()
		if fr.Dropped() > limit {
			s.log.Warn("closing connection, garbage limit exceeded", logging.Fields{
				"remote":  conn.RemoteAddr().String(),
				"dropped": fr.Dropped(),
			})
			return
		}
	}
}

func (s *TCPServer) serveFrame(conn net.Conn, fr framer.Framer, frame framer.Frame) bool {
	requestPDU, err := pdu.ParsePDU(frame.PDU)
	if err != nil {
		// Well-framed but empty; nothing to answer.
		return true
	}

	response := s.handler.HandleRequest(modbus.SlaveID(frame.DeviceID), &pdu.Request{PDU: requestPDU})
	if response == nil {
		return true
	}

	adu := fr.Build(frame.DeviceID, response.Bytes(), frame.TransactionID)

	s.mutex.RLock()
	manipulator := s.manipulator
	s.mutex.RUnlock()
	if manipulator != nil {
		adu = manipulator(adu)
	}

	if _, err := conn.Write(adu); err != nil {
		if s.IsRunning() {
			s.log.Warn("response write failed", logging.Fields{"error": err.Error()})
		}
		return false
	}
	return true
}
