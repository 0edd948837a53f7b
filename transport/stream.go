package transport

import (
	"fmt"
	"io"
	"sync"

	"github.com/fieldkit/modbus/framer"
	"github.com/fieldkit/modbus/logging"
	"github.com/fieldkit/modbus/modbus"
	"github.com/fieldkit/modbus/pdu"
)

// StreamServer runs the request pipeline over a single byte stream with
// any framing — the server side of an RTU or ASCII serial line, or any
// framed stream a test harness supplies. Unlike TCPServer there is no
// accept loop: one stream, one framer, one serve goroutine.
type StreamServer struct {
	stream      io.ReadWriteCloser
	framer      framer.Framer
	handler     RequestHandler
	manipulator func([]byte) []byte
	log         logging.Sink
	mutex       sync.RWMutex
	running     bool
	wg          sync.WaitGroup
}

// NewStreamServer creates a server that reads frames from stream using fr
// and dispatches them to handler. For an RTU serial line pass
// framer.NewRTU(framer.DecodeRequests); for ASCII, framer.NewASCII().
func NewStreamServer(stream io.ReadWriteCloser, fr framer.Framer, handler RequestHandler) *StreamServer {
	return &StreamServer{
		stream:  stream,
		framer:  fr,
		handler: handler,
		log:     logging.NewNoop(),
	}
}

// NewSerialServer opens the configured serial port and serves RTU or
// ASCII requests on it, chosen by ascii.
func NewSerialServer(config *SerialConfig, ascii bool, handler RequestHandler) (*StreamServer, error) {
	port, err := openSerialPort(config)
	if err != nil {
		return nil, err
	}
	var fr framer.Framer
	if ascii {
		fr = framer.NewASCII()
	} else {
		fr = framer.NewRTU(framer.DecodeRequests)
	}
	return NewStreamServer(port, fr, handler), nil
}

// SetResponseManipulator installs a hook that rewrites framed response
// bytes before they are written, or nil to disable it.
func (s *StreamServer) SetResponseManipulator(fn func([]byte) []byte) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.manipulator = fn
}

// SetLogSink attaches a structured logging sink.
func (s *StreamServer) SetLogSink(sink logging.Sink) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if sink == nil {
		sink = logging.NewNoop()
	}
	s.log = sink
}

// Start begins serving frames from the stream.
func (s *StreamServer) Start() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.running {
		return modbus.NewCoreError(modbus.KindParameter, "Start", fmt.Errorf("server already running"))
	}
	s.running = true
	s.framer.Reset()

	s.wg.Add(1)
	go s.serveLoop()
	return nil
}

// Stop closes the stream and waits for the serve loop to terminate.
func (s *StreamServer) Stop() error {
	s.mutex.Lock()
	if !s.running {
		s.mutex.Unlock()
		return nil
	}
	s.running = false
	err := s.stream.Close()
	s.mutex.Unlock()

	s.wg.Wait()
	return err
}

// IsRunning reports whether the server is serving.
func (s *StreamServer) IsRunning() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.running
}

func (s *StreamServer) serveLoop() {
	defer s.wg.Done()

	buf := make([]byte, modbus.MaxSerialADUSize)
	for {
		n, err := s.stream.Read(buf)
		if err != nil {
			return
		}
		for _, frame := range s.framer.Feed(buf[:n]) {
			s.serveFrame(frame)
		}
	}
}

// serveFrame dispatches one decoded frame. A nil response from the
// handler (broadcast, or a suppressed unknown device) puts nothing on
// the line, exactly the silence a serial bus expects after a broadcast.
func (s *StreamServer) serveFrame(frame framer.Frame) {
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

	if _, err := s.stream.Write(adu); err != nil {
		s.log.Warn("response write failed", logging.Fields{"error": err.Error()})
	}
}
