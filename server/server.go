// Package server answers MODBUS requests against a datastore.ServerContext:
// it routes each decoded request to the device its unit id names,
// dispatches the function code through a pdu.Registry, and applies the
// broadcast and missing-device policies before anything reaches the wire.
package server

import (
	"fmt"
	"time"

	"github.com/fieldkit/modbus/datastore"
	"github.com/fieldkit/modbus/logging"
	"github.com/fieldkit/modbus/modbus"
	"github.com/fieldkit/modbus/pdu"
	"github.com/fieldkit/modbus/transport"
)

// ErrAlreadyServing is returned when ServeForever is called on a server
// that is already serving.
var ErrAlreadyServing = modbus.NewCoreError(modbus.KindParameter, "ServeForever",
	fmt.Errorf("server is already serving"))

// Server implements transport.RequestHandler over a datastore.ServerContext.
// A nil response from HandleRequest tells the transport to emit nothing:
// broadcasts and, under IgnoreMissingDevices, requests for unknown unit
// ids stay silent.
type Server struct {
	ctx                  *datastore.ServerContext
	registry             *pdu.Registry
	log                  logging.Sink
	broadcastEnable      bool
	ignoreMissingDevices bool
	maxConnections       uint
	garbageByteLimit     int
	manipulator          func([]byte) []byte
	udpAddress           string

	tcp *transport.TCPServer
	udp *transport.UDPServer
}

// New builds a Server that answers for ctx on the given TCP listen
// address. The zero-value configuration dispatches through
// pdu.NewRegistry()'s built-in function codes, applies broadcasts
// silently, answers unknown unit ids with a gateway-target exception, and
// logs nothing; opts override any of these.
func New(ctx *datastore.ServerContext, address string, opts ...Option) (*Server, error) {
	if ctx == nil {
		return nil, modbus.NewCoreError(modbus.KindParameter, "New",
			fmt.Errorf("context must not be nil"))
	}
	s := &Server{
		ctx:             ctx,
		registry:        pdu.NewRegistry(),
		log:             logging.NewNoop(),
		broadcastEnable: true,
	}
	for _, o := range opts {
		if err := o(s); err != nil {
			return nil, err
		}
	}

	s.tcp = transport.NewTCPServer(address, s)
	s.tcp.SetLogSink(s.log)
	if s.maxConnections > 0 {
		s.tcp.SetMaxConnections(s.maxConnections)
	}
	if s.garbageByteLimit > 0 {
		s.tcp.SetGarbageByteLimit(s.garbageByteLimit)
	}
	if s.manipulator != nil {
		s.tcp.SetResponseManipulator(s.manipulator)
	}

	if s.udpAddress != "" {
		s.udp = transport.NewUDPServer(s.udpAddress, s)
		s.udp.SetLogSink(s.log)
		if s.manipulator != nil {
			s.udp.SetResponseManipulator(s.manipulator)
		}
	}
	return s, nil
}

// Bind starts the TCP listener (and the UDP socket when one is
// configured); it returns once both are accepting.
func (s *Server) Bind() error {
	if err := s.tcp.Start(); err != nil {
		return err
	}
	if s.udp != nil {
		if err := s.udp.Start(); err != nil {
			_ = s.tcp.Stop()
			return err
		}
	}
	return nil
}

// ServeForever binds the listeners and blocks until stop is closed, then
// shuts down. Calling it on a server that is already serving fails with
// ErrAlreadyServing.
func (s *Server) ServeForever(stop <-chan struct{}) error {
	if s.tcp.IsRunning() {
		return ErrAlreadyServing
	}
	if err := s.Bind(); err != nil {
		return err
	}
	<-stop
	return s.Stop()
}

// Shutdown stops accepting new connections and closes active ones,
// waiting up to timeout for in-flight handlers to drain.
func (s *Server) Shutdown(timeout time.Duration) error {
	if s.udp != nil {
		_ = s.udp.Stop()
	}
	return s.tcp.StopWithTimeout(timeout)
}

// Stop stops the listeners and closes active connections.
func (s *Server) Stop() error {
	if s.udp != nil {
		_ = s.udp.Stop()
	}
	return s.tcp.Stop()
}

// IsRunning reports whether the server is currently accepting requests.
func (s *Server) IsRunning() bool {
	return s.tcp.IsRunning()
}

// HandleRequest implements transport.RequestHandler.
//
// Unit id 0 is broadcast: the request is applied to every device and nil
// is returned so no bytes reach the wire. With broadcast handling
// disabled, id 0 is routed like any other id instead. An id no device
// answers for is either silently dropped (IgnoreMissingDevices) or
// answered with a gateway-target exception.
func (s *Server) HandleRequest(slaveID modbus.SlaveID, req *pdu.Request) *pdu.Response {
	if slaveID == modbus.BroadcastAddress && s.broadcastEnable {
		s.ctx.Broadcast(func(dev *datastore.DeviceContext) {
			s.registry.Dispatch(dev, req)
		})
		s.log.Debug("broadcast applied", logging.Fields{"function_code": byte(req.FunctionCode)})
		return nil
	}

	dev, ok := s.ctx.GetDevice(uint8(slaveID))
	if !ok {
		if s.ignoreMissingDevices {
			s.log.Debug("dropping request for unregistered device", logging.Fields{
				"unit_id": uint8(slaveID),
			})
			return nil
		}
		s.log.Warn("request for unregistered device", logging.Fields{
			"unit_id":       uint8(slaveID),
			"function_code": byte(req.FunctionCode),
		})
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeGatewayTargetFail)
	}

	resp := s.registry.Dispatch(dev, req)
	s.log.Debug("request dispatched", logging.Fields{
		"unit_id":       uint8(slaveID),
		"function_code": byte(req.FunctionCode),
	})
	return resp
}
