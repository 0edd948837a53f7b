package server

import (
	"fmt"

	"github.com/fieldkit/modbus/logging"
	"github.com/fieldkit/modbus/modbus"
	"github.com/fieldkit/modbus/pdu"
)

// Option configures a Server at construction time.
type Option func(*Server) error

// WithRegistry replaces the default pdu.NewRegistry() dispatch table. Use
// this to serve a Registry that has had vendor-specific function codes
// registered on it.
func WithRegistry(r *pdu.Registry) Option {
	return func(s *Server) error {
		if r == nil {
			return modbus.NewCoreError(modbus.KindParameter, "WithRegistry",
				fmt.Errorf("registry must not be nil"))
		}
		s.registry = r
		return nil
	}
}

// WithLogSink attaches a structured logging sink the server reports
// dispatch and routing decisions to. A nil sink is rejected; pass
// logging.NewNoop() explicitly to silence logging.
func WithLogSink(sink logging.Sink) Option {
	return func(s *Server) error {
		if sink == nil {
			return modbus.NewCoreError(modbus.KindParameter, "WithLogSink",
				fmt.Errorf("log sink must not be nil"))
		}
		s.log = sink
		return nil
	}
}

// WithBroadcastEnable controls whether unit id 0 keeps its broadcast
// meaning: applied to every device, no response emitted. Enabled by
// default. Disabled, id 0 is routed like any other unit id.
func WithBroadcastEnable(enable bool) Option {
	return func(s *Server) error {
		s.broadcastEnable = enable
		return nil
	}
}

// WithIgnoreMissingDevices makes the server silently drop requests whose
// unit id no device answers for, instead of replying with a
// gateway-target exception.
func WithIgnoreMissingDevices(ignore bool) Option {
	return func(s *Server) error {
		s.ignoreMissingDevices = ignore
		return nil
	}
}

// WithResponseManipulator installs a hook that rewrites the framed
// response bytes just before they are written.
func WithResponseManipulator(fn func([]byte) []byte) Option {
	return func(s *Server) error {
		s.manipulator = fn
		return nil
	}
}

// WithMaxConcurrentConnections caps the number of simultaneous client
// connections the TCP listener accepts. Zero (the default) means
// unlimited.
func WithMaxConcurrentConnections(n uint) Option {
	return func(s *Server) error {
		s.maxConnections = n
		return nil
	}
}

// WithGarbageByteLimit sets how many unframeable bytes a TCP connection
// may feed the server before it is closed.
func WithGarbageByteLimit(limit int) Option {
	return func(s *Server) error {
		if limit < 0 {
			return modbus.NewCoreError(modbus.KindParameter, "WithGarbageByteLimit",
				fmt.Errorf("limit must not be negative"))
		}
		s.garbageByteLimit = limit
		return nil
	}
}

// WithUDPListener additionally serves MBAP datagrams on the given UDP
// address, one frame per datagram.
func WithUDPListener(address string) Option {
	return func(s *Server) error {
		if address == "" {
			return modbus.NewCoreError(modbus.KindParameter, "WithUDPListener",
				fmt.Errorf("address must not be empty"))
		}
		s.udpAddress = address
		return nil
	}
}
