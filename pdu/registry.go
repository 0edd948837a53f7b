package pdu

import (
	"fmt"
	"sync"

	"github.com/fieldkit/modbus/datastore"
	"github.com/fieldkit/modbus/modbus"
)

// HandlerFunc answers a decoded request PDU against a device's datastore.
// It never returns a Go error: an invalid request becomes an exception
// Response, mirroring how the wire protocol itself has no side channel for
// an error distinct from an exception PDU.
type HandlerFunc func(dev *datastore.DeviceContext, req *Request) *Response

// Registry maps function codes to the handler that answers them. It is
// seeded with the full built-in MODBUS function code matrix (NewRegistry)
// and supports registering additional function codes for
// vendor-/user-defined extensions.
type Registry struct {
	mu       sync.RWMutex
	handlers map[modbus.FunctionCode]HandlerFunc
}

// NewRegistry builds a registry with every function code this package
// implements already wired in.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[modbus.FunctionCode]HandlerFunc)}
	for fc, fn := range builtinHandlers {
		r.handlers[fc] = fn
	}
	return r
}

// Register adds a handler for a function code. It fails with a
// modbus.CoreError of KindMessageRegister if fc is already registered or is
// an exception-range code (bit 7 set), since exception codes are not
// independently dispatchable.
func (r *Registry) Register(fc modbus.FunctionCode, fn HandlerFunc) error {
	if fc.IsException() {
		return modbus.NewCoreError(modbus.KindMessageRegister, "Register",
			fmt.Errorf("function code 0x%02X is in the exception range", byte(fc)))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[fc]; exists {
		return modbus.NewCoreError(modbus.KindMessageRegister, "Register",
			fmt.Errorf("function code 0x%02X is already registered", byte(fc)))
	}
	r.handlers[fc] = fn
	return nil
}

// Unregister removes a previously registered function code. Unregistering
// one of the built-in codes is allowed; Dispatch then answers it with
// ExceptionCodeIllegalFunction like any other unknown code.
func (r *Registry) Unregister(fc modbus.FunctionCode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, fc)
}

// Dispatch answers req against dev, returning ExceptionCodeIllegalFunction
// if no handler is registered for req.FunctionCode.
func (r *Registry) Dispatch(dev *datastore.DeviceContext, req *Request) *Response {
	r.mu.RLock()
	fn, ok := r.handlers[req.FunctionCode]
	r.mu.RUnlock()
	if !ok {
		return NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalFunction)
	}
	return fn(dev, req)
}
