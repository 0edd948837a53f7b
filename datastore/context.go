package datastore

import (
	"fmt"
	"sort"
	"sync"

	"github.com/fieldkit/modbus/modbus"
)

// ServerContext maps a device id to the DeviceContext that answers for
// it. A single-device context answers every id the way a unit-id-agnostic
// server would; a multi-device context routes by exact id and reports
// ok=false for anything else.
type ServerContext struct {
	mu      sync.RWMutex
	devices map[uint8]*DeviceContext
	single  bool
}

// NewSingleServerContext wraps a single DeviceContext that answers for
// every device id the transport hands it, including broadcast (id 0).
func NewSingleServerContext(device *DeviceContext) *ServerContext {
	return &ServerContext{
		devices: map[uint8]*DeviceContext{0: device},
		single:  true,
	}
}

// NewMultiServerContext builds a context that only answers for the given
// device ids. Device id 0 (broadcast) is not itself a routable id: callers
// broadcast by applying the write to every entry in devices, not by
// looking up id 0.
func NewMultiServerContext(devices map[uint8]*DeviceContext) *ServerContext {
	cp := make(map[uint8]*DeviceContext, len(devices))
	for id, dev := range devices {
		cp[id] = dev
	}
	return &ServerContext{devices: cp, single: false}
}

// GetDevice resolves a device id to its context. In single mode every id
// resolves to the one configured device. In multi mode an unknown id
// reports ok=false so the caller can reply with modbus.ErrNoSuchDevice.
func (sc *ServerContext) GetDevice(id uint8) (*DeviceContext, bool) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	if sc.single {
		for _, dev := range sc.devices {
			return dev, true
		}
		return nil, false
	}
	dev, ok := sc.devices[id]
	return dev, ok
}

// AddDevice registers or replaces a device context at the given id. It is
// an error to call this on a single-mode context.
func (sc *ServerContext) AddDevice(id uint8, device *DeviceContext) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.single {
		return modbus.NewCoreError(modbus.KindParameter, "AddDevice", fmt.Errorf("cannot add a device id to a single-device server context"))
	}
	sc.devices[id] = device
	return nil
}

// RemoveDevice unregisters a device id from a multi-device context.
func (sc *ServerContext) RemoveDevice(id uint8) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	delete(sc.devices, id)
}

// DeviceIDs returns the routable device ids in ascending order. In single
// mode this returns the one synthetic id the context was built with.
func (sc *ServerContext) DeviceIDs() []uint8 {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	ids := make([]uint8, 0, len(sc.devices))
	for id := range sc.devices {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Broadcast applies fn to every device in the context, ignoring the
// per-device id in single mode. Used by the server pipeline when a
// request's unit id is 0 and broadcast handling is enabled.
func (sc *ServerContext) Broadcast(fn func(dev *DeviceContext)) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	for _, dev := range sc.devices {
		fn(dev)
	}
}

// IsSingle reports whether this context answers for every device id
// uniformly rather than routing by exact id.
func (sc *ServerContext) IsSingle() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.single
}
