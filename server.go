package modbus

import (
	"github.com/fieldkit/modbus/datastore"
	"github.com/fieldkit/modbus/server"
)

// NewDataStore creates a device context of four zero-filled sequential
// blocks based at address 0, the conventional layout for a simple single
// device.
func NewDataStore(coilCount, discreteInputCount, holdingRegCount, inputRegCount int) *datastore.DeviceContext {
	return datastore.NewSequentialDeviceContext(coilCount, discreteInputCount, holdingRegCount, inputRegCount)
}

// NewTCPServer creates a TCP server answering every unit id from the one
// supplied device context.
func NewTCPServer(address string, device *datastore.DeviceContext, opts ...server.Option) (*server.Server, error) {
	return server.New(datastore.NewSingleServerContext(device), address, opts...)
}

// NewMultiDeviceTCPServer creates a TCP server routing each unit id to
// its own device context; unknown ids get the missing-device policy.
func NewMultiDeviceTCPServer(address string, devices map[uint8]*datastore.DeviceContext, opts ...server.Option) (*server.Server, error) {
	return server.New(datastore.NewMultiServerContext(devices), address, opts...)
}
