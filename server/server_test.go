package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldkit/modbus/datastore"
	"github.com/fieldkit/modbus/modbus"
	"github.com/fieldkit/modbus/pdu"
)

func newTestServer(t *testing.T, ctx *datastore.ServerContext, opts ...Option) *Server {
	t.Helper()
	s, err := New(ctx, "localhost:0", opts...)
	require.NoError(t, err)
	return s
}

func TestHandleRequestSingleDevice(t *testing.T) {
	dev := datastore.NewSequentialDeviceContext(100, 100, 100, 100)
	require.NoError(t, dev.SetHoldingRegister(0, 17))
	s := newTestServer(t, datastore.NewSingleServerContext(dev))

	resp := s.HandleRequest(1, pdu.NewRequest(modbus.FuncCodeReadHoldingRegisters,
		[]byte{0x00, 0x00, 0x00, 0x01}))
	require.NotNil(t, resp)
	require.False(t, resp.IsException())
	assert.Equal(t, []byte{0x02, 0x00, 0x11}, resp.Data)
}

func TestHandleRequestRoutesByUnitID(t *testing.T) {
	devA := datastore.NewSequentialDeviceContext(10, 10, 10, 10)
	devB := datastore.NewSequentialDeviceContext(10, 10, 10, 10)
	require.NoError(t, devA.SetHoldingRegister(0, 0xAAAA))
	require.NoError(t, devB.SetHoldingRegister(0, 0xBBBB))

	s := newTestServer(t, datastore.NewMultiServerContext(map[uint8]*datastore.DeviceContext{
		1: devA,
		2: devB,
	}))

	req := pdu.NewRequest(modbus.FuncCodeReadHoldingRegisters, []byte{0x00, 0x00, 0x00, 0x01})

	respA := s.HandleRequest(1, req)
	require.NotNil(t, respA)
	assert.Equal(t, []byte{0x02, 0xAA, 0xAA}, respA.Data)

	respB := s.HandleRequest(2, req)
	require.NotNil(t, respB)
	assert.Equal(t, []byte{0x02, 0xBB, 0xBB}, respB.Data)
}

func TestHandleRequestUnknownDevice(t *testing.T) {
	ctx := datastore.NewMultiServerContext(map[uint8]*datastore.DeviceContext{
		1: datastore.NewSequentialDeviceContext(10, 10, 10, 10),
	})
	req := pdu.NewRequest(modbus.FuncCodeReadHoldingRegisters, []byte{0x00, 0x00, 0x00, 0x01})

	t.Run("answers gateway target exception by default", func(t *testing.T) {
		s := newTestServer(t, ctx)
		resp := s.HandleRequest(9, req)
		require.NotNil(t, resp)
		require.True(t, resp.IsException())
		ec, err := resp.GetExceptionCode()
		require.NoError(t, err)
		assert.Equal(t, modbus.ExceptionCode(modbus.ExceptionCodeGatewayTargetFail), ec)
	})

	t.Run("drops silently with IgnoreMissingDevices", func(t *testing.T) {
		s := newTestServer(t, ctx, WithIgnoreMissingDevices(true))
		assert.Nil(t, s.HandleRequest(9, req))
	})
}

func TestHandleRequestBroadcast(t *testing.T) {
	devA := datastore.NewSequentialDeviceContext(10, 10, 10, 10)
	devB := datastore.NewSequentialDeviceContext(10, 10, 10, 10)
	ctx := datastore.NewMultiServerContext(map[uint8]*datastore.DeviceContext{
		1: devA,
		2: devB,
	})

	// FC 6: write register 3 = 0x0042
	req := pdu.NewRequest(modbus.FuncCodeWriteSingleRegister, []byte{0x00, 0x03, 0x00, 0x42})

	t.Run("applies everywhere and answers nothing", func(t *testing.T) {
		s := newTestServer(t, ctx)
		resp := s.HandleRequest(modbus.BroadcastAddress, req)
		assert.Nil(t, resp, "a broadcast must put no bytes on the wire")

		for _, dev := range []*datastore.DeviceContext{devA, devB} {
			regs, ec := dev.ReadHoldingRegisters(3, 1)
			require.Equal(t, modbus.ExceptionCode(0), ec)
			assert.Equal(t, []uint16{0x0042}, regs)
		}
	})

	t.Run("disabled broadcast routes id 0 like any other", func(t *testing.T) {
		s := newTestServer(t, ctx, WithBroadcastEnable(false))
		resp := s.HandleRequest(modbus.BroadcastAddress, req)
		// No device is registered at id 0, so the missing-device policy
		// answers.
		require.NotNil(t, resp)
		assert.True(t, resp.IsException())
	})
}

func TestHandleRequestCustomRegistry(t *testing.T) {
	reg := pdu.NewRegistry()
	require.NoError(t, reg.Register(0x41, func(dev *datastore.DeviceContext, req *pdu.Request) *pdu.Response {
		return pdu.NewResponse(req.FunctionCode, []byte{0x01})
	}))

	dev := datastore.NewSequentialDeviceContext(10, 10, 10, 10)
	s := newTestServer(t, datastore.NewSingleServerContext(dev), WithRegistry(reg))

	resp := s.HandleRequest(1, pdu.NewRequest(0x41, nil))
	require.NotNil(t, resp)
	assert.Equal(t, []byte{0x01}, resp.Data)
}

func TestServeForeverRejectsSecondCall(t *testing.T) {
	dev := datastore.NewSequentialDeviceContext(10, 10, 10, 10)
	s := newTestServer(t, datastore.NewSingleServerContext(dev))

	stop := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.ServeForever(stop)
	}()

	// Wait for the listener to come up.
	deadline := time.Now().Add(2 * time.Second)
	for !s.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("Server never started")
		}
		time.Sleep(10 * time.Millisecond)
	}

	assert.ErrorIs(t, s.ServeForever(nil), ErrAlreadyServing)

	close(stop)
	require.NoError(t, <-errCh)
	assert.False(t, s.IsRunning())
}

func TestNewRejectsNilContext(t *testing.T) {
	_, err := New(nil, "localhost:0")
	assert.Error(t, err)
}
