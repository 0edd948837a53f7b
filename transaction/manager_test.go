package transaction

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldkit/modbus/modbus"
	"github.com/fieldkit/modbus/pdu"
)

// fakeTransport scripts SendRequest outcomes and records call counts.
type fakeTransport struct {
	mu             sync.Mutex
	connected      bool
	sendCalls      int
	broadcastCalls int
	inFlight       int
	maxInFlight    int
	transportType  modbus.TransportType
	respond        func(attempt int) (*pdu.Response, error)
}

func (f *fakeTransport) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) SendRequest(slaveID modbus.SlaveID, req *pdu.Request) (*pdu.Response, error) {
	f.mu.Lock()
	f.sendCalls++
	attempt := f.sendCalls
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	time.Sleep(time.Millisecond)

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
	return f.respond(attempt)
}

func (f *fakeTransport) SendBroadcast(req *pdu.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcastCalls++
	return nil
}

func (f *fakeTransport) SetTimeout(time.Duration)  {}
func (f *fakeTransport) GetTimeout() time.Duration { return time.Second }
func (f *fakeTransport) GetTransportType() modbus.TransportType {
	return f.transportType
}
func (f *fakeTransport) String() string { return "fake" }

func timeoutErr() error {
	return modbus.NewCoreError(modbus.KindTimeout, "SendRequest", fmt.Errorf("no response"))
}

func okResponse() *pdu.Response {
	return pdu.NewResponse(modbus.FuncCodeReadCoils, []byte{0x01, 0x00})
}

func TestManagerDeliversResponse(t *testing.T) {
	ft := &fakeTransport{connected: true, respond: func(int) (*pdu.Response, error) {
		return okResponse(), nil
	}}
	m := NewManager(ft, Config{RetryCount: 3})

	resp, err := m.Send(1, pdu.NewRequest(modbus.FuncCodeReadCoils, []byte{0, 0, 0, 1}), nil)
	require.NoError(t, err)
	assert.False(t, resp.IsException())
	assert.Equal(t, 1, ft.sendCalls)
}

// Every attempt times out: the manager must try retries+1 times and then
// surface a Timeout kind.
func TestManagerTimeoutAfterRetries(t *testing.T) {
	ft := &fakeTransport{connected: true, respond: func(int) (*pdu.Response, error) {
		return nil, timeoutErr()
	}}
	m := NewManager(ft, Config{RetryCount: 3})

	_, err := m.Send(1, pdu.NewRequest(modbus.FuncCodeReadCoils, []byte{0, 0, 0, 1}), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, modbus.ErrTimeout)
	assert.Equal(t, 4, ft.sendCalls)
}

func TestManagerRecoversOnRetry(t *testing.T) {
	ft := &fakeTransport{connected: true, respond: func(attempt int) (*pdu.Response, error) {
		if attempt < 3 {
			return nil, timeoutErr()
		}
		return okResponse(), nil
	}}
	m := NewManager(ft, Config{RetryCount: 3})

	resp, err := m.Send(1, pdu.NewRequest(modbus.FuncCodeReadCoils, []byte{0, 0, 0, 1}), nil)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 3, ft.sendCalls)
}

func TestManagerRejectsBroadcastThroughSend(t *testing.T) {
	ft := &fakeTransport{connected: true, respond: func(int) (*pdu.Response, error) {
		return okResponse(), nil
	}}
	m := NewManager(ft, Config{})

	_, err := m.Send(modbus.BroadcastAddress, pdu.NewRequest(modbus.FuncCodeWriteSingleCoil, nil), nil)
	assert.ErrorIs(t, err, modbus.ErrParameter)
	assert.Zero(t, ft.sendCalls)
}

func TestManagerBroadcastReturnsWithoutReply(t *testing.T) {
	ft := &fakeTransport{connected: true, transportType: modbus.TransportRTU}
	m := NewManager(ft, Config{BroadcastSilentInterval: 10 * time.Millisecond})

	start := time.Now()
	err := m.SendBroadcast(pdu.NewRequest(modbus.FuncCodeWriteSingleRegister, []byte{0, 0, 0, 1}), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, ft.broadcastCalls)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestManagerConnectsThroughHook(t *testing.T) {
	ft := &fakeTransport{connected: false, respond: func(int) (*pdu.Response, error) {
		return okResponse(), nil
	}}
	m := NewManager(ft, Config{})

	resp, err := m.Send(1, pdu.NewRequest(modbus.FuncCodeReadCoils, []byte{0, 0, 0, 1}), ft.Connect)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.True(t, ft.IsConnected())
}

func TestManagerFailsWithoutConnectHook(t *testing.T) {
	ft := &fakeTransport{connected: false}
	m := NewManager(ft, Config{})

	_, err := m.Send(1, pdu.NewRequest(modbus.FuncCodeReadCoils, []byte{0, 0, 0, 1}), nil)
	assert.ErrorIs(t, err, modbus.ErrConnection)
}

// The exclusive policy must never let two requests overlap on the
// transport, no matter how many goroutines push.
func TestExclusivePolicySerializes(t *testing.T) {
	ft := &fakeTransport{connected: true, transportType: modbus.TransportRTU,
		respond: func(int) (*pdu.Response, error) {
			return okResponse(), nil
		}}
	m := NewManager(ft, Config{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Send(1, pdu.NewRequest(modbus.FuncCodeReadCoils, []byte{0, 0, 0, 1}), nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, 8, ft.sendCalls)
	assert.Equal(t, 1, ft.maxInFlight)
}

func TestPolicyForTransport(t *testing.T) {
	assert.IsType(t, ConcurrentPolicy{}, PolicyForTransport(modbus.TransportTCP))
	assert.IsType(t, &ExclusivePolicy{}, PolicyForTransport(modbus.TransportRTU))
	assert.IsType(t, &ExclusivePolicy{}, PolicyForTransport(modbus.TransportASCII))
	assert.IsType(t, &ExclusivePolicy{}, PolicyForTransport(modbus.TransportUDP))
}

func TestTransactionStateMachine(t *testing.T) {
	txn := NewTransaction(1)
	assert.Equal(t, StateNew, txn.State())

	for _, next := range []State{StateSent, StateAwaitingReply, StateReplied} {
		txn.Advance(next)
		assert.Equal(t, next, txn.State())
	}
	assert.Equal(t, "Replied", txn.State().String())
}
