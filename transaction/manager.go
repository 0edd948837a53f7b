// Package transaction drives request/response exchanges over a
// transport.Transport: it owns retry/backoff, the broadcast special case,
// and the concurrency policy a connection's framing requires.
package transaction

import (
	"fmt"
	"time"

	"github.com/fieldkit/modbus/logging"
	"github.com/fieldkit/modbus/modbus"
	"github.com/fieldkit/modbus/pdu"
	"github.com/fieldkit/modbus/transport"
)

// Manager sends requests over a transport with retry, backoff, and a
// concurrency policy appropriate to that transport's framing.
type Manager struct {
	transport     transport.Transport
	policy        Policy
	retryCount    int
	retryDelay    time.Duration
	broadcastWait time.Duration
	log           logging.Sink
}

// Config configures a Manager. A zero Policy defaults to
// PolicyForTransport(t.GetTransportType()).
type Config struct {
	RetryCount int
	RetryDelay time.Duration
	// BroadcastSilentInterval is how long SendBroadcast waits after the
	// frame is on the wire before reporting success, giving every device
	// time to act before the next request claims the medium.
	BroadcastSilentInterval time.Duration
	Policy                  Policy
	Log                     logging.Sink
}

// PolicyForTransport returns the concurrency policy for a transport type:
// TCP gets the non-blocking ConcurrentPolicy, serial and UDP media are
// exclusive.
func PolicyForTransport(tt modbus.TransportType) Policy {
	switch tt {
	case modbus.TransportTCP:
		return NewConcurrentPolicy()
	default:
		return NewExclusivePolicy()
	}
}

// NewManager builds a Manager over t using cfg. Unset fields take the
// defaults PolicyForTransport / a no-op logging.Sink would produce.
func NewManager(t transport.Transport, cfg Config) *Manager {
	if cfg.Policy == nil {
		cfg.Policy = PolicyForTransport(t.GetTransportType())
	}
	if cfg.Log == nil {
		cfg.Log = logging.NewNoop()
	}
	return &Manager{
		transport:     t,
		policy:        cfg.Policy,
		retryCount:    cfg.RetryCount,
		retryDelay:    cfg.RetryDelay,
		broadcastWait: cfg.BroadcastSilentInterval,
		log:           cfg.Log,
	}
}

// Send runs one request through the full retry loop and returns its
// response. unitID 0 (modbus.BroadcastAddress) must go through
// SendBroadcast instead; Send rejects it as a parameter error.
func (m *Manager) Send(unitID modbus.SlaveID, req *pdu.Request, connectFn func() error) (*pdu.Response, error) {
	if unitID == modbus.BroadcastAddress {
		return nil, modbus.NewCoreError(modbus.KindParameter, "Send", fmt.Errorf("unit id 0 is broadcast; use SendBroadcast"))
	}

	m.policy.Acquire()
	defer m.policy.Release()

	txn := NewTransaction(uint8(unitID))
	var lastErr error

	for attempt := 0; attempt <= m.retryCount; attempt++ {
		if !m.transport.IsConnected() {
			if connectFn == nil {
				return nil, modbus.NewCoreError(modbus.KindConnection, "Send", fmt.Errorf("transport not connected"))
			}
			if err := connectFn(); err != nil {
				lastErr = modbus.NewCoreError(modbus.KindConnection, "Send", err)
				m.backoff(attempt)
				continue
			}
		}

		txn.Advance(StateSent)
		txn.Advance(StateAwaitingReply)
		resp, err := m.transport.SendRequest(unitID, req)
		if err == nil {
			txn.Advance(StateReplied)
			m.log.Debug("transaction replied", logging.Fields{"unit_id": unitID, "function_code": byte(req.FunctionCode)})
			return resp, nil
		}

		lastErr = err
		txn.Advance(StateFailed)
		m.log.Warn("transaction attempt failed", logging.Fields{"unit_id": unitID, "attempt": attempt, "error": err.Error()})
		m.backoff(attempt)
	}

	txn.Advance(StateTimedOut)
	return nil, modbus.NewCoreError(modbus.KindTimeout, "Send", fmt.Errorf("request failed after %d attempts: %w", m.retryCount+1, lastErr))
}

// SendBroadcast sends req to unit id 0. No reply is expected: the frame
// goes out, the manager holds the medium for the configured silent
// interval, and the call reports success.
func (m *Manager) SendBroadcast(req *pdu.Request, connectFn func() error) error {
	m.policy.Acquire()
	defer m.policy.Release()

	if !m.transport.IsConnected() {
		if connectFn == nil {
			return modbus.NewCoreError(modbus.KindConnection, "SendBroadcast", fmt.Errorf("transport not connected"))
		}
		if err := connectFn(); err != nil {
			return modbus.NewCoreError(modbus.KindConnection, "SendBroadcast", err)
		}
	}

	txn := NewTransaction(uint8(modbus.BroadcastAddress))
	txn.Advance(StateSent)
	txn.Advance(StateBroadcast)

	if err := m.transport.SendBroadcast(req); err != nil {
		txn.Advance(StateFailed)
		return err
	}
	if m.broadcastWait > 0 {
		time.Sleep(m.broadcastWait)
	}
	txn.Advance(StateReplied)
	m.log.Debug("broadcast sent", logging.Fields{"function_code": byte(req.FunctionCode)})
	return nil
}

func (m *Manager) backoff(attempt int) {
	if attempt < m.retryCount && m.retryDelay > 0 {
		time.Sleep(m.retryDelay)
	}
}
