package transaction

import "sync"

// Policy governs how many callers the Manager lets into the transport at
// once. MBAP/TCP gets a policy that never blocks; RTU, ASCII, and UDP
// connections share a half-duplex medium and are serialized.
type Policy interface {
	// Acquire blocks, if necessary, until the caller may send a request.
	Acquire()
	// Release signals that the caller's request/response cycle is done.
	Release()
}

// ConcurrentPolicy lets any number of callers into the transport at once.
// It is used for MBAP/TCP. transport.TCPTransport holds its own lock from
// writing a request until its reply arrives, so a TCP connection still
// carries one request at a time; replies are not pipelined.
type ConcurrentPolicy struct{}

func (ConcurrentPolicy) Acquire() {}
func (ConcurrentPolicy) Release() {}

// NewConcurrentPolicy returns a Policy that never blocks.
func NewConcurrentPolicy() Policy { return ConcurrentPolicy{} }

// ExclusivePolicy allows exactly one request in flight, appropriate for
// RTU, ASCII, and UDP transports sharing one physical medium.
type ExclusivePolicy struct {
	mu sync.Mutex
}

// NewExclusivePolicy returns a Policy that serializes all callers.
func NewExclusivePolicy() Policy { return &ExclusivePolicy{} }

func (p *ExclusivePolicy) Acquire() { p.mu.Lock() }
func (p *ExclusivePolicy) Release() { p.mu.Unlock() }
