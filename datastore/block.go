// Package datastore implements the MODBUS data model: sequential and
// sparse address blocks, the four-block device context they compose into,
// and the single/multi-device server context that routes a device id to a
// context.
package datastore

import (
	"errors"
	"fmt"

	"github.com/fieldkit/modbus/modbus"
)

// Origin distinguishes a write reaching a block through a decoded protocol
// request from one made directly by Go code building or seeding a
// datastore. A remote peer touching an unknown address gets a wire-level
// exception; application code doing the same has a bug and gets a
// parameter error. The call site states which one it is.
type Origin int

const (
	// OriginProtocol marks a write driven by a decoded PDU: an unknown key
	// on a fixed sparse block is a wire-level ILLEGAL_ADDRESS.
	OriginProtocol Origin = iota
	// OriginProgram marks a write made directly by application code: an
	// unknown key on a fixed sparse block is a parameter error.
	OriginProgram
)

// ErrParameter is returned (never as a modbus.ExceptionCode) when
// OriginProgram code misuses a fixed sparse block.
var ErrParameter = errors.New("datastore: parameter error")

// Block is the shared contract for sequential and sparse address blocks.
type Block[V any] interface {
	// Validate reports whether every address in [addr, addr+count) is
	// legal for this block (present for sparse, in-range for sequential).
	Validate(addr uint16, count uint16) bool

	// GetValues returns the count values starting at addr, or
	// modbus.ExceptionCodeIllegalDataAddress if any address in the range
	// is not legal.
	GetValues(addr uint16, count uint16) ([]V, modbus.ExceptionCode)

	// SetValues writes values starting at addr. origin controls how an
	// out-of-range write on a fixed sparse block is reported.
	SetValues(addr uint16, values []V, origin Origin) (modbus.ExceptionCode, error)

	// Reset restores the block to its constructed contents.
	Reset()

	// Keys returns the addresses currently present, in ascending order.
	Keys() []uint16

	String() string
}

// addressRangeOK reports whether [addr, addr+count) stays inside 0..0xFFFF.
// Address arithmetic never wraps: a range past 0xFFFF is illegal, not a
// modular walk back to zero.
func addressRangeOK(addr uint16, count uint16) bool {
	return uint32(addr)+uint32(count) <= 0x10000
}

func outOfRangeErr(kind string, addr, count uint16) error {
	return fmt.Errorf("datastore: %s range %d..%d out of bounds", kind, addr, uint32(addr)+uint32(count)-1)
}
