package datastore

import (
	"strconv"

	"github.com/fieldkit/modbus/modbus"
)

// SequentialBlock is a contiguous run of values addressed from a fixed
// base, the MODBUS-native storage shape for coils, discrete inputs, and
// registers.
type SequentialBlock[V any] struct {
	base    uint16
	values  []V
	initial []V
}

// NewSequentialBlock creates a block whose first address is base and whose
// length is len(initial). The slice is copied so later Reset calls restore
// these exact contents.
func NewSequentialBlock[V any](base uint16, initial []V) *SequentialBlock[V] {
	values := make([]V, len(initial))
	copy(values, initial)
	snapshot := make([]V, len(initial))
	copy(snapshot, initial)
	return &SequentialBlock[V]{base: base, values: values, initial: snapshot}
}

// NewZeroSequentialBlock creates a block of the given length, base address,
// and zero value for V.
func NewZeroSequentialBlock[V any](base uint16, length int) *SequentialBlock[V] {
	return NewSequentialBlock[V](base, make([]V, length))
}

func (b *SequentialBlock[V]) Validate(addr uint16, count uint16) bool {
	if !addressRangeOK(addr, count) || count == 0 {
		return false
	}
	if addr < b.base {
		return false
	}
	start := int(addr - b.base)
	end := start + int(count)
	return end <= len(b.values)
}

func (b *SequentialBlock[V]) GetValues(addr uint16, count uint16) ([]V, modbus.ExceptionCode) {
	if !b.Validate(addr, count) {
		return nil, modbus.ExceptionCodeIllegalDataAddress
	}
	start := int(addr - b.base)
	result := make([]V, count)
	copy(result, b.values[start:start+int(count)])
	return result, 0
}

func (b *SequentialBlock[V]) SetValues(addr uint16, values []V, _ Origin) (modbus.ExceptionCode, error) {
	if !b.Validate(addr, uint16(len(values))) {
		return modbus.ExceptionCodeIllegalDataAddress, outOfRangeErr("sequential", addr, uint16(len(values)))
	}
	start := int(addr - b.base)
	copy(b.values[start:start+len(values)], values)
	return 0, nil
}

func (b *SequentialBlock[V]) Reset() {
	copy(b.values, b.initial)
}

func (b *SequentialBlock[V]) Keys() []uint16 {
	keys := make([]uint16, len(b.values))
	for i := range b.values {
		keys[i] = b.base + uint16(i)
	}
	return keys
}

func (b *SequentialBlock[V]) String() string {
	last := int(b.base) + len(b.values) - 1
	return "SequentialBlock(" + strconv.Itoa(int(b.base)) + ".." + strconv.Itoa(last) + ")"
}
