package datastore

import (
	"fmt"
	"sort"

	"github.com/fieldkit/modbus/modbus"
)

// SparseBlock is a mapping from a 16-bit address to V, for devices whose
// register map has holes. A mutable block accepts writes to addresses it
// has never seen before; a fixed block does not.
type SparseBlock[V any] struct {
	mapping map[uint16]V
	initial map[uint16]V
	mutable bool
}

// NewSparseBlockFromList creates a sparse block with keys 0..len(values)-1.
func NewSparseBlockFromList[V any](values []V, mutable bool) *SparseBlock[V] {
	m := make(map[uint16]V, len(values))
	for i, v := range values {
		m[uint16(i)] = v
	}
	return newSparseBlock(m, mutable)
}

// NewSparseBlockFromMap creates a sparse block from an explicit address to
// value mapping.
func NewSparseBlockFromMap[V any](values map[uint16]V, mutable bool) *SparseBlock[V] {
	m := make(map[uint16]V, len(values))
	for k, v := range values {
		m[k] = v
	}
	return newSparseBlock(m, mutable)
}

// NewEmptySparseBlock creates a sparse block with no entries.
func NewEmptySparseBlock[V any](mutable bool) *SparseBlock[V] {
	return newSparseBlock(map[uint16]V{}, mutable)
}

func newSparseBlock[V any](m map[uint16]V, mutable bool) *SparseBlock[V] {
	snapshot := make(map[uint16]V, len(m))
	for k, v := range m {
		snapshot[k] = v
	}
	return &SparseBlock[V]{mapping: m, initial: snapshot, mutable: mutable}
}

func (b *SparseBlock[V]) Validate(addr uint16, count uint16) bool {
	if !addressRangeOK(addr, count) || count == 0 {
		return false
	}
	for i := uint32(0); i < uint32(count); i++ {
		if _, ok := b.mapping[uint16(uint32(addr)+i)]; !ok {
			return false
		}
	}
	return true
}

// GetValues returns ExceptionCodeIllegalDataAddress iff any of
// addr..addr+count-1 is absent.
func (b *SparseBlock[V]) GetValues(addr uint16, count uint16) ([]V, modbus.ExceptionCode) {
	if !b.Validate(addr, count) {
		return nil, modbus.ExceptionCodeIllegalDataAddress
	}
	result := make([]V, count)
	for i := uint32(0); i < uint32(count); i++ {
		result[i] = b.mapping[uint16(uint32(addr)+i)]
	}
	return result, 0
}

// SetValues writes values starting at addr. On a fixed block, writing to a
// key that does not already exist yields ExceptionCodeIllegalDataAddress
// when origin is OriginProtocol, or ErrParameter when origin is
// OriginProgram.
func (b *SparseBlock[V]) SetValues(addr uint16, values []V, origin Origin) (modbus.ExceptionCode, error) {
	count := uint16(len(values))
	if !addressRangeOK(addr, count) || count == 0 {
		return modbus.ExceptionCodeIllegalDataAddress, outOfRangeErr("sparse", addr, count)
	}
	if !b.mutable {
		for i := uint32(0); i < uint32(count); i++ {
			key := uint16(uint32(addr) + i)
			if _, ok := b.mapping[key]; !ok {
				if origin == OriginProgram {
					return 0, fmt.Errorf("%w: address %d not present in fixed sparse block", ErrParameter, key)
				}
				return modbus.ExceptionCodeIllegalDataAddress, nil
			}
		}
	}
	for i, v := range values {
		b.mapping[uint16(uint32(addr)+uint32(i))] = v
	}
	return 0, nil
}

func (b *SparseBlock[V]) Reset() {
	b.mapping = make(map[uint16]V, len(b.initial))
	for k, v := range b.initial {
		b.mapping[k] = v
	}
}

func (b *SparseBlock[V]) Keys() []uint16 {
	keys := make([]uint16, 0, len(b.mapping))
	for k := range b.mapping {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (b *SparseBlock[V]) String() string {
	return fmt.Sprintf("SparseBlock(%d entries, mutable=%v)", len(b.mapping), b.mutable)
}
