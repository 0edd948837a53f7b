package datastore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldkit/modbus/modbus"
)

func TestSequentialBlockBounds(t *testing.T) {
	b := NewSequentialBlock(100, []uint16{1, 2, 3, 4, 5})

	assert.True(t, b.Validate(100, 5))
	assert.True(t, b.Validate(104, 1))
	assert.False(t, b.Validate(99, 1))
	assert.False(t, b.Validate(104, 2))
	assert.False(t, b.Validate(100, 0))

	values, ec := b.GetValues(101, 3)
	require.Equal(t, modbus.ExceptionCode(0), ec)
	assert.Equal(t, []uint16{2, 3, 4}, values)

	_, ec = b.GetValues(103, 3)
	assert.Equal(t, modbus.ExceptionCode(modbus.ExceptionCodeIllegalDataAddress), ec)
}

func TestSequentialBlockAddressNeverWraps(t *testing.T) {
	b := NewSequentialBlock(0xFFFE, []bool{true, true})

	assert.True(t, b.Validate(0xFFFE, 2))
	// 0xFFFF + 2 would wrap past the address space.
	assert.False(t, b.Validate(0xFFFF, 2))

	_, ec := b.GetValues(0xFFFF, 2)
	assert.Equal(t, modbus.ExceptionCode(modbus.ExceptionCodeIllegalDataAddress), ec)
}

func TestSequentialBlockSetAndReset(t *testing.T) {
	b := NewSequentialBlock(0, []uint16{10, 20, 30})

	ec, err := b.SetValues(1, []uint16{99, 98}, OriginProtocol)
	require.NoError(t, err)
	require.Equal(t, modbus.ExceptionCode(0), ec)

	values, _ := b.GetValues(0, 3)
	assert.Equal(t, []uint16{10, 99, 98}, values)

	b.Reset()
	values, _ = b.GetValues(0, 3)
	assert.Equal(t, []uint16{10, 20, 30}, values)
}

func TestSequentialBlockRejectsOverflowWrite(t *testing.T) {
	b := NewSequentialBlock(0, make([]uint16, 10))

	ec, err := b.SetValues(8, []uint16{1, 2, 3}, OriginProtocol)
	assert.Equal(t, modbus.ExceptionCode(modbus.ExceptionCodeIllegalDataAddress), ec)
	assert.Error(t, err)
}

func TestSparseBlockFromList(t *testing.T) {
	b := NewSparseBlockFromList([]uint16{5, 6, 7}, false)

	assert.Equal(t, []uint16{0, 1, 2}, b.Keys())
	values, ec := b.GetValues(0, 3)
	require.Equal(t, modbus.ExceptionCode(0), ec)
	assert.Equal(t, []uint16{5, 6, 7}, values)
}

// getValues must fail iff any address in the range is absent.
func TestSparseBlockGapDetection(t *testing.T) {
	b := NewSparseBlockFromMap(map[uint16]uint16{1: 11, 2: 22, 4: 44}, false)

	tests := []struct {
		name  string
		addr  uint16
		count uint16
		ok    bool
	}{
		{"fully present", 1, 2, true},
		{"single present", 4, 1, true},
		{"gap inside range", 2, 3, false},
		{"starts at gap", 3, 1, false},
		{"fully absent", 10, 2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ec := b.GetValues(tt.addr, tt.count)
			if tt.ok {
				assert.Equal(t, modbus.ExceptionCode(0), ec)
			} else {
				assert.Equal(t, modbus.ExceptionCode(modbus.ExceptionCodeIllegalDataAddress), ec)
			}
		})
	}
}

func TestSparseBlockWritePolicy(t *testing.T) {
	t.Run("mutable accepts new keys", func(t *testing.T) {
		b := NewEmptySparseBlock[uint16](true)
		ec, err := b.SetValues(10, []uint16{1, 2}, OriginProtocol)
		require.NoError(t, err)
		require.Equal(t, modbus.ExceptionCode(0), ec)

		values, ec := b.GetValues(10, 2)
		require.Equal(t, modbus.ExceptionCode(0), ec)
		assert.Equal(t, []uint16{1, 2}, values)
	})

	t.Run("fixed rejects protocol write to unknown key", func(t *testing.T) {
		b := NewSparseBlockFromList([]uint16{1}, false)
		ec, err := b.SetValues(5, []uint16{9}, OriginProtocol)
		assert.Equal(t, modbus.ExceptionCode(modbus.ExceptionCodeIllegalDataAddress), ec)
		assert.NoError(t, err)
	})

	t.Run("fixed reports program write as parameter error", func(t *testing.T) {
		b := NewSparseBlockFromList([]uint16{1}, false)
		ec, err := b.SetValues(5, []uint16{9}, OriginProgram)
		assert.Equal(t, modbus.ExceptionCode(0), ec)
		assert.ErrorIs(t, err, ErrParameter)
	})

	t.Run("fixed accepts writes to existing keys", func(t *testing.T) {
		b := NewSparseBlockFromList([]uint16{1, 2}, false)
		ec, err := b.SetValues(0, []uint16{7, 8}, OriginProtocol)
		require.NoError(t, err)
		require.Equal(t, modbus.ExceptionCode(0), ec)
	})
}

func TestSparseBlockReset(t *testing.T) {
	b := NewSparseBlockFromMap(map[uint16]uint16{3: 33}, true)

	ec, err := b.SetValues(7, []uint16{77}, OriginProtocol)
	require.NoError(t, err)
	require.Equal(t, modbus.ExceptionCode(0), ec)
	b.Reset()

	assert.Equal(t, []uint16{3}, b.Keys())
	_, ec = b.GetValues(7, 1)
	assert.Equal(t, modbus.ExceptionCode(modbus.ExceptionCodeIllegalDataAddress), ec)
}
