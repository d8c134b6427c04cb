package vm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tetratelabs/slotvm/vm"
)

func TestMemory_wordRoundTrip(t *testing.T) {
	m := vm.NewMemory()
	m.StoreWord(128, 0xdeadbeefcafef00d)
	assert.EqualValues(t, uint64(0xdeadbeefcafef00d), m.LoadWord(128))
}

func TestMemory_unalignedAccess(t *testing.T) {
	m := vm.NewMemory()
	m.StoreWord(3, 42)
	assert.EqualValues(t, 42, m.LoadWord(3))
}

func TestMemory_growsOnDemand(t *testing.T) {
	m := vm.NewMemory()
	m.StoreWord(1<<20, 7)
	assert.EqualValues(t, 7, m.LoadWord(1<<20))
}

func TestMemory_allocBumpsAndDoesNotOverlap(t *testing.T) {
	m := vm.NewMemory()
	a := m.Alloc(16)
	b := m.Alloc(16)
	assert.NotEqual(t, a, b)
	m.StoreWord(a, 1)
	m.StoreWord(b, 2)
	assert.EqualValues(t, 1, m.LoadWord(a))
	assert.EqualValues(t, 2, m.LoadWord(b))
}

func TestMemory_internString(t *testing.T) {
	m := vm.NewMemory()
	addr := m.InternString("hi")
	assert.Equal(t, byte('h'), m.LoadByte(addr))
	assert.Equal(t, byte('i'), m.LoadByte(addr+1))
}

func TestMemory_littleEndianByteLayout(t *testing.T) {
	m := vm.NewMemory()
	m.StoreWord(0, 0x0102030405060708)
	assert.Equal(t, byte(0x08), m.LoadByte(0))
	assert.Equal(t, byte(0x01), m.LoadByte(7))
}
