package efirt

import (
	"testing"

	"github.com/alecthomas/assert"
)

func TestMemoryMapFind(t *testing.T) {
	encoded := EncodeMemoryMap([]MemoryDescriptor{
		{Type: 5, PhysicalStart: 0x1000, VirtualStart: 0x80001000,
			NumberOfPages: 1, Attribute: MEMORY_RUNTIME},
		{Type: 7, PhysicalStart: 0x2000, VirtualStart: 0x2000,
			NumberOfPages: 1},
	})

	virtual_map := NewMemoryMap(encoded, MEMORY_DESCRIPTOR_SIZE, 2)

	descriptor := virtual_map.Find(0x1000)
	assert.NotNil(t, descriptor)
	assert.Equal(t, uint64(0x80001000), descriptor.VirtualStart)

	assert.NotNil(t, virtual_map.Find(0x1fff))

	// One past the region end.
	assert.Nil(t, virtual_map.Find(0x2000))

	// 0x2000 belongs to a descriptor, but not a runtime one.
	assert.Nil(t, virtual_map.Find(0x2800))

	// A nil view never matches.
	var empty *MemoryMap
	assert.Nil(t, empty.Find(0x1000))
}

func TestMemoryMapShortBuffer(t *testing.T) {
	encoded := EncodeMemoryMap([]MemoryDescriptor{
		{Type: 5, PhysicalStart: 0x1000, VirtualStart: 0x80001000,
			NumberOfPages: 1, Attribute: MEMORY_RUNTIME},
	})

	// Claimed count exceeds the buffer - out of range entries
	// decode as empty descriptors instead of faulting.
	virtual_map := NewMemoryMap(encoded, MEMORY_DESCRIPTOR_SIZE, 4)
	assert.NotNil(t, virtual_map.Find(0x1000))
	assert.Nil(t, virtual_map.Find(0x5000))
}

func TestDescriptorLength(t *testing.T) {
	descriptor := &MemoryDescriptor{NumberOfPages: 3}
	assert.Equal(t, uint64(0x3000), descriptor.Length())
	assert.False(t, descriptor.IsRuntime())
}
