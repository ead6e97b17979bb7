package efirt

import "encoding/binary"

const (
	MEMORY_DESCRIPTOR_VERSION = 1

	// Attribute bit marking a region that must stay mapped for
	// runtime services.
	MEMORY_RUNTIME = 0x8000000000000000
)

// MEMORY_DESCRIPTOR_SIZE is the wire size of one descriptor. Callers
// may hand us a larger stride to leave room for future growth - the
// extra bytes are opaque padding.
const MEMORY_DESCRIPTOR_SIZE = 40

// MemoryDescriptor is one entry of the OS supplied memory map -
// a physical to virtual mapping for one contiguous page range.
type MemoryDescriptor struct {
	Type          uint32
	PhysicalStart uint64
	VirtualStart  uint64
	NumberOfPages uint64
	Attribute     uint64
}

func (self *MemoryDescriptor) IsRuntime() bool {
	return self.Attribute&MEMORY_RUNTIME != 0
}

func (self *MemoryDescriptor) Length() uint64 {
	return self.NumberOfPages << 12
}

func (self *MemoryDescriptor) Contains(address uint64) bool {
	return address >= self.PhysicalStart &&
		address < self.PhysicalStart+self.Length()
}

// MemoryMap is a non owning view over the caller supplied descriptor
// array. The buffer is only valid for the duration of the call that
// supplied it and must never be retained.
type MemoryMap struct {
	data            []byte
	descriptor_size int
	count           int
}

func NewMemoryMap(data []byte, descriptor_size int, count int) *MemoryMap {
	return &MemoryMap{
		data:            data,
		descriptor_size: descriptor_size,
		count:           count,
	}
}

func (self *MemoryMap) Count() int {
	if self == nil {
		return 0
	}
	return self.count
}

// Descriptor decodes the idx'th entry. The stride between entries is
// descriptor_size, which may exceed the descriptor's own wire size.
func (self *MemoryMap) Descriptor(idx int) *MemoryDescriptor {
	offset := idx * self.descriptor_size
	if offset < 0 || offset+MEMORY_DESCRIPTOR_SIZE > len(self.data) {
		return &MemoryDescriptor{}
	}

	entry := self.data[offset:]
	return &MemoryDescriptor{
		Type: binary.LittleEndian.Uint32(entry[0:4]),
		// 4 bytes of alignment padding after Type.
		PhysicalStart: binary.LittleEndian.Uint64(entry[8:16]),
		VirtualStart:  binary.LittleEndian.Uint64(entry[16:24]),
		NumberOfPages: binary.LittleEndian.Uint64(entry[24:32]),
		Attribute:     binary.LittleEndian.Uint64(entry[32:40]),
	}
}

// Find returns the runtime attributed descriptor whose physical range
// contains the address, or nil.
func (self *MemoryMap) Find(address uint64) *MemoryDescriptor {
	if self == nil {
		return nil
	}

	for i := 0; i < self.count; i++ {
		desc := self.Descriptor(i)
		if desc.IsRuntime() && desc.Contains(address) {
			return desc
		}
	}

	return nil
}

// EncodeMemoryMap builds the wire format descriptor array consumed by
// SetVirtualAddressMap. Mostly useful for tools and tests - the
// firmware proper receives the map from the OS loader.
func EncodeMemoryMap(descriptors []MemoryDescriptor) []byte {
	result := make([]byte, len(descriptors)*MEMORY_DESCRIPTOR_SIZE)
	for i, desc := range descriptors {
		entry := result[i*MEMORY_DESCRIPTOR_SIZE:]
		binary.LittleEndian.PutUint32(entry[0:4], desc.Type)
		binary.LittleEndian.PutUint64(entry[8:16], desc.PhysicalStart)
		binary.LittleEndian.PutUint64(entry[16:24], desc.VirtualStart)
		binary.LittleEndian.PutUint64(entry[24:32], desc.NumberOfPages)
		binary.LittleEndian.PutUint64(entry[32:40], desc.Attribute)
	}

	return result
}
