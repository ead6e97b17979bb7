package efirt

import "encoding/binary"

const (
	IMAGE_DOS_SIGNATURE = 0x5a4d // MZ
	IMAGE_NT_SIGNATURE  = 0x4550 // PE\0\0

	IMAGE_NT_OPTIONAL_HDR32_MAGIC = 0x10b
	IMAGE_NT_OPTIONAL_HDR64_MAGIC = 0x20b

	IMAGE_DIRECTORY_ENTRY_BASERELOC = 5
)

type DataDirectory struct {
	VirtualAddress uint32
	Size           uint32
}

// loadedImage is a runtime resident module as it sits in memory -
// sections are laid out at their virtual addresses so an RVA is a
// plain offset into the buffer. All accessors are bounds checked
// against the image size and return ok=false past the end.
type loadedImage struct {
	data []byte
}

func (self loadedImage) read16(offset uint64) (uint16, bool) {
	if offset+2 > uint64(len(self.data)) {
		return 0, false
	}
	return binary.LittleEndian.Uint16(self.data[offset:]), true
}

func (self loadedImage) read32(offset uint64) (uint32, bool) {
	if offset+4 > uint64(len(self.data)) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(self.data[offset:]), true
}

func (self loadedImage) read64(offset uint64) (uint64, bool) {
	if offset+8 > uint64(len(self.data)) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(self.data[offset:]), true
}

func (self loadedImage) write16(offset uint64, value uint16) {
	if offset+2 <= uint64(len(self.data)) {
		binary.LittleEndian.PutUint16(self.data[offset:], value)
	}
}

func (self loadedImage) write32(offset uint64, value uint32) {
	if offset+4 <= uint64(len(self.data)) {
		binary.LittleEndian.PutUint32(self.data[offset:], value)
	}
}

func (self loadedImage) write64(offset uint64, value uint64) {
	if offset+8 <= uint64(len(self.data)) {
		binary.LittleEndian.PutUint64(self.data[offset:], value)
	}
}

// peHeaderOffset returns the offset of the NT headers, checking both
// signatures.
func (self loadedImage) peHeaderOffset() (uint64, bool) {
	dos_magic, ok := self.read16(0)
	if !ok || dos_magic != IMAGE_DOS_SIGNATURE {
		return 0, false
	}

	e_lfanew, ok := self.read32(0x3c)
	if !ok {
		return 0, false
	}

	signature, ok := self.read32(uint64(e_lfanew))
	if !ok || signature != IMAGE_NT_SIGNATURE {
		return 0, false
	}

	return uint64(e_lfanew), true
}

// relocationDirectory locates the base relocation data directory,
// dispatching on the optional header magic for the 32 or 64 bit
// layout. Images whose directory count does not reach the base
// relocation index legitimately have no relocations.
func (self loadedImage) relocationDirectory() (DataDirectory, bool) {
	nt_offset, ok := self.peHeaderOffset()
	if !ok {
		return DataDirectory{}, false
	}

	// The optional header starts after the 4 byte signature and
	// the 20 byte file header.
	optional_header := nt_offset + 24
	magic, ok := self.read16(optional_header)
	if !ok {
		return DataDirectory{}, false
	}

	var count_offset, directory_offset uint64
	switch magic {
	case IMAGE_NT_OPTIONAL_HDR32_MAGIC:
		count_offset = optional_header + 92
		directory_offset = optional_header + 96

	case IMAGE_NT_OPTIONAL_HDR64_MAGIC:
		count_offset = optional_header + 108
		directory_offset = optional_header + 112

	default:
		return DataDirectory{}, false
	}

	number_of_rva_and_sizes, ok := self.read32(count_offset)
	if !ok || number_of_rva_and_sizes <= IMAGE_DIRECTORY_ENTRY_BASERELOC {
		return DataDirectory{}, false
	}

	entry := directory_offset + IMAGE_DIRECTORY_ENTRY_BASERELOC*8
	virtual_address, ok := self.read32(entry)
	if !ok {
		return DataDirectory{}, false
	}

	size, ok := self.read32(entry + 4)
	if !ok || size == 0 {
		return DataDirectory{}, false
	}

	return DataDirectory{
		VirtualAddress: virtual_address,
		Size:           size,
	}, true
}
