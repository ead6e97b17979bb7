package efirt

import (
	"encoding/binary"
	"fmt"

	"github.com/Velocidex/ordereddict"
)

type RelocationEntry struct {
	Type   string `json:"type"`
	Offset uint32 `json:"offset"`
}

type RelocationBlock struct {
	PageRVA     uint32            `json:"page_rva"`
	SizeOfBlock uint32            `json:"size_of_block"`
	Entries     []RelocationEntry `json:"entries"`
}

func relocTypeName(reloc_type uint16) string {
	switch reloc_type {
	case IMAGE_REL_BASED_ABSOLUTE:
		return "ABSOLUTE"
	case IMAGE_REL_BASED_HIGH:
		return "HIGH"
	case IMAGE_REL_BASED_LOW:
		return "LOW"
	case IMAGE_REL_BASED_HIGHLOW:
		return "HIGHLOW"
	case IMAGE_REL_BASED_DIR64:
		return "DIR64"
	}

	return fmt.Sprintf("UNKNOWN(%d)", reloc_type)
}

// RelocationBlocks walks the base relocation directory of an on disk
// PE file through the RVA resolver.
func (self *PEFile) RelocationBlocks() []*RelocationBlock {
	result := []*RelocationBlock{}

	directory := self.RelocationDirectory
	if directory.Size == 0 {
		return result
	}

	offset := directory.VirtualAddress
	end := directory.VirtualAddress + directory.Size

	for offset < end {
		file_offset := self.rva_resolver.GetFileAddress(offset)
		if file_offset == 0 {
			break
		}

		header, err := readAt(self.reader, int64(file_offset), 8)
		if err != nil {
			break
		}

		page_rva := binary.LittleEndian.Uint32(header[0:4])
		size_of_block := binary.LittleEndian.Uint32(header[4:8])

		if size_of_block < 8 || size_of_block > directory.Size {
			break
		}

		block := &RelocationBlock{
			PageRVA:     page_rva,
			SizeOfBlock: size_of_block,
		}

		entry_count := CapInt(int(size_of_block-8)/2,
			MAX_RELOCATIONS_PER_BLOCK)

		data, err := readAt(self.reader, int64(file_offset)+8,
			entry_count*2)
		if err != nil {
			break
		}

		for i := 0; i < entry_count; i++ {
			entry := binary.LittleEndian.Uint16(data[i*2:])
			block.Entries = append(block.Entries, RelocationEntry{
				Type:   relocTypeName(entry >> 12),
				Offset: page_rva + uint32(entry&0xfff),
			})
		}

		result = append(result, block)
		if len(result) > MAX_RELOCATION_BLOCKS {
			break
		}

		offset += size_of_block
	}

	return result
}

// ImageRelocationBlocks is the loaded image variant - an RVA is a
// plain offset so no resolver is involved.
func ImageRelocationBlocks(image []byte) []*RelocationBlock {
	result := []*RelocationBlock{}

	img := loadedImage{image}
	directory, ok := img.relocationDirectory()
	if !ok {
		return result
	}

	offset := uint64(directory.VirtualAddress)
	end := offset + uint64(directory.Size)

	for offset < end {
		page_rva, ok := img.read32(offset)
		if !ok {
			break
		}

		size_of_block, ok := img.read32(offset + 4)
		if !ok || size_of_block < 8 || size_of_block > directory.Size {
			break
		}

		block := &RelocationBlock{
			PageRVA:     page_rva,
			SizeOfBlock: size_of_block,
		}

		entry_count := CapInt(int(size_of_block-8)/2,
			MAX_RELOCATIONS_PER_BLOCK)

		for i := 0; i < entry_count; i++ {
			entry, ok := img.read16(offset + 8 + uint64(i)*2)
			if !ok {
				break
			}

			block.Entries = append(block.Entries, RelocationEntry{
				Type:   relocTypeName(entry >> 12),
				Offset: page_rva + uint32(entry&0xfff),
			})
		}

		result = append(result, block)
		if len(result) > MAX_RELOCATION_BLOCKS {
			break
		}

		offset += uint64(size_of_block)
	}

	return result
}

func DescribeRelocations(blocks []*RelocationBlock) *ordereddict.Dict {
	total := 0
	for _, block := range blocks {
		total += len(block.Entries)
	}

	return ordereddict.NewDict().
		Set("NumberOfBlocks", len(blocks)).
		Set("NumberOfEntries", total).
		Set("Blocks", blocks)
}
