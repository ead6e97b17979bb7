package efirt

import "fmt"

// Base relocation fixup types.
const (
	IMAGE_REL_BASED_ABSOLUTE = 0
	IMAGE_REL_BASED_HIGH     = 1
	IMAGE_REL_BASED_LOW      = 2
	IMAGE_REL_BASED_HIGHLOW  = 3
	IMAGE_REL_BASED_DIR64    = 10
)

// RelocateImageForRuntime re-applies an image's base relocations so
// its code is correct when entered at virtual_base, using the
// relocation data recorded at load time. Each saved record holds the
// value the fixup site had after the initial relocation: a site whose
// live value no longer matches was overwritten by running driver code
// and is deliberately left alone. The stream cursor advances in
// lockstep with the relocation table either way.
//
// The transform is best effort and mutates the image in place at its
// physical address - the caller must invalidate the instruction cache
// over the range before the virtual base goes live. A malformed
// relocation block truncates the walk without reporting an error,
// matching the original firmware behavior.
func RelocateImageForRuntime(
	image []byte, physical_base, virtual_base uint64,
	relocation_data []byte) {

	adjust := virtual_base - physical_base
	if adjust == 0 {
		return
	}

	img := loadedImage{image}
	directory, ok := img.relocationDirectory()
	if !ok {
		return
	}

	cursor := &fixupDataCursor{data: relocation_data}

	offset := uint64(directory.VirtualAddress)
	end := offset + uint64(directory.Size)

	for offset < end {
		page_rva, ok := img.read32(offset)
		if !ok {
			return
		}

		block_size, ok := img.read32(offset + 4)
		if !ok {
			return
		}

		if block_size == 0 || block_size > directory.Size {
			DebugPrint("Malformed relocation block at %#x (size %#x)\n",
				offset, block_size)
			return
		}

		for entry_offset := offset + 8; entry_offset+2 <= offset+uint64(block_size); entry_offset += 2 {
			entry, ok := img.read16(entry_offset)
			if !ok {
				return
			}

			fixup := uint64(page_rva) + uint64(entry&0xfff)

			switch entry >> 12 {
			case IMAGE_REL_BASED_ABSOLUTE:
				// Alignment padding entry, nothing saved for it.

			case IMAGE_REL_BASED_HIGH:
				saved, have_saved := cursor.nextWord()
				current, ok := img.read16(fixup)
				if ok && have_saved && current == saved {
					img.write16(fixup,
						current+uint16(uint32(adjust)>>16))
				}

			case IMAGE_REL_BASED_LOW:
				saved, have_saved := cursor.nextWord()
				current, ok := img.read16(fixup)
				if ok && have_saved && current == saved {
					img.write16(fixup, current+uint16(adjust))
				}

			case IMAGE_REL_BASED_HIGHLOW:
				saved, have_saved := cursor.nextDword()
				current, ok := img.read32(fixup)
				if ok && have_saved && current == saved {
					img.write32(fixup, current+uint32(adjust))
				}

			case IMAGE_REL_BASED_DIR64:
				saved, have_saved := cursor.nextQword()
				current, ok := img.read64(fixup)
				if ok && have_saved && current == saved {
					img.write64(fixup, current+adjust)
				}

			default:
				// Unrecognized fixup types are skipped here -
				// the load time relocation already rejected
				// the image if it carried any.
				DebugPrint("Unknown relocation type %d\n", entry>>12)
			}
		}

		offset += uint64(block_size)
	}
}

// RecordImageFixups is the producer half of the relocation data
// contract: it walks the relocation directory of an already loaded
// image and records the current value of every fixup site, in
// directory order, in the stream layout the runtime relocation later
// consumes. The image loader calls this once for each runtime driver
// right after the initial relocation.
func RecordImageFixups(image []byte) ([]byte, error) {
	img := loadedImage{image}
	directory, ok := img.relocationDirectory()
	if !ok {
		// No relocations were applied so there is nothing to
		// re-apply later.
		return nil, nil
	}

	writer := &fixupDataWriter{}

	offset := uint64(directory.VirtualAddress)
	end := offset + uint64(directory.Size)

	for offset < end {
		page_rva, ok := img.read32(offset)
		if !ok {
			return nil, fmt.Errorf(
				"relocation directory extends past the image at %#x", offset)
		}

		block_size, ok := img.read32(offset + 4)
		if !ok {
			return nil, fmt.Errorf(
				"relocation directory extends past the image at %#x", offset)
		}

		if block_size == 0 || block_size > directory.Size {
			return nil, fmt.Errorf(
				"malformed relocation block at %#x (size %#x)",
				offset, block_size)
		}

		for entry_offset := offset + 8; entry_offset+2 <= offset+uint64(block_size); entry_offset += 2 {
			entry, ok := img.read16(entry_offset)
			if !ok {
				return nil, fmt.Errorf(
					"relocation block extends past the image at %#x",
					entry_offset)
			}

			fixup := uint64(page_rva) + uint64(entry&0xfff)

			switch entry >> 12 {
			case IMAGE_REL_BASED_ABSOLUTE:

			case IMAGE_REL_BASED_HIGH, IMAGE_REL_BASED_LOW:
				current, ok := img.read16(fixup)
				if !ok {
					return nil, fmt.Errorf(
						"fixup site %#x outside the image", fixup)
				}
				writer.writeWord(current)

			case IMAGE_REL_BASED_HIGHLOW:
				current, ok := img.read32(fixup)
				if !ok {
					return nil, fmt.Errorf(
						"fixup site %#x outside the image", fixup)
				}
				writer.writeDword(current)

			case IMAGE_REL_BASED_DIR64:
				current, ok := img.read64(fixup)
				if !ok {
					return nil, fmt.Errorf(
						"fixup site %#x outside the image", fixup)
				}
				writer.writeQword(current)

			default:
				return nil, fmt.Errorf(
					"unknown relocation type %d", entry>>12)
			}
		}

		offset += uint64(block_size)
	}

	return writer.data, nil
}
