package efirt

// An RVA resolver maps a VirtualAddress to a file physical
// address. On disk, PE sections live at their raw file offsets while
// every pointer inside the file refers to the virtual layout. The
// resolver converts those virtual addresses back into file offsets so
// a directory can be walked without loading the image. It is
// populated from the header's sections.
type Run struct {
	VirtualAddress  uint32
	VirtualEnd      uint32
	PhysicalAddress uint32
}

type RVAResolver struct {
	// For now very simple O(n) search.
	Runs      []*Run
	ImageBase uint64
	Is64Bit   bool
}

func (self *RVAResolver) GetFileAddress(offset uint32) uint32 {
	for _, run := range self.Runs {
		if offset >= run.VirtualAddress &&
			offset < run.VirtualEnd {
			return offset - run.VirtualAddress + run.PhysicalAddress
		}
	}

	return 0
}

func NewRVAResolver(pe_file *PEFile) *RVAResolver {
	result := &RVAResolver{
		ImageBase: pe_file.ImageBase,
		Is64Bit:   pe_file.Is64Bit,
	}

	for _, section := range pe_file.Sections {
		if section.SizeOfRawData == 0 {
			continue
		}

		run := &Run{
			VirtualAddress:  section.VirtualAddress,
			VirtualEnd:      section.VirtualAddress + section.SizeOfRawData,
			PhysicalAddress: section.PointerToRawData,
		}

		result.Runs = append(result.Runs, run)
	}

	return result
}
