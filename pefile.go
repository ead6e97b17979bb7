package efirt

import (
	"encoding/binary"
	"errors"
	"io"
	"strings"
)

// Exported API for inspecting PE files on disk (as opposed to loaded
// images, which the relocation engine works on). Only the headers the
// relocation tooling needs are parsed.

type SectionHeader struct {
	Name             string `json:"name"`
	VirtualAddress   uint32 `json:"virtual_address"`
	VirtualSize      uint32 `json:"virtual_size"`
	SizeOfRawData    uint32 `json:"size_of_raw_data"`
	PointerToRawData uint32 `json:"pointer_to_raw_data"`
	Characteristics  uint32 `json:"characteristics"`
}

type PEFile struct {
	reader io.ReaderAt

	Machine             uint16           `json:"machine"`
	Is64Bit             bool             `json:"is_64bit"`
	ImageBase           uint64           `json:"image_base"`
	SizeOfImage         uint32           `json:"size_of_image"`
	RelocationDirectory DataDirectory    `json:"-"`
	Sections            []*SectionHeader `json:"sections"`

	rva_resolver *RVAResolver
}

func readAt(reader io.ReaderAt, offset int64, length int) ([]byte, error) {
	buf := make([]byte, length)
	_, err := reader.ReadAt(buf, offset)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func NewPEFile(reader io.ReaderAt) (*PEFile, error) {
	dos_header, err := readAt(reader, 0, 0x40)
	if err != nil {
		return nil, err
	}

	if binary.LittleEndian.Uint16(dos_header[0:2]) != IMAGE_DOS_SIGNATURE {
		return nil, errors.New("Invalid IMAGE_DOS_HEADER")
	}

	nt_offset := int64(binary.LittleEndian.Uint32(dos_header[0x3c:0x40]))
	nt_header, err := readAt(reader, nt_offset, 24)
	if err != nil {
		return nil, err
	}

	if binary.LittleEndian.Uint32(nt_header[0:4]) != IMAGE_NT_SIGNATURE {
		return nil, errors.New("Invalid IMAGE_NT_HEADERS")
	}

	result := &PEFile{
		reader:  reader,
		Machine: binary.LittleEndian.Uint16(nt_header[4:6]),
	}

	number_of_sections := binary.LittleEndian.Uint16(nt_header[6:8])
	size_of_optional_header := binary.LittleEndian.Uint16(nt_header[20:22])

	optional_offset := nt_offset + 24
	optional_header, err := readAt(reader, optional_offset,
		int(size_of_optional_header))
	if err != nil {
		return nil, err
	}

	if len(optional_header) < 2 {
		return nil, errors.New("Invalid IMAGE_OPTIONAL_HEADER")
	}

	magic := binary.LittleEndian.Uint16(optional_header[0:2])

	// The 32 and 64 bit optional headers lay the image base and
	// the data directory out at different offsets.
	var count_offset, directory_offset int
	switch magic {
	case IMAGE_NT_OPTIONAL_HDR32_MAGIC:
		if len(optional_header) < 96 {
			return nil, errors.New("Invalid IMAGE_OPTIONAL_HEADER")
		}
		result.ImageBase = uint64(
			binary.LittleEndian.Uint32(optional_header[28:32]))
		count_offset = 92
		directory_offset = 96

	case IMAGE_NT_OPTIONAL_HDR64_MAGIC:
		if len(optional_header) < 112 {
			return nil, errors.New("Invalid IMAGE_OPTIONAL_HEADER")
		}
		result.Is64Bit = true
		result.ImageBase = binary.LittleEndian.Uint64(optional_header[24:32])
		count_offset = 108
		directory_offset = 112

	default:
		return nil, errors.New("Invalid optional header magic")
	}

	result.SizeOfImage = binary.LittleEndian.Uint32(optional_header[56:60])

	number_of_rva_and_sizes := binary.LittleEndian.Uint32(
		optional_header[count_offset : count_offset+4])

	if number_of_rva_and_sizes > IMAGE_DIRECTORY_ENTRY_BASERELOC {
		entry := directory_offset + IMAGE_DIRECTORY_ENTRY_BASERELOC*8
		if len(optional_header) >= entry+8 {
			result.RelocationDirectory = DataDirectory{
				VirtualAddress: binary.LittleEndian.Uint32(
					optional_header[entry : entry+4]),
				Size: binary.LittleEndian.Uint32(
					optional_header[entry+4 : entry+8]),
			}
		}
	}

	section_offset := optional_offset + int64(size_of_optional_header)
	for i := 0; i < int(number_of_sections); i++ {
		section, err := readAt(reader, section_offset, 40)
		if err != nil {
			break
		}

		result.Sections = append(result.Sections, &SectionHeader{
			Name: strings.TrimRight(string(section[0:8]), "\x00"),
			VirtualSize: binary.LittleEndian.Uint32(
				section[8:12]),
			VirtualAddress: binary.LittleEndian.Uint32(
				section[12:16]),
			SizeOfRawData: binary.LittleEndian.Uint32(
				section[16:20]),
			PointerToRawData: binary.LittleEndian.Uint32(
				section[20:24]),
			Characteristics: binary.LittleEndian.Uint32(
				section[36:40]),
		})

		section_offset += 40
	}

	result.rva_resolver = NewRVAResolver(result)

	return result, nil
}
