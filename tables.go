package efirt

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
)

// Table signatures and revisions from the UEFI specification. All
// pointer-valued fields are raw machine addresses - physical before
// the address space switch, virtual after it.
const (
	SYSTEM_TABLE_SIGNATURE           = 0x5453595320494249 // "IBI SYST"
	RUNTIME_SERVICES_SIGNATURE       = 0x56524553544E5552 // "RUNTSERV"
	SPECIFICATION_VERSION            = (2 << 16) | 31
	SYSTEM_TABLE_REVISION            = SPECIFICATION_VERSION
	RUNTIME_SERVICES_REVISION        = SPECIFICATION_VERSION
	SYSTEM_TABLE_HEADER_SIZE         = 120
	RUNTIME_SERVICES_HEADER_SIZE     = 136
	CONFIGURATION_TABLE_ENTRY_LENGTH = 24
)

// TableHeader precedes every standard UEFI table. The CRC32 field
// covers HeaderSize bytes of the table with the field itself zeroed.
type TableHeader struct {
	Signature  uint64
	Revision   uint32
	HeaderSize uint32
	CRC32      uint32
	Reserved   uint32
}

// RuntimeServices is the EFI Runtime Services Table. Every field
// after the header is the address of one runtime service entry point.
type RuntimeServices struct {
	Hdr                       TableHeader
	GetTime                   uint64
	SetTime                   uint64
	GetWakeupTime             uint64
	SetWakeupTime             uint64
	SetVirtualAddressMap      uint64
	ConvertPointer            uint64
	GetVariable               uint64
	GetNextVariableName       uint64
	SetVariable               uint64
	GetNextHighMonotonicCount uint64
	ResetSystem               uint64
	UpdateCapsule             uint64
	QueryCapsuleCapabilities  uint64
	QueryVariableInfo         uint64
}

// SystemTable is the EFI System Table.
type SystemTable struct {
	Hdr                  TableHeader
	FirmwareVendor       uint64
	FirmwareRevision     uint32
	_                    uint32
	ConsoleInHandle      uint64
	ConIn                uint64
	ConsoleOutHandle     uint64
	ConOut               uint64
	StandardErrorHandle  uint64
	StdErr               uint64
	RuntimeServices      uint64
	BootServices         uint64
	NumberOfTableEntries uint64
	ConfigurationTable   uint64
}

func NewRuntimeServicesTable() *RuntimeServices {
	result := &RuntimeServices{
		Hdr: TableHeader{
			Signature:  RUNTIME_SERVICES_SIGNATURE,
			Revision:   RUNTIME_SERVICES_REVISION,
			HeaderSize: RUNTIME_SERVICES_HEADER_SIZE,
		},
	}
	result.SetChecksum()
	return result
}

func NewSystemTable() *SystemTable {
	result := &SystemTable{
		Hdr: TableHeader{
			Signature:  SYSTEM_TABLE_SIGNATURE,
			Revision:   SYSTEM_TABLE_REVISION,
			HeaderSize: SYSTEM_TABLE_HEADER_SIZE,
		},
		FirmwareRevision: SPECIFICATION_VERSION,
	}
	result.SetChecksum()
	return result
}

func tableChecksum(table interface{}, hdr TableHeader) uint32 {
	hdr.CRC32 = 0

	buf := &bytes.Buffer{}
	binary.Write(buf, binary.LittleEndian, table)

	encoded := buf.Bytes()

	// Splice the zeroed header back in so the stored checksum does
	// not feed itself.
	hdr_buf := &bytes.Buffer{}
	binary.Write(hdr_buf, binary.LittleEndian, hdr)
	copy(encoded, hdr_buf.Bytes())

	length := int(hdr.HeaderSize)
	if length > len(encoded) {
		length = len(encoded)
	}

	return crc32.ChecksumIEEE(encoded[:length])
}

func (self *RuntimeServices) Checksum() uint32 {
	return tableChecksum(self, self.Hdr)
}

// SetChecksum recomputes the header CRC over the declared header
// length with the checksum field zeroed, and stores it.
func (self *RuntimeServices) SetChecksum() {
	self.Hdr.CRC32 = self.Checksum()
}

func (self *SystemTable) Checksum() uint32 {
	return tableChecksum(self, self.Hdr)
}

func (self *SystemTable) SetChecksum() {
	self.Hdr.CRC32 = self.Checksum()
}
