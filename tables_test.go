package efirt

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/alecthomas/assert"
)

// The header checksum covers the declared header length, so the wire
// sizes are load bearing constants.
func TestTableWireSizes(t *testing.T) {
	assert.Equal(t, RUNTIME_SERVICES_HEADER_SIZE,
		binary.Size(&RuntimeServices{}))
	assert.Equal(t, SYSTEM_TABLE_HEADER_SIZE, binary.Size(&SystemTable{}))
}

func TestChecksumMatchesManualCrc(t *testing.T) {
	table := NewRuntimeServicesTable()
	table.GetTime = 0x1234
	table.SetChecksum()

	// Re-derive independently: encode, zero the CRC field, crc32
	// over the declared header size.
	buf := &bytes.Buffer{}
	err := binary.Write(buf, binary.LittleEndian, table)
	assert.NoError(t, err)

	encoded := buf.Bytes()
	for i := 16; i < 20; i++ {
		encoded[i] = 0
	}

	assert.Equal(t,
		crc32.ChecksumIEEE(encoded[:RUNTIME_SERVICES_HEADER_SIZE]),
		table.Hdr.CRC32)
}

func TestChecksumTracksContent(t *testing.T) {
	table := NewSystemTable()
	original := table.Hdr.CRC32

	table.RuntimeServices = 0xf000
	table.SetChecksum()
	assert.NotEqual(t, original, table.Hdr.CRC32)
	assert.Equal(t, table.Checksum(), table.Hdr.CRC32)
}

func TestVendorStringRoundTrip(t *testing.T) {
	buf := make([]byte, 64)
	copy(buf[8:], EncodeTerminatedUTF16String("GoFirmware"))

	assert.Equal(t, "GoFirmware", ParseTerminatedUTF16String(buf, 8))
	assert.Equal(t, "", ParseTerminatedUTF16String(buf, 200))
}
