package efirt

import (
	"golang.org/x/text/encoding/unicode"
)

// UTF16ToStringLE decodes a little endian UTF16 buffer. Firmware
// vendor strings are CHAR16 data.
func UTF16ToStringLE(in []byte) string {
	decoder := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	out, err := decoder.Bytes(in)
	if err != nil {
		return ""
	}
	return string(out)
}

// ParseTerminatedUTF16String decodes a NUL terminated CHAR16 string
// starting at offset.
func ParseTerminatedUTF16String(buf []byte, offset int) string {
	if offset < 0 || offset >= len(buf) {
		return ""
	}

	data := buf[offset:]
	end := len(data) &^ 1
	for i := 0; i+2 <= end; i += 2 {
		if data[i] == 0 && data[i+1] == 0 {
			end = i
			break
		}
	}

	return UTF16ToStringLE(data[:end])
}

// EncodeTerminatedUTF16String is the inverse, used when tools plant a
// vendor string inside a synthetic image.
func EncodeTerminatedUTF16String(in string) []byte {
	encoder := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	out, err := encoder.Bytes([]byte(in))
	if err != nil {
		return []byte{0, 0}
	}
	return append(out, 0, 0)
}

func CapUint32(v uint32, max uint32) uint32 {
	if v > max {
		return max
	}
	return v
}

func CapInt(v int, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}
