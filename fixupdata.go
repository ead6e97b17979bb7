package efirt

import "encoding/binary"

// The relocation data blob is a positional stream: one record per
// relocation entry, in directory order, holding the value each fixup
// site had when the image was first relocated. 32 and 64 bit records
// are aligned to their natural size within the stream. The stream
// carries no tags - the consumer derives each record's shape from the
// relocation table it walks in lockstep.

type fixupDataCursor struct {
	data   []byte
	offset int
}

func (self *fixupDataCursor) align(size int) {
	if self.offset%size > 0 {
		self.offset += size - self.offset%size
	}
}

// nextWord consumes a 16 bit record. ok=false once the stream is
// exhausted - the caller must then stop trusting saved values.
func (self *fixupDataCursor) nextWord() (uint16, bool) {
	if self.offset+2 > len(self.data) {
		self.offset = len(self.data) + 1
		return 0, false
	}

	result := binary.LittleEndian.Uint16(self.data[self.offset:])
	self.offset += 2
	return result, true
}

func (self *fixupDataCursor) nextDword() (uint32, bool) {
	self.align(4)
	if self.offset+4 > len(self.data) {
		self.offset = len(self.data) + 1
		return 0, false
	}

	result := binary.LittleEndian.Uint32(self.data[self.offset:])
	self.offset += 4
	return result, true
}

func (self *fixupDataCursor) nextQword() (uint64, bool) {
	self.align(8)
	if self.offset+8 > len(self.data) {
		self.offset = len(self.data) + 1
		return 0, false
	}

	result := binary.LittleEndian.Uint64(self.data[self.offset:])
	self.offset += 8
	return result, true
}

// fixupDataWriter is the producer half, used by the image loader when
// it records post relocation values for the runtime switch.
type fixupDataWriter struct {
	data []byte
}

func (self *fixupDataWriter) align(size int) {
	for len(self.data)%size > 0 {
		self.data = append(self.data, 0)
	}
}

func (self *fixupDataWriter) writeWord(value uint16) {
	self.data = binary.LittleEndian.AppendUint16(self.data, value)
}

func (self *fixupDataWriter) writeDword(value uint32) {
	self.align(4)
	self.data = binary.LittleEndian.AppendUint32(self.data, value)
}

func (self *fixupDataWriter) writeQword(value uint64) {
	self.align(8)
	self.data = binary.LittleEndian.AppendUint64(self.data, value)
}
