package efirt

import "fmt"

// Status is a UEFI status code as returned over the runtime services
// ABI. Error codes have the high bit set.
type Status uint64

const errorBit = Status(1) << 63

const (
	STATUS_SUCCESS           Status = 0
	STATUS_INVALID_PARAMETER Status = errorBit | 2
	STATUS_UNSUPPORTED       Status = errorBit | 3
	STATUS_NOT_FOUND         Status = errorBit | 14
)

func (self Status) IsError() bool {
	return self&errorBit != 0
}

// Error makes a Status usable where a Go error is expected, e.g. when
// initialization propagates a failed protocol lookup.
func (self Status) Error() string {
	return self.String()
}

func (self Status) String() string {
	switch self {
	case STATUS_SUCCESS:
		return "Success"
	case STATUS_INVALID_PARAMETER:
		return "Invalid Parameter"
	case STATUS_UNSUPPORTED:
		return "Unsupported"
	case STATUS_NOT_FOUND:
		return "Not Found"
	}

	return fmt.Sprintf("Status(%#x)", uint64(self))
}
