package printer

// USB Printer Class code.
const (
	ClassPrinter = 0x07 // Printer Class
)

// Printer Subclass codes.
const (
	SubclassPrinter = 0x01 // Printer subclass
)

// Printer Protocol codes.
const (
	ProtocolUnidirectional = 0x01 // Unidirectional interface
	ProtocolBidirectional  = 0x02 // Bidirectional interface
	ProtocolIEEE1284_4     = 0x03 // IEEE 1284.4 compatible bidirectional interface
)

// Printer class-specific request codes (USB Printer Class spec, section 4.2).
const (
	RequestGetDeviceID   = 0x00 // Return the IEEE 1284 Device ID string
	RequestGetPortStatus = 0x01 // Return the current port status byte
	RequestSoftReset     = 0x02 // Abandon the current job, return to idle
)

// Port status bits (USB Printer Class spec, section 4.2.2), mirroring the
// IEEE 1284 status lines.
const (
	PortStatusNotError  = 0x08 // 1 = no error condition
	PortStatusSelect    = 0x10 // 1 = device selected/online
	PortStatusPaperEout = 0x20 // 1 = paper out
)

// MaxDeviceIDLength bounds the IEEE 1284 Device ID string, which is
// prefixed by its own 2-byte big-endian length per the class spec.
const MaxDeviceIDLength = 254

// MaxJobBufferSize is the chunk size used to drain the bulk OUT data pipe.
const MaxJobBufferSize = 512
