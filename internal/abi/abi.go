// Package abi holds the constants of the host/guest binary contract: export
// names, the ABI header custom section and the packed pointer helpers used by
// host functions.
package abi

import (
	"encoding/binary"
	"fmt"
)

// Required guest exports.
const (
	ExportMemory     = "memory"
	ExportAlloc      = "alloc"
	ExportDealloc    = "dealloc"
	ExportConfigure  = "configure"
	ExportParse      = "parse"
	ExportInitialize = "_initialize"
)

// Import modules a reactor guest may link against.
const (
	HostModule = "host"
	WASIModule = "wasi_snapshot_preview1"
)

// Host functions exported to reactor guests.
const (
	HostReadFile = "read_file"
	HostWriteLog = "write_log"
	HostGetTime  = "get_time"
)

// HeaderSection is the name of the custom section carrying the ABI header.
const HeaderSection = "parserhost.abi"

// HeaderMagic opens the ABI header payload.
var HeaderMagic = [4]byte{'P', 'H', 'A', 'B'}

// HeaderSize is magic plus a little-endian u32 version.
const HeaderSize = 8

// Supported ABI version range, inclusive.
const (
	MinVersion uint32 = 1
	MaxVersion uint32 = 1
)

// Configure status codes returned by the guest.
const (
	StatusOK          uint32 = 0
	StatusMalformed   uint32 = 1
	StatusUnsupported uint32 = 2
)

// PtrHighBits is the shift of the pointer half of a packed value.
const PtrHighBits = 32

// EncodeHeader builds the custom section payload for version.
func EncodeHeader(version uint32) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf, HeaderMagic[:])
	binary.LittleEndian.PutUint32(buf[4:], version)
	return buf
}

// DecodeHeader validates the magic and returns the declared version.
func DecodeHeader(payload []byte) (uint32, error) {
	if len(payload) < HeaderSize {
		return 0, fmt.Errorf("abi header is %d bytes, want %d", len(payload), HeaderSize)
	}
	if [4]byte(payload[:4]) != HeaderMagic {
		return 0, fmt.Errorf("abi header has bad magic %q", payload[:4])
	}
	return binary.LittleEndian.Uint32(payload[4:HeaderSize]), nil
}

// Supported reports whether version is inside the host's range.
func Supported(version uint32) bool {
	return version >= MinVersion && version <= MaxVersion
}

// PackPtrLen packs a pointer and length into a single uint64.
// Pointer is stored in the high 32 bits, length in the low 32 bits.
func PackPtrLen(ptr, length uint32) uint64 {
	return (uint64(ptr) << PtrHighBits) | uint64(length)
}

// UnpackPtrLen unpacks a uint64 into its original pointer and length.
func UnpackPtrLen(packed uint64) (ptr, length uint32) {
	return uint32(packed >> PtrHighBits), uint32(packed) //nolint:gosec // G115: packed format stores 32-bit values
}
