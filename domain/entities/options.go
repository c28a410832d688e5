package entities

// OptionsHeaderSize is the size of the fixed options header:
// u32 schema version followed by u32 payload length, both little endian.
const OptionsHeaderSize = 8

// ParseOptions is a format-specific configuration blob. The host only looks
// at the schema version and the payload length; the payload itself is opaque
// and interpreted by the guest.
type ParseOptions struct {
	// Raw is the full encoded blob including the header.
	Raw []byte
}

// Len returns the blob length in bytes.
func (o ParseOptions) Len() int {
	return len(o.Raw)
}
