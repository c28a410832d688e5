package wireformat

import (
	"encoding/binary"
	"fmt"

	"github.com/logweave/parserhost/domain/entities"
)

// OptionsHeader is the fixed prefix of an options blob.
type OptionsHeader struct {
	SchemaVersion uint32
	PayloadLen    uint32
}

// EncodeOptions prefixes payload with the options header.
func EncodeOptions(schemaVersion uint32, payload []byte) entities.ParseOptions {
	buf := make([]byte, entities.OptionsHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:], schemaVersion)
	binary.LittleEndian.PutUint32(buf[4:], uint32(len(payload))) //nolint:gosec // G115: options are far below 4 GiB
	copy(buf[entities.OptionsHeaderSize:], payload)
	return entities.ParseOptions{Raw: buf}
}

// DecodeOptions validates the header of an options blob and returns it with
// the payload.
func DecodeOptions(opts entities.ParseOptions) (OptionsHeader, []byte, error) {
	raw := opts.Raw
	if len(raw) < entities.OptionsHeaderSize {
		return OptionsHeader{}, nil, fmt.Errorf("options blob is %d bytes, shorter than the %d byte header",
			len(raw), entities.OptionsHeaderSize)
	}
	h := OptionsHeader{
		SchemaVersion: binary.LittleEndian.Uint32(raw[0:]),
		PayloadLen:    binary.LittleEndian.Uint32(raw[4:]),
	}
	if h.SchemaVersion == 0 {
		return h, nil, fmt.Errorf("options schema version 0 is reserved")
	}
	body := raw[entities.OptionsHeaderSize:]
	if uint64(h.PayloadLen) != uint64(len(body)) {
		return h, nil, fmt.Errorf("options header declares %d payload bytes, blob carries %d", h.PayloadLen, len(body))
	}
	return h, body, nil
}
