package wireformat

import "encoding/binary"

// InputPrefixSize is the length prefix in front of every parse chunk.
const InputPrefixSize = 4

// EncodeInput frames a chunk as u32 LE length followed by the bytes.
func EncodeInput(chunk []byte) []byte {
	buf := make([]byte, InputPrefixSize+len(chunk))
	binary.LittleEndian.PutUint32(buf, uint32(len(chunk))) //nolint:gosec // G115: chunk length checked by caller
	copy(buf[InputPrefixSize:], chunk)
	return buf
}

// DecodeInput returns the chunk carried by an input frame, or false if the
// frame is inconsistent.
func DecodeInput(frame []byte) ([]byte, bool) {
	if len(frame) < InputPrefixSize {
		return nil, false
	}
	n := binary.LittleEndian.Uint32(frame)
	if uint64(n) != uint64(len(frame)-InputPrefixSize) {
		return nil, false
	}
	return frame[InputPrefixSize:], true
}
