package wireformat

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/logweave/parserhost/domain/entities"
)

// OutputVersion is the result layout version written by guests.
const OutputVersion = 1

// Result layout sizes.
const (
	// OutputPrefixSize is the u32 body length in front of the body.
	OutputPrefixSize = 4
	// OutputHeaderSize is version, next state, reserved, bytes consumed and entry count.
	OutputHeaderSize = 12
	// RecordPrefixSize is the u32 record length in front of each record.
	RecordPrefixSize = 4
	// RecordHeaderSize is flags, level, tag length, timestamp and payload length.
	RecordHeaderSize = 16
)

// Record flags.
const (
	FlagTimestamp uint8 = 1 << iota
	FlagLevel
	FlagBinary

	knownFlags = FlagTimestamp | FlagLevel | FlagBinary
)

// ErrMalformed is wrapped by every decode failure.
var ErrMalformed = errors.New("malformed result buffer")

// EncodeOutput serializes a result into the length-prefixed layout a guest
// returns from parse.
func EncodeOutput(res entities.ParseResult) []byte {
	size := OutputPrefixSize + OutputHeaderSize
	for _, e := range res.Entries {
		size += RecordPrefixSize + RecordHeaderSize + len(e.SourceTag) + len(e.Payload)
	}
	buf := make([]byte, size)
	le := binary.LittleEndian

	le.PutUint32(buf[0:], uint32(size-OutputPrefixSize)) //nolint:gosec // G115: results are far below 4 GiB
	body := buf[OutputPrefixSize:]
	body[0] = OutputVersion
	body[1] = uint8(res.NextState)
	le.PutUint32(body[4:], uint32(res.BytesConsumed)) //nolint:gosec // G115: bounded by chunk length
	le.PutUint32(body[8:], uint32(len(res.Entries)))  //nolint:gosec // G115: bounded by result size

	off := OutputHeaderSize
	for _, e := range res.Entries {
		recLen := RecordHeaderSize + len(e.SourceTag) + len(e.Payload)
		le.PutUint32(body[off:], uint32(recLen)) //nolint:gosec // G115: bounded by result size
		rec := body[off+RecordPrefixSize:]

		var flags uint8
		if e.HasTimestamp {
			flags |= FlagTimestamp
		}
		if e.Level != entities.SeverityUnset {
			flags |= FlagLevel
		}
		if e.Binary {
			flags |= FlagBinary
		}
		rec[0] = flags
		rec[1] = uint8(e.Level)
		le.PutUint16(rec[2:], uint16(len(e.SourceTag))) //nolint:gosec // G115: tags are short
		le.PutUint64(rec[4:], e.Timestamp)
		le.PutUint32(rec[12:], uint32(len(e.Payload))) //nolint:gosec // G115: bounded by result size
		copy(rec[RecordHeaderSize:], e.SourceTag)
		copy(rec[RecordHeaderSize+len(e.SourceTag):], e.Payload)

		off += RecordPrefixSize + recLen
	}
	return buf
}

// DecodeOutput decodes a result body, the bytes following the u32 length
// prefix. Every error wraps ErrMalformed.
func DecodeOutput(body []byte) (entities.ParseResult, error) {
	var res entities.ParseResult
	le := binary.LittleEndian

	if len(body) < OutputHeaderSize {
		return res, malformed("body is %d bytes, shorter than the %d byte header", len(body), OutputHeaderSize)
	}
	if body[0] != OutputVersion {
		return res, malformed("unsupported result version %d", body[0])
	}
	state := entities.NextState(body[1])
	if state > entities.NextExhausted {
		return res, malformed("unknown next state %d", body[1])
	}
	if le.Uint16(body[2:]) != 0 {
		return res, malformed("reserved header bits set")
	}
	res.NextState = state
	res.BytesConsumed = uint64(le.Uint32(body[4:]))
	count := le.Uint32(body[8:])

	rest := body[OutputHeaderSize:]
	if uint64(count)*(RecordPrefixSize+RecordHeaderSize) > uint64(len(rest)) {
		return res, malformed("entry count %d cannot fit in %d bytes", count, len(rest))
	}

	if count > 0 {
		res.Entries = make([]entities.LogEntry, 0, count)
	}
	for i := uint32(0); i < count; i++ {
		if len(rest) < RecordPrefixSize {
			return res, malformed("record %d: truncated length prefix", i)
		}
		recLen := le.Uint32(rest)
		rest = rest[RecordPrefixSize:]
		if uint64(recLen) > uint64(len(rest)) || recLen < RecordHeaderSize {
			return res, malformed("record %d: length %d out of bounds", i, recLen)
		}
		entry, err := decodeRecord(rest[:recLen])
		if err != nil {
			return res, fmt.Errorf("record %d: %w", i, err)
		}
		res.Entries = append(res.Entries, entry)
		rest = rest[recLen:]
	}
	if len(rest) != 0 {
		return res, malformed("%d trailing bytes after %d records", len(rest), count)
	}
	return res, nil
}

func decodeRecord(rec []byte) (entities.LogEntry, error) {
	le := binary.LittleEndian
	flags := rec[0]
	if flags&^knownFlags != 0 {
		return entities.LogEntry{}, malformed("unknown flags %#x", flags)
	}
	tagLen := int(le.Uint16(rec[2:]))
	payloadLen := uint64(le.Uint32(rec[12:]))
	if uint64(RecordHeaderSize+tagLen)+payloadLen != uint64(len(rec)) {
		return entities.LogEntry{}, malformed("declared tag %d and payload %d do not match record length %d",
			tagLen, payloadLen, len(rec))
	}

	entry := entities.LogEntry{
		SourceTag: string(rec[RecordHeaderSize : RecordHeaderSize+tagLen]),
		Binary:    flags&FlagBinary != 0,
	}
	if flags&FlagTimestamp != 0 {
		entry.Timestamp = le.Uint64(rec[4:])
		entry.HasTimestamp = true
	}
	if flags&FlagLevel != 0 {
		level := entities.Severity(rec[1])
		if level == entities.SeverityUnset || !level.Valid() {
			return entities.LogEntry{}, malformed("level %d out of range", rec[1])
		}
		entry.Level = level
	}
	if payload := rec[RecordHeaderSize+tagLen:]; len(payload) > 0 {
		entry.Payload = make([]byte, len(payload))
		copy(entry.Payload, payload)
	}
	return entry, nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}
