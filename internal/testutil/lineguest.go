package testutil

import (
	"bytes"
	"encoding/json"

	"github.com/logweave/parserhost/domain/entities"
	"github.com/logweave/parserhost/internal/abi"
)

// EndMarker is the line a LineGuest treats as end of stream.
const EndMarker = "END"

// LineOptions is the options payload understood by LineGuest.
type LineOptions struct {
	LogLevel string `json:"log_level,omitempty"`
	Tag      string `json:"tag,omitempty"`
}

// NewLineGuest returns a guest for a newline-delimited text format where each
// record is "<level>:<message>\n". Records above the configured log level are
// filtered out, a trailing partial line is left unconsumed with NeedMoreInput
// and a line equal to EndMarker ends the stream.
func NewLineGuest(schemaVersion uint32) *FakeGuest {
	g := NewFakeGuest(0)
	threshold := entities.SeverityVerbose
	tag := ""

	g.Configure = func(v uint32, payload []byte) uint32 {
		if v != schemaVersion {
			return abi.StatusUnsupported
		}
		var opts LineOptions
		if err := json.Unmarshal(payload, &opts); err != nil {
			return abi.StatusMalformed
		}
		if opts.LogLevel != "" {
			lvl, err := entities.ParseSeverity(opts.LogLevel)
			if err != nil {
				return abi.StatusUnsupported
			}
			threshold = lvl
		}
		tag = opts.Tag
		return abi.StatusOK
	}

	g.Parse = func(chunk []byte) entities.ParseResult {
		var res entities.ParseResult
		for {
			rest := chunk[res.BytesConsumed:]
			nl := bytes.IndexByte(rest, '\n')
			if nl < 0 {
				if len(rest) > 0 {
					res.NextState = entities.NextNeedMoreInput
				}
				return res
			}
			line := rest[:nl]
			res.BytesConsumed += uint64(nl + 1)
			if string(line) == EndMarker {
				res.NextState = entities.NextExhausted
				return res
			}
			entry := entities.LogEntry{SourceTag: tag, Payload: append([]byte(nil), line...)}
			if lvl, msg, ok := bytes.Cut(line, []byte{':'}); ok {
				if sev, err := entities.ParseSeverity(string(lvl)); err == nil {
					if sev > threshold {
						continue
					}
					entry.Level = sev
					entry.Payload = append([]byte(nil), msg...)
				}
			}
			if len(entry.Payload) == 0 {
				entry.Payload = nil
			}
			res.Entries = append(res.Entries, entry)
		}
	}
	return g
}
