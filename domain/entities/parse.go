package entities

import (
	"fmt"
	"strings"
)

// NextState is the state a guest reports after a parse call.
type NextState uint8

const (
	// NextReady means the chunk was handled and more input is welcome.
	NextReady NextState = iota
	// NextNeedMoreInput means the guest holds a partial record; the caller
	// must append further bytes to any unconsumed remainder.
	NextNeedMoreInput
	// NextExhausted means an end-of-stream marker was seen.
	NextExhausted
)

func (s NextState) String() string {
	switch s {
	case NextReady:
		return "ready"
	case NextNeedMoreInput:
		return "need_more_input"
	case NextExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("next_state(%d)", uint8(s))
	}
}

// Severity is a log level using DLT numbering. Zero means unset.
type Severity uint8

const (
	SeverityUnset Severity = iota
	SeverityFatal
	SeverityError
	SeverityWarn
	SeverityInfo
	SeverityDebug
	SeverityVerbose
)

var severityNames = map[Severity]string{
	SeverityFatal:   "fatal",
	SeverityError:   "error",
	SeverityWarn:    "warn",
	SeverityInfo:    "info",
	SeverityDebug:   "debug",
	SeverityVerbose: "verbose",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	if s == SeverityUnset {
		return ""
	}
	return fmt.Sprintf("severity(%d)", uint8(s))
}

// Valid reports whether s is unset or one of the known levels.
func (s Severity) Valid() bool {
	return s <= SeverityVerbose
}

// ParseSeverity converts a level name into a Severity.
func ParseSeverity(name string) (Severity, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "warning" {
		n = "warn"
	}
	for s, v := range severityNames {
		if v == n {
			return s, nil
		}
	}
	return SeverityUnset, fmt.Errorf("unknown severity %q", name)
}

// LogEntry is one structured record produced by a guest.
type LogEntry struct {
	SourceTag    string   `json:"source_tag,omitempty"`
	Payload      []byte   `json:"payload"`
	Timestamp    uint64   `json:"timestamp,omitempty"`
	HasTimestamp bool     `json:"has_timestamp,omitempty"`
	Level        Severity `json:"level,omitempty"`
	Binary       bool     `json:"binary,omitempty"`
}

// Text returns the payload as a string.
func (e LogEntry) Text() string {
	return string(e.Payload)
}

// ParseRequest is one chunk handed to a guest.
type ParseRequest struct {
	Chunk       []byte
	ChunkOffset uint64
}

// ParseResult is what a guest returns for one chunk.
type ParseResult struct {
	Entries       []LogEntry `json:"entries"`
	BytesConsumed uint64     `json:"bytes_consumed"`
	NextState     NextState  `json:"next_state"`
}
