package entities

import "fmt"

// SessionID identifies an open source within a dispatcher.
type SessionID uint64

func (id SessionID) String() string {
	return fmt.Sprintf("s-%d", uint64(id))
}

// SessionState is the lifecycle state of a plugin session.
type SessionState uint8

const (
	StateCreated SessionState = iota
	StateReady
	StateParsing
	StateNeedMoreInput
	StateExhausted
	StateFaulted
	StateClosed
)

var sessionStateNames = [...]string{
	StateCreated:       "created",
	StateReady:         "ready",
	StateParsing:       "parsing",
	StateNeedMoreInput: "need_more_input",
	StateExhausted:     "exhausted",
	StateFaulted:       "faulted",
	StateClosed:        "closed",
}

func (s SessionState) String() string {
	if int(s) < len(sessionStateNames) {
		return sessionStateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Terminal reports whether no further parse calls can succeed.
func (s SessionState) Terminal() bool {
	return s == StateFaulted || s == StateClosed
}

// SessionStats counts parse activity for one session.
type SessionStats struct {
	Calls         uint64 `json:"calls"`
	PluginCalls   uint64 `json:"plugin_calls"`
	EntriesParsed uint64 `json:"entries_parsed"`
	BytesConsumed uint64 `json:"bytes_consumed"`
	Incomplete    uint64 `json:"incomplete"`
	Exhausted     uint64 `json:"exhausted"`
	Errors        uint64 `json:"errors"`
}
