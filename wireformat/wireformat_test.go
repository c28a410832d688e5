package wireformat

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/logweave/parserhost/domain/entities"
)

func TestDecodeOptions(t *testing.T) {
	opts := EncodeOptions(3, []byte(`{"log_level":"warn"}`))

	h, payload, err := DecodeOptions(opts)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), h.SchemaVersion)
	assert.Equal(t, uint32(20), h.PayloadLen)
	assert.JSONEq(t, `{"log_level":"warn"}`, string(payload))
}

func TestDecodeOptions_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want string
	}{
		{name: "empty", raw: nil, want: "shorter than"},
		{name: "shorter than header", raw: []byte{1, 0, 0, 0, 4}, want: "shorter than"},
		{name: "reserved version", raw: EncodeOptions(0, []byte("{}")).Raw, want: "reserved"},
		{name: "payload longer than declared", raw: append(EncodeOptions(1, []byte("{}")).Raw, 'x'), want: "declares 2"},
		{name: "payload shorter than declared", raw: EncodeOptions(1, []byte("{}")).Raw[:9], want: "declares 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeOptions(entities.ParseOptions{Raw: tt.raw})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestInputFrame(t *testing.T) {
	frame := EncodeInput([]byte("abc"))
	assert.Equal(t, []byte{3, 0, 0, 0, 'a', 'b', 'c'}, frame)

	chunk, ok := DecodeInput(frame)
	require.True(t, ok)
	assert.Equal(t, []byte("abc"), chunk)

	_, ok = DecodeInput(frame[:5])
	assert.False(t, ok)
}

func TestDecodeOutput(t *testing.T) {
	in := entities.ParseResult{
		NextState:     entities.NextNeedMoreInput,
		BytesConsumed: 42,
		Entries: []entities.LogEntry{
			{SourceTag: "ECU1", Payload: []byte("engine start"), Timestamp: 1700, HasTimestamp: true, Level: entities.SeverityWarn},
			{Payload: []byte{0xde, 0xad}, Binary: true},
		},
	}

	buf := EncodeOutput(in)
	assert.Equal(t, uint32(len(buf)-OutputPrefixSize), binary.LittleEndian.Uint32(buf))

	out, err := DecodeOutput(buf[OutputPrefixSize:])
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeOutput_Malformed(t *testing.T) {
	valid := EncodeOutput(entities.ParseResult{
		Entries: []entities.LogEntry{{SourceTag: "t", Payload: []byte("p"), Level: entities.SeverityInfo}},
	})[OutputPrefixSize:]

	mutate := func(f func(b []byte) []byte) []byte {
		b := append([]byte(nil), valid...)
		return f(b)
	}

	tests := []struct {
		name string
		body []byte
	}{
		{name: "short header", body: valid[:OutputHeaderSize-1]},
		{name: "bad version", body: mutate(func(b []byte) []byte { b[0] = 9; return b })},
		{name: "bad state", body: mutate(func(b []byte) []byte { b[1] = 7; return b })},
		{name: "reserved set", body: mutate(func(b []byte) []byte { b[2] = 1; return b })},
		{name: "count larger than body", body: mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[8:], 1<<30)
			return b
		})},
		{name: "count smaller than records", body: mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[8:], 0)
			return b
		})},
		{name: "record length out of bounds", body: mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[OutputHeaderSize:], 0xFFFFFF00)
			return b
		})},
		{name: "payload length mismatch", body: mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[OutputHeaderSize+RecordPrefixSize+12:], 99)
			return b
		})},
		{name: "unknown flag", body: mutate(func(b []byte) []byte {
			b[OutputHeaderSize+RecordPrefixSize] |= 0x80
			return b
		})},
		{name: "level out of range", body: mutate(func(b []byte) []byte {
			b[OutputHeaderSize+RecordPrefixSize+1] = 42
			return b
		})},
		{name: "truncated record", body: valid[:len(valid)-1]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeOutput(tt.body)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func entryGen() *rapid.Generator[entities.LogEntry] {
	return rapid.Custom(func(t *rapid.T) entities.LogEntry {
		e := entities.LogEntry{
			SourceTag: rapid.StringN(0, 8, 32).Draw(t, "tag"),
			Binary:    rapid.Bool().Draw(t, "binary"),
			Level:     entities.Severity(rapid.IntRange(0, int(entities.SeverityVerbose)).Draw(t, "level")),
		}
		if rapid.Bool().Draw(t, "has_ts") {
			e.HasTimestamp = true
			e.Timestamp = rapid.Uint64().Draw(t, "ts")
		}
		if payload := rapid.SliceOfN(rapid.Byte(), 0, 64).Draw(t, "payload"); len(payload) > 0 {
			e.Payload = payload
		}
		return e
	})
}

func TestOutput_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := entities.ParseResult{
			NextState:     entities.NextState(rapid.IntRange(0, 2).Draw(t, "state")),
			BytesConsumed: uint64(rapid.Uint32().Draw(t, "consumed")),
			Entries:       rapid.SliceOfN(entryGen(), 1, 8).Draw(t, "entries"),
		}

		buf := EncodeOutput(in)
		out, err := DecodeOutput(buf[OutputPrefixSize:])
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(out.Entries) != len(in.Entries) || out.NextState != in.NextState || out.BytesConsumed != in.BytesConsumed {
			t.Fatalf("header mismatch: got %+v want %+v", out, in)
		}
		for i := range in.Entries {
			assert.Equal(t, in.Entries[i], out.Entries[i])
		}
	})
}

func TestDecodeOutput_NeverPanics(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		body := rapid.SliceOfN(rapid.Byte(), 0, 256).Draw(t, "body")
		_, _ = DecodeOutput(body)
	})
}
