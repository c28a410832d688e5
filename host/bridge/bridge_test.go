package bridge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/logweave/parserhost/domain/entities"
	domainerrors "github.com/logweave/parserhost/domain/errors"
	"github.com/logweave/parserhost/internal/abi"
	"github.com/logweave/parserhost/internal/testutil"
	"github.com/logweave/parserhost/wireformat"
)

func TestConfigure(t *testing.T) {
	ctx := context.Background()
	g := testutil.NewLineGuest(1)

	err := Configure(ctx, g, wireformat.EncodeOptions(1, []byte(`{"log_level":"warn"}`)), Options{SchemaVersion: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"alloc", "configure", "dealloc"}, g.Calls())
	assert.Zero(t, g.Live())
}

func TestConfigure_ShortBlobNeverReachesGuest(t *testing.T) {
	g := testutil.NewFakeGuest(0)

	err := Configure(context.Background(), g, entities.ParseOptions{Raw: []byte{1, 0, 0}}, Options{})
	testutil.RequireConfigError(t, err, domainerrors.ConfigMalformedOptions)
	assert.Empty(t, g.Calls())
}

func TestConfigure_SchemaMismatch(t *testing.T) {
	g := testutil.NewFakeGuest(0)

	err := Configure(context.Background(), g, wireformat.EncodeOptions(2, []byte(`{}`)), Options{SchemaVersion: 1})
	cfgErr := testutil.RequireConfigError(t, err, domainerrors.ConfigUnsupportedOption)
	assert.Equal(t, "schema_version", cfgErr.Field)
	assert.Empty(t, g.Calls())
}

func TestConfigure_GuestStatus(t *testing.T) {
	tests := []struct {
		check  func(t *testing.T, err error)
		name   string
		status uint32
	}{
		{name: "malformed", status: abi.StatusMalformed, check: func(t *testing.T, err error) {
			testutil.RequireConfigError(t, err, domainerrors.ConfigMalformedOptions)
		}},
		{name: "unsupported", status: abi.StatusUnsupported, check: func(t *testing.T, err error) {
			testutil.RequireConfigError(t, err, domainerrors.ConfigUnsupportedOption)
		}},
		{name: "unknown status", status: 77, check: func(t *testing.T, err error) {
			testutil.RequireBridgeError(t, err, domainerrors.BridgeMalformedOutput)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := testutil.NewFakeGuest(0)
			g.Configure = func(uint32, []byte) uint32 { return tt.status }

			err := Configure(context.Background(), g, wireformat.EncodeOptions(1, []byte(`{}`)), Options{})
			tt.check(t, err)
			assert.Zero(t, g.Live())
		})
	}
}

func TestParse(t *testing.T) {
	ctx := context.Background()
	g := testutil.NewLineGuest(1)
	require.NoError(t, Configure(ctx, g, wireformat.EncodeOptions(1, []byte(`{"log_level":"info","tag":"ecu"}`)), Options{}))

	res, err := Parse(ctx, g, entities.ParseRequest{Chunk: []byte("info:boot\ndebug:noise\nwarn:hot\npart")}, Options{})
	require.NoError(t, err)

	require.Len(t, res.Entries, 2)
	assert.Equal(t, "boot", res.Entries[0].Text())
	assert.Equal(t, entities.SeverityInfo, res.Entries[0].Level)
	assert.Equal(t, "ecu", res.Entries[0].SourceTag)
	assert.Equal(t, "hot", res.Entries[1].Text())
	assert.Equal(t, uint64(31), res.BytesConsumed)
	assert.Equal(t, entities.NextNeedMoreInput, res.NextState)
	assert.Zero(t, g.Live(), "input and result buffers must be released")
}

func TestParse_OversizedDeclaredLength(t *testing.T) {
	g := testutil.NewFakeGuest(1)
	g.ParseRaw = func(g *testutil.FakeGuest, _ []byte) uint32 {
		return testutil.PlaceRawResult(g, 0xFFFFFF00, []byte{1, 0, 0, 0})
	}

	_, err := Parse(context.Background(), g, entities.ParseRequest{Chunk: []byte("x")}, Options{})
	bridgeErr := testutil.RequireBridgeError(t, err, domainerrors.BridgeMalformedOutput)
	assert.Contains(t, bridgeErr.Reason, "exceeds guest memory")
}

func TestParse_MalformedResults(t *testing.T) {
	tests := []struct {
		raw  func(g *testutil.FakeGuest, chunk []byte) uint32
		name string
	}{
		{name: "null pointer", raw: func(*testutil.FakeGuest, []byte) uint32 { return 0 }},
		{name: "pointer past memory", raw: func(g *testutil.FakeGuest, _ []byte) uint32 { return g.MemorySize() - 2 }},
		{name: "garbage body", raw: func(g *testutil.FakeGuest, _ []byte) uint32 {
			return testutil.PlaceRawResult(g, 3, []byte{9, 9, 9})
		}},
		{name: "consumed more than supplied", raw: func(g *testutil.FakeGuest, chunk []byte) uint32 {
			return g.Place(wireformat.EncodeOutput(entities.ParseResult{BytesConsumed: uint64(len(chunk)) + 1}))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := testutil.NewFakeGuest(0)
			g.ParseRaw = tt.raw

			_, err := Parse(context.Background(), g, entities.ParseRequest{Chunk: []byte("abc")}, Options{})
			testutil.RequireBridgeError(t, err, domainerrors.BridgeMalformedOutput)
		})
	}
}

func TestParse_OutputLimit(t *testing.T) {
	g := testutil.NewFakeGuest(0)
	g.Parse = func(chunk []byte) entities.ParseResult {
		return entities.ParseResult{BytesConsumed: uint64(len(chunk)), Entries: []entities.LogEntry{{Payload: chunk}}}
	}

	_, err := Parse(context.Background(), g, entities.ParseRequest{Chunk: make([]byte, 256)}, Options{MaxOutputBytes: 64})
	bridgeErr := testutil.RequireBridgeError(t, err, domainerrors.BridgeMalformedOutput)
	assert.Contains(t, bridgeErr.Reason, "exceeds limit")
}

func TestParse_AllocationFailed(t *testing.T) {
	g := testutil.NewFakeGuest(1)

	_, err := Parse(context.Background(), g, entities.ParseRequest{Chunk: make([]byte, 128<<10)}, Options{})
	testutil.RequireBridgeError(t, err, domainerrors.BridgeAllocationFailed)
	assert.Equal(t, []string{"alloc"}, g.Calls())
}

func TestParse_WriteFailureReturnsBuffer(t *testing.T) {
	g := testutil.NewFakeGuest(0)
	g.WriteFails = true

	_, err := Parse(context.Background(), g, entities.ParseRequest{Chunk: []byte("x")}, Options{})
	testutil.RequireBridgeError(t, err, domainerrors.BridgeAllocationFailed)
	assert.Equal(t, []string{"alloc", "dealloc"}, g.Calls())
	assert.Zero(t, g.Live())
}

func TestParse_TrapPropagates(t *testing.T) {
	g := testutil.NewFakeGuest(0)
	g.TrapOn = abi.ExportParse

	_, err := Parse(context.Background(), g, entities.ParseRequest{Chunk: []byte("x")}, Options{})
	testutil.RequireTrap(t, err)
	assert.True(t, g.Faulted())

	_, err = Parse(context.Background(), g, entities.ParseRequest{Chunk: []byte("x")}, Options{})
	assert.True(t, errors.Is(err, domainerrors.ErrSessionClosed))
}

func TestParse_ConsumedNeverExceedsChunk(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		g := testutil.NewLineGuest(1)
		lines := rapid.SliceOfN(rapid.SampledFrom([]string{"info:a", "warn:bb", "debug:ccc", "plain"}), 0, 10).Draw(t, "lines")
		var chunk []byte
		for _, l := range lines {
			chunk = append(chunk, l...)
			chunk = append(chunk, '\n')
		}
		chunk = append(chunk, rapid.SliceOfN(rapid.Byte(), 0, 8).Draw(t, "tail")...)

		res, err := Parse(context.Background(), g, entities.ParseRequest{Chunk: chunk}, Options{})
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if res.BytesConsumed > uint64(len(chunk)) {
			t.Fatalf("consumed %d of %d", res.BytesConsumed, len(chunk))
		}
	})
}
