package wazero

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/logweave/parserhost/domain/entities"
	"github.com/logweave/parserhost/hostfuncs"
	"github.com/logweave/parserhost/internal/abi"
	"github.com/logweave/parserhost/internal/wasmtest"
	"github.com/logweave/parserhost/wireformat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

func TestDefaultAdapterConfig(t *testing.T) {
	cfg := defaultAdapterConfig()
	assert.Equal(t, abi.HostModule, cfg.ModuleName)
	assert.Equal(t, uint32(hostfuncs.DefaultMaxRequestSize), cfg.MaxRequestSize)

	WithModuleName("custom")(&cfg)
	WithMaxRequestSize(2048)(&cfg)
	assert.Equal(t, "custom", cfg.ModuleName)
	assert.Equal(t, uint32(2048), cfg.MaxRequestSize)
}

// instantiate runs a reactor guest against a host module wired with the given
// registry and handlers.
func instantiate(t *testing.T, g wasmtest.Guest, registry *hostfuncs.HandlerRegistry, opts ...AdapterOption) api.Module {
	t.Helper()
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	t.Cleanup(func() { _ = rt.Close(ctx) })

	require.NoError(t, RegisterWithRuntime(ctx, rt, registry, opts...))
	mod, err := rt.InstantiateWithConfig(ctx, g.Build(), wazero.NewModuleConfig().WithName("dlt").WithStartFunctions())
	require.NoError(t, err)
	_, err = mod.ExportedFunction(abi.ExportInitialize).Call(ctx)
	require.NoError(t, err)
	return mod
}

func parseOnce(t *testing.T, ctx context.Context, mod api.Module, chunk []byte) entities.ParseResult {
	t.Helper()
	frame := wireformat.EncodeInput(chunk)
	res, err := mod.ExportedFunction(abi.ExportAlloc).Call(ctx, uint64(len(frame)))
	require.NoError(t, err)
	ptr := uint32(res[0])
	require.True(t, mod.Memory().Write(ptr, frame))

	res, err = mod.ExportedFunction(abi.ExportParse).Call(ctx, uint64(ptr), uint64(len(frame)))
	require.NoError(t, err)
	out := uint32(res[0])
	prefix, ok := mod.Memory().Read(out, wireformat.OutputPrefixSize)
	require.True(t, ok)
	body, ok := mod.Memory().Read(out+wireformat.OutputPrefixSize, binary.LittleEndian.Uint32(prefix))
	require.True(t, ok)

	result, err := wireformat.DecodeOutput(body)
	require.NoError(t, err)
	return result
}

func TestReactorGuest_HostFunctions(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	fixed := time.Unix(1700000000, 42)

	dir := t.TempDir()
	fibex := filepath.Join(dir, "ecu1.xml")
	require.NoError(t, os.WriteFile(fibex, []byte("<fibex/>"), 0o600))
	access, err := hostfuncs.NewFileAccess([]string{fibex})
	require.NoError(t, err)
	registry, err := hostfuncs.NewRegistry(hostfuncs.WithBundle(hostfuncs.ReactorBundle(access, 0)))
	require.NoError(t, err)

	guestLog := NewGuestLogger(logger, 0, 1)
	mod := instantiate(t, wasmtest.Guest{Reactor: true, Parse: wasmtest.ParseReadFile, ReadPath: fibex}, registry,
		WithLogger(logger),
		WithCustomHandler(guestLog.Handler()),
		WithCustomHandler(GetTimeHandler(func() time.Time { return fixed })),
	)

	ctx := WithFormat(context.Background(), "dlt")
	result := parseOnce(t, ctx, mod, []byte("ignored"))
	require.Len(t, result.Entries, 1)

	entry := result.Entries[0]
	assert.True(t, entry.HasTimestamp)
	assert.Equal(t, uint64(fixed.UnixNano()), entry.Timestamp)

	var resp hostfuncs.ReadFileResponse
	require.NoError(t, json.Unmarshal(entry.Payload, &resp))
	require.Nil(t, resp.Error)
	assert.Equal(t, "<fibex/>", string(resp.Data))

	assert.Contains(t, logs.String(), wasmtest.LogMessage)
	assert.Contains(t, logs.String(), `"format":"dlt"`)
	assert.Contains(t, logs.String(), `"severity":"info"`)
}

func TestReactorGuest_ReadFileForbidden(t *testing.T) {
	registry, err := hostfuncs.NewRegistry(hostfuncs.WithBundle(hostfuncs.ReactorBundle(nil, 0)))
	require.NoError(t, err)

	mod := instantiate(t, wasmtest.Guest{Reactor: true, Parse: wasmtest.ParseReadFile, ReadPath: "/etc/passwd"}, registry,
		WithCustomHandler(NewGuestLogger(slog.New(slog.DiscardHandler), 0, 1).Handler()),
		WithCustomHandler(GetTimeHandler(nil)),
	)

	result := parseOnce(t, context.Background(), mod, []byte("x"))
	require.Len(t, result.Entries, 1)

	var resp hostfuncs.ReadFileResponse
	require.NoError(t, json.Unmarshal(result.Entries[0].Payload, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "FORBIDDEN", resp.Error.Error)
}

func TestGuestLogger_RateLimit(t *testing.T) {
	var logs bytes.Buffer
	guestLog := NewGuestLogger(slog.New(slog.NewTextHandler(&logs, nil)), 0.001, 1)
	registry, err := hostfuncs.NewRegistry(hostfuncs.WithBundle(hostfuncs.ReactorBundle(nil, 0)))
	require.NoError(t, err)

	mod := instantiate(t, wasmtest.Guest{Reactor: true}, registry,
		WithCustomHandler(guestLog.Handler()),
		WithCustomHandler(GetTimeHandler(nil)),
	)

	for range 3 {
		parseOnce(t, context.Background(), mod, []byte("abc"))
	}
	assert.Equal(t, uint64(2), guestLog.Dropped())
	assert.Equal(t, 1, bytes.Count(logs.Bytes(), []byte(wasmtest.LogMessage)))
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelError, slogLevel(entities.SeverityFatal))
	assert.Equal(t, slog.LevelWarn, slogLevel(entities.SeverityWarn))
	assert.Equal(t, slog.LevelDebug, slogLevel(entities.SeverityVerbose))
	assert.Equal(t, slog.LevelInfo, slogLevel(entities.Severity(42)))
}

func TestFormatContext(t *testing.T) {
	_, ok := FormatFromContext(context.Background())
	assert.False(t, ok)

	id, ok := FormatFromContext(WithFormat(context.Background(), "pcap"))
	assert.True(t, ok)
	assert.Equal(t, "pcap", id)
}
