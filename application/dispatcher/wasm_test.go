package dispatcher_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logweave/parserhost/application/dispatcher"
	"github.com/logweave/parserhost/domain/entities"
	"github.com/logweave/parserhost/host"
	"github.com/logweave/parserhost/host/registry"
	"github.com/logweave/parserhost/internal/testutil"
	"github.com/logweave/parserhost/internal/wasmtest"
	"github.com/logweave/parserhost/wireformat"
)

func TestWasmEndToEnd(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	reg := registry.NewRegistry()
	register := func(format string, g wasmtest.Guest, limits entities.Limits) {
		path := filepath.Join(dir, format+".wasm")
		require.NoError(t, os.WriteFile(path, g.Build(), 0o600))
		require.NoError(t, reg.Register(entities.PluginDescriptor{
			FormatID:             format,
			Model:                entities.ModelImported,
			BinaryPath:           path,
			ABIVersion:           1,
			OptionsSchemaVersion: 1,
			Limits:               limits,
		}))
	}
	register("echo", wasmtest.Guest{}, entities.Limits{})
	register("spin", wasmtest.Guest{Parse: wasmtest.ParseLoop}, entities.Limits{InvokeTimeout: 50 * time.Millisecond})

	rt, err := host.NewRuntime()
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(ctx) })

	d, err := dispatcher.New(reg, host.NewLoader(rt))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Shutdown(ctx) })

	opts := wireformat.EncodeOptions(1, []byte(`{}`))

	t.Run("echo", func(t *testing.T) {
		id, err := d.OpenSource(ctx, "echo", opts)
		require.NoError(t, err)

		res, err := d.Feed(ctx, id, []byte("ECU1 hello"))
		require.NoError(t, err)
		require.Len(t, res.Entries, 1)
		assert.Equal(t, "ECU1 hello", res.Entries[0].Text())
		assert.Equal(t, uint64(10), res.BytesConsumed)
		require.NoError(t, d.Close(ctx, id))
	})

	t.Run("timeout", func(t *testing.T) {
		id, err := d.OpenSource(ctx, "spin", opts)
		require.NoError(t, err)

		start := time.Now()
		_, err = d.Feed(ctx, id, []byte("x"))
		testutil.RequireTimeout(t, err)
		assert.Less(t, time.Since(start), 5*time.Second)

		state, err := d.State(id)
		require.NoError(t, err)
		assert.Equal(t, entities.StateFaulted, state)
	})
}
