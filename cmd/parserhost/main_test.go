package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/logweave/parserhost/domain/errors"
	"github.com/logweave/parserhost/internal/wasmtest"
)

const echoManifest = `format: echo
abi_version: 1
model: imported
binary: echo.wasm
options_schema: 1
description: Echoes every chunk as one entry
`

// pluginDir lays out <dir>/echo/{plugin.yaml,echo.wasm}.
func pluginDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	pdir := filepath.Join(dir, "echo")
	require.NoError(t, os.MkdirAll(pdir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pdir, "plugin.yaml"), []byte(echoManifest), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(pdir, "echo.wasm"), wasmtest.Guest{}.Build(), 0o600))
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestFormatsCommand(t *testing.T) {
	out, err := run(t, "formats", "--plugins", pluginDir(t))
	require.NoError(t, err)
	assert.Contains(t, out, "echo")
	assert.Contains(t, out, "imported")
	assert.Contains(t, out, "Echoes every chunk")
}

func TestFormatsCommand_JSON(t *testing.T) {
	out, err := run(t, "formats", "--plugins", pluginDir(t), "-o", "json")
	require.NoError(t, err)

	var formats []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &formats))
	require.Len(t, formats, 1)
	assert.Equal(t, "echo", formats[0]["format"])
}

func TestFormatsCommand_Empty(t *testing.T) {
	out, err := run(t, "formats", "--plugins", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "(no plugins)")
}

func TestSchemaCommand(t *testing.T) {
	out, err := run(t, "schema", "dlt", "--plugins", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, `"log_level"`)
	assert.Contains(t, out, `"verbose"`)

	_, err = run(t, "schema", "syslog", "--plugins", t.TempDir())
	assert.ErrorContains(t, err, "no typed options")
}

func TestParseCommand(t *testing.T) {
	plugins := pluginDir(t)
	logFile := filepath.Join(t.TempDir(), "ecu.log")
	require.NoError(t, os.WriteFile(logFile, []byte("hello world"), 0o600))

	out, err := run(t, "parse", "--plugins", plugins, "--format", "echo", "-o", "jsonl", logFile)
	require.NoError(t, err)
	assert.Contains(t, out, `"message":"hello world"`)

	out, err = run(t, "parse", "--plugins", plugins, "--format", "echo", logFile)
	require.NoError(t, err)
	assert.Contains(t, out, "hello world")
}

func TestParseCommand_Errors(t *testing.T) {
	plugins := pluginDir(t)
	logFile := filepath.Join(t.TempDir(), "ecu.log")
	require.NoError(t, os.WriteFile(logFile, []byte("x"), 0o600))

	_, err := run(t, "parse", "--plugins", plugins, "--format", "foo", logFile)
	assert.ErrorIs(t, err, domainerrors.ErrUnknownFormat)

	_, err = run(t, "parse", "--plugins", plugins, "--format", "echo", "-o", "xml", logFile)
	assert.ErrorContains(t, err, "unsupported output format")

	_, err = run(t, "parse", "--plugins", plugins, "--format", "echo", filepath.Join(t.TempDir(), "missing.log"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFormatsCommand_ManifestVars(t *testing.T) {
	dir := t.TempDir()
	pdir := filepath.Join(dir, "dlt")
	require.NoError(t, os.MkdirAll(pdir, 0o755))
	manifest := "format: dlt\nabi_version: 1\nmodel: imported\nbinary: dlt.wasm\noptions_schema: 1\ndescription: \"{{.vars.vendor}} DLT\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(pdir, "plugin.yaml"), []byte(manifest), 0o600))

	out, err := run(t, "formats", "--plugins", dir, "--manifest-var", "vendor=Acme")
	require.NoError(t, err)
	assert.Contains(t, out, "Acme DLT")
}
