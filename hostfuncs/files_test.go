package hostfuncs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestFileAccess(t *testing.T) {
	dir := t.TempDir()
	fibex := writeFile(t, dir, "fibex/ecu1.xml", "<fibex/>")
	other := writeFile(t, dir, "secret.txt", "nope")

	access, err := NewFileAccess([]string{filepath.Join(dir, "fibex", "**", "*.xml")})
	require.NoError(t, err)

	_, ok := access.Allowed(fibex)
	assert.True(t, ok)
	_, ok = access.Allowed(other)
	assert.False(t, ok)
	_, ok = access.Allowed(filepath.Join(dir, "fibex", "..", "secret.txt"))
	assert.False(t, ok)
	_, ok = access.Allowed("fibex/ecu1.xml")
	assert.False(t, ok, "relative paths are never granted")

	var empty *FileAccess
	assert.True(t, empty.Empty())
	_, ok = empty.Allowed(fibex)
	assert.False(t, ok)

	_, err = NewFileAccess([]string{"/tmp/[unclosed"})
	assert.Error(t, err)
}

func TestFileAccess_SymlinkEscape(t *testing.T) {
	dir := t.TempDir()
	granted := filepath.Join(dir, "granted")
	require.NoError(t, os.MkdirAll(granted, 0o755))
	outside := writeFile(t, dir, "outside.txt", "private")
	link := filepath.Join(granted, "link.txt")
	require.NoError(t, os.Symlink(outside, link))

	access, err := NewFileAccess([]string{filepath.Join(granted, "**")})
	require.NoError(t, err)

	_, ok := access.Allowed(link)
	assert.False(t, ok)
}

func TestPerformReadFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "ecu.xml", "0123456789")
	access, err := NewFileAccess([]string{path})
	require.NoError(t, err)
	ctx := context.Background()

	resp := PerformReadFile(ctx, access, 0, ReadFileRequest{Path: path})
	require.Nil(t, resp.Error)
	assert.Equal(t, "0123456789", string(resp.Data))
	assert.Equal(t, int64(10), resp.Size)
	assert.True(t, resp.EOF)

	resp = PerformReadFile(ctx, access, 4, ReadFileRequest{Path: path, Offset: 2})
	require.Nil(t, resp.Error)
	assert.Equal(t, "2345", string(resp.Data))
	assert.False(t, resp.EOF)

	resp = PerformReadFile(ctx, access, 0, ReadFileRequest{Path: path, Offset: 8, MaxBytes: 100})
	require.Nil(t, resp.Error)
	assert.Equal(t, "89", string(resp.Data))

	resp = PerformReadFile(ctx, access, 0, ReadFileRequest{Path: path, Offset: 50})
	require.Nil(t, resp.Error)
	assert.Empty(t, resp.Data)
	assert.True(t, resp.EOF)

	resp = PerformReadFile(ctx, access, 0, ReadFileRequest{Path: filepath.Join(dir, "other.xml")})
	require.NotNil(t, resp.Error)
	assert.Equal(t, "FORBIDDEN", resp.Error.Error)

	resp = PerformReadFile(ctx, access, 0, ReadFileRequest{})
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Error)
}

func TestReactorBundle_ReadFileJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "mtin.json", `{"a":1}`)
	access, err := NewFileAccess([]string{path})
	require.NoError(t, err)

	reg, err := NewRegistry(WithBundle(ReactorBundle(access, 0)))
	require.NoError(t, err)

	req, _ := json.Marshal(ReadFileRequest{Path: path})
	raw, err := reg.Invoke(context.Background(), ReadFileFunction, req)
	require.NoError(t, err)

	var resp ReadFileResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.Nil(t, resp.Error)
	assert.Equal(t, `{"a":1}`, string(resp.Data))
}
