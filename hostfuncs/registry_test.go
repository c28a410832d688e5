package hostfuncs

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_Empty(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)
	assert.Empty(t, reg.Names())
	assert.False(t, reg.Has(ReadFileFunction))
}

func TestNewRegistry_Duplicate(t *testing.T) {
	h := func(ctx context.Context, payload []byte) ([]byte, error) { return nil, nil }

	_, err := NewRegistry(WithByteHandler("read_file", h), WithByteHandler("read_file", h))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate handler name")

	_, err = NewRegistry(WithByteHandler("", h))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be empty")
}

func TestRegistry_Invoke_NotFound(t *testing.T) {
	reg, err := NewRegistry(WithBundle(ReactorBundle(nil, 0)))
	require.NoError(t, err)
	assert.Equal(t, []string{ReadFileFunction}, reg.Names())

	resp, err := reg.Invoke(context.Background(), "dns_lookup", nil)
	require.NoError(t, err)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(resp, &errResp))
	assert.Equal(t, "NOT_FOUND", errResp.Error)
	assert.Equal(t, 404, errResp.Code)
}

func TestWithHandler_MalformedRequest(t *testing.T) {
	type echo struct {
		V int `json:"v"`
	}
	reg, err := NewRegistry(WithHandler("echo", func(ctx context.Context, req echo) echo { return req }))
	require.NoError(t, err)

	resp, err := reg.Invoke(context.Background(), "echo", []byte(`{"v":7}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":7}`, string(resp))

	resp, err = reg.Invoke(context.Background(), "echo", []byte(`{`))
	require.NoError(t, err)
	assert.Contains(t, string(resp), "VALIDATION_ERROR")
}
