package abi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackPtrLen(t *testing.T) {
	tests := []struct {
		name   string
		ptr    uint32
		length uint32
		want   uint64
	}{
		{name: "typical values", ptr: 0x12345678, length: 0xABCDEF00, want: (uint64(0x12345678) << PtrHighBits) | uint64(0xABCDEF00)},
		{name: "zero pointer zero length", ptr: 0, length: 0, want: 0},
		{name: "max pointer", ptr: 0xFFFFFFFF, length: 1, want: (uint64(0xFFFFFFFF) << PtrHighBits) | 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packed := PackPtrLen(tt.ptr, tt.length)
			assert.Equal(t, tt.want, packed)

			gotPtr, gotLen := UnpackPtrLen(packed)
			assert.Equal(t, tt.ptr, gotPtr)
			assert.Equal(t, tt.length, gotLen)
		})
	}
}

func TestHeader(t *testing.T) {
	v, err := DecodeHeader(EncodeHeader(1))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), v)

	_, err = DecodeHeader([]byte("PHA"))
	assert.ErrorContains(t, err, "want 8")

	_, err = DecodeHeader([]byte("XXXX\x01\x00\x00\x00"))
	assert.ErrorContains(t, err, "bad magic")
}

func TestSupported(t *testing.T) {
	assert.True(t, Supported(MinVersion))
	assert.True(t, Supported(MaxVersion))
	assert.False(t, Supported(0))
	assert.False(t, Supported(MaxVersion+1))
}

func BenchmarkPackPtrLen(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = PackPtrLen(0x12345678, 256)
	}
}
