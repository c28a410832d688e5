// Package bridge marshals parse requests and options into guest memory and
// decodes guest results. It holds no state: every function is a transform
// over a ports.Sandbox, so it can be driven by a real instance or a fake.
//
// Memory ownership follows one rule: the host only writes into buffers the
// guest handed out through alloc, and every such buffer, as well as every
// result buffer, goes back through dealloc. The host never frees guest memory
// itself.
package bridge

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/logweave/parserhost/domain/entities"
	domainerrors "github.com/logweave/parserhost/domain/errors"
	"github.com/logweave/parserhost/domain/ports"
	"github.com/logweave/parserhost/internal/abi"
	"github.com/logweave/parserhost/wireformat"
)

// DefaultMaxOutputBytes bounds a decoded result when no limit is given.
const DefaultMaxOutputBytes = 64 << 20

// Options tune a bridge call.
type Options struct {
	// MaxOutputBytes caps the declared result length. Zero means DefaultMaxOutputBytes.
	MaxOutputBytes uint32

	// SchemaVersion is the options schema the plugin declares. Zero skips the check.
	SchemaVersion uint32
}

// Configure delivers an options blob to the guest. A structurally invalid
// blob is rejected before the guest is touched.
func Configure(ctx context.Context, sb ports.Sandbox, opts entities.ParseOptions, o Options) error {
	h, _, err := wireformat.DecodeOptions(opts)
	if err != nil {
		return &domainerrors.ConfigError{Kind: domainerrors.ConfigMalformedOptions, Err: err}
	}
	if o.SchemaVersion != 0 && h.SchemaVersion != o.SchemaVersion {
		return &domainerrors.ConfigError{
			Kind:   domainerrors.ConfigUnsupportedOption,
			Field:  "schema_version",
			Reason: fmt.Sprintf("plugin expects schema %d, got %d", o.SchemaVersion, h.SchemaVersion),
		}
	}

	ptr, size, err := place(ctx, sb, opts.Raw)
	if err != nil {
		return err
	}
	res, err := sb.Invoke(ctx, abi.ExportConfigure, uint64(ptr), uint64(size))
	if err != nil {
		return err
	}
	if err := sb.Dealloc(ctx, ptr, size); err != nil {
		return err
	}

	switch status := uint32(res[0]); status { //nolint:gosec // G115: i32 result
	case abi.StatusOK:
		return nil
	case abi.StatusMalformed:
		return &domainerrors.ConfigError{Kind: domainerrors.ConfigMalformedOptions, Reason: "rejected by plugin"}
	case abi.StatusUnsupported:
		return &domainerrors.ConfigError{Kind: domainerrors.ConfigUnsupportedOption, Reason: "rejected by plugin"}
	default:
		return &domainerrors.BridgeError{
			Kind:     domainerrors.BridgeMalformedOutput,
			Function: abi.ExportConfigure,
			Reason:   fmt.Sprintf("unknown status %d", status),
		}
	}
}

// Parse hands one chunk to the guest and decodes the result.
func Parse(ctx context.Context, sb ports.Sandbox, req entities.ParseRequest, o Options) (entities.ParseResult, error) {
	if uint64(len(req.Chunk)) > math.MaxUint32-wireformat.InputPrefixSize {
		return entities.ParseResult{}, fmt.Errorf("chunk of %d bytes exceeds the 32-bit address space", len(req.Chunk))
	}

	ptr, size, err := place(ctx, sb, wireformat.EncodeInput(req.Chunk))
	if err != nil {
		return entities.ParseResult{}, err
	}
	res, err := sb.Invoke(ctx, abi.ExportParse, uint64(ptr), uint64(size))
	if err != nil {
		return entities.ParseResult{}, err
	}
	if err := sb.Dealloc(ctx, ptr, size); err != nil {
		return entities.ParseResult{}, err
	}

	resultPtr := uint32(res[0]) //nolint:gosec // G115: wasm32 pointer
	result, resultSize, err := readResult(sb, resultPtr, o.maxOutput())
	if err != nil {
		return entities.ParseResult{}, err
	}
	if err := sb.Dealloc(ctx, resultPtr, resultSize); err != nil {
		return entities.ParseResult{}, err
	}

	if result.BytesConsumed > uint64(len(req.Chunk)) {
		return entities.ParseResult{}, malformed(fmt.Sprintf("guest consumed %d bytes of a %d byte chunk",
			result.BytesConsumed, len(req.Chunk)), nil)
	}
	return result, nil
}

// readResult validates the declared length against guest memory before
// reading the result buffer, so a hostile length never causes an out of
// bounds read or a huge allocation.
func readResult(sb ports.Sandbox, ptr, maxOutput uint32) (entities.ParseResult, uint32, error) {
	if ptr == 0 {
		return entities.ParseResult{}, 0, malformed("null result pointer", nil)
	}
	memSize := uint64(sb.MemorySize())
	if uint64(ptr)+wireformat.OutputPrefixSize > memSize {
		return entities.ParseResult{}, 0, malformed(fmt.Sprintf("result pointer %#x outside %d bytes of memory", ptr, memSize), nil)
	}
	prefix, err := sb.Read(ptr, wireformat.OutputPrefixSize)
	if err != nil {
		return entities.ParseResult{}, 0, malformed("read result length", err)
	}
	bodyLen := binary.LittleEndian.Uint32(prefix)
	end := uint64(ptr) + wireformat.OutputPrefixSize + uint64(bodyLen)
	if end > memSize {
		return entities.ParseResult{}, 0, malformed(fmt.Sprintf("declared result length %d exceeds guest memory (%d bytes at %#x)",
			bodyLen, memSize, ptr), nil)
	}
	if bodyLen > maxOutput {
		return entities.ParseResult{}, 0, malformed(fmt.Sprintf("declared result length %d exceeds limit %d", bodyLen, maxOutput), nil)
	}

	body, err := sb.Read(ptr+wireformat.OutputPrefixSize, bodyLen)
	if err != nil {
		return entities.ParseResult{}, 0, malformed("read result body", err)
	}
	result, err := wireformat.DecodeOutput(body)
	if err != nil {
		return entities.ParseResult{}, 0, malformed("decode result", err)
	}
	return result, wireformat.OutputPrefixSize + bodyLen, nil
}

// place copies data into a guest-allocated buffer. If the copy fails the
// buffer is handed back before the error is returned.
func place(ctx context.Context, sb ports.Sandbox, data []byte) (ptr, size uint32, err error) {
	size = uint32(len(data)) //nolint:gosec // G115: checked by callers
	ptr, err = sb.Alloc(ctx, size)
	if err != nil {
		return 0, 0, err
	}
	if err := sb.Write(ptr, data); err != nil {
		if derr := sb.Dealloc(ctx, ptr, size); derr != nil {
			err = errors.Join(err, derr)
		}
		return 0, 0, &domainerrors.BridgeError{
			Kind:     domainerrors.BridgeAllocationFailed,
			Function: abi.ExportAlloc,
			Reason:   fmt.Sprintf("allocated buffer %#x cannot hold %d bytes", ptr, size),
			Err:      err,
		}
	}
	return ptr, size, nil
}

func malformed(reason string, err error) error {
	var bridgeErr *domainerrors.BridgeError
	if errors.As(err, &bridgeErr) {
		return err
	}
	return &domainerrors.BridgeError{
		Kind:     domainerrors.BridgeMalformedOutput,
		Function: abi.ExportParse,
		Reason:   reason,
		Err:      err,
	}
}

func (o Options) maxOutput() uint32 {
	if o.MaxOutputBytes == 0 {
		return DefaultMaxOutputBytes
	}
	return o.MaxOutputBytes
}
