// Package testutil provides test doubles and assertions shared by the parser
// host's package tests.
package testutil

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/logweave/parserhost/domain/entities"
	domainerrors "github.com/logweave/parserhost/domain/errors"
	"github.com/logweave/parserhost/domain/ports"
	"github.com/logweave/parserhost/internal/abi"
	"github.com/logweave/parserhost/wireformat"
)

const (
	fakePageSize = 64 << 10
	fakeHeapBase = 1 << 10
)

// FakeGuest is an in-process guest that speaks the same memory handshake as
// a real module: buffers come from its own bump allocator and results are
// written into its own memory.
type FakeGuest struct {
	// Configure handles configure calls. Nil accepts any options.
	Configure func(schemaVersion uint32, payload []byte) uint32

	// Parse handles parse calls. Nil consumes the whole chunk without entries.
	Parse func(chunk []byte) entities.ParseResult

	// ParseRaw overrides Parse and returns the result pointer directly.
	ParseRaw func(g *FakeGuest, chunk []byte) uint32

	live map[uint32]uint32

	// TrapOn makes the named export fault.
	TrapOn string

	// HangOn makes the named export block until Budget expires.
	HangOn string

	model entities.ExecutionModel
	mem   []byte
	calls []string

	// Budget is the per-call execution budget.
	Budget time.Duration

	heap     uint32
	memLimit uint32

	// AllocFails makes alloc return 0.
	AllocFails bool

	// WriteFails makes host writes into guest memory fail.
	WriteFails bool

	faulted bool
	closed  bool
}

var _ ports.Sandbox = (*FakeGuest)(nil)

// NewFakeGuest returns an imported-model guest with one page of memory and
// a ceiling of limitPages pages (zero means 16).
func NewFakeGuest(limitPages uint32) *FakeGuest {
	if limitPages == 0 {
		limitPages = 16
	}
	return &FakeGuest{
		model:    entities.ModelImported,
		mem:      make([]byte, fakePageSize),
		heap:     fakeHeapBase,
		memLimit: limitPages * fakePageSize,
		live:     make(map[uint32]uint32),
		Budget:   time.Second,
	}
}

// WithModel sets the reported execution model.
func (g *FakeGuest) WithModel(m entities.ExecutionModel) *FakeGuest {
	g.model = m
	return g
}

// Model implements ports.Sandbox.
func (g *FakeGuest) Model() entities.ExecutionModel { return g.model }

// Calls returns the exports invoked so far, in order.
func (g *FakeGuest) Calls() []string { return append([]string(nil), g.calls...) }

// Live returns the number of buffers allocated and not yet released.
func (g *FakeGuest) Live() int { return len(g.live) }

// Closed reports whether Close was called.
func (g *FakeGuest) Closed() bool { return g.closed }

// Invoke implements ports.Sandbox.
func (g *FakeGuest) Invoke(ctx context.Context, function string, args ...uint64) ([]uint64, error) {
	if g.closed || g.faulted {
		return nil, fmt.Errorf("invoke %s: %w", function, domainerrors.ErrSessionClosed)
	}
	g.calls = append(g.calls, function)

	if function == g.TrapOn {
		g.faulted = true
		return nil, &domainerrors.GuestTrapError{Function: function, Err: errors.New("wasm error: unreachable")}
	}
	if function == g.HangOn {
		ctx, cancel := context.WithTimeout(ctx, g.Budget)
		defer cancel()
		<-ctx.Done()
		g.faulted = true
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &domainerrors.TimeoutError{Function: function, Budget: g.Budget}
		}
		return nil, &domainerrors.GuestTrapError{Function: function, Err: ctx.Err()}
	}

	switch function {
	case abi.ExportAlloc:
		return []uint64{uint64(g.allocate(uint32(args[0])))}, nil //nolint:gosec // G115: wasm32 arguments
	case abi.ExportDealloc:
		delete(g.live, uint32(args[0])) //nolint:gosec // G115: wasm32 arguments
		return nil, nil
	case abi.ExportConfigure:
		return []uint64{uint64(g.configure(uint32(args[0]), uint32(args[1])))}, nil //nolint:gosec // G115: wasm32 arguments
	case abi.ExportParse:
		return []uint64{uint64(g.parse(uint32(args[0]), uint32(args[1])))}, nil //nolint:gosec // G115: wasm32 arguments
	default:
		g.faulted = true
		return nil, &domainerrors.GuestTrapError{Function: function, Err: errors.New("export not found")}
	}
}

// Alloc implements ports.Sandbox.
func (g *FakeGuest) Alloc(ctx context.Context, size uint32) (uint32, error) {
	res, err := g.Invoke(ctx, abi.ExportAlloc, uint64(size))
	if err != nil {
		return 0, err
	}
	ptr := uint32(res[0]) //nolint:gosec // G115: wasm32 pointer
	if ptr == 0 {
		return 0, &domainerrors.BridgeError{
			Kind:     domainerrors.BridgeAllocationFailed,
			Function: abi.ExportAlloc,
			Reason:   fmt.Sprintf("guest could not allocate %d bytes", size),
		}
	}
	return ptr, nil
}

// Dealloc implements ports.Sandbox.
func (g *FakeGuest) Dealloc(ctx context.Context, ptr, size uint32) error {
	_, err := g.Invoke(ctx, abi.ExportDealloc, uint64(ptr), uint64(size))
	return err
}

// Read implements ports.Sandbox.
func (g *FakeGuest) Read(ptr, size uint32) ([]byte, error) {
	if uint64(ptr)+uint64(size) > uint64(len(g.mem)) {
		return nil, fmt.Errorf("memory read out of bounds at ptr=%d len=%d", ptr, size)
	}
	out := make([]byte, size)
	copy(out, g.mem[ptr:])
	return out, nil
}

// Write implements ports.Sandbox.
func (g *FakeGuest) Write(ptr uint32, data []byte) error {
	if g.WriteFails {
		return fmt.Errorf("memory write rejected at ptr=%d", ptr)
	}
	if uint64(ptr)+uint64(len(data)) > uint64(len(g.mem)) {
		return fmt.Errorf("memory write out of bounds at ptr=%d len=%d", ptr, len(data))
	}
	copy(g.mem[ptr:], data)
	return nil
}

// MemorySize implements ports.Sandbox.
func (g *FakeGuest) MemorySize() uint32 { return uint32(len(g.mem)) } //nolint:gosec // G115: bounded by memLimit

// Faulted implements ports.Sandbox.
func (g *FakeGuest) Faulted() bool { return g.faulted }

// Close implements ports.Sandbox.
func (g *FakeGuest) Close(context.Context) error {
	g.closed = true
	return nil
}

// Place copies data into freshly allocated guest memory and returns its address.
func (g *FakeGuest) Place(data []byte) uint32 {
	ptr := g.allocate(uint32(len(data))) //nolint:gosec // G115: test data is small
	if ptr != 0 {
		copy(g.mem[ptr:], data)
	}
	return ptr
}

func (g *FakeGuest) allocate(size uint32) uint32 {
	if g.AllocFails {
		return 0
	}
	end := uint64(g.heap) + uint64(size)
	if end > uint64(g.memLimit) {
		return 0
	}
	for end > uint64(len(g.mem)) {
		g.mem = append(g.mem, make([]byte, fakePageSize)...)
	}
	ptr := g.heap
	g.heap = uint32(end)
	g.live[ptr] = size
	return ptr
}

func (g *FakeGuest) configure(ptr, size uint32) uint32 {
	h, payload, err := wireformat.DecodeOptions(entities.ParseOptions{Raw: g.mem[ptr : ptr+size]})
	if err != nil {
		return abi.StatusMalformed
	}
	if g.Configure == nil {
		return abi.StatusOK
	}
	return g.Configure(h.SchemaVersion, payload)
}

func (g *FakeGuest) parse(ptr, size uint32) uint32 {
	frame := make([]byte, size)
	copy(frame, g.mem[ptr:ptr+size])
	chunk, ok := wireformat.DecodeInput(frame)
	if !ok {
		return 0
	}
	if g.ParseRaw != nil {
		return g.ParseRaw(g, chunk)
	}
	res := entities.ParseResult{BytesConsumed: uint64(len(chunk))}
	if g.Parse != nil {
		res = g.Parse(chunk)
	}
	return g.Place(wireformat.EncodeOutput(res))
}

// PlaceRawResult writes a result buffer whose u32 length prefix is declared
// instead of computed, followed by body.
func PlaceRawResult(g *FakeGuest, declared uint32, body []byte) uint32 {
	buf := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(buf, declared)
	copy(buf[4:], body)
	return g.Place(buf)
}
