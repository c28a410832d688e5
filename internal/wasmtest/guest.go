package wasmtest

import (
	"github.com/logweave/parserhost/internal/abi"
)

// ParseBehavior selects what the generated parse export does.
type ParseBehavior int

const (
	// ParseEcho returns one entry whose payload is the whole chunk.
	ParseEcho ParseBehavior = iota
	// ParseReadFile returns one entry whose payload is the read_file response
	// for Guest.ReadPath. Requires a reactor guest.
	ParseReadFile
	// ParseTrap executes unreachable.
	ParseTrap
	// ParseLoop never returns.
	ParseLoop
	// ParseOversized returns a result whose declared length exceeds memory.
	ParseOversized
	// ParseWildPointer returns a result pointer past the end of memory.
	ParseWildPointer
)

// Fixed layout of generated guests.
const (
	heapBase     = 16 << 10
	staticBase   = 1 << 10
	logMsgOffset = 2 << 10
	reqOffset    = 3 << 10

	// LogMessage is what reactor guests pass to write_log on every parse call.
	LogMessage = "parse called"

	// LogLevel is the severity reactor guests log LogMessage with (info).
	LogLevel = 4
)

// Guest describes a parser module to generate.
type Guest struct {
	// ReadPath is the file requested by ParseReadFile.
	ReadPath string

	// ExtraImport adds an import of "<module>.<name>" () -> ().
	ExtraImportModule string
	ExtraImportName   string

	// OmitExport drops the named export.
	OmitExport string

	// ABIVersion is written into the ABI header; zero means abi.MinVersion.
	ABIVersion uint32

	// ConfigureStatus is returned by configure.
	ConfigureStatus uint32

	Parse ParseBehavior

	// Reactor imports the host functions and exports _initialize; parse
	// traps if _initialize has not run.
	Reactor bool

	// OmitHeader leaves out the ABI header section.
	OmitHeader bool
}

// Build assembles the module.
func (g Guest) Build() []byte {
	m := New()

	if !g.OmitHeader {
		v := g.ABIVersion
		if v == 0 {
			v = abi.MinVersion
		}
		m.Custom(abi.HeaderSection, abi.EncodeHeader(v))
	}

	var readFile, writeLog, getTime uint32
	if g.Reactor {
		readFile = m.ImportFunc(abi.HostModule, abi.HostReadFile, []ValType{I64}, []ValType{I64})
		writeLog = m.ImportFunc(abi.HostModule, abi.HostWriteLog, []ValType{I32, I32, I32}, nil)
		getTime = m.ImportFunc(abi.HostModule, abi.HostGetTime, nil, []ValType{I64})
	}
	if g.ExtraImportModule != "" {
		m.ImportFunc(g.ExtraImportModule, g.ExtraImportName, nil, nil)
	}

	m.Memory(1)
	heap := m.GlobalI32(true, heapBase)
	ready := m.GlobalI32(true, 0)

	allocFn := m.Func([]ValType{I32}, []ValType{I32}, []ValType{I32}, allocBody(heap))
	deallocFn := m.Func([]ValType{I32, I32}, nil, nil)
	configureFn := m.Func([]ValType{I32, I32}, []ValType{I32}, nil, I32Const(int32(g.ConfigureStatus))) //nolint:gosec // G115: status codes are small

	var prologue, timestamp []byte
	tsFlag := byte(0)
	if g.Reactor {
		prologue = Body(
			GlobalGet(ready), I32Eqz, If, Unreachable, End,
			I32Const(LogLevel), I32Const(logMsgOffset), I32Const(int32(len(LogMessage))), Call(writeLog),
		)
		timestamp = Call(getTime)
		tsFlag = 1
		m.Data(logMsgOffset, []byte(LogMessage))
	}

	var parseBody []byte
	switch g.Parse {
	case ParseEcho:
		parseBody = Body(
			prologue,
			// n = consumed = len - 4; src = ptr + 4
			LocalGet(1), I32Const(4), I32Sub, LocalTee(2), LocalSet(5),
			LocalGet(0), I32Const(4), I32Add, LocalSet(4),
			emitSingleEntry(allocFn, tsFlag, timestamp),
		)
	case ParseReadFile:
		req := []byte(`{"path":"` + g.ReadPath + `"}`)
		m.Data(reqOffset, req)
		parseBody = Body(
			prologue,
			LocalGet(1), I32Const(4), I32Sub, LocalSet(5),
			I64Const(int64(abi.PackPtrLen(reqOffset, uint32(len(req))))), Call(readFile), LocalSet(6), //nolint:gosec // G115: test request is small
			LocalGet(6), I64Const(32), I64ShrU, I32WrapI64, LocalSet(4),
			LocalGet(6), I32WrapI64, LocalSet(2),
			emitSingleEntry(allocFn, tsFlag, timestamp),
		)
	case ParseTrap:
		parseBody = Body(prologue, Unreachable)
	case ParseLoop:
		parseBody = Body(prologue, Loop, Br(0), End, I32Const(0))
	case ParseOversized:
		m.Data(staticBase, []byte{0x00, 0xff, 0xff, 0xff})
		parseBody = Body(prologue, I32Const(staticBase))
	case ParseWildPointer:
		parseBody = Body(prologue, I32Const(-16))
	}
	parseFn := m.Func([]ValType{I32, I32}, []ValType{I32}, []ValType{I32, I32, I32, I32, I64}, parseBody)

	exports := map[string]uint32{
		abi.ExportAlloc:     allocFn,
		abi.ExportDealloc:   deallocFn,
		abi.ExportConfigure: configureFn,
		abi.ExportParse:     parseFn,
	}
	if g.Reactor {
		exports[abi.ExportInitialize] = m.Func(nil, nil, nil, I32Const(1), GlobalSet(ready))
	}
	for _, n := range []string{abi.ExportAlloc, abi.ExportDealloc, abi.ExportConfigure, abi.ExportParse, abi.ExportInitialize} {
		idx, ok := exports[n]
		if !ok || n == g.OmitExport {
			continue
		}
		m.ExportFunc(n, idx)
	}
	if g.OmitExport == abi.ExportMemory {
		m.exports = m.exports[1:]
	}

	return m.Bytes()
}

// allocBody is a bump allocator over global heap that grows memory as needed
// and returns 0 when memory.grow fails.
func allocBody(heap uint32) []byte {
	return Body(
		GlobalGet(heap), LocalSet(1),
		GlobalGet(heap), LocalGet(0), I32Add, GlobalSet(heap),
		Block,
		Loop,
		GlobalGet(heap), MemorySize, I32Const(16), I32Shl, I32LeU, BrIf(1),
		I32Const(1), MemoryGrow, I32Const(-1), I32Eq,
		If, I32Const(0), Return, End,
		Br(0),
		End,
		End,
		LocalGet(1),
	)
}

// emitSingleEntry writes a one-entry result whose payload is n bytes at src
// (locals 2 and 4) and whose bytes_consumed is local 5, then leaves the
// result pointer on the stack. Local 3 holds the result pointer.
func emitSingleEntry(allocFn uint32, flags byte, timestamp []byte) []byte {
	if timestamp == nil {
		timestamp = I64Const(0)
	}
	return Body(
		LocalGet(2), I32Const(36), I32Add, Call(allocFn), LocalTee(3),
		I32Eqz, If, I32Const(0), Return, End,
		// body_len = 32 + n
		LocalGet(3), LocalGet(2), I32Const(32), I32Add, I32Store(0),
		// version 1, state ready, reserved 0
		LocalGet(3), I32Const(1), I32Store(4),
		LocalGet(3), LocalGet(5), I32Store(8),
		LocalGet(3), I32Const(1), I32Store(12),
		// record_len = 16 + n
		LocalGet(3), LocalGet(2), I32Const(16), I32Add, I32Store(16),
		// flags, level 0, tag_len 0
		LocalGet(3), I32Const(int32(flags)), I32Store(20),
		LocalGet(3), timestamp, I64Store(24),
		LocalGet(3), LocalGet(2), I32Store(32),
		LocalGet(3), I32Const(36), I32Add, LocalGet(4), LocalGet(2), MemoryCopy,
		LocalGet(3),
	)
}
