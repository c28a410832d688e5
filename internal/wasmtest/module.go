// Package wasmtest assembles small WebAssembly modules byte by byte so tests
// can exercise the real runtime without a guest toolchain.
package wasmtest

import "bytes"

// ValType is a WebAssembly value type.
type ValType byte

const (
	I32 ValType = 0x7f
	I64 ValType = 0x7e
)

type funcType struct {
	params, results []ValType
}

type importFunc struct {
	module, name string
	typeIdx      uint32
}

type function struct {
	locals  []ValType
	body    []byte
	typeIdx uint32
}

type global struct {
	typ     ValType
	init    int64
	mutable bool
}

type export struct {
	name string
	kind byte
	idx  uint32
}

type dataSegment struct {
	data   []byte
	offset uint32
}

type customSection struct {
	name    string
	payload []byte
}

// Module collects the sections of a module under construction.
// Imports must be declared before functions so indices stay stable.
type Module struct {
	types    []funcType
	imports  []importFunc
	funcs    []function
	globals  []global
	exports  []export
	data     []dataSegment
	custom   []customSection
	memPages uint32
	hasMem   bool
}

// New returns an empty module.
func New() *Module {
	return &Module{}
}

func (m *Module) typeIndex(params, results []ValType) uint32 {
	for i, t := range m.types {
		if bytes.Equal(vt(t.params), vt(params)) && bytes.Equal(vt(t.results), vt(results)) {
			return uint32(i)
		}
	}
	m.types = append(m.types, funcType{params: params, results: results})
	return uint32(len(m.types) - 1)
}

// ImportFunc declares an imported function and returns its function index.
func (m *Module) ImportFunc(module, name string, params, results []ValType) uint32 {
	if len(m.funcs) > 0 {
		panic("wasmtest: imports must be declared before functions")
	}
	m.imports = append(m.imports, importFunc{module: module, name: name, typeIdx: m.typeIndex(params, results)})
	return uint32(len(m.imports) - 1)
}

// Func defines a function; body is the instruction stream without the final end.
func (m *Module) Func(params, results, locals []ValType, body ...[]byte) uint32 {
	m.funcs = append(m.funcs, function{
		typeIdx: m.typeIndex(params, results),
		locals:  locals,
		body:    Body(body...),
	})
	return uint32(len(m.imports) + len(m.funcs) - 1)
}

// ExportFunc exports function idx under name.
func (m *Module) ExportFunc(name string, idx uint32) {
	m.exports = append(m.exports, export{name: name, kind: 0x00, idx: idx})
}

// Memory declares memory 0 with min pages and exports it as "memory".
func (m *Module) Memory(minPages uint32) {
	m.memPages = minPages
	m.hasMem = true
	m.exports = append(m.exports, export{name: "memory", kind: 0x02, idx: 0})
}

// GlobalI32 declares an i32 global and returns its index.
func (m *Module) GlobalI32(mutable bool, init int32) uint32 {
	m.globals = append(m.globals, global{typ: I32, mutable: mutable, init: int64(init)})
	return uint32(len(m.globals) - 1)
}

// Data places bytes at offset in memory 0.
func (m *Module) Data(offset uint32, b []byte) {
	m.data = append(m.data, dataSegment{offset: offset, data: b})
}

// Custom adds a custom section.
func (m *Module) Custom(name string, payload []byte) {
	m.custom = append(m.custom, customSection{name: name, payload: payload})
}

// Bytes encodes the module.
func (m *Module) Bytes() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	for _, c := range m.custom {
		out = appendSection(out, 0, append(name(c.name), c.payload...))
	}

	if len(m.types) > 0 {
		body := uleb(uint64(len(m.types)))
		for _, t := range m.types {
			body = append(body, 0x60)
			body = append(body, vec(vt(t.params))...)
			body = append(body, vec(vt(t.results))...)
		}
		out = appendSection(out, 1, body)
	}

	if len(m.imports) > 0 {
		body := uleb(uint64(len(m.imports)))
		for _, imp := range m.imports {
			body = append(body, name(imp.module)...)
			body = append(body, name(imp.name)...)
			body = append(body, 0x00)
			body = append(body, uleb(uint64(imp.typeIdx))...)
		}
		out = appendSection(out, 2, body)
	}

	if len(m.funcs) > 0 {
		body := uleb(uint64(len(m.funcs)))
		for _, f := range m.funcs {
			body = append(body, uleb(uint64(f.typeIdx))...)
		}
		out = appendSection(out, 3, body)
	}

	if m.hasMem {
		body := []byte{0x01, 0x00}
		body = append(body, uleb(uint64(m.memPages))...)
		out = appendSection(out, 5, body)
	}

	if len(m.globals) > 0 {
		body := uleb(uint64(len(m.globals)))
		for _, g := range m.globals {
			mut := byte(0)
			if g.mutable {
				mut = 1
			}
			body = append(body, byte(g.typ), mut)
			body = append(body, I32Const(int32(g.init))...)
			body = append(body, 0x0b)
		}
		out = appendSection(out, 6, body)
	}

	if len(m.exports) > 0 {
		body := uleb(uint64(len(m.exports)))
		for _, e := range m.exports {
			body = append(body, name(e.name)...)
			body = append(body, e.kind)
			body = append(body, uleb(uint64(e.idx))...)
		}
		out = appendSection(out, 7, body)
	}

	if len(m.funcs) > 0 {
		body := uleb(uint64(len(m.funcs)))
		for _, f := range m.funcs {
			code := localGroups(f.locals)
			code = append(code, f.body...)
			code = append(code, 0x0b)
			body = append(body, uleb(uint64(len(code)))...)
			body = append(body, code...)
		}
		out = appendSection(out, 10, body)
	}

	if len(m.data) > 0 {
		body := uleb(uint64(len(m.data)))
		for _, d := range m.data {
			body = append(body, 0x00)
			body = append(body, I32Const(int32(d.offset))...) //nolint:gosec // G115: test offsets are small
			body = append(body, 0x0b)
			body = append(body, vec(d.data)...)
		}
		out = appendSection(out, 11, body)
	}

	return out
}

func localGroups(locals []ValType) []byte {
	var groups [][2]uint64
	for _, l := range locals {
		if n := len(groups); n > 0 && groups[n-1][1] == uint64(l) {
			groups[n-1][0]++
			continue
		}
		groups = append(groups, [2]uint64{1, uint64(l)})
	}
	out := uleb(uint64(len(groups)))
	for _, g := range groups {
		out = append(out, uleb(g[0])...)
		out = append(out, byte(g[1]))
	}
	return out
}

func appendSection(out []byte, id byte, body []byte) []byte {
	out = append(out, id)
	out = append(out, uleb(uint64(len(body)))...)
	return append(out, body...)
}

func vt(types []ValType) []byte {
	b := make([]byte, len(types))
	for i, t := range types {
		b[i] = byte(t)
	}
	return b
}

func vec(b []byte) []byte {
	return append(uleb(uint64(len(b))), b...)
}

func name(s string) []byte {
	return vec([]byte(s))
}

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}
