package wasmtest

// Body concatenates instruction fragments.
func Body(instrs ...[]byte) []byte {
	var out []byte
	for _, in := range instrs {
		out = append(out, in...)
	}
	return out
}

const blockVoid = 0x40

func op(b ...byte) []byte { return b }

func withIdx(opcode byte, idx uint32) []byte {
	return append([]byte{opcode}, uleb(uint64(idx))...)
}

func memarg(opcode byte, align, offset uint32) []byte {
	out := []byte{opcode}
	out = append(out, uleb(uint64(align))...)
	return append(out, uleb(uint64(offset))...)
}

// Control instructions.
var (
	Unreachable = op(0x00)
	Block       = op(0x02, blockVoid)
	Loop        = op(0x03, blockVoid)
	If          = op(0x04, blockVoid)
	End         = op(0x0b)
	Return      = op(0x0f)
	Drop        = op(0x1a)
)

// Numeric and memory instructions.
var (
	MemorySize = op(0x3f, 0x00)
	MemoryGrow = op(0x40, 0x00)
	MemoryCopy = op(0xfc, 0x0a, 0x00, 0x00)
	I32Eqz     = op(0x45)
	I32Eq      = op(0x46)
	I32LeU     = op(0x4d)
	I32Add     = op(0x6a)
	I32Sub     = op(0x6b)
	I32Shl     = op(0x74)
	I64ShrU    = op(0x88)
	I32WrapI64 = op(0xa7)
)

func Br(depth uint32) []byte        { return withIdx(0x0c, depth) }
func BrIf(depth uint32) []byte      { return withIdx(0x0d, depth) }
func Call(fn uint32) []byte         { return withIdx(0x10, fn) }
func LocalGet(i uint32) []byte      { return withIdx(0x20, i) }
func LocalSet(i uint32) []byte      { return withIdx(0x21, i) }
func LocalTee(i uint32) []byte      { return withIdx(0x22, i) }
func GlobalGet(i uint32) []byte     { return withIdx(0x23, i) }
func GlobalSet(i uint32) []byte     { return withIdx(0x24, i) }
func I32Store(offset uint32) []byte { return memarg(0x36, 2, offset) }
func I64Store(offset uint32) []byte { return memarg(0x37, 3, offset) }

// I32Const pushes a 32-bit constant.
func I32Const(v int32) []byte {
	return append([]byte{0x41}, sleb(int64(v))...)
}

// I64Const pushes a 64-bit constant.
func I64Const(v int64) []byte {
	return append([]byte{0x42}, sleb(v)...)
}
