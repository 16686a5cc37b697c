package wren

// ObjFn is an immutable compiled function body: the code the
// compiler emitted for it, the debug line matching each code byte,
// the constants it references, and the shape (arity, slot count,
// upvalue count) the VM needs to set up a call frame for it. It
// mirrors the teacher's Program container, generalized from a single
// whole-grammar program to one compiled unit per function/method/block.
type ObjFn struct {
	objHeader
	Module    *ObjModule
	Code      []byte
	Lines     []int
	Constants []Value
	Arity     int
	MaxSlots  int
	NumUpvalues int
	DebugName string
}

func (*ObjFn) valueTypeName() string { return "Function" }

func newFn(module *ObjModule, debugName string) *ObjFn {
	return &ObjFn{Module: module, DebugName: debugName}
}

// upvalueRef records, for one slot in a closure's upvalue array,
// whether that slot should be captured from the enclosing function's
// local stack slot (isLocal) or copied from the enclosing function's
// own upvalue array (the compiler resolves this once at compile
// time; see compiler.go's resolveUpvalue).
type upvalueRef struct {
	index    int
	isLocal  bool
}

// ObjClosure pairs an ObjFn with the upvalues it closed over at the
// point the CLOSURE instruction created it.
type ObjClosure struct {
	objHeader
	Fn       *ObjFn
	Upvalues []*ObjUpvalue
}

func (*ObjClosure) valueTypeName() string { return "Closure" }

func newClosure(fn *ObjFn) *ObjClosure {
	return &ObjClosure{Fn: fn, Upvalues: make([]*ObjUpvalue, fn.NumUpvalues)}
}

// callFrame is one activation record on a fiber's frame stack: the
// running closure, the instruction pointer into its code, and the
// base index into the fiber's value stack where this call's slot 0
// (the receiver, or the function itself for a bare fn call) lives.
type callFrame struct {
	closure *ObjClosure
	ip      int
	base    int
}
