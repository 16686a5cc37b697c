package wren

// methodTable interns method signatures into a global, dense symbol
// space shared by every class in the VM: `foo(_)` always gets the
// same integer symbol, in class A or class Z, so a CALL instruction's
// symbol operand indexes every class's method vector uniformly,
// mirroring the teacher's pushString/stringsMap interning idiom used
// to intern capture and identifier names into one shared table.
type methodTable struct {
	names map[string]int
	list  []string
}

func newMethodTable() *methodTable {
	return &methodTable{names: map[string]int{}}
}

// ensure returns the symbol for signature, interning a new one if
// this is the first class to reference it.
func (t *methodTable) ensure(signature string) int {
	if id, ok := t.names[signature]; ok {
		return id
	}
	id := len(t.list)
	t.list = append(t.list, signature)
	t.names[signature] = id
	return id
}

// find returns the symbol for signature, or -1 if no class has ever
// declared or called it.
func (t *methodTable) find(signature string) int {
	if id, ok := t.names[signature]; ok {
		return id
	}
	return -1
}

func (t *methodTable) signature(symbol int) string {
	if symbol < 0 || symbol >= len(t.list) {
		return "<unknown>"
	}
	return t.list[symbol]
}

// method is one dense-vector slot in an ObjClass's method table: a
// primitive (Go closure), a foreign (host) binding, a compiled
// closure, or empty (unimplemented, dispatch falls through to
// methodNotFound in vm.go).
type methodKind int

const (
	methodNone methodKind = iota
	methodPrimitive
	methodForeign
	methodBlock
)

type primitiveFn func(vm *VM, fiber *Fiber, args []Value) (Value, bool)

type method struct {
	kind      methodKind
	primitive primitiveFn
	foreign   ForeignMethodFn
	closure   *ObjClosure
}
