package wren

import "fmt"

// Tunables is a flat namespace of scalar settings. The gc.* entries
// are read by the garbage collector; the compiler.* entries record
// the compiler's limits, which the compiler itself takes from the
// constants in opcodes.go rather than from here. It is intentionally separate from
// Configuration: callbacks can't live in a scalar-valued map, and
// these values are meant to be cheap to read on every allocation or
// compile, not dispatched through function pointers.
type Tunables map[string]*tunableVal

// NewTunables creates a settings object primed with every default the
// compiler and collector expect to find.
func NewTunables() *Tunables {
	m := make(Tunables)
	m.SetInt("gc.initial_heap_bytes", 1024*1024)
	m.SetInt("gc.min_heap_bytes", 1024*1024)
	m.SetInt("gc.heap_grow_percent", 50)
	m.SetBool("gc.stress", false)
	m.SetInt("compiler.max_locals", maxLocals)
	m.SetInt("compiler.max_upvalues", maxUpvalues)
	m.SetInt("compiler.max_fields", maxFields)
	m.SetInt("compiler.max_interpolation_nesting", maxInterpolationNesting)
	return &m
}

type tunableValType int

const (
	tunableUndefined tunableValType = iota
	tunableBool
	tunableInt
	tunableString
)

func (vt tunableValType) String() string {
	return map[tunableValType]string{
		tunableUndefined: "undefined",
		tunableBool:      "bool",
		tunableInt:       "int",
		tunableString:    "string",
	}[vt]
}

type tunableVal struct {
	typ      tunableValType
	asBool   bool
	asInt    int
	asString string
}

func (v *tunableVal) assignType(vt tunableValType) {
	if v.typ != vt && v.typ != tunableUndefined {
		panic(fmt.Sprintf("can't assign `%s` to tunable of type `%s`", vt, v.typ))
	}
	v.typ = vt
}

func (v *tunableVal) checkType(vt tunableValType) {
	if v.typ != vt {
		panic(fmt.Sprintf("can't retrieve `%s` from `%s` tunable", vt, v.typ))
	}
}

func (c *Tunables) SetBool(path string, v bool) {
	(*c)[path] = &tunableVal{}
	(*c)[path].assignType(tunableBool)
	(*c)[path].asBool = v
}

func (c *Tunables) SetInt(path string, v int) {
	(*c)[path] = &tunableVal{}
	(*c)[path].assignType(tunableInt)
	(*c)[path].asInt = v
}

func (c *Tunables) SetString(path string, v string) {
	(*c)[path] = &tunableVal{}
	(*c)[path].assignType(tunableString)
	(*c)[path].asString = v
}

func (c *Tunables) GetBool(path string) bool {
	if val, ok := (*c)[path]; ok {
		val.checkType(tunableBool)
		return val.asBool
	}
	panic(fmt.Sprintf("bool tunable `%s` does not exist", path))
}

func (c *Tunables) GetInt(path string) int {
	if val, ok := (*c)[path]; ok {
		val.checkType(tunableInt)
		return val.asInt
	}
	panic(fmt.Sprintf("int tunable `%s` does not exist", path))
}

func (c *Tunables) GetString(path string) string {
	if val, ok := (*c)[path]; ok {
		val.checkType(tunableString)
		return val.asString
	}
	panic(fmt.Sprintf("string tunable `%s` does not exist", path))
}

// Configuration holds the host callbacks a VM is created with. All
// fields are optional; a nil callback means the corresponding
// capability silently does nothing (Write/Error) or fails resolution
// (modules, foreign bindings).
type Configuration struct {
	// ResolveModule maps an import written in `importer` to a
	// canonical module name; returning false fails the import. A nil
	// ResolveModule leaves names unresolved (the requested name is
	// used verbatim).
	ResolveModule func(importer, name string) (string, bool)

	// LoadModule returns the source text for a canonical module
	// name, plus an optional callback invoked once the VM has
	// compiled that source (whether or not compilation succeeded),
	// before the module body runs.
	LoadModule func(name string) (source string, onComplete func(), ok bool)

	// BindForeignMethod resolves a foreign method declared in a
	// class body to a native Go function.
	BindForeignMethod func(module, className string, isStatic bool, signature string) ForeignMethodFn

	// BindForeignClass resolves the allocator (and optional
	// finalizer) for a `foreign class` declaration.
	BindForeignClass func(module, className string) (allocate ForeignAllocateFn, finalize ForeignFinalizeFn)

	// Write is called for `System.print`/`System.write` output.
	Write func(vm *VM, text string)

	// Error is called for every compile error, the single runtime
	// error of an uncaught abort, and each stack trace frame that
	// follows it.
	Error func(vm *VM, kind ErrorKind, module string, line int, message string)

	Tunables *Tunables
}

// ForeignMethodFn is a native method body bound through
// BindForeignMethod. It receives the slot array for the active call;
// slot 0 is the receiver, slots 1..N are the arguments.
type ForeignMethodFn func(slots *Slots)

// ForeignAllocateFn constructs and returns the payload for a new
// Foreign instance; foreign methods read it back through
// Slots.GetForeign.
type ForeignAllocateFn func(slots *Slots) any

// ForeignFinalizeFn is invoked once with a Foreign object's payload,
// by Go's runtime finalizer after the object becomes unreachable
// (gc.go's trackForeign).
type ForeignFinalizeFn func(data any)

func newDefaultConfiguration() *Configuration {
	return &Configuration{Tunables: NewTunables()}
}
