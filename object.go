package wren

import (
	"fmt"
	"strings"
)

// objHeader is embedded in every heap object kind and carries the
// bookkeeping the garbage collector needs: the mark bit set during
// the mark phase of gc.go's collectGarbage and cleared again at the
// end of the same pass, and a `next` link field. The VM keeps no
// allocation list and nothing reads `next`; reclaiming unreachable
// objects is left to Go's runtime. The class
// pointer spec.md requires on every heap object is carried by the
// kinds that need it for method dispatch (Instance, Foreign); the
// built-in kinds (String, List, Map, Range) resolve their class
// through the VM's fixed core-class table instead of a per-object
// pointer, since there is exactly one class per built-in kind.
type objHeader struct {
	marked bool
	next   Value
}

// ObjString is an immutable, content-hashed string. Equality and Map
// lookups go by content (value.go's valuesEqual/hashValue), not by
// identity, matching spec.md's "not interned globally" rule.
type ObjString struct {
	objHeader
	Value string
	hash  uint64
}

func (*ObjString) valueTypeName() string { return "String" }

func newString(s string) *ObjString {
	return &ObjString{Value: s, hash: hashBits(fnv1a(s))}
}

func fnv1a(s string) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}

// ObjRange is the numeric `from`/`to`/inclusive triple produced by
// the `..` and `...` operators.
type ObjRange struct {
	objHeader
	From, To  float64
	Inclusive bool
}

func (*ObjRange) valueTypeName() string { return "Range" }

func newRange(from, to float64, inclusive bool) *ObjRange {
	return &ObjRange{From: from, To: to, Inclusive: inclusive}
}

func (r *ObjRange) String() string {
	op := "..."
	if r.Inclusive {
		op = ".."
	}
	return fmt.Sprintf("%s%s%s", formatNum(r.From), op, formatNum(r.To))
}

// ObjList is an ordered, growable value sequence backed by a Go
// slice; append already gives the amortized O(1) growth spec.md
// requires.
type ObjList struct {
	objHeader
	Elements []Value
}

func (*ObjList) valueTypeName() string { return "List" }

func newList(elements []Value) *ObjList {
	return &ObjList{Elements: elements}
}

func (l *ObjList) String(vm *VM) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, e := range l.Elements {
		if i > 0 {
			b.WriteString(", ")
		}
		if s, ok := e.(*ObjString); ok {
			fmt.Fprintf(&b, "%q", s.Value)
		} else {
			b.WriteString(ToString(vm, e))
		}
	}
	b.WriteByte(']')
	return b.String()
}

// mapEntry is one slot in ObjMap's open-addressed table. An empty
// slot has a nil Key; a tombstone (deleted but still probed past) has
// a nil Key and Deleted set.
type mapEntry struct {
	Key     Value
	Val     Value
	Deleted bool
}

// ObjMap is an open-addressed hash table keyed by any hashable Value
// (value.go's isHashable/hashValue). Load factor is kept below 3/4 by
// growing (doubling) whenever Count would exceed it, matching the
// reference map's resize trigger.
type ObjMap struct {
	objHeader
	entries []mapEntry
	Count   int
}

func (*ObjMap) valueTypeName() string { return "Map" }

const mapMinCapacity = 8

func newMap() *ObjMap {
	return &ObjMap{entries: make([]mapEntry, mapMinCapacity)}
}

func (m *ObjMap) find(key Value) int {
	mask := uint64(len(m.entries) - 1)
	idx := hashValue(key) & mask
	firstTombstone := -1
	for {
		e := &m.entries[idx]
		if e.Key == nil {
			if e.Deleted {
				if firstTombstone == -1 {
					firstTombstone = int(idx)
				}
			} else {
				if firstTombstone != -1 {
					return firstTombstone
				}
				return int(idx)
			}
		} else if valuesEqual(e.Key, key) {
			return int(idx)
		}
		idx = (idx + 1) & mask
	}
}

func (m *ObjMap) Get(key Value) (Value, bool) {
	idx := m.find(key)
	e := &m.entries[idx]
	if e.Key == nil {
		return nil, false
	}
	return e.Val, true
}

func (m *ObjMap) Set(key, val Value) {
	if m.Count+1 > len(m.entries)*3/4 {
		m.grow(len(m.entries) * 2)
	}
	idx := m.find(key)
	e := &m.entries[idx]
	isNew := e.Key == nil
	e.Key, e.Val, e.Deleted = key, val, false
	if isNew {
		m.Count++
	}
}

func (m *ObjMap) Delete(key Value) (Value, bool) {
	idx := m.find(key)
	e := &m.entries[idx]
	if e.Key == nil {
		return nil, false
	}
	val := e.Val
	e.Key, e.Val, e.Deleted = nil, nil, true
	m.Count--
	return val, true
}

func (m *ObjMap) grow(capacity int) {
	old := m.entries
	m.entries = make([]mapEntry, capacity)
	m.Count = 0
	for _, e := range old {
		if e.Key != nil {
			m.Set(e.Key, e.Val)
		}
	}
}

func (m *ObjMap) String(vm *VM) string {
	var b strings.Builder
	b.WriteByte('{')
	first := true
	for _, e := range m.entries {
		if e.Key == nil {
			continue
		}
		if !first {
			b.WriteString(", ")
		}
		first = false
		if s, ok := e.Key.(*ObjString); ok {
			fmt.Fprintf(&b, "%q", s.Value)
		} else {
			b.WriteString(ToString(vm, e.Key))
		}
		b.WriteString(": ")
		if s, ok := e.Val.(*ObjString); ok {
			fmt.Fprintf(&b, "%q", s.Value)
		} else {
			b.WriteString(ToString(vm, e.Val))
		}
	}
	b.WriteByte('}')
	return b.String()
}

// ObjModule is a compilation unit's top-level namespace: parallel
// name/value vectors (module variable slot i's name and value always
// match, per spec.md's Module invariant) plus the source line each
// variable was first referenced on (-1 for a variable added through
// defineVariable). No diagnostic reads variableLines.
type ObjModule struct {
	objHeader
	Name          string
	VariableNames []string
	Variables     []Value
	variableLines []int
}

func (*ObjModule) valueTypeName() string { return "Module" }

func newModule(name string) *ObjModule {
	return &ObjModule{Name: name}
}

func (m *ObjModule) findVariable(name string) int {
	for i, n := range m.VariableNames {
		if n == name {
			return i
		}
	}
	return -1
}

// declareVariable reserves a module variable slot for a forward
// reference, leaving it set to the undefined sentinel until its
// defining statement executes.
func (m *ObjModule) declareVariable(name string, line int) int {
	m.VariableNames = append(m.VariableNames, name)
	m.Variables = append(m.Variables, undefinedValue)
	m.variableLines = append(m.variableLines, line)
	return len(m.Variables) - 1
}

func (m *ObjModule) defineVariable(name string, v Value) int {
	if idx := m.findVariable(name); idx != -1 {
		m.Variables[idx] = v
		return idx
	}
	m.VariableNames = append(m.VariableNames, name)
	m.Variables = append(m.Variables, v)
	m.variableLines = append(m.variableLines, -1)
	return len(m.Variables) - 1
}

// ObjUpvalue is two-state: open while it points into a live fiber
// stack slot, closed once it owns the value itself. See fiber.go for
// the sorted open-upvalue list that makes closing at a given stack
// depth close every upvalue at or above it in one pass.
type ObjUpvalue struct {
	objHeader
	container *[]Value
	index     int
	closed    Value
	isClosed  bool
}

func (*ObjUpvalue) valueTypeName() string { return "Upvalue" }

func (u *ObjUpvalue) get() Value {
	if u.isClosed {
		return u.closed
	}
	return (*u.container)[u.index]
}

func (u *ObjUpvalue) set(v Value) {
	if u.isClosed {
		u.closed = v
		return
	}
	(*u.container)[u.index] = v
}

func (u *ObjUpvalue) close() {
	u.closed = u.get()
	u.isClosed = true
	u.container = nil
}

// ObjInstance is a class pointer plus an inline field array whose
// length always equals the owning class's total field count
// (declared fields plus every ancestor's).
type ObjInstance struct {
	objHeader
	Class  *ObjClass
	Fields []Value
}

func (*ObjInstance) valueTypeName() string { return "Instance" }

func newInstance(class *ObjClass) *ObjInstance {
	fields := make([]Value, class.NumFields)
	for i := range fields {
		fields[i] = Null
	}
	return &ObjInstance{Class: class, Fields: fields}
}

// ObjForeign is a class pointer plus an opaque host-owned payload.
// The payload's shape is whatever ForeignAllocateFn returned; when a
// finalizer was bound, gc.go's trackForeign registers it with
// runtime.SetFinalizer, so Go's runtime calls ForeignFinalizeFn once
// after the object becomes unreachable.
type ObjForeign struct {
	objHeader
	Class    *ObjClass
	Data     any
	finalize ForeignFinalizeFn
}

func (*ObjForeign) valueTypeName() string { return "Foreign" }
