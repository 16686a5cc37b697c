package wren

import "fmt"

// Slots is the host/script value-exchange boundary spec.md §6
// describes: a numbered array of temporary GC roots, indexed from 0,
// live for the duration of one foreign method or allocator call. Slot
// 0 is always the receiver for a foreign method; slots 1..N are its
// arguments. Grounded on clarete-langlang/api.go's role as the
// package's host-facing entry point, adapted from "parse a grammar
// file for the caller" to "exchange values between Go and a running
// script".
type Slots struct {
	vm    *VM
	fiber *Fiber
	base  int
}

// Count returns how many slots are currently available to this call.
func (s *Slots) Count() int {
	return len(s.fiber.stack) - s.base
}

// Ensure grows the slot array so indices [0, n) are valid, filling any
// newly created slot with null. Foreign methods that need scratch
// space beyond their arguments call this before writing to new slots.
func (s *Slots) Ensure(n int) {
	for s.Count() < n {
		s.fiber.push(Null)
	}
}

func (s *Slots) checkIndex(i int) {
	if i < 0 || s.base+i >= len(s.fiber.stack) {
		panic(fmt.Sprintf("slot %d out of range (have %d)", i, s.Count()))
	}
}

// Get returns the raw Value in slot i.
func (s *Slots) Get(i int) Value {
	s.checkIndex(i)
	return s.fiber.stack[s.base+i]
}

// Set stores v in slot i.
func (s *Slots) Set(i int, v Value) {
	s.checkIndex(i)
	s.fiber.stack[s.base+i] = v
}

// Type reports what kind of Value occupies slot i, named the way the
// reference API's WREN_TYPE_* enum names a slot's contents.
func (s *Slots) Type(i int) string {
	return s.Get(i).valueTypeName()
}

func (s *Slots) GetDouble(i int) float64 {
	n, ok := requireNum(s.Get(i))
	if !ok {
		panic(fmt.Sprintf("slot %d does not hold a Num", i))
	}
	return n
}

func (s *Slots) SetDouble(i int, v float64) {
	s.Set(i, NumValue(v))
}

func (s *Slots) GetBool(i int) bool {
	b, ok := s.Get(i).(Bool)
	if !ok {
		panic(fmt.Sprintf("slot %d does not hold a Bool", i))
	}
	return bool(b)
}

func (s *Slots) SetBool(i int, v bool) {
	s.Set(i, BoolValue(v))
}

func (s *Slots) GetString(i int) string {
	str, ok := s.Get(i).(*ObjString)
	if !ok {
		panic(fmt.Sprintf("slot %d does not hold a String", i))
	}
	return str.Value
}

func (s *Slots) SetString(i int, v string) {
	s.Set(i, newString(v))
}

func (s *Slots) SetNull(i int) {
	s.Set(i, Null)
}

// GetForeign returns the opaque payload a ForeignAllocateFn stored for
// the Foreign object in slot i.
func (s *Slots) GetForeign(i int) any {
	f, ok := s.Get(i).(*ObjForeign)
	if !ok {
		panic(fmt.Sprintf("slot %d does not hold a Foreign object", i))
	}
	return f.Data
}

// SetForeign stores data as the payload of the Foreign object in slot
// i, used from inside a ForeignAllocateFn right after construction.
func (s *Slots) SetForeign(i int, data any) {
	f, ok := s.Get(i).(*ObjForeign)
	if !ok {
		panic(fmt.Sprintf("slot %d does not hold a Foreign object", i))
	}
	f.Data = data
}

// NewList replaces slot i with a freshly allocated empty list.
func (s *Slots) NewList(i int) {
	s.Set(i, newList(nil))
}

// NewMap replaces slot i with a freshly allocated empty map.
func (s *Slots) NewMap(i int) {
	s.Set(i, newMap())
}

// ListAppend appends the value in slot valueSlot to the list in slot
// listSlot.
func (s *Slots) ListAppend(listSlot, valueSlot int) {
	l, ok := s.Get(listSlot).(*ObjList)
	if !ok {
		panic(fmt.Sprintf("slot %d does not hold a List", listSlot))
	}
	l.Elements = append(l.Elements, s.Get(valueSlot))
}

// ListLength returns the element count of the list in slot i.
func (s *Slots) ListLength(i int) int {
	l, ok := s.Get(i).(*ObjList)
	if !ok {
		panic(fmt.Sprintf("slot %d does not hold a List", i))
	}
	return len(l.Elements)
}

// MapSet stores the value in valueSlot under the key in keySlot, in
// the map held by slot mapSlot.
func (s *Slots) MapSet(mapSlot, keySlot, valueSlot int) {
	m, ok := s.Get(mapSlot).(*ObjMap)
	if !ok {
		panic(fmt.Sprintf("slot %d does not hold a Map", mapSlot))
	}
	m.Set(s.Get(keySlot), s.Get(valueSlot))
}

// VM returns the VM this call belongs to, for foreign methods that
// need to call back into Interpret or inspect Configuration.
func (s *Slots) VM() *VM {
	return s.vm
}

// AbortFiber aborts the current fiber with the value in slot i, the
// Go-API equivalent of a script-level `Fiber.abort(_)` call.
func (s *Slots) AbortFiber(i int) {
	panic(&abortError{value: s.Get(i)})
}

// Handle is an API-owned GC root: spec.md §6 requires the Slot API
// expose handles alongside its per-type getters/setters, mirroring
// the reference API's WrenHandle. A handle keeps the Value it pins
// alive (gc.go's markRoots walks vm.handles) independent of whether
// any script-visible reference to it remains, until Release is
// called. A handle created by MakeCallHandle additionally carries the
// method signature it was built for, so it can be passed straight to
// CallHandle.
type Handle struct {
	vm        *VM
	value     Value
	signature string
}

// Value returns the Value this handle pins.
func (h *Handle) Value() Value { return h.value }

// Release frees the GC root this handle was keeping alive, the Go
// equivalent of the reference API's wrenReleaseHandle.
func (h *Handle) Release() {
	delete(h.vm.handles, h)
}

func (vm *VM) newHandle(v Value, signature string) *Handle {
	h := &Handle{vm: vm, value: v, signature: signature}
	vm.handles[h] = struct{}{}
	return h
}

// GetHandle pins the value in slot i behind a Handle the host can
// keep past this call's lifetime.
func (s *Slots) GetHandle(i int) *Handle {
	return s.vm.newHandle(s.Get(i), "")
}

// SetHandle stores the value a Handle pins into slot i.
func (s *Slots) SetHandle(i int, h *Handle) {
	s.Set(i, h.value)
}

// signatureArity counts the "_" placeholders in a method signature
// ("call(_,_)", "[_,_]=(_)", "+(_)", a bare getter "name") to recover
// how many argument slots (beyond the receiver in slot 0) a call
// against it needs.
func signatureArity(sig string) int {
	n := 0
	for _, r := range sig {
		if r == '_' {
			n++
		}
	}
	return n
}

// MakeCallHandle pins signature for later use with CallHandle: stage
// the receiver into slot 0 and arguments into slots 1..N (matching
// sig's arity, after Ensure(N+1)) via Slots(), then invoke
// CallHandle(handle) — the Go equivalent of the reference API's
// wrenMakeCallHandle/wrenCall pair.
func (vm *VM) MakeCallHandle(signature string) *Handle {
	return vm.newHandle(Null, signature)
}

// MakeCallHandle is the Slots-scoped equivalent of VM.MakeCallHandle,
// for foreign methods that want to call back into the script using
// their own call's slot array.
func (s *Slots) MakeCallHandle(signature string) *Handle {
	return s.vm.MakeCallHandle(signature)
}

// Slots returns the scratch slot array the host stages a receiver and
// arguments into before VM.CallHandle, independent of any foreign
// method call already in progress. Reused across calls: each
// CallHandle leaves its result in slot 0.
func (vm *VM) Slots() *Slots {
	if vm.apiFiber == nil {
		vm.apiFiber = newFiber(nil)
	}
	return &Slots{vm: vm, fiber: vm.apiFiber, base: 0}
}

// callHandleOn drives the actual dispatch shared by VM.CallHandle and
// Slots.CallHandle: h.signature's method is looked up on whatever
// receiver occupies slot 0 of fiber (relative to base), with slots
// 1..arity forwarded as arguments; a methodBlock-kind body is run to
// completion before returning. The result replaces slot 0.
func (vm *VM) callHandleOn(fiber *Fiber, base int, h *Handle) error {
	if h.signature == "" {
		return fmt.Errorf("handle was not created by MakeCallHandle")
	}
	numArgs := signatureArity(h.signature)
	if len(fiber.stack)-base < numArgs+1 {
		return fmt.Errorf("CallHandle %q: expected slots 0..%d set, have %d", h.signature, numArgs, len(fiber.stack)-base)
	}
	symbol := vm.methods.ensure(h.signature)
	prevFiber := vm.fiber
	prevState := fiber.state
	fiber.state = fiberRoot
	vm.fiber = fiber
	if aerr := vm.callMethod(fiber, numArgs, symbol); aerr != nil {
		err := vm.unwindAbort(aerr)
		vm.fiber = prevFiber
		fiber.state = prevState
		return err
	}
	err := vm.runFiber(fiber)
	vm.fiber = prevFiber
	fiber.state = prevState
	return err
}

// CallHandle invokes the method h.signature names against slot 0
// (the receiver staged via VM.Slots()) with whatever arguments occupy
// the following slots, leaving the result in slot 0 — the Go
// equivalent of the reference API's wrenCall.
func (vm *VM) CallHandle(h *Handle) error {
	return vm.callHandleOn(vm.Slots().fiber, 0, h)
}

// CallHandle is the Slots-scoped equivalent of VM.CallHandle, letting
// a foreign method call back into the script reentrantly using its
// own call's slot array.
func (s *Slots) CallHandle(h *Handle) error {
	return s.vm.callHandleOn(s.fiber, s.base, h)
}
