package wren

import "runtime"

// Garbage collection in this VM delegates actual memory reclamation
// to the Go runtime's own collector — unlike the reference
// implementation's non-moving mark-sweep allocator, Go gives no way
// to free a struct early or walk "every live allocation" by hand
// without a bespoke allocator (see DESIGN.md's Open Question
// resolution on this). What IS implemented faithfully is the
// reachability walk itself (a mark phase with a gray worklist,
// exactly mirroring wrenMarkValue/wrenBlackenObject) so that, e.g.,
// disasm.go and tests can ask "is this object still reachable from
// the VM's roots" independent of whether Go's own collector has
// physically reclaimed it yet. Foreign finalization does NOT ride on
// this walk — a mark pass can observe reachability but Go gives no
// hook to run code exactly when a plain struct literal becomes
// unreachable, so that one guarantee (call ForeignFinalizeFn exactly
// once, when nothing references the object) is delegated to
// runtime.SetFinalizer in trackForeign below, which is what Go itself
// offers for this exact purpose.
type gcState struct {
	gray   []Value
	marked []any
}

func (vm *VM) newGCState() *gcState {
	return &gcState{}
}

func (vm *VM) trackForeign(f *ObjForeign, finalize ForeignFinalizeFn) {
	f.finalize = finalize
	runtime.SetFinalizer(f, func(obj *ObjForeign) {
		obj.finalize(obj.Data)
	})
}

// markValue pushes v onto the gray worklist if it is a heap object
// that has not yet been marked this collection.
func (vm *VM) markValue(gc *gcState, v Value) {
	switch vv := v.(type) {
	case *ObjString, *ObjRange:
		markHeader(gc, vv)
	case *ObjList:
		if markHeader(gc, vv) {
			gc.gray = append(gc.gray, vv)
		}
	case *ObjMap:
		if markHeader(gc, vv) {
			gc.gray = append(gc.gray, vv)
		}
	case *ObjModule:
		if markHeader(gc, vv) {
			gc.gray = append(gc.gray, vv)
		}
	case *ObjFn:
		if markHeader(gc, vv) {
			gc.gray = append(gc.gray, vv)
		}
	case *ObjClosure:
		if markHeader(gc, vv) {
			gc.gray = append(gc.gray, vv)
		}
	case *Fiber:
		if markHeader(gc, vv) {
			gc.gray = append(gc.gray, vv)
		}
	case *ObjClass:
		markHeader(gc, vv)
	case *ObjInstance:
		if markHeader(gc, vv) {
			gc.gray = append(gc.gray, vv)
		}
	case *ObjForeign:
		markHeader(gc, vv)
	case *ObjUpvalue:
		if markHeader(gc, vv) {
			gc.gray = append(gc.gray, vv)
		}
	}
}

// markHeader exposes the objHeader embedded in every heap kind
// uniformly via a tiny type switch helper, since Go generics over an
// embedded unexported field aren't available without one accessor
// per kind; returns true the first time an object is marked this
// collection. Every object it marks is recorded on gc.marked so
// collectGarbage's sweep step can reset the bit once the pass is
// done — spec.md §8 requires every non-freed object to come out of a
// collection cycle with its mark bit clear again.
func markHeader(gc *gcState, v any) bool {
	switch o := v.(type) {
	case *ObjList:
		if o.marked {
			return false
		}
		o.marked = true
		gc.marked = append(gc.marked, o)
		return true
	case *ObjMap:
		if o.marked {
			return false
		}
		o.marked = true
		gc.marked = append(gc.marked, o)
		return true
	case *ObjModule:
		if o.marked {
			return false
		}
		o.marked = true
		gc.marked = append(gc.marked, o)
		return true
	case *ObjFn:
		if o.marked {
			return false
		}
		o.marked = true
		gc.marked = append(gc.marked, o)
		return true
	case *ObjClosure:
		if o.marked {
			return false
		}
		o.marked = true
		gc.marked = append(gc.marked, o)
		return true
	case *Fiber:
		if o.marked {
			return false
		}
		o.marked = true
		gc.marked = append(gc.marked, o)
		return true
	case *ObjClass:
		if o.marked {
			return false
		}
		o.marked = true
		gc.marked = append(gc.marked, o)
		return true
	case *ObjInstance:
		if o.marked {
			return false
		}
		o.marked = true
		gc.marked = append(gc.marked, o)
		return true
	case *ObjForeign:
		if o.marked {
			return false
		}
		o.marked = true
		gc.marked = append(gc.marked, o)
		return true
	case *ObjUpvalue:
		if o.marked {
			return false
		}
		o.marked = true
		gc.marked = append(gc.marked, o)
		return true
	case *ObjString:
		if !o.marked {
			o.marked = true
			gc.marked = append(gc.marked, o)
		}
		return false
	case *ObjRange:
		if !o.marked {
			o.marked = true
			gc.marked = append(gc.marked, o)
		}
		return false
	}
	return false
}

// unmarkHeader clears the mark bit set by markHeader, used by
// collectGarbage's sweep step once the gray worklist has fully
// drained.
func unmarkHeader(v any) {
	switch o := v.(type) {
	case *ObjList:
		o.marked = false
	case *ObjMap:
		o.marked = false
	case *ObjModule:
		o.marked = false
	case *ObjFn:
		o.marked = false
	case *ObjClosure:
		o.marked = false
	case *Fiber:
		o.marked = false
	case *ObjClass:
		o.marked = false
	case *ObjInstance:
		o.marked = false
	case *ObjForeign:
		o.marked = false
	case *ObjUpvalue:
		o.marked = false
	case *ObjString:
		o.marked = false
	case *ObjRange:
		o.marked = false
	}
}

// blacken visits every Value a gray object references, pushing each
// onto the worklist via markValue (the same gray/black split the
// reference collector's wrenBlackenObject performs).
func (vm *VM) blacken(gc *gcState, v Value) {
	switch o := v.(type) {
	case *ObjList:
		for _, e := range o.Elements {
			vm.markValue(gc, e)
		}
	case *ObjMap:
		for _, e := range o.entries {
			if e.Key != nil {
				vm.markValue(gc, e.Key)
				vm.markValue(gc, e.Val)
			}
		}
	case *ObjModule:
		for _, v := range o.Variables {
			vm.markValue(gc, v)
		}
	case *ObjFn:
		for _, c := range o.Constants {
			vm.markValue(gc, c)
		}
		if o.Module != nil {
			vm.markValue(gc, o.Module)
		}
	case *ObjClosure:
		vm.markValue(gc, o.Fn)
		for _, u := range o.Upvalues {
			if u != nil {
				vm.markValue(gc, u)
			}
		}
	case *Fiber:
		for _, sv := range o.stack {
			vm.markValue(gc, sv)
		}
		for _, fr := range o.frames {
			vm.markValue(gc, fr.closure)
		}
		for _, u := range o.openUpvalues {
			vm.markValue(gc, u)
		}
		if o.caller != nil {
			vm.markValue(gc, o.caller)
		}
		if o.err != nil {
			vm.markValue(gc, o.err)
		}
	case *ObjInstance:
		vm.markValue(gc, o.Class)
		for _, f := range o.Fields {
			vm.markValue(gc, f)
		}
	case *ObjUpvalue:
		vm.markValue(gc, o.get())
	}
}

// markRoots marks everything directly reachable without traversal:
// every loaded module's variables, every built-in class, and the
// currently running fiber chain — the root set a conservative
// stack-scanning collector would instead find by walking the C
// stack, made explicit here because Go doesn't expose that.
func (vm *VM) markRoots(gc *gcState) {
	for _, m := range vm.modules {
		vm.markValue(gc, m)
	}
	if vm.core != nil {
		for _, c := range vm.core.all() {
			vm.markValue(gc, c)
		}
	}
	if vm.fiber != nil {
		vm.markValue(gc, vm.fiber)
	}
	if vm.apiFiber != nil {
		vm.markValue(gc, vm.apiFiber)
	}
	for h := range vm.handles {
		vm.markValue(gc, h.value)
	}
}

// collectGarbage runs one mark pass over every live root, clears the
// mark bits it set, then asks the Go runtime to reclaim the rest
// (Foreign finalizers run from trackForeign's runtime finalizer, not
// here), and recomputes nextGC from bytesAllocated and
// gc.heap_grow_percent. Allocations do not advance bytesAllocated and
// no code in the package calls collectGarbage or maybeCollect, so a
// collection happens only when collectGarbage is called directly.
func (vm *VM) collectGarbage() {
	gc := vm.newGCState()
	vm.markRoots(gc)
	for len(gc.gray) > 0 {
		v := gc.gray[len(gc.gray)-1]
		gc.gray = gc.gray[:len(gc.gray)-1]
		vm.blacken(gc, v)
	}
	// Sweep: every object this pass marked is, by definition, still
	// reachable and survives. Clear its mark bit so the next cycle
	// starts from a clean slate instead of treating everything as
	// already marked.
	for _, o := range gc.marked {
		unmarkHeader(o)
	}
	runtime.GC()
	grow := vm.config.Tunables.GetInt("gc.heap_grow_percent")
	vm.nextGC = vm.bytesAllocated + vm.bytesAllocated*grow/100
	if min := vm.config.Tunables.GetInt("gc.min_heap_bytes"); vm.nextGC < min {
		vm.nextGC = min
	}
}

func (vm *VM) maybeCollect() {
	if vm.config.Tunables.GetBool("gc.stress") || vm.bytesAllocated >= vm.nextGC {
		vm.collectGarbage()
	}
}
