package wren

// allocateForeign constructs the Foreign object a `construct` call on
// a `foreign class` produces: it resolves the host's allocator
// through Configuration.BindForeignClass, runs it with a Slots window
// over the constructor's own call frame (so the allocator can read the
// constructor arguments the same way any other foreign method would),
// and remembers the finalizer for gc.go to invoke exactly once.
//
// Internal counterpart to api.go's Slots type — split out because it
// is called from vm.go's interpreter loop, not from host code, mirroring
// clarete-langlang's own api.go/api_internal.go split between the
// public entry points and the helpers only the package itself calls.
func (vm *VM) allocateForeign(fiber *Fiber, base int, class *ObjClass) *ObjForeign {
	foreign := &ObjForeign{Class: class}
	fiber.stack[base] = foreign

	if vm.config.BindForeignClass == nil {
		return foreign
	}
	allocate, finalize := vm.config.BindForeignClass(vm.currentModuleName(fiber), class.Name)
	if allocate != nil {
		slots := &Slots{vm: vm, fiber: fiber, base: base}
		foreign.Data = allocate(slots)
	}
	if finalize != nil {
		vm.trackForeign(foreign, finalize)
	}
	return foreign
}

func (vm *VM) currentModuleName(fiber *Fiber) string {
	if !fiber.hasFrames() {
		return ""
	}
	return fiber.currentFrame().closure.Fn.Module.Name
}
