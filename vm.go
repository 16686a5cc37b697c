package wren

import "fmt"

// VM is one embeddable interpreter instance: its configuration, the
// global method symbol table, the loaded modules, the built-in
// classes, and the fiber currently running. Every Value the host
// receives through the slot API (api.go) or a foreign method belongs
// to exactly one VM; values are never shared across VM instances.
type VM struct {
	config         *Configuration
	methods        *methodTable
	modules        map[string]*ObjModule
	core           *coreClasses
	fiber          *Fiber
	lastImported   *ObjModule
	bytesAllocated int
	nextGC         int
	// apiFiber is the scratch fiber VM.Slots()/MakeCallHandle/CallHandle
	// stage receiver/argument values on when the host calls in from Go
	// rather than from inside a running foreign method.
	apiFiber *Fiber
	// handles are the live Handle GC roots: values (or call
	// signatures) the host is keeping alive independent of any script
	// reference, mirroring the reference API's handle table.
	handles map[*Handle]struct{}
}

// NewVM creates a VM from config, filling in any unset callback or
// tunable with the defaults newDefaultConfiguration provides.
func NewVM(config *Configuration) *VM {
	if config == nil {
		config = newDefaultConfiguration()
	}
	if config.Tunables == nil {
		config.Tunables = NewTunables()
	}
	vm := &VM{
		config:  config,
		methods: newMethodTable(),
		modules: map[string]*ObjModule{},
		handles: map[*Handle]struct{}{},
	}
	vm.nextGC = config.Tunables.GetInt("gc.initial_heap_bytes")
	vm.core = registerCoreClasses(vm)
	return vm
}

func (vm *VM) newModule(name string) *ObjModule {
	m := newModule(name)
	vm.modules[name] = m
	vm.bindCoreToModule(m)
	return m
}

// Interpret compiles and runs source as module `name`, returning a
// RuntimeError (plus the stack trace already reported through
// config.Error) if the script aborts uncaught.
func (vm *VM) Interpret(name, source string) error {
	closure, err := vm.compileModule(name, source)
	if err != nil {
		return err
	}
	fiber := newFiber(closure)
	fiber.state = fiberRoot
	return vm.runFiber(fiber)
}

func (vm *VM) compileModule(name, source string) (*ObjClosure, error) {
	module, ok := vm.modules[name]
	if !ok {
		module = vm.newModule(name)
	}
	errs := &compileErrorList{}
	c := newCompiler(vm, module, source, "(script)", errs, nil)
	fn, success := c.compile()
	if !success {
		for _, e := range errs.errs {
			vm.reportError(ErrorCompile, e.Module, e.Line, e.Message)
		}
		return nil, CompileError{Module: name, Line: 0, Label: "Error", Message: "compilation failed"}
	}
	return newClosure(fn), nil
}

func (vm *VM) reportError(kind ErrorKind, module string, line int, message string) {
	if vm.config.Error != nil {
		vm.config.Error(vm, kind, module, line, message)
	}
}

// runFiber drives the bytecode interpreter loop for fiber until it
// (and every fiber it transitively resumed) either returns to no
// caller or aborts uncaught.
func (vm *VM) runFiber(fiber *Fiber) error {
	vm.fiber = fiber
	for {
		result, ferr := vm.run(vm.fiber)
		if ferr != nil {
			return vm.unwindAbort(ferr)
		}
		if result.done {
			return nil
		}
	}
}

type fiberRunResult struct{ done bool }

// run executes the current fiber's topmost call frame, following
// vm.fiber across the fiber switches that primitives and returns
// make, until the current fiber has no frames left or there is no
// current fiber (result.done), or an abort is raised.
func (vm *VM) run(fiber *Fiber) (fiberRunResult, *abortError) {
	for {
		// Re-read vm.fiber every iteration: a primitive invoked by the
		// CALL/SUPER/arithmetic cases below (Fiber.call/yield/try,
		// Fiber.suspend) may have switched the VM's current fiber out
		// from under the local `fiber` this loop started with.
		fiber = vm.fiber
		if fiber == nil {
			return fiberRunResult{done: true}, nil
		}
		if !fiber.hasFrames() {
			break
		}
		frame := fiber.currentFrame()
		code := frame.closure.Fn.Code

		if frame.ip >= len(code) {
			return fiberRunResult{done: true}, nil
		}

		op := Opcode(code[frame.ip])
		frame.ip++

		switch op {
		case opConstant:
			idx := readShort(code, &frame.ip)
			fiber.push(frame.closure.Fn.Constants[idx])
		case opIConstant:
			idx := readShort(code, &frame.ip)
			fiber.push(NumValue(float64(idx)))
		case opNull:
			fiber.push(Null)
		case opFalse:
			fiber.push(False)
		case opTrue:
			fiber.push(True)
		case opLoadLocal0, opLoadLocal1, opLoadLocal2, opLoadLocal3, opLoadLocal4,
			opLoadLocal5, opLoadLocal6, opLoadLocal7, opLoadLocal8:
			slot := int(op - opLoadLocal0)
			fiber.push(fiber.stack[frame.base+slot])
		case opLoadLocal:
			slot := int(code[frame.ip])
			frame.ip++
			fiber.push(fiber.stack[frame.base+slot])
		case opStoreLocal:
			slot := int(code[frame.ip])
			frame.ip++
			fiber.stack[frame.base+slot] = fiber.top()
		case opLoadUpvalue:
			slot := int(code[frame.ip])
			frame.ip++
			fiber.push(frame.closure.Upvalues[slot].get())
		case opStoreUpvalue:
			slot := int(code[frame.ip])
			frame.ip++
			frame.closure.Upvalues[slot].set(fiber.top())
		case opLoadModuleVar:
			idx := readShort(code, &frame.ip)
			fiber.push(frame.closure.Fn.Module.Variables[idx])
		case opStoreModuleVar:
			idx := readShort(code, &frame.ip)
			frame.closure.Fn.Module.Variables[idx] = fiber.top()
		case opLoadFieldThis:
			slot := int(code[frame.ip])
			frame.ip++
			this := fiber.stack[frame.base].(*ObjInstance)
			fiber.push(this.Fields[slot])
		case opStoreFieldThis:
			slot := int(code[frame.ip])
			frame.ip++
			this := fiber.stack[frame.base].(*ObjInstance)
			this.Fields[slot] = fiber.top()
		case opLoadField:
			slot := int(code[frame.ip])
			frame.ip++
			inst := fiber.pop().(*ObjInstance)
			fiber.push(inst.Fields[slot])
		case opStoreField:
			slot := int(code[frame.ip])
			frame.ip++
			val := fiber.pop()
			inst := fiber.pop().(*ObjInstance)
			inst.Fields[slot] = val
			fiber.push(val)
		case opPop:
			fiber.pop()
		case opAdd, opSub, opMul, opDiv, opMod:
			symbol := readShort(code, &frame.ip)
			if aerr := vm.arithmetic(fiber, op, symbol); aerr != nil {
				return fiberRunResult{}, aerr
			}
		case opAnd:
			offset := readShort(code, &frame.ip)
			if IsFalsey(fiber.top()) {
				frame.ip += offset
			} else {
				fiber.pop()
			}
		case opOr:
			offset := readShort(code, &frame.ip)
			if !IsFalsey(fiber.top()) {
				frame.ip += offset
			} else {
				fiber.pop()
			}
		case opJump:
			offset := readShort(code, &frame.ip)
			frame.ip += offset
		case opLoop:
			offset := readShort(code, &frame.ip)
			frame.ip -= offset
		case opJumpIf:
			offset := readShort(code, &frame.ip)
			if IsFalsey(fiber.pop()) {
				frame.ip += offset
			}
		case opCloseUpvalue:
			fiber.closeUpvalues(len(fiber.stack) - 1)
			fiber.pop()
		case opReturn:
			result := fiber.pop()
			fiber.closeUpvalues(frame.base)
			fiber.stack = fiber.stack[:frame.base]
			fiber.popFrame()
			if !fiber.hasFrames() {
				if fiber.caller != nil {
					caller := fiber.caller
					fiber.caller = nil
					caller.push(result)
					fiber = caller
					vm.fiber = fiber
					continue
				}
				fiber.push(result)
				return fiberRunResult{done: true}, nil
			}
			fiber.push(result)
		case opClosure:
			idx := readShort(code, &frame.ip)
			fn := frame.closure.Fn.Constants[idx].(*ObjFn)
			closure := newClosure(fn)
			for i := 0; i < fn.NumUpvalues; i++ {
				isLocal := code[frame.ip] != 0
				frame.ip++
				index := int(code[frame.ip])
				frame.ip++
				if isLocal {
					closure.Upvalues[i] = fiber.captureUpvalue(frame.base + index)
				} else {
					closure.Upvalues[i] = frame.closure.Upvalues[index]
				}
			}
			fiber.push(closure)
		case opConstruct:
			class := fiber.stack[frame.base].(*ObjClass)
			fiber.stack[frame.base] = newInstance(class)
		case opForeignConstruct:
			class := fiber.stack[frame.base].(*ObjClass)
			vm.allocateForeign(fiber, frame.base, class)
		case opClass:
			numFields := int(code[frame.ip])
			frame.ip++
			name := fiber.pop().(*ObjString)
			super, _ := fiber.pop().(*ObjClass)
			metaSuper := vm.core.classClass
			if super != nil {
				metaSuper = super.Metaclass
			}
			meta := newClass(name.Value+" metaclass", metaSuper, 0, vm.core.classClass)
			cls := newClass(name.Value, super, numFields, meta)
			fiber.push(cls)
		case opEndClass:
			fiber.pop()
			fiber.pop()
		case opForeignClass:
			name := fiber.pop().(*ObjString)
			super, _ := fiber.pop().(*ObjClass)
			metaSuper := vm.core.classClass
			if super != nil {
				metaSuper = super.Metaclass
			}
			meta := newClass(name.Value+" metaclass", metaSuper, 0, vm.core.classClass)
			cls := newClass(name.Value, super, 0, meta)
			cls.IsForeign = true
			fiber.push(cls)
		case opMethodInstance, opMethodStatic:
			symbol := readShort(code, &frame.ip)
			body := fiber.pop()
			// The class itself stays on the stack (peeked, not
			// popped): a class body can declare many methods, each
			// compiled as its own METHOD_INSTANCE/METHOD_STATIC, and
			// all of them bind against the same class value pushed
			// once by CLASS/FOREIGN_CLASS.
			cls := fiber.top().(*ObjClass)
			target := cls
			if op == opMethodStatic {
				target = cls.Metaclass
			}
			switch b := body.(type) {
			case *ObjFn:
				target.bindMethod(symbol, method{kind: methodBlock, closure: newClosure(b)})
			case *ObjString:
				bind := vm.config.BindForeignMethod
				if bind != nil {
					binding := bind(frame.closure.Fn.Module.Name, cls.Name, op == opMethodStatic, b.Value)
					target.bindMethod(symbol, method{kind: methodForeign, foreign: binding})
				}
			}
		case opEndModule:
			fiber.push(Null)
		case opImportModule:
			idx := readShort(code, &frame.ip)
			name := frame.closure.Fn.Constants[idx].(*ObjString)
			if _, err := vm.importModule(name.Value); err != nil {
				return fiberRunResult{}, &abortError{value: newString(err.Error())}
			}
			fiber.push(Null)
		case opImportVariable:
			idx := readShort(code, &frame.ip)
			name := frame.closure.Fn.Constants[idx].(*ObjString)
			if vm.lastImported == nil {
				return fiberRunResult{}, &abortError{value: newString("no module imported")}
			}
			varIdx := vm.lastImported.findVariable(name.Value)
			if varIdx == -1 {
				return fiberRunResult{}, &abortError{value: newString("Could not find a variable named '" + name.Value + "'.")}
			}
			fiber.push(vm.lastImported.Variables[varIdx])
		case opEnd:
			return fiberRunResult{done: true}, nil
		default:
			if op >= opCall0 && op <= opCall16 {
				numArgs := int(op - opCall0)
				symbol := readShort(code, &frame.ip)
				if aerr := vm.callMethod(fiber, numArgs, symbol); aerr != nil {
					return fiberRunResult{}, aerr
				}
				continue
			}
			if op >= opSuper0 && op <= opSuper16 {
				numArgs := int(op - opSuper0)
				symbol := readShort(code, &frame.ip)
				superSlot := readShort(code, &frame.ip)
				class, ok := frame.closure.Fn.Module.Variables[superSlot].(*ObjClass)
				if !ok {
					return fiberRunResult{}, &abortError{value: newString("Superclass is not resolved for 'super' call.")}
				}
				if aerr := vm.invokeOn(fiber, class, numArgs, symbol); aerr != nil {
					return fiberRunResult{}, aerr
				}
				continue
			}
			return fiberRunResult{}, &abortError{value: newString(fmt.Sprintf("unknown opcode %d", op))}
		}
	}
	return fiberRunResult{done: true}, nil
}

// callPrimitive runs a primitive body, converting a raised abort
// (Fiber.abort(_), or a method calling into another primitive that
// aborts) into an *abortError the same way callForeign does for
// foreign methods — the two share this recover idiom because both are
// the only Go call boundaries partway through vm.go's evaluation
// loop where a panic can originate.
func callPrimitive(fn primitiveFn, vm *VM, fiber *Fiber, args []Value) (result Value, keep bool, aerr *abortError) {
	defer func() {
		if r := recover(); r != nil {
			if ae, ok := r.(*abortError); ok {
				aerr = ae
				return
			}
			panic(r)
		}
	}()
	result, keep = fn(vm, fiber, args)
	return
}

// callForeign runs a foreign method body, converting an AbortFiber
// panic (Slots.AbortFiber) into the same *abortError the bytecode
// interpreter's own opcodes return, so a foreign method aborts a
// fiber exactly like a script-level `Fiber.abort(_)` call would.
func callForeign(fn ForeignMethodFn, slots *Slots) (aerr *abortError) {
	defer func() {
		if r := recover(); r != nil {
			if ae, ok := r.(*abortError); ok {
				aerr = ae
				return
			}
			panic(r)
		}
	}()
	fn(slots)
	return nil
}

func readShort(code []byte, ip *int) int {
	v := int(code[*ip])<<8 | int(code[*ip+1])
	*ip += 2
	return v
}

// classOf returns the class a Value dispatches methods through: the
// core class table for primitives and built-in object kinds, or the
// object's own Class pointer for Instance/Foreign/user classes.
func (vm *VM) classOf(v Value) *ObjClass {
	switch vv := v.(type) {
	case objNullType:
		return vm.core.nullClass
	case Bool:
		return vm.core.boolClass
	case Num:
		return vm.core.numClass
	case *ObjString:
		return vm.core.stringClass
	case *ObjRange:
		return vm.core.rangeClass
	case *ObjList:
		return vm.core.listClass
	case *ObjMap:
		return vm.core.mapClass
	case *ObjFn:
		return vm.core.fnClass
	case *ObjClosure:
		return vm.core.fnClass
	case *Fiber:
		return vm.core.fiberClass
	case *ObjInstance:
		return vv.Class
	case *ObjForeign:
		return vv.Class
	case *ObjClass:
		return vv.Metaclass
	default:
		return vm.core.objectClass
	}
}

func (vm *VM) callMethod(fiber *Fiber, numArgs, symbol int) *abortError {
	receiver := fiber.peek(numArgs)
	class := vm.classOf(receiver)
	return vm.invokeOn(fiber, class, numArgs, symbol)
}

func (vm *VM) invokeOn(fiber *Fiber, class *ObjClass, numArgs, symbol int) *abortError {
	m, ok := class.lookupMethod(symbol)
	if !ok {
		return vm.methodNotFound(class, symbol)
	}
	args := fiber.stack[len(fiber.stack)-numArgs-1:]
	switch m.kind {
	case methodPrimitive:
		framesBefore := len(fiber.frames)
		result, keep, aerr := callPrimitive(m.primitive, vm, fiber, args)
		if aerr != nil {
			return aerr
		}
		// A primitive that switches fibers (Fiber.call/yield/try) has
		// already adjusted the caller's stack itself and left
		// vm.fiber pointing at the new current fiber, and one that
		// pushed a frame (Fn.call) keeps its receiver and arguments as
		// that frame's slots; only primitives that do neither get the
		// ordinary drop-args/push-result treatment.
		if vm.fiber == fiber && len(fiber.frames) == framesBefore {
			fiber.dropN(numArgs + 1)
			if keep {
				fiber.push(result)
			}
		}
		return nil
	case methodForeign:
		base := len(fiber.stack) - numArgs - 1
		slots := &Slots{vm: vm, fiber: fiber, base: base}
		if aerr := callForeign(m.foreign, slots); aerr != nil {
			return aerr
		}
		result := fiber.stack[base]
		fiber.stack = fiber.stack[:base]
		fiber.push(result)
		return nil
	case methodBlock:
		base := len(fiber.stack) - numArgs - 1
		fiber.pushFrame(m.closure, base)
		return nil
	}
	return vm.methodNotFound(class, symbol)
}

func (vm *VM) methodNotFound(class *ObjClass, symbol int) *abortError {
	sig := vm.methods.signature(symbol)
	msg := fmt.Sprintf("%s does not implement '%s'.", class.Name, sig)
	return &abortError{value: newString(msg)}
}

func (vm *VM) arithmetic(fiber *Fiber, op Opcode, symbol int) *abortError {
	b := fiber.peek(0)
	a := fiber.peek(1)
	an, aok := a.(Num)
	bn, bok := b.(Num)
	if aok && bok {
		fiber.pop()
		fiber.pop()
		switch op {
		case opAdd:
			fiber.push(NumValue(float64(an) + float64(bn)))
		case opSub:
			fiber.push(NumValue(float64(an) - float64(bn)))
		case opMul:
			fiber.push(NumValue(float64(an) * float64(bn)))
		case opDiv:
			fiber.push(NumValue(float64(an) / float64(bn)))
		case opMod:
			fiber.push(NumValue(modFloat(float64(an), float64(bn))))
		}
		return nil
	}
	return vm.callMethod(fiber, 1, symbol)
}

func modFloat(a, b float64) float64 {
	for a >= b {
		a -= b
	}
	return a
}

// unwindAbort walks the fiber caller chain looking for a `try`-entered
// fiber to catch err; if none remains, it reports the RuntimeError
// and a stack trace through config.Error, mirroring
// wrenDebugPrintStackTrace's frame-skipping rule for frames with no
// module.
func (vm *VM) unwindAbort(err *abortError) error {
	for f := vm.fiber; f != nil; f = f.caller {
		if f.state == fiberTry {
			f.err = err.value
			f.frames = nil
			caller := f.caller
			f.caller = nil
			if caller != nil {
				caller.push(err.value)
				return vm.runFiber(caller)
			}
			return nil
		}
	}
	msg := err.Error()
	vm.reportError(ErrorRuntime, "", 0, msg)
	for f := vm.fiber; f != nil; f = f.caller {
		for i := len(f.frames) - 1; i >= 0; i-- {
			frame := f.frames[i]
			if frame.closure.Fn.Module == nil || frame.closure.Fn.Module.Name == "" {
				continue
			}
			line := 0
			if frame.ip-1 >= 0 && frame.ip-1 < len(frame.closure.Fn.Lines) {
				line = frame.closure.Fn.Lines[frame.ip-1]
			}
			vm.reportError(ErrorStackTrace, frame.closure.Fn.Module.Name, line, frame.closure.Fn.DebugName)
		}
	}
	return RuntimeError{Message: msg}
}

func (vm *VM) importModule(name string) (*ObjModule, error) {
	if m, ok := vm.modules[name]; ok {
		vm.lastImported = m
		return m, nil
	}
	if vm.config.ResolveModule != nil {
		importer := ""
		if vm.fiber != nil && vm.fiber.hasFrames() && vm.fiber.currentFrame().closure.Fn.Module != nil {
			importer = vm.fiber.currentFrame().closure.Fn.Module.Name
		}
		resolved, ok := vm.config.ResolveModule(importer, name)
		if !ok {
			return nil, fmt.Errorf("could not resolve module %q", name)
		}
		name = resolved
		if m, ok := vm.modules[name]; ok {
			vm.lastImported = m
			return m, nil
		}
	}
	if vm.config.LoadModule == nil {
		return nil, fmt.Errorf("could not load module %q", name)
	}
	source, onComplete, ok := vm.config.LoadModule(name)
	if !ok {
		return nil, fmt.Errorf("could not find module %q", name)
	}
	closure, err := vm.compileModule(name, source)
	if onComplete != nil {
		onComplete()
	}
	if err != nil {
		return nil, err
	}
	fiber := newFiber(closure)
	fiber.state = fiberOther
	if rerr := vm.runFiber(fiber); rerr != nil {
		return nil, rerr
	}
	vm.lastImported = vm.modules[name]
	return vm.lastImported, nil
}
