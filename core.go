package wren

import (
	"fmt"
	"math"
)

// coreClasses holds every built-in class a VM needs to dispatch
// methods on primitive values and the handful of always-present
// library classes (System, Fiber). Mirrors the teacher's
// builtin-registration pattern (grammar_builtin_handler.go) of
// binding a fixed table of names to Go-implemented behavior, adapted
// from grammar builtins to the reference VM's core library.
type coreClasses struct {
	objectClass *ObjClass
	classClass  *ObjClass
	nullClass   *ObjClass
	boolClass   *ObjClass
	numClass    *ObjClass
	stringClass *ObjClass
	listClass   *ObjClass
	mapClass    *ObjClass
	rangeClass  *ObjClass
	fiberClass  *ObjClass
	fnClass     *ObjClass
	systemClass *ObjClass
}

func (c *coreClasses) all() []*ObjClass {
	return []*ObjClass{
		c.objectClass, c.classClass, c.nullClass, c.boolClass, c.numClass,
		c.stringClass, c.listClass, c.mapClass, c.rangeClass, c.fiberClass,
		c.fnClass, c.systemClass,
	}
}

// prim registers a primitive body under signature on class, interning
// the signature's symbol through the VM's shared method table.
func prim(vm *VM, class *ObjClass, signature string, fn primitiveFn) {
	symbol := vm.methods.ensure(signature)
	class.bindMethod(symbol, method{kind: methodPrimitive, primitive: fn})
}

// registerCoreClasses builds the self-referential Object/Class
// metaclass cycle and every other built-in class, then binds their
// primitive methods. Must run exactly once, before any module is
// compiled, since the compiler resolves `Num`, `String`, etc. as
// ordinary module variables that core.go pre-populates.
func registerCoreClasses(vm *VM) *coreClasses {
	c := &coreClasses{}

	// Object and Class form a cycle: Class is an instance of its own
	// metaclass, ObjectMetaclass's superclass is Class, and every
	// class's metaclass chain bottoms out at Class.
	c.objectClass = &ObjClass{Name: "Object"}
	c.classClass = &ObjClass{Name: "Class"}
	objectMeta := &ObjClass{Name: "Object metaclass", Superclass: c.classClass}
	c.objectClass.Metaclass = objectMeta
	c.classClass.Metaclass = c.classClass
	objectMeta.Metaclass = c.classClass

	newBuiltin := func(name string, numFields int) *ObjClass {
		meta := newClass(name+" metaclass", c.classClass, 0, c.classClass)
		return newClass(name, c.objectClass, numFields, meta)
	}

	c.nullClass = newBuiltin("Null", 0)
	c.boolClass = newBuiltin("Bool", 0)
	c.numClass = newBuiltin("Num", 0)
	c.stringClass = newBuiltin("String", 0)
	c.listClass = newBuiltin("List", 0)
	c.mapClass = newBuiltin("Map", 0)
	c.rangeClass = newBuiltin("Range", 0)
	c.fiberClass = newBuiltin("Fiber", 0)
	c.fnClass = newBuiltin("Fn", 0)
	c.systemClass = newBuiltin("System", 0)

	registerObjectMethods(vm, c)
	registerNumMethods(vm, c)
	registerStringMethods(vm, c)
	registerListMethods(vm, c)
	registerMapMethods(vm, c)
	registerRangeMethods(vm, c)
	registerFiberMethods(vm, c)
	registerFnMethods(vm, c)
	registerSystemMethods(vm, c)

	return c
}

// bindCoreToModule defines every core class name as a module-level
// variable in m, matching spec.md's Module invariant that variable
// slot i always corresponds to name slot i — the compiler's
// resolveCoreClassSlot relies on these slots already existing.
func (vm *VM) bindCoreToModule(m *ObjModule) {
	for _, cls := range vm.core.all() {
		m.defineVariable(cls.Name, cls)
	}
}

func registerObjectMethods(vm *VM, c *coreClasses) {
	prim(vm, c.objectClass, "==(_)", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		return BoolValue(valuesEqual(args[0], args[1])), true
	})
	prim(vm, c.objectClass, "!=(_)", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		return BoolValue(!valuesEqual(args[0], args[1])), true
	})
	prim(vm, c.objectClass, "toString", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		return newString(ToString(vm, args[0])), true
	})
	prim(vm, c.objectClass, "is(_)", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		target, ok := args[1].(*ObjClass)
		if !ok {
			return BoolValue(false), true
		}
		for cls := vm.classOf(args[0]); cls != nil; cls = cls.Superclass {
			if cls == target {
				return BoolValue(true), true
			}
		}
		return BoolValue(false), true
	})
	prim(vm, c.objectClass, "!", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		return False, true
	})
	prim(vm, c.classClass, "name", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		return newString(args[0].(*ObjClass).Name), true
	})
	prim(vm, c.classClass, "toString", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		return newString(args[0].(*ObjClass).Name), true
	})
	prim(vm, c.classClass, "supertype", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		sup := args[0].(*ObjClass).Superclass
		if sup == nil {
			return Null, true
		}
		return sup, true
	})
}

func requireNum(v Value) (float64, bool) {
	n, ok := v.(Num)
	return float64(n), ok
}

func registerNumMethods(vm *VM, c *coreClasses) {
	binop := func(sig string, f func(a, b float64) Value) {
		prim(vm, c.numClass, sig, func(vm *VM, fb *Fiber, args []Value) (Value, bool) {
			a, _ := requireNum(args[0])
			b, ok := requireNum(args[1])
			if !ok {
				return newString(fmt.Sprintf("%s expects a Num argument.", sig)), true
			}
			return f(a, b), true
		})
	}
	binop("+(_)", func(a, b float64) Value { return NumValue(a + b) })
	binop("-(_)", func(a, b float64) Value { return NumValue(a - b) })
	binop("*(_)", func(a, b float64) Value { return NumValue(a * b) })
	binop("/(_)", func(a, b float64) Value { return NumValue(a / b) })
	binop("%(_)", func(a, b float64) Value { return NumValue(modFloat(a, b)) })
	binop("<(_)", func(a, b float64) Value { return BoolValue(a < b) })
	binop(">(_)", func(a, b float64) Value { return BoolValue(a > b) })
	binop("<=(_)", func(a, b float64) Value { return BoolValue(a <= b) })
	binop(">=(_)", func(a, b float64) Value { return BoolValue(a >= b) })
	binop("==(_)", func(a, b float64) Value { return BoolValue(a == b) })
	binop("!=(_)", func(a, b float64) Value { return BoolValue(a != b) })
	binop("..(_)", func(a, b float64) Value { return newRange(a, b, true) })
	binop("...(_)", func(a, b float64) Value { return newRange(a, b, false) })

	prim(vm, c.numClass, "-", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		n, _ := requireNum(args[0])
		return NumValue(-n), true
	})
	prim(vm, c.numClass, "abs", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		n, _ := requireNum(args[0])
		return NumValue(math.Abs(n)), true
	})
	prim(vm, c.numClass, "sqrt", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		n, _ := requireNum(args[0])
		return NumValue(math.Sqrt(n)), true
	})
	prim(vm, c.numClass, "floor", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		n, _ := requireNum(args[0])
		return NumValue(math.Floor(n)), true
	})
	prim(vm, c.numClass, "ceil", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		n, _ := requireNum(args[0])
		return NumValue(math.Ceil(n)), true
	})
	prim(vm, c.numClass, "toString", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		n, _ := requireNum(args[0])
		return newString(formatNum(n)), true
	})
	prim(vm, c.numClass, "isNan", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		n, _ := requireNum(args[0])
		return BoolValue(math.IsNaN(n)), true
	})
}

func registerStringMethods(vm *VM, c *coreClasses) {
	prim(vm, c.stringClass, "+(_)", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		a := args[0].(*ObjString)
		b, ok := args[1].(*ObjString)
		if !ok {
			return newString("Right operand must be a String."), true
		}
		return newString(a.Value + b.Value), true
	})
	prim(vm, c.stringClass, "length", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		return NumValue(float64(len([]rune(args[0].(*ObjString).Value)))), true
	})
	prim(vm, c.stringClass, "toString", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		return args[0], true
	})
	prim(vm, c.stringClass, "[_]", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		s := []rune(args[0].(*ObjString).Value)
		idx, ok := requireNum(args[1])
		if !ok || int(idx) < 0 || int(idx) >= len(s) {
			return newString("String index out of bounds."), true
		}
		return newString(string(s[int(idx)])), true
	})
	prim(vm, c.stringClass, "==(_)", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		return BoolValue(valuesEqual(args[0], args[1])), true
	})
	prim(vm, c.stringClass, "contains(_)", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		a := args[0].(*ObjString)
		b, ok := args[1].(*ObjString)
		if !ok {
			return BoolValue(false), true
		}
		return BoolValue(stringsContains(a.Value, b.Value)), true
	})
}

func stringsContains(s, sub string) bool {
	if len(sub) == 0 {
		return true
	}
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func registerListMethods(vm *VM, c *coreClasses) {
	prim(vm, c.listClass.Metaclass, "new()", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		return newList(nil), true
	})
	prim(vm, c.listClass, "add(_)", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		l := args[0].(*ObjList)
		l.Elements = append(l.Elements, args[1])
		return args[1], true
	})
	// addCore_(_) appends like add(_) but returns the list, so a list
	// literal can chain one call per element.
	prim(vm, c.listClass, "addCore_(_)", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		l := args[0].(*ObjList)
		l.Elements = append(l.Elements, args[1])
		return args[0], true
	})
	prim(vm, c.listClass, "length", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		return NumValue(float64(len(args[0].(*ObjList).Elements))), true
	})
	prim(vm, c.listClass, "[_]", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		l := args[0].(*ObjList)
		idx, ok := requireNum(args[1])
		if !ok || int(idx) < 0 || int(idx) >= len(l.Elements) {
			return newString("List index out of bounds."), true
		}
		return l.Elements[int(idx)], true
	})
	prim(vm, c.listClass, "[_]=(_)", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		l := args[0].(*ObjList)
		idx, ok := requireNum(args[1])
		if !ok || int(idx) < 0 || int(idx) >= len(l.Elements) {
			return newString("List index out of bounds."), true
		}
		l.Elements[int(idx)] = args[2]
		return args[2], true
	})
	prim(vm, c.listClass, "toString", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		return newString(args[0].(*ObjList).String(vm)), true
	})
	prim(vm, c.listClass, "iterate(_)", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		l := args[0].(*ObjList)
		var idx float64 = -1
		if n, ok := requireNum(args[1]); ok {
			idx = n
		}
		idx++
		if int(idx) >= len(l.Elements) {
			return False, true
		}
		return NumValue(idx), true
	})
	prim(vm, c.listClass, "iteratorValue(_)", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		l := args[0].(*ObjList)
		idx, _ := requireNum(args[1])
		return l.Elements[int(idx)], true
	})
}

func registerMapMethods(vm *VM, c *coreClasses) {
	prim(vm, c.mapClass.Metaclass, "new()", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		return newMap(), true
	})
	prim(vm, c.mapClass, "[_]=(_)", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		m := args[0].(*ObjMap)
		if !isHashable(args[1]) {
			return newString("Key must be hashable."), true
		}
		m.Set(args[1], args[2])
		return args[2], true
	})
	// addCore_(_,_) stores like [_]=(_) but returns the map, so a map
	// literal can chain one call per entry.
	prim(vm, c.mapClass, "addCore_(_,_)", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		m := args[0].(*ObjMap)
		if !isHashable(args[1]) {
			panic(&abortError{value: newString("Key must be hashable.")})
		}
		m.Set(args[1], args[2])
		return args[0], true
	})
	prim(vm, c.mapClass, "[_]", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		m := args[0].(*ObjMap)
		v, ok := m.Get(args[1])
		if !ok {
			return Null, true
		}
		return v, true
	})
	prim(vm, c.mapClass, "containsKey(_)", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		m := args[0].(*ObjMap)
		_, ok := m.Get(args[1])
		return BoolValue(ok), true
	})
	prim(vm, c.mapClass, "remove(_)", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		m := args[0].(*ObjMap)
		v, ok := m.Delete(args[1])
		if !ok {
			return Null, true
		}
		return v, true
	})
	prim(vm, c.mapClass, "count", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		return NumValue(float64(args[0].(*ObjMap).Count)), true
	})
	prim(vm, c.mapClass, "toString", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		return newString(args[0].(*ObjMap).String(vm)), true
	})
}

func registerRangeMethods(vm *VM, c *coreClasses) {
	prim(vm, c.rangeClass, "from", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		return NumValue(args[0].(*ObjRange).From), true
	})
	prim(vm, c.rangeClass, "to", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		return NumValue(args[0].(*ObjRange).To), true
	})
	prim(vm, c.rangeClass, "toString", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		return newString(args[0].(*ObjRange).String()), true
	})
	prim(vm, c.rangeClass, "iterate(_)", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		r := args[0].(*ObjRange)
		cur, ok := requireNum(args[1])
		step := 1.0
		if r.To < r.From {
			step = -1.0
		}
		if !ok {
			cur = r.From - step
		}
		next := cur + step
		if r.Inclusive {
			if step > 0 && next > r.To {
				return False, true
			}
			if step < 0 && next < r.To {
				return False, true
			}
		} else {
			if step > 0 && next >= r.To {
				return False, true
			}
			if step < 0 && next <= r.To {
				return False, true
			}
		}
		return NumValue(next), true
	})
	prim(vm, c.rangeClass, "iteratorValue(_)", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		return args[1], true
	})
}

// asClosure normalizes a Fn-typed value to a callable *ObjClosure — a
// bare *ObjFn reaching here (e.g. a method body bound straight from a
// CLOSURE-free constant) gets wrapped with zero upvalues, matching how
// opMethodInstance wraps bodies on bind.
func asClosure(v Value) (*ObjClosure, bool) {
	switch fn := v.(type) {
	case *ObjClosure:
		return fn, true
	case *ObjFn:
		return newClosure(fn), true
	}
	return nil, false
}

func registerFnMethods(vm *VM, c *coreClasses) {
	prim(vm, c.fnClass, "arity", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		switch fn := args[0].(type) {
		case *ObjClosure:
			return NumValue(float64(fn.Fn.Arity)), true
		case *ObjFn:
			return NumValue(float64(fn.Arity)), true
		}
		return NumValue(0), true
	})
	prim(vm, c.fnClass.Metaclass, "new(_)", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		closure, ok := asClosure(args[1])
		if !ok {
			panic(&abortError{value: newString("Fn.new requires a function.")})
		}
		return closure, true
	})
	// call()/call(_)/.../call(_,_,...16 times) all push a frame for the
	// receiver closure directly instead of returning a value, the same
	// way invokeOn's methodBlock case runs a user-defined method body —
	// the receiver and its arguments are already laid out on the stack
	// exactly as a normal CALL instruction would leave them.
	for n := 0; n <= 16; n++ {
		arity := n
		prim(vm, c.fnClass, placeholderSignature("call", arity), func(vm *VM, f *Fiber, args []Value) (Value, bool) {
			closure, ok := asClosure(args[0])
			if !ok {
				panic(&abortError{value: newString("Cannot call an object that is not a function.")})
			}
			base := len(f.stack) - arity - 1
			f.pushFrame(closure, base)
			return Null, false
		})
	}
}

// resumeFiber is the shared engine behind Fiber.call/Fiber.try: it
// switches vm.fiber to target, handing it `value` either as the
// function's first parameter (slot 1, which newFiber reserved) when
// target has not started yet, or as the result of the Fiber.yield call
// target is suspended in, and leaves the calling fiber's stack
// already cleaned up since invokeOn skips its own drop/push once it
// notices vm.fiber changed.
func resumeFiber(vm *VM, caller *Fiber, target *Fiber, numArgs int, value Value, asTry bool) (Value, bool) {
	if !target.hasFrames() {
		panic(&abortError{value: newString("Cannot call a finished fiber.")})
	}
	if target.caller != nil {
		panic(&abortError{value: newString("The fiber has already been called.")})
	}
	caller.dropN(numArgs + 1)
	target.caller = caller
	if asTry {
		target.state = fiberTry
	} else {
		target.state = fiberOther
	}
	if len(target.frames) == 1 && target.frames[0].ip == 0 {
		if len(target.stack) > 1 {
			target.stack[1] = value
		}
	} else {
		target.push(value)
	}
	vm.fiber = target
	return Null, false
}

func registerFiberMethods(vm *VM, c *coreClasses) {
	prim(vm, c.fiberClass.Metaclass, "new(_)", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		closure, ok := args[1].(*ObjClosure)
		if !ok {
			panic(&abortError{value: newString("Fiber.new requires a function.")})
		}
		return newFiber(closure), true
	})
	prim(vm, c.fiberClass.Metaclass, "current", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		return vm.fiber, true
	})
	prim(vm, c.fiberClass.Metaclass, "yield()", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		return yieldFiber(vm, f, 0, Null), false
	})
	prim(vm, c.fiberClass.Metaclass, "yield(_)", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		return yieldFiber(vm, f, 1, args[1]), false
	})
	prim(vm, c.fiberClass.Metaclass, "abort(_)", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		panic(&abortError{value: args[1]})
	})
	prim(vm, c.fiberClass.Metaclass, "suspend()", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		vm.fiber = nil
		return Null, false
	})
	prim(vm, c.fiberClass, "call()", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		return resumeFiber(vm, f, args[0].(*Fiber), 0, Null, false)
	})
	prim(vm, c.fiberClass, "call(_)", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		return resumeFiber(vm, f, args[0].(*Fiber), 1, args[1], false)
	})
	prim(vm, c.fiberClass, "try()", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		return resumeFiber(vm, f, args[0].(*Fiber), 0, Null, true)
	})
	prim(vm, c.fiberClass, "try(_)", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		return resumeFiber(vm, f, args[0].(*Fiber), 1, args[1], true)
	})
	prim(vm, c.fiberClass, "isDone", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		fb := args[0].(*Fiber)
		return BoolValue(!fb.hasFrames()), true
	})
	prim(vm, c.fiberClass, "error", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		fb := args[0].(*Fiber)
		if fb.err == nil {
			return Null, true
		}
		return fb.err, true
	})
}

// yieldFiber suspends the running fiber f, handing `value` to
// whichever fiber resumes it (the return value of the call() or
// try() that is waiting on f's caller), and switches vm.fiber to that
// caller. Caller-less fibers (the root script fiber) have nothing to
// yield to and abort instead, mirroring wrenFiberYield's own check.
func yieldFiber(vm *VM, f *Fiber, numArgs int, value Value) Value {
	if f.caller == nil {
		panic(&abortError{value: newString("Cannot yield from a fiber with no caller.")})
	}
	f.dropN(numArgs + 1)
	caller := f.caller
	f.caller = nil
	f.state = fiberOther
	caller.push(value)
	vm.fiber = caller
	return Null
}

func registerSystemMethods(vm *VM, c *coreClasses) {
	prim(vm, c.systemClass.Metaclass, "print(_)", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		if vm.config.Write != nil {
			vm.config.Write(vm, ToString(vm, args[1])+"\n")
		}
		return args[1], true
	})
	prim(vm, c.systemClass.Metaclass, "write(_)", func(vm *VM, f *Fiber, args []Value) (Value, bool) {
		if vm.config.Write != nil {
			vm.config.Write(vm, ToString(vm, args[1]))
		}
		return args[1], true
	})
}
