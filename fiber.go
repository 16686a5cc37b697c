package wren

// fiberState tracks how a Fiber was entered, which governs both what
// `Fiber.call`/`Fiber.try` are allowed to do to it and how an
// abortError unwinds: a `try`-state fiber is the unwind's catch point,
// a root fiber with no caller is the last one and turns the abort
// into a reported RuntimeError.
type fiberState int

const (
	fiberOther fiberState = iota
	fiberRoot
	fiberTry
	fiberStopped
)

// Fiber is a cooperative coroutine: its own value stack, its own
// frame stack, and the list of upvalues still open onto that value
// stack. Fibers form a caller chain through `caller`, walked by
// `return`/`yield`/an uncaught abort to find the fiber execution
// resumes on.
type Fiber struct {
	objHeader
	stack       []Value
	frames      []callFrame
	openUpvalues []*ObjUpvalue
	caller      *Fiber
	state       fiberState
	err         Value
}

func (*Fiber) valueTypeName() string { return "Fiber" }

const initialFiberStackSize = 64

// newFiber starts a fiber on closure, reserving slot 0 (the function
// object's own slot) and one slot per parameter after it, so
// Fiber.call(_) can write the value it passes into slot 1, where the
// function's first parameter lives, matching how a normal CALL
// instruction lays out its receiver/argument slots.
func newFiber(closure *ObjClosure) *Fiber {
	f := &Fiber{
		stack: make([]Value, 0, initialFiberStackSize),
	}
	if closure != nil {
		numSlots := closure.Fn.Arity + 1
		for i := 0; i < numSlots; i++ {
			f.push(Null)
		}
		f.pushFrame(closure, 0)
	}
	return f
}

func (f *Fiber) push(v Value) {
	f.stack = append(f.stack, v)
}

func (f *Fiber) pop() Value {
	n := len(f.stack) - 1
	v := f.stack[n]
	f.stack = f.stack[:n]
	return v
}

func (f *Fiber) top() Value {
	return f.stack[len(f.stack)-1]
}

func (f *Fiber) peek(distanceFromTop int) Value {
	return f.stack[len(f.stack)-1-distanceFromTop]
}

func (f *Fiber) dropN(n int) {
	f.stack = f.stack[:len(f.stack)-n]
}

func (f *Fiber) pushFrame(closure *ObjClosure, base int) *callFrame {
	f.frames = append(f.frames, callFrame{closure: closure, base: base})
	return &f.frames[len(f.frames)-1]
}

func (f *Fiber) popFrame() {
	f.frames = f.frames[:len(f.frames)-1]
}

func (f *Fiber) currentFrame() *callFrame {
	return &f.frames[len(f.frames)-1]
}

func (f *Fiber) hasFrames() bool {
	return len(f.frames) > 0
}

// captureUpvalue returns the open upvalue for stack index, creating
// one if none exists yet. The open-upvalue list stays sorted by
// index, deepest (highest index) first, so closeUpvalues can stop at
// the first entry shallower than the closing boundary.
func (f *Fiber) captureUpvalue(index int) *ObjUpvalue {
	insertAt := len(f.openUpvalues)
	for i, uv := range f.openUpvalues {
		if uv.index == index {
			return uv
		}
		if uv.index < index {
			insertAt = i
			break
		}
	}
	uv := &ObjUpvalue{container: &f.stack, index: index}
	f.openUpvalues = append(f.openUpvalues, nil)
	copy(f.openUpvalues[insertAt+1:], f.openUpvalues[insertAt:])
	f.openUpvalues[insertAt] = uv
	return uv
}

// closeUpvalues closes every open upvalue at or above stack index
// `from`, detaching each one from the live stack slot it pointed at
// so it survives the slot being popped or overwritten.
func (f *Fiber) closeUpvalues(from int) {
	i := 0
	for i < len(f.openUpvalues) && f.openUpvalues[i].index >= from {
		f.openUpvalues[i].close()
		i++
	}
	f.openUpvalues = f.openUpvalues[i:]
}
