package wren

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestVM builds a VM that appends every System.print/write line to
// `out` and every error message to `errs`, so tests can assert on
// observable script output without touching stdio.
func newTestVM(out, errs *[]string) *VM {
	config := &Configuration{
		Tunables: NewTunables(),
		Write: func(vm *VM, text string) {
			*out = append(*out, text)
		},
		Error: func(vm *VM, kind ErrorKind, module string, line int, message string) {
			*errs = append(*errs, message)
		},
	}
	return NewVM(config)
}

func TestInterpret_PrintArithmetic(t *testing.T) {
	var out, errs []string
	vm := newTestVM(&out, &errs)

	err := vm.Interpret("main", `System.print(1 + 2)`)

	require.NoError(t, err)
	assert.Empty(t, errs)
	require.Len(t, out, 1)
	assert.Equal(t, "3\n", out[0])
}

func TestInterpret_ForLoopSum(t *testing.T) {
	var out, errs []string
	vm := newTestVM(&out, &errs)

	err := vm.Interpret("main", `
		var sum = 0
		for (i in 1..5) {
			sum = sum + i
		}
		System.print(sum)
	`)

	require.NoError(t, err)
	assert.Empty(t, errs)
	require.Len(t, out, 1)
	assert.Equal(t, "15\n", out[0])
}

func TestInterpret_SingleInheritanceAndSuper(t *testing.T) {
	var out, errs []string
	vm := newTestVM(&out, &errs)

	err := vm.Interpret("main", `
		class Animal {
			construct new() {}
			speak() {
				System.print("...")
			}
		}
		class Dog is Animal {
			speak() {
				super.speak()
				System.print("Woof")
			}
		}
		Dog.new().speak()
	`)

	require.NoError(t, err)
	assert.Empty(t, errs)
	require.Len(t, out, 2)
	assert.Equal(t, "...\n", out[0])
	assert.Equal(t, "Woof\n", out[1])
}

func TestInterpret_ConstructorAndFieldGetter(t *testing.T) {
	var out, errs []string
	vm := newTestVM(&out, &errs)

	err := vm.Interpret("main", `
		class Point {
			construct new(x, y) {
				_x = x
				_y = y
			}
			x { _x }
			y { _y }
		}
		var p = Point.new(3, 4)
		System.print(p.x)
		System.print(p.y)
	`)

	require.NoError(t, err)
	assert.Empty(t, errs)
	require.Len(t, out, 2)
	assert.Equal(t, "3\n", out[0])
	assert.Equal(t, "4\n", out[1])
}

func TestInterpret_FiberYieldResume(t *testing.T) {
	var out, errs []string
	vm := newTestVM(&out, &errs)

	err := vm.Interpret("main", `
		var f = Fiber.new {
			System.print("a")
			Fiber.yield()
			System.print("b")
		}
		f.call()
		System.print("between")
		f.call()
	`)

	require.NoError(t, err)
	assert.Empty(t, errs)
	require.Len(t, out, 3)
	assert.Equal(t, "a\n", out[0])
	assert.Equal(t, "between\n", out[1])
	assert.Equal(t, "b\n", out[2])
}

func TestInterpret_FiberTryCatchesAbort(t *testing.T) {
	var out, errs []string
	vm := newTestVM(&out, &errs)

	err := vm.Interpret("main", `
		var f = Fiber.new {
			Fiber.abort("boom")
		}
		f.try()
		System.print(f.error)
	`)

	require.NoError(t, err)
	assert.Empty(t, errs)
	require.Len(t, out, 1)
	assert.Equal(t, "boom\n", out[0])
}

func TestInterpret_FiberTryReturnsErrorValue(t *testing.T) {
	var out, errs []string
	vm := newTestVM(&out, &errs)

	// spec.md Scenario 5: `f.try()` itself must evaluate to the abort
	// value, not just make it readable later through `f.error`.
	err := vm.Interpret("main", `
		var f = Fiber.new {
			Fiber.abort("oops")
		}
		System.print(f.try())
	`)

	require.NoError(t, err)
	assert.Empty(t, errs)
	require.Len(t, out, 1)
	assert.Equal(t, "oops\n", out[0])
}

func TestInterpret_UncaughtAbortReportsRuntimeError(t *testing.T) {
	var out, errs []string
	vm := newTestVM(&out, &errs)

	err := vm.Interpret("main", `Fiber.abort("nope")`)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
	require.NotEmpty(t, errs)
}

func TestInterpret_CompileErrorReported(t *testing.T) {
	var out, errs []string
	vm := newTestVM(&out, &errs)

	err := vm.Interpret("main", `var x = `)

	require.Error(t, err)
	require.NotEmpty(t, errs)
}

func TestInterpret_ListAndMapLiterals(t *testing.T) {
	var out, errs []string
	vm := newTestVM(&out, &errs)

	err := vm.Interpret("main", `
		var list = [1, 2, 3]
		list.add(4)
		System.print(list.length)
		var map = {"a": 1}
		System.print(map["a"])
	`)

	require.NoError(t, err)
	assert.Empty(t, errs)
	require.Len(t, out, 2)
	assert.Equal(t, "4\n", out[0])
	assert.Equal(t, "1\n", out[1])
}

func TestInterpret_StringInterpolation(t *testing.T) {
	var out, errs []string
	vm := newTestVM(&out, &errs)

	err := vm.Interpret("main", `
		var name = "world"
		System.print("hello %(name)!")
	`)

	require.NoError(t, err)
	assert.Empty(t, errs)
	require.Len(t, out, 1)
	assert.Equal(t, "hello world!\n", out[0])
}

func TestInterpret_Closures(t *testing.T) {
	var out, errs []string
	vm := newTestVM(&out, &errs)

	err := vm.Interpret("main", `
		var makeCounter = Fn.new {
			var count = 0
			return Fn.new {
				count = count + 1
				return count
			}
		}
		var counter = makeCounter.call()
		System.print(counter.call())
		System.print(counter.call())
	`)

	require.NoError(t, err)
	assert.Empty(t, errs)
	require.Len(t, out, 2)
	assert.Equal(t, "1\n", out[0])
	assert.Equal(t, "2\n", out[1])
}

func TestDisassemble_DoesNotPanicOnCompiledModule(t *testing.T) {
	var errs []string
	vm := newTestVM(&[]string{}, &errs)
	closure, err := vm.compileModule("main", `System.print(1)`)
	require.NoError(t, err)

	out := Disassemble(closure.Fn)
	assert.True(t, strings.Contains(out, "=="))
}
