package wren

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// compileOnly runs just the compiler stage (no execution), returning
// whether compilation succeeded and every error message it reported.
func compileOnly(source string) (bool, []string) {
	var errs []string
	vm := newTestVM(&[]string{}, &errs)
	_, err := vm.compileModule("main", source)
	return err == nil, errs
}

func TestCompiler_ShadowingInNestedBlockIsAllowed(t *testing.T) {
	ok, errs := compileOnly(`
		var x = 1
		if (true) {
			var x = 2
			System.print(x)
		}
	`)
	assert.True(t, ok)
	assert.Empty(t, errs)
}

func TestCompiler_BreakOutsideLoopIsAnError(t *testing.T) {
	ok, errs := compileOnly(`break`)
	assert.False(t, ok)
	assert.NotEmpty(t, errs)
}

func TestCompiler_ContinueOutsideLoopIsAnError(t *testing.T) {
	ok, errs := compileOnly(`continue`)
	assert.False(t, ok)
	assert.NotEmpty(t, errs)
}

func TestCompiler_SuperOutsideMethodIsAnError(t *testing.T) {
	ok, errs := compileOnly(`super.foo()`)
	assert.False(t, ok)
	assert.NotEmpty(t, errs)
}

// TestCompiler_NestedClosuresCaptureUpvaluesAcrossTwoLevels guards
// addUpvalue/resolveUpvalue's "forward an enclosing upvalue, don't
// always recapture the outermost local" rule: the innermost closure
// reaches `count` through the middle closure's own upvalue slot, not
// by re-resolving it as a fresh local capture.
func TestCompiler_NestedClosuresCaptureUpvaluesAcrossTwoLevels(t *testing.T) {
	var out, errs []string
	vm := newTestVM(&out, &errs)

	err := vm.Interpret("main", `
		var outer = Fn.new {
			var count = 0
			var middle = Fn.new {
				var inner = Fn.new {
					count = count + 1
					return count
				}
				return inner.call()
			}
			return middle.call() + middle.call()
		}
		System.print(outer.call())
	`)

	require.NoError(t, err)
	assert.Empty(t, errs)
	require.Len(t, out, 1)
	assert.Equal(t, "3\n", out[0])
}

func TestCompiler_MethodSignatureArityDisassemblesWithCallOperand(t *testing.T) {
	var out, errs []string
	vm := newTestVM(&out, &errs)

	closure, err := vm.compileModule("main", `
		class Greeter {
			construct new() {}
			greet(a, b) {
				System.print(a)
				System.print(b)
			}
		}
		Greeter.new().greet("hi", "there")
	`)
	require.NoError(t, err)
	require.Empty(t, errs)

	out2 := Disassemble(closure.Fn)
	// The module body calls greet/2 through a two-argument CALL opcode;
	// its disassembly must name the opcode family, not silently emit
	// a zero-arg call for a two-arg signature.
	assert.True(t, strings.Contains(out2, "CALL") || strings.Contains(out2, "call"))
}

func TestCompiler_ForLoopDesugarsToIteratorProtocolCalls(t *testing.T) {
	var out, errs []string
	vm := newTestVM(&out, &errs)

	err := vm.Interpret("main", `
		var total = 0
		for (x in [10, 20, 30]) {
			total = total + x
		}
		System.print(total)
	`)

	require.NoError(t, err)
	assert.Empty(t, errs)
	require.Len(t, out, 1)
	assert.Equal(t, "60\n", out[0])
}

func TestCompiler_FieldAccessOutsideClassIsAnError(t *testing.T) {
	ok, errs := compileOnly(`System.print(_foo)`)
	assert.False(t, ok)
	assert.NotEmpty(t, errs)
}
