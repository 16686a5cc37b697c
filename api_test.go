package wren

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForeignMethod_SlotsReadArgsAndReturnValue(t *testing.T) {
	var out, errs []string
	config := &Configuration{
		Tunables: NewTunables(),
		Write: func(vm *VM, text string) {
			out = append(out, text)
		},
		Error: func(vm *VM, kind ErrorKind, module string, line int, message string) {
			errs = append(errs, message)
		},
		BindForeignMethod: func(module, className string, isStatic bool, signature string) ForeignMethodFn {
			if className == "Adder" && signature == "add(_,_)" {
				return func(slots *Slots) {
					sum := slots.GetDouble(1) + slots.GetDouble(2)
					slots.SetDouble(0, sum)
				}
			}
			return nil
		},
	}
	vm := NewVM(config)

	err := vm.Interpret("main", `
		foreign class Adder {
			construct new() {}
			foreign add(a, b)
		}
		System.print(Adder.new().add(3, 4))
	`)

	require.NoError(t, err)
	assert.Empty(t, errs)
	require.Len(t, out, 1)
	assert.Equal(t, "7\n", out[0])
}

func TestForeignClass_AllocatedPayloadReadByMethod(t *testing.T) {
	var out, errs []string
	finalized := 0
	config := &Configuration{
		Tunables: NewTunables(),
		Write: func(vm *VM, text string) {
			out = append(out, text)
		},
		Error: func(vm *VM, kind ErrorKind, module string, line int, message string) {
			errs = append(errs, message)
		},
		BindForeignClass: func(module, className string) (ForeignAllocateFn, ForeignFinalizeFn) {
			if className != "Counter" {
				return nil, nil
			}
			allocate := func(slots *Slots) any {
				return 0
			}
			finalize := func(data any) {
				finalized++
			}
			return allocate, finalize
		},
		BindForeignMethod: func(module, className string, isStatic bool, signature string) ForeignMethodFn {
			if className == "Counter" && signature == "value" {
				return func(slots *Slots) {
					slots.SetDouble(0, float64(slots.GetForeign(0).(int)))
				}
			}
			return nil
		},
	}
	vm := NewVM(config)

	err := vm.Interpret("main", `
		foreign class Counter {
			construct new() {}
			foreign value
		}
		System.print(Counter.new().value)
	`)

	require.NoError(t, err)
	assert.Empty(t, errs)
	require.Len(t, out, 1)
	assert.Equal(t, "0\n", out[0])
}

func TestSlots_ListConstruction(t *testing.T) {
	var out []string
	config := &Configuration{
		Tunables: NewTunables(),
		Write: func(vm *VM, text string) {
			out = append(out, text)
		},
		BindForeignMethod: func(module, className string, isStatic bool, signature string) ForeignMethodFn {
			if className == "Factory" && signature == "pair(_,_)" {
				return func(slots *Slots) {
					slots.Ensure(5)
					slots.NewList(3)
					slots.Set(4, slots.Get(1))
					slots.ListAppend(3, 4)
					slots.Set(4, slots.Get(2))
					slots.ListAppend(3, 4)
					slots.Set(0, slots.Get(3))
				}
			}
			return nil
		},
	}
	vm := NewVM(config)

	err := vm.Interpret("main", `
		foreign class Factory {
			construct new() {}
			foreign pair(a, b)
		}
		var list = Factory.new().pair(1, 2)
		System.print(list.length)
		System.print(list[0])
		System.print(list[1])
	`)

	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "2\n", out[0])
	assert.Equal(t, "1\n", out[1])
	assert.Equal(t, "2\n", out[2])
}

func TestSlots_AbortFiberReportsRuntimeError(t *testing.T) {
	var errs []string
	config := &Configuration{
		Tunables: NewTunables(),
		Write:    func(vm *VM, text string) {},
		Error: func(vm *VM, kind ErrorKind, module string, line int, message string) {
			errs = append(errs, message)
		},
		BindForeignMethod: func(module, className string, isStatic bool, signature string) ForeignMethodFn {
			if className == "Guard" && signature == "check(_)" {
				return func(slots *Slots) {
					if !slots.GetBool(1) {
						slots.SetString(1, "check failed")
						slots.AbortFiber(1)
					}
				}
			}
			return nil
		},
	}
	vm := NewVM(config)

	err := vm.Interpret("main", `
		foreign class Guard {
			construct new() {}
			foreign check(ok)
		}
		Guard.new().check(false)
	`)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "check failed")
	require.NotEmpty(t, errs)
}

func TestSlots_Type(t *testing.T) {
	var out []string
	config := &Configuration{
		Tunables: NewTunables(),
		Write: func(vm *VM, text string) {
			out = append(out, text)
		},
		BindForeignMethod: func(module, className string, isStatic bool, signature string) ForeignMethodFn {
			if className == "Inspector" && signature == "describe(_)" {
				return func(slots *Slots) {
					slots.SetString(0, slots.Type(1))
				}
			}
			return nil
		},
	}
	vm := NewVM(config)

	err := vm.Interpret("main", `
		foreign class Inspector {
			construct new() {}
			foreign describe(x)
		}
		System.print(Inspector.new().describe(3.5))
		System.print(Inspector.new().describe("hi"))
	`)

	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "number\n", out[0])
	assert.Equal(t, "String\n", out[1])
}
