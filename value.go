package wren

import (
	"fmt"
	"math"
)

// Value is the polymorphic cell every script-visible datum is passed
// around as: the null singleton, a boolean, a number, or a reference
// to a heap object. Go's interface dynamic type serves as the
// discriminant of the tagged union spec.md allows as an alternative
// to NaN-boxing; see DESIGN.md for why NaN-boxing itself is not used.
type Value interface {
	valueTypeName() string
}

// objNullType is the type of the null singleton.
type objNullType struct{}

func (objNullType) valueTypeName() string { return "null" }

// Null is the single instance of the null value.
var Null Value = objNullType{}

// Bool wraps a boolean so it can implement Value.
type Bool bool

func (Bool) valueTypeName() string { return "bool" }

// True and False are the two singleton boolean values.
var (
	True  Value = Bool(true)
	False Value = Bool(false)
)

// Num wraps an IEEE-754 double, the language's only numeric type.
type Num float64

func (Num) valueTypeName() string { return "number" }

// undefinedType marks a module variable slot that has been reserved
// (so forward references resolve to the right slot index) but not
// yet assigned. Neither the compiler nor the interpreter checks for
// it: reading the variable before its defining statement runs yields
// this value, which prints as "<object>".
type undefinedType struct{}

func (undefinedType) valueTypeName() string { return "undefined" }

var undefinedValue Value = undefinedType{}

// BoolValue converts a Go bool to its Value representation.
func BoolValue(b bool) Value {
	if b {
		return True
	}
	return False
}

// NumValue wraps a float64 as a Value.
func NumValue(n float64) Value { return Num(n) }

// IsFalsey reports whether v is one of the two values that make an
// `if`/`while`/`&&`/`||` condition take the false branch: `false` and
// `null`. Every other value, including `0` and `""`, is truthy.
func IsFalsey(v Value) bool {
	switch vv := v.(type) {
	case objNullType:
		return true
	case Bool:
		return !bool(vv)
	default:
		return false
	}
}

// IsNull reports whether v is the null singleton.
func IsNull(v Value) bool {
	_, ok := v.(objNullType)
	return ok
}

// AsNum panics if v is not a Num; callers must check with a type
// switch first, matching the VM's arithmetic fast path which only
// calls this after confirming both operands are numbers.
func AsNum(v Value) float64 {
	return float64(v.(Num))
}

// valuesEqual implements `==` for primitive and heap values.
// Instances, classes, closures, fibers, lists, and maps compare by
// identity (Go pointer equality); strings, numbers, ranges, booleans
// and null compare by content.
func valuesEqual(a, b Value) bool {
	switch av := a.(type) {
	case objNullType:
		return IsNull(b)
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Num:
		bv, ok := b.(Num)
		if !ok {
			return false
		}
		return float64(av) == float64(bv)
	case *ObjString:
		bv, ok := b.(*ObjString)
		return ok && av.Value == bv.Value
	case *ObjRange:
		bv, ok := b.(*ObjRange)
		return ok && av.From == bv.From && av.To == bv.To && av.Inclusive == bv.Inclusive
	default:
		return a == b
	}
}

// isHashable reports whether v may be used as a Map key, per spec.md
// §3: string, number, class object, range, boolean, or null.
func isHashable(v Value) bool {
	switch v.(type) {
	case objNullType, Bool, Num, *ObjString, *ObjRange, *ObjClass:
		return true
	default:
		return false
	}
}

// hashValue computes a content hash for a hashable Value. It is only
// ever called after isHashable has confirmed the value qualifies.
func hashValue(v Value) uint64 {
	switch vv := v.(type) {
	case objNullType:
		return 0x1
	case Bool:
		if bool(vv) {
			return 0x2
		}
		return 0x3
	case Num:
		return hashBits(math.Float64bits(float64(vv)))
	case *ObjString:
		return vv.hash
	case *ObjRange:
		h := hashBits(math.Float64bits(vv.From)) ^ hashBits(math.Float64bits(vv.To))
		if vv.Inclusive {
			h ^= 0xA5A5A5A5
		}
		return h
	case *ObjClass:
		return hashBits(uint64(vv.id))
	default:
		return 0
	}
}

// hashBits is a 64-bit mix function (splitmix64 finalizer), used
// uniformly so the open-addressed Map in object.go gets a
// well-distributed hash regardless of which hashable kind produced it.
func hashBits(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

// ToString renders v the way `System.print` and string interpolation
// do: numbers use up to 14 significant digits (`%.14g`), strings
// are emitted verbatim, and every other value falls back to a
// class-flavored representation.
func ToString(vm *VM, v Value) string {
	switch vv := v.(type) {
	case objNullType:
		return "null"
	case Bool:
		if bool(vv) {
			return "true"
		}
		return "false"
	case Num:
		return formatNum(float64(vv))
	case *ObjString:
		return vv.Value
	case *ObjRange:
		return vv.String()
	case *ObjList:
		return vv.String(vm)
	case *ObjMap:
		return vv.String(vm)
	case *ObjClass:
		return vv.Name
	case *ObjFn:
		return fmt.Sprintf("<fn %s>", vv.DebugName)
	case *ObjClosure:
		return fmt.Sprintf("<fn %s>", vv.Fn.DebugName)
	case *Fiber:
		return "<fiber>"
	case *ObjInstance:
		return fmt.Sprintf("instance of %s", vv.Class.Name)
	case *ObjForeign:
		return fmt.Sprintf("instance of %s", vv.Class.Name)
	default:
		return "<object>"
	}
}

func formatNum(n float64) string {
	switch {
	case math.IsNaN(n):
		return "nan"
	case math.IsInf(n, 1):
		return "infinity"
	case math.IsInf(n, -1):
		return "-infinity"
	}
	return fmt.Sprintf("%.14g", n)
}
