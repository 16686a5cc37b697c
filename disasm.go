package wren

import (
	"fmt"
	"strings"

	"github.com/truehaley/wren/ascii"
)

// Disassemble renders fn's bytecode as one instruction per line,
// offset-prefixed, matching wrenDumpCode's output shape (offset,
// mnemonic, decoded operands, and the source line when it changes).
func Disassemble(fn *ObjFn) string {
	return disassemble(fn, false)
}

// DisassembleColor is Disassemble with ANSI syntax highlighting via
// the ascii package's DefaultTheme, the same "optional colorized dump"
// facility clarete-langlang/vm_program.go's HighlightPrettyString
// offers for its own bytecode-adjacent pretty-printer.
func DisassembleColor(fn *ObjFn) string {
	return disassemble(fn, true)
}

func disassemble(fn *ObjFn, color bool) string {
	var b strings.Builder
	name := fn.DebugName
	if name == "" {
		name = "(anonymous)"
	}
	fmt.Fprintf(&b, "== %s ==\n", name)
	lastLine := -1
	for ip := 0; ip < len(fn.Code); {
		ip = disassembleInstruction(&b, fn, ip, &lastLine, color)
	}
	return b.String()
}

func disassembleInstruction(b *strings.Builder, fn *ObjFn, ip int, lastLine *int, color bool) int {
	op := Opcode(fn.Code[ip])
	line := 0
	if ip < len(fn.Lines) {
		line = fn.Lines[ip]
	}
	if line != *lastLine {
		fmt.Fprintf(b, "%4d ", line)
		*lastLine = line
	} else {
		b.WriteString("   | ")
	}
	fmt.Fprintf(b, "%04d ", ip)

	mnemonic := op.String()
	if color {
		mnemonic = ascii.Color(ascii.DefaultTheme.Operator, "%s", mnemonic)
	}
	b.WriteString(mnemonic)

	argStart := ip + 1
	size := op.argSize()
	switch {
	case op == opClosure:
		idx := int(fn.Code[argStart])<<8 | int(fn.Code[argStart+1])
		constFn, _ := fn.Constants[idx].(*ObjFn)
		fmt.Fprintf(b, " %d", idx)
		end := argStart + 2
		if constFn != nil {
			for i := 0; i < constFn.NumUpvalues; i++ {
				isLocal := fn.Code[end]
				index := fn.Code[end+1]
				kind := "upvalue"
				if isLocal != 0 {
					kind = "local"
				}
				fmt.Fprintf(b, " (%s %d)", kind, index)
				end += 2
			}
		}
		b.WriteByte('\n')
		return end
	case size == 1:
		fmt.Fprintf(b, " %d", fn.Code[argStart])
	case size == 2:
		v := int(fn.Code[argStart])<<8 | int(fn.Code[argStart+1])
		fmt.Fprintf(b, " %d", v)
		if op == opConstant {
			fmt.Fprintf(b, " (%s)", dumpConstant(fn.Constants, v))
		}
	case size == 4:
		v := int(fn.Code[argStart])<<24 | int(fn.Code[argStart+1])<<16 |
			int(fn.Code[argStart+2])<<8 | int(fn.Code[argStart+3])
		fmt.Fprintf(b, " %d", v)
	}
	b.WriteByte('\n')
	if size < 0 {
		size = 0
	}
	return argStart + size
}

func dumpConstant(constants []Value, idx int) string {
	if idx < 0 || idx >= len(constants) {
		return "?"
	}
	return DumpValue(constants[idx])
}

// DumpValue renders a single Value the way wrenDumpValue prints a
// slot's contents for debugging: quoted strings, bracketed
// containers, and every other kind by its class name.
func DumpValue(v Value) string {
	switch vv := v.(type) {
	case objNullType:
		return "null"
	case Bool:
		if vv {
			return "true"
		}
		return "false"
	case Num:
		return formatNum(float64(vv))
	case *ObjString:
		return fmt.Sprintf("%q", vv.Value)
	case *ObjRange:
		return vv.String()
	case *ObjList:
		return fmt.Sprintf("[list %d]", len(vv.Elements))
	case *ObjMap:
		return fmt.Sprintf("[map %d]", vv.Count)
	case *ObjClass:
		return fmt.Sprintf("[class %s]", vv.Name)
	case *ObjFn:
		return fmt.Sprintf("[fn %s]", vv.DebugName)
	case *ObjClosure:
		return fmt.Sprintf("[fn %s]", vv.Fn.DebugName)
	case *Fiber:
		return "[fiber]"
	case *ObjInstance:
		return fmt.Sprintf("[instance of %s]", vv.Class.Name)
	case *ObjForeign:
		return fmt.Sprintf("[foreign %s]", vv.Class.Name)
	default:
		return "[object]"
	}
}

// DumpStack renders every slot of fiber's current frame, bottom to
// top, mirroring wrenDumpStack's per-frame slot listing.
func DumpStack(fiber *Fiber) string {
	var b strings.Builder
	base := 0
	if fiber.hasFrames() {
		base = fiber.currentFrame().base
	}
	for i := base; i < len(fiber.stack); i++ {
		fmt.Fprintf(&b, "[%d] %s\n", i-base, DumpValue(fiber.stack[i]))
	}
	return b.String()
}

// printStackTrace returns one line per surviving call frame,
// skipping frames whose function has no module — the same rule
// wrenDebugPrintStackTrace applies so that built-in/synthesized frames
// don't clutter a reported RuntimeError.
func printStackTrace(frames []StackFrameInfo) string {
	var b strings.Builder
	for _, f := range frames {
		if f.Module == "" {
			continue
		}
		name := f.Fn
		if name == "" {
			name = "(script)"
		}
		fmt.Fprintf(&b, "[%s line %d] in %s\n", f.Module, f.Line, name)
	}
	return b.String()
}
