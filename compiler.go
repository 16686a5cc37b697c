package wren

import (
	"fmt"
	"strings"
)

// local is one slot in the compiler's scope stack: a declared name,
// the block depth it was declared at, and whether any nested
// function captures it as an upvalue (captured locals must be closed
// with CLOSE_UPVALUE when their scope ends instead of just popped).
type local struct {
	name     string
	depth    int
	isUpvalue bool
}

// compilerUpvalue records how one slot of a function's upvalue array
// is populated when a CLOSURE instruction runs: either copied from a
// local slot of the immediately enclosing function, or forwarded from
// one of that function's own upvalues.
type compilerUpvalue struct {
	isLocal bool
	index   int
}

// classCompiler tracks the class body currently being compiled, so
// that method bodies can resolve `this`, `super`, and field names to
// the right slot/symbol, and so METHOD_INSTANCE/METHOD_STATIC know
// which class and metaclass to attach to.
type classCompiler struct {
	name       string
	isForeign  bool
	inStatic   bool
	fields     map[string]int
	numFields  int
	superclass *classCompiler
}

// compiler compiles one function body (the outermost compiler
// compiles the implicit module-body function) using a single-pass,
// Pratt-style scheme: no separate AST is built, expressions emit
// bytecode directly as they parse, matching the reference compiler's
// one-pass design and the teacher's emit-then-patch idiom from its
// grammar compiler (openAddrs/definitionLabels generalized here to
// jump-offset backpatching).
type compiler struct {
	vm      *VM
	parent  *compiler
	module  *ObjModule
	fn      *ObjFn
	errs    *compileErrorList
	lex     *lexer
	prev    token
	cur     token
	next    token
	locals  []local
	upvalues []compilerUpvalue
	scopeDepth int
	loops   []loopCompiler
	class   *classCompiler
	isMethod bool
	// params holds the parameter names of the method signature being
	// parsed, in order, for declareMethodParams.
	params []string
}

type loopCompiler struct {
	start      int
	exitJump   int
	breakJumps []int
	depth      int
}

func newCompiler(vm *VM, module *ObjModule, source, debugName string, errs *compileErrorList, parent *compiler) *compiler {
	c := &compiler{
		vm:     vm,
		parent: parent,
		module: module,
		fn:     newFn(module, debugName),
		errs:   errs,
	}
	if parent == nil {
		c.lex = newLexer(module.Name, source, errs)
		c.advance()
		c.advance()
	} else {
		c.lex = parent.lex
		c.cur = parent.cur
		c.next = parent.next
	}
	// Slot 0 is reserved for the receiver (methods) or the function
	// object itself (bare functions), matching the reference VM's
	// calling convention.
	c.locals = append(c.locals, local{name: "", depth: 0})
	return c
}

func (c *compiler) advance() {
	c.prev = c.cur
	c.cur = c.next
	c.next = c.lex.next()
	for c.next.typ == tokenLine {
		// line tokens are consumed individually by statement-level
		// parsing, never silently skipped here; callers that don't
		// care call skipLines.
		break
	}
}

func (c *compiler) check(t tokenType) bool { return c.cur.typ == t }

func (c *compiler) match(t tokenType) bool {
	if !c.check(t) {
		return false
	}
	c.advance()
	return true
}

func (c *compiler) consume(t tokenType, msg string) {
	if c.cur.typ == t {
		c.advance()
		return
	}
	c.errorAt(c.cur, msg)
}

func (c *compiler) errorAt(tok token, format string, args ...any) {
	c.errs.add(c.module.Name, tok.line, "Error", format, args...)
}

func (c *compiler) skipLines() {
	for c.check(tokenLine) {
		c.advance()
	}
}

func (c *compiler) skipLinesBefore(t tokenType) {
	if c.check(tokenLine) && c.next.typ == t {
		c.skipLines()
	}
}

// --- byte / constant emission ---------------------------------------------

func (c *compiler) emitByte(b byte) int {
	c.fn.Code = append(c.fn.Code, b)
	line := c.prev.line
	if line == 0 {
		line = 1
	}
	c.fn.Lines = append(c.fn.Lines, line)
	return len(c.fn.Code) - 1
}

func (c *compiler) emitOp(op Opcode) int { return c.emitByte(byte(op)) }

func (c *compiler) emitShort(arg int) {
	c.emitByte(byte(arg >> 8))
	c.emitByte(byte(arg))
}

func (c *compiler) emitOpShort(op Opcode, arg int) {
	c.emitOp(op)
	c.emitShort(arg)
}

func (c *compiler) addConstant(v Value) int {
	for i, existing := range c.fn.Constants {
		if valuesEqual(existing, v) {
			return i
		}
	}
	c.fn.Constants = append(c.fn.Constants, v)
	return len(c.fn.Constants) - 1
}

func (c *compiler) emitConstant(v Value) {
	c.emitOpShort(opConstant, c.addConstant(v))
}

// emitJump emits a two-byte placeholder offset for a forward jump and
// returns the index of the first offset byte, to be patched later by
// patchJump once the jump target is known.
func (c *compiler) emitJump(op Opcode) int {
	c.emitOp(op)
	c.emitByte(0xff)
	c.emitByte(0xff)
	return len(c.fn.Code) - 2
}

func (c *compiler) patchJump(offset int) {
	jump := len(c.fn.Code) - offset - 2
	c.fn.Code[offset] = byte(jump >> 8)
	c.fn.Code[offset+1] = byte(jump)
}

func (c *compiler) emitLoop(loopStart int) {
	c.emitOp(opLoop)
	offset := len(c.fn.Code) - loopStart + 2
	c.emitByte(byte(offset >> 8))
	c.emitByte(byte(offset))
}

// --- scopes and variables --------------------------------------------------

func (c *compiler) beginScope() { c.scopeDepth++ }

func (c *compiler) endScope() {
	c.scopeDepth--
	for len(c.locals) > 0 && c.locals[len(c.locals)-1].depth > c.scopeDepth {
		if c.locals[len(c.locals)-1].isUpvalue {
			c.emitOp(opCloseUpvalue)
		} else {
			c.emitOp(opPop)
		}
		c.locals = c.locals[:len(c.locals)-1]
	}
}

func (c *compiler) declareLocal(name string) int {
	if len(c.locals) >= maxLocals {
		c.errorAt(c.prev, "Cannot declare more than %d variables in one scope.", maxLocals)
		return 0
	}
	c.locals = append(c.locals, local{name: name, depth: c.scopeDepth})
	return len(c.locals) - 1
}

func (c *compiler) resolveLocal(name string) int {
	for i := len(c.locals) - 1; i >= 0; i-- {
		if c.locals[i].name == name {
			return i
		}
	}
	return -1
}

func (c *compiler) addUpvalue(isLocal bool, index int) int {
	for i, uv := range c.upvalues {
		if uv.isLocal == isLocal && uv.index == index {
			return i
		}
	}
	if len(c.upvalues) >= maxUpvalues {
		c.errorAt(c.prev, "Cannot close over more than %d variables.", maxUpvalues)
		return 0
	}
	c.upvalues = append(c.upvalues, compilerUpvalue{isLocal: isLocal, index: index})
	c.fn.NumUpvalues = len(c.upvalues)
	return len(c.upvalues) - 1
}

func (c *compiler) resolveUpvalue(name string) int {
	if c.parent == nil {
		return -1
	}
	if local := c.parent.resolveLocal(name); local != -1 {
		c.parent.locals[local].isUpvalue = true
		return c.addUpvalue(true, local)
	}
	if up := c.parent.resolveUpvalue(name); up != -1 {
		return c.addUpvalue(false, up)
	}
	return -1
}

// --- name expressions -------------------------------------------------------

func (c *compiler) loadVariable(name string) {
	if i := c.resolveLocal(name); i != -1 {
		c.emitOp(opLoadLocal)
		c.emitByte(byte(i))
		return
	}
	if i := c.resolveUpvalue(name); i != -1 {
		c.emitOp(opLoadUpvalue)
		c.emitByte(byte(i))
		return
	}
	idx := c.module.findVariable(name)
	if idx == -1 {
		idx = c.module.declareVariable(name, c.prev.line)
	}
	c.emitOpShort(opLoadModuleVar, idx)
}

func (c *compiler) storeVariable(name string) {
	if i := c.resolveLocal(name); i != -1 {
		c.emitOp(opStoreLocal)
		c.emitByte(byte(i))
		return
	}
	if i := c.resolveUpvalue(name); i != -1 {
		c.emitOp(opStoreUpvalue)
		c.emitByte(byte(i))
		return
	}
	idx := c.module.findVariable(name)
	if idx == -1 {
		idx = c.module.declareVariable(name, c.prev.line)
	}
	c.emitOpShort(opStoreModuleVar, idx)
}

// --- expressions -------------------------------------------------------------

type precedence int

const (
	precNone precedence = iota
	precLowest
	precAssignment
	precConditional
	precLogicOr
	precLogicAnd
	precEquality
	precIs
	precComparison
	precBitwiseOr
	precBitwiseXor
	precBitwiseAnd
	precBitwiseShift
	precRange
	precTerm
	precFactor
	precUnary
	precCall
	precPrimary
)

var infixPrecedence = map[tokenType]precedence{
	tokenEqEq: precEquality, tokenBangEq: precEquality,
	tokenIs: precIs,
	tokenLt: precComparison, tokenGt: precComparison,
	tokenLtEq: precComparison, tokenGtEq: precComparison,
	tokenPipe: precBitwiseOr, tokenCaret: precBitwiseXor, tokenAmp: precBitwiseAnd,
	tokenLtLt: precBitwiseShift, tokenGtGt: precBitwiseShift,
	tokenDotDot: precRange, tokenDotDotDot: precRange,
	tokenPlus: precTerm, tokenMinus: precTerm,
	tokenStar: precFactor, tokenSlash: precFactor, tokenPercent: precFactor,
	tokenPipePipe: precLogicOr, tokenAmpAmp: precLogicAnd,
	tokenDot: precCall, tokenLeftBracket: precCall,
}

var operatorSignatures = map[tokenType]string{
	tokenPlus: "+(_)", tokenMinus: "-(_)", tokenStar: "*(_)", tokenSlash: "/(_)",
	tokenPercent: "%(_)", tokenLt: "<(_)", tokenGt: ">(_)",
	tokenLtEq: "<=(_)", tokenGtEq: ">=(_)", tokenEqEq: "==(_)", tokenBangEq: "!=(_)",
	tokenPipe: "|(_)", tokenAmp: "&(_)", tokenCaret: "^(_)",
	tokenLtLt: "<<(_)", tokenGtGt: ">>(_)",
}

func (c *compiler) expression() { c.parsePrecedence(precLowest + 1) }

func (c *compiler) parsePrecedence(minPrec precedence) {
	c.advance()
	canAssign := minPrec <= precAssignment
	if !c.prefix(c.prev, canAssign) {
		c.errorAt(c.prev, "Expected expression.")
		return
	}
	for {
		opPrec, ok := infixPrecedence[c.cur.typ]
		if !ok || opPrec < minPrec {
			return
		}
		c.advance()
		c.infix(c.prev, canAssign)
	}
}

func (c *compiler) prefix(tok token, canAssign bool) bool {
	switch tok.typ {
	case tokenNumber, tokenString:
		c.emitConstant(tok.value)
		return true
	case tokenInterpolation:
		// "a %(x) b" compiles to "a " + x.toString + " b", one segment
		// and one embedded expression at a time.
		c.emitConstant(tok.value)
		for {
			c.expression()
			c.emitOpShort(opCall0, c.vm.methods.ensure("toString"))
			c.emitOpShort(opAdd, c.vm.methods.ensure("+(_)"))
			if !c.match(tokenInterpolation) {
				break
			}
			c.emitConstant(c.prev.value)
			c.emitOpShort(opAdd, c.vm.methods.ensure("+(_)"))
		}
		c.consume(tokenString, "Expect end of string interpolation.")
		c.emitConstant(c.prev.value)
		c.emitOpShort(opAdd, c.vm.methods.ensure("+(_)"))
		return true
	case tokenTrue:
		c.emitOp(opTrue)
		return true
	case tokenFalse:
		c.emitOp(opFalse)
		return true
	case tokenNull:
		c.emitOp(opNull)
		return true
	case tokenThis:
		c.loadVariable("this")
		return true
	case tokenName:
		c.namedVariable(tok.text, canAssign)
		return true
	case tokenLeftParen:
		c.expression()
		c.skipLines()
		c.consume(tokenRightParen, "Expect ')' after expression.")
		return true
	case tokenLeftBracket:
		c.listLiteral()
		return true
	case tokenLeftBrace:
		c.mapLiteral()
		return true
	case tokenMinus:
		c.parsePrecedence(precUnary)
		c.emitOpShort(opCall0, c.vm.methods.ensure("-"))
		return true
	case tokenBang:
		c.parsePrecedence(precUnary)
		c.emitOpShort(opCall0, c.vm.methods.ensure("!"))
		return true
	case tokenTilde:
		c.parsePrecedence(precUnary)
		c.emitOpShort(opCall0, c.vm.methods.ensure("~"))
		return true
	case tokenStaticField, tokenField:
		c.fieldAccess(tok, canAssign)
		return true
	case tokenSuper:
		c.superCall()
		return true
	case tokenIs:
		return false
	}
	return false
}

func (c *compiler) namedVariable(name string, canAssign bool) {
	if canAssign && c.match(tokenEq) {
		c.skipLines()
		c.expression()
		c.storeVariable(name)
		return
	}
	c.loadVariable(name)
}

func (c *compiler) fieldAccess(tok token, canAssign bool) {
	if c.class == nil {
		c.errorAt(tok, "Cannot reference a field outside of a class definition.")
		return
	}
	idx, ok := c.class.fields[tok.text]
	if !ok {
		if c.class.numFields >= maxFields {
			c.errorAt(tok, "A class can only have %d fields.", maxFields)
			return
		}
		idx = c.class.numFields
		c.class.fields[tok.text] = idx
		c.class.numFields++
	}
	if canAssign && c.match(tokenEq) {
		c.skipLines()
		c.expression()
		c.emitOp(opStoreFieldThis)
		c.emitByte(byte(idx))
		return
	}
	c.emitOp(opLoadFieldThis)
	c.emitByte(byte(idx))
}

func (c *compiler) listLiteral() {
	c.emitOpShort(opLoadModuleVar, c.resolveCoreClassSlot("List"))
	c.emitOpShort(opCall0, c.vm.methods.ensure("new()"))
	c.skipLines()
	for !c.check(tokenRightBracket) {
		c.expression()
		c.emitOpShort(opCall1, c.vm.methods.ensure("addCore_(_)"))
		c.skipLines()
		if !c.match(tokenComma) {
			break
		}
		c.skipLines()
	}
	c.skipLines()
	c.consume(tokenRightBracket, "Expect ']' after list elements.")
}

func (c *compiler) mapLiteral() {
	c.emitOpShort(opLoadModuleVar, c.resolveCoreClassSlot("Map"))
	c.emitOpShort(opCall0, c.vm.methods.ensure("new()"))
	c.skipLines()
	for !c.check(tokenRightBrace) {
		c.expression()
		c.skipLines()
		c.consume(tokenColon, "Expect ':' after map key.")
		c.skipLines()
		c.expression()
		c.emitOpShort(opCall2, c.vm.methods.ensure("addCore_(_,_)"))
		c.skipLines()
		if !c.match(tokenComma) {
			break
		}
		c.skipLines()
	}
	c.skipLines()
	c.consume(tokenRightBrace, "Expect '}' after map entries.")
}

func (c *compiler) resolveCoreClassSlot(name string) int {
	idx := c.module.findVariable(name)
	if idx == -1 {
		idx = c.module.declareVariable(name, c.prev.line)
	}
	return idx
}

func (c *compiler) superCall() {
	if c.class == nil {
		c.errorAt(c.prev, "Cannot use 'super' outside of a method.")
		return
	}
	c.consume(tokenDot, "Expect '.' after 'super'.")
	c.consume(tokenName, "Expect method name after 'super.'.")
	name := c.prev.text
	c.loadVariable("this")
	args, sig := c.argumentList(name)
	symbol := c.vm.methods.ensure(sig)
	superclassSlot := c.resolveCoreClassSlot(c.class.name + " superclass")
	c.emitOp(opSuperN(args))
	c.emitShort(symbol)
	c.emitShort(superclassSlot)
}

func (c *compiler) argumentList(name string) (int, string) {
	args := 0
	hadParens := c.match(tokenLeftParen)
	if hadParens {
		c.skipLines()
		for !c.check(tokenRightParen) {
			c.expression()
			args++
			c.skipLines()
			if !c.match(tokenComma) {
				break
			}
			c.skipLines()
		}
		c.consume(tokenRightParen, "Expect ')' after arguments.")
	}
	// A `{ ... }` immediately following the call (no line break) is
	// Wren's block-argument sugar: it compiles to a function literal
	// appended as the call's last argument, the way `Fiber.new { ... }`
	// and `list.each { |x| ... }` pass a body without an explicit Fn.
	if c.check(tokenLeftBrace) {
		c.advance()
		c.functionLiteral()
		args++
	}
	if !hadParens && args == 0 {
		// A bare name is a getter call, declared and bound as "name".
		return args, name
	}
	return args, placeholderSignature(name, args)
}

// dotCall parses the property-or-method call that follows '.': a bare
// name is a getter, `name = value` is a setter call, and
// `name(args...)` (with an optional trailing block) is a method call —
// mirroring wrenCompiler.c's `call` grammar rule.
func (c *compiler) dotCall(canAssign bool) {
	c.consume(tokenName, "Expect property name after '.'.")
	name := c.prev.text
	if canAssign && c.match(tokenEq) {
		c.skipLines()
		c.expression()
		symbol := c.vm.methods.ensure(name + "=(_)")
		c.emitOpShort(opCall1, symbol)
		return
	}
	args, sig := c.argumentList(name)
	symbol := c.vm.methods.ensure(sig)
	c.emitOpShort(opCallN(args), symbol)
}

// subscript parses `[args...]` immediately after an expression,
// dispatching to the `[_,...]` getter or the `[_,...]=(_)` setter
// depending on whether an `=` follows the closing bracket.
func (c *compiler) subscript(canAssign bool) {
	args := 0
	c.skipLines()
	for !c.check(tokenRightBracket) {
		c.expression()
		args++
		c.skipLines()
		if !c.match(tokenComma) {
			break
		}
		c.skipLines()
	}
	c.consume(tokenRightBracket, "Expect ']' after subscript arguments.")

	getSig := subscriptSignature(args)

	if canAssign && c.match(tokenEq) {
		c.skipLines()
		c.expression()
		setSig := getSig + "=(_)"
		c.emitOpShort(opCallN(args+1), c.vm.methods.ensure(setSig))
		return
	}
	c.emitOpShort(opCallN(args), c.vm.methods.ensure(getSig))
}

// subscriptSignature builds the "[_,_,...]" getter shape shared by
// subscript expressions and subscript-operator method declarations.
func subscriptSignature(arity int) string {
	var b strings.Builder
	b.WriteByte('[')
	for i := 0; i < arity; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('_')
	}
	b.WriteByte(']')
	return b.String()
}

// functionLiteral compiles `|params| body` up to the closing '}' (the
// opening '{' has already been consumed by the caller) into a nested
// ObjFn compiled with this compiler as its upvalue-resolution parent,
// then emits CLOSURE with the captured-upvalue byte pairs the runtime
// expects — the anonymous-function counterpart of methodDeclaration's
// named-method compilation.
func (c *compiler) functionLiteral() {
	fnCompiler := newCompiler(c.vm, c.module, "", "fn literal", c.errs, c)

	args := 0
	if fnCompiler.match(tokenPipe) {
		for {
			fnCompiler.consume(tokenName, "Expect parameter name.")
			fnCompiler.declareLocal(fnCompiler.prev.text)
			args++
			if !fnCompiler.match(tokenComma) {
				break
			}
		}
		fnCompiler.consume(tokenPipe, "Expect '|' after block parameters.")
	}
	fnCompiler.skipLines()
	for !fnCompiler.check(tokenRightBrace) && !fnCompiler.check(tokenEOF) {
		fnCompiler.definition()
		fnCompiler.skipLines()
	}
	fnCompiler.consume(tokenRightBrace, "Expect '}' after function body.")
	fnCompiler.emitOp(opNull)
	fnCompiler.emitOp(opReturn)
	fnCompiler.fn.Arity = args
	fnCompiler.fn.MaxSlots = len(fnCompiler.locals)
	c.cur, c.next = fnCompiler.cur, fnCompiler.next

	idx := c.addConstant(fnCompiler.fn)
	c.emitOpShort(opClosure, idx)
	for _, uv := range fnCompiler.upvalues {
		if uv.isLocal {
			c.emitByte(1)
		} else {
			c.emitByte(0)
		}
		c.emitByte(byte(uv.index))
	}
}

// placeholderSignature builds the canonical "name(_,_,...)" signature
// shape every call site and method declaration agrees on: no argument
// placeholders for arity 0, one `_` per argument otherwise, comma
// separated with no trailing comma.
func placeholderSignature(name string, arity int) string {
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('(')
	for i := 0; i < arity; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('_')
	}
	b.WriteByte(')')
	return b.String()
}

func (c *compiler) infix(tok token, canAssign bool) {
	prec := infixPrecedence[tok.typ]
	switch tok.typ {
	case tokenAmpAmp:
		jump := c.emitJump(opAnd)
		c.parsePrecedence(prec + 1)
		c.patchJump(jump)
		return
	case tokenPipePipe:
		jump := c.emitJump(opOr)
		c.parsePrecedence(prec + 1)
		c.patchJump(jump)
		return
	case tokenIs:
		c.parsePrecedence(prec + 1)
		c.emitOpShort(opCall1, c.vm.methods.ensure("is(_)"))
		return
	case tokenDotDot:
		c.parsePrecedence(prec + 1)
		c.emitOpShort(opCall1, c.vm.methods.ensure("..(_)"))
		return
	case tokenDotDotDot:
		c.parsePrecedence(prec + 1)
		c.emitOpShort(opCall1, c.vm.methods.ensure("...(_)"))
		return
	case tokenDot:
		c.dotCall(canAssign)
		return
	case tokenLeftBracket:
		c.subscript(canAssign)
		return
	}
	c.skipLines()
	c.parsePrecedence(prec + 1)
	switch tok.typ {
	case tokenPlus:
		c.emitOpShort(opAdd, c.vm.methods.ensure("+(_)"))
	case tokenMinus:
		c.emitOpShort(opSub, c.vm.methods.ensure("-(_)"))
	case tokenStar:
		c.emitOpShort(opMul, c.vm.methods.ensure("*(_)"))
	case tokenSlash:
		c.emitOpShort(opDiv, c.vm.methods.ensure("/(_)"))
	case tokenPercent:
		c.emitOpShort(opMod, c.vm.methods.ensure("%(_)"))
	default:
		if sig, ok := operatorSignatures[tok.typ]; ok {
			c.emitOpShort(opCall1, c.vm.methods.ensure(sig))
		} else {
			c.errorAt(tok, "Unsupported operator.")
		}
	}
}

// --- statements ---------------------------------------------------------------

func (c *compiler) statement() {
	switch {
	case c.match(tokenIf):
		c.ifStatement()
	case c.match(tokenWhile):
		c.whileStatement()
	case c.match(tokenFor):
		c.forStatement()
	case c.match(tokenReturn):
		if c.check(tokenLine) || c.check(tokenEOF) {
			c.emitOp(opNull)
		} else {
			c.expression()
		}
		c.emitOp(opReturn)
	case c.match(tokenBreak):
		c.breakStatement()
	case c.match(tokenContinue):
		c.continueStatement()
	case c.match(tokenLeftBrace):
		c.block()
	default:
		c.expression()
		c.emitOp(opPop)
	}
}

func (c *compiler) block() {
	c.beginScope()
	c.skipLines()
	for !c.check(tokenRightBrace) && !c.check(tokenEOF) {
		c.definition()
		c.skipLines()
	}
	c.consume(tokenRightBrace, "Expect '}' after block.")
	c.endScope()
}

func (c *compiler) ifStatement() {
	c.consume(tokenLeftParen, "Expect '(' after 'if'.")
	c.expression()
	c.consume(tokenRightParen, "Expect ')' after condition.")
	c.skipLines()
	thenJump := c.emitJump(opJumpIf)
	c.statement()
	if c.matchElse() {
		elseJump := c.emitJump(opJump)
		c.patchJump(thenJump)
		c.skipLines()
		c.statement()
		c.patchJump(elseJump)
	} else {
		c.patchJump(thenJump)
	}
}

func (c *compiler) matchElse() bool {
	save := c.cur
	if c.check(tokenLine) && c.next.typ == tokenElse {
		c.skipLines()
	}
	if c.match(tokenElse) {
		return true
	}
	c.cur = save
	return false
}

func (c *compiler) pushLoop() *loopCompiler {
	c.loops = append(c.loops, loopCompiler{start: len(c.fn.Code), depth: c.scopeDepth})
	return &c.loops[len(c.loops)-1]
}

func (c *compiler) popLoop() {
	lp := c.loops[len(c.loops)-1]
	for _, j := range lp.breakJumps {
		c.patchJump(j)
	}
	c.loops = c.loops[:len(c.loops)-1]
}

func (c *compiler) whileStatement() {
	lp := c.pushLoop()
	c.consume(tokenLeftParen, "Expect '(' after 'while'.")
	c.expression()
	c.consume(tokenRightParen, "Expect ')' after condition.")
	lp.exitJump = c.emitJump(opJumpIf)
	c.skipLines()
	c.statement()
	c.emitLoop(lp.start)
	c.patchJump(lp.exitJump)
	c.popLoop()
}

// forStatement desugars `for (x in seq) body` into the iterate/
// iteratorValue protocol every Sequence-like class implements, the
// same desugaring the reference compiler performs.
func (c *compiler) forStatement() {
	c.beginScope()
	c.consume(tokenLeftParen, "Expect '(' after 'for'.")
	c.consume(tokenName, "Expect loop variable name.")
	varName := c.prev.text
	c.consume(tokenIn, "Expect 'in' after loop variable.")
	c.expression()
	c.consume(tokenRightParen, "Expect ')' after sequence expression.")

	seqSlot := c.declareLocal(" seq ")
	_ = seqSlot
	c.emitOp(opNull)
	iterSlot := c.declareLocal(" iter ")
	_ = iterSlot

	lp := c.pushLoop()
	c.emitOp(opLoadLocal)
	c.emitByte(byte(seqSlot))
	c.emitOp(opLoadLocal)
	c.emitByte(byte(iterSlot))
	c.emitOpShort(opCall1, c.vm.methods.ensure("iterate(_)"))
	c.emitOp(opStoreLocal)
	c.emitByte(byte(iterSlot))
	lp.exitJump = c.emitJump(opJumpIf)

	c.emitOp(opLoadLocal)
	c.emitByte(byte(seqSlot))
	c.emitOp(opLoadLocal)
	c.emitByte(byte(iterSlot))
	c.emitOpShort(opCall1, c.vm.methods.ensure("iteratorValue(_)"))

	c.beginScope()
	c.declareLocal(varName)
	c.skipLines()
	c.statement()
	c.endScope()

	c.emitLoop(lp.start)
	c.patchJump(lp.exitJump)
	c.popLoop()
	c.endScope()
}

func (c *compiler) breakStatement() {
	if len(c.loops) == 0 {
		c.errorAt(c.prev, "Cannot use 'break' outside of a loop.")
		return
	}
	j := c.emitJump(opJump)
	lp := &c.loops[len(c.loops)-1]
	lp.breakJumps = append(lp.breakJumps, j)
}

func (c *compiler) continueStatement() {
	if len(c.loops) == 0 {
		c.errorAt(c.prev, "Cannot use 'continue' outside of a loop.")
		return
	}
	lp := &c.loops[len(c.loops)-1]
	c.emitLoop(lp.start)
}

// definition parses one top-level-or-block item: a `var` declaration,
// a `class` declaration, or a statement. The reference grammar treats
// "definition" and "statement" as separate nonterminals so that `var`
// and `class` can't appear where an expression is expected.
func (c *compiler) definition() {
	switch {
	case c.match(tokenVar):
		c.varDeclaration()
	case c.match(tokenClass):
		c.classDeclaration(false)
	case c.match(tokenForeign):
		c.consume(tokenClass, "Expect 'class' after 'foreign'.")
		c.classDeclaration(true)
	case c.match(tokenImport):
		c.importStatement()
	default:
		c.statement()
	}
}

func (c *compiler) varDeclaration() {
	c.consume(tokenName, "Expect variable name.")
	name := c.prev.text
	if c.match(tokenEq) {
		c.skipLines()
		c.expression()
	} else {
		c.emitOp(opNull)
	}
	if c.scopeDepth == 0 {
		idx := c.module.findVariable(name)
		if idx == -1 {
			idx = c.module.declareVariable(name, c.prev.line)
		}
		c.emitOpShort(opStoreModuleVar, idx)
		c.emitOp(opPop)
	} else {
		c.declareLocal(name)
	}
}

func (c *compiler) importStatement() {
	c.consume(tokenString, "Expect module name string after 'import'.")
	name := c.prev.value
	c.emitOpShort(opImportModule, c.addConstant(name))
	c.emitOp(opPop)
	if c.match(tokenFor) {
		for {
			c.consume(tokenName, "Expect variable name.")
			varName := c.prev.text
			importedName := varName
			if c.match(tokenAs) {
				c.consume(tokenName, "Expect name after 'as'.")
				varName = c.prev.text
			}
			c.emitOpShort(opImportVariable, c.addConstant(newString(importedName)))
			idx := c.resolveCoreClassSlot(varName)
			c.emitOpShort(opStoreModuleVar, idx)
			c.emitOp(opPop)
			if !c.match(tokenComma) {
				break
			}
		}
	}
}

// --- method / class compilation -----------------------------------------------

func (c *compiler) methodSignature() (string, int) {
	switch {
	case c.match(tokenName):
		name := c.prev.text
		if c.check(tokenLeftParen) {
			args, sig := c.parameterList(name)
			return sig, args
		}
		if c.match(tokenEq) {
			c.consume(tokenLeftParen, "Expect '(' after '='.")
			c.paramName()
			c.consume(tokenRightParen, "Expect ')' after parameter.")
			return name + "=(_)", 1
		}
		return name, 0
	case c.match(tokenLeftBracket):
		args := 0
		for !c.check(tokenRightBracket) {
			c.paramName()
			args++
			if !c.match(tokenComma) {
				break
			}
		}
		c.consume(tokenRightBracket, "Expect ']' after parameters.")
		if c.match(tokenEq) {
			c.consume(tokenLeftParen, "Expect '(' after '='.")
			c.paramName()
			c.consume(tokenRightParen, "Expect ')' after parameter.")
			return subscriptSignature(args) + "=(_)", args + 1
		}
		return subscriptSignature(args), args
	case c.match(tokenConstruct):
		c.consume(tokenName, "Expect constructor name.")
		name := c.prev.text
		args, sig := c.parameterList(name)
		return sig, args
	default:
		for tt, sig := range operatorSignatures {
			if tt == tokenMinus {
				// Handled below: `-` declares either unary or binary minus.
				continue
			}
			if c.check(tt) {
				c.advance()
				c.consume(tokenLeftParen, "Expect '(' after operator.")
				c.paramName()
				c.consume(tokenRightParen, "Expect ')' after parameter.")
				return sig, 1
			}
		}
		if c.match(tokenMinus) {
			if c.check(tokenLeftParen) {
				c.advance()
				c.paramName()
				c.consume(tokenRightParen, "Expect ')' after parameter.")
				return "-(_)", 1
			}
			return "-", 0
		}
		if c.match(tokenBang) {
			return "!", 0
		}
		if c.match(tokenTilde) {
			return "~", 0
		}
		c.errorAt(c.cur, "Expect method name.")
		return "<error>", 0
	}
}

func (c *compiler) parameterList(name string) (int, string) {
	args := 0
	var sig strings.Builder
	sig.WriteString(name)
	sig.WriteByte('(')
	if c.match(tokenLeftParen) {
		for !c.check(tokenRightParen) {
			c.paramName()
			args++
			if args > 1 {
				sig.WriteByte(',')
			}
			sig.WriteByte('_')
			if !c.match(tokenComma) {
				break
			}
		}
		c.consume(tokenRightParen, "Expect ')' after parameters.")
	}
	sig.WriteByte(')')
	return args, sig.String()
}

// paramName consumes one parameter name of a method signature and
// records it so the method body can refer to the parameter by name.
func (c *compiler) paramName() {
	c.consume(tokenName, "Expect parameter name.")
	c.params = append(c.params, c.prev.text)
}

func (c *compiler) declareMethodParams(args int) {
	for i := 0; i < args; i++ {
		name := fmt.Sprintf(" p%d", i)
		if c.parent != nil && i < len(c.parent.params) {
			name = c.parent.params[i]
		}
		c.locals = append(c.locals, local{name: name, depth: 0})
	}
}

func (c *compiler) classDeclaration(isForeign bool) {
	c.consume(tokenName, "Expect class name.")
	className := c.prev.text

	var superName string
	if c.match(tokenIs) {
		c.consume(tokenName, "Expect superclass name.")
		superName = c.prev.text
	} else {
		superName = "Object"
	}
	c.loadVariable(superName)
	// Stash the statically-known superclass under "<name> superclass"
	// so methods in this class body that call `super.foo()` resolve
	// against the class they were DECLARED in, not whatever dynamic
	// class the receiver turns out to have at the call site.
	superSlot := c.resolveCoreClassSlot(className + " superclass")
	c.emitOpShort(opStoreModuleVar, superSlot)
	c.emitConstant(newString(className))

	cc := &classCompiler{name: className, isForeign: isForeign, fields: map[string]int{}, superclass: c.class}
	prevClass := c.class
	c.class = cc

	if isForeign {
		c.emitOp(opForeignClass)
	} else {
		fieldsOffset := len(c.fn.Code)
		c.emitOp(opClass)
		c.emitByte(0) // patched after the body is compiled
		_ = fieldsOffset
	}

	slot := c.resolveCoreClassSlot(className)
	c.emitOpShort(opStoreModuleVar, slot)

	c.skipLines()
	c.consume(tokenLeftBrace, "Expect '{' after class header.")
	c.skipLines()
	for !c.check(tokenRightBrace) && !c.check(tokenEOF) {
		c.methodDeclaration(cc)
		c.skipLines()
	}
	c.consume(tokenRightBrace, "Expect '}' after class body.")

	if !isForeign {
		// Patch the declared-field count now that every field access
		// in the body has registered itself in cc.fields.
		classByteIdx := 0
		for i := len(c.fn.Code) - 1; i >= 0; i-- {
			if Opcode(c.fn.Code[i]) == opClass {
				classByteIdx = i
				break
			}
		}
		if classByteIdx+1 < len(c.fn.Code) {
			c.fn.Code[classByteIdx+1] = byte(cc.numFields)
		}
	}

	// The class value has sat on the stack since CLASS/FOREIGN_CLASS
	// so every method declaration in the body could bind against it;
	// the declaration statement itself has no result to leave behind
	// (the class is already reachable through the module variable
	// STORE_MODULE_VAR wrote it to).
	c.emitOp(opPop)

	c.class = prevClass
}

func (c *compiler) methodDeclaration(cc *classCompiler) {
	isStatic := c.match(tokenStatic)
	isForeignMethod := c.match(tokenForeign)
	isConstructor := c.check(tokenConstruct)
	cc.inStatic = isStatic

	c.params = nil
	sig, args := c.methodSignature()
	symbol := c.vm.methods.ensure(sig)

	if isForeignMethod {
		c.emitConstant(newString(sig))
	} else {
		methodCompiler := &compiler{
			vm: c.vm, parent: c, module: c.module,
			fn:   newFn(c.module, cc.name+"."+sig),
			errs: c.errs, lex: c.lex, class: cc,
		}
		methodCompiler.cur, methodCompiler.next = c.cur, c.next
		methodCompiler.locals = append(methodCompiler.locals, local{name: "this", depth: 0})
		methodCompiler.declareMethodParams(args)
		c.skipLines()
		if methodCompiler.match(tokenLeftBrace) {
			if !methodCompiler.check(tokenLine) && !methodCompiler.check(tokenRightBrace) {
				// A body on the same line as its '{' is a single
				// expression whose value the method returns.
				methodCompiler.expression()
				methodCompiler.emitOp(opReturn)
			}
			methodCompiler.skipLines()
			for !methodCompiler.check(tokenRightBrace) && !methodCompiler.check(tokenEOF) {
				methodCompiler.definition()
				methodCompiler.skipLines()
			}
			methodCompiler.consume(tokenRightBrace, "Expect '}' after method body.")
		}
		methodCompiler.emitOp(opNull)
		methodCompiler.emitOp(opReturn)
		methodCompiler.fn.Arity = args
		methodCompiler.fn.MaxSlots = len(methodCompiler.locals)
		c.cur, c.next = methodCompiler.cur, methodCompiler.next

		closure := methodCompiler.fn
		c.emitConstant(closure)
	}

	if isConstructor {
		// The body just compiled above is the initializer, bound under
		// `sig` on the class like any instance method. A constructor
		// also needs a factory callable as ClassName.new(...), so
		// synthesize a static wrapper under the same signature that
		// allocates the instance, runs the initializer, and returns
		// the instance rather than the initializer's own (always
		// null) result.
		c.emitOpShort(opMethodInstance, symbol)
		wrapper := c.buildConstructorWrapper(cc, symbol, args)
		c.emitConstant(wrapper)
		c.emitOpShort(opMethodStatic, symbol)
		return
	}

	if isStatic {
		c.emitOpShort(opMethodStatic, symbol)
	} else {
		c.emitOpShort(opMethodInstance, symbol)
	}
}

// buildConstructorWrapper builds the static factory body bound under a
// constructor's signature: allocate a new (or foreign) instance in
// slot 0, forward the incoming arguments to the just-bound initializer
// of the same signature, discard its result, and return the instance.
func (c *compiler) buildConstructorWrapper(cc *classCompiler, symbol, args int) *ObjFn {
	wrapper := newFn(c.module, cc.name+" constructor")
	wc := &compiler{vm: c.vm, fn: wrapper}

	if cc.isForeign {
		wc.emitOp(opForeignConstruct)
	} else {
		wc.emitOp(opConstruct)
	}
	for i := 0; i <= args; i++ {
		wc.emitOp(opLoadLocal)
		wc.emitByte(byte(i))
	}
	wc.emitOpShort(opCallN(args), symbol)
	wc.emitOp(opPop)
	wc.emitOp(opLoadLocal)
	wc.emitByte(0)
	wc.emitOp(opReturn)

	wrapper.Arity = args
	wrapper.MaxSlots = args + 1
	return wrapper
}

// compile drives the whole compiler: parses definitions until EOF,
// then emits the implicit trailing return every compiled function
// needs.
func (c *compiler) compile() (*ObjFn, bool) {
	c.skipLines()
	for !c.check(tokenEOF) {
		c.definition()
		c.skipLines()
	}
	c.emitOp(opNull)
	c.emitOp(opEndModule)
	c.emitOp(opReturn)
	c.fn.MaxSlots = len(c.locals)
	return c.fn, !c.errs.HasErrors()
}
