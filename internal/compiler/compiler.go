package compiler

import (
	"errors"
	"strconv"

	"loxy-vm/internal/chunk"
	"loxy-vm/internal/heap"
	"loxy-vm/internal/token"
	"loxy-vm/internal/value"
)

const (
	maxLocals   = 256
	maxUpvalues = 256
	maxArgs     = 255
)

type Precedence int

const (
	PrecNone Precedence = iota
	PrecAssignment
	PrecOr
	PrecAnd
	PrecEquality
	PrecComparison
	PrecTerm
	PrecFactor
	PrecUnary
	PrecCall
	PrecPrimary
)

type parseFn func(c *Compiler, canAssign bool) error

type parseRule struct {
	prefix     parseFn
	infix      parseFn
	precedence Precedence
}

var rules map[token.TokenType]parseRule

func init() {
	// Built in init so the rule functions can recurse through the table.
	rules = map[token.TokenType]parseRule{
		token.LEFT_PAREN:    {(*Compiler).grouping, (*Compiler).call, PrecCall},
		token.DOT:           {nil, (*Compiler).dot, PrecCall},
		token.MINUS:         {(*Compiler).unary, (*Compiler).binary, PrecTerm},
		token.PLUS:          {nil, (*Compiler).binary, PrecTerm},
		token.SLASH:         {nil, (*Compiler).binary, PrecFactor},
		token.STAR:          {nil, (*Compiler).binary, PrecFactor},
		token.BANG:          {(*Compiler).unary, nil, PrecNone},
		token.BANG_EQUAL:    {nil, (*Compiler).binary, PrecEquality},
		token.EQUAL_EQUAL:   {nil, (*Compiler).binary, PrecEquality},
		token.GREATER:       {nil, (*Compiler).binary, PrecComparison},
		token.GREATER_EQUAL: {nil, (*Compiler).binary, PrecComparison},
		token.LESS:          {nil, (*Compiler).binary, PrecComparison},
		token.LESS_EQUAL:    {nil, (*Compiler).binary, PrecComparison},
		token.IDENTIFIER:    {(*Compiler).variable, nil, PrecNone},
		token.STRING:        {(*Compiler).string_, nil, PrecNone},
		token.NUMBER:        {(*Compiler).number, nil, PrecNone},
		token.AND:           {nil, (*Compiler).and_, PrecAnd},
		token.OR:            {nil, (*Compiler).or_, PrecOr},
		token.FALSE:         {(*Compiler).literal, nil, PrecNone},
		token.TRUE:          {(*Compiler).literal, nil, PrecNone},
		token.NIL:           {(*Compiler).literal, nil, PrecNone},
		token.THIS:          {(*Compiler).this_, nil, PrecNone},
		token.SUPER:         {(*Compiler).super_, nil, PrecNone},
	}
}

func getRule(t token.TokenType) parseRule {
	return rules[t]
}

type FnType int

const (
	TypeScript FnType = iota
	TypeFunction
	TypeMethod
	TypeInitializer
)

type Local struct {
	Name       string
	Depth      int // -1 while declared but not yet initialized
	IsCaptured bool
}

type Upvalue struct {
	Index   int
	IsLocal bool
}

// codeScope is the per-function compilation state; one is live for every
// function lexically being compiled, innermost last.
type codeScope struct {
	enclosing *codeScope
	function  *heap.ObjFunction
	fnType    FnType
	locals    []Local
	upvalues  []Upvalue
	depth     int
	names     map[string]int // interned name/string constants of this chunk
}

type classScope struct {
	enclosing *classScope
}

type Compiler struct {
	tokens  []token.Token
	current int
	heap    *heap.Heap
	scope   *codeScope
	class   *classScope
	errs    []error
}

func New(tokens []token.Token, h *heap.Heap) *Compiler {
	return &Compiler{tokens: tokens, heap: h}
}

// Compile lowers the token stream to a tree of function objects and returns
// the heap address of the root script function. All syntax errors found are
// joined into the returned error; the function address is only valid when
// the error is nil.
func (c *Compiler) Compile() (uint64, error) {
	c.beginFunction("", TypeScript)

	for !c.isAtEnd() {
		before := c.current
		if err := c.declaration(); err != nil {
			c.errs = append(c.errs, err)
			c.synchronize()
		}
		if c.current == before {
			// Error recovery made no progress; skip a token rather than spin.
			c.advance()
		}
	}

	addr, _ := c.endFunction(c.peek().Line)
	if len(c.errs) > 0 {
		return 0, errors.Join(c.errs...)
	}
	return addr, nil
}

// --- token cursor ---

func (c *Compiler) peek() token.Token {
	return c.tokens[c.current]
}

func (c *Compiler) previous() token.Token {
	return c.tokens[c.current-1]
}

func (c *Compiler) isAtEnd() bool {
	return c.current >= len(c.tokens) || c.peek().Type == token.EOF
}

func (c *Compiler) advance() token.Token {
	if !c.isAtEnd() {
		c.current++
	}
	return c.previous()
}

func (c *Compiler) check(t token.TokenType) bool {
	return !c.isAtEnd() && c.peek().Type == t
}

func (c *Compiler) match(t token.TokenType) bool {
	if c.check(t) {
		c.advance()
		return true
	}
	return false
}

func (c *Compiler) consume(t token.TokenType, msg string) (token.Token, error) {
	if c.check(t) {
		return c.advance(), nil
	}
	tok := c.peek()
	return token.Token{}, c.errorAt(tok.Line, msg)
}

func (c *Compiler) errorAt(line int, msg string) error {
	return SyntaxError{Line: line, Message: msg}
}

func (c *Compiler) synchronize() {
	for !c.isAtEnd() {
		if c.current > 0 && c.previous().Type == token.SEMICOLON {
			return
		}
		switch c.peek().Type {
		case token.CLASS, token.FUN, token.VAR, token.FOR,
			token.IF, token.WHILE, token.PRINT, token.RETURN:
			return
		}
		c.advance()
	}
}

// --- emit helpers ---

func (c *Compiler) currentChunk() *chunk.Chunk {
	return c.scope.function.Chunk
}

func (c *Compiler) emit(op chunk.OpCode, line int) int {
	return c.currentChunk().Write(chunk.Instruction{Op: op}, line)
}

func (c *Compiler) emitA(op chunk.OpCode, a, line int) int {
	return c.currentChunk().Write(chunk.Instruction{Op: op, A: a}, line)
}

func (c *Compiler) emitAB(op chunk.OpCode, a, b, line int) int {
	return c.currentChunk().Write(chunk.Instruction{Op: op, A: a, B: b}, line)
}

func (c *Compiler) emitLoop(loopStart, line int) {
	offset := c.currentChunk().Next() + 1 - loopStart
	c.emitA(chunk.OP_LOOP, offset, line)
}

// nameConstant interns name as a string object in the current chunk's
// constants pool and returns its index.
func (c *Compiler) nameConstant(name string) int {
	if idx, ok := c.scope.names[name]; ok {
		return idx
	}
	addr := c.heap.AllocString(name)
	idx := c.currentChunk().AddConstant(value.NewObject(addr))
	c.scope.names[name] = idx
	return idx
}

// --- function scopes ---

func (c *Compiler) beginFunction(name string, fnType FnType) {
	scope := &codeScope{
		enclosing: c.scope,
		function:  &heap.ObjFunction{Name: name, Chunk: chunk.New()},
		fnType:    fnType,
		names:     make(map[string]int),
	}
	// Slot 0 belongs to the receiver; methods expose it as `this`.
	slotZero := Local{Depth: 0}
	if fnType == TypeMethod || fnType == TypeInitializer {
		slotZero.Name = "this"
	}
	scope.locals = append(scope.locals, slotZero)
	c.scope = scope
}

// endFunction seals the current function with an implicit return, allocates
// it on the heap, and pops back to the enclosing scope. It returns the
// function address and the upvalue descriptors the enclosing function must
// emit after OP_CLOSURE.
func (c *Compiler) endFunction(line int) (uint64, []Upvalue) {
	c.emitReturn(line)

	scope := c.scope
	scope.function.UpvalueCount = len(scope.upvalues)
	addr := c.heap.AllocFunction(scope.function)
	c.scope = scope.enclosing
	return addr, scope.upvalues
}

func (c *Compiler) emitReturn(line int) {
	if c.scope.fnType == TypeInitializer {
		c.emitA(chunk.OP_GET_LOCAL, 0, line)
	} else {
		c.emit(chunk.OP_NIL, line)
	}
	c.emit(chunk.OP_RETURN, line)
}

func (c *Compiler) beginScope() {
	c.scope.depth++
}

func (c *Compiler) endScope(line int) {
	c.scope.depth--
	for len(c.scope.locals) > 0 {
		last := c.scope.locals[len(c.scope.locals)-1]
		if last.Depth <= c.scope.depth {
			break
		}
		if last.IsCaptured {
			c.emit(chunk.OP_CLOSE_UPVALUE, line)
		} else {
			c.emit(chunk.OP_POP, line)
		}
		c.scope.locals = c.scope.locals[:len(c.scope.locals)-1]
	}
}

// --- variable resolution ---

func (c *Compiler) declareLocal(name string, line int) error {
	if len(c.scope.locals) >= maxLocals {
		return c.errorAt(line, "Too many local variables in function.")
	}
	for i := len(c.scope.locals) - 1; i >= 0; i-- {
		local := c.scope.locals[i]
		if local.Depth != -1 && local.Depth < c.scope.depth {
			break
		}
		if local.Name == name {
			return c.errorAt(line, "Already a variable with this name in this scope.")
		}
	}
	c.scope.locals = append(c.scope.locals, Local{Name: name, Depth: -1})
	return nil
}

func (c *Compiler) markInitialized() {
	if c.scope.depth == 0 {
		return
	}
	c.scope.locals[len(c.scope.locals)-1].Depth = c.scope.depth
}

// resolveLocal returns the frame slot of name in scope, or -1. Reading a
// local inside its own initializer is the one error it can produce.
func (c *Compiler) resolveLocal(scope *codeScope, name string, line int) (int, error) {
	for i := len(scope.locals) - 1; i >= 0; i-- {
		local := scope.locals[i]
		if local.Name == name {
			if local.Depth == -1 {
				return -1, c.errorAt(line, "Can't read local variable in its own initializer.")
			}
			return i, nil
		}
	}
	return -1, nil
}

// resolveUpvalue searches the enclosing functions for name, threading an
// upvalue chain back down to scope. Returns -1 when name is not a local of
// any enclosing function (a global, then).
func (c *Compiler) resolveUpvalue(scope *codeScope, name string, line int) (int, error) {
	if scope.enclosing == nil {
		return -1, nil
	}

	slot, err := c.resolveLocal(scope.enclosing, name, line)
	if err != nil {
		return -1, err
	}
	if slot != -1 {
		scope.enclosing.locals[slot].IsCaptured = true
		return c.addUpvalue(scope, slot, true, line)
	}

	up, err := c.resolveUpvalue(scope.enclosing, name, line)
	if err != nil {
		return -1, err
	}
	if up != -1 {
		return c.addUpvalue(scope, up, false, line)
	}
	return -1, nil
}

func (c *Compiler) addUpvalue(scope *codeScope, index int, isLocal bool, line int) (int, error) {
	for i, up := range scope.upvalues {
		if up.Index == index && up.IsLocal == isLocal {
			return i, nil
		}
	}
	if len(scope.upvalues) >= maxUpvalues {
		return -1, c.errorAt(line, "Too many closure variables in function.")
	}
	scope.upvalues = append(scope.upvalues, Upvalue{Index: index, IsLocal: isLocal})
	return len(scope.upvalues) - 1, nil
}

// namedVariable emits the get or set sequence for an identifier, deciding
// between local, upvalue and global forms.
func (c *Compiler) namedVariable(name string, line int, canAssign bool) error {
	var getOp, setOp chunk.OpCode
	var arg int

	slot, err := c.resolveLocal(c.scope, name, line)
	if err != nil {
		return err
	}
	if slot != -1 {
		getOp, setOp, arg = chunk.OP_GET_LOCAL, chunk.OP_SET_LOCAL, slot
	} else {
		up, err := c.resolveUpvalue(c.scope, name, line)
		if err != nil {
			return err
		}
		if up != -1 {
			getOp, setOp, arg = chunk.OP_GET_UPVALUE, chunk.OP_SET_UPVALUE, up
		} else {
			getOp, setOp, arg = chunk.OP_GET_GLOBAL, chunk.OP_SET_GLOBAL, c.nameConstant(name)
		}
	}

	if canAssign && c.match(token.EQUAL) {
		if err := c.expression(); err != nil {
			return err
		}
		c.emitA(setOp, arg, line)
	} else {
		c.emitA(getOp, arg, line)
	}
	return nil
}

// --- declarations ---

func (c *Compiler) declaration() error {
	switch {
	case c.match(token.CLASS):
		return c.classDeclaration()
	case c.match(token.FUN):
		return c.funDeclaration()
	case c.match(token.VAR):
		return c.varDeclaration()
	default:
		return c.statement()
	}
}

func (c *Compiler) varDeclaration() error {
	nameTok, err := c.consume(token.IDENTIFIER, "Expect variable name.")
	if err != nil {
		return err
	}
	name := nameTok.Literal
	line := nameTok.Line

	if c.scope.depth > 0 {
		if err := c.declareLocal(name, line); err != nil {
			return err
		}
	}

	if c.match(token.EQUAL) {
		if err := c.expression(); err != nil {
			return err
		}
	} else {
		c.emit(chunk.OP_NIL, line)
	}
	if _, err := c.consume(token.SEMICOLON, "Expect ';' after variable declaration."); err != nil {
		return err
	}

	if c.scope.depth > 0 {
		c.markInitialized()
	} else {
		c.emitA(chunk.OP_DEFINE_GLOBAL, c.nameConstant(name), line)
	}
	return nil
}

func (c *Compiler) funDeclaration() error {
	nameTok, err := c.consume(token.IDENTIFIER, "Expect function name.")
	if err != nil {
		return err
	}
	name := nameTok.Literal
	line := nameTok.Line

	if c.scope.depth > 0 {
		if err := c.declareLocal(name, line); err != nil {
			return err
		}
		// Initialized before the body so the function can recurse.
		c.markInitialized()
	}

	if err := c.function(name, TypeFunction); err != nil {
		return err
	}

	if c.scope.depth == 0 {
		c.emitA(chunk.OP_DEFINE_GLOBAL, c.nameConstant(name), line)
	}
	return nil
}

// function compiles a parameter list and body into a fresh function object
// and emits the closure construction sequence in the enclosing chunk.
func (c *Compiler) function(name string, fnType FnType) error {
	line := c.previous().Line
	c.beginFunction(name, fnType)
	c.beginScope()

	if _, err := c.consume(token.LEFT_PAREN, "Expect '(' after function name."); err != nil {
		c.scope = c.scope.enclosing
		return err
	}
	if !c.check(token.RIGHT_PAREN) {
		for {
			if c.scope.function.Arity >= maxArgs {
				c.scope = c.scope.enclosing
				return c.errorAt(c.peek().Line, "Can't have more than 255 parameters.")
			}
			paramTok, err := c.consume(token.IDENTIFIER, "Expect parameter name.")
			if err != nil {
				c.scope = c.scope.enclosing
				return err
			}
			c.scope.function.Arity++
			if err := c.declareLocal(paramTok.Literal, paramTok.Line); err != nil {
				c.scope = c.scope.enclosing
				return err
			}
			c.markInitialized()
			if !c.match(token.COMMA) {
				break
			}
		}
	}
	if _, err := c.consume(token.RIGHT_PAREN, "Expect ')' after parameters."); err != nil {
		c.scope = c.scope.enclosing
		return err
	}
	if _, err := c.consume(token.LEFT_BRACE, "Expect '{' before function body."); err != nil {
		c.scope = c.scope.enclosing
		return err
	}
	if err := c.blockBody(); err != nil {
		c.scope = c.scope.enclosing
		return err
	}

	fnAddr, upvalues := c.endFunction(c.previous().Line)

	constIdx := c.currentChunk().AddConstant(value.NewObject(fnAddr))
	c.emitAB(chunk.OP_CLOSURE, constIdx, len(upvalues), line)
	for _, up := range upvalues {
		isLocal := 0
		if up.IsLocal {
			isLocal = 1
		}
		c.emitAB(chunk.OP_UPVALUE, isLocal, up.Index, line)
	}
	return nil
}

func (c *Compiler) classDeclaration() error {
	nameTok, err := c.consume(token.IDENTIFIER, "Expect class name.")
	if err != nil {
		return err
	}
	name := nameTok.Literal
	line := nameTok.Line

	if c.scope.depth > 0 {
		if err := c.declareLocal(name, line); err != nil {
			return err
		}
	}

	c.emitA(chunk.OP_CLASS, c.nameConstant(name), line)

	if c.scope.depth > 0 {
		c.markInitialized()
	} else {
		c.emitA(chunk.OP_DEFINE_GLOBAL, c.nameConstant(name), line)
	}

	c.class = &classScope{enclosing: c.class}
	defer func() { c.class = c.class.enclosing }()

	if c.match(token.LESS) {
		superTok, err := c.consume(token.IDENTIFIER, "Expect superclass name.")
		if err != nil {
			return err
		}
		if superTok.Literal == name {
			return c.errorAt(superTok.Line, "A class can't inherit from itself.")
		}
		if err := c.namedVariable(superTok.Literal, superTok.Line, false); err != nil {
			return err
		}
		if err := c.namedVariable(name, line, false); err != nil {
			return err
		}
		c.emit(chunk.OP_INHERIT, superTok.Line)
	}

	// Keep the class on the stack while methods attach to it.
	if err := c.namedVariable(name, line, false); err != nil {
		return err
	}

	if _, err := c.consume(token.LEFT_BRACE, "Expect '{' before class body."); err != nil {
		return err
	}
	for !c.check(token.RIGHT_BRACE) && !c.isAtEnd() {
		if err := c.method(); err != nil {
			return err
		}
	}
	rb, err := c.consume(token.RIGHT_BRACE, "Expect '}' after class body.")
	if err != nil {
		return err
	}
	c.emit(chunk.OP_POP, rb.Line)
	return nil
}

func (c *Compiler) method() error {
	nameTok, err := c.consume(token.IDENTIFIER, "Expect method name.")
	if err != nil {
		return err
	}
	fnType := TypeMethod
	if nameTok.Literal == "init" {
		fnType = TypeInitializer
	}
	if err := c.function(nameTok.Literal, fnType); err != nil {
		return err
	}
	c.emitA(chunk.OP_METHOD, c.nameConstant(nameTok.Literal), nameTok.Line)
	return nil
}

// --- statements ---

func (c *Compiler) statement() error {
	switch {
	case c.match(token.PRINT):
		return c.printStatement()
	case c.match(token.LEFT_BRACE):
		c.beginScope()
		if err := c.blockBody(); err != nil {
			return err
		}
		c.endScope(c.previous().Line)
		return nil
	case c.match(token.IF):
		return c.ifStatement()
	case c.match(token.WHILE):
		return c.whileStatement()
	case c.match(token.FOR):
		return c.forStatement()
	case c.match(token.RETURN):
		return c.returnStatement()
	default:
		return c.expressionStatement()
	}
}

// blockBody compiles declarations up to the closing brace; scope handling is
// the caller's.
func (c *Compiler) blockBody() error {
	for !c.check(token.RIGHT_BRACE) && !c.isAtEnd() {
		if err := c.declaration(); err != nil {
			return err
		}
	}
	_, err := c.consume(token.RIGHT_BRACE, "Expect '}' after block.")
	return err
}

func (c *Compiler) printStatement() error {
	if err := c.expression(); err != nil {
		return err
	}
	semi, err := c.consume(token.SEMICOLON, "Expect ';' after value.")
	if err != nil {
		return err
	}
	c.emit(chunk.OP_PRINT, semi.Line)
	return nil
}

func (c *Compiler) expressionStatement() error {
	if err := c.expression(); err != nil {
		return err
	}
	semi, err := c.consume(token.SEMICOLON, "Expect ';' after expression.")
	if err != nil {
		return err
	}
	c.emit(chunk.OP_POP, semi.Line)
	return nil
}

func (c *Compiler) ifStatement() error {
	line := c.previous().Line
	if _, err := c.consume(token.LEFT_PAREN, "Expect '(' after 'if'."); err != nil {
		return err
	}
	if err := c.expression(); err != nil {
		return err
	}
	if _, err := c.consume(token.RIGHT_PAREN, "Expect ')' after condition."); err != nil {
		return err
	}

	thenJump := c.emitA(chunk.OP_JUMP_IF_FALSE, 0, line)
	c.emit(chunk.OP_POP, line)
	if err := c.statement(); err != nil {
		return err
	}
	elseJump := c.emitA(chunk.OP_JUMP, 0, line)
	c.currentChunk().PatchJump(thenJump)
	c.emit(chunk.OP_POP, line)
	if c.match(token.ELSE) {
		if err := c.statement(); err != nil {
			return err
		}
	}
	c.currentChunk().PatchJump(elseJump)
	return nil
}

func (c *Compiler) whileStatement() error {
	line := c.previous().Line
	loopStart := c.currentChunk().Next()
	if _, err := c.consume(token.LEFT_PAREN, "Expect '(' after 'while'."); err != nil {
		return err
	}
	if err := c.expression(); err != nil {
		return err
	}
	if _, err := c.consume(token.RIGHT_PAREN, "Expect ')' after condition."); err != nil {
		return err
	}

	exitJump := c.emitA(chunk.OP_JUMP_IF_FALSE, 0, line)
	c.emit(chunk.OP_POP, line)
	if err := c.statement(); err != nil {
		return err
	}
	c.emitLoop(loopStart, line)
	c.currentChunk().PatchJump(exitJump)
	c.emit(chunk.OP_POP, line)
	return nil
}

func (c *Compiler) forStatement() error {
	line := c.previous().Line
	c.beginScope()
	if _, err := c.consume(token.LEFT_PAREN, "Expect '(' after 'for'."); err != nil {
		return err
	}

	// Initializer clause.
	switch {
	case c.match(token.SEMICOLON):
		// none
	case c.match(token.VAR):
		if err := c.varDeclaration(); err != nil {
			return err
		}
	default:
		if err := c.expressionStatement(); err != nil {
			return err
		}
	}

	loopStart := c.currentChunk().Next()

	// Condition clause; without one the loop has no exit jump.
	exitJump := -1
	if !c.match(token.SEMICOLON) {
		if err := c.expression(); err != nil {
			return err
		}
		if _, err := c.consume(token.SEMICOLON, "Expect ';' after loop condition."); err != nil {
			return err
		}
		exitJump = c.emitA(chunk.OP_JUMP_IF_FALSE, 0, line)
		c.emit(chunk.OP_POP, line)
	}

	// Increment clause runs after the body, before re-testing the condition.
	if !c.match(token.RIGHT_PAREN) {
		bodyJump := c.emitA(chunk.OP_JUMP, 0, line)
		incrementStart := c.currentChunk().Next()
		if err := c.expression(); err != nil {
			return err
		}
		c.emit(chunk.OP_POP, line)
		if _, err := c.consume(token.RIGHT_PAREN, "Expect ')' after for clauses."); err != nil {
			return err
		}
		c.emitLoop(loopStart, line)
		loopStart = incrementStart
		c.currentChunk().PatchJump(bodyJump)
	}

	if err := c.statement(); err != nil {
		return err
	}
	c.emitLoop(loopStart, line)

	if exitJump != -1 {
		c.currentChunk().PatchJump(exitJump)
		c.emit(chunk.OP_POP, line)
	}
	c.endScope(c.previous().Line)
	return nil
}

func (c *Compiler) returnStatement() error {
	line := c.previous().Line
	if c.scope.fnType == TypeScript {
		return c.errorAt(line, "Can't return from top-level code.")
	}
	if c.match(token.SEMICOLON) {
		c.emitReturn(line)
		return nil
	}
	if c.scope.fnType == TypeInitializer {
		return c.errorAt(line, "Can't return a value from an initializer.")
	}
	if err := c.expression(); err != nil {
		return err
	}
	semi, err := c.consume(token.SEMICOLON, "Expect ';' after return value.")
	if err != nil {
		return err
	}
	c.emit(chunk.OP_RETURN, semi.Line)
	return nil
}

// --- expressions ---

func (c *Compiler) expression() error {
	return c.parsePrecedence(PrecAssignment)
}

func (c *Compiler) parsePrecedence(prec Precedence) error {
	if c.isAtEnd() {
		return c.errorAt(c.peek().Line, "Expect expression.")
	}
	tok := c.advance()
	rule := getRule(tok.Type)
	if rule.prefix == nil {
		return c.errorAt(tok.Line, "Expect expression.")
	}
	canAssign := prec <= PrecAssignment
	if err := rule.prefix(c, canAssign); err != nil {
		return err
	}

	for prec <= getRule(c.peek().Type).precedence {
		infixTok := c.advance()
		infix := getRule(infixTok.Type).infix
		if infix == nil {
			return c.errorAt(infixTok.Line, "Expect expression.")
		}
		if err := infix(c, canAssign); err != nil {
			return err
		}
	}

	if canAssign && c.match(token.EQUAL) {
		return c.errorAt(c.previous().Line, "Invalid assignment target.")
	}
	return nil
}

func (c *Compiler) grouping(canAssign bool) error {
	if err := c.expression(); err != nil {
		return err
	}
	_, err := c.consume(token.RIGHT_PAREN, "Expect ')' after expression.")
	return err
}

func (c *Compiler) number(canAssign bool) error {
	tok := c.previous()
	n, err := strconv.ParseFloat(tok.Literal, 64)
	if err != nil {
		return c.errorAt(tok.Line, "Invalid number literal.")
	}
	idx := c.currentChunk().AddConstant(value.NewNumber(n))
	c.emitA(chunk.OP_CONSTANT, idx, tok.Line)
	return nil
}

func (c *Compiler) string_(canAssign bool) error {
	tok := c.previous()
	addr := c.heap.AllocString(tok.Literal)
	idx := c.currentChunk().AddConstant(value.NewObject(addr))
	c.emitA(chunk.OP_CONSTANT, idx, tok.Line)
	return nil
}

func (c *Compiler) literal(canAssign bool) error {
	tok := c.previous()
	switch tok.Type {
	case token.FALSE:
		c.emit(chunk.OP_FALSE, tok.Line)
	case token.TRUE:
		c.emit(chunk.OP_TRUE, tok.Line)
	case token.NIL:
		c.emit(chunk.OP_NIL, tok.Line)
	}
	return nil
}

func (c *Compiler) variable(canAssign bool) error {
	tok := c.previous()
	return c.namedVariable(tok.Literal, tok.Line, canAssign)
}

func (c *Compiler) this_(canAssign bool) error {
	tok := c.previous()
	if c.class == nil {
		return c.errorAt(tok.Line, "Can't use 'this' outside of a class.")
	}
	return c.namedVariable("this", tok.Line, false)
}

func (c *Compiler) super_(canAssign bool) error {
	tok := c.previous()
	if c.class == nil {
		return c.errorAt(tok.Line, "Can't use 'super' outside of a class.")
	}
	return c.errorAt(tok.Line, "Superclass method calls are not supported.")
}

func (c *Compiler) unary(canAssign bool) error {
	tok := c.previous()
	if err := c.parsePrecedence(PrecUnary); err != nil {
		return err
	}
	switch tok.Type {
	case token.MINUS:
		c.emit(chunk.OP_NEGATE, tok.Line)
	case token.BANG:
		c.emit(chunk.OP_NOT, tok.Line)
	}
	return nil
}

func (c *Compiler) binary(canAssign bool) error {
	tok := c.previous()
	rule := getRule(tok.Type)
	if err := c.parsePrecedence(rule.precedence + 1); err != nil {
		return err
	}

	switch tok.Type {
	case token.PLUS:
		c.emit(chunk.OP_ADD, tok.Line)
	case token.MINUS:
		c.emit(chunk.OP_SUBTRACT, tok.Line)
	case token.STAR:
		c.emit(chunk.OP_MULTIPLY, tok.Line)
	case token.SLASH:
		c.emit(chunk.OP_DIVIDE, tok.Line)
	case token.EQUAL_EQUAL:
		c.emit(chunk.OP_EQUAL, tok.Line)
	case token.BANG_EQUAL:
		c.emit(chunk.OP_EQUAL, tok.Line)
		c.emit(chunk.OP_NOT, tok.Line)
	case token.GREATER:
		c.emit(chunk.OP_GREATER, tok.Line)
	case token.GREATER_EQUAL:
		c.emit(chunk.OP_LESS, tok.Line)
		c.emit(chunk.OP_NOT, tok.Line)
	case token.LESS:
		c.emit(chunk.OP_LESS, tok.Line)
	case token.LESS_EQUAL:
		c.emit(chunk.OP_GREATER, tok.Line)
		c.emit(chunk.OP_NOT, tok.Line)
	}
	return nil
}

func (c *Compiler) and_(canAssign bool) error {
	line := c.previous().Line
	endJump := c.emitA(chunk.OP_JUMP_IF_FALSE, 0, line)
	c.emit(chunk.OP_POP, line)
	if err := c.parsePrecedence(PrecAnd); err != nil {
		return err
	}
	c.currentChunk().PatchJump(endJump)
	return nil
}

func (c *Compiler) or_(canAssign bool) error {
	line := c.previous().Line
	elseJump := c.emitA(chunk.OP_JUMP_IF_FALSE, 0, line)
	endJump := c.emitA(chunk.OP_JUMP, 0, line)
	c.currentChunk().PatchJump(elseJump)
	c.emit(chunk.OP_POP, line)
	if err := c.parsePrecedence(PrecOr); err != nil {
		return err
	}
	c.currentChunk().PatchJump(endJump)
	return nil
}

// call compiles the argument list of a callee already on the stack. A nil
// is pushed first to reserve the receiver slot of the new frame.
func (c *Compiler) call(canAssign bool) error {
	line := c.previous().Line
	c.emit(chunk.OP_THIS_PLACEHOLDER, line)
	argc, err := c.argumentList()
	if err != nil {
		return err
	}
	c.emitA(chunk.OP_CALL, argc, line)
	return nil
}

func (c *Compiler) dot(canAssign bool) error {
	nameTok, err := c.consume(token.IDENTIFIER, "Expect property name after '.'.")
	if err != nil {
		return err
	}
	nameIdx := c.nameConstant(nameTok.Literal)

	switch {
	case canAssign && c.match(token.EQUAL):
		if err := c.expression(); err != nil {
			return err
		}
		c.emitA(chunk.OP_SET_PROPERTY, nameIdx, nameTok.Line)
	case c.match(token.LEFT_PAREN):
		// Fused property access and call; the receiver doubles as slot 0.
		argc, err := c.argumentList()
		if err != nil {
			return err
		}
		c.emitAB(chunk.OP_INVOKE, nameIdx, argc, nameTok.Line)
	default:
		c.emitA(chunk.OP_GET_PROPERTY, nameIdx, nameTok.Line)
	}
	return nil
}

func (c *Compiler) argumentList() (int, error) {
	argc := 0
	if !c.check(token.RIGHT_PAREN) {
		for {
			if argc >= maxArgs {
				return 0, c.errorAt(c.peek().Line, "Can't have more than 255 arguments.")
			}
			if err := c.expression(); err != nil {
				return 0, err
			}
			argc++
			if !c.match(token.COMMA) {
				break
			}
		}
	}
	if _, err := c.consume(token.RIGHT_PAREN, "Expect ')' after arguments."); err != nil {
		return 0, err
	}
	return argc, nil
}
