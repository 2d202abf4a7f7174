// Package ast defines the typed AST the mid-end consumes from the front
// end. Every expression carries its resolved type and every name reference
// is resolved to a unique local or global binding; the mid-end never looks
// names up.
//
// The package is deliberately front-end agnostic: the types are plain data
// with msgpack tags so a front end living in another process can hand a
// module across a pipe (see DecodeModule).
package ast

import "knull/internal/source"

// TypeRef indexes the module's type table. The mid-end interns these into
// its own type interner during lowering.
type TypeRef int32

// NoType marks an absent type reference.
const NoType TypeRef = -1

// TypeKind mirrors the IR type kinds on the wire.
type TypeKind uint8

const (
	TypeUnit TypeKind = iota
	TypeBool
	TypeInt
	TypeUint
	TypeFloat
	TypePtr
	TypeFn
)

// TypeDef is one entry of the module's type table.
type TypeDef struct {
	Kind   TypeKind  `msgpack:"kind"`
	Width  uint8     `msgpack:"width,omitempty"`
	Elem   TypeRef   `msgpack:"elem,omitempty"`
	Params []TypeRef `msgpack:"params,omitempty"`
	Result TypeRef   `msgpack:"result,omitempty"`
}

// LocalID identifies a local binding within one function.
type LocalID int32

// NoLocal marks an absent binding.
const NoLocal LocalID = -1

// Module is one fully type-checked compilation unit.
type Module struct {
	Name    string    `msgpack:"name"`
	Types   []TypeDef `msgpack:"types"`
	Globals []Global  `msgpack:"globals,omitempty"`
	Funcs   []*Func   `msgpack:"funcs"`
}

// Global is a module-level symbol with a constant initializer.
type Global struct {
	Name string      `msgpack:"name"`
	Type TypeRef     `msgpack:"type"`
	Init *Expr       `msgpack:"init,omitempty"` // literal expression or nil
	Span source.Span `msgpack:"span,omitempty"`
}

// Local is a declared binding inside a function (params included).
type Local struct {
	Name string  `msgpack:"name"`
	Type TypeRef `msgpack:"type"`
}

// Func is one function body.
type Func struct {
	Name   string      `msgpack:"name"`
	Params []LocalID   `msgpack:"params,omitempty"` // indexes into Locals
	Result TypeRef     `msgpack:"result"`
	Locals []Local     `msgpack:"locals,omitempty"`
	Body   []Stmt      `msgpack:"body"`
	Inline bool        `msgpack:"inline,omitempty"` // front-end inline marker
	Span   source.Span `msgpack:"span,omitempty"`
}

// StmtKind enumerates statement kinds.
type StmtKind uint8

const (
	// StmtLet declares a local and optionally initializes it.
	StmtLet StmtKind = iota
	// StmtAssign re-assigns a local binding.
	StmtAssign
	// StmtStore writes through a pointer expression.
	StmtStore
	// StmtExpr evaluates an expression for its side effects.
	StmtExpr
	// StmtIf branches on a boolean condition.
	StmtIf
	// StmtWhile loops while a condition holds.
	StmtWhile
	// StmtFor is a counted loop over an integer induction variable.
	StmtFor
	// StmtSwitch dispatches on an integer scrutinee.
	StmtSwitch
	// StmtReturn leaves the function.
	StmtReturn
	// StmtBreak leaves the innermost loop.
	StmtBreak
	// StmtContinue restarts the innermost loop.
	StmtContinue
	// StmtBlock groups statements without new scope semantics.
	StmtBlock
)

// Stmt is a tagged statement variant.
type Stmt struct {
	Kind StmtKind    `msgpack:"kind"`
	Span source.Span `msgpack:"span,omitempty"`

	Let    LetStmt    `msgpack:"let,omitempty"`
	Assign AssignStmt `msgpack:"assign,omitempty"`
	Store  StoreStmt  `msgpack:"store,omitempty"`
	Expr   *Expr      `msgpack:"expr,omitempty"`
	If     IfStmt     `msgpack:"if,omitempty"`
	While  WhileStmt  `msgpack:"while,omitempty"`
	For    ForStmt    `msgpack:"for,omitempty"`
	Switch SwitchStmt `msgpack:"switch,omitempty"`
	Return ReturnStmt `msgpack:"return,omitempty"`
	Block  []Stmt     `msgpack:"block,omitempty"`
}

type LetStmt struct {
	Local LocalID `msgpack:"local"`
	Init  *Expr   `msgpack:"init,omitempty"`
}

type AssignStmt struct {
	Local LocalID `msgpack:"local"`
	Value *Expr   `msgpack:"value"`
}

type StoreStmt struct {
	Ptr   *Expr `msgpack:"ptr"`
	Value *Expr `msgpack:"value"`
}

type IfStmt struct {
	Cond *Expr  `msgpack:"cond"`
	Then []Stmt `msgpack:"then"`
	Else []Stmt `msgpack:"else,omitempty"`
}

type WhileStmt struct {
	Cond *Expr  `msgpack:"cond"`
	Body []Stmt `msgpack:"body"`
}

// ForStmt is the counted form `for i = from; i < to; i += step`.
// The front end desugars richer loops before handing them over.
type ForStmt struct {
	Local LocalID `msgpack:"local"`
	From  *Expr   `msgpack:"from"`
	To    *Expr   `msgpack:"to"`
	Step  *Expr   `msgpack:"step"`
	Body  []Stmt  `msgpack:"body"`
}

type SwitchCase struct {
	Value int64  `msgpack:"value"`
	Body  []Stmt `msgpack:"body"`
}

type SwitchStmt struct {
	Value   *Expr        `msgpack:"value"`
	Cases   []SwitchCase `msgpack:"cases"`
	Default []Stmt       `msgpack:"default,omitempty"`
}

type ReturnStmt struct {
	Value *Expr `msgpack:"value,omitempty"`
}

// ExprKind enumerates expression kinds.
type ExprKind uint8

const (
	ExprIntLit ExprKind = iota
	ExprFloatLit
	ExprBoolLit
	ExprLocal
	ExprGlobal
	ExprBinary
	ExprUnary
	ExprCall
	ExprCast
	// ExprCond is the expression-valued conditional.
	ExprCond
	// ExprAddr takes the address of a local binding.
	ExprAddr
	// ExprDeref loads through a pointer expression.
	ExprDeref
)

// BinOp enumerates binary operators. Comparison operators yield bool.
type BinOp uint8

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpDiv
	OpRem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

// UnOp enumerates unary operators.
type UnOp uint8

const (
	OpNeg UnOp = iota
	OpNot
)

// Expr is a tagged expression variant. Type is always resolved.
type Expr struct {
	Kind ExprKind    `msgpack:"kind"`
	Type TypeRef     `msgpack:"type"`
	Span source.Span `msgpack:"span,omitempty"`

	Int    int64   `msgpack:"int,omitempty"`
	Float  float64 `msgpack:"float,omitempty"`
	Bool   bool    `msgpack:"bool,omitempty"`
	Local  LocalID `msgpack:"local,omitempty"`
	Global string  `msgpack:"global,omitempty"`

	Op    BinOp   `msgpack:"op,omitempty"`
	UnOp  UnOp    `msgpack:"unop,omitempty"`
	Left  *Expr   `msgpack:"left,omitempty"`
	Right *Expr   `msgpack:"right,omitempty"`
	X     *Expr   `msgpack:"x,omitempty"`
	Cond  *Expr   `msgpack:"cond,omitempty"`
	Then  *Expr   `msgpack:"then,omitempty"`
	Else  *Expr   `msgpack:"else,omitempty"`

	Callee string  `msgpack:"callee,omitempty"`
	Args   []*Expr `msgpack:"args,omitempty"`
}
