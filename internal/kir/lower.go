package kir

import (
	"fmt"

	"knull/internal/ast"
	"knull/internal/diag"
	"knull/internal/source"
	"knull/internal/types"
)

// LowerModule converts a fully type-checked AST into an unverified KIR
// module, interning the module's type table along the way.
//
// Every mutable AST binding becomes a stack slot (alloca) plus explicit
// loads and stores; SSA promotion is a later dedicated pass. Lowering is
// a structural translation and performs no analysis.
//
// The module is never partially published: on any error the whole module
// is discarded and the diagnostic surfaced.
func LowerModule(astMod *ast.Module) (*Module, *types.Interner, error) {
	low := &lowerer{
		astMod:  astMod,
		m:       NewModule(astMod.Name),
		types:   types.NewInterner(),
		typeMap: make([]types.TypeID, len(astMod.Types)),
	}
	for ref := range astMod.Types {
		if _, err := low.resolveType(ast.TypeRef(ref)); err != nil { //nolint:gosec // G115: table index
			return nil, nil, err
		}
	}
	for _, g := range astMod.Globals {
		if err := low.lowerGlobal(g); err != nil {
			return nil, nil, err
		}
	}
	for _, af := range astMod.Funcs {
		f, err := low.lowerFunc(af)
		if err != nil {
			return nil, nil, err
		}
		if err := low.m.AddFunc(f); err != nil {
			return nil, nil, diag.NewError(diag.LowerUnresolvedBinding, af.Name, af.Span, err.Error())
		}
	}
	return low.m, low.types, nil
}

type lowerer struct {
	astMod  *ast.Module
	m       *Module
	types   *types.Interner
	typeMap []types.TypeID
}

// resolveType interns a wire type reference, memoized per module.
func (low *lowerer) resolveType(ref ast.TypeRef) (types.TypeID, error) {
	if ref < 0 || int(ref) >= len(low.typeMap) {
		return types.NoTypeID, diag.NewError(diag.LowerUnsupportedType, "", source.NoSpan,
			fmt.Sprintf("dangling type reference %d", ref))
	}
	if low.typeMap[ref] != types.NoTypeID {
		return low.typeMap[ref], nil
	}
	td := low.astMod.Types[ref]
	var id types.TypeID
	switch td.Kind {
	case ast.TypeUnit:
		id = low.types.Builtins().Unit
	case ast.TypeBool:
		id = low.types.Builtins().Bool
	case ast.TypeInt:
		id = low.types.Intern(types.Type{Kind: types.KindInt, Width: types.Width(td.Width)})
	case ast.TypeUint:
		id = low.types.Intern(types.Type{Kind: types.KindUint, Width: types.Width(td.Width)})
	case ast.TypeFloat:
		id = low.types.Intern(types.Type{Kind: types.KindFloat, Width: types.Width(td.Width)})
	case ast.TypePtr:
		elem, err := low.resolveType(td.Elem)
		if err != nil {
			return types.NoTypeID, err
		}
		id = low.types.Ptr(elem)
	case ast.TypeFn:
		params := make([]types.TypeID, 0, len(td.Params))
		for _, p := range td.Params {
			pid, err := low.resolveType(p)
			if err != nil {
				return types.NoTypeID, err
			}
			params = append(params, pid)
		}
		result, err := low.resolveType(td.Result)
		if err != nil {
			return types.NoTypeID, err
		}
		id = low.types.Fn(params, result)
	default:
		return types.NoTypeID, diag.NewError(diag.LowerUnsupportedType, "", source.NoSpan,
			fmt.Sprintf("type kind %d has no IR representation", td.Kind))
	}
	low.typeMap[ref] = id
	return id, nil
}

func (low *lowerer) lowerGlobal(g ast.Global) error {
	ty, err := low.resolveType(g.Type)
	if err != nil {
		return err
	}
	init := Undef(ty)
	if g.Init != nil {
		v, ok := literalValue(g.Init, ty)
		if !ok {
			return diag.NewError(diag.LowerUnsupportedExpr, "", g.Span,
				fmt.Sprintf("global %s: initializer is not a literal", g.Name))
		}
		init = v
	}
	return low.m.AddGlobal(Global{Name: g.Name, Type: ty, Init: init, Span: g.Span})
}

// literalValue converts a literal expression into a constant Value.
func literalValue(e *ast.Expr, ty types.TypeID) (Value, bool) {
	switch e.Kind {
	case ast.ExprIntLit:
		return IntConst(ty, e.Int), true
	case ast.ExprFloatLit:
		return FloatConst(ty, e.Float), true
	case ast.ExprBoolLit:
		return BoolConst(ty, e.Bool), true
	}
	return None, false
}

// funcLowerer lowers one function body, tracking a current-block cursor.
type funcLowerer struct {
	low   *lowerer
	af    *ast.Func
	f     *Func
	cur   *Block
	slots []Value // LocalID -> alloca result (ptr)
	loops []loopCtx
}

// loopCtx records the innermost loop's break and continue targets.
type loopCtx struct {
	breakTo    BlockID
	continueTo BlockID
}

func (low *lowerer) lowerFunc(af *ast.Func) (*Func, error) {
	result, err := low.resolveType(af.Result)
	if err != nil {
		return nil, err
	}
	f := NewFunc(af.Name, result)
	f.Inline = af.Inline
	f.Span = af.Span

	fl := &funcLowerer{
		low:   low,
		af:    af,
		f:     f,
		cur:   f.Entry(),
		slots: make([]Value, len(af.Locals)),
	}

	// Every local gets a stack slot in the entry block; parameters are
	// spilled into theirs so re-assignment needs no special case.
	paramSet := make(map[ast.LocalID]Value, len(af.Params))
	for _, p := range af.Params {
		ty, err := low.resolveType(af.Locals[p].Type)
		if err != nil {
			return nil, err
		}
		paramSet[p] = f.AddParam(ty)
	}
	for i := range af.Locals {
		ty, err := low.resolveType(af.Locals[i].Type)
		if err != nil {
			return nil, err
		}
		slot := f.NewReg(low.types.Ptr(ty))
		fl.cur.Append(Instr{Op: OpAlloca, Result: slot, Type: ty, Span: af.Span})
		fl.slots[i] = slot
	}
	for _, p := range af.Params {
		fl.emitStore(fl.slots[p], paramSet[p], af.Span)
	}

	if err := fl.lowerStmts(af.Body); err != nil {
		return nil, err
	}

	// Fall-through off the end: unit functions return implicitly; anything
	// else is unreachable (the front end has already checked returns).
	if fl.cur != nil && !fl.cur.Terminated() {
		if result == low.types.Builtins().Unit {
			fl.terminate(Terminator{Kind: TermRet})
		} else {
			fl.terminate(Terminator{Kind: TermUnreachable})
		}
	}
	return f, nil
}

// startBlock moves the cursor. A nil cursor after a terminator means the
// following statements are unreachable; they lower into a scratch block.
func (fl *funcLowerer) startBlock(b *Block) {
	fl.cur = b
}

func (fl *funcLowerer) block() *Block {
	if fl.cur == nil {
		fl.cur = fl.f.AddBlock() // unreachable scratch block
	}
	return fl.cur
}

func (fl *funcLowerer) emit(in Instr) {
	fl.block().Append(in)
}

func (fl *funcLowerer) emitStore(ptr, val Value, span source.Span) {
	fl.emit(Instr{Op: OpStore, Type: val.Type, Args: []Value{ptr, val}, Span: span})
}

func (fl *funcLowerer) emitLoad(ptr Value, elem types.TypeID, span source.Span) Value {
	dst := fl.f.NewReg(elem)
	fl.emit(Instr{Op: OpLoad, Result: dst, Type: elem, Args: []Value{ptr}, Span: span})
	return dst
}

func (fl *funcLowerer) terminate(t Terminator) {
	b := fl.block()
	if b.Terminated() {
		return
	}
	fl.f.SetTerm(b, t)
	fl.cur = nil
}

func (fl *funcLowerer) ice(code diag.Code, span source.Span, format string, args ...any) error {
	return diag.NewError(code, fl.f.Name, span, fmt.Sprintf(format, args...))
}
