package kir

import (
	"knull/internal/ast"
	"knull/internal/diag"
	"knull/internal/types"
)

var binOpTable = map[ast.BinOp]Op{
	ast.OpAdd: OpAdd,
	ast.OpSub: OpSub,
	ast.OpMul: OpMul,
	ast.OpDiv: OpDiv,
	ast.OpRem: OpRem,
	ast.OpAnd: OpAnd,
	ast.OpOr:  OpOr,
	ast.OpXor: OpXor,
	ast.OpShl: OpShl,
	ast.OpShr: OpShr,
	ast.OpEq:  OpEq,
	ast.OpNe:  OpNe,
	ast.OpLt:  OpLt,
	ast.OpLe:  OpLe,
	ast.OpGt:  OpGt,
	ast.OpGe:  OpGe,
}

// lowerExpr emits the instructions for one expression and returns the
// value holding its result.
func (fl *funcLowerer) lowerExpr(e *ast.Expr) (Value, error) {
	ty, err := fl.low.resolveType(e.Type)
	if err != nil {
		return None, err
	}

	switch e.Kind {
	case ast.ExprIntLit:
		return IntConst(ty, e.Int), nil
	case ast.ExprFloatLit:
		return FloatConst(ty, e.Float), nil
	case ast.ExprBoolLit:
		return BoolConst(ty, e.Bool), nil

	case ast.ExprLocal:
		return fl.emitLoad(fl.slots[e.Local], ty, e.Span), nil

	case ast.ExprGlobal:
		// A global reference is a pointer; reading the global loads
		// through it.
		ref := GlobalRef(fl.low.types.Ptr(ty), e.Global)
		return fl.emitLoad(ref, ty, e.Span), nil

	case ast.ExprBinary:
		op, ok := binOpTable[e.Op]
		if !ok {
			return None, fl.ice(diag.LowerUnsupportedExpr, e.Span, "binary operator %d has no lowering", e.Op)
		}
		left, err := fl.lowerExpr(e.Left)
		if err != nil {
			return None, err
		}
		right, err := fl.lowerExpr(e.Right)
		if err != nil {
			return None, err
		}
		dst := fl.f.NewReg(ty)
		fl.emit(Instr{Op: op, Result: dst, Type: ty, Args: []Value{left, right}, Span: e.Span})
		return dst, nil

	case ast.ExprUnary:
		x, err := fl.lowerExpr(e.X)
		if err != nil {
			return None, err
		}
		op := OpNeg
		if e.UnOp == ast.OpNot {
			op = OpNot
		}
		dst := fl.f.NewReg(ty)
		fl.emit(Instr{Op: op, Result: dst, Type: ty, Args: []Value{x}, Span: e.Span})
		return dst, nil

	case ast.ExprCall:
		args := make([]Value, 0, len(e.Args))
		for _, a := range e.Args {
			v, err := fl.lowerExpr(a)
			if err != nil {
				return None, err
			}
			args = append(args, v)
		}
		in := Instr{Op: OpCall, Type: ty, Args: args, Callee: e.Callee, Span: e.Span}
		if ty != fl.low.types.Builtins().Unit {
			in.Result = fl.f.NewReg(ty)
		}
		fl.emit(in)
		return in.Result, nil

	case ast.ExprCast:
		x, err := fl.lowerExpr(e.X)
		if err != nil {
			return None, err
		}
		if x.Type == ty {
			return x, nil
		}
		dst := fl.f.NewReg(ty)
		fl.emit(Instr{Op: OpCast, Result: dst, Type: ty, Args: []Value{x}, Span: e.Span})
		return dst, nil

	case ast.ExprCond:
		return fl.lowerCond(e, ty)

	case ast.ExprAddr:
		// The slot pointer escapes here; mem2reg will see the alloca used
		// outside load/store address position and leave it in memory.
		return fl.slots[e.Local], nil

	case ast.ExprDeref:
		ptr, err := fl.lowerExpr(e.X)
		if err != nil {
			return None, err
		}
		return fl.emitLoad(ptr, ty, e.Span), nil
	}
	return None, fl.ice(diag.LowerUnsupportedExpr, e.Span, "expression kind %d has no lowering", e.Kind)
}

// lowerCond lowers the expression-valued conditional through a scratch
// slot rather than a hand-built phi; mem2reg introduces the phi later.
func (fl *funcLowerer) lowerCond(e *ast.Expr, ty types.TypeID) (Value, error) {
	cond, err := fl.lowerExpr(e.Cond)
	if err != nil {
		return None, err
	}

	slot := fl.f.NewReg(fl.low.types.Ptr(ty))
	fl.emit(Instr{Op: OpAlloca, Result: slot, Type: ty, Span: e.Span})

	thenBB := fl.f.AddBlock()
	elseBB := fl.f.AddBlock()
	mergeBB := fl.f.AddBlock()

	fl.terminate(Terminator{Kind: TermJumpIf, JumpIf: JumpIfTerm{Cond: cond, Then: thenBB.ID, Else: elseBB.ID}})

	fl.startBlock(thenBB)
	tv, err := fl.lowerExpr(e.Then)
	if err != nil {
		return None, err
	}
	fl.emitStore(slot, tv, e.Span)
	fl.terminate(jumpTo(mergeBB.ID))

	fl.startBlock(elseBB)
	ev, err := fl.lowerExpr(e.Else)
	if err != nil {
		return None, err
	}
	fl.emitStore(slot, ev, e.Span)
	fl.terminate(jumpTo(mergeBB.ID))

	fl.startBlock(mergeBB)
	return fl.emitLoad(slot, ty, e.Span), nil
}
