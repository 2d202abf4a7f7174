package kir

import (
	"knull/internal/ast"
	"knull/internal/diag"
)

func (fl *funcLowerer) lowerStmts(stmts []ast.Stmt) error {
	for i := range stmts {
		if err := fl.lowerStmt(&stmts[i]); err != nil {
			return err
		}
	}
	return nil
}

func (fl *funcLowerer) lowerStmt(s *ast.Stmt) error {
	switch s.Kind {
	case ast.StmtLet:
		if s.Let.Init == nil {
			return nil // slot already allocated, stays undefined until assigned
		}
		v, err := fl.lowerExpr(s.Let.Init)
		if err != nil {
			return err
		}
		fl.emitStore(fl.slots[s.Let.Local], v, s.Span)
		return nil

	case ast.StmtAssign:
		v, err := fl.lowerExpr(s.Assign.Value)
		if err != nil {
			return err
		}
		fl.emitStore(fl.slots[s.Assign.Local], v, s.Span)
		return nil

	case ast.StmtStore:
		ptr, err := fl.lowerExpr(s.Store.Ptr)
		if err != nil {
			return err
		}
		v, err := fl.lowerExpr(s.Store.Value)
		if err != nil {
			return err
		}
		fl.emitStore(ptr, v, s.Span)
		return nil

	case ast.StmtExpr:
		_, err := fl.lowerExpr(s.Expr)
		return err

	case ast.StmtIf:
		return fl.lowerIf(s)

	case ast.StmtWhile:
		return fl.lowerWhile(s)

	case ast.StmtFor:
		return fl.lowerFor(s)

	case ast.StmtSwitch:
		return fl.lowerSwitch(s)

	case ast.StmtReturn:
		if s.Return.Value == nil {
			fl.terminate(Terminator{Kind: TermRet})
			return nil
		}
		v, err := fl.lowerExpr(s.Return.Value)
		if err != nil {
			return err
		}
		fl.terminate(Terminator{Kind: TermRet, Ret: RetTerm{HasValue: true, Value: v}})
		return nil

	case ast.StmtBreak:
		if len(fl.loops) == 0 {
			return fl.ice(diag.LowerUnsupportedStmt, s.Span, "break outside loop")
		}
		fl.terminate(jumpTo(fl.loops[len(fl.loops)-1].breakTo))
		return nil

	case ast.StmtContinue:
		if len(fl.loops) == 0 {
			return fl.ice(diag.LowerUnsupportedStmt, s.Span, "continue outside loop")
		}
		fl.terminate(jumpTo(fl.loops[len(fl.loops)-1].continueTo))
		return nil

	case ast.StmtBlock:
		return fl.lowerStmts(s.Block)
	}
	return fl.ice(diag.LowerUnsupportedStmt, s.Span, "statement kind %d has no lowering", s.Kind)
}

func jumpTo(target BlockID) Terminator {
	return Terminator{Kind: TermJump, Jump: JumpTerm{Target: target}}
}

func (fl *funcLowerer) lowerIf(s *ast.Stmt) error {
	cond, err := fl.lowerExpr(s.If.Cond)
	if err != nil {
		return err
	}

	thenBB := fl.f.AddBlock()
	elseBB := thenBB
	if len(s.If.Else) > 0 {
		elseBB = fl.f.AddBlock()
	}
	mergeBB := fl.f.AddBlock()
	if len(s.If.Else) == 0 {
		elseBB = mergeBB
	}

	fl.terminate(Terminator{Kind: TermJumpIf, JumpIf: JumpIfTerm{Cond: cond, Then: thenBB.ID, Else: elseBB.ID}})

	fl.startBlock(thenBB)
	if err := fl.lowerStmts(s.If.Then); err != nil {
		return err
	}
	fl.terminate(jumpTo(mergeBB.ID))

	if len(s.If.Else) > 0 {
		fl.startBlock(elseBB)
		if err := fl.lowerStmts(s.If.Else); err != nil {
			return err
		}
		fl.terminate(jumpTo(mergeBB.ID))
	}

	fl.startBlock(mergeBB)
	return nil
}

func (fl *funcLowerer) lowerWhile(s *ast.Stmt) error {
	headBB := fl.f.AddBlock()
	bodyBB := fl.f.AddBlock()
	exitBB := fl.f.AddBlock()

	fl.terminate(jumpTo(headBB.ID))

	fl.startBlock(headBB)
	cond, err := fl.lowerExpr(s.While.Cond)
	if err != nil {
		return err
	}
	fl.terminate(Terminator{Kind: TermJumpIf, JumpIf: JumpIfTerm{Cond: cond, Then: bodyBB.ID, Else: exitBB.ID}})

	fl.loops = append(fl.loops, loopCtx{breakTo: exitBB.ID, continueTo: headBB.ID})
	fl.startBlock(bodyBB)
	if err := fl.lowerStmts(s.While.Body); err != nil {
		return err
	}
	fl.terminate(jumpTo(headBB.ID))
	fl.loops = fl.loops[:len(fl.loops)-1]

	fl.startBlock(exitBB)
	return nil
}

// lowerFor desugars the counted form into init + while shape with a
// dedicated step block as the continue target.
func (fl *funcLowerer) lowerFor(s *ast.Stmt) error {
	slot := fl.slots[s.For.Local]
	elemTy, err := fl.low.resolveType(fl.af.Locals[s.For.Local].Type)
	if err != nil {
		return err
	}

	from, err := fl.lowerExpr(s.For.From)
	if err != nil {
		return err
	}
	fl.emitStore(slot, from, s.Span)

	headBB := fl.f.AddBlock()
	bodyBB := fl.f.AddBlock()
	stepBB := fl.f.AddBlock()
	exitBB := fl.f.AddBlock()

	fl.terminate(jumpTo(headBB.ID))

	fl.startBlock(headBB)
	iv := fl.emitLoad(slot, elemTy, s.Span)
	to, err := fl.lowerExpr(s.For.To)
	if err != nil {
		return err
	}
	cond := fl.f.NewReg(fl.low.types.Builtins().Bool)
	fl.emit(Instr{Op: OpLt, Result: cond, Type: cond.Type, Args: []Value{iv, to}, Span: s.Span})
	fl.terminate(Terminator{Kind: TermJumpIf, JumpIf: JumpIfTerm{Cond: cond, Then: bodyBB.ID, Else: exitBB.ID}})

	fl.loops = append(fl.loops, loopCtx{breakTo: exitBB.ID, continueTo: stepBB.ID})
	fl.startBlock(bodyBB)
	if err := fl.lowerStmts(s.For.Body); err != nil {
		return err
	}
	fl.terminate(jumpTo(stepBB.ID))
	fl.loops = fl.loops[:len(fl.loops)-1]

	fl.startBlock(stepBB)
	cur := fl.emitLoad(slot, elemTy, s.Span)
	step, err := fl.lowerExpr(s.For.Step)
	if err != nil {
		return err
	}
	next := fl.f.NewReg(elemTy)
	fl.emit(Instr{Op: OpAdd, Result: next, Type: elemTy, Args: []Value{cur, step}, Span: s.Span})
	fl.emitStore(slot, next, s.Span)
	fl.terminate(jumpTo(headBB.ID))

	fl.startBlock(exitBB)
	return nil
}

func (fl *funcLowerer) lowerSwitch(s *ast.Stmt) error {
	val, err := fl.lowerExpr(s.Switch.Value)
	if err != nil {
		return err
	}

	caseBBs := make([]*Block, len(s.Switch.Cases))
	for i := range s.Switch.Cases {
		caseBBs[i] = fl.f.AddBlock()
	}
	defaultBB := fl.f.AddBlock()
	mergeBB := fl.f.AddBlock()

	term := Terminator{Kind: TermSwitch, Switch: SwitchTerm{Value: val, Default: defaultBB.ID}}
	for i, c := range s.Switch.Cases {
		term.Switch.Cases = append(term.Switch.Cases, SwitchCase{Const: c.Value, Target: caseBBs[i].ID})
	}
	fl.terminate(term)

	for i, c := range s.Switch.Cases {
		fl.startBlock(caseBBs[i])
		if err := fl.lowerStmts(c.Body); err != nil {
			return err
		}
		fl.terminate(jumpTo(mergeBB.ID))
	}

	fl.startBlock(defaultBB)
	if err := fl.lowerStmts(s.Switch.Default); err != nil {
		return err
	}
	fl.terminate(jumpTo(mergeBB.ID))

	fl.startBlock(mergeBB)
	return nil
}
