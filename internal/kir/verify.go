package kir

import (
	"errors"
	"fmt"

	"knull/internal/diag"
	"knull/internal/types"
)

// maxVerifyDiags caps how many broken functions one Verify call reports.
const maxVerifyDiags = 16

// Verify checks module invariants, reporting the first violation of each
// function. A violation is always an internal compiler error, never a user
// error. The traversal is read-only.
func Verify(m *Module, typesIn *types.Interner) error {
	if m == nil {
		return nil
	}
	bag := diag.NewBag(maxVerifyDiags)
	for _, f := range m.Funcs {
		if f == nil {
			continue
		}
		if err := VerifyFunc(f, m, typesIn); err != nil {
			var d diag.Diagnostic
			if !errors.As(err, &d) {
				return err
			}
			bag.Add(d)
		}
	}
	if !bag.HasErrors() {
		return nil
	}
	bag.Sort()
	errs := make([]error, bag.Len())
	for i, d := range bag.Items() {
		errs[i] = d
	}
	return errors.Join(errs...)
}

// VerifyFunc checks one function. Checks run in dependency order: later
// checks assume the structure earlier ones establish.
func VerifyFunc(f *Func, m *Module, typesIn *types.Interner) error {
	v := &verifier{f: f, m: m, types: typesIn}
	checks := []func() error{
		v.checkBlocksTerminated,
		v.checkBlockTargets,
		v.checkEntry,
		v.checkPhiPlacement,
		v.checkPredLists,
		v.checkPhiEdges,
		v.checkSingleDefs,
		v.checkDominance,
		v.checkTypes,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

type verifier struct {
	f     *Func
	m     *Module
	types *types.Interner

	defs map[RegID]defSite // built by checkSingleDefs
}

// defSite locates a register definition for the dominance check.
type defSite struct {
	block BlockID
	index int // instruction index, -1 for parameters
}

func (v *verifier) fail(code diag.Code, format string, args ...any) error {
	return diag.NewError(code, v.f.Name, v.f.Span, fmt.Sprintf(format, args...))
}

func (v *verifier) checkBlocksTerminated() error {
	if len(v.f.Blocks) == 0 {
		return v.fail(diag.VerifyMissingTerminator, "function has no blocks")
	}
	for _, b := range v.f.Blocks {
		if b.Term.Kind == TermNone {
			return v.fail(diag.VerifyMissingTerminator, "bb%d: unterminated block", b.ID)
		}
	}
	return nil
}

func (v *verifier) checkBlockTargets() error {
	var err error
	for _, b := range v.f.Blocks {
		b.Term.Successors(func(s BlockID) {
			if err == nil && v.f.Block(s) == nil {
				err = v.fail(diag.VerifyDanglingBlock, "bb%d: terminator targets missing bb%d", b.ID, s)
			}
		})
	}
	return err
}

func (v *verifier) checkEntry() error {
	if len(v.f.Entry().Preds) != 0 {
		return v.fail(diag.VerifyEntryHasPreds, "entry block has predecessors")
	}
	return nil
}

// checkPhiPlacement enforces that phis form a leading run in each block.
func (v *verifier) checkPhiPlacement() error {
	for _, b := range v.f.Blocks {
		seenNonPhi := false
		for i := range b.Instrs {
			if b.Instrs[i].Op == OpPhi {
				if seenNonPhi {
					return v.fail(diag.VerifyInstrAfterTerm,
						"bb%d: phi at %d after non-phi instruction", b.ID, i)
				}
			} else {
				seenNonPhi = true
			}
		}
	}
	return nil
}

// checkPredLists verifies that each block's recorded predecessors are
// exactly the blocks whose terminator names it.
func (v *verifier) checkPredLists() error {
	actual := make(map[BlockID]map[BlockID]bool, len(v.f.Blocks))
	for _, b := range v.f.Blocks {
		b.Term.Successors(func(s BlockID) {
			if actual[s] == nil {
				actual[s] = make(map[BlockID]bool)
			}
			actual[s][b.ID] = true
		})
	}
	for _, b := range v.f.Blocks {
		want := actual[b.ID]
		if len(b.Preds) != len(want) {
			return v.fail(diag.VerifyDanglingBlock,
				"bb%d: recorded %d predecessors, CFG has %d", b.ID, len(b.Preds), len(want))
		}
		for _, p := range b.Preds {
			if !want[p] {
				return v.fail(diag.VerifyDanglingBlock,
					"bb%d: recorded predecessor bb%d has no edge here", b.ID, p)
			}
		}
	}
	return nil
}

// checkPhiEdges verifies phi operand lists: one operand per predecessor,
// each predecessor exactly once, no strays.
func (v *verifier) checkPhiEdges() error {
	for _, b := range v.f.Blocks {
		for i := range b.Instrs {
			in := &b.Instrs[i]
			if in.Op != OpPhi {
				break
			}
			if len(in.Args) != len(in.Preds) {
				return v.fail(diag.VerifyOperandCount,
					"bb%d: phi has %d operands for %d edges", b.ID, len(in.Args), len(in.Preds))
			}
			if len(in.Preds) != len(b.Preds) {
				return v.fail(diag.VerifyPhiMismatch,
					"bb%d: phi has %d incoming edges, block has %d predecessors",
					b.ID, len(in.Preds), len(b.Preds))
			}
			seen := make(map[BlockID]bool, len(in.Preds))
			for _, p := range in.Preds {
				if seen[p] {
					return v.fail(diag.VerifyPhiMismatch,
						"bb%d: phi names predecessor bb%d twice", b.ID, p)
				}
				seen[p] = true
				if !b.HasPred(p) {
					return v.fail(diag.VerifyPhiMismatch,
						"bb%d: phi names bb%d which is not a predecessor", b.ID, p)
				}
			}
		}
	}
	return nil
}

// checkSingleDefs enforces the SSA single-definition rule and records
// definition sites for the dominance check.
func (v *verifier) checkSingleDefs() error {
	v.defs = make(map[RegID]defSite)
	for _, p := range v.f.Params {
		v.defs[p.Reg] = defSite{block: 0, index: -1}
	}
	for _, b := range v.f.Blocks {
		for i := range b.Instrs {
			in := &b.Instrs[i]
			if !in.HasResult() {
				continue
			}
			if _, dup := v.defs[in.Result.Reg]; dup {
				return v.fail(diag.VerifyMultipleDefs,
					"bb%d: %%%d defined more than once", b.ID, in.Result.Reg)
			}
			v.defs[in.Result.Reg] = defSite{block: b.ID, index: i}
		}
	}
	return nil
}

// checkDominance enforces that every register use is dominated by its
// definition. Phi operands are exempt from the in-block rule: their
// definition must instead dominate the predecessor edge they arrive on.
func (v *verifier) checkDominance() error {
	dt := BuildDomTree(v.f)
	reachable := Reachable(v.f)

	check := func(b *Block, idx int, val Value, phiPred BlockID) error {
		if val.Kind != ValReg {
			return nil
		}
		if !reachable[b.ID] {
			return nil // uses in unreachable scratch blocks are not constrained
		}
		def, ok := v.defs[val.Reg]
		if !ok {
			return v.fail(diag.VerifyUseNotDominated,
				"bb%d: use of undefined register %%%d", b.ID, val.Reg)
		}
		if phiPred != NoBlock {
			// The incoming value must be available at the end of the edge's
			// predecessor block.
			if def.block == phiPred || dt.Dominates(def.block, phiPred) {
				return nil
			}
			return v.fail(diag.VerifyUseNotDominated,
				"bb%d: phi operand %%%d not dominated by its definition on edge from bb%d",
				b.ID, val.Reg, phiPred)
		}
		if def.block == b.ID {
			if def.index < idx {
				return nil
			}
			return v.fail(diag.VerifyUseNotDominated,
				"bb%d: %%%d used at %d before definition at %d", b.ID, val.Reg, idx, def.index)
		}
		if dt.Dominates(def.block, b.ID) {
			return nil
		}
		return v.fail(diag.VerifyUseNotDominated,
			"bb%d: use of %%%d not dominated by its definition in bb%d", b.ID, val.Reg, def.block)
	}

	for _, b := range v.f.Blocks {
		for i := range b.Instrs {
			in := &b.Instrs[i]
			if in.Op == OpPhi {
				for j, a := range in.Args {
					if err := check(b, i, a, in.Preds[j]); err != nil {
						return err
					}
				}
				continue
			}
			for _, a := range in.Args {
				if err := check(b, i, a, NoBlock); err != nil {
					return err
				}
			}
		}
		var err error
		b.Term.Uses(func(val Value) {
			if err == nil {
				err = check(b, len(b.Instrs), val, NoBlock)
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// checkTypes applies each opcode's typing rule to declared result and
// operand types.
func (v *verifier) checkTypes() error {
	if v.types == nil {
		return nil
	}
	for _, b := range v.f.Blocks {
		for i := range b.Instrs {
			if err := v.checkInstrTypes(b, i, &b.Instrs[i]); err != nil {
				return err
			}
		}
		if b.Term.Kind == TermRet && b.Term.Ret.HasValue {
			if b.Term.Ret.Value.Type != v.f.Result {
				return v.fail(diag.VerifyTypeMismatch,
					"bb%d: return value type %s, function returns %s",
					b.ID, v.types.String(b.Term.Ret.Value.Type), v.types.String(v.f.Result))
			}
		}
	}
	return nil
}

func (v *verifier) checkInstrTypes(b *Block, idx int, in *Instr) error {
	argn := func(n int) error {
		if len(in.Args) != n {
			return v.fail(diag.VerifyOperandCount,
				"bb%d: %s at %d has %d operands, wants %d", b.ID, in.Op, idx, len(in.Args), n)
		}
		return nil
	}
	mismatch := func(msg string) error {
		return v.fail(diag.VerifyTypeMismatch, "bb%d: %s at %d: %s", b.ID, in.Op, idx, msg)
	}

	switch {
	case in.Op.IsBinary():
		if err := argn(2); err != nil {
			return err
		}
		if in.Args[0].Type != in.Args[1].Type {
			return mismatch("operand types differ")
		}
		want := in.Args[0].Type
		if in.Op.IsComparison() {
			want = v.types.Builtins().Bool
		}
		if in.Result.Type != want || in.Type != want {
			return mismatch("result type does not follow the opcode's typing rule")
		}

	case in.Op == OpNeg || in.Op == OpNot:
		if err := argn(1); err != nil {
			return err
		}
		if in.Result.Type != in.Args[0].Type {
			return mismatch("unary result type differs from operand")
		}

	case in.Op == OpAlloca:
		if err := argn(0); err != nil {
			return err
		}
		pt, ok := v.types.Lookup(in.Result.Type)
		if !ok || pt.Kind != types.KindPtr || pt.Elem != in.Type {
			return mismatch("alloca result is not a pointer to its element type")
		}

	case in.Op == OpLoad:
		if err := argn(1); err != nil {
			return err
		}
		pt, ok := v.types.Lookup(in.Args[0].Type)
		if !ok || pt.Kind != types.KindPtr || pt.Elem != in.Result.Type {
			return mismatch("load operand is not a pointer to the result type")
		}

	case in.Op == OpStore:
		if err := argn(2); err != nil {
			return err
		}
		pt, ok := v.types.Lookup(in.Args[0].Type)
		if !ok || pt.Kind != types.KindPtr || pt.Elem != in.Args[1].Type {
			return mismatch("store address is not a pointer to the stored type")
		}

	case in.Op == OpPhi:
		for _, a := range in.Args {
			if a.Kind != ValUndef && a.Type != in.Result.Type {
				return mismatch("phi operand type differs from result")
			}
		}

	case in.Op == OpCast:
		if err := argn(1); err != nil {
			return err
		}
		from, okF := v.types.Lookup(in.Args[0].Type)
		to, okT := v.types.Lookup(in.Result.Type)
		if !okF || !okT || !from.IsNumeric() && from.Kind != types.KindBool ||
			!to.IsNumeric() && to.Kind != types.KindBool {
			return mismatch("cast between non-scalar types")
		}

	case in.Op == OpAtomicAdd || in.Op == OpAtomicXchg:
		if err := argn(2); err != nil {
			return err
		}
		pt, ok := v.types.Lookup(in.Args[0].Type)
		if !ok || pt.Kind != types.KindPtr || pt.Elem != in.Args[1].Type {
			return mismatch("atomic address is not a pointer to the operand type")
		}

	case in.Op == OpCall:
		if v.m != nil {
			if callee := v.m.FuncByName(in.Callee); callee != nil {
				if len(in.Args) != len(callee.Params) {
					return mismatch("call arity differs from callee signature")
				}
				for i, a := range in.Args {
					if a.Type != callee.Params[i].Type {
						return mismatch("call argument type differs from callee parameter")
					}
				}
				if in.HasResult() && in.Result.Type != callee.Result {
					return mismatch("call result type differs from callee result")
				}
			}
		}

	case in.Op == OpMemset || in.Op == OpMemcpy:
		if err := argn(3); err != nil {
			return err
		}

	case in.Op == OpInvalid:
		return v.fail(diag.VerifyTypeMismatch, "bb%d: invalid opcode at %d", b.ID, idx)
	}
	return nil
}
