package opt

import (
	"knull/internal/kir"
	"knull/internal/types"
)

// CopyProp replaces registers defined by trivial moves with their source
// value. A move is a phi whose incoming values all agree, a cast to the
// operand's own type, or an integer identity such as x+0 or x*1. The
// defining instruction is left behind as dead code for DCE.
type CopyProp struct {
	types *types.Interner
}

func NewCopyProp(typesIn *types.Interner) *CopyProp {
	return &CopyProp{types: typesIn}
}

func (p *CopyProp) Name() string { return "copyprop" }

func (p *CopyProp) Run(f *kir.Func) bool {
	changed := false
	// One forward sweep per run; the manager reruns until quiet, so chains
	// of moves collapse across rounds.
	for _, b := range f.Blocks {
		for i := range b.Instrs {
			in := &b.Instrs[i]
			src, ok := p.moveSource(in)
			if !ok || src == in.Result {
				continue
			}
			if replaceAllUses(f, in.Result, src) {
				changed = true
			}
		}
	}
	return changed
}

// moveSource returns the value an instruction trivially forwards, if any.
func (p *CopyProp) moveSource(in *kir.Instr) (kir.Value, bool) {
	if !in.HasResult() {
		return kir.None, false
	}
	switch in.Op {
	case kir.OpPhi:
		return phiForward(in)
	case kir.OpCast:
		if in.Args[0].Type == in.Result.Type {
			return in.Args[0], true
		}
	case kir.OpAdd, kir.OpSub, kir.OpOr, kir.OpXor, kir.OpShl, kir.OpShr:
		// x op 0 == x on integers; float zeros are excluded because of
		// signed-zero rounding. Add also commutes.
		if !p.isInteger(in.Result.Type) {
			break
		}
		if isIntConst(in.Args[1], 0) {
			return in.Args[0], true
		}
		if in.Op == kir.OpAdd && isIntConst(in.Args[0], 0) {
			return in.Args[1], true
		}
	case kir.OpMul, kir.OpDiv:
		if !p.isInteger(in.Result.Type) {
			break
		}
		if isIntConst(in.Args[1], 1) {
			return in.Args[0], true
		}
		if in.Op == kir.OpMul && isIntConst(in.Args[0], 1) {
			return in.Args[1], true
		}
	}
	return kir.None, false
}

// phiForward handles phis where every incoming value is either the phi's
// own result or one common value.
func phiForward(in *kir.Instr) (kir.Value, bool) {
	var common kir.Value
	seen := false
	for _, a := range in.Args {
		if a == in.Result {
			continue
		}
		if seen && a != common {
			return kir.None, false
		}
		common, seen = a, true
	}
	if !seen {
		return kir.None, false
	}
	return common, true
}

func (p *CopyProp) isInteger(ty types.TypeID) bool {
	t, ok := p.types.Lookup(ty)
	return ok && t.IsInteger()
}

func isIntConst(v kir.Value, n int64) bool {
	return v.Kind == kir.ValConst && v.Int == n
}
