package kir

import (
	"knull/internal/source"
	"knull/internal/types"
)

// Instr is one three-address instruction. Result is None for void
// instructions; Args is the ordered operand list. For OpPhi, Preds runs
// parallel to Args and names the predecessor block each incoming value
// arrives from.
type Instr struct {
	Op     Op
	Result Value
	Type   types.TypeID // result type, or the stored/element type for memory ops
	Args   []Value

	// Phi incoming edges, parallel to Args. Empty for every other opcode.
	Preds []BlockID

	// Callee is the target symbol for OpCall.
	Callee string

	Span source.Span
}

// HasResult reports whether the instruction defines a register.
func (in *Instr) HasResult() bool {
	return in.Result.Kind == ValReg
}

// Uses calls fn for each operand value. Phi operands are visited in
// stored edge order.
func (in *Instr) Uses(fn func(Value)) {
	for _, a := range in.Args {
		fn(a)
	}
}

// ReplaceUses rewrites every operand equal to old with new and reports
// whether anything changed. The Values themselves are immutable; only the
// operand list is rewritten.
func (in *Instr) ReplaceUses(old, new Value) bool {
	changed := false
	for i := range in.Args {
		if in.Args[i] == old {
			in.Args[i] = new
			changed = true
		}
	}
	return changed
}

// PhiIncoming returns the incoming value for a predecessor edge of a phi,
// and whether the edge exists.
func (in *Instr) PhiIncoming(pred BlockID) (Value, bool) {
	for i, p := range in.Preds {
		if p == pred {
			return in.Args[i], true
		}
	}
	return None, false
}

// RemovePhiEdge drops the operand for a predecessor edge of a phi.
func (in *Instr) RemovePhiEdge(pred BlockID) {
	for i, p := range in.Preds {
		if p == pred {
			in.Args = append(in.Args[:i], in.Args[i+1:]...)
			in.Preds = append(in.Preds[:i], in.Preds[i+1:]...)
			return
		}
	}
}
