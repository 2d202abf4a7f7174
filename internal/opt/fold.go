package opt

import (
	"math"

	"knull/internal/kir"
	"knull/internal/types"
)

// Fold evaluates pure instructions whose operands are all constants and
// rewrites conditional branches on constant conditions into plain jumps.
// Integer arithmetic wraps at the operand width; float arithmetic follows
// IEEE 754. Division and remainder by a constant zero are left in place:
// the trap stays a runtime property of whatever path reaches it.
type Fold struct {
	types *types.Interner
}

func NewFold(typesIn *types.Interner) *Fold {
	return &Fold{types: typesIn}
}

func (p *Fold) Name() string { return "fold" }

func (p *Fold) Run(f *kir.Func) bool {
	changed := false
	dead := make(map[*kir.Block]map[int]bool)
	for _, b := range f.Blocks {
		for i := range b.Instrs {
			in := &b.Instrs[i]
			v, ok := p.eval(in)
			if !ok {
				continue
			}
			replaceAllUses(f, in.Result, v)
			if dead[b] == nil {
				dead[b] = make(map[int]bool)
			}
			dead[b][i] = true
			changed = true
		}
	}
	removeInstrs(f, dead)

	if p.foldTerms(f) {
		changed = true
	}
	return changed
}

// eval computes the constant result of one instruction, if it has one.
func (p *Fold) eval(in *kir.Instr) (kir.Value, bool) {
	if !in.HasResult() {
		return kir.None, false
	}
	pure := in.Op.IsBinary() || in.Op == kir.OpNeg || in.Op == kir.OpNot || in.Op == kir.OpCast
	if !pure {
		return kir.None, false
	}
	for _, a := range in.Args {
		if !a.IsConst() {
			return kir.None, false
		}
	}

	switch {
	case in.Op == kir.OpCast:
		return p.evalCast(in.Args[0], in.Result.Type)
	case in.Op == kir.OpNeg:
		return p.evalNeg(in.Args[0])
	case in.Op == kir.OpNot:
		return p.evalNot(in.Args[0])
	case in.Op.IsComparison():
		return p.evalCompare(in.Op, in.Args[0], in.Args[1], in.Result.Type)
	default:
		return p.evalBinary(in.Op, in.Args[0], in.Args[1])
	}
}

func (p *Fold) evalBinary(op kir.Op, a, b kir.Value) (kir.Value, bool) {
	t, ok := p.types.Lookup(a.Type)
	if !ok || a.Type != b.Type {
		return kir.None, false
	}
	switch t.Kind {
	case types.KindInt, types.KindUint:
		return p.evalIntBinary(op, a, b, t)
	case types.KindFloat:
		return p.evalFloatBinary(op, a, b, t)
	case types.KindBool:
		return p.evalBoolBinary(op, a, b)
	}
	return kir.None, false
}

func (p *Fold) evalIntBinary(op kir.Op, a, b kir.Value, t types.Type) (kir.Value, bool) {
	x, y := a.Int, b.Int
	var r int64
	switch op {
	case kir.OpAdd:
		r = int64(uint64(x) + uint64(y)) //nolint:gosec // G115: wraparound is the semantics
	case kir.OpSub:
		r = int64(uint64(x) - uint64(y)) //nolint:gosec // G115
	case kir.OpMul:
		r = int64(uint64(x) * uint64(y)) //nolint:gosec // G115
	case kir.OpDiv, kir.OpRem:
		return p.evalIntDivRem(op, x, y, t)
	case kir.OpAnd:
		r = x & y
	case kir.OpOr:
		r = x | y
	case kir.OpXor:
		r = x ^ y
	case kir.OpShl:
		r = int64(uint64(x) << shiftAmount(y, t)) //nolint:gosec // G115
	case kir.OpShr:
		if t.Kind == types.KindInt {
			r = wrap(x, t) >> shiftAmount(y, t)
		} else {
			r = int64(truncUint(x, t) >> shiftAmount(y, t)) //nolint:gosec // G115
		}
	default:
		return kir.None, false
	}
	return kir.IntConst(a.Type, wrap(r, t)), true
}

func (p *Fold) evalIntDivRem(op kir.Op, x, y int64, t types.Type) (kir.Value, bool) {
	if truncUint(y, t) == 0 {
		// Division by zero stays in the program; folding it away would
		// hide the trap.
		return kir.None, false
	}
	ty := p.types.Intern(t)
	if t.Kind == types.KindUint {
		ux, uy := truncUint(x, t), truncUint(y, t)
		if op == kir.OpDiv {
			return kir.IntConst(ty, wrap(int64(ux/uy), t)), true //nolint:gosec // G115
		}
		return kir.IntConst(ty, wrap(int64(ux%uy), t)), true //nolint:gosec // G115
	}
	sx, sy := wrap(x, t), wrap(y, t)
	// MinInt / -1 overflows; the quotient wraps back to MinInt and the
	// remainder is zero.
	if sy == -1 && sx == minInt(t) {
		if op == kir.OpDiv {
			return kir.IntConst(ty, sx), true
		}
		return kir.IntConst(ty, 0), true
	}
	if op == kir.OpDiv {
		return kir.IntConst(ty, wrap(sx/sy, t)), true
	}
	return kir.IntConst(ty, wrap(sx%sy, t)), true
}

func (p *Fold) evalFloatBinary(op kir.Op, a, b kir.Value, t types.Type) (kir.Value, bool) {
	x, y := a.Float, b.Float
	var r float64
	switch op {
	case kir.OpAdd:
		r = x + y
	case kir.OpSub:
		r = x - y
	case kir.OpMul:
		r = x * y
	case kir.OpDiv:
		r = x / y // IEEE: inf and NaN are ordinary results
	default:
		return kir.None, false
	}
	if t.Width == types.Width32 {
		r = float64(float32(r))
	}
	return kir.FloatConst(a.Type, r), true
}

func (p *Fold) evalBoolBinary(op kir.Op, a, b kir.Value) (kir.Value, bool) {
	switch op {
	case kir.OpAnd:
		return kir.BoolConst(a.Type, a.Bool && b.Bool), true
	case kir.OpOr:
		return kir.BoolConst(a.Type, a.Bool || b.Bool), true
	case kir.OpXor:
		return kir.BoolConst(a.Type, a.Bool != b.Bool), true
	}
	return kir.None, false
}

func (p *Fold) evalCompare(op kir.Op, a, b kir.Value, boolTy types.TypeID) (kir.Value, bool) {
	t, ok := p.types.Lookup(a.Type)
	if !ok || a.Type != b.Type {
		return kir.None, false
	}
	var lt, eq bool
	switch t.Kind {
	case types.KindInt:
		x, y := wrap(a.Int, t), wrap(b.Int, t)
		lt, eq = x < y, x == y
	case types.KindUint:
		x, y := truncUint(a.Int, t), truncUint(b.Int, t)
		lt, eq = x < y, x == y
	case types.KindFloat:
		x, y := a.Float, b.Float
		if t.Width == types.Width32 {
			x, y = float64(float32(x)), float64(float32(y))
		}
		if math.IsNaN(x) || math.IsNaN(y) {
			// All ordered comparisons with NaN are false; Ne is true.
			return kir.BoolConst(boolTy, op == kir.OpNe), true
		}
		lt, eq = x < y, x == y
	case types.KindBool:
		if op != kir.OpEq && op != kir.OpNe {
			return kir.None, false
		}
		eq = a.Bool == b.Bool
	default:
		return kir.None, false
	}
	var r bool
	switch op {
	case kir.OpEq:
		r = eq
	case kir.OpNe:
		r = !eq
	case kir.OpLt:
		r = lt
	case kir.OpLe:
		r = lt || eq
	case kir.OpGt:
		r = !lt && !eq
	case kir.OpGe:
		r = !lt
	}
	return kir.BoolConst(boolTy, r), true
}

func (p *Fold) evalNeg(a kir.Value) (kir.Value, bool) {
	t, ok := p.types.Lookup(a.Type)
	if !ok {
		return kir.None, false
	}
	switch t.Kind {
	case types.KindInt, types.KindUint:
		return kir.IntConst(a.Type, wrap(int64(-uint64(a.Int)), t)), true //nolint:gosec // G115
	case types.KindFloat:
		return kir.FloatConst(a.Type, -a.Float), true
	}
	return kir.None, false
}

func (p *Fold) evalNot(a kir.Value) (kir.Value, bool) {
	t, ok := p.types.Lookup(a.Type)
	if !ok {
		return kir.None, false
	}
	switch t.Kind {
	case types.KindBool:
		return kir.BoolConst(a.Type, !a.Bool), true
	case types.KindInt, types.KindUint:
		return kir.IntConst(a.Type, wrap(^a.Int, t)), true
	}
	return kir.None, false
}

func (p *Fold) evalCast(a kir.Value, to types.TypeID) (kir.Value, bool) {
	src, ok := p.types.Lookup(a.Type)
	if !ok {
		return kir.None, false
	}
	dst, ok := p.types.Lookup(to)
	if !ok {
		return kir.None, false
	}
	switch {
	case src.IsInteger() && dst.IsInteger():
		return kir.IntConst(to, wrap(a.Int, dst)), true
	case src.IsInteger() && dst.Kind == types.KindFloat:
		var r float64
		if src.Kind == types.KindUint {
			r = float64(truncUint(a.Int, src))
		} else {
			r = float64(wrap(a.Int, src))
		}
		if dst.Width == types.Width32 {
			r = float64(float32(r))
		}
		return kir.FloatConst(to, r), true
	case src.Kind == types.KindFloat && dst.IsInteger():
		return kir.IntConst(to, floatToInt(a.Float, dst)), true
	case src.Kind == types.KindFloat && dst.Kind == types.KindFloat:
		r := a.Float
		if dst.Width == types.Width32 {
			r = float64(float32(r))
		}
		return kir.FloatConst(to, r), true
	case src.Kind == types.KindBool && dst.IsInteger():
		v := int64(0)
		if a.Bool {
			v = 1
		}
		return kir.IntConst(to, v), true
	}
	return kir.None, false
}

// foldTerms rewrites branches on constant conditions. Edges that disappear
// are removed from the target's phis; unreachable blocks are left for DCE.
func (p *Fold) foldTerms(f *kir.Func) bool {
	changed := false
	for _, b := range f.Blocks {
		var keep kir.BlockID
		switch b.Term.Kind {
		case kir.TermJumpIf:
			cond := b.Term.JumpIf.Cond
			if !cond.IsConst() {
				continue
			}
			if cond.Bool {
				keep = b.Term.JumpIf.Then
			} else {
				keep = b.Term.JumpIf.Else
			}
		case kir.TermSwitch:
			v := b.Term.Switch.Value
			if !v.IsConst() {
				continue
			}
			t, ok := p.types.Lookup(v.Type)
			if !ok {
				continue
			}
			keep = b.Term.Switch.Default
			for _, c := range b.Term.Switch.Cases {
				if wrap(c.Const, t) == wrap(v.Int, t) {
					keep = c.Target
					break
				}
			}
		default:
			continue
		}

		lost := make(map[kir.BlockID]bool)
		b.Term.Successors(func(s kir.BlockID) {
			if s != keep {
				lost[s] = true
			}
		})
		f.SetTerm(b, kir.Terminator{Kind: kir.TermJump, Jump: kir.JumpTerm{Target: keep}})
		for s := range lost {
			sb := f.Block(s)
			if sb == nil {
				continue
			}
			for i := range sb.Instrs {
				if sb.Instrs[i].Op != kir.OpPhi {
					break
				}
				sb.Instrs[i].RemovePhiEdge(b.ID)
			}
		}
		changed = true
	}
	if changed {
		f.RecomputePreds()
	}
	return changed
}

// wrap truncates to the type's width and sign-extends signed values.
func wrap(x int64, t types.Type) int64 {
	if t.Width == types.Width64 {
		return x
	}
	mask := uint64(1)<<t.Width - 1
	ux := uint64(x) & mask //nolint:gosec // G115: bit reinterpretation
	if t.Kind == types.KindInt && ux&(uint64(1)<<(t.Width-1)) != 0 {
		ux |= ^mask
	}
	return int64(ux) //nolint:gosec // G115
}

// truncUint reinterprets the payload as an unsigned value of the width.
func truncUint(x int64, t types.Type) uint64 {
	ux := uint64(x) //nolint:gosec // G115
	if t.Width == types.Width64 {
		return ux
	}
	return ux & (uint64(1)<<t.Width - 1)
}

// shiftAmount masks the shift count by width-1, the usual hardware rule.
func shiftAmount(y int64, t types.Type) uint64 {
	return uint64(y) & uint64(t.Width-1) //nolint:gosec // G115
}

func minInt(t types.Type) int64 {
	return wrap(int64(uint64(1)<<(t.Width-1)), t) //nolint:gosec // G115
}

// floatToInt converts with saturation: out-of-range values clamp to the
// target bounds and NaN becomes zero.
func floatToInt(x float64, dst types.Type) int64 {
	if math.IsNaN(x) {
		return 0
	}
	x = math.Trunc(x)
	if dst.Kind == types.KindUint {
		hi := math.Ldexp(1, int(dst.Width))
		switch {
		case x <= 0:
			return 0
		case x >= hi:
			return wrap(-1, dst) // all ones
		default:
			return wrap(int64(uint64(x)), dst) //nolint:gosec // G115
		}
	}
	lo := -math.Ldexp(1, int(dst.Width)-1)
	hi := math.Ldexp(1, int(dst.Width)-1)
	switch {
	case x <= lo:
		return minInt(dst)
	case x >= hi:
		return wrap(^minInt(dst), dst) // max
	default:
		return wrap(int64(x), dst)
	}
}
