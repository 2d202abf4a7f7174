// Package interp is a reference evaluator for KIR modules. It exists to
// pin down the IR's semantics for tests: optimized and unoptimized code
// must agree with it on every result. It is deliberately slow and simple.
package interp

import (
	"errors"
	"fmt"
	"math"

	"knull/internal/kir"
	"knull/internal/types"
)

// Value is a runtime value. Pointers address single cells: the interpreter
// models allocas and globals as one cell each, which covers everything the
// mid end produces.
type Value struct {
	Type  types.TypeID
	Int   int64
	Float float64
	Bool  bool
	Ptr   *Cell
}

// Cell is one addressable storage location.
type Cell struct {
	Val Value
}

var (
	// ErrTrap covers runtime traps: division by zero, unreachable reached.
	ErrTrap = errors.New("trap")
	// ErrFuel is returned when execution exceeds the step budget.
	ErrFuel = errors.New("out of fuel")
)

// DefaultFuel is the step budget per top-level Call.
const DefaultFuel = 1 << 20

// Machine evaluates functions of one module.
type Machine struct {
	m       *kir.Module
	types   *types.Interner
	globals map[string]*Cell
	fuel    int
}

func New(m *kir.Module, typesIn *types.Interner) *Machine {
	mc := &Machine{m: m, types: typesIn, globals: make(map[string]*Cell, len(m.Globals))}
	for _, g := range m.Globals {
		mc.globals[g.Name] = &Cell{Val: fromConst(g.Init)}
	}
	return mc
}

// Call runs a function by name with the given arguments.
func (mc *Machine) Call(name string, args ...Value) (Value, error) {
	f := mc.m.FuncByName(name)
	if f == nil {
		return Value{}, fmt.Errorf("interp: no function %q", name)
	}
	mc.fuel = DefaultFuel
	return mc.call(f, args)
}

func (mc *Machine) call(f *kir.Func, args []Value) (Value, error) {
	if len(args) != len(f.Params) {
		return Value{}, fmt.Errorf("interp: %s wants %d args, got %d", f.Name, len(f.Params), len(args))
	}
	regs := make(map[kir.RegID]Value, f.RegCount())
	for i, p := range f.Params {
		regs[p.Reg] = args[i]
	}

	cur := f.Entry()
	prev := kir.NoBlock
	for {
		mc.fuel-- // blocks cost fuel too, so empty cycles still terminate
		if mc.fuel <= 0 {
			return Value{}, ErrFuel
		}

		// Phis read their operands in parallel before any writes land.
		phis := cur.Phis()
		if len(phis) > 0 {
			incoming := make([]Value, len(phis))
			for i := range phis {
				a, ok := phis[i].PhiIncoming(prev)
				if !ok {
					return Value{}, fmt.Errorf("interp: %s bb%d: phi has no edge from bb%d", f.Name, cur.ID, prev)
				}
				incoming[i] = mc.operand(regs, a)
			}
			for i := range phis {
				regs[phis[i].Result.Reg] = incoming[i]
			}
		}

		for i := len(phis); i < len(cur.Instrs); i++ {
			mc.fuel--
			if err := mc.step(f, regs, &cur.Instrs[i]); err != nil {
				return Value{}, err
			}
		}

		t := &cur.Term
		switch t.Kind {
		case kir.TermRet:
			if t.Ret.HasValue {
				return mc.operand(regs, t.Ret.Value), nil
			}
			return Value{}, nil
		case kir.TermJump:
			prev, cur = cur.ID, f.Block(t.Jump.Target)
		case kir.TermJumpIf:
			next := t.JumpIf.Else
			if mc.operand(regs, t.JumpIf.Cond).Bool {
				next = t.JumpIf.Then
			}
			prev, cur = cur.ID, f.Block(next)
		case kir.TermSwitch:
			v := mc.operand(regs, t.Switch.Value)
			next := t.Switch.Default
			for _, c := range t.Switch.Cases {
				if c.Const == v.Int {
					next = c.Target
					break
				}
			}
			prev, cur = cur.ID, f.Block(next)
		case kir.TermUnreachable:
			return Value{}, fmt.Errorf("%w: unreachable executed in %s", ErrTrap, f.Name)
		default:
			return Value{}, fmt.Errorf("interp: %s bb%d: missing terminator", f.Name, cur.ID)
		}
		if cur == nil {
			return Value{}, fmt.Errorf("interp: %s: jump out of range", f.Name)
		}
	}
}

func (mc *Machine) step(f *kir.Func, regs map[kir.RegID]Value, in *kir.Instr) error {
	set := func(v Value) {
		regs[in.Result.Reg] = v
	}
	switch in.Op {
	case kir.OpAlloca:
		set(Value{Type: in.Result.Type, Ptr: &Cell{}})
	case kir.OpLoad:
		p := mc.operand(regs, in.Args[0])
		if p.Ptr == nil {
			return fmt.Errorf("%w: load through nil pointer in %s", ErrTrap, f.Name)
		}
		set(p.Ptr.Val)
	case kir.OpStore:
		p := mc.operand(regs, in.Args[0])
		if p.Ptr == nil {
			return fmt.Errorf("%w: store through nil pointer in %s", ErrTrap, f.Name)
		}
		p.Ptr.Val = mc.operand(regs, in.Args[1])
	case kir.OpCall:
		callee := mc.m.FuncByName(in.Callee)
		if callee == nil {
			return fmt.Errorf("interp: call to unknown function %q", in.Callee)
		}
		args := make([]Value, len(in.Args))
		for i, a := range in.Args {
			args[i] = mc.operand(regs, a)
		}
		r, err := mc.call(callee, args)
		if err != nil {
			return err
		}
		if in.HasResult() {
			set(r)
		}
	case kir.OpAtomicAdd:
		p := mc.operand(regs, in.Args[0])
		if p.Ptr == nil {
			return fmt.Errorf("%w: atomic through nil pointer in %s", ErrTrap, f.Name)
		}
		old := p.Ptr.Val
		t := mc.types.MustLookup(old.Type)
		p.Ptr.Val = Value{Type: old.Type, Int: wrapInt(old.Int+mc.operand(regs, in.Args[1]).Int, t)}
		set(old)
	case kir.OpAtomicXchg:
		p := mc.operand(regs, in.Args[0])
		if p.Ptr == nil {
			return fmt.Errorf("%w: atomic through nil pointer in %s", ErrTrap, f.Name)
		}
		old := p.Ptr.Val
		p.Ptr.Val = mc.operand(regs, in.Args[1])
		set(old)
	case kir.OpMemset, kir.OpMemcpy:
		return fmt.Errorf("interp: %s is not modeled (single-cell memory)", in.Op)
	case kir.OpNeg, kir.OpNot, kir.OpCast:
		v, err := mc.unary(in.Op, mc.operand(regs, in.Args[0]), in.Result.Type)
		if err != nil {
			return fmt.Errorf("%w in %s", err, f.Name)
		}
		set(v)
	case kir.OpPhi:
		return fmt.Errorf("interp: %s: phi after the leading run", f.Name)
	default:
		v, err := mc.binary(in.Op, mc.operand(regs, in.Args[0]), mc.operand(regs, in.Args[1]), in.Result.Type)
		if err != nil {
			return fmt.Errorf("%w in %s", err, f.Name)
		}
		set(v)
	}
	return nil
}

func (mc *Machine) operand(regs map[kir.RegID]Value, v kir.Value) Value {
	switch v.Kind {
	case kir.ValConst:
		return fromConst(v)
	case kir.ValReg:
		return regs[v.Reg]
	case kir.ValGlobal:
		return Value{Type: v.Type, Ptr: mc.globals[v.Global]}
	case kir.ValUndef:
		return Value{Type: v.Type}
	}
	return Value{}
}

func fromConst(v kir.Value) Value {
	return Value{Type: v.Type, Int: v.Int, Float: v.Float, Bool: v.Bool}
}

func (mc *Machine) unary(op kir.Op, a Value, resTy types.TypeID) (Value, error) {
	t := mc.types.MustLookup(a.Type)
	switch op {
	case kir.OpNeg:
		if t.Kind == types.KindFloat {
			return Value{Type: resTy, Float: -a.Float}, nil
		}
		return Value{Type: resTy, Int: wrapInt(-a.Int, t)}, nil
	case kir.OpNot:
		if t.Kind == types.KindBool {
			return Value{Type: resTy, Bool: !a.Bool}, nil
		}
		return Value{Type: resTy, Int: wrapInt(^a.Int, t)}, nil
	case kir.OpCast:
		return mc.cast(a, t, resTy)
	}
	return Value{}, fmt.Errorf("interp: bad unary %s", op)
}

func (mc *Machine) cast(a Value, src types.Type, resTy types.TypeID) (Value, error) {
	dst := mc.types.MustLookup(resTy)
	switch {
	case src.IsInteger() && dst.IsInteger():
		return Value{Type: resTy, Int: wrapInt(a.Int, dst)}, nil
	case src.IsInteger() && dst.Kind == types.KindFloat:
		var r float64
		if src.Kind == types.KindUint {
			r = float64(uintValue(a.Int, src))
		} else {
			r = float64(wrapInt(a.Int, src))
		}
		if dst.Width == types.Width32 {
			r = float64(float32(r))
		}
		return Value{Type: resTy, Float: r}, nil
	case src.Kind == types.KindFloat && dst.IsInteger():
		return Value{Type: resTy, Int: floatToIntSat(a.Float, dst)}, nil
	case src.Kind == types.KindFloat && dst.Kind == types.KindFloat:
		r := a.Float
		if dst.Width == types.Width32 {
			r = float64(float32(r))
		}
		return Value{Type: resTy, Float: r}, nil
	case src.Kind == types.KindBool && dst.IsInteger():
		v := int64(0)
		if a.Bool {
			v = 1
		}
		return Value{Type: resTy, Int: v}, nil
	}
	return Value{}, fmt.Errorf("interp: bad cast %s -> %s", src.Kind, dst.Kind)
}

func (mc *Machine) binary(op kir.Op, a, b Value, resTy types.TypeID) (Value, error) {
	t := mc.types.MustLookup(a.Type)
	if op.IsComparison() {
		return mc.compare(op, a, b, t, resTy)
	}
	switch t.Kind {
	case types.KindInt, types.KindUint:
		return intBinary(op, a, b, t, resTy)
	case types.KindFloat:
		return floatBinary(op, a, b, t, resTy)
	case types.KindBool:
		switch op {
		case kir.OpAnd:
			return Value{Type: resTy, Bool: a.Bool && b.Bool}, nil
		case kir.OpOr:
			return Value{Type: resTy, Bool: a.Bool || b.Bool}, nil
		case kir.OpXor:
			return Value{Type: resTy, Bool: a.Bool != b.Bool}, nil
		}
	}
	return Value{}, fmt.Errorf("interp: bad binary %s on %s", op, t.Kind)
}

func intBinary(op kir.Op, a, b Value, t types.Type, resTy types.TypeID) (Value, error) {
	x, y := a.Int, b.Int
	var r int64
	switch op {
	case kir.OpAdd:
		r = int64(uint64(x) + uint64(y)) //nolint:gosec // G115: wraparound semantics
	case kir.OpSub:
		r = int64(uint64(x) - uint64(y)) //nolint:gosec // G115
	case kir.OpMul:
		r = int64(uint64(x) * uint64(y)) //nolint:gosec // G115
	case kir.OpDiv, kir.OpRem:
		if uintValue(y, t) == 0 {
			return Value{}, fmt.Errorf("%w: division by zero", ErrTrap)
		}
		if t.Kind == types.KindUint {
			ux, uy := uintValue(x, t), uintValue(y, t)
			if op == kir.OpDiv {
				r = int64(ux / uy) //nolint:gosec // G115
			} else {
				r = int64(ux % uy) //nolint:gosec // G115
			}
		} else {
			sx, sy := wrapInt(x, t), wrapInt(y, t)
			if sy == -1 && sx == minOf(t) {
				if op == kir.OpDiv {
					r = sx
				} else {
					r = 0
				}
			} else if op == kir.OpDiv {
				r = sx / sy
			} else {
				r = sx % sy
			}
		}
	case kir.OpAnd:
		r = x & y
	case kir.OpOr:
		r = x | y
	case kir.OpXor:
		r = x ^ y
	case kir.OpShl:
		r = int64(uint64(x) << (uint64(y) & uint64(t.Width-1))) //nolint:gosec // G115
	case kir.OpShr:
		if t.Kind == types.KindInt {
			r = wrapInt(x, t) >> (uint64(y) & uint64(t.Width-1)) //nolint:gosec // G115
		} else {
			r = int64(uintValue(x, t) >> (uint64(y) & uint64(t.Width-1))) //nolint:gosec // G115
		}
	default:
		return Value{}, fmt.Errorf("interp: bad int binary %s", op)
	}
	return Value{Type: resTy, Int: wrapInt(r, t)}, nil
}

func floatBinary(op kir.Op, a, b Value, t types.Type, resTy types.TypeID) (Value, error) {
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
		r = x / y
	default:
		return Value{}, fmt.Errorf("interp: bad float binary %s", op)
	}
	if t.Width == types.Width32 {
		r = float64(float32(r))
	}
	return Value{Type: resTy, Float: r}, nil
}

func (mc *Machine) compare(op kir.Op, a, b Value, t types.Type, resTy types.TypeID) (Value, error) {
	var lt, eq bool
	switch t.Kind {
	case types.KindInt:
		x, y := wrapInt(a.Int, t), wrapInt(b.Int, t)
		lt, eq = x < y, x == y
	case types.KindUint:
		x, y := uintValue(a.Int, t), uintValue(b.Int, t)
		lt, eq = x < y, x == y
	case types.KindFloat:
		x, y := a.Float, b.Float
		if math.IsNaN(x) || math.IsNaN(y) {
			return Value{Type: resTy, Bool: op == kir.OpNe}, nil
		}
		lt, eq = x < y, x == y
	case types.KindBool:
		eq = a.Bool == b.Bool
	case types.KindPtr:
		eq = a.Ptr == b.Ptr
	default:
		return Value{}, fmt.Errorf("interp: bad comparison on %s", t.Kind)
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
	return Value{Type: resTy, Bool: r}, nil
}

// wrapInt truncates to the width and sign-extends signed values; the same
// rule constant folding applies at compile time.
func wrapInt(x int64, t types.Type) int64 {
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

func uintValue(x int64, t types.Type) uint64 {
	ux := uint64(x) //nolint:gosec // G115
	if t.Width == types.Width64 {
		return ux
	}
	return ux & (uint64(1)<<t.Width - 1)
}

func minOf(t types.Type) int64 {
	return wrapInt(int64(uint64(1)<<(t.Width-1)), t) //nolint:gosec // G115
}

func floatToIntSat(x float64, dst types.Type) int64 {
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
			return wrapInt(-1, dst)
		default:
			return wrapInt(int64(uint64(x)), dst) //nolint:gosec // G115
		}
	}
	lo := -math.Ldexp(1, int(dst.Width)-1)
	hi := math.Ldexp(1, int(dst.Width)-1)
	switch {
	case x <= lo:
		return minOf(dst)
	case x >= hi:
		return wrapInt(^minOf(dst), dst)
	default:
		return wrapInt(int64(x), dst)
	}
}
